package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aussiebroadwan/crudlink/pkg/crudclient"
)

func newLoginCommand(opts *rootOptions) *cobra.Command {
	var access, refresh string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store credentials for later calls",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if access == "" {
				return errors.New("--access is required")
			}

			return opts.run(cmd, func(ctx context.Context, client *crudclient.Client) error {
				creds := client.Credentials()
				creds.SetCredentials(ctx, access, refresh)

				fmt.Fprintf(cmd.OutOrStdout(), "Signed in, credentials valid until %s\n",
					creds.ExpiresAt(ctx).Local().Format(time.RFC1123))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&access, "access", "", "access credential")
	cmd.Flags().StringVar(&refresh, "refresh", "", "refresh credential")

	return cmd
}

func newLogoutCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear stored credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, client *crudclient.Client) error {
				client.Credentials().Clear(ctx)
				fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
				return nil
			})
		},
	}
}
