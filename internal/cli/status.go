package cli

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/aussiebroadwan/crudlink/pkg/crudclient"
)

func newStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the credential and in-flight request state as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, client *crudclient.Client) error {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(client.Status(ctx))
			})
		},
	}
}
