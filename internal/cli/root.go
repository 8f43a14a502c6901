// Package cli implements the crudctl command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/aussiebroadwan/crudlink/internal/app"
	"github.com/aussiebroadwan/crudlink/pkg/crudclient"
	"github.com/aussiebroadwan/crudlink/pkg/failure"
)

type rootOptions struct {
	baseURL   string
	logLevel  string
	logFormat string
	storage   string
	metrics   bool
}

// NewRootCommand builds the crudctl command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "crudctl",
		Short:         "Call a CRUD service through the resilient request layer",
		Long:          `crudctl signs in to a CRUD service, makes authenticated calls with renewal, deduplication and retries, and reports the state of the request layer.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.baseURL, "base-url", "", "remote service URL (overrides CRUDLINK_BASE_URL)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "pretty", "log format (json, text, pretty)")
	cmd.PersistentFlags().StringVar(&opts.storage, "storage", "", "credential storage driver (overrides CRUDLINK_STORAGE_DRIVER)")
	cmd.PersistentFlags().BoolVar(&opts.metrics, "metrics", false, "print request layer metrics to stderr when the command finishes")

	cmd.AddCommand(
		newLoginCommand(opts),
		newLogoutCommand(opts),
		newRequestCommand(opts),
		newStatusCommand(opts),
	)

	return cmd
}

func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		// Call failures were already shown through the notifier
		var f *failure.Failure
		if !errors.As(err, &f) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

// config loads the environment and applies flag overrides.
func (o *rootOptions) config(cmd *cobra.Command) app.Config {
	_ = godotenv.Load()

	cfg := app.LoadConfig()
	if o.baseURL != "" {
		cfg.BaseURL = o.baseURL
	}
	if o.storage != "" {
		cfg.StorageDriver = o.storage
	}
	if o.metrics {
		cfg.MetricsEnabled = true
	}
	if cmd.Flags().Changed("log-level") || os.Getenv("LOG_LEVEL") == "" {
		cfg.LogLevel = o.logLevel
	}
	if cmd.Flags().Changed("log-format") || os.Getenv("LOG_FORMAT") == "" {
		cfg.LogFormat = o.logFormat
	}

	stderr := cmd.ErrOrStderr()
	cfg.LogOutput = stderr
	cfg.Notifier = notifier(stderr)
	return cfg
}

// run builds the application and runs fn against its client.
func (o *rootOptions) run(cmd *cobra.Command, fn func(ctx context.Context, client *crudclient.Client) error) error {
	application, err := app.New(cmd.Context(), o.config(cmd))
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	stderr := cmd.ErrOrStderr()
	application.Client().OnUnauthorized(func(context.Context, *failure.Failure) {
		fmt.Fprintln(stderr, "Your session has ended. Run `crudctl login` to sign in again.")
	})

	runErr := application.Run(cmd.Context(), fn)

	if o.metrics {
		if err := application.WriteMetrics(stderr); err != nil {
			return errors.Join(runErr, err)
		}
	}

	return runErr
}

// notifier prints user-facing messages as "[severity] message".
func notifier(w io.Writer) crudclient.Notifier {
	return crudclient.NotifierFunc(func(_ context.Context, message string, severity failure.Severity) {
		fmt.Fprintf(w, "[%s] %s\n", severity, message)
	})
}
