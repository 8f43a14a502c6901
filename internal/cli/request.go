package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aussiebroadwan/crudlink/pkg/crudclient"
)

func newRequestCommand(opts *rootOptions) *cobra.Command {
	var (
		data     string
		dedupe   bool
		noDedupe bool
		noRetry  bool
		key      string
		headers  []string
	)

	cmd := &cobra.Command{
		Use:   "request METHOD PATH",
		Short: "Make an authenticated call and print the response body",
		Example: `  crudctl request GET /items
  crudctl request POST /items --data '{"name":"widget"}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dedupe && noDedupe {
				return errors.New("--dedupe and --no-dedupe are mutually exclusive")
			}

			var body any
			if data != "" {
				if !json.Valid([]byte(data)) {
					return errors.New("--data must be valid JSON")
				}
				body = json.RawMessage(data)
			}

			reqOpts := &crudclient.RequestOptions{FingerprintOverride: key}
			switch {
			case dedupe:
				reqOpts.Deduplicate = crudclient.Bool(true)
			case noDedupe:
				reqOpts.Deduplicate = crudclient.Bool(false)
			}
			if noRetry {
				reqOpts.Retry = crudclient.Bool(false)
			}
			if len(headers) > 0 {
				reqOpts.Header = http.Header{}
				for _, h := range headers {
					name, value, ok := strings.Cut(h, ":")
					if !ok {
						return fmt.Errorf("invalid header %q, want Name: value", h)
					}
					reqOpts.Header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
				}
			}

			return opts.run(cmd, func(ctx context.Context, client *crudclient.Client) error {
				resp, err := client.Request(ctx, args[0], args[1], body, reqOpts)
				if err != nil {
					return err
				}

				return printBody(cmd, resp.Body)
			})
		},
	}

	cmd.Flags().StringVarP(&data, "data", "d", "", "JSON request body")
	cmd.Flags().BoolVar(&dedupe, "dedupe", false, "share identical in-flight calls")
	cmd.Flags().BoolVar(&noDedupe, "no-dedupe", false, "never share this call")
	cmd.Flags().BoolVar(&noRetry, "no-retry", false, "disable transient retries")
	cmd.Flags().StringVar(&key, "key", "", "explicit deduplication key")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "extra request header (Name: value)")

	return cmd
}

// printBody writes JSON bodies indented and anything else as-is.
func printBody(cmd *cobra.Command, body []byte) error {
	out := cmd.OutOrStdout()
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, body, "", "  "); err != nil {
		_, err = out.Write(body)
		return err
	}

	buf.WriteByte('\n')
	_, err := out.Write(buf.Bytes())
	return err
}
