package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rmax-ai/skaler/pkg/client"
)

var (
	Version   = "v1.0.0"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

type cliOptions struct {
	endpoint string
	token    string
}

func (o *cliOptions) client() *client.Client {
	return client.NewClient(o.endpoint, client.WithToken(o.token))
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &cliOptions{}

	root := &cobra.Command{
		Use:          "skaler",
		Short:        "Skaler - dispatch requests through rotating providers and proxies",
		Version:      fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildTime),
		SilenceUsage: true,
	}
	root.SetOut(out)
	root.SetErr(out)

	root.PersistentFlags().StringVar(&opts.endpoint, "endpoint", envOr("SKALER_ENDPOINT", client.DefaultEndpoint), "skaler-d endpoint")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("SKALER_API_TOKEN"), "API bearer token")

	root.AddCommand(
		newSendCmd(opts),
		newProbeCmd(opts),
		newStatusCmd(opts),
		newEventsCmd(opts),
		newReportCmd(opts),
		newPingCmd(opts),
	)
	return root
}

func newSendCmd(opts *cliOptions) *cobra.Command {
	var (
		method  string
		headers []string
		jsonArg string
		data    string
		timeout time.Duration
		retry   bool
	)

	cmd := &cobra.Command{
		Use:   "send <url>",
		Short: "Send a request through the first available provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := client.DispatchRequest{
				Method:         strings.ToUpper(method),
				URL:            args[0],
				Body:           data,
				TimeoutSeconds: timeout.Seconds(),
			}
			if len(headers) > 0 {
				req.Headers = make(map[string]string, len(headers))
				for _, h := range headers {
					k, v, ok := strings.Cut(h, ":")
					if !ok {
						return fmt.Errorf("invalid header %q, want 'Name: value'", h)
					}
					req.Headers[strings.TrimSpace(k)] = strings.TrimSpace(v)
				}
			}
			if jsonArg != "" {
				if !json.Valid([]byte(jsonArg)) {
					return fmt.Errorf("--json is not valid JSON")
				}
				req.JSON = json.RawMessage(jsonArg)
			}

			c := opts.client()
			send := c.Dispatch
			if retry {
				send = c.DispatchWithRetry
			}
			resp, err := send(cmd.Context(), req)
			if err != nil {
				return err
			}
			body, err := resp.Bytes()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "HTTP %d\n", resp.StatusCode)
			out.Write(body)
			fmt.Fprintln(out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&method, "method", "X", "GET", "HTTP method")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "request header 'Name: value' (repeatable)")
	cmd.Flags().StringVar(&jsonArg, "json", "", "JSON request body")
	cmd.Flags().StringVarP(&data, "data", "d", "", "raw request body")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "upstream timeout (daemon default when zero)")
	cmd.Flags().BoolVar(&retry, "retry", false, "back off and retry while no provider is available")
	return cmd
}

func newProbeCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "probe <provider> <url>",
		Short: "Health-check a single provider",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := opts.client().Probe(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: HTTP %d\n", args[0], resp.StatusCode)
			return nil
		},
	}
}

func newStatusCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show provider usage and block state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := opts.client().Status(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tUSAGE\tLIMIT\tBLOCKED\tAVAILABLE")
			for _, p := range st.Providers {
				limit := "-"
				if p.Limit > 0 {
					limit = fmt.Sprint(p.Limit)
				}
				fmt.Fprintf(w, "%s\t%d\t%s\t%t\t%t\n", p.Name, p.Usage, limit, p.Blocked, p.Available)
			}
			if len(st.Proxies) > 0 {
				fmt.Fprintln(w)
				fmt.Fprintln(w, "PROXY\tBLOCKED")
				for _, p := range st.Proxies {
					fmt.Fprintf(w, "%s\t%t\n", p.Proxy, p.Blocked)
				}
			}
			return w.Flush()
		},
	}
}

func newEventsCmd(opts *cliOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List recent dispatch events, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := opts.client().GetEvents(cmd.Context(), limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tTYPE\tPROVIDER\tPROXY\tSTATUS\tURL")
			for _, e := range events {
				status := "-"
				if e.StatusCode != 0 {
					status = fmt.Sprint(e.StatusCode)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					e.TsEvent.Local().Format(time.TimeOnly), e.EventType, dash(e.Provider), dash(e.Proxy), status, e.URL)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of events")
	return cmd
}

func newReportCmd(opts *cliOptions) *cobra.Command {
	var (
		providerName string
		since        time.Duration
	)
	cmd := &cobra.Command{
		Use:       "report <access_log|usage>",
		Short:     "Print a CSV report built from the event log",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"access_log", "usage"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ro := client.ReportOptions{Provider: providerName}
			if since > 0 {
				ro.From = time.Now().Add(-since)
			}
			data, err := opts.client().Report(cmd.Context(), args[0], ro)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringVar(&providerName, "provider", "", "only include this provider")
	cmd.Flags().DurationVar(&since, "since", 0, "report window (daemon default: 24h)")
	return cmd
}

func newPingCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that skaler-d is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			h, err := opts.client().Ping(ctx)
			if err != nil {
				return fmt.Errorf("%w (is skaler-d running?)", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "skaler-d %s at %s\n", h.Status, opts.endpoint)
			return nil
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
