package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/endalk200/better-webhook/internal/capture"
	"github.com/endalk200/better-webhook/internal/httputil"
	"github.com/endalk200/better-webhook/internal/replay"
)

// CapturesCommand groups the subcommands operating on stored captures.
func CapturesCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "captures",
		Short: "List, delete and replay stored captures",
	}
	cmd.AddCommand(capturesListCommand(app))
	cmd.AddCommand(capturesDeleteCommand(app))
	cmd.AddCommand(capturesReplayCommand(app))
	return cmd
}

func capturesListCommand(app *App) *cobra.Command {
	var (
		limit    int
		provider string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored captures, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store := capture.NewStore(app.Config.CapturesDir)
			files, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if provider != "" {
				filtered := files[:0]
				for _, f := range files {
					if strings.EqualFold(f.Record.Provider, provider) {
						filtered = append(filtered, f)
					}
				}
				files = filtered
			}
			if len(files) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No captures found. Run 'better-webhook capture' to start receiving webhooks.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTIME\tMETHOD\tPATH\tPROVIDER")
			fmt.Fprintln(w, "--\t----\t------\t----\t--------")
			for _, f := range files {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					shortID(f.Record.ID), displayTime(f.Record.Timestamp),
					f.Record.Method, f.Record.Path, f.Record.Provider)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of captures to show")
	cmd.Flags().StringVar(&provider, "provider", "", "only show captures from this provider")
	return cmd
}

func displayTime(stamp string) string {
	t, err := time.Parse(time.RFC3339Nano, stamp)
	if err != nil {
		return stamp
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

func capturesDeleteCommand(app *App) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete <id-or-prefix>",
		Short: "Delete a stored capture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := confirm(fmt.Sprintf("Delete capture %s?", args[0]), force)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
				return nil
			}
			store := capture.NewStore(app.Config.CapturesDir)
			file, err := store.DeleteByIDOrPrefix(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s capture %s\n",
				successStyle.Render("Deleted"), shortID(file.Record.ID))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "delete without confirmation")
	return cmd
}

func capturesReplayCommand(app *App) *cobra.Command {
	var (
		baseURL    string
		method     string
		rawHeaders []string
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "replay <id-or-prefix> [target-url]",
		Short: "Re-send a stored capture to a target service",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides, err := parseHeaderFlags(rawHeaders)
			if err != nil {
				return err
			}
			targetURL := ""
			if len(args) == 2 {
				targetURL = args[1]
			}

			store := capture.NewStore(app.Config.CapturesDir)
			service := replay.NewService(store, replay.NewDispatcher())
			result, err := service.Replay(cmd.Context(), replay.ServiceRequest{
				Selector:        args[0],
				TargetURL:       targetURL,
				BaseURL:         baseURL,
				Method:          method,
				HeaderOverrides: overrides,
				Timeout:         timeout,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s %s %s\n",
				successStyle.Render("Replayed"), shortID(result.CaptureID), result.Method, result.URL)
			fmt.Fprintf(out, "Status: %s (%s)\n", result.Response.Status, result.Response.Duration.Round(time.Millisecond))
			if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
				printResponse(out, result.Headers, result.Response)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&baseURL, "base-url", "", "base url to resolve the captured path against")
	cmd.Flags().StringVarP(&method, "method", "X", "", "override the HTTP method")
	cmd.Flags().StringArrayVarP(&rawHeaders, "header", "H", nil, "header override, repeatable (\"Key: Value\")")
	cmd.Flags().DurationVar(&timeout, "timeout", replay.DefaultTimeout, "request timeout")
	return cmd
}

// printResponse dumps the headers that were sent and the response that came
// back, for --verbose runs.
func printResponse(out io.Writer, sent []httputil.Header, resp *replay.Response) {
	fmt.Fprintln(out, "\nSent headers:")
	for _, h := range sent {
		fmt.Fprintf(out, "  %s: %s\n", h.Key, h.Value)
	}
	fmt.Fprintln(out, "\nResponse headers:")
	for _, h := range resp.Headers {
		fmt.Fprintf(out, "  %s: %s\n", h.Key, h.Value)
	}
	if len(resp.Body) > 0 {
		fmt.Fprintf(out, "\nResponse body (%d bytes):\n%s\n", len(resp.Body), resp.Body)
		if resp.Truncated {
			fmt.Fprintln(out, mutedStyle.Render("(response body truncated)"))
		}
	}
}
