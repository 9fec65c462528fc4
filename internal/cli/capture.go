package cli

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/endalk200/better-webhook/internal/capture"
	"github.com/endalk200/better-webhook/internal/logging"
)

// CaptureCommand starts the local capture server.
func CaptureCommand(app *App) *cobra.Command {
	var (
		host    string
		port    int
		maxBody int64
	)

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Receive webhooks on localhost and store them",
		Long: `Start a local HTTP server that accepts any method on any path and
persists every request verbatim to the captures directory. Point your
provider's webhook (or a tunnel) at it, then inspect and replay what arrived.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := app.Config
			if err := logging.EnableFileOutput(filepath.Join(cfg.ConfigDir, "logs")); err != nil {
				logrus.Warnf("File logging disabled: %v", err)
			}

			store := capture.NewStore(cfg.CapturesDir)
			server := capture.NewServer(store, capture.DefaultRegistry(), capture.ServerOptions{
				Host:         host,
				Port:         port,
				MaxBodyBytes: maxBody,
				ToolVersion:  app.Version,
			})

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

			serverErr := make(chan error, 1)
			go func() {
				serverErr <- server.Start()
			}()

			fmt.Fprintf(cmd.OutOrStdout(), "Capturing webhooks on http://%s\n", server.Addr())
			fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("Press Ctrl+C to stop."))

			select {
			case err := <-serverErr:
				return err
			case <-sigChan:
				fmt.Fprintln(cmd.OutOrStdout(), "\nShutting down capture server...")
				if err := server.Stop(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %d request(s) captured\n",
					successStyle.Render("Done."), server.Captured())
				return nil
			}
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "host to listen on")
	cmd.Flags().IntVarP(&port, "port", "p", 8787, "port to listen on")
	cmd.Flags().Int64Var(&maxBody, "max-body", capture.DefaultMaxBodyBytes, "maximum request body size in bytes")
	return cmd
}
