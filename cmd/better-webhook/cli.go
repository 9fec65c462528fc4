package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/endalk200/better-webhook/internal/cli"
	"github.com/endalk200/better-webhook/internal/config"
	"github.com/endalk200/better-webhook/internal/logging"
)

// Build information variables, set by the compiler via -ldflags.
var (
	version   = "dev"
	gitCommit = "unknown"
	buildTime = "unknown"
)

var app = &cli.App{}

var flags config.Flags

var rootCmd = &cobra.Command{
	Use:   "better-webhook",
	Short: "Capture, inspect, replay and synthesise webhooks",
	Long: `better-webhook is a CLI for working with webhooks during development.
It captures real inbound webhooks on localhost, stores them verbatim, replays
them against a target service, and runs signed webhook templates.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(flags)
		if err != nil {
			return err
		}
		verbose, _ := cmd.Flags().GetBool("verbose")
		logging.Setup(cfg.LogLevel, verbose)
		app.Config = cfg
		app.Version = version
		return nil
	},
}

// registerGlobalFlags binds the configuration flags onto a flag set.
func registerGlobalFlags(fs *pflag.FlagSet) {
	fs.StringVar(&flags.ConfigFile, "config", "", "path to the config file (default ~/.better-webhook/config.toml)")
	fs.StringVar(&flags.CapturesDir, "captures-dir", "", "directory for stored captures")
	fs.StringVar(&flags.TemplatesDir, "templates-dir", "", "directory for downloaded templates")
	fs.StringVar(&flags.LogLevel, "log-level", "", "log level: debug, info, warn or error")
	fs.BoolP("verbose", "v", false, "verbose output")
}

func init() {
	rootCmd.Version = fmt.Sprintf("%s (commit %s, built %s)", version, gitCommit, buildTime)
	registerGlobalFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(cli.CaptureCommand(app))
	rootCmd.AddCommand(cli.CapturesCommand(app))
	rootCmd.AddCommand(cli.TemplatesCommand(app))
	rootCmd.AddCommand(cli.InitCommand(app))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, cli.RenderError(cli.UserMessage(err)))
		os.Exit(1)
	}
}
