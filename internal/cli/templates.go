package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/endalk200/better-webhook/internal/replay"
	"github.com/endalk200/better-webhook/internal/template"
)

// newTemplateService builds the template service against the configured
// directories and the official remote catalogue.
func newTemplateService(app *App) *template.Service {
	dir := app.Config.TemplatesDir
	return template.NewService(
		template.NewRemoteClient(template.DefaultBaseURL),
		template.NewLocalStore(dir),
		template.NewIndexCache(dir),
		replay.NewDispatcher(),
	)
}

// TemplatesCommand groups the template subcommands.
func TemplatesCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Browse, download and run webhook templates",
	}
	cmd.AddCommand(templatesListCommand(app))
	cmd.AddCommand(templatesLocalCommand(app))
	cmd.AddCommand(templatesDownloadCommand(app))
	cmd.AddCommand(templatesSearchCommand(app))
	cmd.AddCommand(templatesRunCommand(app))
	cmd.AddCommand(templatesDeleteCommand(app))
	cmd.AddCommand(templatesCacheCommand(app))
	cmd.AddCommand(templatesCleanCommand(app))
	return cmd
}

func templatesListCommand(app *App) *cobra.Command {
	var (
		provider string
		refresh  bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List templates available in the remote catalogue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := newTemplateService(app).ListRemote(cmd.Context(), provider, refresh)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No templates found.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tPROVIDER\tEVENT\tLOCAL")
			fmt.Fprintln(w, "--\t----\t--------\t-----\t-----")
			for _, e := range entries {
				local := ""
				if e.Downloaded {
					local = "yes"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.Metadata.ID, e.Metadata.Name, e.Metadata.Provider, e.Metadata.Event, local)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "", "only show templates for this provider")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "bypass the cached index")
	return cmd
}

func templatesLocalCommand(app *App) *cobra.Command {
	var provider string

	cmd := &cobra.Command{
		Use:   "local",
		Short: "List downloaded templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			locals, err := newTemplateService(app).ListLocal(cmd.Context(), provider)
			if err != nil {
				return err
			}
			if len(locals) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No local templates. Use 'better-webhook templates download' to fetch some.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPROVIDER\tEVENT\tDOWNLOADED")
			fmt.Fprintln(w, "--\t--------\t-----\t----------")
			for _, l := range locals {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", l.ID, l.Metadata.Provider, l.Metadata.Event, displayTime(l.DownloadedAt))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "", "only show templates for this provider")
	return cmd
}

func templatesDownloadCommand(app *App) *cobra.Command {
	var (
		all     bool
		refresh bool
	)

	cmd := &cobra.Command{
		Use:   "download (<id> | --all)",
		Short: "Download templates from the remote catalogue",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			service := newTemplateService(app)
			out := cmd.OutOrStdout()

			if all {
				if len(args) != 0 {
					return fmt.Errorf("either pass a template id or --all, not both")
				}
				result, err := service.DownloadAll(cmd.Context(), refresh)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s %d downloaded, %d skipped, %d failed (of %d)\n",
					successStyle.Render("Done."), result.Downloaded, result.Skipped, result.Failed, result.Total)
				for _, id := range result.FailedIDs {
					fmt.Fprintf(out, "  failed: %s\n", id)
				}
				return nil
			}

			if len(args) != 1 {
				return fmt.Errorf("template id required (or pass --all)")
			}
			local, err := service.Download(cmd.Context(), args[0], refresh)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s %s -> %s\n", successStyle.Render("Downloaded"), local.ID, local.FilePath)
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "download every template in the index")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "bypass the cached index")
	return cmd
}

func templatesSearchCommand(app *App) *cobra.Command {
	var (
		provider string
		refresh  bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search local and remote templates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newTemplateService(app).Search(cmd.Context(), args[0], provider, refresh)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(result.Local)+len(result.Remote) == 0 {
				fmt.Fprintf(out, "No templates match %q.\n", args[0])
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "WHERE\tID\tNAME\tPROVIDER\tEVENT")
			fmt.Fprintln(w, "-----\t--\t----\t--------\t-----")
			for _, l := range result.Local {
				fmt.Fprintf(w, "local\t%s\t%s\t%s\t%s\n", l.ID, l.Metadata.Name, l.Metadata.Provider, l.Metadata.Event)
			}
			for _, e := range result.Remote {
				fmt.Fprintf(w, "remote\t%s\t%s\t%s\t%s\n", e.Metadata.ID, e.Metadata.Name, e.Metadata.Provider, e.Metadata.Event)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "", "only search templates for this provider")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "bypass the cached index")
	return cmd
}

func templatesRunCommand(app *App) *cobra.Command {
	var (
		secret     string
		allowEnv   bool
		rawHeaders []string
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run <id> [target-url]",
		Short: "Execute a downloaded template against a target",
		Long: `Resolve a template's placeholders ($uuid, $time:*, $env:*, provider
signatures) and send the resulting request. The target comes from the argument
or from the template's own url field.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides, err := parseHeaderFlags(rawHeaders)
			if err != nil {
				return err
			}
			targetURL := ""
			if len(args) == 2 {
				targetURL = args[1]
			}

			result, err := newTemplateService(app).Run(cmd.Context(), template.RunRequest{
				TemplateID:           args[0],
				TargetURL:            targetURL,
				Secret:               secret,
				AllowEnvPlaceholders: allowEnv,
				HeaderOverrides:      overrides,
				Timeout:              timeout,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s %s %s\n",
				successStyle.Render("Ran"), result.TemplateID, result.Method, result.URL)
			fmt.Fprintf(out, "Status: %s (%s)\n", result.Response.Status, result.Response.Duration.Round(time.Millisecond))
			if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
				printResponse(out, result.Headers, result.Response)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&secret, "secret", "", "signing secret for provider signature placeholders")
	cmd.Flags().BoolVar(&allowEnv, "allow-env-placeholders", false, "allow $env:NAME placeholders to read the environment")
	cmd.Flags().StringArrayVarP(&rawHeaders, "header", "H", nil, "header override, repeatable (\"Key: Value\")")
	cmd.Flags().DurationVar(&timeout, "timeout", replay.DefaultTimeout, "request timeout")
	return cmd
}

func templatesDeleteCommand(app *App) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a downloaded template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := confirm(fmt.Sprintf("Delete template %s?", args[0]), force)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
				return nil
			}
			if err := newTemplateService(app).DeleteLocal(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s template %s\n", successStyle.Render("Deleted"), args[0])
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "delete without confirmation")
	return cmd
}

func templatesCacheCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the template index cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove the cached template index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newTemplateService(app).ClearCache(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("Template index cache cleared."))
			return nil
		},
	})
	return cmd
}

func templatesCleanCommand(app *App) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Delete every downloaded template",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := confirm("Delete all downloaded templates?", force)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
				return nil
			}
			removed, err := newTemplateService(app).CleanLocal(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d template(s) removed\n", successStyle.Render("Done."), removed)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "delete without confirmation")
	return cmd
}
