package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/kobgit/kob-git-updater/internal/api"
	"github.com/kobgit/kob-git-updater/internal/config"
	"github.com/kobgit/kob-git-updater/internal/core"
	"github.com/kobgit/kob-git-updater/internal/jobs"
	"github.com/kobgit/kob-git-updater/internal/models"
	"github.com/kobgit/kob-git-updater/internal/updater"
)

var configFile string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "kob-updater",
		Short: "Install and update WordPress plugins and themes from GitHub",
		Long: `kob-updater tracks GitHub repositories that ship WordPress plugins or
themes, detects new releases (or branch heads when a repository has no
releases) and installs them into the WordPress content directory.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default ./config.yml)")

	root.AddCommand(newServeCmd(), newCheckCmd(), newInstallCmd(), newRepoCmd(), newTokenCmd())
	return root
}

func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.LoadFile(configFile)
	}
	return config.Load()
}

func openApp() (*core.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return core.New(cfg, version)
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the JSON API and the scheduled update checks",
		RunE: func(cmd *cobra.Command, args []string) error {
			var running atomic.Pointer[core.App]
			cfg, err := config.Watch(configFile, func(next *config.Config) {
				if app := running.Load(); app != nil {
					app.ApplyConfig(next)
				}
			})
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			app, err := core.New(cfg, version)
			if err != nil {
				return err
			}
			defer app.Close()
			running.Store(app)

			if scheduler := jobs.StartJobs(app); scheduler != nil {
				defer scheduler.Stop()
			}

			httpServer := &http.Server{
				Addr:              cfg.Addr(),
				Handler:           api.NewServer(app).Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				log.Info("starting web server", "addr", httpServer.Addr)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			select {
			case <-quit:
			case err := <-errCh:
				return fmt.Errorf("could not start server: %w", err)
			}
			log.Info("shutting down server")

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(ctx); err != nil {
				return fmt.Errorf("server forced to shutdown: %w", err)
			}
			log.Info("server exiting")
			return nil
		},
	}
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check every registered repository once and print the results",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			results, err := app.Service().CheckAll(cmd.Context())
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "REPOSITORY\tKIND\tINSTALLED\tAVAILABLE\tSTATUS")
			failed := 0
			for _, r := range results {
				status := string(r.Decision.Reason)
				available := ""
				if r.Resolved != nil {
					available = r.Resolved.Version
				}
				if r.Err != nil {
					failed++
					status = "error: " + r.Error
				}
				fmt.Fprintf(tw, "%s/%s\t%s\t%s\t%s\t%s\n", r.Owner, r.Repo, r.Kind, orDash(r.InstalledVersion), orDash(available), status)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d checks failed", failed, len(results))
			}
			return nil
		},
	}
}

func newInstallCmd() *cobra.Command {
	var onlyIfAvailable bool
	cmd := &cobra.Command{
		Use:   "install <owner>/<repo>",
		Short: "Install the newest release or branch head of a registered repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, repo, err := splitFullName(args[0])
			if err != nil {
				return err
			}
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			var res *updater.InstallResult
			if onlyIfAvailable {
				up, err := app.Service().Upgrade(cmd.Context(), owner, repo)
				if err != nil {
					return err
				}
				if up.Installed == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s/%s is up to date (%s)\n", owner, repo, up.Check.Decision.Reason)
					return nil
				}
				res = up.Installed
			} else if res, err = app.Service().Install(cmd.Context(), owner, repo); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Installed %s/%s %s into %s\n", res.Owner, res.Repo, res.Version, res.TargetPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&onlyIfAvailable, "only-if-available", false, "skip the install when no update is available")
	return cmd
}

func newRepoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repo",
		Short: "Manage registered repositories",
	}

	var kind, slug string
	add := &cobra.Command{
		Use:   "add <owner>/<repo>",
		Short: "Register a GitHub repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, repo, err := splitFullName(args[0])
			if err != nil {
				return err
			}
			k, err := models.ParseKind(kind)
			if err != nil {
				return err
			}
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			cfg, err := app.Service().AddRepository(cmd.Context(), updater.AddParams{Owner: owner, Repo: repo, Kind: k, Slug: slug})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %s as %s %s\n", cfg.FullName(), cfg.Kind, cfg.Slug)
			return nil
		},
	}
	add.Flags().StringVar(&kind, "kind", string(models.KindPlugin), "package kind: plugin or theme")
	add.Flags().StringVar(&slug, "slug", "", "plugin file (folder/file.php) or theme directory; derived from the repository name when empty")

	remove := &cobra.Command{
		Use:     "remove <owner>/<repo>",
		Aliases: []string{"rm"},
		Short:   "Unregister a repository (installed files are kept)",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, repo, err := splitFullName(args[0])
			if err != nil {
				return err
			}
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()
			return app.Service().RemoveRepository(cmd.Context(), owner, repo)
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List registered repositories",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			repos, err := app.Service().Repositories()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "REPOSITORY\tKIND\tSLUG\tBRANCH\tPRIVATE\tLAST INSTALLED")
			for _, r := range repos {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%s\n", r.FullName(), r.Kind, r.Slug, r.DefaultBranch, r.IsPrivate, orDash(r.LatestKnownVersion))
			}
			return tw.Flush()
		},
	}

	cmd.AddCommand(add, remove, list)
	return cmd
}

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Inspect the GitHub access token",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check the configured token against GitHub",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			login, err := app.Service().ValidateToken(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Token is valid for %s\n", login)
			return nil
		},
	})
	return cmd
}

func splitFullName(s string) (owner, repo string, err error) {
	owner, repo, ok := strings.Cut(strings.TrimSuffix(s, ".git"), "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", fmt.Errorf("expected <owner>/<repo>, got %q", s)
	}
	return owner, repo, nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
