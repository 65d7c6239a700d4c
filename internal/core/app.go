package core

import (
	"database/sql"
	"fmt"
	"net/http"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/kobgit/kob-git-updater/internal/archive"
	"github.com/kobgit/kob-git-updater/internal/assets"
	"github.com/kobgit/kob-git-updater/internal/config"
	"github.com/kobgit/kob-git-updater/internal/db"
	"github.com/kobgit/kob-git-updater/internal/githubapi"
	"github.com/kobgit/kob-git-updater/internal/host"
	"github.com/kobgit/kob-git-updater/internal/installer"
	"github.com/kobgit/kob-git-updater/internal/jobs"
	"github.com/kobgit/kob-git-updater/internal/resolver"
	"github.com/kobgit/kob-git-updater/internal/store"
	"github.com/kobgit/kob-git-updater/internal/updater"
	"github.com/kobgit/kob-git-updater/internal/util"
)

// App holds the core components of the application that are shared
// between the server and the CLI.
type App struct {
	Version string

	mu         sync.RWMutex
	config     *config.Config
	db         *sql.DB
	store      *store.Store
	github     *githubapi.Client
	service    *updater.Service
	jobManager *jobs.JobManager
}

// New opens the database described by cfg, runs migrations and wires all
// components.
func New(cfg *config.Config, version string) (*App, error) {
	if level, err := log.ParseLevel(cfg.Log.Level); err == nil {
		log.SetLevel(level)
	}

	if err := util.EnsureWritableDirs(cfg.Paths.Plugins, cfg.Paths.Themes, cfg.Paths.Temp); err != nil {
		return nil, fmt.Errorf("content directories are not usable: %w", err)
	}

	database, err := db.InitDB(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := db.RunMigrations(database, assets.MigrationsFS); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}

	app := NewWithDB(cfg, database, version)
	log.Info("core application setup complete", "version", version, "token_set", app.github.HasToken())
	return app, nil
}

// NewWithDB wires the application around an already migrated database.
func NewWithDB(cfg *config.Config, database *sql.DB, version string) *App {
	userAgent := cfg.GitHub.UserAgent
	if userAgent == "" {
		userAgent = "KobGitUpdater/" + version
	}

	gh := githubapi.New(
		githubapi.WithBaseURL(cfg.GitHub.APIURL),
		githubapi.WithToken(cfg.GitHub.Token),
		githubapi.WithUserAgent(userAgent),
		githubapi.WithCacheTTL(cfg.GitHub.CacheTTL),
		githubapi.WithHTTPClient(&http.Client{Timeout: orDefault(cfg.GitHub.Timeout, githubapi.DefaultTimeout)}),
	)
	fetcher := archive.NewFetcher(
		archive.WithUserAgent(userAgent),
		archive.WithTempDir(cfg.Paths.Temp),
		archive.WithHTTPClient(&http.Client{Timeout: orDefault(cfg.Download.Timeout, archive.DefaultTimeout)}),
	)
	st := store.New(database)

	app := &App{
		Version: version,
		config:  cfg,
		db:      database,
		store:   st,
		github:  gh,
	}
	app.service = updater.New(updater.Deps{
		GitHub:    gh,
		Resolver:  resolver.New(gh, log.WithPrefix("resolver")),
		Fetcher:   fetcher,
		Installer: installer.New(cfg.Paths.Plugins, cfg.Paths.Themes),
		Registry:  host.NewWordPress(nil, cfg.Paths.Plugins, cfg.Paths.Themes),
		Store:     st,
		Workers:   cfg.Workers,
	})
	app.jobManager = jobs.NewManager(app)
	jobs.RegisterDefaultJobs(app.jobManager)
	return app
}

func (a *App) Config() *config.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.config
}

func (a *App) DB() *sql.DB { return a.db }
func (a *App) Store() *store.Store { return a.store }
func (a *App) GitHub() *githubapi.Client { return a.github }
func (a *App) Service() *updater.Service { return a.service }
func (a *App) Updater() jobs.UpdateChecker { return a.service }
func (a *App) JobManager() *jobs.JobManager { return a.jobManager }

// ApplyConfig takes over settings that can change while running. Only the
// access token and log level are hot-reloadable.
func (a *App) ApplyConfig(next *config.Config) {
	a.mu.Lock()
	prev := a.config
	a.config = next
	a.mu.Unlock()

	if next.GitHub.Token != prev.GitHub.Token {
		a.service.SetToken(next.GitHub.Token)
	}
	if next.Log.Level != prev.Log.Level {
		if level, err := log.ParseLevel(next.Log.Level); err == nil {
			log.SetLevel(level)
		}
	}
}

// Close gracefully closes the application's resources, like the DB connection.
func (a *App) Close() {
	if a.db != nil {
		a.db.Close()
	}
}

func orDefault[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
