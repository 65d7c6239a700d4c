// Package updater coordinates resolving, checking and installing packages
// for every registered repository.
package updater

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/go-github/v82/github"
	"golang.org/x/sync/errgroup"

	"github.com/kobgit/kob-git-updater/internal/archive"
	"github.com/kobgit/kob-git-updater/internal/githubapi"
	"github.com/kobgit/kob-git-updater/internal/installer"
	"github.com/kobgit/kob-git-updater/internal/models"
	"github.com/kobgit/kob-git-updater/internal/resolver"
	"github.com/kobgit/kob-git-updater/internal/store"
	"github.com/kobgit/kob-git-updater/internal/version"
)

// DefaultWorkers bounds CheckAll concurrency when none is configured.
const DefaultWorkers = 4

var (
	ErrRepositoryExists   = errors.New("repository is already registered")
	ErrRepositoryNotFound = errors.New("repository is not registered")
)

// GitHub is the subset of the API client the service needs directly.
type GitHub interface {
	Repository(ctx context.Context, owner, repo string) (*github.Repository, error)
	ValidateToken(ctx context.Context) (*github.User, error)
	SetToken(token string)
	Token() string
	HasToken() bool
}

type Resolver interface {
	Resolve(ctx context.Context, owner, repo string) (*models.ResolvedUpdate, error)
}

type Fetcher interface {
	FetchAndExtract(ctx context.Context, url, token string) (*archive.Extracted, error)
}

type Installer interface {
	Install(ctx context.Context, kind models.Kind, contentDir, slug string) (*installer.Result, error)
}

// Registry reports what the host currently has installed.
type Registry interface {
	InstalledVersion(kind models.Kind, slug string) (string, error)
}

// RepositoryStore persists the repository registry and update notices.
type RepositoryStore interface {
	PersistRepository(cfg *models.RepositoryConfig) error
	LoadRepositories() ([]*models.RepositoryConfig, error)
	GetRepository(owner, repo string) (*models.RepositoryConfig, error)
	DeleteRepository(owner, repo string) error
	UpdateLatestKnownVersion(owner, repo, version string) error
	NotifyUpdateAvailable(n models.UpdateNotice) error
	ClearUpdate(kind models.Kind, slug string) error
}

// Deps are the collaborators of a Service.
type Deps struct {
	GitHub    GitHub
	Resolver  Resolver
	Fetcher   Fetcher
	Installer Installer
	Registry  Registry
	Store     RepositoryStore
	Logger    *log.Logger
	Workers   int
}

// Service is the update orchestrator.
type Service struct {
	gh        GitHub
	resolver  Resolver
	fetcher   Fetcher
	installer Installer
	registry  Registry
	store     RepositoryStore
	logger    *log.Logger
	workers   int
	locks     *keyedMutex
}

// New creates a Service. A nil Resolver defaults to one backed by GitHub
// when GitHub also satisfies resolver.API.
func New(d Deps) *Service {
	s := &Service{
		gh:        d.GitHub,
		resolver:  d.Resolver,
		fetcher:   d.Fetcher,
		installer: d.Installer,
		registry:  d.Registry,
		store:     d.Store,
		logger:    d.Logger,
		workers:   d.Workers,
		locks:     newKeyedMutex(),
	}
	if s.logger == nil {
		s.logger = log.WithPrefix("updater")
	}
	if s.resolver == nil {
		if api, ok := d.GitHub.(resolver.API); ok {
			s.resolver = resolver.New(api, s.logger.WithPrefix("resolver"))
		}
	}
	if s.workers <= 0 {
		s.workers = DefaultWorkers
	}
	return s
}

// AddParams describe a repository to register.
type AddParams struct {
	Owner string      `json:"owner"`
	Repo  string      `json:"repo"`
	Kind  models.Kind `json:"kind"`
	Slug  string      `json:"slug"`
}

// AddRepository validates p, verifies the repository exists on GitHub and
// registers it.
func (s *Service) AddRepository(ctx context.Context, p AddParams) (*models.RepositoryConfig, error) {
	cfg, err := models.NewRepositoryConfig(p.Owner, p.Repo, p.Kind, p.Slug)
	if err != nil {
		return nil, err
	}

	if _, err := s.store.GetRepository(cfg.Owner, cfg.Repo); err == nil {
		return nil, fmt.Errorf("%s: %w", cfg.FullName(), ErrRepositoryExists)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	remote, err := s.gh.Repository(ctx, cfg.Owner, cfg.Repo)
	if err != nil {
		return nil, s.operationError("add", cfg, err)
	}
	cfg.DefaultBranch = remote.GetDefaultBranch()
	if cfg.DefaultBranch == "" {
		cfg.DefaultBranch = resolver.FallbackBranch
	}
	cfg.IsPrivate = remote.GetPrivate()

	if err := s.store.PersistRepository(cfg); err != nil {
		return nil, err
	}
	s.logger.Info("repository added", "repository", cfg.FullName(), "kind", cfg.Kind, "slug", cfg.Slug, "private", cfg.IsPrivate)
	return cfg, nil
}

// RemoveRepository unregisters a repository. Installed files are left in
// place.
func (s *Service) RemoveRepository(_ context.Context, owner, repo string) error {
	if err := s.store.DeleteRepository(owner, repo); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%s/%s: %w", owner, repo, ErrRepositoryNotFound)
		}
		return err
	}
	s.logger.Info("repository removed", "repository", owner+"/"+repo)
	return nil
}

// Repositories lists every registered repository.
func (s *Service) Repositories() ([]*models.RepositoryConfig, error) {
	return s.store.LoadRepositories()
}

// Repository returns one registered repository.
func (s *Service) Repository(owner, repo string) (*models.RepositoryConfig, error) {
	cfg, err := s.store.GetRepository(owner, repo)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%s/%s: %w", owner, repo, ErrRepositoryNotFound)
	}
	return cfg, err
}

// CheckResult is the outcome of checking one repository.
type CheckResult struct {
	Owner            string                 `json:"owner"`
	Repo             string                 `json:"repo"`
	Kind             models.Kind            `json:"kind"`
	Slug             string                 `json:"slug"`
	InstalledVersion string                 `json:"installed_version"`
	Resolved         *models.ResolvedUpdate `json:"resolved,omitempty"`
	Decision         version.Decision       `json:"decision"`
	Err              error                  `json:"-"`
	Error            string                 `json:"error,omitempty"`
}

func (r *CheckResult) fail(err error) CheckResult {
	r.Err = err
	r.Error = err.Error()
	return *r
}

// Check resolves the newest artifact of cfg, compares it with the installed
// version and updates the host's notice accordingly.
func (s *Service) Check(ctx context.Context, cfg *models.RepositoryConfig) CheckResult {
	res := CheckResult{Owner: cfg.Owner, Repo: cfg.Repo, Kind: cfg.Kind, Slug: cfg.Slug}

	resolved, err := s.resolver.Resolve(ctx, cfg.Owner, cfg.Repo)
	if err != nil {
		s.logger.Warn("check failed", "repository", cfg.FullName(), "stage", "resolve", "err", err)
		return res.fail(s.operationError("check", cfg, err))
	}
	res.Resolved = resolved

	installed, err := s.registry.InstalledVersion(cfg.Kind, cfg.Slug)
	if err != nil {
		s.logger.Warn("check failed", "repository", cfg.FullName(), "stage", "installed-version", "err", err)
		return res.fail(fmt.Errorf("read installed version of %s: %w", cfg.Slug, err))
	}
	res.InstalledVersion = installed
	res.Decision = version.Decide(installed, resolved)

	if res.Decision.Available {
		err = s.store.NotifyUpdateAvailable(models.UpdateNotice{
			Kind:         cfg.Kind,
			Slug:         cfg.Slug,
			Owner:        cfg.Owner,
			Repo:         cfg.Repo,
			Version:      resolved.Version,
			DownloadURL:  resolved.DownloadURL,
			ReleaseNotes: resolved.ReleaseNotes,
			PublishedAt:  resolved.PublishedAt,
			IsPrivate:    cfg.IsPrivate,
		})
	} else {
		err = s.store.ClearUpdate(cfg.Kind, cfg.Slug)
	}
	if err != nil {
		return res.fail(fmt.Errorf("record update notice for %s: %w", cfg.Slug, err))
	}

	s.logger.Debug("checked", "repository", cfg.FullName(), "installed", installed,
		"resolved", resolved.Version, "source", resolved.Source, "available", res.Decision.Available, "reason", res.Decision.Reason)
	return res
}

// CheckAll checks every registered repository with bounded concurrency. A
// failing repository never prevents the others from being checked.
func (s *Service) CheckAll(ctx context.Context) ([]CheckResult, error) {
	repos, err := s.store.LoadRepositories()
	if err != nil {
		return nil, fmt.Errorf("failed to load repositories: %w", err)
	}

	start := time.Now()
	results := make([]CheckResult, len(repos))
	var g errgroup.Group
	g.SetLimit(s.workers)
	for i, cfg := range repos {
		g.Go(func() error {
			results[i] = s.Check(ctx, cfg)
			return nil
		})
	}
	g.Wait()

	available, failed := 0, 0
	for _, r := range results {
		switch {
		case r.Err != nil:
			failed++
		case r.Decision.Available:
			available++
		}
	}
	s.logger.Info("update check finished", "repositories", len(repos), "available", available, "failed", failed, "duration", time.Since(start))
	return results, ctx.Err()
}

// InstallResult describes a completed install.
type InstallResult struct {
	Owner      string        `json:"owner"`
	Repo       string        `json:"repo"`
	Kind       models.Kind   `json:"kind"`
	Slug       string        `json:"slug"`
	Version    string        `json:"version"`
	Source     models.Source `json:"source"`
	TargetPath string        `json:"target_path"`
	Strategy   string        `json:"strategy"`
}

// Install fetches the newest artifact of a registered repository and puts
// it in place, whatever version is currently installed. Installs into the
// same target directory never overlap.
func (s *Service) Install(ctx context.Context, owner, repo string) (*InstallResult, error) {
	cfg, err := s.Repository(owner, repo)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(installKey(cfg))
	defer unlock()

	resolved, err := s.resolver.Resolve(ctx, cfg.Owner, cfg.Repo)
	if err != nil {
		return nil, s.operationError("install", cfg, err)
	}
	return s.install(ctx, cfg, resolved)
}

// install puts resolved in place. The caller holds the lock for cfg.
func (s *Service) install(ctx context.Context, cfg *models.RepositoryConfig, resolved *models.ResolvedUpdate) (*InstallResult, error) {
	extracted, err := s.fetcher.FetchAndExtract(ctx, resolved.DownloadURL, s.gh.Token())
	if err != nil {
		return nil, s.operationError("install", cfg, err)
	}
	defer extracted.Close()

	res, err := s.installer.Install(ctx, cfg.Kind, extracted.ContentDir, cfg.Slug)
	if err != nil {
		return nil, s.operationError("install", cfg, err)
	}

	if err := s.store.UpdateLatestKnownVersion(cfg.Owner, cfg.Repo, resolved.Version); err != nil {
		s.logger.Warn("failed to record installed version", "repository", cfg.FullName(), "err", err)
	}
	if err := s.store.ClearUpdate(cfg.Kind, cfg.Slug); err != nil {
		s.logger.Warn("failed to clear update notice", "repository", cfg.FullName(), "err", err)
	}

	s.logger.Info("installed", "repository", cfg.FullName(), "version", resolved.Version, "source", resolved.Source, "target", res.TargetPath)
	return &InstallResult{
		Owner:      cfg.Owner,
		Repo:       cfg.Repo,
		Kind:       cfg.Kind,
		Slug:       cfg.Slug,
		Version:    resolved.Version,
		Source:     resolved.Source,
		TargetPath: res.TargetPath,
		Strategy:   res.Strategy,
	}, nil
}

// installKey names the directory an install writes to.
func installKey(cfg *models.RepositoryConfig) string {
	return string(cfg.Kind) + ":" + cfg.DirectoryName()
}

// UpgradeResult is the outcome of Upgrade. Installed is nil when no update
// was available.
type UpgradeResult struct {
	Check     CheckResult    `json:"check"`
	Installed *InstallResult `json:"installed,omitempty"`
}

// Upgrade checks a repository and installs only when an update is
// available. The check and the install run under one lock and install
// exactly the artifact the check resolved.
func (s *Service) Upgrade(ctx context.Context, owner, repo string) (*UpgradeResult, error) {
	cfg, err := s.Repository(owner, repo)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(installKey(cfg))
	defer unlock()

	check := s.Check(ctx, cfg)
	if check.Err != nil {
		return &UpgradeResult{Check: check}, check.Err
	}
	if !check.Decision.Available {
		return &UpgradeResult{Check: check}, nil
	}

	installed, err := s.install(ctx, cfg, check.Resolved)
	return &UpgradeResult{Check: check, Installed: installed}, err
}

// SetToken replaces the access token. Cached API responses are discarded
// when the token changes.
func (s *Service) SetToken(token string) {
	s.gh.SetToken(token)
}

// ValidateToken checks the configured token against GitHub and returns the
// login it belongs to.
func (s *Service) ValidateToken(ctx context.Context) (string, error) {
	if !s.gh.HasToken() {
		return "", errors.New("no access token configured")
	}
	user, err := s.gh.ValidateToken(ctx)
	if err != nil {
		return "", err
	}
	return user.GetLogin(), nil
}

func (s *Service) operationError(op string, cfg *models.RepositoryConfig, err error) *OperationError {
	return &OperationError{
		Op:         op,
		Repository: cfg.FullName(),
		Private:    cfg.IsPrivate,
		TokenSet:   s.gh.HasToken(),
		Status:     upstreamStatus(err),
		Err:        err,
	}
}

func upstreamStatus(err error) int {
	if status := githubapi.StatusOf(err); status != 0 {
		return status
	}
	var fetchErr *archive.FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr.Status
	}
	return 0
}
