package updater_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/google/go-github/v82/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kobgit/kob-git-updater/internal/archive"
	"github.com/kobgit/kob-git-updater/internal/githubapi"
	"github.com/kobgit/kob-git-updater/internal/host"
	"github.com/kobgit/kob-git-updater/internal/installer"
	"github.com/kobgit/kob-git-updater/internal/models"
	"github.com/kobgit/kob-git-updater/internal/resolver"
	"github.com/kobgit/kob-git-updater/internal/store"
	"github.com/kobgit/kob-git-updater/internal/testutil"
	"github.com/kobgit/kob-git-updater/internal/updater"
	"github.com/kobgit/kob-git-updater/internal/version"
)

type MockGitHub struct {
	mock.Mock
	token string
}

var _ updater.GitHub = (*MockGitHub)(nil)

func (m *MockGitHub) Repository(ctx context.Context, owner, repo string) (*github.Repository, error) {
	args := m.Called(owner, repo)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*github.Repository), args.Error(1)
}

func (m *MockGitHub) ValidateToken(ctx context.Context) (*github.User, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*github.User), args.Error(1)
}

func (m *MockGitHub) SetToken(token string) { m.token = token }
func (m *MockGitHub) Token() string        { return m.token }
func (m *MockGitHub) HasToken() bool       { return m.token != "" }

type MockResolver struct {
	mock.Mock
}

func (m *MockResolver) Resolve(ctx context.Context, owner, repo string) (*models.ResolvedUpdate, error) {
	args := m.Called(owner, repo)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ResolvedUpdate), args.Error(1)
}

type env struct {
	svc      *updater.Service
	gh       *MockGitHub
	resolver *MockResolver
	store    *store.Store
	plugins  string
	themes   string
}

func quietLogger() *log.Logger {
	return log.NewWithOptions(os.Stderr, log.Options{Level: log.FatalLevel})
}

func newEnv(t *testing.T) *env {
	t.Helper()
	root := t.TempDir()
	e := &env{
		gh:       &MockGitHub{},
		resolver: &MockResolver{},
		store:    store.New(testutil.SetupTestDB(t)),
		plugins:  filepath.Join(root, "plugins"),
		themes:   filepath.Join(root, "themes"),
	}
	logger := quietLogger()
	e.svc = updater.New(updater.Deps{
		GitHub:    e.gh,
		Resolver:  e.resolver,
		Fetcher:   archive.NewFetcher(archive.WithTempDir(t.TempDir()), archive.WithLogger(logger)),
		Installer: installer.New(e.plugins, e.themes, installer.WithLogger(logger)),
		Registry:  host.NewWordPress(nil, e.plugins, e.themes),
		Store:     e.store,
		Logger:    logger,
		Workers:   2,
	})
	return e
}

func (e *env) register(t *testing.T, owner, repo string, kind models.Kind) *models.RepositoryConfig {
	t.Helper()
	cfg, err := models.NewRepositoryConfig(owner, repo, kind, "")
	require.NoError(t, err)
	cfg.DefaultBranch = "main"
	require.NoError(t, e.store.PersistRepository(cfg))
	return cfg
}

func release(v, url string) *models.ResolvedUpdate {
	return &models.ResolvedUpdate{Version: v, DownloadURL: url, Source: models.SourceRelease, Ref: "v" + v}
}

func TestAddRepository(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		e := newEnv(t)
		e.gh.On("Repository", "acme", "widget").Return(&github.Repository{
			DefaultBranch: github.Ptr("develop"),
			Private:       github.Ptr(true),
		}, nil).Once()

		cfg, err := e.svc.AddRepository(context.Background(), updater.AddParams{Owner: "acme", Repo: "widget", Kind: models.KindPlugin})
		require.NoError(t, err)
		assert.Equal(t, "widget/widget.php", cfg.Slug)
		assert.Equal(t, "develop", cfg.DefaultBranch)
		assert.True(t, cfg.IsPrivate)

		stored, err := e.store.GetRepository("acme", "widget")
		require.NoError(t, err)
		assert.Equal(t, cfg.ID, stored.ID)
		e.gh.AssertExpectations(t)
	})

	t.Run("Duplicate ignores case", func(t *testing.T) {
		e := newEnv(t)
		e.register(t, "acme", "widget", models.KindPlugin)

		_, err := e.svc.AddRepository(context.Background(), updater.AddParams{Owner: "ACME", Repo: "Widget", Kind: models.KindPlugin})
		assert.ErrorIs(t, err, updater.ErrRepositoryExists)
		e.gh.AssertNotCalled(t, "Repository", mock.Anything, mock.Anything)
	})

	t.Run("Invalid input never reaches GitHub", func(t *testing.T) {
		e := newEnv(t)
		_, err := e.svc.AddRepository(context.Background(), updater.AddParams{Owner: "-bad-", Repo: "widget", Kind: models.KindPlugin})
		var validationErr *models.ValidationError
		assert.ErrorAs(t, err, &validationErr)
		e.gh.AssertNotCalled(t, "Repository", mock.Anything, mock.Anything)
	})

	t.Run("Plugin directory already managed", func(t *testing.T) {
		e := newEnv(t)
		e.gh.On("Repository", mock.Anything, mock.Anything).Return(&github.Repository{DefaultBranch: github.Ptr("main")}, nil)

		_, err := e.svc.AddRepository(context.Background(), updater.AddParams{Owner: "acme", Repo: "one", Kind: models.KindPlugin, Slug: "shared/a.php"})
		require.NoError(t, err)

		_, err = e.svc.AddRepository(context.Background(), updater.AddParams{Owner: "other", Repo: "two", Kind: models.KindPlugin, Slug: "shared/b.php"})
		assert.ErrorIs(t, err, store.ErrSlugTaken)

		_, err = e.store.GetRepository("other", "two")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("Missing upstream repository", func(t *testing.T) {
		e := newEnv(t)
		e.gh.On("Repository", "acme", "secret").Return(nil, &githubapi.APIError{Status: http.StatusNotFound, Message: "Not Found"}).Once()

		_, err := e.svc.AddRepository(context.Background(), updater.AddParams{Owner: "acme", Repo: "secret", Kind: models.KindTheme})
		var opErr *updater.OperationError
		require.ErrorAs(t, err, &opErr)
		assert.Equal(t, http.StatusNotFound, opErr.Status)
		assert.False(t, opErr.TokenSet)
		assert.Contains(t, err.Error(), "token configured: false")
		assert.Contains(t, err.Error(), "private repositories require an access token")

		_, err = e.store.GetRepository("acme", "secret")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestRemoveRepository(t *testing.T) {
	e := newEnv(t)
	e.register(t, "acme", "widget", models.KindPlugin)

	require.NoError(t, e.svc.RemoveRepository(context.Background(), "acme", "widget"))
	assert.ErrorIs(t, e.svc.RemoveRepository(context.Background(), "acme", "widget"), updater.ErrRepositoryNotFound)
}

func TestCheck(t *testing.T) {
	e := newEnv(t)
	cfg := e.register(t, "acme", "widget", models.KindPlugin)
	testutil.WriteTree(t, e.plugins, map[string]string{
		"widget/widget.php": "<?php\n/*\n * Plugin Name: Widget\n * Version: 1.0.0\n */",
	})

	e.resolver.On("Resolve", "acme", "widget").Return(release("1.1.0", "https://example.invalid/zip"), nil).Once()
	res := e.svc.Check(context.Background(), cfg)
	require.NoError(t, res.Err)
	assert.Equal(t, "1.0.0", res.InstalledVersion)
	assert.True(t, res.Decision.Available)
	assert.Equal(t, version.ReasonNewerRelease, res.Decision.Reason)

	notice, err := e.store.GetUpdate(models.KindPlugin, "widget/widget.php")
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", notice.Version)

	// Once the installed copy catches up, the stale notice is cleared.
	e.resolver.On("Resolve", "acme", "widget").Return(release("1.0.0", "https://example.invalid/zip"), nil).Once()
	res = e.svc.Check(context.Background(), cfg)
	require.NoError(t, res.Err)
	assert.False(t, res.Decision.Available)
	_, err = e.store.GetUpdate(models.KindPlugin, "widget/widget.php")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCheck_ResolveFailure(t *testing.T) {
	e := newEnv(t)
	e.gh.SetToken("ghp_x")
	cfg := e.register(t, "acme", "widget", models.KindPlugin)

	upstream := &resolver.ResolveError{Owner: "acme", Repo: "widget", Stage: "release",
		Err: &githubapi.APIError{Status: http.StatusInternalServerError, Message: "boom"}}
	e.resolver.On("Resolve", "acme", "widget").Return(nil, upstream).Once()

	res := e.svc.Check(context.Background(), cfg)
	require.Error(t, res.Err)
	assert.Contains(t, res.Error, "token configured: true")
	assert.Contains(t, res.Error, "upstream status: 500")
	assert.Contains(t, res.Error, "public repository")
}

func TestCheckAll_OneFailureDoesNotHaltOthers(t *testing.T) {
	e := newEnv(t)
	e.register(t, "acme", "alpha", models.KindTheme)
	e.register(t, "acme", "beta", models.KindTheme)
	e.register(t, "acme", "gamma", models.KindTheme)

	e.resolver.On("Resolve", "acme", "alpha").Return(release("1.0.0", "u"), nil)
	e.resolver.On("Resolve", "acme", "beta").Return(nil, errors.New("network down"))
	e.resolver.On("Resolve", "acme", "gamma").Return(release("2.0.0", "u"), nil)

	results, err := e.svc.CheckAll(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 3)

	byRepo := map[string]updater.CheckResult{}
	for _, r := range results {
		byRepo[r.Repo] = r
	}
	assert.NoError(t, byRepo["alpha"].Err)
	assert.Error(t, byRepo["beta"].Err)
	assert.NoError(t, byRepo["gamma"].Err)
	assert.Equal(t, version.ReasonFirstInstall, byRepo["gamma"].Decision.Reason)

	notices, err := e.store.ListUpdates()
	require.NoError(t, err)
	assert.Len(t, notices, 2)
}

func TestInstall_EndToEnd(t *testing.T) {
	e := newEnv(t)
	e.gh.SetToken("ghp_secret")
	e.register(t, "acme", "widget", models.KindPlugin)

	zipball := testutil.ZipballBytes(t, map[string]string{
		"acme-widget-abc1234/widget.php": "<?php\n/*\n * Version: 2.0.0\n */",
	})
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write(zipball)
	}))
	defer srv.Close()

	require.NoError(t, e.store.NotifyUpdateAvailable(models.UpdateNotice{
		Kind: models.KindPlugin, Slug: "widget/widget.php", Owner: "acme", Repo: "widget", Version: "2.0.0", DownloadURL: srv.URL,
	}))
	e.resolver.On("Resolve", "acme", "widget").Return(release("2.0.0", srv.URL), nil).Once()

	res, err := e.svc.Install(context.Background(), "acme", "widget")
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", res.Version)
	assert.Equal(t, filepath.Join(e.plugins, "widget"), res.TargetPath)
	assert.Equal(t, "token ghp_secret", gotAuth)

	installed, err := host.NewWordPress(nil, e.plugins, e.themes).InstalledVersion(models.KindPlugin, "widget/widget.php")
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", installed)

	cfg, err := e.store.GetRepository("acme", "widget")
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", cfg.LatestKnownVersion)

	_, err = e.store.GetUpdate(models.KindPlugin, "widget/widget.php")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestInstall_FetchFailureLeavesInstallationAlone(t *testing.T) {
	e := newEnv(t)
	e.register(t, "acme", "widget", models.KindPlugin)
	testutil.WriteTree(t, e.plugins, map[string]string{"widget/widget.php": "old"})

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	e.resolver.On("Resolve", "acme", "widget").Return(release("2.0.0", srv.URL), nil).Once()

	_, err := e.svc.Install(context.Background(), "acme", "widget")
	var fetchErr *archive.FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Contains(t, err.Error(), "upstream status: 404")
	assert.Equal(t, map[string]string{"widget/widget.php": "old"}, testutil.ReadTree(t, e.plugins))
}

func TestInstall_UnknownRepository(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.Install(context.Background(), "acme", "nope")
	assert.ErrorIs(t, err, updater.ErrRepositoryNotFound)
}

func TestUpgrade_NothingAvailable(t *testing.T) {
	e := newEnv(t)
	e.register(t, "acme", "widget", models.KindTheme)
	testutil.WriteTree(t, e.themes, map[string]string{"widget/style.css": "/*\nVersion: dev-main\n*/"})
	e.resolver.On("Resolve", "acme", "widget").Return(&models.ResolvedUpdate{
		Version: "dev-main", DownloadURL: "u", Source: models.SourceBranch, Ref: "main",
	}, nil).Once()

	res, err := e.svc.Upgrade(context.Background(), "acme", "widget")
	require.NoError(t, err)
	assert.Nil(t, res.Installed)
	assert.Equal(t, version.ReasonSameBranch, res.Check.Decision.Reason)
	e.resolver.AssertNumberOfCalls(t, "Resolve", 1)
}

func TestUpgrade_InstallsTheCheckedArtifact(t *testing.T) {
	e := newEnv(t)
	e.register(t, "acme", "widget", models.KindPlugin)
	testutil.WriteTree(t, e.plugins, map[string]string{"widget/widget.php": "<?php\n/*\n * Version: 1.0.0\n */"})

	zipball := testutil.ZipballBytes(t, map[string]string{
		"acme-widget-def5678/widget.php": "<?php\n/*\n * Version: 1.1.0\n */",
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(zipball)
	}))
	defer srv.Close()
	e.resolver.On("Resolve", "acme", "widget").Return(release("1.1.0", srv.URL), nil).Once()

	res, err := e.svc.Upgrade(context.Background(), "acme", "widget")
	require.NoError(t, err)
	require.NotNil(t, res.Installed)
	assert.Equal(t, "1.1.0", res.Installed.Version)
	e.resolver.AssertNumberOfCalls(t, "Resolve", 1)

	installed, err := host.NewWordPress(nil, e.plugins, e.themes).InstalledVersion(models.KindPlugin, "widget/widget.php")
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", installed)
}

func TestValidateToken(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.ValidateToken(context.Background())
	assert.Error(t, err)

	e.svc.SetToken("ghp_valid")
	e.gh.On("ValidateToken").Return(&github.User{Login: github.Ptr("octocat")}, nil).Once()
	login, err := e.svc.ValidateToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "octocat", login)
}
