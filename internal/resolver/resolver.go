// Package resolver determines the newest downloadable artifact of a GitHub
// repository: its latest release, or its default branch when it has none.
package resolver

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/go-github/v82/github"

	"github.com/kobgit/kob-git-updater/internal/githubapi"
	"github.com/kobgit/kob-git-updater/internal/models"
)

// FallbackBranch is used when the repository does not report a default branch.
const FallbackBranch = "main"

// API is the subset of the GitHub client the resolver needs.
type API interface {
	LatestRelease(ctx context.Context, owner, repo string) (*github.RepositoryRelease, error)
	Repository(ctx context.Context, owner, repo string) (*github.Repository, error)
	URL(elems ...string) string
}

// ResolveError means no download target could be determined for a repository.
type ResolveError struct {
	Owner string
	Repo  string
	Stage string
	Err   error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolve %s/%s: %s: %v", e.Owner, e.Repo, e.Stage, e.Err)
}

func (e *ResolveError) Unwrap() error {
	return e.Err
}

// Resolver finds the latest artifact for a repository.
type Resolver struct {
	api    API
	logger *log.Logger
}

// New creates a Resolver backed by api.
func New(api API, logger *log.Logger) *Resolver {
	if logger == nil {
		logger = log.WithPrefix("resolver")
	}
	return &Resolver{api: api, logger: logger}
}

// Resolve returns the newest release, or a branch-based artifact when the
// repository has no usable release.
func (r *Resolver) Resolve(ctx context.Context, owner, repo string) (*models.ResolvedUpdate, error) {
	release, err := r.api.LatestRelease(ctx, owner, repo)
	switch {
	case err == nil && release.GetTagName() != "":
		return r.fromRelease(owner, repo, release), nil
	case err == nil:
		r.logger.Debug("latest release has no tag, using default branch", "repo", owner+"/"+repo)
	case githubapi.IsNotFound(err):
		r.logger.Debug("no releases, using default branch", "repo", owner+"/"+repo)
	default:
		return nil, &ResolveError{Owner: owner, Repo: repo, Stage: "latest release", Err: err}
	}

	branch, err := r.defaultBranch(ctx, owner, repo)
	if err != nil {
		return nil, &ResolveError{Owner: owner, Repo: repo, Stage: "default branch", Err: err}
	}
	return &models.ResolvedUpdate{
		Version:     models.BranchVersionPrefix + branch,
		DownloadURL: r.zipballURL(owner, repo, branch),
		Source:      models.SourceBranch,
		Ref:         branch,
	}, nil
}

func (r *Resolver) fromRelease(owner, repo string, release *github.RepositoryRelease) *models.ResolvedUpdate {
	tag := release.GetTagName()
	download := release.GetZipballURL()
	if download == "" {
		download = r.zipballURL(owner, repo, tag)
	}
	return &models.ResolvedUpdate{
		Version:      NormalizeTag(tag),
		DownloadURL:  download,
		ReleaseNotes: release.GetBody(),
		PublishedAt:  release.GetPublishedAt().Time,
		Source:       models.SourceRelease,
		Ref:          tag,
	}
}

// defaultBranch reads the repository's default branch. A repository lookup
// that 404s or omits the field falls back to FallbackBranch.
func (r *Resolver) defaultBranch(ctx context.Context, owner, repo string) (string, error) {
	info, err := r.api.Repository(ctx, owner, repo)
	if err != nil {
		if githubapi.IsNotFound(err) {
			return FallbackBranch, nil
		}
		return "", err
	}
	if branch := info.GetDefaultBranch(); branch != "" {
		return branch, nil
	}
	return FallbackBranch, nil
}

func (r *Resolver) zipballURL(owner, repo, ref string) string {
	segments := strings.Split(ref, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return r.api.URL("repos", owner, repo, "zipball") + "/" + strings.Join(segments, "/")
}

// NormalizeTag strips a single leading "v" or "V" from a release tag when
// it is followed by a digit.
func NormalizeTag(tag string) string {
	if len(tag) > 1 && (tag[0] == 'v' || tag[0] == 'V') && tag[1] >= '0' && tag[1] <= '9' {
		return tag[1:]
	}
	return tag
}
