package models

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

// Kind is the type of WordPress package a repository delivers.
type Kind string

const (
	KindPlugin Kind = "plugin"
	KindTheme  Kind = "theme"
)

// ParseKind converts user input into a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindPlugin:
		return KindPlugin, nil
	case KindTheme:
		return KindTheme, nil
	default:
		return "", &ValidationError{Field: "kind", Message: fmt.Sprintf("unknown package kind %q (want plugin or theme)", s)}
	}
}

var (
	ownerPattern      = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9-]{0,37}[A-Za-z0-9])?$`)
	repoPattern       = regexp.MustCompile(`^[A-Za-z0-9._-]{1,100}$`)
	pluginSlugPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+/[A-Za-z0-9._-]+\.php$`)
	themeSlugPattern  = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)
)

// RepositoryConfig is a GitHub repository managed by the updater.
type RepositoryConfig struct {
	ID                 int64     `json:"id"`
	Owner              string    `json:"owner"`
	Repo               string    `json:"repo"`
	Kind               Kind      `json:"kind"`
	Slug               string    `json:"slug"`
	DefaultBranch      string    `json:"default_branch"`
	IsPrivate          bool      `json:"is_private"`
	LatestKnownVersion string    `json:"latest_known_version"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// NewRepositoryConfig validates owner, repo and slug and returns a config.
// An empty slug is replaced by the conventional default for the kind.
func NewRepositoryConfig(owner, repo string, kind Kind, slug string) (*RepositoryConfig, error) {
	owner = strings.TrimSpace(owner)
	repo = strings.TrimSpace(repo)
	slug = strings.TrimSpace(slug)

	if err := ValidateOwner(owner); err != nil {
		return nil, err
	}
	if err := ValidateRepo(repo); err != nil {
		return nil, err
	}
	if kind != KindPlugin && kind != KindTheme {
		return nil, &ValidationError{Field: "kind", Message: fmt.Sprintf("unknown package kind %q", kind)}
	}
	if slug == "" {
		slug = DefaultSlug(kind, repo)
	}
	if err := ValidateSlug(kind, slug); err != nil {
		return nil, err
	}

	return &RepositoryConfig{
		Owner: owner,
		Repo:  repo,
		Kind:  kind,
		Slug:  slug,
	}, nil
}

// ValidateOwner checks a GitHub user or organization name.
func ValidateOwner(owner string) error {
	if !ownerPattern.MatchString(owner) {
		return &ValidationError{Field: "owner", Message: fmt.Sprintf("invalid GitHub owner %q: 1-39 alphanumeric characters or hyphens, not starting or ending with a hyphen", owner)}
	}
	return nil
}

// ValidateRepo checks a GitHub repository name.
func ValidateRepo(repo string) error {
	if repo == "." || repo == ".." || !repoPattern.MatchString(repo) {
		return &ValidationError{Field: "repo", Message: fmt.Sprintf("invalid GitHub repository name %q: use letters, digits, '.', '-' or '_'", repo)}
	}
	return nil
}

// ValidateSlug checks a slug against WordPress conventions: plugins are
// identified by "folder/file.php", themes by their directory name.
func ValidateSlug(kind Kind, slug string) error {
	switch kind {
	case KindPlugin:
		if !pluginSlugPattern.MatchString(slug) || hasDotSegment(slug) {
			return &ValidationError{Field: "slug", Message: fmt.Sprintf("invalid plugin slug %q: expected folder/file.php", slug)}
		}
	case KindTheme:
		if !themeSlugPattern.MatchString(slug) || hasDotSegment(slug) {
			return &ValidationError{Field: "slug", Message: fmt.Sprintf("invalid theme slug %q: expected a directory name", slug)}
		}
	default:
		return &ValidationError{Field: "kind", Message: fmt.Sprintf("unknown package kind %q", kind)}
	}
	return nil
}

func hasDotSegment(slug string) bool {
	for _, part := range strings.Split(slug, "/") {
		if part == "." || part == ".." {
			return true
		}
	}
	return false
}

// DefaultSlug returns the slug WordPress would use for a package built from repo.
func DefaultSlug(kind Kind, repo string) string {
	if kind == KindPlugin {
		return repo + "/" + repo + ".php"
	}
	return repo
}

// DirectoryName is the directory the package must be installed under.
func (c *RepositoryConfig) DirectoryName() string {
	return SlugDirectory(c.Kind, c.Slug)
}

// SlugDirectory returns the installation directory name for a slug.
func SlugDirectory(kind Kind, slug string) string {
	if kind == KindPlugin {
		dir, _ := path.Split(slug)
		return strings.TrimSuffix(dir, "/")
	}
	return slug
}

// FullName returns "owner/repo".
func (c *RepositoryConfig) FullName() string {
	return c.Owner + "/" + c.Repo
}

// Key identifies a repository independent of GitHub's case-insensitivity.
func (c *RepositoryConfig) Key() string {
	return RepositoryKey(c.Owner, c.Repo)
}

// RepositoryKey builds the lock and lookup key for owner/repo.
func RepositoryKey(owner, repo string) string {
	return strings.ToLower(owner + "/" + repo)
}

// ValidationError reports malformed input at the boundary.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
