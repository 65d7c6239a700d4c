package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kobgit/kob-git-updater/internal/models"
)

const repositoryColumns = `id, owner, repo, kind, slug, default_branch, is_private, latest_known_version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRepository(row rowScanner) (*models.RepositoryConfig, error) {
	var r models.RepositoryConfig
	err := row.Scan(&r.ID, &r.Owner, &r.Repo, &r.Kind, &r.Slug, &r.DefaultBranch,
		&r.IsPrivate, &r.LatestKnownVersion, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// PersistRepository inserts cfg or, when (owner, repo) already exists,
// overwrites the stored row. ID and timestamps are filled in on cfg. Two
// repositories of one kind may not share an install directory.
func (s *Store) PersistRepository(cfg *models.RepositoryConfig) error {
	now := time.Now().UTC()
	query := `
		INSERT INTO repositories (owner, repo, kind, slug, directory, default_branch, is_private, latest_known_version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner, repo) DO UPDATE SET
			kind = excluded.kind,
			slug = excluded.slug,
			directory = excluded.directory,
			default_branch = excluded.default_branch,
			is_private = excluded.is_private,
			latest_known_version = excluded.latest_known_version,
			updated_at = excluded.updated_at
		RETURNING id
	`
	err := s.db.QueryRow(query, cfg.Owner, cfg.Repo, cfg.Kind, cfg.Slug, cfg.DirectoryName(), cfg.DefaultBranch,
		cfg.IsPrivate, cfg.LatestKnownVersion, now, now).Scan(&cfg.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s %q (directory %q): %w", cfg.Kind, cfg.Slug, cfg.DirectoryName(), ErrSlugTaken)
		}
		return fmt.Errorf("failed to persist repository %s: %w", cfg.FullName(), err)
	}
	if err := s.db.QueryRow("SELECT created_at FROM repositories WHERE id = ?", cfg.ID).Scan(&cfg.CreatedAt); err != nil {
		return err
	}
	cfg.UpdatedAt = now
	return nil
}

// LoadRepositories returns every registered repository ordered by owner and
// name.
func (s *Store) LoadRepositories() ([]*models.RepositoryConfig, error) {
	rows, err := s.db.Query(`SELECT ` + repositoryColumns + ` FROM repositories ORDER BY owner, repo`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var repos []*models.RepositoryConfig
	for rows.Next() {
		r, err := scanRepository(rows)
		if err != nil {
			return nil, err
		}
		repos = append(repos, r)
	}
	return repos, rows.Err()
}

// GetRepository looks up a repository by owner and name, ignoring case.
func (s *Store) GetRepository(owner, repo string) (*models.RepositoryConfig, error) {
	row := s.db.QueryRow(`SELECT `+repositoryColumns+` FROM repositories WHERE owner = ? AND repo = ?`, owner, repo)
	r, err := scanRepository(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

// DeleteRepository removes a repository and any pending notice for its
// slug.
func (s *Store) DeleteRepository(owner, repo string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var kind models.Kind
	var slug string
	err = tx.QueryRow("DELETE FROM repositories WHERE owner = ? AND repo = ? RETURNING kind, slug", owner, repo).Scan(&kind, &slug)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete repository: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM available_updates WHERE kind = ? AND slug = ?", kind, slug); err != nil {
		return fmt.Errorf("failed to delete pending update: %w", err)
	}
	return tx.Commit()
}

// UpdateLatestKnownVersion records the version installed by the last
// successful install.
func (s *Store) UpdateLatestKnownVersion(owner, repo, version string) error {
	res, err := s.db.Exec("UPDATE repositories SET latest_known_version = ?, updated_at = ? WHERE owner = ? AND repo = ?",
		version, time.Now().UTC(), owner, repo)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
