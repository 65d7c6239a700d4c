package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/kobgit/kob-git-updater/internal/models"
)

// NotifyUpdateAvailable records that a newer version exists for a package,
// replacing any previous notice for the same kind and slug.
func (s *Store) NotifyUpdateAvailable(n models.UpdateNotice) error {
	var publishedAt sql.NullTime
	if !n.PublishedAt.IsZero() {
		publishedAt = sql.NullTime{Time: n.PublishedAt.UTC(), Valid: true}
	}
	query := `
		INSERT INTO available_updates (kind, slug, owner, repo, version, download_url, release_notes, published_at, is_private, notified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(kind, slug) DO UPDATE SET
			owner = excluded.owner,
			repo = excluded.repo,
			version = excluded.version,
			download_url = excluded.download_url,
			release_notes = excluded.release_notes,
			published_at = excluded.published_at,
			is_private = excluded.is_private,
			notified_at = excluded.notified_at;
	`
	_, err := s.db.Exec(query, n.Kind, n.Slug, n.Owner, n.Repo, n.Version, n.DownloadURL,
		n.ReleaseNotes, publishedAt, n.IsPrivate, time.Now().UTC())
	return err
}

// ClearUpdate removes the notice for kind and slug. Clearing a missing
// notice is not an error.
func (s *Store) ClearUpdate(kind models.Kind, slug string) error {
	_, err := s.db.Exec("DELETE FROM available_updates WHERE kind = ? AND slug = ?", kind, slug)
	return err
}

const updateColumns = `kind, slug, owner, repo, version, download_url, release_notes, published_at, is_private, notified_at`

func scanUpdate(row rowScanner) (*models.UpdateNotice, error) {
	var n models.UpdateNotice
	var publishedAt sql.NullTime
	err := row.Scan(&n.Kind, &n.Slug, &n.Owner, &n.Repo, &n.Version, &n.DownloadURL,
		&n.ReleaseNotes, &publishedAt, &n.IsPrivate, &n.NotifiedAt)
	if err != nil {
		return nil, err
	}
	if publishedAt.Valid {
		n.PublishedAt = publishedAt.Time
	}
	return &n, nil
}

// GetUpdate returns the pending notice for kind and slug.
func (s *Store) GetUpdate(kind models.Kind, slug string) (*models.UpdateNotice, error) {
	row := s.db.QueryRow(`SELECT `+updateColumns+` FROM available_updates WHERE kind = ? AND slug = ?`, kind, slug)
	n, err := scanUpdate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return n, err
}

// ListUpdates returns all pending notices, plugins first.
func (s *Store) ListUpdates() ([]*models.UpdateNotice, error) {
	rows, err := s.db.Query(`SELECT ` + updateColumns + ` FROM available_updates ORDER BY kind, slug`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notices []*models.UpdateNotice
	for rows.Next() {
		n, err := scanUpdate(rows)
		if err != nil {
			return nil, err
		}
		notices = append(notices, n)
	}
	return notices, rows.Err()
}
