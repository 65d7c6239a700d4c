package models

import "time"

// Source tells where a resolved version came from.
type Source string

const (
	SourceRelease Source = "release"
	SourceBranch  Source = "branch"
)

// BranchVersionPrefix marks synthetic versions built from a branch name.
const BranchVersionPrefix = "dev-"

// ResolvedUpdate is the newest artifact a repository currently offers.
type ResolvedUpdate struct {
	Version      string    `json:"version"`
	DownloadURL  string    `json:"download_url"`
	ReleaseNotes string    `json:"release_notes,omitempty"`
	PublishedAt  time.Time `json:"published_at,omitempty"`
	Source       Source    `json:"source"`
	Ref          string    `json:"ref"`
}

// UpdateNotice is pushed into the host's update registry when a newer
// version is available.
type UpdateNotice struct {
	Kind         Kind      `json:"kind"`
	Slug         string    `json:"slug"`
	Owner        string    `json:"owner"`
	Repo         string    `json:"repo"`
	Version      string    `json:"version"`
	DownloadURL  string    `json:"download_url"`
	ReleaseNotes string    `json:"release_notes,omitempty"`
	PublishedAt  time.Time `json:"published_at,omitempty"`
	IsPrivate    bool      `json:"is_private"`
	NotifiedAt   time.Time `json:"notified_at"`
}
