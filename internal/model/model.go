package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/go-github/v82/github"
)

// BundleType identifies the kind of snapshot artifact produced for a backup.
type BundleType string

const (
	BundleFull        BundleType = "full"
	BundleIncremental BundleType = "incremental"
)

// Repository is the catalog entry for a starred repository.
// Rows are never physically deleted, only flagged via IsDeleted.
type Repository struct {
	ID          int64
	Owner       string
	Name        string
	FullName    string // "owner/name", unique key
	Description string
	HTMLURL     string
	CloneURL    string
	PushedAt    time.Time
	IsDeleted   bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RepositoryFromGitHub builds a catalog entry from a GitHub API repository.
func RepositoryFromGitHub(r *github.Repository) *Repository {
	repo := &Repository{
		Owner:       r.GetOwner().GetLogin(),
		Name:        r.GetName(),
		FullName:    r.GetFullName(),
		Description: r.GetDescription(),
		HTMLURL:     r.GetHTMLURL(),
		CloneURL:    r.GetCloneURL(),
	}

	if pushed := r.GetPushedAt(); !pushed.IsZero() {
		repo.PushedAt = pushed.Time
	}

	return repo
}

// SplitFullName splits "owner/name" into its parts.
func SplitFullName(fullName string) (owner, name string, err error) {
	owner, name, ok := strings.Cut(fullName, "/")
	if !ok || owner == "" || name == "" {
		return "", "", fmt.Errorf("invalid repository name %q, expected owner/name", fullName)
	}

	return owner, name, nil
}

// BackupRecord is one row per successful artifact produced for a repository.
// The most recent record per repository is the sole basis for the next run's
// incremental decision. Append-only.
type BackupRecord struct {
	ID         int64
	RepoID     int64
	BundleName string
	BundleType BundleType
	CommitHash string // the artifact's commit, not necessarily the mirror HEAD
	FileSize   int64
	RemotePath string
	BackupTime time.Time
}

// StarSource records which account starred a repository. Unique per
// (repository, account) pair so provenance survives deduplication.
type StarSource struct {
	ID        int64
	RepoID    int64
	Account   string
	StarredAt time.Time
}

// SkipEntry marks a repository excluded from processing. Created
// automatically on local resource exhaustion, cleared manually.
type SkipEntry struct {
	ID        int64
	FullName  string
	Reason    string
	CreatedAt time.Time
}

// SessionStatus is the persisted state of a backup run.
type SessionStatus string

const (
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
)

// Session is the durable checkpoint for one backup run. At most one row
// has status "running" at a time; the caller holds the process lock.
type Session struct {
	SessionID        string
	TotalRepos       int
	CurrentIndex     int
	LastRepoFullName string
	Status           SessionStatus
	StartedAt        time.Time
	UpdatedAt        time.Time
}
