// Package store defines the persistence interface for the repository
// catalog, backup history, skip list, and session checkpoints.
package store

import (
	"github.com/inovacc/starkeep/internal/model"
)

// Store defines the database operations used by the engine.
type Store interface {
	Ping() error
	Close() error

	// Repository catalog. Rows are upserted on every observation and
	// never physically deleted.
	UpsertRepository(repo *model.Repository) (int64, error)
	GetRepositoryByFullName(fullName string) (*model.Repository, error)
	MarkRepositoryDeleted(fullName string) error
	ListRepositories() ([]*model.Repository, error)

	// Star provenance, unique per (repository, account).
	AddStarSource(repoID int64, account string) error
	ListStarSources(repoID int64) ([]string, error)

	// Backup history, append-only. LatestBackup drives the next run's
	// incremental decision.
	SaveBackupRecord(rec *model.BackupRecord) (int64, error)
	LatestBackup(repoID int64) (*model.BackupRecord, error)
	BackupHistory(repoID int64, limit int) ([]*model.BackupRecord, error)

	// Adaptive skip list.
	AddSkipEntry(fullName, reason string) error
	ListSkipEntries() ([]*model.SkipEntry, error)
	RemoveSkipEntry(fullName string) error
	ClearSkipEntries() error

	// Session checkpoints.
	SaveSession(s *model.Session) error
	LatestRunningSession() (*model.Session, error)
	CompleteSession(sessionID string) error
}

// Open returns a Store backed by the build-selected implementation.
func Open(path string) (Store, error) {
	return openStore(path)
}
