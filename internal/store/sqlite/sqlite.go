package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/inovacc/starkeep/internal/model"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// timeLayout is the canonical column format. All times are stored UTC so
// comparisons never mix zones.
const timeLayout = time.RFC3339

// Store implements the store.Store interface using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// New creates a new SQLite store with the given database path.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite doesn't handle multiple writers well
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	migrator := NewMigrator(db)
	if err := migrator.MigrateUp(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks if the database is accessible.
func (s *Store) Ping() error {
	return s.db.Ping()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatNullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}

	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}

	return t
}

// ============================================================================
// Repository catalog
// ============================================================================

// UpsertRepository inserts or refreshes a repository row keyed by full
// name and returns its id. The is_deleted flag follows the given value,
// so re-observing a repository clears a previous deletion mark.
func (s *Store) UpsertRepository(repo *model.Repository) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := formatTime(time.Now())

	_, err := s.db.Exec(`
		INSERT INTO repositories
			(owner, name, full_name, description, html_url, clone_url, pushed_at, is_deleted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(full_name) DO UPDATE SET
			description = excluded.description,
			html_url = excluded.html_url,
			clone_url = excluded.clone_url,
			pushed_at = excluded.pushed_at,
			is_deleted = excluded.is_deleted,
			updated_at = excluded.updated_at
	`,
		repo.Owner, repo.Name, repo.FullName, repo.Description, repo.HTMLURL, repo.CloneURL,
		formatNullableTime(repo.PushedAt), boolToInt(repo.IsDeleted), now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("upserting repository %s: %w", repo.FullName, err)
	}

	// LastInsertId is unreliable for the conflict branch, look the row up.
	var id int64
	if err := s.db.QueryRow(`SELECT id FROM repositories WHERE full_name = ?`, repo.FullName).Scan(&id); err != nil {
		return 0, fmt.Errorf("resolving repository id for %s: %w", repo.FullName, err)
	}

	repo.ID = id

	return id, nil
}

// GetRepositoryByFullName returns a catalog row, or nil when unknown.
func (s *Store) GetRepositoryByFullName(fullName string) (*model.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`
		SELECT id, owner, name, full_name, description, html_url, clone_url,
		       COALESCE(pushed_at, ''), is_deleted, created_at, updated_at
		FROM repositories WHERE full_name = ?
	`, fullName)

	repo, err := scanRepository(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	return repo, err
}

// MarkRepositoryDeleted flags a repository without removing its history.
func (s *Store) MarkRepositoryDeleted(fullName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE repositories SET is_deleted = 1, updated_at = ? WHERE full_name = ?
	`, formatTime(time.Now()), fullName)
	if err != nil {
		return fmt.Errorf("marking %s deleted: %w", fullName, err)
	}

	return nil
}

// ListRepositories returns the whole catalog ordered by full name.
func (s *Store) ListRepositories() ([]*model.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT id, owner, name, full_name, description, html_url, clone_url,
		       COALESCE(pushed_at, ''), is_deleted, created_at, updated_at
		FROM repositories ORDER BY full_name
	`)
	if err != nil {
		return nil, fmt.Errorf("listing repositories: %w", err)
	}
	defer rows.Close()

	var repos []*model.Repository

	for rows.Next() {
		repo, err := scanRepository(rows)
		if err != nil {
			return nil, err
		}
		repos = append(repos, repo)
	}

	return repos, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRepository(row rowScanner) (*model.Repository, error) {
	var (
		repo      model.Repository
		pushedAt  string
		isDeleted int64
		createdAt string
		updatedAt string
	)

	err := row.Scan(&repo.ID, &repo.Owner, &repo.Name, &repo.FullName, &repo.Description,
		&repo.HTMLURL, &repo.CloneURL, &pushedAt, &isDeleted, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	repo.PushedAt = parseTime(pushedAt)
	repo.IsDeleted = isDeleted == 1
	repo.CreatedAt = parseTime(createdAt)
	repo.UpdatedAt = parseTime(updatedAt)

	return &repo, nil
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// ============================================================================
// Star provenance
// ============================================================================

// AddStarSource records an account as an origin of a repository. Existing
// pairs are left untouched.
func (s *Store) AddStarSource(repoID int64, account string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO star_sources (repo_id, account, starred_at)
		VALUES (?, ?, ?)
	`, repoID, account, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("adding star source: %w", err)
	}

	return nil
}

// ListStarSources returns the accounts that starred a repository.
func (s *Store) ListStarSources(repoID int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT account FROM star_sources WHERE repo_id = ? ORDER BY account
	`, repoID)
	if err != nil {
		return nil, fmt.Errorf("listing star sources: %w", err)
	}
	defer rows.Close()

	var accounts []string

	for rows.Next() {
		var account string
		if err := rows.Scan(&account); err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}

	return accounts, rows.Err()
}

// ============================================================================
// Backup history
// ============================================================================

// SaveBackupRecord appends one successful artifact row.
func (s *Store) SaveBackupRecord(rec *model.BackupRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.BackupTime.IsZero() {
		rec.BackupTime = time.Now()
	}

	res, err := s.db.Exec(`
		INSERT INTO backup_records
			(repo_id, bundle_name, bundle_type, commit_hash, file_size, remote_path, backup_time)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.RepoID, rec.BundleName, string(rec.BundleType), rec.CommitHash,
		rec.FileSize, rec.RemotePath, formatTime(rec.BackupTime))
	if err != nil {
		return 0, fmt.Errorf("saving backup record: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	rec.ID = id

	return id, nil
}

// LatestBackup returns the most recent record for a repository, or nil.
func (s *Store) LatestBackup(repoID int64) (*model.BackupRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`
		SELECT id, repo_id, bundle_name, bundle_type, commit_hash, file_size, remote_path, backup_time
		FROM backup_records WHERE repo_id = ?
		ORDER BY backup_time DESC, id DESC LIMIT 1
	`, repoID)

	rec, err := scanBackupRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	return rec, err
}

// BackupHistory returns up to limit records, newest first.
func (s *Store) BackupHistory(repoID int64, limit int) ([]*model.BackupRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT id, repo_id, bundle_name, bundle_type, commit_hash, file_size, remote_path, backup_time
		FROM backup_records WHERE repo_id = ?
		ORDER BY backup_time DESC, id DESC LIMIT ?
	`, repoID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing backup history: %w", err)
	}
	defer rows.Close()

	var records []*model.BackupRecord

	for rows.Next() {
		rec, err := scanBackupRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

func scanBackupRecord(row rowScanner) (*model.BackupRecord, error) {
	var (
		rec        model.BackupRecord
		bundleType string
		backupTime string
	)

	err := row.Scan(&rec.ID, &rec.RepoID, &rec.BundleName, &bundleType,
		&rec.CommitHash, &rec.FileSize, &rec.RemotePath, &backupTime)
	if err != nil {
		return nil, err
	}

	rec.BundleType = model.BundleType(bundleType)
	rec.BackupTime = parseTime(backupTime)

	return &rec, nil
}

// ============================================================================
// Skip list
// ============================================================================

// AddSkipEntry records a repository to exclude from future runs. The
// first reason wins; re-adding an existing entry is a no-op.
func (s *Store) AddSkipEntry(fullName, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO skipped_repos (full_name, reason, created_at)
		VALUES (?, ?, ?)
	`, fullName, reason, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("adding skip entry: %w", err)
	}

	return nil
}

// ListSkipEntries returns the persisted skip list.
func (s *Store) ListSkipEntries() ([]*model.SkipEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT id, full_name, reason, created_at FROM skipped_repos ORDER BY full_name
	`)
	if err != nil {
		return nil, fmt.Errorf("listing skip entries: %w", err)
	}
	defer rows.Close()

	var entries []*model.SkipEntry

	for rows.Next() {
		var (
			entry     model.SkipEntry
			createdAt string
		)

		if err := rows.Scan(&entry.ID, &entry.FullName, &entry.Reason, &createdAt); err != nil {
			return nil, err
		}

		entry.CreatedAt = parseTime(createdAt)
		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}

// RemoveSkipEntry clears one entry.
func (s *Store) RemoveSkipEntry(fullName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM skipped_repos WHERE full_name = ?`, fullName)
	if err != nil {
		return fmt.Errorf("removing skip entry: %w", err)
	}

	return nil
}

// ClearSkipEntries empties the skip list.
func (s *Store) ClearSkipEntries() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM skipped_repos`)
	if err != nil {
		return fmt.Errorf("clearing skip entries: %w", err)
	}

	return nil
}

// ============================================================================
// Session checkpoints
// ============================================================================

// SaveSession upserts a session checkpoint keyed by session id.
func (s *Store) SaveSession(session *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := formatTime(time.Now())

	if session.StartedAt.IsZero() {
		session.StartedAt = time.Now()
	}

	_, err := s.db.Exec(`
		INSERT INTO backup_progress
			(session_id, total_repos, current_index, last_repo_full_name, status, started_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			total_repos = excluded.total_repos,
			current_index = excluded.current_index,
			last_repo_full_name = excluded.last_repo_full_name,
			status = excluded.status,
			updated_at = excluded.updated_at
	`, session.SessionID, session.TotalRepos, session.CurrentIndex,
		session.LastRepoFullName, string(session.Status), formatTime(session.StartedAt), now)
	if err != nil {
		return fmt.Errorf("saving session %s: %w", session.SessionID, err)
	}

	return nil
}

// LatestRunningSession returns the most recently updated running session,
// or nil when every prior run completed.
func (s *Store) LatestRunningSession() (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`
		SELECT session_id, total_repos, current_index, last_repo_full_name, status, started_at, updated_at
		FROM backup_progress WHERE status = ?
		ORDER BY updated_at DESC LIMIT 1
	`, string(model.SessionRunning))

	var (
		session   model.Session
		status    string
		startedAt string
		updatedAt string
	)

	err := row.Scan(&session.SessionID, &session.TotalRepos, &session.CurrentIndex,
		&session.LastRepoFullName, &status, &startedAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading running session: %w", err)
	}

	session.Status = model.SessionStatus(status)
	session.StartedAt = parseTime(startedAt)
	session.UpdatedAt = parseTime(updatedAt)

	return &session, nil
}

// CompleteSession marks a session finished. Completed sessions are never
// resumed.
func (s *Store) CompleteSession(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE backup_progress SET status = ?, updated_at = ? WHERE session_id = ?
	`, string(model.SessionCompleted), formatTime(time.Now()), sessionID)
	if err != nil {
		return fmt.Errorf("completing session %s: %w", sessionID, err)
	}

	return nil
}
