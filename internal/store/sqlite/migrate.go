// Package sqlite provides SQLite-backed persistence for starkeep.
package sqlite

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migration represents a database migration.
type Migration struct {
	Version     int
	Description string
	UpSQL       string
	DownSQL     string
}

// MigrationRecord represents a record in the schema_migrations table.
type MigrationRecord struct {
	Version     int
	AppliedAt   time.Time
	Description string
}

// Migrator handles database migrations.
type Migrator struct {
	db *sql.DB
}

// NewMigrator creates a new migration handler.
func NewMigrator(db *sql.DB) *Migrator {
	return &Migrator{db: db}
}

// LoadMigrations loads all migrations from the embedded filesystem.
func (m *Migrator) LoadMigrations() ([]Migration, error) {
	migrations := make(map[int]*Migration)

	err := fs.WalkDir(migrationsFS, "migrations", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return nil
		}

		filename := filepath.Base(path)
		if !strings.HasSuffix(filename, ".sql") {
			return nil
		}

		// Parse filename: 001_description.up.sql or 001_description.down.sql
		re := regexp.MustCompile(`^(\d+)_(.+)\.(up|down)\.sql$`)

		matches := re.FindStringSubmatch(filename)
		if len(matches) != 4 {
			return nil
		}

		version, _ := strconv.Atoi(matches[1])
		description := strings.ReplaceAll(matches[2], "_", " ")
		direction := matches[3]

		content, err := migrationsFS.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", path, err)
		}

		if _, ok := migrations[version]; !ok {
			migrations[version] = &Migration{
				Version:     version,
				Description: description,
			}
		}

		if direction == "up" {
			migrations[version].UpSQL = string(content)
		} else {
			migrations[version].DownSQL = string(content)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking migrations: %w", err)
	}

	var result []Migration
	for _, mig := range migrations {
		result = append(result, *mig)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Version < result[j].Version
	})

	return result, nil
}

// CurrentVersion returns the current schema version.
func (m *Migrator) CurrentVersion() (int, error) {
	var tableName string

	err := m.db.QueryRow(`
		SELECT name FROM sqlite_master
		WHERE type='table' AND name='schema_migrations'
	`).Scan(&tableName)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}

	if err != nil {
		return 0, fmt.Errorf("checking schema_migrations table: %w", err)
	}

	var version int

	err = m.db.QueryRow(`
		SELECT COALESCE(MAX(version), 0) FROM schema_migrations
	`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("getting current version: %w", err)
	}

	return version, nil
}

// MigrateUp applies all pending migrations.
func (m *Migrator) MigrateUp() error {
	migrations, err := m.LoadMigrations()
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}

	currentVersion, err := m.CurrentVersion()
	if err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	for _, mig := range migrations {
		if mig.Version <= currentVersion {
			continue
		}

		if mig.UpSQL == "" {
			return fmt.Errorf("migration %d has no up SQL", mig.Version)
		}

		if err := m.runMigration(mig.UpSQL); err != nil {
			return fmt.Errorf("applying migration %d (%s): %w", mig.Version, mig.Description, err)
		}
	}

	return nil
}

// MigrateDown rolls back the last migration.
func (m *Migrator) MigrateDown() error {
	migrations, err := m.LoadMigrations()
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}

	currentVersion, err := m.CurrentVersion()
	if err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	if currentVersion == 0 {
		return fmt.Errorf("no migrations to rollback")
	}

	var currentMigration *Migration

	for i := range migrations {
		if migrations[i].Version == currentVersion {
			currentMigration = &migrations[i]
			break
		}
	}

	if currentMigration == nil {
		return fmt.Errorf("migration %d not found", currentVersion)
	}

	if currentMigration.DownSQL == "" {
		return fmt.Errorf("migration %d has no down SQL", currentVersion)
	}

	if err := m.runMigration(currentMigration.DownSQL); err != nil {
		return fmt.Errorf("rolling back migration %d (%s): %w",
			currentVersion, currentMigration.Description, err)
	}

	return nil
}

// runMigration executes a migration SQL script in one transaction.
func (m *Migrator) runMigration(sqlScript string) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.Exec(sqlScript); err != nil {
		return fmt.Errorf("executing migration: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}
