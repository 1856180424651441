package database

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"slices"
	"sync"
	"time"
)

// ErrNoDownSQL is returned when a rollback reaches a migration without a
// .down.sql file.
var ErrNoDownSQL = errors.New("migration has no down SQL")

// migrationFile matches YYYYMMDD_HHMMSS_name.up.sql and .down.sql.
var migrationFile = regexp.MustCompile(`^(\d{8}_\d{6})_([a-z0-9_]+)\.(up|down)\.sql$`)

// Migration is one schema change, loaded from a pair of SQL files.
type Migration struct {
	// Version is the YYYYMMDD_HHMMSS filename prefix; versions sort in
	// apply order.
	Version string
	Name    string
	UpSQL   string
	DownSQL string
}

// MigrationRecord is a row of schema_migrations.
type MigrationRecord struct {
	Version   string
	AppliedAt time.Time
}

// MigrationStatus compares the registered migrations with the database.
type MigrationStatus struct {
	Applied []MigrationRecord
	Pending []Migration

	// Unknown lists applied versions that no registered migration
	// provides, typically a database written by a newer binary.
	Unknown []string
}

// Current returns the newest applied version, or "" on an empty schema.
func (s MigrationStatus) Current() string {
	if len(s.Applied) == 0 {
		return ""
	}
	return s.Applied[len(s.Applied)-1].Version
}

var (
	sourceMu  sync.RWMutex
	sourceFS  fs.FS
	sourceDir string
)

// RegisterMigrations sets where Migrate reads SQL files from. The
// migrations package calls it from init with its embedded files.
func RegisterMigrations(fsys fs.FS, dir string) {
	sourceMu.Lock()
	defer sourceMu.Unlock()
	sourceFS = fsys
	sourceDir = dir
}

// Migrate applies every pending migration. See MigrateUp.
func (db *DB) Migrate(ctx context.Context) error {
	_, err := db.MigrateUp(ctx)
	return err
}

// MigrateUp applies pending migrations oldest first and returns the ones
// it applied.
//
// Each migration commits in its own transaction. When one fails, those
// before it stay applied and the next call resumes from the failed one.
func (db *DB) MigrateUp(ctx context.Context) ([]Migration, error) {
	status, err := db.MigrationStatus(ctx)
	if err != nil {
		return nil, err
	}

	applied := make([]Migration, 0, len(status.Pending))
	for _, m := range status.Pending {
		err := db.inTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
				m.Version, time.Now().UTC().Format(time.RFC3339),
			)
			return err
		})
		if err != nil {
			return applied, fmt.Errorf("applying migration %s_%s: %w", m.Version, m.Name, err)
		}
		applied = append(applied, m)
	}
	return applied, nil
}

// MigrateDown rolls back the newest steps migrations, newest first, and
// returns the ones it rolled back. steps below 1 rolls back one.
//
// Rolling back stops at the first applied version that has no down SQL
// (ErrNoDownSQL) or no registered migration.
func (db *DB) MigrateDown(ctx context.Context, steps int) ([]Migration, error) {
	if steps < 1 {
		steps = 1
	}

	if err := db.createMigrationsTable(ctx); err != nil {
		return nil, err
	}
	records, err := db.appliedMigrations(ctx)
	if err != nil {
		return nil, err
	}
	known, err := loadMigrations()
	if err != nil {
		return nil, err
	}
	byVersion := make(map[string]Migration, len(known))
	for _, m := range known {
		byVersion[m.Version] = m
	}

	var rolledBack []Migration
	for i := len(records) - 1; i >= 0 && len(rolledBack) < steps; i-- {
		version := records[i].Version
		m, ok := byVersion[version]
		if !ok {
			return rolledBack, fmt.Errorf("migration %s is applied but not registered", version)
		}
		if m.DownSQL == "" {
			return rolledBack, fmt.Errorf("rolling back %s_%s: %w", m.Version, m.Name, ErrNoDownSQL)
		}

		err := db.inTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.DownSQL); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = ?", m.Version)
			return err
		})
		if err != nil {
			return rolledBack, fmt.Errorf("rolling back %s_%s: %w", m.Version, m.Name, err)
		}
		rolledBack = append(rolledBack, m)
	}
	return rolledBack, nil
}

// MigrationStatus reports applied, pending and unknown migrations. It
// creates schema_migrations when missing.
func (db *DB) MigrationStatus(ctx context.Context) (MigrationStatus, error) {
	if err := db.createMigrationsTable(ctx); err != nil {
		return MigrationStatus{}, err
	}
	records, err := db.appliedMigrations(ctx)
	if err != nil {
		return MigrationStatus{}, err
	}
	known, err := loadMigrations()
	if err != nil {
		return MigrationStatus{}, err
	}

	status := MigrationStatus{Applied: records}
	done := make(map[string]bool, len(records))
	for _, r := range records {
		done[r.Version] = true
	}
	registered := make(map[string]bool, len(known))
	for _, m := range known {
		registered[m.Version] = true
		if !done[m.Version] {
			status.Pending = append(status.Pending, m)
		}
	}
	for _, r := range records {
		if !registered[r.Version] {
			status.Unknown = append(status.Unknown, r.Version)
		}
	}
	return status, nil
}

func (db *DB) createMigrationsTable(ctx context.Context) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations: %w", err)
	}
	return nil
}

func (db *DB) appliedMigrations(ctx context.Context) ([]MigrationRecord, error) {
	rows, err := db.DB.QueryContext(ctx, "SELECT version, applied_at FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("querying schema_migrations: %w", err)
	}
	defer rows.Close()

	var records []MigrationRecord
	for rows.Next() {
		var (
			r         MigrationRecord
			appliedAt string
		)
		if err := rows.Scan(&r.Version, &appliedAt); err != nil {
			return nil, fmt.Errorf("scanning schema_migrations: %w", err)
		}
		r.AppliedAt, _ = time.Parse(time.RFC3339, appliedAt) //nolint:errcheck // Written by MigrateUp
		records = append(records, r)
	}
	return records, rows.Err()
}

// inTx runs fn in a transaction, committing when it returns nil.
func (db *DB) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// loadMigrations reads the registered SQL files sorted by version. No
// registered source means no migrations.
func loadMigrations() ([]Migration, error) {
	sourceMu.RLock()
	fsys, dir := sourceFS, sourceDir
	sourceMu.RUnlock()
	if fsys == nil {
		return nil, nil
	}

	names, err := fs.Glob(fsys, path.Join(dir, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("listing migrations: %w", err)
	}

	byVersion := make(map[string]*Migration)
	downs := make(map[string]string)
	for _, name := range names {
		base := path.Base(name)
		parts := migrationFile.FindStringSubmatch(base)
		if parts == nil {
			return nil, fmt.Errorf("invalid migration filename %q", base)
		}
		version, label, direction := parts[1], parts[2], parts[3]

		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", base, err)
		}

		if direction == "down" {
			downs[version] = string(body)
			continue
		}
		if prev, dup := byVersion[version]; dup {
			return nil, fmt.Errorf("migration version %s used by %q and %q", version, prev.Name, label)
		}
		byVersion[version] = &Migration{Version: version, Name: label, UpSQL: string(body)}
	}

	migrations := make([]Migration, 0, len(byVersion))
	for version, down := range downs {
		if _, ok := byVersion[version]; !ok {
			return nil, fmt.Errorf("migration %s has a down file but no up file", version)
		}
		byVersion[version].DownSQL = down
	}
	for _, m := range byVersion {
		migrations = append(migrations, *m)
	}
	slices.SortFunc(migrations, func(a, b Migration) int { return cmp.Compare(a.Version, b.Version) })
	return migrations, nil
}
