package devicestatus

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// ErrDeviceIDRequired is returned when a history call has no reader id.
var ErrDeviceIDRequired = errors.New("device id is required")

// SQLiteHistoryRepository implements HistoryRepository on the
// device_status_history table. Each row holds the record as JSON.
type SQLiteHistoryRepository struct {
	db *sql.DB
}

// NewSQLiteHistoryRepository creates a repository over an open database.
func NewSQLiteHistoryRepository(db *sql.DB) *SQLiteHistoryRepository {
	return &SQLiteHistoryRepository{db: db}
}

// RecordChange inserts a history row for rec.
func (r *SQLiteHistoryRepository) RecordChange(ctx context.Context, rec Record) error {
	if rec.DeviceID == "" {
		return ErrDeviceIDRequired
	}

	statusJSON, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshalling device status: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		"INSERT INTO device_status_history (device_id, status) VALUES (?, ?)",
		rec.DeviceID,
		string(statusJSON),
	)
	if err != nil {
		return fmt.Errorf("inserting device status history: %w", err)
	}

	return nil
}

// GetHistory returns recent history entries for a reader, newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - deviceID: Reader identifier
//   - limit: Maximum entries to return (default 50, max 200)
//
// Returns:
//   - []HistoryEntry: Entries ordered by created_at DESC, then id DESC
//   - error: nil on success, otherwise the underlying query error
func (r *SQLiteHistoryRepository) GetHistory(ctx context.Context, deviceID string, limit int) ([]HistoryEntry, error) {
	if deviceID == "" {
		return nil, ErrDeviceIDRequired
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, device_id, status, created_at
		 FROM device_status_history
		 WHERE device_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		deviceID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying device status history: %w", err)
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0, limit)
	for rows.Next() {
		var entry HistoryEntry
		var statusJSON, createdAt string

		if err := rows.Scan(&entry.ID, &entry.DeviceID, &statusJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning device status history: %w", err)
		}
		if err := json.Unmarshal([]byte(statusJSON), &entry.Status); err != nil {
			return nil, fmt.Errorf("unmarshalling device status: %w", err)
		}

		ts, err := parseHistoryTimestamp(createdAt)
		if err != nil {
			return nil, err
		}
		entry.CreatedAt = ts

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device status history: %w", err)
	}

	return entries, nil
}

// PruneHistory deletes entries older than olderThan and returns how many
// rows were removed.
func (r *SQLiteHistoryRepository) PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM device_status_history WHERE created_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting device status history: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

// parseHistoryTimestamp parses a created_at value written by SQLite.
func parseHistoryTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("created_at is empty")
	}

	ts, err := time.Parse(time.RFC3339, value)
	if err == nil {
		return ts, nil
	}
	if ts, fallbackErr := time.Parse("2006-01-02 15:04:05", value); fallbackErr == nil {
		return ts.UTC(), nil
	}

	return time.Time{}, fmt.Errorf("parsing created_at: %w", err)
}
