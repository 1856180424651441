package devicestatus

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/kost-rfid-core/internal/infrastructure/database"
	_ "github.com/nerrad567/kost-rfid-core/migrations"
)

func setupHistoryDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(database.Config{Path: database.MemoryPath, BusyTimeout: 1})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	require.NoError(t, db.Migrate(context.Background()))
	return db.DB
}

func insertHistoryRow(t *testing.T, db *sql.DB, deviceID string, createdAt time.Time) {
	t.Helper()
	_, err := db.Exec(
		"INSERT INTO device_status_history (device_id, status, created_at) VALUES (?, ?, ?)",
		deviceID,
		`{"device_id":"`+deviceID+`"}`,
		createdAt.UTC().Format(time.RFC3339),
	)
	require.NoError(t, err)
}

func TestRecordChange(t *testing.T) {
	repo := NewSQLiteHistoryRepository(setupHistoryDB(t))
	ctx := context.Background()

	ip := "10.0.0.9"
	rec := Record{DeviceID: "GATE-2", RFIDReady: true, IPAddress: &ip}
	require.NoError(t, repo.RecordChange(ctx, rec))

	entries, err := repo.GetHistory(ctx, "GATE-2", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	got := entries[0]
	assert.Equal(t, "GATE-2", got.DeviceID)
	assert.True(t, got.Status.RFIDReady)
	require.NotNil(t, got.Status.IPAddress)
	assert.Equal(t, ip, *got.Status.IPAddress)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestRecordChange_RequiresDeviceID(t *testing.T) {
	repo := NewSQLiteHistoryRepository(setupHistoryDB(t))
	err := repo.RecordChange(context.Background(), Record{})
	assert.True(t, errors.Is(err, ErrDeviceIDRequired))

	_, err = repo.GetHistory(context.Background(), "", 10)
	assert.True(t, errors.Is(err, ErrDeviceIDRequired))
}

func TestGetHistory_NewestFirst(t *testing.T) {
	db := setupHistoryDB(t)
	repo := NewSQLiteHistoryRepository(db)
	base := time.Now().UTC().Add(-time.Hour)

	insertHistoryRow(t, db, "GATE-2", base)
	insertHistoryRow(t, db, "GATE-2", base.Add(2*time.Minute))
	insertHistoryRow(t, db, "GATE-2", base.Add(time.Minute))
	insertHistoryRow(t, db, "OTHER", base)

	entries, err := repo.GetHistory(context.Background(), "GATE-2", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, entries[0].CreatedAt.After(entries[1].CreatedAt))
	assert.Equal(t, base.Add(2*time.Minute).Truncate(time.Second), entries[0].CreatedAt)
}

func TestPruneHistory(t *testing.T) {
	db := setupHistoryDB(t)
	repo := NewSQLiteHistoryRepository(db)
	now := time.Now().UTC()

	insertHistoryRow(t, db, "GATE-2", now.Add(-48*time.Hour))
	insertHistoryRow(t, db, "GATE-2", now.Add(-time.Minute))

	n, err := repo.PruneHistory(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = repo.PruneHistory(context.Background(), 0)
	assert.Error(t, err)
}

func TestHistorySink_SkipsUnchanged(t *testing.T) {
	repo := NewSQLiteHistoryRepository(setupHistoryDB(t))
	c, clock := newTestCache()
	c.AddSink(NewHistorySink(repo, nil))

	for _, p := range []string{
		`{"device_id":"GATE-2","rfid_ready":true}`,
		`{"device_id":"GATE-2","rfid_ready":true}`,
		`{"device_id":"GATE-2","rfid_ready":false}`,
	} {
		clock.Advance(time.Second)
		_, err := c.Ingest([]byte(p))
		require.NoError(t, err)
	}

	entries, err := repo.GetHistory(context.Background(), "GATE-2", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.False(t, entries[0].Status.RFIDReady)
	assert.True(t, entries[1].Status.RFIDReady)
}

func TestParseHistoryTimestamp(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"2026-03-01T09:00:00Z", false},
		{"2026-03-01 09:00:00", false},
		{"", true},
		{"yesterday", true},
	}
	for _, tt := range tests {
		_, err := parseHistoryTimestamp(tt.in)
		assert.Equal(t, tt.wantErr, err != nil, tt.in)
	}
}
