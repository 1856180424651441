package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/kost-rfid-core/internal/infrastructure/database"
	_ "github.com/nerrad567/kost-rfid-core/migrations"
)

func setupRepo(t *testing.T) *SQLiteRepository {
	t.Helper()

	db, err := database.Open(database.Config{Path: database.MemoryPath, BusyTimeout: 1})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	require.NoError(t, db.Migrate(context.Background()))
	return NewSQLiteRepository(db.DB)
}

func TestCreate_FillsDefaults(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	e := &Entry{Action: ActionCommand, TargetType: TargetDevice, TargetID: "reader-1"}
	require.NoError(t, repo.Create(ctx, e))

	assert.NotEmpty(t, e.ID)
	assert.False(t, e.CreatedAt.IsZero())
	assert.Equal(t, "api", e.Source)
}

func TestCreate_RequiresActionAndTarget(t *testing.T) {
	repo := setupRepo(t)

	assert.Error(t, repo.Create(context.Background(), &Entry{TargetType: TargetDevice}))
	assert.Error(t, repo.Create(context.Background(), &Entry{Action: ActionCommand}))
}

func TestList_RoundTripNewestFirst(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Create(ctx, &Entry{
		Action: ActionCommand, TargetType: TargetDevice, TargetID: "reader-1",
		UserID: "u-1", Role: "admin",
		Details:   map[string]any{"command": "reboot"},
		CreatedAt: base,
	}))
	require.NoError(t, repo.Create(ctx, &Entry{
		Action: ActionCardCreate, TargetType: TargetCard, TargetID: "AB12CD34",
		UserID:    "u-2",
		CreatedAt: base.Add(1500 * time.Millisecond),
	}))

	page, err := repo.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, page.Entries, 2)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, defaultLimit, page.Limit)

	assert.Equal(t, ActionCardCreate, page.Entries[0].Action)
	first := page.Entries[1]
	assert.Equal(t, "reader-1", first.TargetID)
	assert.Equal(t, "admin", first.Role)
	assert.Equal(t, "reboot", first.Details["command"])
	assert.True(t, first.CreatedAt.Equal(base))
	assert.Empty(t, page.Entries[0].Role)
}

func TestList_Filters(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	for _, e := range []*Entry{
		{Action: ActionCommand, TargetType: TargetDevice, TargetID: "reader-1", UserID: "u-1"},
		{Action: ActionCommand, TargetType: TargetDevice, TargetID: "reader-2", UserID: "u-1"},
		{Action: ActionPublish, TargetType: TargetTopic, TargetID: "rfid/command", UserID: "u-2"},
	} {
		require.NoError(t, repo.Create(ctx, e))
	}

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"action", Filter{Action: ActionCommand}, 2},
		{"target", Filter{TargetType: TargetDevice, TargetID: "reader-2"}, 1},
		{"user", Filter{UserID: "u-2"}, 1},
		{"no match", Filter{Action: ActionConnect}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := repo.List(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, page.Total)
			assert.Len(t, page.Entries, tt.want)
			assert.NotNil(t, page.Entries)
		})
	}
}

func TestList_Pagination(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i := range 5 {
		require.NoError(t, repo.Create(ctx, &Entry{
			Action: ActionScanStart, TargetType: TargetScan,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	page, err := repo.List(ctx, Filter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	require.Len(t, page.Entries, 2)
	assert.True(t, page.Entries[0].CreatedAt.After(page.Entries[1].CreatedAt))

	page, err = repo.List(ctx, Filter{Limit: 1000, Offset: -3})
	require.NoError(t, err)
	assert.Equal(t, maxLimit, page.Limit)
	assert.Equal(t, 0, page.Offset)
}
