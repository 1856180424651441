package migrations

import (
	"context"
	"testing"

	"github.com/nerrad567/kost-rfid-core/internal/infrastructure/database"
)

func TestEmbeddedMigrationsApply(t *testing.T) {
	db, err := database.Open(database.Config{Path: database.MemoryPath, BusyTimeout: 1})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx := context.Background()
	applied, err := db.MigrateUp(ctx)
	if err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}
	if len(applied) != 3 {
		t.Errorf("applied %d migrations, want 3", len(applied))
	}

	for _, table := range []string{"cards", "device_status_history", "audit_log"} {
		var name string
		err := db.QueryRowContext(ctx,
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %s not created: %v", table, err)
		}
	}

	status, err := db.MigrationStatus(ctx)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(status.Pending) != 0 || status.Current() != "20260303_090000" {
		t.Errorf("status: %d pending, current %q", len(status.Pending), status.Current())
	}
}

func TestEmbeddedMigrationsRollBack(t *testing.T) {
	db, err := database.Open(database.Config{Path: database.MemoryPath, BusyTimeout: 1})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	rolled, err := db.MigrateDown(ctx, 3)
	if err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	if len(rolled) != 3 {
		t.Errorf("rolled back %d, want 3", len(rolled))
	}

	var n int
	err = db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name IN ('cards', 'device_status_history', 'audit_log')",
	).Scan(&n)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("%d tables left after full rollback", n)
	}
}
