package database

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/kost-rfid-core/internal/infrastructure/config"
)

const cardsTable = `CREATE TABLE cards (
	uid     TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	status  TEXT NOT NULL DEFAULT 'active'
)`

// openTestDB opens a WAL database under t.TempDir and closes it on cleanup.
func openTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(Config{
		Path:        filepath.Join(t.TempDir(), "kost", "rfid.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	return db
}

func countCards(t *testing.T, db *DB, uid string) int {
	t.Helper()
	var n int
	err := db.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM cards WHERE uid = ?", uid).Scan(&n)
	if err != nil {
		t.Fatalf("counting cards: %v", err)
	}
	return n
}

func TestOpen_CreatesNestedDirectoryAndFile(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "var", "lib", "kost", "rfid.db")

	db, err := Open(Config{Path: dbPath, WALMode: true, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // Test cleanup

	if db.Path() != dbPath {
		t.Errorf("Path() = %q, want %q", db.Path(), dbPath)
	}

	// sqlite creates the file lazily; force a write.
	if _, err := db.ExecContext(context.Background(), cardsTable); err != nil {
		t.Fatalf("create cards: %v", err)
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("database file missing: %v", err)
	}
	info, err := os.Stat(filepath.Dir(dbPath))
	if err != nil || !info.IsDir() {
		t.Errorf("database directory missing: %v", err)
	}
}

func TestOpen_Invalid(t *testing.T) {
	if _, err := Open(Config{}); err == nil {
		t.Error("Open() with empty path: want error")
	}

	// The parent "directory" is a regular file.
	file := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(file, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(Config{Path: filepath.Join(file, "rfid.db")}); err == nil {
		t.Error("Open() under a file: want error")
	}
}

func TestOpenMemory_KeepsDataWhileOpen(t *testing.T) {
	db, err := Open(Config{Path: MemoryPath, WALMode: true, BusyTimeout: 1})
	if err != nil {
		t.Fatalf("Open(%q) error = %v", MemoryPath, err)
	}
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, cardsTable); err != nil {
		t.Fatalf("create cards: %v", err)
	}
	if _, err := db.ExecContext(ctx, "INSERT INTO cards (uid, user_id) VALUES (?, ?)", "AB12CD34", "u-1"); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// A single pooled connection holds the in-memory schema.
	if got := db.Stats().MaxOpenConnections; got != 1 {
		t.Errorf("MaxOpenConnections = %d, want 1", got)
	}
	if n := countCards(t, db, "AB12CD34"); n != 1 {
		t.Errorf("cards = %d, want 1", n)
	}
}

func TestHealthCheck(t *testing.T) {
	db := openTestDB(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	if err := db.DB.Close(); err != nil {
		t.Fatalf("closing: %v", err)
	}
	if err := db.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() on a closed database: want error")
	}
}

func TestClose_Nil(t *testing.T) {
	db := &DB{}
	if err := db.Close(); err != nil {
		t.Errorf("Close() on unopened DB error = %v", err)
	}
}

func TestExecContext_WrapsErrors(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := db.ExecContext(ctx, cardsTable); err != nil {
		t.Fatalf("create cards: %v", err)
	}
	res, err := db.ExecContext(ctx, "INSERT INTO cards (uid, user_id) VALUES (?, ?)", "AB12CD34", "u-1")
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		t.Errorf("RowsAffected() = %d, want 1", n)
	}

	_, err = db.ExecContext(ctx, "INSERT INTO cards (uid, user_id) VALUES (?, ?)", "AB12CD34", "u-2")
	if err == nil || !strings.Contains(err.Error(), "executing query") {
		t.Errorf("duplicate uid error = %v, want wrapped constraint error", err)
	}
}

func TestBeginTx(t *testing.T) {
	tests := []struct {
		name   string
		commit bool
		want   int
	}{
		{"commit keeps the card", true, 1},
		{"rollback discards the card", false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := openTestDB(t)
			ctx := context.Background()
			if _, err := db.ExecContext(ctx, cardsTable); err != nil {
				t.Fatalf("create cards: %v", err)
			}

			tx, err := db.BeginTx(ctx, nil)
			if err != nil {
				t.Fatalf("BeginTx() error = %v", err)
			}
			if _, err := tx.ExecContext(ctx, "INSERT INTO cards (uid, user_id) VALUES (?, ?)", "FFEE0011", "u-9"); err != nil {
				t.Fatalf("insert: %v", err)
			}
			if tt.commit {
				err = tx.Commit()
			} else {
				err = tx.Rollback()
			}
			if err != nil {
				t.Fatalf("finishing tx: %v", err)
			}

			if n := countCards(t, db, "FFEE0011"); n != tt.want {
				t.Errorf("cards = %d, want %d", n, tt.want)
			}
		})
	}
}

func TestFromConfig(t *testing.T) {
	got := FromConfig(config.DatabaseConfig{Path: "/var/lib/kost/rfid.db", WALMode: true, BusyTimeout: 7})
	want := Config{Path: "/var/lib/kost/rfid.db", WALMode: true, BusyTimeout: 7}
	if got != want {
		t.Errorf("FromConfig() = %+v, want %+v", got, want)
	}
}
