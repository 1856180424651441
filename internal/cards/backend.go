package cards

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/nerrad567/kost-rfid-core/internal/infrastructure/config"
)

// Backend modes accepted in backend.mode.
const (
	ModeHTTP   = "http"
	ModeSQLite = "sqlite"
)

// FromConfig selects the repository for cfg.Mode. db is only used in
// sqlite mode and may be nil otherwise.
func FromConfig(cfg config.BackendConfig, db *sql.DB) (Repository, error) {
	switch cfg.Mode {
	case ModeHTTP:
		return NewHTTPRepository(HTTPConfig{
			BaseURL: cfg.BaseURL,
			Token:   cfg.Token,
			Timeout: time.Duration(cfg.TimeoutS) * time.Second,
		})
	case ModeSQLite:
		if db == nil {
			return nil, fmt.Errorf("sqlite card backend requires a database")
		}
		return NewSQLiteRepository(db), nil
	default:
		return nil, fmt.Errorf("unknown card backend mode %q", cfg.Mode)
	}
}
