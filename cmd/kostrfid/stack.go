package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nerrad567/kost-rfid-core/internal/api"
	"github.com/nerrad567/kost-rfid-core/internal/cards"
	"github.com/nerrad567/kost-rfid-core/internal/devicestatus"
	"github.com/nerrad567/kost-rfid-core/internal/infrastructure/config"
	"github.com/nerrad567/kost-rfid-core/internal/infrastructure/database"
	"github.com/nerrad567/kost-rfid-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/kost-rfid-core/internal/infrastructure/logging"
	"github.com/nerrad567/kost-rfid-core/internal/realtime"
	_ "github.com/nerrad567/kost-rfid-core/migrations"
)

// stack is everything behind the API: storage, telemetry and the
// messaging service.
type stack struct {
	logger  *logging.Logger
	db      *database.DB
	history *devicestatus.SQLiteHistoryRepository
	influx  *influxdb.Client
	service *realtime.Service
}

// openStack opens storage and builds the messaging service. The service
// is not started.
func openStack(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*stack, error) {
	st := &stack{logger: logger}

	if cfg.Database.Path != "" {
		db, err := database.Open(database.FromConfig(cfg.Database))
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		st.db = db

		if err := db.Migrate(ctx); err != nil {
			st.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
		st.history = devicestatus.NewSQLiteHistoryRepository(db.DB)
		logger.Info("database ready", "path", db.Path())
	}

	repo, err := cards.FromConfig(cfg.Backend, st.sqlDB())
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("card backend: %w", err)
	}
	logger.Info("card backend selected", "mode", cfg.Backend.Mode)

	// Telemetry stays a nil interface when InfluxDB is off.
	var telemetry realtime.Telemetry
	influx, err := influxdb.Connect(cfg.InfluxDB)
	switch {
	case err == nil:
		influx.SetOnError(func(err error) {
			logger.Error("influxdb write error", "error", err)
		})
		st.influx = influx
		telemetry = influx
		logger.Info("influxdb connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	case errors.Is(err, influxdb.ErrDisabled):
		logger.Debug("influxdb disabled")
	default:
		// Telemetry is optional; keep running without it.
		logger.Warn("influxdb unavailable, telemetry disabled", "error", err)
	}

	params := realtime.Params{
		Config:    cfg,
		Logger:    logger.Component("realtime"),
		Cards:     repo,
		Telemetry: telemetry,
	}
	if st.history != nil {
		params.History = st.history
	}

	svc, err := realtime.New(params)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("creating realtime service: %w", err)
	}
	st.service = svc
	return st, nil
}

func (st *stack) sqlDB() *sql.DB {
	if st.db == nil {
		return nil
	}
	return st.db.DB
}

// checks returns the health checks for the components that are present.
func (st *stack) checks() map[string]api.HealthChecker {
	out := make(map[string]api.HealthChecker)
	if st.db != nil {
		out["database"] = st.db
	}
	if st.influx != nil {
		out["influxdb"] = st.influx
	}
	return out
}

// Close shuts everything down in reverse order of opening.
func (st *stack) Close() {
	if st.service != nil {
		if err := st.service.Close(); err != nil {
			st.logger.Error("error closing realtime service", "error", err)
		}
	}
	if st.influx != nil {
		if err := st.influx.Close(); err != nil {
			st.logger.Error("error closing influxdb", "error", err)
		}
	}
	if st.db != nil {
		if err := st.db.Close(); err != nil {
			st.logger.Error("error closing database", "error", err)
		}
	}
}
