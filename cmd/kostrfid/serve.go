package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/kost-rfid-core/internal/api"
	"github.com/nerrad567/kost-rfid-core/internal/audit"
	"github.com/nerrad567/kost-rfid-core/internal/devicestatus"
	"github.com/nerrad567/kost-rfid-core/internal/infrastructure/config"
	"github.com/nerrad567/kost-rfid-core/internal/infrastructure/logging"
)

const (
	// startupCheckTimeout bounds each startup health check.
	startupCheckTimeout = 5 * time.Second

	// historyRetention is how long reader status history is kept.
	historyRetention = 30 * 24 * time.Hour

	// historyPruneInterval is how often old history is deleted.
	historyPruneInterval = time.Hour
)

func serveAction(c *cli.Context) error {
	cfg, err := loadConfig(c, true)
	if err != nil {
		return err
	}
	return serve(c.Context, cfg, newLogger(cfg))
}

// serve runs the service until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	logger.Info("starting Kost RFID core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	st, err := openStack(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.service.Start(ctx); err != nil {
		return fmt.Errorf("starting realtime service: %w", err)
	}
	logger.Info("realtime service started",
		"state", st.service.Status().State(),
		"client_id", st.service.Client().ClientID(),
	)

	if err := startupChecks(ctx, logger, st.checks(), "database"); err != nil {
		return err
	}

	if st.history != nil {
		go pruneHistoryLoop(ctx, st.history, logger)
	}

	if cfg.API.Enabled {
		deps := api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Security: cfg.Security,
			Logger:   logger.Component("api"),
			Service:  st.service,
			DB:       st.db,
			Checks:   st.checks(),
			Version:  version,
		}
		if st.db != nil {
			deps.Audit = audit.NewSQLiteRepository(st.db.DB)
		}

		srv, err := api.New(deps)
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if err := srv.Close(); err != nil {
				logger.Error("error closing API server", "error", err)
			}
		}()
	} else {
		logger.Warn("API disabled; running messaging only")
	}

	logger.Info("Kost RFID core ready")

	<-ctx.Done()
	logger.Info("shutdown signal received")
	return nil
}

// startupChecks runs the health checks in parallel. A failing check
// named in required aborts startup; any other failure is logged.
func startupChecks(ctx context.Context, logger *logging.Logger, checks map[string]api.HealthChecker, required ...string) error {
	mustPass := make(map[string]bool, len(required))
	for _, name := range required {
		mustPass[name] = true
	}

	g, gctx := errgroup.WithContext(ctx)
	for name, check := range checks {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, startupCheckTimeout)
			defer cancel()

			if err := check.HealthCheck(cctx); err != nil {
				if mustPass[name] {
					return fmt.Errorf("%s health check: %w", name, err)
				}
				logger.Warn("startup health check failed", "component", name, "error", err)
				return nil
			}
			logger.Debug("startup health check passed", "component", name)
			return nil
		})
	}
	return g.Wait()
}

// historyPruner is the part of the history repository the retention
// loop needs.
type historyPruner interface {
	PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error)
}

var _ historyPruner = (*devicestatus.SQLiteHistoryRepository)(nil)

func pruneHistoryLoop(ctx context.Context, repo historyPruner, logger *logging.Logger) {
	ticker := time.NewTicker(historyPruneInterval)
	defer ticker.Stop()

	for {
		pruneHistory(ctx, repo, logger)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func pruneHistory(ctx context.Context, repo historyPruner, logger *logging.Logger) {
	n, err := repo.PruneHistory(ctx, historyRetention)
	if err != nil {
		logger.Warn("pruning device status history failed", "error", err)
		return
	}
	if n > 0 {
		logger.Info("pruned device status history", "deleted", n)
	}
}
