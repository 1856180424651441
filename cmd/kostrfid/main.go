// Kost RFID Core - real-time device messaging for the Kost access portal.
//
// This binary connects the portal to the RFID readers over MQTT: it tracks
// reader status, runs card-scan sessions for card registration, sends
// admin commands, and exposes all of it over a REST and WebSocket API.
//
// Commands:
//
//	kostrfid serve          run the API and messaging service (default)
//	kostrfid scan           wait for one card and print the result
//	kostrfid command ID CMD send a command to a reader
//	kostrfid migrate        apply, roll back or inspect the schema
//	kostrfid check-config   validate the configuration
//	kostrfid token          issue a bearer token for testing
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/nerrad567/kost-rfid-core/internal/infrastructure/config"
	"github.com/nerrad567/kost-rfid-core/internal/infrastructure/logging"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newApp builds the CLI, separated from main for testability.
func newApp() *cli.App {
	return &cli.App{
		Name:    "kostrfid",
		Usage:   "Kost RFID real-time device messaging",
		Version: fmt.Sprintf("%s (%s, %s)", version, commit, date),
		Flags:   []cli.Flag{FlagConfig, FlagLogLevel},
		Action:  serveAction,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the API and messaging service",
				Action: serveAction,
			},
			{
				Name:   "scan",
				Usage:  "wait for one card on the readers and print the result",
				Flags:  []cli.Flag{FlagScanTimeout, FlagScanUser},
				Action: scanAction,
			},
			{
				Name:      "command",
				Usage:     "send a command to a reader",
				ArgsUsage: "DEVICE_ID COMMAND",
				Flags:     []cli.Flag{FlagCommandPayload, FlagCommandWait},
				Action:    commandAction,
			},
			migrateCommand(),
			{
				Name:   "check-config",
				Usage:  "load and validate the configuration",
				Action: checkConfigAction,
			},
			{
				Name:   "token",
				Usage:  "issue a bearer token signed with security.jwt.secret",
				Flags:  []cli.Flag{FlagTokenUser, FlagTokenRole, FlagTokenTTL},
				Action: tokenAction,
			},
		},
	}
}

// loadConfig reads the configuration. When withAPI is false the API
// section is disabled before validation so one-shot tools do not need a
// JWT secret.
func loadConfig(c *cli.Context, withAPI bool) (*config.Config, error) {
	path := c.String(FlagConfig.Name)
	cfg, err := config.Read(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if !withAPI {
		cfg.API.Enabled = false
	}
	if level := c.String(FlagLogLevel.Name); level != "" {
		cfg.Logging.Level = level
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config %s: %w", path, err)
	}
	return cfg, nil
}

// newLogger builds the configured logger.
func newLogger(cfg *config.Config) *logging.Logger {
	return logging.New(cfg.Logging, version).With("site_id", cfg.Site.ID)
}
