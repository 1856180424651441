package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/nerrad567/kost-rfid-core/internal/infrastructure/database"
)

// migrateCommand manages the SQLite schema outside of serve, which only
// ever migrates up.
func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "apply, roll back or inspect database migrations",
		Subcommands: []*cli.Command{
			{
				Name:   "up",
				Usage:  "apply pending migrations",
				Action: migrateUpAction,
			},
			{
				Name:   "down",
				Usage:  "roll back the newest migrations",
				Flags:  []cli.Flag{FlagMigrateSteps},
				Action: migrateDownAction,
			},
			{
				Name:   "status",
				Usage:  "list applied and pending migrations",
				Action: migrateStatusAction,
			},
		},
	}
}

// openDatabase opens database.path without starting anything else.
func openDatabase(c *cli.Context) (*database.DB, error) {
	cfg, err := loadConfig(c, false)
	if err != nil {
		return nil, err
	}
	if cfg.Database.Path == "" {
		return nil, errors.New("database.path is not set")
	}
	db, err := database.Open(database.FromConfig(cfg.Database))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

func migrateUpAction(c *cli.Context) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck // Process exits next

	applied, err := db.MigrateUp(c.Context)
	for _, m := range applied {
		fmt.Fprintf(c.App.Writer, "applied     %s_%s\n", m.Version, m.Name)
	}
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		fmt.Fprintln(c.App.Writer, "schema is up to date")
	}
	return nil
}

func migrateDownAction(c *cli.Context) error {
	steps := c.Int(FlagMigrateSteps.Name)
	if steps < 1 {
		return fmt.Errorf("--steps must be at least 1, got %d", steps)
	}

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck // Process exits next

	rolled, err := db.MigrateDown(c.Context, steps)
	for _, m := range rolled {
		fmt.Fprintf(c.App.Writer, "rolled back %s_%s\n", m.Version, m.Name)
	}
	if err != nil {
		return err
	}
	if len(rolled) == 0 {
		fmt.Fprintln(c.App.Writer, "nothing to roll back")
	}
	return nil
}

func migrateStatusAction(c *cli.Context) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck // Process exits next

	status, err := db.MigrationStatus(c.Context)
	if err != nil {
		return err
	}

	out := c.App.Writer
	current := status.Current()
	if current == "" {
		current = "(empty)"
	}
	fmt.Fprintf(out, "database: %s\n", db.Path())
	fmt.Fprintf(out, "current:  %s\n", current)
	for _, r := range status.Applied {
		fmt.Fprintf(out, "  applied  %s  %s\n", r.Version, r.AppliedAt.Format(time.RFC3339))
	}
	for _, m := range status.Pending {
		fmt.Fprintf(out, "  pending  %s_%s\n", m.Version, m.Name)
	}
	for _, v := range status.Unknown {
		fmt.Fprintf(out, "  unknown  %s (not in this binary)\n", v)
	}
	return nil
}
