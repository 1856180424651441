package main

import (
	"time"

	"github.com/urfave/cli/v2"
)

// defaultConfigPath is used when neither --config nor KOSTRFID_CONFIG is set.
const defaultConfigPath = "configs/config.yaml"

var FlagConfig = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Usage:   "path to config.yaml",
	EnvVars: []string{"KOSTRFID_CONFIG"},
	Value:   defaultConfigPath,
}

var FlagLogLevel = &cli.StringFlag{
	Name:    "log-level",
	Usage:   "override logging.level (debug, info, warn, error)",
	EnvVars: []string{"KOSTRFID_LOG_LEVEL"},
}

var FlagScanTimeout = &cli.DurationFlag{
	Name:  "timeout",
	Usage: "how long to wait for a card (default scan.timeout_ms)",
}

var FlagScanUser = &cli.StringFlag{
	Name:  "user",
	Usage: "tenant the card is for; any existing card conflicts when empty",
}

var FlagCommandPayload = &cli.StringFlag{
	Name:  "payload",
	Usage: "JSON object sent as the command payload",
	Value: "{}",
}

var FlagCommandWait = &cli.DurationFlag{
	Name:  "wait",
	Usage: "how long to wait for a reader response (0 to skip)",
	Value: 5 * time.Second,
}

var FlagMigrateSteps = &cli.IntFlag{
	Name:  "steps",
	Usage: "how many migrations to roll back",
	Value: 1,
}

var FlagTokenUser = &cli.StringFlag{
	Name:     "user",
	Usage:    "subject of the token",
	Required: true,
}

var FlagTokenRole = &cli.StringFlag{
	Name:  "role",
	Usage: "one of: [tenant, admin, owner]",
	Value: "admin",
}

var FlagTokenTTL = &cli.DurationFlag{
	Name:  "ttl",
	Usage: "token lifetime",
	Value: time.Hour,
}
