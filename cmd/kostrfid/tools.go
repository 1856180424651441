package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/nerrad567/kost-rfid-core/internal/auth"
	"github.com/nerrad567/kost-rfid-core/internal/infrastructure/config"
	"github.com/nerrad567/kost-rfid-core/internal/realtime"
	"github.com/nerrad567/kost-rfid-core/internal/scan"
)

// errNotConnected is returned by the one-shot tools when the broker
// connection could not be established.
var errNotConnected = errors.New("broker not connected")

// startOneShot opens the stack and starts the service, failing unless
// the broker is connected.
func startOneShot(c *cli.Context) (*config.Config, *stack, error) {
	cfg, err := loadConfig(c, false)
	if err != nil {
		return nil, nil, err
	}
	logger := newLogger(cfg)

	st, err := openStack(c.Context, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := st.service.Start(c.Context); err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("starting realtime service: %w", err)
	}
	if status := st.service.Status(); !status.Connected {
		st.Close()
		return nil, nil, fmt.Errorf("%w (state %s)", errNotConnected, status.State())
	}
	return cfg, st, nil
}

func scanAction(c *cli.Context) error {
	cfg, st, err := startOneShot(c)
	if err != nil {
		return err
	}
	defer st.Close()

	opts := scan.Options{
		Timeout: c.Duration(FlagScanTimeout.Name),
		UserID:  c.String(FlagScanUser.Name),
	}
	if opts.Timeout <= 0 {
		opts.Timeout = cfg.Scan.Timeout()
	}

	fmt.Fprintf(c.App.ErrWriter, "Present a card to a reader (timeout %s)...\n", opts.Timeout)

	res, err := st.service.Session().Run(c.Context, opts)
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	if err := writeJSON(c.App.Writer, res); err != nil {
		return err
	}
	if res.Outcome == scan.OutcomeError {
		return res.Err
	}
	return nil
}

func commandAction(c *cli.Context) error {
	if c.NArg() != 2 {
		return fmt.Errorf("usage: %s command DEVICE_ID COMMAND", c.App.Name)
	}
	deviceID := c.Args().Get(0)
	command := c.Args().Get(1)

	var payload map[string]any
	if err := json.Unmarshal([]byte(c.String(FlagCommandPayload.Name)), &payload); err != nil {
		return fmt.Errorf("--payload must be a JSON object: %w", err)
	}

	_, st, err := startOneShot(c)
	if err != nil {
		return err
	}
	defer st.Close()

	wait := c.Duration(FlagCommandWait.Name)
	responses := make(chan realtime.Event, 1)
	if wait > 0 {
		remove := st.service.OnEvent(func(ev realtime.Event) {
			if ev.Type != realtime.EventCommandResponse {
				return
			}
			select {
			case responses <- ev:
			default:
			}
		})
		defer remove()
	}

	if err := st.service.SendCommandWait(c.Context, deviceID, command, payload); err != nil {
		return fmt.Errorf("command %q not sent: %w", command, err)
	}
	fmt.Fprintf(c.App.ErrWriter, "Sent %q to %s\n", command, deviceID)

	if wait <= 0 {
		return nil
	}
	ev, err := awaitEvent(c.Context, responses, wait)
	if err != nil {
		return err
	}
	return writeJSON(c.App.Writer, ev.Data)
}

// awaitEvent returns the first event on ch, or an error once wait
// elapses or ctx is done.
func awaitEvent(ctx context.Context, ch <-chan realtime.Event, wait time.Duration) (realtime.Event, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case ev := <-ch:
		return ev, nil
	case <-timer.C:
		return realtime.Event{}, fmt.Errorf("no reader response within %s", wait)
	case <-ctx.Done():
		return realtime.Event{}, ctx.Err()
	}
}

func checkConfigAction(c *cli.Context) error {
	cfg, err := loadConfig(c, true)
	if err != nil {
		return err
	}

	out := c.App.Writer
	fmt.Fprintf(out, "config:    %s\n", c.String(FlagConfig.Name))
	fmt.Fprintf(out, "site:      %s (%s)\n", cfg.Site.ID, cfg.Site.Name)
	if err := cfg.MQTT.Validate(); err != nil {
		fmt.Fprintf(out, "mqtt:      not configured (%v)\n", err)
	} else {
		fmt.Fprintf(out, "mqtt:      %s:%d tls=%t\n", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port, cfg.MQTT.Broker.TLS)
	}
	fmt.Fprintf(out, "backend:   %s\n", cfg.Backend.Mode)
	fmt.Fprintf(out, "database:  %s\n", cfg.Database.Path)
	fmt.Fprintf(out, "influxdb:  enabled=%t\n", cfg.InfluxDB.Enabled)
	fmt.Fprintf(out, "api:       enabled=%t port=%d\n", cfg.API.Enabled, cfg.API.Port)
	return nil
}

func tokenAction(c *cli.Context) error {
	cfg, err := loadConfig(c, false)
	if err != nil {
		return err
	}

	role := auth.Role(c.String(FlagTokenRole.Name))
	if !auth.IsValidRole(role) {
		return fmt.Errorf("invalid role %q", role)
	}

	token, err := auth.IssueToken(auth.Principal{
		UserID: c.String(FlagTokenUser.Name),
		Role:   role,
	}, cfg.Security.JWT.Secret, c.Duration(FlagTokenTTL.Name))
	if err != nil {
		return fmt.Errorf("issuing token: %w", err)
	}

	_, err = fmt.Fprintln(c.App.Writer, token)
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
