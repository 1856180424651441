package mqtt

import (
	"context"
	"errors"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"
)

// maxBackoffShift bounds the exponent so the delay cannot overflow.
const maxBackoffShift = 30

// backoffDelay returns base * 2^attempts.
func backoffDelay(base time.Duration, attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > maxBackoffShift {
		attempts = maxBackoffShift
	}
	return base << attempts
}

// isAuthFailure reports whether a failed connect was an explicit
// credential rejection (CONNACK 4 or 5) rather than a network problem.
func isAuthFailure(token pahomqtt.Token, err error) bool {
	if errors.Is(err, packets.ErrorRefusedBadUsernameOrPassword) ||
		errors.Is(err, packets.ErrorRefusedNotAuthorised) {
		return true
	}

	if ct, ok := token.(*pahomqtt.ConnectToken); ok {
		switch ct.ReturnCode() {
		case packets.ErrRefusedBadUsernameOrPassword, packets.ErrRefusedNotAuthorised:
			return true
		}
	}
	return false
}

// scheduleReconnectLocked records a transient failure and arms the
// reconnect timer, or marks the budget exhausted. Caller holds mu.
func (c *Client) scheduleReconnectLocked(cause error) error {
	c.stopTimerLocked()

	maxAttempts := c.cfg.Reconnect.MaxAttempts
	c.status.Connected = false
	c.status.Connecting = false
	c.status.ReconnectAttempts++

	if c.status.ReconnectAttempts >= maxAttempts {
		c.status.ReconnectAttempts = maxAttempts
		c.status.LastError = ErrorReconnectExhausted
		return fmt.Errorf("%w: %w", ErrReconnectExhausted, cause)
	}

	c.status.LastError = ErrorTransient

	delay := backoffDelay(c.cfg.Reconnect.BaseDelay(), c.status.ReconnectAttempts)
	epoch := c.epoch
	c.timer = c.afterFunc(delay, func() {
		c.reconnect(epoch)
	})

	c.logger.Debug("MQTT reconnect scheduled",
		"attempt", c.status.ReconnectAttempts+1,
		"delay", delay,
	)
	return fmt.Errorf("%w: %w", ErrTransient, cause)
}

// stopTimerLocked cancels a pending reconnect. Caller holds mu.
func (c *Client) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// reconnect is the timer callback. A timer from an older epoch, or one
// that fires after the client already reconnected, does nothing.
func (c *Client) reconnect(epoch uint64) {
	proceed := false
	c.update(func() {
		if c.epoch != epoch || c.status.Connected || c.status.Connecting {
			return
		}
		c.timer = nil
		c.status.Connecting = true
		proceed = true
	})
	if !proceed {
		return
	}

	if _, err := c.dial(context.Background(), epoch); err != nil && !errors.Is(err, ErrConnectAborted) {
		c.logger.Debug("MQTT reconnect attempt failed", "error", err)
	}
}
