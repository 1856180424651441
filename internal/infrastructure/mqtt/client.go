package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/kost-rfid-core/internal/infrastructure/config"
)

// Client owns the single broker connection for the portal.
//
// It validates the connection parameters before any network I/O,
// classifies connection failures as authentication or transient, and
// schedules reconnects with exponential backoff up to a fixed attempt
// budget. Inbound messages are handed to the Router.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Router subscriptions are re-issued on every successful connect.
type Client struct {
	cfg            config.MQTTConfig
	id             string
	connectTimeout time.Duration
	router         *Router
	logger         Logger

	newClient NewClientFunc
	afterFunc func(time.Duration, func()) stopper

	// mu guards the fields below. Lock order: Router.mu before mu.
	mu     sync.Mutex
	conn   pahomqtt.Client
	status Status
	timer  stopper
	// epoch changes on every explicit Connect and Disconnect so that
	// in-flight attempts and timers from an older generation become no-ops.
	epoch uint64

	notifyMu       sync.Mutex
	obsMu          sync.Mutex
	observers      []observer
	nextObserverID uint64
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// stopper is the part of *time.Timer the reconnect schedule needs.
type stopper interface {
	Stop() bool
}

func timeAfterFunc(d time.Duration, fn func()) stopper {
	return time.AfterFunc(d, fn)
}

// New creates a Client without touching the network.
//
// Parameters:
//   - cfg: MQTT configuration from config.yaml
//   - opts: optional logger and client factory
//
// Returns:
//   - *Client: disconnected client; call Connect to go online
func New(cfg config.MQTTConfig, opts ...Option) *Client {
	c := &Client{
		cfg:            cfg,
		id:             clientID(cfg),
		connectTimeout: defaultConnectTimeout,
		logger:         noopLogger{},
		newClient:      pahomqtt.NewClient,
		afterFunc:      timeAfterFunc,
	}
	if cfg.ConnectTimeout > 0 {
		c.connectTimeout = time.Duration(cfg.ConnectTimeout) * time.Second
	}
	for _, opt := range opts {
		opt(c)
	}

	c.router = NewRouter(c.logger)
	c.router.broker = c
	return c
}

// Router returns the topic router fed by this connection.
func (c *Client) Router() *Router {
	return c.router
}

// ClientID returns the MQTT client ID used for this connection.
func (c *Client) ClientID() string {
	return c.id
}

// SetLogger sets a logger for connection, error and panic logging.
// Call before Connect.
func (c *Client) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.logger = logger
	c.router.SetLogger(logger)
}

// Connect establishes a connection to the MQTT broker.
//
// If the client is already connected or connecting it returns the current
// state without I/O. Otherwise it:
//  1. Resets the reconnect budget and cancels any pending reconnect
//  2. Validates the connection parameters (no I/O if they are missing)
//  3. Opens the connection and waits for the CONNACK, bounded by ctx and
//     the connect timeout
//  4. Re-issues router subscriptions and publishes online status
//
// Parameters:
//   - ctx: Context bounding the wait for the broker
//
// Returns:
//   - bool: true if the client is connected when Connect returns
//   - error: ErrNotConfigured, ErrAuthentication, ErrTransient or
//     ErrReconnectExhausted (wrapped with the cause)
func (c *Client) Connect(ctx context.Context) (bool, error) {
	var (
		current Status
		epoch   uint64
		dial    bool
		cfgErr  error
	)

	c.update(func() {
		if c.status.Connected || c.status.Connecting {
			current = c.status
			return
		}

		c.stopTimerLocked()
		c.epoch++
		epoch = c.epoch

		if err := c.cfg.Validate(); err != nil {
			cfgErr = fmt.Errorf("%w: %w", ErrNotConfigured, err)
			c.status = Status{LastError: ErrorConfiguration}
			return
		}

		c.status = Status{Connecting: true}
		dial = true
	})

	if cfgErr != nil {
		c.logger.Warn("MQTT not configured, not connecting", "error", cfgErr)
		return false, cfgErr
	}
	if !dial {
		return current.Connected, nil
	}

	return c.dial(ctx, epoch)
}

// dial runs one connection attempt for the given epoch. The status must
// already be Connecting.
func (c *Client) dial(ctx context.Context, epoch uint64) (bool, error) {
	opts := buildClientOptions(c.cfg, c.id, c.connectTimeout)
	configureLWT(opts, c.id)
	opts.SetDefaultPublishHandler(c.handleMessage)
	opts.SetConnectionLostHandler(func(pc pahomqtt.Client, err error) {
		c.handleConnectionLost(epoch, pc, err)
	})

	pc := c.newClient(opts)

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return false, ErrConnectAborted
	}
	c.conn = pc
	c.mu.Unlock()

	c.logger.Debug("MQTT connecting", "broker", c.cfg.Broker.Host, "port", c.cfg.Broker.Port, "client_id", c.id)

	token := pc.Connect()
	err := waitToken(ctx, token, c.connectTimeout)
	cancelled := errors.Is(err, context.Canceled) && ctx.Err() != nil

	return c.finishConnect(epoch, pc, token, err, cancelled)
}

// finishConnect settles one attempt. A failed attempt's paho client is
// always disconnected, since a pending CONNACK can still complete later.
// cancelled means the caller gave up: the attempt is abandoned without
// counting against the reconnect budget.
func (c *Client) finishConnect(epoch uint64, pc pahomqtt.Client, token pahomqtt.Token, err error, cancelled bool) (bool, error) {
	var (
		stale  bool
		retErr error
		status Status
	)

	c.update(func() {
		if c.epoch != epoch || c.conn != pc {
			stale = true
			return
		}

		if err == nil {
			c.status = Status{Connected: true}
			status = c.status
			return
		}

		c.conn = nil
		if cancelled {
			c.status.Connecting = false
			retErr = fmt.Errorf("%w: %w", ErrConnectAborted, err)
			status = c.status
			return
		}
		if isAuthFailure(token, err) {
			c.status = Status{
				LastError:         ErrorAuthentication,
				ReconnectAttempts: c.cfg.Reconnect.MaxAttempts,
			}
			retErr = fmt.Errorf("%w: %w", ErrAuthentication, err)
		} else {
			retErr = c.scheduleReconnectLocked(err)
		}
		status = c.status
	})

	if stale {
		pc.Disconnect(0)
		return false, ErrConnectAborted
	}

	if retErr != nil {
		pc.Disconnect(0)
		if cancelled {
			c.logger.Info("MQTT connect abandoned by caller", "error", err)
			return false, retErr
		}
		c.logger.Warn("MQTT connection failed",
			"error", retErr,
			"state", status.State(),
			"attempts", status.ReconnectAttempts,
		)
		return false, retErr
	}

	c.logger.Info("MQTT connected", "broker", c.cfg.Broker.Host, "client_id", c.id)

	c.router.Resubscribe()
	c.publishOnlineStatus(pc)
	return true, nil
}

// handleConnectionLost is paho's OnConnectionLost callback. A drop after
// a successful connect goes down the same backoff path as a failed dial.
func (c *Client) handleConnectionLost(epoch uint64, pc pahomqtt.Client, err error) {
	handled := false
	c.update(func() {
		if c.epoch != epoch || c.conn != pc || !c.status.Connected {
			return
		}
		c.conn = nil
		_ = c.scheduleReconnectLocked(err)
		handled = true
	})

	if handled {
		c.logger.Warn("MQTT connection lost", "error", err)
	}
}

// handleMessage is the default publish handler. Every broker subscription
// is issued without its own callback so all traffic lands here.
func (c *Client) handleMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	c.router.Dispatch(msg.Topic(), msg.Payload())
}

// publishOnlineStatus publishes the client's online status to the system status topic.
func (c *Client) publishOnlineStatus(pc pahomqtt.Client) {
	token := pc.Publish(TopicSystemStatus, c.qos(), true, buildOnlinePayload(c.id))
	go c.watchToken("publish", TopicSystemStatus, token)
}

// Disconnect is a clean, user-initiated stop.
//
// It cancels any pending reconnect, publishes graceful offline status if
// connected (different from the LWT crash status), closes the connection
// and resets the status to disconnected with zero attempts and no error.
func (c *Client) Disconnect() {
	var (
		pc           pahomqtt.Client
		wasConnected bool
	)

	c.update(func() {
		c.epoch++
		c.stopTimerLocked()
		pc = c.conn
		wasConnected = c.status.Connected
		c.conn = nil
		c.status = Status{}
	})

	if pc == nil {
		return
	}

	if wasConnected {
		token := pc.Publish(TopicSystemStatus, c.qos(), true, buildOfflinePayload(c.id))
		token.WaitTimeout(defaultPublishTimeout)
	}

	pc.Disconnect(defaultDisconnectQuiesce)
	c.logger.Info("MQTT disconnected", "client_id", c.id)
}

// Close gracefully disconnects from the MQTT broker.
//
// Returns:
//   - error: always nil; present so Client fits shutdown helpers
func (c *Client) Close() error {
	c.Disconnect()
	return nil
}

// HealthCheck verifies the MQTT connection is alive and functioning.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	return nil
}

// IsConnected returns the current connection state.
//
// Note: This reflects the last known state. paho reports a dropped
// connection through OnConnectionLost, which flips it to false.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status.Connected && c.conn != nil
}

// connection returns the live paho client, or nil when not connected.
func (c *Client) connection() pahomqtt.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.status.Connected {
		return nil
	}
	return c.conn
}

func (c *Client) qos() byte {
	if c.cfg.QoS < 0 || c.cfg.QoS > maxQoS {
		return 1
	}
	return byte(c.cfg.QoS)
}

// waitToken waits for a paho token, bounded by ctx and timeout.
func waitToken(ctx context.Context, token pahomqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%w after %v", ErrTimeout, timeout)
	}
}

// watchToken logs a failed asynchronous broker operation.
func (c *Client) watchToken(op, topic string, token pahomqtt.Token) {
	if !token.WaitTimeout(defaultPublishTimeout) {
		c.logger.Warn("MQTT operation not acknowledged", "op", op, "topic", topic, "timeout", defaultPublishTimeout)
		return
	}
	if err := token.Error(); err != nil && !errors.Is(err, pahomqtt.ErrNotConnected) {
		c.logger.Warn("MQTT operation failed", "op", op, "topic", topic, "error", err)
	}
}
