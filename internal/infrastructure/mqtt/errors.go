package mqtt

import "errors"

// Domain-specific errors for MQTT operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConfigured is returned by Connect when the broker parameters
	// are absent, placeholders, or the connection is disabled. No network
	// I/O is attempted and no reconnect is scheduled.
	ErrNotConfigured = errors.New("mqtt: connection not configured")

	// ErrAuthentication is returned when the broker rejects the credentials.
	// The reconnect budget is exhausted immediately.
	ErrAuthentication = errors.New("mqtt: broker rejected credentials")

	// ErrTransient is returned when a connection attempt fails for a
	// retryable reason (timeout, refused, reset, unexpected close).
	ErrTransient = errors.New("mqtt: connection failed")

	// ErrReconnectExhausted is returned when a transient failure uses up
	// the last reconnect attempt.
	ErrReconnectExhausted = errors.New("mqtt: reconnect attempts exhausted")

	// ErrConnectAborted is returned by Connect when Disconnect was called
	// while the attempt was in flight, or the caller's context was
	// cancelled. It does not count against the reconnect budget.
	ErrConnectAborted = errors.New("mqtt: connect aborted")

	// ErrNotConnected is returned when attempting operations on a disconnected client.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrPublishFailed is returned when a publish operation fails.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrInvalidQoS is returned when an invalid QoS level is specified.
	// Valid QoS levels are 0, 1, or 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned when an empty or invalid topic is provided.
	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")

	// ErrPayloadTooLarge is returned when a payload exceeds maxPayloadSize.
	ErrPayloadTooLarge = errors.New("mqtt: payload too large")

	// ErrTimeout is returned when an operation times out.
	ErrTimeout = errors.New("mqtt: operation timed out")
)

// ErrorKind classifies the last connection failure recorded in Status.
type ErrorKind string

// Connection failure kinds. The zero value means no error.
const (
	ErrorNone               ErrorKind = ""
	ErrorConfiguration      ErrorKind = "configuration"
	ErrorAuthentication     ErrorKind = "authentication"
	ErrorTransient          ErrorKind = "transient"
	ErrorReconnectExhausted ErrorKind = "reconnect_exhausted"
)
