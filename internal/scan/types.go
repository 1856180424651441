package scan

import (
	"context"
	"time"

	"github.com/nerrad567/kost-rfid-core/internal/cards"
	"github.com/nerrad567/kost-rfid-core/internal/infrastructure/mqtt"
)

// State is the session's position in the state machine.
type State string

// Session states.
const (
	StateIdle     State = "idle"
	StateScanning State = "scanning"
	StateChecking State = "checking"
	StateResolved State = "resolved"
	StateTimedOut State = "timed_out"
	StateErrored  State = "errored"
)

// Active reports whether a session in this state can still produce a result.
func (s State) Active() bool {
	return s == StateScanning || s == StateChecking
}

// Outcome classifies a terminal result.
type Outcome string

// Scan outcomes.
const (
	// OutcomeSuccess: the UID is free (or already owned by the target user).
	OutcomeSuccess Outcome = "success"

	// OutcomeConflict: the UID belongs to another user. The caller may
	// offer "use anyway" or "scan again".
	OutcomeConflict Outcome = "conflict"

	// OutcomeTimeout: no card was read within the timeout.
	OutcomeTimeout Outcome = "timeout"

	// OutcomeError: the duplicate check failed.
	OutcomeError Outcome = "error"
)

// Result is delivered exactly once per Start.
type Result struct {
	SessionID string      `json:"session_id"`
	Outcome   Outcome     `json:"outcome"`
	UID       string      `json:"uid,omitempty"`
	DeviceID  string      `json:"device_id,omitempty"`
	Existing  *cards.Card `json:"existing,omitempty"`
	Error     string      `json:"error,omitempty"`
	Err       error       `json:"-"`
	At        time.Time   `json:"at"`
}

// Options configures one Start.
type Options struct {
	// Timeout bounds the wait for a tag read. Zero means DefaultTimeout.
	Timeout time.Duration

	// UserID is the user the card is being registered for. When empty any
	// existing card is a conflict.
	UserID string

	// CheckTimeout bounds the backend duplicate check. Zero means
	// DefaultCheckTimeout.
	CheckTimeout time.Duration
}

// Snapshot is a point-in-time view of the session for the UI.
type Snapshot struct {
	SessionID string     `json:"session_id,omitempty"`
	State     State      `json:"state"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	TimeoutMS int64      `json:"timeout_ms,omitempty"`
	UserID    string     `json:"user_id,omitempty"`
	UID       string     `json:"uid,omitempty"`
	Result    *Result    `json:"result,omitempty"`
}

// Connection reports broker connectivity.
type Connection interface {
	IsConnected() bool
}

// Subscriber registers router handlers.
type Subscriber interface {
	Subscribe(pattern string, h mqtt.Handler) *mqtt.Subscription
}

// CardChecker is the backend duplicate check. It returns
// cards.ErrCardNotFound when the UID is free.
type CardChecker interface {
	FindByUID(ctx context.Context, uid string) (*cards.Card, error)
}

// Logger defines the logging interface used by the Session.
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
