package mqtt

// Status is a snapshot of the connection state.
//
// Connected and Connecting are never both true. ReconnectAttempts counts
// consecutive transient failures since the last successful or explicit
// connect and never exceeds the configured maximum.
type Status struct {
	Connected         bool      `json:"connected"`
	Connecting        bool      `json:"connecting"`
	LastError         ErrorKind `json:"last_error,omitempty"`
	ReconnectAttempts int       `json:"reconnect_attempts"`
}

// Connection states reported to the UI.
const (
	StateConnected     = "connected"
	StateConnecting    = "connecting"
	StateReconnecting  = "reconnecting"
	StateAuthFailed    = "auth_failed"
	StateNotConfigured = "not_configured"
	StateExhausted     = "offline_exhausted"
	StateOffline       = "offline"
)

// State summarises the status as a single label. An authentication
// failure is reported separately from plain offline because the fix is
// new credentials rather than waiting.
func (s Status) State() string {
	switch {
	case s.Connected:
		return StateConnected
	case s.Connecting:
		return StateConnecting
	}

	switch s.LastError {
	case ErrorAuthentication:
		return StateAuthFailed
	case ErrorConfiguration:
		return StateNotConfigured
	case ErrorReconnectExhausted:
		return StateExhausted
	case ErrorTransient:
		return StateReconnecting
	default:
		return StateOffline
	}
}

// StatusObserver receives a copy of the status after every change.
//
// Observers run synchronously on the goroutine that changed the status.
// They must not call Connect or Disconnect directly; start a goroutine
// if a status change should trigger one.
type StatusObserver func(Status)

type observer struct {
	id uint64
	fn StatusObserver
}

// OnStatusChange registers fn and returns a function that removes it.
// Observers are called in registration order. Calling remove more than
// once is a no-op.
func (c *Client) OnStatusChange(fn StatusObserver) (remove func()) {
	if fn == nil {
		return func() {}
	}

	c.obsMu.Lock()
	c.nextObserverID++
	id := c.nextObserverID
	c.observers = append(c.observers, observer{id: id, fn: fn})
	c.obsMu.Unlock()

	return func() {
		c.obsMu.Lock()
		defer c.obsMu.Unlock()
		for i, o := range c.observers {
			if o.id == id {
				c.observers = append(c.observers[:i:i], c.observers[i+1:]...)
				return
			}
		}
	}
}

// Status returns a copy of the current connection status.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// update applies fn under the state lock and notifies observers if the
// status changed. fn may also touch the other fields guarded by mu.
// notifyMu serialises notifications so observers see changes in order.
func (c *Client) update(fn func()) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	before := c.status
	fn()
	after := c.status
	c.mu.Unlock()

	if before != after {
		c.notify(after)
	}
}

func (c *Client) notify(s Status) {
	c.obsMu.Lock()
	observers := make([]observer, len(c.observers))
	copy(observers, c.observers)
	c.obsMu.Unlock()

	for _, o := range observers {
		c.callObserver(o.fn, s)
	}
}

func (c *Client) callObserver(fn StatusObserver, s Status) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("MQTT status observer panic recovered",
				"state", s.State(),
				"panic", r,
			)
		}
	}()
	fn(s)
}
