package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/kost-rfid-core/internal/cards"
	"github.com/nerrad567/kost-rfid-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/kost-rfid-core/internal/rfid"
)

const (
	// DefaultTimeout is used when Options.Timeout is zero.
	DefaultTimeout = 30 * time.Second

	// DefaultCheckTimeout is used when Options.CheckTimeout is zero.
	DefaultCheckTimeout = 10 * time.Second
)

// stopper is the part of *time.Timer the session needs.
type stopper interface {
	Stop() bool
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(logger Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Session is the card-scan state machine. One Session serves one client;
// at most one scan is active at a time.
//
// All public methods are thread-safe. onResult is never called with the
// session lock held, so it may call Start or Stop.
type Session struct {
	conn    Connection
	sub     Subscriber
	checker CardChecker
	logger  Logger

	now       func() time.Time
	afterFunc func(time.Duration, func()) stopper
	newID     func() string

	mu           sync.Mutex
	generation   uint64
	state        State
	id           string
	opts         Options
	startedAt    time.Time
	uid          string
	result       *Result
	onResult     func(Result)
	timer        stopper
	subscription *mqtt.Subscription
	cancelCheck  context.CancelFunc
}

// New creates an idle Session.
//
// Parameters:
//   - conn: Connectivity check; Start is rejected while disconnected
//   - sub: Router used to listen on rfid/tags
//   - checker: Backend duplicate check
func New(conn Connection, sub Subscriber, checker CardChecker, opts ...Option) *Session {
	s := &Session{
		conn:    conn,
		sub:     sub,
		checker: checker,
		logger:  noopLogger{},
		now:     time.Now,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
		newID: func() string { return uuid.NewString() },
		state: StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins a scan. It returns false, leaving any current session
// untouched, when the broker is not connected. Otherwise any prior session
// is torn down without a callback, a handler is registered on rfid/tags,
// the timeout is armed, and the session enters Scanning.
//
// onResult is invoked exactly once for this Start unless Stop or another
// Start intervenes first.
func (s *Session) Start(onResult func(Result), opts Options) bool {
	if s.conn == nil || !s.conn.IsConnected() {
		s.logger.Warn("scan start rejected: broker not connected")
		return false
	}

	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.CheckTimeout <= 0 {
		opts.CheckTimeout = DefaultCheckTimeout
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	superseded := s.state.Active()
	s.teardownLocked()

	s.generation++
	gen := s.generation
	s.id = s.newID()
	s.opts = opts
	s.startedAt = s.now()
	s.uid = ""
	s.result = nil
	s.onResult = onResult
	s.state = StateScanning

	s.subscription = s.sub.Subscribe(mqtt.TopicTagRead, mqtt.MessageHandler(
		func(_ string, payload []byte) error {
			s.handleTagRead(gen, payload)
			return nil
		},
	))
	s.timer = s.afterFunc(opts.Timeout, func() { s.handleTimeout(gen) })

	s.logger.Info("scan session started",
		"session_id", s.id,
		"timeout", opts.Timeout,
		"user_id", opts.UserID,
		"superseded", superseded,
	)
	return true
}

// Stop cancels the current session from any state. It never invokes the
// result callback and is idempotent.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateIdle {
		return
	}
	s.teardownLocked()
	s.generation++
	s.state = StateIdle
	s.id = ""
	s.uid = ""
	s.result = nil
	s.onResult = nil
	s.logger.Debug("scan session stopped")
}

// Run starts a scan and blocks until its result or ctx is done. On ctx
// cancellation the session is stopped and ctx.Err() returned.
func (s *Session) Run(ctx context.Context, opts Options) (Result, error) {
	done := make(chan Result, 1)
	if !s.Start(func(r Result) { done <- r }, opts) {
		return Result{}, ErrNotConnected
	}

	select {
	case r := <-done:
		return r, nil
	case <-ctx.Done():
		s.Stop()
		return Result{}, ctx.Err()
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Current returns a snapshot including the last result, if any.
func (s *Session) Current() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		SessionID: s.id,
		State:     s.state,
		UID:       s.uid,
	}
	if s.state != StateIdle {
		started := s.startedAt
		snap.StartedAt = &started
		snap.TimeoutMS = s.opts.Timeout.Milliseconds()
		snap.UserID = s.opts.UserID
	}
	if s.result != nil {
		r := *s.result
		snap.Result = &r
	}
	return snap
}

// teardownLocked releases the timer, the tag subscription and any pending
// duplicate check. Caller must hold s.mu.
func (s *Session) teardownLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.subscription != nil {
		s.subscription.Unsubscribe()
		s.subscription = nil
	}
	if s.cancelCheck != nil {
		s.cancelCheck()
		s.cancelCheck = nil
	}
}

func (s *Session) handleTagRead(gen uint64, payload []byte) {
	read, err := rfid.ParseTagRead(payload)
	if err != nil {
		s.logger.Warn("ignoring unreadable tag read", "error", err)
		return
	}

	s.mu.Lock()
	if gen != s.generation || s.state != StateScanning {
		s.mu.Unlock()
		return
	}

	s.timer.Stop()
	s.timer = nil
	s.subscription.Unsubscribe()
	s.subscription = nil

	uid := read.NormalizedUID()
	deviceID := read.Device()
	s.uid = uid
	s.state = StateChecking

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.CheckTimeout)
	s.cancelCheck = cancel
	userID := s.opts.UserID
	s.mu.Unlock()

	s.logger.Info("card read", "uid", uid, "device_id", deviceID)

	go s.check(ctx, cancel, gen, uid, deviceID, userID)
}

func (s *Session) check(ctx context.Context, cancel context.CancelFunc, gen uint64, uid, deviceID, userID string) {
	defer cancel()

	existing, err := s.checker.FindByUID(ctx, uid)

	res := Result{UID: uid, DeviceID: deviceID}
	next := StateResolved
	switch {
	case err == nil && cards.Conflicts(existing, userID):
		res.Outcome = OutcomeConflict
		res.Existing = existing
		res.Err = fmt.Errorf("%w: %s", cards.ErrDuplicateCard, uid)
	case err == nil:
		res.Outcome = OutcomeSuccess
		res.Existing = existing
	case errors.Is(err, cards.ErrCardNotFound):
		res.Outcome = OutcomeSuccess
	default:
		res.Outcome = OutcomeError
		res.Err = fmt.Errorf("checking card %s: %w", uid, err)
		next = StateErrored
	}

	s.resolve(gen, StateChecking, next, res)
}

func (s *Session) handleTimeout(gen uint64) {
	s.resolve(gen, StateScanning, StateTimedOut, Result{
		Outcome: OutcomeTimeout,
		Err:     ErrSessionTimeout,
	})
}

// resolve performs the terminal transition from -> to if the session is
// still on generation gen and in state from. Losers return silently.
func (s *Session) resolve(gen uint64, from, to State, res Result) {
	s.mu.Lock()
	if gen != s.generation || s.state != from {
		s.mu.Unlock()
		return
	}

	s.teardownLocked()
	s.state = to
	res.SessionID = s.id
	res.At = s.now()
	if res.Err != nil {
		res.Error = res.Err.Error()
	}
	stored := res
	s.result = &stored
	cb := s.onResult
	s.onResult = nil
	s.mu.Unlock()

	s.logger.Info("scan session finished",
		"session_id", res.SessionID,
		"outcome", res.Outcome,
		"uid", res.UID,
	)

	if cb != nil {
		s.deliver(cb, res)
	}
}

func (s *Session) deliver(cb func(Result), res Result) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scan result callback panic recovered",
				"session_id", res.SessionID,
				"panic", r,
			)
		}
	}()
	cb(res)
}
