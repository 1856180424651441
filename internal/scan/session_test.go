package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/kost-rfid-core/internal/cards"
	"github.com/nerrad567/kost-rfid-core/internal/infrastructure/mqtt"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeConn struct{ connected atomic.Bool }

func (c *fakeConn) IsConnected() bool { return c.connected.Load() }

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped atomic.Bool
}

func (t *fakeTimer) Stop() bool { return !t.stopped.Swap(true) }

type fakeTimers struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (ft *fakeTimers) afterFunc(d time.Duration, f func()) stopper {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	ft.timers = append(ft.timers, t)
	return t
}

func (ft *fakeTimers) get(i int) *fakeTimer {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.timers[i]
}

func (ft *fakeTimers) count() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return len(ft.timers)
}

// fakeChecker is an in-memory duplicate check.
type fakeChecker struct {
	mu    sync.Mutex
	cards map[string]*cards.Card
	err   error
	block bool
	calls []string
}

func (c *fakeChecker) FindByUID(ctx context.Context, uid string) (*cards.Card, error) {
	c.mu.Lock()
	c.calls = append(c.calls, uid)
	block, err := c.block, c.err
	card, ok := c.cards[uid]
	c.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, cards.ErrCardNotFound
	}
	return card, nil
}

func (c *fakeChecker) seen() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

// results collects callback invocations.
type results struct {
	mu  sync.Mutex
	got []Result
	ch  chan Result
}

func newResults() *results { return &results{ch: make(chan Result, 16)} }

func (r *results) callback(res Result) {
	r.mu.Lock()
	r.got = append(r.got, res)
	r.mu.Unlock()
	r.ch <- res
}

func (r *results) wait(t *testing.T) Result {
	t.Helper()
	select {
	case res := <-r.ch:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for scan result")
		return Result{}
	}
}

func (r *results) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

type harness struct {
	session *Session
	router  *mqtt.Router
	conn    *fakeConn
	timers  *fakeTimers
	checker *fakeChecker
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		router:  mqtt.NewRouter(nil),
		conn:    &fakeConn{},
		timers:  &fakeTimers{},
		checker: &fakeChecker{cards: make(map[string]*cards.Card)},
	}
	h.conn.connected.Store(true)
	h.session = New(h.conn, h.router, h.checker)
	h.session.afterFunc = h.timers.afterFunc

	ids := 0
	h.session.newID = func() string {
		ids++
		return fmt.Sprintf("session-%d", ids)
	}
	return h
}

func (h *harness) read(payload string) int {
	return h.router.Dispatch(mqtt.TopicTagRead, []byte(payload))
}

// =============================================================================
// Start
// =============================================================================

func TestStart_RejectedWhenDisconnected(t *testing.T) {
	h := newHarness(t)
	h.conn.connected.Store(false)

	assert.False(t, h.session.Start(func(Result) {}, Options{}))
	assert.Equal(t, StateIdle, h.session.State())
	assert.Equal(t, 0, h.router.RefCount(mqtt.TopicTagRead))
	assert.Equal(t, 0, h.timers.count())
}

func TestStart_ArmsTimerAndSubscription(t *testing.T) {
	h := newHarness(t)

	require.True(t, h.session.Start(func(Result) {}, Options{}))
	assert.Equal(t, StateScanning, h.session.State())
	assert.Equal(t, 1, h.router.RefCount(mqtt.TopicTagRead))
	require.Equal(t, 1, h.timers.count())
	assert.Equal(t, DefaultTimeout, h.timers.get(0).d)

	snap := h.session.Current()
	assert.Equal(t, "session-1", snap.SessionID)
	assert.Equal(t, int64(30000), snap.TimeoutMS)
	require.NotNil(t, snap.StartedAt)
}

// =============================================================================
// Resolution
// =============================================================================

func TestEndToEnd_NewCard(t *testing.T) {
	h := newHarness(t)
	res := newResults()

	require.True(t, h.session.Start(res.callback, Options{Timeout: 30 * time.Second}))
	assert.Equal(t, 1, h.read(`{"uid":"AB12CD34","device_id":"ESP32-01"}`))

	got := res.wait(t)
	assert.Equal(t, OutcomeSuccess, got.Outcome)
	assert.Equal(t, "AB12CD34", got.UID)
	assert.Equal(t, "ESP32-01", got.DeviceID)
	assert.Equal(t, "session-1", got.SessionID)
	assert.NoError(t, got.Err)
	assert.Equal(t, []string{"AB12CD34"}, h.checker.seen())

	assert.Equal(t, StateResolved, h.session.State())
	assert.True(t, h.timers.get(0).stopped.Load(), "timer stopped on read")
	assert.Equal(t, 0, h.router.RefCount(mqtt.TopicTagRead))

	// A late timer firing is a no-op.
	h.timers.get(0).f()
	assert.Equal(t, StateResolved, h.session.State())
	assert.Equal(t, 1, res.count())

	snap := h.session.Current()
	require.NotNil(t, snap.Result)
	assert.Equal(t, OutcomeSuccess, snap.Result.Outcome)
}

func TestRead_NormalizesUID(t *testing.T) {
	h := newHarness(t)
	res := newResults()

	require.True(t, h.session.Start(res.callback, Options{}))
	h.read(`{"uid":"  ab12cd34 "}`)

	got := res.wait(t)
	assert.Equal(t, "AB12CD34", got.UID)
	assert.Equal(t, "ESP32-RFID-01", got.DeviceID)
	assert.Equal(t, []string{"AB12CD34"}, h.checker.seen())
}

func TestRead_Conflict(t *testing.T) {
	h := newHarness(t)
	h.checker.cards["AB12CD34"] = &cards.Card{UID: "AB12CD34", UserID: "u-1"}
	res := newResults()

	require.True(t, h.session.Start(res.callback, Options{UserID: "u-2"}))
	h.read(`{"uid":"ab12cd34"}`)

	got := res.wait(t)
	assert.Equal(t, OutcomeConflict, got.Outcome)
	assert.True(t, errors.Is(got.Err, cards.ErrDuplicateCard))
	require.NotNil(t, got.Existing)
	assert.Equal(t, "u-1", got.Existing.UserID)
	assert.NotEmpty(t, got.Error)
	assert.Equal(t, StateResolved, h.session.State())
}

func TestRead_SameOwnerIsSuccess(t *testing.T) {
	h := newHarness(t)
	h.checker.cards["AB12CD34"] = &cards.Card{UID: "AB12CD34", UserID: "u-1"}
	res := newResults()

	require.True(t, h.session.Start(res.callback, Options{UserID: "u-1"}))
	h.read(`{"uid":"AB12CD34"}`)

	got := res.wait(t)
	assert.Equal(t, OutcomeSuccess, got.Outcome)
	assert.NotNil(t, got.Existing)
}

func TestRead_AnyOwnerConflictsWithoutUser(t *testing.T) {
	h := newHarness(t)
	h.checker.cards["AB12CD34"] = &cards.Card{UID: "AB12CD34", UserID: "u-1"}
	res := newResults()

	require.True(t, h.session.Start(res.callback, Options{}))
	h.read(`{"uid":"AB12CD34"}`)

	assert.Equal(t, OutcomeConflict, res.wait(t).Outcome)
}

func TestRead_BackendError(t *testing.T) {
	h := newHarness(t)
	h.checker.err = errors.New("portal unreachable")
	res := newResults()

	require.True(t, h.session.Start(res.callback, Options{}))
	h.read(`{"uid":"AB12CD34"}`)

	got := res.wait(t)
	assert.Equal(t, OutcomeError, got.Outcome)
	assert.ErrorContains(t, got.Err, "portal unreachable")
	assert.Equal(t, StateErrored, h.session.State())
}

func TestRead_MalformedIgnored(t *testing.T) {
	h := newHarness(t)
	res := newResults()

	require.True(t, h.session.Start(res.callback, Options{}))
	h.read(`{not json`)
	h.read(`{"uid":"   "}`)
	h.read(`{"device_id":"ESP32-01"}`)

	assert.Equal(t, StateScanning, h.session.State())
	assert.Equal(t, 1, h.router.RefCount(mqtt.TopicTagRead))
	assert.Empty(t, h.checker.seen())

	h.read(`{"uid":"AB12CD34"}`)
	assert.Equal(t, OutcomeSuccess, res.wait(t).Outcome)
}

// =============================================================================
// Timeout
// =============================================================================

func TestTimeout_ExactlyOnce(t *testing.T) {
	h := newHarness(t)
	res := newResults()

	require.True(t, h.session.Start(res.callback, Options{Timeout: 5 * time.Second}))
	timer := h.timers.get(0)
	assert.Equal(t, 5*time.Second, timer.d)

	timer.f()
	got := res.wait(t)
	assert.Equal(t, OutcomeTimeout, got.Outcome)
	assert.True(t, errors.Is(got.Err, ErrSessionTimeout))
	assert.Equal(t, StateTimedOut, h.session.State())
	assert.Equal(t, 0, h.router.RefCount(mqtt.TopicTagRead))

	// A second firing and a late card read change nothing.
	timer.f()
	assert.Equal(t, 0, h.read(`{"uid":"AB12CD34"}`))
	assert.Equal(t, 1, res.count())
	assert.Empty(t, h.checker.seen())
}

func TestTimeout_DuringCheckIsNoop(t *testing.T) {
	h := newHarness(t)
	h.checker.block = true
	res := newResults()

	require.True(t, h.session.Start(res.callback, Options{CheckTimeout: 50 * time.Millisecond}))
	h.read(`{"uid":"AB12CD34"}`)
	h.timers.get(0).f()

	// The check gives up on its own deadline and reports the error.
	got := res.wait(t)
	assert.Equal(t, OutcomeError, got.Outcome)
	assert.True(t, errors.Is(got.Err, context.DeadlineExceeded))
	assert.Equal(t, 1, res.count())
}

func TestReadAndTimeoutRace(t *testing.T) {
	for i := 0; i < 50; i++ {
		h := newHarness(t)
		res := newResults()
		require.True(t, h.session.Start(res.callback, Options{}))

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			h.read(`{"uid":"AB12CD34"}`)
		}()
		go func() {
			defer wg.Done()
			h.timers.get(0).f()
		}()
		wg.Wait()

		res.wait(t)
		time.Sleep(time.Millisecond)
		assert.Equal(t, 1, res.count(), "iteration %d", i)
	}
}

// =============================================================================
// Supersede and Stop
// =============================================================================

func TestStart_SupersedesPrevious(t *testing.T) {
	h := newHarness(t)
	first, second := newResults(), newResults()

	require.True(t, h.session.Start(first.callback, Options{}))
	require.True(t, h.session.Start(second.callback, Options{}))

	assert.Equal(t, 1, h.router.RefCount(mqtt.TopicTagRead))
	assert.True(t, h.timers.get(0).stopped.Load())

	// The first session's timer firing late must not resolve anything.
	h.timers.get(0).f()
	assert.Equal(t, StateScanning, h.session.State())

	assert.Equal(t, 1, h.read(`{"uid":"AB12CD34"}`))
	got := second.wait(t)
	assert.Equal(t, "session-2", got.SessionID)
	assert.Equal(t, 0, first.count())
}

func TestStart_SupersedesPendingCheck(t *testing.T) {
	h := newHarness(t)
	h.checker.block = true
	first, second := newResults(), newResults()

	require.True(t, h.session.Start(first.callback, Options{}))
	h.read(`{"uid":"AB12CD34"}`)
	require.Eventually(t, func() bool { return len(h.checker.seen()) == 1 }, time.Second, time.Millisecond)

	require.True(t, h.session.Start(second.callback, Options{}))
	assert.Equal(t, StateScanning, h.session.State())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, first.count())
}

func TestStop(t *testing.T) {
	h := newHarness(t)
	res := newResults()

	require.True(t, h.session.Start(res.callback, Options{}))
	h.session.Stop()
	h.session.Stop()

	assert.Equal(t, StateIdle, h.session.State())
	assert.Equal(t, 0, h.router.RefCount(mqtt.TopicTagRead))
	assert.True(t, h.timers.get(0).stopped.Load())

	h.timers.get(0).f()
	assert.Equal(t, 0, h.read(`{"uid":"AB12CD34"}`))
	assert.Equal(t, 0, res.count())
	assert.Equal(t, Snapshot{State: StateIdle}, h.session.Current())
}

func TestStop_DuringCheck(t *testing.T) {
	h := newHarness(t)
	h.checker.block = true
	res := newResults()

	require.True(t, h.session.Start(res.callback, Options{}))
	h.read(`{"uid":"AB12CD34"}`)
	require.Eventually(t, func() bool { return len(h.checker.seen()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, StateChecking, h.session.State())

	h.session.Stop()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, res.count())
	assert.Equal(t, StateIdle, h.session.State())
}

func TestCallback_CanRestart(t *testing.T) {
	h := newHarness(t)
	again := newResults()
	first := newResults()

	require.True(t, h.session.Start(func(r Result) {
		first.callback(r)
		h.session.Start(again.callback, Options{})
	}, Options{}))

	h.timers.get(0).f()
	assert.Equal(t, OutcomeTimeout, first.wait(t).Outcome)
	assert.Equal(t, StateScanning, h.session.State())
	assert.Equal(t, "session-2", h.session.Current().SessionID)
}

// =============================================================================
// Run
// =============================================================================

func TestRun(t *testing.T) {
	h := newHarness(t)

	go func() {
		for h.session.State() != StateScanning {
			time.Sleep(time.Millisecond)
		}
		h.read(`{"uid":"AB12CD34","device_id":"ESP32-01"}`)
	}()

	got, err := h.session.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, "AB12CD34", got.UID)
}

func TestRun_Cancelled(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.session.Run(ctx, Options{})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, StateIdle, h.session.State())
}

func TestRun_NotConnected(t *testing.T) {
	h := newHarness(t)
	h.conn.connected.Store(false)

	_, err := h.session.Run(context.Background(), Options{})
	assert.True(t, errors.Is(err, ErrNotConnected))
}
