package mqtt

import (
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// fakeToken is a paho token that is either complete or never completes.
type fakeToken struct {
	err  error
	done chan struct{}
}

func doneToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func pendingToken() *fakeToken {
	return &fakeToken{done: make(chan struct{})}
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type publishedMsg struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakePaho records every call the Client makes on the paho client.
type fakePaho struct {
	opts         *pahomqtt.ClientOptions
	connectToken pahomqtt.Token

	mu           sync.Mutex
	connected    bool
	published    []publishedMsg
	subscribed   []string
	unsubscribed []string
	disconnects  int
}

func (f *fakePaho) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakePaho) IsConnectionOpen() bool { return f.IsConnected() }

func (f *fakePaho) Connect() pahomqtt.Token {
	tok := f.connectToken
	if ft, ok := tok.(*fakeToken); ok {
		select {
		case <-ft.done:
			if ft.err == nil {
				f.mu.Lock()
				f.connected = true
				f.mu.Unlock()
			}
		default:
		}
	}
	return tok
}

func (f *fakePaho) Disconnect(uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.disconnects++
}

func (f *fakePaho) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	var b []byte
	switch p := payload.(type) {
	case []byte:
		b = p
	case string:
		b = []byte(p)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, publishedMsg{topic: topic, qos: qos, retained: retained, payload: b})
	return doneToken(nil)
}

func (f *fakePaho) Subscribe(topic string, _ byte, _ pahomqtt.MessageHandler) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, topic)
	return doneToken(nil)
}

func (f *fakePaho) SubscribeMultiple(filters map[string]byte, _ pahomqtt.MessageHandler) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	for topic := range filters {
		f.subscribed = append(f.subscribed, topic)
	}
	return doneToken(nil)
}

func (f *fakePaho) Unsubscribe(topics ...string) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, topics...)
	return doneToken(nil)
}

func (f *fakePaho) AddRoute(string, pahomqtt.MessageHandler) {}

func (f *fakePaho) OptionsReader() pahomqtt.ClientOptionsReader {
	return pahomqtt.NewOptionsReader(f.opts)
}

func (f *fakePaho) publishedOn(topic string) []publishedMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []publishedMsg
	for _, m := range f.published {
		if m.topic == topic {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakePaho) disconnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}

func (f *fakePaho) subscriptions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.subscribed...)
}

func (f *fakePaho) unsubscriptions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.unsubscribed...)
}

// fakeFactory hands out one fakePaho per dial. Connect results are
// taken from results in order; once exhausted every dial succeeds.
type fakeFactory struct {
	mu      sync.Mutex
	results []pahomqtt.Token
	clients []*fakePaho
}

func (f *fakeFactory) newClient(opts *pahomqtt.ClientOptions) pahomqtt.Client {
	f.mu.Lock()
	defer f.mu.Unlock()

	tok := pahomqtt.Token(doneToken(nil))
	if len(f.results) > 0 {
		tok = f.results[0]
		f.results = f.results[1:]
	}

	pc := &fakePaho{opts: opts, connectToken: tok}
	f.clients = append(f.clients, pc)
	return pc
}

func (f *fakeFactory) dials() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

func (f *fakeFactory) last() *fakePaho {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.clients) == 0 {
		return nil
	}
	return f.clients[len(f.clients)-1]
}

// fakeTimers captures reconnect schedules instead of sleeping.
type fakeTimers struct {
	mu     sync.Mutex
	delays []time.Duration
	timers []*fakeTimer
}

type fakeTimer struct {
	mu      sync.Mutex
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

func (ft *fakeTimers) afterFunc(d time.Duration, fn func()) stopper {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	t := &fakeTimer{fn: fn}
	ft.delays = append(ft.delays, d)
	ft.timers = append(ft.timers, t)
	return t
}

func (ft *fakeTimers) scheduled() []time.Duration {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return append([]time.Duration(nil), ft.delays...)
}

// fireLatest runs the most recent timer unless it was stopped.
// Returns false if there was nothing to fire.
func (ft *fakeTimers) fireLatest() bool {
	ft.mu.Lock()
	if len(ft.timers) == 0 {
		ft.mu.Unlock()
		return false
	}
	t := ft.timers[len(ft.timers)-1]
	ft.mu.Unlock()

	t.mu.Lock()
	if t.stopped || t.fired {
		t.mu.Unlock()
		return false
	}
	t.fired = true
	t.mu.Unlock()

	t.fn()
	return true
}

// fireStale runs the most recent timer even if it was stopped, the way a
// real timer can fire just as it is being cancelled.
func (ft *fakeTimers) fireStale() {
	ft.mu.Lock()
	t := ft.timers[len(ft.timers)-1]
	ft.mu.Unlock()
	t.fn()
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}
