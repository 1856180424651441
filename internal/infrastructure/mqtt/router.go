package mqtt

import (
	"reflect"
	"slices"
	"sync"
)

// Handler receives messages routed from a subscription pattern.
//
// Handlers run on the delivering goroutine and should not block for
// extended periods. They may call Subscribe and Unsubscribe.
//
// Returned errors are logged and do not affect other handlers.
type Handler interface {
	HandleMessage(topic string, payload []byte) error
}

// MessageHandler adapts a function to Handler.
//
// Function values cannot be compared, so subscribing the same
// MessageHandler twice registers it twice. Use the returned
// *Subscription to remove it.
type MessageHandler func(topic string, payload []byte) error

// HandleMessage calls f(topic, payload).
func (f MessageHandler) HandleMessage(topic string, payload []byte) error {
	return f(topic, payload)
}

// handlerComparable reports whether h can be compared with ==. The check
// is on the dynamic value: a struct type is comparable but panics on ==
// when one of its interface fields holds a func.
func handlerComparable(h Handler) bool {
	return reflect.ValueOf(h).Comparable()
}

// broker issues broker-level subscribe and unsubscribe calls. They must
// not block; the Client enqueues them on paho and returns.
type broker interface {
	brokerSubscribe(pattern string)
	brokerUnsubscribe(pattern string)
}

type registration struct {
	id         uint64
	handler    Handler
	comparable bool
}

type route struct {
	pattern string
	regs    []registration
}

// Router maps subscription patterns to handlers and fans inbound
// messages out to every matching handler.
//
// A broker subscription is issued when a pattern gets its first handler
// and removed when its last handler goes, so several UI surfaces can
// share one pattern without disturbing each other.
type Router struct {
	mu     sync.Mutex
	broker broker
	routes map[string]*route
	order  []string
	nextID uint64
	logger Logger
}

// Subscription is a handle to one handler registration.
type Subscription struct {
	router  *Router
	pattern string
	id      uint64
	once    sync.Once
}

// NewRouter creates a Router with no broker attached. Client.Router
// returns one wired to the connection; a standalone Router only
// dispatches locally.
func NewRouter(logger Logger) *Router {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Router{
		routes: make(map[string]*route),
		logger: logger,
	}
}

// SetLogger replaces the router's logger.
func (r *Router) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	r.mu.Lock()
	r.logger = logger
	r.mu.Unlock()
}

// Subscribe registers h for messages whose topic matches pattern.
//
// Subscribing a handler that is already registered on the same pattern
// returns a handle to the existing registration instead of adding a
// second one. This only applies to comparable handlers (pointers,
// plain structs); see MessageHandler.
//
// Returns nil if pattern is empty or h is nil.
func (r *Router) Subscribe(pattern string, h Handler) *Subscription {
	if pattern == "" || h == nil {
		return nil
	}

	comparable := handlerComparable(h)

	r.mu.Lock()
	defer r.mu.Unlock()

	rt, ok := r.routes[pattern]
	if ok && comparable {
		for _, reg := range rt.regs {
			if reg.comparable && reg.handler == h {
				return &Subscription{router: r, pattern: pattern, id: reg.id}
			}
		}
	}

	r.nextID++
	reg := registration{id: r.nextID, handler: h, comparable: comparable}

	if !ok {
		rt = &route{pattern: pattern}
		r.routes[pattern] = rt
		r.order = append(r.order, pattern)
	}
	rt.regs = append(rt.regs, reg)

	if len(rt.regs) == 1 && r.broker != nil {
		r.broker.brokerSubscribe(pattern)
	}

	return &Subscription{router: r, pattern: pattern, id: reg.id}
}

// Unsubscribe removes h from pattern. A nil h removes every handler on
// the pattern. Unknown patterns and handlers are ignored.
func (r *Router) Unsubscribe(pattern string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rt, ok := r.routes[pattern]
	if !ok {
		return
	}

	if h == nil {
		rt.regs = nil
	} else {
		if !handlerComparable(h) {
			return
		}
		rt.regs = slices.DeleteFunc(rt.regs, func(reg registration) bool {
			return reg.comparable && reg.handler == h
		})
	}

	r.dropIfEmptyLocked(rt)
}

// Pattern returns the pattern this subscription was registered on.
func (s *Subscription) Pattern() string {
	if s == nil {
		return ""
	}
	return s.pattern
}

// Unsubscribe removes this registration only. It is safe to call more
// than once and on a nil *Subscription.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.router == nil {
		return
	}
	s.once.Do(func() {
		s.router.remove(s.pattern, s.id)
	})
}

func (r *Router) remove(pattern string, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rt, ok := r.routes[pattern]
	if !ok {
		return
	}

	rt.regs = slices.DeleteFunc(rt.regs, func(reg registration) bool {
		return reg.id == id
	})
	r.dropIfEmptyLocked(rt)
}

// dropIfEmptyLocked deletes a route with no handlers and removes the
// broker subscription. Caller holds mu.
func (r *Router) dropIfEmptyLocked(rt *route) {
	if len(rt.regs) > 0 {
		return
	}

	delete(r.routes, rt.pattern)
	r.order = slices.DeleteFunc(r.order, func(p string) bool {
		return p == rt.pattern
	})

	if r.broker != nil {
		r.broker.brokerUnsubscribe(rt.pattern)
	}
}

// Dispatch delivers a message to every handler whose pattern matches
// topic, in pattern registration order and then handler registration
// order. Handlers run outside the router lock on a snapshot, so a
// handler may unsubscribe itself or others.
//
// Returns the number of handlers invoked.
func (r *Router) Dispatch(topic string, payload []byte) int {
	r.mu.Lock()
	var targets []Handler
	for _, pattern := range r.order {
		if !Match(pattern, topic) {
			continue
		}
		for _, reg := range r.routes[pattern].regs {
			targets = append(targets, reg.handler)
		}
	}
	logger := r.logger
	r.mu.Unlock()

	for _, h := range targets {
		deliver(logger, h, topic, payload)
	}
	return len(targets)
}

// deliver runs one handler with panic recovery and error logging.
func deliver(logger Logger, h Handler, topic string, payload []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("MQTT handler panic recovered",
				"topic", topic,
				"panic", rec,
			)
		}
	}()

	if err := h.HandleMessage(topic, payload); err != nil {
		logger.Warn("MQTT handler returned error",
			"topic", topic,
			"error", err,
		)
	}
}

// Resubscribe re-issues the broker subscription for every pattern that
// has handlers. The Client calls it after each successful connect since
// clean sessions do not keep subscriptions.
func (r *Router) Resubscribe() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.broker == nil {
		return
	}
	for _, pattern := range r.order {
		if len(r.routes[pattern].regs) > 0 {
			r.broker.brokerSubscribe(pattern)
		}
	}
}

// RefCount returns the number of live handler registrations on pattern.
func (r *Router) RefCount(pattern string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rt, ok := r.routes[pattern]; ok {
		return len(rt.regs)
	}
	return 0
}

// Patterns returns the subscribed patterns in registration order.
func (r *Router) Patterns() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.order)
}
