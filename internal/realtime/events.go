package realtime

import (
	"sync"
	"time"
)

// Event types pushed to listeners.
const (
	EventConnection      = "connection"
	EventDeviceStatus    = "device_status"
	EventScan            = "scan"
	EventCommandResponse = "command_response"
	EventSystemStatus    = "system_status"
)

// Event is one push notification.
type Event struct {
	Type      string    `json:"type"`
	Topic     string    `json:"topic,omitempty"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Listener receives events. Listeners are called synchronously on the
// goroutine that produced the event and must not block.
type Listener func(Event)

type listenerEntry struct {
	id uint64
	fn Listener
}

// listeners is a registration list with removal by id.
type listeners struct {
	mu     sync.RWMutex
	nextID uint64
	list   []listenerEntry
}

func (l *listeners) add(fn Listener) (remove func()) {
	l.mu.Lock()
	l.nextID++
	id := l.nextID
	l.list = append(l.list, listenerEntry{id: id, fn: fn})
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for i, e := range l.list {
			if e.id == id {
				l.list = append(l.list[:i], l.list[i+1:]...)
				return
			}
		}
	}
}

func (l *listeners) snapshot() []Listener {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Listener, len(l.list))
	for i, e := range l.list {
		out[i] = e.fn
	}
	return out
}
