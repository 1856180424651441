package devicestatus

import (
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/kost-rfid-core/internal/rfid"
)

// DefaultDeviceID is the record key for status reports without device_id.
const DefaultDeviceID = rfid.DefaultDeviceID

// ErrParse is returned by Ingest for malformed payloads.
var ErrParse = rfid.ErrParse

// Logger defines the logging interface used by the Cache.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Record is the last known status of one reader.
type Record struct {
	DeviceID        string    `json:"device_id"`
	WiFiConnected   bool      `json:"wifi_connected"`
	MQTTConnected   bool      `json:"mqtt_connected"`
	RFIDReady       bool      `json:"rfid_ready"`
	IPAddress       *string   `json:"ip_address,omitempty"`
	Uptime          *string   `json:"uptime,omitempty"`
	FirmwareVersion *string   `json:"firmware_version,omitempty"`
	LastSeen        time.Time `json:"last_seen"`
}

// OnlineAt reports whether the record was seen within tolerance of now.
func (r Record) OnlineAt(now time.Time, tolerance time.Duration) bool {
	return now.Sub(r.LastSeen) <= tolerance
}

// sameState reports whether two records differ only in LastSeen.
func sameState(a, b Record) bool {
	return a.DeviceID == b.DeviceID &&
		a.WiFiConnected == b.WiFiConnected &&
		a.MQTTConnected == b.MQTTConnected &&
		a.RFIDReady == b.RFIDReady &&
		equalPtr(a.IPAddress, b.IPAddress) &&
		equalPtr(a.Uptime, b.Uptime) &&
		equalPtr(a.FirmwareVersion, b.FirmwareVersion)
}

func equalPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Sink receives every ingested record. changed is true for a reader's
// first report and whenever anything other than LastSeen differs from
// the previous report. Sinks are called outside the cache lock and must
// not block.
type Sink interface {
	DeviceStatusUpdated(rec Record, changed bool)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(rec Record, changed bool)

// DeviceStatusUpdated calls f(rec, changed).
func (f SinkFunc) DeviceStatusUpdated(rec Record, changed bool) { f(rec, changed) }

// Cache holds one Record per reader.
//
// All public methods are thread-safe.
type Cache struct {
	mu      sync.RWMutex
	records map[string]Record
	order   []string // first-seen order
	now     func() time.Time

	sinkMu sync.RWMutex
	sinks  []Sink

	logger Logger
}

// New creates an empty Cache.
func New() *Cache {
	return &Cache{
		records: make(map[string]Record),
		now:     time.Now,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the cache.
func (c *Cache) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.logger = logger
}

// AddSink registers s to receive every ingested record.
func (c *Cache) AddSink(s Sink) {
	if s == nil {
		return
	}
	c.sinkMu.Lock()
	c.sinks = append(c.sinks, s)
	c.sinkMu.Unlock()
}

// Ingest parses an rfid/status payload and overwrites that reader's
// record, stamped with the current time. A report without device_id is
// stored under DefaultDeviceID.
//
// Returns:
//   - Record: the stored record
//   - error: ErrParse (wrapped) for malformed JSON; the cache is unchanged
func (c *Cache) Ingest(payload []byte) (Record, error) {
	st, err := rfid.ParseDeviceStatus(payload)
	if err != nil {
		return Record{}, fmt.Errorf("ingesting device status: %w", err)
	}
	return c.Put(st), nil
}

// Put stores an already decoded status report.
func (c *Cache) Put(st rfid.DeviceStatus) Record {
	rec := Record{
		DeviceID:        st.Device(),
		WiFiConnected:   st.WiFiConnected,
		MQTTConnected:   st.MQTTConnected,
		RFIDReady:       st.RFIDReady,
		IPAddress:       st.IPAddress,
		Uptime:          st.UptimeString(),
		FirmwareVersion: st.FirmwareVersion,
	}

	c.mu.Lock()
	rec.LastSeen = c.now()
	prev, seen := c.records[rec.DeviceID]
	if !seen {
		c.order = append(c.order, rec.DeviceID)
	}
	c.records[rec.DeviceID] = rec
	c.mu.Unlock()

	changed := !seen || !sameStateIgnoringUptime(prev, rec)
	if !seen {
		c.logger.Info("reader first seen", "device_id", rec.DeviceID)
	}

	c.notify(rec, changed)
	return rec
}

// sameStateIgnoringUptime compares everything except LastSeen and Uptime,
// which ticks on every heartbeat.
func sameStateIgnoringUptime(a, b Record) bool {
	a.Uptime, b.Uptime = nil, nil
	return sameState(a, b)
}

func (c *Cache) notify(rec Record, changed bool) {
	c.sinkMu.RLock()
	sinks := make([]Sink, len(c.sinks))
	copy(sinks, c.sinks)
	c.sinkMu.RUnlock()

	for _, s := range sinks {
		c.callSink(s, rec, changed)
	}
}

func (c *Cache) callSink(s Sink, rec Record, changed bool) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("device status sink panic recovered",
				"device_id", rec.DeviceID,
				"panic", r,
			)
		}
	}()
	s.DeviceStatusUpdated(rec, changed)
}

// HandleMessage lets the cache subscribe to rfid/status on the router.
func (c *Cache) HandleMessage(_ string, payload []byte) error {
	_, err := c.Ingest(payload)
	return err
}

// IsOnline reports whether the reader exists and was seen within
// tolerance. Staleness is computed now; nothing expires in the background.
func (c *Cache) IsOnline(deviceID string, tolerance time.Duration) bool {
	c.mu.RLock()
	rec, ok := c.records[deviceID]
	now := c.now()
	c.mu.RUnlock()

	return ok && rec.OnlineAt(now, tolerance)
}

// Get returns the record for deviceID.
func (c *Cache) Get(deviceID string) (Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.records[deviceID]
	return rec, ok
}

// Snapshot returns all records in the order readers were first seen.
func (c *Cache) Snapshot() []Record {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Record, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.records[id])
	}
	return out
}

// Len returns the number of known readers.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// Now returns the cache's clock reading, so callers judge staleness
// against the same clock that stamped LastSeen.
func (c *Cache) Now() time.Time {
	return c.now()
}
