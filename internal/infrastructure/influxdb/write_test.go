package influxdb

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/kost-rfid-core/internal/infrastructure/config"
)

type fakeWriteAPI struct {
	mu      sync.Mutex
	points  []*write.Point
	flushes int
}

func (f *fakeWriteAPI) WritePoint(p *write.Point) {
	f.mu.Lock()
	f.points = append(f.points, p)
	f.mu.Unlock()
}

func (f *fakeWriteAPI) Flush() {
	f.mu.Lock()
	f.flushes++
	f.mu.Unlock()
}

type fakeServer struct {
	healthy bool
	err     error
	closed  bool
}

func (f *fakeServer) Ping(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return f.healthy, f.err
}

func (f *fakeServer) Close() { f.closed = true }

var fixedNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newFakeClient() (*Client, *fakeWriteAPI, *fakeServer) {
	w := &fakeWriteAPI{}
	s := &fakeServer{healthy: true}
	c := newClient(s, w, config.InfluxDBConfig{Enabled: true})
	c.now = func() time.Time { return fixedNow }
	return c, w, s
}

func tagMap(p *write.Point) map[string]string {
	out := make(map[string]string)
	for _, t := range p.TagList() {
		out[t.Key] = t.Value
	}
	return out
}

func fieldMap(p *write.Point) map[string]interface{} {
	out := make(map[string]interface{})
	for _, f := range p.FieldList() {
		out[f.Key] = f.Value
	}
	return out
}

// =============================================================================
// Write Tests
// =============================================================================

func TestWriteDeviceStatus(t *testing.T) {
	c, w, _ := newFakeClient()
	seen := fixedNow.Add(-time.Second)

	c.WriteDeviceStatus(DeviceStatus{
		DeviceID:        "ESP32-RFID-01",
		WiFiConnected:   true,
		RFIDReady:       true,
		FirmwareVersion: "1.4.2",
		Changed:         true,
		Seen:            seen,
	})

	if len(w.points) != 1 {
		t.Fatalf("points = %d, want 1", len(w.points))
	}
	p := w.points[0]
	if p.Name() != MeasurementDeviceStatus {
		t.Errorf("Name() = %q, want %q", p.Name(), MeasurementDeviceStatus)
	}
	tags := tagMap(p)
	if tags["device_id"] != "ESP32-RFID-01" || tags["firmware"] != "1.4.2" {
		t.Errorf("tags = %v", tags)
	}
	fields := fieldMap(p)
	if fields["wifi_connected"] != true || fields["mqtt_connected"] != false || fields["changed"] != true {
		t.Errorf("fields = %v", fields)
	}
	if !p.Time().Equal(seen) {
		t.Errorf("Time() = %v, want %v", p.Time(), seen)
	}
}

func TestWriteDeviceStatus_NoFirmwareUsesNow(t *testing.T) {
	c, w, _ := newFakeClient()

	c.WriteDeviceStatus(DeviceStatus{DeviceID: "GATE-2"})

	p := w.points[0]
	if _, ok := tagMap(p)["firmware"]; ok {
		t.Error("firmware tag set for empty firmware version")
	}
	if !p.Time().Equal(fixedNow) {
		t.Errorf("Time() = %v, want %v", p.Time(), fixedNow)
	}
}

func TestWriteScanResult(t *testing.T) {
	c, w, _ := newFakeClient()

	c.WriteScanResult("timeout", "", 30*time.Second)

	p := w.points[0]
	if p.Name() != MeasurementScan {
		t.Errorf("Name() = %q", p.Name())
	}
	tags := tagMap(p)
	if tags["outcome"] != "timeout" {
		t.Errorf("outcome tag = %q", tags["outcome"])
	}
	if _, ok := tags["device_id"]; ok {
		t.Error("device_id tag set for empty device")
	}
	if got := fieldMap(p)["elapsed_ms"]; got != int64(30000) {
		t.Errorf("elapsed_ms = %v (%T), want 30000", got, got)
	}
}

func TestWriteConnectionState(t *testing.T) {
	c, w, _ := newFakeClient()

	c.WriteConnectionState("reconnecting", 2)

	p := w.points[0]
	if tagMap(p)["state"] != "reconnecting" {
		t.Errorf("tags = %v", tagMap(p))
	}
	if got := fieldMap(p)["reconnect_attempts"]; got != int64(2) {
		t.Errorf("reconnect_attempts = %v (%T), want 2", got, got)
	}
}

func TestWriteAfterClose(t *testing.T) {
	c, w, s := newFakeClient()

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !s.closed || w.flushes != 1 {
		t.Errorf("Close() closed=%v flushes=%d, want true/1", s.closed, w.flushes)
	}

	c.WritePoint("anything", nil, map[string]interface{}{"v": 1})
	c.Flush()
	if len(w.points) != 0 {
		t.Errorf("points after Close = %d, want 0", len(w.points))
	}

	// Second close is a no-op.
	if err := c.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if w.flushes != 1 {
		t.Errorf("flushes = %d after second Close, want 1", w.flushes)
	}
}

// =============================================================================
// Health and Errors
// =============================================================================

func TestHealthCheck(t *testing.T) {
	c, _, s := newFakeClient()

	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	s.healthy = false
	if err := c.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() = nil for unhealthy server")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.healthy = true
	if err := c.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() = nil for cancelled context")
	}

	_ = c.Close()
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() after Close = %v, want ErrNotConnected", err)
	}
}

func TestHandleWriteErrors(t *testing.T) {
	c, _, _ := newFakeClient()

	got := make(chan error, 1)
	c.SetOnError(func(err error) { got <- err })

	ch := make(chan error, 1)
	ch <- errors.New("bucket not found")
	close(ch)
	c.handleWriteErrors(ch)

	select {
	case err := <-got:
		if !errors.Is(err, ErrWriteFailed) {
			t.Errorf("callback error = %v, want ErrWriteFailed", err)
		}
	default:
		t.Fatal("onError not called")
	}
}
