package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementDeviceStatus = "rfid_device_status"
	MeasurementScan         = "rfid_scans"
	MeasurementConnection   = "mqtt_connection"
)

// DeviceStatus is one reader heartbeat as written to InfluxDB.
type DeviceStatus struct {
	DeviceID        string
	WiFiConnected   bool
	MQTTConnected   bool
	RFIDReady       bool
	FirmwareVersion string
	Changed         bool
	Seen            time.Time
}

// WriteDeviceStatus records a reader heartbeat. firmware is a tag so
// upgrades can be grouped; the booleans are fields.
func (c *Client) WriteDeviceStatus(s DeviceStatus) {
	tags := map[string]string{"device_id": s.DeviceID}
	if s.FirmwareVersion != "" {
		tags["firmware"] = s.FirmwareVersion
	}

	ts := s.Seen
	if ts.IsZero() {
		ts = c.now()
	}

	c.WritePointWithTime(MeasurementDeviceStatus, tags, map[string]interface{}{
		"wifi_connected": s.WiFiConnected,
		"mqtt_connected": s.MQTTConnected,
		"rfid_ready":     s.RFIDReady,
		"changed":        s.Changed,
	}, ts)
}

// WriteScanResult records one finished scan session.
//
// Parameters:
//   - outcome: success, conflict, timeout or error
//   - deviceID: Reader that produced the tag read (empty on timeout)
//   - elapsed: Time from Start to the result
func (c *Client) WriteScanResult(outcome, deviceID string, elapsed time.Duration) {
	tags := map[string]string{"outcome": outcome}
	if deviceID != "" {
		tags["device_id"] = deviceID
	}
	c.WritePoint(MeasurementScan, tags, map[string]interface{}{
		"elapsed_ms": elapsed.Milliseconds(),
	})
}

// WriteConnectionState records a broker connection state change.
func (c *Client) WriteConnectionState(state string, reconnectAttempts int) {
	c.WritePoint(MeasurementConnection,
		map[string]string{"state": state},
		map[string]interface{}{"reconnect_attempts": reconnectAttempts},
	)
}

// WritePoint writes a custom point stamped now.
//
// Example:
//
//	client.WritePoint("api_requests",
//	    map[string]string{"route": "/scan"},
//	    map[string]interface{}{"count": 1})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}
	c.WritePointWithTime(measurement, tags, fields, c.now())
}

// WritePointWithTime writes a custom point with a specific timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
