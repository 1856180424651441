package devicestatus

import "github.com/nerrad567/kost-rfid-core/internal/infrastructure/influxdb"

// StatusWriter is satisfied by *influxdb.Client.
type StatusWriter interface {
	WriteDeviceStatus(s influxdb.DeviceStatus)
}

// InfluxSink writes every heartbeat, changed or not, as a time-series point.
type InfluxSink struct {
	w StatusWriter
}

// NewInfluxSink creates a sink writing to w.
func NewInfluxSink(w StatusWriter) *InfluxSink {
	return &InfluxSink{w: w}
}

// DeviceStatusUpdated implements Sink.
func (s *InfluxSink) DeviceStatusUpdated(rec Record, changed bool) {
	point := influxdb.DeviceStatus{
		DeviceID:      rec.DeviceID,
		WiFiConnected: rec.WiFiConnected,
		MQTTConnected: rec.MQTTConnected,
		RFIDReady:     rec.RFIDReady,
		Changed:       changed,
		Seen:          rec.LastSeen,
	}
	if rec.FirmwareVersion != nil {
		point.FirmwareVersion = *rec.FirmwareVersion
	}
	s.w.WriteDeviceStatus(point)
}
