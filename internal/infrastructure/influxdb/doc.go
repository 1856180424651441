// Package influxdb writes RFID reader telemetry to InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, batched non-blocking writes and health monitoring.
//
// Three measurements are written:
//   - rfid_device_status: every reader heartbeat, tagged by device_id
//   - rfid_scans: one point per finished scan session, tagged by outcome
//   - mqtt_connection: broker connection state changes
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteScanResult("success", "ESP32-RFID-01", 4200*time.Millisecond)
//
// # Error Handling
//
// Writes are non-blocking; batch errors are delivered to the SetOnError
// callback wrapped in ErrWriteFailed. Connection and health check errors
// are returned directly.
package influxdb
