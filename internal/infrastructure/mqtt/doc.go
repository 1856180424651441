// Package mqtt provides the broker connection for the Kost RFID portal.
//
// This package manages:
//   - Connection to the broker with credential validation before any I/O
//   - Failure classification (authentication vs. transient)
//   - Reconnection with exponential backoff and a fixed attempt budget
//   - Topic routing with reference-counted broker subscriptions
//   - Last Will and Testament (LWT) for offline detection
//   - A connection status observable
//
// # Architecture
//
// RFID readers (ESP32) and the admin portal share one broker. Readers
// publish card reads and heartbeats; the portal publishes commands.
//
//	RFID Readers ↔ MQTT Broker ↔ Client → Router → handlers
//
// # Reconnect Policy
//
//   - Missing or placeholder parameters: ErrNotConfigured, never retried
//   - Broker rejects credentials: budget exhausted at once, no retry
//   - Timeout, refused, reset, lost connection: retried after
//     BaseDelay * 2^N where N is the number of consecutive failures
//   - After MaxAttempts failures nothing is scheduled until Connect
//
// # Usage
//
//	client := mqtt.New(cfg.MQTT, mqtt.WithLogger(log))
//	if _, err := client.Connect(ctx); err != nil {
//	    log.Warn("mqtt offline", "error", err)
//	}
//	defer client.Close()
//
//	sub := client.Subscribe(mqtt.TopicDeviceStatus, cache)
//	defer sub.Unsubscribe()
//
//	client.Publish(mqtt.TopicCommand, payload, 1, false)
package mqtt
