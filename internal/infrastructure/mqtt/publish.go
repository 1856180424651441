package mqtt

import (
	"context"
	"fmt"
)

// Maximum payload size for MQTT messages (1MB).
// This prevents resource exhaustion and aligns with typical broker limits.
const maxPayloadSize = 1 << 20 // 1MB

// validatePublish checks the arguments shared by Publish and PublishWait.
func validatePublish(topic string, payload []byte, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPayloadTooLarge, len(payload), maxPayloadSize)
	}
	return nil
}

// Publish enqueues a message and returns without waiting for the broker.
//
// Parameters:
//   - topic: The topic to publish to (e.g., "rfid/command")
//   - payload: The message payload (typically JSON, max 1MB)
//   - qos: Quality of Service level (0, 1, or 2)
//   - retained: Whether the broker should retain the message for new subscribers
//
// QoS Levels:
//   - 0: At most once (fire and forget)
//   - 1: At least once (guaranteed delivery, may duplicate)
//   - 2: Exactly once (guaranteed, no duplicates, higher overhead)
//
// Returns:
//   - bool: false without side effects when not connected or the
//     arguments are invalid; true once the message is queued
//
// Delivery failures after queueing are logged, not returned.
//
// Example:
//
//	ok := client.Publish(mqtt.TopicCommand, []byte(`{"command":"ping"}`), 1, false)
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) bool {
	if err := validatePublish(topic, payload, qos); err != nil {
		c.logger.Debug("MQTT publish rejected", "topic", topic, "error", err)
		return false
	}

	pc := c.connection()
	if pc == nil {
		return false
	}

	token := pc.Publish(topic, qos, retained, payload)
	go c.watchToken("publish", topic, token)
	return true
}

// PublishWait publishes and waits for the broker to acknowledge.
// Reader commands sent from the CLI go through here before disconnecting.
//
// Returns:
//   - error: nil on success, or wrapped error describing the failure
func (c *Client) PublishWait(ctx context.Context, topic string, payload []byte, qos byte, retained bool) error {
	if err := validatePublish(topic, payload, qos); err != nil {
		return err
	}

	pc := c.connection()
	if pc == nil {
		return ErrNotConnected
	}

	token := pc.Publish(topic, qos, retained, payload)
	if err := waitToken(ctx, token, defaultPublishTimeout); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}
