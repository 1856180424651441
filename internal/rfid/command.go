package rfid

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/kost-rfid-core/internal/infrastructure/mqtt"
)

// CommandSender identifies the portal in command envelopes.
const CommandSender = "admin"

// commandQoS is at-least-once; readers treat commands as idempotent.
const commandQoS = 1

// Publisher is the publish side of the connection. Publish queues and
// returns; PublishWait blocks until the broker acknowledges.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) bool
	PublishWait(ctx context.Context, topic string, payload []byte, qos byte, retained bool) error
}

// CommandPublisher sends admin commands to readers on rfid/command.
type CommandPublisher struct {
	pub Publisher
	now func() time.Time
}

// NewCommandPublisher creates a CommandPublisher on top of pub.
func NewCommandPublisher(pub Publisher) *CommandPublisher {
	return &CommandPublisher{pub: pub, now: time.Now}
}

// Send publishes {command, device_id, timestamp, payload, from:"admin"}.
//
// An empty deviceID targets DefaultDeviceID. A nil payload is sent as an
// empty object. There is no retry; pair with a CommandResponse
// subscription when confirmation matters.
//
// Returns false if command is empty or the connection refused the publish.
func (p *CommandPublisher) Send(deviceID, command string, payload map[string]any) bool {
	b, ok := p.Envelope(deviceID, command, payload)
	if !ok {
		return false
	}
	return p.pub.Publish(mqtt.TopicCommand, b, commandQoS, false)
}

// SendWait publishes like Send but waits for the broker to acknowledge,
// for callers that disconnect right after sending.
func (p *CommandPublisher) SendWait(ctx context.Context, deviceID, command string, payload map[string]any) error {
	b, ok := p.Envelope(deviceID, command, payload)
	if !ok {
		return ErrEmptyCommand
	}
	if err := p.pub.PublishWait(ctx, mqtt.TopicCommand, b, commandQoS, false); err != nil {
		return fmt.Errorf("sending %s to %s: %w", strings.TrimSpace(command), deviceOrDefault(deviceID), err)
	}
	return nil
}

// Envelope builds the JSON command without publishing it.
func (p *CommandPublisher) Envelope(deviceID, command string, payload map[string]any) ([]byte, bool) {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, false
	}
	if payload == nil {
		payload = map[string]any{}
	}

	b, err := json.Marshal(Command{
		Command:   command,
		DeviceID:  deviceOrDefault(deviceID),
		Timestamp: p.now().UnixMilli(),
		Payload:   payload,
		From:      CommandSender,
	})
	if err != nil {
		return nil, false
	}
	return b, true
}
