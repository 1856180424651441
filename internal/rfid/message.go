package rfid

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nerrad567/kost-rfid-core/internal/infrastructure/mqtt"
)

// DefaultDeviceID is assumed when a reader omits device_id. Single-reader
// deployments never send one.
const DefaultDeviceID = "ESP32-RFID-01"

// Kind identifies a Message variant.
type Kind string

// Message kinds.
const (
	KindTagRead         Kind = "tag_read"
	KindDeviceStatus    Kind = "device_status"
	KindCommand         Kind = "command"
	KindCommandResponse Kind = "command_response"
	KindSystemStatus    Kind = "system_status"
	KindUnknown         Kind = "unknown"
)

// Message is a decoded inbound payload.
type Message interface {
	Kind() Kind
}

// TagRead is a card read published on rfid/tags.
type TagRead struct {
	UID            string   `json:"uid"`
	DeviceID       string   `json:"device_id,omitempty"`
	SignalStrength *float64 `json:"signal_strength,omitempty"`
	Timestamp      *int64   `json:"timestamp,omitempty"`
}

// Kind implements Message.
func (TagRead) Kind() Kind { return KindTagRead }

// NormalizedUID returns the UID trimmed and uppercased.
func (t TagRead) NormalizedUID() string { return NormalizeUID(t.UID) }

// Device returns the reader ID, or DefaultDeviceID when absent.
func (t TagRead) Device() string { return deviceOrDefault(t.DeviceID) }

// DeviceStatus is a reader heartbeat published on rfid/status.
type DeviceStatus struct {
	DeviceID        string      `json:"device_id,omitempty"`
	WiFiConnected   bool        `json:"wifi_connected"`
	MQTTConnected   bool        `json:"mqtt_connected"`
	RFIDReady       bool        `json:"rfid_ready"`
	IPAddress       *string     `json:"device_ip,omitempty"`
	Uptime          *flexString `json:"uptime,omitempty"`
	FirmwareVersion *string     `json:"firmware_version,omitempty"`
}

// Kind implements Message.
func (DeviceStatus) Kind() Kind { return KindDeviceStatus }

// Device returns the reader ID, or DefaultDeviceID when absent.
func (s DeviceStatus) Device() string { return deviceOrDefault(s.DeviceID) }

// Command is an admin command envelope on rfid/command. The portal sees
// its own commands echoed back by the broker.
type Command struct {
	Command   string         `json:"command"`
	DeviceID  string         `json:"device_id"`
	Timestamp int64          `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
	From      string         `json:"from"`
}

// Kind implements Message.
func (Command) Kind() Kind { return KindCommand }

// CommandResponse is a reader's answer on rfid/command, typically the
// access decision for a presented card.
type CommandResponse struct {
	UID           string `json:"uid"`
	Status        string `json:"status"`
	User          string `json:"user"`
	Message       string `json:"message"`
	AccessGranted bool   `json:"access_granted"`
}

// Kind implements Message.
func (CommandResponse) Kind() Kind { return KindCommandResponse }

// SystemStatus is a message on kost_system/status. The format is loose:
// known fields are extracted and the full object is kept in Raw.
type SystemStatus struct {
	Status    string          `json:"status"`
	ClientID  string          `json:"client_id,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
	Raw       json.RawMessage `json:"-"`
}

// Kind implements Message.
func (SystemStatus) Kind() Kind { return KindSystemStatus }

// Unknown carries a payload on a topic this package does not model.
type Unknown struct {
	Topic   string
	Payload []byte
}

// Kind implements Message.
func (Unknown) Kind() Kind { return KindUnknown }

// NormalizeUID trims and uppercases a card UID so comparisons are
// case-insensitive.
func NormalizeUID(uid string) string {
	return strings.ToUpper(strings.TrimSpace(uid))
}

func deviceOrDefault(id string) string {
	if strings.TrimSpace(id) == "" {
		return DefaultDeviceID
	}
	return id
}

// Parse decodes payload according to topic.
//
// Returns:
//   - Message: the decoded variant; Unknown for unmodelled topics
//   - error: ErrParse (wrapped) if the payload is malformed
func Parse(topic string, payload []byte) (Message, error) {
	switch topic {
	case mqtt.TopicTagRead:
		return ParseTagRead(payload)
	case mqtt.TopicDeviceStatus:
		return ParseDeviceStatus(payload)
	case mqtt.TopicCommand:
		return parseCommandTopic(payload)
	case mqtt.TopicSystemStatus:
		var s SystemStatus
		if err := decode(payload, &s); err != nil {
			return nil, err
		}
		s.Raw = append(json.RawMessage(nil), payload...)
		return s, nil
	default:
		return Unknown{Topic: topic, Payload: payload}, nil
	}
}

// ParseTagRead decodes a card read. A read without a UID is rejected.
func ParseTagRead(payload []byte) (TagRead, error) {
	var t TagRead
	if err := decode(payload, &t); err != nil {
		return TagRead{}, err
	}
	if NormalizeUID(t.UID) == "" {
		return TagRead{}, fmt.Errorf("%w: %w", ErrParse, ErrMissingUID)
	}
	return t, nil
}

// ParseDeviceStatus decodes a reader status report.
func ParseDeviceStatus(payload []byte) (DeviceStatus, error) {
	var s DeviceStatus
	if err := decode(payload, &s); err != nil {
		return DeviceStatus{}, err
	}
	return s, nil
}

// parseCommandTopic tells an admin command echo from a reader response.
func parseCommandTopic(payload []byte) (Message, error) {
	var probe map[string]json.RawMessage
	if err := decode(payload, &probe); err != nil {
		return nil, err
	}

	if _, ok := probe["command"]; ok {
		var c Command
		if err := decode(payload, &c); err != nil {
			return nil, err
		}
		return c, nil
	}

	_, hasUID := probe["uid"]
	_, hasGranted := probe["access_granted"]
	_, hasStatus := probe["status"]
	if hasUID || hasGranted || hasStatus {
		var r CommandResponse
		if err := decode(payload, &r); err != nil {
			return nil, err
		}
		return r, nil
	}

	return Unknown{Topic: mqtt.TopicCommand, Payload: payload}, nil
}

func decode(payload []byte, v any) error {
	if len(bytes.TrimSpace(payload)) == 0 {
		return fmt.Errorf("%w: empty payload", ErrParse)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %w", ErrParse, err)
	}
	return nil
}

// flexString accepts a JSON string or number. Readers report uptime
// either as "1h 2m" or as seconds.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// String returns the value, or "" for a nil pointer.
func (f *flexString) String() string {
	if f == nil {
		return ""
	}
	return string(*f)
}

// UptimeString returns the reported uptime, or nil when absent.
func (s DeviceStatus) UptimeString() *string {
	if s.Uptime == nil {
		return nil
	}
	v := s.Uptime.String()
	return &v
}

// Decode adapts fn into a router handler that parses each message before
// calling fn. Malformed payloads are returned as errors, which the router
// logs and drops without affecting other handlers.
func Decode(fn func(topic string, msg Message)) mqtt.Handler {
	return mqtt.MessageHandler(func(topic string, payload []byte) error {
		msg, err := Parse(topic, payload)
		if err != nil {
			return err
		}
		fn(topic, msg)
		return nil
	})
}
