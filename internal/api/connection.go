package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/nerrad567/kost-rfid-core/internal/audit"
	"github.com/nerrad567/kost-rfid-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/kost-rfid-core/internal/realtime"
	"github.com/nerrad567/kost-rfid-core/internal/rfid"
)

// defaultPublishQoS is used when a publish request omits qos.
const defaultPublishQoS = 1

// ConnectionResponse is the body of the /connection endpoints. System
// holds the last kost_system/status report from each other client.
type ConnectionResponse struct {
	realtime.ConnectionInfo
	ClientID      string                       `json:"client_id"`
	Subscriptions []string                     `json:"subscriptions"`
	System        map[string]rfid.SystemStatus `json:"system"`
	Error         string                       `json:"error,omitempty"`
}

func (s *Server) connectionResponse() ConnectionResponse {
	client := s.service.Client()
	return ConnectionResponse{
		ConnectionInfo: realtime.ConnectionView(client.Status()),
		ClientID:       client.ClientID(),
		Subscriptions:  client.Router().Patterns(),
		System:         s.service.SystemStatuses(),
	}
}

// handleGetConnection returns the broker connection status.
func (s *Server) handleGetConnection(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.connectionResponse())
}

// handleConnect triggers an explicit connect, which also resets the
// reconnect budget.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	connected, err := s.service.Connect(r.Context())
	details := map[string]any{"connected": connected}
	if err != nil {
		details["error"] = err.Error()
	}
	s.auditLog(r, audit.ActionConnect, audit.TargetBroker, s.service.Client().ClientID(), details)

	if connected {
		writeJSON(w, http.StatusOK, s.connectionResponse())
		return
	}

	switch {
	case errors.Is(err, mqtt.ErrNotConfigured):
		writeError(w, http.StatusConflict, ErrCodeNotConfigured, err.Error())
	case errors.Is(err, mqtt.ErrAuthentication):
		writeError(w, http.StatusBadGateway, ErrCodeBrokerAuth, err.Error())
	case err != nil:
		writeError(w, http.StatusServiceUnavailable, ErrCodeBrokerUnavailable, err.Error())
	default:
		writeError(w, http.StatusServiceUnavailable, ErrCodeBrokerUnavailable, "connect did not complete")
	}
}

// handleDisconnect closes the broker connection and stops any scan.
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	s.service.Disconnect()
	s.auditLog(r, audit.ActionDisconnect, audit.TargetBroker, s.service.Client().ClientID(), nil)
	writeJSON(w, http.StatusOK, s.connectionResponse())
}

// PublishRequest is the body of POST /publish.
//
// A JSON string payload is published as its text; any other JSON value is
// published as encoded.
type PublishRequest struct {
	Topic    string          `json:"topic"`
	Payload  json.RawMessage `json:"payload"`
	QoS      *int            `json:"qos,omitempty"`
	Retained bool            `json:"retained"`
}

// handlePublish publishes a raw message.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	req.Topic = strings.TrimSpace(req.Topic)
	if req.Topic == "" {
		writeBadRequest(w, "topic is required")
		return
	}
	if strings.ContainsAny(req.Topic, "+#") {
		writeBadRequest(w, "topic must not contain wildcards")
		return
	}

	qos := defaultPublishQoS
	if req.QoS != nil {
		qos = *req.QoS
	}
	if qos < 0 || qos > 2 {
		writeBadRequest(w, "qos must be 0, 1, or 2")
		return
	}

	payload := []byte(req.Payload)
	var text string
	if err := json.Unmarshal(req.Payload, &text); err == nil {
		payload = []byte(text)
	}

	if !s.service.Client().Publish(req.Topic, payload, byte(qos), req.Retained) {
		writeNotConnected(w)
		return
	}

	s.auditLog(r, audit.ActionPublish, audit.TargetTopic, req.Topic, map[string]any{
		"bytes":    len(payload),
		"qos":      qos,
		"retained": req.Retained,
	})
	s.logger.Info("message published via API",
		"topic", req.Topic,
		"bytes", len(payload),
		"request_id", r.Context().Value(ctxKeyRequestID),
	)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"topic":     req.Topic,
		"published": true,
	})
}
