package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/kost-rfid-core/internal/audit"
)

// handleListDevices returns every known reader with its online flag.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.service.DeviceList()
	writeJSON(w, http.StatusOK, map[string]any{
		"devices":           devices,
		"count":             len(devices),
		"tolerance_seconds": int(s.service.DeviceTolerance().Seconds()),
	})
}

// handleGetDevice returns one reader.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	dev, ok := s.service.Device(id)
	if !ok {
		writeNotFound(w, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// handleDeviceHistory returns a reader's recorded status changes, newest
// first. Accepts ?limit= (clamped by the repository).
func (s *Server) handleDeviceHistory(w http.ResponseWriter, r *http.Request) {
	repo := s.service.History()
	if repo == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "status history is not enabled")
		return
	}

	id := chi.URLParam(r, "id")
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := repo.GetHistory(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("loading device history failed", "device_id", id, "error", err)
		writeInternalError(w, "failed to load history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"history":   entries,
		"count":     len(entries),
	})
}

// handleLastCommandResponse returns the most recent reader reply seen on
// rfid/command.
func (s *Server) handleLastCommandResponse(w http.ResponseWriter, _ *http.Request) {
	resp, ok := s.service.LastCommandResponse()
	if !ok {
		writeNotFound(w, "no command response received")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// CommandRequest is the body of POST /devices/{id}/commands.
type CommandRequest struct {
	Command string         `json:"command"`
	Payload map[string]any `json:"payload,omitempty"`
}

// handleDeviceCommand publishes a command envelope for the reader.
// Delivery is fire-and-forget; the reader's response arrives as a
// command_response event.
func (s *Server) handleDeviceCommand(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		writeBadRequest(w, "command is required")
		return
	}

	id := chi.URLParam(r, "id")
	if !s.service.SendCommand(id, req.Command, req.Payload) {
		writeNotConnected(w)
		return
	}

	s.auditLog(r, audit.ActionCommand, audit.TargetDevice, id, map[string]any{
		"command": req.Command,
	})
	writeJSON(w, http.StatusAccepted, map[string]any{
		"device_id": id,
		"command":   req.Command,
		"sent":      true,
	})
}
