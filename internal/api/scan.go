package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/nerrad567/kost-rfid-core/internal/audit"
	"github.com/nerrad567/kost-rfid-core/internal/cards"
	"github.com/nerrad567/kost-rfid-core/internal/scan"
)

// maxScanTimeout caps a client-requested scan timeout.
const maxScanTimeout = 5 * time.Minute

// ScanRequest is the body of POST /scan. All fields are optional.
type ScanRequest struct {
	// TimeoutMS overrides scan.timeout_ms.
	TimeoutMS int `json:"timeout_ms"`

	// UserID is the tenant the card is for. Empty means any existing
	// card is a conflict.
	UserID string `json:"user_id"`
}

// handleStartScan starts a scan session, superseding any current one.
// The result is pushed on the scan channel and visible via GET /scan.
func (s *Server) handleStartScan(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.TimeoutMS < 0 {
		writeBadRequest(w, "timeout_ms must not be negative")
		return
	}

	timeout := time.Duration(req.TimeoutMS) * time.Millisecond
	if timeout > maxScanTimeout {
		writeBadRequest(w, "timeout_ms exceeds "+maxScanTimeout.String())
		return
	}

	snap, ok := s.service.StartScan(scan.Options{Timeout: timeout, UserID: req.UserID}, nil)
	if !ok {
		writeNotConnected(w)
		return
	}

	s.auditLog(r, audit.ActionScanStart, audit.TargetScan, snap.SessionID, map[string]any{
		"user_id":    req.UserID,
		"timeout_ms": snap.TimeoutMS,
	})
	p, _ := principalFrom(r.Context()) //nolint:errcheck // route is authenticated
	s.logger.Info("scan started via API",
		"session_id", snap.SessionID,
		"requested_by", p.UserID,
		"user_id", req.UserID,
	)
	writeJSON(w, http.StatusAccepted, snap)
}

// handleGetScan returns the current session and its last result.
func (s *Server) handleGetScan(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Session().Current())
}

// handleStopScan cancels the current session without a result.
func (s *Server) handleStopScan(w http.ResponseWriter, r *http.Request) {
	sessionID := s.service.Session().Current().SessionID
	s.service.StopScan()
	if sessionID != "" {
		s.auditLog(r, audit.ActionScanStop, audit.TargetScan, sessionID, nil)
	}
	writeJSON(w, http.StatusOK, s.service.Session().Current())
}

// CreateCardRequest is the body of POST /cards.
type CreateCardRequest struct {
	UID      string  `json:"uid"`
	UserID   string  `json:"user_id"`
	RoomID   *string `json:"room_id,omitempty"`
	Label    *string `json:"label,omitempty"`
	DeviceID *string `json:"device_id,omitempty"`
}

// handleCreateCard registers a card, typically after a successful or
// "use anyway" scan.
func (s *Server) handleCreateCard(w http.ResponseWriter, r *http.Request) {
	var req CreateCardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	card := &cards.Card{
		UID:      req.UID,
		UserID:   req.UserID,
		RoomID:   req.RoomID,
		Label:    req.Label,
		DeviceID: req.DeviceID,
	}

	err := s.service.CreateCard(r.Context(), card)
	switch {
	case err == nil:
		s.auditLog(r, audit.ActionCardCreate, audit.TargetCard, card.UID, map[string]any{
			"user_id": card.UserID,
		})
		writeJSON(w, http.StatusCreated, card)
	case errors.Is(err, cards.ErrInvalidCard):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, cards.ErrDuplicateCard):
		writeError(w, http.StatusConflict, ErrCodeConflict, "card already registered")
	case errors.Is(err, cards.ErrBackend):
		s.logger.Error("card backend rejected create", "uid", card.UID, "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeBackend, "card backend error")
	default:
		s.logger.Error("creating card failed", "uid", card.UID, "error", err)
		writeInternalError(w, "failed to create card")
	}
}
