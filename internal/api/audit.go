package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/nerrad567/kost-rfid-core/internal/audit"
)

// auditChanSize is the buffer of the async audit writer. Entries beyond
// it are dropped so a slow disk never blocks a request.
const auditChanSize = 256

// auditLog queues an entry for the request's principal. It is a no-op
// when no audit repository is configured.
func (s *Server) auditLog(r *http.Request, action, targetType, targetID string, details map[string]any) {
	if s.auditRepo == nil || s.auditCh == nil {
		return
	}

	entry := &audit.Entry{
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Source:     "api",
		Details:    details,
	}
	if p, ok := principalFrom(r.Context()); ok {
		entry.UserID = p.UserID
		entry.Role = string(p.Role)
	}

	select {
	case s.auditCh <- entry:
	default:
		s.logger.Warn("audit channel full, dropping entry",
			"action", action,
			"target_type", targetType,
		)
	}
}

// drainAuditLog writes queued entries serially until ctx is done, then
// flushes what is left.
func (s *Server) drainAuditLog(ctx context.Context) {
	for {
		select {
		case entry := <-s.auditCh:
			s.writeAudit(entry)
		case <-ctx.Done():
			for {
				select {
				case entry := <-s.auditCh:
					s.writeAudit(entry)
				default:
					return
				}
			}
		}
	}
}

func (s *Server) writeAudit(entry *audit.Entry) {
	if err := s.auditRepo.Create(context.Background(), entry); err != nil {
		s.logger.Error("audit write failed",
			"action", entry.Action,
			"target_type", entry.TargetType,
			"error", err,
		)
	}
}

// handleListAudit returns audit entries, newest first.
//
// Query parameters: action, target_type, target_id, user_id, limit
// (default 50, max 200) and offset.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.auditRepo == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "audit log not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:     q.Get("action"),
		TargetType: q.Get("target_type"),
		TargetID:   q.Get("target_id"),
		UserID:     q.Get("user_id"),
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, name+" must be a non-negative integer")
			return
		}
		*dst = n
	}

	page, err := s.auditRepo.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing audit entries failed", "error", err)
		writeInternalError(w, "failed to list audit entries")
		return
	}
	writeJSON(w, http.StatusOK, page)
}
