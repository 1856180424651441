package devicestatus

import (
	"context"
	"time"
)

// HistoryEntry is one stored reader status change.
type HistoryEntry struct {
	// ID is the auto-incremented primary key for the history row.
	ID int64 `json:"id"`

	// DeviceID is the reader the report came from.
	DeviceID string `json:"device_id"`

	// Status is the record as it was when the change was observed.
	Status Record `json:"status"`

	// CreatedAt is when the row was written (UTC).
	CreatedAt time.Time `json:"created_at"`
}

// HistoryRepository stores and retrieves reader status changes.
//
// Implementations must be thread-safe and use UTC timestamps.
type HistoryRepository interface {
	// RecordChange stores a status change for rec.DeviceID.
	RecordChange(ctx context.Context, rec Record) error

	// GetHistory returns recent changes for the reader.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - deviceID: Reader identifier
	//   - limit: Maximum entries to return (implementation may clamp bounds)
	//
	// Returns:
	//   - []HistoryEntry: Ordered newest-first (may be empty)
	//   - error: nil on success, otherwise the underlying query error
	GetHistory(ctx context.Context, deviceID string, limit int) ([]HistoryEntry, error)
}

// historyWriteTimeout bounds a single insert from the sink.
const historyWriteTimeout = 2 * time.Second

// HistorySink records changed reports into a HistoryRepository.
// Heartbeats that only refresh LastSeen are skipped.
type HistorySink struct {
	repo   HistoryRepository
	logger Logger
}

// NewHistorySink creates a sink writing to repo.
func NewHistorySink(repo HistoryRepository, logger Logger) *HistorySink {
	if logger == nil {
		logger = noopLogger{}
	}
	return &HistorySink{repo: repo, logger: logger}
}

// DeviceStatusUpdated implements Sink.
func (s *HistorySink) DeviceStatusUpdated(rec Record, changed bool) {
	if !changed {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
	defer cancel()

	if err := s.repo.RecordChange(ctx, rec); err != nil {
		s.logger.Warn("recording device status history failed",
			"device_id", rec.DeviceID,
			"error", err,
		)
	}
}
