package cards

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/kost-rfid-core/internal/rfid"
)

// Card status values.
const (
	StatusActive   = "active"
	StatusDisabled = "disabled"
)

// maxLabelLength bounds the free-text label.
const maxLabelLength = 100

// Card is a registered access card.
type Card struct {
	UID       string    `json:"uid"`
	UserID    string    `json:"user_id"`
	RoomID    *string   `json:"room_id,omitempty"`
	Label     *string   `json:"label,omitempty"`
	DeviceID  *string   `json:"device_id,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Repository is the backend contract used by the scan flow.
type Repository interface {
	// FindByUID returns the card with uid, or ErrCardNotFound.
	// uid is normalised before lookup.
	FindByUID(ctx context.Context, uid string) (*Card, error)

	// Create registers card. Returns ErrDuplicateCard if the UID exists.
	Create(ctx context.Context, card *Card) error
}

// Conflicts reports whether existing blocks registering the same UID for
// userID. Any existing card conflicts when userID is empty.
func Conflicts(existing *Card, userID string) bool {
	if existing == nil {
		return false
	}
	return userID == "" || existing.UserID != userID
}

// Validate normalises the UID and checks required fields.
func (c *Card) Validate() error {
	c.UID = rfid.NormalizeUID(c.UID)
	if c.UID == "" {
		return fmt.Errorf("%w: uid is required", ErrInvalidCard)
	}
	if c.UserID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidCard)
	}
	if c.Label != nil && len(*c.Label) > maxLabelLength {
		return fmt.Errorf("%w: label exceeds %d characters", ErrInvalidCard, maxLabelLength)
	}
	switch c.Status {
	case "":
		c.Status = StatusActive
	case StatusActive, StatusDisabled:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidCard, c.Status)
	}
	return nil
}
