package cards

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/nerrad567/kost-rfid-core/internal/rfid"
)

// SQLiteRepository implements Repository on the cards table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository over an open database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// FindByUID retrieves a card by its normalised UID.
func (r *SQLiteRepository) FindByUID(ctx context.Context, uid string) (*Card, error) {
	uid = rfid.NormalizeUID(uid)
	if uid == "" {
		return nil, fmt.Errorf("%w: uid is required", ErrInvalidCard)
	}

	row := r.db.QueryRowContext(ctx, `
		SELECT uid, user_id, room_id, label, device_id, status, created_at, updated_at
		FROM cards
		WHERE uid = ?`, uid)

	var (
		card                    Card
		roomID, label, deviceID sql.NullString
		createdAt, updatedAt    string
	)
	err := row.Scan(&card.UID, &card.UserID, &roomID, &label, &deviceID, &card.Status, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCardNotFound
		}
		return nil, fmt.Errorf("querying card: %w", err)
	}

	card.RoomID = stringPtr(roomID)
	card.Label = stringPtr(label)
	card.DeviceID = stringPtr(deviceID)
	if card.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if card.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &card, nil
}

// Create inserts a new card.
func (r *SQLiteRepository) Create(ctx context.Context, card *Card) error {
	if err := card.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC().Truncate(time.Second)
	if card.CreatedAt.IsZero() {
		card.CreatedAt = now
	}
	card.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cards (uid, user_id, room_id, label, device_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		card.UID,
		card.UserID,
		nullableString(card.RoomID),
		nullableString(card.Label),
		nullableString(card.DeviceID),
		card.Status,
		card.CreatedAt.UTC().Format(time.RFC3339),
		card.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateCard, card.UID)
		}
		return fmt.Errorf("inserting card: %w", err)
	}

	return nil
}

// isConstraintViolation reports a primary key or unique violation.
func isConstraintViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

// nullableString returns a sql.NullString for optional string pointers.
func nullableString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
