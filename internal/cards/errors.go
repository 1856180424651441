package cards

import "errors"

// Domain errors for the cards package.
var (
	// ErrCardNotFound is returned when no card has the requested UID.
	ErrCardNotFound = errors.New("cards: not found")

	// ErrDuplicateCard is returned when creating a card whose UID is
	// already registered.
	ErrDuplicateCard = errors.New("cards: uid already registered")

	// ErrInvalidCard is returned when a card fails validation.
	ErrInvalidCard = errors.New("cards: invalid")

	// ErrBackend is returned when the remote backend answers with an
	// unexpected status.
	ErrBackend = errors.New("cards: backend error")
)
