package rfid

import "errors"

var (
	// ErrParse is returned when an inbound payload is not valid for its topic.
	// Such messages are logged and dropped.
	ErrParse = errors.New("rfid: malformed payload")

	// ErrMissingUID is returned for a tag read without a card UID.
	ErrMissingUID = errors.New("rfid: tag read has no uid")

	// ErrEmptyCommand is returned when a command name is blank.
	ErrEmptyCommand = errors.New("rfid: command is required")
)
