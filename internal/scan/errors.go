package scan

import "errors"

var (
	// ErrSessionTimeout is carried by OutcomeTimeout results.
	ErrSessionTimeout = errors.New("scan: no card read before timeout")

	// ErrNotConnected is returned by Run when the broker
	// connection is down.
	ErrNotConnected = errors.New("scan: broker not connected")
)
