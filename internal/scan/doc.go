// Package scan runs the card-scan interaction used to register access
// cards: wait for the next tag read from any reader, check the UID
// against the card backend, then report exactly one result.
//
// A Session is a single state machine:
//
//	Idle -> Scanning -> Checking -> Resolved | Errored
//	        Scanning -> TimedOut
//	any  -> Idle (Stop)
//
// Each Start bumps a generation counter. Every transition checks both the
// generation and the expected current state under the session mutex, so
// when a tag read and the timeout race, whichever is processed first wins
// and the other finds the session already moved on. A second Start
// supersedes the first: its timer, subscription and pending check are torn
// down before the new session is armed.
package scan
