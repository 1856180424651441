// Package cards is the card backend used by the scan flow.
//
// Two calls matter here: a duplicate check by UID and card creation.
// HTTPRepository talks to the portal's REST API; SQLiteRepository keeps
// cards in the local database for standalone deployments and tests.
//
// UIDs are always stored and compared in normalised form (trimmed and
// uppercased).
package cards
