// Package logging provides structured logging for the Kost RFID core.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the entire application.
//
// Features:
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//
// Configuration (config.yaml):
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Never log broker passwords, JWT secrets or backend tokens.
package logging
