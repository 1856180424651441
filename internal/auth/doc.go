// Package auth validates the bearer tokens the Kost portal backend issues
// for API and WebSocket callers.
//
// Tokens are HS256 JWTs signed with a secret shared with the portal. The
// core never stores users; it trusts the subject and role carried in a
// valid token and maps the role to a fixed permission set:
//   - tenant: read reader status
//   - admin: operate readers, run card scans, register cards
//   - owner: everything admin can do plus raw publish, broker control and
//     the audit log
package auth
