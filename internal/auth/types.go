package auth

import "errors"

// Role represents an authorisation tier issued by the portal.
type Role string

const (
	// RoleTenant is a boarding-house resident. Read-only.
	RoleTenant Role = "tenant"

	// RoleAdmin is house staff: registers cards and drives readers.
	RoleAdmin Role = "admin"

	// RoleOwner has everything admin can do plus broker-level control.
	RoleOwner Role = "owner"
)

// ValidRoles is the set of roles a token may carry.
var ValidRoles = []Role{RoleTenant, RoleAdmin, RoleOwner}

// IsValidRole returns true if r is a known role.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// Principal is the authenticated caller derived from a token.
type Principal struct {
	UserID    string `json:"user_id"`
	Role      Role   `json:"role"`
	SessionID string `json:"session_id,omitempty"`
}

// Can reports whether the principal's role grants perm.
func (p Principal) Can(perm Permission) bool {
	return HasPermission(p.Role, perm)
}

// Sentinel errors for auth operations.
var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrTokenExpired = errors.New("token has expired")
	ErrForbidden    = errors.New("insufficient permissions")
	ErrNoSecret     = errors.New("jwt secret not configured")
)
