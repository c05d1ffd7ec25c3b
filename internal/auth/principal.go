package auth

import "github.com/google/uuid"

// Roles recognised by the reconciler's HTTP surface.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

// Principal is an already-authenticated caller. It is passed explicitly into engine and
// entitlement calls; nothing below the HTTP layer looks identity up on its own.
type Principal struct {
	UserID uuid.UUID `json:"user_id"`
	Email  string    `json:"email,omitempty"`
	Role   string    `json:"role"`
}

// IsZero reports whether no principal was established.
func (p Principal) IsZero() bool { return p.UserID == uuid.Nil }

// PrincipalFromClaims converts validated token claims.
func PrincipalFromClaims(c *Claims) Principal {
	return Principal{UserID: c.UserID, Email: c.Email, Role: c.Role}
}

// IsStaff reports whether p may read any item without an entitlement.
func (p Principal) IsStaff() bool { return p.Role == RoleAdmin || p.Role == RoleOperator }
