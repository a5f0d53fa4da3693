package auth

import (
	"errors"
	"strings"
)

// Role is a coarse permission bucket carried on every authenticated caller.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleSupport  Role = "support"
	RoleCustomer Role = "customer"
)

var (
	// ErrUnauthorized is returned when the caller is authenticated but not
	// permitted to perform the action on the target resource.
	ErrUnauthorized = errors.New("caller not permitted")
	// ErrMissingToken means the request carried no bearer credentials.
	ErrMissingToken = errors.New("missing bearer token")
	// ErrInvalidToken covers malformed, expired and badly signed tokens.
	ErrInvalidToken = errors.New("invalid token")
)

// Caller is the resolved identity of whoever issued a request.
type Caller struct {
	OwnerID string
	Roles   []Role
}

// ParseRole normalises a role name. Unknown names yield false.
func ParseRole(raw string) (Role, bool) {
	switch r := Role(strings.ToLower(strings.TrimSpace(raw))); r {
	case RoleAdmin, RoleSupport, RoleCustomer:
		return r, true
	default:
		return "", false
	}
}

// Has reports whether the caller holds the role.
func (c Caller) Has(role Role) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (c Caller) IsAdmin() bool { return c.Has(RoleAdmin) }

// IsStaff is true for admin and support callers, who may read any wallet.
func (c Caller) IsStaff() bool { return c.Has(RoleAdmin) || c.Has(RoleSupport) }

// CanView reports whether the caller may read resources belonging to ownerID.
func (c Caller) CanView(ownerID string) bool {
	return c.IsStaff() || (c.OwnerID != "" && c.OwnerID == ownerID)
}
