package models

import (
	"fmt"
	"strings"
	"time"
)

// SessionTTL is the fixed lifetime of an official session.
const SessionTTL = 24 * time.Hour

// Role is an official's access level. Roles are totally ordered:
// investigator < supervisor < admin.
type Role int

const (
	RoleInvestigator Role = iota + 1
	RoleSupervisor
	RoleAdmin
)

// String returns the wire name of the role.
func (r Role) String() string {
	switch r {
	case RoleInvestigator:
		return "investigator"
	case RoleSupervisor:
		return "supervisor"
	case RoleAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// AtLeast reports whether r grants everything required grants.
func (r Role) AtLeast(required Role) bool {
	return r.IsValid() && r >= required
}

// IsValid returns true if r is a known role.
func (r Role) IsValid() bool {
	return r >= RoleInvestigator && r <= RoleAdmin
}

// ParseRole parses a role name, case-insensitively.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "investigator":
		return RoleInvestigator, nil
	case "supervisor":
		return RoleSupervisor, nil
	case "admin":
		return RoleAdmin, nil
	}
	return 0, fmt.Errorf("unknown role %q", s)
}

// MarshalText implements encoding.TextMarshaler so roles serialize by name.
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// AuthSession is an authenticated official's session.
type AuthSession struct {
	ID         string    `json:"id"`
	OfficialID string    `json:"officialId"`
	Email      string    `json:"email"`
	Name       string    `json:"name"`
	Department string    `json:"department"`
	Role       Role      `json:"role"`
	IssuedAt   time.Time `json:"issuedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// IsExpired reports whether the session is past its expiry at now.
func (s *AuthSession) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
