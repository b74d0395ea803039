package model

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

// Role is the closed set of roles a wallet can hold. The zero value is
// RoleNone so an unknown wallet never gets privileges by accident.
type Role int

// Constants for Role
const (
	RoleNone Role = iota
	RoleAdmin
	RoleDirector
	RoleStudent
)

// String returns the canonical string representation for the role.
func (r Role) String() string {
	switch r {
	case RoleNone:
		return "none"
	case RoleAdmin:
		return "admin"
	case RoleDirector:
		return "director"
	case RoleStudent:
		return "student"
	default:
		return "unknown"
	}
}

// Valid reports whether the role is one of the defined constants.
func (r Role) Valid() bool {
	switch r {
	case RoleNone, RoleAdmin, RoleDirector, RoleStudent:
		return true
	default:
		return false
	}
}

// Registrable reports whether a user may register themselves with this role.
// The admin role only exists on-chain.
func (r Role) Registrable() bool {
	return r == RoleDirector || r == RoleStudent
}

// MarshalJSON encodes the role as a JSON string.
func (r Role) MarshalJSON() ([]byte, error) {
	return []byte("\"" + r.String() + "\""), nil
}

// UnmarshalJSON decodes the role from a JSON string.
func (r *Role) UnmarshalJSON(b []byte) error {
	if len(b) < 2 || b[0] != '"' || b[len(b)-1] != '"' {
		return fmt.Errorf("role must be a JSON string")
	}
	pr, err := ParseRole(string(b[1 : len(b)-1]))
	if err != nil {
		return err
	}
	*r = pr
	return nil
}

// Value implements driver.Valuer; roles are stored as text.
func (r Role) Value() (driver.Value, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid role: %d", int(r))
	}
	return r.String(), nil
}

// Scan implements sql.Scanner
func (r *Role) Scan(src any) error {
	var v string
	switch t := src.(type) {
	case string:
		v = t
	case []byte:
		v = string(t)
	default:
		return fmt.Errorf("cannot scan %T into role", src)
	}
	pr, err := ParseRole(v)
	if err != nil {
		return err
	}
	*r = pr
	return nil
}

// ParseRole converts a string to a Role. Matching is case-insensitive and an
// empty string maps to RoleNone.
func ParseRole(v string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "none":
		return RoleNone, nil
	case "admin":
		return RoleAdmin, nil
	case "director":
		return RoleDirector, nil
	case "student":
		return RoleStudent, nil
	}
	return RoleNone, fmt.Errorf("invalid role: %s", v)
}
