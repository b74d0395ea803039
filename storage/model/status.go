package model

import (
	"database/sql/driver"
	"fmt"
)

// CertificateStatus holds the lifecycle state of a stored certificate
type CertificateStatus int

// Constants for CertificateStatus
const (
	StatusIssued CertificateStatus = iota
	StatusMinted
	StatusRevoked
)

// String returns the canonical string representation for the status.
func (s CertificateStatus) String() string {
	switch s {
	case StatusIssued:
		return "issued"
	case StatusMinted:
		return "minted"
	case StatusRevoked:
		return "revoked"
	default:
		return "unknown"
	}
}

// Valid reports whether the status is one of the defined constants.
func (s CertificateStatus) Valid() bool {
	switch s {
	case StatusIssued, StatusMinted, StatusRevoked:
		return true
	default:
		return false
	}
}

// MarshalJSON encodes the status as a JSON string.
func (s CertificateStatus) MarshalJSON() ([]byte, error) {
	return []byte("\"" + s.String() + "\""), nil
}

// UnmarshalJSON decodes the status from a JSON string.
func (s *CertificateStatus) UnmarshalJSON(b []byte) error {
	if len(b) < 2 || b[0] != '"' || b[len(b)-1] != '"' {
		return fmt.Errorf("status must be a JSON string")
	}
	ps, err := ParseStatus(string(b[1 : len(b)-1]))
	if err != nil {
		return err
	}
	*s = ps
	return nil
}

// Value implements driver.Valuer; statuses are stored as text.
func (s CertificateStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid status: %d", int(s))
	}
	return s.String(), nil
}

// Scan implements sql.Scanner
func (s *CertificateStatus) Scan(src any) error {
	var v string
	switch t := src.(type) {
	case string:
		v = t
	case []byte:
		v = string(t)
	default:
		return fmt.Errorf("cannot scan %T into status", src)
	}
	ps, err := ParseStatus(v)
	if err != nil {
		return err
	}
	*s = ps
	return nil
}

// ParseStatus converts a string to a CertificateStatus, returning an error for invalid values.
func ParseStatus(v string) (CertificateStatus, error) {
	switch v {
	case "issued":
		return StatusIssued, nil
	case "minted":
		return StatusMinted, nil
	case "revoked":
		return StatusRevoked, nil
	}
	return 0, fmt.Errorf("invalid status: %s", v)
}
