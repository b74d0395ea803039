package model

import (
	"strings"
	"time"
)

// UserRoleRecord is the off-chain registration of a wallet: who the user
// says they are and which dashboard they use.
type UserRoleRecord struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// WalletAddress is the unique key, always stored lower-case
	WalletAddress string `gorm:"uniqueIndex;size:42" json:"wallet_address"`
	// DisplayName is the name entered at registration
	DisplayName string `json:"display_name"`
	// Role is either RoleDirector or RoleStudent
	Role Role `gorm:"type:varchar(16);index" json:"role"`
}

// TableName implements gorm's tabler interface
func (UserRoleRecord) TableName() string {
	return "roles"
}

// RolesStore abstracts access to the registered user roles.
// All address parameters are matched case-insensitively.
type RolesStore interface {
	// Get returns the record for a wallet or a NotFoundError
	Get(address string) (*UserRoleRecord, error)
	// Register creates a record; fails with AlreadyExistsError if the wallet is registered
	Register(address, displayName string, role Role) (*UserRoleRecord, error)
	// Update applies a partial update; nil fields are left unchanged
	Update(address string, displayName *string, role *Role) (*UserRoleRecord, error)
	// List returns all records with the passed role; RoleNone lists all
	List(role Role) ([]UserRoleRecord, error)
}

// NormalizeAddress returns the canonical stored form of a wallet address.
// Checksummed and lower-case spellings of the same address normalize to the
// same value.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
