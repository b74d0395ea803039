package storage

import (
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/certifychain/certifychain/storage/model"
)

// RolesStorage implements model.RolesStore using GORM
type RolesStorage struct {
	db *gorm.DB
}

// Get returns the registration of a wallet
func (s *RolesStorage) Get(address string) (*model.UserRoleRecord, error) {
	var u model.UserRoleRecord
	if err := whereAddress(s.db, "wallet_address", address).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.NotFoundErrorFmt("user not found: %s", address)
		}
		return nil, errors.WithStack(err)
	}
	return &u, nil
}

// Register creates the registration of a wallet
func (s *RolesStorage) Register(address, displayName string, role model.Role) (*model.UserRoleRecord, error) {
	if len(model.NormalizeAddress(address)) == 0 {
		return nil, errors.Errorf("wallet address is required")
	}
	if !role.Registrable() {
		return nil, errors.Errorf("role '%s' cannot be registered", role)
	}
	var existing int64
	if err := whereAddress(s.db.Model(&model.UserRoleRecord{}), "wallet_address", address).
		Count(&existing).Error; err != nil {
		return nil, err
	}
	if existing > 0 {
		return nil, model.AlreadyExistsErrorFmt("user already registered: %s", address)
	}
	u := model.UserRoleRecord{
		WalletAddress: model.NormalizeAddress(address),
		DisplayName:   displayName,
		Role:          role,
	}
	if err := s.db.Create(&u).Error; err != nil {
		return nil, errors.WithStack(err)
	}
	return &u, nil
}

// Update updates display name and / or role
func (s *RolesStorage) Update(address string, displayName *string, role *model.Role) (*model.UserRoleRecord, error) {
	var u model.UserRoleRecord
	if err := whereAddress(s.db, "wallet_address", address).First(&u).Error; err != nil {
		return nil, model.NotFoundErrorFmt("user not found: %s", address)
	}
	if displayName != nil {
		u.DisplayName = *displayName
	}
	if role != nil {
		if !role.Registrable() {
			return nil, errors.Errorf("role '%s' cannot be registered", *role)
		}
		u.Role = *role
	}
	if err := s.db.Save(&u).Error; err != nil {
		return nil, errors.WithStack(err)
	}
	return &u, nil
}

// List returns all registrations with the passed role, RoleNone returns all
func (s *RolesStorage) List(role model.Role) ([]model.UserRoleRecord, error) {
	var users []model.UserRoleRecord
	q := s.db.Model(&model.UserRoleRecord{})
	if role != model.RoleNone {
		q = q.Where("role = ?", role)
	}
	if err := q.Order("created_at asc").Find(&users).Error; err != nil {
		return nil, errors.WithStack(err)
	}
	return users, nil
}
