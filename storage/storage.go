package storage

import (
	"fmt"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/certifychain/certifychain/storage/model"
)

// Storage is a GORM-based storage implementation
type Storage struct {
	db *gorm.DB
}

var models = []any{
	&model.CertificateRecord{},
	&model.UserRoleRecord{},
}

// NewStorage creates a new GORM-based storage
func NewStorage(config Config) (*Storage, error) {
	db, err := Connect(config)
	if err != nil {
		return nil, err
	}
	if err = db.AutoMigrate(models...); err != nil {
		return nil, errors.Wrap(err, "could not migrate database")
	}

	return &Storage{db: db}, nil
}

// CertificatesStorage returns a CertificatesStorage
func (s *Storage) CertificatesStorage() *CertificatesStorage {
	return &CertificatesStorage{db: s.db}
}

// RolesStorage returns a RolesStorage
func (s *Storage) RolesStorage() *RolesStorage {
	return &RolesStorage{db: s.db}
}

// Close closes the underlying database connection
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return errors.WithStack(err)
	}
	return sqlDB.Close()
}

// whereAddress adds a case-insensitive match of column against address
func whereAddress(db *gorm.DB, column, address string) *gorm.DB {
	return db.Where(fmt.Sprintf("LOWER(%s) = ?", column), model.NormalizeAddress(address))
}
