package rolecache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/certifychain/certifychain/storage/model"
)

// Store is a model.RolesStore that writes through to a Cache and answers
// lookups from the cache when the underlying store fails
type Store struct {
	model.RolesStore
	cache   Cache
	timeout time.Duration
}

// NewStore wraps store with cache
func NewStore(store model.RolesStore, cache Cache) *Store {
	return &Store{
		RolesStore: store,
		cache:      cache,
		timeout:    time.Second,
	}
}

func (s *Store) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

func (s *Store) remember(u *model.UserRoleRecord) {
	ctx, cancel := s.ctx()
	defer cancel()
	err := s.cache.Set(
		ctx, Entry{
			Address:     u.WalletAddress,
			DisplayName: u.DisplayName,
			Role:        u.Role,
			CreatedAt:   u.CreatedAt,
		},
	)
	if err != nil {
		log.WithError(err).WithField("address", u.WalletAddress).Warn("could not cache role")
	}
}

// Get implements model.RolesStore
func (s *Store) Get(address string) (*model.UserRoleRecord, error) {
	u, err := s.RolesStore.Get(address)
	if err == nil {
		s.remember(u)
		return u, nil
	}
	var notFound model.NotFoundError
	if errors.As(err, &notFound) {
		ctx, cancel := s.ctx()
		defer cancel()
		_ = s.cache.Delete(ctx, address)
		return nil, err
	}
	ctx, cancel := s.ctx()
	defer cancel()
	e, ok := s.cache.Get(ctx, address)
	if !ok {
		return nil, err
	}
	log.WithError(err).WithField("address", e.Address).Warn("record store unavailable, using cached role")
	return &model.UserRoleRecord{
		CreatedAt:     e.CreatedAt,
		WalletAddress: e.Address,
		DisplayName:   e.DisplayName,
		Role:          e.Role,
	}, nil
}

// Register implements model.RolesStore
func (s *Store) Register(address, displayName string, role model.Role) (*model.UserRoleRecord, error) {
	u, err := s.RolesStore.Register(address, displayName, role)
	if err != nil {
		return nil, err
	}
	s.remember(u)
	return u, nil
}

// Update implements model.RolesStore
func (s *Store) Update(address string, displayName *string, role *model.Role) (*model.UserRoleRecord, error) {
	u, err := s.RolesStore.Update(address, displayName, role)
	if err != nil {
		return nil, err
	}
	s.remember(u)
	return u, nil
}
