// Package rolecache keeps recently resolved wallet roles so that role routing
// keeps working while the record store is unreachable.
package rolecache

import (
	"context"
	"time"

	"github.com/TwiN/gocache/v2"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/certifychain/certifychain/storage/model"
)

// Entry is a cached role assignment
type Entry struct {
	Address     string     `msgpack:"address"`
	DisplayName string     `msgpack:"display_name"`
	Role        model.Role `msgpack:"role"`
	CreatedAt   time.Time  `msgpack:"created_at"`
}

// Cache stores role entries keyed by lower-case wallet address
type Cache interface {
	Get(ctx context.Context, address string) (*Entry, bool)
	Set(ctx context.Context, e Entry) error
	Delete(ctx context.Context, address string) error
	Close() error
}

// memoryCache is a Cache kept in process memory
type memoryCache struct {
	c   *gocache.Cache
	ttl time.Duration
}

// NewMemoryCache returns an in-process Cache with the passed entry lifetime
func NewMemoryCache(ttl time.Duration, maxSize int) (Cache, error) {
	if maxSize <= 0 {
		maxSize = 10000
	}
	c := gocache.NewCache().WithMaxSize(maxSize).WithEvictionPolicy(gocache.LeastRecentlyUsed)
	if err := c.StartJanitor(); err != nil {
		return nil, errors.WithStack(err)
	}
	return &memoryCache{
		c:   c,
		ttl: ttl,
	}, nil
}

func (m *memoryCache) Get(_ context.Context, address string) (*Entry, bool) {
	v, ok := m.c.Get(model.NormalizeAddress(address))
	if !ok {
		return nil, false
	}
	e, ok := v.(Entry)
	if !ok {
		return nil, false
	}
	return &e, true
}

func (m *memoryCache) Set(_ context.Context, e Entry) error {
	e.Address = model.NormalizeAddress(e.Address)
	if m.ttl > 0 {
		m.c.SetWithTTL(e.Address, e, m.ttl)
	} else {
		m.c.Set(e.Address, e)
	}
	return nil
}

func (m *memoryCache) Delete(_ context.Context, address string) error {
	m.c.Delete(model.NormalizeAddress(address))
	return nil
}

func (m *memoryCache) Close() error {
	m.c.StopJanitor()
	return nil
}

// RedisOptions configures a redis backed Cache
type RedisOptions struct {
	Addr     string
	Username string
	Password string
	DB       int
	TTL      time.Duration
}

type redisCache struct {
	client *redis.Client
	ttl    time.Duration
}

const redisKeyPrefix = "certifychain:role:"

// NewRedisCache returns a Cache backed by redis; values are msgpack encoded
func NewRedisCache(ctx context.Context, opts RedisOptions) (Cache, error) {
	client := redis.NewClient(
		&redis.Options{
			Addr:     opts.Addr,
			Username: opts.Username,
			Password: opts.Password,
			DB:       opts.DB,
		},
	)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "could not connect to redis")
	}
	return &redisCache{
		client: client,
		ttl:    opts.TTL,
	}, nil
}

func (r *redisCache) Get(ctx context.Context, address string) (*Entry, bool) {
	data, err := r.client.Get(ctx, redisKeyPrefix+model.NormalizeAddress(address)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.WithError(err).Debug("role cache lookup failed")
		}
		return nil, false
	}
	var e Entry
	if err = msgpack.Unmarshal(data, &e); err != nil {
		log.WithError(err).Debug("could not decode cached role")
		return nil, false
	}
	return &e, true
}

func (r *redisCache) Set(ctx context.Context, e Entry) error {
	e.Address = model.NormalizeAddress(e.Address)
	data, err := msgpack.Marshal(e)
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(r.client.Set(ctx, redisKeyPrefix+e.Address, data, r.ttl).Err())
}

func (r *redisCache) Delete(ctx context.Context, address string) error {
	return errors.WithStack(r.client.Del(ctx, redisKeyPrefix+model.NormalizeAddress(address)).Err())
}

func (r *redisCache) Close() error {
	return r.client.Close()
}
