package main

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/certifychain/certifychain/cmd/certifychain/config"
	"github.com/certifychain/certifychain/internal/rolecache"
	"github.com/certifychain/certifychain/storage/model"
)

// initRoleCache wraps roles with the configured role cache
func initRoleCache(ctx context.Context, c config.CachingConf, roles model.RolesStore) (
	model.RolesStore, func(), error,
) {
	if c.Disabled {
		return roles, func() {}, nil
	}
	var cache rolecache.Cache
	var err error
	if c.RedisAddr != "" {
		cache, err = rolecache.NewRedisCache(
			ctx, rolecache.RedisOptions{
				Addr:     c.RedisAddr,
				Username: c.Username,
				Password: c.Password,
				DB:       c.RedisDB,
				TTL:      c.MaxLifetime.Duration(),
			},
		)
		if err != nil {
			return nil, nil, err
		}
		log.WithField("addr", c.RedisAddr).Info("Loaded Redis Cache")
	} else {
		if cache, err = rolecache.NewMemoryCache(c.MaxLifetime.Duration(), c.MaxSize); err != nil {
			return nil, nil, err
		}
	}
	closeCache := func() {
		if err := cache.Close(); err != nil {
			log.WithError(err).Warn("could not close role cache")
		}
	}
	return rolecache.NewStore(roles, cache), closeCache, nil
}
