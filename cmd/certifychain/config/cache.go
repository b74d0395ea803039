package config

import (
	"time"

	"github.com/zachmann/go-utils/duration"
)

// CachingConf configures the cache of registered roles, which answers role
// lookups while the record store is unreachable
//
//	caching:
//	  redis_addr: localhost:6379
//	  max_lifetime: 1h
type CachingConf struct {
	RedisAddr   string                  `yaml:"redis_addr"`
	Username    string                  `yaml:"username"`
	Password    string                  `yaml:"password"`
	RedisDB     int                     `yaml:"redis_db"`
	Disabled    bool                    `yaml:"disabled"`
	MaxLifetime duration.DurationOption `yaml:"max_lifetime"`
	// MaxSize bounds the in-process cache; it is ignored with redis
	MaxSize int `yaml:"max_size"`
}

var defaultCachingConf = CachingConf{
	MaxLifetime: duration.DurationOption(time.Hour),
	MaxSize:     10000,
}
