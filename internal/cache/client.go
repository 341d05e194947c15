package cache

import (
	"time"

	"github.com/redis/go-redis/v9"
)

type ClientConfig struct {
	Address  string
	Password string
	DB       int
}

// NewClient creates a Redis client. It does not dial; call Registry.Ping to check.
func NewClient(cfg ClientConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})
}
