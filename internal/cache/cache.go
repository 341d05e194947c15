// Package cache serves the supplier registry snapshot and single orders
// through Redis, falling back to storage whenever Redis is absent or failing.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"supplyrouter/internal/domain"
	"supplyrouter/internal/logger"
	"supplyrouter/internal/metrics"
	"supplyrouter/internal/repo"
)

const (
	ActiveSuppliersKey = "suppliers:active"
	orderKeyPrefix     = "order:"

	DefaultSupplierTTL = 30 * time.Minute
	DefaultOrderTTL    = 5 * time.Minute
)

func OrderKey(id string) string {
	return orderKeyPrefix + strings.ToUpper(id)
}

// Registry is a read-through cache in front of repo.Repo. A nil Client
// disables caching.
type Registry struct {
	Client      *redis.Client
	Repo        repo.Repo
	SupplierTTL time.Duration
	OrderTTL    time.Duration
	Log         logger.Logger
}

func New(client *redis.Client, r repo.Repo, supplierTTL, orderTTL time.Duration, log logger.Logger) *Registry {
	if supplierTTL <= 0 {
		supplierTTL = DefaultSupplierTTL
	}
	if orderTTL <= 0 {
		orderTTL = DefaultOrderTTL
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Registry{Client: client, Repo: r, SupplierTTL: supplierTTL, OrderTTL: orderTTL, Log: log}
}

func (c *Registry) log() logger.Logger {
	if c.Log == nil {
		return logger.NewNop()
	}
	return c.Log
}

// ActiveSuppliers returns the registry snapshot used by the matcher.
func (c *Registry) ActiveSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	if c.Client == nil {
		return c.Repo.ListActiveSuppliers(ctx, nil)
	}
	var cached []domain.Supplier
	if c.get(ctx, "suppliers", ActiveSuppliersKey, &cached) {
		return cached, nil
	}
	suppliers, err := c.Repo.ListActiveSuppliers(ctx, nil)
	if err != nil {
		return nil, err
	}
	c.set(ctx, ActiveSuppliersKey, suppliers, c.SupplierTTL)
	return suppliers, nil
}

// Order returns one order, reading through the cache.
func (c *Registry) Order(ctx context.Context, id string) (domain.Order, error) {
	if c.Client == nil {
		return c.Repo.GetOrder(ctx, nil, id)
	}
	var cached domain.Order
	if c.get(ctx, "order", OrderKey(id), &cached) {
		return cached, nil
	}
	o, err := c.Repo.GetOrder(ctx, nil, id)
	if err != nil {
		return o, err
	}
	c.set(ctx, OrderKey(id), o, c.OrderTTL)
	return o, nil
}

// InvalidateSuppliers drops the registry snapshot after a supplier or filter write.
func (c *Registry) InvalidateSuppliers(ctx context.Context) {
	c.del(ctx, ActiveSuppliersKey)
}

// InvalidateOrders drops cached copies of the given orders.
func (c *Registry) InvalidateOrders(ctx context.Context, ids ...string) {
	if len(ids) == 0 {
		return
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = OrderKey(id)
	}
	c.del(ctx, keys...)
}

func (c *Registry) get(ctx context.Context, kind, key string, dst any) bool {
	raw, err := c.Client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.CacheLookups.WithLabelValues(kind, "miss").Inc()
		return false
	}
	if err != nil {
		metrics.CacheLookups.WithLabelValues(kind, "error").Inc()
		c.log().Warn("cache read failed", logger.Fields{"key": key, "error": err})
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		metrics.CacheLookups.WithLabelValues(kind, "error").Inc()
		c.log().Warn("cache entry corrupt", logger.Fields{"key": key, "error": err})
		return false
	}
	metrics.CacheLookups.WithLabelValues(kind, "hit").Inc()
	return true
}

func (c *Registry) set(ctx context.Context, key string, v any, ttl time.Duration) {
	data, err := json.Marshal(v)
	if err != nil {
		c.log().Warn("cache encode failed", logger.Fields{"key": key, "error": err})
		return
	}
	if err := c.Client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.log().Warn("cache write failed", logger.Fields{"key": key, "error": err})
	}
}

func (c *Registry) del(ctx context.Context, keys ...string) {
	if c.Client == nil {
		return
	}
	if err := c.Client.Del(ctx, keys...).Err(); err != nil {
		c.log().Warn("cache invalidation failed", logger.Fields{"keys": strings.Join(keys, ","), "error": err})
	}
}

// Ping checks the Redis connection when one is configured.
func (c *Registry) Ping(ctx context.Context) error {
	if c.Client == nil {
		return nil
	}
	if err := c.Client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}
