// Package cache is the optional read-through cache in front of the results
// aggregator. It is never the system of record: every failure path degrades
// to a miss, and the aggregator must work correctly, only slower, with the
// backend down.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMiss is returned by backends when a key is absent.
var ErrMiss = errors.New("cache miss")

// Backend is a raw key-value store. Errors other than ErrMiss indicate the
// backend itself is unhealthy.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeleteByPrefix(ctx context.Context, prefix string) error
	Ping(ctx context.Context) error
}

// Cache is what the aggregator consumes: miss-or-hit semantics with no
// error surface at all.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Invalidate(ctx context.Context, prefix string)
}

// Key builds a cache key scoped by organization and username, then the
// query shape. Tenant scoping in the key mirrors the tenant scoping of the
// underlying queries.
func Key(organizationID, username string, shape ...string) string {
	parts := append([]string{"scans", organizationID, username}, shape...)
	return strings.Join(parts, ":")
}

// KeyPrefix is the invalidation prefix covering every cached query for one
// (organization, username) pair.
func KeyPrefix(organizationID, username string) string {
	return fmt.Sprintf("scans:%s:%s:", organizationID, username)
}

// Noop is the cache used when no backend is configured. Everything is a
// miss.
type Noop struct{}

func NewNoop() *Noop { return &Noop{} }

func (*Noop) Get(ctx context.Context, key string) ([]byte, bool)                  { return nil, false }
func (*Noop) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {}
func (*Noop) Invalidate(ctx context.Context, prefix string)                        {}
