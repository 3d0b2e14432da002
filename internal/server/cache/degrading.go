package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/complyscan/scanstore/internal/logging"
)

// Degrading wraps a Backend and absorbs its failures: after the first
// backend error every call becomes a no-op miss until the backend answers a
// ping again. The aggregator never sees a cache error.
type Degrading struct {
	backend Backend
	logger  logging.Logger
	down    atomic.Bool

	// RecheckInterval bounds how often a downed backend is re-probed.
	RecheckInterval time.Duration

	lastProbe atomic.Int64
}

func NewDegrading(backend Backend, logger logging.Logger) *Degrading {
	return &Degrading{
		backend:         backend,
		logger:          logger,
		RecheckInterval: 15 * time.Second,
	}
}

// available reports whether the backend should be used, probing it at most
// once per RecheckInterval while it is down.
func (d *Degrading) available(ctx context.Context) bool {
	if !d.down.Load() {
		return true
	}

	now := time.Now().UnixNano()
	last := d.lastProbe.Load()
	if now-last < int64(d.RecheckInterval) {
		return false
	}
	if !d.lastProbe.CompareAndSwap(last, now) {
		return false
	}

	if err := d.backend.Ping(ctx); err != nil {
		return false
	}

	d.down.Store(false)
	d.logger.Info(ctx, "cache backend recovered")
	return true
}

func (d *Degrading) markDown(ctx context.Context, op string, err error) {
	if d.down.CompareAndSwap(false, true) {
		d.logger.Warn(ctx, "cache backend unavailable, degrading to no-op",
			"op", op, "error", err.Error())
	}
}

func (d *Degrading) Get(ctx context.Context, key string) ([]byte, bool) {
	if !d.available(ctx) {
		return nil, false
	}

	val, err := d.backend.Get(ctx, key)
	if errors.Is(err, ErrMiss) {
		return nil, false
	}
	if err != nil {
		d.markDown(ctx, "get", err)
		return nil, false
	}
	return val, true
}

func (d *Degrading) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if !d.available(ctx) {
		return
	}
	if err := d.backend.Set(ctx, key, value, ttl); err != nil {
		d.markDown(ctx, "set", err)
	}
}

func (d *Degrading) Invalidate(ctx context.Context, prefix string) {
	if !d.available(ctx) {
		return
	}
	if err := d.backend.DeleteByPrefix(ctx, prefix); err != nil {
		d.markDown(ctx, "invalidate", err)
	}
}
