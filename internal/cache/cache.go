// Package cache provides the single-flight translation cache.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/unicode/norm"

	"github.com/pricofy/translation-router/internal/domain"
	terrors "github.com/pricofy/translation-router/internal/errors"
)

// Key derives the cache key for a translation. Text is NFC-normalized so
// canonically equivalent inputs share an entry.
func Key(text, sourceLanguage, targetLanguage string, tier domain.Tier) string {
	h := sha256.New()
	h.Write([]byte(norm.NFC.String(text)))
	for _, part := range []string{sourceLanguage, targetLanguage, string(tier)} {
		h.Write([]byte{0})
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ComputeFunc produces a value on a cache miss.
type ComputeFunc func(ctx context.Context) (Value, error)

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits        int64
	Misses      int64
	Shared      int64 // callers that received another caller's in-flight result
	StoreErrors int64
	Entries     int
	Evictions   int64
}

// Cache deduplicates concurrent computations per key and stores results
// with a TTL. Store failures degrade to computing without caching.
type Cache struct {
	store  Store
	ttl    time.Duration
	group  singleflight.Group
	logger *zap.Logger
	now    func() time.Time

	hits        atomic.Int64
	misses      atomic.Int64
	shared      atomic.Int64
	storeErrors atomic.Int64
}

// New creates a Cache over store.
func New(store Store, ttl time.Duration, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		store:  store,
		ttl:    ttl,
		logger: logger.Named("cache"),
		now:    time.Now,
	}
}

// Get returns a stored value without computing.
func (c *Cache) Get(ctx context.Context, key string) (Value, bool) {
	e, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.storeFailed("get", key, err)
		return Value{}, false
	}
	return e.Value, ok
}

// GetOrCompute returns the cached value for key, or runs compute. Concurrent
// callers with the same key share a single in-flight computation. computed
// is true only for the caller whose compute actually ran. Errors are not
// cached and are delivered to every caller waiting on that computation.
func (c *Cache) GetOrCompute(ctx context.Context, key string, compute ComputeFunc) (v Value, computed bool, err error) {
	if v, ok := c.Get(ctx, key); ok {
		c.hits.Add(1)
		return v, false, nil
	}

	leader := false
	res, err, shared := c.group.Do(key, func() (any, error) {
		// a previous flight may have stored the value since our lookup
		if e, ok, err := c.store.Get(ctx, key); err == nil && ok {
			c.hits.Add(1)
			return e.Value, nil
		}
		leader = true
		c.misses.Add(1)

		v, err := c.safeCompute(ctx, compute)
		if err != nil {
			return Value{}, err
		}

		now := c.now()
		e := Entry{Key: key, Value: v, CreatedAt: now}
		if c.ttl > 0 {
			e.ExpiresAt = now.Add(c.ttl)
		}
		if err := c.store.Put(ctx, e); err != nil {
			c.storeFailed("put", key, err)
		}
		return v, nil
	})
	if shared && !leader {
		c.shared.Add(1)
	}
	if err != nil {
		return Value{}, leader, err
	}
	return res.(Value), leader, nil
}

// safeCompute converts a panic in compute into an error so waiters are
// released instead of crashing the process.
func (c *Cache) safeCompute(ctx context.Context, compute ComputeFunc) (v Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = terrors.NewInternal(fmt.Errorf("panic in cache compute: %v", r))
		}
	}()
	return compute(ctx)
}

func (c *Cache) storeFailed(op, key string, err error) {
	c.storeErrors.Add(1)
	c.logger.Warn("cache store unavailable, continuing without cache",
		zap.String("op", op),
		zap.String("key", key[:min(len(key), 12)]),
		zap.Error(terrors.NewCacheUnavailable(op, err)))
}

// Stats returns counters and store statistics.
func (c *Cache) Stats(ctx context.Context) Stats {
	s := Stats{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Shared:      c.shared.Load(),
		StoreErrors: c.storeErrors.Load(),
	}
	if st, err := c.store.Stats(ctx); err == nil {
		s.Entries = st.Entries
		s.Evictions = st.Evictions
	}
	return s
}

// Close closes the underlying store.
func (c *Cache) Close() error {
	return c.store.Close()
}
