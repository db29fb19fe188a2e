// Package engine assembles the translation core: cache, segmenter, worker
// pools and dispatcher, sharing one results channel.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/pricofy/translation-router/internal/backend"
	"github.com/pricofy/translation-router/internal/cache"
	"github.com/pricofy/translation-router/internal/config"
	"github.com/pricofy/translation-router/internal/dispatch"
	"github.com/pricofy/translation-router/internal/domain"
	"github.com/pricofy/translation-router/internal/pool"
	"github.com/pricofy/translation-router/internal/segment"
)

// Pool names, as reported in logs and QUEUE_FULL errors.
const (
	NormalPool    = "normal"
	BroadcastPool = "broadcast"
)

// Engine owns the worker pools and the channel their outcomes arrive on.
type Engine struct {
	dispatcher *dispatch.Dispatcher
	cache      *cache.Cache
	normal     *pool.Pool
	broadcast  *pool.Pool
	results    chan domain.Outcome
	logger     *zap.Logger
	closeOnce  sync.Once
}

// OpenStore opens the cache store selected by cfg.Store.
func OpenStore(cfg config.CacheConfig) (cache.Store, error) {
	switch cfg.Store {
	case "memory", "":
		return cache.NewMemoryStore(cfg.MaxEntries), nil
	case "sqlite":
		if dir := filepath.Dir(cfg.SQLitePath); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create cache dir: %w", err)
			}
		}
		return cache.OpenSQLiteStore(cfg.SQLitePath, cfg.MaxEntries)
	default:
		return nil, fmt.Errorf("unknown cache store %q", cfg.Store)
	}
}

// New wires the core around translator and store. The engine takes
// ownership of store.
func New(cfg *config.Config, translator backend.Translator, store cache.Store, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := cache.New(store, cfg.Cache.TTL, logger)
	seg := segment.New(segment.Options{MaxChunkRunes: cfg.Translation.MaxChunkRunes})
	pipeline := pool.NewPipeline(c, seg, translator, cfg.Translation.Timeout, logger)

	results := make(chan domain.Outcome, cfg.Pools.Normal.Workers+cfg.Pools.Broadcast.Workers)
	normal := pool.New(NormalPool, cfg.Pools.Normal, pipeline, results, logger)
	broadcast := pool.New(BroadcastPool, cfg.Pools.Broadcast, pipeline, results, logger)

	return &Engine{
		dispatcher: dispatch.New(cfg.Translation.Tiers, normal, broadcast, logger),
		cache:      c,
		normal:     normal,
		broadcast:  broadcast,
		results:    results,
		logger:     logger.Named("engine"),
	}
}

// Results delivers one outcome per queued subtask. It must be drained while
// the engine runs and until Close returns.
func (e *Engine) Results() <-chan domain.Outcome { return e.results }

// Start launches the workers.
func (e *Engine) Start(ctx context.Context) {
	e.normal.Start(ctx)
	e.broadcast.Start(ctx)
}

// Dispatch fans req out onto the pools. See dispatch.Dispatcher.
func (e *Engine) Dispatch(req domain.TranslationRequest) (immediate []domain.Outcome, queued int) {
	return e.dispatcher.Dispatch(req)
}

// Close stops accepting subtasks, drains both pools and closes the cache.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		var wg sync.WaitGroup
		for _, p := range []*pool.Pool{e.normal, e.broadcast} {
			wg.Add(1)
			go func(p *pool.Pool) {
				defer wg.Done()
				p.Close()
			}(p)
		}
		wg.Wait()
		if err := e.cache.Close(); err != nil {
			e.logger.Warn("cache close failed", zap.Error(err))
		}
	})
}

// PoolStats reports both pools.
func (e *Engine) PoolStats() []pool.Stats {
	return []pool.Stats{e.normal.Stats(), e.broadcast.Stats()}
}

// CacheStats reports the cache counters.
func (e *Engine) CacheStats(ctx context.Context) cache.Stats {
	return e.cache.Stats(ctx)
}
