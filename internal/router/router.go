// Package router terminates the pub/sub transport: it decodes inbound
// requests, hands them to the engine and publishes every outcome. A single
// loop owns the publish endpoint, so outbound frames are never written
// concurrently.
package router

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pricofy/translation-router/internal/cache"
	"github.com/pricofy/translation-router/internal/domain"
	terrors "github.com/pricofy/translation-router/internal/errors"
	"github.com/pricofy/translation-router/internal/logging"
	"github.com/pricofy/translation-router/internal/pool"
	"github.com/pricofy/translation-router/internal/wire"
)

// Source delivers inbound frames until closed.
type Source interface {
	Frames() <-chan []byte
	Close() error
}

// Publisher broadcasts outbound frames without blocking.
type Publisher interface {
	Publish(frame []byte) int
	Close() error
}

// Engine is the translation core the router drives.
type Engine interface {
	Start(ctx context.Context)
	Dispatch(req domain.TranslationRequest) (immediate []domain.Outcome, queued int)
	Results() <-chan domain.Outcome
	Close()
	PoolStats() []pool.Stats
	CacheStats(ctx context.Context) cache.Stats
}

// Stats counts router traffic.
type Stats struct {
	Received  int64
	Rejected  int64
	Published int64
}

// Router is the ingress/egress loop.
type Router struct {
	id            string
	inbound       Source
	outbound      Publisher
	codec         wire.Codec
	engine        Engine
	statsInterval time.Duration
	logger        *zap.Logger
	now           func() time.Time

	// queued subtasks still owed an outcome, per task id; loop-owned
	inflight map[string]int

	received  atomic.Int64
	rejected  atomic.Int64
	published atomic.Int64
}

// New creates a Router. A zero statsInterval disables periodic stats logs.
func New(in Source, out Publisher, codec wire.Codec, eng Engine, statsInterval time.Duration, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()
	return &Router{
		id:            id,
		inbound:       in,
		outbound:      out,
		codec:         codec,
		engine:        eng,
		statsInterval: statsInterval,
		logger:        logger.Named("router").With(zap.String("router_id", id)),
		now:           time.Now,
		inflight:      make(map[string]int),
	}
}

// ID identifies this router instance in logs.
func (r *Router) ID() string { return r.id }

// Stats returns the traffic counters.
func (r *Router) Stats() Stats {
	return Stats{
		Received:  r.received.Load(),
		Rejected:  r.rejected.Load(),
		Published: r.published.Load(),
	}
}

// Run starts the engine and serves until ctx is cancelled or the inbound
// source closes, then shuts down gracefully: inbound stops, the pools drain,
// every remaining outcome is published and the endpoints close.
func (r *Router) Run(ctx context.Context) error {
	// Work outlives ctx so queued subtasks can finish during shutdown.
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()
	r.engine.Start(workCtx)
	r.logger.Info("router started")

	var tick <-chan time.Time
	if r.statsInterval > 0 {
		t := time.NewTicker(r.statsInterval)
		defer t.Stop()
		tick = t.C
	}

	frames := r.inbound.Frames()
	results := r.engine.Results()
	for {
		select {
		case <-ctx.Done():
			return r.shutdown(ctx)
		case frame, ok := <-frames:
			if !ok {
				r.logger.Warn("inbound source closed")
				return r.shutdown(ctx)
			}
			r.handle(frame)
		case out := <-results:
			r.settle(out)
			r.publish(out)
		case <-tick:
			r.logStats(ctx, zap.DebugLevel)
		}
	}
}

func (r *Router) handle(frame []byte) {
	r.received.Add(1)
	req, err := wire.DecodeRequest(r.codec, frame)
	if err != nil {
		// Nothing reliable to correlate an error reply with.
		r.rejected.Add(1)
		r.logger.Warn("inbound request rejected",
			zap.Int("bytes", len(frame)),
			zap.String("preview", logging.Preview(string(frame), 80)),
			zap.Error(err))
		return
	}
	if n := r.inflight[req.TaskID]; n > 0 {
		r.rejected.Add(1)
		r.logger.Warn("inbound request rejected",
			zap.String("task_id", req.TaskID),
			zap.Int("pending", n),
			zap.Error(terrors.NewValidation(fmt.Sprintf("task %s is already in flight", req.TaskID))))
		return
	}

	immediate, queued := r.engine.Dispatch(req)
	if queued > 0 {
		r.inflight[req.TaskID] = queued
	}
	for _, out := range immediate {
		r.publish(out)
	}
	r.logger.Debug("request accepted",
		zap.String("task_id", req.TaskID),
		zap.Strings("targets", req.TargetLanguages),
		zap.Int("queued", queued))
}

// settle counts a pool outcome against its task.
func (r *Router) settle(out domain.Outcome) {
	id := out.TaskID()
	if r.inflight[id] <= 1 {
		delete(r.inflight, id)
		return
	}
	r.inflight[id]--
}

func (r *Router) publish(out domain.Outcome) {
	frame, err := wire.EncodeOutcome(r.codec, out, r.now())
	if err != nil {
		r.logger.Error("encode outcome failed",
			zap.String("task_id", out.TaskID()),
			zap.String("target", out.TargetLanguage()),
			zap.Error(err))
		return
	}
	n := r.outbound.Publish(frame)
	r.published.Add(1)

	if ce := r.logger.Check(zap.DebugLevel, "outcome published"); ce != nil {
		ce.Write(
			zap.String("task_id", out.TaskID()),
			zap.String("target", out.TargetLanguage()),
			zap.Bool("ok", out.Succeeded()),
			zap.Int("subscribers", n))
	}
}

func (r *Router) shutdown(ctx context.Context) error {
	r.logger.Info("router stopping")
	if err := r.inbound.Close(); err != nil {
		r.logger.Warn("inbound close failed", zap.Error(err))
	}

	results := r.engine.Results()
	drained := make(chan struct{})
	go func() {
		r.engine.Close()
		close(drained)
	}()
	for waiting := true; waiting; {
		select {
		case out := <-results:
			r.settle(out)
			r.publish(out)
		case <-drained:
			waiting = false
		}
	}
	// outcomes buffered before the pools finished
	for flushing := true; flushing; {
		select {
		case out := <-results:
			r.settle(out)
			r.publish(out)
		default:
			flushing = false
		}
	}

	r.logStats(ctx, zap.InfoLevel)
	err := r.outbound.Close()
	r.logger.Info("router stopped",
		zap.Int64("received", r.received.Load()),
		zap.Int64("rejected", r.rejected.Load()),
		zap.Int64("published", r.published.Load()))
	return err
}

func (r *Router) logStats(ctx context.Context, level zapcore.Level) {
	ce := r.logger.Check(level, "router stats")
	if ce == nil {
		return
	}
	cs := r.engine.CacheStats(context.WithoutCancel(ctx))
	fields := []zap.Field{
		zap.Int64("cache_hits", cs.Hits),
		zap.Int64("cache_misses", cs.Misses),
		zap.Int64("cache_shared", cs.Shared),
		zap.Int64("cache_store_errors", cs.StoreErrors),
		zap.Int("cache_entries", cs.Entries),
		zap.Int64("cache_evictions", cs.Evictions),
	}
	for _, ps := range r.engine.PoolStats() {
		fields = append(fields,
			zap.Int(ps.Name+"_depth", ps.Depth),
			zap.Int(ps.Name+"_capacity", ps.Capacity),
			zap.Int64(ps.Name+"_processed", ps.Processed),
			zap.Int64(ps.Name+"_failed", ps.Failed))
	}
	ce.Write(fields...)
}
