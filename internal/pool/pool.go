// Package pool runs bounded worker pools that turn subtasks into outcomes.
package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/pricofy/translation-router/internal/config"
	"github.com/pricofy/translation-router/internal/domain"
	terrors "github.com/pricofy/translation-router/internal/errors"
)

// Stats is a snapshot of a pool.
type Stats struct {
	Name      string
	Workers   int
	Depth     int
	Capacity  int
	Processed int64
	Failed    int64
}

// Pool is a fixed set of workers draining one bounded queue. Every pushed
// subtask produces exactly one outcome on the results channel.
type Pool struct {
	name      string
	workers   int
	queue     chan domain.Subtask
	processor Processor
	results   chan<- domain.Outcome
	logger    *zap.Logger

	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup

	processed atomic.Int64
	failed    atomic.Int64
}

// New creates a pool. Outcomes are sent to results, which must be drained
// until Close returns.
func New(name string, cfg config.PoolConfig, processor Processor, results chan<- domain.Outcome, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		name:      name,
		workers:   max(cfg.Workers, 1),
		queue:     make(chan domain.Subtask, max(cfg.QueueCapacity, 1)),
		processor: processor,
		results:   results,
		logger:    logger.Named("pool").With(zap.String("pool", name)),
	}
}

// Name returns the pool name.
func (p *Pool) Name() string { return p.name }

// Start launches the workers. ctx is passed to every subtask; cancel it only
// after Close to abandon in-flight work.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.work(ctx, i)
	}
	p.logger.Info("pool started", zap.Int("workers", p.workers), zap.Int("capacity", cap(p.queue)))
}

// Push enqueues a subtask without blocking. It fails with QUEUE_FULL when
// the queue is at capacity and SHUTTING_DOWN after Close.
func (p *Pool) Push(st domain.Subtask) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return terrors.NewShuttingDown(p.name)
	}
	select {
	case p.queue <- st:
		return nil
	default:
		return terrors.NewQueueFull(p.name, cap(p.queue))
	}
}

// Close stops accepting work, lets the workers drain the queue and waits
// for them to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.wg.Wait()
		return
	}
	p.closed = true
	close(p.queue)
	started := p.started
	p.mu.Unlock()

	if !started {
		// nobody will drain; fail what was queued
		for st := range p.queue {
			p.results <- domain.FailureOutcome(st.TaskID, st.TargetLanguage, terrors.NewShuttingDown(p.name))
		}
	}
	p.wg.Wait()
	s := p.Stats()
	p.logger.Info("pool stopped", zap.Int64("processed", s.Processed), zap.Int64("failed", s.Failed))
}

// Stats returns current queue depth and counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Name:      p.name,
		Workers:   p.workers,
		Depth:     len(p.queue),
		Capacity:  cap(p.queue),
		Processed: p.processed.Load(),
		Failed:    p.failed.Load(),
	}
}

func (p *Pool) work(ctx context.Context, id int) {
	defer p.wg.Done()
	for st := range p.queue {
		out := p.process(ctx, st)
		p.processed.Add(1)
		if !out.Succeeded() {
			p.failed.Add(1)
		}
		p.results <- out
	}
	p.logger.Debug("worker exiting", zap.Int("worker", id))
}

// process runs one subtask; a panic is converted into an INTERNAL outcome so
// the worker keeps going.
func (p *Pool) process(ctx context.Context, st domain.Subtask) (out domain.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker recovered from panic",
				zap.String("task_id", st.TaskID),
				zap.String("target", st.TargetLanguage),
				zap.Any("panic", r))
			out = domain.FailureOutcome(st.TaskID, st.TargetLanguage, terrors.NewInternal(fmt.Errorf("panic: %v", r)))
		}
	}()
	return p.processor.Process(ctx, st)
}
