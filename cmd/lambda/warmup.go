// Package main contains the Lambda warmup handler for preventing cold starts.
// CloudWatch Events trigger this handler periodically to keep Lambda instances warm.
package main

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	lambdasdk "github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"go.uber.org/zap"

	"github.com/pricofy/translation-router/internal/backend"
	"github.com/pricofy/translation-router/internal/cache"
	"github.com/pricofy/translation-router/internal/config"
	"github.com/pricofy/translation-router/internal/domain"
	"github.com/pricofy/translation-router/internal/pool"
)

const (
	// WarmupSource identifies warmup events from CloudWatch
	WarmupSource = "warmup"

	// WarmupDelay ensures instances overlap to create true concurrency
	WarmupDelay = 75 * time.Millisecond
)

// WarmupEvent represents the CloudWatch Event payload for warmup
type WarmupEvent struct {
	Source      string `json:"source"`
	Concurrency int    `json:"concurrency"`
}

// PoolState is one worker pool as seen by a warmup.
type PoolState struct {
	Name      string `json:"name"`
	Workers   int    `json:"workers"`
	Depth     int    `json:"depth"`
	Processed int64  `json:"processed"`
	Failed    int64  `json:"failed"`
}

// WarmupResponse reports what the warmed instance looks like.
type WarmupResponse struct {
	Status          string      `json:"status"`
	InstancesWarmed int         `json:"instancesWarmed"`
	Primed          bool        `json:"primed"`
	PrimeModel      string      `json:"primeModel,omitempty"`
	PrimeMs         int64       `json:"primeMs"`
	CacheEntries    int         `json:"cacheEntries"`
	CacheHits       int64       `json:"cacheHits"`
	Pools           []PoolState `json:"pools"`
}

// IsWarmupEvent checks if the event is a warmup event
func IsWarmupEvent(event json.RawMessage) (*WarmupEvent, bool) {
	var eventMap map[string]interface{}
	if err := json.Unmarshal(event, &eventMap); err != nil {
		return nil, false
	}

	source, ok := eventMap["source"].(string)
	if !ok || source != WarmupSource {
		return nil, false
	}

	warmup := &WarmupEvent{Source: source}
	if concurrency, ok := eventMap["concurrency"].(float64); ok {
		warmup.Concurrency = int(concurrency)
	}
	return warmup, true
}

// instanceEngine is the part of the engine a warmup reports on.
type instanceEngine interface {
	PoolStats() []pool.Stats
	CacheStats(ctx context.Context) cache.Stats
}

// Warmer handles warmup events for one instance: it primes the translation
// backend, snapshots the engine and optionally fans out to more instances.
type Warmer struct {
	translator backend.Translator
	engine     instanceEngine
	prime      config.WarmupConfig
	function   string
	delay      time.Duration
	logger     *zap.Logger

	// newInvoker builds the client used for self-invocation.
	newInvoker func(ctx context.Context) (backend.Invoker, error)
}

// NewWarmer creates a Warmer for the instance's backend and engine.
func NewWarmer(tr backend.Translator, eng instanceEngine, prime config.WarmupConfig, region string, logger *zap.Logger) *Warmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Warmer{
		translator: tr,
		engine:     eng,
		prime:      prime,
		function:   os.Getenv("AWS_LAMBDA_FUNCTION_NAME"),
		delay:      WarmupDelay,
		logger:     logger.Named("warmup"),
		newInvoker: func(ctx context.Context) (backend.Invoker, error) {
			return backend.NewClient(ctx, region)
		},
	}
}

// Handle processes a warmup event. Failures are logged and reflected in the
// response; a warmup never fails the invocation.
func (w *Warmer) Handle(ctx context.Context, warmup *WarmupEvent) (interface{}, error) {
	resp := WarmupResponse{Status: "warm", InstancesWarmed: 1}

	if warmup.Concurrency > 0 {
		if err := w.selfInvoke(ctx, warmup.Concurrency); err != nil {
			w.logger.Warn("self-invoke failed", zap.Int("concurrency", warmup.Concurrency), zap.Error(err))
		} else {
			resp.InstancesWarmed += warmup.Concurrency
		}
	}

	w.primeBackend(ctx, &resp)

	cs := w.engine.CacheStats(ctx)
	resp.CacheEntries = cs.Entries
	resp.CacheHits = cs.Hits
	for _, ps := range w.engine.PoolStats() {
		resp.Pools = append(resp.Pools, PoolState{
			Name:      ps.Name,
			Workers:   ps.Workers,
			Depth:     ps.Depth,
			Processed: ps.Processed,
			Failed:    ps.Failed,
		})
	}

	// Brief delay to ensure instances overlap
	select {
	case <-time.After(w.delay):
	case <-ctx.Done():
	}

	w.logger.Debug("instance warm",
		zap.Int("instances", resp.InstancesWarmed),
		zap.Bool("primed", resp.Primed),
		zap.Int64("prime_ms", resp.PrimeMs),
		zap.Int("cache_entries", resp.CacheEntries))

	return map[string]interface{}{
		"statusCode": 200,
		"body":       resp,
	}, nil
}

// primeBackend makes one translation call straight to the backend, skipping
// the cache, so the backend's clients and connections are ready.
func (w *Warmer) primeBackend(ctx context.Context, resp *WarmupResponse) {
	if w.prime.Text == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, w.prime.Timeout)
	defer cancel()

	start := time.Now()
	tr, err := w.translator.Translate(ctx, w.prime.Text, w.prime.Source, w.prime.Target, domain.TierBasic)
	resp.PrimeMs = time.Since(start).Milliseconds()
	if err != nil {
		w.logger.Warn("backend prime failed",
			zap.String("source", w.prime.Source),
			zap.String("target", w.prime.Target),
			zap.Error(err))
		return
	}
	resp.Primed = true
	resp.PrimeModel = tr.Model
}

// selfInvoke invokes this Lambda function N times asynchronously
// to create additional warm instances.
func (w *Warmer) selfInvoke(ctx context.Context, count int) error {
	client, err := w.newInvoker(ctx)
	if err != nil {
		return err
	}

	// Payload for child invocations (concurrency=0 to prevent infinite loop)
	payload, err := json.Marshal(WarmupEvent{
		Source:      WarmupSource,
		Concurrency: 0, // Critical: prevent recursive invocation
	})
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	var invokeErr error
	var errMu sync.Mutex

	for i := 0; i < count; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := client.Invoke(ctx, &lambdasdk.InvokeInput{
				FunctionName:   aws.String(w.function),
				InvocationType: types.InvocationTypeEvent,
				Payload:        payload,
			})
			if err != nil {
				errMu.Lock()
				if invokeErr == nil {
					invokeErr = err
				}
				errMu.Unlock()
			}
		}()
	}

	wg.Wait()
	return invokeErr
}
