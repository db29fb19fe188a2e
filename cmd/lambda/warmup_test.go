package main

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	lambdasdk "github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"

	"github.com/pricofy/translation-router/internal/backend"
	"github.com/pricofy/translation-router/internal/cache"
	"github.com/pricofy/translation-router/internal/config"
	"github.com/pricofy/translation-router/internal/domain"
	"github.com/pricofy/translation-router/internal/engine"
)

func TestIsWarmupEvent(t *testing.T) {
	tests := []struct {
		name        string
		event       string
		wantWarmup  bool
		concurrency int
	}{
		{"warmup without concurrency", `{"source":"warmup"}`, true, 0},
		{"warmup with concurrency", `{"source":"warmup","concurrency":3}`, true, 3},
		{"other source", `{"source":"aws.events"}`, false, 0},
		{"translation request", `{"taskId":"t","text":"hola","sourceLanguage":"es","targetLanguages":["en"]}`, false, 0},
		{"not an object", `"warmup"`, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			warmup, ok := IsWarmupEvent(json.RawMessage(tt.event))
			if ok != tt.wantWarmup {
				t.Fatalf("IsWarmupEvent() ok = %v, want %v", ok, tt.wantWarmup)
			}
			if ok && warmup.Concurrency != tt.concurrency {
				t.Errorf("Concurrency = %d, want %d", warmup.Concurrency, tt.concurrency)
			}
		})
	}
}

type recordingInvoker struct {
	mu     sync.Mutex
	inputs []*lambdasdk.InvokeInput
	err    error
}

func (r *recordingInvoker) Invoke(ctx context.Context, in *lambdasdk.InvokeInput, _ ...func(*lambdasdk.Options)) (*lambdasdk.InvokeOutput, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inputs = append(r.inputs, in)
	return &lambdasdk.InvokeOutput{StatusCode: 202}, r.err
}

// newTestWarmer runs a real engine over tr and returns a Warmer for it.
func newTestWarmer(t *testing.T, tr backend.Translator, inv backend.Invoker) *Warmer {
	t.Helper()
	cfg := config.Default()
	eng := engine.New(cfg, tr, cache.NewMemoryStore(10), nil)
	eng.Start(context.Background())
	t.Cleanup(eng.Close)

	w := NewWarmer(tr, eng, cfg.Warmup, "", nil)
	w.function = "translation-router"
	w.delay = 0
	w.newInvoker = func(context.Context) (backend.Invoker, error) {
		if inv == nil {
			return nil, errors.New("no invoker")
		}
		return inv, nil
	}
	return w
}

func warmupBody(t *testing.T, resp interface{}) WarmupResponse {
	t.Helper()
	m, ok := resp.(map[string]interface{})
	if !ok {
		t.Fatalf("response type = %T", resp)
	}
	if m["statusCode"] != 200 {
		t.Errorf("statusCode = %v, want 200", m["statusCode"])
	}
	return m["body"].(WarmupResponse)
}

func TestWarmer_PrimesBackendAndReportsEngine(t *testing.T) {
	var calls atomic.Int32
	var gotPair string
	tr := backend.Func(func(ctx context.Context, text, src, dst string, tier domain.Tier) (backend.Translation, error) {
		calls.Add(1)
		gotPair = src + ">" + dst
		return backend.Echo{}.Translate(ctx, text, src, dst, tier)
	})
	w := newTestWarmer(t, tr, nil)

	resp, err := w.Handle(context.Background(), &WarmupEvent{Source: WarmupSource})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	body := warmupBody(t, resp)

	if body.Status != "warm" || body.InstancesWarmed != 1 {
		t.Errorf("body = %+v, want warm with 1 instance", body)
	}
	if !body.Primed || body.PrimeModel != "echo/basic" {
		t.Errorf("prime = %v %q, want primed by echo/basic", body.Primed, body.PrimeModel)
	}
	if calls.Load() != 1 || gotPair != "en>es" {
		t.Errorf("backend calls = %d (%s), want 1 (en>es)", calls.Load(), gotPair)
	}
	if body.CacheEntries != 0 {
		t.Errorf("CacheEntries = %d, want 0: the prime call skips the cache", body.CacheEntries)
	}

	want := map[string]int{engine.NormalPool: 3, engine.BroadcastPool: 2}
	if len(body.Pools) != len(want) {
		t.Fatalf("Pools = %+v, want %d pools", body.Pools, len(want))
	}
	for _, p := range body.Pools {
		if want[p.Name] != p.Workers {
			t.Errorf("pool %s workers = %d, want %d", p.Name, p.Workers, want[p.Name])
		}
	}
}

func TestWarmer_PrimeFailureStaysWarm(t *testing.T) {
	tr := backend.Func(func(ctx context.Context, text, src, dst string, tier domain.Tier) (backend.Translation, error) {
		return backend.Translation{}, errors.New("translator cold")
	})
	w := newTestWarmer(t, tr, nil)

	resp, err := w.Handle(context.Background(), &WarmupEvent{Source: WarmupSource})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	body := warmupBody(t, resp)
	if body.Status != "warm" || body.Primed {
		t.Errorf("body = %+v, want warm and not primed", body)
	}
}

func TestWarmer_PrimeDisabled(t *testing.T) {
	var calls atomic.Int32
	tr := backend.Func(func(ctx context.Context, text, src, dst string, tier domain.Tier) (backend.Translation, error) {
		calls.Add(1)
		return backend.Translation{Text: text}, nil
	})
	w := newTestWarmer(t, tr, nil)
	w.prime = config.WarmupConfig{}

	resp, _ := w.Handle(context.Background(), &WarmupEvent{Source: WarmupSource})
	if body := warmupBody(t, resp); body.Primed || calls.Load() != 0 {
		t.Errorf("primed = %v with %d backend calls, want no prime", body.Primed, calls.Load())
	}
}

func TestWarmer_SelfInvoke(t *testing.T) {
	tests := []struct {
		name          string
		invoker       *recordingInvoker
		wantInstances int
		wantCalls     int
	}{
		{"fans out", &recordingInvoker{}, 4, 3},
		{"invoke error", &recordingInvoker{err: errors.New("throttled")}, 1, 3},
		{"no client", nil, 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var inv backend.Invoker
			if tt.invoker != nil {
				inv = tt.invoker
			}
			w := newTestWarmer(t, backend.Echo{}, inv)

			resp, err := w.Handle(context.Background(), &WarmupEvent{Source: WarmupSource, Concurrency: 3})
			if err != nil {
				t.Fatalf("Handle() error = %v", err)
			}
			if got := warmupBody(t, resp).InstancesWarmed; got != tt.wantInstances {
				t.Errorf("InstancesWarmed = %d, want %d", got, tt.wantInstances)
			}
			if tt.invoker == nil {
				return
			}
			if len(tt.invoker.inputs) != tt.wantCalls {
				t.Fatalf("invocations = %d, want %d", len(tt.invoker.inputs), tt.wantCalls)
			}
			for _, in := range tt.invoker.inputs {
				if aws.ToString(in.FunctionName) != "translation-router" || in.InvocationType != types.InvocationTypeEvent {
					t.Errorf("invoke input = %s %s", aws.ToString(in.FunctionName), in.InvocationType)
				}
				ev, ok := IsWarmupEvent(in.Payload)
				if !ok || ev.Concurrency != 0 {
					t.Errorf("child payload = %s, want a warmup without concurrency", in.Payload)
				}
			}
		})
	}
}
