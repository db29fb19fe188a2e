package router

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pricofy/translation-router/internal/backend"
	"github.com/pricofy/translation-router/internal/cache"
	"github.com/pricofy/translation-router/internal/config"
	"github.com/pricofy/translation-router/internal/domain"
	"github.com/pricofy/translation-router/internal/engine"
	"github.com/pricofy/translation-router/internal/segment"
	"github.com/pricofy/translation-router/internal/transport"
	"github.com/pricofy/translation-router/internal/wire"
)

var memSeq atomic.Int64

var upper = backend.Func(func(_ context.Context, text, _, _ string, tier domain.Tier) (backend.Translation, error) {
	return backend.Translation{Text: strings.ToUpper(text), Confidence: 0.9, Model: "upper/" + string(tier)}, nil
})

type harness struct {
	router *Router
	codec  wire.Codec
	pub    transport.Conn
	sub    transport.Conn
	cancel context.CancelFunc
	done   chan error

	once sync.Once
	err  error
}

// wait returns Run's result once it has returned.
func (h *harness) wait() error {
	h.once.Do(func() { h.err = <-h.done })
	return h.err
}

func testConfig() *config.Config {
	cfg := config.Default()
	n := memSeq.Add(1)
	cfg.Transport.Inbound = fmt.Sprintf("mem://router-in-%d", n)
	cfg.Transport.Outbound = fmt.Sprintf("mem://router-out-%d", n)
	cfg.Translation.Timeout = 5 * time.Second
	return cfg
}

func start(t *testing.T, cfg *config.Config, tr backend.Translator) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	opts := transport.Options{MaxFrameBytes: cfg.Transport.MaxFrameBytes, WriteTimeout: time.Second}

	codec, err := wire.ByName(cfg.Transport.Codec)
	require.NoError(t, err)
	in, err := transport.BindInbound(ctx, cfg.Transport.Inbound, opts, nil)
	require.NoError(t, err)
	out, err := transport.BindOutbound(ctx, cfg.Transport.Outbound, opts, nil)
	require.NoError(t, err)

	eng := engine.New(cfg, tr, cache.NewMemoryStore(cfg.Cache.MaxEntries), nil)
	r := New(in, out, codec, eng, 0, nil)

	h := &harness{router: r, codec: codec, cancel: cancel, done: make(chan error, 1)}
	go func() { h.done <- r.Run(ctx) }()

	h.sub, err = transport.Subscribe(ctx, out.Addr(), opts)
	require.NoError(t, err)
	h.pub, err = transport.Dial(ctx, in.Addr(), opts)
	require.NoError(t, err)

	t.Cleanup(func() {
		cancel()
		_ = h.pub.Close()
		_ = h.sub.Close()
		_ = h.wait()
	})
	return h
}

func (h *harness) send(t *testing.T, req map[string]any) {
	t.Helper()
	frame, err := h.codec.Marshal(req)
	require.NoError(t, err)
	require.NoError(t, h.pub.Send(frame))
}

func (h *harness) recv(t *testing.T) wire.Outbound {
	t.Helper()
	type result struct {
		frame []byte
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		f, err := h.sub.Recv()
		ch <- result{f, err}
	}()
	select {
	case r := <-ch:
		require.NoError(t, r.err)
		msg, err := wire.DecodeOutbound(h.codec, r.frame)
		require.NoError(t, err)
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for outbound frame")
		return wire.Outbound{}
	}
}

func TestRouter_EndToEnd(t *testing.T) {
	h := start(t, testConfig(), upper)

	h.send(t, map[string]any{
		"taskId":          "t1",
		"messageId":       "m1",
		"text":            "Hello! 👋\n\nThis is a test.",
		"sourceLanguage":  "en",
		"targetLanguages": []string{"fr"},
		"timestamp":       1700000000000,
	})

	msg := h.recv(t)
	assert.Equal(t, wire.TypeCompleted, msg.Type)
	assert.Equal(t, "t1", msg.TaskID)
	assert.Equal(t, "fr", msg.TargetLanguage)
	require.NotNil(t, msg.Result)

	text := msg.Result.TranslatedText
	assert.Equal(t, "HELLO! 👋\n\nTHIS IS A TEST.", text)
	assert.Equal(t, 1, segment.CountEmoji(text))
	assert.Equal(t, 1, strings.Count(text, "\n\n"))
	assert.Len(t, strings.Split(text, "\n"), 3)
	assert.Equal(t, "m1", msg.Result.MessageID)
	assert.Equal(t, "en", msg.Result.SourceLanguage)
	assert.False(t, msg.Result.FromCache)
}

func TestRouter_CBOROverTCP(t *testing.T) {
	cfg := testConfig()
	cfg.Transport.Codec = "cbor"
	cfg.Transport.Inbound = "tcp://127.0.0.1:0"
	cfg.Transport.Outbound = "tcp://127.0.0.1:0"

	// Ephemeral ports are resolved from the bound endpoints.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	opts := transport.Options{MaxFrameBytes: cfg.Transport.MaxFrameBytes}
	in, err := transport.BindInbound(ctx, cfg.Transport.Inbound, opts, nil)
	require.NoError(t, err)
	out, err := transport.BindOutbound(ctx, cfg.Transport.Outbound, opts, nil)
	require.NoError(t, err)
	codec, err := wire.CBOR()
	require.NoError(t, err)

	r := New(in, out, codec, engine.New(cfg, upper, cache.NewMemoryStore(10), nil), 0, nil)
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	sub, err := transport.Subscribe(ctx, out.Addr(), opts)
	require.NoError(t, err)
	defer sub.Close()
	pub, err := transport.Dial(ctx, in.Addr(), opts)
	require.NoError(t, err)
	defer pub.Close()

	frame, err := codec.Marshal(map[string]any{
		"taskId": "c1", "text": "hola", "sourceLanguage": "es", "targetLanguages": []string{"en", "es"},
	})
	require.NoError(t, err)
	require.NoError(t, pub.Send(frame))

	got := map[string]string{}
	for i := 0; i < 2; i++ {
		f, err := sub.Recv()
		require.NoError(t, err)
		msg, err := wire.DecodeOutbound(codec, f)
		require.NoError(t, err)
		require.NotNil(t, msg.Result)
		got[msg.TargetLanguage] = msg.Result.TranslatedText
	}
	assert.Equal(t, map[string]string{"en": "HOLA", "es": "hola"}, got)

	cancel()
	assert.NoError(t, <-done)
}

func TestRouter_InvalidFrameIsDropped(t *testing.T) {
	h := start(t, testConfig(), upper)

	require.NoError(t, h.pub.Send([]byte(`{"taskId":`)))
	h.send(t, map[string]any{"taskId": "t1", "text": "hi", "sourceLanguage": "en"})
	h.send(t, map[string]any{"taskId": "t2", "text": "hi", "sourceLanguage": "en", "targetLanguages": []string{"en"}})

	msg := h.recv(t)
	assert.Equal(t, "t2", msg.TaskID)
	require.NotNil(t, msg.Result)
	assert.Equal(t, "hi", msg.Result.TranslatedText)
	assert.Equal(t, 1.0, msg.Result.ConfidenceScore)

	s := h.router.Stats()
	assert.Equal(t, int64(3), s.Received)
	assert.Equal(t, int64(2), s.Rejected)
}

func TestRouter_RejectsDuplicateInFlight(t *testing.T) {
	gate := make(chan struct{})
	blocked := backend.Func(func(ctx context.Context, text, _, _ string, _ domain.Tier) (backend.Translation, error) {
		select {
		case <-gate:
		case <-ctx.Done():
			return backend.Translation{}, ctx.Err()
		}
		return backend.Translation{Text: text, Confidence: 1, Model: "gate"}, nil
	})
	h := start(t, testConfig(), blocked)

	req := map[string]any{"taskId": "t1", "text": "hello", "sourceLanguage": "en", "targetLanguages": []string{"fr"}}
	h.send(t, req)
	h.send(t, req)
	h.send(t, map[string]any{"taskId": "t2", "text": "hi", "sourceLanguage": "en", "targetLanguages": []string{"en"}})

	msg := h.recv(t)
	assert.Equal(t, "t2", msg.TaskID)
	assert.Equal(t, int64(1), h.router.Stats().Rejected)

	close(gate)
	msg = h.recv(t)
	assert.Equal(t, "t1", msg.TaskID)
	assert.Equal(t, wire.TypeCompleted, msg.Type)

	// the id is free again once every target has its outcome
	h.send(t, map[string]any{"taskId": "t1", "text": "hello", "sourceLanguage": "en", "targetLanguages": []string{"de"}})
	msg = h.recv(t)
	assert.Equal(t, "t1", msg.TaskID)
	assert.Equal(t, "de", msg.TargetLanguage)
	assert.Equal(t, int64(1), h.router.Stats().Rejected)
}

func TestRouter_BackpressureKeepsLoopResponsive(t *testing.T) {
	cfg := testConfig()
	cfg.Pools.Normal = config.PoolConfig{Workers: 1, QueueCapacity: 1}

	gate := make(chan struct{})
	blocked := backend.Func(func(ctx context.Context, text, _, _ string, _ domain.Tier) (backend.Translation, error) {
		select {
		case <-gate:
		case <-ctx.Done():
			return backend.Translation{}, ctx.Err()
		}
		return backend.Translation{Text: text, Confidence: 1, Model: "gate"}, nil
	})
	h := start(t, cfg, blocked)

	h.send(t, map[string]any{"taskId": "t1", "text": "hello", "sourceLanguage": "en", "targetLanguages": []string{"fr", "de", "es", "it"}})
	h.send(t, map[string]any{"taskId": "t2", "text": "hello", "sourceLanguage": "en", "targetLanguages": []string{"en"}})

	// Rejections for t1 are published before t2 is even read.
	rejected := map[string]bool{}
	for {
		msg := h.recv(t)
		if msg.TaskID == "t2" {
			require.NotNil(t, msg.Result)
			break
		}
		assert.Equal(t, wire.TypeError, msg.Type)
		assert.Equal(t, "QUEUE_FULL", msg.ErrorCode)
		rejected[msg.TargetLanguage] = true
	}
	assert.GreaterOrEqual(t, len(rejected), 2)
	assert.LessOrEqual(t, len(rejected), 3)

	close(gate)
	completed := map[string]bool{}
	for len(completed)+len(rejected) < 4 {
		msg := h.recv(t)
		assert.Equal(t, wire.TypeCompleted, msg.Type)
		assert.False(t, rejected[msg.TargetLanguage], "target %s got two terminal messages", msg.TargetLanguage)
		completed[msg.TargetLanguage] = true
	}
}

func TestRouter_ShutdownPublishesQueuedWork(t *testing.T) {
	cfg := testConfig()
	cfg.Pools.Normal = config.PoolConfig{Workers: 1, QueueCapacity: 10}

	slow := backend.Func(func(ctx context.Context, text, _, _ string, _ domain.Tier) (backend.Translation, error) {
		time.Sleep(20 * time.Millisecond)
		return backend.Translation{Text: text, Confidence: 1, Model: "slow"}, nil
	})
	h := start(t, cfg, slow)

	targets := []string{"fr", "de", "es", "it", "pt"}
	h.send(t, map[string]any{"taskId": "t1", "text": "hello", "sourceLanguage": "en", "targetLanguages": targets})
	require.Eventually(t, func() bool { return h.router.Stats().Received == 1 }, 2*time.Second, 5*time.Millisecond)

	h.cancel()

	got := map[string]bool{}
	for range targets {
		msg := h.recv(t)
		assert.Equal(t, wire.TypeCompleted, msg.Type)
		got[msg.TargetLanguage] = true
	}
	assert.Len(t, got, len(targets))

	_, err := h.sub.Recv()
	assert.ErrorIs(t, err, transport.ErrClosed)
	assert.NoError(t, h.wait())
}
