package handler

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pricofy/translation-router/internal/backend"
	"github.com/pricofy/translation-router/internal/cache"
	"github.com/pricofy/translation-router/internal/config"
	"github.com/pricofy/translation-router/internal/domain"
	"github.com/pricofy/translation-router/internal/engine"
	"github.com/pricofy/translation-router/internal/wire"
)

func newHandler(t *testing.T, tr backend.Translator) *Handler {
	t.Helper()
	cfg := config.Default()
	eng := engine.New(cfg, tr, cache.NewMemoryStore(100), nil)

	ctx, cancel := context.WithCancel(context.Background())
	eng.Start(ctx)
	h := New(eng, nil)
	go h.Run(ctx)

	t.Cleanup(func() {
		cancel()
		// drain so Close can finish
		closed := make(chan struct{})
		go func() {
			for {
				select {
				case <-eng.Results():
				case <-closed:
					return
				}
			}
		}()
		eng.Close()
		close(closed)
	})
	return h
}

var upper = backend.Func(func(_ context.Context, text, _, _ string, _ domain.Tier) (backend.Translation, error) {
	return backend.Translation{Text: strings.ToUpper(text), Confidence: 0.9, Model: "upper"}, nil
})

func TestHandle_Validation(t *testing.T) {
	h := newHandler(t, upper)

	tests := []struct {
		name     string
		request  Request
		errorMsg string
	}{
		{
			name:     "missing text",
			request:  Request{TaskID: "t", SourceLanguage: "es", TargetLanguages: []string{"fr"}},
			errorMsg: "VALIDATION_ERROR: missing required fields: text",
		},
		{
			name:     "missing sourceLanguage",
			request:  Request{TaskID: "t", Text: "Hola", TargetLanguages: []string{"fr"}},
			errorMsg: "VALIDATION_ERROR: missing required fields: sourceLanguage",
		},
		{
			name:     "no targets",
			request:  Request{TaskID: "t", Text: "Hola", SourceLanguage: "es"},
			errorMsg: "VALIDATION_ERROR: missing required fields: targetLanguages",
		},
		{
			name:     "unknown tier",
			request:  Request{TaskID: "t", Text: "Hola", SourceLanguage: "es", TargetLanguages: []string{"fr"}, ModelType: "gold"},
			errorMsg: `VALIDATION_ERROR: unknown modelType "gold"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := h.Handle(context.Background(), tt.request)
			require.NoError(t, err)
			assert.Equal(t, tt.errorMsg, resp.Error)
			assert.Equal(t, "VALIDATION_ERROR", resp.ErrorCode)
			assert.Empty(t, resp.Results)
		})
	}
}

func TestHandle_CollectsEveryTarget(t *testing.T) {
	h := newHandler(t, upper)

	resp, err := h.Handle(context.Background(), Request{
		TaskID:          "t1",
		Text:            "Hola 👋\n- uno\n- dos",
		SourceLanguage:  "es",
		TargetLanguages: []string{"fr", "es", "de", "fr"},
	})
	require.NoError(t, err)
	require.Empty(t, resp.Error)
	assert.Equal(t, "t1", resp.TaskID)
	require.Len(t, resp.Results, 3)

	for i, target := range []string{"fr", "es", "de"} {
		msg := resp.Results[i]
		assert.Equal(t, target, msg.TargetLanguage)
		assert.Equal(t, wire.TypeCompleted, msg.Type)
		require.NotNil(t, msg.Result)
	}
	assert.Equal(t, "HOLA 👋\n- UNO\n- DOS", resp.Results[0].Result.TranslatedText)
	assert.Equal(t, "Hola 👋\n- uno\n- dos", resp.Results[1].Result.TranslatedText, "same language is a no-op")
	assert.Equal(t, 1.0, resp.Results[1].Result.ConfidenceScore)
}

func TestHandle_GeneratesTaskID(t *testing.T) {
	h := newHandler(t, upper)

	resp, err := h.Handle(context.Background(), Request{Text: "hi", SourceLanguage: "en", TargetLanguages: []string{"it"}})
	require.NoError(t, err)
	assert.Len(t, resp.TaskID, 26, "ulid")
	require.Len(t, resp.Results, 1)
	assert.Equal(t, resp.TaskID, resp.Results[0].TaskID)
}

func TestHandle_DeadlineReportsTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	stuck := backend.Func(func(ctx context.Context, text, _, _ string, _ domain.Tier) (backend.Translation, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return backend.Translation{Text: text}, nil
	})
	h := newHandler(t, stuck)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	resp, err := h.Handle(ctx, Request{TaskID: "slow", Text: "hi", SourceLanguage: "en", TargetLanguages: []string{"fr"}})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, wire.TypeError, resp.Results[0].Type)
	assert.Equal(t, "TRANSLATION_TIMEOUT", resp.Results[0].ErrorCode)
}

func TestHandle_RejectsDuplicateInFlight(t *testing.T) {
	release := make(chan struct{})
	stuck := backend.Func(func(ctx context.Context, text, _, _ string, _ domain.Tier) (backend.Translation, error) {
		<-release
		return backend.Translation{Text: text}, nil
	})
	h := newHandler(t, stuck)

	first := make(chan *Response, 1)
	go func() {
		resp, _ := h.Handle(context.Background(), Request{TaskID: "dup", Text: "hi", SourceLanguage: "en", TargetLanguages: []string{"fr"}})
		first <- resp
	}()
	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.waiters["dup"] != nil
	}, time.Second, 5*time.Millisecond)

	resp, err := h.Handle(context.Background(), Request{TaskID: "dup", Text: "hi", SourceLanguage: "en", TargetLanguages: []string{"de"}})
	require.NoError(t, err)
	assert.Equal(t, "VALIDATION_ERROR", resp.ErrorCode)
	assert.Contains(t, resp.Error, "already in flight")

	close(release)
	got := <-first
	require.Len(t, got.Results, 1)
	assert.Equal(t, wire.TypeCompleted, got.Results[0].Type)
}
