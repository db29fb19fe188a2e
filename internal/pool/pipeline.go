package pool

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/pricofy/translation-router/internal/backend"
	"github.com/pricofy/translation-router/internal/cache"
	"github.com/pricofy/translation-router/internal/domain"
	terrors "github.com/pricofy/translation-router/internal/errors"
	"github.com/pricofy/translation-router/internal/logging"
	"github.com/pricofy/translation-router/internal/segment"
)

// passthroughModel is reported when no segment needed the backend.
const passthroughModel = "passthrough"

// Processor turns one subtask into its terminal outcome.
type Processor interface {
	Process(ctx context.Context, st domain.Subtask) domain.Outcome
}

// Pipeline is the per-subtask worker pipeline: cache lookup, segmentation,
// backend calls under a deadline, reassembly.
type Pipeline struct {
	cache     *cache.Cache
	segmenter *segment.Segmenter
	backend   backend.Translator
	timeout   time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// NewPipeline creates a Pipeline. c may be nil to disable caching.
func NewPipeline(c *cache.Cache, s *segment.Segmenter, b backend.Translator, timeout time.Duration, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		cache:     c,
		segmenter: s,
		backend:   b,
		timeout:   timeout,
		logger:    logger.Named("pipeline"),
		now:       time.Now,
	}
}

// Process translates one subtask. It never panics on backend failures;
// every failure is returned as an error outcome.
func (p *Pipeline) Process(ctx context.Context, st domain.Subtask) domain.Outcome {
	start := p.now()

	var (
		v        cache.Value
		computed = true
		err      error
	)
	if p.cache != nil {
		key := cache.Key(st.Text, st.SourceLanguage, st.TargetLanguage, st.Tier)
		v, computed, err = p.cache.GetOrCompute(ctx, key, func(ctx context.Context) (cache.Value, error) {
			return p.translate(ctx, st)
		})
	} else {
		v, err = p.translate(ctx, st)
	}
	if err != nil {
		p.logger.Warn("subtask failed",
			zap.String("task_id", st.TaskID),
			zap.String("target", st.TargetLanguage),
			zap.String("code", string(terrors.CodeOf(err))),
			zap.Error(err))
		return domain.FailureOutcome(st.TaskID, st.TargetLanguage, err)
	}

	return domain.ResultOutcome(domain.TranslationResult{
		TaskID:           st.TaskID,
		MessageID:        st.MessageID,
		TargetLanguage:   st.TargetLanguage,
		SourceLanguage:   st.SourceLanguage,
		TranslatedText:   v.Text,
		ConfidenceScore:  v.Confidence,
		ModelUsed:        v.Model,
		ProcessingTimeMs: p.now().Sub(start).Milliseconds(),
		FromCache:        !computed,
	})
}

// translate segments the text, translates every translatable segment and
// reassembles the document.
func (p *Pipeline) translate(ctx context.Context, st domain.Subtask) (cache.Value, error) {
	doc, err := p.segmenter.Segment(st.Text)
	if err != nil {
		return cache.Value{}, err
	}

	var idx []int
	var bodies []string
	for i, s := range doc.Segments {
		if s.Translatable() {
			idx = append(idx, i)
			bodies = append(bodies, s.Body())
		}
	}
	if len(idx) == 0 {
		return cache.Value{Text: doc.Reassemble(doc.Segments), Confidence: 1.0, Model: passthroughModel}, nil
	}

	tctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	translations, err := p.callBackend(tctx, bodies, st)
	if err != nil {
		return cache.Value{}, p.classify(tctx, err)
	}

	out := make([]segment.Segment, len(doc.Segments))
	copy(out, doc.Segments)
	var weighted float64
	var total int
	var models []string
	for j, i := range idx {
		tr := translations[j]
		out[i] = out[i].WithBody(tr.Text)

		n := max(utf8.RuneCountInString(bodies[j]), 1)
		weighted += tr.Confidence * float64(n)
		total += n
		if !slices.Contains(models, tr.Model) {
			models = append(models, tr.Model)
		}
	}

	p.logger.Debug("subtask translated",
		zap.String("task_id", st.TaskID),
		zap.String("target", st.TargetLanguage),
		zap.Int("segments", len(doc.Segments)),
		zap.Int("translated", len(idx)),
		zap.String("preview", logging.Preview(st.Text, 40)))

	return cache.Value{
		Text:       doc.Reassemble(out),
		Confidence: weighted / float64(total),
		Model:      strings.Join(models, ","),
	}, nil
}

// callBackend sends all bodies in one call when the backend supports
// batches, otherwise one call per body. The caller's deadline bounds the
// whole exchange; a call that outlives it is abandoned.
func (p *Pipeline) callBackend(ctx context.Context, bodies []string, st domain.Subtask) ([]backend.Translation, error) {
	if bt, ok := p.backend.(backend.BatchTranslator); ok {
		out, err := within(ctx, func(ctx context.Context) ([]backend.Translation, error) {
			return bt.TranslateBatch(ctx, bodies, st.SourceLanguage, st.TargetLanguage, st.Tier)
		})
		if err != nil {
			return nil, err
		}
		if len(out) != len(bodies) {
			return nil, fmt.Errorf("backend returned %d translations for %d segments", len(out), len(bodies))
		}
		return out, nil
	}

	out := make([]backend.Translation, len(bodies))
	for i, body := range bodies {
		tr, err := within(ctx, func(ctx context.Context) (backend.Translation, error) {
			return p.backend.Translate(ctx, body, st.SourceLanguage, st.TargetLanguage, st.Tier)
		})
		if err != nil {
			return nil, err
		}
		out[i] = tr
	}
	return out, nil
}

// classify maps a backend failure onto the error taxonomy.
func (p *Pipeline) classify(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return terrors.NewTimeout(p.timeout, err)
	}
	var tErr *terrors.TranslatorError
	if errors.As(err, &tErr) {
		return err
	}
	return terrors.NewBackend(err)
}

// within runs fn in its own goroutine and returns when it finishes or ctx
// is done, whichever comes first. A panic in fn becomes an INTERNAL error.
func within[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: terrors.NewInternal(fmt.Errorf("panic in backend: %v", r))}
			}
		}()
		v, err := fn(ctx)
		ch <- result{v: v, err: err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
