package pool

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pricofy/translation-router/internal/config"
	"github.com/pricofy/translation-router/internal/domain"
	terrors "github.com/pricofy/translation-router/internal/errors"
)

// gateProcessor blocks every subtask until release is closed.
type gateProcessor struct {
	entered chan string
	release chan struct{}
}

func newGateProcessor() *gateProcessor {
	return &gateProcessor{entered: make(chan string, 100), release: make(chan struct{})}
}

func (g *gateProcessor) Process(_ context.Context, st domain.Subtask) domain.Outcome {
	g.entered <- st.TaskID
	<-g.release
	return domain.ResultOutcome(domain.TranslationResult{TaskID: st.TaskID, TargetLanguage: st.TargetLanguage})
}

type panicProcessor struct{}

func (panicProcessor) Process(_ context.Context, st domain.Subtask) domain.Outcome {
	if st.TaskID == "boom" {
		panic("index out of range")
	}
	return domain.ResultOutcome(domain.TranslationResult{TaskID: st.TaskID, TargetLanguage: st.TargetLanguage})
}

func subtask(id, lang string) domain.Subtask {
	return domain.Subtask{TaskID: id, TargetLanguage: lang, Text: "hi", SourceLanguage: "en"}
}

func TestPool_PushFailsFastWhenFull(t *testing.T) {
	results := make(chan domain.Outcome, 10)
	gate := newGateProcessor()
	p := New("normal", config.PoolConfig{Workers: 1, QueueCapacity: 2}, gate, results, nil)
	p.Start(context.Background())

	require.NoError(t, p.Push(subtask("t1", "fr")))
	<-gate.entered // worker busy with t1

	require.NoError(t, p.Push(subtask("t2", "fr")))
	require.NoError(t, p.Push(subtask("t3", "fr")))

	start := time.Now()
	err := p.Push(subtask("t4", "fr"))
	assert.Less(t, time.Since(start), 100*time.Millisecond, "push must not block")
	require.Error(t, err)
	assert.True(t, terrors.IsCode(err, terrors.ErrQueueFull))

	s := p.Stats()
	assert.Equal(t, 2, s.Depth)
	assert.Equal(t, 2, s.Capacity)

	close(gate.release)
	p.Close()
	close(results)

	var ids []string
	for out := range results {
		ids = append(ids, out.TaskID())
	}
	assert.ElementsMatch(t, []string{"t1", "t2", "t3"}, ids)
	assert.Equal(t, int64(3), p.Stats().Processed)
}

func TestPool_PushAfterClose(t *testing.T) {
	results := make(chan domain.Outcome, 1)
	p := New("broadcast", config.PoolConfig{Workers: 1, QueueCapacity: 1}, panicProcessor{}, results, nil)
	p.Start(context.Background())
	p.Close()

	err := p.Push(subtask("late", "de"))
	assert.True(t, terrors.IsCode(err, terrors.ErrShuttingDown))
	p.Close() // idempotent
}

func TestPool_CloseWithoutStartFailsQueued(t *testing.T) {
	results := make(chan domain.Outcome, 2)
	p := New("normal", config.PoolConfig{Workers: 1, QueueCapacity: 2}, panicProcessor{}, results, nil)
	require.NoError(t, p.Push(subtask("t1", "fr")))
	p.Close()

	out := <-results
	assert.Equal(t, "t1", out.TaskID())
	require.NotNil(t, out.Error)
	assert.Equal(t, terrors.ErrShuttingDown, out.Error.Kind)
}

func TestPool_PanicDoesNotKillWorker(t *testing.T) {
	results := make(chan domain.Outcome, 10)
	p := New("normal", config.PoolConfig{Workers: 1, QueueCapacity: 10}, panicProcessor{}, results, nil)
	p.Start(context.Background())

	require.NoError(t, p.Push(subtask("boom", "fr")))
	require.NoError(t, p.Push(subtask("ok", "fr")))
	p.Close()
	close(results)

	got := map[string]domain.Outcome{}
	for out := range results {
		got[out.TaskID()] = out
	}
	require.Len(t, got, 2)
	require.NotNil(t, got["boom"].Error)
	assert.Equal(t, terrors.ErrInternal, got["boom"].Error.Kind)
	assert.True(t, got["ok"].Succeeded())
	assert.Equal(t, int64(1), p.Stats().Failed)
}

func TestPool_ExactlyOneOutcomePerSubtask(t *testing.T) {
	results := make(chan domain.Outcome, 100)
	p := New("normal", config.PoolConfig{Workers: 4, QueueCapacity: 100}, panicProcessor{}, results, nil)
	p.Start(context.Background())

	for i := 0; i < 50; i++ {
		require.NoError(t, p.Push(subtask(fmt.Sprintf("t%d", i), "es")))
	}
	p.Close()
	close(results)

	seen := map[string]int{}
	for out := range results {
		seen[out.TaskID()]++
	}
	assert.Len(t, seen, 50)
	for id, n := range seen {
		assert.Equal(t, 1, n, id)
	}
}
