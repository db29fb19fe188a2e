package dispatch

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pricofy/translation-router/internal/config"
	"github.com/pricofy/translation-router/internal/domain"
	terrors "github.com/pricofy/translation-router/internal/errors"
)

var defaultTiers = config.TierConfig{MediumMinChars: 50, PremiumMinChars: 200}

func TestSelectTier(t *testing.T) {
	tests := []struct {
		length int
		want   domain.Tier
	}{
		{10, domain.TierBasic},
		{49, domain.TierBasic},
		{50, domain.TierMedium},
		{150, domain.TierMedium},
		{199, domain.TierMedium},
		{200, domain.TierPremium},
		{900, domain.TierPremium},
	}
	for _, tt := range tests {
		got := SelectTier(strings.Repeat("a", tt.length), defaultTiers)
		assert.Equal(t, tt.want, got, "length %d", tt.length)
	}

	// characters, not bytes
	assert.Equal(t, domain.TierBasic, SelectTier(strings.Repeat("é", 49), defaultTiers))
	// thresholds are configuration
	assert.Equal(t, domain.TierPremium, SelectTier("0123456789", config.TierConfig{MediumMinChars: 5, PremiumMinChars: 10}))
}

func TestTargets(t *testing.T) {
	assert.Equal(t, []string{"fr", "de", "es"}, Targets([]string{"fr", "de", " fr", "", "es", "de"}))
	assert.Empty(t, Targets(nil))
}

// fakeQueue records pushes and rejects beyond capacity.
type fakeQueue struct {
	mu       sync.Mutex
	name     string
	capacity int
	pushed   []domain.Subtask
}

func (q *fakeQueue) Name() string { return q.name }

func (q *fakeQueue) Push(st domain.Subtask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pushed) >= q.capacity {
		return terrors.NewQueueFull(q.name, q.capacity)
	}
	q.pushed = append(q.pushed, st)
	return nil
}

func TestDispatch_FansOutPerTarget(t *testing.T) {
	normal := &fakeQueue{name: "normal", capacity: 10}
	broadcast := &fakeQueue{name: "broadcast", capacity: 10}
	d := New(defaultTiers, normal, broadcast, nil)

	immediate, queued := d.Dispatch(domain.TranslationRequest{
		TaskID: "t1", MessageID: "m1", Text: "Hello there",
		SourceLanguage: "en", TargetLanguages: []string{"fr", "de", "fr"},
		Audience: domain.AudienceNormal,
	})

	assert.Empty(t, immediate)
	assert.Equal(t, 2, queued)
	require.Len(t, normal.pushed, 2)
	assert.Empty(t, broadcast.pushed)
	assert.Equal(t, "fr", normal.pushed[0].TargetLanguage)
	assert.Equal(t, "de", normal.pushed[1].TargetLanguage)
	assert.Equal(t, domain.TierBasic, normal.pushed[0].Tier)
	assert.Equal(t, "m1", normal.pushed[0].MessageID)
}

func TestDispatch_BroadcastAudienceAndTierOverride(t *testing.T) {
	normal := &fakeQueue{name: "normal", capacity: 10}
	broadcast := &fakeQueue{name: "broadcast", capacity: 10}
	d := New(defaultTiers, normal, broadcast, nil)

	_, queued := d.Dispatch(domain.TranslationRequest{
		TaskID: "t1", Text: "hi", SourceLanguage: "en", TargetLanguages: []string{"es", "it"},
		ModelTier: domain.TierPremium, Audience: domain.AudienceBroadcast,
	})

	assert.Equal(t, 2, queued)
	assert.Empty(t, normal.pushed)
	require.Len(t, broadcast.pushed, 2)
	assert.Equal(t, domain.TierPremium, broadcast.pushed[0].Tier)
}

func TestDispatch_NoopShortCircuit(t *testing.T) {
	normal := &fakeQueue{name: "normal", capacity: 10}
	d := New(defaultTiers, normal, &fakeQueue{name: "broadcast"}, nil)

	immediate, queued := d.Dispatch(domain.TranslationRequest{
		TaskID: "t1", MessageID: "m1", Text: "Bonjour 👋", SourceLanguage: "fr", TargetLanguages: []string{"fr", "en"},
	})

	assert.Equal(t, 1, queued)
	require.Len(t, immediate, 1)
	r := immediate[0].Result
	require.NotNil(t, r)
	assert.Equal(t, "Bonjour 👋", r.TranslatedText)
	assert.Equal(t, 1.0, r.ConfidenceScore)
	assert.False(t, r.FromCache)
	assert.Equal(t, "fr", r.TargetLanguage)
	assert.Equal(t, "m1", r.MessageID)
	require.Len(t, normal.pushed, 1)
	assert.Equal(t, "en", normal.pushed[0].TargetLanguage)
}

func TestDispatch_QueueFullBecomesErrorOutcome(t *testing.T) {
	normal := &fakeQueue{name: "normal", capacity: 1}
	d := New(defaultTiers, normal, &fakeQueue{name: "broadcast"}, nil)

	immediate, queued := d.Dispatch(domain.TranslationRequest{
		TaskID: "t1", Text: "hi", SourceLanguage: "en", TargetLanguages: []string{"fr", "de", "es"},
	})

	assert.Equal(t, 1, queued)
	require.Len(t, immediate, 2)
	for _, out := range immediate {
		require.NotNil(t, out.Error)
		assert.Equal(t, terrors.ErrQueueFull, out.Error.Kind)
		assert.Equal(t, "t1", out.Error.TaskID)
	}
	assert.Equal(t, "de", immediate[0].TargetLanguage())
	assert.Equal(t, "es", immediate[1].TargetLanguage())
}
