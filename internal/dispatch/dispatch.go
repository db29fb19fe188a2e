// Package dispatch fans translation requests out into per-language subtasks
// and routes them to the worker pool matching their audience.
package dispatch

import (
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/pricofy/translation-router/internal/config"
	"github.com/pricofy/translation-router/internal/domain"
)

// noopModel is reported for targets equal to the source language.
const noopModel = "noop"

// Queue accepts subtasks without blocking.
type Queue interface {
	Name() string
	Push(st domain.Subtask) error
}

// Dispatcher selects tiers and routes subtasks. It never blocks.
type Dispatcher struct {
	tiers     config.TierConfig
	normal    Queue
	broadcast Queue
	logger    *zap.Logger
	now       func() time.Time
}

// New creates a Dispatcher over the normal and broadcast queues.
func New(tiers config.TierConfig, normal, broadcast Queue, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		tiers:     tiers,
		normal:    normal,
		broadcast: broadcast,
		logger:    logger.Named("dispatch"),
		now:       time.Now,
	}
}

// SelectTier picks a tier from the text length in characters.
func SelectTier(text string, tiers config.TierConfig) domain.Tier {
	n := utf8.RuneCountInString(text)
	switch {
	case n >= tiers.PremiumMinChars:
		return domain.TierPremium
	case n >= tiers.MediumMinChars:
		return domain.TierMedium
	default:
		return domain.TierBasic
	}
}

// Targets returns the target languages with blanks and duplicates removed,
// keeping first-seen order.
func Targets(langs []string) []string {
	seen := make(map[string]bool, len(langs))
	out := make([]string, 0, len(langs))
	for _, l := range langs {
		l = strings.TrimSpace(l)
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}

// Dispatch creates one subtask per distinct target language and pushes it
// onto the audience's queue. Outcomes that are known immediately (no-op
// targets and rejected pushes) are returned; queued is the number of
// subtasks whose outcome will arrive from a pool.
func (d *Dispatcher) Dispatch(req domain.TranslationRequest) (immediate []domain.Outcome, queued int) {
	tier := req.ModelTier
	if tier == "" {
		tier = SelectTier(req.Text, d.tiers)
	}
	q := d.queueFor(req.Audience)
	now := d.now()

	for _, target := range Targets(req.TargetLanguages) {
		if strings.EqualFold(target, req.SourceLanguage) {
			immediate = append(immediate, domain.ResultOutcome(domain.TranslationResult{
				TaskID:          req.TaskID,
				MessageID:       req.MessageID,
				TargetLanguage:  target,
				SourceLanguage:  req.SourceLanguage,
				TranslatedText:  req.Text,
				ConfidenceScore: 1.0,
				ModelUsed:       noopModel,
			}))
			continue
		}

		err := q.Push(domain.Subtask{
			TaskID:         req.TaskID,
			MessageID:      req.MessageID,
			Text:           req.Text,
			SourceLanguage: req.SourceLanguage,
			TargetLanguage: target,
			Tier:           tier,
			Audience:       req.Audience,
			EnqueuedAt:     now,
		})
		if err != nil {
			d.logger.Warn("subtask rejected",
				zap.String("task_id", req.TaskID),
				zap.String("target", target),
				zap.String("pool", q.Name()),
				zap.Error(err))
			immediate = append(immediate, domain.FailureOutcome(req.TaskID, target, err))
			continue
		}
		queued++
	}

	d.logger.Debug("request dispatched",
		zap.String("task_id", req.TaskID),
		zap.String("tier", string(tier)),
		zap.String("pool", q.Name()),
		zap.Int("queued", queued),
		zap.Int("immediate", len(immediate)))
	return immediate, queued
}

func (d *Dispatcher) queueFor(a domain.Audience) Queue {
	if a == domain.AudienceBroadcast {
		return d.broadcast
	}
	return d.normal
}
