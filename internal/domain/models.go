// Package domain contains the core domain types for the translation router.
package domain

import (
	"strings"
	"time"

	terrors "github.com/pricofy/translation-router/internal/errors"
)

// Tier is a translation quality/cost level.
type Tier string

const (
	TierBasic   Tier = "basic"
	TierMedium  Tier = "medium"
	TierPremium Tier = "premium"
)

// ParseTier converts a wire value to a Tier. Empty input means "select by length".
func ParseTier(s string) (Tier, bool) {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case TierBasic:
		return TierBasic, true
	case TierMedium:
		return TierMedium, true
	case TierPremium:
		return TierPremium, true
	}
	return "", false
}

// Audience is the routing class of a request.
type Audience string

const (
	AudienceNormal    Audience = "normal"
	AudienceBroadcast Audience = "broadcast"
)

// ParseAudience converts a wire value to an Audience.
// "any" and "public" are accepted as broadcast; empty input is normal.
func ParseAudience(s string) (Audience, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "normal", "direct", "group":
		return AudienceNormal, true
	case "broadcast", "any", "public":
		return AudienceBroadcast, true
	}
	return "", false
}

// TranslationRequest is an accepted inbound request. Immutable once accepted.
type TranslationRequest struct {
	TaskID          string
	MessageID       string
	ConversationID  string
	Text            string
	SourceLanguage  string
	TargetLanguages []string
	ModelTier       Tier // empty selects by text length
	Audience        Audience
	Timestamp       time.Time
}

// Subtask is the per-target-language unit of work derived from a request.
type Subtask struct {
	TaskID         string
	MessageID      string
	Text           string
	SourceLanguage string
	TargetLanguage string
	Tier           Tier
	Audience       Audience
	EnqueuedAt     time.Time
}

// TranslationResult is the successful outcome of one subtask.
type TranslationResult struct {
	TaskID           string
	MessageID        string
	TargetLanguage   string
	SourceLanguage   string
	TranslatedText   string
	ConfidenceScore  float64
	ModelUsed        string
	ProcessingTimeMs int64
	FromCache        bool
}

// TranslationError is the failed outcome of one subtask.
type TranslationError struct {
	TaskID         string
	TargetLanguage string
	Kind           terrors.ErrorCode
	Message        string
}

// Outcome is the single terminal message produced for a subtask.
// Exactly one of Result and Error is set.
type Outcome struct {
	Result *TranslationResult
	Error  *TranslationError
}

// TaskID returns the correlation task id of the outcome.
func (o Outcome) TaskID() string {
	if o.Result != nil {
		return o.Result.TaskID
	}
	if o.Error != nil {
		return o.Error.TaskID
	}
	return ""
}

// TargetLanguage returns the correlation target language of the outcome.
func (o Outcome) TargetLanguage() string {
	if o.Result != nil {
		return o.Result.TargetLanguage
	}
	if o.Error != nil {
		return o.Error.TargetLanguage
	}
	return ""
}

// Succeeded reports whether the outcome carries a result.
func (o Outcome) Succeeded() bool {
	return o.Result != nil
}

// ResultOutcome wraps a result.
func ResultOutcome(r TranslationResult) Outcome {
	return Outcome{Result: &r}
}

// FailureOutcome builds an error outcome for a subtask from any error.
// Errors outside the taxonomy are reported as INTERNAL.
func FailureOutcome(taskID, targetLanguage string, err error) Outcome {
	return Outcome{Error: &TranslationError{
		TaskID:         taskID,
		TargetLanguage: targetLanguage,
		Kind:           terrors.CodeOf(err),
		Message:        terrors.MessageOf(err),
	}}
}
