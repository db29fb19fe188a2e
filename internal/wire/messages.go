package wire

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pricofy/translation-router/internal/dispatch"
	"github.com/pricofy/translation-router/internal/domain"
	terrors "github.com/pricofy/translation-router/internal/errors"
)

// Outbound message types.
const (
	TypeCompleted = "translation_completed"
	TypeError     = "translation_error"
)

// Request is the inbound translation request frame.
type Request struct {
	TaskID          string   `json:"taskId"`
	MessageID       string   `json:"messageId"`
	ConversationID  string   `json:"conversationId,omitempty"`
	Text            string   `json:"text"`
	SourceLanguage  string   `json:"sourceLanguage"`
	TargetLanguages []string `json:"targetLanguages"`
	ModelType       string   `json:"modelType,omitempty"`
	Audience        string   `json:"audience,omitempty"`
	// Timestamp is epoch milliseconds or an RFC 3339 string.
	Timestamp any `json:"timestamp,omitempty"`
}

// Result is the payload of a completed translation.
type Result struct {
	MessageID        string  `json:"messageId"`
	TranslatedText   string  `json:"translatedText"`
	SourceLanguage   string  `json:"sourceLanguage"`
	TargetLanguage   string  `json:"targetLanguage"`
	ConfidenceScore  float64 `json:"confidenceScore"`
	ProcessingTimeMs int64   `json:"processingTimeMs"`
	ModelUsed        string  `json:"modelUsed"`
	FromCache        bool    `json:"fromCache"`
}

// Outbound is a translation_completed or translation_error frame.
type Outbound struct {
	Type           string  `json:"type"`
	TaskID         string  `json:"taskId"`
	TargetLanguage string  `json:"targetLanguage"`
	Result         *Result `json:"result,omitempty"`
	Error          string  `json:"error,omitempty"`
	ErrorCode      string  `json:"errorCode,omitempty"`
	Timestamp      int64   `json:"timestamp"` // epoch milliseconds
}

// DecodeRequest decodes and validates an inbound frame. Every failure is a
// VALIDATION_ERROR.
func DecodeRequest(c Codec, frame []byte) (domain.TranslationRequest, error) {
	var in Request
	if err := c.Unmarshal(frame, &in); err != nil {
		return domain.TranslationRequest{}, terrors.NewValidation(fmt.Sprintf("malformed frame: %v", err))
	}
	return in.Validate()
}

// Validate checks required fields and converts the frame to a request.
func (in Request) Validate() (domain.TranslationRequest, error) {
	var missing []string
	if strings.TrimSpace(in.TaskID) == "" {
		missing = append(missing, "taskId")
	}
	if in.Text == "" {
		missing = append(missing, "text")
	}
	if strings.TrimSpace(in.SourceLanguage) == "" {
		missing = append(missing, "sourceLanguage")
	}
	targets := dispatch.Targets(in.TargetLanguages)
	if len(targets) == 0 {
		missing = append(missing, "targetLanguages")
	}
	if len(missing) > 0 {
		return domain.TranslationRequest{}, terrors.NewValidation("missing required fields: " + strings.Join(missing, ", "))
	}

	var tier domain.Tier
	if in.ModelType != "" {
		t, ok := domain.ParseTier(in.ModelType)
		if !ok {
			return domain.TranslationRequest{}, terrors.NewValidation(fmt.Sprintf("unknown modelType %q", in.ModelType))
		}
		tier = t
	}
	audience, ok := domain.ParseAudience(in.Audience)
	if !ok {
		return domain.TranslationRequest{}, terrors.NewValidation(fmt.Sprintf("unknown audience %q", in.Audience))
	}
	ts, err := parseTimestamp(in.Timestamp)
	if err != nil {
		return domain.TranslationRequest{}, terrors.NewValidation(err.Error())
	}

	messageID := in.MessageID
	if messageID == "" {
		messageID = in.TaskID
	}
	return domain.TranslationRequest{
		TaskID:          strings.TrimSpace(in.TaskID),
		MessageID:       messageID,
		ConversationID:  in.ConversationID,
		Text:            in.Text,
		SourceLanguage:  strings.TrimSpace(in.SourceLanguage),
		TargetLanguages: targets,
		ModelTier:       tier,
		Audience:        audience,
		Timestamp:       ts,
	}, nil
}

func parseTimestamp(v any) (time.Time, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, nil
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return time.Time{}, fmt.Errorf("invalid timestamp %v", t)
		}
		return time.UnixMilli(int64(t)), nil
	case int64:
		return time.UnixMilli(t), nil
	case uint64:
		return time.UnixMilli(int64(t)), nil
	case string:
		if t == "" {
			return time.Time{}, nil
		}
		if ms, err := strconv.ParseInt(t, 10, 64); err == nil {
			return time.UnixMilli(ms), nil
		}
		ts, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp %q", t)
		}
		return ts, nil
	default:
		return time.Time{}, fmt.Errorf("invalid timestamp type %T", v)
	}
}

// FromOutcome builds the outbound frame for an outcome.
func FromOutcome(out domain.Outcome, now time.Time) Outbound {
	msg := Outbound{
		TaskID:         out.TaskID(),
		TargetLanguage: out.TargetLanguage(),
		Timestamp:      now.UnixMilli(),
	}
	if r := out.Result; r != nil {
		msg.Type = TypeCompleted
		msg.Result = &Result{
			MessageID:        r.MessageID,
			TranslatedText:   r.TranslatedText,
			SourceLanguage:   r.SourceLanguage,
			TargetLanguage:   r.TargetLanguage,
			ConfidenceScore:  r.ConfidenceScore,
			ProcessingTimeMs: r.ProcessingTimeMs,
			ModelUsed:        r.ModelUsed,
			FromCache:        r.FromCache,
		}
		return msg
	}

	msg.Type = TypeError
	if e := out.Error; e != nil {
		msg.Error = fmt.Sprintf("%s: %s", e.Kind, e.Message)
		msg.ErrorCode = string(e.Kind)
	}
	return msg
}

// EncodeOutcome encodes the outbound frame for an outcome.
func EncodeOutcome(c Codec, out domain.Outcome, now time.Time) ([]byte, error) {
	return c.Marshal(FromOutcome(out, now))
}

// DecodeOutbound decodes an outbound frame.
func DecodeOutbound(c Codec, frame []byte) (Outbound, error) {
	var msg Outbound
	if err := c.Unmarshal(frame, &msg); err != nil {
		return Outbound{}, err
	}
	if msg.Type != TypeCompleted && msg.Type != TypeError {
		return Outbound{}, fmt.Errorf("unknown message type %q", msg.Type)
	}
	return msg, nil
}
