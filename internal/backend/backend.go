// Package backend defines the translation backend capability and its implementations.
package backend

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pricofy/translation-router/internal/config"
	"github.com/pricofy/translation-router/internal/domain"
)

// Translation is one backend answer.
type Translation struct {
	Text       string
	Confidence float64
	Model      string
}

// Translator translates a piece of text. Implementations must be safe for
// concurrent use and should honor ctx cancellation.
type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string, tier domain.Tier) (Translation, error)
}

// BatchTranslator is implemented by backends that can translate several
// texts of one language pair in a single call.
type BatchTranslator interface {
	Translator
	TranslateBatch(ctx context.Context, texts []string, sourceLang, targetLang string, tier domain.Tier) ([]Translation, error)
}

// Func adapts a function to the Translator interface.
type Func func(ctx context.Context, text, sourceLang, targetLang string, tier domain.Tier) (Translation, error)

// Translate calls f.
func (f Func) Translate(ctx context.Context, text, sourceLang, targetLang string, tier domain.Tier) (Translation, error) {
	return f(ctx, text, sourceLang, targetLang, tier)
}

// New builds the backend selected by cfg.Kind.
func New(ctx context.Context, cfg config.BackendConfig, logger *zap.Logger) (Translator, error) {
	switch cfg.Kind {
	case "echo", "":
		return Echo{}, nil
	case "lambda":
		return NewLambdaFromConfig(ctx, cfg.Lambda, logger)
	default:
		return nil, fmt.Errorf("unknown backend kind %q", cfg.Kind)
	}
}
