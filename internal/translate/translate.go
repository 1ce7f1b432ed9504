package translate

import (
	"context"
	"errors"
	"fmt"

	"github.com/cwrk-planet/meet-service/internal/domain"
)

// Translator turns source-language text into the target language.
type Translator interface {
	Translate(ctx context.Context, text string, target domain.Language) (string, error)
}

// Mock tags the text with the target language, e.g. "[HI]: hello".
type Mock struct{}

func (Mock) Translate(_ context.Context, text string, target domain.Language) (string, error) {
	return fmt.Sprintf("[%s]: %s", target.Tag(), text), nil
}

// None always fails, so callers fall back to the original text.
type None struct{}

func (None) Translate(context.Context, string, domain.Language) (string, error) {
	return "", fmt.Errorf("translator disabled: %w", domain.ErrTranslationUnavailable)
}

type Config struct {
	Provider string // mock|http|none
	Endpoint string
	APIKey   string
	Source   domain.Language
}

func New(cfg Config) (Translator, error) {
	switch cfg.Provider {
	case "", "mock":
		return Mock{}, nil
	case "none":
		return None{}, nil
	case "http":
		return NewHTTP(cfg.Endpoint, cfg.APIKey, cfg.Source, nil)
	default:
		return nil, errors.New("unknown translation provider " + cfg.Provider)
	}
}
