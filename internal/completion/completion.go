// Package completion forwards a context window to a language model and
// returns its reply. Failures surface as ErrUnavailable and are never retried
// here.
package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ent0n29/chatmemory/internal/window"
)

// ErrUnavailable wraps every failure of the remote model.
var ErrUnavailable = errors.New("completion unavailable")

// Completer turns an oldest-first message list into a single reply.
type Completer interface {
	Complete(ctx context.Context, messages []window.Message) (string, error)
}

// Config controls completer construction.
type Config struct {
	Mode        string
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	ProxyURL    string
	Timeout     time.Duration
}

// New builds a completer for cfg.Mode. "auto" picks the OpenAI client when a
// key is configured and the mock otherwise.
func New(cfg Config) (Completer, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return NewMock(), nil
		}
		return NewOpenAIClient(cfg)
	case "openai":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, errors.New("openai api key is required for openai mode")
		}
		return NewOpenAIClient(cfg)
	case "mock":
		return NewMock(), nil
	default:
		return nil, fmt.Errorf("unsupported completion mode %q", cfg.Mode)
	}
}

func unavailable(err error) error {
	if errors.Is(err, ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}
