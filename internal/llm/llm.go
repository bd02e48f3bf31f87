// Package llm streams completions from text-generation backends.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mtzanidakis/webforge/internal/agent"
	"github.com/mtzanidakis/webforge/internal/config"
	"github.com/mtzanidakis/webforge/internal/prompt"
)

// Sink receives generated text as it arrives. Reset is called before every
// backend attempt so partial output of a failed attempt is discarded.
type Sink interface {
	Reset()
	Write(chunk string)
}

type Options struct {
	Difficulty int
}

// Backend streams one completion, calling emit for every text delta.
type Backend interface {
	Name() string
	Stream(ctx context.Context, p prompt.Prompt, emit func(string)) error
}

// Chain tries backends in order until one produces output. Hard tasks go
// to the advanced backends first.
type Chain struct {
	regular   []Backend
	advanced  []Backend
	threshold int
}

func NewChain(regular, advanced []Backend, threshold int) *Chain {
	return &Chain{regular: regular, advanced: advanced, threshold: threshold}
}

// FromConfig builds a chain from the configured backends.
func FromConfig(ctx context.Context, cfg config.LLMConfig) (*Chain, error) {
	var regular, advanced []Backend
	for _, bc := range cfg.Backends {
		var (
			b   Backend
			err error
		)
		switch bc.Provider {
		case "openai":
			b = NewOpenAI(bc, cfg)
		case "gemini":
			b, err = NewGemini(ctx, bc, cfg)
		default:
			err = fmt.Errorf("unknown provider %q", bc.Provider)
		}
		if err != nil {
			return nil, fmt.Errorf("backend %s: %w", bc.Name, err)
		}
		if bc.Advanced {
			advanced = append(advanced, b)
		} else {
			regular = append(regular, b)
		}
	}
	if len(regular)+len(advanced) == 0 {
		return nil, errors.New("no llm backends configured")
	}
	return NewChain(regular, advanced, cfg.DifficultyThreshold), nil
}

func (c *Chain) order(difficulty int) []Backend {
	out := make([]Backend, 0, len(c.regular)+len(c.advanced))
	if c.threshold > 0 && difficulty >= c.threshold {
		out = append(out, c.advanced...)
		return append(out, c.regular...)
	}
	out = append(out, c.regular...)
	return append(out, c.advanced...)
}

// Generate returns the full text of the first backend that succeeds.
func (c *Chain) Generate(ctx context.Context, p prompt.Prompt, opts Options, sink Sink) (string, error) {
	var errs []error
	for _, b := range c.order(opts.Difficulty) {
		if sink != nil {
			sink.Reset()
		}
		var sb strings.Builder
		err := b.Stream(ctx, p, func(s string) {
			sb.WriteString(s)
			if sink != nil {
				sink.Write(s)
			}
		})
		if err == nil && sb.Len() > 0 {
			return sb.String(), nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if err == nil {
			err = errors.New("empty response")
		}
		slog.Warn("generation backend failed", "backend", b.Name(), "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
	}
	return "", fmt.Errorf("%w: %w", agent.ErrGenerationFailed, errors.Join(errs...))
}
