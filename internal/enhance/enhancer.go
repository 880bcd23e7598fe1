// Package enhance fronts the cloud LLM enhancer capability. The core treats
// it as best-effort: any failure returns the pre-enhancement text.
package enhance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/typelesshq/typeless-core/internal/config"
)

// minEnhanceLength is the shortest text worth a round trip to a model.
const minEnhanceLength = 16

// Provider is a single LLM backend.
type Provider interface {
	Name() string
	Enhance(ctx context.Context, text, instruction string) (string, error)
}

// Enhancer dispatches to the configured provider and absorbs its failures.
type Enhancer struct {
	provider Provider
	logger   *slog.Logger
	timeout  time.Duration
}

// New builds the enhancer for the configured provider tag.
func New(cfg config.EnhancerConfig, logger *slog.Logger) (*Enhancer, error) {
	var provider Provider
	switch cfg.Provider {
	case "openai":
		provider = newOpenAIProvider(cfg)
	case "gemini":
		provider = newGeminiProvider(cfg)
	case "ollama":
		provider = newOllamaProvider(cfg)
	case "none":
		provider = nil
	default:
		return nil, fmt.Errorf("unknown enhancer provider %q", cfg.Provider)
	}
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Enhancer{
		provider: provider,
		logger:   logger.With(slog.String("component", "enhancer")),
		timeout:  timeout,
	}, nil
}

// Enabled reports whether a real provider is configured.
func (e *Enhancer) Enabled() bool {
	return e != nil && e.provider != nil
}

// ProviderName returns the active provider tag, or "none".
func (e *Enhancer) ProviderName() string {
	if !e.Enabled() {
		return "none"
	}
	return e.provider.Name()
}

// Enhance rewrites text with the profile-specific instruction. On any error
// the input is returned unchanged with ok=false; enhancement failure is
// never fatal.
func (e *Enhancer) Enhance(ctx context.Context, text, instruction string) (string, bool) {
	if !e.Enabled() || len([]rune(text)) < minEnhanceLength {
		return text, false
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	improved, err := e.provider.Enhance(ctx, text, instruction)
	if err != nil {
		e.logger.Warn("enhancement failed, returning original text",
			slog.String("provider", e.provider.Name()),
			slog.String("error", err.Error()))
		return text, false
	}
	if improved == "" {
		return text, false
	}
	return improved, true
}
