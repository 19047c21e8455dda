// Package llm is the ambient multi-vendor chat-completion client used by the
// optional LLM classifier path (internal/classify) and the model-backed
// reranker (internal/retrieve). It is deliberately narrow: a single
// Complete(prompt) -> text call, since nothing in this core needs tool use,
// streaming, or multi-turn state.
package llm

import (
	"context"
	"fmt"

	"github.com/henryperkins/agentic-rag/internal/config"
)

// Provider is the minimal chat-completion contract the core depends on.
// internal/classify.ChatCompleter and internal/retrieve.ChatCompleter are
// satisfied structurally by any Provider.
type Provider interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Build constructs a Provider from LLMConfig, selecting the vendor backend
// by name. An unknown provider is a startup-time configuration error.
func Build(cfg config.LLMConfig) (Provider, error) {
	switch cfg.Provider {
	case "", "openai":
		return NewOpenAI(cfg), nil
	case "anthropic":
		return NewAnthropic(cfg), nil
	case "google", "gemini":
		return NewGemini(cfg), nil
	default:
		return nil, fmt.Errorf("llm: unsupported provider %q", cfg.Provider)
	}
}
