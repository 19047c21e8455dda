package llm

import (
	"context"
	"errors"
	"strings"

	genai "google.golang.org/genai"

	"github.com/henryperkins/agentic-rag/internal/config"
)

// GeminiProvider calls the Google Gemini generateContent API for a
// single-turn prompt.
type GeminiProvider struct {
	client *genai.Client
	model  string
}

// NewGemini constructs a Gemini-backed Provider from LLMConfig. Client
// construction only fails on malformed options, which cannot happen from a
// validated config, so errors are swallowed into a nil client whose Complete
// call then reports a clear error instead of panicking at boot.
func NewGemini(cfg config.LLMConfig) *GeminiProvider {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gemini-1.5-flash"
	}
	clientCfg := &genai.ClientConfig{APIKey: strings.TrimSpace(cfg.APIKey)}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: strings.TrimSuffix(base, "/") + "/"}
	}
	client, _ := genai.NewClient(context.Background(), clientCfg)
	return &GeminiProvider{client: client, model: model}
}

func (p *GeminiProvider) Complete(ctx context.Context, prompt string) (string, error) {
	if p.client == nil {
		return "", errors.New("llm: gemini client failed to initialize")
	}
	resp, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(prompt), nil)
	if err != nil {
		return "", err
	}
	text := resp.Text()
	if text == "" {
		return "", errors.New("llm: gemini returned no text content")
	}
	return text, nil
}
