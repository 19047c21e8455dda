package embedding

import (
	"context"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/henryperkins/agentic-rag/internal/config"
)

// Provider calls an external embedding endpoint (OpenAI-compatible). A
// dimension mismatch between any returned vector and the configured
// dimension is treated as fatal.
type Provider struct {
	client openai.Client
	model  string
	dim    int
}

// NewProvider constructs a provider-backed embedder from EmbeddingConfig.
func NewProvider(cfg config.EmbeddingConfig) *Provider {
	opts := []option.RequestOption{}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(cfg.Endpoint))
	}
	return &Provider{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
		dim:    cfg.Dimensions,
	}
}

func (p *Provider) Dimension() int { return p.dim }

func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(p.model),
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	})
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for j, x := range d.Embedding {
			vec[j] = float32(x)
		}
		if p.dim > 0 && len(vec) != p.dim {
			return nil, ErrDimensionMismatch{Want: p.dim, Got: len(vec)}
		}
		out[i] = vec
	}
	return out, nil
}
