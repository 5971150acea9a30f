package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/ekaya-inc/evidence-engine/pkg/config"
)

// Provider is an external embedding service.
type Provider interface {
	Name() string
	Model() string
	Embed(ctx context.Context, text string) ([]float32, error)
}

// OpenAIProvider calls an OpenAI-compatible /embeddings endpoint.
type OpenAIProvider struct {
	client    *openai.Client
	model     string
	dimension int
}

var _ Provider = (*OpenAIProvider)(nil)

// NewOpenAIProvider creates a provider from the embedding configuration.
func NewOpenAIProvider(cfg config.EmbeddingConfig) (*OpenAIProvider, error) {
	if !cfg.IsAvailable() {
		return nil, errors.New("embedding provider base_url and model are required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = config.ResolveURLForDocker(strings.TrimSuffix(cfg.BaseURL, "/"))

	return &OpenAIProvider{
		client:    openai.NewClientWithConfig(clientConfig),
		model:     cfg.Model,
		dimension: cfg.Dimension,
	}, nil
}

func (p *OpenAIProvider) Name() string  { return "openai" }
func (p *OpenAIProvider) Model() string { return p.model }

func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	req := openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(p.model),
	}
	// Only the text-embedding-3 family accepts a requested dimension.
	if strings.HasPrefix(p.model, "text-embedding-3") {
		req.Dimensions = p.dimension
	}

	resp, err := p.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("create embeddings: empty response")
	}
	return resp.Data[0].Embedding, nil
}
