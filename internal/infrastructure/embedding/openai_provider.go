package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIProvider embeds text with the official OpenAI SDK
type OpenAIProvider struct {
	name       string
	client     *openai.Client
	model      string
	dimensions int
}

// NewOpenAIProvider creates a provider; BaseURL points the SDK at a compatible vendor
func NewOpenAIProvider(spec ProviderSpec) *OpenAIProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(spec.APIKey),
		// Retries are owned by the failover layer
		option.WithMaxRetries(0),
	}
	if spec.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(spec.BaseURL))
	}
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	opts = append(opts, option.WithRequestTimeout(timeout))

	client := openai.NewClient(opts...)

	name := spec.Name
	if name == "" {
		name = "openai"
	}
	model := spec.Model
	if model == "" {
		model = string(openai.EmbeddingModelTextEmbedding3Small)
	}

	return &OpenAIProvider{
		name:       name,
		client:     &client,
		model:      model,
		dimensions: spec.Dimensions,
	}
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return p.name
}

// Embed returns the embedding of text
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model: openai.EmbeddingModel(p.model),
	}
	if p.dimensions > 0 {
		params.Dimensions = openai.Int(int64(p.dimensions))
	}

	resp, err := p.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%s embeddings request failed: %w", p.name, err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, ErrEmptyEmbedding
	}

	return toFloat32(resp.Data[0].Embedding), nil
}
