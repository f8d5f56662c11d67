package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/scentmatch/backend/internal/infrastructure/retry"
)

// ErrEmptyEmbedding is returned when a vendor answers without a vector
var ErrEmptyEmbedding = errors.New("embedding response contained no vector")

// HTTPProvider calls an OpenAI-compatible /embeddings endpoint directly
type HTTPProvider struct {
	name        string
	httpClient  *http.Client
	apiKey      string
	baseURL     string
	model       string
	dimensions  int
	rateLimiter *rate.Limiter
	policy      retry.Policy
}

type embeddingRequest struct {
	Input      string `json:"input"`
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// NewHTTPProvider creates a rate-limited embedding client
func NewHTTPProvider(spec ProviderSpec, policy retry.Policy) *HTTPProvider {
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	rps := spec.RequestsPerSec
	if rps <= 0 {
		rps = 10
	}

	name := spec.Name
	if name == "" {
		name = "http"
	}

	return &HTTPProvider{
		name:        name,
		httpClient:  &http.Client{Timeout: timeout},
		apiKey:      spec.APIKey,
		baseURL:     strings.TrimSuffix(spec.BaseURL, "/"),
		model:       spec.Model,
		dimensions:  spec.Dimensions,
		rateLimiter: rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		policy:      policy,
	}
}

// Name returns the provider name
func (p *HTTPProvider) Name() string {
	return p.name
}

// Embed returns the embedding of text, retrying transient failures
func (p *HTTPProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embeddingRequest{Input: text, Model: p.model, Dimensions: p.dimensions})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	return retry.Do(ctx, p.policy, func(ctx context.Context) ([]float32, error) {
		if err := p.rateLimiter.Wait(ctx); err != nil {
			return nil, retry.Permanent(fmt.Errorf("rate limiter error: %w", err))
		}
		return p.doRequest(ctx, body)
	})
}

// doRequest executes one POST; only 429 and 5xx responses are retried
func (p *HTTPProvider) doRequest(ctx context.Context, body []byte) ([]float32, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("User-Agent", "ScentMatch/1.0")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", p.name, err)
	}
	defer resp.Body.Close()

	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<20))

	if resp.StatusCode != http.StatusOK {
		statusErr := fmt.Errorf("%s returned status %d: %s", p.name, resp.StatusCode, truncate(string(payload), 200))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, statusErr
		}
		return nil, retry.Permanent(statusErr)
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to decode response: %w", err))
	}
	if len(parsed.Data) == 0 || len(parsed.Data[0].Embedding) == 0 {
		return nil, retry.Permanent(ErrEmptyEmbedding)
	}

	return toFloat32(parsed.Data[0].Embedding), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
