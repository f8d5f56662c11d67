// Package embedding turns fragrance text into vectors through one or more
// OpenAI-compatible vendors, failing over between them.
package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/scentmatch/backend/internal/infrastructure/retry"
)

// Provider is a single embedding vendor
type Provider interface {
	Name() string
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ProviderSpec describes how to build a provider
type ProviderSpec struct {
	Name           string
	Kind           string // "openai" or "http"
	BaseURL        string
	APIKey         string
	Model          string
	Dimensions     int
	Timeout        time.Duration
	RequestsPerSec float64
}

// NewProvider builds the provider described by spec
func NewProvider(spec ProviderSpec) (Provider, error) {
	switch spec.Kind {
	case "openai", "":
		return NewOpenAIProvider(spec), nil
	case "http":
		return NewHTTPProvider(spec, retry.DefaultPolicy), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider kind %q", spec.Kind)
	}
}

func toFloat32(values []float64) []float32 {
	out := make([]float32, len(values))
	for i, v := range values {
		out[i] = float32(v)
	}
	return out
}
