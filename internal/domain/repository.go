package domain

import (
	"context"
	"time"
)

// CacheRepository defines the interface for caching operations
type CacheRepository interface {
	Get(ctx context.Context, key string) (interface{}, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// CorpusStore is the read side of the fragrance catalog used by the engine
type CorpusStore interface {
	// FindByNormalizedName returns canonical fragrances whose normalized name equals name
	FindByNormalizedName(ctx context.Context, name string) ([]CanonicalFragrance, error)
	// FindByVariantName returns variants (with owners) whose normalized name equals name
	FindByVariantName(ctx context.Context, name string) ([]VariantMatch, error)
	// ListNames returns every matchable canonical and variant name
	ListNames(ctx context.Context) ([]NameEntry, error)
	// GetByIDs returns the canonical fragrances with the given IDs
	GetByIDs(ctx context.Context, ids []string) ([]CanonicalFragrance, error)
	// NearestByEmbedding returns the top-k canonical fragrances by cosine similarity
	NearestByEmbedding(ctx context.Context, vector []float32, k int) ([]ScoredFragrance, error)
	// ListCandidates returns up to limit fragrances for alternative ranking.
	// A non-empty brandKey restricts the pool to names starting with that normalized brand.
	ListCandidates(ctx context.Context, brandKey string, limit int) ([]CanonicalFragrance, error)
	// ListBrands returns every brand name in the catalog
	ListBrands(ctx context.Context) ([]string, error)
}

// CatalogWriter is the write side of the catalog used by import tooling
type CatalogWriter interface {
	UpsertFragrance(ctx context.Context, f *CanonicalFragrance) error
	UpsertVariant(ctx context.Context, v *FragranceVariant) error
	SetEmbedding(ctx context.Context, id string, vector []float32) error
}

// MissingProductStore persists demand for unmatched queries
type MissingProductStore interface {
	// UpsertMissing atomically records one observation, returning the updated record
	UpsertMissing(ctx context.Context, event MissingProductEvent, priority PriorityFunc) (*MissingProductRecord, error)
	TopMissing(ctx context.Context, limit int, status MissingProductStatus) ([]MissingProductRecord, error)
	SetMissingStatus(ctx context.Context, normalizedQuery string, status MissingProductStatus) error
	SaveNotification(ctx context.Context, req NotificationRequest) error
}

// PriorityFunc computes a missing-product priority score from aggregated counts
type PriorityFunc func(requestCount, uniqueRequesters int64, brandHint string) float64

// Embedder turns text into an embedding vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
