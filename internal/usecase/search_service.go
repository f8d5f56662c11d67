package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/scentmatch/backend/internal/domain"
)

// SearchServiceConfig holds configuration for the search service
type SearchServiceConfig struct {
	CacheTTL          time.Duration
	DefaultLimit      int
	MaxLimit          int
	AlternativesLimit int
	// ResolveTimeout bounds alternative lookups once the caller deadline has passed
	ResolveTimeout time.Duration
}

// SearchService is the entry point of the search engine: it normalizes the
// query, runs the match cascade and, on a miss, gathers alternatives and
// records demand.
type SearchService struct {
	normalizer *QueryNormalizer
	matcher    *MatchingService
	resolver   *AlternativeResolver
	tracker    *MissingProductTracker
	cache      domain.CacheRepository

	cacheTTL          time.Duration
	defaultLimit      int
	maxLimit          int
	alternativesLimit int
	resolveTimeout    time.Duration
	logger            zerolog.Logger
}

// NewSearchService creates a new search service with dependencies
func NewSearchService(
	normalizer *QueryNormalizer,
	matcher *MatchingService,
	resolver *AlternativeResolver,
	tracker *MissingProductTracker,
	cache domain.CacheRepository,
	config SearchServiceConfig,
	logger zerolog.Logger,
) *SearchService {
	cacheTTL := config.CacheTTL
	if cacheTTL == 0 {
		cacheTTL = 10 * time.Minute
	}

	defaultLimit := config.DefaultLimit
	if defaultLimit <= 0 {
		defaultLimit = 20
	}

	maxLimit := config.MaxLimit
	if maxLimit <= 0 {
		maxLimit = 100
	}

	resolveTimeout := config.ResolveTimeout
	if resolveTimeout <= 0 {
		resolveTimeout = 2 * time.Second
	}

	return &SearchService{
		normalizer:        normalizer,
		matcher:           matcher,
		resolver:          resolver,
		tracker:           tracker,
		cache:             cache,
		cacheTTL:          cacheTTL,
		defaultLimit:      defaultLimit,
		maxLimit:          maxLimit,
		alternativesLimit: config.AlternativesLimit,
		resolveTimeout:    resolveTimeout,
		logger:            logger.With().Str("component", "search").Logger(),
	}
}

// searchOutcome is the result of one pass through the engine
type searchOutcome struct {
	query     domain.NormalizedQuery
	results   []domain.MatchResult
	matchType domain.MatchType
	cached    bool
}

// Search runs the match cascade. Only ErrInvalidQuery is returned as an error;
// a miss is an empty result list.
func (s *SearchService) Search(ctx context.Context, raw string, limit int, requesterID string) (*domain.SearchResponse, error) {
	start := time.Now()

	outcome, err := s.search(ctx, raw, limit, requesterID)
	if err != nil {
		return nil, err
	}

	return &domain.SearchResponse{
		Fragrances: outcome.results,
		Metadata:   s.metadata(start, outcome),
	}, nil
}

// SmartSearch is Search plus alternatives and a user-facing message on a miss
func (s *SearchService) SmartSearch(ctx context.Context, raw string, limit int, requesterID string) (*domain.SmartSearchResponse, error) {
	start := time.Now()

	outcome, err := s.search(ctx, raw, limit, requesterID)
	if err != nil {
		return nil, err
	}

	resp := &domain.SmartSearchResponse{
		Success: true,
		Data: domain.SmartSearchData{
			Results:       outcome.results,
			QueryAnalysis: outcome.query,
		},
	}

	if len(outcome.results) == 0 {
		resolveCtx := ctx
		if ctx.Err() != nil {
			// A user who ran out of time still gets suggestions
			var cancel context.CancelFunc
			resolveCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), s.resolveTimeout)
			defer cancel()
		}
		alternatives := s.resolver.Resolve(resolveCtx, outcome.query, s.alternativesLimit)
		resp.Data.Alternatives = alternatives
		if len(alternatives) > 0 {
			resp.Message = fmt.Sprintf("We couldn't find %q, but you might like these similar fragrances.", outcome.query.DisplayText)
		} else {
			resp.Message = fmt.Sprintf("We couldn't find %q. We've noted your request and will look into adding it.", outcome.query.DisplayText)
		}
	}

	resp.Data.Metadata = s.metadata(start, outcome)
	return resp, nil
}

// Alternatives suggests substitutes for a raw query without running the match cascade
func (s *SearchService) Alternatives(ctx context.Context, raw string, limit int) ([]domain.AlternativeSuggestion, domain.NormalizedQuery, error) {
	q, err := s.normalizer.Normalize(raw)
	if err != nil {
		return nil, domain.NormalizedQuery{}, err
	}
	return s.resolver.Resolve(ctx, q, limit), q, nil
}

// LogMissing explicitly records a missing product and returns the updated record.
// brand overrides the brand extracted from the query when set.
func (s *SearchService) LogMissing(ctx context.Context, raw, brand, requesterID, requestContext string) (*domain.MissingProductRecord, error) {
	q, err := s.normalizer.Normalize(raw)
	if err != nil {
		return nil, err
	}
	return s.tracker.TrackSync(ctx, s.missingEvent(q, brand, requesterID, requestContext))
}

// NotifyMissing stores a request to be told when the queried product is sourced
func (s *SearchService) NotifyMissing(ctx context.Context, raw, email string) error {
	q, err := s.normalizer.Normalize(raw)
	if err != nil {
		return err
	}
	return s.tracker.Notify(ctx, q.NormalizedText, email)
}

// TopMissing lists the most requested missing products
func (s *SearchService) TopMissing(ctx context.Context, limit int, status domain.MissingProductStatus) ([]domain.MissingProductRecord, error) {
	return s.tracker.TopMissing(ctx, limit, status)
}

func (s *SearchService) search(ctx context.Context, raw string, limit int, requesterID string) (*searchOutcome, error) {
	q, err := s.normalizer.Normalize(raw)
	if err != nil {
		return nil, err
	}

	limit = s.clampLimit(limit)
	cacheKey := s.generateCacheKey(q, limit)

	if cached, err := s.getFromCache(ctx, cacheKey); err == nil {
		return &searchOutcome{
			query:     q,
			results:   cached.Fragrances,
			matchType: cached.Metadata.MatchType,
			cached:    true,
		}, nil
	}

	results, matchType := s.matcher.Match(ctx, &domain.SearchQuery{Raw: raw, Normalized: q}, limit)
	outcome := &searchOutcome{query: q, results: results, matchType: matchType}

	if len(results) == 0 {
		// A cascade cut short by the caller deadline says nothing about the catalog
		if ctx.Err() != nil {
			s.logger.Warn().
				Err(ctx.Err()).
				Str("query", q.NormalizedText).
				Msg("search deadline reached, not recording missing product")
			return outcome, nil
		}
		// Misses are not cached so every request is counted as demand
		s.tracker.Track(ctx, s.missingEvent(q, "", requesterID, "search"))
		return outcome, nil
	}

	s.setInCache(ctx, cacheKey, &domain.SearchResponse{
		Fragrances: results,
		Metadata:   domain.SearchMetadata{TotalFound: len(results), MatchType: matchType},
	})

	return outcome, nil
}

func (s *SearchService) missingEvent(q domain.NormalizedQuery, brand, requesterID, requestContext string) domain.MissingProductEvent {
	if brand == "" {
		brand = q.Brand
	}
	return domain.MissingProductEvent{
		NormalizedQuery: q.NormalizedText,
		DisplayQuery:    q.DisplayText,
		BrandHint:       brand,
		RequesterID:     requesterID,
		Context:         requestContext,
	}
}

func (s *SearchService) metadata(start time.Time, outcome *searchOutcome) domain.SearchMetadata {
	return domain.SearchMetadata{
		ProcessingTimeMs: time.Since(start).Milliseconds(),
		TotalFound:       len(outcome.results),
		MatchType:        outcome.matchType,
		Cached:           outcome.cached,
	}
}

func (s *SearchService) clampLimit(limit int) int {
	if limit <= 0 {
		return s.defaultLimit
	}
	if limit > s.maxLimit {
		return s.maxLimit
	}
	return limit
}

// generateCacheKey creates a cache key from the normalized query.
// Format: "search:{limit}:{normalized_text}"
func (s *SearchService) generateCacheKey(q domain.NormalizedQuery, limit int) string {
	return fmt.Sprintf("search:%d:%s", limit, q.NormalizedText)
}

// getFromCache retrieves a search response from cache
func (s *SearchService) getFromCache(ctx context.Context, key string) (*domain.SearchResponse, error) {
	if s.cache == nil {
		return nil, domain.ErrCacheMiss
	}

	value, err := s.cache.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	if resp, ok := value.(*domain.SearchResponse); ok {
		return resp, nil
	}

	// Caches that round-trip through JSON hand back generic maps
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, domain.ErrCacheMiss
	}
	var resp domain.SearchResponse
	if err := json.Unmarshal(raw, &resp); err != nil || len(resp.Fragrances) == 0 {
		return nil, domain.ErrCacheMiss
	}
	return &resp, nil
}

// setInCache stores a search response; failures only cost a future cache hit
func (s *SearchService) setInCache(ctx context.Context, key string, resp *domain.SearchResponse) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, resp, s.cacheTTL); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("failed to cache search results")
	}
}
