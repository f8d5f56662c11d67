package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hbollon/go-edlib"
	"github.com/rs/zerolog"

	"github.com/scentmatch/backend/internal/domain"
)

// Fuzzy score blend. Trigrams carry most of the weight; edit-distance terms
// reward near-identical strings that share few trigrams (short names, typos).
const (
	trigramWeight     = 0.6
	levenshteinWeight = 0.25
	jaroWinklerWeight = 0.15
)

// MatchConfig holds configuration for the matching service
type MatchConfig struct {
	StageTimeout       time.Duration
	VariantFloor       float64
	FuzzyFloor         float64
	SemanticFloor      float64
	SemanticTopK       int
	EnableDebugLogging bool
}

// MatchingService resolves a normalized query against the catalog through an
// ordered cascade of stages: exact, variant, fuzzy, semantic.
// The first stage that yields results wins.
type MatchingService struct {
	store    domain.CorpusStore
	embedder domain.Embedder

	stageTimeout       time.Duration
	variantFloor       float64
	fuzzyFloor         float64
	semanticFloor      float64
	semanticTopK       int
	enableDebugLogging bool
	logger             zerolog.Logger
}

// NewMatchingService creates a new matching service with the given configuration.
// embedder may be nil, in which case the semantic stage is skipped.
func NewMatchingService(store domain.CorpusStore, embedder domain.Embedder, config MatchConfig, logger zerolog.Logger) *MatchingService {
	stageTimeout := config.StageTimeout
	if stageTimeout <= 0 {
		stageTimeout = 2 * time.Second
	}

	fuzzyFloor := config.FuzzyFloor
	if fuzzyFloor <= 0 {
		fuzzyFloor = 0.3
	}

	topK := config.SemanticTopK
	if topK <= 0 {
		topK = 10
	}

	return &MatchingService{
		store:              store,
		embedder:           embedder,
		stageTimeout:       stageTimeout,
		variantFloor:       config.VariantFloor,
		fuzzyFloor:         fuzzyFloor,
		semanticFloor:      config.SemanticFloor,
		semanticTopK:       topK,
		enableDebugLogging: config.EnableDebugLogging,
		logger:             logger.With().Str("component", "matcher").Logger(),
	}
}

type embeddingResult struct {
	vector []float32
	err    error
}

type matchStage struct {
	matchType domain.MatchType
	run       func(ctx context.Context, q *domain.SearchQuery, limit int) ([]domain.MatchResult, error)
}

// Match runs the cascade and returns ranked results with the stage that produced them.
// A miss is an empty slice with MatchTypeNone; stage failures never surface as errors.
func (s *MatchingService) Match(ctx context.Context, q *domain.SearchQuery, limit int) ([]domain.MatchResult, domain.MatchType) {
	if q == nil || q.Normalized.NormalizedText == "" || limit <= 0 {
		return []domain.MatchResult{}, domain.MatchTypeNone
	}

	// The embedding call is the slowest dependency, so it starts now and is
	// only awaited if the cascade actually reaches the semantic stage.
	var pending <-chan embeddingResult
	if s.embedder != nil && len(q.Embedding) == 0 {
		prefetchCtx, cancel := context.WithTimeout(ctx, s.stageTimeout)
		defer cancel()
		pending = s.prefetchEmbedding(prefetchCtx, q.Normalized.DisplayText)
	}

	stages := []matchStage{
		{domain.MatchTypeExact, s.exactStage},
		{domain.MatchTypeVariant, s.variantStage},
		{domain.MatchTypeFuzzy, s.fuzzyStage},
		{domain.MatchTypeSemantic, func(ctx context.Context, q *domain.SearchQuery, limit int) ([]domain.MatchResult, error) {
			return s.semanticStage(ctx, q, limit, pending)
		}},
	}

	for _, stage := range stages {
		if ctx.Err() != nil {
			s.logger.Warn().
				Err(ctx.Err()).
				Str("query", q.Normalized.NormalizedText).
				Str("stage", string(stage.matchType)).
				Msg("caller deadline reached before cascade finished")
			return []domain.MatchResult{}, domain.MatchTypeNone
		}

		results := s.runStage(ctx, stage, q, limit)
		if len(results) > 0 {
			if s.enableDebugLogging {
				s.logger.Debug().
					Str("query", q.Normalized.NormalizedText).
					Str("stage", string(stage.matchType)).
					Int("results", len(results)).
					Float64("top_score", results[0].SimilarityScore).
					Msg("match found")
			}
			return results, stage.matchType
		}
	}

	return []domain.MatchResult{}, domain.MatchTypeNone
}

// runStage executes one stage under its own timeout. Failures are logged and read as empty.
// Stages return their results already ranked.
func (s *MatchingService) runStage(ctx context.Context, stage matchStage, q *domain.SearchQuery, limit int) []domain.MatchResult {
	stageCtx, cancel := context.WithTimeout(ctx, s.stageTimeout)
	defer cancel()

	results, err := stage.run(stageCtx, q, limit)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			err = fmt.Errorf("%w: %s stage: %v", domain.ErrStageUnavailable, stage.matchType, err)
		}
		s.logger.Warn().
			Err(err).
			Str("query", q.Normalized.NormalizedText).
			Str("stage", string(stage.matchType)).
			Msg("match stage unavailable")
		return nil
	}
	if stageCtx.Err() != nil {
		return nil
	}

	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

func (s *MatchingService) prefetchEmbedding(ctx context.Context, text string) <-chan embeddingResult {
	out := make(chan embeddingResult, 1)
	go func() {
		vector, err := s.embedder.Embed(ctx, text)
		out <- embeddingResult{vector: vector, err: err}
	}()
	return out
}

// exactStage looks up the full normalized text and, when a brand was found,
// the brand-qualified name ("sauvage dior" -> "dior sauvage").
func (s *MatchingService) exactStage(ctx context.Context, q *domain.SearchQuery, _ int) ([]domain.MatchResult, error) {
	keys := []string{q.Normalized.NormalizedText}
	if q.Normalized.BrandKey != "" && q.Normalized.NameOnly != "" {
		if qualified := q.Normalized.BrandKey + " " + q.Normalized.NameOnly; qualified != keys[0] {
			keys = append(keys, qualified)
		}
	}

	seen := make(map[string]bool)
	var results []domain.MatchResult

	for _, key := range keys {
		fragrances, err := s.store.FindByNormalizedName(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("%w: exact lookup: %v", domain.ErrStageUnavailable, err)
		}
		for _, f := range fragrances {
			if seen[f.ID] {
				continue
			}
			seen[f.ID] = true
			results = append(results, newMatchResult(f, domain.MatchTypeExact, 1.0))
		}
	}

	sortResults(results)
	return results, nil
}

// variantStage resolves known alternate spellings to their owning canonical.
// The brand-stripped name is only tried when the full text has no variant,
// and its hits must belong to the extracted brand.
func (s *MatchingService) variantStage(ctx context.Context, q *domain.SearchQuery, _ int) ([]domain.MatchResult, error) {
	matches, err := s.store.FindByVariantName(ctx, q.Normalized.NormalizedText)
	if err != nil {
		return nil, fmt.Errorf("%w: variant lookup: %v", domain.ErrStageUnavailable, err)
	}

	if len(matches) == 0 && q.Normalized.BrandKey != "" && q.Normalized.NameOnly != "" {
		nameOnly, err := s.store.FindByVariantName(ctx, q.Normalized.NameOnly)
		if err != nil {
			return nil, fmt.Errorf("%w: variant lookup: %v", domain.ErrStageUnavailable, err)
		}
		for _, m := range nameOnly {
			if hasBrandPrefix(m.Canonical.NormalizedName, q.Normalized.BrandKey) {
				matches = append(matches, m)
			}
		}
	}

	best := make(map[string]domain.MatchResult)
	for _, m := range matches {
		confidence := clampScore(m.Variant.Confidence)
		if confidence < s.variantFloor {
			continue
		}
		if current, ok := best[m.Canonical.ID]; ok && current.SimilarityScore >= confidence {
			continue
		}
		best[m.Canonical.ID] = newMatchResult(m.Canonical, domain.MatchTypeVariant, confidence)
	}

	results := make([]domain.MatchResult, 0, len(best))
	for _, r := range best {
		results = append(results, r)
	}
	sortResults(results)
	return results, nil
}

type fuzzyCandidate struct {
	canonicalID string
	score       float64
	distance    int
}

// fuzzyStage scores every catalog name against the query and keeps the best
// score per canonical fragrance above the floor.
func (s *MatchingService) fuzzyStage(ctx context.Context, q *domain.SearchQuery, limit int) ([]domain.MatchResult, error) {
	entries, err := s.store.ListNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list names: %v", domain.ErrStageUnavailable, err)
	}

	best := make(map[string]fuzzyCandidate)
	for i, entry := range entries {
		if i%512 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}

		left, right := fuzzyOperands(q.Normalized, entry.NormalizedName)
		if left == "" || right == "" {
			continue
		}

		score := clampScore(fuzzySimilarity(left, right) * variantWeight(entry))
		if score < s.fuzzyFloor {
			continue
		}
		distance := edlib.LevenshteinDistance(left, right)

		current, ok := best[entry.CanonicalID]
		if ok && (current.score > score || (current.score == score && current.distance <= distance)) {
			continue
		}
		best[entry.CanonicalID] = fuzzyCandidate{canonicalID: entry.CanonicalID, score: score, distance: distance}
	}

	if len(best) == 0 {
		return nil, nil
	}

	ranked := make([]fuzzyCandidate, 0, len(best))
	for _, c := range best {
		ranked = append(ranked, c)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		if ranked[i].distance != ranked[j].distance {
			return ranked[i].distance < ranked[j].distance
		}
		return ranked[i].canonicalID < ranked[j].canonicalID
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	ids := make([]string, len(ranked))
	for i, c := range ranked {
		ids[i] = c.canonicalID
	}
	fragrances, err := s.store.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: load fuzzy hits: %v", domain.ErrStageUnavailable, err)
	}
	byID := make(map[string]domain.CanonicalFragrance, len(fragrances))
	for _, f := range fragrances {
		byID[f.ID] = f
	}

	results := make([]domain.MatchResult, 0, len(ranked))
	for _, c := range ranked {
		f, ok := byID[c.canonicalID]
		if !ok {
			continue
		}
		results = append(results, newMatchResult(f, domain.MatchTypeFuzzy, c.score))
	}
	return results, nil
}

// semanticStage waits for the prefetched embedding and asks the store for nearest neighbours
func (s *MatchingService) semanticStage(ctx context.Context, q *domain.SearchQuery, limit int, pending <-chan embeddingResult) ([]domain.MatchResult, error) {
	if len(q.Embedding) == 0 {
		if pending == nil {
			return nil, nil
		}
		select {
		case res := <-pending:
			if res.err != nil {
				return nil, fmt.Errorf("%w: embed query: %v", domain.ErrStageUnavailable, res.err)
			}
			q.Embedding = res.vector
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if len(q.Embedding) == 0 {
		return nil, nil
	}

	k := s.semanticTopK
	if limit > k {
		k = limit
	}

	scored, err := s.store.NearestByEmbedding(ctx, q.Embedding, k)
	if err != nil {
		return nil, fmt.Errorf("%w: vector search: %v", domain.ErrStageUnavailable, err)
	}

	results := make([]domain.MatchResult, 0, len(scored))
	for _, sf := range scored {
		score := clampScore(sf.Similarity)
		if score <= 0 || score < s.semanticFloor {
			continue
		}
		results = append(results, newMatchResult(sf.Fragrance, domain.MatchTypeSemantic, score))
	}
	sortResults(results)
	return results, nil
}

// fuzzyOperands picks what to compare. When the query and the catalog name
// share the extracted brand, only the name parts are compared so the brand
// alone cannot carry a match.
func fuzzyOperands(q domain.NormalizedQuery, candidate string) (string, string) {
	if q.BrandKey != "" && hasBrandPrefix(candidate, q.BrandKey) {
		return q.NameOnly, strings.TrimPrefix(candidate, q.BrandKey+" ")
	}
	return q.NormalizedText, candidate
}

// fuzzySimilarity blends trigram, Levenshtein and Jaro-Winkler similarity into [0,1]
func fuzzySimilarity(a, b string) float64 {
	if a == b {
		return 1.0
	}

	trigram := trigramSimilarity(a, b)

	maxLen := utf8.RuneCountInString(a)
	if l := utf8.RuneCountInString(b); l > maxLen {
		maxLen = l
	}
	levenshtein := 1 - float64(edlib.LevenshteinDistance(a, b))/float64(maxLen)

	jaroWinkler := float64(edlib.JaroWinklerSimilarity(a, b))

	return trigramWeight*trigram + levenshteinWeight*levenshtein + jaroWinklerWeight*jaroWinkler
}

// trigramSimilarity is the Jaccard index of word-padded trigram sets
func trigramSimilarity(a, b string) float64 {
	left := trigrams(a)
	right := trigrams(b)
	if len(left) == 0 || len(right) == 0 {
		return 0
	}

	shared := 0
	for g := range left {
		if right[g] {
			shared++
		}
	}
	return float64(shared) / float64(len(left)+len(right)-shared)
}

func trigrams(s string) map[string]bool {
	set := make(map[string]bool)
	for _, word := range strings.Fields(s) {
		padded := []rune("  " + word + " ")
		for i := 0; i+3 <= len(padded); i++ {
			set[string(padded[i:i+3])] = true
		}
	}
	return set
}

// variantWeight discounts variant names by their curation confidence
func variantWeight(entry domain.NameEntry) float64 {
	if !entry.IsVariant || entry.Confidence <= 0 {
		return 1.0
	}
	return entry.Confidence
}

func hasBrandPrefix(name, brandKey string) bool {
	return brandKey != "" && strings.HasPrefix(name, brandKey+" ")
}

func newMatchResult(f domain.CanonicalFragrance, matchType domain.MatchType, score float64) domain.MatchResult {
	return domain.MatchResult{
		CanonicalID:     f.ID,
		Name:            f.CanonicalName,
		BrandName:       f.BrandName,
		MatchType:       matchType,
		SimilarityScore: score,
	}
}

// sortResults orders by descending score, then ascending canonical ID
func sortResults(results []domain.MatchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].SimilarityScore != results[j].SimilarityScore {
			return results[i].SimilarityScore > results[j].SimilarityScore
		}
		return results[i].CanonicalID < results[j].CanonicalID
	})
}

func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
