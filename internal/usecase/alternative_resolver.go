package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/rs/zerolog"

	"github.com/scentmatch/backend/internal/domain"
)

// AlternativeWeights controls how much each signal contributes to a suggestion score.
// Weights are normalized to sum to 1.
type AlternativeWeights struct {
	Brand    float64
	Token    float64
	Category float64
	Note     float64
}

// DefaultAlternativeWeights favour staying within the requested brand
var DefaultAlternativeWeights = AlternativeWeights{
	Brand:    0.4,
	Token:    0.2,
	Category: 0.2,
	Note:     0.2,
}

// ResolverConfig holds configuration for the alternative resolver
type ResolverConfig struct {
	Floor         float64
	DefaultLimit  int
	MaxLimit      int
	CandidatePool int
	Weights       AlternativeWeights
}

// Signal strengths below 1.0
const (
	brandFamilyAffinity = 0.5 // different brand, same family as a brand-mate
	unisexAffinity      = 0.5 // unisex candidate for a gendered query
	similarNameMin      = 0.5
)

// genderKeywords maps query phrases to the gender they imply.
// Multi-word phrases are checked before single words.
var genderKeywords = []struct {
	phrase string
	gender domain.Gender
}{
	{"pour homme", domain.GenderMasculine},
	{"pour femme", domain.GenderFeminine},
	{"for men", domain.GenderMasculine},
	{"for him", domain.GenderMasculine},
	{"for women", domain.GenderFeminine},
	{"for her", domain.GenderFeminine},
	{"homme", domain.GenderMasculine},
	{"uomo", domain.GenderMasculine},
	{"masculine", domain.GenderMasculine},
	{"men", domain.GenderMasculine},
	{"man", domain.GenderMasculine},
	{"femme", domain.GenderFeminine},
	{"donna", domain.GenderFeminine},
	{"feminine", domain.GenderFeminine},
	{"women", domain.GenderFeminine},
	{"woman", domain.GenderFeminine},
	{"unisex", domain.GenderUnisex},
}

// familyKeywords maps query words to a fragrance family
var familyKeywords = map[string]string{
	"woody":    "woody",
	"wood":     "woody",
	"floral":   "floral",
	"flower":   "floral",
	"fresh":    "fresh",
	"aquatic":  "fresh",
	"marine":   "fresh",
	"citrus":   "citrus",
	"oriental": "oriental",
	"amber":    "oriental",
	"gourmand": "gourmand",
	"sweet":    "gourmand",
	"aromatic": "aromatic",
	"fougere":  "aromatic",
	"spicy":    "spicy",
	"leather":  "leather",
	"chypre":   "chypre",
}

// noteKeywords are ingredients recognised in queries
var noteKeywords = map[string]bool{
	"vanilla": true, "oud": true, "rose": true, "jasmine": true, "bergamot": true,
	"lavender": true, "sandalwood": true, "amber": true, "musk": true, "leather": true,
	"tobacco": true, "cedar": true, "vetiver": true, "patchouli": true, "iris": true,
	"tonka": true, "pepper": true, "coffee": true, "coconut": true, "lemon": true,
	"grapefruit": true, "orange": true, "neroli": true, "incense": true, "saffron": true,
	"cardamom": true, "cinnamon": true, "mint": true, "pear": true, "cherry": true,
}

// nameStopWords are ignored when comparing product names
var nameStopWords = map[string]bool{
	"for": true, "de": true, "the": true, "la": true, "le": true, "pour": true,
	"eau": true, "and": true, "by": true, "of": true,
}

// AlternativeResolver ranks catalog products that could substitute for a missed query.
// It is read-only and has no side effects.
type AlternativeResolver struct {
	store         domain.CorpusStore
	floor         float64
	defaultLimit  int
	maxLimit      int
	candidatePool int
	weights       AlternativeWeights
	logger        zerolog.Logger
}

// NewAlternativeResolver creates a resolver with the given configuration
func NewAlternativeResolver(store domain.CorpusStore, config ResolverConfig, logger zerolog.Logger) *AlternativeResolver {
	floor := config.Floor
	if floor <= 0 {
		floor = 0.15
	}

	defaultLimit := config.DefaultLimit
	if defaultLimit <= 0 {
		defaultLimit = 10
	}

	maxLimit := config.MaxLimit
	if maxLimit <= 0 {
		maxLimit = 20
	}
	if defaultLimit > maxLimit {
		defaultLimit = maxLimit
	}

	pool := config.CandidatePool
	if pool <= 0 {
		pool = 200
	}

	weights := config.Weights
	total := weights.Brand + weights.Token + weights.Category + weights.Note
	if total <= 0 {
		weights = DefaultAlternativeWeights
		total = 1
	}
	weights = AlternativeWeights{
		Brand:    weights.Brand / total,
		Token:    weights.Token / total,
		Category: weights.Category / total,
		Note:     weights.Note / total,
	}

	return &AlternativeResolver{
		store:         store,
		floor:         floor,
		defaultLimit:  defaultLimit,
		maxLimit:      maxLimit,
		candidatePool: pool,
		weights:       weights,
		logger:        logger.With().Str("component", "alternatives").Logger(),
	}
}

// queryProfile is what the resolver can infer from a normalized query
type queryProfile struct {
	brand      string
	brandKey   string
	gender     domain.Gender
	family     string
	notes      []string
	nameTokens []string
	name       string
}

type scoredSuggestion struct {
	suggestion domain.AlternativeSuggestion
	score      float64
}

// Resolve returns up to limit suggestions scoring at or above the floor.
// An empty slice is a valid answer.
func (r *AlternativeResolver) Resolve(ctx context.Context, q domain.NormalizedQuery, limit int) []domain.AlternativeSuggestion {
	if limit <= 0 {
		limit = r.defaultLimit
	}
	if limit > r.maxLimit {
		limit = r.maxLimit
	}

	profile := inferProfile(q)
	candidates := r.loadCandidates(ctx, profile.brandKey)
	if len(candidates) == 0 {
		return []domain.AlternativeSuggestion{}
	}

	// Families the requested brand is known for
	brandFamilies := make(map[string]bool)
	if profile.brandKey != "" {
		for _, c := range candidates {
			if hasBrandPrefix(c.NormalizedName, profile.brandKey) && c.Family != "" {
				brandFamilies[strings.ToLower(c.Family)] = true
			}
		}
	}

	scored := make([]scoredSuggestion, 0, len(candidates))
	for _, c := range candidates {
		score, reasons := r.score(profile, brandFamilies, c)
		if score < r.floor || len(reasons) == 0 {
			continue
		}
		scored = append(scored, scoredSuggestion{
			score: score,
			suggestion: domain.AlternativeSuggestion{
				FragranceID:     c.ID,
				Name:            c.CanonicalName,
				BrandName:       c.BrandName,
				SimilarityScore: score,
				MatchReason:     strings.Join(reasons, ", "),
			},
		})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].suggestion.FragranceID < scored[j].suggestion.FragranceID
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}

	out := make([]domain.AlternativeSuggestion, len(scored))
	for i, s := range scored {
		out[i] = s.suggestion
	}
	return out
}

// loadCandidates merges the brand pool with the general pool. Store errors
// shrink the pool instead of failing the call.
func (r *AlternativeResolver) loadCandidates(ctx context.Context, brandKey string) []domain.CanonicalFragrance {
	var candidates []domain.CanonicalFragrance
	seen := make(map[string]bool)

	add := func(fragrances []domain.CanonicalFragrance) {
		for _, f := range fragrances {
			if !seen[f.ID] {
				seen[f.ID] = true
				candidates = append(candidates, f)
			}
		}
	}

	if brandKey != "" {
		brandPool, err := r.store.ListCandidates(ctx, brandKey, r.candidatePool)
		if err != nil {
			r.logger.Warn().Err(err).Str("brand", brandKey).Msg("failed to load brand candidates")
		}
		add(brandPool)
	}

	general, err := r.store.ListCandidates(ctx, "", r.candidatePool)
	if err != nil {
		r.logger.Warn().Err(err).Msg("failed to load candidates")
	}
	add(general)

	return candidates
}

func (r *AlternativeResolver) score(p queryProfile, brandFamilies map[string]bool, c domain.CanonicalFragrance) (float64, []string) {
	var reasons []string
	family := strings.ToLower(c.Family)

	brand := 0.0
	switch {
	case p.brandKey != "" && hasBrandPrefix(c.NormalizedName, p.brandKey):
		brand = 1.0
		reasons = append(reasons, fmt.Sprintf("same brand (%s)", p.brand))
	case family != "" && brandFamilies[family]:
		brand = brandFamilyAffinity
		reasons = append(reasons, fmt.Sprintf("similar style to %s", p.brand))
	}

	token := nameSimilarity(p, c)
	if token >= similarNameMin {
		reasons = append(reasons, "similar name")
	}

	category, categoryReasons := categoryAffinity(p, c.Gender, family)
	reasons = append(reasons, categoryReasons...)

	note, shared := noteOverlap(p.notes, c.Notes)
	if len(shared) > 0 {
		reasons = append(reasons, "shares notes: "+strings.Join(shared, ", "))
	}

	score := r.weights.Brand*brand + r.weights.Token*token + r.weights.Category*category + r.weights.Note*note
	return clampScore(score), reasons
}

// inferProfile extracts brand, gender, family, notes and name words from the query
func inferProfile(q domain.NormalizedQuery) queryProfile {
	p := queryProfile{brand: q.Brand, brandKey: q.BrandKey}

	text := " " + q.NormalizedText + " "
	consumed := make(map[string]bool)
	for _, kw := range genderKeywords {
		if strings.Contains(text, " "+kw.phrase+" ") {
			p.gender = kw.gender
			for _, w := range strings.Fields(kw.phrase) {
				consumed[w] = true
			}
			break
		}
	}

	nameSource := q.NameOnly
	if q.BrandKey == "" {
		nameSource = q.NormalizedText
	}

	for _, token := range strings.Fields(q.NormalizedText) {
		if f, ok := familyKeywords[token]; ok && p.family == "" {
			p.family = f
		}
		if noteKeywords[token] {
			p.notes = append(p.notes, token)
		}
	}

	for _, token := range strings.Fields(nameSource) {
		if consumed[token] || nameStopWords[token] {
			continue
		}
		if _, ok := familyKeywords[token]; ok {
			continue
		}
		p.nameTokens = append(p.nameTokens, token)
	}
	p.name = strings.Join(p.nameTokens, " ")

	return p
}

// nameSimilarity combines word overlap with subsequence matching on the product name
func nameSimilarity(p queryProfile, c domain.CanonicalFragrance) float64 {
	if len(p.nameTokens) == 0 {
		return 0
	}

	candidateName := c.NormalizedName
	if p.brandKey != "" {
		candidateName = strings.TrimPrefix(candidateName, p.brandKey+" ")
	}

	candidateTokens := make(map[string]bool)
	for _, t := range strings.Fields(candidateName) {
		if !nameStopWords[t] {
			candidateTokens[t] = true
		}
	}
	if len(candidateTokens) == 0 {
		return 0
	}

	shared := 0
	for _, t := range p.nameTokens {
		if candidateTokens[t] {
			shared++
		}
	}
	overlap := float64(shared) / float64(len(p.nameTokens)+len(candidateTokens)-shared)

	subsequence := 0.0
	if rank := fuzzy.RankMatchFold(p.name, candidateName); rank >= 0 {
		subsequence = 1 - float64(rank)/float64(utf8.RuneCountInString(candidateName))
	}

	if subsequence > overlap {
		return clampScore(subsequence)
	}
	return overlap
}

// categoryAffinity scores gender and family agreement
func categoryAffinity(p queryProfile, gender domain.Gender, family string) (float64, []string) {
	var reasons []string
	var total float64
	signals := 0

	if p.gender != domain.GenderUnknown {
		signals++
		switch {
		case gender == p.gender:
			total += 1.0
			reasons = append(reasons, fmt.Sprintf("similar %s fragrance", p.gender))
		case gender == domain.GenderUnisex:
			total += unisexAffinity
		}
	}

	if p.family != "" {
		signals++
		if family == p.family {
			total += 1.0
			reasons = append(reasons, fmt.Sprintf("same family (%s)", p.family))
		}
	}

	if signals == 0 {
		return 0, nil
	}
	return total / float64(signals), reasons
}

// noteOverlap returns the share of query notes the candidate carries
func noteOverlap(queryNotes, candidateNotes []string) (float64, []string) {
	if len(queryNotes) == 0 || len(candidateNotes) == 0 {
		return 0, nil
	}

	var shared []string
	for _, qn := range queryNotes {
		for _, cn := range candidateNotes {
			if strings.Contains(strings.ToLower(cn), qn) {
				shared = append(shared, qn)
				break
			}
		}
	}
	return float64(len(shared)) / float64(len(queryNotes)), shared
}
