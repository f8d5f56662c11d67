package domain

// MatchType identifies the stage of the cascade that produced a match
type MatchType string

const (
	MatchTypeNone     MatchType = ""
	MatchTypeExact    MatchType = "exact"
	MatchTypeVariant  MatchType = "variant"
	MatchTypeFuzzy    MatchType = "fuzzy"
	MatchTypeSemantic MatchType = "semantic"
)

// NormalizedQuery is the canonical comparison form of a raw search string
type NormalizedQuery struct {
	NormalizedText string   `json:"normalized_text"`
	NameOnly       string   `json:"name_only,omitempty"` // normalized text with the brand prefix removed
	Brand          string   `json:"extracted_brand,omitempty"`
	BrandKey       string   `json:"-"` // normalized form of Brand as it appeared in NormalizedText
	Concentration  string   `json:"extracted_concentration,omitempty"`
	DisplayText    string   `json:"display_text"`
	Tokens         []string `json:"tokens,omitempty"`
}

// SearchQuery is the ephemeral per-request query state
type SearchQuery struct {
	Raw        string
	Normalized NormalizedQuery
	Embedding  []float32
}

// MatchResult is a single ranked catalog hit. Never persisted.
type MatchResult struct {
	CanonicalID     string    `json:"canonical_id"`
	Name            string    `json:"name"`
	BrandName       string    `json:"brand,omitempty"`
	MatchType       MatchType `json:"match_type"`
	SimilarityScore float64   `json:"similarity_score"`
}

// AlternativeSuggestion is a substitute product offered on a full miss
type AlternativeSuggestion struct {
	FragranceID     string  `json:"fragrance_id"`
	Name            string  `json:"name"`
	BrandName       string  `json:"brand,omitempty"`
	SimilarityScore float64 `json:"similarity_score"`
	MatchReason     string  `json:"match_reason"`
}

// NameEntry is a matchable name in the corpus: a canonical name or one of its variants
type NameEntry struct {
	CanonicalID    string
	NormalizedName string
	Confidence     float64 // 1.0 for canonical names
	IsVariant      bool
}

// VariantMatch pairs a variant hit with its owning canonical
type VariantMatch struct {
	Variant   FragranceVariant
	Canonical CanonicalFragrance
}

// ScoredFragrance is a canonical fragrance with a similarity score from the store
type ScoredFragrance struct {
	Fragrance  CanonicalFragrance
	Similarity float64
}

// SearchMetadata describes a search invocation
type SearchMetadata struct {
	ProcessingTimeMs int64     `json:"processing_time_ms"`
	TotalFound       int       `json:"total_found"`
	MatchType        MatchType `json:"match_type,omitempty"`
	Cached           bool      `json:"cached,omitempty"`
}

// SearchResponse is the body of GET /search
type SearchResponse struct {
	Fragrances []MatchResult  `json:"fragrances"`
	Metadata   SearchMetadata `json:"metadata"`
}

// SmartSearchData is the data envelope of GET /search/smart
type SmartSearchData struct {
	Results       []MatchResult           `json:"results"`
	Alternatives  []AlternativeSuggestion `json:"alternatives,omitempty"`
	QueryAnalysis NormalizedQuery         `json:"query_analysis"`
	Metadata      SearchMetadata          `json:"metadata"`
}

// SmartSearchResponse is the body of GET /search/smart
type SmartSearchResponse struct {
	Success bool            `json:"success"`
	Data    SmartSearchData `json:"data"`
	Message string          `json:"message,omitempty"`
}
