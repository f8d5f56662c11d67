package usecase

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/scentmatch/backend/internal/domain"
)

// Compiled regex patterns for query normalization
var (
	// Matches size patterns like "100ml", "3.4 oz", "1.7 fl oz"
	sizeQuantityPattern = regexp.MustCompile(`\b\d+(?:[.,]\d+)?\s*(?:fl\.?\s*oz|oz|ml|millilit(?:er|re)s?)\b`)

	// Matches single-letter ampersand brand abbreviations like "d&g", "a & f"
	ampersandAbbrevPattern = regexp.MustCompile(`\b([a-z])\s*&\s*([a-z])\b`)

	// Matches numbered editions written as "no5", "n05", "n 5" (after "°" has become "o")
	numberedEditionPattern = regexp.MustCompile(`\bn[o0]?\s*0?(\d{1,2})\b`)

	nonAlphanumericPattern = regexp.MustCompile(`[^a-z0-9\s]+`)
	multiSpacePattern      = regexp.MustCompile(`\s+`)
)

// concentrationPatterns are checked in order; longer forms come first so that
// "extrait de parfum" is not read as plain "parfum".
var concentrationPatterns = []struct {
	pattern *regexp.Regexp
	label   string
}{
	{regexp.MustCompile(`\b(?:extrait de parfum|extrait)\b`), "Extrait"},
	{regexp.MustCompile(`\b(?:parfum de toilette|pdt)\b`), "PDT"},
	{regexp.MustCompile(`\b(?:eau de parfum|edp)\b`), "EDP"},
	{regexp.MustCompile(`\b(?:eau de toilette|edt)\b`), "EDT"},
	{regexp.MustCompile(`\b(?:eau de cologne|edc)\b`), "EDC"},
	{regexp.MustCompile(`\beau fraiche\b`), "Eau Fraiche"},
	{regexp.MustCompile(`\bparfum\b`), "Parfum"},
}

// ampersandAbbreviations expands "x&y" brand shorthands
var ampersandAbbreviations = map[string]string{
	"d&g": "dolce gabbana",
	"a&f": "abercrombie fitch",
}

// brandAbbreviations expands single-token brand shorthands
var brandAbbreviations = map[string]string{
	"ck":  "calvin klein",
	"ysl": "yves saint laurent",
	"jpg": "jean paul gaultier",
	"tf":  "tom ford",
	"mfk": "maison francis kurkdjian",
	"pdm": "parfums de marly",
	"dg":  "dolce gabbana",
}

// brandAliases folds alternate full brand spellings onto one form
var brandAliases = []struct {
	from string
	to   string
}{
	{"christian dior", "dior"},
	{"giorgio armani", "armani"},
	{"thierry mugler", "mugler"},
	{"by kilian", "kilian"},
	{"bulgari", "bvlgari"},
	{"hugo boss", "boss"},
}

// queryNoiseWords carry no identity for matching
var queryNoiseWords = map[string]bool{
	"spray":        true,
	"tester":       true,
	"perfume":      true,
	"fragrance":    true,
	"vaporisateur": true,
	"vapo":         true,
	"authentic":    true,
	"sealed":       true,
	"unboxed":      true,
}

// knownBrands maps normalized brand keys to display names
var knownBrands = map[string]string{
	"calvin klein":             "Calvin Klein",
	"yves saint laurent":       "Yves Saint Laurent",
	"jean paul gaultier":       "Jean Paul Gaultier",
	"tom ford":                 "Tom Ford",
	"maison francis kurkdjian": "Maison Francis Kurkdjian",
	"parfums de marly":         "Parfums de Marly",
	"dolce gabbana":            "Dolce & Gabbana",
	"abercrombie fitch":        "Abercrombie & Fitch",
	"elizabeth arden":          "Elizabeth Arden",
	"carolina herrera":         "Carolina Herrera",
	"dior":                     "Dior",
	"chanel":                   "Chanel",
	"creed":                    "Creed",
	"guerlain":                 "Guerlain",
	"hermes":                   "Hermès",
	"givenchy":                 "Givenchy",
	"versace":                  "Versace",
	"armani":                   "Armani",
	"boss":                     "Hugo Boss",
	"ralph lauren":             "Ralph Lauren",
	"burberry":                 "Burberry",
	"montblanc":                "Montblanc",
	"valentino":                "Valentino",
	"paco rabanne":             "Paco Rabanne",
	"rabanne":                  "Rabanne",
	"coach":                    "Coach",
	"gucci":                    "Gucci",
	"prada":                    "Prada",
	"lancome":                  "Lancôme",
	"viktor rolf":              "Viktor & Rolf",
	"le labo":                  "Le Labo",
	"byredo":                   "Byredo",
	"diptyque":                 "Diptyque",
	"amouage":                  "Amouage",
	"maison margiela":          "Maison Margiela",
	"kilian":                   "Kilian",
	"narciso rodriguez":        "Narciso Rodriguez",
	"azzaro":                   "Azzaro",
	"davidoff":                 "Davidoff",
	"bvlgari":                  "Bvlgari",
	"marc jacobs":              "Marc Jacobs",
	"mugler":                   "Mugler",
	"issey miyake":             "Issey Miyake",
	"lattafa":                  "Lattafa",
	"montale":                  "Montale",
	"mancera":                  "Mancera",
	"initio":                   "Initio",
}

// diacriticFolder strips combining marks ("Hermès" -> "Hermes")
var diacriticFolder = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// QueryNormalizer converts raw user input into a canonical comparison key
// and a search-ready display string. It is safe for concurrent use.
type QueryNormalizer struct {
	maxLength          int
	enableDebugLogging bool
	logger             zerolog.Logger

	mu             sync.RWMutex
	brands         map[string]string
	maxBrandTokens int
}

// NormalizerConfig holds configuration for the query normalizer
type NormalizerConfig struct {
	MaxLength          int
	EnableDebugLogging bool
}

// NewQueryNormalizer creates a normalizer seeded with the built-in brand dictionary
func NewQueryNormalizer(config NormalizerConfig, logger zerolog.Logger) *QueryNormalizer {
	maxLength := config.MaxLength
	if maxLength <= 0 {
		maxLength = 200
	}

	n := &QueryNormalizer{
		maxLength:          maxLength,
		enableDebugLogging: config.EnableDebugLogging,
		logger:             logger.With().Str("component", "normalizer").Logger(),
		brands:             make(map[string]string, len(knownBrands)),
	}
	for key, display := range knownBrands {
		n.addBrandLocked(key, display)
	}
	return n
}

// AddBrands registers catalog brand names so they can be extracted from queries
func (n *QueryNormalizer) AddBrands(brands []string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, brand := range brands {
		key := n.canonicalText(brand)
		if key == "" {
			continue
		}
		if _, exists := n.brands[key]; exists {
			continue
		}
		n.addBrandLocked(key, strings.TrimSpace(brand))
	}
}

func (n *QueryNormalizer) addBrandLocked(key, display string) {
	n.brands[key] = display
	if count := len(strings.Fields(key)); count > n.maxBrandTokens {
		n.maxBrandTokens = count
	}
}

// Normalize cleans a raw query. Empty or oversized input yields ErrInvalidQuery;
// any other input produces a result, falling back to a lower-cased pass-through.
func (n *QueryNormalizer) Normalize(raw string) (domain.NormalizedQuery, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return domain.NormalizedQuery{}, fmt.Errorf("%w: query is empty", domain.ErrInvalidQuery)
	}
	if utf8.RuneCountInString(trimmed) > n.maxLength {
		return domain.NormalizedQuery{}, fmt.Errorf("%w: query exceeds %d characters", domain.ErrInvalidQuery, n.maxLength)
	}

	display := multiSpacePattern.ReplaceAllString(trimmed, " ")
	text := foldDiacritics(strings.ToLower(display))

	// Sizes go first so "3.4 oz" is removed before the dot is stripped
	text = sizeQuantityPattern.ReplaceAllString(text, " ")
	text = ampersandAbbrevPattern.ReplaceAllStringFunc(text, expandAmpersand)
	text = nonAlphanumericPattern.ReplaceAllString(text, " ")
	text = numberedEditionPattern.ReplaceAllString(text, "no ${1}")
	text = expandTokens(text)
	text = applyBrandAliases(text)

	text, concentration := extractConcentration(text)
	text = collapse(text)

	result := domain.NormalizedQuery{
		NormalizedText: text,
		Concentration:  concentration,
		DisplayText:    display,
	}

	if text == "" {
		// Nothing recognisable survived; degrade to a pass-through key
		result.NormalizedText = collapse(strings.ToLower(display))
		result.Tokens = strings.Fields(result.NormalizedText)
		return result, nil
	}

	result.Tokens = strings.Fields(text)
	result.Brand, result.BrandKey, result.NameOnly = n.extractBrand(result.Tokens)

	if n.enableDebugLogging {
		n.logger.Debug().
			Str("input", raw).
			Str("normalized", result.NormalizedText).
			Str("brand", result.Brand).
			Str("concentration", result.Concentration).
			Msg("normalized query")
	}

	return result, nil
}

// CanonicalKey returns the form used to store and compare catalog names.
// Catalog data and queries go through the same pipeline so they stay comparable.
func (n *QueryNormalizer) CanonicalKey(name string) string {
	q, err := n.Normalize(name)
	if err != nil {
		return ""
	}
	return q.NormalizedText
}

// BrandKey returns the normalized form of a brand name
func (n *QueryNormalizer) BrandKey(brand string) string {
	return n.canonicalText(brand)
}

// canonicalText runs the name pipeline without concentration extraction
func (n *QueryNormalizer) canonicalText(s string) string {
	text := foldDiacritics(strings.ToLower(strings.TrimSpace(s)))
	text = ampersandAbbrevPattern.ReplaceAllStringFunc(text, expandAmpersand)
	text = nonAlphanumericPattern.ReplaceAllString(text, " ")
	text = expandTokens(text)
	text = applyBrandAliases(text)
	return collapse(text)
}

// extractBrand finds the longest known brand at the start, then at the end, of the tokens
func (n *QueryNormalizer) extractBrand(tokens []string) (display, key, rest string) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	maxTokens := n.maxBrandTokens
	if maxTokens > len(tokens) {
		maxTokens = len(tokens)
	}

	for size := maxTokens; size >= 1; size-- {
		prefix := strings.Join(tokens[:size], " ")
		if name, ok := n.brands[prefix]; ok {
			return name, prefix, strings.Join(tokens[size:], " ")
		}
	}
	for size := maxTokens; size >= 1; size-- {
		suffix := strings.Join(tokens[len(tokens)-size:], " ")
		if name, ok := n.brands[suffix]; ok {
			return name, suffix, strings.Join(tokens[:len(tokens)-size], " ")
		}
	}
	return "", "", ""
}

// expandAmpersand rewrites "d&g" style abbreviations; unknown pairs are kept
func expandAmpersand(match string) string {
	key := strings.ReplaceAll(match, " ", "")
	if expanded, ok := ampersandAbbreviations[key]; ok {
		return expanded
	}
	return match
}

// expandTokens expands brand abbreviations and drops noise words
func expandTokens(s string) string {
	words := strings.Fields(s)
	kept := make([]string, 0, len(words))

	for _, word := range words {
		if queryNoiseWords[word] {
			continue
		}
		if expanded, ok := brandAbbreviations[word]; ok {
			kept = append(kept, expanded)
			continue
		}
		kept = append(kept, word)
	}

	return strings.Join(kept, " ")
}

// applyBrandAliases rewrites alternate brand spellings on token boundaries
func applyBrandAliases(s string) string {
	padded := " " + s + " "
	for _, alias := range brandAliases {
		padded = strings.ReplaceAll(padded, " "+alias.from+" ", " "+alias.to+" ")
	}
	return strings.TrimSpace(padded)
}

// extractConcentration removes concentration tokens and returns the first one found.
// If stripping would leave nothing, the text is kept as-is.
func extractConcentration(s string) (string, string) {
	concentration := ""
	stripped := s

	for _, cp := range concentrationPatterns {
		if !cp.pattern.MatchString(stripped) {
			continue
		}
		if concentration == "" {
			concentration = cp.label
		}
		stripped = cp.pattern.ReplaceAllString(stripped, " ")
	}

	if strings.TrimSpace(stripped) == "" {
		return s, concentration
	}
	return stripped, concentration
}

// foldDiacritics maps ordinal/degree signs to "o" and strips accents
func foldDiacritics(s string) string {
	s = strings.NewReplacer("°", "o", "º", "o").Replace(s)
	folded, _, err := transform.String(diacriticFolder, s)
	if err != nil {
		return s
	}
	return folded
}

func collapse(s string) string {
	return strings.TrimSpace(multiSpacePattern.ReplaceAllString(s, " "))
}
