package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/scentmatch/backend/internal/domain"
)

// variantNamespace seeds deterministic variant IDs so re-imports update in place
var variantNamespace = uuid.MustParse("6f1c3a8e-2b7d-4e59-9a0f-5d2c8b4e7a13")

// Confidence assigned to variants derived during import
const (
	derivedNameConfidence = 0.9
	derivedSlugConfidence = 0.8
	manualConfidence      = 0.9
)

// CatalogFile is the JSON import format
type CatalogFile struct {
	Fragrances []CatalogRecord  `json:"fragrances"`
	Variants   []CatalogVariant `json:"variants"`
}

// CatalogRecord is one canonical fragrance in an import file
type CatalogRecord struct {
	ID            string           `json:"id"`
	Brand         string           `json:"brand"`
	BrandID       string           `json:"brand_id"`
	Name          string           `json:"name"`
	Line          string           `json:"line"`
	Notes         []string         `json:"notes"`
	Family        string           `json:"family"`
	Concentration string           `json:"concentration"`
	Gender        string           `json:"gender"`
	Variants      []CatalogVariant `json:"variants"`
}

// CatalogVariant is an alternate name; CanonicalID is only read from the top-level list
type CatalogVariant struct {
	ID          string   `json:"id"`
	CanonicalID string   `json:"canonical_id"`
	Name        string   `json:"name"`
	Confidence  *float64 `json:"confidence"`
	Malformed   bool     `json:"malformed"`
}

// ImportReport summarizes an import run
type ImportReport struct {
	Fragrances       int `json:"fragrances"`
	Variants         int `json:"variants"`
	DerivedVariants  int `json:"derived_variants"`
	RejectedVariants int `json:"rejected_variants"`
	Embedded         int `json:"embedded"`
	EmbedFailures    int `json:"embed_failures"`
}

// ImportOptions controls optional import work
type ImportOptions struct {
	Embed            bool
	EmbedConcurrency int
}

// CatalogImporter loads catalog files into the store, deriving name variants
type CatalogImporter struct {
	writer     domain.CatalogWriter
	normalizer *QueryNormalizer
	embedder   domain.Embedder
	logger     zerolog.Logger
}

// NewCatalogImporter creates an importer. embedder may be nil when embeddings are not computed.
func NewCatalogImporter(writer domain.CatalogWriter, normalizer *QueryNormalizer, embedder domain.Embedder, logger zerolog.Logger) *CatalogImporter {
	return &CatalogImporter{
		writer:     writer,
		normalizer: normalizer,
		embedder:   embedder,
		logger:     logger.With().Str("component", "importer").Logger(),
	}
}

// DecodeCatalog reads a catalog file
func DecodeCatalog(r io.Reader) (*CatalogFile, error) {
	var file CatalogFile
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("%w: decode catalog: %v", domain.ErrInvalidRequest, err)
	}
	return &file, nil
}

// Import writes every record and variant. Orphan variants are rejected and
// counted; any other store error aborts the import.
func (i *CatalogImporter) Import(ctx context.Context, file *CatalogFile, opts ImportOptions) (*ImportReport, error) {
	report := &ImportReport{}

	i.normalizer.AddBrands(brandsOf(file.Fragrances))

	fragrances := make([]domain.CanonicalFragrance, 0, len(file.Fragrances))
	for _, rec := range file.Fragrances {
		f, err := i.canonical(rec)
		if err != nil {
			return report, err
		}
		if err := i.writer.UpsertFragrance(ctx, &f); err != nil {
			return report, err
		}
		report.Fragrances++
		fragrances = append(fragrances, f)

		for _, v := range rec.Variants {
			v.CanonicalID = f.ID
			if err := i.writeVariant(ctx, v, report); err != nil {
				return report, err
			}
		}

		for _, v := range i.derivedVariants(rec, f) {
			if err := i.writer.UpsertVariant(ctx, &v); err != nil {
				return report, err
			}
			report.DerivedVariants++
		}
	}

	for _, v := range file.Variants {
		if err := i.writeVariant(ctx, v, report); err != nil {
			return report, err
		}
	}

	if opts.Embed && i.embedder != nil {
		if err := i.embedAll(ctx, fragrances, opts.EmbedConcurrency, report); err != nil {
			return report, err
		}
	}

	i.logger.Info().
		Int("fragrances", report.Fragrances).
		Int("variants", report.Variants).
		Int("derived_variants", report.DerivedVariants).
		Int("rejected_variants", report.RejectedVariants).
		Int("embedded", report.Embedded).
		Msg("catalog import finished")

	return report, nil
}

func (i *CatalogImporter) canonical(rec CatalogRecord) (domain.CanonicalFragrance, error) {
	if rec.ID == "" || rec.Name == "" || rec.Brand == "" {
		return domain.CanonicalFragrance{}, fmt.Errorf("%w: fragrance %q needs id, brand and name", domain.ErrInvalidRequest, rec.ID)
	}

	gender := domain.Gender(strings.ToLower(rec.Gender))
	switch gender {
	case domain.GenderMasculine, domain.GenderFeminine, domain.GenderUnisex, domain.GenderUnknown:
	default:
		return domain.CanonicalFragrance{}, fmt.Errorf("%w: fragrance %s has unknown gender %q", domain.ErrInvalidRequest, rec.ID, rec.Gender)
	}

	brandID := rec.BrandID
	if brandID == "" {
		brandID = slug.Make(i.normalizer.BrandKey(rec.Brand))
	}

	normalized, nameKey := i.catalogKeys(rec.Brand, rec.Name)

	return domain.CanonicalFragrance{
		ID:             rec.ID,
		CanonicalName:  rec.Name,
		NormalizedName: normalized,
		NameKey:        nameKey,
		BrandID:        brandID,
		BrandName:      rec.Brand,
		FragranceLine:  rec.Line,
		Notes:          rec.Notes,
		Family:         strings.ToLower(rec.Family),
		Concentration:  rec.Concentration,
		Gender:         gender,
	}, nil
}

// catalogKeys returns the brand-qualified key and the brand-less name key.
// A name that already starts with its brand is not prefixed twice, and the
// brand is dropped from its name key.
func (i *CatalogImporter) catalogKeys(brand, name string) (normalized, nameKey string) {
	nameKey = i.normalizer.CanonicalKey(name)
	brandKey := i.normalizer.BrandKey(brand)
	if brandKey != "" && strings.HasPrefix(nameKey, brandKey+" ") {
		return nameKey, strings.TrimPrefix(nameKey, brandKey+" ")
	}
	return i.normalizer.CanonicalKey(brand + " " + name), nameKey
}

// derivedVariants returns the name-only and slug forms of a record
func (i *CatalogImporter) derivedVariants(rec CatalogRecord, f domain.CanonicalFragrance) []domain.FragranceVariant {
	var out []domain.FragranceVariant
	seen := map[string]bool{f.NormalizedName: true}

	add := func(display, key string, confidence float64) {
		if key == "" || seen[key] {
			return
		}
		seen[key] = true
		out = append(out, domain.FragranceVariant{
			ID:             variantID(f.ID, key),
			CanonicalID:    f.ID,
			VariantName:    display,
			NormalizedName: key,
			Source:         domain.VariantSourceImport,
			Confidence:     confidence,
		})
	}

	nameKey := i.normalizer.CanonicalKey(rec.Name)
	add(rec.Name, nameKey, derivedNameConfidence)

	if strings.Contains(nameKey, " ") {
		add(rec.Name, strings.ReplaceAll(nameKey, " ", ""), derivedSlugConfidence)
	}

	return out
}

func (i *CatalogImporter) writeVariant(ctx context.Context, cv CatalogVariant, report *ImportReport) error {
	key := i.normalizer.CanonicalKey(cv.Name)
	if key == "" {
		report.RejectedVariants++
		i.logger.Warn().Str("canonical_id", cv.CanonicalID).Msg("skipping variant with empty name")
		return nil
	}

	confidence := manualConfidence
	if cv.Confidence != nil {
		confidence = *cv.Confidence
	}

	id := cv.ID
	if id == "" {
		id = variantID(cv.CanonicalID, key)
	}

	v := domain.FragranceVariant{
		ID:             id,
		CanonicalID:    cv.CanonicalID,
		VariantName:    cv.Name,
		NormalizedName: key,
		Source:         domain.VariantSourceManual,
		Confidence:     confidence,
		IsMalformed:    cv.Malformed,
	}

	err := i.writer.UpsertVariant(ctx, &v)
	switch {
	case err == nil:
		report.Variants++
		return nil
	case errors.Is(err, domain.ErrOrphanVariant), errors.Is(err, domain.ErrInvalidRequest):
		report.RejectedVariants++
		i.logger.Warn().Err(err).Str("variant", cv.Name).Msg("variant rejected")
		return nil
	default:
		return err
	}
}

// embedAll computes embeddings in parallel; a failed item is logged and skipped
func (i *CatalogImporter) embedAll(ctx context.Context, fragrances []domain.CanonicalFragrance, concurrency int, report *ImportReport) error {
	if concurrency <= 0 {
		concurrency = 4
	}

	var embedded, failed int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, f := range fragrances {
		g.Go(func() error {
			vector, err := i.embedder.Embed(ctx, EmbeddingText(f))
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				atomic.AddInt64(&failed, 1)
				i.logger.Warn().Err(err).Str("id", f.ID).Msg("embedding failed")
				return nil
			}
			if err := i.writer.SetEmbedding(ctx, f.ID, vector); err != nil {
				return fmt.Errorf("store embedding for %s: %w", f.ID, err)
			}
			atomic.AddInt64(&embedded, 1)
			return nil
		})
	}

	err := g.Wait()
	report.Embedded = int(embedded)
	report.EmbedFailures = int(failed)
	return err
}

// EmbeddingText is the text embedded for a catalog fragrance
func EmbeddingText(f domain.CanonicalFragrance) string {
	parts := []string{f.BrandName, f.CanonicalName}
	if f.Family != "" {
		parts = append(parts, f.Family)
	}
	if f.Gender != domain.GenderUnknown {
		parts = append(parts, string(f.Gender))
	}
	if len(f.Notes) > 0 {
		parts = append(parts, strings.Join(f.Notes, ", "))
	}
	return strings.Join(parts, " ")
}

func variantID(canonicalID, normalizedName string) string {
	return uuid.NewSHA1(variantNamespace, []byte(canonicalID+"|"+normalizedName)).String()
}

func brandsOf(records []CatalogRecord) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		if r.Brand != "" {
			out = append(out, r.Brand)
		}
	}
	return out
}
