package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/scentmatch/backend/internal/domain"
)

const fragranceColumns = `f.id, f.canonical_name, f.normalized_name, f.name_key, f.brand_id, f.brand_name,
	f.fragrance_line, f.notes, f.family, f.concentration, f.gender`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanFragrance reads fragranceColumns, followed by any extra destinations
func scanFragrance(row rowScanner, extra ...interface{}) (domain.CanonicalFragrance, error) {
	var f domain.CanonicalFragrance
	var notes, gender string

	dest := []interface{}{
		&f.ID, &f.CanonicalName, &f.NormalizedName, &f.NameKey, &f.BrandID, &f.BrandName,
		&f.FragranceLine, &notes, &f.Family, &f.Concentration, &gender,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return f, err
	}

	f.Gender = domain.Gender(gender)
	if notes != "" {
		if err := json.Unmarshal([]byte(notes), &f.Notes); err != nil {
			return f, fmt.Errorf("decode notes for %s: %w", f.ID, err)
		}
	}
	return f, nil
}

func (s *Store) queryFragrances(ctx context.Context, query string, args ...interface{}) ([]domain.CanonicalFragrance, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []domain.CanonicalFragrance
	for rows.Next() {
		f, err := scanFragrance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// FindByNormalizedName returns canonical fragrances whose normalized name or
// brand-less name key equals name
func (s *Store) FindByNormalizedName(ctx context.Context, name string) ([]domain.CanonicalFragrance, error) {
	if name == "" {
		return nil, nil
	}
	out, err := s.queryFragrances(ctx,
		`SELECT `+fragranceColumns+` FROM fragrances f
		WHERE f.normalized_name = ? OR f.name_key = ? ORDER BY f.id`, name, name)
	if err != nil {
		return nil, fmt.Errorf("find by normalized name: %w", err)
	}
	return out, nil
}

// FindByVariantName returns well-formed variants with their owners
func (s *Store) FindByVariantName(ctx context.Context, name string) ([]domain.VariantMatch, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT `+fragranceColumns+`,
			v.id, v.variant_name, v.normalized_name, v.source, v.confidence, v.is_malformed
		FROM fragrance_variants v
		JOIN fragrances f ON f.id = v.canonical_id
		WHERE v.normalized_name = ? AND NOT v.is_malformed
		ORDER BY v.confidence DESC, v.id`), name)
	if err != nil {
		return nil, fmt.Errorf("find by variant name: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.VariantMatch
	for rows.Next() {
		var v domain.FragranceVariant
		var source string
		f, err := scanFragrance(rows, &v.ID, &v.VariantName, &v.NormalizedName, &source, &v.Confidence, &v.IsMalformed)
		if err != nil {
			return nil, fmt.Errorf("scan variant: %w", err)
		}
		v.CanonicalID = f.ID
		v.Source = domain.VariantSource(source)
		out = append(out, domain.VariantMatch{Variant: v, Canonical: f})
	}
	return out, rows.Err()
}

// ListNames returns every canonical name and every well-formed variant name
func (s *Store) ListNames(ctx context.Context) ([]domain.NameEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, normalized_name, 1.0, 0 FROM fragrances
		UNION ALL
		SELECT canonical_id, normalized_name, confidence, 1 FROM fragrance_variants WHERE NOT is_malformed`)
	if err != nil {
		return nil, fmt.Errorf("list names: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.NameEntry
	for rows.Next() {
		var e domain.NameEntry
		var isVariant int
		if err := rows.Scan(&e.CanonicalID, &e.NormalizedName, &e.Confidence, &isVariant); err != nil {
			return nil, fmt.Errorf("scan name: %w", err)
		}
		e.IsVariant = isVariant == 1
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetByIDs returns the canonical fragrances with the given IDs, in ID order
func (s *Store) GetByIDs(ctx context.Context, ids []string) ([]domain.CanonicalFragrance, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	out, err := s.queryFragrances(ctx,
		`SELECT `+fragranceColumns+` FROM fragrances f WHERE f.id IN (`+placeholders(len(ids))+`) ORDER BY f.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("get by ids: %w", err)
	}
	return out, nil
}

// NearestByEmbedding ranks stored embeddings by cosine similarity in Go.
// Embeddings of a different dimension are skipped.
func (s *Store) NearestByEmbedding(ctx context.Context, vector []float32, k int) ([]domain.ScoredFragrance, error) {
	if len(vector) == 0 || k <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, embedding FROM fragrances WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("load embeddings: %w", err)
	}

	var candidates []scoredID
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		stored := decodeVector(blob)
		if len(stored) != len(vector) {
			continue
		}
		candidates = append(candidates, scoredID{id: id, score: cosineSimilarity(vector, stored)})
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	best := topK(candidates, k)
	ids := make([]string, len(best))
	for i, c := range best {
		ids[i] = c.id
	}

	fragrances, err := s.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.CanonicalFragrance, len(fragrances))
	for _, f := range fragrances {
		byID[f.ID] = f
	}

	out := make([]domain.ScoredFragrance, 0, len(best))
	for _, c := range best {
		if f, ok := byID[c.id]; ok {
			out = append(out, domain.ScoredFragrance{Fragrance: f, Similarity: c.score})
		}
	}
	return out, nil
}

// ListCandidates returns up to limit fragrances, restricted to a brand prefix when brandKey is set
func (s *Store) ListCandidates(ctx context.Context, brandKey string, limit int) ([]domain.CanonicalFragrance, error) {
	if limit <= 0 {
		limit = 200
	}

	var out []domain.CanonicalFragrance
	var err error
	if brandKey != "" {
		out, err = s.queryFragrances(ctx,
			`SELECT `+fragranceColumns+` FROM fragrances f WHERE f.normalized_name LIKE ? ORDER BY f.id LIMIT ?`,
			brandKey+" %", limit)
	} else {
		out, err = s.queryFragrances(ctx,
			`SELECT `+fragranceColumns+` FROM fragrances f ORDER BY f.id LIMIT ?`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	return out, nil
}

// ListBrands returns every distinct brand name
func (s *Store) ListBrands(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT brand_name FROM fragrances WHERE brand_name <> '' ORDER BY brand_name`)
	if err != nil {
		return nil, fmt.Errorf("list brands: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var brand string
		if err := rows.Scan(&brand); err != nil {
			return nil, err
		}
		out = append(out, brand)
	}
	return out, rows.Err()
}

// UpsertFragrance inserts or updates a canonical fragrance, keeping any stored embedding
func (s *Store) UpsertFragrance(ctx context.Context, f *domain.CanonicalFragrance) error {
	if f.ID == "" || f.CanonicalName == "" || f.NormalizedName == "" {
		return fmt.Errorf("%w: fragrance id, name and normalized name are required", domain.ErrInvalidRequest)
	}

	notes := f.Notes
	if notes == nil {
		notes = []string{}
	}
	encodedNotes, err := json.Marshal(notes)
	if err != nil {
		return fmt.Errorf("encode notes: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO fragrances (id, canonical_name, normalized_name, name_key, brand_id, brand_name,
			fragrance_line, notes, family, concentration, gender, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			canonical_name = excluded.canonical_name,
			normalized_name = excluded.normalized_name,
			name_key = excluded.name_key,
			brand_id = excluded.brand_id,
			brand_name = excluded.brand_name,
			fragrance_line = excluded.fragrance_line,
			notes = excluded.notes,
			family = excluded.family,
			concentration = excluded.concentration,
			gender = excluded.gender,
			updated_at = excluded.updated_at`),
		f.ID, f.CanonicalName, f.NormalizedName, f.NameKey, f.BrandID, f.BrandName,
		f.FragranceLine, string(encodedNotes), f.Family, f.Concentration, string(f.Gender),
		toMillis(time.Now()))
	if err != nil {
		return fmt.Errorf("upsert fragrance %s: %w", f.ID, err)
	}

	if len(f.Embedding) > 0 {
		return s.SetEmbedding(ctx, f.ID, f.Embedding)
	}
	return nil
}

// UpsertVariant inserts or updates a variant. Variants must reference an existing fragrance.
func (s *Store) UpsertVariant(ctx context.Context, v *domain.FragranceVariant) error {
	if v.ID == "" || v.NormalizedName == "" {
		return fmt.Errorf("%w: variant id and normalized name are required", domain.ErrInvalidRequest)
	}
	if v.Confidence < 0 || v.Confidence > 1 {
		return fmt.Errorf("%w: variant confidence must be within [0,1]", domain.ErrInvalidRequest)
	}

	var exists int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM fragrances WHERE id = ?`), v.CanonicalID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrOrphanVariant, v.ID, v.CanonicalID)
	}
	if err != nil {
		return fmt.Errorf("check variant owner: %w", err)
	}

	source := v.Source
	if source == "" {
		source = domain.VariantSourceManual
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO fragrance_variants (id, canonical_id, variant_name, normalized_name, source, confidence, is_malformed)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			canonical_id = excluded.canonical_id,
			variant_name = excluded.variant_name,
			normalized_name = excluded.normalized_name,
			source = excluded.source,
			confidence = excluded.confidence,
			is_malformed = excluded.is_malformed`),
		v.ID, v.CanonicalID, v.VariantName, v.NormalizedName, string(source), v.Confidence, v.IsMalformed)
	if err != nil {
		return fmt.Errorf("upsert variant %s: %w", v.ID, err)
	}
	return nil
}

// SetEmbedding stores the embedding vector of a fragrance
func (s *Store) SetEmbedding(ctx context.Context, id string, vector []float32) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE fragrances SET embedding = ?, updated_at = ? WHERE id = ?`),
		encodeVector(vector), toMillis(time.Now()), id)
	if err != nil {
		return fmt.Errorf("set embedding %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: fragrance %s", domain.ErrNotFound, id)
	}
	return nil
}
