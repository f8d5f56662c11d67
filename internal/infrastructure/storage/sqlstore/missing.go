package sqlstore

import (
	"context"
	"fmt"

	"github.com/scentmatch/backend/internal/domain"
)

// UpsertMissing records one observation in a single transaction: the row
// upsert takes the row lock, so concurrent observations of the same query
// serialize and none are lost.
func (s *Store) UpsertMissing(ctx context.Context, event domain.MissingProductEvent, priority domain.PriorityFunc) (*domain.MissingProductRecord, error) {
	if event.NormalizedQuery == "" {
		return nil, fmt.Errorf("%w: normalized query is required", domain.ErrInvalidRequest)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin missing upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	seen := toMillis(event.SeenAt)
	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO missing_products (normalized_query, display_query, brand_hint, request_count, status, first_seen, last_seen)
		VALUES (?, ?, ?, 1, ?, ?, ?)
		ON CONFLICT (normalized_query) DO UPDATE SET
			request_count = missing_products.request_count + 1,
			last_seen = excluded.last_seen,
			brand_hint = CASE WHEN missing_products.brand_hint = '' THEN excluded.brand_hint ELSE missing_products.brand_hint END`),
		event.NormalizedQuery, event.DisplayQuery, event.BrandHint, string(domain.MissingStatusPending), seen, seen)
	if err != nil {
		return nil, fmt.Errorf("upsert missing product: %w", err)
	}

	if event.RequesterID != "" {
		_, err = tx.ExecContext(ctx, s.rebind(`
			INSERT INTO missing_product_requesters (normalized_query, requester_id) VALUES (?, ?)
			ON CONFLICT (normalized_query, requester_id) DO NOTHING`),
			event.NormalizedQuery, event.RequesterID)
		if err != nil {
			return nil, fmt.Errorf("record requester: %w", err)
		}
	}

	var rec domain.MissingProductRecord
	var status string
	var firstSeen, lastSeen int64
	err = tx.QueryRowContext(ctx, s.rebind(`
		SELECT m.normalized_query, m.display_query, m.brand_hint, m.request_count, m.status, m.first_seen, m.last_seen,
			(SELECT COUNT(*) FROM missing_product_requesters r WHERE r.normalized_query = m.normalized_query)
		FROM missing_products m WHERE m.normalized_query = ?`), event.NormalizedQuery).
		Scan(&rec.NormalizedQuery, &rec.DisplayQuery, &rec.BrandHint, &rec.RequestCount, &status,
			&firstSeen, &lastSeen, &rec.UniqueRequesterCount)
	if err != nil {
		return nil, fmt.Errorf("read missing product: %w", err)
	}

	rec.Status = domain.MissingProductStatus(status)
	rec.FirstSeen = fromMillis(firstSeen)
	rec.LastSeen = fromMillis(lastSeen)
	if priority != nil {
		rec.PriorityScore = priority(rec.RequestCount, rec.UniqueRequesterCount, rec.BrandHint)
	}

	_, err = tx.ExecContext(ctx, s.rebind(`
		UPDATE missing_products SET unique_requester_count = ?, priority_score = ? WHERE normalized_query = ?`),
		rec.UniqueRequesterCount, rec.PriorityScore, rec.NormalizedQuery)
	if err != nil {
		return nil, fmt.Errorf("update missing priority: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit missing upsert: %w", err)
	}
	return &rec, nil
}

// TopMissing lists records by priority, highest first. An empty status lists all.
func (s *Store) TopMissing(ctx context.Context, limit int, status domain.MissingProductStatus) ([]domain.MissingProductRecord, error) {
	query := `SELECT normalized_query, display_query, brand_hint, request_count, unique_requester_count,
		priority_score, status, first_seen, last_seen FROM missing_products`
	var args []interface{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY priority_score DESC, normalized_query ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("top missing: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.MissingProductRecord
	for rows.Next() {
		var rec domain.MissingProductRecord
		var st string
		var firstSeen, lastSeen int64
		if err := rows.Scan(&rec.NormalizedQuery, &rec.DisplayQuery, &rec.BrandHint, &rec.RequestCount,
			&rec.UniqueRequesterCount, &rec.PriorityScore, &st, &firstSeen, &lastSeen); err != nil {
			return nil, fmt.Errorf("scan missing product: %w", err)
		}
		rec.Status = domain.MissingProductStatus(st)
		rec.FirstSeen = fromMillis(firstSeen)
		rec.LastSeen = fromMillis(lastSeen)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SetMissingStatus updates the status of a missing product
func (s *Store) SetMissingStatus(ctx context.Context, normalizedQuery string, status domain.MissingProductStatus) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE missing_products SET status = ? WHERE normalized_query = ?`),
		string(status), normalizedQuery)
	if err != nil {
		return fmt.Errorf("set missing status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: missing product %q", domain.ErrNotFound, normalizedQuery)
	}
	return nil
}

// SaveNotification stores a notification request; repeats are ignored
func (s *Store) SaveNotification(ctx context.Context, req domain.NotificationRequest) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO missing_product_notifications (normalized_query, email, created_at) VALUES (?, ?, ?)
		ON CONFLICT (normalized_query, email) DO NOTHING`),
		req.NormalizedQuery, req.Email, toMillis(req.CreatedAt))
	if err != nil {
		return fmt.Errorf("save notification: %w", err)
	}
	return nil
}
