package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/scentmatch/backend/internal/domain"
)

// Brand tier boosts applied to missing-product priority
const (
	tierLuxury    = 1.20
	tierNiche     = 1.18
	tierPremium   = 1.15
	tierDesigner  = 1.10 // any named brand not listed
	tierCelebrity = 0.95
	tierNoBrand   = 1.0
)

// DefaultBrandTiers maps normalized brand keys to a priority boost
var DefaultBrandTiers = map[string]float64{
	"creed":               tierLuxury,
	"tom ford":            tierLuxury,
	"amouage":             tierLuxury,
	"clive christian":     tierLuxury,
	"roja dove":           tierLuxury,
	"le labo":             tierNiche,
	"diptyque":            tierNiche,
	"maison margiela":     tierNiche,
	"escentric molecules": tierNiche,
	"kilian":              tierNiche,
	"dior":                tierPremium,
	"chanel":              tierPremium,
	"guerlain":            tierPremium,
	"hermes":              tierPremium,
	"yves saint laurent":  tierPremium,
	"ariana grande":       tierCelebrity,
	"britney spears":      tierCelebrity,
	"jennifer lopez":      tierCelebrity,
}

// TrackerConfig holds configuration for the missing-product tracker
type TrackerConfig struct {
	Workers      int
	QueueSize    int
	WriteTimeout time.Duration
	UniqueWeight float64
	// BrandTiers overrides entries of DefaultBrandTiers
	BrandTiers map[string]float64
	// BrandKey normalizes brand hints before tier lookup
	BrandKey func(string) string
}

// MissingProductTracker records demand for queries the catalog cannot satisfy.
// Track is fire-and-forget and never blocks or fails the search path.
type MissingProductTracker struct {
	store        domain.MissingProductStore
	writeTimeout time.Duration
	uniqueWeight float64
	brandTiers   map[string]float64
	brandKey     func(string) string
	logger       zerolog.Logger
	now          func() time.Time

	events chan domain.MissingProductEvent
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewMissingProductTracker creates a tracker and starts its workers
func NewMissingProductTracker(store domain.MissingProductStore, config TrackerConfig, logger zerolog.Logger) *MissingProductTracker {
	workers := config.Workers
	if workers <= 0 {
		workers = 2
	}

	queueSize := config.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}

	writeTimeout := config.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}

	uniqueWeight := config.UniqueWeight
	if uniqueWeight < 0 {
		uniqueWeight = 0
	}

	brandKey := config.BrandKey
	if brandKey == nil {
		brandKey = func(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
	}

	tiers := make(map[string]float64, len(DefaultBrandTiers)+len(config.BrandTiers))
	for k, v := range DefaultBrandTiers {
		tiers[k] = v
	}
	for k, v := range config.BrandTiers {
		tiers[brandKey(k)] = v
	}

	t := &MissingProductTracker{
		store:        store,
		writeTimeout: writeTimeout,
		uniqueWeight: uniqueWeight,
		brandTiers:   tiers,
		brandKey:     brandKey,
		logger:       logger.With().Str("component", "missing_tracker").Logger(),
		now:          time.Now,
		events:       make(chan domain.MissingProductEvent, queueSize),
	}

	for i := 0; i < workers; i++ {
		t.wg.Add(1)
		go t.worker()
	}

	return t
}

// Track queues an observation. It returns immediately; a full queue or a
// closed tracker drops the event with a warning.
func (t *MissingProductTracker) Track(ctx context.Context, event domain.MissingProductEvent) {
	if event.NormalizedQuery == "" {
		return
	}
	if event.SeenAt.IsZero() {
		event.SeenAt = t.now().UTC()
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		t.logger.Warn().Str("query", event.NormalizedQuery).Msg("tracker closed, dropping missing product event")
		return
	}

	select {
	case t.events <- event:
	default:
		t.logger.Warn().Str("query", event.NormalizedQuery).Msg("tracker queue full, dropping missing product event")
	}
}

// TrackSync records an observation and returns the updated record
func (t *MissingProductTracker) TrackSync(ctx context.Context, event domain.MissingProductEvent) (*domain.MissingProductRecord, error) {
	if event.NormalizedQuery == "" {
		return nil, fmt.Errorf("%w: query is required", domain.ErrInvalidRequest)
	}
	if event.SeenAt.IsZero() {
		event.SeenAt = t.now().UTC()
	}

	record, err := t.store.UpsertMissing(ctx, event, t.Priority)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	return record, nil
}

// Priority scores demand: request volume plus weighted distinct requesters,
// scaled by the brand tier of the hint.
func (t *MissingProductTracker) Priority(requestCount, uniqueRequesters int64, brandHint string) float64 {
	base := float64(requestCount) + t.uniqueWeight*float64(uniqueRequesters)
	return base * t.tierBoost(brandHint)
}

func (t *MissingProductTracker) tierBoost(brandHint string) float64 {
	key := t.brandKey(brandHint)
	if key == "" {
		return tierNoBrand
	}
	if boost, ok := t.brandTiers[key]; ok {
		return boost
	}
	return tierDesigner
}

// TopMissing lists the highest-priority missing products, optionally filtered by status
func (t *MissingProductTracker) TopMissing(ctx context.Context, limit int, status domain.MissingProductStatus) ([]domain.MissingProductRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidRequest, status)
	}

	records, err := t.store.TopMissing(ctx, limit, status)
	if err != nil {
		return nil, fmt.Errorf("load top missing products: %w", err)
	}
	return records, nil
}

// SetStatus marks a missing product as sourced, rejected or pending again
func (t *MissingProductTracker) SetStatus(ctx context.Context, normalizedQuery string, status domain.MissingProductStatus) error {
	if normalizedQuery == "" || !status.Valid() {
		return fmt.Errorf("%w: query and a valid status are required", domain.ErrInvalidRequest)
	}
	return t.store.SetMissingStatus(ctx, normalizedQuery, status)
}

// Notify records a request to be told when a missing product is sourced
func (t *MissingProductTracker) Notify(ctx context.Context, normalizedQuery, email string) error {
	email = strings.TrimSpace(email)
	if normalizedQuery == "" || email == "" {
		return fmt.Errorf("%w: query and email are required", domain.ErrInvalidRequest)
	}

	err := t.store.SaveNotification(ctx, domain.NotificationRequest{
		NormalizedQuery: normalizedQuery,
		Email:           email,
		CreatedAt:       t.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	return nil
}

// Close stops accepting events and waits for queued ones to be written
func (t *MissingProductTracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	close(t.events)
	t.mu.Unlock()

	t.wg.Wait()
}

func (t *MissingProductTracker) worker() {
	defer t.wg.Done()

	for event := range t.events {
		ctx, cancel := context.WithTimeout(context.Background(), t.writeTimeout)
		record, err := t.store.UpsertMissing(ctx, event, t.Priority)
		cancel()

		if err != nil {
			t.logger.Warn().
				Err(err).
				Str("query", event.NormalizedQuery).
				Msg("failed to record missing product")
			continue
		}

		t.logger.Debug().
			Str("query", record.NormalizedQuery).
			Int64("request_count", record.RequestCount).
			Float64("priority", record.PriorityScore).
			Msg("missing product recorded")
	}
}
