package embedding

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/scentmatch/backend/internal/domain"
)

// Handle is a provider with its breaker state
type Handle struct {
	Provider            Provider
	ConsecutiveFailures int
	CooldownUntil       time.Time
}

// ProviderHealth is a point-in-time view of one handle
type ProviderHealth struct {
	Name                string    `json:"name"`
	Available           bool      `json:"available"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	CooldownUntil       time.Time `json:"cooldown_until,omitempty"`
}

// SelectHandle returns the first handle not cooling down at now, or nil
func SelectHandle(handles []*Handle, now time.Time) *Handle {
	for _, h := range handles {
		if !now.Before(h.CooldownUntil) {
			return h
		}
	}
	return nil
}

// FailoverConfig holds breaker settings
type FailoverConfig struct {
	FailureThreshold int
	Cooldown         time.Duration
	// Timeout bounds each provider call
	Timeout time.Duration
}

// Failover tries providers in order, skipping any whose breaker is open.
// It implements domain.Embedder.
type Failover struct {
	mu        sync.Mutex
	handles   []*Handle
	threshold int
	cooldown  time.Duration
	timeout   time.Duration
	now       func() time.Time
	logger    zerolog.Logger
}

var _ domain.Embedder = (*Failover)(nil)

// NewFailover creates a failover embedder over providers, highest priority first
func NewFailover(providers []Provider, config FailoverConfig, logger zerolog.Logger) *Failover {
	threshold := config.FailureThreshold
	if threshold <= 0 {
		threshold = 3
	}
	cooldown := config.Cooldown
	if cooldown <= 0 {
		cooldown = time.Minute
	}

	handles := make([]*Handle, len(providers))
	for i, p := range providers {
		handles[i] = &Handle{Provider: p}
	}

	return &Failover{
		handles:   handles,
		threshold: threshold,
		cooldown:  cooldown,
		timeout:   config.Timeout,
		now:       time.Now,
		logger:    logger.With().Str("component", "embedding").Logger(),
	}
}

// Embed asks each eligible provider in turn until one answers
func (f *Failover) Embed(ctx context.Context, text string) ([]float32, error) {
	tried := make(map[*Handle]bool)
	var lastErr error

	for {
		h := f.next(tried)
		if h == nil {
			break
		}
		tried[h] = true

		vector, err := f.call(ctx, h, text)
		if err == nil {
			f.recordSuccess(h)
			return vector, nil
		}
		lastErr = err

		// The caller gave up; the provider is not to blame
		if ctx.Err() != nil {
			break
		}
		f.recordFailure(h, err)
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, lastErr)
	}
	return nil, domain.ErrProviderUnavailable
}

// Health returns a snapshot of every handle
func (f *Failover) Health() []ProviderHealth {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	out := make([]ProviderHealth, len(f.handles))
	for i, h := range f.handles {
		out[i] = ProviderHealth{
			Name:                h.Provider.Name(),
			Available:           !now.Before(h.CooldownUntil),
			ConsecutiveFailures: h.ConsecutiveFailures,
			CooldownUntil:       h.CooldownUntil,
		}
	}
	return out
}

func (f *Failover) next(tried map[*Handle]bool) *Handle {
	f.mu.Lock()
	defer f.mu.Unlock()

	remaining := make([]*Handle, 0, len(f.handles))
	for _, h := range f.handles {
		if !tried[h] {
			remaining = append(remaining, h)
		}
	}
	return SelectHandle(remaining, f.now())
}

func (f *Failover) call(ctx context.Context, h *Handle, text string) ([]float32, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}
	return h.Provider.Embed(ctx, text)
}

func (f *Failover) recordSuccess(h *Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h.ConsecutiveFailures = 0
	h.CooldownUntil = time.Time{}
}

func (f *Failover) recordFailure(h *Handle, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	h.ConsecutiveFailures++
	event := f.logger.Warn().Err(err).Str("provider", h.Provider.Name()).Int("failures", h.ConsecutiveFailures)
	if h.ConsecutiveFailures >= f.threshold {
		h.CooldownUntil = f.now().Add(f.cooldown)
		event.Time("cooldown_until", h.CooldownUntil).Msg("embedding provider tripped")
		return
	}
	event.Msg("embedding provider failed")
}
