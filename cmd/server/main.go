package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/scentmatch/backend/config"
	"github.com/scentmatch/backend/internal/bootstrap"
	httpDelivery "github.com/scentmatch/backend/internal/delivery/http"
	"github.com/scentmatch/backend/internal/domain"
	"github.com/scentmatch/backend/internal/observability"
	"github.com/scentmatch/backend/internal/usecase"
)

const version = "1.0.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "scentmatch: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: "scentmatch-backend",
	})

	logger.Info().
		Str("version", version).
		Str("environment", cfg.Server.Environment).
		Str("port", cfg.Server.Port).
		Str("database", cfg.Database.Driver).
		Str("cache", cfg.Cache.Type).
		Msg("starting ScentMatch backend")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize infrastructure dependencies
	store, err := bootstrap.OpenStore(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	resultCache, err := bootstrap.NewCache(cfg.Cache)
	if err != nil {
		return err
	}
	defer resultCache.Close()

	failover, err := bootstrap.NewEmbedder(cfg.Embedding, logger)
	if err != nil {
		return err
	}
	var embedder domain.Embedder
	var providers httpDelivery.ProviderHealthReporter
	if failover != nil {
		embedder = failover
		providers = failover
		logger.Info().Int("providers", len(cfg.Embedding.Providers)).Msg("semantic matching enabled")
	} else {
		logger.Warn().Msg("no embedding provider configured, semantic matching disabled")
	}

	// Initialize usecase layer
	normalizer := usecase.NewQueryNormalizer(usecase.NormalizerConfig{
		MaxLength:          cfg.Search.MaxQueryLength,
		EnableDebugLogging: cfg.Search.EnableDebugLogging,
	}, logger)

	brands, err := store.ListBrands(ctx)
	if err != nil {
		return fmt.Errorf("load catalog brands: %w", err)
	}
	normalizer.AddBrands(brands)
	logger.Info().Int("brands", len(brands)).Msg("catalog brands loaded")

	matcher := usecase.NewMatchingService(store, embedder, usecase.MatchConfig{
		StageTimeout:       cfg.Search.StageTimeout,
		VariantFloor:       cfg.Search.VariantFloor,
		FuzzyFloor:         cfg.Search.FuzzyFloor,
		SemanticFloor:      cfg.Search.SemanticFloor,
		SemanticTopK:       cfg.Search.SemanticTopK,
		EnableDebugLogging: cfg.Search.EnableDebugLogging,
	}, logger)

	resolver := usecase.NewAlternativeResolver(store, usecase.ResolverConfig{
		Floor:        cfg.Search.AlternativeFloor,
		DefaultLimit: cfg.Search.AlternativesLimit,
		MaxLimit:     cfg.Search.MaxAlternatives,
	}, logger)

	tracker := usecase.NewMissingProductTracker(store, usecase.TrackerConfig{
		Workers:      cfg.Tracker.Workers,
		QueueSize:    cfg.Tracker.QueueSize,
		WriteTimeout: cfg.Tracker.WriteTimeout,
		UniqueWeight: cfg.Tracker.UniqueWeight,
		BrandTiers:   cfg.Tracker.BrandTiers,
		BrandKey:     normalizer.BrandKey,
	}, logger)

	searchService := usecase.NewSearchService(normalizer, matcher, resolver, tracker, resultCache,
		usecase.SearchServiceConfig{
			CacheTTL:          cfg.Cache.TTL,
			DefaultLimit:      cfg.Search.DefaultLimit,
			MaxLimit:          cfg.Search.MaxLimit,
			AlternativesLimit: cfg.Search.AlternativesLimit,
			ResolveTimeout:    cfg.Search.ResolveTimeout,
		}, logger)

	// Create HTTP handler with dependencies
	handler := httpDelivery.NewHandler(searchService, providers, logger)
	router := httpDelivery.SetupRouter(cfg, handler, observability.NewMetrics(), logger)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		tracker.Close()
		return fmt.Errorf("failed to start server: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}

	// Drain queued missing-product events before the store closes
	tracker.Close()
	logger.Info().Msg("stopped")
	return nil
}
