package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/scentmatch/backend/config"
	"github.com/scentmatch/backend/internal/domain"
	"github.com/scentmatch/backend/internal/infrastructure/cache"
	"github.com/scentmatch/backend/internal/infrastructure/embedding"
	"github.com/scentmatch/backend/internal/infrastructure/storage/sqlstore"
	"github.com/scentmatch/backend/internal/observability"
	"github.com/scentmatch/backend/internal/usecase"
)

// TestMain sets up test environment before running tests
func TestMain(m *testing.M) {
	// Set Gin to test mode once for all tests
	gin.SetMode(gin.TestMode)

	os.Exit(m.Run())
}

type testServer struct {
	router  *gin.Engine
	store   *sqlstore.Store
	tracker *usecase.MissingProductTracker
}

type staticHealth []embedding.ProviderHealth

func (s staticHealth) Health() []embedding.ProviderHealth { return s }

// setupTestServer wires the real engine over an in-memory SQLite catalog
func setupTestServer(t *testing.T, rateLimit int) *testServer {
	t.Helper()
	ctx := context.Background()
	logger := zerolog.Nop()

	store, err := sqlstore.Open(ctx, sqlstore.Config{Driver: sqlstore.DriverSQLite, DSN: ":memory:"}, logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	normalizer := usecase.NewQueryNormalizer(usecase.NormalizerConfig{MaxLength: 200}, logger)
	seedStore(t, store, normalizer)

	brands, err := store.ListBrands(ctx)
	if err != nil {
		t.Fatalf("list brands: %v", err)
	}
	normalizer.AddBrands(brands)

	memCache := cache.NewMemoryCache(cache.MemoryConfig{})
	t.Cleanup(func() { _ = memCache.Close() })

	matcher := usecase.NewMatchingService(store, nil, usecase.MatchConfig{StageTimeout: time.Second}, logger)
	resolver := usecase.NewAlternativeResolver(store, usecase.ResolverConfig{}, logger)
	tracker := usecase.NewMissingProductTracker(store, usecase.TrackerConfig{UniqueWeight: 2, BrandKey: normalizer.BrandKey}, logger)
	t.Cleanup(tracker.Close)

	search := usecase.NewSearchService(normalizer, matcher, resolver, tracker, memCache, usecase.SearchServiceConfig{AlternativesLimit: 5}, logger)

	cfg := &config.Config{
		Server: config.ServerConfig{
			Environment:    "test",
			AllowedOrigins: []string{"https://*.scentmatch.com", "http://localhost:3000"},
		},
		RateLimit: config.RateLimitConfig{PerIP: rateLimit, Burst: 2},
	}

	health := staticHealth{{Name: "primary", Available: true}}
	handler := NewHandler(search, health, logger)

	return &testServer{router: SetupRouter(cfg, handler, observability.NewMetrics(), logger), store: store, tracker: tracker}
}

func seedStore(t *testing.T, store *sqlstore.Store, normalizer *usecase.QueryNormalizer) {
	t.Helper()
	ctx := context.Background()

	fragrances := []domain.CanonicalFragrance{
		{ID: "frag-chanel-no5", CanonicalName: "No 5", BrandName: "Chanel", Family: "floral", Gender: domain.GenderFeminine},
		{ID: "frag-coach-dreams", CanonicalName: "Dreams", BrandName: "Coach", Family: "floral", Gender: domain.GenderFeminine},
		{ID: "frag-coach-platinum", CanonicalName: "Platinum", BrandName: "Coach", Family: "woody", Gender: domain.GenderMasculine},
		{ID: "frag-dior-sauvage", CanonicalName: "Sauvage", BrandName: "Dior", Family: "aromatic", Gender: domain.GenderMasculine},
	}
	for i := range fragrances {
		f := &fragrances[i]
		f.NormalizedName = normalizer.CanonicalKey(f.BrandName + " " + f.CanonicalName)
		f.NameKey = normalizer.CanonicalKey(f.CanonicalName)
		if err := store.UpsertFragrance(ctx, f); err != nil {
			t.Fatalf("seed fragrance %s: %v", f.ID, err)
		}
	}

	variant := &domain.FragranceVariant{ID: "var-sauvage", CanonicalID: "frag-dior-sauvage", VariantName: "Sauvage", NormalizedName: "sauvage", Confidence: 0.95}
	if err := store.UpsertVariant(ctx, variant); err != nil {
		t.Fatalf("seed variant: %v", err)
	}
}

func doRequest(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to unmarshal response: %v (%s)", err, w.Body.String())
	}
	return body
}

// TestHealthCheckEndpoint tests the health check endpoint
func TestHealthCheckEndpoint(t *testing.T) {
	t.Run("returns healthy status", func(t *testing.T) {
		srv := setupTestServer(t, 0)

		w := doRequest(srv.router, "GET", "/health", "")
		if w.Code != http.StatusOK {
			t.Errorf("Status = %d, want %d", w.Code, http.StatusOK)
		}

		response := decodeBody(t, w)
		if response["status"] != "healthy" {
			t.Errorf("status = %v, want healthy", response["status"])
		}
		if response["service"] != "scentmatch-backend" {
			t.Errorf("service = %v, want scentmatch-backend", response["service"])
		}
		providers, ok := response["embedding_providers"].([]interface{})
		if !ok || len(providers) != 1 {
			t.Errorf("embedding_providers = %v, want one provider", response["embedding_providers"])
		}
	})

	t.Run("accepts GET requests only", func(t *testing.T) {
		srv := setupTestServer(t, 0)

		for _, method := range []string{"POST", "PUT", "DELETE", "PATCH"} {
			w := doRequest(srv.router, method, "/health", "")
			if w.Code != http.StatusNotFound {
				t.Errorf("Method %s: Status = %d, want %d", method, w.Code, http.StatusNotFound)
			}
		}
	})
}

// TestSearchEndpoint tests GET /api/v1/search
func TestSearchEndpoint(t *testing.T) {
	srv := setupTestServer(t, 0)

	tests := []struct {
		name      string
		query     string
		wantID    string
		wantMatch string
	}{
		{"exact brand and name", "Dior Sauvage", "frag-dior-sauvage", "exact"},
		{"canonical name without brand", "SAUVAGE EDT", "frag-dior-sauvage", "exact"},
		{"numbered edition without brand", "N05", "frag-chanel-no5", "exact"},
		{"numbered edition", "Chanel N°5 100ml", "frag-chanel-no5", "exact"},
		{"misspelling", "Dior Savage", "frag-dior-sauvage", "fuzzy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(srv.router, "GET", "/api/v1/search?q="+url.QueryEscape(tt.query), "")
			if w.Code != http.StatusOK {
				t.Fatalf("Status = %d, want %d (%s)", w.Code, http.StatusOK, w.Body.String())
			}

			var resp domain.SearchResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(resp.Fragrances) == 0 {
				t.Fatalf("no results for %q", tt.query)
			}
			if resp.Fragrances[0].CanonicalID != tt.wantID {
				t.Errorf("top result = %s, want %s", resp.Fragrances[0].CanonicalID, tt.wantID)
			}
			if string(resp.Fragrances[0].MatchType) != tt.wantMatch {
				t.Errorf("match type = %s, want %s", resp.Fragrances[0].MatchType, tt.wantMatch)
			}
			if resp.Metadata.TotalFound != len(resp.Fragrances) {
				t.Errorf("total_found = %d, want %d", resp.Metadata.TotalFound, len(resp.Fragrances))
			}
		})
	}

	t.Run("second identical search is cached", func(t *testing.T) {
		doRequest(srv.router, "GET", "/api/v1/search?q=dior+sauvage&limit=5", "")
		w := doRequest(srv.router, "GET", "/api/v1/search?q=DIOR%20SAUVAGE&limit=5", "")

		var resp domain.SearchResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !resp.Metadata.Cached {
			t.Errorf("metadata.cached = false, want true")
		}
	})

	t.Run("empty query is rejected", func(t *testing.T) {
		for _, path := range []string{"/api/v1/search", "/api/v1/search?q=%20%20"} {
			w := doRequest(srv.router, "GET", path, "")
			if w.Code != http.StatusBadRequest {
				t.Errorf("%s: Status = %d, want %d", path, w.Code, http.StatusBadRequest)
			}
		}
	})

	t.Run("unknown product returns empty list", func(t *testing.T) {
		w := doRequest(srv.router, "GET", "/api/v1/search?q=Xerjoff+Naxos", "")
		if w.Code != http.StatusOK {
			t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
		}
		body := decodeBody(t, w)
		fragrances, ok := body["fragrances"].([]interface{})
		if !ok || len(fragrances) != 0 {
			t.Errorf("fragrances = %v, want empty array", body["fragrances"])
		}
	})
}

// TestSmartSearchEndpoint tests GET /api/v1/search/smart
func TestSmartSearchEndpoint(t *testing.T) {
	t.Run("miss returns alternatives and records demand", func(t *testing.T) {
		srv := setupTestServer(t, 0)

		var resp domain.SmartSearchResponse
		for i := 0; i < 5; i++ {
			w := doRequest(srv.router, "GET", "/api/v1/search/smart?q=Coach+For+Men", "")
			if w.Code != http.StatusOK {
				t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
			}
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
		}

		if !resp.Success {
			t.Errorf("success = false, want true")
		}
		if len(resp.Data.Results) != 0 {
			t.Errorf("results = %v, want none", resp.Data.Results)
		}
		if len(resp.Data.Alternatives) == 0 {
			t.Fatalf("no alternatives returned")
		}
		if resp.Data.Alternatives[0].FragranceID != "frag-coach-platinum" {
			t.Errorf("top alternative = %s, want frag-coach-platinum", resp.Data.Alternatives[0].FragranceID)
		}
		if resp.Message == "" {
			t.Errorf("message is empty")
		}

		srv.tracker.Close()
		top, err := srv.store.TopMissing(context.Background(), 10, "")
		if err != nil {
			t.Fatalf("top missing: %v", err)
		}
		if len(top) != 1 || top[0].RequestCount != 5 {
			t.Fatalf("top missing = %+v, want one record with count 5", top)
		}
		if top[0].BrandHint != "Coach" {
			t.Errorf("brand hint = %q, want Coach", top[0].BrandHint)
		}
	})

	t.Run("hit has no alternatives", func(t *testing.T) {
		srv := setupTestServer(t, 0)

		w := doRequest(srv.router, "GET", "/api/v1/search/smart?q=Coach+Platinum", "")
		body := decodeBody(t, w)
		data := body["data"].(map[string]interface{})
		if _, ok := data["alternatives"]; ok {
			t.Errorf("alternatives present on a hit: %v", data["alternatives"])
		}
		analysis := data["query_analysis"].(map[string]interface{})
		if analysis["extracted_brand"] != "Coach" {
			t.Errorf("extracted_brand = %v, want Coach", analysis["extracted_brand"])
		}
	})
}

// TestMissingProductsEndpoint tests POST and GET /api/v1/missing-products
func TestMissingProductsEndpoint(t *testing.T) {
	srv := setupTestServer(t, 0)

	t.Run("log returns the updated record", func(t *testing.T) {
		body := `{"action":"log","query":"Xerjoff Naxos","brand":"Xerjoff","context":"wishlist"}`
		w := doRequest(srv.router, "POST", "/api/v1/missing-products", body)
		if w.Code != http.StatusOK {
			t.Fatalf("Status = %d, want %d (%s)", w.Code, http.StatusOK, w.Body.String())
		}
		data := decodeBody(t, w)["data"].(map[string]interface{})
		if data["normalizedQuery"] != "xerjoff naxos" {
			t.Errorf("normalizedQuery = %v, want xerjoff naxos", data["normalizedQuery"])
		}
		if data["requestCount"] != float64(1) {
			t.Errorf("requestCount = %v, want 1", data["requestCount"])
		}
	})

	t.Run("notify", func(t *testing.T) {
		body := `{"action":"notify","query":"Xerjoff Naxos","email":"fan@example.com"}`
		w := doRequest(srv.router, "POST", "/api/v1/missing-products", body)
		if w.Code != http.StatusOK {
			t.Errorf("Status = %d, want %d (%s)", w.Code, http.StatusOK, w.Body.String())
		}
	})

	t.Run("invalid bodies", func(t *testing.T) {
		bodies := []string{
			`{"query":"x"}`,
			`{"action":"delete","query":"x"}`,
			`{"action":"log"}`,
			`{"action":"notify","query":"x"}`,
			`{"action":"notify","query":"x","email":"not-an-email"}`,
			`not json`,
		}
		for _, body := range bodies {
			w := doRequest(srv.router, "POST", "/api/v1/missing-products", body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("%s: Status = %d, want %d", body, w.Code, http.StatusBadRequest)
			}
		}
	})

	t.Run("alternatives", func(t *testing.T) {
		w := doRequest(srv.router, "GET", "/api/v1/missing-products?action=alternatives&query=Coach+For+Men", "")
		if w.Code != http.StatusOK {
			t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
		}
		data := decodeBody(t, w)["data"].(map[string]interface{})
		alternatives := data["alternatives"].([]interface{})
		if len(alternatives) == 0 {
			t.Fatalf("no alternatives")
		}
		first := alternatives[0].(map[string]interface{})
		if !strings.Contains(first["match_reason"].(string), "same brand") {
			t.Errorf("match_reason = %v, want same brand", first["match_reason"])
		}
	})

	t.Run("top", func(t *testing.T) {
		w := doRequest(srv.router, "GET", "/api/v1/missing-products?action=top&limit=5&status=pending", "")
		if w.Code != http.StatusOK {
			t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
		}
		data := decodeBody(t, w)["data"].([]interface{})
		if len(data) == 0 {
			t.Errorf("top missing is empty")
		}

		w = doRequest(srv.router, "GET", "/api/v1/missing-products?action=top&status=lost", "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("bad status: Status = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})

	t.Run("unknown action", func(t *testing.T) {
		w := doRequest(srv.router, "GET", "/api/v1/missing-products?action=export", "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("Status = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})
}

// TestCORSIntegration tests CORS headers work end-to-end with full router
func TestMetricsEndpoint(t *testing.T) {
	srv := setupTestServer(t, 0)

	doRequest(srv.router, "GET", "/api/v1/search?q=dior+sauvage", "")
	doRequest(srv.router, "GET", "/api/v1/search/smart?q=coach+for+men", "")

	w := doRequest(srv.router, "GET", "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	body := w.Body.String()
	for _, want := range []string{
		`scentmatch_search_outcomes_total{endpoint="search",match_type="exact"} 1`,
		`scentmatch_search_outcomes_total{endpoint="smart",match_type="miss"} 1`,
		`scentmatch_http_requests_total{code="200",method="GET",route="/api/v1/search"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestCORSIntegration(t *testing.T) {
	srv := setupTestServer(t, 0)

	req := httptest.NewRequest("GET", "/api/v1/search?q=dior+sauvage", nil)
	req.Header.Set("Origin", "https://shop.scentmatch.com")
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	gotOrigin := w.Header().Get("Access-Control-Allow-Origin")
	if gotOrigin != "https://shop.scentmatch.com" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", gotOrigin, "https://shop.scentmatch.com")
	}
	if w.Header().Get(requestIDHeader) == "" {
		t.Errorf("%s header not set", requestIDHeader)
	}
}

// TestRecoveryMiddleware tests panic recovery
func TestRecoveryMiddleware(t *testing.T) {
	srv := setupTestServer(t, 0)

	srv.router.GET("/panic", func(c *gin.Context) {
		panic("test panic")
	})

	w := doRequest(srv.router, "GET", "/panic", "")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

// TestRateLimitIntegration tests that API routes are limited per client IP
func TestRateLimitIntegration(t *testing.T) {
	srv := setupTestServer(t, 1)

	codes := make([]int, 3)
	for i := range codes {
		codes[i] = doRequest(srv.router, "GET", "/api/v1/search?q=dior+sauvage", "").Code
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Errorf("first requests = %v, want 200s within burst", codes[:2])
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Errorf("third request = %d, want %d", codes[2], http.StatusTooManyRequests)
	}

	// Health is outside the limited group
	if w := doRequest(srv.router, "GET", "/health", ""); w.Code != http.StatusOK {
		t.Errorf("health Status = %d, want %d", w.Code, http.StatusOK)
	}
}
