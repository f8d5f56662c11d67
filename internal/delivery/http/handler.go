package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/scentmatch/backend/internal/domain"
	"github.com/scentmatch/backend/internal/infrastructure/embedding"
	"github.com/scentmatch/backend/internal/usecase"
)

const serviceVersion = "1.0.0"

// ProviderHealthReporter exposes embedding provider breaker state
type ProviderHealthReporter interface {
	Health() []embedding.ProviderHealth
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	search    *usecase.SearchService
	providers ProviderHealthReporter
	logger    zerolog.Logger
}

// NewHandler creates a new HTTP handler. providers may be nil when semantic search is off.
func NewHandler(search *usecase.SearchService, providers ProviderHealthReporter, logger zerolog.Logger) *Handler {
	return &Handler{
		search:    search,
		providers: providers,
		logger:    logger,
	}
}

// HealthCheck returns the health status of the API
func (h *Handler) HealthCheck(c *gin.Context) {
	body := gin.H{
		"status":  "healthy",
		"service": "scentmatch-backend",
		"version": serviceVersion,
	}
	if h.providers != nil {
		body["embedding_providers"] = h.providers.Health()
	}
	c.JSON(http.StatusOK, body)
}

// Search handles GET /api/v1/search
func (h *Handler) Search(c *gin.Context) {
	resp, err := h.search.Search(c.Request.Context(), c.Query("q"), queryInt(c, "limit"), requesterID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	markSearch(c, "search", resp.Metadata.MatchType)
	c.JSON(http.StatusOK, resp)
}

// SmartSearch handles GET /api/v1/search/smart
func (h *Handler) SmartSearch(c *gin.Context) {
	resp, err := h.search.SmartSearch(c.Request.Context(), c.Query("q"), queryInt(c, "limit"), requesterID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	markSearch(c, "smart", resp.Data.Metadata.MatchType)
	c.JSON(http.StatusOK, resp)
}

// markSearch leaves the search outcome for MetricsMiddleware
func markSearch(c *gin.Context, endpoint string, matchType domain.MatchType) {
	c.Set(searchEndpointKey, endpoint)
	c.Set(matchTypeKey, string(matchType))
}

// missingProductRequest is the body of POST /api/v1/missing-products
type missingProductRequest struct {
	Action  string `json:"action" binding:"required,oneof=log notify"`
	Query   string `json:"query" binding:"required"`
	Brand   string `json:"brand"`
	Email   string `json:"email" binding:"omitempty,email"`
	Context string `json:"context"`
}

// PostMissingProduct logs demand for a missing product or stores a notification request
func (h *Handler) PostMissingProduct(c *gin.Context) {
	var req missingProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request: " + err.Error()})
		return
	}

	ctx := c.Request.Context()
	switch req.Action {
	case "log":
		record, err := h.search.LogMissing(ctx, req.Query, req.Brand, requesterID(c), req.Context)
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": record})

	case "notify":
		if req.Email == "" {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "email is required for notify"})
			return
		}
		if err := h.search.NotifyMissing(ctx, req.Query, req.Email); err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "We'll let you know when this fragrance is available."})
	}
}

// GetMissingProducts serves alternatives for a query or the top missing products list
func (h *Handler) GetMissingProducts(c *gin.Context) {
	ctx := c.Request.Context()

	switch c.Query("action") {
	case "alternatives":
		alternatives, q, err := h.search.Alternatives(ctx, c.Query("query"), queryInt(c, "limit"))
		if err != nil {
			h.writeError(c, err)
			return
		}
		if alternatives == nil {
			alternatives = []domain.AlternativeSuggestion{}
		}
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"data": gin.H{
				"alternatives":   alternatives,
				"query_analysis": q,
			},
		})

	case "top":
		status := domain.MissingProductStatus(c.Query("status"))
		records, err := h.search.TopMissing(ctx, queryInt(c, "limit"), status)
		if err != nil {
			h.writeError(c, err)
			return
		}
		if records == nil {
			records = []domain.MissingProductRecord{}
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": records})

	default:
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "action must be 'alternatives' or 'top'"})
	}
}

// writeError maps domain errors to HTTP status codes
func (h *Handler) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidQuery), errors.Is(err, domain.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	}

	if status == http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("request_id", c.GetString(requestIDKey)).Msg("request failed")
		c.JSON(status, gin.H{"success": false, "error": "internal server error"})
		return
	}
	c.JSON(status, gin.H{"success": false, "error": err.Error()})
}

// queryInt parses an integer query parameter; absent or malformed values read as 0
func queryInt(c *gin.Context, key string) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return 0
	}
	return n
}
