package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/content-store-api/internal/models"
	"github.com/content-store-api/internal/service"
)

// SearchHandler handles retrieval and index maintenance endpoints
type SearchHandler struct {
	services *service.Services
	log      zerolog.Logger
}

// NewSearchHandler creates a new SearchHandler
func NewSearchHandler(services *service.Services, log zerolog.Logger) *SearchHandler {
	return &SearchHandler{
		services: services,
		log:      log.With().Str("handler", "search").Logger(),
	}
}

// Lexical handles GET /v1/search?q=&limit=&skip=&include_unpublished=&published_from=&published_to=
func (h *SearchHandler) Lexical(c *gin.Context) {
	q := models.LexicalQuery{Query: c.Query("q")}
	var ok bool
	if q.Limit, ok = intQuery(c, "limit", 0); !ok {
		return
	}
	if q.Skip, ok = intQuery(c, "skip", 0); !ok {
		return
	}
	if q.PublishedFrom, ok = timeQuery(c, "published_from"); !ok {
		return
	}
	if q.PublishedTo, ok = timeQuery(c, "published_to"); !ok {
		return
	}
	if q.IncludeUnpublished, ok = boolQuery(c, "include_unpublished"); !ok {
		return
	}

	res, err := h.services.Search.Lexical(c.Request.Context(), q)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Semantic handles POST /v1/search/semantic
func (h *SearchHandler) Semantic(c *gin.Context) {
	var req struct {
		Vector             []float32 `json:"vector"`
		Text               string    `json:"text"`
		Limit              int       `json:"limit"`
		IncludeUnpublished bool      `json:"include_unpublished"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "body", "invalid request body")
		return
	}

	res, err := h.services.Search.Semantic(c.Request.Context(), models.SemanticQuery{
		Vector:             req.Vector,
		Text:               req.Text,
		Limit:              req.Limit,
		IncludeUnpublished: req.IncludeUnpublished,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Hybrid handles GET /v1/search/hybrid?q=&limit=&weight=
func (h *SearchHandler) Hybrid(c *gin.Context) {
	q := models.HybridQuery{Text: c.Query("q")}
	var ok bool
	if q.Limit, ok = intQuery(c, "limit", 0); !ok {
		return
	}
	if q.IncludeUnpublished, ok = boolQuery(c, "include_unpublished"); !ok {
		return
	}
	if raw := c.Query("weight"); raw != "" {
		w, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			badRequest(c, "weight", "weight must be a number")
			return
		}
		q.SemanticWeight = &w
	}

	res, err := h.services.Search.Hybrid(c.Request.Context(), q)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Suggest handles GET /v1/articles/suggest?prefix=&limit=
func (h *SearchHandler) Suggest(c *gin.Context) {
	limit, ok := intQuery(c, "limit", 0)
	if !ok {
		return
	}
	items, err := h.services.Search.SuggestTitles(c.Request.Context(), c.Query("prefix"), limit)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// Reindex handles POST /v1/admin/reindex
func (h *SearchHandler) Reindex(c *gin.Context) {
	h.log.Info().Msg("Reindex requested")

	report, err := h.services.Search.Reindex(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
