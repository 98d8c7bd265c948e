package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/content-store-api/internal/apperr"
	"github.com/content-store-api/internal/models"
	"github.com/content-store-api/internal/service"
)

// ArticleHandler handles article lifecycle, version, tag and counter endpoints
type ArticleHandler struct {
	services *service.Services
	log      zerolog.Logger
}

// NewArticleHandler creates a new ArticleHandler
func NewArticleHandler(services *service.Services, log zerolog.Logger) *ArticleHandler {
	return &ArticleHandler{
		services: services,
		log:      log.With().Str("handler", "article").Logger(),
	}
}

// actor returns the authenticated caller or writes a validation error
func (h *ArticleHandler) actor(c *gin.Context) (string, bool) {
	actor := strings.TrimSpace(c.GetHeader(actorHeader))
	if actor == "" {
		respondError(c, h.log, apperr.Validation("request", apperr.FieldError{
			Field: actorHeader, Message: "is required",
		}))
		return "", false
	}
	return actor, true
}

// Create handles POST /v1/articles
func (h *ArticleHandler) Create(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	var in models.ArticleInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "body", "invalid request body")
		return
	}

	res, err := h.services.Content.Create(c.Request.Context(), actor, &in)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// Update handles PATCH /v1/articles/:id
func (h *ArticleHandler) Update(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	var patch models.ArticlePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, "body", "invalid request body")
		return
	}

	h.mutation(c, func() (*models.MutationResult, error) {
		return h.services.Content.Update(c.Request.Context(), actor, id, &patch)
	})
}

// Publish handles POST /v1/articles/:id/publish
func (h *ArticleHandler) Publish(c *gin.Context) {
	h.simple(c, h.services.Content.Publish)
}

// Draft handles POST /v1/articles/:id/draft
func (h *ArticleHandler) Draft(c *gin.Context) {
	h.simple(c, h.services.Content.Draft)
}

// SoftDelete handles DELETE /v1/articles/:id
func (h *ArticleHandler) SoftDelete(c *gin.Context) {
	h.simple(c, h.services.Content.SoftDelete)
}

// Restore handles POST /v1/articles/:id/restore
func (h *ArticleHandler) Restore(c *gin.Context) {
	h.simple(c, h.services.Content.Restore)
}

// Feature handles POST /v1/articles/:id/feature
func (h *ArticleHandler) Feature(c *gin.Context) { h.featured(c, true) }

// Unfeature handles POST /v1/articles/:id/unfeature
func (h *ArticleHandler) Unfeature(c *gin.Context) { h.featured(c, false) }

func (h *ArticleHandler) featured(c *gin.Context, featured bool) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	h.mutation(c, func() (*models.MutationResult, error) {
		return h.services.Content.SetFeatured(c.Request.Context(), actor, id, featured)
	})
}

// Schedule handles POST /v1/articles/:id/schedule
func (h *ArticleHandler) Schedule(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	var req struct {
		ScheduledAt time.Time `json:"scheduled_at"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "scheduled_at", "scheduled_at must be an RFC3339 timestamp")
		return
	}

	h.mutation(c, func() (*models.MutationResult, error) {
		return h.services.Content.Schedule(c.Request.Context(), actor, id, req.ScheduledAt)
	})
}

// simple runs a mutation that takes only the actor and article id
func (h *ArticleHandler) simple(c *gin.Context, fn func(ctx context.Context, actor string, id int64) (*models.MutationResult, error)) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	h.mutation(c, func() (*models.MutationResult, error) {
		return fn(c.Request.Context(), actor, id)
	})
}

func (h *ArticleHandler) mutation(c *gin.Context, fn func() (*models.MutationResult, error)) {
	res, err := fn()
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Get handles GET /v1/articles/:id
func (h *ArticleHandler) Get(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	includeDeleted, ok := boolQuery(c, "include_deleted")
	if !ok {
		return
	}

	a, err := h.services.Content.Get(c.Request.Context(), id, includeDeleted)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// GetBySlug handles GET /v1/articles/slug/:slug
func (h *ArticleHandler) GetBySlug(c *gin.Context) {
	a, err := h.services.Content.GetBySlug(c.Request.Context(), c.Param("slug"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// List handles GET /v1/articles
func (h *ArticleHandler) List(c *gin.Context) {
	var p models.ListParams
	var ok bool
	if p.Skip, ok = intQuery(c, "skip", 0); !ok {
		return
	}
	if p.Limit, ok = intQuery(c, "limit", 0); !ok {
		return
	}
	if p.AuthorID, ok = int64PtrQuery(c, "author_id"); !ok {
		return
	}
	if p.CategoryID, ok = int64PtrQuery(c, "category_id"); !ok {
		return
	}
	if p.PublishedFrom, ok = timeQuery(c, "published_from"); !ok {
		return
	}
	if p.PublishedTo, ok = timeQuery(c, "published_to"); !ok {
		return
	}
	if p.IncludeUnpublished, ok = boolQuery(c, "include_unpublished"); !ok {
		return
	}
	if p.IncludeDeleted, ok = boolQuery(c, "include_deleted"); !ok {
		return
	}
	if raw := c.Query("featured"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			badRequest(c, "featured", "featured must be a boolean")
			return
		}
		p.Featured = &v
	}
	p.Search = c.Query("search")
	p.Status = models.ArticleStatus(c.Query("status"))

	page, err := h.services.Content.List(c.Request.Context(), p)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// ListPopular handles GET /v1/articles/popular
func (h *ArticleHandler) ListPopular(c *gin.Context) {
	limit, ok := intQuery(c, "limit", 0)
	if !ok {
		return
	}
	items, err := h.services.Content.ListPopular(c.Request.Context(), models.PopularParams{
		Signal: models.PopularSignal(c.DefaultQuery("by", string(models.PopularByViews))),
		Limit:  limit,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// Stats handles GET /v1/stats
func (h *ArticleHandler) Stats(c *gin.Context) {
	stats, err := h.services.Content.Stats(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// CreateVersion handles POST /v1/articles/:id/versions
func (h *ArticleHandler) CreateVersion(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	var req struct {
		Comment string `json:"comment"`
	}
	// an empty body means no comment
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "body", "invalid request body")
			return
		}
	}

	v, err := h.services.Content.CreateVersion(c.Request.Context(), actor, id, req.Comment)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, v)
}

// ListVersions handles GET /v1/articles/:id/versions
func (h *ArticleHandler) ListVersions(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	versions, err := h.services.Content.ListVersions(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": versions})
}

// GetVersion handles GET /v1/articles/:id/versions/:number
func (h *ArticleHandler) GetVersion(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	number, ok := int64Param(c, "number")
	if !ok {
		return
	}
	v, err := h.services.Content.GetVersion(c.Request.Context(), id, int(number))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// RestoreVersion handles POST /v1/articles/:id/versions/:number/restore
func (h *ArticleHandler) RestoreVersion(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	number, ok := int64Param(c, "number")
	if !ok {
		return
	}
	h.mutation(c, func() (*models.MutationResult, error) {
		return h.services.Content.RestoreVersion(c.Request.Context(), actor, id, int(number))
	})
}

// ListTags handles GET /v1/articles/:id/tags
func (h *ArticleHandler) ListTags(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	tags, err := h.services.Content.ListTags(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": tags})
}

// AddTag handles PUT /v1/articles/:id/tags/:tag_id
func (h *ArticleHandler) AddTag(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	tagID, ok := int64Param(c, "tag_id")
	if !ok {
		return
	}
	added, err := h.services.Content.AddTag(c.Request.Context(), id, tagID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"added": added})
}

// RemoveTag handles DELETE /v1/articles/:id/tags/:tag_id
func (h *ArticleHandler) RemoveTag(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	tagID, ok := int64Param(c, "tag_id")
	if !ok {
		return
	}
	removed, err := h.services.Content.RemoveTag(c.Request.Context(), id, tagID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

// IncrementViews handles POST /v1/articles/:id/views
func (h *ArticleHandler) IncrementViews(c *gin.Context) {
	h.increment(c, models.CounterViews)
}

// IncrementLikes handles POST /v1/articles/:id/likes
func (h *ArticleHandler) IncrementLikes(c *gin.Context) {
	h.increment(c, models.CounterLikes)
}

func (h *ArticleHandler) increment(c *gin.Context, counter models.Counter) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	n, err := h.services.Content.IncrementCounter(c.Request.Context(), id, counter)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, string(counter): n})
}
