package service

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/content-store-api/internal/apperr"
	"github.com/content-store-api/internal/config"
	"github.com/content-store-api/internal/metrics"
	"github.com/content-store-api/internal/models"
	"github.com/content-store-api/internal/repository"
	"github.com/content-store-api/internal/search"
	"github.com/content-store-api/internal/validation"
)

// SchedulerActor is recorded as updated_by on scheduled publications
const SchedulerActor = "system:scheduler"

// Clock supplies the current time
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// ContentService defines the article lifecycle, version, tag and counter operations
type ContentService interface {
	Create(ctx context.Context, actor string, in *models.ArticleInput) (*models.MutationResult, error)
	Update(ctx context.Context, actor string, id int64, patch *models.ArticlePatch) (*models.MutationResult, error)
	Publish(ctx context.Context, actor string, id int64) (*models.MutationResult, error)
	Schedule(ctx context.Context, actor string, id int64, at time.Time) (*models.MutationResult, error)
	Draft(ctx context.Context, actor string, id int64) (*models.MutationResult, error)
	SetFeatured(ctx context.Context, actor string, id int64, featured bool) (*models.MutationResult, error)
	SoftDelete(ctx context.Context, actor string, id int64) (*models.MutationResult, error)
	Restore(ctx context.Context, actor string, id int64) (*models.MutationResult, error)

	Get(ctx context.Context, id int64, includeDeleted bool) (*models.Article, error)
	GetBySlug(ctx context.Context, slug string) (*models.Article, error)
	List(ctx context.Context, params models.ListParams) (*models.ArticlePage, error)
	ListPopular(ctx context.Context, params models.PopularParams) ([]*models.Article, error)
	Stats(ctx context.Context) (*models.Stats, error)

	CreateVersion(ctx context.Context, actor string, id int64, comment string) (*models.ArticleVersion, error)
	ListVersions(ctx context.Context, id int64) ([]*models.ArticleVersion, error)
	GetVersion(ctx context.Context, id int64, number int) (*models.ArticleVersion, error)
	RestoreVersion(ctx context.Context, actor string, id int64, number int) (*models.MutationResult, error)

	AddTag(ctx context.Context, articleID, tagID int64) (bool, error)
	RemoveTag(ctx context.Context, articleID, tagID int64) (bool, error)
	ListTags(ctx context.Context, articleID int64) ([]models.Tag, error)

	IncrementCounter(ctx context.Context, id int64, counter models.Counter) (int64, error)
	IncrementViews(ctx context.Context, id int64) (int64, error)
	IncrementLikes(ctx context.Context, id int64) (int64, error)
}

// SearchService defines lexical, semantic and hybrid retrieval
type SearchService interface {
	Lexical(ctx context.Context, q models.LexicalQuery) (*models.SearchResults, error)
	Semantic(ctx context.Context, q models.SemanticQuery) (*models.SearchResults, error)
	Hybrid(ctx context.Context, q models.HybridQuery) (*models.SearchResults, error)
	SuggestTitles(ctx context.Context, prefix string, limit int) ([]models.TitleSuggestion, error)
	Reindex(ctx context.Context) (*models.ReindexReport, error)
}

// ExportService defines the interface for export operations
type ExportService interface {
	StreamArticles(ctx context.Context, w http.ResponseWriter, format string) error
}

// SchedulerService publishes scheduled articles once they are due
type SchedulerService interface {
	StartProcessor(ctx context.Context)
	StopProcessor()
	PublishDue(ctx context.Context) (int, error)
}

// Services holds all service interfaces
type Services struct {
	Content   ContentService
	Search    SearchService
	Export    ExportService
	Scheduler SchedulerService
}

// Option customizes service construction
type Option func(*options)

type options struct {
	clock Clock
}

// WithClock replaces the wall clock
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

// NewServices creates all services
func NewServices(repos *repository.Repositories, index *search.Maintainer, cfg *config.Config, log zerolog.Logger, opts ...Option) *Services {
	o := options{clock: systemClock{}}
	for _, opt := range opts {
		opt(&o)
	}

	v := validation.NewValidator()
	return &Services{
		Content:   newContentService(repos, index, v, cfg.Content, o.clock, log),
		Search:    newSearchService(repos, index, cfg.Search, cfg.Content.MaxPageSize, o.clock, log),
		Export:    newExportService(repos, log),
		Scheduler: newScheduler(repos, cfg.Scheduler, o.clock, log),
	}
}

// observe records the outcome of a mutation
func observe(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(apperr.KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	metrics.Mutations.WithLabelValues(op, outcome).Inc()
}

// clampLimit applies the default to an unset limit, then caps the result
// at max
func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		limit = def
	}
	if max > 0 && limit > max {
		limit = max
	}
	return limit
}

// checkPublishedRange rejects an empty or inverted published_at range
func checkPublishedRange(entity string, from, to *time.Time) error {
	if from != nil && to != nil && !to.After(*from) {
		return apperr.Validation(entity, apperr.FieldError{
			Field:   "published_to",
			Message: "published_to must be after published_from",
			Value:   to.Format(time.RFC3339),
		})
	}
	return nil
}
