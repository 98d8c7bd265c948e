package service

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/content-store-api/internal/apperr"
	"github.com/content-store-api/internal/config"
	"github.com/content-store-api/internal/metrics"
	"github.com/content-store-api/internal/models"
	"github.com/content-store-api/internal/repository"
	"github.com/content-store-api/internal/search"
)

const defaultSearchLimit = 10

// searchService is the concrete implementation of SearchService
type searchService struct {
	repos   *repository.Repositories
	index   *search.Maintainer
	cfg     config.SearchConfig
	maxPage int
	clock   Clock
	log     zerolog.Logger
}

func newSearchService(repos *repository.Repositories, index *search.Maintainer, cfg config.SearchConfig,
	maxPage int, clock Clock, log zerolog.Logger) *searchService {
	return &searchService{
		repos:   repos,
		index:   index,
		cfg:     cfg,
		maxPage: maxPage,
		clock:   clock,
		log:     log.With().Str("service", "search").Logger(),
	}
}

func observeLatency(kind string, start time.Time) {
	metrics.SearchLatency.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

// Lexical ranks articles by weighted keyword relevance. When nothing matches
// on the first page, it falls back to fuzzy title and summary matching.
func (s *searchService) Lexical(ctx context.Context, q models.LexicalQuery) (*models.SearchResults, error) {
	defer observeLatency("lexical", time.Now())

	q.Query = strings.TrimSpace(q.Query)
	if q.Query == "" {
		return nil, apperr.Validation("search", apperr.FieldError{Field: "q", Message: "query is required"})
	}
	if err := checkPublishedRange("search", q.PublishedFrom, q.PublishedTo); err != nil {
		return nil, err
	}
	if q.Skip < 0 {
		q.Skip = 0
	}
	q.Limit = clampLimit(q.Limit, defaultSearchLimit, s.maxPage)

	hits, err := s.lexicalWithFallback(ctx, q)
	if err != nil {
		return nil, err
	}
	return &models.SearchResults{Hits: hits}, nil
}

func (s *searchService) lexicalWithFallback(ctx context.Context, q models.LexicalQuery) ([]models.SearchHit, error) {
	hits, err := s.repos.Article.LexicalSearch(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(hits) > 0 || q.Skip > 0 {
		return hits, nil
	}
	return s.repos.Article.FuzzySearch(ctx, q)
}

// Semantic returns the nearest articles to a query vector, embedding the
// query text when no vector is given. An unavailable embedder yields no
// hits and a degraded_index warning.
func (s *searchService) Semantic(ctx context.Context, q models.SemanticQuery) (*models.SearchResults, error) {
	defer observeLatency("semantic", time.Now())

	q.Limit = clampLimit(q.Limit, defaultSearchLimit, s.maxPage)
	vec, warning, err := s.queryVector(ctx, q.Vector, q.Text)
	if err != nil {
		return nil, err
	}
	if warning != nil {
		return &models.SearchResults{Hits: []models.SearchHit{}, Warnings: []models.IndexWarning{*warning}}, nil
	}

	hits, err := s.repos.Article.SemanticSearch(ctx, vec, q.Limit, q.IncludeUnpublished)
	if err != nil {
		return nil, err
	}
	return &models.SearchResults{Hits: hits}, nil
}

// queryVector checks a supplied vector or embeds text
func (s *searchService) queryVector(ctx context.Context, vec []float32, text string) ([]float32, *models.IndexWarning, error) {
	if len(vec) > 0 {
		if err := search.CheckDimensions(vec, s.index.Dimensions()); err != nil {
			return nil, nil, apperr.Validation("search", apperr.FieldError{Field: "vector", Message: err.Error()})
		}
		return vec, nil, nil
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil, apperr.Validation("search", apperr.FieldError{Field: "text", Message: "either vector or text is required"})
	}
	vec, err := s.index.EmbedQuery(ctx, text)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		if !errors.Is(err, search.ErrEmbeddingDisabled) {
			s.log.Warn().Err(err).Msg("Query embedding failed")
		}
		return nil, &models.IndexWarning{Code: models.WarningDegradedIndex, Reason: err.Error()}, nil
	}
	return vec, nil, nil
}

// Hybrid merges lexical and semantic retrieval. Both sides fetch twice the
// limit so the merged ranking has candidates from each. A failed query
// embedding degrades the result to lexical ranking.
func (s *searchService) Hybrid(ctx context.Context, q models.HybridQuery) (*models.SearchResults, error) {
	defer observeLatency("hybrid", time.Now())

	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return nil, apperr.Validation("search", apperr.FieldError{Field: "q", Message: "query is required"})
	}
	weight := s.cfg.HybridSemanticWeight
	if q.SemanticWeight != nil {
		weight = *q.SemanticWeight
	}
	if weight < 0 || weight > 1 {
		return nil, apperr.Validation("search", apperr.FieldError{Field: "weight", Message: "weight must be between 0 and 1"})
	}
	limit := clampLimit(q.Limit, defaultSearchLimit, s.maxPage)
	fetch := limit * 2

	var lexical, semantic []models.SearchHit
	var warning *models.IndexWarning

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		lexical, err = s.lexicalWithFallback(gctx, models.LexicalQuery{
			Query: q.Text, Limit: fetch, IncludeUnpublished: q.IncludeUnpublished,
		})
		return err
	})
	if weight > 0 {
		g.Go(func() error {
			vec, w, err := s.queryVector(gctx, q.Vector, q.Text)
			if err != nil || w != nil {
				warning = w
				return err
			}
			semantic, err = s.repos.Article.SemanticSearch(gctx, vec, fetch, q.IncludeUnpublished)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := &models.SearchResults{
		Hits: search.Merge(lexical, semantic, search.DefaultMergeOptions(weight, limit, s.clock.Now())),
	}
	if warning != nil {
		results.Warnings = []models.IndexWarning{*warning}
	}
	return results, nil
}

// SuggestTitles autocompletes published titles by prefix
func (s *searchService) SuggestTitles(ctx context.Context, prefix string, limit int) ([]models.TitleSuggestion, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return []models.TitleSuggestion{}, nil
	}
	return s.repos.Article.SuggestTitles(ctx, prefix, clampLimit(limit, defaultSearchLimit, s.maxPage))
}

// Reindex rebuilds the index of every live article, one transaction per
// article. Individual failures are counted, not fatal.
func (s *searchService) Reindex(ctx context.Context) (*models.ReindexReport, error) {
	start := time.Now()
	ids, err := s.repos.Article.ListIDs(ctx, false)
	if err != nil {
		return nil, err
	}

	workers := s.cfg.ReindexWorkers
	if workers < 1 {
		workers = 1
	}
	s.log.Info().Int("articles", len(ids)).Int("workers", workers).Msg("Reindex started")

	var updated, failed, degraded atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, id := range ids {
		if gctx.Err() != nil {
			break
		}
		id := id
		g.Go(func() error {
			wasDegraded, err := s.reindexOne(gctx, id)
			if apperr.IsNotFound(err) {
				return nil // deleted since listing
			}
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				failed.Add(1)
				metrics.Reindexed.WithLabelValues("failed").Inc()
				s.log.Warn().Err(err).Int64("article_id", id).Msg("Reindex failed")
				return nil
			}
			updated.Add(1)
			metrics.Reindexed.WithLabelValues("updated").Inc()
			if wasDegraded {
				degraded.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	elapsed := time.Since(start)
	report := &models.ReindexReport{
		Updated:    int(updated.Load()),
		Failed:     int(failed.Load()),
		Degraded:   int(degraded.Load()),
		Duration:   elapsed,
		DurationMs: elapsed.Milliseconds(),
	}
	s.log.Info().
		Int("updated", report.Updated).
		Int("failed", report.Failed).
		Int("degraded", report.Degraded).
		Int64("duration_ms", report.DurationMs).
		Msg("Reindex completed")
	return report, nil
}

// reindexOne embeds the article before locking it. If its content changed
// in between, the edit already rebuilt the entry and nothing is written.
func (s *searchService) reindexOne(ctx context.Context, id int64) (bool, error) {
	current, err := s.repos.Article.GetByID(ctx, id, false)
	if err != nil {
		return false, err
	}
	if current == nil {
		return false, apperr.NotFound("article", "id", id)
	}
	pre := s.index.Embed(ctx, current)

	var wasDegraded bool
	err = s.repos.Tx.WithinTx(ctx, func(repos *repository.Repositories) error {
		a, err := repos.Article.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if a == nil || a.IsDeleted {
			return apperr.NotFound("article", "id", id)
		}
		if pre != nil && !pre.Matches(a) {
			return nil
		}
		entry, warning := s.index.BuildWith(a, pre)
		wasDegraded = warning != nil
		return repos.Article.SetIndex(ctx, id, entry, s.clock.Now())
	})
	return wasDegraded, err
}
