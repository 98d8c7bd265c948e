package service

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/content-store-api/internal/apperr"
	"github.com/content-store-api/internal/config"
	"github.com/content-store-api/internal/models"
	"github.com/content-store-api/internal/repository"
	"github.com/content-store-api/internal/search"
	"github.com/content-store-api/internal/slug"
	"github.com/content-store-api/internal/validation"
)

const (
	defaultPageSize    = 20
	defaultPopularSize = 10
)

// change is what a mutation did to an article
type change int

const (
	unchanged change = iota // nothing to write
	touched                 // stored fields changed, index untouched
	reindexed               // indexed content or visibility changed
)

// mutateFunc changes the row-locked article inside the transaction
type mutateFunc func(repos *repository.Repositories, a *models.Article) (change, error)

// previewFunc applies a mutation's content change to an unlocked copy of
// the article and reports whether the index entry will be rebuilt
type previewFunc func(ctx context.Context, a *models.Article) (bool, error)

// contentService is the concrete implementation of ContentService
type contentService struct {
	repos     *repository.Repositories
	index     *search.Maintainer
	validator *validation.Validator
	cfg       config.ContentConfig
	clock     Clock
	log       zerolog.Logger
}

func newContentService(repos *repository.Repositories, index *search.Maintainer, v *validation.Validator,
	cfg config.ContentConfig, clock Clock, log zerolog.Logger) *contentService {
	return &contentService{
		repos:     repos,
		index:     index,
		validator: v,
		cfg:       cfg,
		clock:     clock,
		log:       log.With().Str("service", "content").Logger(),
	}
}

func checkActor(actor string) error {
	if fe := validation.ValidateActor(actor); fe != nil {
		return apperr.Validation("article", *fe)
	}
	return nil
}

// Create stores a new Draft article and indexes it
func (s *contentService) Create(ctx context.Context, actor string, in *models.ArticleInput) (result *models.MutationResult, err error) {
	defer func() { observe("create", err) }()

	if err := checkActor(actor); err != nil {
		return nil, err
	}
	if errs := s.validator.ValidateInput(in); len(errs) > 0 {
		return nil, apperr.Validation("article", errs...)
	}

	now := s.clock.Now()
	a := &models.Article{
		Title:         strings.TrimSpace(in.Title),
		Body:          in.Body,
		Summary:       in.Summary,
		FeaturedImage: in.FeaturedImage,
		HeaderImage:   in.HeaderImage,
		SEO:           in.SEO,
		AuthorID:      in.AuthorID,
		CategoryID:    in.CategoryID,
		IsFeatured:    in.IsFeatured,
		Status:        models.StatusDraft,
		ReadTime:      models.ReadTime(in.Body, s.cfg.ReadingSpeedWPM),
		CreatedBy:     actor,
		UpdatedBy:     actor,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if in.Slug != "" {
		a.Slug = in.Slug
		a.SlugLocked = true
	} else {
		a.Slug = slug.Make(a.Title)
	}
	if errs := s.validator.ValidateArticle(a); len(errs) > 0 {
		return nil, apperr.Validation("article", errs...)
	}

	pre := s.index.Embed(ctx, a)

	var warning *models.IndexWarning
	err = s.repos.Tx.WithinTx(ctx, func(repos *repository.Repositories) error {
		if err := claimSlug(ctx, repos, a.Slug, 0); err != nil {
			return err
		}
		if err := repos.Article.Create(ctx, a); err != nil {
			return err
		}
		var err error
		warning, err = s.reindex(ctx, repos, a, pre)
		return err
	})
	if err != nil {
		s.logFailure(err, "create", 0)
		return nil, err
	}

	s.log.Info().Int64("article_id", a.ID).Str("slug", a.Slug).Str("actor", actor).Msg("Article created")
	return newResult(a, warning), nil
}

// Update applies a partial content change
func (s *contentService) Update(ctx context.Context, actor string, id int64, patch *models.ArticlePatch) (*models.MutationResult, error) {
	if patch == nil || patch.IsEmpty() {
		err := apperr.Validation("article", apperr.FieldError{Field: "patch", Message: "no fields to update"})
		observe("update", err)
		return nil, err
	}
	if errs := s.validator.ValidatePatch(patch); len(errs) > 0 {
		err := apperr.Validation("article", errs...)
		observe("update", err)
		return nil, err
	}
	preview := func(_ context.Context, a *models.Article) (bool, error) {
		changed, _ := s.applyContent(a, patch)
		return changed, nil
	}
	return s.mutate(ctx, "update", actor, id, false, preview, func(repos *repository.Repositories, a *models.Article) (change, error) {
		return s.applyPatch(ctx, repos, a, patch)
	})
}

// Publish moves the article to Published
func (s *contentService) Publish(ctx context.Context, actor string, id int64) (*models.MutationResult, error) {
	return s.mutate(ctx, "publish", actor, id, false, nil, func(_ *repository.Repositories, a *models.Article) (change, error) {
		a.Publish(s.clock.Now(), s.cfg.PublishRefreshesTimestamp)
		return touched, nil
	})
}

// Schedule moves the article to Scheduled for publication at the given time
func (s *contentService) Schedule(ctx context.Context, actor string, id int64, at time.Time) (*models.MutationResult, error) {
	if at.IsZero() {
		err := apperr.Validation("article", apperr.FieldError{Field: "scheduled_at", Message: "scheduled_at is required"})
		observe("schedule", err)
		return nil, err
	}
	return s.mutate(ctx, "schedule", actor, id, false, nil, func(_ *repository.Repositories, a *models.Article) (change, error) {
		a.Schedule(at.UTC())
		return touched, nil
	})
}

// Draft reverts the article to Draft
func (s *contentService) Draft(ctx context.Context, actor string, id int64) (*models.MutationResult, error) {
	return s.mutate(ctx, "draft", actor, id, false, nil, func(_ *repository.Repositories, a *models.Article) (change, error) {
		a.MarkDraft()
		return touched, nil
	})
}

// SetFeatured flips the featured flag
func (s *contentService) SetFeatured(ctx context.Context, actor string, id int64, featured bool) (*models.MutationResult, error) {
	op := "unfeature"
	if featured {
		op = "feature"
	}
	return s.mutate(ctx, op, actor, id, false, nil, func(_ *repository.Repositories, a *models.Article) (change, error) {
		a.IsFeatured = featured
		return touched, nil
	})
}

// SoftDelete hides the article and drops it from both indexes. Deleting an
// already deleted article returns it unchanged.
func (s *contentService) SoftDelete(ctx context.Context, actor string, id int64) (*models.MutationResult, error) {
	return s.mutate(ctx, "soft_delete", actor, id, true, nil, func(_ *repository.Repositories, a *models.Article) (change, error) {
		if a.IsDeleted {
			return unchanged, nil
		}
		a.SoftDelete(s.clock.Now())
		return reindexed, nil
	})
}

// Restore reverses SoftDelete. The slug must still be free among live articles.
func (s *contentService) Restore(ctx context.Context, actor string, id int64) (*models.MutationResult, error) {
	preview := func(_ context.Context, a *models.Article) (bool, error) {
		return a.IsDeleted, nil
	}
	return s.mutate(ctx, "restore", actor, id, true, preview, func(repos *repository.Repositories, a *models.Article) (change, error) {
		if !a.IsDeleted {
			return unchanged, nil
		}
		if err := claimSlug(ctx, repos, a.Slug, a.ID); err != nil {
			return unchanged, err
		}
		a.Undelete()
		return reindexed, nil
	})
}

// mutate runs fn against the row-locked article and persists the result,
// rebuilding the index in the same transaction when fn asks for it. When
// preview is set the embedding is computed before the transaction starts,
// so only the index write happens under the row and slug locks.
func (s *contentService) mutate(ctx context.Context, op, actor string, id int64, allowDeleted bool,
	preview previewFunc, fn mutateFunc) (result *models.MutationResult, err error) {
	defer func() { observe(op, err) }()

	if err := checkActor(actor); err != nil {
		return nil, err
	}

	var pre *search.Embedding
	if preview != nil {
		if pre, err = s.prepareEmbedding(ctx, id, allowDeleted, preview); err != nil {
			s.logFailure(err, op, id)
			return nil, err
		}
	}

	var out *models.Article
	var warning *models.IndexWarning
	err = s.repos.Tx.WithinTx(ctx, func(repos *repository.Repositories) error {
		a, err := repos.Article.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if a == nil || (a.IsDeleted && !allowDeleted) {
			return apperr.NotFound("article", "id", id)
		}

		kind, err := fn(repos, a)
		if err != nil {
			return err
		}
		out = a
		if kind == unchanged {
			return nil
		}

		a.UpdatedBy = actor
		a.UpdatedAt = s.clock.Now()
		if errs := s.validator.ValidateArticle(a); len(errs) > 0 {
			return apperr.Validation("article", errs...)
		}
		if err := repos.Article.Update(ctx, a); err != nil {
			return err
		}
		if kind == reindexed {
			warning, err = s.reindex(ctx, repos, a, pre)
		}
		return err
	})
	if err != nil {
		s.logFailure(err, op, id)
		return nil, err
	}

	s.log.Debug().Str("op", op).Int64("article_id", id).Str("actor", actor).Msg("Article mutated")
	return newResult(out, warning), nil
}

// applyPatch merges patch into a. Slug rules: an explicit slug pins it,
// ResetSlug unpins and derives from the title, and a title change derives a
// new slug unless pinned.
func (s *contentService) applyPatch(ctx context.Context, repos *repository.Repositories, a *models.Article, p *models.ArticlePatch) (change, error) {
	contentChanged, titleChanged := s.applyContent(a, p)

	if p.FeaturedImage != nil {
		a.FeaturedImage = *p.FeaturedImage
	}
	if p.HeaderImage != nil {
		a.HeaderImage = *p.HeaderImage
	}
	if p.SEO != nil {
		applySEO(&a.SEO, p.SEO)
	}
	switch {
	case p.ClearAuthor:
		a.AuthorID = nil
	case p.AuthorID != nil:
		a.AuthorID = p.AuthorID
	}
	switch {
	case p.ClearCategory:
		a.CategoryID = nil
	case p.CategoryID != nil:
		a.CategoryID = p.CategoryID
	}

	next := a.Slug
	switch {
	case p.Slug != nil:
		next = *p.Slug
		a.SlugLocked = true
	case p.ResetSlug:
		a.SlugLocked = false
		next = slug.Make(a.Title)
	case titleChanged && !a.SlugLocked:
		next = slug.Make(a.Title)
	}
	if next != a.Slug {
		if next != "" {
			if err := claimSlug(ctx, repos, next, a.ID); err != nil {
				return unchanged, err
			}
		}
		a.Slug = next
	}

	if contentChanged {
		return reindexed, nil
	}
	return touched, nil
}

// applyContent merges the indexed fields of p into a
func (s *contentService) applyContent(a *models.Article, p *models.ArticlePatch) (contentChanged, titleChanged bool) {
	if p.Title != nil {
		if t := strings.TrimSpace(*p.Title); t != a.Title {
			a.Title = t
			titleChanged = true
			contentChanged = true
		}
	}
	if p.Summary != nil && *p.Summary != a.Summary {
		a.Summary = *p.Summary
		contentChanged = true
	}
	if p.Body != nil && *p.Body != a.Body {
		a.Body = *p.Body
		a.ReadTime = models.ReadTime(a.Body, s.cfg.ReadingSpeedWPM)
		contentChanged = true
	}
	return contentChanged, titleChanged
}

func applySEO(seo *models.SEO, p *models.SEOPatch) {
	if p.Title != nil {
		seo.Title = *p.Title
	}
	if p.Description != nil {
		seo.Description = *p.Description
	}
	if p.Keywords != nil {
		seo.Keywords = *p.Keywords
	}
	if p.Image != nil {
		seo.Image = *p.Image
	}
	if p.CanonicalURL != nil {
		seo.CanonicalURL = *p.CanonicalURL
	}
}

// claimSlug serializes writers on slug and fails when a live article other
// than id already uses it
func claimSlug(ctx context.Context, repos *repository.Repositories, s string, id int64) error {
	if err := repos.Article.LockSlug(ctx, s); err != nil {
		return err
	}
	taken, err := repos.Article.SlugTaken(ctx, s, id)
	if err != nil {
		return err
	}
	if taken {
		return apperr.Conflict("article", "slug", s)
	}
	return nil
}

// prepareEmbedding previews the mutation on an unlocked copy of the
// article and embeds the resulting content. It returns nil when semantic
// indexing is off or the index entry will not change.
func (s *contentService) prepareEmbedding(ctx context.Context, id int64, allowDeleted bool, preview previewFunc) (*search.Embedding, error) {
	if !s.index.SemanticEnabled() {
		return nil, nil
	}
	a, err := s.repos.Article.GetByID(ctx, id, allowDeleted)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, apperr.NotFound("article", "id", id)
	}
	embed, err := preview(ctx, a)
	if err != nil || !embed {
		return nil, err
	}
	return s.index.Embed(ctx, a), nil
}

// reindex rebuilds or clears the index entry of a inside the caller's
// transaction from the embedding computed before it. A storage failure
// aborts the mutation; a failed or stale embedding only degrades the
// semantic index.
func (s *contentService) reindex(ctx context.Context, repos *repository.Repositories, a *models.Article, pre *search.Embedding) (*models.IndexWarning, error) {
	if a.IsDeleted {
		a.HasEmbedding = false
		a.IndexedAt = nil
		return nil, repos.Article.ClearIndex(ctx, a.ID)
	}

	entry, warning := s.index.BuildWith(a, pre)
	now := s.clock.Now()
	if err := repos.Article.SetIndex(ctx, a.ID, entry, now); err != nil {
		return nil, err
	}
	a.HasEmbedding = entry.Embedding != nil
	a.IndexedAt = &now
	return warning, nil
}

func (s *contentService) logFailure(err error, op string, id int64) {
	ev := s.log.Debug()
	if apperr.IsUnavailable(err) || apperr.KindOf(err) == "" {
		ev = s.log.Error()
	}
	ev.Err(err).Str("op", op).Int64("article_id", id).Msg("Article mutation failed")
}

func newResult(a *models.Article, warning *models.IndexWarning) *models.MutationResult {
	result := &models.MutationResult{Article: a}
	if warning != nil {
		result.Warnings = []models.IndexWarning{*warning}
	}
	return result
}

// Get retrieves an article by ID
func (s *contentService) Get(ctx context.Context, id int64, includeDeleted bool) (*models.Article, error) {
	a, err := s.repos.Article.GetByID(ctx, id, includeDeleted)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, apperr.NotFound("article", "id", id)
	}
	return a, nil
}

// GetBySlug retrieves a live article by slug
func (s *contentService) GetBySlug(ctx context.Context, slug string) (*models.Article, error) {
	a, err := s.repos.Article.GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, apperr.NotFound("article", "slug", slug)
	}
	return a, nil
}

// List returns one page of articles
func (s *contentService) List(ctx context.Context, p models.ListParams) (*models.ArticlePage, error) {
	if p.Status != "" && !models.ValidStatuses[p.Status] {
		return nil, apperr.Validation("list", apperr.FieldError{
			Field: "status", Message: "invalid status, must be one of: draft, scheduled, published", Value: string(p.Status),
		})
	}
	if err := checkPublishedRange("list", p.PublishedFrom, p.PublishedTo); err != nil {
		return nil, err
	}
	if p.Skip < 0 {
		p.Skip = 0
	}
	p.Limit = clampLimit(p.Limit, defaultPageSize, s.cfg.MaxPageSize)

	items, total, err := s.repos.Article.List(ctx, p)
	if err != nil {
		return nil, err
	}
	return &models.ArticlePage{Items: items, Total: total, Skip: p.Skip, Limit: p.Limit}, nil
}

// ListPopular returns the top published articles by the requested signal
func (s *contentService) ListPopular(ctx context.Context, p models.PopularParams) ([]*models.Article, error) {
	if p.Signal == "" {
		p.Signal = models.PopularByViews
	}
	if !models.ValidPopularSignals[p.Signal] {
		return nil, apperr.Validation("list", apperr.FieldError{
			Field: "by", Message: "invalid signal, must be one of: views, likes, recent", Value: string(p.Signal),
		})
	}
	p.Limit = clampLimit(p.Limit, defaultPopularSize, s.cfg.MaxPageSize)
	return s.repos.Article.ListPopular(ctx, p)
}

// Stats returns article counts by status
func (s *contentService) Stats(ctx context.Context) (*models.Stats, error) {
	return s.repos.Article.Stats(ctx)
}
