package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/content-store-api/internal/apperr"
	"github.com/content-store-api/internal/database"
	"github.com/content-store-api/internal/models"
)

const articleColumns = `id, title, slug, slug_locked, body, summary, featured_image, header_image,
	seo_title, seo_description, seo_keywords, seo_image, canonical_url, status, is_featured,
	read_time, COALESCE(c.views, 0), COALESCE(c.likes, 0), scheduled_at, published_at, author_id, category_id,
	embedding IS NOT NULL, indexed_at, is_deleted, deleted_at, created_by, updated_by,
	created_at, updated_at`

// articleSource joins the engagement counters, which live in their own
// table so increments never contend with the article row lock
const articleSource = `articles LEFT JOIN article_counters c ON c.article_id = articles.id`

// articleRepo is the concrete implementation of ArticleRepository
type articleRepo struct {
	db               database.Querier
	textSearchConfig string
}

// NewArticleRepo creates a new article repository
func NewArticleRepo(db database.Querier, textSearchConfig string) ArticleRepository {
	return &articleRepo{db: db, textSearchConfig: textSearchConfig}
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanArticle reads articleColumns followed by any extra columns
func scanArticle(row rowScanner, extra ...any) (*models.Article, error) {
	var a models.Article
	var featuredImage, headerImage, seoTitle, seoDescription, seoKeywords, seoImage, canonicalURL sql.NullString
	var scheduledAt, publishedAt, indexedAt, deletedAt sql.NullTime
	var authorID, categoryID sql.NullInt64

	dest := []any{
		&a.ID, &a.Title, &a.Slug, &a.SlugLocked, &a.Body, &a.Summary, &featuredImage, &headerImage,
		&seoTitle, &seoDescription, &seoKeywords, &seoImage, &canonicalURL, &a.Status, &a.IsFeatured,
		&a.ReadTime, &a.Views, &a.Likes, &scheduledAt, &publishedAt, &authorID, &categoryID,
		&a.HasEmbedding, &indexedAt, &a.IsDeleted, &deletedAt, &a.CreatedBy, &a.UpdatedBy,
		&a.CreatedAt, &a.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	a.FeaturedImage = featuredImage.String
	a.HeaderImage = headerImage.String
	a.SEO = models.SEO{
		Title:        seoTitle.String,
		Description:  seoDescription.String,
		Keywords:     seoKeywords.String,
		Image:        seoImage.String,
		CanonicalURL: canonicalURL.String,
	}
	a.ScheduledAt = timeOrNil(scheduledAt)
	a.PublishedAt = timeOrNil(publishedAt)
	a.IndexedAt = timeOrNil(indexedAt)
	a.DeletedAt = timeOrNil(deletedAt)
	if authorID.Valid {
		a.AuthorID = &authorID.Int64
	}
	if categoryID.Valid {
		a.CategoryID = &categoryID.Int64
	}
	return &a, nil
}

func timeOrNil(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// Create inserts a new article and assigns its ID
func (r *articleRepo) Create(ctx context.Context, a *models.Article) error {
	query := `
		INSERT INTO articles (title, slug, slug_locked, body, summary, featured_image, header_image,
			seo_title, seo_description, seo_keywords, seo_image, canonical_url, status, is_featured,
			read_time, scheduled_at, published_at, author_id, category_id, is_deleted, deleted_at,
			created_by, updated_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19,
			$20, $21, $22, $23, $24, $25)
		RETURNING id
	`
	err := r.db.QueryRowContext(ctx, query,
		a.Title, a.Slug, a.SlugLocked, a.Body, a.Summary, nullString(a.FeaturedImage), nullString(a.HeaderImage),
		nullString(a.SEO.Title), nullString(a.SEO.Description), nullString(a.SEO.Keywords),
		nullString(a.SEO.Image), nullString(a.SEO.CanonicalURL), a.Status, a.IsFeatured,
		a.ReadTime, a.ScheduledAt, a.PublishedAt, nullInt64(a.AuthorID), nullInt64(a.CategoryID),
		a.IsDeleted, a.DeletedAt, a.CreatedBy, a.UpdatedBy, a.CreatedAt, a.UpdatedAt,
	).Scan(&a.ID)
	if isUniqueViolation(err) {
		return apperr.Conflict("article", "slug", a.Slug)
	}
	return mapError("article.create", err)
}

// Update writes the mutable fields. Views and likes live in
// article_counters and are never written here.
func (r *articleRepo) Update(ctx context.Context, a *models.Article) error {
	query := `
		UPDATE articles SET
			title = $2, slug = $3, slug_locked = $4, body = $5, summary = $6,
			featured_image = $7, header_image = $8, seo_title = $9, seo_description = $10,
			seo_keywords = $11, seo_image = $12, canonical_url = $13, status = $14,
			is_featured = $15, read_time = $16, scheduled_at = $17, published_at = $18,
			author_id = $19, category_id = $20, is_deleted = $21, deleted_at = $22,
			updated_by = $23, updated_at = $24
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query,
		a.ID, a.Title, a.Slug, a.SlugLocked, a.Body, a.Summary,
		nullString(a.FeaturedImage), nullString(a.HeaderImage), nullString(a.SEO.Title),
		nullString(a.SEO.Description), nullString(a.SEO.Keywords), nullString(a.SEO.Image),
		nullString(a.SEO.CanonicalURL), a.Status, a.IsFeatured, a.ReadTime, a.ScheduledAt,
		a.PublishedAt, nullInt64(a.AuthorID), nullInt64(a.CategoryID), a.IsDeleted, a.DeletedAt,
		a.UpdatedBy, a.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return apperr.Conflict("article", "slug", a.Slug)
	}
	if err != nil {
		return mapError("article.update", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("article", "id", a.ID)
	}
	return nil
}

// GetByID retrieves an article by ID
func (r *articleRepo) GetByID(ctx context.Context, id int64, includeDeleted bool) (*models.Article, error) {
	query := `SELECT ` + articleColumns + ` FROM ` + articleSource + ` WHERE id = $1`
	if !includeDeleted {
		query += ` AND NOT is_deleted`
	}
	return r.getOne(ctx, "article.get", query, id)
}

// GetForUpdate retrieves and row-locks an article. The lock is FOR NO KEY
// UPDATE on the articles row only, so counter upserts, whose foreign key
// check takes FOR KEY SHARE, never wait for it.
func (r *articleRepo) GetForUpdate(ctx context.Context, id int64) (*models.Article, error) {
	query := `SELECT ` + articleColumns + ` FROM ` + articleSource + ` WHERE id = $1 FOR NO KEY UPDATE OF articles`
	return r.getOne(ctx, "article.get_for_update", query, id)
}

// GetBySlug retrieves a live article by slug
func (r *articleRepo) GetBySlug(ctx context.Context, slug string) (*models.Article, error) {
	query := `SELECT ` + articleColumns + ` FROM ` + articleSource + ` WHERE slug = $1 AND NOT is_deleted`
	return r.getOne(ctx, "article.get_by_slug", query, slug)
}

func (r *articleRepo) getOne(ctx context.Context, op, query string, args ...any) (*models.Article, error) {
	a, err := scanArticle(r.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, mapError(op, err)
	}
	return a, nil
}

// SlugTaken checks if a live article other than excludeID uses slug
func (r *articleRepo) SlugTaken(ctx context.Context, slug string, excludeID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM articles WHERE slug = $1 AND id <> $2 AND NOT is_deleted)",
		slug, excludeID,
	).Scan(&exists)
	return exists, mapError("article.slug_taken", err)
}

// LockSlug takes a transaction-scoped advisory lock keyed by the slug
func (r *articleRepo) LockSlug(ctx context.Context, slug string) error {
	_, err := r.db.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", "article-slug:"+slug)
	return mapError("article.lock_slug", err)
}

// List returns one page of articles and the total number of matches
func (r *articleRepo) List(ctx context.Context, p models.ListParams) ([]*models.Article, int, error) {
	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if !p.IncludeDeleted {
		conds = append(conds, "NOT is_deleted")
	}
	switch {
	case p.Status != "":
		conds = append(conds, "status = "+arg(p.Status))
	case !p.IncludeUnpublished:
		conds = append(conds, "status = 'published'")
	}
	if p.AuthorID != nil {
		conds = append(conds, "author_id = "+arg(*p.AuthorID))
	}
	if p.CategoryID != nil {
		conds = append(conds, "category_id = "+arg(*p.CategoryID))
	}
	if p.Featured != nil {
		conds = append(conds, "is_featured = "+arg(*p.Featured))
	}
	if p.PublishedFrom != nil {
		conds = append(conds, "published_at >= "+arg(*p.PublishedFrom))
	}
	if p.PublishedTo != nil {
		conds = append(conds, "published_at < "+arg(*p.PublishedTo))
	}
	if s := strings.TrimSpace(p.Search); s != "" {
		pattern := arg("%" + escapeLike(s) + "%")
		conds = append(conds, "(title ILIKE "+pattern+" OR summary ILIKE "+pattern+")")
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM articles"+where, args...).Scan(&total); err != nil {
		return nil, 0, mapError("article.list", err)
	}

	query := `SELECT ` + articleColumns + ` FROM ` + articleSource + where +
		` ORDER BY COALESCE(published_at, created_at) DESC, id DESC LIMIT ` + arg(p.Limit) + ` OFFSET ` + arg(p.Skip)
	items, err := r.queryArticles(ctx, "article.list", query, args...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// ListPopular returns the top published articles by a signal
func (r *articleRepo) ListPopular(ctx context.Context, p models.PopularParams) ([]*models.Article, error) {
	order := "COALESCE(c.views, 0) DESC"
	switch p.Signal {
	case models.PopularByLikes:
		order = "COALESCE(c.likes, 0) DESC"
	case models.PopularByRecent:
		order = "published_at DESC"
	}
	query := `SELECT ` + articleColumns + ` FROM ` + articleSource + `
		WHERE status = 'published' AND NOT is_deleted
		ORDER BY ` + order + `, id ASC LIMIT $1`
	return r.queryArticles(ctx, "article.list_popular", query, p.Limit)
}

// SuggestTitles returns published titles starting with prefix
func (r *articleRepo) SuggestTitles(ctx context.Context, prefix string, limit int) ([]models.TitleSuggestion, error) {
	query := `
		SELECT slug, title FROM ` + articleSource + `
		WHERE lower(title) LIKE $1 AND status = 'published' AND NOT is_deleted
		ORDER BY COALESCE(c.views, 0) DESC, title ASC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, escapeLike(strings.ToLower(prefix))+"%", limit)
	if err != nil {
		return nil, mapError("article.suggest", err)
	}
	defer rows.Close()

	out := []models.TitleSuggestion{}
	for rows.Next() {
		var s models.TitleSuggestion
		if err := rows.Scan(&s.Slug, &s.Title); err != nil {
			return nil, mapError("article.suggest", err)
		}
		out = append(out, s)
	}
	return out, mapError("article.suggest", rows.Err())
}

// ListDueScheduled returns scheduled articles whose time has come. It takes
// no locks: callers re-check each candidate under GetForUpdate.
func (r *articleRepo) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]*models.Article, error) {
	query := `SELECT ` + articleColumns + ` FROM ` + articleSource + `
		WHERE status = 'scheduled' AND scheduled_at <= $1 AND NOT is_deleted
		ORDER BY scheduled_at, id
		LIMIT $2`
	return r.queryArticles(ctx, "article.list_due", query, now, limit)
}

// ListIDs returns article IDs in ascending order
func (r *articleRepo) ListIDs(ctx context.Context, includeDeleted bool) ([]int64, error) {
	query := "SELECT id FROM articles"
	if !includeDeleted {
		query += " WHERE NOT is_deleted"
	}
	rows, err := r.db.QueryContext(ctx, query+" ORDER BY id")
	if err != nil {
		return nil, mapError("article.list_ids", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, mapError("article.list_ids", err)
		}
		ids = append(ids, id)
	}
	return ids, mapError("article.list_ids", rows.Err())
}

// Stats counts articles by status
func (r *articleRepo) Stats(ctx context.Context) (*models.Stats, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT status, is_deleted, COUNT(*) FROM articles GROUP BY status, is_deleted")
	if err != nil {
		return nil, mapError("article.stats", err)
	}
	defer rows.Close()

	stats := &models.Stats{ByStatus: map[models.ArticleStatus]int{}}
	for rows.Next() {
		var status models.ArticleStatus
		var deleted bool
		var n int
		if err := rows.Scan(&status, &deleted, &n); err != nil {
			return nil, mapError("article.stats", err)
		}
		if deleted {
			stats.Deleted += n
			continue
		}
		stats.Total += n
		stats.ByStatus[status] += n
	}
	return stats, mapError("article.stats", rows.Err())
}

// StreamAll streams all articles for export
func (r *articleRepo) StreamAll(ctx context.Context, includeDeleted bool, callback func(*models.Article) error) error {
	query := `SELECT ` + articleColumns + ` FROM ` + articleSource
	if !includeDeleted {
		query += ` WHERE NOT is_deleted`
	}
	rows, err := r.db.QueryContext(ctx, query+` ORDER BY id`)
	if err != nil {
		return mapError("article.stream", err)
	}
	defer rows.Close()

	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return mapError("article.stream", err)
		}
		if err := callback(a); err != nil {
			return err
		}
	}
	return mapError("article.stream", rows.Err())
}

func (r *articleRepo) queryArticles(ctx context.Context, op, query string, args ...any) ([]*models.Article, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(op, err)
	}
	defer rows.Close()

	items := []*models.Article{}
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, mapError(op, err)
		}
		items = append(items, a)
	}
	return items, mapError(op, rows.Err())
}
