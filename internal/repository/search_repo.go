package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/content-store-api/internal/apperr"
	"github.com/content-store-api/internal/models"
	"github.com/content-store-api/internal/search"
)

// SetIndex stores the weighted text vector and the embedding
func (r *articleRepo) SetIndex(ctx context.Context, id int64, entry search.Entry, at time.Time) error {
	args := []any{id, r.textSearchConfig, at}
	parts := make([]string, 0, len(entry.Document.Fields))
	for _, f := range entry.Document.Fields {
		args = append(args, f.Text)
		parts = append(parts, fmt.Sprintf(
			"setweight(to_tsvector($2::regconfig, unaccent(coalesce($%d, ''))), '%s')", len(args), f.Weight.Label()))
	}
	vector := "to_tsvector('')"
	if len(parts) > 0 {
		vector = strings.Join(parts, " || ")
	}

	var embedding sql.NullString
	if entry.Embedding != nil {
		embedding = sql.NullString{String: search.FormatVector(entry.Embedding), Valid: true}
	}
	args = append(args, embedding)

	query := fmt.Sprintf(`UPDATE articles SET search_vector = %s, embedding = $%d::vector, indexed_at = $3 WHERE id = $1`,
		vector, len(args))
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return mapError("article.set_index", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("article", "id", id)
	}
	return nil
}

// ClearIndex removes the article from both indexes
func (r *articleRepo) ClearIndex(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE articles SET search_vector = NULL, embedding = NULL, indexed_at = NULL WHERE id = $1", id)
	return mapError("article.clear_index", err)
}

// ts_headline options for title and summary highlights
const (
	titleHeadline   = "StartSel=" + models.HighlightStart + ", StopSel=" + models.HighlightStop + ", MaxFragments=1, MinWords=2, MaxWords=12"
	summaryHeadline = "StartSel=" + models.HighlightStart + ", StopSel=" + models.HighlightStop + ", MaxFragments=2, MinWords=5, MaxWords=25"
)

// searchArgs collects positional arguments for a search query
type searchArgs []any

func (a *searchArgs) add(v any) string {
	*a = append(*a, v)
	return fmt.Sprintf("$%d", len(*a))
}

// publishedRange filters on the half-open range [from, to) of published_at
func (a *searchArgs) publishedRange(from, to *time.Time) string {
	var filter string
	if from != nil {
		filter += " AND published_at >= " + a.add(*from)
	}
	if to != nil {
		filter += " AND published_at < " + a.add(*to)
	}
	return filter
}

// LexicalSearch ranks articles with Postgres full text search and
// highlights the matched terms of title and summary
func (r *articleRepo) LexicalSearch(ctx context.Context, q models.LexicalQuery) ([]models.SearchHit, error) {
	args := searchArgs{r.textSearchConfig, q.Query, titleHeadline, summaryHeadline}
	filter := publishedFilter(q.IncludeUnpublished) + args.publishedRange(q.PublishedFrom, q.PublishedTo)
	query := `SELECT ` + articleColumns + `, ts_rank_cd(search_vector, query, 32) AS rank,
			ts_headline($1::regconfig, unaccent(title), query, $3),
			ts_headline($1::regconfig, unaccent(summary), query, $4)
		FROM ` + articleSource + `, websearch_to_tsquery($1::regconfig, unaccent($2)) query
		WHERE search_vector @@ query AND NOT is_deleted` + filter + `
		ORDER BY rank DESC, id ASC
		LIMIT ` + args.add(q.Limit) + ` OFFSET ` + args.add(q.Skip)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError("article.lexical_search", err)
	}
	defer rows.Close()

	hits := []models.SearchHit{}
	for rows.Next() {
		hit := models.SearchHit{Match: models.MatchLexical}
		a, err := scanArticle(rows, &hit.Score, &hit.HighlightTitle, &hit.HighlightSummary)
		if err != nil {
			return nil, mapError("article.lexical_search", err)
		}
		hit.Article = a
		hits = append(hits, hit)
	}
	return hits, mapError("article.lexical_search", rows.Err())
}

// FuzzySearch ranks articles by trigram similarity of title and summary
func (r *articleRepo) FuzzySearch(ctx context.Context, q models.LexicalQuery) ([]models.SearchHit, error) {
	args := searchArgs{q.Query, "%" + escapeLike(q.Query) + "%"}
	filter := publishedFilter(q.IncludeUnpublished) + args.publishedRange(q.PublishedFrom, q.PublishedTo)
	query := `SELECT ` + articleColumns + `,
			similarity(title, $1) * 0.7 + similarity(summary, $1) * 0.3 AS rank
		FROM ` + articleSource + `
		WHERE NOT is_deleted` + filter + `
			AND (title % $1 OR summary % $1 OR title ILIKE $2 OR summary ILIKE $2)
		ORDER BY rank DESC, id ASC
		LIMIT ` + args.add(q.Limit) + ` OFFSET ` + args.add(q.Skip)
	return r.queryHits(ctx, "article.fuzzy_search", models.MatchFuzzy, query, args...)
}

// SemanticSearch returns the nearest articles by cosine distance
func (r *articleRepo) SemanticSearch(ctx context.Context, vector []float32, limit int, includeUnpublished bool) ([]models.SearchHit, error) {
	query := `SELECT ` + articleColumns + `, embedding <=> $1::vector AS distance
		FROM ` + articleSource + `
		WHERE embedding IS NOT NULL AND NOT is_deleted` + publishedFilter(includeUnpublished) + `
		ORDER BY distance ASC, id ASC
		LIMIT $2`
	hits, err := r.queryHits(ctx, "article.semantic_search", models.MatchSemantic, query,
		search.FormatVector(vector), limit)
	if err != nil {
		return nil, err
	}
	for i := range hits {
		d := hits[i].Score
		hits[i].Distance = &d
		hits[i].Score = 1 - d
	}
	return hits, nil
}

func publishedFilter(includeUnpublished bool) string {
	if includeUnpublished {
		return ""
	}
	return " AND status = 'published'"
}

func (r *articleRepo) queryHits(ctx context.Context, op, match, query string, args ...any) ([]models.SearchHit, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(op, err)
	}
	defer rows.Close()

	hits := []models.SearchHit{}
	for rows.Next() {
		var score float64
		a, err := scanArticle(rows, &score)
		if err != nil {
			return nil, mapError(op, err)
		}
		hits = append(hits, models.SearchHit{Article: a, Score: score, Match: match})
	}
	return hits, mapError(op, rows.Err())
}
