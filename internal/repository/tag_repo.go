package repository

import (
	"context"

	"github.com/lib/pq"

	"github.com/content-store-api/internal/apperr"
	"github.com/content-store-api/internal/database"
	"github.com/content-store-api/internal/models"
)

// tagRepo is the concrete implementation of TagRepository
type tagRepo struct {
	db database.Querier
}

// NewTagRepo creates a new tag association repository
func NewTagRepo(db database.Querier) TagRepository {
	return &tagRepo{db: db}
}

// Add associates a tag. added is false when the pair already existed.
func (r *tagRepo) Add(ctx context.Context, articleID, tagID int64) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		"INSERT INTO article_tags (article_id, tag_id) VALUES ($1, $2) ON CONFLICT DO NOTHING",
		articleID, tagID)
	if isForeignKeyViolation(err) {
		return false, apperr.NotFound("tag", "id", tagID)
	}
	if err != nil {
		return false, mapError("tag.add", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Remove deletes an association. removed is false when it was absent.
func (r *tagRepo) Remove(ctx context.Context, articleID, tagID int64) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM article_tags WHERE article_id = $1 AND tag_id = $2", articleID, tagID)
	if err != nil {
		return false, mapError("tag.remove", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// List returns the tags of an article ordered by name
func (r *tagRepo) List(ctx context.Context, articleID int64) ([]models.Tag, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT t.id, t.name, t.slug FROM tags t
		JOIN article_tags a ON a.tag_id = t.id
		WHERE a.article_id = $1
		ORDER BY t.name, t.id
	`, articleID)
	if err != nil {
		return nil, mapError("tag.list", err)
	}
	defer rows.Close()

	tags := []models.Tag{}
	for rows.Next() {
		var t models.Tag
		if err := rows.Scan(&t.ID, &t.Name, &t.Slug); err != nil {
			return nil, mapError("tag.list", err)
		}
		tags = append(tags, t)
	}
	return tags, mapError("tag.list", rows.Err())
}

// ListForArticles fetches the tags of a batch of articles in one query
func (r *tagRepo) ListForArticles(ctx context.Context, articleIDs []int64) (map[int64][]models.Tag, error) {
	out := make(map[int64][]models.Tag, len(articleIDs))
	if len(articleIDs) == 0 {
		return out, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT a.article_id, t.id, t.name, t.slug FROM tags t
		JOIN article_tags a ON a.tag_id = t.id
		WHERE a.article_id = ANY($1)
		ORDER BY a.article_id, t.name, t.id
	`, pq.Array(articleIDs))
	if err != nil {
		return nil, mapError("tag.list_for_articles", err)
	}
	defer rows.Close()

	for rows.Next() {
		var articleID int64
		var t models.Tag
		if err := rows.Scan(&articleID, &t.ID, &t.Name, &t.Slug); err != nil {
			return nil, mapError("tag.list_for_articles", err)
		}
		out[articleID] = append(out[articleID], t)
	}
	return out, mapError("tag.list_for_articles", rows.Err())
}

// Exists checks if a tag with the given ID exists
func (r *tagRepo) Exists(ctx context.Context, tagID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM tags WHERE id = $1)", tagID).Scan(&exists)
	return exists, mapError("tag.exists", err)
}
