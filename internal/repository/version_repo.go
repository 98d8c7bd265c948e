package repository

import (
	"context"
	"database/sql"

	"github.com/content-store-api/internal/apperr"
	"github.com/content-store-api/internal/database"
	"github.com/content-store-api/internal/models"
)

// versionRepo is the concrete implementation of VersionRepository
type versionRepo struct {
	db database.Querier
}

// NewVersionRepo creates a new version repository
func NewVersionRepo(db database.Querier) VersionRepository {
	return &versionRepo{db: db}
}

// Create stores a snapshot under the next free number. The primary key
// turns a lost race into a Conflict instead of a duplicate.
func (r *versionRepo) Create(ctx context.Context, v *models.ArticleVersion) error {
	query := `
		INSERT INTO article_versions (article_id, version_number, title, body, summary,
			change_comment, created_by, created_at)
		SELECT $1::bigint, COALESCE(MAX(version_number), 0) + 1, $2::text, $3::text, $4::text,
			$5::text, $6::text, $7::timestamptz
		FROM article_versions WHERE article_id = $1::bigint
		RETURNING version_number
	`
	err := r.db.QueryRowContext(ctx, query,
		v.ArticleID, v.Title, v.Body, v.Summary, nullString(v.ChangeComment), v.CreatedBy, v.CreatedAt,
	).Scan(&v.VersionNumber)
	switch {
	case isUniqueViolation(err):
		return apperr.Conflict("article_version", "article_id", v.ArticleID)
	case isForeignKeyViolation(err):
		return apperr.NotFound("article", "id", v.ArticleID)
	}
	return mapError("version.create", err)
}

// Get retrieves one version
func (r *versionRepo) Get(ctx context.Context, articleID int64, number int) (*models.ArticleVersion, error) {
	query := `
		SELECT article_id, version_number, title, body, summary, change_comment, created_by, created_at
		FROM article_versions WHERE article_id = $1 AND version_number = $2
	`
	v, err := scanVersion(r.db.QueryRowContext(ctx, query, articleID, number))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, mapError("version.get", err)
	}
	return v, nil
}

// List returns all versions of an article in ascending order
func (r *versionRepo) List(ctx context.Context, articleID int64) ([]*models.ArticleVersion, error) {
	query := `
		SELECT article_id, version_number, title, body, summary, change_comment, created_by, created_at
		FROM article_versions WHERE article_id = $1
		ORDER BY version_number ASC
	`
	rows, err := r.db.QueryContext(ctx, query, articleID)
	if err != nil {
		return nil, mapError("version.list", err)
	}
	defer rows.Close()

	versions := []*models.ArticleVersion{}
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, mapError("version.list", err)
		}
		versions = append(versions, v)
	}
	return versions, mapError("version.list", rows.Err())
}

func scanVersion(row rowScanner) (*models.ArticleVersion, error) {
	var v models.ArticleVersion
	var comment sql.NullString
	err := row.Scan(&v.ArticleID, &v.VersionNumber, &v.Title, &v.Body, &v.Summary,
		&comment, &v.CreatedBy, &v.CreatedAt)
	if err != nil {
		return nil, err
	}
	v.ChangeComment = comment.String
	return &v, nil
}
