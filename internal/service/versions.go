package service

import (
	"context"

	"github.com/content-store-api/internal/apperr"
	"github.com/content-store-api/internal/models"
	"github.com/content-store-api/internal/repository"
	"github.com/content-store-api/internal/validation"
)

// CreateVersion snapshots the current title, body and summary. The article
// row lock orders concurrent callers so version numbers never repeat.
func (s *contentService) CreateVersion(ctx context.Context, actor string, id int64, comment string) (version *models.ArticleVersion, err error) {
	defer func() { observe("create_version", err) }()

	if err := checkActor(actor); err != nil {
		return nil, err
	}
	if fe := validation.ValidateChangeComment(comment); fe != nil {
		return nil, apperr.Validation("article_version", *fe)
	}

	err = s.repos.Tx.WithinTx(ctx, func(repos *repository.Repositories) error {
		a, err := repos.Article.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if a == nil || a.IsDeleted {
			return apperr.NotFound("article", "id", id)
		}
		version = models.NewVersionSnapshot(a, actor, comment, s.clock.Now())
		return repos.Version.Create(ctx, version)
	})
	if err != nil {
		s.logFailure(err, "create_version", id)
		return nil, err
	}

	s.log.Info().Int64("article_id", id).Int("version", version.VersionNumber).Msg("Version created")
	return version, nil
}

// ListVersions returns the snapshots of an article in ascending order
func (s *contentService) ListVersions(ctx context.Context, id int64) ([]*models.ArticleVersion, error) {
	if err := s.requireArticle(ctx, id, true); err != nil {
		return nil, err
	}
	return s.repos.Version.List(ctx, id)
}

// GetVersion returns one snapshot
func (s *contentService) GetVersion(ctx context.Context, id int64, number int) (*models.ArticleVersion, error) {
	if err := s.requireArticle(ctx, id, true); err != nil {
		return nil, err
	}
	return findVersion(ctx, s.repos, id, number)
}

// RestoreVersion overwrites the content fields with a snapshot. It goes
// through the regular patch path so slug and read time follow the content.
func (s *contentService) RestoreVersion(ctx context.Context, actor string, id int64, number int) (*models.MutationResult, error) {
	preview := func(ctx context.Context, a *models.Article) (bool, error) {
		v, err := findVersion(ctx, s.repos, id, number)
		if err != nil {
			return false, err
		}
		changed, _ := s.applyContent(a, models.ContentPatch(v.Title, v.Body, v.Summary))
		return changed, nil
	}
	return s.mutate(ctx, "restore_version", actor, id, false, preview, func(repos *repository.Repositories, a *models.Article) (change, error) {
		v, err := findVersion(ctx, repos, id, number)
		if err != nil {
			return unchanged, err
		}
		return s.applyPatch(ctx, repos, a, models.ContentPatch(v.Title, v.Body, v.Summary))
	})
}

func findVersion(ctx context.Context, repos *repository.Repositories, id int64, number int) (*models.ArticleVersion, error) {
	v, err := repos.Version.Get(ctx, id, number)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, apperr.NotFound("article_version", "version_number", number)
	}
	return v, nil
}

// requireArticle fails with NotFound when the article does not exist
func (s *contentService) requireArticle(ctx context.Context, id int64, includeDeleted bool) error {
	a, err := s.repos.Article.GetByID(ctx, id, includeDeleted)
	if err != nil {
		return err
	}
	if a == nil {
		return apperr.NotFound("article", "id", id)
	}
	return nil
}
