package service

import (
	"context"

	"github.com/content-store-api/internal/apperr"
	"github.com/content-store-api/internal/models"
)

// AddTag associates a catalog tag with a live article. Adding an existing
// association is a no-op and reports false.
func (s *contentService) AddTag(ctx context.Context, articleID, tagID int64) (added bool, err error) {
	defer func() { observe("add_tag", err) }()

	if err := s.requireArticle(ctx, articleID, false); err != nil {
		return false, err
	}
	exists, err := s.repos.Tag.Exists(ctx, tagID)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, apperr.NotFound("tag", "id", tagID)
	}
	added, err = s.repos.Tag.Add(ctx, articleID, tagID)
	if err != nil {
		return false, err
	}
	if added {
		s.log.Debug().Int64("article_id", articleID).Int64("tag_id", tagID).Msg("Tag added")
	}
	return added, nil
}

// RemoveTag deletes the association and reports whether one existed
func (s *contentService) RemoveTag(ctx context.Context, articleID, tagID int64) (removed bool, err error) {
	defer func() { observe("remove_tag", err) }()

	if err := s.requireArticle(ctx, articleID, true); err != nil {
		return false, err
	}
	return s.repos.Tag.Remove(ctx, articleID, tagID)
}

// ListTags returns the tags of an article
func (s *contentService) ListTags(ctx context.Context, articleID int64) ([]models.Tag, error) {
	if err := s.requireArticle(ctx, articleID, true); err != nil {
		return nil, err
	}
	return s.repos.Tag.List(ctx, articleID)
}
