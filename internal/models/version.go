package models

import (
	"time"
)

// ArticleVersion is an immutable snapshot of an article's content
type ArticleVersion struct {
	ArticleID     int64     `json:"article_id"`
	VersionNumber int       `json:"version_number"`
	Title         string    `json:"title"`
	Body          string    `json:"body"`
	Summary       string    `json:"summary,omitempty"`
	ChangeComment string    `json:"change_comment,omitempty"`
	CreatedBy     string    `json:"created_by"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewVersionSnapshot captures the content fields of a. The version number
// is assigned by storage.
func NewVersionSnapshot(a *Article, actor, comment string, now time.Time) *ArticleVersion {
	return &ArticleVersion{
		ArticleID:     a.ID,
		Title:         a.Title,
		Body:          a.Body,
		Summary:       a.Summary,
		ChangeComment: comment,
		CreatedBy:     actor,
		CreatedAt:     now,
	}
}
