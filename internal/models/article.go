package models

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// ArticleStatus is the publication lifecycle state of an article
type ArticleStatus string

const (
	StatusDraft     ArticleStatus = "draft"
	StatusScheduled ArticleStatus = "scheduled"
	StatusPublished ArticleStatus = "published"
)

// ValidStatuses defines allowed article statuses
var ValidStatuses = map[ArticleStatus]bool{
	StatusDraft:     true,
	StatusScheduled: true,
	StatusPublished: true,
}

// SEO holds optional search-engine metadata. Empty strings mean absent.
type SEO struct {
	Title        string `json:"title,omitempty"`
	Description  string `json:"description,omitempty"`
	Keywords     string `json:"keywords,omitempty"`
	Image        string `json:"image,omitempty"`
	CanonicalURL string `json:"canonical_url,omitempty"`
}

// Article represents a published long-form document
type Article struct {
	ID            int64         `json:"id"`
	Title         string        `json:"title"`
	Slug          string        `json:"slug"`
	SlugLocked    bool          `json:"slug_locked"`
	Body          string        `json:"body"`
	Summary       string        `json:"summary,omitempty"`
	FeaturedImage string        `json:"featured_image,omitempty"`
	HeaderImage   string        `json:"header_image,omitempty"`
	SEO           SEO           `json:"seo"`
	Status        ArticleStatus `json:"status"`
	IsFeatured    bool          `json:"is_featured"`
	ReadTime      int           `json:"read_time"`
	Views         int64         `json:"views"`
	Likes         int64         `json:"likes"`
	ScheduledAt   *time.Time    `json:"scheduled_at,omitempty"`
	PublishedAt   *time.Time    `json:"published_at,omitempty"`
	AuthorID      *int64        `json:"author_id,omitempty"`
	CategoryID    *int64        `json:"category_id,omitempty"`
	HasEmbedding  bool          `json:"has_embedding"`
	IndexedAt     *time.Time    `json:"indexed_at,omitempty"`
	IsDeleted     bool          `json:"is_deleted"`
	DeletedAt     *time.Time    `json:"deleted_at,omitempty"`
	CreatedBy     string        `json:"created_by"`
	UpdatedBy     string        `json:"updated_by"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	Tags          []Tag         `json:"tags,omitempty"` // only populated by export
}

// Publish moves the article to Published. When the article is already
// published and refresh is false, published_at is left untouched.
func (a *Article) Publish(now time.Time, refresh bool) {
	if a.Status == StatusPublished && a.PublishedAt != nil && !refresh {
		a.ScheduledAt = nil
		return
	}
	a.Status = StatusPublished
	a.PublishedAt = timePtr(now)
	a.ScheduledAt = nil
}

// Schedule moves the article to Scheduled for publication at the given time
func (a *Article) Schedule(at time.Time) {
	a.Status = StatusScheduled
	a.ScheduledAt = timePtr(at)
	a.PublishedAt = nil
}

// MarkDraft reverts the article to Draft
func (a *Article) MarkDraft() {
	a.Status = StatusDraft
	a.ScheduledAt = nil
	a.PublishedAt = nil
}

// SoftDelete hides the article without removing it
func (a *Article) SoftDelete(now time.Time) {
	a.IsDeleted = true
	a.DeletedAt = timePtr(now)
}

// Undelete reverses SoftDelete
func (a *Article) Undelete() {
	a.IsDeleted = false
	a.DeletedAt = nil
}

// CheckInvariants verifies the status/timestamp pairing
func (a *Article) CheckInvariants() error {
	if !ValidStatuses[a.Status] {
		return fmt.Errorf("unknown status %q", a.Status)
	}
	if (a.Status == StatusPublished) != (a.PublishedAt != nil) {
		return fmt.Errorf("status %s with published_at set=%t", a.Status, a.PublishedAt != nil)
	}
	if (a.Status == StatusScheduled) != (a.ScheduledAt != nil) {
		return fmt.Errorf("status %s with scheduled_at set=%t", a.Status, a.ScheduledAt != nil)
	}
	if a.Views < 0 || a.Likes < 0 {
		return fmt.Errorf("negative counters views=%d likes=%d", a.Views, a.Likes)
	}
	return nil
}

// IsPublic reports whether the article is visible to default searches
func (a *Article) IsPublic() bool {
	return !a.IsDeleted && a.Status == StatusPublished
}

// IndexText is the text fed to the embedding collaborator
func (a *Article) IndexText() string {
	return a.Title + "\n\n" + a.Summary + "\n\n" + a.Body
}

// Clone returns a deep copy
func (a *Article) Clone() *Article {
	if a == nil {
		return nil
	}
	c := *a
	c.ScheduledAt = cloneTime(a.ScheduledAt)
	c.PublishedAt = cloneTime(a.PublishedAt)
	c.IndexedAt = cloneTime(a.IndexedAt)
	c.DeletedAt = cloneTime(a.DeletedAt)
	if a.AuthorID != nil {
		v := *a.AuthorID
		c.AuthorID = &v
	}
	if a.CategoryID != nil {
		v := *a.CategoryID
		c.CategoryID = &v
	}
	if a.Tags != nil {
		c.Tags = append([]Tag(nil), a.Tags...)
	}
	return &c
}

// ReadTime estimates reading minutes for body at wpm words per minute,
// rounded up, never below one.
func ReadTime(body string, wpm int) int {
	if wpm < 1 {
		wpm = 1
	}
	words := len(strings.Fields(body))
	minutes := int(math.Ceil(float64(words) / float64(wpm)))
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
