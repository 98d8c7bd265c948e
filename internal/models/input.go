package models

// ArticleInput carries the fields supplied when creating an article
type ArticleInput struct {
	Title         string `json:"title"`
	Slug          string `json:"slug,omitempty"` // explicit slug pins it against title changes
	Body          string `json:"body"`
	Summary       string `json:"summary,omitempty"`
	FeaturedImage string `json:"featured_image,omitempty"`
	HeaderImage   string `json:"header_image,omitempty"`
	SEO           SEO    `json:"seo"`
	AuthorID      *int64 `json:"author_id,omitempty"`
	CategoryID    *int64 `json:"category_id,omitempty"`
	IsFeatured    bool   `json:"is_featured"`
}

// SEOPatch is a partial SEO update
type SEOPatch struct {
	Title        *string `json:"title,omitempty"`
	Description  *string `json:"description,omitempty"`
	Keywords     *string `json:"keywords,omitempty"`
	Image        *string `json:"image,omitempty"`
	CanonicalURL *string `json:"canonical_url,omitempty"`
}

// ArticlePatch is a partial content update. Nil fields are left unchanged;
// ClearAuthor and ClearCategory unset the optional references.
type ArticlePatch struct {
	Title         *string   `json:"title,omitempty"`
	Slug          *string   `json:"slug,omitempty"`
	ResetSlug     bool      `json:"reset_slug,omitempty"` // unpin and derive from title again
	Body          *string   `json:"body,omitempty"`
	Summary       *string   `json:"summary,omitempty"`
	FeaturedImage *string   `json:"featured_image,omitempty"`
	HeaderImage   *string   `json:"header_image,omitempty"`
	SEO           *SEOPatch `json:"seo,omitempty"`
	AuthorID      *int64    `json:"author_id,omitempty"`
	CategoryID    *int64    `json:"category_id,omitempty"`
	ClearAuthor   bool      `json:"clear_author,omitempty"`
	ClearCategory bool      `json:"clear_category,omitempty"`
}

// IsEmpty reports whether the patch changes nothing
func (p *ArticlePatch) IsEmpty() bool {
	return p.Title == nil && p.Slug == nil && !p.ResetSlug && p.Body == nil &&
		p.Summary == nil && p.FeaturedImage == nil && p.HeaderImage == nil &&
		p.SEO == nil && p.AuthorID == nil && p.CategoryID == nil && !p.ClearAuthor && !p.ClearCategory
}

// ContentPatch builds a patch replacing the indexed content fields
func ContentPatch(title, body, summary string) *ArticlePatch {
	return &ArticlePatch{Title: &title, Body: &body, Summary: &summary}
}
