package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/content-store-api/internal/apperr"
	"github.com/content-store-api/internal/models"
	"github.com/content-store-api/internal/slug"
)

const (
	MaxTitleLength   = 300
	MaxSummaryLength = 1000
	MaxActorLength   = 100
	MaxCommentLength = 500
	MaxURLLength     = 2048
)

// Validator checks article input before it reaches storage
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a new validator instance
func NewValidator() *Validator {
	return &Validator{validate: validator.New()}
}

// NormalizeURL prefixes a scheme when missing and checks the result is an
// absolute http(s) URL with a dotted host. Empty input is valid and stays empty.
func (v *Validator) NormalizeURL(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", true
	}
	if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
		s = "https://" + s
	}
	if len(s) > MaxURLLength {
		return s, false
	}
	if err := v.validate.Var(s, "url"); err != nil {
		return s, false
	}
	host := strings.TrimPrefix(strings.TrimPrefix(s, "https://"), "http://")
	if i := strings.IndexAny(host, "/?#"); i >= 0 {
		host = host[:i]
	}
	if dot := strings.LastIndex(host, "."); dot <= 0 || len(host)-dot-1 < 2 {
		return s, false
	}
	return s, true
}

// ValidateInput checks a create request and normalizes its URL fields in place
func (v *Validator) ValidateInput(in *models.ArticleInput) []apperr.FieldError {
	var errors []apperr.FieldError

	if strings.TrimSpace(in.Title) == "" {
		errors = append(errors, apperr.FieldError{Field: "title", Message: "title is required"})
	}
	if in.Slug != "" && !slug.Valid(in.Slug) {
		errors = append(errors, apperr.FieldError{Field: "slug", Message: "slug must be kebab-case (lowercase letters, numbers, hyphens)", Value: in.Slug})
	}

	errors = append(errors, v.normalizeURLField("featured_image", &in.FeaturedImage)...)
	errors = append(errors, v.normalizeURLField("header_image", &in.HeaderImage)...)
	errors = append(errors, v.normalizeURLField("seo.image", &in.SEO.Image)...)
	errors = append(errors, v.normalizeURLField("seo.canonical_url", &in.SEO.CanonicalURL)...)

	return errors
}

// ValidatePatch checks a partial update and normalizes its URL fields in place
func (v *Validator) ValidatePatch(p *models.ArticlePatch) []apperr.FieldError {
	var errors []apperr.FieldError

	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		errors = append(errors, apperr.FieldError{Field: "title", Message: "title must not be empty"})
	}
	if p.Slug != nil {
		if p.ResetSlug {
			errors = append(errors, apperr.FieldError{Field: "slug", Message: "slug and reset_slug are mutually exclusive", Value: *p.Slug})
		} else if !slug.Valid(*p.Slug) {
			errors = append(errors, apperr.FieldError{Field: "slug", Message: "slug must be kebab-case (lowercase letters, numbers, hyphens)", Value: *p.Slug})
		}
	}

	if p.AuthorID != nil && p.ClearAuthor {
		errors = append(errors, apperr.FieldError{Field: "author_id", Message: "author_id and clear_author are mutually exclusive"})
	}
	if p.CategoryID != nil && p.ClearCategory {
		errors = append(errors, apperr.FieldError{Field: "category_id", Message: "category_id and clear_category are mutually exclusive"})
	}

	if p.FeaturedImage != nil {
		errors = append(errors, v.normalizeURLField("featured_image", p.FeaturedImage)...)
	}
	if p.HeaderImage != nil {
		errors = append(errors, v.normalizeURLField("header_image", p.HeaderImage)...)
	}
	if p.SEO != nil {
		if p.SEO.Image != nil {
			errors = append(errors, v.normalizeURLField("seo.image", p.SEO.Image)...)
		}
		if p.SEO.CanonicalURL != nil {
			errors = append(errors, v.normalizeURLField("seo.canonical_url", p.SEO.CanonicalURL)...)
		}
	}

	return errors
}

// ValidateArticle checks the merged article right before it is written
func (v *Validator) ValidateArticle(a *models.Article) []apperr.FieldError {
	var errors []apperr.FieldError

	if strings.TrimSpace(a.Title) == "" {
		errors = append(errors, apperr.FieldError{Field: "title", Message: "title is required"})
	} else if utf8.RuneCountInString(a.Title) > MaxTitleLength {
		errors = append(errors, apperr.FieldError{
			Field:   "title",
			Message: fmt.Sprintf("title exceeds maximum of %d characters", MaxTitleLength),
		})
	}
	if utf8.RuneCountInString(a.Summary) > MaxSummaryLength {
		errors = append(errors, apperr.FieldError{
			Field:   "summary",
			Message: fmt.Sprintf("summary exceeds maximum of %d characters", MaxSummaryLength),
		})
	}
	if a.Slug == "" {
		errors = append(errors, apperr.FieldError{Field: "slug", Message: "title produces an empty slug, provide one explicitly", Value: a.Title})
	} else if !slug.Valid(a.Slug) {
		errors = append(errors, apperr.FieldError{Field: "slug", Message: "slug must be kebab-case (lowercase letters, numbers, hyphens)", Value: a.Slug})
	}
	if !models.ValidStatuses[a.Status] {
		errors = append(errors, apperr.FieldError{Field: "status", Message: "invalid status, must be one of: draft, scheduled, published", Value: string(a.Status)})
	}
	if err := a.CheckInvariants(); err != nil && models.ValidStatuses[a.Status] {
		errors = append(errors, apperr.FieldError{Field: "status", Message: err.Error(), Value: string(a.Status)})
	}

	return errors
}

// ValidateActor checks the acting user identifier
func ValidateActor(actor string) *apperr.FieldError {
	switch {
	case strings.TrimSpace(actor) == "":
		return &apperr.FieldError{Field: "actor", Message: "actor is required"}
	case utf8.RuneCountInString(actor) > MaxActorLength:
		return &apperr.FieldError{Field: "actor", Message: fmt.Sprintf("actor exceeds maximum of %d characters", MaxActorLength)}
	}
	return nil
}

// ValidateChangeComment checks a version change comment
func ValidateChangeComment(comment string) *apperr.FieldError {
	if utf8.RuneCountInString(comment) > MaxCommentLength {
		return &apperr.FieldError{
			Field:   "change_comment",
			Message: fmt.Sprintf("change_comment exceeds maximum of %d characters", MaxCommentLength),
		}
	}
	return nil
}

func (v *Validator) normalizeURLField(field string, value *string) []apperr.FieldError {
	normalized, ok := v.NormalizeURL(*value)
	if !ok {
		return []apperr.FieldError{{Field: field, Message: "invalid URL", Value: *value}}
	}
	*value = normalized
	return nil
}
