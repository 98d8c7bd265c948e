package models

import (
	"time"
)

// ListParams are already-parsed list parameters
type ListParams struct {
	Skip               int
	Limit              int
	Search             string // case-insensitive containment on title/summary
	Status             ArticleStatus
	AuthorID           *int64
	CategoryID         *int64
	Featured           *bool
	PublishedFrom      *time.Time // published_at >= PublishedFrom
	PublishedTo        *time.Time // published_at < PublishedTo
	IncludeUnpublished bool       // when false only published articles are listed
	IncludeDeleted     bool
}

// PublishedWithin reports whether a falls in the half-open published_at
// range [from, to). A nil bound is open; an unpublished article only
// matches when both bounds are nil.
func PublishedWithin(a *Article, from, to *time.Time) bool {
	if from == nil && to == nil {
		return true
	}
	if a.PublishedAt == nil {
		return false
	}
	if from != nil && a.PublishedAt.Before(*from) {
		return false
	}
	return to == nil || a.PublishedAt.Before(*to)
}

// ArticlePage is one page of a listing
type ArticlePage struct {
	Items []*Article `json:"items"`
	Total int        `json:"total"`
	Skip  int        `json:"skip"`
	Limit int        `json:"limit"`
}

// PopularSignal selects the ranking signal for popular listings
type PopularSignal string

const (
	PopularByViews  PopularSignal = "views"
	PopularByLikes  PopularSignal = "likes"
	PopularByRecent PopularSignal = "recent"
)

// ValidPopularSignals defines allowed ranking signals
var ValidPopularSignals = map[PopularSignal]bool{
	PopularByViews:  true,
	PopularByLikes:  true,
	PopularByRecent: true,
}

// PopularParams selects the top published articles by a signal
type PopularParams struct {
	Signal PopularSignal
	Limit  int
}

// LexicalQuery is a ranked keyword search
type LexicalQuery struct {
	Query              string
	Limit              int
	Skip               int
	PublishedFrom      *time.Time
	PublishedTo        *time.Time
	IncludeUnpublished bool
}

// SemanticQuery is a nearest-neighbour search. When Vector is empty, Text
// is embedded first.
type SemanticQuery struct {
	Vector             []float32
	Text               string
	Limit              int
	IncludeUnpublished bool
}

// HybridQuery combines lexical and semantic retrieval
type HybridQuery struct {
	Text               string
	Vector             []float32
	Limit              int
	SemanticWeight     *float64
	IncludeUnpublished bool
}

// Match kinds reported on search hits
const (
	MatchLexical  = "lexical"
	MatchFuzzy    = "fuzzy"
	MatchSemantic = "semantic"
	MatchHybrid   = "hybrid"
)

// HighlightStart and HighlightStop wrap matched terms in highlights
const (
	HighlightStart = "<b>"
	HighlightStop  = "</b>"
)

// SearchHit is one ranked search result. Score is higher-is-better;
// Distance is only set for semantic matches. The highlights are only set
// for full text matches.
type SearchHit struct {
	Article          *Article `json:"article"`
	Score            float64  `json:"score"`
	Distance         *float64 `json:"distance,omitempty"`
	Match            string   `json:"match"`
	TextScore        float64  `json:"text_score,omitempty"`
	SemanticScore    float64  `json:"semantic_score,omitempty"`
	HighlightTitle   string   `json:"highlight_title,omitempty"`
	HighlightSummary string   `json:"highlight_summary,omitempty"`
}

// SearchResults wraps hits with any degradation warnings
type SearchResults struct {
	Hits     []SearchHit    `json:"hits"`
	Warnings []IndexWarning `json:"warnings,omitempty"`
}

// TitleSuggestion is an autocomplete entry
type TitleSuggestion struct {
	Slug  string `json:"slug"`
	Title string `json:"title"`
}

// WarningDegradedIndex marks a mutation whose semantic vector could not be computed
const WarningDegradedIndex = "degraded_index"

// IndexWarning is a non-fatal indexing problem attached to a result
type IndexWarning struct {
	Code      string `json:"code"`
	ArticleID int64  `json:"article_id,omitempty"`
	Reason    string `json:"reason"`
}

// MutationResult is the outcome of a content mutation
type MutationResult struct {
	Article  *Article       `json:"article"`
	Warnings []IndexWarning `json:"warnings,omitempty"`
}

// ReindexReport summarises a bulk reindex
type ReindexReport struct {
	Updated    int           `json:"updated"`
	Failed     int           `json:"failed"`
	Degraded   int           `json:"degraded"`
	DurationMs int64         `json:"duration_ms"`
	Duration   time.Duration `json:"-"`
}

// Stats holds article counts by status
type Stats struct {
	Total    int                   `json:"total"`
	Deleted  int                   `json:"deleted"`
	ByStatus map[ArticleStatus]int `json:"by_status"`
}

// Counter names an engagement counter
type Counter string

const (
	CounterViews Counter = "views"
	CounterLikes Counter = "likes"
)

// ValidCounters defines allowed counters
var ValidCounters = map[Counter]bool{
	CounterViews: true,
	CounterLikes: true,
}
