package search

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/content-store-api/internal/config"
	"github.com/content-store-api/internal/metrics"
	"github.com/content-store-api/internal/models"
)

// Entry is the derived index state for one article
type Entry struct {
	Document  Document
	Embedding []float32 // nil when semantic indexing is off or degraded
}

// Maintainer derives index entries from article content. A nil embedder
// turns semantic indexing off.
type Maintainer struct {
	embedder   Embedder
	dimensions int
	log        zerolog.Logger
}

// NewMaintainer creates a maintainer
func NewMaintainer(embedder Embedder, dimensions int, log zerolog.Logger) *Maintainer {
	return &Maintainer{
		embedder:   embedder,
		dimensions: dimensions,
		log:        log.With().Str("component", "index").Logger(),
	}
}

// SemanticEnabled reports whether vectors are computed
func (m *Maintainer) SemanticEnabled() bool {
	return m.embedder != nil
}

// Dimensions returns the configured vector length
func (m *Maintainer) Dimensions() int {
	return m.dimensions
}

// Embedding is a semantic vector computed ahead of the transaction that
// stores it, together with the text it was computed from
type Embedding struct {
	text   string
	vector []float32
	err    error
}

// Matches reports whether e was computed from the current content of a
func (e *Embedding) Matches(a *models.Article) bool {
	return e != nil && e.text == a.IndexText()
}

// Embed computes the vector of a's indexed text. It returns nil when
// semantic indexing is off. A failure is kept on the result and surfaces as
// a degraded_index warning once the entry is built, so callers can embed
// before taking any lock.
func (m *Maintainer) Embed(ctx context.Context, a *models.Article) *Embedding {
	if m.embedder == nil {
		return nil
	}
	text := a.IndexText()
	vec, err := m.embedder.Embed(ctx, text)
	if err == nil {
		err = CheckDimensions(vec, m.dimensions)
	}
	if err != nil {
		return &Embedding{text: text, err: err}
	}
	return &Embedding{text: text, vector: vec}
}

// BuildWith derives the index entry for a from a precomputed embedding.
// Lexical indexing always succeeds; a failed, missing or stale embedding
// yields an entry without vector and a degraded_index warning.
func (m *Maintainer) BuildWith(a *models.Article, e *Embedding) (Entry, *models.IndexWarning) {
	entry := Entry{Document: BuildDocument(a)}
	if m.embedder == nil {
		return entry, nil
	}

	var err error
	switch {
	case e == nil:
		err = ErrEmbeddingMissing
	case !e.Matches(a):
		err = ErrStaleEmbedding
	default:
		err = e.err
	}
	if err != nil {
		metrics.DegradedIndex.Inc()
		m.log.Warn().Err(err).Int64("article_id", a.ID).Msg("Semantic index degraded")
		return entry, &models.IndexWarning{
			Code:      models.WarningDegradedIndex,
			ArticleID: a.ID,
			Reason:    err.Error(),
		}
	}

	entry.Embedding = e.vector
	return entry, nil
}

// EmbedQuery embeds free text for semantic search
func (m *Maintainer) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if m.embedder == nil {
		return nil, ErrEmbeddingDisabled
	}
	vec, err := m.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := CheckDimensions(vec, m.dimensions); err != nil {
		return nil, errors.Join(errors.New("query embedding rejected"), err)
	}
	return vec, nil
}

// NewMaintainerFromConfig wires the OpenAI embedder behind the cache when
// embedding is enabled, and a lexical-only maintainer otherwise
func NewMaintainerFromConfig(cfg config.SearchConfig, log zerolog.Logger) *Maintainer {
	if !cfg.EmbeddingEnabled {
		return NewMaintainer(nil, cfg.EmbeddingDimensions, log)
	}
	inner := NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.EmbeddingModel, cfg.EmbeddingDimensions)
	cached := NewCachedEmbedder(inner, CacheOptions{
		Size:      cfg.EmbeddingCacheSize,
		RateLimit: cfg.EmbeddingRateLimit,
		MaxChars:  cfg.EmbeddingMaxChars,
		Timeout:   cfg.EmbeddingTimeout,
	})
	return NewMaintainer(cached, cfg.EmbeddingDimensions, log)
}
