package search

import (
	"sort"
	"time"

	"github.com/content-store-api/internal/models"
)

// MergeOptions tunes hybrid ranking
type MergeOptions struct {
	SemanticWeight float64 // 0 = lexical only, 1 = semantic only
	Limit          int
	Now            time.Time
	RecencyWindow  time.Duration // published within the window get a boost
	RecencyBoost   float64       // maximum relative boost for brand-new articles
	FeaturedBoost  float64       // relative boost for featured articles
}

// DefaultMergeOptions returns the standard hybrid tuning
func DefaultMergeOptions(weight float64, limit int, now time.Time) MergeOptions {
	return MergeOptions{
		SemanticWeight: weight,
		Limit:          limit,
		Now:            now,
		RecencyWindow:  30 * 24 * time.Hour,
		RecencyBoost:   0.15,
		FeaturedBoost:  0.10,
	}
}

// Merge combines lexical and semantic hits. Lexical scores are normalised
// by the best lexical score, semantic scores as 1 - d/maxDistance.
func Merge(lexical, semantic []models.SearchHit, opts MergeOptions) []models.SearchHit {
	type combined struct {
		hit      models.SearchHit
		text     float64
		semantic float64
	}

	byID := make(map[int64]*combined)
	var order []int64

	var maxText float64
	for _, h := range lexical {
		if h.Score > maxText {
			maxText = h.Score
		}
	}
	for _, h := range lexical {
		c := &combined{hit: h}
		if maxText > 0 {
			c.text = h.Score / maxText
		}
		byID[h.Article.ID] = c
		order = append(order, h.Article.ID)
	}

	var maxDist float64
	for _, h := range semantic {
		if h.Distance != nil && *h.Distance > maxDist {
			maxDist = *h.Distance
		}
	}
	for _, h := range semantic {
		sem := 1.0
		if h.Distance != nil && maxDist > 0 {
			sem = 1 - *h.Distance/maxDist
		}
		c, ok := byID[h.Article.ID]
		if !ok {
			c = &combined{hit: h}
			byID[h.Article.ID] = c
			order = append(order, h.Article.ID)
		}
		c.semantic = sem
		c.hit.Distance = h.Distance
	}

	w := opts.SemanticWeight
	out := make([]models.SearchHit, 0, len(order))
	for _, id := range order {
		c := byID[id]
		score := (1-w)*c.text + w*c.semantic
		score *= 1 + recencyBoost(c.hit.Article, opts)
		if c.hit.Article.IsFeatured {
			score *= 1 + opts.FeaturedBoost
		}
		h := c.hit
		h.Score = score
		h.TextScore = c.text
		h.SemanticScore = c.semantic
		h.Match = models.MatchHybrid
		out = append(out, h)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Article.ID < out[j].Article.ID
	})
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out
}

func recencyBoost(a *models.Article, opts MergeOptions) float64 {
	if a.PublishedAt == nil || opts.RecencyWindow <= 0 {
		return 0
	}
	age := opts.Now.Sub(*a.PublishedAt)
	if age < 0 {
		age = 0
	}
	if age >= opts.RecencyWindow {
		return 0
	}
	return opts.RecencyBoost * (1 - float64(age)/float64(opts.RecencyWindow))
}
