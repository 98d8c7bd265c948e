package mocks

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/content-store-api/internal/apperr"
	"github.com/content-store-api/internal/models"
	"github.com/content-store-api/internal/repository"
	"github.com/content-store-api/internal/search"
)

// MemoryStore is an in-memory implementation of every repository. It is
// safe for concurrent use. A transaction works on a private copy of the
// committed data, which replaces it on commit; readers outside the
// transaction only ever see committed state. Transactions are serialized,
// and engagement counters live outside the copy so increments never wait
// for a transaction and are never lost to a rollback.
type MemoryStore struct {
	txMu sync.Mutex   // held for the whole of a transaction or a single write
	mu   sync.RWMutex // guards data
	data *memData

	counterMu sync.Mutex
	counters  map[int64]*[2]int64 // views, likes

	// FailWith, when set, makes every call return StorageUnavailable
	FailWith error
	// SetIndexErr, when set, makes SetIndex fail
	SetIndexErr error

	TxCount int
}

type memData struct {
	nextID      int64
	articles    map[int64]*models.Article
	versions    map[int64][]*models.ArticleVersion
	tags        map[int64]models.Tag
	articleTags map[int64]map[int64]bool
	index       map[int64]search.Entry
}

func (d *memData) clone() *memData {
	c := &memData{
		nextID:      d.nextID,
		articles:    make(map[int64]*models.Article, len(d.articles)),
		versions:    make(map[int64][]*models.ArticleVersion, len(d.versions)),
		tags:        make(map[int64]models.Tag, len(d.tags)),
		articleTags: make(map[int64]map[int64]bool, len(d.articleTags)),
		index:       make(map[int64]search.Entry, len(d.index)),
	}
	for id, a := range d.articles {
		c.articles[id] = a.Clone()
	}
	for id, vs := range d.versions {
		c.versions[id] = append([]*models.ArticleVersion(nil), vs...)
	}
	for id, t := range d.tags {
		c.tags[id] = t
	}
	for id, set := range d.articleTags {
		cs := make(map[int64]bool, len(set))
		for k, v := range set {
			cs[k] = v
		}
		c.articleTags[id] = cs
	}
	for id, e := range d.index {
		c.index[id] = e
	}
	return c
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: &memData{
			articles:    make(map[int64]*models.Article),
			versions:    make(map[int64][]*models.ArticleVersion),
			tags:        make(map[int64]models.Tag),
			articleTags: make(map[int64]map[int64]bool),
			index:       make(map[int64]search.Entry),
		},
		counters: make(map[int64]*[2]int64),
	}
}

// Repositories returns the repository set backed by the store
func (s *MemoryStore) Repositories() *repository.Repositories {
	return s.view(nil)
}

// view binds the repositories to tx, or to the committed data when tx is nil
func (s *MemoryStore) view(tx *memData) *repository.Repositories {
	v := &memView{s: s, tx: tx}
	return &repository.Repositories{
		Article: &memArticles{v},
		Version: &memVersions{v},
		Tag:     &memTags{v},
		Counter: &memCounters{v},
		Tx:      v,
	}
}

// AddTag registers a tag in the catalog owned by the tag collaborator
func (s *MemoryStore) AddTag(t models.Tag) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.tags[t.ID] = t
}

// IndexEntry returns the stored index entry of an article
func (s *MemoryStore) IndexEntry(id int64) (search.Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data.index[id]
	return e, ok
}

// ArticleCount returns the number of stored articles, deleted included
func (s *MemoryStore) ArticleCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data.articles)
}

type memView struct {
	s  *MemoryStore
	tx *memData // uncommitted copy, nil outside a transaction
}

// WithinTx runs fn atomically. Nested calls join the outer transaction.
func (v *memView) WithinTx(ctx context.Context, fn func(repos *repository.Repositories) error) error {
	if err := v.check("transaction"); err != nil {
		return err
	}
	if v.tx != nil {
		return fn(v.s.view(v.tx))
	}

	v.s.txMu.Lock()
	defer v.s.txMu.Unlock()

	v.s.mu.Lock()
	work := v.s.data.clone()
	v.s.TxCount++
	v.s.mu.Unlock()

	err := fn(v.s.view(work))
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return err
	}

	v.s.mu.Lock()
	v.s.data = work
	v.s.mu.Unlock()
	return nil
}

func (v *memView) check(op string) error {
	if v.s.FailWith != nil {
		return apperr.Unavailable(op, v.s.FailWith)
	}
	return nil
}

func (v *memView) write(op string, fn func(d *memData) error) error {
	if err := v.check(op); err != nil {
		return err
	}
	if v.tx != nil {
		return fn(v.tx)
	}
	v.s.txMu.Lock()
	defer v.s.txMu.Unlock()
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	return fn(v.s.data)
}

func (v *memView) read(op string, fn func(d *memData) error) error {
	if err := v.check(op); err != nil {
		return err
	}
	if v.tx != nil {
		return fn(v.tx)
	}
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	return fn(v.s.data)
}

// withCounters returns a copy of a carrying the live counter values
func (v *memView) withCounters(a *models.Article) *models.Article {
	c := a.Clone()
	v.s.counterMu.Lock()
	if cnt, ok := v.s.counters[a.ID]; ok {
		c.Views, c.Likes = cnt[0], cnt[1]
	}
	v.s.counterMu.Unlock()
	return c
}

// memArticles implements repository.ArticleRepository
type memArticles struct{ v *memView }

func slugTaken(d *memData, slug string, excludeID int64) bool {
	for id, a := range d.articles {
		if id != excludeID && !a.IsDeleted && a.Slug == slug {
			return true
		}
	}
	return false
}

func (r *memArticles) Create(ctx context.Context, a *models.Article) error {
	return r.v.write("article.create", func(d *memData) error {
		if !a.IsDeleted && slugTaken(d, a.Slug, 0) {
			return apperr.Conflict("article", "slug", a.Slug)
		}
		d.nextID++
		a.ID = d.nextID
		stored := a.Clone()
		stored.Views, stored.Likes = 0, 0
		d.articles[a.ID] = stored

		r.v.s.counterMu.Lock()
		r.v.s.counters[a.ID] = &[2]int64{}
		r.v.s.counterMu.Unlock()
		return nil
	})
}

func (r *memArticles) Update(ctx context.Context, a *models.Article) error {
	return r.v.write("article.update", func(d *memData) error {
		if _, ok := d.articles[a.ID]; !ok {
			return apperr.NotFound("article", "id", a.ID)
		}
		if !a.IsDeleted && slugTaken(d, a.Slug, a.ID) {
			return apperr.Conflict("article", "slug", a.Slug)
		}
		stored := a.Clone()
		stored.HasEmbedding = d.articles[a.ID].HasEmbedding
		stored.IndexedAt = d.articles[a.ID].IndexedAt
		d.articles[a.ID] = stored
		return nil
	})
}

func (r *memArticles) get(op string, id int64, includeDeleted bool) (*models.Article, error) {
	var out *models.Article
	err := r.v.read(op, func(d *memData) error {
		a, ok := d.articles[id]
		if !ok || (a.IsDeleted && !includeDeleted) {
			return nil
		}
		out = r.v.withCounters(a)
		return nil
	})
	return out, err
}

func (r *memArticles) GetByID(ctx context.Context, id int64, includeDeleted bool) (*models.Article, error) {
	return r.get("article.get", id, includeDeleted)
}

func (r *memArticles) GetForUpdate(ctx context.Context, id int64) (*models.Article, error) {
	return r.get("article.get_for_update", id, true)
}

func (r *memArticles) GetBySlug(ctx context.Context, slug string) (*models.Article, error) {
	var out *models.Article
	err := r.v.read("article.get_by_slug", func(d *memData) error {
		for _, a := range d.articles {
			if !a.IsDeleted && a.Slug == slug {
				out = r.v.withCounters(a)
				return nil
			}
		}
		return nil
	})
	return out, err
}

func (r *memArticles) SlugTaken(ctx context.Context, slug string, excludeID int64) (bool, error) {
	var taken bool
	err := r.v.read("article.slug_taken", func(d *memData) error {
		taken = slugTaken(d, slug, excludeID)
		return nil
	})
	return taken, err
}

// LockSlug is a no-op: transactions are already serialized
func (r *memArticles) LockSlug(ctx context.Context, slug string) error {
	return r.v.check("article.lock_slug")
}

// sorted returns copies of the articles matching keep, in ID order
func (r *memArticles) sorted(d *memData, keep func(*models.Article) bool) []*models.Article {
	out := []*models.Article{}
	for _, a := range d.articles {
		if keep(a) {
			out = append(out, r.v.withCounters(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *memArticles) List(ctx context.Context, p models.ListParams) ([]*models.Article, int, error) {
	var items []*models.Article
	var total int
	err := r.v.read("article.list", func(d *memData) error {
		needle := strings.ToLower(strings.TrimSpace(p.Search))
		all := r.sorted(d, func(a *models.Article) bool {
			switch {
			case a.IsDeleted && !p.IncludeDeleted:
				return false
			case p.Status != "" && a.Status != p.Status:
				return false
			case p.Status == "" && !p.IncludeUnpublished && a.Status != models.StatusPublished:
				return false
			case p.AuthorID != nil && (a.AuthorID == nil || *a.AuthorID != *p.AuthorID):
				return false
			case p.CategoryID != nil && (a.CategoryID == nil || *a.CategoryID != *p.CategoryID):
				return false
			case p.Featured != nil && a.IsFeatured != *p.Featured:
				return false
			case !models.PublishedWithin(a, p.PublishedFrom, p.PublishedTo):
				return false
			case needle != "" && !strings.Contains(strings.ToLower(a.Title), needle) &&
				!strings.Contains(strings.ToLower(a.Summary), needle):
				return false
			}
			return true
		})
		sort.SliceStable(all, func(i, j int) bool {
			ti, tj := listTime(all[i]), listTime(all[j])
			if !ti.Equal(tj) {
				return ti.After(tj)
			}
			return all[i].ID > all[j].ID
		})
		total = len(all)
		items = page(all, p.Skip, p.Limit)
		return nil
	})
	return items, total, err
}

func listTime(a *models.Article) time.Time {
	if a.PublishedAt != nil {
		return *a.PublishedAt
	}
	return a.CreatedAt
}

func page[T any](items []T, skip, limit int) []T {
	if skip >= len(items) {
		return []T{}
	}
	items = items[skip:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

func (r *memArticles) ListPopular(ctx context.Context, p models.PopularParams) ([]*models.Article, error) {
	var out []*models.Article
	err := r.v.read("article.list_popular", func(d *memData) error {
		all := r.sorted(d, (*models.Article).IsPublic)
		sort.SliceStable(all, func(i, j int) bool {
			a, b := all[i], all[j]
			switch p.Signal {
			case models.PopularByLikes:
				if a.Likes != b.Likes {
					return a.Likes > b.Likes
				}
			case models.PopularByRecent:
				if !a.PublishedAt.Equal(*b.PublishedAt) {
					return a.PublishedAt.After(*b.PublishedAt)
				}
			default:
				if a.Views != b.Views {
					return a.Views > b.Views
				}
			}
			return a.ID < b.ID
		})
		out = page(all, 0, p.Limit)
		return nil
	})
	return out, err
}

func (r *memArticles) SuggestTitles(ctx context.Context, prefix string, limit int) ([]models.TitleSuggestion, error) {
	out := []models.TitleSuggestion{}
	err := r.v.read("article.suggest", func(d *memData) error {
		prefix = strings.ToLower(prefix)
		all := r.sorted(d, func(a *models.Article) bool {
			return a.IsPublic() && strings.HasPrefix(strings.ToLower(a.Title), prefix)
		})
		sort.SliceStable(all, func(i, j int) bool {
			if all[i].Views != all[j].Views {
				return all[i].Views > all[j].Views
			}
			return all[i].Title < all[j].Title
		})
		for _, a := range page(all, 0, limit) {
			out = append(out, models.TitleSuggestion{Slug: a.Slug, Title: a.Title})
		}
		return nil
	})
	return out, err
}

func (r *memArticles) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]*models.Article, error) {
	var out []*models.Article
	err := r.v.read("article.list_due", func(d *memData) error {
		all := r.sorted(d, func(a *models.Article) bool {
			return !a.IsDeleted && a.Status == models.StatusScheduled && !a.ScheduledAt.After(now)
		})
		sort.SliceStable(all, func(i, j int) bool { return all[i].ScheduledAt.Before(*all[j].ScheduledAt) })
		out = page(all, 0, limit)
		return nil
	})
	return out, err
}

func (r *memArticles) ListIDs(ctx context.Context, includeDeleted bool) ([]int64, error) {
	var ids []int64
	err := r.v.read("article.list_ids", func(d *memData) error {
		for _, a := range r.sorted(d, func(a *models.Article) bool { return includeDeleted || !a.IsDeleted }) {
			ids = append(ids, a.ID)
		}
		return nil
	})
	return ids, err
}

func (r *memArticles) SetIndex(ctx context.Context, id int64, entry search.Entry, at time.Time) error {
	return r.v.write("article.set_index", func(d *memData) error {
		if r.v.s.SetIndexErr != nil {
			return r.v.s.SetIndexErr
		}
		a, ok := d.articles[id]
		if !ok {
			return apperr.NotFound("article", "id", id)
		}
		d.index[id] = entry
		a.HasEmbedding = entry.Embedding != nil
		a.IndexedAt = &at
		return nil
	})
}

func (r *memArticles) ClearIndex(ctx context.Context, id int64) error {
	return r.v.write("article.clear_index", func(d *memData) error {
		delete(d.index, id)
		if a, ok := d.articles[id]; ok {
			a.HasEmbedding = false
			a.IndexedAt = nil
		}
		return nil
	})
}

func (r *memArticles) searchable(d *memData, id int64, includeUnpublished bool) (*models.Article, bool) {
	a, ok := d.articles[id]
	if !ok || a.IsDeleted || (!includeUnpublished && a.Status != models.StatusPublished) {
		return nil, false
	}
	return a, true
}

func (r *memArticles) lexicalCandidate(d *memData, id int64, q models.LexicalQuery) (*models.Article, bool) {
	a, ok := r.searchable(d, id, q.IncludeUnpublished)
	if !ok || !models.PublishedWithin(a, q.PublishedFrom, q.PublishedTo) {
		return nil, false
	}
	return a, true
}

// highlight wraps every token of text found in terms the way ts_headline does
func highlight(text string, terms []string) string {
	want := make(map[string]bool, len(terms))
	for _, t := range terms {
		want[t] = true
	}
	var b strings.Builder
	start := -1
	flush := func(end int) {
		word := text[start:end]
		if want[strings.ToLower(word)] {
			b.WriteString(models.HighlightStart + word + models.HighlightStop)
		} else {
			b.WriteString(word)
		}
		start = -1
	}
	for i, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			flush(i)
		}
		b.WriteRune(r)
	}
	if start >= 0 {
		flush(len(text))
	}
	return b.String()
}

func rankHits(hits []models.SearchHit, skip, limit int) []models.SearchHit {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Article.ID < hits[j].Article.ID
	})
	return page(hits, skip, limit)
}

// LexicalSearch scores the stored index documents, not the live rows
func (r *memArticles) LexicalSearch(ctx context.Context, q models.LexicalQuery) ([]models.SearchHit, error) {
	hits := []models.SearchHit{}
	err := r.v.read("article.lexical_search", func(d *memData) error {
		terms := search.QueryTerms(q.Query)
		for id, entry := range d.index {
			a, ok := r.lexicalCandidate(d, id, q)
			if !ok {
				continue
			}
			if score := entry.Document.Score(terms); score > 0 {
				hits = append(hits, models.SearchHit{
					Article:          r.v.withCounters(a),
					Score:            score,
					Match:            models.MatchLexical,
					HighlightTitle:   highlight(a.Title, terms),
					HighlightSummary: highlight(a.Summary, terms),
				})
			}
		}
		return nil
	})
	return rankHits(hits, q.Skip, q.Limit), err
}

func (r *memArticles) FuzzySearch(ctx context.Context, q models.LexicalQuery) ([]models.SearchHit, error) {
	hits := []models.SearchHit{}
	err := r.v.read("article.fuzzy_search", func(d *memData) error {
		needle := strings.ToLower(strings.TrimSpace(q.Query))
		if needle == "" {
			return nil
		}
		for id := range d.index {
			a, ok := r.lexicalCandidate(d, id, q)
			if !ok {
				continue
			}
			var score float64
			if strings.Contains(strings.ToLower(a.Title), needle) {
				score += 0.7
			}
			if strings.Contains(strings.ToLower(a.Summary), needle) {
				score += 0.3
			}
			if score > 0 {
				hits = append(hits, models.SearchHit{Article: r.v.withCounters(a), Score: score, Match: models.MatchFuzzy})
			}
		}
		return nil
	})
	return rankHits(hits, q.Skip, q.Limit), err
}

func (r *memArticles) SemanticSearch(ctx context.Context, vector []float32, limit int, includeUnpublished bool) ([]models.SearchHit, error) {
	hits := []models.SearchHit{}
	err := r.v.read("article.semantic_search", func(d *memData) error {
		for id, entry := range d.index {
			if entry.Embedding == nil {
				continue
			}
			a, ok := r.searchable(d, id, includeUnpublished)
			if !ok {
				continue
			}
			dist, err := search.CosineDistance(vector, entry.Embedding)
			if err != nil {
				return err
			}
			hits = append(hits, models.SearchHit{
				Article:  r.v.withCounters(a),
				Score:    1 - dist,
				Distance: &dist,
				Match:    models.MatchSemantic,
			})
		}
		return nil
	})
	return rankHits(hits, 0, limit), err
}

func (r *memArticles) Stats(ctx context.Context) (*models.Stats, error) {
	stats := &models.Stats{ByStatus: map[models.ArticleStatus]int{}}
	err := r.v.read("article.stats", func(d *memData) error {
		for _, a := range d.articles {
			if a.IsDeleted {
				stats.Deleted++
				continue
			}
			stats.Total++
			stats.ByStatus[a.Status]++
		}
		return nil
	})
	return stats, err
}

func (r *memArticles) StreamAll(ctx context.Context, includeDeleted bool, callback func(*models.Article) error) error {
	var all []*models.Article
	err := r.v.read("article.stream", func(d *memData) error {
		all = r.sorted(d, func(a *models.Article) bool { return includeDeleted || !a.IsDeleted })
		return nil
	})
	if err != nil {
		return err
	}
	for _, a := range all {
		if err := callback(a); err != nil {
			return err
		}
	}
	return nil
}

// memVersions implements repository.VersionRepository
type memVersions struct{ v *memView }

func (r *memVersions) Create(ctx context.Context, version *models.ArticleVersion) error {
	return r.v.write("version.create", func(d *memData) error {
		if _, ok := d.articles[version.ArticleID]; !ok {
			return apperr.NotFound("article", "id", version.ArticleID)
		}
		existing := d.versions[version.ArticleID]
		next := 1
		if n := len(existing); n > 0 {
			next = existing[n-1].VersionNumber + 1
		}
		version.VersionNumber = next
		stored := *version
		d.versions[version.ArticleID] = append(existing, &stored)
		return nil
	})
}

func (r *memVersions) Get(ctx context.Context, articleID int64, number int) (*models.ArticleVersion, error) {
	var out *models.ArticleVersion
	err := r.v.read("version.get", func(d *memData) error {
		for _, v := range d.versions[articleID] {
			if v.VersionNumber == number {
				c := *v
				out = &c
			}
		}
		return nil
	})
	return out, err
}

func (r *memVersions) List(ctx context.Context, articleID int64) ([]*models.ArticleVersion, error) {
	out := []*models.ArticleVersion{}
	err := r.v.read("version.list", func(d *memData) error {
		for _, v := range d.versions[articleID] {
			c := *v
			out = append(out, &c)
		}
		return nil
	})
	return out, err
}

// memTags implements repository.TagRepository
type memTags struct{ v *memView }

func (r *memTags) Add(ctx context.Context, articleID, tagID int64) (bool, error) {
	var added bool
	err := r.v.write("tag.add", func(d *memData) error {
		if _, ok := d.tags[tagID]; !ok {
			return apperr.NotFound("tag", "id", tagID)
		}
		set := d.articleTags[articleID]
		if set == nil {
			set = make(map[int64]bool)
			d.articleTags[articleID] = set
		}
		if !set[tagID] {
			set[tagID] = true
			added = true
		}
		return nil
	})
	return added, err
}

func (r *memTags) Remove(ctx context.Context, articleID, tagID int64) (bool, error) {
	var removed bool
	err := r.v.write("tag.remove", func(d *memData) error {
		if d.articleTags[articleID][tagID] {
			delete(d.articleTags[articleID], tagID)
			removed = true
		}
		return nil
	})
	return removed, err
}

func (r *memTags) List(ctx context.Context, articleID int64) ([]models.Tag, error) {
	out := []models.Tag{}
	err := r.v.read("tag.list", func(d *memData) error {
		for id := range d.articleTags[articleID] {
			out = append(out, d.tags[id])
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, err
}

func (r *memTags) ListForArticles(ctx context.Context, articleIDs []int64) (map[int64][]models.Tag, error) {
	out := make(map[int64][]models.Tag, len(articleIDs))
	for _, id := range articleIDs {
		tags, err := r.List(ctx, id)
		if err != nil {
			return nil, err
		}
		if len(tags) > 0 {
			out[id] = tags
		}
	}
	return out, nil
}

func (r *memTags) Exists(ctx context.Context, tagID int64) (bool, error) {
	var ok bool
	err := r.v.read("tag.exists", func(d *memData) error {
		_, ok = d.tags[tagID]
		return nil
	})
	return ok, err
}

// memCounters implements repository.CounterRepository
type memCounters struct{ v *memView }

func (r *memCounters) Increment(ctx context.Context, articleID int64, counter models.Counter) (int64, bool, error) {
	var live bool
	err := r.v.read("counter.increment", func(d *memData) error {
		a, ok := d.articles[articleID]
		live = ok && !a.IsDeleted
		return nil
	})
	if err != nil || !live {
		return 0, false, err
	}

	r.v.s.counterMu.Lock()
	defer r.v.s.counterMu.Unlock()
	cnt, ok := r.v.s.counters[articleID]
	if !ok {
		cnt = &[2]int64{}
		r.v.s.counters[articleID] = cnt
	}
	i := 0
	if counter == models.CounterLikes {
		i = 1
	}
	cnt[i]++
	return cnt[i], true, nil
}
