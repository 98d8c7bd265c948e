package repository_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/content-store-api/internal/apperr"
	"github.com/content-store-api/internal/config"
	"github.com/content-store-api/internal/database"
	"github.com/content-store-api/internal/mocks"
	"github.com/content-store-api/internal/models"
	"github.com/content-store-api/internal/repository"
	"github.com/content-store-api/internal/search"
	"github.com/content-store-api/internal/service"
)

const testDims = 1536

// backend provides a fresh, empty repository set per test
type backend struct {
	name   string
	open   func(t *testing.T) *repository.Repositories
	addTag func(t *testing.T, id int64, name string)
}

func backends(t *testing.T) []backend {
	var store *mocks.MemoryStore
	out := []backend{{
		name: "memory",
		open: func(t *testing.T) *repository.Repositories {
			store = mocks.NewMemoryStore()
			return store.Repositories()
		},
		addTag: func(t *testing.T, id int64, name string) {
			store.AddTag(models.Tag{ID: id, Name: name, Slug: name})
		},
	}}

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		return out
	}
	var db *database.DB
	return append(out, backend{
		name: "postgres",
		open: func(t *testing.T) *repository.Repositories {
			var err error
			db, err = database.Connect(context.Background(), dsn, zerolog.Nop())
			require.NoError(t, err)
			t.Cleanup(func() { db.Close() })
			require.NoError(t, db.RunMigrations())
			_, err = db.Exec("TRUNCATE article_tags, article_versions, article_counters, articles, tags RESTART IDENTITY CASCADE")
			require.NoError(t, err)
			return repository.New(db, "english")
		},
		addTag: func(t *testing.T, id int64, name string) {
			_, err := db.Exec("INSERT INTO tags (id, name, slug) VALUES ($1, $2, $2)", id, name)
			require.NoError(t, err)
		},
	})
}

func forEachBackend(t *testing.T, fn func(t *testing.T, b backend, repos *repository.Repositories)) {
	for _, b := range backends(t) {
		b := b
		t.Run(b.name, func(t *testing.T) {
			fn(t, b, b.open(t))
		})
	}
}

func newArticle(title, slug string) *models.Article {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &models.Article{
		Title:     title,
		Slug:      slug,
		Body:      "body of " + title,
		Status:    models.StatusDraft,
		ReadTime:  1,
		CreatedBy: "tester",
		UpdatedBy: "tester",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func published(a *models.Article) *models.Article {
	a.Publish(time.Now().UTC().Truncate(time.Microsecond), true)
	return a
}

func TestArticleRepository_CRUD(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend, repos *repository.Repositories) {
		ctx := context.Background()
		a := newArticle("Hello World", "hello-world")
		require.NoError(t, repos.Article.Create(ctx, a))
		require.NotZero(t, a.ID)

		got, err := repos.Article.GetByID(ctx, a.ID, false)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "Hello World", got.Title)
		assert.Equal(t, models.StatusDraft, got.Status)

		bySlug, err := repos.Article.GetBySlug(ctx, "hello-world")
		require.NoError(t, err)
		require.NotNil(t, bySlug)
		assert.Equal(t, a.ID, bySlug.ID)

		missing, err := repos.Article.GetByID(ctx, a.ID+100, false)
		require.NoError(t, err)
		assert.Nil(t, missing)

		_, _, err = repos.Counter.Increment(ctx, a.ID, models.CounterViews)
		require.NoError(t, err)

		got.Title = "Hello Again"
		got.Views = 0
		require.NoError(t, repos.Article.Update(ctx, got))

		again, err := repos.Article.GetByID(ctx, a.ID, false)
		require.NoError(t, err)
		assert.Equal(t, "Hello Again", again.Title)
		assert.Equal(t, int64(1), again.Views, "update never writes counters")

		ghost := newArticle("ghost", "ghost")
		ghost.ID = a.ID + 100
		assert.True(t, apperr.IsNotFound(repos.Article.Update(ctx, ghost)))
	})
}

func TestArticleRepository_SlugUniqueAmongLive(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend, repos *repository.Repositories) {
		ctx := context.Background()
		first := newArticle("One", "same")
		require.NoError(t, repos.Article.Create(ctx, first))

		err := repos.Article.Create(ctx, newArticle("Two", "same"))
		assert.True(t, apperr.IsConflict(err), "got %v", err)

		taken, err := repos.Article.SlugTaken(ctx, "same", first.ID)
		require.NoError(t, err)
		assert.False(t, taken, "own slug is not taken")

		first.SoftDelete(time.Now())
		require.NoError(t, repos.Article.Update(ctx, first))

		require.NoError(t, repos.Article.Create(ctx, newArticle("Three", "same")))
		deleted, err := repos.Article.GetByID(ctx, first.ID, true)
		require.NoError(t, err)
		assert.True(t, deleted.IsDeleted)
	})
}

func TestVersionRepository_Numbering(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend, repos *repository.Repositories) {
		ctx := context.Background()
		a := newArticle("Versioned", "versioned")
		require.NoError(t, repos.Article.Create(ctx, a))

		for i := 1; i <= 3; i++ {
			v := models.NewVersionSnapshot(a, "tester", fmt.Sprintf("rev %d", i), a.CreatedAt)
			require.NoError(t, repos.Version.Create(ctx, v))
			assert.Equal(t, i, v.VersionNumber)
		}

		list, err := repos.Version.List(ctx, a.ID)
		require.NoError(t, err)
		require.Len(t, list, 3)
		for i, v := range list {
			assert.Equal(t, i+1, v.VersionNumber)
		}

		v2, err := repos.Version.Get(ctx, a.ID, 2)
		require.NoError(t, err)
		require.NotNil(t, v2)
		assert.Equal(t, "rev 2", v2.ChangeComment)

		none, err := repos.Version.Get(ctx, a.ID, 9)
		require.NoError(t, err)
		assert.Nil(t, none)
	})
}

func TestTagRepository_Idempotent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend, repos *repository.Repositories) {
		ctx := context.Background()
		b.addTag(t, 10, "go")
		b.addTag(t, 11, "databases")
		a := newArticle("Tagged", "tagged")
		require.NoError(t, repos.Article.Create(ctx, a))

		added, err := repos.Tag.Add(ctx, a.ID, 10)
		require.NoError(t, err)
		assert.True(t, added)

		added, err = repos.Tag.Add(ctx, a.ID, 10)
		require.NoError(t, err)
		assert.False(t, added)

		_, err = repos.Tag.Add(ctx, a.ID, 11)
		require.NoError(t, err)

		tags, err := repos.Tag.List(ctx, a.ID)
		require.NoError(t, err)
		require.Len(t, tags, 2)
		assert.Equal(t, "databases", tags[0].Name)

		removed, err := repos.Tag.Remove(ctx, a.ID, 10)
		require.NoError(t, err)
		assert.True(t, removed)
		removed, err = repos.Tag.Remove(ctx, a.ID, 10)
		require.NoError(t, err)
		assert.False(t, removed)

		_, err = repos.Tag.Add(ctx, a.ID, 999)
		assert.True(t, apperr.IsNotFound(err))
	})
}

func TestCounterRepository_Increment(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend, repos *repository.Repositories) {
		ctx := context.Background()
		a := newArticle("Counted", "counted")
		require.NoError(t, repos.Article.Create(ctx, a))

		for i := int64(1); i <= 3; i++ {
			v, found, err := repos.Counter.Increment(ctx, a.ID, models.CounterLikes)
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, i, v)
		}

		a.SoftDelete(time.Now())
		require.NoError(t, repos.Article.Update(ctx, a))
		_, found, err := repos.Counter.Increment(ctx, a.ID, models.CounterLikes)
		require.NoError(t, err)
		assert.False(t, found)
	})
}

func TestArticleRepository_IndexAndSearch(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend, repos *repository.Repositories) {
		ctx := context.Background()
		now := time.Now().UTC()

		inTitle := published(newArticle("Kubernetes operators", "k8s-operators"))
		inBody := published(newArticle("Cluster notes", "cluster-notes"))
		inBody.Body = "a long piece mentioning kubernetes in passing"
		draft := newArticle("Kubernetes draft", "k8s-draft")

		for _, a := range []*models.Article{inTitle, inBody, draft} {
			require.NoError(t, repos.Article.Create(ctx, a))
			entry := search.Entry{
				Document:  search.BuildDocument(a),
				Embedding: mocks.HashVector(a.IndexText(), testDims),
			}
			require.NoError(t, repos.Article.SetIndex(ctx, a.ID, entry, now))
		}

		hits, err := repos.Article.LexicalSearch(ctx, models.LexicalQuery{Query: "kubernetes", Limit: 10})
		require.NoError(t, err)
		require.Len(t, hits, 2, "drafts are excluded by default")
		assert.Equal(t, inTitle.ID, hits[0].Article.ID)
		assert.Greater(t, hits[0].Score, hits[1].Score)

		hits, err = repos.Article.LexicalSearch(ctx, models.LexicalQuery{Query: "kubernetes", Limit: 10, IncludeUnpublished: true})
		require.NoError(t, err)
		assert.Len(t, hits, 3)

		sem, err := repos.Article.SemanticSearch(ctx, mocks.HashVector(inBody.IndexText(), testDims), 10, false)
		require.NoError(t, err)
		require.NotEmpty(t, sem)
		assert.Equal(t, inBody.ID, sem[0].Article.ID)
		require.NotNil(t, sem[0].Distance)
		assert.InDelta(t, 0, *sem[0].Distance, 1e-4)

		require.NoError(t, repos.Article.ClearIndex(ctx, inTitle.ID))
		hits, err = repos.Article.LexicalSearch(ctx, models.LexicalQuery{Query: "kubernetes", Limit: 10})
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, inBody.ID, hits[0].Article.ID)

		got, err := repos.Article.GetByID(ctx, inBody.ID, false)
		require.NoError(t, err)
		assert.True(t, got.HasEmbedding)
		assert.NotNil(t, got.IndexedAt)
	})
}

func TestArticleRepository_ListAndPopular(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend, repos *repository.Repositories) {
		ctx := context.Background()
		var ids []int64
		for i := 0; i < 5; i++ {
			a := published(newArticle(fmt.Sprintf("Post %d", i), fmt.Sprintf("post-%d", i)))
			require.NoError(t, repos.Article.Create(ctx, a))
			ids = append(ids, a.ID)
		}
		require.NoError(t, repos.Article.Create(ctx, newArticle("Unlisted draft", "unlisted")))

		for i := 0; i < 3; i++ {
			_, _, err := repos.Counter.Increment(ctx, ids[2], models.CounterViews)
			require.NoError(t, err)
		}

		items, total, err := repos.Article.List(ctx, models.ListParams{Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, 5, total)
		assert.Len(t, items, 2)

		_, total, err = repos.Article.List(ctx, models.ListParams{Limit: 10, IncludeUnpublished: true})
		require.NoError(t, err)
		assert.Equal(t, 6, total)

		items, total, err = repos.Article.List(ctx, models.ListParams{Limit: 10, Search: "post 3"})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		assert.Equal(t, ids[3], items[0].ID)

		popular, err := repos.Article.ListPopular(ctx, models.PopularParams{Signal: models.PopularByViews, Limit: 1})
		require.NoError(t, err)
		require.Len(t, popular, 1)
		assert.Equal(t, ids[2], popular[0].ID)

		suggestions, err := repos.Article.SuggestTitles(ctx, "pos", 10)
		require.NoError(t, err)
		require.Len(t, suggestions, 5)
		assert.Equal(t, "post-2", suggestions[0].Slug)

		stats, err := repos.Article.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 6, stats.Total)
		assert.Equal(t, 5, stats.ByStatus[models.StatusPublished])
	})
}

func TestArticleRepository_DueScheduled(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend, repos *repository.Repositories) {
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Second)

		due := newArticle("Due", "due")
		due.Schedule(now.Add(-time.Minute))
		later := newArticle("Later", "later")
		later.Schedule(now.Add(time.Hour))
		require.NoError(t, repos.Article.Create(ctx, due))
		require.NoError(t, repos.Article.Create(ctx, later))

		err := repos.Tx.WithinTx(ctx, func(tx *repository.Repositories) error {
			list, err := tx.Article.ListDueScheduled(ctx, now, 10)
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, due.ID, list[0].ID)
			return nil
		})
		require.NoError(t, err)

		list, err := repos.Article.ListDueScheduled(ctx, now, 10)
		require.NoError(t, err, "candidates can be listed outside a transaction")
		require.Len(t, list, 1)
		assert.Equal(t, due.ID, list[0].ID)
	})
}

func TestTransactor_RollsBack(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend, repos *repository.Repositories) {
		ctx := context.Background()
		boom := errors.New("boom")

		var createdID int64
		err := repos.Tx.WithinTx(ctx, func(tx *repository.Repositories) error {
			a := newArticle("Rolled back", "rolled-back")
			if err := tx.Article.Create(ctx, a); err != nil {
				return err
			}
			createdID = a.ID
			return boom
		})
		assert.ErrorIs(t, err, boom)

		got, err := repos.Article.GetByID(ctx, createdID, true)
		require.NoError(t, err)
		assert.Nil(t, got)

		taken, err := repos.Article.SlugTaken(ctx, "rolled-back", 0)
		require.NoError(t, err)
		assert.False(t, taken)
	})
}

func TestTransactor_HidesUncommittedWrites(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend, repos *repository.Repositories) {
		ctx := context.Background()
		boom := errors.New("boom")

		var pendingID int64
		err := repos.Tx.WithinTx(ctx, func(tx *repository.Repositories) error {
			a := newArticle("Pending", "pending")
			if err := tx.Article.Create(ctx, a); err != nil {
				return err
			}
			pendingID = a.ID

			inside, err := tx.Article.GetByID(ctx, a.ID, false)
			require.NoError(t, err)
			assert.NotNil(t, inside, "the transaction sees its own write")

			outside, err := repos.Article.GetByID(ctx, a.ID, false)
			require.NoError(t, err)
			assert.Nil(t, outside, "other readers do not see the uncommitted row")
			return boom
		})
		require.ErrorIs(t, err, boom)

		got, err := repos.Article.GetByID(ctx, pendingID, true)
		require.NoError(t, err)
		assert.Nil(t, got)

		var committedID int64
		require.NoError(t, repos.Tx.WithinTx(ctx, func(tx *repository.Repositories) error {
			a := newArticle("Committed", "committed")
			err := tx.Article.Create(ctx, a)
			committedID = a.ID
			return err
		}))
		got, err = repos.Article.GetByID(ctx, committedID, false)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "Committed", got.Title)
	})
}

func TestConcurrentVersionNumbering(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend, repos *repository.Repositories) {
		ctx := context.Background()
		a := newArticle("Contended", "contended")
		require.NoError(t, repos.Article.Create(ctx, a))
		svc := service.NewServices(repos, search.NewMaintainer(nil, testDims, zerolog.Nop()), config.Defaults(), zerolog.Nop())

		const writers = 16
		var mu sync.Mutex
		var numbers []int
		g, gctx := errgroup.WithContext(ctx)
		for i := 0; i < writers; i++ {
			i := i
			g.Go(func() error {
				v, err := svc.Content.CreateVersion(gctx, "user:1", a.ID, fmt.Sprintf("writer %d", i))
				if err != nil {
					return err
				}
				mu.Lock()
				numbers = append(numbers, v.VersionNumber)
				mu.Unlock()
				return nil
			})
		}
		require.NoError(t, g.Wait())

		sort.Ints(numbers)
		want := make([]int, writers)
		for i := range want {
			want[i] = i + 1
		}
		assert.Equal(t, want, numbers)
	})
}

func TestConcurrentCounterIncrements(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend, repos *repository.Repositories) {
		ctx := context.Background()
		a := published(newArticle("Hot", "hot"))
		require.NoError(t, repos.Article.Create(ctx, a))

		const hits = 1000
		var g errgroup.Group
		g.SetLimit(32)
		for i := 0; i < hits; i++ {
			counter := models.CounterViews
			if i%4 == 0 {
				counter = models.CounterLikes
			}
			g.Go(func() error {
				_, found, err := repos.Counter.Increment(ctx, a.ID, counter)
				if err == nil && !found {
					err = fmt.Errorf("article %d not found", a.ID)
				}
				return err
			})
		}
		require.NoError(t, g.Wait())

		got, err := repos.Article.GetByID(ctx, a.ID, false)
		require.NoError(t, err)
		assert.Equal(t, int64(hits*3/4), got.Views)
		assert.Equal(t, int64(hits/4), got.Likes)
	})
}

func TestCounterIncrement_NotBlockedByRowLock(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend, repos *repository.Repositories) {
		ctx := context.Background()
		a := published(newArticle("Locked", "locked"))
		require.NoError(t, repos.Article.Create(ctx, a))

		locked, release := make(chan struct{}), make(chan struct{})
		holder := make(chan error, 1)
		go func() {
			holder <- repos.Tx.WithinTx(ctx, func(tx *repository.Repositories) error {
				if _, err := tx.Article.GetForUpdate(ctx, a.ID); err != nil {
					return err
				}
				close(locked)
				<-release
				return nil
			})
		}()
		select {
		case <-locked:
		case err := <-holder:
			t.Fatalf("lock holder finished early: %v", err)
		}

		incCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		v, found, err := repos.Counter.Increment(incCtx, a.ID, models.CounterViews)
		close(release)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, int64(1), v)
		require.NoError(t, <-holder)
	})
}
