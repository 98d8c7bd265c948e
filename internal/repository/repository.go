package repository

import (
	"context"
	"time"

	"github.com/content-store-api/internal/database"
	"github.com/content-store-api/internal/models"
	"github.com/content-store-api/internal/search"
)

// ArticleRepository defines the interface for article data operations.
// Lookups return nil, nil when the article does not exist.
type ArticleRepository interface {
	Create(ctx context.Context, article *models.Article) error
	// Update writes every mutable field except the engagement counters
	Update(ctx context.Context, article *models.Article) error
	GetByID(ctx context.Context, id int64, includeDeleted bool) (*models.Article, error)
	// GetForUpdate reads an article, deleted or not, and locks its row until
	// the surrounding transaction ends
	GetForUpdate(ctx context.Context, id int64) (*models.Article, error)
	GetBySlug(ctx context.Context, slug string) (*models.Article, error)
	SlugTaken(ctx context.Context, slug string, excludeID int64) (bool, error)
	// LockSlug serializes writers claiming the same slug until the
	// surrounding transaction ends
	LockSlug(ctx context.Context, slug string) error
	List(ctx context.Context, params models.ListParams) ([]*models.Article, int, error)
	ListPopular(ctx context.Context, params models.PopularParams) ([]*models.Article, error)
	SuggestTitles(ctx context.Context, prefix string, limit int) ([]models.TitleSuggestion, error)
	// ListDueScheduled returns scheduled articles due at now. It takes no
	// locks; callers re-check each candidate under GetForUpdate.
	ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]*models.Article, error)
	ListIDs(ctx context.Context, includeDeleted bool) ([]int64, error)
	SetIndex(ctx context.Context, id int64, entry search.Entry, at time.Time) error
	ClearIndex(ctx context.Context, id int64) error
	LexicalSearch(ctx context.Context, q models.LexicalQuery) ([]models.SearchHit, error)
	FuzzySearch(ctx context.Context, q models.LexicalQuery) ([]models.SearchHit, error)
	SemanticSearch(ctx context.Context, vector []float32, limit int, includeUnpublished bool) ([]models.SearchHit, error)
	Stats(ctx context.Context) (*models.Stats, error)
	StreamAll(ctx context.Context, includeDeleted bool, callback func(*models.Article) error) error
}

// VersionRepository defines the interface for article version operations
type VersionRepository interface {
	// Create assigns the next version number of the article and stores the
	// snapshot. Callers hold the article row lock.
	Create(ctx context.Context, version *models.ArticleVersion) error
	Get(ctx context.Context, articleID int64, number int) (*models.ArticleVersion, error)
	List(ctx context.Context, articleID int64) ([]*models.ArticleVersion, error)
}

// TagRepository defines the interface for article-tag associations
type TagRepository interface {
	Add(ctx context.Context, articleID, tagID int64) (bool, error)
	Remove(ctx context.Context, articleID, tagID int64) (bool, error)
	List(ctx context.Context, articleID int64) ([]models.Tag, error)
	// ListForArticles returns the tags of many articles keyed by article ID
	ListForArticles(ctx context.Context, articleIDs []int64) (map[int64][]models.Tag, error)
	Exists(ctx context.Context, tagID int64) (bool, error)
}

// CounterRepository defines atomic engagement counter updates
type CounterRepository interface {
	// Increment adds one to the counter of a live article and returns the
	// new value. found is false when no live article has the id.
	Increment(ctx context.Context, articleID int64, counter models.Counter) (value int64, found bool, err error)
}

// Transactor runs a unit of work atomically
type Transactor interface {
	WithinTx(ctx context.Context, fn func(repos *Repositories) error) error
}

// Repositories holds all repository interfaces
type Repositories struct {
	Article ArticleRepository
	Version VersionRepository
	Tag     TagRepository
	Counter CounterRepository
	Tx      Transactor
}

// New creates all repositories with the given database connection.
// textSearchConfig names the Postgres text search configuration.
func New(db *database.DB, textSearchConfig string) *Repositories {
	repos := newRepositories(db.DB, textSearchConfig)
	repos.Tx = &pgTransactor{db: db, textSearchConfig: textSearchConfig}
	return repos
}

func newRepositories(q database.Querier, textSearchConfig string) *Repositories {
	return &Repositories{
		Article: NewArticleRepo(q, textSearchConfig),
		Version: NewVersionRepo(q),
		Tag:     NewTagRepo(q),
		Counter: NewCounterRepo(q),
	}
}
