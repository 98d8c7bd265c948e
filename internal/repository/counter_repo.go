package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/content-store-api/internal/database"
	"github.com/content-store-api/internal/models"
)

// counterRepo is the concrete implementation of CounterRepository
type counterRepo struct {
	db database.Querier
}

// NewCounterRepo creates a new counter repository
func NewCounterRepo(db database.Querier) CounterRepository {
	return &counterRepo{db: db}
}

// Increment bumps a counter with a single upsert on article_counters, so
// concurrent callers never lose updates and never wait for a content edit
// holding the article row lock. The liveness check reads articles without
// locking it.
func (r *counterRepo) Increment(ctx context.Context, articleID int64, counter models.Counter) (int64, bool, error) {
	if !models.ValidCounters[counter] {
		return 0, false, fmt.Errorf("unknown counter %q", counter)
	}
	// counter is whitelisted above
	query := fmt.Sprintf(`
		INSERT INTO article_counters (article_id, %[1]s)
		SELECT id, 1 FROM articles WHERE id = $1 AND NOT is_deleted
		ON CONFLICT (article_id) DO UPDATE SET %[1]s = article_counters.%[1]s + 1
		RETURNING %[1]s`, counter)

	var value int64
	err := r.db.QueryRowContext(ctx, query, articleID).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, mapError("counter.increment", err)
	}
	return value, true, nil
}
