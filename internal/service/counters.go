package service

import (
	"context"

	"github.com/content-store-api/internal/apperr"
	"github.com/content-store-api/internal/metrics"
	"github.com/content-store-api/internal/models"
)

// IncrementCounter adds one to a counter of a live article and returns the
// new value. It never takes the article row lock.
func (s *contentService) IncrementCounter(ctx context.Context, id int64, counter models.Counter) (int64, error) {
	if !models.ValidCounters[counter] {
		return 0, apperr.Validation("article", apperr.FieldError{
			Field: "counter", Message: "invalid counter, must be one of: views, likes", Value: string(counter),
		})
	}

	value, found, err := s.repos.Counter.Increment(ctx, id, counter)
	if err != nil {
		s.log.Error().Err(err).Int64("article_id", id).Str("counter", string(counter)).Msg("Counter increment failed")
		return 0, err
	}
	if !found {
		return 0, apperr.NotFound("article", "id", id)
	}

	metrics.CounterIncrements.WithLabelValues(string(counter)).Inc()
	return value, nil
}

func (s *contentService) IncrementViews(ctx context.Context, id int64) (int64, error) {
	return s.IncrementCounter(ctx, id, models.CounterViews)
}

func (s *contentService) IncrementLikes(ctx context.Context, id int64) (int64, error) {
	return s.IncrementCounter(ctx, id, models.CounterLikes)
}
