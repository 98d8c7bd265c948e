package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/content-store-api/internal/config"
	"github.com/content-store-api/internal/metrics"
	"github.com/content-store-api/internal/models"
	"github.com/content-store-api/internal/repository"
)

// scheduler is the concrete implementation of SchedulerService
type scheduler struct {
	repos   *repository.Repositories
	cfg     config.SchedulerConfig
	clock   Clock
	log     zerolog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
	// Semaphore: buffered channel to limit concurrent publications
	sem chan struct{}
}

// newScheduler creates a scheduler with a bounded worker pool
func newScheduler(repos *repository.Repositories, cfg config.SchedulerConfig, clock Clock, log zerolog.Logger) *scheduler {
	if cfg.MaxWorkers < 1 {
		cfg.MaxWorkers = 1
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 100
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}

	return &scheduler{
		repos: repos,
		cfg:   cfg,
		clock: clock,
		log:   log.With().Str("service", "scheduler").Logger(),
		sem:   make(chan struct{}, cfg.MaxWorkers),
	}
}

// StartProcessor runs PublishDue on every tick until ctx is cancelled or
// StopProcessor is called. It blocks.
func (s *scheduler) StartProcessor(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	s.log.Info().Dur("interval", s.cfg.Interval).Int("max_workers", s.cfg.MaxWorkers).Msg("Scheduler started")

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.log.Info().Msg("Scheduler stopping")
			return
		case <-ticker.C:
			if n, err := s.PublishDue(s.ctx); err != nil && s.ctx.Err() == nil {
				s.log.Error().Err(err).Msg("Failed to publish due articles")
			} else if n > 0 {
				s.log.Info().Int("published", n).Msg("Published due articles")
			}
		}
	}
}

// StopProcessor stops the processor and waits for in-flight publications
func (s *scheduler) StopProcessor() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.cancel()
	s.wg.Wait()
	s.running = false
	s.log.Info().Msg("Scheduler stopped")
}

// PublishDue publishes every Scheduled article whose time has come, up to
// the batch size, and returns how many it published. Each article is
// re-checked under its row lock so concurrent schedulers never publish twice.
func (s *scheduler) PublishDue(ctx context.Context) (int, error) {
	now := s.clock.Now()
	due, err := s.repos.Article.ListDueScheduled(ctx, now, s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	var published atomic.Int64
	var wg sync.WaitGroup
	for _, a := range due {
		// Acquire semaphore slot - blocks if all workers are busy
		select {
		case s.sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return int(published.Load()), ctx.Err()
		}

		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			defer func() { <-s.sem }()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error().
						Interface("panic", r).
						Int64("article_id", id).
						Msg("Scheduled publication panicked - recovered")
				}
			}()

			ok, err := s.publishOne(ctx, id, now)
			if err != nil {
				s.log.Error().Err(err).Int64("article_id", id).Msg("Scheduled publication failed")
				return
			}
			if ok {
				published.Add(1)
				metrics.ScheduledPublications.Inc()
			}
		}(a.ID)
	}
	wg.Wait()

	return int(published.Load()), nil
}

func (s *scheduler) publishOne(ctx context.Context, id int64, now time.Time) (bool, error) {
	var published bool
	err := s.repos.Tx.WithinTx(ctx, func(repos *repository.Repositories) error {
		a, err := repos.Article.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if a == nil || a.IsDeleted || a.Status != models.StatusScheduled ||
			a.ScheduledAt == nil || a.ScheduledAt.After(now) {
			return nil // changed since listing
		}

		a.Publish(now, true)
		a.UpdatedBy = SchedulerActor
		a.UpdatedAt = now
		if err := repos.Article.Update(ctx, a); err != nil {
			return err
		}
		published = true
		return nil
	})
	if err != nil {
		observe("scheduled_publish", err)
		return false, err
	}
	if published {
		observe("scheduled_publish", nil)
		s.log.Info().Int64("article_id", id).Msg("Scheduled article published")
	}
	return published, nil
}
