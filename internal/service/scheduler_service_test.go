package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/content-store-api/internal/config"
	"github.com/content-store-api/internal/models"
	"github.com/content-store-api/internal/service"
)

func TestScheduler_PublishDue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	early := f.create(t, "Early Bird", "")
	late := f.create(t, "Night Owl", "")
	gone := f.create(t, "Withdrawn", "")
	_, err := f.svc.Content.Schedule(ctx, testActor, early.ID, epoch.Add(time.Hour))
	require.NoError(t, err)
	_, err = f.svc.Content.Schedule(ctx, testActor, late.ID, epoch.Add(24*time.Hour))
	require.NoError(t, err)
	_, err = f.svc.Content.Schedule(ctx, testActor, gone.ID, epoch.Add(time.Hour))
	require.NoError(t, err)
	_, err = f.svc.Content.SoftDelete(ctx, testActor, gone.ID)
	require.NoError(t, err)

	n, err := f.svc.Scheduler.PublishDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "nothing is due yet")

	f.clock.Advance(2 * time.Hour)
	n, err = f.svc.Scheduler.PublishDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.svc.Content.Get(ctx, early.ID, false)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPublished, got.Status)
	assert.Nil(t, got.ScheduledAt)
	assert.Equal(t, epoch.Add(2*time.Hour), *got.PublishedAt)
	assert.Equal(t, service.SchedulerActor, got.UpdatedBy)
	require.NoError(t, got.CheckInvariants())

	still, err := f.svc.Content.Get(ctx, late.ID, false)
	require.NoError(t, err)
	assert.Equal(t, models.StatusScheduled, still.Status)

	n, err = f.svc.Scheduler.PublishDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "already published articles are not published twice")
}

func TestScheduler_ConcurrentRunsPublishOnce(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) { cfg.Scheduler.MaxWorkers = 2 })
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		a := f.create(t, "Batch "+string(rune('a'+i)), "")
		_, err := f.svc.Content.Schedule(ctx, testActor, a.ID, epoch)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	totals := make(chan int, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := f.svc.Scheduler.PublishDue(ctx)
			assert.NoError(t, err)
			totals <- n
		}()
	}
	wg.Wait()
	close(totals)

	sum := 0
	for n := range totals {
		sum += n
	}
	assert.Equal(t, 10, sum)
}

func TestScheduler_Processor(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := f.create(t, "Ticking", "")
	_, err := f.svc.Content.Schedule(ctx, testActor, a.ID, epoch.Add(-time.Minute))
	require.NoError(t, err)

	go f.svc.Scheduler.StartProcessor(ctx)

	require.Eventually(t, func() bool {
		got, err := f.svc.Content.Get(context.Background(), a.ID, false)
		return err == nil && got.Status == models.StatusPublished
	}, 2*time.Second, 10*time.Millisecond)

	f.svc.Scheduler.StopProcessor()
	f.svc.Scheduler.StopProcessor()
}

// BenchmarkWorkerPoolSemaphore measures acquire/release on the scheduler's semaphore shape
func BenchmarkWorkerPoolSemaphore(b *testing.B) {
	sem := make(chan struct{}, 8)

	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			sem <- struct{}{}
			<-sem
		}
	})
}
