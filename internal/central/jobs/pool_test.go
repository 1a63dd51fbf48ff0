package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/openfederation/centralid/internal/central/domain"
)

func TestPoolRunsTasks(t *testing.T) {
	ctx := context.Background()

	var (
		mu   sync.Mutex
		seen []string
	)
	pool := NewPool(2, 16, func(_ context.Context, task domain.RenameTask) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, task.Site)
		return nil
	})
	pool.Start(ctx)

	h1, err := pool.Submit(ctx, "enwiki", domain.RenameTask{From: "Bob", To: "Robert", Site: "enwiki"})
	require.NoError(t, err)
	_, err = pool.Submit(ctx, "dewiki", domain.RenameTask{From: "Bob", To: "Robert", Site: "dewiki"})
	require.NoError(t, err)

	pool.Stop() // waits for in-flight tasks

	mu.Lock()
	require.ElementsMatch(t, []string{"enwiki", "dewiki"}, seen)
	mu.Unlock()

	status, err := pool.Status(h1.ID)
	require.NoError(t, err)
	require.Equal(t, StateDone, status.State)
}

func TestPoolKeepsFailedTasks(t *testing.T) {
	ctx := context.Background()

	pool := NewPool(1, 16, func(_ context.Context, task domain.RenameTask) error {
		if task.Site == "dewiki" {
			return errors.New("site down")
		}
		return nil
	})
	pool.Start(ctx)

	_, err := pool.Submit(ctx, "enwiki", domain.RenameTask{From: "A", To: "B", Site: "enwiki"})
	require.NoError(t, err)
	h, err := pool.Submit(ctx, "dewiki", domain.RenameTask{From: "A", To: "B", Site: "dewiki"})
	require.NoError(t, err)

	pool.Stop()

	status, err := pool.Status(h.ID)
	require.NoError(t, err)
	require.Equal(t, StateFailed, status.State)
	require.Equal(t, "site down", status.Err)

	// Failed tasks keep their payload for operator resubmission.
	failed := pool.Failed()
	require.Len(t, failed, 1)
	require.Equal(t, "A", failed[0].Task.From)
	require.Equal(t, "dewiki", failed[0].Handle.Site)
}

func TestPoolRefusesWhenFullOrStopped(t *testing.T) {
	ctx := context.Background()

	block := make(chan struct{})
	pool := NewPool(1, 1, func(_ context.Context, _ domain.RenameTask) error {
		<-block
		return nil
	})
	pool.Start(ctx)

	// First task occupies the worker, second fills the queue.
	_, err := pool.Submit(ctx, "s1", domain.RenameTask{Site: "s1"})
	require.NoError(t, err)

	// The worker may not have picked the first task up yet; keep
	// submitting until the queue itself is full.
	require.Eventually(t, func() bool {
		_, err := pool.Submit(ctx, "s2", domain.RenameTask{Site: "s2"})
		return errors.Is(err, ErrQueueFull)
	}, time.Second, 5*time.Millisecond)

	close(block)
	pool.Stop()

	_, err = pool.Submit(ctx, "s3", domain.RenameTask{Site: "s3"})
	require.ErrorIs(t, err, ErrStopped)
}

func TestPoolSubmitRacesStop(t *testing.T) {
	// A Submit racing Stop must settle as ErrStopped, never panic on a
	// closed queue.
	for range 25 {
		pool := NewPool(2, 8, func(context.Context, domain.RenameTask) error { return nil })
		pool.Start(context.Background())

		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				_, err := pool.Submit(context.Background(), "enwiki", domain.RenameTask{Site: "enwiki"})
				if errors.Is(err, ErrStopped) {
					return
				}
			}
		}()

		pool.Stop()
		<-done
	}
}

func TestDeferredRunnerDrainsOnStop(t *testing.T) {
	ctx := context.Background()

	var (
		mu    sync.Mutex
		count int
	)
	d := NewDeferredRunner(8)
	d.Start(ctx)

	for range 5 {
		d.Defer("bump", func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			count++
			return nil
		})
	}

	d.Stop()

	mu.Lock()
	require.Equal(t, 5, count)
	mu.Unlock()
}

func TestPoolUnknownHandle(t *testing.T) {
	pool := NewPool(1, 1, func(context.Context, domain.RenameTask) error { return nil })
	_, err := pool.Status(uuid.Nil)
	require.ErrorIs(t, err, ErrNoSuchJob)
}
