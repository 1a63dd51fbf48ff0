package tokenstore_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfederation/centralid/internal/central/tokenstore"
)

func TestSetGetDelete(t *testing.T) {
	t.Parallel()

	ts := tokenstore.NewMemory()
	ctx := context.Background()

	require.NoError(t, ts.Set(ctx, "k", []byte("v"), time.Minute))

	got, err := ts.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	ok, err := ts.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, ts.Delete(ctx, "k"))

	_, err = ts.Get(ctx, "k")
	assert.ErrorIs(t, err, tokenstore.ErrNotFound)
}

func TestGetExpired(t *testing.T) {
	t.Parallel()

	ts := tokenstore.NewMemory()
	ctx := context.Background()

	require.NoError(t, ts.Set(ctx, "k", []byte("v"), -time.Second))

	_, err := ts.Get(ctx, "k")
	assert.ErrorIs(t, err, tokenstore.ErrNotFound)

	ok, err := ts.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConsumeOnce(t *testing.T) {
	t.Parallel()

	ts := tokenstore.NewMemory()
	ctx := context.Background()

	require.NoError(t, ts.Set(ctx, "k", []byte("v"), time.Minute))

	got, err := ts.Consume(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	// Second consumption observes the rewritten TTL.
	_, err = ts.Consume(ctx, "k")
	assert.ErrorIs(t, err, tokenstore.ErrConsumed)

	_, err = ts.Get(ctx, "k")
	assert.ErrorIs(t, err, tokenstore.ErrNotFound)
}

func TestConsumeRaceExactlyOneWinner(t *testing.T) {
	t.Parallel()

	ts := tokenstore.NewMemory()
	ctx := context.Background()

	const racers = 32

	require.NoError(t, ts.Set(ctx, "k", []byte("v"), time.Minute))

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		wins   int
		losses int
	)
	start := make(chan struct{})

	for range racers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := ts.Consume(ctx, "k")

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else {
				losses++
			}
		}()
	}

	close(start)
	wg.Wait()

	assert.Equal(t, 1, wins, "exactly one consumer wins")
	assert.Equal(t, racers-1, losses)
}

func TestPruneExpired(t *testing.T) {
	t.Parallel()

	ts := tokenstore.NewMemory()
	ctx := context.Background()

	require.NoError(t, ts.Set(ctx, "live", []byte("a"), time.Minute))
	require.NoError(t, ts.Set(ctx, "dead", []byte("b"), -time.Second))

	assert.Equal(t, 1, ts.PruneExpired(ctx))

	_, err := ts.Get(ctx, "live")
	assert.NoError(t, err)
}
