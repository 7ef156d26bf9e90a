package keylock_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/entitlements/pkg/keylock"
)

func TestKeyedMutex_MutualExclusion(t *testing.T) {
	t.Parallel()

	m := keylock.NewKeyedMutex()
	ctx := context.Background()

	var counter int
	var wg sync.WaitGroup

	const workers = 32
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()

			release, err := m.Acquire(ctx, "user-1")
			assert.NoError(t, err)
			defer release()

			// Unsynchronized read-modify-write; only the lock keeps it safe.
			v := counter
			time.Sleep(time.Millisecond)
			counter = v + 1
		}()
	}
	wg.Wait()

	assert.Equal(t, workers, counter)
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	t.Parallel()

	m := keylock.NewKeyedMutex()
	ctx := context.Background()

	release1, err := m.Acquire(ctx, "user-1")
	require.NoError(t, err)
	defer release1()

	// A different key must not block behind user-1.
	done := make(chan struct{})
	go func() {
		release2, err := m.Acquire(ctx, "user-2")
		assert.NoError(t, err)
		release2()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("acquire of independent key blocked")
	}
}

func TestKeyedMutex_ContextCancellation(t *testing.T) {
	t.Parallel()

	m := keylock.NewKeyedMutex()

	release, err := m.Acquire(context.Background(), "user-1")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = m.Acquire(ctx, "user-1")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestKeyedMutex_ReacquireAfterRelease(t *testing.T) {
	t.Parallel()

	m := keylock.NewKeyedMutex()
	ctx := context.Background()

	release, err := m.Acquire(ctx, "user-1")
	require.NoError(t, err)
	release()

	release, err = m.Acquire(ctx, "user-1")
	require.NoError(t, err)
	release()
}
