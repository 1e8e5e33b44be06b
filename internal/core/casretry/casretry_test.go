package casretry

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoStopsOnSuccess(t *testing.T) {
	calls := 0
	n, err := Do(context.Background(), Policy{}, func(context.Context) (bool, error) {
		calls++
		return calls == 3, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, calls)
}

func TestDoReturnsAttemptErrors(t *testing.T) {
	boom := errors.New("connection reset")
	n, err := Do(context.Background(), Policy{}, func(context.Context) (bool, error) {
		return false, boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, n)
}

func TestDoHonoursMaxAttempts(t *testing.T) {
	n, err := Do(context.Background(), Policy{MaxAttempts: 4}, func(context.Context) (bool, error) {
		return false, nil
	})
	require.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 4, n)
}

func TestDoStopsWhenBudgetElapses(t *testing.T) {
	started := time.Now()
	_, err := Do(context.Background(), Policy{Budget: 30 * time.Millisecond}, func(context.Context) (bool, error) {
		return false, nil
	})
	require.ErrorIs(t, err, ErrExhausted)
	assert.Less(t, time.Since(started), time.Second)
}

func TestDoRespectsContextDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	started := time.Now()
	_, err := Do(ctx, Policy{Budget: time.Minute}, func(context.Context) (bool, error) {
		return false, nil
	})
	require.Error(t, err)
	assert.Less(t, time.Since(started), time.Second)
}

func TestDoCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := Do(ctx, Policy{}, func(context.Context) (bool, error) {
		t.Fatal("attempt must not run")
		return true, nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, n)
}

// A version-checked counter whose read and write are separated by a yield,
// the shape of a WATCH/EXEC round trip. Every writer must land with the
// default policy.
func TestDoResolvesHeavyContention(t *testing.T) {
	var (
		mu      sync.Mutex
		value   int
		version int
	)
	read := func() (int, int) {
		mu.Lock()
		defer mu.Unlock()
		return value, version
	}
	swap := func(seen, next int) bool {
		mu.Lock()
		defer mu.Unlock()
		if version != seen {
			return false
		}
		value, version = next, version+1
		return true
	}

	const writers = 50
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := Do(context.Background(), Policy{}, func(context.Context) (bool, error) {
				v, seen := read()
				runtime.Gosched()
				return swap(seen, v+1), nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, _ := read()
	assert.Equal(t, writers, got)
}

func TestJitterStaysInRange(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := jitter(10 * time.Millisecond)
		assert.GreaterOrEqual(t, d, 5*time.Millisecond)
		assert.LessOrEqual(t, d, 10*time.Millisecond)
	}
}
