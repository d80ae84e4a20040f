package lease

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const window = 60 * time.Second

func withLimiter(t *testing.T, action func(l *Limiter, clock *fakeClock, mr *miniredis.Miniredis)) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	clock := &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
	l := NewLimiter(NewRedisCounterStore(rdb), zerolog.Nop()).WithClock(clock.Now)
	action(l, clock, mr)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func counter(t *testing.T, mr *miniredis.Miniredis, key string) int64 {
	v, err := mr.Get(RateKey(key))
	require.NoError(t, err)
	n, err := strconv.ParseInt(v, 10, 64)
	require.NoError(t, err)
	return n
}

func TestReserve_FirstCallProceeds(t *testing.T) {
	withLimiter(t, func(l *Limiter, clock *fakeClock, mr *miniredis.Miniredis) {
		res, err := l.Reserve(context.Background(), "bigquery-load", window)
		require.NoError(t, err)

		assert.True(t, res.Proceed)
		assert.False(t, res.Stale)
		assert.Equal(t, clock.Now().Add(window), res.NextAllowed)
		assert.Equal(t, clock.Now().Add(window).UnixMilli(), counter(t, mr, "bigquery-load"))
	})
}

func TestReserve_SecondCallWithinWindowIsDeferredAndCompensated(t *testing.T) {
	withLimiter(t, func(l *Limiter, clock *fakeClock, mr *miniredis.Miniredis) {
		first, err := l.Reserve(context.Background(), "bigquery-load", window)
		require.NoError(t, err)
		require.True(t, first.Proceed)

		clock.Advance(10 * time.Second)
		second, err := l.Reserve(context.Background(), "bigquery-load", window)
		require.NoError(t, err)

		assert.False(t, second.Proceed)
		assert.Equal(t, first.NextAllowed, second.NextAllowed)
		// 补偿后计数器回到第一次预留后的值
		assert.Equal(t, first.NextAllowed.UnixMilli(), counter(t, mr, "bigquery-load"))
	})
}

func TestReserve_ProceedsOnceWindowElapsed(t *testing.T) {
	withLimiter(t, func(l *Limiter, clock *fakeClock, mr *miniredis.Miniredis) {
		first, err := l.Reserve(context.Background(), "bigquery-load", window)
		require.NoError(t, err)

		clock.Advance(window)
		second, err := l.Reserve(context.Background(), "bigquery-load", window)
		require.NoError(t, err)

		assert.True(t, second.Proceed)
		assert.False(t, second.Stale)
		assert.Equal(t, first.NextAllowed.Add(window), second.NextAllowed)
	})
}

func TestReserve_StaleCounterIsReset(t *testing.T) {
	withLimiter(t, func(l *Limiter, clock *fakeClock, mr *miniredis.Miniredis) {
		first, err := l.Reserve(context.Background(), "bigquery-load", window)
		require.NoError(t, err)

		// 超过 nextAllowed + window/2
		clock.Advance(window + window/2 + time.Millisecond)
		res, err := l.Reserve(context.Background(), "bigquery-load", window)
		require.NoError(t, err)

		assert.True(t, res.Proceed)
		assert.True(t, res.Stale)
		assert.True(t, res.NextAllowed.After(first.NextAllowed.Add(window)))
		assert.Equal(t, clock.Now().Add(window), res.NextAllowed)
		assert.Equal(t, clock.Now().Add(window).UnixMilli(), counter(t, mr, "bigquery-load"))

		// 重置后紧接着的调用仍被限流
		next, err := l.Reserve(context.Background(), "bigquery-load", window)
		require.NoError(t, err)
		assert.False(t, next.Proceed)
	})
}

func TestReserve_KeysAreIndependent(t *testing.T) {
	withLimiter(t, func(l *Limiter, clock *fakeClock, mr *miniredis.Miniredis) {
		a, err := l.Reserve(context.Background(), "a", window)
		require.NoError(t, err)
		b, err := l.Reserve(context.Background(), "b", window)
		require.NoError(t, err)

		assert.True(t, a.Proceed)
		assert.True(t, b.Proceed)
	})
}

func TestReserve_ConcurrentBurstGrantsExactlyOne(t *testing.T) {
	withLimiter(t, func(l *Limiter, clock *fakeClock, mr *miniredis.Miniredis) {
		const n = 20
		results := make([]Reservation, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				res, err := l.Reserve(context.Background(), "bigquery-load", window)
				assert.NoError(t, err)
				results[i] = res
			}(i)
		}
		wg.Wait()

		proceeded := 0
		for _, r := range results {
			if r.Proceed {
				proceeded++
				continue
			}
			assert.False(t, r.NextAllowed.Before(clock.Now()))
		}
		assert.Equal(t, 1, proceeded)
		assert.Equal(t, clock.Now().Add(window).UnixMilli(), counter(t, mr, "bigquery-load"))
	})
}

func TestReserve_DeferredTimesAreMonotonic(t *testing.T) {
	withLimiter(t, func(l *Limiter, clock *fakeClock, mr *miniredis.Miniredis) {
		_, err := l.Reserve(context.Background(), "bigquery-load", window)
		require.NoError(t, err)

		var last time.Time
		for i := 0; i < 5; i++ {
			clock.Advance(5 * time.Second)
			res, err := l.Reserve(context.Background(), "bigquery-load", window)
			require.NoError(t, err)
			require.False(t, res.Proceed)
			assert.False(t, res.NextAllowed.Before(last))
			last = res.NextAllowed
		}
	})
}

func TestReserve_RejectsNonPositiveWindow(t *testing.T) {
	withLimiter(t, func(l *Limiter, clock *fakeClock, mr *miniredis.Miniredis) {
		_, err := l.Reserve(context.Background(), "bigquery-load", 0)
		assert.Error(t, err)
	})
}
