package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

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

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func TestNew(t *testing.T) {
	_, err := New[string, int](nil)
	assert.Error(t, err)

	fetch := func(context.Context, string) (int, error) { return 1, nil }
	_, err = New(fetch, WithTTL(0))
	assert.Error(t, err)

	_, err = New(fetch, WithSize(0))
	assert.Error(t, err)

	c, err := New(fetch)
	require.NoError(t, err)
	assert.Equal(t, DefaultTTL, c.opts.ttl)
}

func TestCache_GetWithinTTL(t *testing.T) {
	defer goleak.VerifyNone(t)
	clock := newClock()
	var calls atomic.Int32
	c, err := New(func(_ context.Context, key string) (int, error) {
		return int(calls.Add(1)), nil
	}, WithClock(clock.Now), WithTTL(time.Minute))
	require.NoError(t, err)
	ctx := context.Background()

	v, err := c.Get(ctx, "auctions")
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	clock.Advance(59 * time.Second)
	v, err = c.Get(ctx, "auctions")
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	clock.Advance(time.Second)
	v, err = c.Get(ctx, "auctions")
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	assert.EqualValues(t, 2, calls.Load())
}

func TestCache_ErrorsAreNotCached(t *testing.T) {
	defer goleak.VerifyNone(t)
	fail := true
	c, err := New(func(_ context.Context, key string) (string, error) {
		if fail {
			return "", errors.New("connection refused")
		}
		return "ok", nil
	}, WithClock(newClock().Now))
	require.NoError(t, err)

	_, err = c.Get(context.Background(), "offers")
	assert.EqualError(t, err, "connection refused")
	assert.Empty(t, c.Keys())

	fail = false
	v, err := c.Get(context.Background(), "offers")
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestCache_InvalidateAndPurge(t *testing.T) {
	var calls atomic.Int32
	c, err := New(func(_ context.Context, key string) (int32, error) {
		return calls.Add(1), nil
	}, WithClock(newClock().Now))
	require.NoError(t, err)
	ctx := context.Background()

	_, _ = c.Get(ctx, "a")
	_, _ = c.Get(ctx, "b")
	c.Invalidate("a")
	assert.ElementsMatch(t, []string{"b"}, c.Keys())

	v, _ := c.Get(ctx, "a")
	assert.EqualValues(t, 3, v)

	c.Purge()
	assert.Empty(t, c.Keys())
}

func TestCache_SizeBound(t *testing.T) {
	c, err := New(func(_ context.Context, key int) (int, error) {
		return key * 10, nil
	}, WithSize(2))
	require.NoError(t, err)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		_, err := c.Get(ctx, i)
		require.NoError(t, err)
	}
	assert.ElementsMatch(t, []int{2, 3}, c.Keys())
}

func TestCache_ConcurrentMissesShareOneFetch(t *testing.T) {
	defer goleak.VerifyNone(t)
	var calls atomic.Int32
	release := make(chan struct{})
	c, err := New(func(_ context.Context, key string) (int, error) {
		calls.Add(1)
		<-release
		return 7, nil
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]int, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = c.Get(context.Background(), "auctions")
		}(i)
	}
	// 等待第一個請求進入 fetch 後再放行
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Less(t, calls.Load(), int32(len(results)))
	for _, v := range results {
		assert.Equal(t, 7, v)
	}
}

func TestCache_Refresh(t *testing.T) {
	clock := newClock()
	values := map[string]int{"a": 1, "b": 1}
	var failB bool
	c, err := New(func(_ context.Context, key string) (int, error) {
		if key == "b" && failB {
			return 0, errors.New("timeout")
		}
		return values[key], nil
	}, WithClock(clock.Now), WithTTL(time.Minute))
	require.NoError(t, err)
	ctx := context.Background()

	_, _ = c.Get(ctx, "a")
	_, _ = c.Get(ctx, "b")

	// 未過期時不重新取得
	values["a"] = 2
	require.NoError(t, c.Refresh(ctx))
	v, _ := c.Get(ctx, "a")
	assert.Equal(t, 1, v)

	clock.Advance(time.Minute)
	failB = true
	err = c.Refresh(ctx)
	assert.EqualError(t, err, "timeout")

	v, _ = c.Get(ctx, "a")
	assert.Equal(t, 2, v)
	// 刷新失敗的資料仍保留，但已過期，Get 會再次嘗試
	assert.ElementsMatch(t, []string{"a", "b"}, c.Keys())
	_, err = c.Get(ctx, "b")
	assert.Error(t, err)
}

func TestCache_InvalidateDuringLoad(t *testing.T) {
	tests := []struct {
		name       string
		invalidate func(c *Cache[string, int])
	}{
		{name: "invalidate", invalidate: func(c *Cache[string, int]) { c.Invalidate("a") }},
		{name: "purge", invalidate: func(c *Cache[string, int]) { c.Purge() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer goleak.VerifyNone(t)
			ctx := context.Background()
			started := make(chan struct{})
			release := make(chan struct{})
			var calls atomic.Int32
			c, err := New(func(_ context.Context, _ string) (int, error) {
				n := calls.Add(1)
				if n == 1 {
					close(started)
					<-release
				}
				return int(n), nil
			})
			require.NoError(t, err)

			done := make(chan int)
			go func() {
				v, _ := c.Get(ctx, "a")
				done <- v
			}()
			<-started
			tt.invalidate(c)

			// 失效之後的讀取不等待舊的取得
			v, err := c.Get(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, 2, v)

			close(release)
			assert.Equal(t, 1, <-done)

			// 舊的結果不會覆蓋新的資料
			v, err = c.Get(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, 2, v)
			assert.EqualValues(t, 2, calls.Load())
		})
	}
}
