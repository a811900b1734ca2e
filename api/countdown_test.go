package api

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"arsa/pricing"
)

type completer struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (c *completer) complete(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, id)
	return c.fail[id]
}

func (c *completer) called() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func TestNewCountdown(t *testing.T) {
	source := func(context.Context) ([]pricing.Listing, error) { return nil, nil }
	complete := func(context.Context, string) error { return nil }

	_, err := NewCountdown(nil, complete)
	assert.Error(t, err)
	_, err = NewCountdown(source, complete, WithCountdownInterval(0))
	assert.Error(t, err)
	_, err = NewCountdown(source, complete)
	assert.NoError(t, err)
}

func TestCountdown_Tick(t *testing.T) {
	now := testNow
	ended := auction("ended", now.Add(-2*time.Hour), now.Add(-time.Second))
	storeEnded := auction("store-ended", now.Add(-2*time.Hour), now.Add(time.Hour))
	storeEnded.Status = pricing.StatusEnded
	completed := auction("completed", now.Add(-2*time.Hour), now.Add(-time.Hour))
	completed.Status = pricing.StatusCompleted
	cancelled := auction("cancelled", now.Add(-2*time.Hour), now.Add(-time.Hour))
	cancelled.Status = pricing.StatusCancelled
	active := auction("active", now.Add(-time.Hour), now.Add(time.Hour))
	atEnd := auction("at-end", now.Add(-time.Hour), now)
	broken := auction("broken", time.Time{}, now.Add(-time.Hour))
	offer := pricing.Listing{ID: "offer", Kind: pricing.KindOffer, StartTime: now.Add(-2 * time.Hour), EndTime: now.Add(-time.Hour)}

	listings := []pricing.Listing{ended, storeEnded, completed, cancelled, active, atEnd, broken, offer}
	c := &completer{}
	var notified []string
	countdown, err := NewCountdown(
		func(context.Context) ([]pricing.Listing, error) { return listings, nil },
		c.complete,
		WithCountdownClock(func() time.Time { return now }),
		WithCountdownLogger(discardLogger),
		WithCountdownOnComplete(func(l pricing.Listing) { notified = append(notified, l.ID) }),
	)
	require.NoError(t, err)

	done, err := countdown.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"ended", "store-ended"}, done)
	assert.Equal(t, []string{"ended", "store-ended"}, notified)

	// 同一個行程內不會重複完成
	done, err = countdown.Tick(context.Background())
	require.NoError(t, err)
	assert.Empty(t, done)
	assert.Equal(t, []string{"ended", "store-ended"}, c.called())

	// 時間經過後，剛好在結束時間的拍賣也會被完成
	now = now.Add(time.Second)
	done, err = countdown.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"at-end"}, done)
}

func TestCountdown_RetriesFailedCompletion(t *testing.T) {
	ended := auction("ended", testNow.Add(-2*time.Hour), testNow.Add(-time.Minute))
	c := &completer{fail: map[string]error{"ended": errors.New("timeout")}}
	countdown, err := NewCountdown(
		func(context.Context) ([]pricing.Listing, error) { return []pricing.Listing{ended}, nil },
		c.complete,
		WithCountdownClock(func() time.Time { return testNow }),
		WithCountdownLogger(discardLogger),
	)
	require.NoError(t, err)

	done, err := countdown.Tick(context.Background())
	require.NoError(t, err)
	assert.Empty(t, done)

	c.mu.Lock()
	delete(c.fail, "ended")
	c.mu.Unlock()

	done, err = countdown.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"ended"}, done)
	assert.Equal(t, []string{"ended", "ended"}, c.called())
}

func TestCountdown_SourceError(t *testing.T) {
	countdown, err := NewCountdown(
		func(context.Context) ([]pricing.Listing, error) { return nil, errors.New("cache miss failed") },
		func(context.Context, string) error { return nil },
	)
	require.NoError(t, err)

	_, err = countdown.Tick(context.Background())
	assert.EqualError(t, err, "cache miss failed")
}

func TestCountdown_Run(t *testing.T) {
	defer goleak.VerifyNone(t)
	ended := auction("ended", testNow.Add(-2*time.Hour), testNow.Add(-time.Minute))
	c := &completer{}
	countdown, err := NewCountdown(
		func(context.Context) ([]pricing.Listing, error) { return []pricing.Listing{ended}, nil },
		c.complete,
		WithCountdownClock(func() time.Time { return testNow }),
		WithCountdownInterval(time.Millisecond),
		WithCountdownLogger(discardLogger),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		countdown.Run(ctx)
	}()

	require.Eventually(t, func() bool { return len(c.called()) == 1 }, time.Second, time.Millisecond)
	cancel()
	<-stopped
	assert.Equal(t, []string{"ended"}, c.called())
}

func TestCountdown_PrunesCompleted(t *testing.T) {
	now := testNow
	listings := []pricing.Listing{
		auction("first", now.Add(-2*time.Hour), now.Add(-time.Minute)),
		auction("second", now.Add(-2*time.Hour), now.Add(-time.Minute)),
	}
	var mu sync.Mutex
	source := func(context.Context) ([]pricing.Listing, error) {
		mu.Lock()
		defer mu.Unlock()
		return listings, nil
	}
	countdown, err := NewCountdown(source, (&completer{}).complete,
		WithCountdownClock(func() time.Time { return now }),
		WithCountdownLogger(discardLogger),
	)
	require.NoError(t, err)

	done, err := countdown.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, done)
	assert.Len(t, countdown.completed, 2)

	// 不再出現在資料來源中的拍賣不會繼續佔用紀錄
	mu.Lock()
	listings = listings[1:]
	mu.Unlock()
	done, err = countdown.Tick(context.Background())
	require.NoError(t, err)
	assert.Empty(t, done)
	assert.Len(t, countdown.completed, 1)
	assert.Contains(t, countdown.completed, "second")

	mu.Lock()
	listings = nil
	mu.Unlock()
	_, err = countdown.Tick(context.Background())
	require.NoError(t, err)
	assert.Empty(t, countdown.completed)
}
