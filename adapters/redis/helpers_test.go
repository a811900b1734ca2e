package redis

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// setupTest 啟動記憶體內的 redis，cleanup 會關閉連線與伺服器
func setupTest(t *testing.T) (*redis.Client, *miniredis.Miniredis, func()) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	return client, server, func() {
		client.Close()
		server.Close()
	}
}

type TestEvent struct {
	Type      string    `msgpack:"type"`
	ListingID string    `msgpack:"listing_id"`
	Amount    float64   `msgpack:"amount"`
	At        time.Time `msgpack:"at"`
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel closed")
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
	var zero T
	return zero
}
