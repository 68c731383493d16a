package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixware/mxwhisper/progress"
)

func newBus(t *testing.T) *Bus {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client)
}

func TestRoundTrip(t *testing.T) {
	bus := newBus(t)
	ctx := context.Background()

	ch, cancel, err := bus.Subscribe(ctx, 42)
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, bus.Publish(ctx, 42, progress.Processing(33)))
	require.NoError(t, bus.Publish(ctx, 42, progress.Failed("llm unreachable")))

	select {
	case ev := <-ch:
		assert.Equal(t, progress.StatusProcessing, ev.Status)
		require.NotNil(t, ev.Progress)
		assert.Equal(t, 33, *ev.Progress)
	case <-time.After(2 * time.Second):
		t.Fatal("first event not delivered")
	}
	select {
	case ev := <-ch:
		assert.Equal(t, progress.StatusFailed, ev.Status)
		assert.Equal(t, "llm unreachable", ev.Error)
		assert.Nil(t, ev.Progress)
	case <-time.After(2 * time.Second):
		t.Fatal("second event not delivered")
	}
}

func TestPublishWithoutSubscriberIsDropped(t *testing.T) {
	bus := newBus(t)
	require.NoError(t, bus.Publish(context.Background(), 7, progress.Completed("text")))
}

func TestCancelStopsDelivery(t *testing.T) {
	bus := newBus(t)
	ctx := context.Background()

	ch, cancel, err := bus.Subscribe(ctx, 5)
	require.NoError(t, err)
	cancel()
	cancel() // second cancel must be a no-op

	require.NoError(t, bus.Publish(ctx, 5, progress.Processing(10)))

	deadline := time.After(500 * time.Millisecond)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("channel never closed after cancel")
		}
	}
}
