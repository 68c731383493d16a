package inmem

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixware/mxwhisper/progress"
)

func TestPublishWithoutSubscriberDoesNotBlock(t *testing.T) {
	bus := New()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			_ = bus.Publish(context.Background(), 1, progress.Processing(i%100))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked with no subscriber")
	}
}

func TestSubscriberReceivesInOrder(t *testing.T) {
	bus := New()
	ch, cancel, err := bus.Subscribe(context.Background(), 7)
	require.NoError(t, err)
	defer cancel()

	for _, pct := range []int{10, 40, 90} {
		require.NoError(t, bus.Publish(context.Background(), 7, progress.Processing(pct)))
	}

	for _, want := range []int{10, 40, 90} {
		select {
		case ev := <-ch:
			require.NotNil(t, ev.Progress)
			assert.Equal(t, want, *ev.Progress)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestEventsAreScopedPerJob(t *testing.T) {
	bus := New()
	ch1, cancel1, err := bus.Subscribe(context.Background(), 1)
	require.NoError(t, err)
	defer cancel1()
	ch2, cancel2, err := bus.Subscribe(context.Background(), 2)
	require.NoError(t, err)
	defer cancel2()

	require.NoError(t, bus.Publish(context.Background(), 1, progress.Failed("boom")))

	select {
	case ev := <-ch1:
		assert.Equal(t, progress.StatusFailed, ev.Status)
		assert.Equal(t, "boom", ev.Error)
	case <-time.After(time.Second):
		t.Fatal("subscriber for job 1 got nothing")
	}
	select {
	case ev, ok := <-ch2:
		if ok {
			t.Fatalf("subscriber for job 2 received foreign event: %+v", ev)
		}
	default:
	}
}

func TestTerminalEventClosesChannelAfterLinger(t *testing.T) {
	bus := New()
	ch, cancel, err := bus.Subscribe(context.Background(), 3)
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, bus.Publish(context.Background(), 3, progress.Completed("hello world")))

	select {
	case ev := <-ch:
		assert.Equal(t, progress.StatusCompleted, ev.Status)
		assert.Equal(t, "hello world", ev.Transcript)
	case <-time.After(time.Second):
		t.Fatal("terminal event not delivered")
	}

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed after linger")
	case <-time.After(2 * linger):
		t.Fatal("channel not closed after terminal event")
	}
}

func TestPublishRacingCancelDoesNotPanic(t *testing.T) {
	bus := New()
	for i := 0; i < 200; i++ {
		_, cancel, err := bus.Subscribe(context.Background(), 5)
		require.NoError(t, err)
		done := make(chan struct{})
		go func() {
			defer close(done)
			for j := 0; j < 50; j++ {
				_ = bus.Publish(context.Background(), 5, progress.Processing(j))
			}
		}()
		cancel()
		<-done
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	bus := New()
	_, cancel, err := bus.Subscribe(context.Background(), 9)
	require.NoError(t, err)
	cancel()
	cancel()
}
