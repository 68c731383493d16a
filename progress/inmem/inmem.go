// Package inmem provides a process-local progress bus. It serves single
// process deployments and tests; multi-process workers use the Redis bus.
package inmem

import (
	"context"
	"sync"
	"time"

	"github.com/mixware/mxwhisper/progress"
)

// subscriber buffer size. Publishing drops the oldest pending event when the
// buffer is full so producers never block.
const bufSize = 64

// terminal events keep the channel alive briefly so a consumer that races
// the final event still receives it before teardown.
const linger = 2 * time.Second

// Bus is an in-memory progress bus keyed by job ID.
type Bus struct {
	mu   sync.Mutex
	subs map[int64][]chan progress.Event
}

var _ progress.Bus = (*Bus)(nil)

// New returns an empty in-memory bus.
func New() *Bus {
	return &Bus{subs: make(map[int64][]chan progress.Event)}
}

// Publish delivers ev to every subscriber of jobID without blocking. Events
// published for a job with no subscribers are dropped. Terminal events tear
// the job's subscriptions down after a short linger.
func (b *Bus) Publish(_ context.Context, jobID int64, ev progress.Event) error {
	// Sends stay under the lock: they are buffered and non-blocking, and a
	// concurrent cancel must not close a channel mid-send.
	b.mu.Lock()
	for _, ch := range b.subs[jobID] {
		select {
		case ch <- ev:
		default:
			// Drop the oldest pending event to make room, preserving order
			// of what remains.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
	b.mu.Unlock()

	if ev.Status == progress.StatusCompleted || ev.Status == progress.StatusFailed {
		go func() {
			time.Sleep(linger)
			b.closeJob(jobID)
		}()
	}
	return nil
}

// Subscribe registers a consumer for jobID events.
func (b *Bus) Subscribe(_ context.Context, jobID int64) (<-chan progress.Event, func(), error) {
	ch := make(chan progress.Event, bufSize)
	b.mu.Lock()
	b.subs[jobID] = append(b.subs[jobID], ch)
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			chans := b.subs[jobID]
			for i, c := range chans {
				if c == ch {
					b.subs[jobID] = append(chans[:i], chans[i+1:]...)
					close(ch)
					break
				}
			}
			if len(b.subs[jobID]) == 0 {
				delete(b.subs, jobID)
			}
		})
	}
	return ch, cancel, nil
}

func (b *Bus) closeJob(jobID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[jobID] {
		close(ch)
	}
	delete(b.subs, jobID)
}
