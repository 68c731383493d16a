// Package redis provides a progress bus backed by Redis pub/sub so that
// pipeline workers and the API surface can run in separate processes.
// Channels are named mxwhisper:job:<id>; Redis pub/sub preserves per-channel
// publish order and drops messages with no subscriber, which matches the
// bus's best-effort contract.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	goredis "github.com/redis/go-redis/v9"
	"goa.design/clue/log"

	"github.com/mixware/mxwhisper/progress"
)

// Bus publishes progress events through Redis pub/sub.
type Bus struct {
	client goredis.UniversalClient
}

var _ progress.Bus = (*Bus)(nil)

// New wraps an existing Redis client. The caller owns the client lifecycle.
func New(client goredis.UniversalClient) *Bus {
	return &Bus{client: client}
}

func channel(jobID int64) string {
	return fmt.Sprintf("mxwhisper:job:%d", jobID)
}

// Publish marshals the event and publishes it to the job's channel. Redis
// publish does not block on consumers, so this is safe to call from activity
// hot paths.
func (b *Bus) Publish(ctx context.Context, jobID int64, ev progress.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal progress event: %w", err)
	}
	if err := b.client.Publish(ctx, channel(jobID), payload).Err(); err != nil {
		return fmt.Errorf("publish progress event: %w", err)
	}
	return nil
}

// Subscribe opens a Redis subscription for the job's channel and decodes
// events onto the returned channel until cancel is called or the context
// ends. Malformed payloads are logged and skipped.
func (b *Bus) Subscribe(ctx context.Context, jobID int64) (<-chan progress.Event, func(), error) {
	sub := b.client.Subscribe(ctx, channel(jobID))
	// Force the subscription to be established before returning so callers
	// do not miss events published immediately after Subscribe.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("subscribe job %d: %w", jobID, err)
	}

	out := make(chan progress.Event, 16)
	done := make(chan struct{})
	go func() {
		defer close(out)
		msgs := sub.Channel()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev progress.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					log.Warn(ctx, log.KV{K: "msg", V: "dropping malformed progress event"},
						log.KV{K: "job_id", V: jobID}, log.KV{K: "err", V: err.Error()})
					continue
				}
				select {
				case out <- ev:
				case <-done:
					return
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = sub.Close()
		})
	}
	return out, cancel, nil
}
