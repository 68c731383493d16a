package pipeline

import (
	"context"
	"time"

	"go.temporal.io/sdk/activity"
)

// pacemaker emits activity heartbeats on a fixed interval until the returned
// stop function is called. Stages whose work is one long blocking call (model
// requests, batch embedding) use it so heartbeat timeouts still detect a
// stuck worker.
func pacemaker(ctx context.Context, interval time.Duration) (stop func()) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				activity.RecordHeartbeat(ctx)
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}
