// Package progress defines the event bus activities use to report job
// progress to the API surface. Delivery is best-effort: publishing never
// blocks pipeline work, and events for a job without a subscriber are
// dropped. Per-job ordering is preserved by every implementation.
package progress

import "context"

// Status mirrors the persisted job states.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Event is one progress update for a job. The JSON shape is part of the
// external contract consumed by websocket fan-out.
type Event struct {
	Status     Status `json:"status"`
	Progress   *int   `json:"progress,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Pct is a convenience for building the optional Progress field.
func Pct(p int) *int { return &p }

// Bus publishes and subscribes job progress events.
type Bus interface {
	// Publish emits an event for the given job. It never blocks on slow or
	// absent consumers.
	Publish(ctx context.Context, jobID int64, ev Event) error

	// Subscribe returns a channel of events for the job and a cancel
	// function that releases the subscription. The channel is closed after
	// cancel or when the bus shuts down.
	Subscribe(ctx context.Context, jobID int64) (<-chan Event, func(), error)
}

// Processing builds the common "processing at N%" event.
func Processing(pct int) Event {
	return Event{Status: StatusProcessing, Progress: Pct(pct)}
}

// Completed builds the terminal success event. The transcript preview is
// optional and only attached by the final pipeline stage.
func Completed(transcript string) Event {
	return Event{Status: StatusCompleted, Progress: Pct(100), Transcript: transcript}
}

// Failed builds the terminal failure event.
func Failed(errText string) Event {
	return Event{Status: StatusFailed, Error: errText}
}
