package dispatch

import (
	"context"
	"time"

	"podium/internal/async"
)

// EventType identifies one frame in a streamed batch.
type EventType string

const (
	EventStart    EventType = "start"
	EventResult   EventType = "result"
	EventComplete EventType = "complete"
)

// Event is one frame emitted while a streamed batch runs.
type Event struct {
	Type      EventType   `json:"type"`
	Total     int         `json:"total,omitempty"`
	Result    *CallResult `json:"result,omitempty"`
	Summary   *Summary    `json:"summary,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Stream executes the batch and delivers events on the returned channel:
// one start frame, one result frame per request in completion order, then a
// complete frame carrying the batch summary. The channel is always closed.
//
// Cancelling ctx tears the pool down without waiting for stragglers; frames
// that cannot be delivered are dropped rather than blocking a worker on a
// consumer that went away. The complete frame is still attempted so a
// half-read stream ends with a terminator whenever the consumer survives.
func (d *Dispatcher) Stream(ctx context.Context, requests []CallRequest, workers int) <-chan Event {
	out := make(chan Event)
	async.Go(d.logger, "dispatch-stream", func() {
		defer close(out)
		start := time.Now()

		if !send(ctx, out, Event{Type: EventStart, Total: len(requests), Timestamp: time.Now().UTC()}) {
			return
		}

		// The completion buffer matches the pool size: finished calls
		// never pile up past the in-flight bound while the consumer lags.
		poolSize := workers
		if poolSize < 1 {
			poolSize = 1
		}
		if poolSize > len(requests) {
			poolSize = len(requests)
		}
		completions := make(chan CallResult, poolSize)
		d.runToChannel(ctx, requests, workers, completions)

		results := make([]CallResult, 0, len(requests))
		for r := range completions {
			results = append(results, r)
			r := r
			send(ctx, out, Event{Type: EventResult, Result: &r, Timestamp: time.Now().UTC()})
		}

		summary := Summarize(results, time.Since(start))
		send(ctx, out, Event{Type: EventComplete, Summary: &summary, Timestamp: time.Now().UTC()})
	})
	return out
}

// send delivers one frame unless the consumer's context is already gone.
func send(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
