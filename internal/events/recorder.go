package events

import (
	"context"
	"sync"
	"time"
)

// Recorder is an in-memory Publisher for tests.
type Recorder struct {
	mu      sync.Mutex
	Events  []Event
	Delayed []DelayedEvent

	// Err, when set, is returned from every publish.
	Err error
}

// DelayedEvent is an event captured by PublishDelayed.
type DelayedEvent struct {
	Event Event
	Delay time.Duration
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.Events = append(r.Events, e)
	return nil
}

func (r *Recorder) PublishDelayed(_ context.Context, e Event, delay time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.Delayed = append(r.Delayed, DelayedEvent{Event: e, Delay: delay})
	return nil
}

// Types returns the types of published events in order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, len(r.Events))
	for i, e := range r.Events {
		types[i] = e.Type
	}
	return types
}
