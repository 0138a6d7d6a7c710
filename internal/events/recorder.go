package events

import (
	"context"
	"sync"
)

// Published is an event captured by a Recorder
type Published struct {
	RoutingKey string
	Event      any
}

// Recorder is an in-memory Publisher that keeps everything it is given
type Recorder struct {
	mu     sync.Mutex
	events []Published
}

func (r *Recorder) Publish(ctx context.Context, routingKey string, event any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Published{RoutingKey: routingKey, Event: event})
	return nil
}

func (r *Recorder) Close() error { return nil }

// Events returns the events published with the given routing key
func (r *Recorder) Events(routingKey string) []any {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []any
	for _, p := range r.events {
		if p.RoutingKey == routingKey {
			out = append(out, p.Event)
		}
	}
	return out
}
