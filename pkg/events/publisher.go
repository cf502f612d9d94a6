package events

import "context"

// Publisher delivers knowledge-change events to a backend.
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
	Close() error
}
