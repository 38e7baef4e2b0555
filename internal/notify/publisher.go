package notify

import "context"

// Publisher puts notification messages on the bus. Callers treat
// publishing as best effort: a failed publish is logged, never
// propagated into the business operation that triggered it.
type Publisher interface {
	Publish(ctx context.Context, msg *Message) error
}

// NopPublisher drops every message. Used when no broker is configured
// and in tests.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, *Message) error { return nil }
