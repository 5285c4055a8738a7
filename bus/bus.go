// Package bus distributes runtime observability events. The observer
// publishes every recorded event here so that live consumers (SSE streams,
// persistence, telemetry) can follow a tool's bootstrap without polling.
package bus

import "github.com/petal-labs/toolmount/observer"

// EventBus distributes events to subscribers.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(event observer.Event)

	// Subscribe registers a subscriber for a single tool slug.
	// Returns a Subscription that must be closed when done.
	Subscribe(toolSlug string) Subscription

	// SubscribeAll registers a subscriber that receives events for every tool.
	// Returns a Subscription that must be closed when done.
	SubscribeAll() Subscription

	// Close shuts down the bus and all subscriptions.
	Close() error
}

// Subscription receives events.
type Subscription interface {
	// Events returns a channel of events for this subscription.
	Events() <-chan observer.Event

	// Close unsubscribes and releases resources.
	Close() error
}
