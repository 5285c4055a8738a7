package bus

import (
	"context"

	"github.com/petal-labs/toolmount/observer"
)

// EventStore persists events for replay.
type EventStore interface {
	// Append stores an event.
	Append(ctx context.Context, event observer.Event) error

	// List returns events for a tool, optionally filtered.
	// afterSeq: return events with Seq > afterSeq (0 means all)
	// limit: max events to return (0 means no limit)
	List(ctx context.Context, toolSlug string, afterSeq uint64, limit int) ([]observer.Event, error)

	// LatestSeq returns the highest Seq for a tool (0 if no events).
	LatestSeq(ctx context.Context, toolSlug string) (uint64, error)
}
