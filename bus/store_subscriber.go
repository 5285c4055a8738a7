package bus

import (
	"context"
	"log/slog"

	"github.com/petal-labs/toolmount/observer"
)

// StoreSubscriber writes events to an EventStore. Its Handle method has the
// observer.Subscriber signature so it can be attached to an Observer directly.
type StoreSubscriber struct {
	store  EventStore
	logger *slog.Logger
}

// NewStoreSubscriber creates a new StoreSubscriber.
func NewStoreSubscriber(store EventStore, logger *slog.Logger) *StoreSubscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreSubscriber{
		store:  store,
		logger: logger,
	}
}

// Handle persists a single event to the store.
func (s *StoreSubscriber) Handle(event observer.Event) {
	if err := s.store.Append(context.Background(), event); err != nil {
		s.logger.Error("failed to persist event",
			"tool_slug", event.ToolSlug,
			"event", event.Event,
			"seq", event.Seq,
			"error", err,
		)
	}
}

// Drain persists every event delivered on sub until the subscription closes
// or ctx is done.
func (s *StoreSubscriber) Drain(ctx context.Context, sub Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.Events():
			if !ok {
				return
			}
			s.Handle(e)
		}
	}
}
