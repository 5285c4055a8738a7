package bus

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/petal-labs/toolmount/observer"
)

type failingStore struct{ MemEventStore }

func (*failingStore) Append(context.Context, observer.Event) error { return errors.New("disk full") }

func TestStoreSubscriber_PersistsEvents(t *testing.T) {
	store := newTestStore(t)
	sub := NewStoreSubscriber(store, slog.Default())

	for i := uint64(1); i <= 3; i++ {
		sub.Handle(seqEvent("tool", i))
	}

	events, err := store.List(context.Background(), "tool", 0, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(events) != 3 {
		t.Errorf("got %d events, want 3", len(events))
	}
}

func TestStoreSubscriber_HandleSwallowsErrors(t *testing.T) {
	sub := NewStoreSubscriber(&failingStore{}, nil)
	sub.Handle(seqEvent("tool", 1)) // must not panic
}

func TestStoreSubscriber_AsObserverSubscriber(t *testing.T) {
	store := NewMemEventStore()
	obs := observer.New(observer.Config{})
	obs.Subscribe(NewStoreSubscriber(store, nil).Handle)

	obs.Record("tool", observer.EventBootstrapStart, nil)
	obs.Record("tool", observer.EventBootstrapComplete, map[string]any{"outcome": observer.OutcomeHealthy})

	if seq, _ := store.LatestSeq(context.Background(), "tool"); seq != 2 {
		t.Errorf("LatestSeq = %d, want 2", seq)
	}
}

func TestStoreSubscriber_Drain(t *testing.T) {
	b := NewMemBus(MemBusConfig{})
	store := NewMemEventStore()
	sub := b.SubscribeAll()

	done := make(chan struct{})
	go func() {
		NewStoreSubscriber(store, nil).Drain(context.Background(), sub)
		close(done)
	}()

	b.Publish(seqEvent("tool", 1))
	b.Publish(seqEvent("tool", 2))
	b.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Drain did not return after bus close")
	}
	if seq, _ := store.LatestSeq(context.Background(), "tool"); seq != 2 {
		t.Errorf("LatestSeq = %d, want 2", seq)
	}
}
