package bus

import (
	"context"
	"sort"
	"sync"

	"github.com/petal-labs/toolmount/observer"
)

// MemEventStore is a thread-safe in-memory event store.
type MemEventStore struct {
	mu     sync.RWMutex
	events map[string][]observer.Event // toolSlug -> events
}

// NewMemEventStore creates a new in-memory event store.
func NewMemEventStore() *MemEventStore {
	return &MemEventStore{
		events: make(map[string][]observer.Event),
	}
}

func (s *MemEventStore) Append(_ context.Context, event observer.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.ToolSlug] = append(s.events[event.ToolSlug], event)
	return nil
}

func (s *MemEventStore) List(_ context.Context, toolSlug string, afterSeq uint64, limit int) ([]observer.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []observer.Event
	for _, e := range s.events[toolSlug] {
		if afterSeq > 0 && e.Seq <= afterSeq {
			continue
		}
		result = append(result, e)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *MemEventStore) LatestSeq(_ context.Context, toolSlug string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var maxSeq uint64
	for _, e := range s.events[toolSlug] {
		if e.Seq > maxSeq {
			maxSeq = e.Seq
		}
	}
	return maxSeq, nil
}

// ToolSlugs returns the slugs that have stored events, sorted.
func (s *MemEventStore) ToolSlugs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	slugs := make([]string, 0, len(s.events))
	for slug := range s.events {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	return slugs, nil
}

// Compile-time interface check.
var _ EventStore = (*MemEventStore)(nil)
