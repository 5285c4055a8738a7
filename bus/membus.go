package bus

import (
	"sync"

	"github.com/petal-labs/toolmount/observer"
)

// MemBusConfig configures an in-memory event bus.
type MemBusConfig struct {
	// SubscriberBufferSize is the channel buffer size per subscriber (default: 256).
	SubscriberBufferSize int
}

// MemBus is an in-memory event bus implementation.
type MemBus struct {
	mu         sync.RWMutex
	subs       map[string][]*memSub // toolSlug -> subscribers
	globalSubs []*memSub
	bufSize    int
	closed     bool
}

// NewMemBus creates a new in-memory event bus with the given configuration.
func NewMemBus(config MemBusConfig) *MemBus {
	bufSize := config.SubscriberBufferSize
	if bufSize <= 0 {
		bufSize = 256
	}
	return &MemBus{
		subs:    make(map[string][]*memSub),
		bufSize: bufSize,
	}
}

// Publish sends an event to the subscribers of its tool slug and to every
// global subscriber. Publishing never blocks: a full subscriber drops the
// event. Events published after Close are dropped.
func (b *MemBus) Publish(event observer.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, sub := range b.subs[event.ToolSlug] {
		sub.send(event)
	}
	for _, sub := range b.globalSubs {
		sub.send(event)
	}
}

// Subscribe registers a subscriber for a single tool slug.
func (b *MemBus) Subscribe(toolSlug string) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := newMemSub(b, toolSlug, b.bufSize)
	if b.closed {
		sub.close()
		return sub
	}
	b.subs[toolSlug] = append(b.subs[toolSlug], sub)
	return sub
}

// SubscribeAll registers a subscriber that receives events for every tool.
func (b *MemBus) SubscribeAll() Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := newMemSub(b, "", b.bufSize)
	sub.global = true
	if b.closed {
		sub.close()
		return sub
	}
	b.globalSubs = append(b.globalSubs, sub)
	return sub
}

// SubscriberCount returns the number of open subscriptions.
func (b *MemBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := len(b.globalSubs)
	for _, subs := range b.subs {
		n += len(subs)
	}
	return n
}

// Close shuts down the bus and all active subscriptions.
func (b *MemBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for _, subs := range b.subs {
		for _, sub := range subs {
			sub.close()
		}
	}
	for _, sub := range b.globalSubs {
		sub.close()
	}
	b.subs = make(map[string][]*memSub)
	b.globalSubs = nil
	return nil
}

// detach removes sub from the bus tables.
func (b *MemBus) detach(sub *memSub) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub.global {
		b.globalSubs = removeSub(b.globalSubs, sub)
		return
	}
	remaining := removeSub(b.subs[sub.toolSlug], sub)
	if len(remaining) == 0 {
		delete(b.subs, sub.toolSlug)
		return
	}
	b.subs[sub.toolSlug] = remaining
}

func removeSub(subs []*memSub, target *memSub) []*memSub {
	out := subs[:0]
	for _, s := range subs {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}

// memSub is an in-memory subscription.
type memSub struct {
	bus      *MemBus
	toolSlug string
	global   bool

	ch     chan observer.Event
	mu     sync.Mutex
	closed bool
}

func newMemSub(bus *MemBus, toolSlug string, bufSize int) *memSub {
	return &memSub{
		bus:      bus,
		toolSlug: toolSlug,
		ch:       make(chan observer.Event, bufSize),
	}
}

// Events returns a channel of events for this subscription.
func (s *memSub) Events() <-chan observer.Event {
	return s.ch
}

// Close unsubscribes and releases resources.
func (s *memSub) Close() error {
	s.close()
	s.bus.detach(s)
	return nil
}

// close performs the actual channel close, guarded against double-close.
func (s *memSub) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// send delivers an event to the subscription's channel.
// If the channel is full or the subscription is closed, the event is dropped.
func (s *memSub) send(event observer.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	select {
	case s.ch <- event:
	default:
	}
}

// Compile-time interface checks.
var (
	_ EventBus           = (*MemBus)(nil)
	_ Subscription       = (*memSub)(nil)
	_ observer.Publisher = (*MemBus)(nil)
)
