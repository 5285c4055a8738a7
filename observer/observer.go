package observer

import (
	"log/slog"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxEventsPerTool bounds each tool's retained stream.
const DefaultMaxEventsPerTool = 1000

// Clock returns milliseconds on a monotonic timeline.
type Clock interface {
	Now() float64
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() float64

// Now implements Clock.
func (f ClockFunc) Now() float64 { return f() }

type monotonicClock struct{ start time.Time }

func (c monotonicClock) Now() float64 {
	return float64(time.Since(c.start)) / float64(time.Millisecond)
}

// NewMonotonicClock returns a clock measuring time since its creation.
func NewMonotonicClock() Clock {
	return monotonicClock{start: time.Now()}
}

// Config configures an Observer.
type Config struct {
	Clock            Clock
	Publisher        Publisher
	Logger           *slog.Logger
	MaxEventsPerTool int

	// Session tags every event. Default: a random UUID.
	Session string

	// SeqStart returns the last sequence number already issued for a tool,
	// so a stream persisted by an earlier process continues instead of
	// restarting at 1. It is called once per tool.
	SeqStart func(toolSlug string) uint64
}

type stream struct {
	events []Event
	seq    uint64
	last   float64
	stats  toolStats
}

type toolStats struct {
	total         int
	lastEvent     string
	status        string
	compatibility string
	category      Category
	durationMS    float64
	fallbacks     int
	successes     int
	failures      int
	retries       int
	compatMode    int
}

// Observer is the runtime event recorder. The zero value is not usable; use
// New or Default.
type Observer struct {
	clock     Clock
	publisher Publisher
	logger    *slog.Logger
	max       int
	session   string
	seqStart  func(string) uint64

	mu      sync.Mutex
	streams map[string]*stream
	order   []string

	subMu   sync.RWMutex
	subs    map[uint64]Subscriber
	nextSub uint64
}

var (
	defaultObserver *Observer
	defaultOnce     sync.Once
)

// Default returns the process-wide observer.
func Default() *Observer {
	defaultOnce.Do(func() {
		defaultObserver = New(Config{})
	})
	return defaultObserver
}

// New creates an observer.
func New(cfg Config) *Observer {
	if cfg.Clock == nil {
		cfg.Clock = NewMonotonicClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxEventsPerTool <= 0 {
		cfg.MaxEventsPerTool = DefaultMaxEventsPerTool
	}
	if cfg.Session == "" {
		cfg.Session = uuid.NewString()
	}
	return &Observer{
		clock:     cfg.Clock,
		publisher: cfg.Publisher,
		logger:    cfg.Logger,
		max:       cfg.MaxEventsPerTool,
		session:   cfg.Session,
		seqStart:  cfg.SeqStart,
		streams:   make(map[string]*stream),
		subs:      make(map[uint64]Subscriber),
	}
}

// Record appends an event to toolSlug's stream.
func (o *Observer) Record(toolSlug, event string, payload map[string]any) {
	o.record(toolSlug, event, nil, payload)
}

// RecordDuration appends an event carrying a duration.
func (o *Observer) RecordDuration(toolSlug, event string, d time.Duration, payload map[string]any) {
	ms := float64(d) / float64(time.Millisecond)
	o.record(toolSlug, event, &ms, payload)
}

func (o *Observer) record(toolSlug, event string, durationMS *float64, payload map[string]any) {
	if o == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Warn("observer: record dropped", "event", event, "tool", toolSlug, "panic", r)
		}
	}()

	ev := Event{
		Event:      event,
		ToolSlug:   toolSlug,
		Session:    o.session,
		DurationMS: durationMS,
		Payload:    maps.Clone(payload),
	}

	// The clock and SeqStart are called without o.mu held.
	now := o.clock.Now()
	var start uint64
	if o.seqStart != nil && !o.known(toolSlug) {
		start = o.seqStart(toolSlug)
	}

	o.append(&ev, now, start)
	o.publish(ev)
}

// Session returns the tag carried by this observer's events.
func (o *Observer) Session() string { return o.session }

func (o *Observer) known(toolSlug string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.streams[toolSlug]
	return ok
}

// append stamps ev with its timestamp and sequence number and stores it.
// start seeds the sequence of a stream created by this call.
func (o *Observer) append(ev *Event, now float64, start uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	s, ok := o.streams[ev.ToolSlug]
	if !ok {
		s = &stream{seq: start}
		o.streams[ev.ToolSlug] = s
		o.order = append(o.order, ev.ToolSlug)
	}
	if now < s.last {
		now = s.last
	}
	s.last = now
	s.seq++
	ev.Timestamp = now
	ev.Seq = s.seq
	s.events = append(s.events, *ev)
	if len(s.events) > o.max {
		s.events = append([]Event(nil), s.events[len(s.events)-o.max:]...)
	}
	s.stats.apply(*ev)
}

func (o *Observer) publish(ev Event) {
	if o.publisher != nil {
		o.safeCall(ev, o.publisher.Publish)
	}
	o.subMu.RLock()
	ids := make([]uint64, 0, len(o.subs))
	for id := range o.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	subs := make([]Subscriber, 0, len(ids))
	for _, id := range ids {
		subs = append(subs, o.subs[id])
	}
	o.subMu.RUnlock()

	for _, fn := range subs {
		o.safeCall(ev, fn)
	}
}

func (o *Observer) safeCall(ev Event, fn func(Event)) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Debug("observer: subscriber panicked", "event", ev.Event, "panic", r)
		}
	}()
	fn(ev)
}

// Subscribe registers fn for every subsequent event.
func (o *Observer) Subscribe(fn Subscriber) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	o.subMu.Lock()
	o.nextSub++
	id := o.nextSub
	o.subs[id] = fn
	o.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			o.subMu.Lock()
			delete(o.subs, id)
			o.subMu.Unlock()
		})
	}
}

// Events returns a copy of one tool's stream.
func (o *Observer) Events(toolSlug string) []Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.streams[toolSlug]
	if !ok {
		return nil
	}
	return append([]Event(nil), s.events...)
}

// All returns every retained event grouped by tool in first-seen order.
func (o *Observer) All() []Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []Event
	for _, slug := range o.order {
		out = append(out, o.streams[slug].events...)
	}
	return out
}

// ResetForTesting drops every stream and subscriber.
func (o *Observer) ResetForTesting() {
	o.mu.Lock()
	o.streams = make(map[string]*stream)
	o.order = nil
	o.mu.Unlock()

	o.subMu.Lock()
	o.subs = make(map[uint64]Subscriber)
	o.subMu.Unlock()
}
