package dom

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"golang.org/x/net/html"
)

// Event kinds dispatched through a Document.
const (
	EventKeyDown     = "keydown"
	EventPointerDown = "pointerdown"
	EventFocusIn     = "focusin"
	EventReady       = "DOMContentLoaded"

	// EventAny registers a listener for every dispatched kind.
	EventAny = "*"
)

// Event is one input or lifecycle signal delivered to listeners.
type Event struct {
	Kind   string
	Target *html.Node
	Key    string
	Data   map[string]any
}

// Listener handles a dispatched event.
type Listener func(Event)

// ListenerID identifies a registered listener.
type ListenerID uint64

// DocumentConfig configures a Document.
type DocumentConfig struct {
	// Loading marks the document as not yet ready; MarkReady flips it.
	Loading bool

	// OnListenerPanic is called when a listener panics during Dispatch.
	OnListenerPanic func(kind string, recovered any)
}

type listenerEntry struct {
	id ListenerID
	fn Listener
}

// Document wraps a parsed page with listeners, focus and readiness.
type Document struct {
	node *html.Node

	treeMu sync.Mutex

	mu        sync.Mutex
	listeners map[string][]listenerEntry
	nextID    ListenerID
	active    *html.Node
	ready     bool
	readyCh   chan struct{}
	onPanic   func(kind string, recovered any)
}

// NewDocument wraps an already parsed document node.
func NewDocument(node *html.Node, cfg DocumentConfig) *Document {
	if node == nil {
		node = &html.Node{Type: html.DocumentNode}
	}
	d := &Document{
		node:      node,
		listeners: make(map[string][]listenerEntry),
		readyCh:   make(chan struct{}),
		onPanic:   cfg.OnListenerPanic,
	}
	if !cfg.Loading {
		d.ready = true
		close(d.readyCh)
	}
	return d
}

// ParseDocument parses a full HTML page.
func ParseDocument(r io.Reader, cfg DocumentConfig) (*Document, error) {
	node, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("dom: parse document: %w", err)
	}
	return NewDocument(node, cfg), nil
}

// Node returns the underlying document node.
func (d *Document) Node() *html.Node {
	return d.node
}

// WithTree runs fn while holding the tree lock. Runtime code that mutates
// shared parts of the tree (head, template insertion, adaptation) goes
// through here; module code only touches its own root.
func (d *Document) WithTree(fn func()) {
	d.treeMu.Lock()
	defer d.treeMu.Unlock()
	fn()
}

// AddEventListener registers fn for kind and returns its id.
func (d *Document) AddEventListener(kind string, fn Listener) ListenerID {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	id := d.nextID
	d.listeners[kind] = append(d.listeners[kind], listenerEntry{id: id, fn: fn})
	return id
}

// RemoveEventListener removes a listener. Unknown ids are ignored.
func (d *Document) RemoveEventListener(kind string, id ListenerID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entries := d.listeners[kind]
	for i, e := range entries {
		if e.id == id {
			d.listeners[kind] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(d.listeners[kind]) == 0 {
		delete(d.listeners, kind)
	}
}

// ListenerCount returns the number of listeners registered for kind.
func (d *Document) ListenerCount(kind string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.listeners[kind])
}

// Dispatch delivers e synchronously to listeners for its kind, then to
// EventAny listeners. A panicking listener does not stop delivery.
func (d *Document) Dispatch(e Event) {
	d.mu.Lock()
	targets := make([]listenerEntry, 0, len(d.listeners[e.Kind])+len(d.listeners[EventAny]))
	targets = append(targets, d.listeners[e.Kind]...)
	if e.Kind != EventAny {
		targets = append(targets, d.listeners[EventAny]...)
	}
	onPanic := d.onPanic
	d.mu.Unlock()

	for _, t := range targets {
		d.invoke(t.fn, e, onPanic)
	}
}

func (d *Document) invoke(fn Listener, e Event, onPanic func(string, any)) {
	defer func() {
		if r := recover(); r != nil && onPanic != nil {
			onPanic(e.Kind, r)
		}
	}()
	fn(e)
}

// Focus moves focus to n and dispatches a focusin event targeting it.
func (d *Document) Focus(n *html.Node) {
	d.mu.Lock()
	d.active = n
	d.mu.Unlock()
	d.Dispatch(Event{Kind: EventFocusIn, Target: n})
}

// ActiveElement returns the focused node, or nil.
func (d *Document) ActiveElement() *html.Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// IsReady reports whether the document finished loading.
func (d *Document) IsReady() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ready
}

// Ready returns a channel closed once the document is ready.
func (d *Document) Ready() <-chan struct{} {
	return d.readyCh
}

// MarkReady flips the document to ready and dispatches EventReady once.
func (d *Document) MarkReady() {
	d.mu.Lock()
	if d.ready {
		d.mu.Unlock()
		return
	}
	d.ready = true
	close(d.readyCh)
	d.mu.Unlock()
	d.Dispatch(Event{Kind: EventReady, Target: d.node})
}

// Roots returns every element carrying data-tool-id, in document order.
// Nested roots are included.
func (d *Document) Roots() []*html.Node {
	return FindAll(d.node, ByAttr(AttrToolID))
}

// RootsByTool groups roots by tool id. Ids are returned sorted.
func (d *Document) RootsByTool() ([]string, map[string][]*html.Node) {
	grouped := make(map[string][]*html.Node)
	for _, r := range d.Roots() {
		id, _ := GetAttr(r, AttrToolID)
		grouped[id] = append(grouped[id], r)
	}
	ids := make([]string, 0, len(grouped))
	for id := range grouped {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, grouped
}

// Head returns the <head> element, creating it under <html> when missing.
func (d *Document) Head() *html.Node {
	if head := Find(d.node, ByTag("head")); head != nil {
		return head
	}
	htmlEl := Find(d.node, ByTag("html"))
	if htmlEl == nil {
		htmlEl = NewElement("html")
		d.node.AppendChild(htmlEl)
	}
	head := NewElement("head")
	if htmlEl.FirstChild != nil {
		htmlEl.InsertBefore(head, htmlEl.FirstChild)
	} else {
		htmlEl.AppendChild(head)
	}
	return head
}

// Body returns the <body> element, or the document node when absent.
func (d *Document) Body() *html.Node {
	if body := Find(d.node, ByTag("body")); body != nil {
		return body
	}
	return d.node
}

// Render writes the full document.
func (d *Document) Render(w io.Writer) error {
	var err error
	d.WithTree(func() {
		err = RenderTo(w, d.node)
	})
	return err
}
