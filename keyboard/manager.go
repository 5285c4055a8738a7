// Package keyboard multiplexes one shared document keydown listener across
// every mounted tool instance.
package keyboard

import (
	"log/slog"
	"sync"

	"golang.org/x/net/html"

	"github.com/petal-labs/toolmount/dom"
)

// Handler receives keyboard events addressed to its root.
type Handler func(dom.Event)

type registration struct {
	token   uint64
	handler Handler
}

// Manager owns the shared listener and a refcount of registered roots.
type Manager struct {
	doc    *dom.Document
	logger *slog.Logger

	mu         sync.Mutex
	handlers   map[*html.Node]registration
	nextToken  uint64
	listenerID dom.ListenerID
	installed  bool
	lastRoot   *html.Node
}

// NewManager creates a manager bound to doc.
func NewManager(doc *dom.Document, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		doc:      doc,
		logger:   logger,
		handlers: make(map[*html.Node]registration),
	}
}

// RegisterHandler routes keyboard events for root to handler. Registering a
// root again replaces its handler without changing the count; the earlier
// unregister func then becomes a no-op. The returned func is idempotent.
// A manager without a document registers nothing.
func (m *Manager) RegisterHandler(root *html.Node, handler Handler) func() {
	if m == nil || m.doc == nil || root == nil || handler == nil {
		return func() {}
	}

	m.mu.Lock()
	m.nextToken++
	token := m.nextToken
	m.handlers[root] = registration{token: token, handler: handler}
	if !m.installed {
		m.listenerID = m.doc.AddEventListener(dom.EventAny, m.onEvent)
		m.installed = true
	}
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { m.unregister(root, token) })
	}
}

// Unregister drops the handler for root. Unknown roots are ignored.
func (m *Manager) Unregister(root *html.Node) {
	m.mu.Lock()
	reg, ok := m.handlers[root]
	m.mu.Unlock()
	if ok {
		m.unregister(root, reg.token)
	}
}

func (m *Manager) unregister(root *html.Node, token uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg, ok := m.handlers[root]
	if !ok || reg.token != token {
		return
	}
	delete(m.handlers, root)
	if m.lastRoot == root {
		m.lastRoot = nil
	}
	if len(m.handlers) == 0 && m.installed {
		m.doc.RemoveEventListener(dom.EventAny, m.listenerID)
		m.installed = false
		m.listenerID = 0
	}
}

// NoteInteraction marks root as the most recently interacted root.
func (m *Manager) NoteInteraction(root *html.Node) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.handlers[root]; ok {
		m.lastRoot = root
	}
}

// RegisteredHandlerCount returns the number of registered roots.
func (m *Manager) RegisteredHandlerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handlers)
}

// ActiveGlobalListenerCount is 1 while any handler is registered, else 0.
func (m *Manager) ActiveGlobalListenerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.installed {
		return 1
	}
	return 0
}

func (m *Manager) onEvent(e dom.Event) {
	switch e.Kind {
	case dom.EventPointerDown, dom.EventFocusIn:
		if root := m.rootFor(e.Target); root != nil {
			m.NoteInteraction(root)
		}
	case dom.EventKeyDown:
		m.dispatch(e)
	}
}

func (m *Manager) dispatch(e dom.Event) {
	root := m.rootFor(m.doc.ActiveElement())
	m.mu.Lock()
	if root == nil {
		root = m.lastRoot
	}
	reg, ok := m.handlers[root]
	m.mu.Unlock()
	if !ok {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("keyboard handler panicked", "panic", r)
		}
	}()
	reg.handler(e)
}

// rootFor returns the innermost registered root containing n.
func (m *Manager) rootFor(n *html.Node) *html.Node {
	if n == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for cur := n; cur != nil; cur = cur.Parent {
		if _, ok := m.handlers[cur]; ok {
			return cur
		}
	}
	return nil
}
