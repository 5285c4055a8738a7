package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/net/html"

	"github.com/petal-labs/toolmount/dom"
	"github.com/petal-labs/toolmount/keyboard"
)

// ExecutionContext is handed to every module hook of one mount. Listeners,
// keyboard handlers and cleanups registered through it are tracked and torn
// down together by Unwind.
type ExecutionContext struct {
	ToolID   string
	Document *dom.Document
	Config   map[string]any

	root     *html.Node
	keyboard *keyboard.Manager

	mu       sync.Mutex
	cleanups []CleanupFunc
	unwound  bool
}

// NewExecutionContext creates the context for one mount of toolID at root.
// kb may be nil, in which case keyboard registration is a no-op.
func NewExecutionContext(root *html.Node, toolID string, doc *dom.Document, kb *keyboard.Manager, cfg map[string]any) *ExecutionContext {
	if cfg == nil {
		cfg = map[string]any{}
	}
	return &ExecutionContext{
		ToolID:   toolID,
		Document: doc,
		Config:   cfg,
		root:     root,
		keyboard: kb,
	}
}

// Root returns the mount root.
func (c *ExecutionContext) Root() *html.Node { return c.root }

// AddEventListener listens for kind on the document, delivering only events
// without a target or targeted inside the root. The returned func removes
// the listener early.
func (c *ExecutionContext) AddEventListener(kind string, fn dom.Listener) (remove func()) {
	if c.Document == nil || fn == nil {
		return func() {}
	}
	root := c.root
	id := c.Document.AddEventListener(kind, func(e dom.Event) {
		if e.Target == nil || dom.Contains(root, e.Target) {
			fn(e)
		}
	})
	doc := c.Document
	var once sync.Once
	remove = func() {
		once.Do(func() { doc.RemoveEventListener(kind, id) })
	}
	if !c.track(func(context.Context) error { remove(); return nil }) {
		remove()
		return func() {}
	}
	return remove
}

// RegisterKeyboardHandler routes keyboard events for the root to h.
func (c *ExecutionContext) RegisterKeyboardHandler(h keyboard.Handler) (unregister func()) {
	if c.keyboard == nil || h == nil {
		return func() {}
	}
	unregister = c.keyboard.RegisterHandler(c.root, h)
	if !c.track(func(context.Context) error { unregister(); return nil }) {
		unregister()
		return func() {}
	}
	return unregister
}

// OnCleanup registers fn to run on Unwind. Cleanups run in reverse order.
// Registering on an unwound context runs fn immediately.
func (c *ExecutionContext) OnCleanup(fn CleanupFunc) {
	if fn == nil {
		return
	}
	if !c.track(fn) {
		_ = safeCleanup(context.Background(), fn)
	}
}

func (c *ExecutionContext) track(fn CleanupFunc) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unwound {
		return false
	}
	c.cleanups = append(c.cleanups, fn)
	return true
}

// Tracked returns the number of pending cleanups.
func (c *ExecutionContext) Tracked() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cleanups)
}

// Unwind runs every tracked cleanup once, last registered first. Later calls
// return nil.
func (c *ExecutionContext) Unwind(ctx context.Context) error {
	c.mu.Lock()
	if c.unwound {
		c.mu.Unlock()
		return nil
	}
	c.unwound = true
	cleanups := c.cleanups
	c.cleanups = nil
	c.mu.Unlock()

	var errs []error
	for i := len(cleanups) - 1; i >= 0; i-- {
		if err := safeCleanup(ctx, cleanups[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func safeCleanup(ctx context.Context, fn CleanupFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lifecycle: cleanup panicked: %v", r)
		}
	}()
	return fn(ctx)
}
