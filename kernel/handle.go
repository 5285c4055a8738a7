package kernel

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/net/html"
)

// ToolHandle is the canonical object for one mounted tool instance.
type ToolHandle struct {
	ID   string
	Root *html.Node

	kernel  *Kernel
	create  LifecycleFunc
	init    LifecycleFunc
	destroy LifecycleFunc

	mu    sync.Mutex
	state LifecycleState
}

// State returns the current lifecycle state.
func (h *ToolHandle) State() LifecycleState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Create runs the create step. The state stays created.
func (h *ToolHandle) Create(ctx context.Context) error {
	if h.State() == StateMissing {
		return fmt.Errorf("kernel: create %q: handle destroyed", h.ID)
	}
	return call(ctx, "create", h.ID, h.create)
}

// Init forwards to the init step on every call and moves the handle to
// initialized once it succeeds. Repeat-call tolerance is up to the step.
func (h *ToolHandle) Init(ctx context.Context) error {
	if h.State() == StateMissing {
		return fmt.Errorf("kernel: init %q: handle destroyed", h.ID)
	}
	if err := call(ctx, "init", h.ID, h.init); err != nil {
		return err
	}
	h.mu.Lock()
	if h.state != StateMissing {
		h.state = StateInitialized
	}
	h.mu.Unlock()
	return nil
}

// Destroy runs the destroy step once, marks the handle missing and removes
// it from the kernel so the pair can be registered again. The handle is
// removed even when the destroy step fails.
func (h *ToolHandle) Destroy(ctx context.Context) error {
	h.mu.Lock()
	if h.state == StateMissing {
		h.mu.Unlock()
		return nil
	}
	h.state = StateMissing
	h.mu.Unlock()

	err := call(ctx, "destroy", h.ID, h.destroy)
	if h.kernel != nil {
		h.kernel.remove(h)
	}
	return err
}

func (h *ToolHandle) markMissing() {
	h.mu.Lock()
	h.state = StateMissing
	h.mu.Unlock()
}

func call(ctx context.Context, step, id string, fn LifecycleFunc) (err error) {
	if fn == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("kernel: %s %q panicked: %v", step, id, r)
		}
	}()
	if err := fn(ctx); err != nil {
		return fmt.Errorf("kernel: %s %q: %w", step, id, err)
	}
	return nil
}
