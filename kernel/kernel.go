// Package kernel is the tool platform registry. It owns one ToolHandle per
// (tool id, mount root) pair and tracks each handle's lifecycle state.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/net/html"
)

// Kernel errors.
var (
	ErrRootNotFound = errors.New("kernel: no mount root element found")
	ErrEmptyToolID  = errors.New("kernel: tool id is empty")
)

// LifecycleState is the per-handle lifecycle.
type LifecycleState string

const (
	StateCreated     LifecycleState = "created"
	StateInitialized LifecycleState = "initialized"
	StateMissing     LifecycleState = "missing"
)

// LifecycleFunc is one step of a tool lifecycle.
type LifecycleFunc func(ctx context.Context) error

// ToolSpec is the input to RegisterTool. Root may be an element or any
// wrapper NormalizeRoot understands.
type ToolSpec struct {
	ID      string
	Root    any
	Create  LifecycleFunc
	Init    LifecycleFunc
	Destroy LifecycleFunc
}

type registryKey struct {
	id   string
	root *html.Node
}

// Config configures a Kernel.
type Config struct {
	Logger *slog.Logger
}

// Kernel is the (tool id, root) keyed registry.
type Kernel struct {
	logger *slog.Logger

	mu      sync.Mutex
	entries map[registryKey]*ToolHandle
}

var (
	defaultKernel *Kernel
	defaultOnce   sync.Once
)

// Default returns the process-wide kernel.
func Default() *Kernel {
	defaultOnce.Do(func() {
		defaultKernel = New(Config{})
	})
	return defaultKernel
}

// New creates an empty kernel.
func New(cfg Config) *Kernel {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Kernel{
		logger:  logger,
		entries: make(map[registryKey]*ToolHandle),
	}
}

// RegisterTool returns the handle for (spec.ID, normalized root), creating
// it on first registration. Later registrations for the same pair return
// the identical handle and ignore the supplied callbacks.
func (k *Kernel) RegisterTool(spec ToolSpec) (*ToolHandle, error) {
	id := strings.TrimSpace(spec.ID)
	if id == "" {
		return nil, ErrEmptyToolID
	}
	root, err := NormalizeRoot(spec.Root)
	if err != nil {
		return nil, fmt.Errorf("register %q: %w", id, err)
	}

	key := registryKey{id: id, root: root}
	k.mu.Lock()
	defer k.mu.Unlock()
	if h, ok := k.entries[key]; ok {
		return h, nil
	}
	h := &ToolHandle{
		ID:      id,
		Root:    root,
		kernel:  k,
		create:  spec.Create,
		init:    spec.Init,
		destroy: spec.Destroy,
		state:   StateCreated,
	}
	k.entries[key] = h
	k.logger.Debug("tool registered", "tool_id", id, "count", len(k.entries))
	return h, nil
}

// LifecycleState returns the state for (id, root), or StateMissing when
// nothing is registered.
func (k *Kernel) LifecycleState(id string, root any) LifecycleState {
	h := k.Lookup(id, root)
	if h == nil {
		return StateMissing
	}
	return h.State()
}

// Lookup returns the live handle for (id, root), or nil.
func (k *Kernel) Lookup(id string, root any) *ToolHandle {
	el, err := NormalizeRoot(root)
	if err != nil {
		return nil
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.entries[registryKey{id: strings.TrimSpace(id), root: el}]
}

// RegisteredToolCount returns the number of live handles.
func (k *Kernel) RegisteredToolCount() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}

// ResetForTesting drops every entry without running destroy callbacks.
func (k *Kernel) ResetForTesting() {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, h := range k.entries {
		h.markMissing()
	}
	k.entries = make(map[registryKey]*ToolHandle)
}

func (k *Kernel) remove(h *ToolHandle) {
	k.mu.Lock()
	defer k.mu.Unlock()
	key := registryKey{id: h.ID, root: h.Root}
	if cur, ok := k.entries[key]; ok && cur == h {
		delete(k.entries, key)
	}
}
