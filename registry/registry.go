// Package registry provides the global module table the runtime imports
// tool modules from. Go links modules at build time, so a module path from
// a manifest resolves to a factory registered here at program start.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrModuleNotFound is returned by Import for unknown paths.
var ErrModuleNotFound = errors.New("registry: module not found")

// Factory builds a fresh module value for one mount. The value is inspected by
// the lifecycle package: lifecycle interfaces, a lifecycle.Exports table or
// a bare RunTool function.
type Factory func() (any, error)

// ModuleDef describes a registered module.
type ModuleDef struct {
	Path        string  `json:"path"`
	Description string  `json:"description"`
	Builtin     bool    `json:"builtin"`
	Factory     Factory `json:"-"`
}

var (
	global     *Registry
	globalOnce sync.Once
)

// Global returns the singleton registry instance. On first call it
// initializes the registry and auto-registers the built-in modules.
func Global() *Registry {
	globalOnce.Do(func() {
		global = New()
		registerBuiltins(global)
	})
	return global
}

// Registry holds all known modules.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]ModuleDef
	order   []string // preserves registration order
}

// New creates an empty registry without builtins.
func New() *Registry {
	return &Registry{
		modules: make(map[string]ModuleDef),
	}
}

// NewWithBuiltins creates a registry holding only the built-in modules.
func NewWithBuiltins() *Registry {
	r := New()
	registerBuiltins(r)
	return r
}

// Register adds a module definition. If a module with the same path
// already exists it is overwritten.
func (r *Registry) Register(def ModuleDef) {
	def.Path = strings.TrimSpace(def.Path)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.modules[def.Path]; !exists {
		r.order = append(r.order, def.Path)
	}
	r.modules[def.Path] = def
}

// RegisterModule registers a module that is the same value for every mount.
func (r *Registry) RegisterModule(path string, module any) {
	r.Register(ModuleDef{Path: path, Factory: func() (any, error) { return module, nil }})
}

// Get returns a module definition by path.
func (r *Registry) Get(path string) (ModuleDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.modules[strings.TrimSpace(path)]
	return def, ok
}

// Has returns true if the path is registered.
func (r *Registry) Has(path string) bool {
	_, ok := r.Get(path)
	return ok
}

// Import resolves path and builds the module. Factory errors and panics are
// returned as errors.
func (r *Registry) Import(ctx context.Context, path string) (module any, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	def, ok := r.Get(path)
	if !ok || def.Factory == nil {
		return nil, fmt.Errorf("%w: %q", ErrModuleNotFound, path)
	}
	defer func() {
		if rec := recover(); rec != nil {
			module, err = nil, fmt.Errorf("registry: import %q panicked: %v", path, rec)
		}
	}()
	module, err = def.Factory()
	if err != nil {
		return nil, fmt.Errorf("registry: import %q: %w", path, err)
	}
	return module, nil
}

// All returns all registered modules in registration order.
func (r *Registry) All() []ModuleDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]ModuleDef, 0, len(r.order))
	for _, path := range r.order {
		result = append(result, r.modules[path])
	}
	return result
}

// Len returns the number of registered modules.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.modules)
}
