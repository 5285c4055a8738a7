// Package lifecycle inspects a module's exported surface and normalizes it into
// the canonical create/init/destroy lifecycle the kernel drives.
package lifecycle

import "context"

// HookFunc is a create, init or initialize hook.
type HookFunc func(ctx context.Context, ec *ExecutionContext) error

// DestroyFunc tears a module instance down.
type DestroyFunc func(ctx context.Context) error

// CleanupFunc undoes one side effect of a mount.
type CleanupFunc func(ctx context.Context) error

// MountFunc mounts a module and optionally returns its cleanup.
type MountFunc func(ctx context.Context, ec *ExecutionContext) (CleanupFunc, error)

// RunToolFunc is an action-style entry point. It is never part of mounting.
type RunToolFunc func(ctx context.Context, action, input string) (any, error)

// Creator is implemented by modules with a create step.
type Creator interface {
	Create(ctx context.Context, ec *ExecutionContext) error
}

// Initer is implemented by modules with an init step.
type Initer interface {
	Init(ctx context.Context, ec *ExecutionContext) error
}

// Destroyer is implemented by modules with a destroy step.
type Destroyer interface {
	Destroy(ctx context.Context) error
}

// Mounter is implemented by mount-only modules.
type Mounter interface {
	Mount(ctx context.Context, ec *ExecutionContext) (CleanupFunc, error)
}

// Initializer is implemented by modules targeting the host kernel.
type Initializer interface {
	Initialize(ctx context.Context, ec *ExecutionContext) error
}

// Executor is implemented by execution-style modules.
type Executor interface {
	RunTool(ctx context.Context, action, input string) (any, error)
}

// ReadyAware modules report whether init must wait for a ready document.
type ReadyAware interface {
	NeedsReadyDocument() bool
}

// Exports is a duck-typed export table keyed by export name: "create",
// "init", "destroy", "mount", "initialize", "runTool" and the boolean
// "needsReadyDocument".
type Exports map[string]any

// Export names recognized in an Exports table.
const (
	ExportCreate             = "create"
	ExportInit               = "init"
	ExportDestroy            = "destroy"
	ExportMount              = "mount"
	ExportInitialize         = "initialize"
	ExportRunTool            = "runTool"
	ExportNeedsReadyDocument = "needsReadyDocument"
)

// Kind names the contract variant selected for a module.
type Kind string

const (
	KindFullLifecycle    Kind = "full_lifecycle"
	KindMountOnly        Kind = "mount_only"
	KindKernelInitialize Kind = "kernel_initialize"
	KindLegacyRegistry   Kind = "legacy_registry"
	KindExecutionOnly    Kind = "execution_only"
	KindNone             Kind = "none"
)

// Where a contract's functions came from.
const (
	SourceMethods        = "methods"
	SourceExports        = "exports"
	SourceFunction       = "function"
	SourceLegacyRegistry = "legacy_registry"
	SourceEmpty          = "empty"
)

// Contract is the closed variant selected by Detect. Only the fields that
// belong to Kind are set.
type Contract struct {
	Kind Kind

	Create  HookFunc
	Init    HookFunc
	Destroy DestroyFunc

	Mount      MountFunc
	Initialize HookFunc
	RunTool    RunToolFunc

	NeedsReadyDocument bool
	Source             string
}

// Mountable reports whether the contract can be mounted.
func (c Contract) Mountable() bool {
	switch c.Kind {
	case KindFullLifecycle, KindMountOnly, KindKernelInitialize:
		return true
	case KindLegacyRegistry:
		return c.Mount != nil
	default:
		return false
	}
}

// LifecycleCompliant reports whether the module speaks a lifecycle contract
// rather than a legacy or execution shape.
func (c Contract) LifecycleCompliant() bool {
	switch c.Kind {
	case KindFullLifecycle, KindMountOnly, KindKernelInitialize:
		return true
	default:
		return false
	}
}

type surface struct {
	create, init, initialize HookFunc
	destroy                  DestroyFunc
	mount                    MountFunc
	runTool                  RunToolFunc
	needsReady               bool
	source                   string
}

// Detect selects the contract variant for module. It only inspects the
// exported surface and never calls into the module. The first match wins:
// full lifecycle, mount, kernel initialize, a legacy registry entry for
// toolID, execution only, none.
func Detect(module any, toolID string, legacy *LegacyRegistry) Contract {
	s := inspect(module)

	c := Contract{NeedsReadyDocument: s.needsReady, Source: s.source}
	switch {
	case s.create != nil && s.init != nil && s.destroy != nil:
		c.Kind = KindFullLifecycle
		c.Create, c.Init, c.Destroy = s.create, s.init, s.destroy
		return c
	case s.mount != nil:
		c.Kind = KindMountOnly
		c.Mount = s.mount
		return c
	case s.initialize != nil:
		c.Kind = KindKernelInitialize
		c.Initialize = s.initialize
		return c
	}

	if legacy != nil {
		if entry, ok := legacy.Lookup(toolID); ok && (entry.Mount != nil || entry.RunTool != nil) {
			return Contract{
				Kind:               KindLegacyRegistry,
				Mount:              entry.Mount,
				RunTool:            entry.RunTool,
				NeedsReadyDocument: s.needsReady,
				Source:             SourceLegacyRegistry,
			}
		}
	}

	if s.runTool != nil {
		c.Kind = KindExecutionOnly
		c.RunTool = s.runTool
		return c
	}
	c.Kind = KindNone
	return c
}

func inspect(module any) surface {
	switch m := module.(type) {
	case nil:
		return surface{source: SourceEmpty}
	case Exports:
		return inspectExports(m)
	case map[string]any:
		return inspectExports(Exports(m))
	}

	if run, ok := asRunTool(module); ok {
		return surface{runTool: run, source: SourceFunction}
	}

	s := surface{source: SourceMethods}
	if m, ok := module.(Creator); ok {
		s.create = m.Create
	}
	if m, ok := module.(Initer); ok {
		s.init = m.Init
	}
	if m, ok := module.(Destroyer); ok {
		s.destroy = m.Destroy
	}
	if m, ok := module.(Mounter); ok {
		s.mount = m.Mount
	}
	if m, ok := module.(Initializer); ok {
		s.initialize = m.Initialize
	}
	if m, ok := module.(Executor); ok {
		s.runTool = m.RunTool
	}
	if m, ok := module.(ReadyAware); ok {
		s.needsReady = m.NeedsReadyDocument()
	}
	return s
}

func inspectExports(e Exports) surface {
	s := surface{source: SourceExports}
	s.create, _ = asHook(e[ExportCreate])
	s.init, _ = asHook(e[ExportInit])
	s.initialize, _ = asHook(e[ExportInitialize])
	s.destroy, _ = asDestroy(e[ExportDestroy])
	s.mount, _ = asMount(e[ExportMount])
	s.runTool, _ = asRunTool(e[ExportRunTool])
	s.needsReady, _ = e[ExportNeedsReadyDocument].(bool)
	return s
}

func asHook(v any) (HookFunc, bool) {
	switch f := v.(type) {
	case HookFunc:
		return f, f != nil
	case func(context.Context, *ExecutionContext) error:
		return f, f != nil
	case func(context.Context) error:
		if f == nil {
			return nil, false
		}
		return func(ctx context.Context, _ *ExecutionContext) error { return f(ctx) }, true
	case func() error:
		if f == nil {
			return nil, false
		}
		return func(context.Context, *ExecutionContext) error { return f() }, true
	case func():
		if f == nil {
			return nil, false
		}
		return func(context.Context, *ExecutionContext) error { f(); return nil }, true
	}
	return nil, false
}

func asDestroy(v any) (DestroyFunc, bool) {
	switch f := v.(type) {
	case DestroyFunc:
		return f, f != nil
	case CleanupFunc:
		return DestroyFunc(f), f != nil
	case func(context.Context) error:
		return f, f != nil
	case func() error:
		if f == nil {
			return nil, false
		}
		return func(context.Context) error { return f() }, true
	case func():
		if f == nil {
			return nil, false
		}
		return func(context.Context) error { f(); return nil }, true
	}
	return nil, false
}

func asMount(v any) (MountFunc, bool) {
	switch f := v.(type) {
	case MountFunc:
		return f, f != nil
	case func(context.Context, *ExecutionContext) (CleanupFunc, error):
		return f, f != nil
	case func(context.Context, *ExecutionContext) (func(context.Context) error, error):
		if f == nil {
			return nil, false
		}
		return func(ctx context.Context, ec *ExecutionContext) (CleanupFunc, error) {
			cleanup, err := f(ctx, ec)
			return cleanup, err
		}, true
	case func(context.Context, *ExecutionContext) error:
		if f == nil {
			return nil, false
		}
		return func(ctx context.Context, ec *ExecutionContext) (CleanupFunc, error) {
			return nil, f(ctx, ec)
		}, true
	}
	return nil, false
}

func asRunTool(v any) (RunToolFunc, bool) {
	switch f := v.(type) {
	case RunToolFunc:
		return f, f != nil
	case func(context.Context, string, string) (any, error):
		return f, f != nil
	case func(string, string) (any, error):
		if f == nil {
			return nil, false
		}
		return func(_ context.Context, action, input string) (any, error) { return f(action, input) }, true
	}
	return nil, false
}
