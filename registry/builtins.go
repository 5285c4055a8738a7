package registry

import (
	"context"

	"github.com/petal-labs/toolmount/dom"
	"github.com/petal-labs/toolmount/lifecycle"
)

// Built-in module paths.
const (
	FallbackRuntimePath = "toolmount/fallback-runtime"
	StaticPath          = "toolmount/static"
	EchoPath            = "toolmount/echo"
)

// FallbackMessage is shown by the fallback runtime.
const FallbackMessage = "This tool is temporarily unavailable."

// registerBuiltins registers all built-in modules.
// Called once by Global() during singleton initialization.
func registerBuiltins(r *Registry) {
	r.Register(ModuleDef{
		Path:        FallbackRuntimePath,
		Description: "Marks the root as degraded and renders a fallback panel into empty roots",
		Builtin:     true,
		Factory:     func() (any, error) { return fallbackRuntime{}, nil },
	})

	r.Register(ModuleDef{
		Path:        StaticPath,
		Description: "Mounts server-rendered tools that need no behavior and marks them ready",
		Builtin:     true,
		Factory:     func() (any, error) { return staticModule{}, nil },
	})

	r.Register(ModuleDef{
		Path:        EchoPath,
		Description: "Execution-only module that returns its input",
		Builtin:     true,
		Factory: func() (any, error) {
			return lifecycle.RunToolFunc(func(_ context.Context, action, input string) (any, error) {
				return map[string]string{"action": action, "output": input}, nil
			}), nil
		},
	})
}

type fallbackRuntime struct{}

func (fallbackRuntime) Mount(_ context.Context, ec *lifecycle.ExecutionContext) (lifecycle.CleanupFunc, error) {
	root := ec.Root()
	if root == nil {
		return nil, nil
	}
	apply := func() {
		dom.SetStatus(root, dom.StatusFallback, FallbackMessage)
		dom.RenderFallback(root, ec.ToolID, FallbackMessage)
	}
	if ec.Document != nil {
		ec.Document.WithTree(apply)
	} else {
		apply()
	}
	return nil, nil
}

type staticModule struct{}

func (staticModule) Mount(_ context.Context, ec *lifecycle.ExecutionContext) (lifecycle.CleanupFunc, error) {
	if root := ec.Root(); root != nil {
		dom.SetStatus(root, dom.StatusReady, "")
	}
	return nil, nil
}
