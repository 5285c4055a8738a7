package kernel

import "golang.org/x/net/html"

// maxRootDepth bounds wrapper unwrapping.
const maxRootDepth = 4

// RootHolder exposes a mount root directly.
type RootHolder interface {
	Root() *html.Node
}

// ToolRootHolder exposes a mount root under the toolRoot name.
type ToolRootHolder interface {
	ToolRoot() *html.Node
}

// ContextHolder exposes a nested context that carries the root.
type ContextHolder interface {
	RootContext() any
}

// ExecutionContextHolder exposes a nested execution context that carries
// the root.
type ExecutionContextHolder interface {
	ExecutionContext() any
}

// NormalizeRoot resolves the heterogeneous root shapes accepted at the
// kernel boundary to a single element. Accepted shapes: *html.Node,
// RootHolder, ToolRootHolder, ContextHolder, ExecutionContextHolder and
// map[string]any with "root", "toolRoot", "context" or "executionContext".
func NormalizeRoot(v any) (*html.Node, error) {
	if el := normalize(v, 0); el != nil {
		return el, nil
	}
	return nil, ErrRootNotFound
}

func normalize(v any, depth int) *html.Node {
	if v == nil || depth > maxRootDepth {
		return nil
	}
	switch r := v.(type) {
	case *html.Node:
		if r != nil && r.Type == html.ElementNode {
			return r
		}
		return nil
	case RootHolder:
		if el := normalize(r.Root(), depth+1); el != nil {
			return el
		}
	case map[string]any:
		for _, key := range []string{"root", "toolRoot", "context", "executionContext"} {
			if el := normalize(r[key], depth+1); el != nil {
				return el
			}
		}
		return nil
	}

	if r, ok := v.(ToolRootHolder); ok {
		if el := normalize(r.ToolRoot(), depth+1); el != nil {
			return el
		}
	}
	if r, ok := v.(ContextHolder); ok {
		if el := normalize(r.RootContext(), depth+1); el != nil {
			return el
		}
	}
	if r, ok := v.(ExecutionContextHolder); ok {
		if el := normalize(r.ExecutionContext(), depth+1); el != nil {
			return el
		}
	}
	return nil
}
