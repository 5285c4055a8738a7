package execution

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/petal-labs/toolmount/lifecycle"
	"github.com/petal-labs/toolmount/observer"
)

// BridgeConfig configures a Bridge.
type BridgeConfig struct {
	Legacy           *lifecycle.LegacyRegistry
	Observer         *observer.Observer
	SupportedActions []string
	Logger           *slog.Logger
}

// Bridge routes action calls to execution-only modules. Tools registered
// directly win over legacy registry entries.
type Bridge struct {
	legacy    *lifecycle.LegacyRegistry
	obs       *observer.Observer
	supported []string
	logger    *slog.Logger

	mu    sync.RWMutex
	tools map[string]lifecycle.RunToolFunc
}

// NewBridge creates a bridge.
func NewBridge(cfg BridgeConfig) *Bridge {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Bridge{
		legacy:    cfg.Legacy,
		obs:       cfg.Observer,
		supported: cfg.SupportedActions,
		logger:    cfg.Logger,
		tools:     make(map[string]lifecycle.RunToolFunc),
	}
}

// Register exposes run under toolID.
func (b *Bridge) Register(toolID string, run lifecycle.RunToolFunc) {
	if run == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tools[strings.TrimSpace(toolID)] = run
}

// Unregister removes toolID.
func (b *Bridge) Unregister(toolID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.tools, strings.TrimSpace(toolID))
}

// Has reports whether toolID can be executed.
func (b *Bridge) Has(toolID string) bool {
	return b.lookup(toolID) != nil
}

// Execute runs action on toolID through InvokeSafely.
func (b *Bridge) Execute(ctx context.Context, toolID string, action, input any) Result {
	return InvokeSafely(ctx, b.lookup(toolID), action, input, Meta{
		ToolSlug:  toolID,
		Supported: b.supported,
		Observer:  b.obs,
		Logger:    b.logger,
	})
}

func (b *Bridge) lookup(toolID string) lifecycle.RunToolFunc {
	toolID = strings.TrimSpace(toolID)
	b.mu.RLock()
	run := b.tools[toolID]
	b.mu.RUnlock()
	if run != nil {
		return run
	}
	if b.legacy != nil {
		if entry, ok := b.legacy.Lookup(toolID); ok {
			return entry.RunTool
		}
	}
	return nil
}
