package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/petal-labs/toolmount/kernel"
)

// Mode tags describing how a contract was normalized.
const (
	ModeFullLifecycle       = "lifecycle:create-init-destroy"
	ModeMount               = "lifecycle:mount"
	ModeInitialize          = "lifecycle:initialize"
	ModeLegacyMount         = "legacy:registry-mount"
	ModeLegacyExecutionOnly = "execution_only:legacy-registry"
	ModeExecutionOnly       = "execution_only:no_mount_contract"
	ModeNoExports           = "none:no_exports"
)

// Lifecycle is the canonical form of a detected contract. Create and Init
// are nil for contracts that cannot be mounted; Destroy is always set and
// always unwinds the execution context.
type Lifecycle struct {
	Create  kernel.LifecycleFunc
	Init    kernel.LifecycleFunc
	Destroy kernel.LifecycleFunc

	Mode      string
	Mountable bool
	Contract  Contract
}

// MountResult reports the outcome of Lifecycle.Mount.
type MountResult struct {
	Mounted bool   `json:"mounted"`
	Mode    string `json:"mode"`
}

// Normalize converts c into the canonical lifecycle bound to ec. The
// execution-only variants produce a lifecycle that never calls RunTool.
func Normalize(c Contract, ec *ExecutionContext) Lifecycle {
	if ec == nil {
		ec = NewExecutionContext(nil, "", nil, nil, nil)
	}
	lc := Lifecycle{Contract: c, Mountable: c.Mountable()}
	unwind := func(ctx context.Context) error { return ec.Unwind(ctx) }

	switch c.Kind {
	case KindFullLifecycle:
		lc.Mode = ModeFullLifecycle
		lc.Create = func(ctx context.Context) error {
			return guard("create", func() error { return c.Create(ctx, ec) })
		}
		lc.Init = func(ctx context.Context) error {
			if err := waitReady(ctx, c, ec); err != nil {
				return err
			}
			return guard("init", func() error { return c.Init(ctx, ec) })
		}
		lc.Destroy = func(ctx context.Context) error {
			err := guard("destroy", func() error { return c.Destroy(ctx) })
			return errors.Join(err, unwind(ctx))
		}
		return lc

	case KindMountOnly, KindLegacyRegistry:
		if c.Kind == KindMountOnly {
			lc.Mode = ModeMount
		} else if c.Mount != nil {
			lc.Mode = ModeLegacyMount
		} else {
			lc.Mode = ModeLegacyExecutionOnly
			lc.Destroy = unwind
			return lc
		}
		lc.Init = onceHook(func(ctx context.Context) error {
			if err := waitReady(ctx, c, ec); err != nil {
				return err
			}
			return guard("mount", func() error {
				cleanup, err := c.Mount(ctx, ec)
				if cleanup != nil {
					ec.OnCleanup(cleanup)
				}
				return err
			})
		})
		lc.Destroy = unwind
		return lc

	case KindKernelInitialize:
		lc.Mode = ModeInitialize
		lc.Init = onceHook(func(ctx context.Context) error {
			if err := waitReady(ctx, c, ec); err != nil {
				return err
			}
			return guard("initialize", func() error { return c.Initialize(ctx, ec) })
		})
		lc.Destroy = unwind
		return lc

	case KindExecutionOnly:
		lc.Mode = ModeExecutionOnly
	default:
		lc.Mode = ModeNoExports
	}
	lc.Destroy = unwind
	return lc
}

// Mount runs create then init for mountable lifecycles. Non-mountable
// lifecycles report Mounted false with their mode and call nothing.
func (lc Lifecycle) Mount(ctx context.Context) (MountResult, error) {
	if !lc.Mountable {
		return MountResult{Mounted: false, Mode: lc.Mode}, nil
	}
	if lc.Create != nil {
		if err := lc.Create(ctx); err != nil {
			return MountResult{Mode: lc.Mode}, err
		}
	}
	if lc.Init != nil {
		if err := lc.Init(ctx); err != nil {
			return MountResult{Mode: lc.Mode}, err
		}
	}
	return MountResult{Mounted: true, Mode: lc.Mode}, nil
}

// onceHook makes a mount-style hook tolerate repeated init calls: the first
// successful run is remembered and later calls return nil.
func onceHook(fn kernel.LifecycleFunc) kernel.LifecycleFunc {
	var (
		mu   sync.Mutex
		done bool
	)
	return func(ctx context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		if done {
			return nil
		}
		if err := fn(ctx); err != nil {
			return err
		}
		done = true
		return nil
	}
}

func waitReady(ctx context.Context, c Contract, ec *ExecutionContext) error {
	if !c.NeedsReadyDocument || ec == nil || ec.Document == nil || ec.Document.IsReady() {
		return nil
	}
	select {
	case <-ec.Document.Ready():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("lifecycle: waiting for ready document: %w", ctx.Err())
	}
}

func guard(step string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lifecycle: %s panicked: %v", step, r)
		}
	}()
	return fn()
}
