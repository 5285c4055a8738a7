package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/net/html"
)

// HealRequest describes a failed import or mount.
type HealRequest struct {
	ToolID string
	Root   *html.Node
	Stage  State
	Err    error

	// Retry imports and mounts the tool's module again.
	Retry func(ctx context.Context) error
}

// Healer tries to recover a failed mount. A nil return means the tool is
// mounted.
type Healer interface {
	Heal(ctx context.Context, req HealRequest) error
}

// HealerFunc adapts a function to Healer.
type HealerFunc func(ctx context.Context, req HealRequest) error

// Heal calls f.
func (f HealerFunc) Heal(ctx context.Context, req HealRequest) error {
	return f(ctx, req)
}

// RetryHealer retries the mount up to attempts times.
func RetryHealer(attempts int) Healer {
	if attempts < 1 {
		attempts = 1
	}
	return HealerFunc(func(ctx context.Context, req HealRequest) error {
		if req.Retry == nil {
			return errors.New("bootstrap: nothing to retry")
		}
		var err error
		for i := 0; i < attempts; i++ {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if err = req.Retry(ctx); err == nil {
				return nil
			}
		}
		return fmt.Errorf("bootstrap: %d retries failed: %w", attempts, err)
	})
}
