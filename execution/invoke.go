package execution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/petal-labs/toolmount/lifecycle"
	"github.com/petal-labs/toolmount/observer"
)

// Result is the uniform outcome of an action call.
type Result struct {
	OK         bool    `json:"ok"`
	Reason     string  `json:"reason,omitempty"`
	Action     string  `json:"action,omitempty"`
	Output     any     `json:"output,omitempty"`
	Error      string  `json:"error,omitempty"`
	DurationMS float64 `json:"durationMs"`
}

// SafeNoopResult is the failed result for reason.
func SafeNoopResult(reason, action string) Result {
	return Result{OK: false, Reason: reason, Action: action}
}

// Meta carries optional call context.
type Meta struct {
	ToolSlug  string
	Supported []string
	Observer  *observer.Observer
	Logger    *slog.Logger
}

// InvokeSafely normalizes action and input and calls run. Malformed calls
// yield unsupported_action, a nil run yields missing_tool, and an error or
// panic from run yields tool_execution_failed.
func InvokeSafely(ctx context.Context, run lifecycle.RunToolFunc, action, input any, meta Meta) Result {
	logger := meta.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := NormalizePayload(action, input, meta.Supported)
	if run == nil {
		meta.Observer.Record(meta.ToolSlug, observer.EventExecutionRejected, map[string]any{
			"reason": ReasonMissingTool, "action": p.Action,
		})
		return SafeNoopResult(ReasonMissingTool, p.Action)
	}
	if !p.IsValidAction {
		meta.Observer.Record(meta.ToolSlug, observer.EventExecutionRejected, map[string]any{
			"reason": ReasonUnsupportedAction, "action": p.Action,
		})
		return SafeNoopResult(ReasonUnsupportedAction, p.Action)
	}

	start := time.Now()
	out, err := call(ctx, run, p)
	elapsed := time.Since(start)
	ms := float64(elapsed) / float64(time.Millisecond)

	if err != nil {
		logger.Warn("execution: tool call failed", "tool", meta.ToolSlug, "action", p.Action, "error", err)
		meta.Observer.RecordDuration(meta.ToolSlug, observer.EventExecutionInvoke, elapsed, map[string]any{
			"action": p.Action, "ok": false, "reason": ReasonToolExecutionFailed, "message": err.Error(),
		})
		res := SafeNoopResult(ReasonToolExecutionFailed, p.Action)
		res.Error = err.Error()
		res.DurationMS = ms
		return res
	}

	meta.Observer.RecordDuration(meta.ToolSlug, observer.EventExecutionInvoke, elapsed, map[string]any{
		"action": p.Action, "ok": true,
	})
	return Result{OK: true, Action: p.Action, Output: out, DurationMS: ms}
}

func call(ctx context.Context, run lifecycle.RunToolFunc, p Payload) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("execution: runTool panicked: %v", r)
		}
	}()
	return run(ctx, p.Action, p.Input)
}
