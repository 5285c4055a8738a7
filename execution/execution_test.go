package execution

import (
	"context"
	"errors"
	"testing"

	"golang.org/x/net/html"

	"github.com/google/go-cmp/cmp"

	"github.com/petal-labs/toolmount/lifecycle"
	"github.com/petal-labs/toolmount/observer"
)

type stringer struct{}

func (stringer) String() string { return "from stringer" }

func TestNormalizePayload(t *testing.T) {
	node := &html.Node{Type: html.ElementNode, Data: "div"}
	tests := []struct {
		name   string
		action any
		input  any
		want   Payload
	}{
		{"valid", "format", `{"a":1}`, Payload{Action: "format", Input: `{"a":1}`, IsValidAction: true}},
		{"trimmed action", "  run ", nil, Payload{Action: "run", IsValidAction: true}},
		{"bytes input", "run", []byte("raw"), Payload{Action: "run", Input: "raw", IsValidAction: true}},
		{"stringer input", "run", stringer{}, Payload{Action: "run", Input: "from stringer", IsValidAction: true}},
		{"number input", "run", 42, Payload{Action: "run", Input: "42", IsValidAction: true}},
		{"bool input", "run", true, Payload{Action: "run", Input: "true", IsValidAction: true}},
		{"nil action", nil, "x", Payload{}},
		{"empty action", "", "x", Payload{}},
		{"number action", 7, "x", Payload{}},
		{"node action", node, "x", Payload{}},
		{"unsupported action", "explode", "x", Payload{Action: "explode"}},
		{"node input", "run", node, Payload{Action: "run"}},
		{"struct input", "run", map[string]any{"a": 1}, Payload{Action: "run"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizePayload(tt.action, tt.input, nil)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("payload mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNormalizePayloadCustomActions(t *testing.T) {
	if p := NormalizePayload("encode", "x", []string{"encode"}); !p.IsValidAction {
		t.Error("encode rejected with custom list")
	}
	if p := NormalizePayload("run", "x", []string{"encode"}); p.IsValidAction {
		t.Error("run accepted outside custom list")
	}
}

func TestInvokeSafely(t *testing.T) {
	ctx := context.Background()
	echo := func(_ context.Context, action, input string) (any, error) { return action + ":" + input, nil }
	failing := func(context.Context, string, string) (any, error) { return nil, errors.New("broken tool") }
	panicking := func(context.Context, string, string) (any, error) { panic("tool panic") }

	tests := []struct {
		name   string
		run    lifecycle.RunToolFunc
		action any
		input  any
		ok     bool
		reason string
		output any
	}{
		{"ok", echo, "format", "x", true, "", "format:x"},
		{"malformed action", echo, &html.Node{}, "x", false, ReasonUnsupportedAction, nil},
		{"undefined action", echo, nil, nil, false, ReasonUnsupportedAction, nil},
		{"empty action", echo, "", "x", false, ReasonUnsupportedAction, nil},
		{"error", failing, "run", "x", false, ReasonToolExecutionFailed, nil},
		{"panic", panicking, "run", "x", false, ReasonToolExecutionFailed, nil},
		{"missing", nil, "run", "x", false, ReasonMissingTool, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := InvokeSafely(ctx, tt.run, tt.action, tt.input, Meta{})
			if res.OK != tt.ok || res.Reason != tt.reason {
				t.Errorf("result = %+v, want ok=%v reason=%q", res, tt.ok, tt.reason)
			}
			if res.Output != tt.output {
				t.Errorf("output = %v, want %v", res.Output, tt.output)
			}
		})
	}
}

func TestBridgeExecute(t *testing.T) {
	obs := observer.New(observer.Config{})
	legacy := lifecycle.NewLegacyRegistry()
	legacy.Register("legacy", lifecycle.LegacyEntry{
		RunTool: func(context.Context, string, string) (any, error) { return "legacy", nil },
	})
	b := NewBridge(BridgeConfig{Legacy: legacy, Observer: obs})
	b.Register("direct", func(context.Context, string, string) (any, error) { return "direct", nil })

	ctx := context.Background()
	if res := b.Execute(ctx, "direct", "run", ""); !res.OK || res.Output != "direct" {
		t.Errorf("direct = %+v", res)
	}
	if res := b.Execute(ctx, "legacy", "run", ""); !res.OK || res.Output != "legacy" {
		t.Errorf("legacy = %+v", res)
	}
	if res := b.Execute(ctx, "nope", "run", ""); res.Reason != ReasonMissingTool {
		t.Errorf("missing = %+v", res)
	}
	if res := b.Execute(ctx, "direct", 123, ""); res.Reason != ReasonUnsupportedAction {
		t.Errorf("bad action = %+v", res)
	}

	b.Unregister("direct")
	if b.Has("direct") {
		t.Error("direct still registered")
	}

	events := obs.Events("direct")
	var names []string
	for _, e := range events {
		names = append(names, e.Event)
	}
	want := []string{observer.EventExecutionInvoke, observer.EventExecutionRejected}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}
