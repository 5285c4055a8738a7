package dom

import (
	"strings"
	"testing"
)

func TestRenderFallbackOnlyWhenEmpty(t *testing.T) {
	t.Run("empty root", func(t *testing.T) {
		_, root := parseRoot(t, `<div data-tool-id="x"></div>`)
		if !RenderFallback(root, "x", "") {
			t.Fatal("RenderFallback = false on empty root")
		}
		if Find(root, ByAttr(AttrFallback)) == nil {
			t.Fatal("fallback panel not found")
		}
		if RenderFallback(root, "x", "") {
			t.Error("second RenderFallback added another panel")
		}
	})

	t.Run("scaffold only", func(t *testing.T) {
		_, root := parseRoot(t, `<div data-tool-id="x"></div>`)
		if _, err := Adapt(root, "x"); err != nil {
			t.Fatalf("Adapt: %v", err)
		}
		SetStatus(root, StatusError, "import failed")
		if !RenderFallback(root, "x", "down") {
			t.Fatal("RenderFallback = false on scaffold-only root")
		}
		panel := Find(FindAnchor(root, AnchorOutput), ByAttr(AttrFallback))
		if panel == nil {
			t.Fatal("fallback panel should live in the output anchor")
		}
	})

	t.Run("server content", func(t *testing.T) {
		_, root := parseRoot(t, `<div data-tool-id="x"><p>keep me</p></div>`)
		before, _ := Render(root)
		if RenderFallback(root, "x", "") {
			t.Fatal("RenderFallback added a panel over existing content")
		}
		after, _ := Render(root)
		if before != after {
			t.Error("root changed")
		}
	})
}

func TestSetStatus(t *testing.T) {
	_, root := parseRoot(t, canonicalMarkup)
	if !SetStatus(root, StatusError, "boom") {
		t.Fatal("SetStatus = false")
	}
	if got := StatusState(root); got != StatusError {
		t.Errorf("StatusState = %q, want %q", got, StatusError)
	}
	SetStatus(root, StatusReady, "ok")
	if got := strings.TrimSpace(TextContent(FindAnchor(root, AnchorStatus))); got != "ok" {
		t.Errorf("status text = %q, want ok", got)
	}

	_, bare := parseRoot(t, `<div data-tool-id="y"></div>`)
	if SetStatus(bare, StatusError, "x") {
		t.Error("SetStatus = true without a status anchor")
	}
}

func TestRenderContractErrorKeepsMarkup(t *testing.T) {
	_, root := parseRoot(t, `<div data-tool-id="x"><p>legacy</p></div>`)
	RenderContractError(root, "x", []string{"anchor:input"})
	RenderContractError(root, "x", []string{"anchor:output"})

	panels := FindAll(root, ByAttr(AttrContractError))
	if len(panels) != 1 {
		t.Fatalf("panels = %d, want 1", len(panels))
	}
	if !strings.Contains(TextContent(panels[0]), "anchor:output") {
		t.Error("panel not refreshed with latest missing list")
	}
	if !strings.Contains(TextContent(root), "legacy") {
		t.Error("existing markup removed")
	}
}

func TestBind(t *testing.T) {
	_, root := parseRoot(t, `<div data-tool-id="x">
<textarea data-bind="example"></textarea>
<input data-bind="example">
<input data-bind="preset" value="server">
<span data-bind="missing"></span>
</div>`)

	n := Bind(root, map[string]any{"example": `{"a":1}`, "preset": "client"})
	if n != 2 {
		t.Fatalf("Bind = %d, want 2", n)
	}
	inputs := FindAll(root, ByTag("input"))
	if v, _ := GetAttr(inputs[0], "value"); v != `{"a":1}` {
		t.Errorf("input value = %q", v)
	}
	if v, _ := GetAttr(inputs[1], "value"); v != "server" {
		t.Errorf("preset value overwritten: %q", v)
	}
}
