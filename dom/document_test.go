package dom

import (
	"strings"
	"testing"
	"time"
)

func TestDocumentListeners(t *testing.T) {
	doc := NewDocument(nil, DocumentConfig{})

	var got []string
	id := doc.AddEventListener(EventKeyDown, func(e Event) { got = append(got, "key:"+e.Key) })
	doc.AddEventListener(EventAny, func(e Event) { got = append(got, "any:"+e.Kind) })

	doc.Dispatch(Event{Kind: EventKeyDown, Key: "Enter"})
	doc.RemoveEventListener(EventKeyDown, id)
	doc.Dispatch(Event{Kind: EventKeyDown, Key: "Escape"})

	want := []string{"key:Enter", "any:keydown", "any:keydown"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("got %v, want %v", got, want)
	}
	if n := doc.ListenerCount(EventKeyDown); n != 0 {
		t.Errorf("ListenerCount = %d, want 0", n)
	}
	doc.RemoveEventListener(EventKeyDown, id)
}

func TestDocumentDispatchRecoversPanics(t *testing.T) {
	var panics int
	doc := NewDocument(nil, DocumentConfig{OnListenerPanic: func(string, any) { panics++ }})

	delivered := false
	doc.AddEventListener(EventKeyDown, func(Event) { panic("broken listener") })
	doc.AddEventListener(EventKeyDown, func(Event) { delivered = true })

	doc.Dispatch(Event{Kind: EventKeyDown})
	if !delivered {
		t.Error("second listener not called after panic")
	}
	if panics != 1 {
		t.Errorf("panics = %d, want 1", panics)
	}
}

func TestDocumentReady(t *testing.T) {
	doc := NewDocument(nil, DocumentConfig{Loading: true})
	if doc.IsReady() {
		t.Fatal("IsReady = true for loading document")
	}

	fired := make(chan struct{}, 2)
	doc.AddEventListener(EventReady, func(Event) { fired <- struct{}{} })
	go doc.MarkReady()

	select {
	case <-doc.Ready():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ready")
	}
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("ready event not dispatched")
	}
	doc.MarkReady()
	if len(fired) != 0 {
		t.Error("ready event dispatched twice")
	}
	if !doc.IsReady() {
		t.Error("IsReady = false after MarkReady")
	}
}

func TestDocumentHeadCreated(t *testing.T) {
	doc, err := ParseDocument(strings.NewReader(`<div data-tool-id="a"></div>`), DocumentConfig{})
	if err != nil {
		t.Fatalf("ParseDocument: %v", err)
	}
	head := doc.Head()
	if head == nil || head.Data != "head" {
		t.Fatalf("Head = %v", head)
	}
	if doc.Head() != head {
		t.Error("Head not stable")
	}
	if !Attached(doc.Roots()[0]) {
		t.Error("root not attached")
	}
}

func TestRootsByTool(t *testing.T) {
	doc, err := ParseDocument(strings.NewReader(`<body>
<div data-tool-id="b"></div><div data-tool-id="a"></div><div data-tool-id="b"></div>
</body>`), DocumentConfig{})
	if err != nil {
		t.Fatalf("ParseDocument: %v", err)
	}
	ids, grouped := doc.RootsByTool()
	if strings.Join(ids, ",") != "a,b" {
		t.Errorf("ids = %v", ids)
	}
	if len(grouped["b"]) != 2 {
		t.Errorf("grouped[b] = %d roots, want 2", len(grouped["b"]))
	}
}
