package dom

import (
	"fmt"

	"golang.org/x/net/html"
)

// Status states written by the runtime.
const (
	StatusLoading  = "loading"
	StatusReady    = "ready"
	StatusError    = "error"
	StatusFallback = "fallback"
)

// SetStatus writes state and message into the status anchor. It reports
// false when the root has no status anchor.
func SetStatus(root *html.Node, state, message string) bool {
	status := FindAnchor(root, AnchorStatus)
	if status == nil {
		return false
	}
	SetAttr(status, AttrStatusState, state)

	msg := Find(status, ByAttr(AttrStatusMessage))
	if msg == nil {
		msg = NewElement("span", Attr(AttrStatusMessage, ""))
		status.AppendChild(msg)
	}
	for c := msg.FirstChild; c != nil; {
		next := c.NextSibling
		msg.RemoveChild(c)
		c = next
	}
	if message != "" {
		msg.AppendChild(NewText(message))
	}
	return true
}

// StatusState returns the state recorded on the status anchor.
func StatusState(root *html.Node) string {
	state, _ := GetAttr(FindAnchor(root, AnchorStatus), AttrStatusState)
	return state
}

// RenderFallback adds a minimal fallback panel when root holds no content.
// The panel goes into the output anchor when one exists. It reports whether
// a panel was added.
func RenderFallback(root *html.Node, toolID, message string) bool {
	if !IsElement(root) || HasContent(root) {
		return false
	}
	if Find(root, ByAttr(AttrFallback)) != nil {
		return false
	}
	if message == "" {
		message = "This tool is temporarily unavailable."
	}

	panel := NewElement("div",
		Attr(AttrFallback, "true"),
		Attr("data-tool-fallback-for", toolID),
		Attr("role", "alert"),
	)
	p := NewElement("p")
	p.AppendChild(NewText(message))
	panel.AppendChild(p)

	target := FindAnchor(root, AnchorOutput)
	if target == nil {
		target = root
	}
	target.AppendChild(panel)
	return true
}

// RenderContractError appends a panel listing missing contract nodes.
// Existing markup is left untouched. An existing panel is reused.
func RenderContractError(root *html.Node, toolID string, missing []string) bool {
	if !IsElement(root) {
		return false
	}
	panel := Find(root, ByAttr(AttrContractError))
	if panel == nil {
		panel = NewElement("div", Attr(AttrContractError, "true"), Attr("role", "alert"))
		root.AppendChild(panel)
	} else {
		for c := panel.FirstChild; c != nil; {
			next := c.NextSibling
			panel.RemoveChild(c)
			c = next
		}
	}

	p := NewElement("p")
	p.AppendChild(NewText(fmt.Sprintf("Tool %q markup is missing required nodes.", toolID)))
	panel.AppendChild(p)
	if len(missing) > 0 {
		ul := NewElement("ul")
		for _, m := range missing {
			li := NewElement("li")
			li.AppendChild(NewText(m))
			ul.AppendChild(li)
		}
		panel.AppendChild(ul)
	}
	return true
}

// Bind fills data-bind elements from data. Only empty targets are filled:
// a form control without a value attribute, or an element without
// children. It returns the number of bound elements.
func Bind(root *html.Node, data map[string]any) int {
	if len(data) == 0 || root == nil {
		return 0
	}
	bound := 0
	for _, el := range FindAll(root, ByAttr(AttrBind)) {
		key, _ := GetAttr(el, AttrBind)
		val, ok := data[key]
		if !ok || val == nil {
			continue
		}
		text := fmt.Sprint(val)
		switch el.Data {
		case "input", "select":
			if HasAttr(el, "value") {
				continue
			}
			SetAttr(el, "value", text)
		default:
			if el.FirstChild != nil {
				continue
			}
			el.AppendChild(NewText(text))
		}
		bound++
	}
	return bound
}
