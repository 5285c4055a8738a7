// Package dom holds the document model the mounting runtime works against.
//
// Mount roots are golang.org/x/net/html element nodes. The package provides
// the DOM contract (anchor validation and non-destructive adaptation of
// legacy markup), data binding, status and fallback rendering, and a
// Document wrapper that adds focus, readiness and event listeners to a
// parsed page.
package dom

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Identifying and runtime attributes.
const (
	AttrToolID        = "data-tool-id"
	AttrToolRoot      = "data-tool-root"
	AttrFallback      = "data-tool-runtime-fallback"
	AttrContractError = "data-tool-contract-error"
	AttrStatusState   = "data-tool-status-state"
	AttrStatusMessage = "data-tool-status-message"
	AttrGenerated     = "data-tool-generated"
	AttrBind          = "data-bind"
	AttrDependency    = "data-tool-dependency"
	AttrStyle         = "data-tool-style"
)

// Anchor names one of the canonical nodes every mounted tool exposes.
type Anchor string

const (
	AnchorContext  Anchor = "context"
	AnchorInput    Anchor = "input"
	AnchorStatus   Anchor = "status"
	AnchorOutput   Anchor = "output"
	AnchorFollowup Anchor = "followup"
)

// RequiredAnchors lists the anchors in canonical order.
var RequiredAnchors = []Anchor{
	AnchorContext,
	AnchorInput,
	AnchorStatus,
	AnchorOutput,
	AnchorFollowup,
}

// Attr returns the marker attribute for the anchor.
func (a Anchor) Attr() string {
	return "data-tool-" + string(a)
}

// IsElement reports whether n is an element node.
func IsElement(n *html.Node) bool {
	return n != nil && n.Type == html.ElementNode
}

// GetAttr returns the value of an attribute.
func GetAttr(n *html.Node, key string) (string, bool) {
	if n == nil {
		return "", false
	}
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// HasAttr reports whether n carries the attribute.
func HasAttr(n *html.Node, key string) bool {
	_, ok := GetAttr(n, key)
	return ok
}

// SetAttr sets or replaces an attribute.
func SetAttr(n *html.Node, key, val string) {
	if n == nil {
		return
	}
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// HasClass reports whether the class attribute contains class.
func HasClass(n *html.Node, class string) bool {
	v, ok := GetAttr(n, "class")
	if !ok {
		return false
	}
	for _, c := range strings.Fields(v) {
		if c == class {
			return true
		}
	}
	return false
}

// NewElement creates a detached element with the given attributes.
func NewElement(tag string, attrs ...html.Attribute) *html.Node {
	return &html.Node{
		Type:     html.ElementNode,
		Data:     tag,
		DataAtom: atom.Lookup([]byte(tag)),
		Attr:     attrs,
	}
}

// NewText creates a detached text node.
func NewText(text string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: text}
}

// Attr builds an html.Attribute.
func Attr(key, val string) html.Attribute {
	return html.Attribute{Key: key, Val: val}
}

// FindAll returns the element descendants of root (excluding root) that
// match pred, in document order.
func FindAll(root *html.Node, pred func(*html.Node) bool) []*html.Node {
	if root == nil {
		return nil
	}
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && pred(c) {
				out = append(out, c)
			}
			walk(c)
		}
	}
	walk(root)
	return out
}

// Find returns the first element descendant matching pred.
func Find(root *html.Node, pred func(*html.Node) bool) *html.Node {
	if root == nil {
		return nil
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && pred(c) {
			return c
		}
		if found := Find(c, pred); found != nil {
			return found
		}
	}
	return nil
}

// ByAttr matches elements carrying the attribute.
func ByAttr(key string) func(*html.Node) bool {
	return func(n *html.Node) bool { return HasAttr(n, key) }
}

// ByTag matches elements with one of the given tag names.
func ByTag(tags ...string) func(*html.Node) bool {
	return func(n *html.Node) bool {
		for _, t := range tags {
			if n.Data == t {
				return true
			}
		}
		return false
	}
}

// FindAnchor returns the first descendant carrying the anchor marker.
func FindAnchor(root *html.Node, a Anchor) *html.Node {
	return Find(root, ByAttr(a.Attr()))
}

// Contains reports whether n is ancestor or ancestor-or-self of other.
func Contains(n, other *html.Node) bool {
	if n == nil || other == nil {
		return false
	}
	for cur := other; cur != nil; cur = cur.Parent {
		if cur == n {
			return true
		}
	}
	return false
}

// Attached reports whether n is still connected to a document node.
func Attached(n *html.Node) bool {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Type == html.DocumentNode {
			return true
		}
	}
	return false
}

// Detach removes n from its parent, if any.
func Detach(n *html.Node) {
	if n != nil && n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
}

// Move relocates n under parent as its last child.
func Move(n, parent *html.Node) {
	Detach(n)
	parent.AppendChild(n)
}

// Wrap inserts wrapper in place of n and moves n inside it.
func Wrap(n, wrapper *html.Node) {
	if parent := n.Parent; parent != nil {
		parent.InsertBefore(wrapper, n)
		parent.RemoveChild(n)
	}
	wrapper.AppendChild(n)
}

// TextContent concatenates the text descendants of n.
func TextContent(n *html.Node) string {
	if n == nil {
		return ""
	}
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(TextContent(c))
	}
	return b.String()
}

// HasContent reports whether root holds anything besides empty anchors and
// runtime-generated scaffolding. Status messages and runtime panels are
// runtime-owned and never count as content.
func HasContent(root *html.Node) bool {
	if root == nil {
		return false
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.TextNode:
			if strings.TrimSpace(c.Data) != "" {
				return true
			}
		case html.ElementNode:
			if isRuntimeOwned(c) {
				continue
			}
			if !isScaffold(c) || HasContent(c) {
				return true
			}
		}
	}
	return false
}

func isRuntimeOwned(n *html.Node) bool {
	return HasAttr(n, AttrStatusMessage) || HasAttr(n, AttrFallback) || HasAttr(n, AttrContractError)
}

func isScaffold(n *html.Node) bool {
	if HasAttr(n, AttrGenerated) {
		return true
	}
	for _, a := range RequiredAnchors {
		if HasAttr(n, a.Attr()) {
			return true
		}
	}
	return false
}

// ParseFragment parses markup in the context of a <div> element.
func ParseFragment(markup string) ([]*html.Node, error) {
	context := NewElement("div")
	nodes, err := html.ParseFragment(strings.NewReader(markup), context)
	if err != nil {
		return nil, fmt.Errorf("dom: parse fragment: %w", err)
	}
	return nodes, nil
}

// AppendMarkup parses markup and appends the result to parent.
func AppendMarkup(parent *html.Node, markup string) (int, error) {
	nodes, err := ParseFragment(markup)
	if err != nil {
		return 0, err
	}
	for _, n := range nodes {
		parent.AppendChild(n)
	}
	return len(nodes), nil
}

// Render serializes n (and its subtree) to HTML.
func Render(n *html.Node) (string, error) {
	var buf bytes.Buffer
	if err := RenderTo(&buf, n); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderTo serializes n to w.
func RenderTo(w io.Writer, n *html.Node) error {
	if n == nil {
		return nil
	}
	if err := html.Render(w, n); err != nil {
		return fmt.Errorf("dom: render: %w", err)
	}
	return nil
}
