package dom

import (
	"errors"
	"strings"

	"golang.org/x/net/html"
)

// ErrRootNotNormalizable is returned when adaptation has no element to work on.
var ErrRootNotNormalizable = errors.New("dom: root cannot be normalized")

// Layout classifies the markup found inside a root before adaptation.
type Layout string

const (
	LayoutCanonical Layout = "canonical"
	LayoutForm      Layout = "form"
	LayoutPanel     Layout = "panel"
	LayoutUnknown   Layout = "unknown"
)

// legacyClassPrefix marks panel-layout regions, e.g. class="tool-output".
const legacyClassPrefix = "tool-"

// AdaptResult describes what Adapt changed.
type AdaptResult struct {
	Layout     Layout           `json:"layout"`
	Adapted    bool             `json:"adapted"`
	Relocated  int              `json:"relocated"`
	Marked     int              `json:"marked"`
	Created    []Anchor         `json:"created,omitempty"`
	Validation ValidationResult `json:"validation"`
}

// Classify returns the layout of the markup under root.
func Classify(root *html.Node) Layout {
	if !IsElement(root) {
		return LayoutUnknown
	}
	all := true
	for _, a := range RequiredAnchors {
		if FindAnchor(root, a) == nil {
			all = false
			break
		}
	}
	if all {
		return LayoutCanonical
	}
	for _, a := range RequiredAnchors {
		if Find(root, byLegacyClass(a)) != nil {
			return LayoutPanel
		}
	}
	form := Find(root, ByTag("form"))
	if form != nil && Find(form, isInputLike) != nil && Find(root, isOutputLike) != nil {
		return LayoutForm
	}
	return LayoutUnknown
}

// Adapt rewrites the markup under root into the canonical anchor set.
// Existing nodes are relocated or marked, never removed. Anchors that cannot
// be mapped onto existing markup are created empty.
func Adapt(root *html.Node, toolID string) (AdaptResult, error) {
	if !IsElement(root) {
		return AdaptResult{Layout: LayoutUnknown, Validation: Validate(root, toolID)}, ErrRootNotNormalizable
	}

	before := Validate(root, toolID)
	layout := Classify(root)
	res := AdaptResult{Layout: layout}
	if before.Valid {
		res.Validation = before
		return res, nil
	}

	if toolID != "" {
		if id, _ := GetAttr(root, AttrToolID); id != toolID {
			SetAttr(root, AttrToolID, toolID)
			res.Adapted = true
		}
	}
	if !HasAttr(root, AttrToolRoot) {
		SetAttr(root, AttrToolRoot, "true")
		res.Adapted = true
	}

	switch layout {
	case LayoutPanel:
		adaptPanel(root, &res)
	case LayoutForm:
		adaptForm(root, &res)
	case LayoutUnknown:
		adaptUnknown(root, &res)
	}
	fillMissing(root, &res)

	res.Validation = Validate(root, toolID)
	return res, nil
}

func adaptPanel(root *html.Node, res *AdaptResult) {
	for _, a := range RequiredAnchors {
		if FindAnchor(root, a) != nil {
			continue
		}
		if el := Find(root, byLegacyClass(a)); el != nil {
			SetAttr(el, a.Attr(), "")
			res.Marked++
			res.Adapted = true
		}
	}
}

func adaptForm(root *html.Node, res *AdaptResult) {
	form := Find(root, ByTag("form"))
	if form == nil {
		return
	}

	input := FindAnchor(root, AnchorInput)
	if input == nil {
		input = newAnchor(AnchorInput)
		Wrap(form, input)
		res.Relocated++
		res.Created = append(res.Created, AnchorInput)
		res.Adapted = true
	}

	if FindAnchor(root, AnchorOutput) == nil {
		outputs := FindAll(root, isOutputLike)
		if len(outputs) > 0 {
			output := newAnchor(AnchorOutput)
			insertAfter(input, output)
			for _, el := range topmost(outputs) {
				Move(el, output)
				res.Relocated++
			}
			res.Created = append(res.Created, AnchorOutput)
			res.Adapted = true
		}
	}

	if FindAnchor(root, AnchorStatus) == nil {
		if el := Find(root, isStatusLike); el != nil {
			SetAttr(el, AnchorStatus.Attr(), "")
			res.Marked++
			res.Adapted = true
		}
	}

	if FindAnchor(root, AnchorContext) == nil {
		top := topLevelAncestor(root, input)
		var leading []*html.Node
		for c := root.FirstChild; c != nil && c != top; c = c.NextSibling {
			if movable(c) {
				leading = append(leading, c)
			}
		}
		if len(leading) > 0 {
			ctxAnchor := newAnchor(AnchorContext)
			root.InsertBefore(ctxAnchor, root.FirstChild)
			for _, n := range leading {
				Move(n, ctxAnchor)
				res.Relocated++
			}
			res.Created = append(res.Created, AnchorContext)
			res.Adapted = true
		}
	}
}

func adaptUnknown(root *html.Node, res *AdaptResult) {
	if FindAnchor(root, AnchorContext) != nil {
		return
	}
	var existing []*html.Node
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if movable(c) {
			existing = append(existing, c)
		}
	}
	ctxAnchor := newAnchor(AnchorContext)
	if root.FirstChild != nil {
		root.InsertBefore(ctxAnchor, root.FirstChild)
	} else {
		root.AppendChild(ctxAnchor)
	}
	for _, n := range existing {
		Move(n, ctxAnchor)
		res.Relocated++
	}
	res.Created = append(res.Created, AnchorContext)
	res.Adapted = true
}

func fillMissing(root *html.Node, res *AdaptResult) {
	for _, a := range RequiredAnchors {
		if FindAnchor(root, a) != nil {
			continue
		}
		el := newAnchor(a)
		if a == AnchorContext && root.FirstChild != nil {
			root.InsertBefore(el, root.FirstChild)
		} else {
			root.AppendChild(el)
		}
		res.Created = append(res.Created, a)
		res.Adapted = true
	}
}

func newAnchor(a Anchor) *html.Node {
	el := NewElement("div", Attr(a.Attr(), ""), Attr(AttrGenerated, "true"))
	if a == AnchorStatus {
		el.Attr = append(el.Attr, Attr("role", "status"), Attr("aria-live", "polite"))
	}
	return el
}

// movable reports whether a top-level child can be re-homed into a wrapper
// without pulling an existing anchor along with it.
func movable(n *html.Node) bool {
	switch n.Type {
	case html.TextNode:
		return strings.TrimSpace(n.Data) != ""
	case html.ElementNode:
		if isRuntimeOwned(n) {
			return false
		}
		for _, a := range RequiredAnchors {
			if HasAttr(n, a.Attr()) || FindAnchor(n, a) != nil {
				return false
			}
		}
		return true
	case html.CommentNode:
		return false
	}
	return false
}

func insertAfter(ref, n *html.Node) {
	parent := ref.Parent
	if parent == nil {
		return
	}
	if ref.NextSibling != nil {
		parent.InsertBefore(n, ref.NextSibling)
		return
	}
	parent.AppendChild(n)
}

func topLevelAncestor(root, n *html.Node) *html.Node {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Parent == root {
			return cur
		}
	}
	return nil
}

// topmost drops nodes nested inside another node of the same set.
func topmost(nodes []*html.Node) []*html.Node {
	out := make([]*html.Node, 0, len(nodes))
	for _, n := range nodes {
		nested := false
		for _, other := range nodes {
			if other != n && Contains(other, n) {
				nested = true
				break
			}
		}
		if !nested {
			out = append(out, n)
		}
	}
	return out
}

func byLegacyClass(a Anchor) func(*html.Node) bool {
	return func(n *html.Node) bool { return HasClass(n, legacyClassPrefix+string(a)) }
}

func isInputLike(n *html.Node) bool {
	return n.Data == "textarea" || n.Data == "input" || n.Data == "select"
}

func isOutputLike(n *html.Node) bool {
	return n.Data == "pre" || n.Data == "output" || HasClass(n, "result") || HasClass(n, "output")
}

func isStatusLike(n *html.Node) bool {
	role, _ := GetAttr(n, "role")
	return role == "status" || HasClass(n, "status")
}
