package dom

import "golang.org/x/net/html"

// Missing-node identifiers reported by Validate.
const (
	MissingRoot = "root"
)

// ValidationResult reports whether a root satisfies the DOM contract.
type ValidationResult struct {
	Valid   bool     `json:"isValid"`
	Missing []string `json:"missingNodes"`
}

// MissingAnchor returns the identifier used for a missing anchor.
func MissingAnchor(a Anchor) string {
	return "anchor:" + string(a)
}

// MissingAttr returns the identifier used for a missing root attribute.
func MissingAttr(key string) string {
	return "attr:" + key
}

// Validate checks root for the required anchors and identifying attributes.
// It never mutates the tree.
func Validate(root *html.Node, toolID string) ValidationResult {
	if !IsElement(root) {
		return ValidationResult{Missing: []string{MissingRoot}}
	}

	var missing []string
	id, ok := GetAttr(root, AttrToolID)
	if !ok || (toolID != "" && id != toolID) {
		missing = append(missing, MissingAttr(AttrToolID))
	}
	if !HasAttr(root, AttrToolRoot) {
		missing = append(missing, MissingAttr(AttrToolRoot))
	}
	for _, a := range RequiredAnchors {
		if FindAnchor(root, a) == nil {
			missing = append(missing, MissingAnchor(a))
		}
	}
	return ValidationResult{Valid: len(missing) == 0, Missing: missing}
}
