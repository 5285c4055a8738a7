// Package manifest resolves tool manifests and templates from an HTTP
// service or a local catalog file.
package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/petal-labs/toolmount/observer"
)

var (
	// ErrManifestUnavailable is returned when a manifest cannot be retrieved.
	ErrManifestUnavailable = errors.New("manifest: unavailable")
	// ErrTemplateUnavailable is returned when a template cannot be retrieved.
	ErrTemplateUnavailable = errors.New("manifest: template unavailable")
)

// Manifest sources.
const (
	SourceReal     = observer.SourceReal
	SourceFallback = observer.SourceFallback
)

// Manifest describes one tool.
type Manifest struct {
	ID             string   `json:"slug" yaml:"slug" toml:"slug"`
	ModulePath     string   `json:"modulePath" yaml:"modulePath" toml:"modulePath"`
	TemplatePath   string   `json:"templatePath,omitempty" yaml:"templatePath" toml:"templatePath"`
	Dependencies   []string `json:"dependencies,omitempty" yaml:"dependencies" toml:"dependencies"`
	Styles         []string `json:"styles,omitempty" yaml:"styles" toml:"styles"`
	UIMode         string   `json:"uiMode,omitempty" yaml:"uiMode" toml:"uiMode"`
	ComplexityTier string   `json:"complexityTier,omitempty" yaml:"complexityTier" toml:"complexityTier"`

	// Source is SourceReal or SourceFallback. It is not part of the wire
	// shape.
	Source string `json:"-" yaml:"-" toml:"-"`
}

// IsFallback reports whether m was synthesized locally.
func (m Manifest) IsFallback() bool { return m.Source == SourceFallback }

type wireManifest struct {
	Slug           string   `json:"slug"`
	ID             string   `json:"id"`
	ViewName       string   `json:"viewName"`
	TemplatePath   string   `json:"templatePath"`
	ModulePath     string   `json:"modulePath"`
	Dependencies   []string `json:"dependencies"`
	Styles         []string `json:"styles"`
	UIMode         string   `json:"uiMode"`
	ComplexityTier string   `json:"complexityTier"`
}

// Decode parses the JSON wire shape. viewName is accepted in place of
// templatePath and id in place of slug. When the body names no tool,
// fallbackID is used.
func Decode(data []byte, fallbackID string) (Manifest, error) {
	var w wireManifest
	if err := json.Unmarshal(data, &w); err != nil {
		return Manifest{}, fmt.Errorf("%w: decode: %v", ErrManifestUnavailable, err)
	}
	m := Manifest{
		ID:             firstNonEmpty(w.Slug, w.ID, fallbackID),
		ModulePath:     strings.TrimSpace(w.ModulePath),
		TemplatePath:   firstNonEmpty(w.TemplatePath, w.ViewName),
		Dependencies:   compact(w.Dependencies),
		Styles:         compact(w.Styles),
		UIMode:         strings.TrimSpace(w.UIMode),
		ComplexityTier: strings.TrimSpace(w.ComplexityTier),
		Source:         SourceReal,
	}
	return m, nil
}

// Fallback returns the minimal manifest used when none can be retrieved.
func Fallback(toolID, fallbackModulePath string) Manifest {
	return Manifest{
		ID:         toolID,
		ModulePath: fallbackModulePath,
		Source:     SourceFallback,
	}
}

// Source retrieves manifests and templates by tool id.
type Source interface {
	Manifest(ctx context.Context, toolID string) (Manifest, error)
	Template(ctx context.Context, toolID string) (string, error)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func compact(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
