package manifest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// CatalogEntry is one tool in a catalog file. Template holds inline markup;
// TemplateFile is read relative to the catalog file.
type CatalogEntry struct {
	Manifest     `yaml:",inline"`
	Template     string `json:"-" yaml:"template" toml:"template"`
	TemplateFile string `json:"-" yaml:"templateFile" toml:"templateFile"`
}

type catalogFile struct {
	Tools map[string]CatalogEntry `yaml:"tools" toml:"tools"`
}

// Catalog is a file-backed Source.
type Catalog struct {
	dir string

	mu      sync.RWMutex
	entries map[string]CatalogEntry
}

// NewCatalog creates a catalog from entries keyed by tool id. dir resolves
// relative template files.
func NewCatalog(entries map[string]CatalogEntry, dir string) *Catalog {
	c := &Catalog{dir: dir, entries: make(map[string]CatalogEntry, len(entries))}
	for id, e := range entries {
		c.Put(id, e)
	}
	return c
}

// LoadCatalog reads a YAML or TOML catalog; the format follows the file
// extension (.toml, otherwise YAML).
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: read catalog: %w", err)
	}
	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		format = "toml"
	}
	return ParseCatalog(data, format, filepath.Dir(path))
}

// ParseCatalog decodes catalog data in format "yaml" or "toml".
func ParseCatalog(data []byte, format, dir string) (*Catalog, error) {
	var file catalogFile
	switch strings.ToLower(format) {
	case "toml":
		if _, err := toml.Decode(string(data), &file); err != nil {
			return nil, fmt.Errorf("manifest: decode toml catalog: %w", err)
		}
	case "yaml", "yml", "":
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("manifest: decode yaml catalog: %w", err)
		}
	default:
		return nil, fmt.Errorf("manifest: unsupported catalog format %q", format)
	}
	return NewCatalog(file.Tools, dir), nil
}

// Put adds or replaces an entry.
func (c *Catalog) Put(toolID string, e CatalogEntry) {
	toolID = strings.TrimSpace(toolID)
	if e.ID == "" {
		e.ID = toolID
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[toolID] = e
}

// IDs returns the catalog's tool ids, sorted.
func (c *Catalog) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Manifest implements Source.
func (c *Catalog) Manifest(_ context.Context, toolID string) (Manifest, error) {
	c.mu.RLock()
	e, ok := c.entries[strings.TrimSpace(toolID)]
	c.mu.RUnlock()
	if !ok {
		return Manifest{}, fmt.Errorf("%w: %s not in catalog", ErrManifestUnavailable, toolID)
	}
	m := e.Manifest
	m.Dependencies = compact(m.Dependencies)
	m.Styles = compact(m.Styles)
	m.Source = SourceReal
	return m, nil
}

// Template implements Source.
func (c *Catalog) Template(_ context.Context, toolID string) (string, error) {
	c.mu.RLock()
	e, ok := c.entries[strings.TrimSpace(toolID)]
	c.mu.RUnlock()
	switch {
	case !ok:
		return "", fmt.Errorf("%w: %s not in catalog", ErrTemplateUnavailable, toolID)
	case e.Template != "":
		return e.Template, nil
	case e.TemplateFile != "":
		path := e.TemplateFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(c.dir, path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("%w: %s: %v", ErrTemplateUnavailable, toolID, err)
		}
		return string(data), nil
	}
	return "", fmt.Errorf("%w: %s has no template", ErrTemplateUnavailable, toolID)
}
