// Package config loads the runtime configuration: built-in defaults, then
// an optional YAML file, then TOOLMOUNT_ environment variables.
package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override. A double underscore
// separates nesting levels: TOOLMOUNT_LOG__LEVEL sets log.level.
const EnvPrefix = "TOOLMOUNT_"

// DefaultFallbackModulePath is the module mounted when no manifest names one.
const DefaultFallbackModulePath = "toolmount/fallback-runtime"

// Config is the host-page configuration surface.
type Config struct {
	StrictMode         bool     `koanf:"strict_mode"`
	Environment        string   `koanf:"environment"`
	ManifestEndpoint   string   `koanf:"manifest_endpoint"`
	TemplateEndpoint   string   `koanf:"template_endpoint"`
	AssetBaseURL       string   `koanf:"asset_base_url"`
	FallbackModulePath string   `koanf:"fallback_module_path"`
	SupportedActions   []string `koanf:"supported_actions"`

	// Catalog is a local manifest catalog used instead of the endpoints.
	Catalog string `koanf:"catalog"`

	Log LogConfig `koanf:"log"`

	// Tools holds per-tool payloads used for data binding only.
	Tools map[string]map[string]any `koanf:"tools"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

// ToolPayload returns the configuration payload for toolID.
func (c *Config) ToolPayload(toolID string) map[string]any {
	if c == nil || c.Tools == nil {
		return nil
	}
	return c.Tools[toolID]
}

func defaults() map[string]any {
	return map[string]any{
		"strict_mode":          false,
		"environment":          "production",
		"fallback_module_path": DefaultFallbackModulePath,
		"log.level":            "info",
		"log.format":           "text",
	}
}

// Load builds a Config. An empty path skips the file layer.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	for key, val := range defaults() {
		if err := k.Set(key, val); err != nil {
			return nil, fmt.Errorf("config: default %s: %w", key, err)
		}
	}

	if path = strings.TrimSpace(path); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.SupportedActions = splitList(cfg.SupportedActions)
	return &cfg, nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// splitList expands comma separated entries, which is how list values
// arrive from the environment.
func splitList(in []string) []string {
	var out []string
	for _, v := range in {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
