package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StrictMode {
		t.Error("StrictMode defaulted to true")
	}
	if cfg.Environment != "production" {
		t.Errorf("Environment = %q", cfg.Environment)
	}
	if cfg.FallbackModulePath != DefaultFallbackModulePath {
		t.Errorf("FallbackModulePath = %q", cfg.FallbackModulePath)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("Log = %+v", cfg.Log)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "toolmount.yaml")
	doc := `strict_mode: false
environment: staging
manifest_endpoint: http://manifests.local/api
supported_actions: [format, validate]
log:
  level: debug
tools:
  json-format:
    example: '{"a":1}'
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("TOOLMOUNT_STRICT_MODE", "true")
	t.Setenv("TOOLMOUNT_LOG__FORMAT", "json")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.StrictMode {
		t.Error("env override of strict_mode not applied")
	}
	if cfg.Environment != "staging" || cfg.ManifestEndpoint != "http://manifests.local/api" {
		t.Errorf("file values = %+v", cfg)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if diff := cmp.Diff([]string{"format", "validate"}, cfg.SupportedActions); diff != "" {
		t.Errorf("actions mismatch (-want +got):\n%s", diff)
	}
	if got := cfg.ToolPayload("json-format")["example"]; got != `{"a":1}` {
		t.Errorf("tool payload example = %v", got)
	}
	if cfg.ToolPayload("missing") != nil {
		t.Error("payload for unknown tool")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load of missing file succeeded")
	}
}

func TestSplitList(t *testing.T) {
	got := splitList([]string{"run, format", "", "diff"})
	if diff := cmp.Diff([]string{"run", "format", "diff"}, got); diff != "" {
		t.Errorf("splitList mismatch (-want +got):\n%s", diff)
	}
}

func TestDiscoverPathFrom(t *testing.T) {
	cwd := t.TempDir()
	home := t.TempDir()

	if _, found, err := DiscoverPathFrom("", cwd, home); err != nil || found {
		t.Fatalf("empty dirs: found=%v err=%v", found, err)
	}

	homeCfg := filepath.Join(home, ".toolmount", homeConfigName)
	if err := os.MkdirAll(filepath.Dir(homeCfg), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(homeCfg, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got, found, _ := DiscoverPathFrom("", cwd, home); !found || got != homeCfg {
		t.Errorf("home config = %q, %v", got, found)
	}

	projectCfg := filepath.Join(cwd, projectConfigName)
	if err := os.WriteFile(projectCfg, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got, _, _ := DiscoverPathFrom("", cwd, home); got != projectCfg {
		t.Errorf("project config = %q, want %q", got, projectCfg)
	}

	if _, _, err := DiscoverPathFrom(filepath.Join(cwd, "missing.yaml"), cwd, home); err == nil {
		t.Error("missing explicit path did not error")
	}
}
