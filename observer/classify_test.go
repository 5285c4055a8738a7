package observer

import "testing"

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name    string
		stage   string
		event   string
		message string
		want    Category
	}{
		{"manifest event", "", EventManifestFailure, "", CategoryManifestMissing},
		{"template event", "", EventTemplateFailure, "", CategoryManifestMissing},
		{"dependency event", "", EventDependencyFailure, "", CategoryDependencyFailure},
		{"dom event", "", EventDOMContractFailure, "", CategoryDOMContractIssue},
		{"import event", "", EventModuleImportFailure, "", CategoryModuleImportFailure},
		{"mount event", "", EventMountFailure, "", CategoryLifecycleError},
		{"event beats stage", "module_importing", EventManifestFailure, "", CategoryManifestMissing},
		{"stage", "lifecycle_mounting", "custom", "", CategoryLifecycleError},
		{"stage beats message", "dependency_loading", "custom", "manifest", CategoryDependencyFailure},
		{"message", "", "custom", "Module not found: x", CategoryModuleImportFailure},
		{"message anchor", "", "", "missing anchor:input", CategoryDOMContractIssue},
		{"unknown", "", "", "nil pointer dereference", CategoryUnknownRuntimeException},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.stage, tt.event, tt.message); got != tt.want {
				t.Errorf("ClassifyError = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClassifyCompatibility(t *testing.T) {
	tests := []struct {
		source    string
		compliant bool
		hasPath   bool
		want      Compatibility
	}{
		{SourceReal, true, true, CompatibilityModern},
		{SourceReal, false, true, CompatibilityTransitional},
		{SourceFallback, true, true, CompatibilityTransitional},
		{SourceFallback, false, true, CompatibilityLegacy},
		{SourceReal, true, false, CompatibilityBroken},
		{SourceFallback, false, false, CompatibilityBroken},
	}
	for _, tt := range tests {
		if got := ClassifyCompatibility(tt.source, tt.compliant, tt.hasPath); got != tt.want {
			t.Errorf("ClassifyCompatibility(%q, %v, %v) = %q, want %q", tt.source, tt.compliant, tt.hasPath, got, tt.want)
		}
	}
}
