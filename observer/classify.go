package observer

import "strings"

// Category is the error taxonomy used in dashboard rows.
type Category string

const (
	CategoryNone                    Category = ""
	CategoryManifestMissing         Category = "manifest_missing"
	CategoryDependencyFailure       Category = "dependency_failure"
	CategoryDOMContractIssue        Category = "dom_contract_issue"
	CategoryModuleImportFailure     Category = "module_import_failure"
	CategoryLifecycleError          Category = "lifecycle_error"
	CategoryUnknownRuntimeException Category = "unknown_runtime_exception"
)

var eventCategories = map[string]Category{
	EventManifestFailure:     CategoryManifestMissing,
	EventTemplateFailure:     CategoryManifestMissing,
	EventDependencyFailure:   CategoryDependencyFailure,
	EventDOMContractFailure:  CategoryDOMContractIssue,
	EventModuleImportFailure: CategoryModuleImportFailure,
	EventMountFailure:        CategoryLifecycleError,
	EventHealingFailure:      CategoryLifecycleError,
}

var stageCategories = map[string]Category{
	"manifest_resolving": CategoryManifestMissing,
	"template_loading":   CategoryManifestMissing,
	"dependency_loading": CategoryDependencyFailure,
	"dom_validating":     CategoryDOMContractIssue,
	"post_validating":    CategoryDOMContractIssue,
	"module_importing":   CategoryModuleImportFailure,
	"lifecycle_mounting": CategoryLifecycleError,
	"healing":            CategoryLifecycleError,
}

var messageHints = []struct {
	needle   string
	category Category
}{
	{"manifest", CategoryManifestMissing},
	{"template", CategoryManifestMissing},
	{"dependency", CategoryDependencyFailure},
	{"stylesheet", CategoryDependencyFailure},
	{"anchor", CategoryDOMContractIssue},
	{"contract", CategoryDOMContractIssue},
	{"import", CategoryModuleImportFailure},
	{"module not found", CategoryModuleImportFailure},
	{"mount", CategoryLifecycleError},
	{"lifecycle", CategoryLifecycleError},
	{"destroy", CategoryLifecycleError},
}

// ClassifyError maps a failure onto the error taxonomy. The event name wins
// over the stage, and the stage over the message text.
func ClassifyError(stage, event, message string) Category {
	if c, ok := eventCategories[event]; ok {
		return c
	}
	if c, ok := stageCategories[stage]; ok {
		return c
	}
	msg := strings.ToLower(message)
	for _, h := range messageHints {
		if strings.Contains(msg, h.needle) {
			return h.category
		}
	}
	return CategoryUnknownRuntimeException
}

// Compatibility labels how modern a mount was.
type Compatibility string

const (
	CompatibilityModern       Compatibility = "modern"
	CompatibilityTransitional Compatibility = "transitional"
	CompatibilityLegacy       Compatibility = "legacy"
	CompatibilityBroken       Compatibility = "broken"
)

// Manifest sources.
const (
	SourceReal     = "real"
	SourceFallback = "fallback"
)

// ClassifyCompatibility derives the compatibility label of a mount.
func ClassifyCompatibility(manifestSource string, lifecycleCompliant, hasModulePath bool) Compatibility {
	if !hasModulePath {
		return CompatibilityBroken
	}
	served := manifestSource != SourceFallback
	switch {
	case served && lifecycleCompliant:
		return CompatibilityModern
	case !served && !lifecycleCompliant:
		return CompatibilityLegacy
	default:
		return CompatibilityTransitional
	}
}
