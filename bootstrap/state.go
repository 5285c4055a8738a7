package bootstrap

// State is one step of a bootstrap attempt.
type State string

const (
	StateIdle              State = "idle"
	StateManifestResolving State = "manifest_resolving"
	StateTemplateLoading   State = "template_loading"
	StateDOMValidating     State = "dom_validating"
	StateDependencyLoading State = "dependency_loading"
	StateModuleImporting   State = "module_importing"
	StateLifecycleMounting State = "lifecycle_mounting"
	StatePostValidating    State = "post_validating"
	StateHealthy           State = "healthy"
	StateHealing           State = "healing"
	StateFallbackRendered  State = "fallback_rendered"
	StateSkipped           State = "skipped"
	StateAborted           State = "aborted"
)

// Terminal reports whether s ends an attempt.
func (s State) Terminal() bool {
	switch s {
	case StateHealthy, StateFallbackRendered, StateSkipped, StateAborted:
		return true
	default:
		return false
	}
}
