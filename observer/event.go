// Package observer records the runtime's structured event stream. Recording
// is best effort: nothing in this package returns an error to its caller or
// lets a subscriber panic escape.
package observer

// Event names recorded by the runtime.
const (
	EventBootstrapStart    = "bootstrap_start"
	EventBootstrapStage    = "bootstrap_stage"
	EventBootstrapComplete = "bootstrap_complete"
	EventBootstrapSkipped  = "bootstrap_skipped"
	EventBootstrapAborted  = "bootstrap_aborted"

	EventManifestFailure     = "manifest_failure"
	EventTemplateFailure     = "template_failure"
	EventDependencyFailure   = "dependency_failure"
	EventDependencyLoaded    = "dependency_loaded"
	EventDOMAdapted          = "dom_adapted"
	EventDOMContractFailure  = "dom_contract_failure"
	EventModuleImportFailure = "module_import_failure"
	EventMountFailure        = "mount_failure"

	EventHealingAttempt      = "healing_attempt"
	EventHealingFailure      = "healing_failure"
	EventFallbackRendered    = "fallback_rendered"
	EventCompatibilityMode   = "compatibility_mode"
	EventExecutionOnlyMount  = "execution_only_mount"
	EventStrictModeViolation = "strict_mode_violation"

	EventExecutionInvoke   = "execution_invoke"
	EventExecutionRejected = "execution_rejected"
)

// Outcome values carried in the bootstrap_complete payload.
const (
	OutcomeHealthy  = "healthy"
	OutcomeFallback = "fallback"
)

// Event is one append-only record in a tool's stream.
type Event struct {
	Event    string `json:"event"`
	ToolSlug string `json:"toolSlug"`

	// Session identifies the observer, and so the process, that recorded
	// the event.
	Session string `json:"session,omitempty"`

	// Timestamp is milliseconds on the observer's monotonic clock.
	Timestamp float64 `json:"timestamp"`

	// DurationMS is set by RecordDuration.
	DurationMS *float64 `json:"durationMs,omitempty"`

	Payload map[string]any `json:"payload,omitempty"`

	// Seq is a per-tool sequence number (1-indexed).
	Seq uint64 `json:"seq"`
}

// String reads a string payload field.
func (e Event) String(key string) string {
	if e.Payload == nil {
		return ""
	}
	s, _ := e.Payload[key].(string)
	return s
}

// Publisher receives every recorded event. bus.EventBus satisfies it.
type Publisher interface {
	Publish(event Event)
}

// Subscriber is a callback invoked for every recorded event.
type Subscriber func(Event)
