package observer

// Tool status values reported in dashboard rows.
const (
	StatusIdle     = "idle"
	StatusBooting  = "booting"
	StatusHealthy  = "healthy"
	StatusFallback = "fallback"
	StatusAborted  = "aborted"
)

// Totals aggregates every tool stream.
type Totals struct {
	Tools                  int     `json:"tools"`
	Events                 int     `json:"events"`
	FallbackMounts         int     `json:"fallbackMounts"`
	CompatibilityModeUsage int     `json:"compatibilityModeUsage"`
	Retries                int     `json:"retries"`
	Successes              int     `json:"successes"`
	Failures               int     `json:"failures"`
	SuccessRate            float64 `json:"successRate"`
}

// ToolRow is one dashboard row.
type ToolRow struct {
	ToolSlug      string   `json:"toolSlug"`
	Events        int      `json:"events"`
	LastEvent     string   `json:"lastEvent"`
	Status        string   `json:"status"`
	Compatibility string   `json:"compatibility,omitempty"`
	ErrorCategory Category `json:"errorCategory,omitempty"`
	DurationMS    float64  `json:"durationMs"`
}

// Snapshot is a point-in-time aggregate of the observer.
type Snapshot struct {
	Totals Totals    `json:"totals"`
	Tools  []ToolRow `json:"tools"`
}

func (s *toolStats) apply(ev Event) {
	s.total++
	s.lastEvent = ev.Event
	if s.status == "" {
		s.status = StatusIdle
	}

	switch ev.Event {
	case EventBootstrapStart:
		s.status = StatusBooting
	case EventBootstrapAborted:
		s.status = StatusAborted
	case EventHealingAttempt:
		s.retries++
	case EventCompatibilityMode:
		s.compatMode++
	case EventBootstrapComplete:
		if c := ev.String("compatibility"); c != "" {
			s.compatibility = c
		}
		if ev.DurationMS != nil {
			s.durationMS = *ev.DurationMS
		}
		if ev.String("outcome") == OutcomeFallback {
			s.status = StatusFallback
			s.fallbacks++
			s.failures++
		} else {
			s.status = StatusHealthy
			s.successes++
			s.category = CategoryNone
		}
	}

	if _, failure := eventCategories[ev.Event]; failure {
		s.category = ClassifyError(ev.String("stage"), ev.Event, ev.String("message"))
	}
}

// Snapshot aggregates counts across tools and builds per-tool rows in
// first-seen order.
func (o *Observer) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	snap := Snapshot{Tools: make([]ToolRow, 0, len(o.order))}
	for _, slug := range o.order {
		st := o.streams[slug].stats
		snap.Totals.Tools++
		snap.Totals.Events += st.total
		snap.Totals.FallbackMounts += st.fallbacks
		snap.Totals.CompatibilityModeUsage += st.compatMode
		snap.Totals.Retries += st.retries
		snap.Totals.Successes += st.successes
		snap.Totals.Failures += st.failures
		snap.Tools = append(snap.Tools, ToolRow{
			ToolSlug:      slug,
			Events:        st.total,
			LastEvent:     st.lastEvent,
			Status:        st.status,
			Compatibility: st.compatibility,
			ErrorCategory: st.category,
			DurationMS:    st.durationMS,
		})
	}
	if done := snap.Totals.Successes + snap.Totals.Failures; done > 0 {
		snap.Totals.SuccessRate = float64(snap.Totals.Successes) / float64(done)
	}
	return snap
}
