package bootstrap

import "time"

type counters struct {
	boots     int
	skipped   int
	completed int
	fallbacks int
	aborted   int
	tools     map[string]*ToolTiming
}

func newCounters() counters {
	return counters{tools: make(map[string]*ToolTiming)}
}

// ToolTiming is the per-tool part of Diagnostics.
type ToolTiming struct {
	Attempts  int     `json:"attempts"`
	LastState State   `json:"lastState"`
	Mode      string  `json:"mode,omitempty"`
	BootMS    float64 `json:"bootMs"`
	MountMS   float64 `json:"mountMs"`
}

// Diagnostics is a point-in-time view of the bootstrapper's counters.
type Diagnostics struct {
	BootCount             int                   `json:"bootCount"`
	SkippedDuplicateBoots int                   `json:"skippedDuplicateBoots"`
	Completed             int                   `json:"completed"`
	Fallbacks             int                   `json:"fallbacks"`
	Aborted               int                   `json:"aborted"`
	MountedRoots          int                   `json:"mountedRoots"`
	Tools                 map[string]ToolTiming `json:"tools"`
	LastError             *ErrorDescriptor      `json:"lastError,omitempty"`
}

func (b *Bootstrapper) noteFinished(a *attempt, state State, elapsed time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch state {
	case StateAborted:
		b.diag.aborted++
	case StateFallbackRendered:
		b.diag.completed++
		b.diag.fallbacks++
	default:
		b.diag.completed++
	}
	t := b.diag.tools[a.toolID]
	if t == nil {
		t = &ToolTiming{}
		b.diag.tools[a.toolID] = t
	}
	t.Attempts++
	t.LastState = state
	t.Mode = a.mode
	t.BootMS = ms(elapsed)
	t.MountMS = ms(a.mountDur)
}

// Diagnostics returns a copy of the current counters.
func (b *Bootstrapper) Diagnostics() Diagnostics {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := Diagnostics{
		BootCount:             b.diag.boots,
		SkippedDuplicateBoots: b.diag.skipped,
		Completed:             b.diag.completed,
		Fallbacks:             b.diag.fallbacks,
		Aborted:               b.diag.aborted,
		Tools:                 make(map[string]ToolTiming, len(b.diag.tools)),
	}
	for id, t := range b.diag.tools {
		d.Tools[id] = *t
	}
	for _, st := range b.roots {
		if st.handle != nil {
			d.MountedRoots++
		}
	}
	if b.lastErr != nil {
		e := *b.lastErr
		d.LastError = &e
	}
	return d
}
