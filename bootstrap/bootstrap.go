// Package bootstrap mounts tools into their DOM roots. One attempt walks a
// root through manifest resolution, template loading, DOM validation,
// dependency loading, module import and lifecycle mounting, and degrades to
// a fallback instead of failing whenever a step goes wrong.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	"github.com/petal-labs/toolmount/deps"
	"github.com/petal-labs/toolmount/dom"
	"github.com/petal-labs/toolmount/execution"
	"github.com/petal-labs/toolmount/kernel"
	"github.com/petal-labs/toolmount/keyboard"
	"github.com/petal-labs/toolmount/lifecycle"
	"github.com/petal-labs/toolmount/manifest"
	"github.com/petal-labs/toolmount/observer"
	"github.com/petal-labs/toolmount/registry"
)

// ErrInFlight is returned by Unmount while the root is being mounted.
var ErrInFlight = errors.New("bootstrap: root is mounting")

const (
	loadingMessage  = "Loading tool..."
	fallbackMessage = "This tool failed to load."
)

// Importer resolves a module path to a module value.
type Importer interface {
	Import(ctx context.Context, path string) (any, error)
}

// Config wires a Bootstrapper. Nil fields get process defaults.
type Config struct {
	Document     *dom.Document
	Kernel       *kernel.Kernel
	Keyboard     *keyboard.Manager
	Observer     *observer.Observer
	Manifests    manifest.Source
	Dependencies *deps.Loader
	Importer     Importer
	Legacy       *lifecycle.LegacyRegistry
	Bridge       *execution.Bridge
	Healer       Healer

	StrictMode         bool
	Environment        string
	FallbackModulePath string

	// ToolConfig returns the data-binding payload of a tool.
	ToolConfig func(toolID string) map[string]any

	Logger       *slog.Logger
	NewAttemptID func() string
}

type rootState struct {
	inFlight  bool
	attemptID string // id of the in-flight attempt
	toolID    string
	handle    *kernel.ToolHandle
	execOnly  bool
}

// Bootstrapper coordinates bootstrap attempts for the roots of one
// document.
type Bootstrapper struct {
	doc       *dom.Document
	kernel    *kernel.Kernel
	keyboard  *keyboard.Manager
	obs       *observer.Observer
	manifests manifest.Source
	deps      *deps.Loader
	importer  Importer
	legacy    *lifecycle.LegacyRegistry
	bridge    *execution.Bridge
	healer    Healer

	strict       bool
	environment  string
	fallbackPath string
	toolConfig   func(string) map[string]any
	logger       *slog.Logger
	newID        func() string

	mu      sync.Mutex
	roots   map[*html.Node]*rootState
	diag    counters
	lastErr *ErrorDescriptor
}

// New creates a Bootstrapper.
func New(cfg Config) *Bootstrapper {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Kernel == nil {
		cfg.Kernel = kernel.Default()
	}
	if cfg.Observer == nil {
		cfg.Observer = observer.Default()
	}
	if cfg.Importer == nil {
		cfg.Importer = registry.Global()
	}
	if cfg.Legacy == nil {
		cfg.Legacy = lifecycle.DefaultLegacy()
	}
	if cfg.Keyboard == nil && cfg.Document != nil {
		cfg.Keyboard = keyboard.NewManager(cfg.Document, cfg.Logger)
	}
	if cfg.Bridge == nil {
		cfg.Bridge = execution.NewBridge(execution.BridgeConfig{
			Legacy:   cfg.Legacy,
			Observer: cfg.Observer,
			Logger:   cfg.Logger,
		})
	}
	if cfg.Dependencies == nil {
		cfg.Dependencies = deps.NewLoader(deps.Config{
			Document: cfg.Document,
			Observer: cfg.Observer,
			Logger:   cfg.Logger,
		})
	}
	if strings.TrimSpace(cfg.FallbackModulePath) == "" {
		cfg.FallbackModulePath = registry.FallbackRuntimePath
	}
	if cfg.ToolConfig == nil {
		cfg.ToolConfig = func(string) map[string]any { return nil }
	}
	if cfg.NewAttemptID == nil {
		cfg.NewAttemptID = uuid.NewString
	}
	return &Bootstrapper{
		doc:          cfg.Document,
		kernel:       cfg.Kernel,
		keyboard:     cfg.Keyboard,
		obs:          cfg.Observer,
		manifests:    cfg.Manifests,
		deps:         cfg.Dependencies,
		importer:     cfg.Importer,
		legacy:       cfg.Legacy,
		bridge:       cfg.Bridge,
		healer:       cfg.Healer,
		strict:       cfg.StrictMode,
		environment:  cfg.Environment,
		fallbackPath: cfg.FallbackModulePath,
		toolConfig:   cfg.ToolConfig,
		logger:       cfg.Logger,
		newID:        cfg.NewAttemptID,
		roots:        make(map[*html.Node]*rootState),
		diag:         newCounters(),
	}
}

// Bridge returns the execution bridge execution-only modules register on.
func (b *Bootstrapper) Bridge() *execution.Bridge { return b.bridge }

// Observer returns the observer events are recorded on.
func (b *Bootstrapper) Observer() *observer.Observer { return b.obs }

// Result is the outcome of one Bootstrap call.
type Result struct {
	ToolID         string                 `json:"toolId"`
	AttemptID      string                 `json:"attemptId,omitempty"`
	State          State                  `json:"state"`
	Outcome        string                 `json:"outcome,omitempty"`
	Mode           string                 `json:"mode,omitempty"`
	Compatibility  observer.Compatibility `json:"compatibility,omitempty"`
	ManifestSource string                 `json:"manifestSource,omitempty"`
	Mounted        bool                   `json:"mounted"`
	Executable     bool                   `json:"executable"`
	DurationMS     float64                `json:"durationMs"`
}

// Bootstrap mounts the tool named by root's data-tool-id. A call for a
// root that is already mounting returns StateSkipped. Failures degrade to
// a fallback; an error is returned only for strict-mode violations and
// aborted attempts.
func (b *Bootstrapper) Bootstrap(ctx context.Context, root *html.Node) (Result, error) {
	var toolID string
	b.tree(func() {
		if root != nil {
			toolID, _ = dom.GetAttr(root, dom.AttrToolID)
		}
	})
	toolID = strings.TrimSpace(toolID)
	if toolID == "" {
		return Result{State: StateIdle}, ErrNoToolID
	}

	b.mu.Lock()
	st := b.roots[root]
	if st == nil {
		st = &rootState{}
		b.roots[root] = st
	}
	if st.inFlight {
		b.diag.skipped++
		joined := st.attemptID
		b.mu.Unlock()
		b.obs.Record(toolID, observer.EventBootstrapSkipped, map[string]any{
			"reason":    "in_flight",
			"attemptId": joined,
		})
		return Result{ToolID: toolID, State: StateSkipped, AttemptID: joined}, nil
	}
	id := b.newID()
	st.inFlight = true
	st.attemptID = id
	b.diag.boots++
	b.mu.Unlock()

	a := &attempt{
		b:      b,
		root:   root,
		st:     st,
		toolID: toolID,
		id:     id,
		start:  time.Now(),
		data:   b.toolConfig(toolID),
	}
	res, err := a.run(ctx)

	b.mu.Lock()
	st.inFlight = false
	st.attemptID = ""
	if res.State == StateAborted && st.handle == nil && !st.execOnly && b.roots[root] == st {
		delete(b.roots, root)
	}
	b.mu.Unlock()
	return res, err
}

// BootstrapAll bootstraps every root of the document concurrently and
// returns the results in document order.
func (b *Bootstrapper) BootstrapAll(ctx context.Context) ([]Result, error) {
	if b.doc == nil {
		return nil, nil
	}
	var roots []*html.Node
	b.doc.WithTree(func() { roots = b.doc.Roots() })

	results := make([]Result, len(roots))
	g, gctx := errgroup.WithContext(ctx)
	for i, root := range roots {
		g.Go(func() error {
			res, err := b.Bootstrap(gctx, root)
			results[i] = res
			if errors.Is(err, ErrNoToolID) {
				return nil
			}
			return err
		})
	}
	err := g.Wait()
	return results, err
}

// Unmount destroys the instance mounted at root and forgets the root.
func (b *Bootstrapper) Unmount(ctx context.Context, root *html.Node) error {
	b.mu.Lock()
	st := b.roots[root]
	if st == nil {
		b.mu.Unlock()
		return nil
	}
	if st.inFlight {
		b.mu.Unlock()
		return ErrInFlight
	}
	h, execOnly, toolID := st.handle, st.execOnly, st.toolID
	delete(b.roots, root)
	b.mu.Unlock()

	if execOnly {
		b.bridge.Unregister(toolID)
	}
	if h != nil {
		return h.Destroy(ctx)
	}
	return nil
}

// LastError returns the most recent error that degraded a tool, or nil.
func (b *Bootstrapper) LastError() *ErrorDescriptor {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lastErr == nil {
		return nil
	}
	d := *b.lastErr
	return &d
}

// ObservabilitySnapshot returns the observer's aggregate snapshot.
func (b *Bootstrapper) ObservabilitySnapshot() observer.Snapshot {
	return b.obs.Snapshot()
}

func (b *Bootstrapper) tree(fn func()) {
	if b.doc != nil {
		b.doc.WithTree(fn)
		return
	}
	fn()
}

func (b *Bootstrapper) setLastError(a *attempt, rerr *RuntimeError) {
	desc := &ErrorDescriptor{
		ToolID:    a.toolID,
		AttemptID: a.id,
		Stage:     rerr.Stage,
		Code:      rerr.Code,
		Message:   rerr.Message,
		Category:  observer.ClassifyError(string(rerr.Stage), "", rerr.Message),
		At:        time.Now(),
	}
	b.mu.Lock()
	b.lastErr = desc
	b.mu.Unlock()
}

// cleanupPrevious destroys whatever the root had mounted before. Destroy is
// idempotent on a handle, so each instance's cleanup runs once.
func (b *Bootstrapper) cleanupPrevious(ctx context.Context, a *attempt) {
	b.mu.Lock()
	prev, execOnly, prevID := a.st.handle, a.st.execOnly, a.st.toolID
	a.st.handle, a.st.execOnly = nil, false
	b.mu.Unlock()

	if execOnly && prevID != "" {
		b.bridge.Unregister(prevID)
	}
	if prev != nil {
		if err := prev.Destroy(ctx); err != nil {
			b.logger.Warn("bootstrap: previous instance cleanup failed", "tool_id", prevID, "error", err)
		}
	}
	if h := b.kernel.Lookup(a.toolID, a.root); h != nil {
		if err := h.Destroy(ctx); err != nil {
			b.logger.Warn("bootstrap: stale kernel handle cleanup failed", "tool_id", a.toolID, "error", err)
		}
	}
}

// attempt is the state of one bootstrap run.
type attempt struct {
	b      *Bootstrapper
	root   *html.Node
	st     *rootState
	toolID string
	id     string
	start  time.Time
	data   map[string]any

	stage    State
	manifest manifest.Manifest
	contract lifecycle.Contract
	mode     string
	handle   *kernel.ToolHandle
	execOnly bool
	fallback bool
	mountDur time.Duration
	firstErr *RuntimeError
}

func (a *attempt) run(ctx context.Context) (Result, error) {
	b := a.b
	b.obs.Record(a.toolID, observer.EventBootstrapStart, map[string]any{
		"attemptId":   a.id,
		"strictMode":  b.strict,
		"environment": b.environment,
	})

	if err := a.enter(ctx, StateManifestResolving); err != nil {
		return a.abort(ctx, err)
	}
	a.resolveManifest(ctx)
	if b.strict && a.manifest.IsFallback() {
		return a.violate(ctx, StateManifestResolving, fmt.Errorf("manifest for %q unavailable", a.toolID))
	}

	if err := a.enter(ctx, StateTemplateLoading); err != nil {
		return a.abort(ctx, err)
	}
	a.loadTemplate(ctx)

	if err := a.enter(ctx, StateDOMValidating); err != nil {
		return a.abort(ctx, err)
	}
	a.validateDOM()

	if err := a.enter(ctx, StateDependencyLoading); err != nil {
		return a.abort(ctx, err)
	}
	a.loadDependencies(ctx)

	if err := a.enter(ctx, StateModuleImporting); err != nil {
		return a.abort(ctx, err)
	}
	if rerr := a.mountModule(ctx); rerr != nil {
		switch rerr.Code {
		case CodeAborted:
			return a.abort(ctx, rerr)
		case CodeStrictMode:
			return a.violate(ctx, rerr.Stage, rerr.Cause)
		}
		hrerr := a.heal(ctx, rerr)
		if hrerr != nil {
			if hrerr.Code == CodeAborted {
				return a.abort(ctx, hrerr)
			}
			return a.violate(ctx, hrerr.Stage, hrerr.Cause)
		}
	}

	if err := a.enter(ctx, StatePostValidating); err != nil {
		return a.abort(ctx, err)
	}
	a.postValidate()

	return a.complete(), nil
}

// enter records a stage transition after checking the attempt is still
// live.
func (a *attempt) enter(ctx context.Context, stage State) *RuntimeError {
	prev := a.stage
	a.stage = stage
	if err := ctx.Err(); err != nil {
		return &RuntimeError{
			Code: CodeAborted, Stage: stage, ToolID: a.toolID,
			Message: "context done: " + err.Error(),
			Cause:   errors.Join(ErrAborted, err),
		}
	}
	var attached bool
	a.b.tree(func() { attached = dom.Attached(a.root) })
	if !attached {
		return &RuntimeError{
			Code: CodeAborted, Stage: stage, ToolID: a.toolID,
			Message: "root detached from document",
			Cause:   ErrAborted,
		}
	}
	a.b.obs.Record(a.toolID, observer.EventBootstrapStage, map[string]any{
		"stage":     string(stage),
		"from":      string(prev),
		"attemptId": a.id,
	})
	return nil
}

func (a *attempt) fail(event, code string, stage State, err error, extra map[string]any) *RuntimeError {
	rerr := newRuntimeError(code, stage, a.toolID, err)
	payload := map[string]any{
		"attemptId": a.id,
		"stage":     string(stage),
		"message":   rerr.Message,
	}
	for k, v := range extra {
		payload[k] = v
	}
	a.b.obs.Record(a.toolID, event, payload)
	a.b.logger.Warn("bootstrap: "+event, "tool_id", a.toolID, "stage", stage, "error", err)
	if a.firstErr == nil {
		a.firstErr = rerr
	}
	return rerr
}

func (a *attempt) resolveManifest(ctx context.Context) {
	b := a.b
	if b.manifests == nil {
		a.fail(observer.EventManifestFailure, CodeManifestUnavailable, StateManifestResolving,
			manifest.ErrManifestUnavailable, map[string]any{"reason": "no manifest source"})
		a.manifest = manifest.Fallback(a.toolID, b.fallbackPath)
		return
	}
	m, err := b.manifests.Manifest(ctx, a.toolID)
	if err != nil {
		a.fail(observer.EventManifestFailure, CodeManifestUnavailable, StateManifestResolving, err, nil)
		a.manifest = manifest.Fallback(a.toolID, b.fallbackPath)
		return
	}
	if m.ID == "" {
		m.ID = a.toolID
	}
	a.manifest = m
}

func (a *attempt) loadTemplate(ctx context.Context) {
	b := a.b
	var empty bool
	b.tree(func() { empty = !dom.HasContent(a.root) })

	if empty && b.manifests != nil && !a.manifest.IsFallback() {
		markup, err := b.manifests.Template(ctx, a.toolID)
		if err != nil {
			a.fail(observer.EventTemplateFailure, CodeTemplateUnavailable, StateTemplateLoading, err, nil)
		} else {
			var appendErr error
			b.tree(func() {
				if !dom.HasContent(a.root) {
					_, appendErr = dom.AppendMarkup(a.root, markup)
				}
			})
			if appendErr != nil {
				a.fail(observer.EventTemplateFailure, CodeTemplateUnavailable, StateTemplateLoading, appendErr, nil)
			}
		}
	}

	b.tree(func() { dom.Bind(a.root, a.data) })
}

func (a *attempt) validateDOM() {
	b := a.b
	var (
		adapted  bool
		res      dom.AdaptResult
		adaptErr error
	)
	b.tree(func() {
		if dom.Validate(a.root, a.toolID).Valid {
			return
		}
		adapted = true
		res, adaptErr = dom.Adapt(a.root, a.toolID)
		if adaptErr == nil && !res.Validation.Valid {
			adaptErr = fmt.Errorf("dom contract: missing %s", strings.Join(res.Validation.Missing, ", "))
		}
		if adaptErr != nil {
			dom.RenderContractError(a.root, a.toolID, res.Validation.Missing)
		}
	})

	if adapted && res.Adapted {
		created := make([]string, 0, len(res.Created))
		for _, anchor := range res.Created {
			created = append(created, string(anchor))
		}
		b.obs.Record(a.toolID, observer.EventDOMAdapted, map[string]any{
			"attemptId": a.id,
			"layout":    string(res.Layout),
			"relocated": res.Relocated,
			"marked":    res.Marked,
			"created":   created,
		})
	}
	if adaptErr != nil {
		a.fail(observer.EventDOMContractFailure, CodeDOMContract, StateDOMValidating, adaptErr,
			map[string]any{"missing": res.Validation.Missing})
	}

	b.tree(func() { dom.SetStatus(a.root, dom.StatusLoading, loadingMessage) })
}

func (a *attempt) loadDependencies(ctx context.Context) {
	m := a.manifest
	if a.b.deps == nil || len(m.Dependencies)+len(m.Styles) == 0 {
		return
	}
	report := a.b.deps.Load(ctx, deps.Request{
		ToolSlug:     a.toolID,
		Dependencies: m.Dependencies,
		Styles:       m.Styles,
	})
	if !report.OK() {
		a.b.logger.Warn("bootstrap: continuing without dependencies",
			"tool_id", a.toolID, "failed", report.Failed)
	}
}

// mountModule imports the manifest's module and mounts it. It is also the
// retry step handed to the Healer.
func (a *attempt) mountModule(ctx context.Context) *RuntimeError {
	b := a.b
	path := a.manifest.ModulePath
	if strings.TrimSpace(path) == "" {
		path = b.fallbackPath
	}
	mod, err := b.importer.Import(ctx, path)
	if err != nil {
		return a.fail(observer.EventModuleImportFailure, CodeModuleImport, StateModuleImporting, err,
			map[string]any{"modulePath": path})
	}

	c := lifecycle.Detect(mod, a.toolID, b.legacy)
	a.contract = c
	b.cleanupPrevious(ctx, a)

	ec := lifecycle.NewExecutionContext(a.root, a.toolID, b.doc, b.keyboard, a.data)
	lc := lifecycle.Normalize(c, ec)
	a.mode = lc.Mode

	if !lc.Mountable {
		if c.RunTool == nil {
			return a.fail(observer.EventMountFailure, CodeNoLifecycle, StateModuleImporting,
				fmt.Errorf("module %q exports no lifecycle", path),
				map[string]any{"modulePath": path, "mode": lc.Mode})
		}
		b.obs.Record(a.toolID, observer.EventExecutionOnlyMount, map[string]any{
			"attemptId": a.id,
			"mode":      lc.Mode,
			"source":    c.Source,
		})
		if b.strict {
			return &RuntimeError{
				Code: CodeStrictMode, Stage: StateModuleImporting, ToolID: a.toolID,
				Message: "execution-only module " + path,
				Cause:   fmt.Errorf("module %q is execution-only", path),
			}
		}
		b.bridge.Register(a.toolID, c.RunTool)
		a.execOnly = true
		b.mu.Lock()
		a.st.execOnly, a.st.toolID = true, a.toolID
		b.mu.Unlock()
		return nil
	}

	if rerr := a.enter(ctx, StateLifecycleMounting); rerr != nil {
		return rerr
	}
	h, err := b.kernel.RegisterTool(kernel.ToolSpec{
		ID:      a.toolID,
		Root:    a.root,
		Create:  lc.Create,
		Init:    lc.Init,
		Destroy: lc.Destroy,
	})
	if err != nil {
		return a.fail(observer.EventMountFailure, CodeMountFailed, StateLifecycleMounting, err,
			map[string]any{"mode": lc.Mode})
	}

	start := time.Now()
	err = h.Create(ctx)
	if err == nil {
		err = h.Init(ctx)
	}
	a.mountDur = time.Since(start)
	if err != nil {
		rerr := a.fail(observer.EventMountFailure, CodeMountFailed, StateLifecycleMounting, err,
			map[string]any{"mode": lc.Mode})
		if derr := h.Destroy(ctx); derr != nil {
			b.logger.Warn("bootstrap: destroy after failed mount", "tool_id", a.toolID, "error", derr)
		}
		return rerr
	}

	a.handle = h
	b.mu.Lock()
	a.st.handle, a.st.toolID = h, a.toolID
	b.mu.Unlock()
	return nil
}

// heal runs the Healer for a failed import or mount. A nil return means the
// attempt continues, mounted or with a fallback rendered.
func (a *attempt) heal(ctx context.Context, cause *RuntimeError) *RuntimeError {
	b := a.b
	if rerr := a.enter(ctx, StateHealing); rerr != nil {
		return rerr
	}
	b.obs.Record(a.toolID, observer.EventHealingAttempt, map[string]any{
		"attemptId": a.id,
		"stage":     string(cause.Stage),
		"message":   cause.Message,
	})
	if b.strict {
		return &RuntimeError{
			Code: CodeStrictMode, Stage: StateHealing, ToolID: a.toolID,
			Message: "healing refused: " + cause.Message,
			Cause:   cause,
		}
	}

	var err error
	if b.healer == nil {
		err = fmt.Errorf("no healer configured: %w", cause)
	} else {
		err = safeHeal(ctx, b.healer, HealRequest{
			ToolID: a.toolID,
			Root:   a.root,
			Stage:  cause.Stage,
			Err:    cause,
			Retry: func(ctx context.Context) error {
				if rerr := a.mountModule(ctx); rerr != nil {
					return rerr
				}
				return nil
			},
		})
	}
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrAborted) {
		var rerr *RuntimeError
		if errors.As(err, &rerr) {
			return rerr
		}
		return &RuntimeError{Code: CodeAborted, Stage: StateHealing, ToolID: a.toolID, Message: err.Error(), Cause: err}
	}

	a.fail(observer.EventHealingFailure, CodeHealingFailed, StateHealing, err, nil)
	a.renderFallback(err)
	return nil
}

func safeHeal(ctx context.Context, h Healer, req HealRequest) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("bootstrap: healer panicked: %v", r)
		}
	}()
	return h.Heal(ctx, req)
}

func (a *attempt) renderFallback(cause error) {
	b := a.b
	var rendered bool
	b.tree(func() {
		dom.SetStatus(a.root, dom.StatusError, fallbackMessage)
		rendered = dom.RenderFallback(a.root, a.toolID, fallbackMessage)
	})
	a.fallback = true
	b.obs.Record(a.toolID, observer.EventFallbackRendered, map[string]any{
		"attemptId": a.id,
		"rendered":  rendered,
		"message":   cause.Error(),
	})
}

func (a *attempt) postValidate() {
	var status string
	a.b.tree(func() {
		if !dom.Validate(a.root, a.toolID).Valid {
			if _, err := dom.Adapt(a.root, a.toolID); err != nil {
				a.b.logger.Warn("bootstrap: post-mount adaptation failed", "tool_id", a.toolID, "error", err)
			}
		}
		status = dom.StatusState(a.root)
		if status != dom.StatusFallback && status != dom.StatusError {
			dom.SetStatus(a.root, dom.StatusReady, "")
		}
	})
	if status == dom.StatusFallback {
		a.fallback = true
	}
}

func (a *attempt) complete() Result {
	b := a.b
	m := a.manifest
	outcome := observer.OutcomeHealthy
	state := StateHealthy
	if a.fallback || m.IsFallback() {
		outcome = observer.OutcomeFallback
		state = StateFallbackRendered
	}
	compat := observer.ClassifyCompatibility(m.Source, a.contract.LifecycleCompliant(), strings.TrimSpace(m.ModulePath) != "")
	if compat != observer.CompatibilityModern {
		b.obs.Record(a.toolID, observer.EventCompatibilityMode, map[string]any{
			"attemptId":     a.id,
			"compatibility": string(compat),
			"mode":          a.mode,
		})
	}

	elapsed := time.Since(a.start)
	mounted := a.handle != nil
	b.obs.RecordDuration(a.toolID, observer.EventBootstrapComplete, elapsed, map[string]any{
		"attemptId":      a.id,
		"outcome":        outcome,
		"compatibility":  string(compat),
		"mode":           a.mode,
		"manifestSource": m.Source,
		"mounted":        mounted,
		"executable":     a.execOnly,
	})

	if outcome == observer.OutcomeFallback && a.firstErr != nil {
		b.setLastError(a, a.firstErr)
	}
	b.noteFinished(a, state, elapsed)

	return Result{
		ToolID:         a.toolID,
		AttemptID:      a.id,
		State:          state,
		Outcome:        outcome,
		Mode:           a.mode,
		Compatibility:  compat,
		ManifestSource: m.Source,
		Mounted:        mounted,
		Executable:     a.execOnly,
		DurationMS:     ms(elapsed),
	}
}

// teardown destroys whatever this attempt mounted.
func (a *attempt) teardown(ctx context.Context) {
	b := a.b
	b.mu.Lock()
	if a.handle != nil && a.st.handle == a.handle {
		a.st.handle = nil
	}
	if a.execOnly {
		a.st.execOnly = false
	}
	b.mu.Unlock()

	if a.execOnly {
		b.bridge.Unregister(a.toolID)
	}
	if a.handle != nil {
		// The attempt's context may already be done.
		if err := a.handle.Destroy(context.WithoutCancel(ctx)); err != nil {
			b.logger.Warn("bootstrap: destroy of stale instance failed", "tool_id", a.toolID, "error", err)
		}
	}
	a.handle, a.execOnly = nil, false
}

func (a *attempt) abort(ctx context.Context, rerr *RuntimeError) (Result, error) {
	b := a.b
	a.teardown(ctx)
	elapsed := time.Since(a.start)
	b.obs.RecordDuration(a.toolID, observer.EventBootstrapAborted, elapsed, map[string]any{
		"attemptId": a.id,
		"stage":     string(rerr.Stage),
		"reason":    rerr.Message,
	})
	b.logger.Info("bootstrap: attempt aborted", "tool_id", a.toolID, "stage", rerr.Stage, "reason", rerr.Message)
	b.noteFinished(a, StateAborted, elapsed)
	return Result{
		ToolID:     a.toolID,
		AttemptID:  a.id,
		State:      StateAborted,
		Mode:       a.mode,
		DurationMS: ms(elapsed),
	}, rerr
}

func (a *attempt) violate(ctx context.Context, stage State, cause error) (Result, error) {
	b := a.b
	if cause == nil {
		cause = errors.New("strict mode")
	}
	rerr := &RuntimeError{
		Code:    CodeStrictMode,
		Stage:   stage,
		ToolID:  a.toolID,
		Message: cause.Error(),
		Cause:   errors.Join(ErrStrictMode, cause),
	}
	b.obs.Record(a.toolID, observer.EventStrictModeViolation, map[string]any{
		"attemptId": a.id,
		"stage":     string(stage),
		"message":   rerr.Message,
	})
	a.teardown(ctx)
	b.tree(func() { dom.SetStatus(a.root, dom.StatusError, rerr.Message) })
	b.setLastError(a, rerr)

	elapsed := time.Since(a.start)
	b.obs.RecordDuration(a.toolID, observer.EventBootstrapAborted, elapsed, map[string]any{
		"attemptId": a.id,
		"stage":     string(stage),
		"reason":    "strict_mode",
	})
	b.noteFinished(a, StateAborted, elapsed)
	return Result{
		ToolID:     a.toolID,
		AttemptID:  a.id,
		State:      StateAborted,
		Mode:       a.mode,
		DurationMS: ms(elapsed),
	}, rerr
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
