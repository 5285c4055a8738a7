package bootstrap

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"golang.org/x/net/html"

	"github.com/petal-labs/toolmount/dom"
	"github.com/petal-labs/toolmount/kernel"
	"github.com/petal-labs/toolmount/lifecycle"
	"github.com/petal-labs/toolmount/manifest"
	"github.com/petal-labs/toolmount/observer"
	"github.com/petal-labs/toolmount/registry"
)

const validRoot = `<div data-tool-id="json" data-tool-root="true">` +
	`<div data-tool-context></div><textarea data-tool-input></textarea>` +
	`<div data-tool-status></div><div data-tool-output><p>server output</p></div>` +
	`<div data-tool-followup></div></div>`

// fakeSource serves manifests from a map; unknown ids fail.
type fakeSource struct {
	manifests map[string]manifest.Manifest
	templates map[string]string
	onResolve func(id string)
}

func (s *fakeSource) Manifest(_ context.Context, id string) (manifest.Manifest, error) {
	if s.onResolve != nil {
		s.onResolve(id)
	}
	m, ok := s.manifests[id]
	if !ok {
		return manifest.Manifest{}, manifest.ErrManifestUnavailable
	}
	m.Source = manifest.SourceReal
	return m, nil
}

func (s *fakeSource) Template(_ context.Context, id string) (string, error) {
	t, ok := s.templates[id]
	if !ok {
		return "", manifest.ErrTemplateUnavailable
	}
	return t, nil
}

// countingModule is a full-lifecycle module that counts its hooks and
// registers a listener and a keyboard handler on create.
type countingModule struct {
	creates, inits, destroys atomic.Int32
	onInit                   func(ec *lifecycle.ExecutionContext)
}

func (m *countingModule) Create(_ context.Context, ec *lifecycle.ExecutionContext) error {
	m.creates.Add(1)
	ec.AddEventListener("click", func(dom.Event) {})
	ec.RegisterKeyboardHandler(func(dom.Event) {})
	return nil
}

func (m *countingModule) Init(_ context.Context, ec *lifecycle.ExecutionContext) error {
	m.inits.Add(1)
	if m.onInit != nil {
		m.onInit(ec)
	}
	return nil
}

func (m *countingModule) Destroy(context.Context) error {
	m.destroys.Add(1)
	return nil
}

type fixture struct {
	doc  *dom.Document
	root *html.Node
	obs  *observer.Observer
	kern *kernel.Kernel
	reg  *registry.Registry
	src  *fakeSource
}

func newFixture(t *testing.T, rootMarkup string) *fixture {
	t.Helper()
	doc, err := dom.ParseDocument(strings.NewReader("<body>"+rootMarkup+"</body>"), dom.DocumentConfig{})
	if err != nil {
		t.Fatalf("ParseDocument: %v", err)
	}
	roots := doc.Roots()
	if len(roots) == 0 {
		t.Fatal("no roots in markup")
	}
	return &fixture{
		doc:  doc,
		root: roots[0],
		obs:  observer.New(observer.Config{}),
		kern: kernel.New(kernel.Config{}),
		reg:  registry.NewWithBuiltins(),
		src: &fakeSource{
			manifests: map[string]manifest.Manifest{},
			templates: map[string]string{},
		},
	}
}

func (f *fixture) bootstrapper(mod func(*Config)) *Bootstrapper {
	cfg := Config{
		Document:  f.doc,
		Kernel:    f.kern,
		Observer:  f.obs,
		Manifests: f.src,
		Importer:  f.reg,
		Legacy:    lifecycle.NewLegacyRegistry(),
	}
	if mod != nil {
		mod(&cfg)
	}
	return New(cfg)
}

func eventNames(obs *observer.Observer, slug string) []string {
	var names []string
	for _, ev := range obs.Events(slug) {
		names = append(names, ev.Event)
	}
	return names
}

func hasEvent(obs *observer.Observer, slug, name string) bool {
	for _, n := range eventNames(obs, slug) {
		if n == name {
			return true
		}
	}
	return false
}

func TestBootstrap_HealthyFullLifecycle(t *testing.T) {
	f := newFixture(t, validRoot)
	mod := &countingModule{}
	f.reg.RegisterModule("tools/json", mod)
	f.src.manifests["json"] = manifest.Manifest{ID: "json", ModulePath: "tools/json"}

	res, err := f.bootstrapper(nil).Bootstrap(context.Background(), f.root)
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if res.State != StateHealthy || res.Outcome != observer.OutcomeHealthy {
		t.Fatalf("result = %+v", res)
	}
	if res.Compatibility != observer.CompatibilityModern {
		t.Errorf("compatibility = %q", res.Compatibility)
	}
	if mod.creates.Load() != 1 || mod.inits.Load() != 1 {
		t.Errorf("creates=%d inits=%d", mod.creates.Load(), mod.inits.Load())
	}
	if got := f.kern.LifecycleState("json", f.root); got != kernel.StateInitialized {
		t.Errorf("kernel state = %q", got)
	}
	if got := dom.StatusState(f.root); got != dom.StatusReady {
		t.Errorf("status = %q", got)
	}
	if hasEvent(f.obs, "json", observer.EventCompatibilityMode) {
		t.Error("modern mount recorded compatibility_mode")
	}
}

func TestBootstrap_ManifestFailureMountsFallback(t *testing.T) {
	f := newFixture(t, `<div data-tool-id="json"></div>`)
	b := f.bootstrapper(nil)

	res, err := b.Bootstrap(context.Background(), f.root)
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if res.Outcome != observer.OutcomeFallback || res.State != StateFallbackRendered {
		t.Fatalf("result = %+v", res)
	}
	if res.ManifestSource != manifest.SourceFallback {
		t.Errorf("manifest source = %q", res.ManifestSource)
	}
	if !hasEvent(f.obs, "json", observer.EventManifestFailure) {
		t.Error("manifest_failure not recorded")
	}
	if got := dom.StatusState(f.root); got != dom.StatusFallback {
		t.Errorf("status = %q, want fallback", got)
	}
	if dom.Find(f.root, dom.ByAttr(dom.AttrFallback)) == nil {
		t.Error("fallback panel not rendered into empty root")
	}
	last := b.LastError()
	if last == nil || last.Code != CodeManifestUnavailable {
		t.Fatalf("LastError = %+v", last)
	}
	if last.Category != observer.CategoryManifestMissing {
		t.Errorf("category = %q", last.Category)
	}
	if got := b.ObservabilitySnapshot().Totals.FallbackMounts; got != 1 {
		t.Errorf("snapshot fallback mounts = %d", got)
	}
}

func TestBootstrap_ImportFailureKeepsServerContent(t *testing.T) {
	f := newFixture(t, validRoot)
	f.src.manifests["json"] = manifest.Manifest{ID: "json", ModulePath: "tools/missing"}
	b := f.bootstrapper(nil)

	res, err := b.Bootstrap(context.Background(), f.root)
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if res.Outcome != observer.OutcomeFallback {
		t.Fatalf("outcome = %q", res.Outcome)
	}
	for _, want := range []string{
		observer.EventModuleImportFailure,
		observer.EventHealingAttempt,
		observer.EventHealingFailure,
		observer.EventFallbackRendered,
	} {
		if !hasEvent(f.obs, "json", want) {
			t.Errorf("missing event %q in %v", want, eventNames(f.obs, "json"))
		}
	}
	if dom.Find(f.root, dom.ByAttr(dom.AttrFallback)) != nil {
		t.Error("fallback panel rendered over server content")
	}
	if !strings.Contains(dom.TextContent(f.root), "server output") {
		t.Error("server content was replaced")
	}
	if got := dom.StatusState(f.root); got != dom.StatusError {
		t.Errorf("status = %q, want error", got)
	}
	if last := b.LastError(); last == nil || last.Code != CodeModuleImport {
		t.Errorf("LastError = %+v", last)
	}
}

func TestBootstrap_RetryHealerRecovers(t *testing.T) {
	f := newFixture(t, validRoot)
	mod := &countingModule{}
	var calls atomic.Int32
	f.reg.Register(registry.ModuleDef{Path: "tools/flaky", Factory: func() (any, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("transient")
		}
		return mod, nil
	}})
	f.src.manifests["json"] = manifest.Manifest{ID: "json", ModulePath: "tools/flaky"}
	b := f.bootstrapper(func(c *Config) { c.Healer = RetryHealer(2) })

	res, err := b.Bootstrap(context.Background(), f.root)
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if res.State != StateHealthy || !res.Mounted {
		t.Fatalf("result = %+v", res)
	}
	if mod.inits.Load() != 1 {
		t.Errorf("inits = %d", mod.inits.Load())
	}
	if hasEvent(f.obs, "json", observer.EventHealingFailure) {
		t.Error("healing_failure recorded after successful retry")
	}
}

func TestBootstrap_ExecutionOnlyNeverInvoked(t *testing.T) {
	f := newFixture(t, validRoot)
	var invoked atomic.Bool
	f.reg.RegisterModule("tools/exec", lifecycle.RunToolFunc(func(context.Context, string, string) (any, error) {
		invoked.Store(true)
		return nil, nil
	}))
	f.src.manifests["json"] = manifest.Manifest{ID: "json", ModulePath: "tools/exec"}
	b := f.bootstrapper(nil)

	res, err := b.Bootstrap(context.Background(), f.root)
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if invoked.Load() {
		t.Fatal("RunTool was called during mount")
	}
	if res.Mode != lifecycle.ModeExecutionOnly || res.Mounted || !res.Executable {
		t.Errorf("result = %+v, want unmounted and executable", res)
	}
	if d := b.Diagnostics(); d.MountedRoots != 0 {
		t.Errorf("mounted roots = %d, want 0", d.MountedRoots)
	}
	if !b.Bridge().Has("json") {
		t.Error("execution-only module not registered on the bridge")
	}
	if !hasEvent(f.obs, "json", observer.EventExecutionOnlyMount) {
		t.Error("execution_only_mount not recorded")
	}
	if got := f.kern.RegisteredToolCount(); got != 0 {
		t.Errorf("kernel count = %d, want 0", got)
	}
}

func TestBootstrap_StrictMode(t *testing.T) {
	tests := []struct {
		name      string
		manifests map[string]manifest.Manifest
		stage     State
	}{
		{name: "fallback manifest", stage: StateManifestResolving},
		{
			name:      "execution only",
			manifests: map[string]manifest.Manifest{"json": {ID: "json", ModulePath: registry.EchoPath}},
			stage:     StateModuleImporting,
		},
		{
			name:      "healing",
			manifests: map[string]manifest.Manifest{"json": {ID: "json", ModulePath: "tools/missing"}},
			stage:     StateHealing,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, validRoot)
			if tc.manifests != nil {
				f.src.manifests = tc.manifests
			}
			b := f.bootstrapper(func(c *Config) { c.StrictMode = true })

			res, err := b.Bootstrap(context.Background(), f.root)
			if !errors.Is(err, ErrStrictMode) {
				t.Fatalf("err = %v, want ErrStrictMode", err)
			}
			var rerr *RuntimeError
			if !errors.As(err, &rerr) || rerr.Stage != tc.stage {
				t.Errorf("runtime error = %+v, want stage %q", rerr, tc.stage)
			}
			if res.State != StateAborted {
				t.Errorf("state = %q", res.State)
			}
			if !hasEvent(f.obs, "json", observer.EventStrictModeViolation) {
				t.Error("strict_mode_violation not recorded")
			}
			if b.Bridge().Has("json") {
				t.Error("strict mode registered an execution-only module")
			}
		})
	}
}

func TestBootstrap_CoalescesConcurrentCalls(t *testing.T) {
	f := newFixture(t, validRoot)
	f.reg.RegisterModule("tools/json", &countingModule{})
	f.src.manifests["json"] = manifest.Manifest{ID: "json", ModulePath: "tools/json"}

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.src.onResolve = func(string) {
		once.Do(func() {
			close(entered)
			<-release
		})
	}
	b := f.bootstrapper(nil)

	done := make(chan Result)
	go func() {
		res, _ := b.Bootstrap(context.Background(), f.root)
		done <- res
	}()
	<-entered

	dup, err := b.Bootstrap(context.Background(), f.root)
	if err != nil {
		t.Fatalf("duplicate Bootstrap: %v", err)
	}
	if dup.State != StateSkipped {
		t.Errorf("duplicate state = %q, want skipped", dup.State)
	}
	close(release)
	first := <-done
	if first.State != StateHealthy {
		t.Errorf("first state = %q", first.State)
	}
	if dup.AttemptID == "" || dup.AttemptID != first.AttemptID {
		t.Errorf("duplicate joined attempt %q, want %q", dup.AttemptID, first.AttemptID)
	}
	for _, e := range f.obs.Events("json") {
		if e.Event == observer.EventBootstrapSkipped && e.String("attemptId") != first.AttemptID {
			t.Errorf("bootstrap_skipped attemptId = %q, want %q", e.String("attemptId"), first.AttemptID)
		}
	}

	d := b.Diagnostics()
	if d.BootCount != 1 || d.SkippedDuplicateBoots != 1 || d.Completed != 1 {
		t.Errorf("diagnostics = %+v", d)
	}
	if !hasEvent(f.obs, "json", observer.EventBootstrapSkipped) {
		t.Error("bootstrap_skipped not recorded")
	}
}

func TestBootstrap_RemountCleansUpOnce(t *testing.T) {
	f := newFixture(t, validRoot)
	first := &countingModule{}
	second := &countingModule{}
	var n atomic.Int32
	f.reg.Register(registry.ModuleDef{Path: "tools/json", Factory: func() (any, error) {
		if n.Add(1) == 1 {
			return first, nil
		}
		return second, nil
	}})
	f.src.manifests["json"] = manifest.Manifest{ID: "json", ModulePath: "tools/json"}
	b := f.bootstrapper(nil)
	ctx := context.Background()

	if _, err := b.Bootstrap(ctx, f.root); err != nil {
		t.Fatalf("first Bootstrap: %v", err)
	}
	if _, err := b.Bootstrap(ctx, f.root); err != nil {
		t.Fatalf("second Bootstrap: %v", err)
	}
	if got := first.destroys.Load(); got != 1 {
		t.Errorf("first instance destroyed %d times, want 1", got)
	}
	if got := second.inits.Load(); got != 1 {
		t.Errorf("second instance inits = %d", got)
	}
	if got := f.kern.RegisteredToolCount(); got != 1 {
		t.Errorf("kernel count = %d, want 1", got)
	}

	if err := b.Unmount(ctx, f.root); err != nil {
		t.Fatalf("Unmount: %v", err)
	}
	if got := first.destroys.Load(); got != 1 {
		t.Errorf("first instance destroyed again: %d", got)
	}
	if got := second.destroys.Load(); got != 1 {
		t.Errorf("second instance destroys = %d", got)
	}
}

// freshRoot parses markup into a new root element and attaches it to the
// fixture's document body.
func (f *fixture) freshRoot(t *testing.T, markup string) *html.Node {
	t.Helper()
	scratch, err := dom.ParseDocument(strings.NewReader("<body>"+markup+"</body>"), dom.DocumentConfig{})
	if err != nil {
		t.Fatalf("ParseDocument: %v", err)
	}
	roots := scratch.Roots()
	if len(roots) == 0 {
		t.Fatal("no roots in markup")
	}
	f.doc.WithTree(func() { dom.Move(roots[0], f.doc.Body()) })
	return roots[0]
}

func TestBootstrap_MountUnmountCyclesLeaveNothingBehind(t *testing.T) {
	f := newFixture(t, validRoot)
	mod := &countingModule{}
	f.reg.RegisterModule("tools/json", mod)
	f.src.manifests["json"] = manifest.Manifest{ID: "json", ModulePath: "tools/json"}
	b := f.bootstrapper(nil)
	ctx := context.Background()

	f.doc.WithTree(func() { dom.Detach(f.root) })

	const cycles = 50
	for i := 0; i < cycles; i++ {
		root := f.freshRoot(t, validRoot)
		res, err := b.Bootstrap(ctx, root)
		if err != nil {
			t.Fatalf("cycle %d Bootstrap: %v", i, err)
		}
		if !res.Mounted {
			t.Fatalf("cycle %d: root not mounted: %+v", i, res)
		}
		if err := b.Unmount(ctx, root); err != nil {
			t.Fatalf("cycle %d Unmount: %v", i, err)
		}
		f.doc.WithTree(func() { dom.Detach(root) })
	}

	if got := len(f.doc.Roots()); got != 0 {
		t.Errorf("roots left in document = %d", got)
	}
	if got := f.kern.RegisteredToolCount(); got != 0 {
		t.Errorf("kernel count = %d", got)
	}
	if got := f.doc.ListenerCount("click"); got != 0 {
		t.Errorf("click listeners = %d", got)
	}
	if got := b.keyboard.RegisteredHandlerCount(); got != 0 {
		t.Errorf("keyboard handlers = %d", got)
	}
	if got := b.keyboard.ActiveGlobalListenerCount(); got != 0 {
		t.Errorf("global keyboard listeners = %d", got)
	}
	b.mu.Lock()
	tracked := len(b.roots)
	b.mu.Unlock()
	if tracked != 0 {
		t.Errorf("tracked roots = %d", tracked)
	}
	if mod.creates.Load() != cycles || mod.destroys.Load() != cycles {
		t.Errorf("creates=%d destroys=%d", mod.creates.Load(), mod.destroys.Load())
	}
	if d := b.Diagnostics(); d.MountedRoots != 0 || d.Completed != cycles || d.BootCount != cycles {
		t.Errorf("diagnostics = %+v", d)
	}
}

func TestBootstrap_RootDetachedBeforeTemplate(t *testing.T) {
	f := newFixture(t, `<div data-tool-id="json"></div>`)
	f.src.manifests["json"] = manifest.Manifest{ID: "json", ModulePath: "tools/json"}
	f.src.templates["json"] = `<p>template</p>`
	f.src.onResolve = func(string) {
		f.doc.WithTree(func() { dom.Detach(f.root) })
	}
	b := f.bootstrapper(nil)

	res, err := b.Bootstrap(context.Background(), f.root)
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("err = %v, want ErrAborted", err)
	}
	if res.State != StateAborted {
		t.Errorf("state = %q", res.State)
	}
	if dom.HasContent(f.root) {
		t.Error("template inserted into detached root")
	}
	if !hasEvent(f.obs, "json", observer.EventBootstrapAborted) {
		t.Error("bootstrap_aborted not recorded")
	}
	if d := b.Diagnostics(); d.Aborted != 1 {
		t.Errorf("aborted = %d", d.Aborted)
	}
}

func TestBootstrap_RootDetachedDuringMountDestroysInstance(t *testing.T) {
	f := newFixture(t, validRoot)
	mod := &countingModule{}
	mod.onInit = func(ec *lifecycle.ExecutionContext) {
		ec.Document.WithTree(func() { dom.Detach(ec.Root()) })
	}
	f.reg.RegisterModule("tools/json", mod)
	f.src.manifests["json"] = manifest.Manifest{ID: "json", ModulePath: "tools/json"}
	b := f.bootstrapper(nil)

	_, err := b.Bootstrap(context.Background(), f.root)
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("err = %v, want ErrAborted", err)
	}
	if got := mod.destroys.Load(); got != 1 {
		t.Errorf("destroys = %d, want 1", got)
	}
	if got := f.kern.RegisteredToolCount(); got != 0 {
		t.Errorf("kernel count = %d", got)
	}
}

func TestBootstrap_CancelledContextAborts(t *testing.T) {
	f := newFixture(t, validRoot)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.bootstrapper(nil).Bootstrap(ctx, f.root)
	if !errors.Is(err, ErrAborted) || !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if res.State != StateAborted {
		t.Errorf("state = %q", res.State)
	}
}

func TestBootstrap_PanickingSubscriberDoesNotBreakMount(t *testing.T) {
	f := newFixture(t, validRoot)
	f.reg.RegisterModule("tools/json", &countingModule{})
	f.src.manifests["json"] = manifest.Manifest{ID: "json", ModulePath: "tools/json"}
	f.obs.Subscribe(func(observer.Event) { panic("subscriber exploded") })

	res, err := f.bootstrapper(nil).Bootstrap(context.Background(), f.root)
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if res.State != StateHealthy {
		t.Errorf("state = %q", res.State)
	}
}

func TestBootstrap_TemplateLoadedIntoEmptyRootAndBound(t *testing.T) {
	f := newFixture(t, `<div data-tool-id="json"></div>`)
	f.reg.RegisterModule("tools/json", &countingModule{})
	f.src.manifests["json"] = manifest.Manifest{ID: "json", ModulePath: "tools/json"}
	f.src.templates["json"] = `<div data-tool-output><span data-bind="title"></span></div>`
	b := f.bootstrapper(func(c *Config) {
		c.ToolConfig = func(string) map[string]any { return map[string]any{"title": "JSON Formatter"} }
	})

	if _, err := b.Bootstrap(context.Background(), f.root); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if !strings.Contains(dom.TextContent(f.root), "JSON Formatter") {
		t.Error("template not bound with tool config")
	}
	if !dom.Validate(f.root, "json").Valid {
		t.Errorf("root invalid after bootstrap: %v", dom.Validate(f.root, "json").Missing)
	}
}

func TestBootstrap_NoToolID(t *testing.T) {
	f := newFixture(t, validRoot)
	plain := dom.NewElement("div")
	if _, err := f.bootstrapper(nil).Bootstrap(context.Background(), plain); !errors.Is(err, ErrNoToolID) {
		t.Errorf("err = %v, want ErrNoToolID", err)
	}
}

func TestBootstrapAll(t *testing.T) {
	f := newFixture(t, validRoot+`<div data-tool-id="other"></div>`)
	f.reg.RegisterModule("tools/json", &countingModule{})
	f.src.manifests["json"] = manifest.Manifest{ID: "json", ModulePath: "tools/json"}
	b := f.bootstrapper(nil)

	results, err := b.BootstrapAll(context.Background())
	if err != nil {
		t.Fatalf("BootstrapAll: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d", len(results))
	}
	if results[0].ToolID != "json" || results[0].Outcome != observer.OutcomeHealthy {
		t.Errorf("json result = %+v", results[0])
	}
	if results[1].ToolID != "other" || results[1].Outcome != observer.OutcomeFallback {
		t.Errorf("other result = %+v", results[1])
	}
	if d := b.Diagnostics(); d.BootCount != 2 || d.Fallbacks != 1 || len(d.Tools) != 2 {
		t.Errorf("diagnostics = %+v", d)
	}
}

func TestRuntimeErrorFormatting(t *testing.T) {
	cause := errors.New("boom")
	err := &RuntimeError{Code: CodeMountFailed, Stage: StateLifecycleMounting, ToolID: "json", Message: "boom", Cause: cause}
	if got := err.Error(); got != "MOUNT_FAILED: boom [json at lifecycle_mounting]" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(err, cause) {
		t.Error("Unwrap does not expose the cause")
	}
}
