// Package deps loads a tool's external scripts and stylesheets into the
// document head. A failing resource is reported and skipped; it never fails
// the caller.
package deps

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/net/html"

	"github.com/petal-labs/toolmount/dom"
	"github.com/petal-labs/toolmount/fetch"
	"github.com/petal-labs/toolmount/observer"
)

// Kind distinguishes scripts from stylesheets.
type Kind string

const (
	KindScript Kind = "script"
	KindStyle  Kind = "style"
)

// Config configures a Loader.
type Config struct {
	Document *dom.Document
	Client   *http.Client

	// BaseURL resolves relative resource paths.
	BaseURL string

	Observer *observer.Observer
	Logger   *slog.Logger
}

// Request lists the resources of one tool.
type Request struct {
	ToolSlug     string
	Dependencies []string
	Styles       []string
}

// Report summarizes a Load call by resolved URL.
type Report struct {
	Loaded  []string `json:"loaded,omitempty"`
	Skipped []string `json:"skipped,omitempty"`
	Failed  []string `json:"failed,omitempty"`
}

// OK reports whether every resource is available.
func (r Report) OK() bool { return len(r.Failed) == 0 }

type resourceState int

const (
	stateLoading resourceState = iota
	stateLoaded
	stateFailed
)

type resource struct {
	state resourceState
	done  chan struct{}
}

// Loader loads resources at most once per page session. Failed resources
// are not retried.
type Loader struct {
	doc    *dom.Document
	client *http.Client
	base   *url.URL
	obs    *observer.Observer
	logger *slog.Logger

	mu        sync.Mutex
	resources map[string]*resource
}

// NewLoader creates a loader.
func NewLoader(cfg Config) *Loader {
	if cfg.Client == nil {
		cfg.Client = fetch.Client(0)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	l := &Loader{
		doc:       cfg.Document,
		client:    cfg.Client,
		obs:       cfg.Observer,
		logger:    cfg.Logger,
		resources: make(map[string]*resource),
	}
	if cfg.BaseURL != "" {
		if u, err := url.Parse(cfg.BaseURL); err == nil {
			l.base = u
		} else {
			cfg.Logger.Warn("deps: ignoring invalid base URL", "base_url", cfg.BaseURL, "error", err)
		}
	}
	return l
}

// Load fetches and injects every resource in req, in order, scripts first.
func (l *Loader) Load(ctx context.Context, req Request) Report {
	var report Report
	for _, p := range req.Dependencies {
		l.loadOne(ctx, req.ToolSlug, KindScript, p, &report)
	}
	for _, p := range req.Styles {
		l.loadOne(ctx, req.ToolSlug, KindStyle, p, &report)
	}
	return report
}

// Resolve returns the identity of a resource path.
func (l *Loader) Resolve(path string) string {
	path = strings.TrimSpace(path)
	u, err := url.Parse(path)
	if err != nil {
		return path
	}
	if l.base != nil {
		u = l.base.ResolveReference(u)
	}
	return u.String()
}

func (l *Loader) loadOne(ctx context.Context, slug string, kind Kind, path string, report *Report) {
	if strings.TrimSpace(path) == "" {
		return
	}
	id := l.Resolve(path)

	l.mu.Lock()
	if r, ok := l.resources[id]; ok {
		l.mu.Unlock()
		select {
		case <-r.done:
		case <-ctx.Done():
		}
		l.mu.Lock()
		state := r.state
		l.mu.Unlock()
		if state == stateLoaded {
			report.Skipped = append(report.Skipped, id)
		} else {
			report.Failed = append(report.Failed, id)
		}
		return
	}
	r := &resource{state: stateLoading, done: make(chan struct{})}
	l.resources[id] = r
	l.mu.Unlock()

	if l.present(kind, id) {
		l.finish(r, stateLoaded)
		report.Skipped = append(report.Skipped, id)
		return
	}

	accept := "*/*"
	if kind == KindStyle {
		accept = "text/css,*/*;q=0.1"
	}
	if _, err := fetch.Get(ctx, l.client, id, accept); err != nil {
		l.finish(r, stateFailed)
		report.Failed = append(report.Failed, id)
		l.logger.Warn("deps: resource failed", "tool", slug, "url", id, "error", err)
		l.obs.Record(slug, observer.EventDependencyFailure, map[string]any{
			"stage":    "dependency_loading",
			"resource": id,
			"kind":     string(kind),
			"message":  err.Error(),
			"severity": "warning",
		})
		return
	}

	l.inject(slug, kind, id)
	l.finish(r, stateLoaded)
	report.Loaded = append(report.Loaded, id)
	l.obs.Record(slug, observer.EventDependencyLoaded, map[string]any{"resource": id, "kind": string(kind)})
}

func (l *Loader) finish(r *resource, state resourceState) {
	l.mu.Lock()
	r.state = state
	l.mu.Unlock()
	close(r.done)
}

// present reports whether the document already references id.
func (l *Loader) present(kind Kind, id string) bool {
	if l.doc == nil {
		return false
	}
	found := false
	l.doc.WithTree(func() {
		found = dom.Find(l.doc.Node(), func(n *html.Node) bool {
			if kind == KindScript && n.Data == "script" {
				src, ok := dom.GetAttr(n, "src")
				return ok && l.Resolve(src) == id
			}
			if kind == KindStyle && n.Data == "link" {
				href, ok := dom.GetAttr(n, "href")
				return ok && l.Resolve(href) == id
			}
			return false
		}) != nil
	})
	return found
}

func (l *Loader) inject(slug string, kind Kind, id string) {
	if l.doc == nil {
		return
	}
	var el *html.Node
	if kind == KindScript {
		el = dom.NewElement("script", dom.Attr("src", id), dom.Attr(dom.AttrDependency, slug))
	} else {
		el = dom.NewElement("link", dom.Attr("rel", "stylesheet"), dom.Attr("href", id), dom.Attr(dom.AttrStyle, slug))
	}
	l.doc.WithTree(func() {
		l.doc.Head().AppendChild(el)
	})
}
