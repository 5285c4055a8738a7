package manifest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/petal-labs/toolmount/fetch"
)

// HTTPConfig configures an HTTPSource.
type HTTPConfig struct {
	// ManifestEndpoint and TemplateEndpoint are base URLs; the tool id is
	// appended as a path segment.
	ManifestEndpoint string
	TemplateEndpoint string

	Client *http.Client

	// FailureThreshold is the number of consecutive transport or 5xx
	// failures that opens the breaker. Default 5.
	FailureThreshold uint32

	// OpenTimeout is how long the breaker stays open. Default 30s.
	OpenTimeout time.Duration

	Logger *slog.Logger
}

// HTTPSource fetches manifests and templates from a service. Both endpoints
// share one circuit breaker, so a dead service fails fast.
type HTTPSource struct {
	manifestBase string
	templateBase string
	client       *http.Client
	breaker      *gobreaker.CircuitBreaker
	logger       *slog.Logger
}

// NewHTTPSource creates an HTTP source.
func NewHTTPSource(cfg HTTPConfig) *HTTPSource {
	if cfg.Client == nil {
		cfg.Client = fetch.Client(0)
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger
	threshold := cfg.FailureThreshold

	return &HTTPSource{
		manifestBase: strings.TrimRight(cfg.ManifestEndpoint, "/"),
		templateBase: strings.TrimRight(cfg.TemplateEndpoint, "/"),
		client:       cfg.Client,
		logger:       logger,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "manifest-service",
			Timeout: cfg.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			IsSuccessful: func(err error) bool {
				return err == nil || !tripping(err)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("manifest: circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			},
		}),
	}
}

// tripping reports whether err reflects an unhealthy service rather than a
// missing record.
func tripping(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *fetch.StatusError
	if errors.As(err, &se) {
		return se.Status >= http.StatusInternalServerError
	}
	return true
}

// BreakerState returns the breaker state name.
func (s *HTTPSource) BreakerState() string {
	return s.breaker.State().String()
}

// Manifest fetches GET {manifestEndpoint}/{id}.
func (s *HTTPSource) Manifest(ctx context.Context, toolID string) (Manifest, error) {
	if s.manifestBase == "" {
		return Manifest{}, fmt.Errorf("%w: no manifest endpoint configured", ErrManifestUnavailable)
	}
	body, err := s.get(ctx, s.manifestBase, toolID, "application/json")
	if err != nil {
		return Manifest{}, fmt.Errorf("%w: %s: %v", ErrManifestUnavailable, toolID, err)
	}
	return Decode(body, toolID)
}

// Template fetches GET {templateEndpoint}/{id}.
func (s *HTTPSource) Template(ctx context.Context, toolID string) (string, error) {
	if s.templateBase == "" {
		return "", fmt.Errorf("%w: no template endpoint configured", ErrTemplateUnavailable)
	}
	body, err := s.get(ctx, s.templateBase, toolID, "text/html")
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrTemplateUnavailable, toolID, err)
	}
	return string(body), nil
}

func (s *HTTPSource) get(ctx context.Context, base, toolID, accept string) ([]byte, error) {
	target := base + "/" + url.PathEscape(strings.TrimSpace(toolID))
	out, err := s.breaker.Execute(func() (interface{}, error) {
		return fetch.Get(ctx, s.client, target, accept)
	})
	if err != nil {
		return nil, err
	}
	return out.([]byte), nil
}
