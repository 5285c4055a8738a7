package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/petal-labs/toolmount/bootstrap"
	"github.com/petal-labs/toolmount/bus"
	"github.com/petal-labs/toolmount/config"
	"github.com/petal-labs/toolmount/deps"
	"github.com/petal-labs/toolmount/dom"
	"github.com/petal-labs/toolmount/execution"
	"github.com/petal-labs/toolmount/kernel"
	"github.com/petal-labs/toolmount/keyboard"
	"github.com/petal-labs/toolmount/lifecycle"
	"github.com/petal-labs/toolmount/manifest"
	"github.com/petal-labs/toolmount/observer"
	tmotel "github.com/petal-labs/toolmount/otel"
	"github.com/petal-labs/toolmount/registry"
)

// addRuntimeFlags registers the flags shared by commands that build a
// runtime.
func addRuntimeFlags(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "Path to toolmount.yaml (default: ./toolmount.yaml, then ~/.toolmount/config.yaml)")
	cmd.Flags().String("catalog", "", "Local manifest catalog (YAML or TOML); overrides the manifest endpoint")
	cmd.Flags().Bool("strict", false, "Fail instead of degrading to fallbacks")
	cmd.Flags().Int("retries", 1, "Mount retries attempted while healing (0 disables healing)")
	cmd.Flags().String("events-db", "", "Persist runtime events to this SQLite database")
	cmd.Flags().Duration("events-retention", 0, "Delete stored events older than this (0 keeps everything)")
	cmd.Flags().String("otlp-endpoint", "", "Export bootstrap traces to this OTLP/HTTP endpoint")
}

// stack is one fully wired runtime: configuration, observer subscribers,
// event distribution, telemetry and the bootstrapper.
type stack struct {
	cfg      *config.Config
	logger   *slog.Logger
	doc      *dom.Document
	obs      *observer.Observer
	bus      *bus.MemBus
	store    bus.EventStore
	source   manifest.Source
	runtime  *bootstrap.Bootstrapper
	shutdown []func(context.Context) error
}

func buildStack(cmd *cobra.Command, doc *dom.Document) (*stack, error) {
	explicitConfigPath, _ := cmd.Flags().GetString("config")
	catalogPath, _ := cmd.Flags().GetString("catalog")
	strict, _ := cmd.Flags().GetBool("strict")
	retries, _ := cmd.Flags().GetInt("retries")
	eventsDB, _ := cmd.Flags().GetString("events-db")
	retention, _ := cmd.Flags().GetDuration("events-retention")
	otlpEndpoint, _ := cmd.Flags().GetString("otlp-endpoint")
	verbose, _ := cmd.Flags().GetBool("verbose")

	configPath, _, err := config.DiscoverPath(explicitConfigPath)
	if err != nil {
		return nil, exitError(exitConfig, "%v", err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, exitError(exitConfig, "%v", err)
	}
	if strict {
		cfg.StrictMode = true
	}
	if strings.TrimSpace(catalogPath) != "" {
		cfg.Catalog = catalogPath
	}

	level := cfg.Log.Level
	if verbose {
		level = "debug"
	}
	logger := tmotel.NewLogger(cmd.ErrOrStderr(), level, cfg.Log.Format)

	s := &stack{cfg: cfg, logger: logger, doc: doc}
	if err := s.wire(cmd.Context(), retries, eventsDB, retention, otlpEndpoint); err != nil {
		s.close(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *stack) wire(ctx context.Context, retries int, eventsDB string, retention time.Duration, otlpEndpoint string) error {
	cfg := s.cfg

	if otlpEndpoint != "" {
		exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(otlpEndpoint))
		if err != nil {
			return fmt.Errorf("creating OTLP exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
		otelapi.SetTracerProvider(tp)
		s.shutdown = append(s.shutdown, tp.Shutdown)
	}

	source, err := manifestSource(cfg, s.logger)
	if err != nil {
		return exitError(exitConfig, "%v", err)
	}
	s.source = source

	s.bus = bus.NewMemBus(bus.MemBusConfig{})
	s.shutdown = append(s.shutdown, func(context.Context) error { return s.bus.Close() })
	if eventsDB != "" {
		es, err := bus.NewSQLiteEventStore(bus.SQLiteStoreConfig{DSN: eventsDB, RetentionAge: retention})
		if err != nil {
			return fmt.Errorf("opening sqlite event store: %w", err)
		}
		s.store = es
		s.shutdown = append(s.shutdown, func(context.Context) error { return es.Close() })
	} else {
		s.store = bus.NewMemEventStore()
	}

	store := s.store
	s.obs = observer.New(observer.Config{
		Publisher: s.bus,
		Logger:    s.logger,
		SeqStart: func(toolSlug string) uint64 {
			seq, err := store.LatestSeq(context.Background(), toolSlug)
			if err != nil {
				s.logger.Warn("reading stored sequence", "tool_slug", toolSlug, "error", err)
				return 0
			}
			return seq
		},
	})

	tracing := tmotel.NewTracingHandler(otelapi.GetTracerProvider().Tracer("toolmount/bootstrap"))
	metrics, err := tmotel.NewMetricsHandler(otelapi.GetMeterProvider().Meter("toolmount"))
	if err != nil {
		return fmt.Errorf("initializing runtime metrics: %w", err)
	}
	storeSub := bus.NewStoreSubscriber(s.store, s.logger)
	s.obs.Subscribe(tracing.Handle)
	s.obs.Subscribe(metrics.Handle)
	s.obs.Subscribe(tmotel.Enrich(storeSub.Handle, tracing))

	var healer bootstrap.Healer
	if retries > 0 {
		healer = bootstrap.RetryHealer(retries)
	}
	legacy := lifecycle.DefaultLegacy()
	loader := deps.NewLoader(deps.Config{
		Document: s.doc,
		BaseURL:  cfg.AssetBaseURL,
		Observer: s.obs,
		Logger:   s.logger,
	})
	bridge := execution.NewBridge(execution.BridgeConfig{
		Legacy:           legacy,
		Observer:         s.obs,
		SupportedActions: cfg.SupportedActions,
		Logger:           s.logger,
	})
	s.runtime = bootstrap.New(bootstrap.Config{
		Document:           s.doc,
		Kernel:             kernel.New(kernel.Config{Logger: s.logger}),
		Keyboard:           keyboardFor(s.doc, s.logger),
		Observer:           s.obs,
		Manifests:          source,
		Dependencies:       loader,
		Importer:           registry.Global(),
		Legacy:             legacy,
		Bridge:             bridge,
		Healer:             healer,
		StrictMode:         cfg.StrictMode,
		Environment:        cfg.Environment,
		FallbackModulePath: cfg.FallbackModulePath,
		ToolConfig:         cfg.ToolPayload,
		Logger:             s.logger,
	})
	return nil
}

func (s *stack) close(ctx context.Context) {
	var errs []error
	for i := len(s.shutdown) - 1; i >= 0; i-- {
		if err := s.shutdown[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		s.logger.Warn("shutdown", "error", err)
	}
}

func manifestSource(cfg *config.Config, logger *slog.Logger) (manifest.Source, error) {
	if path := strings.TrimSpace(cfg.Catalog); path != "" {
		catalog, err := manifest.LoadCatalog(path)
		if err != nil {
			return nil, err
		}
		return catalog, nil
	}
	if strings.TrimSpace(cfg.ManifestEndpoint) != "" {
		return manifest.NewHTTPSource(manifest.HTTPConfig{
			ManifestEndpoint: cfg.ManifestEndpoint,
			TemplateEndpoint: cfg.TemplateEndpoint,
			Logger:           logger,
		}), nil
	}
	return nil, nil
}

func keyboardFor(doc *dom.Document, logger *slog.Logger) *keyboard.Manager {
	if doc == nil {
		return nil
	}
	return keyboard.NewManager(doc, logger)
}

// loadPage parses an HTML page.
func loadPage(path string) (*dom.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, exitError(exitFileNotFound, "file not found: %s", path)
		}
		return nil, fmt.Errorf("opening page: %w", err)
	}
	defer f.Close()

	doc, err := dom.ParseDocument(f, dom.DocumentConfig{})
	if err != nil {
		return nil, fmt.Errorf("parsing page: %w", err)
	}
	return doc, nil
}
