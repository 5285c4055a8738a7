package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/toolmount/dom"
	"github.com/petal-labs/toolmount/registry"
	"github.com/petal-labs/toolmount/server"
)

// NewServeCmd creates the "serve" subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the manifest catalog, runtime diagnostics and event streams over HTTP",
		RunE:  runServe,
	}

	addRuntimeFlags(cmd)
	cmd.Flags().IntP("port", "p", 8080, "Listen port")
	cmd.Flags().String("host", "0.0.0.0", "Listen host")
	cmd.Flags().String("cors-origin", "*", "Allowed CORS origin")
	cmd.Flags().String("page", "", "Bootstrap this HTML page at startup and serve it at /page")
	cmd.Flags().String("snapshot-schedule", "", "Log the observability snapshot on this cron schedule (UTC), e.g. \"@every 1m\"")
	cmd.Flags().String("tls-cert", "", "TLS certificate file")
	cmd.Flags().String("tls-key", "", "TLS key file")
	cmd.Flags().Duration("read-timeout", 30*time.Second, "HTTP read timeout")
	cmd.Flags().Duration("write-timeout", 0, "HTTP write timeout (0 keeps event streams open)")
	cmd.Flags().Int64("max-body", 1<<20, "Max request body size in bytes")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	host, _ := cmd.Flags().GetString("host")
	port, _ := cmd.Flags().GetInt("port")
	corsOrigin, _ := cmd.Flags().GetString("cors-origin")
	pagePath, _ := cmd.Flags().GetString("page")
	snapshotSchedule, _ := cmd.Flags().GetString("snapshot-schedule")
	readTimeout, _ := cmd.Flags().GetDuration("read-timeout")
	writeTimeout, _ := cmd.Flags().GetDuration("write-timeout")
	maxBody, _ := cmd.Flags().GetInt64("max-body")
	tlsCert, _ := cmd.Flags().GetString("tls-cert")
	tlsKey, _ := cmd.Flags().GetString("tls-key")

	var doc *dom.Document
	if pagePath != "" {
		var err error
		if doc, err = loadPage(pagePath); err != nil {
			return err
		}
	}

	s, err := buildStack(cmd, doc)
	if err != nil {
		return err
	}
	defer s.close(context.Background())

	if doc != nil {
		results, err := s.runtime.BootstrapAll(cmd.Context())
		if err != nil {
			return exitError(exitRuntime, "bootstrapping %s: %v", pagePath, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Mounted %d tool root(s) from %s\n", len(results), pagePath)
	}

	if snapshotSchedule != "" {
		reporter, err := server.NewSnapshotReporter(snapshotSchedule, s.runtime.ObservabilitySnapshot, s.logger)
		if err != nil {
			return exitError(exitConfig, "snapshot schedule: %v", err)
		}
		reporter.Start()
		defer reporter.Stop()
	}

	apiServer := server.NewServer(server.ServerConfig{
		Runtime:    s.runtime,
		Manifests:  s.source,
		Modules:    registry.Global(),
		Bus:        s.bus,
		EventStore: s.store,
		CORSOrigin: corsOrigin,
		MaxBody:    maxBody,
		Logger:     s.logger,
	})

	mux := http.NewServeMux()
	apiServer.RegisterRoutes(mux)
	if doc != nil {
		mux.HandleFunc("GET /page", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			if err := doc.Render(w); err != nil {
				s.logger.Error("rendering page", "error", err)
			}
		})
	}
	handler := apiServer.Middleware(mux)

	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	// Signal handling
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(cmd.OutOrStdout(), "toolmount listening on %s\n", addr)
		if tlsCert != "" && tlsKey != "" {
			errCh <- httpServer.ListenAndServeTLS(tlsCert, tlsKey)
		} else {
			errCh <- httpServer.ListenAndServe()
		}
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(cmd.OutOrStdout(), "Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return exitError(exitRuntime, "shutdown error: %v", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return exitError(exitRuntime, "server error: %v", err)
		}
		return nil
	}
}
