//go:build integration

// Package integration contains end-to-end tests that wire the runtime to a
// manifest service and a persistent event store. These tests are excluded
// from normal `go test ./...` runs:
//
//	go test -tags=integration ./tests/integration/... -v -count=1
package integration

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/petal-labs/toolmount/bus"
	"github.com/petal-labs/toolmount/dom"
	"github.com/petal-labs/toolmount/observer"
)

// isCI returns true when running inside a CI environment.
func isCI() bool {
	for _, key := range []string{"CI", "GITHUB_ACTIONS", "CIRCLECI", "TRAVIS"} {
		if os.Getenv(key) != "" {
			return true
		}
	}
	return false
}

// requireEnv returns the value of key. It fatals in CI (the variable should
// always be present) and skips locally.
func requireEnv(t *testing.T, key string) string {
	t.Helper()
	val := strings.TrimSpace(os.Getenv(key))
	if val != "" {
		return val
	}
	if isCI() {
		t.Fatalf("required variable %s is not set in CI", key)
	}
	t.Skipf("%s not set, skipping integration test", key)
	return ""
}

// parsePage parses markup into a document.
func parsePage(t *testing.T, markup string) *dom.Document {
	t.Helper()
	doc, err := dom.ParseDocument(strings.NewReader(markup), dom.DocumentConfig{})
	if err != nil {
		t.Fatalf("ParseDocument: %v", err)
	}
	return doc
}

// newSQLiteStore opens an event store in a temp directory.
func newSQLiteStore(t *testing.T) *bus.SQLiteEventStore {
	t.Helper()
	store, err := bus.NewSQLiteEventStore(bus.SQLiteStoreConfig{
		DSN: filepath.Join(t.TempDir(), "events.db"),
	})
	if err != nil {
		t.Fatalf("NewSQLiteEventStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// eventNames lists the event names of events in order.
func eventNames(events []observer.Event) []string {
	names := make([]string, 0, len(events))
	for _, ev := range events {
		names = append(names, ev.Event)
	}
	return names
}
