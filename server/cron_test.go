package server

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/petal-labs/toolmount/observer"
)

func TestParseCronExpressionUTC_Valid(t *testing.T) {
	schedule, err := parseCronExpressionUTC("*/5 * * * *")
	if err != nil {
		t.Fatalf("parseCronExpressionUTC error: %v", err)
	}

	next := schedule.Next(time.Date(2026, 2, 20, 10, 2, 0, 0, time.UTC))
	want := time.Date(2026, 2, 20, 10, 5, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("next=%s, want=%s", next.Format(time.RFC3339), want.Format(time.RFC3339))
	}
}

func TestParseCronExpressionUTC_Descriptor(t *testing.T) {
	schedule, err := parseCronExpressionUTC("@every 30s")
	if err != nil {
		t.Fatalf("parseCronExpressionUTC error: %v", err)
	}
	from := time.Date(2026, 2, 20, 10, 0, 0, 0, time.UTC)
	if got := schedule.Next(from).Sub(from); got != 30*time.Second {
		t.Fatalf("interval = %s, want 30s", got)
	}
}

func TestParseCronExpressionUTC_RejectsTimezonePrefixes(t *testing.T) {
	for _, expr := range []string{
		"CRON_TZ=America/Los_Angeles * * * * *",
		"TZ=UTC * * * * *",
		"",
	} {
		if _, err := parseCronExpressionUTC(expr); err == nil {
			t.Fatalf("parseCronExpressionUTC(%q) expected error", expr)
		}
	}
}

func TestNewSnapshotReporter_InvalidExpression(t *testing.T) {
	if _, err := NewSnapshotReporter("not a cron", func() observer.Snapshot { return observer.Snapshot{} }, nil); err == nil {
		t.Fatal("expected error for invalid expression")
	}
}

func TestLogSnapshot_WarnsOnDegradedTools(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	logSnapshot(logger, observer.Snapshot{
		Totals: observer.Totals{Tools: 2, Successes: 1, Failures: 1},
		Tools: []observer.ToolRow{
			{ToolSlug: "ok", Status: observer.StatusHealthy},
			{ToolSlug: "broken", Status: observer.StatusFallback, ErrorCategory: observer.CategoryModuleImportFailure},
		},
	})

	out := buf.String()
	if !strings.Contains(out, "observability snapshot") {
		t.Errorf("missing totals line:\n%s", out)
	}
	if !strings.Contains(out, "tool=broken") || strings.Contains(out, "tool=ok") {
		t.Errorf("degraded rows not logged as expected:\n%s", out)
	}
}
