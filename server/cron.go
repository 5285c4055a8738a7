package server

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/petal-labs/toolmount/observer"
)

var standardCronParser = cron.NewParser(
	cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

func parseCronExpressionUTC(expr string) (cron.Schedule, error) {
	clean := strings.TrimSpace(expr)
	if clean == "" {
		return nil, fmt.Errorf("cron expression is required")
	}

	upper := strings.ToUpper(clean)
	if strings.Contains(upper, "CRON_TZ=") || strings.Contains(upper, "TZ=") {
		return nil, fmt.Errorf("cron expression must be UTC-only (timezone prefixes are not allowed)")
	}

	schedule, err := standardCronParser.Parse(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule, nil
}

// SnapshotReporter logs the observability snapshot on a cron schedule.
type SnapshotReporter struct {
	cron *cron.Cron
}

// NewSnapshotReporter schedules snapshot logging at expr (UTC, five
// fields or a descriptor such as "@every 1m").
func NewSnapshotReporter(expr string, snapshot func() observer.Snapshot, logger *slog.Logger) (*SnapshotReporter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	schedule, err := parseCronExpressionUTC(expr)
	if err != nil {
		return nil, err
	}
	c := cron.New(cron.WithLocation(time.UTC))
	c.Schedule(schedule, cron.FuncJob(func() {
		logSnapshot(logger, snapshot())
	}))
	return &SnapshotReporter{cron: c}, nil
}

// Start begins running the schedule in the background.
func (r *SnapshotReporter) Start() { r.cron.Start() }

// Stop halts the schedule and waits for a running report to finish.
func (r *SnapshotReporter) Stop() { <-r.cron.Stop().Done() }

func logSnapshot(logger *slog.Logger, snap observer.Snapshot) {
	t := snap.Totals
	logger.Info("observability snapshot",
		"tools", t.Tools,
		"events", t.Events,
		"successes", t.Successes,
		"failures", t.Failures,
		"fallback_mounts", t.FallbackMounts,
		"compatibility_mode", t.CompatibilityModeUsage,
		"retries", t.Retries,
		"success_rate", t.SuccessRate,
	)
	for _, row := range snap.Tools {
		if row.Status == observer.StatusHealthy {
			continue
		}
		logger.Warn("degraded tool",
			"tool", row.ToolSlug,
			"status", row.Status,
			"error_category", row.ErrorCategory,
			"last_event", row.LastEvent,
		)
	}
}
