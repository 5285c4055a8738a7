package bus

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/petal-labs/toolmount/observer"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	session     TEXT    NOT NULL DEFAULT '',
	tool_slug   TEXT    NOT NULL,
	seq         INTEGER NOT NULL,
	event       TEXT    NOT NULL,
	timestamp   REAL    NOT NULL,
	duration_ms REAL,
	payload     TEXT    NOT NULL DEFAULT '{}',
	stored_at   TEXT    NOT NULL,
	UNIQUE (session, tool_slug, seq)
);
CREATE INDEX IF NOT EXISTS idx_events_tool_seq ON events (tool_slug, seq);
CREATE INDEX IF NOT EXISTS idx_events_stored_at ON events (stored_at);
`

// SQLiteStoreConfig configures the SQLite event store.
type SQLiteStoreConfig struct {
	// DSN is the database connection string.
	DSN string

	// RetentionAge deletes events stored longer ago than this (0 = no age pruning).
	RetentionAge time.Duration

	// RetentionCount keeps at most this many events per tool (0 = no count pruning).
	RetentionCount int

	// PruneInterval is how often to run pruning (default 1 hour).
	PruneInterval time.Duration
}

// SQLiteEventStore persists events to a SQLite database.
// It satisfies the EventStore interface and supports WAL mode
// for concurrent read access and a background pruner goroutine.
type SQLiteEventStore struct {
	db   *sql.DB
	cfg  SQLiteStoreConfig
	now  func() time.Time
	stop chan struct{}
	done chan struct{}
}

// NewSQLiteEventStore opens (or creates) a SQLite event store.
func NewSQLiteEventStore(cfg SQLiteStoreConfig) (*SQLiteEventStore, error) {
	if cfg.PruneInterval == 0 {
		cfg.PruneInterval = time.Hour
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}

	// Enable WAL mode for concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitestore: set WAL mode: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitestore: create schema: %w", err)
	}

	s := &SQLiteEventStore{
		db:   db,
		cfg:  cfg,
		now:  time.Now,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	if cfg.RetentionAge > 0 || cfg.RetentionCount > 0 {
		go s.pruneLoop()
	} else {
		close(s.done)
	}

	return s, nil
}

// Append stores an event in the database.
func (s *SQLiteEventStore) Append(ctx context.Context, event observer.Event) error {
	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("sqlitestore: marshal payload: %w", err)
	}

	var duration sql.NullFloat64
	if event.DurationMS != nil {
		duration = sql.NullFloat64{Float64: *event.DurationMS, Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (session, tool_slug, seq, event, timestamp, duration_ms, payload, stored_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.Session,
		event.ToolSlug,
		event.Seq,
		event.Event,
		event.Timestamp,
		duration,
		string(payloadJSON),
		s.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("sqlitestore: append: %w", err)
	}
	return nil
}

// List returns events for a tool, optionally filtered by afterSeq and limit.
func (s *SQLiteEventStore) List(ctx context.Context, toolSlug string, afterSeq uint64, limit int) ([]observer.Event, error) {
	query := `SELECT session, tool_slug, seq, event, timestamp, duration_ms, payload
	           FROM events WHERE tool_slug = ? AND seq > ? ORDER BY seq ASC, id ASC`
	args := []any{toolSlug, afterSeq}

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// LatestSeq returns the highest Seq for a tool (0 if no events).
func (s *SQLiteEventStore) LatestSeq(ctx context.Context, toolSlug string) (uint64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(seq) FROM events WHERE tool_slug = ?`, toolSlug,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: latest seq: %w", err)
	}
	if !seq.Valid || seq.Int64 < 0 {
		return 0, nil
	}
	return uint64(seq.Int64), nil // #nosec G115 -- checked non-negative above
}

// ToolSlugs returns distinct tool slugs from the store.
func (s *SQLiteEventStore) ToolSlugs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT tool_slug FROM events ORDER BY tool_slug`)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: tool slugs: %w", err)
	}
	defer rows.Close()

	var slugs []string
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan tool slug: %w", err)
		}
		slugs = append(slugs, slug)
	}
	return slugs, rows.Err()
}

// Close stops the background pruner and closes the database connection.
func (s *SQLiteEventStore) Close() error {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	<-s.done
	return s.db.Close()
}

// Prune runs a single pruning pass. Exported for testing.
func (s *SQLiteEventStore) Prune(ctx context.Context) error {
	if s.cfg.RetentionAge > 0 {
		cutoff := s.now().Add(-s.cfg.RetentionAge).UTC().Format(time.RFC3339Nano)
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM events WHERE stored_at < ?`, cutoff,
		); err != nil {
			return fmt.Errorf("sqlitestore: prune by age: %w", err)
		}
	}

	if s.cfg.RetentionCount > 0 {
		slugs, err := s.ToolSlugs(ctx)
		if err != nil {
			return fmt.Errorf("sqlitestore: prune: %w", err)
		}
		for _, slug := range slugs {
			if _, err := s.db.ExecContext(ctx,
				`DELETE FROM events WHERE tool_slug = ? AND id NOT IN (
					SELECT id FROM events WHERE tool_slug = ? ORDER BY seq DESC, id DESC LIMIT ?
				)`, slug, slug, s.cfg.RetentionCount,
			); err != nil {
				return fmt.Errorf("sqlitestore: prune by count for %s: %w", slug, err)
			}
		}
	}

	return nil
}

func (s *SQLiteEventStore) pruneLoop() {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			_ = s.Prune(context.Background())
		}
	}
}

func scanEvents(rows *sql.Rows) ([]observer.Event, error) {
	var events []observer.Event
	for rows.Next() {
		var (
			e           observer.Event
			duration    sql.NullFloat64
			payloadJSON string
		)
		if err := rows.Scan(&e.Session, &e.ToolSlug, &e.Seq, &e.Event, &e.Timestamp, &duration, &payloadJSON); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan event: %w", err)
		}
		if duration.Valid {
			d := duration.Float64
			e.DurationMS = &d
		}
		if payloadJSON != "" && payloadJSON != "{}" {
			if err := json.Unmarshal([]byte(payloadJSON), &e.Payload); err != nil {
				return nil, fmt.Errorf("sqlitestore: unmarshal payload: %w", err)
			}
		} else {
			e.Payload = map[string]any{}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Compile-time interface check.
var _ EventStore = (*SQLiteEventStore)(nil)
