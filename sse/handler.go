// Package sse streams a tool's runtime event stream to HTTP clients as
// Server-Sent Events. Stored events are replayed first, then live events
// arrive from the event bus.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/petal-labs/toolmount/bus"
	"github.com/petal-labs/toolmount/observer"
)

// HeartbeatInterval is the interval between SSE heartbeat comments.
const HeartbeatInterval = 15 * time.Second

// terminal reports whether an event ends one bootstrap attempt.
func terminal(e observer.Event) bool {
	switch e.Event {
	case observer.EventBootstrapComplete, observer.EventBootstrapAborted:
		return true
	}
	return false
}

// SSEHandler serves an SSE stream of runtime events for one tool slug.
// Duplicate events (by sequence number) are skipped.
//
// The handler expects a "tool" path value and accepts two query
// parameters: "after", the last-seen sequence number, and "follow", which
// keeps the stream open across bootstrap attempts.
//
// SSE format:
//
//	id: {seq}
//	event: {event}
//	data: {json}
//
// A heartbeat comment ": ping\n\n" is sent every HeartbeatInterval. Without
// follow the stream closes after the first terminal bootstrap event.
type SSEHandler struct {
	store     bus.EventStore
	bus       bus.EventBus
	heartbeat time.Duration
}

// NewSSEHandler creates a new SSEHandler with the given EventStore and EventBus.
func NewSSEHandler(store bus.EventStore, eb bus.EventBus) *SSEHandler {
	return &SSEHandler{
		store:     store,
		bus:       eb,
		heartbeat: HeartbeatInterval,
	}
}

// WithHeartbeat returns a copy of h using interval between heartbeats.
func (h *SSEHandler) WithHeartbeat(interval time.Duration) *SSEHandler {
	cp := *h
	if interval > 0 {
		cp.heartbeat = interval
	}
	return &cp
}

// ServeHTTP implements http.Handler.
func (h *SSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("tool")
	if slug == "" {
		http.Error(w, "missing tool", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	query := r.URL.Query()
	var afterSeq uint64
	if afterStr := query.Get("after"); afterStr != "" {
		parsed, err := strconv.ParseUint(afterStr, 10, 64)
		if err != nil {
			http.Error(w, "invalid after parameter", http.StatusBadRequest)
			return
		}
		afterSeq = parsed
	}
	follow, _ := strconv.ParseBool(query.Get("follow"))

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()

	// Subscribe before replay so nothing published in between is lost.
	sub := h.bus.Subscribe(slug)
	defer sub.Close()

	lastSeq := afterSeq
	finished, err := h.replayStored(ctx, w, flusher, slug, afterSeq, follow, &lastSeq)
	if err != nil || finished {
		return
	}

	h.streamLive(ctx, w, flusher, sub, follow, &lastSeq)
}

func (h *SSEHandler) replayStored(
	ctx context.Context,
	w http.ResponseWriter,
	flusher http.Flusher,
	slug string,
	afterSeq uint64,
	follow bool,
	lastSeq *uint64,
) (finished bool, err error) {
	if h.store == nil {
		return false, nil
	}
	events, err := h.store.List(ctx, slug, afterSeq, 0)
	if err != nil {
		return false, err
	}

	for _, evt := range events {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if err := writeSSEEvent(w, evt); err != nil {
			return false, err
		}
		flusher.Flush()

		if evt.Seq > *lastSeq {
			*lastSeq = evt.Seq
		}
		if !follow && terminal(evt) {
			return true, nil
		}
	}
	return false, nil
}

func (h *SSEHandler) streamLive(
	ctx context.Context,
	w http.ResponseWriter,
	flusher http.Flusher,
	sub bus.Subscription,
	follow bool,
	lastSeq *uint64,
) {
	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			if evt.Seq <= *lastSeq {
				continue
			}
			if err := writeSSEEvent(w, evt); err != nil {
				return
			}
			flusher.Flush()
			*lastSeq = evt.Seq

			if !follow && terminal(evt) {
				return
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes a single event in SSE format.
func writeSSEEvent(w http.ResponseWriter, evt observer.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", evt.Seq, evt.Event, data)
	return err
}
