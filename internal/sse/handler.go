package sse

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/rjlane/courses/internal/events"
	"github.com/rjlane/courses/internal/store"
)

// Handler streams one course's event log over SSE.
type Handler struct {
	Store  *store.Store
	Bus    *events.Bus
	Config *Config
	Logger *slog.Logger
}

func NewHandler(st *store.Store, bus *events.Bus, cfg *Config) *Handler {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Handler{Store: st, Bus: bus, Config: cfg, Logger: slog.Default()}
}

// ServeCourse streams courseID's events: it first replays anything after
// the client's Last-Event-ID from the durable course_events log, then
// tails the bus live until the course reaches a terminal state or the
// client disconnects.
func (h *Handler) ServeCourse(w http.ResponseWriter, r *http.Request, courseID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ew := NewEventWriter(w, flusher)
	kaw := &responseKeepAliveWriter{w: w, flusher: flusher}

	ctx := r.Context()
	lastSeen, err := h.replay(ctx, ew, courseID, lastEventID(r))
	if err != nil {
		h.Logger.Warn("sse: replay failed", "course_id", courseID, "error", err)
		return
	}

	live := make(chan events.Event, 32)
	unsubscribe := h.Bus.Subscribe(func(e events.Event) {
		if e.CourseID != courseID {
			return
		}
		select {
		case live <- e:
		default:
			// Slow client: drop rather than block the bus dispatch loop.
		}
	})
	defer unsubscribe()

	ticker := time.NewTicker(h.Config.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case e := <-live:
			if e.Seq != 0 && e.Seq <= lastSeen {
				continue // already replayed
			}
			if e.Seq != 0 {
				lastSeen = e.Seq
			}
			if err := ew.WriteEvent(e.Seq, string(e.Type), e.Payload); err != nil {
				return
			}
			if closesStream(e) {
				return
			}

		case <-ticker.C:
			if err := kaw.WriteKeepAlive(); err != nil {
				return
			}

		case <-ctx.Done():
			return
		}
	}
}

// replay drains the durable course_events log for everything the client's
// Last-Event-ID hasn't seen yet, before the live tail begins. Returns the
// highest seq replayed so the live loop can skip anything it re-delivers.
func (h *Handler) replay(ctx context.Context, ew *EventWriter, courseID string, lastSeen int64) (int64, error) {
	missed, err := h.Store.ListCourseEventsSince(ctx, courseID, lastSeen)
	if err != nil {
		return lastSeen, err
	}
	for _, e := range missed {
		if err := ew.WriteEvent(e.Seq, e.EventType, e.Payload); err != nil {
			return lastSeen, err
		}
		lastSeen = e.Seq
	}
	return lastSeen, nil
}

// closesStream reports whether e should end the SSE response: a terminal
// course status, or a deferred event that explicitly asked for the stream
// to close (events.CourseDeferredPayload.CloseStream, spec.md §6 — a
// client that isn't awaiting the continuation can disconnect early).
func closesStream(e events.Event) bool {
	switch e.Type {
	case events.EventCourseComplete, events.EventCourseFailed:
		return true
	case events.EventCourseDeferred:
		if closeStream, ok := e.Payload["close_stream"].(bool); ok {
			return closeStream
		}
		return false
	default:
		return false
	}
}

func lastEventID(r *http.Request) int64 {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("last_event_id")
	}
	if raw == "" {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
