package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// EventWriter formats and flushes one SSE frame at a time. Seq of 0 omits
// the `id:` line — that's the case for bus-only events (e.g.
// CONCIERGE_TOKEN) that were never appended to the durable course_events
// log and so have nothing meaningful to resume from.
type EventWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func NewEventWriter(w http.ResponseWriter, flusher http.Flusher) *EventWriter {
	return &EventWriter{w: w, flusher: flusher}
}

func (e *EventWriter) WriteEvent(seq int64, eventType string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("sse: marshal payload: %w", err)
	}
	if seq != 0 {
		if _, err := fmt.Fprintf(e.w, "id: %d\n", seq); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", eventType, data); err != nil {
		return err
	}
	e.flusher.Flush()
	return nil
}
