package sse

import (
	"fmt"
	"net/http"
)

// KeepAliveWriter abstracts writing an SSE comment so the ticker loop can
// be tested without a real ResponseWriter.
type KeepAliveWriter interface {
	WriteKeepAlive() error
}

// responseKeepAliveWriter writes the standard SSE comment form
// (": keepalive\n\n") directly to an http.ResponseWriter and flushes it.
type responseKeepAliveWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (k *responseKeepAliveWriter) WriteKeepAlive() error {
	if _, err := fmt.Fprint(k.w, ": keepalive\n\n"); err != nil {
		return fmt.Errorf("sse: write keepalive: %w", err)
	}
	k.flusher.Flush()
	return nil
}
