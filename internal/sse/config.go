// Package sse implements the per-course event stream spec.md §6 describes:
// GET /courses/{id}/events replays anything the client missed (via
// Last-Event-ID) and then tails the event bus live, formatted as standard
// Server-Sent Events frames.
//
// Grounded on haowjy-meridian's internal/handler/sse package (keepalive
// strategy, config, SSE comment framing) — the teacher itself is WS-only,
// so this is the pack's only SSE precedent. Adapted from fiber's
// bufio.Writer streaming style to stdlib net/http.Flusher, since this
// repo does not use fiber; ServeCourse is a plain net/http handler.
package sse

import "time"

// Config holds tunables for an SSE stream.
type Config struct {
	// KeepAliveInterval is how often a ": keepalive" comment is sent to
	// keep intermediate proxies from closing an idle connection.
	KeepAliveInterval time.Duration
}

// DefaultConfig returns a KeepAliveInterval safe for most reverse proxies.
func DefaultConfig() *Config {
	return &Config{KeepAliveInterval: 15 * time.Second}
}
