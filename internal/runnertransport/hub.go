package runnertransport

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/rjlane/courses/internal/store"
)

// RunnerAuthenticator verifies a hello frame's secret against the stored
// hash for runner_id. Runner.AuthSecretHash is a sha256 hex digest — no
// library in the corpus handles secret hashing, so this stays stdlib
// (crypto/sha256 + constant-time compare), matching internal/jobqueue's
// existing sha256 usage for dedupe keys rather than inventing a new scheme.
type RunnerAuthenticator struct {
	Store *store.Store
}

func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// Authenticate loads the runner and compares secretHash using a
// constant-time comparison (spec.md §4.7: the hello handshake "must not
// leak timing information about the stored secret").
func (a *RunnerAuthenticator) Authenticate(ctx context.Context, runnerID, secret string) (*store.Runner, error) {
	r, err := a.Store.GetRunner(ctx, runnerID)
	if err != nil {
		return nil, err
	}
	want := []byte(r.AuthSecretHash)
	got := []byte(HashSecret(secret))
	if len(want) != len(got) || subtle.ConstantTimeCompare(want, got) != 1 {
		return nil, ErrBadSecret
	}
	return r, nil
}

var ErrBadSecret = errors.New("runnertransport: secret does not match runner")

// Conn is one authenticated runner's live WebSocket connection.
type Conn struct {
	conn     *websocket.Conn
	send     chan []byte
	hub      *Hub
	runnerID string
}

// Hub manages one live connection per runner and routes outbound frames
// (exec_request/cancel/ping) to the right one; the runner fleet has no
// multi-client-per-runner concept, so this keys on runner ID rather than
// the teacher's session ID.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*Conn

	auth  *RunnerAuthenticator
	store *store.Store

	// Handler is invoked for every decoded runner→server frame once the
	// connection is authenticated; internal/runnerjob.Dispatcher wires
	// itself in here to resolve exec futures and append to live output
	// ring buffers.
	Handler func(runnerID string, frame Frame)
}

func NewHub(st *store.Store) *Hub {
	return &Hub{
		conns: make(map[string]*Conn),
		auth:  &RunnerAuthenticator{Store: st},
		store: st,
	}
}

// Send dispatches a frame to runnerID's live connection. Returns false if
// the runner has no open connection (the caller should fail the job
// immediately rather than waiting on a Future that will never resolve).
func (h *Hub) Send(runnerID string, f Frame) bool {
	data, err := MarshalFrame(f)
	if err != nil {
		slog.Error("runnertransport: marshal frame", "error", err)
		return false
	}
	h.mu.RLock()
	c, ok := h.conns[runnerID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Connected reports whether runnerID currently has a live connection.
func (h *Hub) Connected(runnerID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[runnerID]
	return ok
}

func (h *Hub) register(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.conns[c.runnerID]; ok {
		close(old.send)
		old.conn.Close(websocket.StatusPolicyViolation, "superseded by new connection")
	}
	h.conns[c.runnerID] = c
}

func (h *Hub) unregister(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.conns[c.runnerID]; ok && cur == c {
		delete(h.conns, c.runnerID)
		close(c.send)
	}
}

// ServeWS upgrades the connection, reads the hello frame, authenticates
// it, marks the runner online, and hands off to the read/write pumps.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		slog.Error("runnertransport: accept", "error", err)
		return
	}

	ctx := r.Context()
	_, data, err := conn.Read(ctx)
	if err != nil {
		conn.Close(websocket.StatusProtocolError, "expected hello")
		return
	}
	frame, err := UnmarshalFrame(data)
	if err != nil || frame.Type != FrameHello {
		conn.Close(websocket.StatusProtocolError, "expected hello")
		return
	}
	var hello HelloPayload
	if err := json.Unmarshal(frame.Payload, &hello); err != nil {
		conn.Close(websocket.StatusProtocolError, "bad hello payload")
		return
	}
	runner, err := h.auth.Authenticate(ctx, hello.RunnerID, hello.Secret)
	if err != nil {
		slog.Warn("runnertransport: hello rejected", "runner_id", hello.RunnerID, "error", err)
		conn.Close(websocket.StatusPolicyViolation, "bad runner credentials")
		return
	}

	if err := h.store.SetRunnerStatus(ctx, runner.ID, store.RunnerOnline, true); err != nil {
		slog.Error("runnertransport: mark runner online", "error", err)
	}

	c := &Conn{conn: conn, send: make(chan []byte, 64), hub: h, runnerID: runner.ID}
	h.register(c)
	slog.Info("runnertransport: runner connected", "runner_id", runner.ID)

	go c.writePump(ctx)
	c.readPump(ctx)
}

func (c *Conn) readPump(ctx context.Context) {
	defer func() {
		c.hub.unregister(c)
		if err := c.hub.store.SetRunnerStatus(context.Background(), c.runnerID, store.RunnerOffline, false); err != nil {
			slog.Error("runnertransport: mark runner offline", "error", err)
		}
		c.conn.Close(websocket.StatusNormalClosure, "")
		slog.Info("runnertransport: runner disconnected", "runner_id", c.runnerID)
	}()

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		frame, err := UnmarshalFrame(data)
		if err != nil {
			slog.Warn("runnertransport: bad frame", "runner_id", c.runnerID, "error", err)
			continue
		}
		switch frame.Type {
		case FramePing:
			c.hub.Send(c.runnerID, Frame{Type: FramePong})
		case FrameHello:
			// already authenticated; ignore a stray re-hello
		default:
			if err := c.hub.store.SetRunnerStatus(ctx, c.runnerID, store.RunnerOnline, true); err != nil {
				slog.Error("runnertransport: heartbeat bump", "error", err)
			}
			if c.hub.Handler != nil {
				c.hub.Handler(c.runnerID, frame)
			}
		}
	}
}

func (c *Conn) writePump(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		case <-ticker.C:
			pingFrame, _ := NewFrame(FramePing, nil)
			data, _ := MarshalFrame(pingFrame)
			if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
