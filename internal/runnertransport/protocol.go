// Package runnertransport implements the runner fleet's WebSocket control
// plane (spec.md §4.7): a `hello` handshake that authenticates a runner
// against its stored secret, then a small fixed set of JSON frames
// dispatching exec jobs and streaming their output back.
//
// Grounded on the teacher's internal/gateway/ws package (hub.go,
// protocol.go): the same envelope-plus-discriminator shape, re-pointed at
// the runner fleet's own frame kinds instead of session/task RPC methods.
package runnertransport

import "encoding/json"

// FrameKind is the `type` discriminator every runner frame carries.
type FrameKind string

const (
	FrameHello       FrameKind = "hello"
	FrameExecRequest FrameKind = "exec_request"
	FrameCancel      FrameKind = "cancel"
	FramePing        FrameKind = "ping"
	FrameExecChunk   FrameKind = "exec_chunk"
	FrameExecDone    FrameKind = "exec_done"
	FrameExecError   FrameKind = "exec_error"
	FramePong        FrameKind = "pong"
)

// Frame is the wire envelope in both directions; Payload is one of the
// Hello/Exec*/Cancel structs below, dispatched on Type.
type Frame struct {
	Type    FrameKind       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// HelloPayload is the runner→server handshake (spec.md §4.7: "runners
// connect with a hello message containing their id and a secret").
type HelloPayload struct {
	RunnerID string `json:"runner_id"`
	Secret   string `json:"secret"`
}

// ExecRequestPayload is server→runner: dispatch one command.
type ExecRequestPayload struct {
	JobID       string `json:"job_id"`
	Command     string `json:"command"`
	TimeoutSecs int    `json:"timeout_secs"`
}

// CancelPayload is server→runner: abandon an in-flight job.
type CancelPayload struct {
	JobID string `json:"job_id"`
}

// StreamKind is one of {stdout, stderr}.
type StreamKind string

const (
	StreamStdout StreamKind = "stdout"
	StreamStderr StreamKind = "stderr"
)

// ExecChunkPayload is runner→server: an incremental slice of output.
type ExecChunkPayload struct {
	JobID  string     `json:"job_id"`
	Stream StreamKind `json:"stream"`
	Data   string     `json:"data"`
}

// ExecDonePayload is runner→server: the command exited.
type ExecDonePayload struct {
	JobID    string `json:"job_id"`
	ExitCode int    `json:"exit_code"`
}

// ExecErrorPayload is runner→server: the command could not be run at all
// (distinct from a nonzero exit code, which is ExecDonePayload).
type ExecErrorPayload struct {
	JobID string `json:"job_id"`
	Error string `json:"error"`
}

// NewFrame marshals payload and wraps it in a Frame of the given kind.
func NewFrame(kind FrameKind, payload any) (Frame, error) {
	if payload == nil {
		return Frame{Type: kind}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: kind, Payload: data}, nil
}

func MarshalFrame(f Frame) ([]byte, error)   { return json.Marshal(f) }
func UnmarshalFrame(b []byte) (Frame, error) { var f Frame; err := json.Unmarshal(b, &f); return f, err }
