// Package runnerjob implements the runner fleet dispatcher (spec.md §4.7):
// one in-flight job per runner, a Future-keyed-by-job-id that resolves on
// exec_done/exec_error, a timeout of timeout_secs plus a fixed slack, and a
// per-worker ring buffer that accumulates live output and republishes it
// as truncated WORKER_OUTPUT_CHUNK events.
//
// Grounded on the teacher's internal/gateway/ws.Hub for the transport half
// (now internal/runnertransport) and internal/actors.ActorPool for the
// claim/slot/single-flight shape, re-pointed at one job per runner instead
// of one task per actor slot.
package runnerjob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/shlex"
	"github.com/google/uuid"

	"github.com/rjlane/courses/internal/events"
	"github.com/rjlane/courses/internal/runnertransport"
	"github.com/rjlane/courses/internal/store"
)

func unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// Slack is added to a job's requested timeout before the dispatcher gives
// up waiting on the runner: the runner itself enforces timeout_secs, so
// this only guards against a runner that goes silent mid-command.
const Slack = 10 * time.Second

var (
	ErrRunnerBusy    = errors.New("runnerjob: runner already has a job in flight")
	ErrRunnerOffline = errors.New("runnerjob: runner has no live connection")
)

type result struct {
	status     store.RunnerJobStatus
	exitCode   *int
	errMessage string
}

// transport narrows *runnertransport.Hub to the two operations the
// dispatcher needs, so tests can inject a fake connection registry instead
// of standing up a real WebSocket hub.
type transport interface {
	Connected(runnerID string) bool
	Send(runnerID string, f runnertransport.Frame) bool
}

// Dispatcher owns the one-in-flight-per-runner bookkeeping and the
// job_id-keyed futures that DispatchJob blocks on.
type Dispatcher struct {
	Store *store.Store
	Bus   *events.Bus

	transport transport

	mu      sync.Mutex
	busy    map[string]string      // runner_id -> job_id
	pending map[string]chan result // job_id -> future
	buffers *outputBuffers
}

func NewDispatcher(st *store.Store, hub *runnertransport.Hub, bus *events.Bus) *Dispatcher {
	d := &Dispatcher{
		Store:     st,
		Bus:       bus,
		transport: hub,
		busy:      make(map[string]string),
		pending:   make(map[string]chan result),
		buffers:   newOutputBuffers(defaultTailSize, defaultTTL),
	}
	hub.Handler = d.handleFrame
	return d
}

// ValidateCommand performs a local dry-run shell-word split before a
// command is ever sent to a runner, catching unbalanced quotes early
// instead of letting the runner's own shell reject it after a round trip.
func ValidateCommand(command string) error {
	_, err := shlex.Split(command)
	if err != nil {
		return fmt.Errorf("runnerjob: invalid command: %w", err)
	}
	return nil
}

// DispatchJob creates a RunnerJob row, sends exec_request, and blocks
// until exec_done/exec_error arrives, the context is cancelled, or
// timeout_secs+Slack elapses.
func (d *Dispatcher) DispatchJob(ctx context.Context, ownerID, runnerID, command string, timeoutSecs int) (*store.RunnerJob, error) {
	if err := ValidateCommand(command); err != nil {
		return nil, err
	}
	if !d.transport.Connected(runnerID) {
		return nil, ErrRunnerOffline
	}

	d.mu.Lock()
	if existing, busy := d.busy[runnerID]; busy {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: job %s already running", ErrRunnerBusy, existing)
	}

	job := &store.RunnerJob{
		ID:          uuid.NewString(),
		RunnerID:    runnerID,
		OwnerID:     ownerID,
		Command:     command,
		TimeoutSecs: timeoutSecs,
		Status:      store.RunnerJobPending,
	}
	future := make(chan result, 1)
	d.pending[job.ID] = future
	d.busy[runnerID] = job.ID
	d.mu.Unlock()

	cleanup := func() {
		d.mu.Lock()
		delete(d.pending, job.ID)
		if d.busy[runnerID] == job.ID {
			delete(d.busy, runnerID)
		}
		d.mu.Unlock()
	}

	if err := d.Store.CreateRunnerJob(ctx, job); err != nil {
		cleanup()
		return nil, fmt.Errorf("runnerjob: create runner job: %w", err)
	}

	frame, err := runnertransport.NewFrame(runnertransport.FrameExecRequest, runnertransport.ExecRequestPayload{
		JobID: job.ID, Command: command, TimeoutSecs: timeoutSecs,
	})
	if err != nil {
		cleanup()
		return nil, err
	}
	if !d.transport.Send(runnerID, frame) {
		cleanup()
		_ = d.Store.FinishRunnerJob(ctx, job.ID, store.RunnerJobFailed, "", "runner disconnected before dispatch", nil)
		return nil, ErrRunnerOffline
	}
	if err := d.Store.SetRunnerJobWorker(ctx, job.ID, runnerID); err != nil {
		return nil, fmt.Errorf("runnerjob: mark runner job running: %w", err)
	}

	timeout := time.Duration(timeoutSecs)*time.Second + Slack
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-future:
		cleanup()
		if err := d.Store.FinishRunnerJob(ctx, job.ID, r.status, d.buffers.tail(job.ID), "", r.exitCode); err != nil {
			return nil, fmt.Errorf("runnerjob: finish runner job: %w", err)
		}
		job.Status = r.status
		job.ExitCode = r.exitCode
		if r.status == store.RunnerJobFailed && r.errMessage != "" {
			return job, fmt.Errorf("runnerjob: %s", r.errMessage)
		}
		return job, nil
	case <-timer.C:
		cleanup()
		cancelFrame, _ := runnertransport.NewFrame(runnertransport.FrameCancel, runnertransport.CancelPayload{JobID: job.ID})
		d.transport.Send(runnerID, cancelFrame)
		_ = d.Store.FinishRunnerJob(ctx, job.ID, store.RunnerJobTimeout, d.buffers.tail(job.ID), "", nil)
		job.Status = store.RunnerJobTimeout
		return job, fmt.Errorf("runnerjob: job %s timed out after %s", job.ID, timeout)
	case <-ctx.Done():
		cleanup()
		return nil, ctx.Err()
	}
}

// Cancel asks the runner to abandon jobID; it does not resolve the Future
// itself — the runner is expected to still answer with exec_error.
func (d *Dispatcher) Cancel(runnerID, jobID string) bool {
	frame, _ := runnertransport.NewFrame(runnertransport.FrameCancel, runnertransport.CancelPayload{JobID: jobID})
	return d.transport.Send(runnerID, frame)
}

// handleFrame is wired as runnertransport.Hub.Handler: every decoded
// runner→server frame funnels through here.
func (d *Dispatcher) handleFrame(runnerID string, frame runnertransport.Frame) {
	switch frame.Type {
	case runnertransport.FrameExecChunk:
		var p runnertransport.ExecChunkPayload
		if err := unmarshal(frame.Payload, &p); err != nil {
			return
		}
		chunk := d.buffers.append(p.JobID, p.Data)
		d.Bus.Publish(events.NewTypedEvent(events.SourceRunner, events.WorkerOutputChunkPayload{
			WorkerID: runnerID, JobID: p.JobID, Stream: string(p.Stream), Data: chunk,
		}))

	case runnertransport.FrameExecDone:
		var p runnertransport.ExecDonePayload
		if err := unmarshal(frame.Payload, &p); err != nil {
			return
		}
		status := store.RunnerJobSuccess
		if p.ExitCode != 0 {
			status = store.RunnerJobFailed
		}
		exitCode := p.ExitCode
		d.resolve(p.JobID, result{status: status, exitCode: &exitCode})

	case runnertransport.FrameExecError:
		var p runnertransport.ExecErrorPayload
		if err := unmarshal(frame.Payload, &p); err != nil {
			return
		}
		d.resolve(p.JobID, result{status: store.RunnerJobFailed, errMessage: p.Error})
	}
}

func (d *Dispatcher) resolve(jobID string, r result) {
	d.mu.Lock()
	future, ok := d.pending[jobID]
	d.mu.Unlock()
	if !ok {
		return
	}
	select {
	case future <- r:
	default:
	}
}
