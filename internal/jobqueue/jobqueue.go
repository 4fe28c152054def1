// Package jobqueue implements the polling worker and cron-driven enqueue
// side of the durable job queue (spec.md §4.6). The claim/lease/backoff
// mechanics themselves live in internal/store, which owns the dialect-aware
// transaction plumbing; this package wraps those primitives with an
// in-process handler registry and a poll loop, in the shape of
// run_ingest_task_worker/_process_batch from the original ingest queue.
package jobqueue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/rjlane/courses/internal/store"
)

// Handler executes one job_queue entry's payload, identified by JobID. A
// handler returning an error causes CompleteJob(success=false) with
// exponential backoff; ulid.Make supplies a monotonic-sortable lease owner
// id if the caller does not provide one.
type Handler func(ctx context.Context, jobID string) error

// Config controls worker polling behavior.
type Config struct {
	PollInterval   time.Duration
	BatchSize      int
	LeaseDuration  time.Duration
	SweepInterval  time.Duration
	WorkerID       string
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 5
	}
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = 5 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	if c.WorkerID == "" {
		c.WorkerID = "worker-" + ulid.Make().String()
	}
	return c
}

// Worker polls store.ClaimJobs and dispatches claimed entries to handlers
// registered by job_id prefix (the portion before the first ':').
type Worker struct {
	store    *store.Store
	handlers map[string]Handler
	cfg      Config
	log      *slog.Logger
}

func NewWorker(st *store.Store, cfg Config, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{store: st, handlers: make(map[string]Handler), cfg: cfg.withDefaults(), log: log}
}

// Register binds a handler to a job kind (e.g. "commis_job", "cron_fiche").
// The kind is the prefix of job_id up to the first ':', so job_id
// "commis_job:abc123" dispatches to the "commis_job" handler.
func (w *Worker) Register(kind string, h Handler) {
	w.handlers[kind] = h
}

// Run polls until ctx is cancelled. It should be launched as its own
// goroutine from cmd/courses's server entrypoint, one per process — spec.md
// §4.6 explicitly allows multiple concurrent queue worker processes since
// claiming uses FOR UPDATE SKIP LOCKED on Postgres.
func (w *Worker) Run(ctx context.Context) {
	pollTicker := time.NewTicker(w.cfg.PollInterval)
	defer pollTicker.Stop()
	sweepTicker := time.NewTicker(w.cfg.SweepInterval)
	defer sweepTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweepTicker.C:
			if n, err := w.store.SweepZombieLeases(ctx); err != nil {
				w.log.Error("jobqueue: zombie sweep failed", "error", err)
			} else if n > 0 {
				w.log.Info("jobqueue: recovered zombie leases", "count", n)
			}
		case <-pollTicker.C:
			w.processBatch(ctx)
		}
	}
}

func (w *Worker) processBatch(ctx context.Context) {
	entries, err := w.store.ClaimJobs(ctx, w.cfg.WorkerID, w.cfg.LeaseDuration, w.cfg.BatchSize)
	if err != nil {
		w.log.Error("jobqueue: claim failed", "error", err)
		return
	}
	for _, e := range entries {
		w.execute(ctx, e)
	}
}

func (w *Worker) execute(ctx context.Context, e *store.JobQueueEntry) {
	kind, _ := splitJobID(e.JobID)
	h, ok := w.handlers[kind]
	if !ok {
		w.log.Warn("jobqueue: no handler registered", "kind", kind, "job_id", e.JobID)
		_ = w.store.CompleteJob(ctx, e.ID, false, fmt.Sprintf("no handler for kind %q", kind))
		return
	}
	err := h(ctx, e.JobID)
	if err != nil {
		w.log.Error("jobqueue: job failed", "job_id", e.JobID, "error", err)
	}
	if compErr := w.store.CompleteJob(ctx, e.ID, err == nil, errString(err)); compErr != nil {
		w.log.Error("jobqueue: failed to record completion", "job_id", e.JobID, "error", compErr)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func splitJobID(jobID string) (kind, rest string) {
	for i := 0; i < len(jobID); i++ {
		if jobID[i] == ':' {
			return jobID[:i], jobID[i+1:]
		}
	}
	return jobID, ""
}

// DedupeKey derives the dedupe key spec.md §4.6 describes:
// "hash(job_id || scheduled_for_truncated_to_minute)".
func DedupeKey(jobID string, scheduledFor time.Time) string {
	truncated := scheduledFor.Truncate(time.Minute).UTC().Format(time.RFC3339)
	sum := sha256.Sum256([]byte(jobID + "|" + truncated))
	return hex.EncodeToString(sum[:16])
}

// Enqueue inserts a job_queue row with the standard dedupe key, treating a
// duplicate as a benign "already queued" outcome rather than an error
// (spec.md §4.6 Enqueue).
func Enqueue(ctx context.Context, st *store.Store, jobID string, scheduledFor time.Time, maxAttempts int) (alreadyQueued bool, err error) {
	_, err = st.EnqueueJob(ctx, &store.JobQueueEntry{
		JobID:        jobID,
		ScheduledFor: scheduledFor,
		DedupeKey:    DedupeKey(jobID, scheduledFor),
		MaxAttempts:  maxAttempts,
	})
	if err == store.ErrDuplicate {
		return true, nil
	}
	return false, err
}
