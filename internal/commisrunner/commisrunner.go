// Package commisrunner is the capacity-aware commis worker pool (spec.md
// §4.5 "Commis execution (Commis Runner)"): it claims commis_job entries off
// the durable job queue up to a fixed concurrency budget and runs each one
// through internal/commis.Executor in its own goroutine, so a slow commis
// never blocks the next one from starting.
//
// Generalized from the teacher's internal/actors.ActorPool: there, a fixed
// number of provider-tagged Actor slots pick up Tasks from an in-memory
// scheduler and a busy actor can be cooperatively preempted for an
// interactive request. Here the "slots" are the same idea — a bounded
// count of concurrent commis runs — but the claiming itself is delegated to
// the durable job_queue's SELECT … FOR UPDATE SKIP LOCKED (spec.md §4.6),
// since commis jobs are never interactive: nothing in spec.md needs to
// preempt a running commis, so that half of ActorPool's machinery has no
// equivalent here.
package commisrunner

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rjlane/courses/internal/commis"
	"github.com/rjlane/courses/internal/store"
)

// executor is the slice of *commis.Executor that Pool depends on, narrowed
// to an interface so tests can supply a fake instead of a real Executor.
type executor interface {
	Execute(ctx context.Context, jobID string) error
}

// Config controls polling and concurrency.
type Config struct {
	Capacity      int           // max concurrent commis runs; 0 defaults to 1
	PollInterval  time.Duration // 0 defaults to 2s
	LeaseDuration time.Duration // 0 defaults to 5m, should exceed the longest expected commis run
	WorkerID      string
}

func (c Config) withDefaults() Config {
	if c.Capacity <= 0 {
		c.Capacity = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = 5 * time.Minute
	}
	if c.WorkerID == "" {
		c.WorkerID = "commisrunner"
	}
	return c
}

// Pool claims and runs commis jobs up to cfg.Capacity concurrently.
type Pool struct {
	store    *store.Store
	executor executor
	cfg      Config
	log      *slog.Logger

	mu     sync.Mutex
	active int
	wakeCh chan struct{}
}

func New(st *store.Store, ex *commis.Executor, cfg Config, log *slog.Logger) *Pool {
	if log == nil {
		log = slog.Default()
	}
	return &Pool{
		store:    st,
		executor: ex,
		cfg:      cfg.withDefaults(),
		log:      log,
		wakeCh:   make(chan struct{}, 1),
	}
}

// Run polls until ctx is cancelled, claiming and dispatching commis jobs
// whenever a slot is free. It should be launched as its own goroutine from
// cmd/courses's server entrypoint, same as internal/jobqueue.Worker.Run.
func (p *Pool) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.fill(ctx)
		case <-p.wakeCh:
			p.fill(ctx)
		}
	}
}

// fill claims as many commis jobs as there are free slots and starts each
// one in its own goroutine, freeing its slot (and waking the loop again, so
// a backlog drains without waiting for the next tick) on completion.
func (p *Pool) fill(ctx context.Context) {
	p.mu.Lock()
	available := p.cfg.Capacity - p.active
	p.mu.Unlock()
	if available <= 0 {
		return
	}

	entries, err := p.store.ClaimJobs(ctx, p.cfg.WorkerID, p.cfg.LeaseDuration, available)
	if err != nil {
		p.log.Error("commisrunner: claim failed", "error", err)
		return
	}

	for _, e := range entries {
		jobID, ok := stripKind(e.JobID)
		if !ok {
			p.log.Warn("commisrunner: claimed non-commis job, completing as failed", "job_id", e.JobID)
			_ = p.store.CompleteJob(ctx, e.ID, false, "commisrunner: not a commis_job entry")
			continue
		}

		p.mu.Lock()
		p.active++
		p.mu.Unlock()

		go p.run(ctx, e.ID, jobID)
	}
}

func (p *Pool) run(ctx context.Context, entryID int64, jobID string) {
	defer p.release()

	err := p.executor.Execute(ctx, jobID)
	if err != nil {
		p.log.Error("commisrunner: commis job failed", "job_id", jobID, "error", err)
	}
	if compErr := p.store.CompleteJob(ctx, entryID, err == nil, errString(err)); compErr != nil {
		p.log.Error("commisrunner: failed to record completion", "job_id", jobID, "error", compErr)
	}
}

func (p *Pool) release() {
	p.mu.Lock()
	p.active--
	p.mu.Unlock()

	select {
	case p.wakeCh <- struct{}{}:
	default:
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func stripKind(jobID string) (string, bool) {
	prefix := commis.JobKind + ":"
	if !strings.HasPrefix(jobID, prefix) {
		return "", false
	}
	return strings.TrimPrefix(jobID, prefix), true
}
