package jobqueue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rjlane/courses/internal/scheduler"
	"github.com/rjlane/courses/internal/store"
)

// JobConfig describes one cron-registered job, as spec.md §4.6 "Cron
// scheduling" names it: "cron expression, enabled flag, required secrets,
// description".
type JobConfig struct {
	JobID           string
	Cron            string
	Enabled         bool
	RequiredSecrets []string
	Description     string
	MaxAttempts     int
}

// CronEnqueuer periodically expands registered JobConfig entries into due
// job_queue rows, and backfills missed fire times on startup.
type CronEnqueuer struct {
	store   *store.Store
	jobs    []cronJob
	log     *slog.Logger
	backfillWindow time.Duration
}

type cronJob struct {
	cfg  JobConfig
	expr *scheduler.CronExpr
}

func NewCronEnqueuer(st *store.Store, log *slog.Logger, backfillWindow time.Duration) *CronEnqueuer {
	if log == nil {
		log = slog.Default()
	}
	if backfillWindow <= 0 {
		backfillWindow = 24 * time.Hour
	}
	return &CronEnqueuer{store: st, log: log, backfillWindow: backfillWindow}
}

// Register parses and adds a JobConfig. Disabled entries are kept (so
// Tick/Backfill no-op on them) rather than dropped, matching the teacher's
// enabled-flag style of soft-disable over deletion.
func (c *CronEnqueuer) Register(cfg JobConfig) error {
	expr, err := scheduler.ParseCron(cfg.Cron)
	if err != nil {
		return fmt.Errorf("jobqueue: register %s: %w", cfg.JobID, err)
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	c.jobs = append(c.jobs, cronJob{cfg: cfg, expr: expr})
	return nil
}

// Tick computes, for each enabled job, the next fire time after its last
// enqueue and enqueues it if due at or before now. Call this on a regular
// interval (e.g. once a minute) from the scheduler's own tick loop.
func (c *CronEnqueuer) Tick(ctx context.Context, now time.Time) error {
	for _, j := range c.jobs {
		if !j.cfg.Enabled {
			continue
		}
		if err := c.enqueueDue(ctx, j, now); err != nil {
			return err
		}
	}
	return nil
}

func (c *CronEnqueuer) enqueueDue(ctx context.Context, j cronJob, now time.Time) error {
	next := j.expr.Next(now.Add(-time.Minute))
	if next.After(now) {
		return nil
	}
	already, err := Enqueue(ctx, c.store, j.cfg.JobID, next, j.cfg.MaxAttempts)
	if err != nil {
		return fmt.Errorf("jobqueue: enqueue %s: %w", j.cfg.JobID, err)
	}
	if !already {
		c.log.Info("jobqueue: enqueued cron fire", "job_id", j.cfg.JobID, "scheduled_for", next)
	}
	return nil
}

// Backfill runs once at startup: for each enabled job, it walks expected
// fire times between now-backfillWindow and now and enqueues any not
// already represented by a dedupe key (spec.md §4.6 "Missed-runs
// backfill").
func (c *CronEnqueuer) Backfill(ctx context.Context, now time.Time) error {
	start := now.Add(-c.backfillWindow)
	for _, j := range c.jobs {
		if !j.cfg.Enabled {
			continue
		}
		fireTimes := expectedFireTimes(j.expr, start, now)
		for _, t := range fireTimes {
			already, err := Enqueue(ctx, c.store, j.cfg.JobID, t, j.cfg.MaxAttempts)
			if err != nil {
				return fmt.Errorf("jobqueue: backfill %s: %w", j.cfg.JobID, err)
			}
			if !already {
				c.log.Info("jobqueue: backfilled missed fire", "job_id", j.cfg.JobID, "scheduled_for", t)
			}
		}
	}
	return nil
}

func expectedFireTimes(expr *scheduler.CronExpr, start, end time.Time) []time.Time {
	var out []time.Time
	t := expr.Next(start)
	for !t.After(end) {
		out = append(out, t)
		t = expr.Next(t)
	}
	return out
}
