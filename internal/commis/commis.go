// Package commis implements Commis execution (spec.md §4.5 "Commis
// execution (Commis Runner)"): given a queued CommisJob, it instantiates a
// dedicated commis thread against the job's fiche, runs the Fiche Runner
// once, records the terminal outcome on the job row, and releases the
// parent course's barrier so the concierge can resume with the result.
//
// Generalized from the teacher's internal/actors task-execution path
// (internal/actors/pool.go's executeTask): there, an Actor picks up a Task
// by provider/tag match and runs it to completion, reporting back through
// the same task store. Here a commis job takes the place of the task and
// the Fiche Runner takes the place of the teacher's agent invocation, but
// the "claim, run, report" shape is the same.
package commis

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/rjlane/courses/internal/barrier"
	"github.com/rjlane/courses/internal/credentials"
	"github.com/rjlane/courses/internal/events"
	"github.com/rjlane/courses/internal/ficherunner"
	"github.com/rjlane/courses/internal/store"
)

// JobKind is the job_queue job_id prefix used for commis work (spec.md
// §4.5 Phase 2 "Enqueue each job in the Job Queue under a dedupe key
// derived from (commis_job_id)"): a commis job's queue entry is
// "commis_job:<commis job id>", and internal/commisrunner strips the
// prefix back off after claiming.
const JobKind = "commis_job"

// threadRunner is the slice of *ficherunner.Runner that Execute depends on,
// narrowed to an interface so tests can supply a fake instead of driving a
// real eino ADK run.
type threadRunner interface {
	RunThread(ctx context.Context, fiche *store.Fiche, thread *store.Thread, course *store.Course) (*ficherunner.Result, error)
}

// Executor runs queued commis jobs to completion. One Executor is shared
// across however many concurrent slots internal/commisrunner grants it.
type Executor struct {
	Store    *store.Store
	Bus      *events.Bus
	Barrier  *barrier.Manager
	Runner   threadRunner
	Resolver credentials.Resolver
}

func NewExecutor(st *store.Store, bus *events.Bus, barrierMgr *barrier.Manager, runner *ficherunner.Runner, resolver credentials.Resolver) *Executor {
	return &Executor{Store: st, Bus: bus, Barrier: barrierMgr, Runner: runner, Resolver: resolver}
}

// Execute runs one CommisJob end to end: load the job and its fiche, stand
// up a fresh commis thread, run the Fiche Runner, and report the outcome
// back to the barrier. It returns an error only for conditions that should
// count as a failed attempt against the job_queue's retry budget (spec.md
// §4.6 Completion) — a commis task that simply fails is recorded as a
// CommisFailed job and does NOT return an error, since from the queue's
// point of view the attempt itself succeeded.
func (e *Executor) Execute(ctx context.Context, jobID string) error {
	job, err := e.Store.GetCommisJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("commis: load job %s: %w", jobID, err)
	}

	if job.Status == store.CommisCancelled {
		return nil
	}

	fiche, err := e.Store.GetFiche(ctx, job.CommisID)
	if err != nil {
		return fmt.Errorf("commis: load fiche %s for job %s: %w", job.CommisID, jobID, err)
	}

	if err := e.Store.SetCommisJobStatus(ctx, jobID, store.CommisRunning); err != nil {
		return fmt.Errorf("commis: mark job %s running: %w", jobID, err)
	}

	e.Bus.Publish(events.NewTypedEventWithCourse(events.SourceCommis,
		events.CommisStartedPayload{JobID: jobID, FicheID: fiche.ID}, job.ConciergeCourseID))

	thread := &store.Thread{
		ID:      uuid.NewString(),
		FicheID: fiche.ID,
		OwnerID: job.OwnerID,
		Type:    store.ThreadCommis,
	}
	if err := e.Store.CreateThread(ctx, thread); err != nil {
		return fmt.Errorf("commis: create thread for job %s: %w", jobID, err)
	}
	if err := e.Store.AppendMessage(ctx, &store.ThreadMessage{
		ID:       uuid.NewString(),
		ThreadID: thread.ID,
		Role:     store.RoleUserMsg,
		Content:  job.Task,
	}); err != nil {
		return fmt.Errorf("commis: seed task message for job %s: %w", jobID, err)
	}

	course := &store.Course{
		ID:       uuid.NewString(),
		FicheID:  fiche.ID,
		ThreadID: thread.ID,
		OwnerID:  job.OwnerID,
		Status:   store.CourseRunning,
		Trigger:  store.TriggerManual,
		TraceID:  job.TraceID,
	}
	if err := e.Store.CreateCourse(ctx, course); err != nil {
		return fmt.Errorf("commis: create course for job %s: %w", jobID, err)
	}

	runCtx := credentials.WithResolver(ctx, e.Resolver)
	result, runErr := e.Runner.RunThread(runCtx, fiche, thread, course)

	if runErr != nil {
		// A commis fiche that itself calls spawn_commis (nested delegation)
		// is out of scope for spec.md §4.5 — treat it the same as any other
		// execution error rather than threading a second barrier level.
		return e.reportFailure(ctx, job, course, runErr)
	}

	if err := e.Store.SetCourseStatus(ctx, course.ID, store.CourseSuccess, result.Content, "", 0); err != nil {
		return fmt.Errorf("commis: set course %s success: %w", course.ID, err)
	}
	if err := e.Store.FinishCommisJob(ctx, jobID, store.CommisSuccess, result.Content, ""); err != nil {
		return fmt.Errorf("commis: finish job %s: %w", jobID, err)
	}

	e.Bus.Publish(events.NewTypedEventWithCourse(events.SourceCommis,
		events.CommisCompletePayload{JobID: jobID, Summary: result.Content}, job.ConciergeCourseID))

	_, _, err = e.Barrier.Release(ctx, job.ConciergeCourseID, jobID, jobID, result.Content)
	if err != nil {
		return fmt.Errorf("commis: release barrier for job %s: %w", jobID, err)
	}
	return nil
}

func (e *Executor) reportFailure(ctx context.Context, job *store.CommisJob, course *store.Course, runErr error) error {
	message := runErr.Error()
	if err := e.Store.SetCourseStatus(ctx, course.ID, store.CourseFailed, "", message, 0); err != nil {
		return fmt.Errorf("commis: set course %s failed: %w", course.ID, err)
	}
	if err := e.Store.FinishCommisJob(ctx, job.ID, store.CommisFailed, message, ""); err != nil {
		return fmt.Errorf("commis: finish job %s as failed: %w", job.ID, err)
	}

	e.Bus.Publish(events.NewTypedEventWithCourse(events.SourceCommis,
		events.CommisFailedPayload{JobID: job.ID, ErrorType: "execution_error", Message: message}, job.ConciergeCourseID))

	_, _, err := e.Barrier.Release(ctx, job.ConciergeCourseID, job.ID, job.ID, "commis job failed: "+message)
	if err != nil {
		return fmt.Errorf("commis: release barrier for failed job %s: %w", job.ID, err)
	}
	return nil
}
