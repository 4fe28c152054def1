// Package conciergeservice implements the Concierge Service (spec.md §4.4):
// it owns the per-owner concierge fiche/thread singleton, drives one
// run_concierge invocation through internal/ficherunner.Runner, and
// translates a spawn_commis interrupt into the two-phase CommisJob/barrier
// setup spec.md §4.5 describes, deferring the course until the barrier
// resolves.
//
// Grounded on the teacher's internal/tasks.TaskRunner suspend/resume shape
// (internal/tasks/runner.go): a run either completes, fails, or suspends
// pending external work, and a caller either gets the suspended state back
// immediately or blocks until it resolves. Here "suspend" is
// *ficherunner.Interrupted and "external work" is one or more commis jobs
// draining through internal/commisrunner.
package conciergeservice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rjlane/courses/internal/barrier"
	"github.com/rjlane/courses/internal/commis"
	"github.com/rjlane/courses/internal/credentials"
	"github.com/rjlane/courses/internal/events"
	"github.com/rjlane/courses/internal/ficherunner"
	"github.com/rjlane/courses/internal/jobqueue"
	"github.com/rjlane/courses/internal/store"
)

// defaultConciergeInstructions seeds a fresh owner's concierge fiche. Owners
// can edit it afterward through the regular fiche-update surface.
const defaultConciergeInstructions = "You are the concierge: the first fiche a user talks to. " +
	"Handle what you can directly; delegate longer-running or specialized work to commis via spawn_commis."

// ficheRunner is the slice of *ficherunner.Runner Service depends on,
// narrowed to an interface so tests can supply a fake instead of driving a
// real eino ADK run.
type ficheRunner interface {
	RunThread(ctx context.Context, fiche *store.Fiche, thread *store.Thread, course *store.Course) (*ficherunner.Result, error)
}

// Options configures one run_concierge invocation (spec.md §4.4 signature:
// "run_concierge(owner_id, task, timeout, return_on_deferred, model?,
// reasoning_effort?)").
type Options struct {
	Timeout          time.Duration // 0 uses Service.DefaultTimeout
	ReturnOnDeferred bool
	Model            string // only applied when the concierge fiche is first created
	ReasoningEffort  string
}

// Result is the ConciergeResult spec.md §4.4 returns.
type Result struct {
	CourseID   string
	ThreadID   string
	Status     store.CourseStatus
	Result     string
	Error      string
	DurationMs int64
}

// Service runs concierge invocations. One Service is shared process-wide.
type Service struct {
	Store    *store.Store
	Bus      *events.Bus
	Barrier  *barrier.Manager
	Runner   ficheRunner
	Resolver credentials.Resolver

	DefaultTimeout    time.Duration // 0 means no deadline beyond ctx's own
	MaxCommisAttempts int           // 0 defaults to 5
	PollInterval      time.Duration // polling cadence for await-then-reenter; 0 defaults to 500ms
}

func New(st *store.Store, bus *events.Bus, barrierMgr *barrier.Manager, runner *ficherunner.Runner, resolver credentials.Resolver) *Service {
	return &Service{Store: st, Bus: bus, Barrier: barrierMgr, Runner: runner, Resolver: resolver}
}

func (s *Service) maxCommisAttempts() int {
	if s.MaxCommisAttempts <= 0 {
		return 5
	}
	return s.MaxCommisAttempts
}

func (s *Service) pollInterval() time.Duration {
	if s.PollInterval <= 0 {
		return 500 * time.Millisecond
	}
	return s.PollInterval
}

// RunConcierge implements spec.md §4.4's run_concierge: get-or-create the
// concierge fiche/thread, start a fresh course, append the task as a user
// message, and run it. If timeout <= 0, Service.DefaultTimeout applies (and
// if that's also zero, the call runs until ctx is cancelled).
func (s *Service) RunConcierge(ctx context.Context, ownerID, task string, opts Options) (*Result, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = s.DefaultTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	ctx = credentials.WithResolver(ctx, s.Resolver)

	fiche, err := s.getOrCreateConciergeFiche(ctx, ownerID, opts.Model, opts.ReasoningEffort)
	if err != nil {
		return nil, fmt.Errorf("conciergeservice: get or create concierge fiche: %w", err)
	}
	thread, err := s.getOrCreateConciergeThread(ctx, fiche, ownerID)
	if err != nil {
		return nil, fmt.Errorf("conciergeservice: get or create concierge thread: %w", err)
	}

	course := &store.Course{
		ID:       uuid.NewString(),
		FicheID:  fiche.ID,
		ThreadID: thread.ID,
		OwnerID:  ownerID,
		Status:   store.CourseRunning,
		Trigger:  store.TriggerAPI,
		TraceID:  uuid.NewString(),
	}
	if err := s.Store.CreateCourse(ctx, course); err != nil {
		return nil, fmt.Errorf("conciergeservice: create course: %w", err)
	}
	if err := s.Store.AppendMessage(ctx, &store.ThreadMessage{
		ID:       uuid.NewString(),
		ThreadID: thread.ID,
		Role:     store.RoleUserMsg,
		Content:  task,
	}); err != nil {
		return nil, fmt.Errorf("conciergeservice: append task message: %w", err)
	}

	s.Bus.Publish(events.NewTypedEventWithCourse(events.SourceConcierge,
		events.CourseCreatedPayload{FicheID: fiche.ID, OwnerID: ownerID, TraceID: course.TraceID}, course.ID))

	return s.runAndHandle(ctx, fiche, thread, course, opts.ReturnOnDeferred)
}

// Resume re-enters a continuation course once its barrier has resolved
// (spec.md §4.5 Phase 3). It is the handler a job_queue worker registers
// under the "course_continuation" job kind — internal/barrier.Manager
// enqueues exactly that job id once it creates the continuation row.
func (s *Service) Resume(ctx context.Context, courseID string) error {
	course, err := s.Store.GetCourse(ctx, courseID)
	if err != nil {
		return fmt.Errorf("conciergeservice: load continuation course %s: %w", courseID, err)
	}
	fiche, err := s.Store.GetFiche(ctx, course.FicheID)
	if err != nil {
		return fmt.Errorf("conciergeservice: load fiche %s: %w", course.FicheID, err)
	}
	thread, err := s.Store.GetThread(ctx, course.ThreadID)
	if err != nil {
		return fmt.Errorf("conciergeservice: load thread %s: %w", course.ThreadID, err)
	}

	if err := s.Store.SetCourseRunning(ctx, course.ID); err != nil {
		return fmt.Errorf("conciergeservice: mark course %s running: %w", course.ID, err)
	}
	course.Status = store.CourseRunning

	runCtx := credentials.WithResolver(ctx, s.Resolver)
	if s.DefaultTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, s.DefaultTimeout)
		defer cancel()
	}

	// Nobody is synchronously waiting on this invocation's return value — a
	// queue worker drove it — so a further deferral just re-enters the same
	// await-then-reenter machinery with returnOnDeferred true (fire and
	// forget from here; the next continuation's job_queue entry carries it
	// forward).
	_, err = s.runAndHandle(runCtx, fiche, thread, course, true)
	return err
}

func (s *Service) runAndHandle(ctx context.Context, fiche *store.Fiche, thread *store.Thread, course *store.Course, returnOnDeferred bool) (*Result, error) {
	start := time.Now()
	result, runErr := s.Runner.RunThread(ctx, fiche, thread, course)
	duration := time.Since(start).Milliseconds()

	var interrupted *ficherunner.Interrupted
	switch {
	case errors.As(runErr, &interrupted):
		return s.handleInterrupt(ctx, course, interrupted, returnOnDeferred)
	case runErr != nil:
		return s.handleFailure(ctx, course, runErr, duration)
	default:
		return s.handleSuccess(ctx, course, result, duration)
	}
}

func (s *Service) handleSuccess(ctx context.Context, course *store.Course, result *ficherunner.Result, durationMs int64) (*Result, error) {
	if err := s.Store.SetCourseStatus(ctx, course.ID, store.CourseSuccess, result.Content, "", durationMs); err != nil {
		return nil, fmt.Errorf("conciergeservice: set course %s success: %w", course.ID, err)
	}
	s.Bus.Publish(events.NewTypedEventWithCourse(events.SourceConcierge, events.CourseCompletePayload{
		Summary: result.Content, DurationMs: durationMs, TokensInput: result.TokensInput, TokensOutput: result.TokensOutput,
	}, course.ID))
	return &Result{CourseID: course.ID, ThreadID: course.ThreadID, Status: store.CourseSuccess, Result: result.Content, DurationMs: durationMs}, nil
}

func (s *Service) handleFailure(ctx context.Context, course *store.Course, runErr error, durationMs int64) (*Result, error) {
	message := runErr.Error()
	if err := s.Store.SetCourseStatus(ctx, course.ID, store.CourseFailed, "", message, durationMs); err != nil {
		return nil, fmt.Errorf("conciergeservice: set course %s failed: %w", course.ID, err)
	}
	s.Bus.Publish(events.NewTypedEventWithCourse(events.SourceConcierge,
		events.CourseFailedPayload{ErrorType: "execution_error", Message: message}, course.ID))
	return &Result{CourseID: course.ID, ThreadID: course.ThreadID, Status: store.CourseFailed, Error: message, DurationMs: durationMs}, nil
}

// handleInterrupt runs spec.md §4.5 Phase 1/Phase 2 in one sequence: insert
// each requested CommisJob as created, open the barrier tracking all of
// them, flip each to queued, and enqueue it on the durable job queue. Only
// once all of that has landed does the course get marked deferred — a crash
// between CreateCommisJob and SetCourseDeferred just leaves orphaned
// "created" rows nothing ever claims, which is recoverable by hand and
// strictly safer than marking deferred before the jobs exist to resolve it.
func (s *Service) handleInterrupt(ctx context.Context, course *store.Course, interrupt *ficherunner.Interrupted, returnOnDeferred bool) (*Result, error) {
	for _, spec := range interrupt.Jobs {
		mode := store.CommisPlain
		gitRepo := ""
		if spec.Mode == string(store.CommisWorkspace) {
			mode = store.CommisWorkspace
			if repo, ok := spec.Config["git_repo"].(string); ok {
				gitRepo = repo
			}
		}
		job := &store.CommisJob{
			ID:                spec.ID,
			OwnerID:           course.OwnerID,
			ConciergeCourseID: course.ID,
			Task:              spec.Task,
			ExecutionMode:     mode,
			GitRepo:           gitRepo,
			Status:            store.CommisCreated,
			CommisID:          spec.FicheID,
			TraceID:           course.TraceID,
		}
		if err := s.Store.CreateCommisJob(ctx, job); err != nil {
			return nil, fmt.Errorf("conciergeservice: create commis job %s: %w", spec.ID, err)
		}
	}

	if err := s.Barrier.CreatePending(ctx, course.ID, interrupt.JobIDs); err != nil {
		return nil, fmt.Errorf("conciergeservice: create barrier for course %s: %w", course.ID, err)
	}

	now := time.Now()
	for _, spec := range interrupt.Jobs {
		if err := s.Store.SetCommisJobStatus(ctx, spec.ID, store.CommisQueued); err != nil {
			return nil, fmt.Errorf("conciergeservice: queue commis job %s: %w", spec.ID, err)
		}
		if _, err := jobqueue.Enqueue(ctx, s.Store, commis.JobKind+":"+spec.ID, now, s.maxCommisAttempts()); err != nil {
			return nil, fmt.Errorf("conciergeservice: enqueue commis job %s: %w", spec.ID, err)
		}
	}

	if err := s.Store.SetCourseDeferred(ctx, course.ID); err != nil {
		return nil, fmt.Errorf("conciergeservice: mark course %s deferred: %w", course.ID, err)
	}
	s.Bus.Publish(events.NewTypedEventWithCourse(events.SourceConcierge,
		events.CourseDeferredPayload{JobIDs: interrupt.JobIDs, CloseStream: false}, course.ID))

	if returnOnDeferred {
		return &Result{CourseID: course.ID, ThreadID: course.ThreadID, Status: store.CourseDeferred}, nil
	}
	return s.awaitContinuation(ctx, course.ID)
}

// awaitContinuation implements the "await-then-reenter" half of run_concierge
// when return_on_deferred is false: poll for the continuation course
// internal/barrier.Manager eventually creates, following the chain if that
// continuation itself defers again, until a terminal outcome appears or ctx
// is done. A ctx deadline surfaces as a deferred Result with an explanatory
// Error rather than a bare Go error, matching the "nothing here raised, the
// wait just ran out" character of a timeout.
func (s *Service) awaitContinuation(ctx context.Context, courseID string) (*Result, error) {
	ticker := time.NewTicker(s.pollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return &Result{CourseID: courseID, Status: store.CourseDeferred,
				Error: "conciergeservice: timed out waiting for commis barrier to resolve"}, nil
		case <-ticker.C:
		}

		cont, err := s.Store.GetCourseByContinuationOf(ctx, courseID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("conciergeservice: load continuation of %s: %w", courseID, err)
		}

		switch cont.Status {
		case store.CourseSuccess, store.CourseFailed:
			return courseToResult(cont), nil
		case store.CourseDeferred:
			courseID = cont.ID // another spawn_commis in the same reentry; keep following the chain
		default:
			// queued or running: Resume hasn't finished this continuation yet.
		}
	}
}

func courseToResult(c *store.Course) *Result {
	return &Result{CourseID: c.ID, ThreadID: c.ThreadID, Status: c.Status, Result: c.Summary, Error: c.Error, DurationMs: c.DurationMs}
}

func (s *Service) getOrCreateConciergeFiche(ctx context.Context, ownerID, model, reasoningEffort string) (*store.Fiche, error) {
	fiche, err := s.Store.GetConciergeFiche(ctx, ownerID)
	if err == nil {
		return fiche, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	fiche = &store.Fiche{
		ID:                uuid.NewString(),
		OwnerID:           ownerID,
		Name:              "concierge",
		SystemInstruction: defaultConciergeInstructions,
		Model:             model,
		ReasoningEffort:   reasoningEffort,
		AllowedTools:      []string{"*"},
		Status:            store.FicheIdle,
		IsConcierge:       true,
	}
	if err := s.Store.CreateFiche(ctx, fiche); err != nil {
		return nil, err
	}
	return fiche, nil
}

func (s *Service) getOrCreateConciergeThread(ctx context.Context, fiche *store.Fiche, ownerID string) (*store.Thread, error) {
	thread, err := s.Store.GetConciergeThread(ctx, fiche.ID)
	if err == nil {
		return thread, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	thread = &store.Thread{ID: uuid.NewString(), FicheID: fiche.ID, OwnerID: ownerID, Type: store.ThreadConcierge}
	if err := s.Store.CreateThread(ctx, thread); err != nil {
		return nil, err
	}
	return thread, nil
}
