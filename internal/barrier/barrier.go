// Package barrier implements the Barrier Manager from spec.md §4.5: it
// tracks which commis jobs a deferred course is still waiting on, and, once
// the last one resolves, creates the course's continuation under the
// at-most-one guarantee the courses.continuation_of_course_id unique
// constraint provides.
package barrier

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/rjlane/courses/internal/store"
)

// ContinuationEnqueuer schedules the continuation course onto the regular
// execution path once it's created — normally internal/jobqueue.Enqueue
// wired to a "course_continuation" handler kind.
type ContinuationEnqueuer func(ctx context.Context, continuationCourseID string) error

type Manager struct {
	store    *store.Store
	enqueue  ContinuationEnqueuer
}

func NewManager(st *store.Store, enqueue ContinuationEnqueuer) *Manager {
	return &Manager{store: st, enqueue: enqueue}
}

// Release implements "Barrier Manager: release(job_id, status, summary)".
// It removes jobID from the barrier tracking parentCourseID's outstanding
// work; if that was the last one, it resolves the barrier into a
// continuation course and enqueues it. The summary is appended to the
// thread as the tool-role message carrying the commis result, exactly as
// the concierge's LLM would see a tool response.
func (m *Manager) Release(ctx context.Context, parentCourseID, jobID, toolCallID, summary string) (continued bool, continuationCourseID string, err error) {
	remaining, err := m.store.RemoveBarrierJob(ctx, parentCourseID, jobID)
	if err != nil {
		return false, "", fmt.Errorf("barrier: remove job %s from course %s: %w", jobID, parentCourseID, err)
	}
	if remaining > 0 {
		return false, "", nil
	}

	parent, err := m.store.GetCourse(ctx, parentCourseID)
	if err != nil {
		return false, "", fmt.Errorf("barrier: load parent course %s: %w", parentCourseID, err)
	}
	b, err := m.store.GetCommisBarrierByCourse(ctx, parentCourseID)
	if err != nil {
		return false, "", fmt.Errorf("barrier: load barrier for course %s: %w", parentCourseID, err)
	}

	continuation := &store.Course{
		ID:       uuid.NewString(),
		FicheID:  parent.FicheID,
		ThreadID: parent.ThreadID,
		OwnerID:  parent.OwnerID,
		Status:   store.CourseQueued,
		Trigger:  store.TriggerContinuation,
		TraceID:  parent.TraceID,
	}
	toolMessage := &store.ThreadMessage{
		ID:         uuid.NewString(),
		ThreadID:   parent.ThreadID,
		Role:       store.RoleTool,
		Content:    summary,
		ToolCallID: toolCallID,
		Processed:  false,
	}

	id, created, err := m.store.ResolveBarrier(ctx, b.ID, parent, continuation, toolMessage)
	if err != nil {
		return false, "", fmt.Errorf("barrier: resolve course %s: %w", parentCourseID, err)
	}
	if created && m.enqueue != nil {
		if enqueueErr := m.enqueue(ctx, id); enqueueErr != nil {
			return true, id, fmt.Errorf("barrier: enqueue continuation %s: %w", id, enqueueErr)
		}
	}
	return true, id, nil
}

// CreatePending inserts a CommisBarrier row with the given job ids, for the
// Concierge Service to call atomically with the created→queued transition
// (spec.md §4.5 Phase 2).
func (m *Manager) CreatePending(ctx context.Context, courseID string, jobIDs []string) error {
	return m.store.CreateCommisBarrier(ctx, &store.CommisBarrier{
		ID:       uuid.NewString(),
		CourseID: courseID,
		JobIDs:   jobIDs,
	})
}
