package events

import (
	"encoding/json"
	"time"
)

// EventPayload is the interface all typed payloads implement.
type EventPayload interface {
	EventType() EventType
}

// =============================================================================
// COURSE LIFECYCLE
// =============================================================================

type CourseCreatedPayload struct {
	FicheID string `json:"fiche_id"`
	OwnerID string `json:"owner_id"`
	TraceID string `json:"trace_id"`
}

func (CourseCreatedPayload) EventType() EventType { return EventCourseCreated }

type CourseDeferredPayload struct {
	BarrierID   string   `json:"barrier_id"`
	JobIDs      []string `json:"job_ids"`
	CloseStream bool     `json:"close_stream"`
}

func (CourseDeferredPayload) EventType() EventType { return EventCourseDeferred }

type CourseCompletePayload struct {
	Summary      string `json:"summary"`
	DurationMs   int64  `json:"duration_ms"`
	TokensInput  int    `json:"tokens_input,omitempty"`
	TokensOutput int    `json:"tokens_output,omitempty"`
}

func (CourseCompletePayload) EventType() EventType { return EventCourseComplete }

type CourseFailedPayload struct {
	ErrorType string `json:"error_type"`
	Message   string `json:"message"`
}

func (CourseFailedPayload) EventType() EventType { return EventCourseFailed }

// =============================================================================
// CONCIERGE EVENTS
// =============================================================================

type ConciergeTokenPayload struct {
	MessageID string `json:"message_id"`
	Token     string `json:"token"`
	Index     int    `json:"index"`
}

func (ConciergeTokenPayload) EventType() EventType { return EventConciergeToken }

type ToolStatus string

const (
	ToolStatusStarted   ToolStatus = "started"
	ToolStatusCompleted ToolStatus = "completed"
	ToolStatusFailed    ToolStatus = "failed"
)

// ConciergeToolPayload backs CONCIERGE_TOOL_STARTED/COMPLETED/FAILED; all
// three share this shape, distinguished by EventType().
type ConciergeToolPayload struct {
	Status        ToolStatus     `json:"status"`
	ToolName      string         `json:"tool_name"`
	ArgsPreview   map[string]any `json:"args_preview,omitempty"`
	ResultPreview string         `json:"result_preview,omitempty"`
	ErrorType     string         `json:"error_type,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
}

func (p ConciergeToolPayload) EventType() EventType {
	switch p.Status {
	case ToolStatusCompleted:
		return EventConciergeToolCompleted
	case ToolStatusFailed:
		return EventConciergeToolFailed
	default:
		return EventConciergeToolStarted
	}
}

type ConciergeHeartbeatPayload struct {
	ThreadID string `json:"thread_id"`
}

func (ConciergeHeartbeatPayload) EventType() EventType { return EventConciergeHeartbeat }

// =============================================================================
// COMMIS EVENTS
// =============================================================================

type CommisStartedPayload struct {
	JobID   string `json:"job_id"`
	FicheID string `json:"fiche_id"`
}

func (CommisStartedPayload) EventType() EventType { return EventCommisStarted }

type CommisCompletePayload struct {
	JobID   string `json:"job_id"`
	Summary string `json:"summary"`
}

func (CommisCompletePayload) EventType() EventType { return EventCommisComplete }

type CommisFailedPayload struct {
	JobID     string `json:"job_id"`
	ErrorType string `json:"error_type"`
	Message   string `json:"message"`
}

func (CommisFailedPayload) EventType() EventType { return EventCommisFailed }

// =============================================================================
// TRIGGERS AND RUNNER OUTPUT
// =============================================================================

type TriggerFiredPayload struct {
	TriggerID   string         `json:"trigger_id"`
	FicheID     string         `json:"fiche_id"`
	Payload     map[string]any `json:"payload"`
	TriggerType string         `json:"trigger_type"`
}

func (TriggerFiredPayload) EventType() EventType { return EventTriggerFired }

type WorkerOutputChunkPayload struct {
	WorkerID string `json:"worker_id"`
	JobID    string `json:"job_id"`
	Stream   string `json:"stream"` // stdout|stderr
	Data     string `json:"data"`   // truncated to 4 KiB before emission
}

func (WorkerOutputChunkPayload) EventType() EventType { return EventWorkerOutputChunk }

// =============================================================================
// LLM / TOOL CALLBACK BRIDGE (internal/callbacks)
// =============================================================================

// LLMCallPayload backs EventLLMUsage. Phase is one of "request", "response",
// "error"; TokensInput/TokensOutput are populated on the "response" phase
// once the provider library reports usage (internal/callbacks/events.go).
type LLMCallPayload struct {
	Phase        string `json:"phase"`
	Model        string `json:"model"`
	MessageCount int    `json:"message_count,omitempty"`
	TokensInput  int    `json:"tokens_input,omitempty"`
	TokensOutput int    `json:"tokens_output,omitempty"`
	Error        string `json:"error,omitempty"`
}

func (LLMCallPayload) EventType() EventType { return EventLLMUsage }

// =============================================================================
// ERROR
// =============================================================================

type ErrorPayload struct {
	ErrorType string `json:"error_type"`
	Message   string `json:"message"`
	Source    string `json:"source,omitempty"`
}

func (ErrorPayload) EventType() EventType { return EventError }

// =============================================================================
// TYPED EVENT CONSTRUCTORS
// =============================================================================

func NewTypedEvent(source EventSource, payload EventPayload) Event {
	return Event{
		ID:        generateEventID(),
		Type:      payload.EventType(),
		Timestamp: time.Now(),
		Source:    source,
		Payload:   toMap(payload),
	}
}

func NewTypedEventWithCourse(source EventSource, payload EventPayload, courseID string) Event {
	return Event{
		ID:        generateEventID(),
		CourseID:  courseID,
		Type:      payload.EventType(),
		Timestamp: time.Now(),
		Source:    source,
		Payload:   toMap(payload),
	}
}

func toMap(v any) map[string]any {
	var result map[string]any
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}

// =============================================================================
// TYPED PAYLOAD EXTRACTORS
// =============================================================================

func ExtractPayload[T EventPayload](e Event) (T, bool) {
	var result T
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return result, false
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return result, false
	}
	return result, true
}

func GetCourseCreatedPayload(e Event) (CourseCreatedPayload, bool) {
	return ExtractPayload[CourseCreatedPayload](e)
}

func GetCourseDeferredPayload(e Event) (CourseDeferredPayload, bool) {
	return ExtractPayload[CourseDeferredPayload](e)
}

func GetCourseCompletePayload(e Event) (CourseCompletePayload, bool) {
	return ExtractPayload[CourseCompletePayload](e)
}

func GetConciergeToolPayload(e Event) (ConciergeToolPayload, bool) {
	return ExtractPayload[ConciergeToolPayload](e)
}

func GetCommisStartedPayload(e Event) (CommisStartedPayload, bool) {
	return ExtractPayload[CommisStartedPayload](e)
}

func GetCommisCompletePayload(e Event) (CommisCompletePayload, bool) {
	return ExtractPayload[CommisCompletePayload](e)
}

func GetCommisFailedPayload(e Event) (CommisFailedPayload, bool) {
	return ExtractPayload[CommisFailedPayload](e)
}

func GetTriggerFiredPayload(e Event) (TriggerFiredPayload, bool) {
	return ExtractPayload[TriggerFiredPayload](e)
}

func GetWorkerOutputChunkPayload(e Event) (WorkerOutputChunkPayload, bool) {
	return ExtractPayload[WorkerOutputChunkPayload](e)
}

func GetLLMCallPayload(e Event) (LLMCallPayload, bool) {
	return ExtractPayload[LLMCallPayload](e)
}
