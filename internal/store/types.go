package store

import "time"

// Role identifies a User's access level (spec.md §3 User).
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

type User struct {
	ID        string
	Email     string
	Role      Role
	Provider  string
	CreatedAt time.Time
}

// FicheStatus is one of {idle, running, error} (spec.md §3 Fiche).
type FicheStatus string

const (
	FicheIdle    FicheStatus = "idle"
	FicheRunning FicheStatus = "running"
	FicheError   FicheStatus = "error"
)

type Fiche struct {
	ID                string
	OwnerID           string
	Name              string
	SystemInstruction string
	TaskInstruction   string
	Model             string
	ReasoningEffort   string
	AllowedTools      []string // may contain wildcard entries, e.g. "fs.*"
	Config            map[string]any
	ScheduleCron      string // empty if not scheduled
	Status            FicheStatus
	IsConcierge       bool
	CreatedAt         time.Time
}

// ThreadType is one of {manual, schedule, workflow, concierge, commis}
// (spec.md §3 Thread).
type ThreadType string

const (
	ThreadManual     ThreadType = "manual"
	ThreadSchedule   ThreadType = "schedule"
	ThreadWorkflow   ThreadType = "workflow"
	ThreadConcierge  ThreadType = "concierge"
	ThreadCommis     ThreadType = "commis"
)

type Thread struct {
	ID         string
	FicheID    string
	OwnerID    string
	Type       ThreadType
	FicheState []byte // opaque checkpoint handle, see internal/ficherunner.Checkpointer
	CreatedAt  time.Time
}

// MessageRole is one of {system, user, assistant, tool} (spec.md §3 ThreadMessage).
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUserMsg   MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
)

type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type ThreadMessage struct {
	ID          string
	ThreadID    string
	Role        MessageRole
	Content     string
	ToolCalls   []ToolCall
	ToolCallID  string // set on role=tool messages, correlates to ToolCall.ID
	Processed   bool
	AssistantID string // stable UUID for assistant messages, for stream correlation
	CreatedAt   time.Time
}

// CourseStatus is one of {queued, running, success, failed, deferred}
// (spec.md §3 Course).
type CourseStatus string

const (
	CourseQueued   CourseStatus = "queued"
	CourseRunning  CourseStatus = "running"
	CourseSuccess  CourseStatus = "success"
	CourseFailed   CourseStatus = "failed"
	CourseDeferred CourseStatus = "deferred"
)

// CourseTrigger is one of {manual, schedule, api, webhook, continuation}.
type CourseTrigger string

const (
	TriggerManual       CourseTrigger = "manual"
	TriggerSchedule     CourseTrigger = "schedule"
	TriggerAPI          CourseTrigger = "api"
	TriggerWebhook      CourseTrigger = "webhook"
	TriggerContinuation CourseTrigger = "continuation"
)

type Course struct {
	ID                     string
	FicheID                string
	ThreadID               string
	OwnerID                string
	Status                 CourseStatus
	Trigger                CourseTrigger
	TraceID                string
	StartedAt              time.Time
	FinishedAt             *time.Time
	DurationMs             int64
	TotalTokens            int
	TotalCostUSD           float64
	Summary                string
	Error                  string
	ContinuationOfCourseID string // empty if this is not a continuation
}

type CourseEvent struct {
	CourseID  string
	Seq       int64
	EventType string
	Payload   map[string]any
	CreatedAt time.Time
}

// CommisExecutionMode is one of {plain, workspace} (spec.md §4.5).
type CommisExecutionMode string

const (
	CommisPlain     CommisExecutionMode = "plain"
	CommisWorkspace CommisExecutionMode = "workspace"
)

// CommisJobStatus is one of {created, queued, running, success, failed, cancelled}.
type CommisJobStatus string

const (
	CommisCreated   CommisJobStatus = "created"
	CommisQueued    CommisJobStatus = "queued"
	CommisRunning   CommisJobStatus = "running"
	CommisSuccess   CommisJobStatus = "success"
	CommisFailed    CommisJobStatus = "failed"
	CommisCancelled CommisJobStatus = "cancelled"
)

type CommisJob struct {
	ID               string
	OwnerID          string
	ConciergeCourseID string
	Task             string
	Model            string
	ExecutionMode    CommisExecutionMode
	GitRepo          string // set when ExecutionMode == CommisWorkspace
	Status           CommisJobStatus
	CommisID         string
	TraceID          string
	ResultSummary    string
	Artifacts        string // pointer/URI to stored artifacts, opaque here
	CreatedAt        time.Time
	FinishedAt       *time.Time
}

type CommisBarrier struct {
	ID        string
	CourseID  string
	JobIDs    []string // still-outstanding job ids
	CreatedAt time.Time
}

// RunnerStatus is one of {online, offline}.
type RunnerStatus string

const (
	RunnerOnline  RunnerStatus = "online"
	RunnerOffline RunnerStatus = "offline"
)

type Runner struct {
	ID             string
	OwnerID        string
	Name           string
	AuthSecretHash string
	Status         RunnerStatus
	LastHeartbeat  time.Time
}

// RunnerJobStatus is one of {pending, running, success, failed, timeout}.
type RunnerJobStatus string

const (
	RunnerJobPending RunnerJobStatus = "pending"
	RunnerJobRunning RunnerJobStatus = "running"
	RunnerJobSuccess RunnerJobStatus = "success"
	RunnerJobFailed  RunnerJobStatus = "failed"
	RunnerJobTimeout RunnerJobStatus = "timeout"
)

type RunnerJob struct {
	ID          string
	RunnerID    string
	OwnerID     string
	Command     string
	TimeoutSecs int
	Status      RunnerJobStatus
	StdoutTail  string
	StderrTail  string
	ExitCode    *int
	WorkerID    string
	CreatedAt   time.Time
	FinishedAt  *time.Time
}

// JobQueueStatus is one of {pending, running, success, failure, dead}
// (spec.md §4.6).
type JobQueueStatus string

const (
	JobQueuePending JobQueueStatus = "pending"
	JobQueueRunning JobQueueStatus = "running"
	JobQueueSuccess JobQueueStatus = "success"
	JobQueueFailure JobQueueStatus = "failure"
	JobQueueDead    JobQueueStatus = "dead"
)

type JobQueueEntry struct {
	ID             int64
	JobID          string
	ScheduledFor   time.Time
	DedupeKey      string
	Status         JobQueueStatus
	Attempts       int
	MaxAttempts    int
	LeaseOwner     string
	LeaseExpiresAt *time.Time
	LastError      string
	CreatedAt      time.Time
}

// TriggerType is one of {webhook, schedule}.
type TriggerType string

const (
	TriggerTypeWebhook  TriggerType = "webhook"
	TriggerTypeSchedule TriggerType = "schedule"
)

type Trigger struct {
	ID         string
	FicheID    string
	Type       TriggerType
	SecretHash string
	CreatedAt  time.Time
}

type DeviceToken struct {
	OwnerID     string
	DeviceID    string
	HashedToken string
	CreatedAt   time.Time
}
