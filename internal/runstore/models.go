package runstore

import (
	"strings"
	"time"
)

// RunStatus represents the lifecycle of a workflow run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCanceled  RunStatus = "canceled"
)

var allRunStatuses = []RunStatus{RunPending, RunRunning, RunCompleted, RunFailed, RunCanceled}

// AllRunStatuses returns the ordered list of known run statuses.
func AllRunStatuses() []RunStatus {
	cp := make([]RunStatus, len(allRunStatuses))
	copy(cp, allRunStatuses)
	return cp
}

// ParseRunStatus converts a string into a known RunStatus.
func ParseRunStatus(value string) (RunStatus, bool) {
	normalized := RunStatus(strings.ToLower(strings.TrimSpace(value)))
	for _, status := range allRunStatuses {
		if status == normalized {
			return status, true
		}
	}
	return "", false
}

// IsTerminal reports whether the status is final.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunCanceled:
		return true
	default:
		return false
	}
}

// StepStatus represents the lifecycle of one model execution within a run.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
	StepCanceled  StepStatus = "canceled"
)

// IsTerminal reports whether the step reached a final state.
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepCompleted, StepFailed, StepSkipped, StepCanceled:
		return true
	default:
		return false
	}
}

// EventStatus labels entries in the progress event log.
type EventStatus string

const (
	EventRunning   EventStatus = "running"
	EventProgress  EventStatus = "progress"
	EventCompleted EventStatus = "completed"
	EventFailed    EventStatus = "failed"
	EventSkipped   EventStatus = "skipped"
	EventCanceled  EventStatus = "canceled"
	// EventGuardrail records a graceful budget stop. Not a failure.
	EventGuardrail EventStatus = "guardrail_triggered"
)

// UpstreamSkipReason is the StepLog error message recorded when a model is
// skipped because a dependency in an earlier level failed.
const UpstreamSkipReason = "upstream failure"

// WorkflowRun is one row per pipeline invocation.
type WorkflowRun struct {
	ID                 string
	Pipeline           string
	Status             RunStatus
	IncrementalMode    string
	ReprocessUnchanged bool
	FiltersJSON        string
	MetadataJSON       string
	ErrorMessage       string
	StartedAt          time.Time
	CompletedAt        *time.Time
}

// StepError captures one row-level failure inside a model body.
type StepError struct {
	RowIdx    int    `json:"row_idx"`
	ErrorType string `json:"error_type"`
	Message   string `json:"message"`
}

// StepLog is the per-(run, model) summary row, upserted in place as the step
// progresses.
type StepLog struct {
	RunID        string
	Model        string
	Status       StepStatus
	StartedAt    *time.Time
	CompletedAt  *time.Time
	InputCount   int64
	OutputCount  int64
	DedupCount   int64
	ErrorCount   int64
	Errors       []StepError
	MetadataJSON string
}

// StepEvent is one append-only entry in the progress log. ID is assigned by
// the store and is the only ordering key.
type StepEvent struct {
	ID           int64
	RunID        string
	Model        string
	Status       EventStatus
	Current      int64
	Total        int64
	Message      string
	MetadataJSON string
	CreatedAt    time.Time
}

// RunStats counts runs grouped by status.
type RunStats map[RunStatus]int

// DatabaseHealth captures diagnostic information about the store database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	TablesPresent    []string
	MissingTables    []string
	IntegrityCheck   bool
	TotalRuns        int
	TotalEvents      int
	Error            string
}
