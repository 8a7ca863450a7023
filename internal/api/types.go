package api

import (
	"encoding/json"
	"time"

	"loom/internal/runstore"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// RunSummary describes a workflow run in a transport-friendly format.
type RunSummary struct {
	ID                 string          `json:"id"`
	Pipeline           string          `json:"pipeline"`
	Status             string          `json:"status"`
	IncrementalMode    string          `json:"incrementalMode"`
	ReprocessUnchanged bool            `json:"reprocessUnchanged"`
	Filters            json.RawMessage `json:"filters,omitempty"`
	Metadata           json.RawMessage `json:"metadata,omitempty"`
	ErrorMessage       string          `json:"errorMessage,omitempty"`
	StartedAt          string          `json:"startedAt,omitempty"`
	CompletedAt        string          `json:"completedAt,omitempty"`
}

// StepSummary describes one model's step log within a run.
type StepSummary struct {
	Model       string          `json:"model"`
	Status      string          `json:"status"`
	StartedAt   string          `json:"startedAt,omitempty"`
	CompletedAt string          `json:"completedAt,omitempty"`
	InputCount  int64           `json:"inputCount"`
	OutputCount int64           `json:"outputCount"`
	DedupCount  int64           `json:"dedupCount"`
	ErrorCount  int64           `json:"errorCount"`
	Errors      []StepErrorView `json:"errors,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

// StepErrorView is one captured row-level or step-level failure.
type StepErrorView struct {
	RowIdx    int    `json:"rowIdx"`
	ErrorType string `json:"errorType"`
	Message   string `json:"message"`
}

// RunStatus pairs a run with its per-step snapshot.
type RunStatus struct {
	Run   RunSummary    `json:"run"`
	Steps []StepSummary `json:"steps"`
}

// EventView is one entry of the ordered progress log. ID is the tail cursor.
type EventView struct {
	ID        int64  `json:"id"`
	Model     string `json:"model,omitempty"`
	Status    string `json:"status"`
	Current   int64  `json:"current,omitempty"`
	Total     int64  `json:"total,omitempty"`
	Message   string `json:"message,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
}

// EventPage is one page of events plus the cursor for the next poll.
type EventPage struct {
	Events []EventView `json:"events"`
	NextID int64       `json:"nextId"`
}

// FromRun converts a stored run into its DTO.
func FromRun(run *runstore.WorkflowRun) RunSummary {
	if run == nil {
		return RunSummary{}
	}
	summary := RunSummary{
		ID:                 run.ID,
		Pipeline:           run.Pipeline,
		Status:             string(run.Status),
		IncrementalMode:    run.IncrementalMode,
		ReprocessUnchanged: run.ReprocessUnchanged,
		ErrorMessage:       run.ErrorMessage,
		StartedAt:          formatTime(run.StartedAt),
	}
	if run.FiltersJSON != "" {
		summary.Filters = json.RawMessage(run.FiltersJSON)
	}
	if run.MetadataJSON != "" {
		summary.Metadata = json.RawMessage(run.MetadataJSON)
	}
	if run.CompletedAt != nil {
		summary.CompletedAt = formatTime(*run.CompletedAt)
	}
	return summary
}

// FromRuns converts a slice of stored runs.
func FromRuns(runs []*runstore.WorkflowRun) []RunSummary {
	out := make([]RunSummary, 0, len(runs))
	for _, run := range runs {
		out = append(out, FromRun(run))
	}
	return out
}

// FromStepLog converts one step log row.
func FromStepLog(log *runstore.StepLog) StepSummary {
	if log == nil {
		return StepSummary{}
	}
	summary := StepSummary{
		Model:       log.Model,
		Status:      string(log.Status),
		InputCount:  log.InputCount,
		OutputCount: log.OutputCount,
		DedupCount:  log.DedupCount,
		ErrorCount:  log.ErrorCount,
	}
	if log.StartedAt != nil {
		summary.StartedAt = formatTime(*log.StartedAt)
	}
	if log.CompletedAt != nil {
		summary.CompletedAt = formatTime(*log.CompletedAt)
	}
	for _, stepErr := range log.Errors {
		summary.Errors = append(summary.Errors, StepErrorView{
			RowIdx:    stepErr.RowIdx,
			ErrorType: stepErr.ErrorType,
			Message:   stepErr.Message,
		})
	}
	if log.MetadataJSON != "" {
		summary.Metadata = json.RawMessage(log.MetadataJSON)
	}
	return summary
}

// FromEvent converts one progress event.
func FromEvent(event *runstore.StepEvent) EventView {
	if event == nil {
		return EventView{}
	}
	return EventView{
		ID:        event.ID,
		Model:     event.Model,
		Status:    string(event.Status),
		Current:   event.Current,
		Total:     event.Total,
		Message:   event.Message,
		CreatedAt: formatTime(event.CreatedAt),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
