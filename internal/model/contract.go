package model

import (
	"context"
	"time"
)

// Mode selects how much upstream data a run reprocesses.
type Mode string

const (
	// ModeFull reprocesses every in-scope entity.
	ModeFull Mode = "full"
	// ModeDelta skips entities whose content hash is unchanged.
	ModeDelta Mode = "delta"
)

// ParseMode converts a string into a known Mode.
func ParseMode(value string) (Mode, bool) {
	switch Mode(value) {
	case ModeFull, "":
		return ModeFull, true
	case ModeDelta:
		return ModeDelta, true
	default:
		return "", false
	}
}

// Predicate restricts a reference query on a column. Supported ops are
// "=", "!=", "<", "<=", ">", ">=".
type Predicate struct {
	Column string
	Op     string
	Value  any
}

// Filters describes which entities are in scope for a run.
type Filters struct {
	// EntityIDs restricts the run to specific entities. Empty means all.
	EntityIDs []string
	// Where holds additional column predicates pushed into reference queries.
	Where []Predicate
}

// Empty reports whether the filter admits every entity.
func (f Filters) Empty() bool {
	return len(f.EntityIDs) == 0 && len(f.Where) == 0
}

// PipelineContext is the per-run value passed by reference into every model
// call. It is created once per invocation and never mutated concurrently:
// each level's models get an immutable view.
type PipelineContext struct {
	RunID              string
	Pipeline           string
	Filters            Filters
	IncrementalMode    Mode
	ReprocessUnchanged bool
	Metadata           map[string]string
	StartedAt          time.Time
}

// Row is one record produced by a model. Keys must match the model's declared
// columns; values are stored JSON-encoded.
type Row struct {
	EntityID string
	// ContentHash enables incremental skip; empty disables hashing for the row.
	ContentHash string
	Values      map[string]any
}

// StoredRow is a versioned row read back from a model's table.
type StoredRow struct {
	EntityID    string
	RunID       string
	ContentHash string
	Values      map[string]any
	CreatedAt   time.Time
}

// Reference is a lazy, filterable query handle over an upstream model's
// latest rows, scoped to the active run's filters. No data moves until
// Materialize is called.
type Reference interface {
	// Filter returns a new Reference with an additional predicate. The
	// receiver is unchanged.
	Filter(p Predicate) Reference
	// Materialize executes the query and returns the matching latest rows.
	Materialize(ctx context.Context) ([]StoredRow, error)
	// Model returns the name of the producing model.
	Model() string
}

// Writer appends versioned rows for the executing model and run.
type Writer interface {
	// Write appends rows. In delta mode rows whose content hash matches the
	// entity's current latest row are skipped and counted as deduplicated.
	Write(ctx context.Context, rows []Row) error
	// RowsWritten returns the number of rows persisted so far.
	RowsWritten() int64
	// RowsDeduplicated returns the number of rows skipped by hash match.
	RowsDeduplicated() int64
	// RowsSubmitted returns the total rows the model handed to Write,
	// persisted or deduplicated.
	RowsSubmitted() int64
}

// Result summarizes one model execution.
type Result struct {
	RowsSubmitted    int64
	RowsWritten      int64
	RowsDeduplicated int64
	Metrics          map[string]float64
}

// Func is the model function contract. Implementations read upstream data
// through refs, write through w, and must honor ctx cancellation.
type Func func(ctx context.Context, pc *PipelineContext, refs map[string]Reference, w Writer, cfg map[string]any) (Result, error)
