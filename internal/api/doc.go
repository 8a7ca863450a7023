// Package api is the public surface callers use to invoke pipelines and
// query run progress. It translates internal store models into
// transport-friendly DTOs so CLI and scheduled-trigger consumers never couple
// to internal types.
//
// # Key Operations
//
// RunPipeline: resolve a named pipeline, validate its dependency graph, take
// the coordinator lock, create (or resume) a run, and drive the level
// scheduler to completion.
//
// RunModel: execute a single registered model under checkpointing, for ad-hoc
// invocations and tests.
//
// GetStatus: one run plus its per-step log snapshot.
//
// TailEvents: cursor-based paging over the run's ordered event log.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Internal enums are exposed as lowercase
// strings. Timestamps use RFC3339 with milliseconds. Run IDs are UUIDv7 so
// their lexicographic order follows creation order, which the versioned
// tables rely on for latest-row tie-breaks.
package api
