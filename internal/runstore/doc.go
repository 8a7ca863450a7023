// Package runstore persists workflow runs, per-step logs, and the append-only
// progress event log in SQLite.
//
// Durability contract: step_logs are upserted by unique (run_id, model) so a
// restarted coordinator can inspect them and skip completed steps; step_events
// carry a monotonically increasing integer id that is the only ordering key
// for live tailing (created_at is display only); workflow_runs are finalized
// exactly once. All writes are either keyed upserts or append-only inserts,
// so concurrent models never contend on each other's rows.
package runstore
