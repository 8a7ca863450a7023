// Package tableio reads and writes versioned model rows.
//
// Every write appends a row keyed by (entity_id, run_id); history is never
// updated or deleted. The "current" value per entity is the derived latest
// view: the row with the greatest (created_at, run_id) pair, resolved by a
// ranking query so concurrent writers can never produce a nondeterministic
// winner. Delta-mode writes compare content hashes against the latest view
// and count unchanged entities as deduplicated instead of appending.
//
// References hand consumers a lazy query over an upstream model's latest
// rows, restricted to the run's scope filters; no data moves until
// Materialize.
package tableio
