package runstore

import (
	"context"
	"fmt"
	"time"
)

// ClearRuns removes runs in the given terminal statuses along with their step
// logs and events. Returns the number of runs removed.
func (s *Store) ClearRuns(ctx context.Context, statuses ...RunStatus) (int64, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	for _, status := range statuses {
		if !status.IsTerminal() {
			return 0, fmt.Errorf("clear runs: %q is not terminal", status)
		}
	}

	placeholders := makePlaceholders(len(statuses))
	args := make([]any, len(statuses))
	for i, status := range statuses {
		args[i] = status
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin clear tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	subquery := `SELECT id FROM workflow_runs WHERE status IN (` + placeholders + `)`
	if _, err := tx.ExecContext(ctx, `DELETE FROM step_events WHERE run_id IN (`+subquery+`)`, args...); err != nil {
		return 0, fmt.Errorf("clear events: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM step_logs WHERE run_id IN (`+subquery+`)`, args...); err != nil {
		return 0, fmt.Errorf("clear step logs: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM workflow_runs WHERE status IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("clear runs: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit clear: %w", err)
	}
	return removed, nil
}

// PruneEvents deletes events belonging to terminal runs that completed before
// the cutoff. Step logs and run rows are kept; only the event log shrinks.
func (s *Store) PruneEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`DELETE FROM step_events WHERE run_id IN (
            SELECT id FROM workflow_runs
            WHERE status IN (?, ?, ?) AND completed_at IS NOT NULL AND completed_at < ?
        )`,
		RunCompleted,
		RunFailed,
		RunCanceled,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return res.RowsAffected()
}
