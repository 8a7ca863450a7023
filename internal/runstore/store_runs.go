package runstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const runColumns = "id, pipeline, status, incremental_mode, reprocess_unchanged, filters_json, metadata_json, error_message, started_at, completed_at"

// CreateRun inserts a new workflow run row.
func (s *Store) CreateRun(ctx context.Context, run *WorkflowRun) error {
	if run == nil {
		return errors.New("run is nil")
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = RunPending
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO workflow_runs (`+runColumns+`)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.Pipeline,
		run.Status,
		run.IncrementalMode,
		boolToInt(run.ReprocessUnchanged),
		nullableString(run.FiltersJSON),
		nullableString(run.MetadataJSON),
		nullableString(run.ErrorMessage),
		run.StartedAt.UTC().Format(time.RFC3339Nano),
		nullableTime(run.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetRun fetches a workflow run by identifier. Returns nil when missing.
func (s *Store) GetRun(ctx context.Context, id string) (*WorkflowRun, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM workflow_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs filtered by status set (or all runs when no status is
// provided), newest first.
func (s *Store) ListRuns(ctx context.Context, statuses ...RunStatus) ([]*WorkflowRun, error) {
	baseQuery := `SELECT ` + runColumns + ` FROM workflow_runs`
	orderClause := ` ORDER BY started_at DESC, id DESC`

	var (
		rows *sql.Rows
		err  error
	)
	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE status IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*WorkflowRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// MarkRunRunning transitions a pending run to running.
func (s *Store) MarkRunRunning(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE workflow_runs SET status = ? WHERE id = ? AND status = ?`,
		RunRunning, id, RunPending,
	)
	if err != nil {
		return fmt.Errorf("mark run running: %w", err)
	}
	return nil
}

// FinalizeRun transitions a run to a terminal status exactly once. A second
// finalization attempt is a no-op returning false.
func (s *Store) FinalizeRun(ctx context.Context, id string, status RunStatus, errorMessage string) (bool, error) {
	if !status.IsTerminal() {
		return false, fmt.Errorf("finalize run: %q is not terminal", status)
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE workflow_runs SET status = ?, error_message = ?, completed_at = ?
         WHERE id = ? AND status IN (?, ?)`,
		status,
		nullableString(errorMessage),
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		RunPending,
		RunRunning,
	)
	if err != nil {
		return false, fmt.Errorf("finalize run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// Stats returns a count of runs grouped by status.
func (s *Store) Stats(ctx context.Context) (RunStats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM workflow_runs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("run stats: %w", err)
	}
	defer rows.Close()

	stats := make(RunStats)
	for rows.Next() {
		var status RunStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

func scanRun(scanner interface{ Scan(dest ...any) error }) (*WorkflowRun, error) {
	var (
		id           string
		pipeline     string
		statusStr    string
		mode         string
		reprocess    sql.NullInt64
		filters      sql.NullString
		metadata     sql.NullString
		errorMessage sql.NullString
		startedRaw   string
		completedRaw sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&pipeline,
		&statusStr,
		&mode,
		&reprocess,
		&filters,
		&metadata,
		&errorMessage,
		&startedRaw,
		&completedRaw,
	); err != nil {
		return nil, err
	}

	run := &WorkflowRun{
		ID:              id,
		Pipeline:        pipeline,
		Status:          RunStatus(statusStr),
		IncrementalMode: mode,
		FiltersJSON:     filters.String,
		MetadataJSON:    metadata.String,
		ErrorMessage:    errorMessage.String,
	}
	if reprocess.Valid {
		run.ReprocessUnchanged = reprocess.Int64 != 0
	}
	if started, err := parseTimeString(startedRaw); err == nil {
		run.StartedAt = started
	}
	if completedRaw.Valid {
		if completed, err := parseTimeString(completedRaw.String); err == nil {
			run.CompletedAt = &completed
		}
	}
	return run, nil
}
