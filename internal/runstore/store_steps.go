package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

const stepColumns = "run_id, model, status, started_at, completed_at, input_count, output_count, dedup_count, error_count, errors_json, metadata_json"

// UpsertStepLog writes a step summary keyed by (run_id, model). At most one
// row per key ever exists; repeated calls update it in place.
func (s *Store) UpsertStepLog(ctx context.Context, log *StepLog) error {
	if log == nil {
		return errors.New("step log is nil")
	}
	errorsJSON := ""
	if len(log.Errors) > 0 {
		data, err := json.Marshal(log.Errors)
		if err != nil {
			return fmt.Errorf("marshal step errors: %w", err)
		}
		errorsJSON = string(data)
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO step_logs (`+stepColumns+`)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(run_id, model) DO UPDATE SET
             status = excluded.status,
             started_at = COALESCE(excluded.started_at, step_logs.started_at),
             completed_at = excluded.completed_at,
             input_count = excluded.input_count,
             output_count = excluded.output_count,
             dedup_count = excluded.dedup_count,
             error_count = excluded.error_count,
             errors_json = excluded.errors_json,
             metadata_json = excluded.metadata_json`,
		log.RunID,
		log.Model,
		log.Status,
		nullableTime(log.StartedAt),
		nullableTime(log.CompletedAt),
		log.InputCount,
		log.OutputCount,
		log.DedupCount,
		log.ErrorCount,
		nullableString(errorsJSON),
		nullableString(log.MetadataJSON),
	)
	if err != nil {
		return fmt.Errorf("upsert step log: %w", err)
	}
	return nil
}

// GetStepLog fetches the step summary for (run, model). Returns nil when the
// step has never been recorded.
func (s *Store) GetStepLog(ctx context.Context, runID, modelName string) (*StepLog, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+stepColumns+` FROM step_logs WHERE run_id = ? AND model = ?`,
		runID, modelName,
	)
	log, err := scanStepLog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get step log: %w", err)
	}
	return log, nil
}

// StepLogsForRun returns all step summaries of a run ordered by model name.
func (s *Store) StepLogsForRun(ctx context.Context, runID string) ([]*StepLog, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+stepColumns+` FROM step_logs WHERE run_id = ? ORDER BY model`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list step logs: %w", err)
	}
	defer rows.Close()

	var logs []*StepLog
	for rows.Next() {
		log, err := scanStepLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

func scanStepLog(scanner interface{ Scan(dest ...any) error }) (*StepLog, error) {
	var (
		runID        string
		modelName    string
		statusStr    string
		startedRaw   sql.NullString
		completedRaw sql.NullString
		inputCount   int64
		outputCount  int64
		dedupCount   int64
		errorCount   int64
		errorsRaw    sql.NullString
		metadata     sql.NullString
	)

	if err := scanner.Scan(
		&runID,
		&modelName,
		&statusStr,
		&startedRaw,
		&completedRaw,
		&inputCount,
		&outputCount,
		&dedupCount,
		&errorCount,
		&errorsRaw,
		&metadata,
	); err != nil {
		return nil, err
	}

	log := &StepLog{
		RunID:        runID,
		Model:        modelName,
		Status:       StepStatus(statusStr),
		InputCount:   inputCount,
		OutputCount:  outputCount,
		DedupCount:   dedupCount,
		ErrorCount:   errorCount,
		MetadataJSON: metadata.String,
	}
	if startedRaw.Valid {
		if started, err := parseTimeString(startedRaw.String); err == nil {
			log.StartedAt = &started
		}
	}
	if completedRaw.Valid {
		if completed, err := parseTimeString(completedRaw.String); err == nil {
			log.CompletedAt = &completed
		}
	}
	if errorsRaw.Valid && errorsRaw.String != "" {
		if err := json.Unmarshal([]byte(errorsRaw.String), &log.Errors); err != nil {
			return nil, fmt.Errorf("unmarshal step errors: %w", err)
		}
	}
	return log, nil
}
