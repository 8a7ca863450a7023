package runstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const eventColumns = "id, run_id, model, status, current, total, message, metadata_json, created_at"

// AppendEvent inserts a progress event and returns its assigned id. The id
// sequence is strictly increasing across the whole database regardless of
// which model emitted the event.
func (s *Store) AppendEvent(ctx context.Context, event *StepEvent) (int64, error) {
	if event == nil {
		return 0, errors.New("event is nil")
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO step_events (run_id, model, status, current, total, message, metadata_json, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.RunID,
		event.Model,
		event.Status,
		event.Current,
		event.Total,
		nullableString(event.Message),
		nullableString(event.MetadataJSON),
		event.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	event.ID = id
	return id, nil
}

// EventsSince returns up to limit events for a run with id greater than
// sinceID, ordered by id. limit <= 0 means no limit.
func (s *Store) EventsSince(ctx context.Context, runID string, sinceID int64, limit int) ([]*StepEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM step_events WHERE run_id = ? AND id > ? ORDER BY id`
	args := []any{runID, sinceID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []*StepEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func scanEvent(scanner interface{ Scan(dest ...any) error }) (*StepEvent, error) {
	var (
		id         int64
		runID      string
		modelName  string
		statusStr  string
		current    int64
		total      int64
		message    sql.NullString
		metadata   sql.NullString
		createdRaw string
	)

	if err := scanner.Scan(
		&id,
		&runID,
		&modelName,
		&statusStr,
		&current,
		&total,
		&message,
		&metadata,
		&createdRaw,
	); err != nil {
		return nil, err
	}

	event := &StepEvent{
		ID:           id,
		RunID:        runID,
		Model:        modelName,
		Status:       EventStatus(statusStr),
		Current:      current,
		Total:        total,
		Message:      message.String,
		MetadataJSON: metadata.String,
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		event.CreatedAt = created
	}
	return event, nil
}
