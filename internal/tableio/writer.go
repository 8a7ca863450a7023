package tableio

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"loom/internal/model"
	"loom/internal/services"
)

// Writer appends versioned rows for one model within one run. It implements
// model.Writer.
type Writer struct {
	store *Store
	def   model.Definition
	runID string

	// delta enables hash-based skip against the latest view.
	delta        bool
	latestHashes map[string]string

	declared map[string]struct{}

	mu      sync.Mutex
	written int64
	deduped int64
	// hashesSeen tracks hashes written during this run so a model that emits
	// the same entity twice still dedupes within the run.
	hashesSeen map[string]string
}

// NewWriter prepares a writer for a model execution. In delta mode the
// current latest hashes are loaded up front so Write never needs a per-row
// query.
func (s *Store) NewWriter(ctx context.Context, def model.Definition, runID string, delta bool) (*Writer, error) {
	w := &Writer{
		store:      s,
		def:        def,
		runID:      runID,
		delta:      delta,
		hashesSeen: make(map[string]string),
	}
	if len(def.Columns) > 0 {
		w.declared = make(map[string]struct{}, len(def.Columns))
		for _, col := range def.Columns {
			w.declared[col] = struct{}{}
		}
	}
	if delta {
		hashes, err := s.LatestHashes(ctx, def)
		if err != nil {
			return nil, services.Wrap(services.ErrExecution, "tableio", "new_writer",
				fmt.Sprintf("load latest hashes for %s", def.Name), err)
		}
		w.latestHashes = hashes
	}
	return w, nil
}

// Write appends rows, skipping unchanged entities in delta mode.
func (w *Writer) Write(ctx context.Context, rows []model.Row) error {
	if len(rows) == 0 {
		return nil
	}
	for _, row := range rows {
		if err := w.validate(row); err != nil {
			return err
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	tx, err := w.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin write transaction: %w", err)
	}
	defer tx.Rollback()

	insert := fmt.Sprintf(
		`INSERT INTO %s (entity_id, run_id, content_hash, payload_json, created_at) VALUES (?, ?, ?, ?, ?)`,
		w.def.TableName(),
	)
	now := time.Now().UTC().Format(time.RFC3339Nano)
	var written, deduped int64
	for _, row := range rows {
		if w.skip(row) {
			deduped++
			continue
		}
		payload, err := json.Marshal(row.Values)
		if err != nil {
			return fmt.Errorf("marshal row %s for %s: %w", row.EntityID, w.def.Name, err)
		}
		var hash any
		if row.ContentHash != "" {
			hash = row.ContentHash
		}
		if _, err := tx.ExecContext(ctx, insert, row.EntityID, w.runID, hash, string(payload), now); err != nil {
			return fmt.Errorf("insert row %s for %s: %w", row.EntityID, w.def.Name, err)
		}
		if row.ContentHash != "" {
			w.hashesSeen[row.EntityID] = row.ContentHash
		}
		written++
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit write transaction: %w", err)
	}
	w.written += written
	w.deduped += deduped
	return nil
}

func (w *Writer) validate(row model.Row) error {
	if row.EntityID == "" {
		return services.Wrap(services.ErrValidation, "tableio", "write",
			fmt.Sprintf("model %s emitted a row without entity_id", w.def.Name), nil)
	}
	if w.declared == nil {
		return nil
	}
	for key := range row.Values {
		if _, ok := w.declared[key]; !ok {
			return services.Wrap(services.ErrSchemaMismatch, "tableio", "write",
				fmt.Sprintf("model %s emitted undeclared column %q", w.def.Name, key), nil)
		}
	}
	return nil
}

func (w *Writer) skip(row model.Row) bool {
	if !w.delta || row.ContentHash == "" {
		return false
	}
	if hash, ok := w.hashesSeen[row.EntityID]; ok && hash == row.ContentHash {
		return true
	}
	hash, ok := w.latestHashes[row.EntityID]
	return ok && hash == row.ContentHash
}

// RowsWritten returns the count of rows persisted so far.
func (w *Writer) RowsWritten() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// RowsDeduplicated returns the count of rows skipped by hash match.
func (w *Writer) RowsDeduplicated() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.deduped
}

// RowsSubmitted returns the count of rows the model handed to Write,
// persisted or deduplicated.
func (w *Writer) RowsSubmitted() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written + w.deduped
}
