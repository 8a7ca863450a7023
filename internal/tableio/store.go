package tableio

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"loom/internal/model"
)

var columnPattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// Store provides versioned table access on top of an open SQLite connection,
// shared with the run store.
type Store struct {
	db *sql.DB
}

// New wraps an open database connection.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureTable creates the versioned table for a model when missing.
func (s *Store) EnsureTable(ctx context.Context, def model.Definition) error {
	table := def.TableName()
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
        entity_id TEXT NOT NULL,
        run_id TEXT NOT NULL,
        content_hash TEXT,
        payload_json TEXT NOT NULL,
        created_at TEXT NOT NULL
    )`, table)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	index := fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS idx_%s_entity ON %s(entity_id, created_at, run_id)`,
		table, table,
	)
	if _, err := s.db.ExecContext(ctx, index); err != nil {
		return fmt.Errorf("create index for %s: %w", table, err)
	}
	return nil
}

// latestQuery ranks rows per entity by (created_at, run_id) descending and
// keeps the winner. The tie-break on run_id is mandatory: two rows can share
// a timestamp at sub-resolution clocks, and run IDs are unique and ordered.
func latestQuery(table string) string {
	return fmt.Sprintf(`SELECT entity_id, run_id, content_hash, payload_json, created_at FROM (
        SELECT entity_id, run_id, content_hash, payload_json, created_at,
               ROW_NUMBER() OVER (PARTITION BY entity_id ORDER BY created_at DESC, run_id DESC) AS rn
        FROM %s
    ) WHERE rn = 1`, table)
}

// LatestRows returns the latest row per entity for a model, unfiltered.
func (s *Store) LatestRows(ctx context.Context, def model.Definition) ([]model.StoredRow, error) {
	return s.queryLatest(ctx, def, latestQuery(def.TableName())+" ORDER BY entity_id", nil)
}

// LatestHashes returns entity_id -> content_hash over a model's latest view.
// Entities whose latest row has no hash are omitted.
func (s *Store) LatestHashes(ctx context.Context, def model.Definition) (map[string]string, error) {
	query := `SELECT entity_id, content_hash FROM (` + latestQuery(def.TableName()) + `) WHERE content_hash IS NOT NULL`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query latest hashes: %w", err)
	}
	defer rows.Close()

	hashes := make(map[string]string)
	for rows.Next() {
		var entityID, hash string
		if err := rows.Scan(&entityID, &hash); err != nil {
			return nil, err
		}
		hashes[entityID] = hash
	}
	return hashes, rows.Err()
}

func (s *Store) queryLatest(ctx context.Context, def model.Definition, query string, args []any) ([]model.StoredRow, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query latest rows for %s: %w", def.Name, err)
	}
	defer rows.Close()

	var out []model.StoredRow
	for rows.Next() {
		var (
			entityID   string
			runID      string
			hash       sql.NullString
			payload    string
			createdRaw string
		)
		if err := rows.Scan(&entityID, &runID, &hash, &payload, &createdRaw); err != nil {
			return nil, err
		}
		stored := model.StoredRow{
			EntityID:    entityID,
			RunID:       runID,
			ContentHash: hash.String,
		}
		if err := json.Unmarshal([]byte(payload), &stored.Values); err != nil {
			return nil, fmt.Errorf("unmarshal row payload for %s: %w", def.Name, err)
		}
		if created, err := time.Parse(time.RFC3339Nano, createdRaw); err == nil {
			stored.CreatedAt = created
		}
		out = append(out, stored)
	}
	return out, rows.Err()
}

func validColumn(name string) bool {
	return columnPattern.MatchString(name)
}

func validOp(op string) bool {
	switch op {
	case "=", "!=", "<", "<=", ">", ">=":
		return true
	default:
		return false
	}
}

func predicateSQL(p model.Predicate) (string, any, error) {
	if !validColumn(p.Column) {
		return "", nil, fmt.Errorf("invalid predicate column %q", p.Column)
	}
	if !validOp(p.Op) {
		return "", nil, fmt.Errorf("invalid predicate op %q", p.Op)
	}
	// Storage columns are compared directly; anything else lives in the
	// JSON payload.
	switch p.Column {
	case "entity_id", "run_id", "content_hash", "created_at":
		return fmt.Sprintf("%s %s ?", p.Column, p.Op), p.Value, nil
	}
	return fmt.Sprintf("json_extract(payload_json, '$.%s') %s ?", p.Column, p.Op), p.Value, nil
}

func entityScopeSQL(entityIDs []string) (string, []any) {
	if len(entityIDs) == 0 {
		return "", nil
	}
	placeholders := make([]string, len(entityIDs))
	args := make([]any, len(entityIDs))
	for i, id := range entityIDs {
		placeholders[i] = "?"
		args[i] = id
	}
	return "entity_id IN (" + strings.Join(placeholders, ",") + ")", args
}
