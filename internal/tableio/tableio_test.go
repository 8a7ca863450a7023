package tableio_test

import (
	"context"
	"errors"
	"testing"

	"loom/internal/model"
	"loom/internal/services"
	"loom/internal/tableio"
	"loom/internal/testsupport"
)

func sectionsDef() model.Definition {
	return model.Definition{
		Name:       "indexing.sections",
		PrimaryKey: []string{"entity_id"},
		Columns:    []string{"entity_id", "title", "weight"},
	}
}

func openTables(t *testing.T) *tableio.Store {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	return testsupport.MustOpenTables(t, store)
}

func TestWriteAndLatestRows(t *testing.T) {
	ctx := context.Background()
	tables := openTables(t)
	def := sectionsDef()
	if err := tables.EnsureTable(ctx, def); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}

	w, err := tables.NewWriter(ctx, def, "run-1", false)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	rows := []model.Row{
		{EntityID: "doc-1", ContentHash: "h1", Values: map[string]any{"entity_id": "doc-1", "title": "Intro", "weight": 1.0}},
		{EntityID: "doc-2", ContentHash: "h2", Values: map[string]any{"entity_id": "doc-2", "title": "Body", "weight": 2.0}},
	}
	if err := w.Write(ctx, rows); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := w.RowsWritten(); got != 2 {
		t.Fatalf("RowsWritten = %d, want 2", got)
	}

	latest, err := tables.LatestRows(ctx, def)
	if err != nil {
		t.Fatalf("LatestRows: %v", err)
	}
	if len(latest) != 2 {
		t.Fatalf("latest rows = %d, want 2", len(latest))
	}
	if latest[0].EntityID != "doc-1" || latest[0].Values["title"] != "Intro" {
		t.Fatalf("unexpected first row: %+v", latest[0])
	}
}

func TestLatestViewPrefersNewerRun(t *testing.T) {
	ctx := context.Background()
	tables := openTables(t)
	def := sectionsDef()
	if err := tables.EnsureTable(ctx, def); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}

	w1, err := tables.NewWriter(ctx, def, "run-1", false)
	if err != nil {
		t.Fatalf("NewWriter run-1: %v", err)
	}
	if err := w1.Write(ctx, []model.Row{
		{EntityID: "doc-1", Values: map[string]any{"entity_id": "doc-1", "title": "old"}},
	}); err != nil {
		t.Fatalf("Write run-1: %v", err)
	}

	w2, err := tables.NewWriter(ctx, def, "run-2", false)
	if err != nil {
		t.Fatalf("NewWriter run-2: %v", err)
	}
	if err := w2.Write(ctx, []model.Row{
		{EntityID: "doc-1", Values: map[string]any{"entity_id": "doc-1", "title": "new"}},
	}); err != nil {
		t.Fatalf("Write run-2: %v", err)
	}

	latest, err := tables.LatestRows(ctx, def)
	if err != nil {
		t.Fatalf("LatestRows: %v", err)
	}
	if len(latest) != 1 {
		t.Fatalf("latest rows = %d, want 1", len(latest))
	}
	if latest[0].RunID != "run-2" || latest[0].Values["title"] != "new" {
		t.Fatalf("latest view did not pick newer run: %+v", latest[0])
	}
}

func TestLatestViewRunIDTieBreak(t *testing.T) {
	ctx := context.Background()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	tables := testsupport.MustOpenTables(t, store)
	def := sectionsDef()
	if err := tables.EnsureTable(ctx, def); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}

	// Insert two rows with identical timestamps so only run_id can decide.
	insert := `INSERT INTO t_indexing_sections (entity_id, run_id, content_hash, payload_json, created_at) VALUES (?, ?, NULL, ?, ?)`
	ts := "2026-01-02T03:04:05.000000000Z"
	if _, err := store.DB().ExecContext(ctx, insert, "doc-1", "run-a", `{"title":"first"}`, ts); err != nil {
		t.Fatalf("insert run-a: %v", err)
	}
	if _, err := store.DB().ExecContext(ctx, insert, "doc-1", "run-b", `{"title":"second"}`, ts); err != nil {
		t.Fatalf("insert run-b: %v", err)
	}

	latest, err := tables.LatestRows(ctx, def)
	if err != nil {
		t.Fatalf("LatestRows: %v", err)
	}
	if len(latest) != 1 || latest[0].RunID != "run-b" {
		t.Fatalf("tie-break should pick lexically larger run id, got %+v", latest)
	}
}

func TestDeltaModeSkipsUnchangedHashes(t *testing.T) {
	ctx := context.Background()
	tables := openTables(t)
	def := sectionsDef()
	if err := tables.EnsureTable(ctx, def); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}

	first, err := tables.NewWriter(ctx, def, "run-1", true)
	if err != nil {
		t.Fatalf("NewWriter run-1: %v", err)
	}
	if err := first.Write(ctx, []model.Row{
		{EntityID: "doc-1", ContentHash: "h1", Values: map[string]any{"entity_id": "doc-1", "title": "a"}},
		{EntityID: "doc-2", ContentHash: "h2", Values: map[string]any{"entity_id": "doc-2", "title": "b"}},
	}); err != nil {
		t.Fatalf("Write run-1: %v", err)
	}

	// Second run: doc-1 unchanged, doc-2 changed, doc-3 new.
	second, err := tables.NewWriter(ctx, def, "run-2", true)
	if err != nil {
		t.Fatalf("NewWriter run-2: %v", err)
	}
	if err := second.Write(ctx, []model.Row{
		{EntityID: "doc-1", ContentHash: "h1", Values: map[string]any{"entity_id": "doc-1", "title": "a"}},
		{EntityID: "doc-2", ContentHash: "h2-changed", Values: map[string]any{"entity_id": "doc-2", "title": "b2"}},
		{EntityID: "doc-3", ContentHash: "h3", Values: map[string]any{"entity_id": "doc-3", "title": "c"}},
	}); err != nil {
		t.Fatalf("Write run-2: %v", err)
	}
	if got := second.RowsWritten(); got != 2 {
		t.Fatalf("RowsWritten = %d, want 2", got)
	}
	if got := second.RowsDeduplicated(); got != 1 {
		t.Fatalf("RowsDeduplicated = %d, want 1", got)
	}

	// An immediate identical rerun writes nothing at all.
	third, err := tables.NewWriter(ctx, def, "run-3", true)
	if err != nil {
		t.Fatalf("NewWriter run-3: %v", err)
	}
	if err := third.Write(ctx, []model.Row{
		{EntityID: "doc-1", ContentHash: "h1", Values: map[string]any{"entity_id": "doc-1", "title": "a"}},
		{EntityID: "doc-2", ContentHash: "h2-changed", Values: map[string]any{"entity_id": "doc-2", "title": "b2"}},
		{EntityID: "doc-3", ContentHash: "h3", Values: map[string]any{"entity_id": "doc-3", "title": "c"}},
	}); err != nil {
		t.Fatalf("Write run-3: %v", err)
	}
	if got := third.RowsWritten(); got != 0 {
		t.Fatalf("rerun RowsWritten = %d, want 0", got)
	}
	if got := third.RowsDeduplicated(); got != 3 {
		t.Fatalf("rerun RowsDeduplicated = %d, want 3", got)
	}
	// Submitted counts persisted and deduplicated rows alike.
	if got := third.RowsSubmitted(); got != 3 {
		t.Fatalf("rerun RowsSubmitted = %d, want 3", got)
	}
}

func TestWriteRejectsUndeclaredColumn(t *testing.T) {
	ctx := context.Background()
	tables := openTables(t)
	def := sectionsDef()
	if err := tables.EnsureTable(ctx, def); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}

	w, err := tables.NewWriter(ctx, def, "run-1", false)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	err = w.Write(ctx, []model.Row{
		{EntityID: "doc-1", Values: map[string]any{"entity_id": "doc-1", "surprise": true}},
	})
	if !errors.Is(err, services.ErrSchemaMismatch) {
		t.Fatalf("expected schema mismatch, got %v", err)
	}
	if got := w.RowsWritten(); got != 0 {
		t.Fatalf("RowsWritten after rejected write = %d, want 0", got)
	}
}

func TestReferenceFilterAndScope(t *testing.T) {
	ctx := context.Background()
	tables := openTables(t)
	def := sectionsDef()
	if err := tables.EnsureTable(ctx, def); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}

	w, err := tables.NewWriter(ctx, def, "run-1", false)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.Write(ctx, []model.Row{
		{EntityID: "doc-1", Values: map[string]any{"entity_id": "doc-1", "title": "a", "weight": 1.0}},
		{EntityID: "doc-2", Values: map[string]any{"entity_id": "doc-2", "title": "b", "weight": 5.0}},
		{EntityID: "doc-3", Values: map[string]any{"entity_id": "doc-3", "title": "c", "weight": 9.0}},
	}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	base := tables.NewReference(def, model.Filters{})
	heavy := base.Filter(model.Predicate{Column: "weight", Op: ">=", Value: 5.0})

	rows, err := heavy.Materialize(ctx)
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if len(rows) != 2 || rows[0].EntityID != "doc-2" || rows[1].EntityID != "doc-3" {
		t.Fatalf("unexpected filtered rows: %+v", rows)
	}

	// The base reference is unchanged by Filter.
	all, err := base.Materialize(ctx)
	if err != nil {
		t.Fatalf("Materialize base: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("base rows = %d, want 3", len(all))
	}

	scoped := tables.NewReference(def, model.Filters{EntityIDs: []string{"doc-1"}})
	only, err := scoped.Materialize(ctx)
	if err != nil {
		t.Fatalf("Materialize scoped: %v", err)
	}
	if len(only) != 1 || only[0].EntityID != "doc-1" {
		t.Fatalf("unexpected scoped rows: %+v", only)
	}
}

func TestPredicatesOnStorageColumns(t *testing.T) {
	ctx := context.Background()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	tables := testsupport.MustOpenTables(t, store)
	def := sectionsDef()
	if err := tables.EnsureTable(ctx, def); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}

	// Payloads carry no content_hash or created_at keys, so a predicate on
	// either name must hit the storage column, not the payload.
	insert := `INSERT INTO t_indexing_sections (entity_id, run_id, content_hash, payload_json, created_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := store.DB().ExecContext(ctx, insert, "doc-1", "run-1", "h1", `{"title":"a"}`, "2026-01-01T00:00:00.000000000Z"); err != nil {
		t.Fatalf("insert doc-1: %v", err)
	}
	if _, err := store.DB().ExecContext(ctx, insert, "doc-2", "run-1", "h2", `{"title":"b"}`, "2026-02-01T00:00:00.000000000Z"); err != nil {
		t.Fatalf("insert doc-2: %v", err)
	}

	byHash := tables.NewReference(def, model.Filters{}).
		Filter(model.Predicate{Column: "content_hash", Op: "=", Value: "h2"})
	rows, err := byHash.Materialize(ctx)
	if err != nil {
		t.Fatalf("Materialize by hash: %v", err)
	}
	if len(rows) != 1 || rows[0].EntityID != "doc-2" {
		t.Fatalf("content_hash predicate matched %+v, want doc-2 only", rows)
	}

	recent := tables.NewReference(def, model.Filters{}).
		Filter(model.Predicate{Column: "created_at", Op: ">", Value: "2026-01-15T00:00:00.000000000Z"})
	rows, err = recent.Materialize(ctx)
	if err != nil {
		t.Fatalf("Materialize by created_at: %v", err)
	}
	if len(rows) != 1 || rows[0].EntityID != "doc-2" {
		t.Fatalf("created_at predicate matched %+v, want doc-2 only", rows)
	}
}

func TestReferenceRejectsBadPredicate(t *testing.T) {
	ctx := context.Background()
	tables := openTables(t)
	def := sectionsDef()
	if err := tables.EnsureTable(ctx, def); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}

	ref := tables.NewReference(def, model.Filters{}).
		Filter(model.Predicate{Column: "title; DROP TABLE t_indexing_sections", Op: "=", Value: "x"})
	if _, err := ref.Materialize(ctx); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	ref = tables.NewReference(def, model.Filters{}).
		Filter(model.Predicate{Column: "title", Op: "LIKE", Value: "x"})
	if _, err := ref.Materialize(ctx); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for op, got %v", err)
	}
}

func TestBuildReferences(t *testing.T) {
	ctx := context.Background()
	tables := openTables(t)

	upstream := sectionsDef()
	if err := tables.EnsureTable(ctx, upstream); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}
	downstream := model.Definition{
		Name:       "indexing.summaries",
		PrimaryKey: []string{"entity_id"},
		References: []string{"indexing.sections"},
	}

	reg := model.NewRegistry()
	noop := func(ctx context.Context, pc *model.PipelineContext, refs map[string]model.Reference, w model.Writer, cfg map[string]any) (model.Result, error) {
		return model.Result{}, nil
	}
	if err := reg.RegisterModel(upstream, noop); err != nil {
		t.Fatalf("RegisterModel upstream: %v", err)
	}
	if err := reg.RegisterModel(downstream, noop); err != nil {
		t.Fatalf("RegisterModel downstream: %v", err)
	}

	refs, err := tables.BuildReferences(reg, downstream, model.Filters{})
	if err != nil {
		t.Fatalf("BuildReferences: %v", err)
	}
	if _, ok := refs["indexing.sections"]; !ok {
		t.Fatalf("missing reference for indexing.sections")
	}

	orphan := model.Definition{
		Name:       "indexing.orphan",
		PrimaryKey: []string{"entity_id"},
		References: []string{"indexing.missing"},
	}
	if _, err := tables.BuildReferences(reg, orphan, model.Filters{}); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
