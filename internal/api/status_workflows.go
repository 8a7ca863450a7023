package api

import (
	"context"
	"fmt"
	"time"

	"loom/internal/config"
	"loom/internal/preflight"
	"loom/internal/runstore"
	"loom/internal/services"
	"loom/internal/tableio"
)

// GetStatus returns a run and its per-step snapshot.
func GetStatus(ctx context.Context, cfg *config.Config, runID string) (*RunStatus, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrValidation, "api", "get_status", "configuration is required", nil)
	}
	store, err := runstore.Open(cfg)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return loadStatus(ctx, store, runID)
}

func loadStatus(ctx context.Context, store *runstore.Store, runID string) (*RunStatus, error) {
	run, err := store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, services.Wrap(services.ErrNotFound, "api", "get_status",
			fmt.Sprintf("run %s does not exist", runID), nil)
	}
	logs, err := store.StepLogsForRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	status := &RunStatus{Run: FromRun(run)}
	for _, log := range logs {
		status.Steps = append(status.Steps, FromStepLog(log))
	}
	return status, nil
}

// TailEvents returns one ordered page of a run's events after sinceID.
// NextID feeds the next poll; an empty page repeats the cursor.
func TailEvents(ctx context.Context, cfg *config.Config, runID string, sinceID int64, limit int) (*EventPage, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrValidation, "api", "tail_events", "configuration is required", nil)
	}
	store, err := runstore.Open(cfg)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	events, err := store.EventsSince(ctx, runID, sinceID, limit)
	if err != nil {
		return nil, err
	}
	page := &EventPage{NextID: sinceID}
	for _, event := range events {
		page.Events = append(page.Events, FromEvent(event))
		page.NextID = event.ID
	}
	return page, nil
}

// ListRuns returns run summaries, optionally filtered by status.
func ListRuns(ctx context.Context, cfg *config.Config, statuses ...runstore.RunStatus) ([]RunSummary, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrValidation, "api", "list_runs", "configuration is required", nil)
	}
	store, err := runstore.Open(cfg)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	runs, err := store.ListRuns(ctx, statuses...)
	if err != nil {
		return nil, err
	}
	return FromRuns(runs), nil
}

// RunStats returns run counts grouped by status string.
func RunStats(ctx context.Context, cfg *config.Config) (map[string]int, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrValidation, "api", "run_stats", "configuration is required", nil)
	}
	store, err := runstore.Open(cfg)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	stats, err := store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(stats))
	for status, count := range stats {
		out[string(status)] = count
	}
	return out, nil
}

// ListTables returns the versioned model tables present in the store.
func ListTables(ctx context.Context, cfg *config.Config) ([]tableio.TableInfo, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrValidation, "api", "list_tables", "configuration is required", nil)
	}
	store, err := runstore.Open(cfg)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return tableio.New(store.DB()).Tables(ctx)
}

// HealthReport aggregates database health with filesystem preflight checks.
type HealthReport struct {
	Database runstore.DatabaseHealth
	Checks   []preflight.Result
	Healthy  bool
}

// CheckHealth runs the full health surface used by the CLI.
func CheckHealth(ctx context.Context, cfg *config.Config) (*HealthReport, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrValidation, "api", "check_health", "configuration is required", nil)
	}
	report := &HealthReport{Checks: preflight.RunAll(ctx, cfg)}

	store, err := runstore.Open(cfg)
	if err != nil {
		report.Database = runstore.DatabaseHealth{DBPath: cfg.DatabasePath(), Error: err.Error()}
		return report, nil
	}
	defer store.Close()

	health, err := store.CheckHealth(ctx)
	if err != nil {
		health.Error = err.Error()
	}
	report.Database = health
	report.Healthy = preflight.AllPassed(report.Checks) &&
		health.DatabaseReadable && health.IntegrityCheck && len(health.MissingTables) == 0
	return report, nil
}

// ClearRuns deletes terminal runs and their step logs and events.
func ClearRuns(ctx context.Context, cfg *config.Config, statuses ...runstore.RunStatus) (int64, error) {
	if cfg == nil {
		return 0, services.Wrap(services.ErrValidation, "api", "clear_runs", "configuration is required", nil)
	}
	store, err := runstore.Open(cfg)
	if err != nil {
		return 0, err
	}
	defer store.Close()
	return store.ClearRuns(ctx, statuses...)
}

// PruneEvents deletes events older than the configured retention window.
func PruneEvents(ctx context.Context, cfg *config.Config) (int64, error) {
	if cfg == nil {
		return 0, services.Wrap(services.ErrValidation, "api", "prune_events", "configuration is required", nil)
	}
	if cfg.Store.EventRetentionDays <= 0 {
		return 0, nil
	}
	store, err := runstore.Open(cfg)
	if err != nil {
		return 0, err
	}
	defer store.Close()

	cutoff := time.Now().UTC().AddDate(0, 0, -cfg.Store.EventRetentionDays)
	return store.PruneEvents(ctx, cutoff)
}
