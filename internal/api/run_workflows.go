package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"loom/internal/config"
	"loom/internal/guardrail"
	"loom/internal/logging"
	"loom/internal/model"
	"loom/internal/modelexec"
	"loom/internal/pipeline"
	"loom/internal/preflight"
	"loom/internal/runstore"
	"loom/internal/services"
	"loom/internal/tableio"
)

// RunPipelineRequest describes one pipeline invocation.
type RunPipelineRequest struct {
	Config   *config.Config
	Registry *model.Registry
	Logger   *slog.Logger

	Pipeline           string
	Filters            model.Filters
	IncrementalMode    model.Mode
	ReprocessUnchanged bool
	Metadata           map[string]string

	// ResumeRunID re-attaches to an existing non-terminal run instead of
	// creating a new one; completed steps are skipped.
	ResumeRunID string
}

// RunPipeline resolves and executes a named pipeline, returning the finalized
// run summary. Configuration errors (unknown pipeline, dependency cycle)
// surface before any run row is created.
func RunPipeline(ctx context.Context, req RunPipelineRequest) (*RunSummary, error) {
	cfg, logger, err := validateRequest(req.Config, req.Registry, req.Logger)
	if err != nil {
		return nil, err
	}

	regs, err := req.Registry.ResolvePipeline(req.Pipeline)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "api", "run_pipeline", req.Pipeline, err)
	}
	defs := make([]model.Definition, len(regs))
	for i, reg := range regs {
		defs[i] = reg.Definition
	}
	if _, err := pipeline.Levels(defs); err != nil {
		return nil, err
	}

	unlock, err := prepareEnvironment(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	defer unlock()

	store, err := runstore.Open(cfg)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	run, pc, err := prepareRun(ctx, store, req)
	if err != nil {
		return nil, err
	}

	sched := newScheduler(cfg, store, req.Registry, logger)
	execErr := sched.Execute(ctx, run, regs, pc)

	final, err := store.GetRun(context.WithoutCancel(ctx), run.ID)
	if err != nil {
		return nil, err
	}
	summary := FromRun(final)
	return &summary, execErr
}

// RunModelRequest describes a single-model execution.
type RunModelRequest struct {
	Config   *config.Config
	Registry *model.Registry
	Logger   *slog.Logger

	Model              string
	Filters            model.Filters
	IncrementalMode    model.Mode
	ReprocessUnchanged bool
	Metadata           map[string]string
}

// RunModel executes one registered model under checkpointing, outside any
// named pipeline. Used for ad-hoc backfills and tests.
func RunModel(ctx context.Context, req RunModelRequest) (*RunStatus, error) {
	cfg, logger, err := validateRequest(req.Config, req.Registry, req.Logger)
	if err != nil {
		return nil, err
	}
	reg, ok := req.Registry.Model(req.Model)
	if !ok {
		return nil, services.Wrap(services.ErrNotFound, "api", "run_model",
			fmt.Sprintf("model %s is not registered", req.Model), nil)
	}

	unlock, err := prepareEnvironment(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	defer unlock()

	store, err := runstore.Open(cfg)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	run, pc, err := prepareRun(ctx, store, RunPipelineRequest{
		Config:             cfg,
		Registry:           req.Registry,
		Pipeline:           req.Model,
		Filters:            req.Filters,
		IncrementalMode:    req.IncrementalMode,
		ReprocessUnchanged: req.ReprocessUnchanged,
		Metadata:           req.Metadata,
	})
	if err != nil {
		return nil, err
	}

	sched := newScheduler(cfg, store, req.Registry, logger)
	execErr := sched.Execute(ctx, run, []model.Registered{reg}, pc)

	status, err := loadStatus(context.WithoutCancel(ctx), store, run.ID)
	if err != nil {
		return nil, err
	}
	return status, execErr
}

// prepareEnvironment creates directories, runs preflight checks, and takes the
// coordinator lock. Only one coordinating process may run against a data
// directory at a time: concurrent coordinators would interleave checkpoint
// writes for the same run ids.
func prepareEnvironment(ctx context.Context, cfg *config.Config, logger *slog.Logger) (func(), error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	checks := preflight.RunAll(ctx, cfg)
	if failure, failed := preflight.FirstFailure(checks); failed {
		return nil, services.Wrap(services.ErrValidation, "api", "preflight",
			fmt.Sprintf("%s: %s", failure.Name, failure.Detail), nil)
	}

	lock := flock.New(cfg.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire coordinator lock: %w", err)
	}
	if !locked {
		return nil, services.Wrap(services.ErrValidation, "api", "lock",
			"another coordinator is already running against this data directory", nil)
	}
	return func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("failed to release coordinator lock", logging.Error(err))
		}
	}, nil
}

func validateRequest(cfg *config.Config, reg *model.Registry, logger *slog.Logger) (*config.Config, *slog.Logger, error) {
	if cfg == nil {
		return nil, nil, services.Wrap(services.ErrValidation, "api", "request", "configuration is required", nil)
	}
	if reg == nil {
		return nil, nil, services.Wrap(services.ErrValidation, "api", "request", "model registry is required", nil)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return cfg, logger, nil
}

// prepareRun creates a fresh run row, or re-attaches to an existing
// non-terminal one when resuming.
func prepareRun(ctx context.Context, store *runstore.Store, req RunPipelineRequest) (*runstore.WorkflowRun, *model.PipelineContext, error) {
	mode := req.IncrementalMode
	if mode == "" {
		mode = model.ModeFull
	}

	var run *runstore.WorkflowRun
	if req.ResumeRunID != "" {
		existing, err := store.GetRun(ctx, req.ResumeRunID)
		if err != nil {
			return nil, nil, err
		}
		if existing == nil {
			return nil, nil, services.Wrap(services.ErrNotFound, "api", "resume",
				fmt.Sprintf("run %s does not exist", req.ResumeRunID), nil)
		}
		if existing.Status.IsTerminal() {
			return nil, nil, services.Wrap(services.ErrValidation, "api", "resume",
				fmt.Sprintf("run %s already finished as %s", existing.ID, existing.Status), nil)
		}
		// Resume with the run's persisted parameters, not the caller's.
		run = existing
		if stored, ok := model.ParseMode(existing.IncrementalMode); ok {
			mode = stored
		}
		req.ReprocessUnchanged = existing.ReprocessUnchanged
		if existing.FiltersJSON != "" {
			var filters model.Filters
			if err := json.Unmarshal([]byte(existing.FiltersJSON), &filters); err == nil {
				req.Filters = filters
			}
		}
	} else {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, nil, fmt.Errorf("generate run id: %w", err)
		}
		run = &runstore.WorkflowRun{
			ID:                 id.String(),
			Pipeline:           req.Pipeline,
			Status:             runstore.RunPending,
			IncrementalMode:    string(mode),
			ReprocessUnchanged: req.ReprocessUnchanged,
			FiltersJSON:        marshalOrEmpty(req.Filters),
			MetadataJSON:       marshalOrEmpty(req.Metadata),
			StartedAt:          time.Now().UTC(),
		}
		if err := store.CreateRun(ctx, run); err != nil {
			return nil, nil, err
		}
	}

	pc := &model.PipelineContext{
		RunID:              run.ID,
		Pipeline:           run.Pipeline,
		Filters:            req.Filters,
		IncrementalMode:    mode,
		ReprocessUnchanged: req.ReprocessUnchanged,
		Metadata:           req.Metadata,
		StartedAt:          run.StartedAt,
	}
	return run, pc, nil
}

func newScheduler(cfg *config.Config, store *runstore.Store, reg *model.Registry, logger *slog.Logger) *pipeline.Scheduler {
	tables := tableio.New(store.DB())
	exec := modelexec.New(store, tables, reg, guardrail.FromConfig(cfg.Guardrails), logger)
	return pipeline.New(store, exec, cfg.Scheduler, logger)
}

func marshalOrEmpty(value any) string {
	switch v := value.(type) {
	case model.Filters:
		if v.Empty() {
			return ""
		}
	case map[string]string:
		if len(v) == 0 {
			return ""
		}
	}
	data, err := json.Marshal(value)
	if err != nil {
		return ""
	}
	return string(data)
}
