// Package pipeline orders registered models into dependency levels and drives
// their execution level by level against the run store.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"loom/internal/config"
	"loom/internal/logging"
	"loom/internal/model"
	"loom/internal/modelexec"
	"loom/internal/runstore"
	"loom/internal/services"
)

// Scheduler executes resolved pipelines. A single scheduler drives one run at
// a time; within a level, models run concurrently up to the configured cap.
// There is no cross-level concurrency: level n+1 starts only after every
// model in level n reached a terminal step status.
type Scheduler struct {
	store  *runstore.Store
	exec   *modelexec.Executor
	cfg    config.Scheduler
	logger *slog.Logger
}

// New builds a scheduler. logger may be nil.
func New(store *runstore.Store, exec *modelexec.Executor, cfg config.Scheduler, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Scheduler{
		store:  store,
		exec:   exec,
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "scheduler"),
	}
}

type stepOutcome struct {
	model string
	err   error
}

// Execute runs the given models for an already created run and finalizes the
// run's status exactly once. Re-invoking Execute for the same run after a
// crash resumes it: steps already completed in the step log are skipped, only
// pending and interrupted ones execute again.
func (s *Scheduler) Execute(ctx context.Context, run *runstore.WorkflowRun, regs []model.Registered, pc *model.PipelineContext) error {
	ctx = services.WithRunID(services.WithPipeline(ctx, run.Pipeline), run.ID)
	log := logging.WithContext(ctx, s.logger)

	defs := make([]model.Definition, len(regs))
	byName := make(map[string]model.Registered, len(regs))
	for i, reg := range regs {
		defs[i] = reg.Definition
		byName[reg.Definition.Name] = reg
	}
	levels, err := Levels(defs)
	if err != nil {
		// Configuration failures never leave a dangling non-terminal run.
		if _, ferr := s.store.FinalizeRun(ctx, run.ID, runstore.RunFailed, err.Error()); ferr != nil {
			log.Warn("failed to finalize run after cycle error", logging.Error(ferr))
		}
		return err
	}
	deps := Dependencies(defs)

	completed, err := s.completedSteps(ctx, run.ID)
	if err != nil {
		return err
	}
	if len(completed) > 0 {
		log.Info("resuming run", logging.Int("completed_steps", len(completed)))
	}
	if err := s.store.MarkRunRunning(ctx, run.ID); err != nil {
		return err
	}

	failed := make(map[string]struct{})
	skipped := make(map[string]struct{})
	var failures []string
	stopRun := false

	for levelIdx, level := range levels {
		if ctx.Err() != nil {
			break
		}

		var runnable []string
		for _, name := range level {
			switch {
			case contains(completed, name):
				// Already checkpointed by a previous attempt.
			case stopRun || s.blockedUpstream(deps[name], failed, skipped):
				if err := s.markSkipped(ctx, run.ID, name); err != nil {
					return err
				}
				skipped[name] = struct{}{}
			default:
				runnable = append(runnable, name)
			}
		}
		if len(runnable) == 0 {
			continue
		}

		log.Info("level started",
			logging.Int(logging.FieldLevel, levelIdx),
			logging.String("models", strings.Join(runnable, ",")),
		)
		outcomes := s.runLevel(ctx, runnable, byName, pc)
		for _, outcome := range outcomes {
			if outcome.err == nil {
				completed[outcome.model] = struct{}{}
				continue
			}
			failed[outcome.model] = struct{}{}
			if !isCancellation(outcome.err) {
				failures = append(failures, outcome.model+": "+outcome.err.Error())
			}
		}
		if s.cfg.StopOnError && len(failed) > 0 {
			stopRun = true
		}
	}

	return s.finalize(ctx, run.ID, failures, log)
}

// runLevel executes one level's models concurrently, bounded by the
// configured concurrency cap. It waits for every model to reach a terminal
// state before returning, even under cancellation.
func (s *Scheduler) runLevel(ctx context.Context, names []string, byName map[string]model.Registered, pc *model.PipelineContext) []stepOutcome {
	var sem chan struct{}
	if s.cfg.MaxConcurrency > 0 {
		sem = make(chan struct{}, s.cfg.MaxConcurrency)
	}

	outcomes := make([]stepOutcome, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			if sem != nil {
				sem <- struct{}{}
				defer func() { <-sem }()
			}
			_, err := s.exec.Run(ctx, byName[name], pc)
			outcomes[i] = stepOutcome{model: name, err: err}
		}(i, name)
	}
	wg.Wait()

	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].model < outcomes[j].model })
	return outcomes
}

func (s *Scheduler) finalize(ctx context.Context, runID string, failures []string, log *slog.Logger) error {
	// Detached context: a canceled run must still reach its terminal status.
	stale := context.WithoutCancel(ctx)

	var status runstore.RunStatus
	var message string
	switch {
	case ctx.Err() != nil:
		status, message = runstore.RunCanceled, "run canceled"
	case len(failures) > 0:
		status, message = runstore.RunFailed, strings.Join(failures, "; ")
	default:
		status = runstore.RunCompleted
	}

	finalized, err := s.store.FinalizeRun(stale, runID, status, message)
	if err != nil {
		return err
	}
	if !finalized {
		log.Warn("run was already finalized", logging.String("status", string(status)))
	}
	log.Info("run finished", logging.String("status", string(status)))

	if status == runstore.RunFailed {
		return services.Wrap(services.ErrExecution, "scheduler", "execute", message, nil)
	}
	if status == runstore.RunCanceled {
		return context.Cause(ctx)
	}
	return nil
}

func (s *Scheduler) completedSteps(ctx context.Context, runID string) (map[string]struct{}, error) {
	logs, err := s.store.StepLogsForRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	done := make(map[string]struct{})
	for _, stepLog := range logs {
		if stepLog.Status == runstore.StepCompleted {
			done[stepLog.Model] = struct{}{}
		}
	}
	return done, nil
}

func (s *Scheduler) markSkipped(ctx context.Context, runID, modelName string) error {
	now := time.Now().UTC()
	err := s.store.UpsertStepLog(ctx, &runstore.StepLog{
		RunID:       runID,
		Model:       modelName,
		Status:      runstore.StepSkipped,
		CompletedAt: &now,
		Errors: []runstore.StepError{{
			ErrorType: "upstream_skipped",
			Message:   runstore.UpstreamSkipReason,
		}},
	})
	if err != nil {
		return err
	}
	if _, err := s.store.AppendEvent(ctx, &runstore.StepEvent{
		RunID:   runID,
		Model:   modelName,
		Status:  runstore.EventSkipped,
		Message: runstore.UpstreamSkipReason,
	}); err != nil {
		s.logger.Warn("failed to append skip event",
			logging.String(logging.FieldRunID, runID),
			logging.String(logging.FieldModel, modelName),
			logging.Error(err),
		)
	}
	return nil
}

// blockedUpstream reports whether any in-set dependency failed or was
// skipped. Transitive: a skip propagates through later levels.
func (s *Scheduler) blockedUpstream(deps []string, failed, skipped map[string]struct{}) bool {
	for _, dep := range deps {
		if _, ok := failed[dep]; ok {
			return true
		}
		if _, ok := skipped[dep]; ok {
			return true
		}
	}
	return false
}

func contains(set map[string]struct{}, name string) bool {
	_, ok := set[name]
	return ok
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}
