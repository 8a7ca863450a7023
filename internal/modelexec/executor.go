// Package modelexec turns a registered model function into a checkpointed,
// observable unit. Every execution upserts its step log before and after the
// body runs and emits progress events, so a restarted process can inspect the
// log and skip completed steps.
package modelexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"loom/internal/guardrail"
	"loom/internal/logging"
	"loom/internal/model"
	"loom/internal/runstore"
	"loom/internal/services"
	"loom/internal/tableio"
)

// Executor wires a model body to the run store, the versioned tables, and a
// guardrail monitor.
type Executor struct {
	store   *runstore.Store
	tables  *tableio.Store
	reg     *model.Registry
	budgets guardrail.Budgets
	logger  *slog.Logger
}

// New builds an executor. logger may be nil.
func New(store *runstore.Store, tables *tableio.Store, reg *model.Registry, budgets guardrail.Budgets, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Executor{
		store:   store,
		tables:  tables,
		reg:     reg,
		budgets: budgets,
		logger:  logging.NewComponentLogger(logger, "modelexec"),
	}
}

// Run executes one model under checkpointing. On entry the step log is
// upserted to running and a running event is emitted; on return the step log
// carries a terminal status with counts and timing. Errors from the model
// body are recorded before they propagate, so observability never depends on
// the caller. A guardrail breach is not an error: the step completes with its
// partial result and a stop reason in its step log metadata.
func (e *Executor) Run(ctx context.Context, reg model.Registered, pc *model.PipelineContext) (model.Result, error) {
	def := reg.Definition
	ctx = services.WithModel(ctx, def.Name)
	log := logging.WithContext(ctx, e.logger)

	if err := e.tables.EnsureTable(ctx, def); err != nil {
		return model.Result{}, services.Wrap(services.ErrExecution, "modelexec", "ensure_table", def.Name, err)
	}
	refs, err := e.tables.BuildReferences(e.reg, def, pc.Filters)
	if err != nil {
		return model.Result{}, err
	}
	delta := pc.IncrementalMode == model.ModeDelta && !pc.ReprocessUnchanged
	writer, err := e.tables.NewWriter(ctx, def, pc.RunID, delta)
	if err != nil {
		return model.Result{}, err
	}

	started := time.Now().UTC()
	if err := e.checkpoint(ctx, pc.RunID, def.Name, runstore.StepRunning, &started, nil, model.Result{}, nil, ""); err != nil {
		return model.Result{}, err
	}
	e.emit(ctx, pc.RunID, def.Name, runstore.EventRunning, "model started")
	log.Info("model started")

	monitor := guardrail.NewMonitor(e.budgets, func(budget string, limit, observed int64) {
		e.emit(ctx, pc.RunID, def.Name, runstore.EventGuardrail,
			fmt.Sprintf("%s budget breached: %d over limit %d", budget, observed, limit))
	})
	stepCtx, cancel := monitor.Start(guardrail.WithMonitor(ctx, monitor))
	defer cancel()
	stepCtx = withReporter(stepCtx, func(current, total int64, message string) {
		e.emitProgress(ctx, pc.RunID, def.Name, current, total, message)
	})

	result, runErr := invoke(stepCtx, reg, pc, refs, writer)
	completed := time.Now().UTC()
	result.RowsSubmitted = writer.RowsSubmitted()
	result.RowsWritten = writer.RowsWritten()
	result.RowsDeduplicated = writer.RowsDeduplicated()

	// A cancellation caused by the time budget is a graceful stop, not a
	// failure and not an external cancellation.
	if runErr != nil && errors.Is(context.Cause(stepCtx), guardrail.ErrTimeBudget) {
		monitor.MarkTimeExceeded()
		runErr = nil
	}

	switch {
	case runErr == nil:
		if err := e.checkpoint(ctx, pc.RunID, def.Name, runstore.StepCompleted, &started, &completed, result, nil, monitor.StopReason()); err != nil {
			return result, err
		}
		e.emit(ctx, pc.RunID, def.Name, runstore.EventCompleted,
			fmt.Sprintf("wrote %d rows, deduplicated %d", result.RowsWritten, result.RowsDeduplicated))
		log.Info("model completed",
			logging.Int64("rows_written", result.RowsWritten),
			logging.Int64("rows_deduplicated", result.RowsDeduplicated),
			logging.Duration("duration", completed.Sub(started)),
		)
		return result, nil

	case errors.Is(runErr, context.Canceled) && ctx.Err() != nil:
		// Detach from the canceled context so the terminal state still lands.
		stale := context.WithoutCancel(ctx)
		if err := e.checkpoint(stale, pc.RunID, def.Name, runstore.StepCanceled, &started, &completed, result, runErr, ""); err != nil {
			log.Warn("failed to record canceled step", logging.Error(err))
		}
		e.emit(stale, pc.RunID, def.Name, runstore.EventCanceled, "run canceled")
		log.Info("model canceled")
		return result, runErr

	default:
		if err := e.checkpoint(ctx, pc.RunID, def.Name, runstore.StepFailed, &started, &completed, result, runErr, ""); err != nil {
			log.Warn("failed to record failed step", logging.Error(err))
		}
		e.emit(ctx, pc.RunID, def.Name, runstore.EventFailed, runErr.Error())
		log.Error("model failed", logging.Error(runErr))
		return result, runErr
	}
}

// invoke shields the scheduler from panicking model bodies.
func invoke(ctx context.Context, reg model.Registered, pc *model.PipelineContext, refs map[string]model.Reference, writer model.Writer) (result model.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = services.Wrap(services.ErrExecution, "modelexec", "invoke",
				fmt.Sprintf("model %s panicked: %v", reg.Definition.Name, r), nil)
		}
	}()
	return reg.Func(ctx, pc, refs, writer, reg.Definition.Config)
}

func (e *Executor) checkpoint(ctx context.Context, runID, modelName string, status runstore.StepStatus, started, completed *time.Time, result model.Result, runErr error, stopReason string) error {
	log := &runstore.StepLog{
		RunID:       runID,
		Model:       modelName,
		Status:      status,
		StartedAt:   started,
		CompletedAt: completed,
		InputCount:  result.RowsSubmitted,
		OutputCount: result.RowsWritten,
		DedupCount:  result.RowsDeduplicated,
	}
	if runErr != nil {
		log.ErrorCount = 1
		log.Errors = []runstore.StepError{{
			ErrorType: errorType(runErr),
			Message:   runErr.Error(),
		}}
	}
	if stopReason != "" {
		log.MetadataJSON = fmt.Sprintf(`{"stop_reason":%q}`, stopReason)
	}
	if err := e.store.UpsertStepLog(ctx, log); err != nil {
		return services.Wrap(services.ErrExecution, "modelexec", "checkpoint",
			fmt.Sprintf("upsert step log for %s", modelName), err)
	}
	return nil
}

// emitProgress publishes a mid-run progress counter. Progress events are
// advisory: an append failure is logged and the model keeps running.
func (e *Executor) emitProgress(ctx context.Context, runID, modelName string, current, total int64, message string) {
	_, err := e.store.AppendEvent(ctx, &runstore.StepEvent{
		RunID:   runID,
		Model:   modelName,
		Status:  runstore.EventProgress,
		Current: current,
		Total:   total,
		Message: message,
	})
	if err != nil {
		e.logger.Warn("failed to append progress event",
			logging.String(logging.FieldRunID, runID),
			logging.String(logging.FieldModel, modelName),
			logging.Error(err),
		)
	}
}

func (e *Executor) emit(ctx context.Context, runID, modelName string, status runstore.EventStatus, message string) {
	_, err := e.store.AppendEvent(ctx, &runstore.StepEvent{
		RunID:   runID,
		Model:   modelName,
		Status:  status,
		Message: message,
	})
	if err != nil {
		e.logger.Warn("failed to append step event",
			logging.String(logging.FieldRunID, runID),
			logging.String(logging.FieldModel, modelName),
			logging.Error(err),
		)
	}
}

func errorType(err error) string {
	switch {
	case errors.Is(err, services.ErrSchemaMismatch):
		return "schema_mismatch"
	case errors.Is(err, services.ErrConfiguration):
		return "configuration"
	case errors.Is(err, services.ErrValidation):
		return "validation"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "execution"
	}
}
