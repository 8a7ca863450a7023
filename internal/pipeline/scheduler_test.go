package pipeline_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"loom/internal/guardrail"
	"loom/internal/model"
	"loom/internal/modelexec"
	"loom/internal/pipeline"
	"loom/internal/runstore"
	"loom/internal/testsupport"
)

type harness struct {
	store *runstore.Store
	sched *pipeline.Scheduler
	reg   *model.Registry
}

func newHarness(t *testing.T, reg *model.Registry, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	tables := testsupport.MustOpenTables(t, store)
	exec := modelexec.New(store, tables, reg, guardrail.Budgets{}, nil)
	return &harness{
		store: store,
		sched: pipeline.New(store, exec, cfg.Scheduler, nil),
		reg:   reg,
	}
}

func (h *harness) createRun(t *testing.T, id, pipelineName string) (*runstore.WorkflowRun, *model.PipelineContext) {
	t.Helper()
	run := &runstore.WorkflowRun{
		ID:              id,
		Pipeline:        pipelineName,
		Status:          runstore.RunPending,
		IncrementalMode: string(model.ModeFull),
		StartedAt:       time.Now().UTC(),
	}
	if err := h.store.CreateRun(context.Background(), run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	pc := &model.PipelineContext{
		RunID:           id,
		Pipeline:        pipelineName,
		IncrementalMode: model.ModeFull,
		StartedAt:       run.StartedAt,
	}
	return run, pc
}

func noopFunc(calls *atomic.Int64) model.Func {
	return func(ctx context.Context, pc *model.PipelineContext, refs map[string]model.Reference, w model.Writer, cfg map[string]any) (model.Result, error) {
		if calls != nil {
			calls.Add(1)
		}
		return model.Result{}, nil
	}
}

func failingFunc() model.Func {
	return func(ctx context.Context, pc *model.PipelineContext, refs map[string]model.Reference, w model.Writer, cfg map[string]any) (model.Result, error) {
		return model.Result{}, errors.New("boom")
	}
}

func mustRegister(t *testing.T, reg *model.Registry, d model.Definition, fn model.Func) {
	t.Helper()
	if err := reg.RegisterModel(d, fn); err != nil {
		t.Fatalf("RegisterModel %s: %v", d.Name, err)
	}
}

func resolveAll(t *testing.T, reg *model.Registry, names ...string) []model.Registered {
	t.Helper()
	out := make([]model.Registered, 0, len(names))
	for _, name := range names {
		r, ok := reg.Model(name)
		if !ok {
			t.Fatalf("model %s not registered", name)
		}
		out = append(out, r)
	}
	return out
}

func stepStatus(t *testing.T, store *runstore.Store, runID, modelName string) runstore.StepStatus {
	t.Helper()
	log, err := store.GetStepLog(context.Background(), runID, modelName)
	if err != nil {
		t.Fatalf("GetStepLog %s: %v", modelName, err)
	}
	if log == nil {
		t.Fatalf("no step log for %s", modelName)
	}
	return log.Status
}

func TestExecuteSuccess(t *testing.T) {
	reg := model.NewRegistry()
	var aCalls, bCalls atomic.Int64
	mustRegister(t, reg, def("p.a"), noopFunc(&aCalls))
	mustRegister(t, reg, def("p.b", "p.a"), noopFunc(&bCalls))

	h := newHarness(t, reg)
	run, pc := h.createRun(t, "run-1", "p")

	if err := h.sched.Execute(context.Background(), run, resolveAll(t, reg, "p.a", "p.b"), pc); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if aCalls.Load() != 1 || bCalls.Load() != 1 {
		t.Fatalf("calls = (%d, %d), want (1, 1)", aCalls.Load(), bCalls.Load())
	}

	stored, err := h.store.GetRun(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if stored.Status != runstore.RunCompleted {
		t.Fatalf("run status = %s, want completed", stored.Status)
	}
	if got := stepStatus(t, h.store, "run-1", "p.a"); got != runstore.StepCompleted {
		t.Fatalf("p.a status = %s", got)
	}
}

func TestExecuteSiblingRunsWhenPeerFails(t *testing.T) {
	// Pipeline [A, B(A), C(A), D(B)]: B fails. C shares B's level and still
	// runs; D is skipped with an upstream failure reason; the run fails.
	reg := model.NewRegistry()
	var cCalls, dCalls atomic.Int64
	mustRegister(t, reg, def("p.a"), noopFunc(nil))
	mustRegister(t, reg, def("p.b", "p.a"), failingFunc())
	mustRegister(t, reg, def("p.c", "p.a"), noopFunc(&cCalls))
	mustRegister(t, reg, def("p.d", "p.b"), noopFunc(&dCalls))

	h := newHarness(t, reg, testsupport.WithStopOnError(true))
	run, pc := h.createRun(t, "run-1", "p")

	err := h.sched.Execute(context.Background(), run, resolveAll(t, reg, "p.a", "p.b", "p.c", "p.d"), pc)
	if err == nil {
		t.Fatalf("Execute should fail when a model fails")
	}
	if cCalls.Load() != 1 {
		t.Fatalf("sibling p.c should run despite p.b failing")
	}
	if dCalls.Load() != 0 {
		t.Fatalf("downstream p.d must not run")
	}

	if got := stepStatus(t, h.store, "run-1", "p.b"); got != runstore.StepFailed {
		t.Fatalf("p.b status = %s, want failed", got)
	}
	if got := stepStatus(t, h.store, "run-1", "p.d"); got != runstore.StepSkipped {
		t.Fatalf("p.d status = %s, want skipped", got)
	}
	dLog, err := h.store.GetStepLog(context.Background(), "run-1", "p.d")
	if err != nil {
		t.Fatalf("GetStepLog p.d: %v", err)
	}
	if len(dLog.Errors) == 0 || dLog.Errors[0].Message != runstore.UpstreamSkipReason {
		t.Fatalf("p.d should carry the upstream skip reason, got %+v", dLog.Errors)
	}

	stored, err := h.store.GetRun(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if stored.Status != runstore.RunFailed {
		t.Fatalf("run status = %s, want failed", stored.Status)
	}
}

func TestExecuteContinueOnErrorRunsIndependentBranch(t *testing.T) {
	// stop_on_error off: E depends only on healthy C and still executes in a
	// level after B's failure; D (on B) is skipped.
	reg := model.NewRegistry()
	var dCalls, eCalls atomic.Int64
	mustRegister(t, reg, def("p.a"), noopFunc(nil))
	mustRegister(t, reg, def("p.b", "p.a"), failingFunc())
	mustRegister(t, reg, def("p.c", "p.a"), noopFunc(nil))
	mustRegister(t, reg, def("p.d", "p.b"), noopFunc(&dCalls))
	mustRegister(t, reg, def("p.e", "p.c"), noopFunc(&eCalls))

	h := newHarness(t, reg, testsupport.WithStopOnError(false))
	run, pc := h.createRun(t, "run-1", "p")

	err := h.sched.Execute(context.Background(), run, resolveAll(t, reg, "p.a", "p.b", "p.c", "p.d", "p.e"), pc)
	if err == nil {
		t.Fatalf("Execute should report the recorded failure")
	}
	if eCalls.Load() != 1 {
		t.Fatalf("independent branch p.e should run")
	}
	if dCalls.Load() != 0 {
		t.Fatalf("p.d depends on failed p.b and must not run")
	}
	if got := stepStatus(t, h.store, "run-1", "p.d"); got != runstore.StepSkipped {
		t.Fatalf("p.d status = %s, want skipped", got)
	}
	if got := stepStatus(t, h.store, "run-1", "p.e"); got != runstore.StepCompleted {
		t.Fatalf("p.e status = %s, want completed", got)
	}
}

func TestExecuteResumeSkipsCompletedSteps(t *testing.T) {
	reg := model.NewRegistry()
	var aCalls, bCalls atomic.Int64
	mustRegister(t, reg, def("p.a"), noopFunc(&aCalls))
	mustRegister(t, reg, def("p.b", "p.a"), noopFunc(&bCalls))

	h := newHarness(t, reg)
	run, pc := h.createRun(t, "run-1", "p")

	// Simulate a crash after level 1: p.a is checkpointed completed, the run
	// never finalized.
	now := time.Now().UTC()
	if err := h.store.UpsertStepLog(context.Background(), &runstore.StepLog{
		RunID:       "run-1",
		Model:       "p.a",
		Status:      runstore.StepCompleted,
		StartedAt:   &now,
		CompletedAt: &now,
	}); err != nil {
		t.Fatalf("UpsertStepLog: %v", err)
	}

	if err := h.sched.Execute(context.Background(), run, resolveAll(t, reg, "p.a", "p.b"), pc); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if aCalls.Load() != 0 {
		t.Fatalf("completed p.a must not re-run on resume, ran %d times", aCalls.Load())
	}
	if bCalls.Load() != 1 {
		t.Fatalf("p.b should run on resume")
	}

	stored, err := h.store.GetRun(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if stored.Status != runstore.RunCompleted {
		t.Fatalf("run status = %s, want completed", stored.Status)
	}
}

func TestExecuteCancellation(t *testing.T) {
	reg := model.NewRegistry()
	started := make(chan struct{})
	blocking := func(ctx context.Context, pc *model.PipelineContext, refs map[string]model.Reference, w model.Writer, cfg map[string]any) (model.Result, error) {
		close(started)
		<-ctx.Done()
		return model.Result{}, ctx.Err()
	}
	mustRegister(t, reg, def("p.a"), blocking)

	h := newHarness(t, reg)
	run, pc := h.createRun(t, "run-1", "p")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	err := h.sched.Execute(ctx, run, resolveAll(t, reg, "p.a"), pc)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Execute = %v, want context.Canceled", err)
	}

	if got := stepStatus(t, h.store, "run-1", "p.a"); got != runstore.StepCanceled {
		t.Fatalf("p.a status = %s, want canceled", got)
	}
	stored, getErr := h.store.GetRun(context.Background(), "run-1")
	if getErr != nil {
		t.Fatalf("GetRun: %v", getErr)
	}
	if stored.Status != runstore.RunCanceled {
		t.Fatalf("run status = %s, want canceled", stored.Status)
	}
}

func TestExecuteCycleCreatesNoStepLogs(t *testing.T) {
	reg := model.NewRegistry()
	mustRegister(t, reg, def("p.a", "p.b"), noopFunc(nil))
	mustRegister(t, reg, def("p.b", "p.a"), noopFunc(nil))

	h := newHarness(t, reg)
	run, pc := h.createRun(t, "run-1", "p")

	err := h.sched.Execute(context.Background(), run, resolveAll(t, reg, "p.a", "p.b"), pc)
	if err == nil {
		t.Fatalf("Execute should fail on a cycle")
	}

	logs, lerr := h.store.StepLogsForRun(context.Background(), "run-1")
	if lerr != nil {
		t.Fatalf("StepLogsForRun: %v", lerr)
	}
	if len(logs) != 0 {
		t.Fatalf("cycle must not create step logs, got %d", len(logs))
	}
}

func TestExecuteEventOrdering(t *testing.T) {
	reg := model.NewRegistry()
	mustRegister(t, reg, def("p.a"), noopFunc(nil))
	mustRegister(t, reg, def("p.b"), noopFunc(nil))
	mustRegister(t, reg, def("p.c"), noopFunc(nil))

	h := newHarness(t, reg, testsupport.WithMaxConcurrency(3))
	run, pc := h.createRun(t, "run-1", "p")

	if err := h.sched.Execute(context.Background(), run, resolveAll(t, reg, "p.a", "p.b", "p.c"), pc); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	events, err := h.store.EventsSince(context.Background(), "run-1", 0, 100)
	if err != nil {
		t.Fatalf("EventsSince: %v", err)
	}
	if len(events) < 6 {
		t.Fatalf("expected running+completed per model, got %d events", len(events))
	}
	last := int64(0)
	for _, event := range events {
		if event.ID <= last {
			t.Fatalf("event ids not strictly increasing: %d after %d", event.ID, last)
		}
		last = event.ID
	}
}
