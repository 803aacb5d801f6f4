package job

import (
	"context"
	"testing"

	xerrors "studypilot/internal/errors"
	"studypilot/internal/observability/alerting"
	"studypilot/internal/plan"
	"studypilot/internal/planner"
	"studypilot/internal/session"
)

type stubExecutor struct {
	result *planner.Result
	err    error
	calls  int
}

func (s *stubExecutor) Generate(_ context.Context, _ planner.Request) (*planner.Result, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

type stubRecovery struct {
	fallback *GenerationResult
	err      error
	calls    int
}

func (s *stubRecovery) Recover(_ context.Context, _ *PlanJob, _ error) (*GenerationResult, error) {
	s.calls++
	return s.fallback, s.err
}

func TestProcessorHandleSuccess(t *testing.T) {
	store := NewMemoryStore()
	producer := &stubProducer{}
	executor := &stubExecutor{result: &planner.Result{
		Plan:     &plan.StudyPlan{ID: "plan-1"},
		Sessions: []*session.Session{{ID: "s-1"}, {ID: "s-2"}},
		Advice:   "稳住节奏",
	}}

	if err := store.Create(context.Background(), testJob("job-1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	p := NewProcessor(executor, store, nil, producer)
	if err := p.handle(context.Background(), "job-1"); err != nil {
		t.Fatalf("handle: %v", err)
	}

	got, err := store.Get(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusSucceeded {
		t.Fatalf("unexpected status: %s", got.Status)
	}
	if got.Result == nil || got.Result.PlanID != "plan-1" || got.Result.SessionCount != 2 {
		t.Fatalf("unexpected result: %+v", got.Result)
	}
	if producer.count() != 0 {
		t.Fatalf("unexpected republish: %d", producer.count())
	}
}

func TestProcessorHandleRetryableFailureRequeues(t *testing.T) {
	store := NewMemoryStore()
	producer := &stubProducer{}
	executor := &stubExecutor{err: xerrors.New(CodeJobProcessing, "大模型暂时不可用", xerrors.WithRetryable(true))}

	if err := store.Create(context.Background(), testJob("job-1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	p := NewProcessor(executor, store, nil, producer)
	if err := p.handle(context.Background(), "job-1"); err != nil {
		t.Fatalf("handle: %v", err)
	}

	got, err := store.Get(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusFailed || got.Attempts != 1 {
		t.Fatalf("unexpected job: %+v", got)
	}
	if producer.count() != 1 {
		t.Fatalf("expected requeue, got %d publishes", producer.count())
	}
}

func TestProcessorHandleNonRetryableFailureIsTerminal(t *testing.T) {
	store := NewMemoryStore()
	producer := &stubProducer{}
	executor := &stubExecutor{err: xerrors.New(xerrors.CodeValidation, "开始日期格式错误")}

	if err := store.Create(context.Background(), testJob("job-1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	p := NewProcessor(executor, store, nil, producer)
	if err := p.handle(context.Background(), "job-1"); err != nil {
		t.Fatalf("handle: %v", err)
	}

	got, err := store.Get(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusFailed || got.ErrorCode != string(xerrors.CodeValidation) {
		t.Fatalf("unexpected job: %+v", got)
	}
	if producer.count() != 0 {
		t.Fatalf("terminal failure must not requeue, got %d publishes", producer.count())
	}
}

func TestProcessorHandleRecoveryFallback(t *testing.T) {
	store := NewMemoryStore()
	producer := &stubProducer{}
	executor := &stubExecutor{err: xerrors.New(xerrors.CodeValidation, "科目配置无效")}
	recovery := &stubRecovery{fallback: &GenerationResult{PlanID: "plan-degraded", Degraded: true}}

	if err := store.Create(context.Background(), testJob("job-1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	p := NewProcessor(executor, store, nil, producer, WithRecoveryHandler(recovery))
	if err := p.handle(context.Background(), "job-1"); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if recovery.calls != 1 {
		t.Fatalf("expected recovery invoked once, got %d", recovery.calls)
	}

	got, err := store.Get(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusSucceeded || got.Result == nil || !got.Result.Degraded {
		t.Fatalf("expected degraded success, got %+v", got)
	}
	if got.Result.Observations == "" {
		t.Fatal("expected observations on degraded result")
	}
}

type captureDispatcher struct {
	events []alerting.Event
}

func (d *captureDispatcher) Notify(_ context.Context, event alerting.Event) error {
	d.events = append(d.events, event)
	return nil
}

func TestProcessorEmitsAlertOnTerminalFailure(t *testing.T) {
	store := NewMemoryStore()
	producer := &stubProducer{}
	executor := &stubExecutor{err: xerrors.New(xerrors.CodeValidation, "科目配置无效")}
	dispatcher := &captureDispatcher{}

	if err := store.Create(context.Background(), testJob("job-1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	p := NewProcessor(executor, store, nil, producer, WithAlertDispatcher(dispatcher))
	if err := p.handle(context.Background(), "job-1"); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(dispatcher.events) != 1 {
		t.Fatalf("expected 1 alert event, got %d", len(dispatcher.events))
	}
	event := dispatcher.events[0]
	if event.JobID != "job-1" || event.Code != xerrors.CodeValidation {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.Metadata["stage"] != "terminal" {
		t.Fatalf("unexpected stage: %q", event.Metadata["stage"])
	}
}

func TestProcessorHandleSkipsCompletedJob(t *testing.T) {
	store := NewMemoryStore()
	producer := &stubProducer{}
	executor := &stubExecutor{}

	if err := store.Create(context.Background(), testJob("job-1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.MarkSucceeded(context.Background(), "job-1", GenerationResult{PlanID: "plan-1"}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	p := NewProcessor(executor, store, nil, producer)
	if err := p.handle(context.Background(), "job-1"); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if executor.calls != 0 {
		t.Fatalf("executor must not run for completed job, got %d calls", executor.calls)
	}
}

func TestProcessorHandleSkipsUnknownJob(t *testing.T) {
	p := NewProcessor(&stubExecutor{}, NewMemoryStore(), nil, &stubProducer{})
	if err := p.handle(context.Background(), "missing"); err != nil {
		t.Fatalf("handle: %v", err)
	}
}
