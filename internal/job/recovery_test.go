package job

import (
	"context"
	stdErrors "errors"
	"testing"

	xerrors "studypilot/internal/errors"
	"studypilot/internal/plan"
	"studypilot/internal/planner"
	"studypilot/internal/session"
)

func TestPlanRecoveryProducesDegradedResult(t *testing.T) {
	executor := &stubExecutor{result: &planner.Result{
		Plan:     &plan.StudyPlan{ID: "plan-fallback"},
		Sessions: []*session.Session{{ID: "s-1"}, {ID: "s-2"}, {ID: "s-3"}},
		Degraded: true,
	}}
	recovery := NewPlanRecovery(executor)

	record, err := recovery.Recover(context.Background(), testJob("job-1"), stdErrors.New("boom"))
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if record == nil || !record.Degraded {
		t.Fatalf("expected degraded record, got %+v", record)
	}
	if record.PlanID != "plan-fallback" || record.SessionCount != 3 {
		t.Fatalf("unexpected record: %+v", record)
	}
}

func TestPlanRecoveryPropagatesExecutorFailure(t *testing.T) {
	executor := &stubExecutor{err: stdErrors.New("still broken")}
	recovery := NewPlanRecovery(executor)

	if _, err := recovery.Recover(context.Background(), testJob("job-1"), stdErrors.New("boom")); err == nil {
		t.Fatal("expected error from executor")
	}
}

func TestPlanRecoveryWithoutExecutorIsNoop(t *testing.T) {
	recovery := NewPlanRecovery(nil)

	record, err := recovery.Recover(context.Background(), testJob("job-1"), stdErrors.New("boom"))
	if err != nil || record != nil {
		t.Fatalf("expected noop, got %+v, %v", record, err)
	}
}

func TestProcessorUsesPlanRecoveryOnTerminalFailure(t *testing.T) {
	store := NewMemoryStore()
	producer := &stubProducer{}
	primary := &stubExecutor{err: xerrors.New(xerrors.CodeValidation, "科目配置无效")}
	fallback := &stubExecutor{result: &planner.Result{
		Plan:     &plan.StudyPlan{ID: "plan-fallback"},
		Sessions: []*session.Session{{ID: "s-1"}},
		Degraded: true,
	}}

	if err := store.Create(context.Background(), testJob("job-1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	p := NewProcessor(primary, store, nil, producer, WithRecoveryHandler(NewPlanRecovery(fallback)))
	if err := p.handle(context.Background(), "job-1"); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if fallback.calls != 1 {
		t.Fatalf("expected fallback executor invoked once, got %d", fallback.calls)
	}

	got, err := store.Get(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusSucceeded || got.Result == nil {
		t.Fatalf("expected degraded success, got %+v", got)
	}
	if got.Result.PlanID != "plan-fallback" || !got.Result.Degraded {
		t.Fatalf("unexpected result: %+v", got.Result)
	}
}
