package job

import (
	"context"
	stdErrors "errors"
	"testing"

	"studypilot/internal/plan"
	"studypilot/internal/planner"
)

func testJob(id string) *PlanJob {
	return &PlanJob{
		ID: id,
		Request: planner.Request{
			UserID:      "user-1",
			Title:       "期末冲刺",
			StartDate:   "2025-06-01",
			EndDate:     "2025-06-07",
			HoursPerDay: 2,
			Subjects:    []plan.Subject{{Name: "数学", Difficulty: plan.DifficultyHard}},
		},
		Status:     StatusPending,
		MaxRetries: 2,
	}
}

func TestMemoryStoreClaimLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, testJob("job-1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, testJob("job-1")); !stdErrors.Is(err, ErrJobConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	claimed, err := store.Claim(ctx, "job-1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Status != StatusRunning || claimed.Attempts != 1 {
		t.Fatalf("unexpected claimed job: %+v", claimed)
	}

	// 运行中的任务不能被再次领取。
	if _, err := store.Claim(ctx, "job-1"); !stdErrors.Is(err, ErrJobConflict) {
		t.Fatalf("expected conflict while running, got %v", err)
	}

	if err := store.MarkFailed(ctx, "job-1", CodeJobProcessing, "boom", false); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	claimed, err = store.Claim(ctx, "job-1")
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if claimed.Attempts != 2 || claimed.LastError != "" {
		t.Fatalf("expected errors cleared on reclaim: %+v", claimed)
	}

	if err := store.MarkFailed(ctx, "job-1", CodeJobProcessing, "boom", false); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if _, err := store.Claim(ctx, "job-1"); !stdErrors.Is(err, ErrJobExhausted) {
		t.Fatalf("expected exhausted, got %v", err)
	}
}

func TestMemoryStoreClaimCompleted(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, testJob("job-1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "job-1", GenerationResult{PlanID: "plan-1", SessionCount: 4}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}
	if _, err := store.Claim(ctx, "job-1"); !stdErrors.Is(err, ErrJobCompleted) {
		t.Fatalf("expected completed, got %v", err)
	}

	got, err := store.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Result == nil || got.Result.PlanID != "plan-1" {
		t.Fatalf("unexpected result: %+v", got.Result)
	}
}

func TestMemoryStoreGetMissing(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.Get(context.Background(), "missing"); !stdErrors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryStoreReturnsClones(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, testJob("job-1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := store.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got.Request.Subjects[0].Name = "物理"

	again, err := store.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("get again: %v", err)
	}
	if again.Request.Subjects[0].Name != "数学" {
		t.Fatalf("stored job mutated: %+v", again.Request.Subjects[0])
	}
}
