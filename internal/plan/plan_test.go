package plan

import (
	"context"
	stdErrors "errors"
	"testing"

	xerrors "studypilot/internal/errors"
)

func validPlan() *StudyPlan {
	return &StudyPlan{
		ID:          "plan-1",
		UserID:      "user-1",
		Title:       "期末复习",
		StartDate:   "2025-06-01",
		EndDate:     "2025-06-14",
		HoursPerDay: 2,
		Subjects: []Subject{
			{Name: "数学", Difficulty: DifficultyHard, TargetHours: 10, Topics: []string{"微积分"}},
			{Name: "英语", Difficulty: DifficultyEasy, TargetHours: 6},
		},
	}
}

func TestValidate(t *testing.T) {
	if err := validPlan().Validate(); err != nil {
		t.Fatalf("valid plan rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*StudyPlan)
	}{
		{"empty title", func(p *StudyPlan) { p.Title = " " }},
		{"bad start date", func(p *StudyPlan) { p.StartDate = "06/01/2025" }},
		{"bad end date", func(p *StudyPlan) { p.EndDate = "someday" }},
		{"end before start", func(p *StudyPlan) { p.EndDate = "2025-05-01" }},
		{"zero hours", func(p *StudyPlan) { p.HoursPerDay = 0 }},
		{"no subjects", func(p *StudyPlan) { p.Subjects = nil }},
		{"unnamed subject", func(p *StudyPlan) { p.Subjects[0].Name = "" }},
		{"bad difficulty", func(p *StudyPlan) { p.Subjects[0].Difficulty = "impossible" }},
	}
	for _, tc := range cases {
		p := validPlan()
		tc.mutate(p)
		err := p.Validate()
		if err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		if xerrors.CodeOf(err) != xerrors.CodeValidation {
			t.Fatalf("%s: expected validation code, got %v", tc.name, err)
		}
	}
}

func TestDailyBudgetMinutes(t *testing.T) {
	p := validPlan()
	if got := p.DailyBudgetMinutes(); got != 120 {
		t.Fatalf("expected 120 minutes, got %d", got)
	}
	p.HoursPerDay = 1.5
	if got := p.DailyBudgetMinutes(); got != 90 {
		t.Fatalf("expected 90 minutes, got %d", got)
	}
}

func TestSubjectByName(t *testing.T) {
	p := validPlan()
	subject, ok := p.SubjectByName("数学")
	if !ok || subject.Difficulty != DifficultyHard {
		t.Fatalf("unexpected subject lookup: %+v ok=%v", subject, ok)
	}
	if _, ok := p.SubjectByName("物理"); ok {
		t.Fatal("expected lookup miss")
	}
}

func TestDifficultyMultiplierAndRank(t *testing.T) {
	if DifficultyEasy.Multiplier() != 0.75 || DifficultyHard.Multiplier() != 1.5 || DifficultyMedium.Multiplier() != 1.0 {
		t.Fatal("unexpected multipliers")
	}
	if !(DifficultyHard.Rank() > DifficultyMedium.Rank() && DifficultyMedium.Rank() > DifficultyEasy.Rank()) {
		t.Fatal("ranks must order hard > medium > easy")
	}
}

func TestNextDate(t *testing.T) {
	next, err := NextDate("2025-06-30")
	if err != nil {
		t.Fatalf("next date: %v", err)
	}
	if next != "2025-07-01" {
		t.Fatalf("expected 2025-07-01, got %s", next)
	}
	if _, err := NextDate("not-a-date"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	p := validPlan()
	if err := store.Create(ctx, p); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, validPlan()); !stdErrors.Is(err, ErrPlanConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	got, err := store.Get(ctx, "plan-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != p.Title || len(got.Subjects) != 2 {
		t.Fatalf("unexpected plan: %+v", got)
	}

	// 返回的是副本，修改不影响存储。
	got.Subjects[0].Name = "物理"
	again, err := store.Get(ctx, "plan-1")
	if err != nil {
		t.Fatalf("get again: %v", err)
	}
	if again.Subjects[0].Name != "数学" {
		t.Fatalf("stored plan mutated: %+v", again.Subjects[0])
	}

	if _, err := store.Get(ctx, "missing"); !stdErrors.Is(err, ErrPlanNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if err := store.Delete(ctx, "plan-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, "plan-1"); !stdErrors.Is(err, ErrPlanNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}
