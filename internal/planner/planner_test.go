package planner

import (
	"context"
	stdErrors "errors"
	"testing"

	xerrors "studypilot/internal/errors"
	"studypilot/internal/llm"
	"studypilot/internal/plan"
	"studypilot/internal/session"
)

type stubLLM struct {
	reply string
	err   error
}

func (s *stubLLM) Generate(context.Context, llm.Request) (*llm.Response, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &llm.Response{Reply: s.reply}, nil
}

func testRequest() Request {
	return Request{
		UserID:      "user-1",
		Title:       "期末冲刺",
		StartDate:   "2025-06-01",
		EndDate:     "2025-06-02",
		HoursPerDay: 2,
		Subjects: []plan.Subject{
			{Name: "数学", Difficulty: plan.DifficultyHard, TargetHours: 2, Topics: []string{"微积分", "线性代数"}},
			{Name: "英语", Difficulty: plan.DifficultyEasy, TargetHours: 1},
		},
	}
}

func TestGeneratePersistsPlanAndSessions(t *testing.T) {
	plans := plan.NewMemoryStore()
	sessions := session.NewMemoryStore()
	client := &stubLLM{reply: `{"subject_order": ["英语", "数学"], "advice": "先热身再攻坚"}`}

	g := New(client, plans, sessions)
	result, err := g.Generate(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if result.Degraded {
		t.Fatal("unexpected degraded result")
	}
	if result.Advice != "先热身再攻坚" {
		t.Fatalf("unexpected advice: %q", result.Advice)
	}
	if len(result.Sessions) == 0 {
		t.Fatal("expected sessions")
	}

	stored, err := plans.Get(context.Background(), result.Plan.ID)
	if err != nil {
		t.Fatalf("plan not persisted: %v", err)
	}
	if stored.Title != "期末冲刺" {
		t.Fatalf("unexpected plan: %+v", stored)
	}

	for _, s := range result.Sessions {
		got, err := sessions.Get(context.Background(), s.ID)
		if err != nil {
			t.Fatalf("session %s not persisted: %v", s.ID, err)
		}
		if got.Status != session.StatusPending || got.Source != session.SourceOriginal {
			t.Fatalf("unexpected session state: %+v", got)
		}
	}

	// 大模型指定英语优先，第一天的第一个会话应是英语。
	if result.Sessions[0].Subject != "英语" {
		t.Fatalf("expected 英语 first, got %s", result.Sessions[0].Subject)
	}
}

func TestGenerateRespectsDailyBudget(t *testing.T) {
	plans := plan.NewMemoryStore()
	sessions := session.NewMemoryStore()

	g := New(&stubLLM{reply: `{"subject_order": []}`}, plans, sessions)
	result, err := g.Generate(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	budget := result.Plan.DailyBudgetMinutes()
	perDay := make(map[string]int)
	for _, s := range result.Sessions {
		perDay[s.Date] += s.DurationMinutes
	}
	for date, total := range perDay {
		if total > budget {
			t.Fatalf("day %s exceeds budget: %d > %d", date, total, budget)
		}
	}
}

func TestGenerateScalesDurationByDifficulty(t *testing.T) {
	plans := plan.NewMemoryStore()
	sessions := session.NewMemoryStore()

	g := New(&stubLLM{reply: `{"subject_order": ["数学", "英语"]}`}, plans, sessions)
	result, err := g.Generate(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	first := result.Sessions[0]
	if first.Subject != "数学" {
		t.Fatalf("expected 数学 first, got %s", first.Subject)
	}
	// 基准 60 分钟按难度 1.5 缩放。
	if first.DurationMinutes != 90 {
		t.Fatalf("expected 90 minutes, got %d", first.DurationMinutes)
	}
	if first.Topic != "微积分" {
		t.Fatalf("expected first topic, got %q", first.Topic)
	}
}

func TestGenerateDegradesToDifficultyOrder(t *testing.T) {
	plans := plan.NewMemoryStore()
	sessions := session.NewMemoryStore()
	client := &stubLLM{err: stdErrors.New("connection refused")}

	g := New(client, plans, sessions)
	result, err := g.Generate(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !result.Degraded {
		t.Fatal("expected degraded result")
	}
	if result.Sessions[0].Subject != "数学" {
		t.Fatalf("expected hardest subject first, got %s", result.Sessions[0].Subject)
	}
}

func TestGenerateRejectsInvalidRequest(t *testing.T) {
	plans := plan.NewMemoryStore()
	sessions := session.NewMemoryStore()

	req := testRequest()
	req.EndDate = "2025-05-01"

	g := New(&stubLLM{reply: "{}"}, plans, sessions)
	_, err := g.Generate(context.Background(), req)
	if xerrors.CodeOf(err) != xerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestApplyOrderFallsBackForUnknownNames(t *testing.T) {
	subjects := []plan.Subject{
		{Name: "英语", Difficulty: plan.DifficultyEasy},
		{Name: "数学", Difficulty: plan.DifficultyHard},
	}

	ordered := applyOrder(subjects, []string{"物理"})
	if ordered[0].Name != "数学" {
		t.Fatalf("expected difficulty fallback, got %s first", ordered[0].Name)
	}
}
