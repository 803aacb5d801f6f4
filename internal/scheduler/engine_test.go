package scheduler

import (
	"context"
	stdErrors "errors"
	"fmt"
	"testing"

	xerrors "studypilot/internal/errors"
	"studypilot/internal/plan"
	"studypilot/internal/session"
)

func newTestFixture(t *testing.T) (*Engine, *plan.MemoryStore, *session.MemoryStore, *plan.StudyPlan) {
	t.Helper()
	plans := plan.NewMemoryStore()
	sessions := session.NewMemoryStore()
	engine := New(plans, sessions)

	p := &plan.StudyPlan{
		ID:          "plan-1",
		UserID:      "user-1",
		Title:       "期末复习",
		StartDate:   "2025-06-01",
		EndDate:     "2025-06-10",
		HoursPerDay: 2,
		Subjects: []plan.Subject{
			{Name: "Algebra", Difficulty: plan.DifficultyHard, TargetHours: 10},
			{Name: "English", Difficulty: plan.DifficultyEasy, TargetHours: 6},
		},
	}
	if err := plans.Create(context.Background(), p); err != nil {
		t.Fatalf("create plan: %v", err)
	}
	return engine, plans, sessions, p
}

func addSession(t *testing.T, store *session.MemoryStore, s *session.Session) {
	t.Helper()
	if err := store.Create(context.Background(), s); err != nil {
		t.Fatalf("create session %s: %v", s.ID, err)
	}
}

func TestListTodayOrdersByStartMinute(t *testing.T) {
	engine, _, sessions, p := newTestFixture(t)
	ctx := context.Background()

	addSession(t, sessions, &session.Session{ID: "s-2", PlanID: p.ID, Subject: "English", Date: "2025-06-01", StartMinute: 660, DurationMinutes: 60})
	addSession(t, sessions, &session.Session{ID: "s-1", PlanID: p.ID, Subject: "Algebra", Date: "2025-06-01", StartMinute: 540, DurationMinutes: 60})
	addSession(t, sessions, &session.Session{ID: "s-3", PlanID: p.ID, Subject: "Algebra", Date: "2025-06-02", StartMinute: 540, DurationMinutes: 60})

	got, err := engine.ListToday(ctx, p.ID, "2025-06-01")
	if err != nil {
		t.Fatalf("list today: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(got))
	}
	if got[0].ID != "s-1" || got[1].ID != "s-2" {
		t.Fatalf("unexpected order: %s, %s", got[0].ID, got[1].ID)
	}
}

func TestListTodayUnknownPlan(t *testing.T) {
	engine, _, _, _ := newTestFixture(t)

	_, err := engine.ListToday(context.Background(), "missing", "2025-06-01")
	if !stdErrors.Is(err, plan.ErrPlanNotFound) {
		t.Fatalf("expected plan not found, got %v", err)
	}
}

func TestListTodayInvalidDate(t *testing.T) {
	engine, _, _, p := newTestFixture(t)

	_, err := engine.ListToday(context.Background(), p.ID, "06/01/2025")
	if xerrors.CodeOf(err) != xerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestMarkStatusTransitions(t *testing.T) {
	engine, _, sessions, p := newTestFixture(t)
	ctx := context.Background()

	addSession(t, sessions, &session.Session{ID: "s-1", PlanID: p.ID, Subject: "Algebra", Date: "2025-06-01", StartMinute: 540, DurationMinutes: 60})

	updated, err := engine.MarkStatus(ctx, "s-1", session.StatusCompleted)
	if err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	if updated.Status != session.StatusCompleted {
		t.Fatalf("expected completed, got %s", updated.Status)
	}

	// 目标状态与当前状态相同时为幂等空操作。
	again, err := engine.MarkStatus(ctx, "s-1", session.StatusCompleted)
	if err != nil {
		t.Fatalf("idempotent mark: %v", err)
	}
	if again.Status != session.StatusCompleted {
		t.Fatalf("expected completed, got %s", again.Status)
	}

	// 终态之间不允许迁移。
	_, err = engine.MarkStatus(ctx, "s-1", session.StatusSkipped)
	if xerrors.CodeOf(err) != xerrors.CodeInvalidTransition {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestMarkStatusInvalidTarget(t *testing.T) {
	engine, _, sessions, p := newTestFixture(t)

	addSession(t, sessions, &session.Session{ID: "s-1", PlanID: p.ID, Subject: "Algebra", Date: "2025-06-01", DurationMinutes: 60})

	_, err := engine.MarkStatus(context.Background(), "s-1", session.StatusPending)
	if xerrors.CodeOf(err) != xerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestMarkStatusUnknownSession(t *testing.T) {
	engine, _, _, _ := newTestFixture(t)

	_, err := engine.MarkStatus(context.Background(), "missing", session.StatusCompleted)
	if !stdErrors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("expected session not found, got %v", err)
	}
}

func TestSummarizeCountsSumToTotal(t *testing.T) {
	engine, _, sessions, p := newTestFixture(t)
	ctx := context.Background()

	addSession(t, sessions, &session.Session{ID: "s-1", PlanID: p.ID, Subject: "Algebra", Date: "2025-06-01", DurationMinutes: 60, Status: session.StatusCompleted})
	addSession(t, sessions, &session.Session{ID: "s-2", PlanID: p.ID, Subject: "Algebra", Date: "2025-06-02", DurationMinutes: 60, Status: session.StatusSkipped})
	addSession(t, sessions, &session.Session{ID: "s-3", PlanID: p.ID, Subject: "English", Date: "2025-06-03", DurationMinutes: 60})
	addSession(t, sessions, &session.Session{ID: "s-4", PlanID: p.ID, Subject: "English", Date: "2025-06-04", DurationMinutes: 60})

	stats, err := engine.Summarize(ctx, p.ID)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if stats.Total != 4 {
		t.Fatalf("expected total 4, got %d", stats.Total)
	}
	if stats.Completed+stats.Skipped+stats.Pending != stats.Total {
		t.Fatalf("counts do not sum to total: %+v", stats)
	}
	if stats.PercentComplete != 25 {
		t.Fatalf("expected 25%% complete, got %v", stats.PercentComplete)
	}
}

// 预算为每天 2 小时。第 1 天被跳过的 1 小时会话在改期时跳过已排 1.5
// 小时的第 3 天（1.5h+1h 超出预算），落到空白的第 4 天。
func TestRescheduleRespectsDailyBudget(t *testing.T) {
	engine, _, sessions, p := newTestFixture(t)
	ctx := context.Background()

	addSession(t, sessions, &session.Session{
		ID: "s-skip", PlanID: p.ID, Subject: "Algebra", Date: "2025-06-01",
		StartMinute: 540, DurationMinutes: 60, Status: session.StatusSkipped,
	})
	addSession(t, sessions, &session.Session{
		ID: "s-busy", PlanID: p.ID, Subject: "English", Date: "2025-06-03",
		StartMinute: 540, DurationMinutes: 90,
	})

	created, err := engine.Reschedule(ctx, p.ID, "2025-06-02")
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("expected 1 created session, got %d", len(created))
	}

	replacement := created[0]
	if replacement.Date != "2025-06-04" {
		t.Fatalf("expected 2025-06-04, got %s", replacement.Date)
	}
	if replacement.Source != session.SourceRescheduled {
		t.Fatalf("expected rescheduled source, got %s", replacement.Source)
	}
	if replacement.RescheduledFrom != "s-skip" {
		t.Fatalf("expected back-reference to s-skip, got %q", replacement.RescheduledFrom)
	}
	if replacement.Status != session.StatusPending {
		t.Fatalf("expected pending, got %s", replacement.Status)
	}

	// 原会话保持 skipped，不被修改或删除。
	original, err := sessions.Get(ctx, "s-skip")
	if err != nil {
		t.Fatalf("get original: %v", err)
	}
	if original.Status != session.StatusSkipped {
		t.Fatalf("original should stay skipped, got %s", original.Status)
	}
}

func TestRescheduleTwiceIsNoop(t *testing.T) {
	engine, _, sessions, p := newTestFixture(t)
	ctx := context.Background()

	addSession(t, sessions, &session.Session{
		ID: "s-skip", PlanID: p.ID, Subject: "Algebra", Date: "2025-06-01",
		StartMinute: 540, DurationMinutes: 60, Status: session.StatusSkipped,
	})

	first, err := engine.Reschedule(ctx, p.ID, "2025-06-02")
	if err != nil {
		t.Fatalf("first reschedule: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("expected 1 created session, got %d", len(first))
	}

	second, err := engine.Reschedule(ctx, p.ID, "2025-06-02")
	if err != nil {
		t.Fatalf("second reschedule: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("expected no-op on second run, got %d sessions", len(second))
	}

	// 不存在两个指向同一原会话的改期记录。
	all, err := sessions.ListByPlan(ctx, p.ID, session.WithLimit(100))
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	seen := make(map[string]int)
	for _, s := range all {
		if s.RescheduledFrom != "" {
			seen[s.RescheduledFrom]++
		}
	}
	for original, count := range seen {
		if count > 1 {
			t.Fatalf("original %s rescheduled %d times", original, count)
		}
	}
}

// 同一天的多个逾期会话按难度从高到低依次占位。
func TestRescheduleHarderSubjectsFirst(t *testing.T) {
	engine, _, sessions, p := newTestFixture(t)
	ctx := context.Background()

	addSession(t, sessions, &session.Session{
		ID: "s-easy", PlanID: p.ID, Subject: "English", Date: "2025-06-01",
		StartMinute: 540, DurationMinutes: 90, Status: session.StatusSkipped,
	})
	addSession(t, sessions, &session.Session{
		ID: "s-hard", PlanID: p.ID, Subject: "Algebra", Date: "2025-06-01",
		StartMinute: 660, DurationMinutes: 90, Status: session.StatusSkipped,
	})

	created, err := engine.Reschedule(ctx, p.ID, "2025-06-02")
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("expected 2 created sessions, got %d", len(created))
	}

	// 90+90 超出单日 120 分钟预算，两个会话被排到不同日期，难度高者在前。
	if created[0].RescheduledFrom != "s-hard" {
		t.Fatalf("expected hard subject first, got %s", created[0].RescheduledFrom)
	}
	if created[0].Date != "2025-06-03" || created[1].Date != "2025-06-04" {
		t.Fatalf("unexpected dates: %s, %s", created[0].Date, created[1].Date)
	}
}

func TestRescheduleUnschedulableIsNotAnError(t *testing.T) {
	plans := plan.NewMemoryStore()
	sessions := session.NewMemoryStore()
	engine := New(plans, sessions)
	ctx := context.Background()

	p := &plan.StudyPlan{
		ID: "plan-short", Title: "短期冲刺",
		StartDate: "2025-06-01", EndDate: "2025-06-02", HoursPerDay: 1,
		Subjects: []plan.Subject{{Name: "Algebra", Difficulty: plan.DifficultyHard}},
	}
	if err := plans.Create(ctx, p); err != nil {
		t.Fatalf("create plan: %v", err)
	}
	addSession(t, sessions, &session.Session{
		ID: "s-skip", PlanID: p.ID, Subject: "Algebra", Date: "2025-06-01",
		StartMinute: 540, DurationMinutes: 60, Status: session.StatusSkipped,
	})

	// 候选日期从 06-03 开始，已超出计划结束日期。
	created, err := engine.Reschedule(ctx, p.ID, "2025-06-02")
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if len(created) != 0 {
		t.Fatalf("expected no sessions created, got %d", len(created))
	}
}

func TestReschedulePlacesAfterExistingBlocks(t *testing.T) {
	engine, _, sessions, p := newTestFixture(t)
	ctx := context.Background()

	addSession(t, sessions, &session.Session{
		ID: "s-skip", PlanID: p.ID, Subject: "Algebra", Date: "2025-06-01",
		StartMinute: 540, DurationMinutes: 60, Status: session.StatusSkipped,
	})
	addSession(t, sessions, &session.Session{
		ID: "s-existing", PlanID: p.ID, Subject: "English", Date: "2025-06-03",
		StartMinute: 540, DurationMinutes: 30,
	})

	created, err := engine.Reschedule(ctx, p.ID, "2025-06-02")
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("expected 1 created session, got %d", len(created))
	}
	if created[0].Date != "2025-06-03" {
		t.Fatalf("expected 2025-06-03, got %s", created[0].Date)
	}
	if created[0].StartMinute != 570 {
		t.Fatalf("expected start after existing block (570), got %d", created[0].StartMinute)
	}
}

func TestRescheduleCoversLargePlans(t *testing.T) {
	plans := plan.NewMemoryStore()
	sessions := session.NewMemoryStore()
	engine := New(plans, sessions)
	ctx := context.Background()

	p := &plan.StudyPlan{
		ID: "plan-year", Title: "全年备考",
		StartDate: "2025-01-01", EndDate: "2025-12-31", HoursPerDay: 2,
		Subjects: []plan.Subject{{Name: "Algebra", Difficulty: plan.DifficultyHard}},
	}
	if err := plans.Create(ctx, p); err != nil {
		t.Fatalf("create plan: %v", err)
	}

	// 超过单页上限的逾期会话，全部都要参与改期。
	const overdue = 210
	for i := 0; i < overdue; i++ {
		addSession(t, sessions, &session.Session{
			ID:              fmt.Sprintf("s-skip-%03d", i),
			PlanID:          p.ID,
			Subject:         "Algebra",
			Date:            fmt.Sprintf("2025-01-%02d", i/10+1),
			StartMinute:     540 + (i%10)*30,
			DurationMinutes: 30,
			Status:          session.StatusSkipped,
		})
	}

	created, err := engine.Reschedule(ctx, p.ID, "2025-06-01")
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if len(created) != overdue {
		t.Fatalf("expected %d created sessions, got %d", overdue, len(created))
	}

	budget := p.DailyBudgetMinutes()
	perDay := make(map[string]int)
	seen := make(map[string]bool)
	for _, s := range created {
		perDay[s.Date] += s.DurationMinutes
		if seen[s.RescheduledFrom] {
			t.Fatalf("original %s rescheduled twice", s.RescheduledFrom)
		}
		seen[s.RescheduledFrom] = true
	}
	for date, total := range perDay {
		if total > budget {
			t.Fatalf("day %s exceeds budget: %d > %d", date, total, budget)
		}
	}
}
