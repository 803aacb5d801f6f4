package scheduler

import (
	"context"
	"log/slog"
	"sort"

	xerrors "studypilot/internal/errors"
	"studypilot/internal/plan"
	"studypilot/internal/session"
	"studypilot/pkg/logger"

	"github.com/google/uuid"
)

// Engine 负责会话状态机与改期算法。所有写操作都通过会话存储完成，
// 引擎本身不持有可变状态。
type Engine struct {
	plans    plan.Store
	sessions session.Store
	logger   *slog.Logger

	// dayStartMinute 是空白日期上第一个改期会话的默认开始时间。
	dayStartMinute int
}

// Option 定义 Engine 的可选配置。
type Option func(*Engine)

// WithLogger 指定日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithDayStart 指定改期会话在空白日期上的默认开始分钟。
func WithDayStart(minute int) Option {
	return func(e *Engine) {
		if minute > 0 {
			e.dayStartMinute = minute
		}
	}
}

// New 创建调度引擎。
func New(plans plan.Store, sessions session.Store, opts ...Option) *Engine {
	e := &Engine{
		plans:          plans,
		sessions:       sessions,
		logger:         logger.Named("scheduler"),
		dayStartMinute: 9 * 60,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// ListToday 返回计划在指定日期的全部会话，按开始时间排序。
func (e *Engine) ListToday(ctx context.Context, planID, date string) ([]*session.Session, error) {
	if _, err := plan.ParseDate(date); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeValidation, err, "日期格式错误", xerrors.WithMetadata("field", "date"))
	}
	if _, err := e.plans.Get(ctx, planID); err != nil {
		return nil, err
	}
	return e.sessions.ListByPlan(ctx, planID, session.WithDate(date))
}

// MarkStatus 将会话从 pending 迁移到 completed 或 skipped。
// 目标状态与当前状态相同时为幂等空操作；其余情况返回 ErrInvalidTransition。
func (e *Engine) MarkStatus(ctx context.Context, sessionID string, target session.Status) (*session.Session, error) {
	if target != session.StatusCompleted && target != session.StatusSkipped {
		return nil, xerrors.New(xerrors.CodeValidation, "目标状态必须是 completed 或 skipped",
			xerrors.WithMetadata("status", string(target)))
	}

	current, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if current.Status == target {
		return current, nil
	}
	if current.Status != session.StatusPending {
		return nil, xerrors.New(xerrors.CodeInvalidTransition, "会话已处于终态",
			xerrors.WithMetadata("current", string(current.Status)),
			xerrors.WithMetadata("allowed", "pending -> completed | skipped"))
	}

	if err := e.sessions.UpdateStatus(ctx, sessionID, session.StatusPending, target); err != nil {
		// 并发路径下状态可能刚被其他请求更新，重新读取以区分幂等与冲突。
		latest, getErr := e.sessions.Get(ctx, sessionID)
		if getErr == nil && latest.Status == target {
			return latest, nil
		}
		return nil, err
	}
	return e.sessions.Get(ctx, sessionID)
}

// Summarize 返回计划的进度统计。
func (e *Engine) Summarize(ctx context.Context, planID string) (session.Stats, error) {
	if _, err := e.plans.Get(ctx, planID); err != nil {
		return session.Stats{}, err
	}
	return e.sessions.Stats(ctx, planID)
}

// Reschedule 为计划内所有逾期被跳过的会话寻找新的日期，返回新创建的会话。
// 找不到合法日期的会话仅记录日志，不视为错误。
func (e *Engine) Reschedule(ctx context.Context, planID, today string) ([]*session.Session, error) {
	p, err := e.plans.Get(ctx, planID)
	if err != nil {
		return nil, err
	}
	if _, err := plan.ParseDate(today); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeValidation, err, "日期格式错误", xerrors.WithMetadata("field", "today"))
	}

	overdue, err := e.collectOverdue(ctx, p, today)
	if err != nil {
		return nil, err
	}
	if len(overdue) == 0 {
		return nil, nil
	}

	ledger, blocks, err := e.loadCommitted(ctx, planID)
	if err != nil {
		return nil, err
	}

	firstCandidate, err := plan.NextDate(today)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeValidation, err, "日期格式错误")
	}

	budget := p.DailyBudgetMinutes()
	created := make([]*session.Session, 0, len(overdue))

	for _, original := range overdue {
		target, ok := e.findSlot(original, firstCandidate, p.EndDate, budget, ledger, blocks)
		if !ok {
			e.logger.Warn("会话在计划结束前找不到可用日期",
				slog.String("session_id", original.ID),
				slog.String("plan_id", planID),
				slog.String("subject", original.Subject),
			)
			continue
		}

		replacement := &session.Session{
			ID:              uuid.NewString(),
			PlanID:          planID,
			Subject:         original.Subject,
			Topic:           original.Topic,
			Date:            target,
			StartMinute:     e.nextStartMinute(blocks[target]),
			DurationMinutes: original.DurationMinutes,
			Status:          session.StatusPending,
			Source:          session.SourceRescheduled,
			RescheduledFrom: original.ID,
		}
		if err := e.sessions.Create(ctx, replacement); err != nil {
			// 并发的另一次改期已经处理了同一个原会话。
			if xerrors.CodeOf(err) == session.CodeAlreadyRescheduled {
				e.logger.Warn("会话已被并发改期，跳过",
					slog.String("session_id", original.ID))
				continue
			}
			return nil, err
		}

		ledger[target] += replacement.DurationMinutes
		blocks[target] = append(blocks[target], replacement)
		created = append(created, replacement)

		e.logger.Info("会话已改期",
			slog.String("plan_id", planID),
			slog.String("original", original.ID),
			slog.String("replacement", replacement.ID),
			slog.String("date", target),
		)
	}
	return created, nil
}

// collectOverdue 收集逾期且未被改期过的 skipped 会话，
// 按原定日期升序排列，同一天内难度更高的科目优先。
func (e *Engine) collectOverdue(ctx context.Context, p *plan.StudyPlan, today string) ([]*session.Session, error) {
	skipped, err := e.sessions.ListByPlan(ctx, p.ID,
		session.WithStatuses(session.StatusSkipped),
		session.WithSources(session.SourceOriginal),
		session.WithDateBefore(today),
		session.WithNoLimit(),
	)
	if err != nil {
		return nil, err
	}

	overdue := make([]*session.Session, 0, len(skipped))
	for _, s := range skipped {
		done, err := e.sessions.HasRescheduleFor(ctx, s.ID)
		if err != nil {
			return nil, err
		}
		if done {
			continue
		}
		overdue = append(overdue, s)
	}

	rank := func(s *session.Session) int {
		subject, ok := p.SubjectByName(s.Subject)
		if !ok {
			return 0
		}
		return subject.Difficulty.Rank()
	}
	sort.SliceStable(overdue, func(i, j int) bool {
		if overdue[i].Date != overdue[j].Date {
			return overdue[i].Date < overdue[j].Date
		}
		if rank(overdue[i]) != rank(overdue[j]) {
			return rank(overdue[i]) > rank(overdue[j])
		}
		return overdue[i].StartMinute < overdue[j].StartMinute
	})
	return overdue, nil
}

// loadCommitted 构建每个日期的已占用分钟数与时间块列表。
// 只有 pending 会话占用未来的时间预算。
func (e *Engine) loadCommitted(ctx context.Context, planID string) (map[string]int, map[string][]*session.Session, error) {
	// 预算台账必须覆盖计划内全部 pending 会话，截断会导致超排。
	pending, err := e.sessions.ListByPlan(ctx, planID,
		session.WithStatuses(session.StatusPending),
		session.WithNoLimit(),
	)
	if err != nil {
		return nil, nil, err
	}

	ledger := make(map[string]int, len(pending))
	blocks := make(map[string][]*session.Session, len(pending))
	for _, s := range pending {
		ledger[s.Date] += s.DurationMinutes
		blocks[s.Date] = append(blocks[s.Date], s)
	}
	return ledger, blocks, nil
}

// findSlot 返回从 firstCandidate 起第一个满足预算与时间块约束的日期。
func (e *Engine) findSlot(original *session.Session, firstCandidate, endDate string, budget int, ledger map[string]int, blocks map[string][]*session.Session) (string, bool) {
	date := firstCandidate
	for date <= endDate {
		if ledger[date]+original.DurationMinutes <= budget && !e.overlapsSubject(original, blocks[date]) {
			return date, true
		}
		next, err := plan.NextDate(date)
		if err != nil {
			return "", false
		}
		date = next
	}
	return "", false
}

// overlapsSubject 判断在既有时间块后追加会话是否会与同科目/主题的块重叠。
// 新会话总是放在当天最后一个块之后，因此只需检查占位起点。
func (e *Engine) overlapsSubject(original *session.Session, existing []*session.Session) bool {
	start := e.nextStartMinute(existing)
	end := start + original.DurationMinutes
	for _, block := range existing {
		if block.Subject != original.Subject || block.Topic != original.Topic {
			continue
		}
		if start < block.EndMinute() && block.StartMinute < end {
			return true
		}
	}
	return false
}

// nextStartMinute 返回当天下一个可用的开始分钟。
func (e *Engine) nextStartMinute(existing []*session.Session) int {
	start := e.dayStartMinute
	for _, block := range existing {
		if block.EndMinute() > start {
			start = block.EndMinute()
		}
	}
	return start
}
