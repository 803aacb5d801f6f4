package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	xerrors "studypilot/internal/errors"
	"studypilot/internal/llm"
	"studypilot/internal/plan"
	"studypilot/internal/session"
	"studypilot/pkg/logger"

	"github.com/google/uuid"
)

// minBlockMinutes 是会话的最短时长，低于该值的碎片时间不再排期。
const minBlockMinutes = 15

// Request 描述一次计划生成请求。
type Request struct {
	UserID      string         `json:"user_id"`
	Title       string         `json:"title"`
	StartDate   string         `json:"start_date"`
	EndDate     string         `json:"end_date"`
	HoursPerDay float64        `json:"hours_per_day"`
	Subjects    []plan.Subject `json:"subjects"`
}

// Result 汇总一次计划生成的产物。
type Result struct {
	Plan     *plan.StudyPlan    `json:"plan"`
	Sessions []*session.Session `json:"sessions"`
	Advice   string             `json:"advice,omitempty"`
	Degraded bool               `json:"degraded,omitempty"`
}

// Generator 负责将计划请求转化为持久化的计划与待办会话。
// 大模型用于决定科目的优先顺序与学习建议，会话的落位本身是确定性的，
// 因此大模型失效时仍然可以生成可用的计划。
type Generator struct {
	llmClient      llm.Client
	plans          plan.Store
	sessions       session.Store
	dayStartMinute int
	sessionMinutes int
	llmTimeout     time.Duration
	logger         *slog.Logger
}

// Option 定义可选的 Generator 配置。
type Option func(*Generator)

// WithDayStart 设置每天第一个会话的开始分钟。
func WithDayStart(minute int) Option {
	return func(g *Generator) {
		if minute > 0 {
			g.dayStartMinute = minute
		}
	}
}

// WithSessionMinutes 设置基准会话时长，实际时长按科目难度缩放。
func WithSessionMinutes(minutes int) Option {
	return func(g *Generator) {
		if minutes > 0 {
			g.sessionMinutes = minutes
		}
	}
}

// WithLLMTimeout 设置调用大模型的超时时间。
func WithLLMTimeout(timeout time.Duration) Option {
	return func(g *Generator) {
		if timeout > 0 {
			g.llmTimeout = timeout
		}
	}
}

// WithLogger 指定日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(g *Generator) {
		if l != nil {
			g.logger = l
		}
	}
}

// New 创建计划生成器。
func New(llmClient llm.Client, plans plan.Store, sessions session.Store, opts ...Option) *Generator {
	g := &Generator{
		llmClient:      llmClient,
		plans:          plans,
		sessions:       sessions,
		dayStartMinute: 9 * 60,
		sessionMinutes: 60,
		logger:         logger.Named("planner"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Generate 生成并持久化计划与初始会话。
func (g *Generator) Generate(ctx context.Context, req Request) (*Result, error) {
	p := &plan.StudyPlan{
		ID:          uuid.NewString(),
		UserID:      req.UserID,
		Title:       req.Title,
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
		HoursPerDay: req.HoursPerDay,
		Subjects:    req.Subjects,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	order, advice, degraded := g.draftOrder(ctx, req)
	ordered := applyOrder(p.Subjects, order)

	sessions, err := g.materialize(p, ordered)
	if err != nil {
		return nil, err
	}

	if err := g.plans.Create(ctx, p); err != nil {
		return nil, err
	}
	for _, s := range sessions {
		if err := g.sessions.Create(ctx, s); err != nil {
			return nil, err
		}
	}

	g.logger.Info("计划生成完成",
		slog.String("plan_id", p.ID),
		slog.Int("sessions", len(sessions)),
		slog.Bool("degraded", degraded),
	)
	return &Result{
		Plan:     p,
		Sessions: sessions,
		Advice:   advice,
		Degraded: degraded,
	}, nil
}

// draftOrder 请求大模型给出科目优先顺序与学习建议。
// 调用失败时退化为按难度从高到低排序。
func (g *Generator) draftOrder(ctx context.Context, req Request) (order []string, advice string, degraded bool) {
	if g.llmClient == nil {
		return nil, "", true
	}

	llmCtx := ctx
	if g.llmTimeout > 0 {
		var cancel context.CancelFunc
		llmCtx, cancel = context.WithTimeout(ctx, g.llmTimeout)
		defer cancel()
	}

	resp, err := llm.GenerateWithRetry(llmCtx, g.llmClient, llm.Request{
		Instruction: draftInstruction,
		Message:     describeRequest(req),
	})
	if err != nil {
		g.logger.Warn("计划草拟降级为确定性排序",
			slog.String("code", string(xerrors.CodeOf(err))),
			slog.String("error", err.Error()),
		)
		return nil, "", true
	}

	var draft struct {
		SubjectOrder []string `json:"subject_order"`
		Advice       string   `json:"advice"`
	}
	if err := json.Unmarshal([]byte(llm.StripCodeFence(resp.Reply)), &draft); err != nil {
		g.logger.Warn("计划草拟输出无法解析", slog.String("error", err.Error()))
		return nil, "", true
	}
	return draft.SubjectOrder, strings.TrimSpace(draft.Advice), false
}

// materialize 以轮转方式把科目摊进日期区间，直到目标时长耗尽。
func (g *Generator) materialize(p *plan.StudyPlan, ordered []plan.Subject) ([]*session.Session, error) {
	start, err := plan.ParseDate(p.StartDate)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeValidation, err, "开始日期格式错误")
	}
	end, err := plan.ParseDate(p.EndDate)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeValidation, err, "结束日期格式错误")
	}

	budget := p.DailyBudgetMinutes()
	remaining := make(map[string]int, len(ordered))
	topicCursor := make(map[string]int, len(ordered))
	for _, subject := range ordered {
		minutes := int(subject.TargetHours * 60)
		if minutes <= 0 {
			// 未给出目标时长的科目按区间每天一个基准块估算。
			days := int(end.Sub(start).Hours()/24) + 1
			minutes = days * g.sessionMinutes / len(ordered)
			if minutes < g.sessionMinutes {
				minutes = g.sessionMinutes
			}
		}
		remaining[subject.Name] = minutes
	}

	sessions := make([]*session.Session, 0, 16)
	offset := 0
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		date := day.Format(plan.DateLayout)
		budgetLeft := budget
		cursor := g.dayStartMinute

		for i := 0; i < len(ordered) && budgetLeft >= minBlockMinutes; i++ {
			subject := ordered[(offset+i)%len(ordered)]
			left := remaining[subject.Name]
			if left <= 0 {
				continue
			}

			duration := int(float64(g.sessionMinutes) * subject.Difficulty.Multiplier())
			if duration > left {
				duration = left
			}
			if duration > budgetLeft {
				duration = budgetLeft
			}
			if duration < minBlockMinutes {
				continue
			}

			topic := ""
			if len(subject.Topics) > 0 {
				topic = subject.Topics[topicCursor[subject.Name]%len(subject.Topics)]
				topicCursor[subject.Name]++
			}

			sessions = append(sessions, &session.Session{
				ID:              uuid.NewString(),
				PlanID:          p.ID,
				Subject:         subject.Name,
				Topic:           topic,
				Date:            date,
				StartMinute:     cursor,
				DurationMinutes: duration,
				Status:          session.StatusPending,
				Source:          session.SourceOriginal,
			})

			remaining[subject.Name] -= duration
			budgetLeft -= duration
			cursor += duration
		}
		// 轮转起始科目，避免同一科目总是占据最早时段。
		offset++
	}
	return sessions, nil
}

// applyOrder 依照大模型给出的顺序重排科目，缺失的顺序退化为难度从高到低。
func applyOrder(subjects []plan.Subject, order []string) []plan.Subject {
	ordered := make([]plan.Subject, len(subjects))
	copy(ordered, subjects)

	if len(order) == 0 {
		sort.SliceStable(ordered, func(i, j int) bool {
			return ordered[i].Difficulty.Rank() > ordered[j].Difficulty.Rank()
		})
		return ordered
	}

	rank := make(map[string]int, len(order))
	for idx, name := range order {
		rank[strings.ToLower(strings.TrimSpace(name))] = idx
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		ri, iok := rank[strings.ToLower(ordered[i].Name)]
		rj, jok := rank[strings.ToLower(ordered[j].Name)]
		if iok && jok {
			return ri < rj
		}
		if iok != jok {
			return iok
		}
		return ordered[i].Difficulty.Rank() > ordered[j].Difficulty.Rank()
	})
	return ordered
}

func describeRequest(req Request) string {
	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("计划: %s，时间范围 %s 至 %s，每天 %.1f 小时。\n",
		req.Title, req.StartDate, req.EndDate, req.HoursPerDay))
	builder.WriteString("科目:\n")
	for _, subject := range req.Subjects {
		builder.WriteString(fmt.Sprintf("- %s (难度 %s, 目标 %.1f 小时)\n",
			subject.Name, subject.Difficulty, subject.TargetHours))
	}
	return builder.String()
}

const draftInstruction = "" +
	"You are drafting a study plan. Reply with compact JSON inside \"reply\": " +
	"{\"subject_order\": [subject names, highest priority first], \"advice\": string}. " +
	"Prioritise harder subjects earlier in the window."
