package coordinator

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	xerrors "studypilot/internal/errors"
	"studypilot/internal/job"
	"studypilot/internal/knowledge"
	"studypilot/internal/llm"
	"studypilot/internal/plan"
	"studypilot/internal/planner"
	"studypilot/internal/scheduler"
	"studypilot/internal/session"
	"studypilot/pkg/logger"
)

// Intent 是协调器支持的意图枚举。
type Intent string

const (
	IntentCreatePlan    Intent = "createPlan"
	IntentAskQuestion   Intent = "askQuestion"
	IntentCheckSchedule Intent = "checkSchedule"
	IntentMarkDone      Intent = "markDone"
	IntentReschedule    Intent = "reschedule"
	IntentOther         Intent = "other"
)

// clarificationReply 是无法识别意图时的兜底回复。
const clarificationReply = "我可以帮你创建学习计划、回答学习问题、查看今日安排、标记会话完成或重新安排逾期会话。请告诉我你想做什么。"

// Context 携带一次对话的外部上下文。
type Context struct {
	UserID string
	PlanID string
	Date   string
}

// Classification 是意图识别的结果。
type Classification struct {
	Intent   Intent            `json:"intent"`
	Entities map[string]string `json:"entities,omitempty"`
	Degraded bool              `json:"degraded,omitempty"`
}

// Response 汇总一次对话处理的产物，字段按意图选择性填充。
type Response struct {
	Intent    Intent             `json:"intent"`
	Reply     string             `json:"reply,omitempty"`
	Sessions  []*session.Session `json:"sessions,omitempty"`
	Stats     *session.Stats     `json:"stats,omitempty"`
	Job       *job.PlanJob       `json:"job,omitempty"`
	Citations []string           `json:"citations,omitempty"`
	Degraded  bool               `json:"degraded,omitempty"`
}

// Coordinator 负责识别用户意图并分发到对应的能力模块。
type Coordinator struct {
	llmClient  llm.Client
	engine     *scheduler.Engine
	answerer   *knowledge.Agent
	jobs       *job.Service
	llmTimeout time.Duration
	jobWait    time.Duration
	logger     *slog.Logger
}

// Option 定义可选的 Coordinator 配置。
type Option func(*Coordinator)

// WithLLMTimeout 设置意图识别的超时时间。
func WithLLMTimeout(timeout time.Duration) Option {
	return func(c *Coordinator) {
		if timeout > 0 {
			c.llmTimeout = timeout
		}
	}
}

// WithJobWait 设置创建计划时等待任务完成的时间窗口。
func WithJobWait(wait time.Duration) Option {
	return func(c *Coordinator) {
		if wait > 0 {
			c.jobWait = wait
		}
	}
}

// WithLogger 指定日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// New 创建协调器。
func New(llmClient llm.Client, engine *scheduler.Engine, answerer *knowledge.Agent, jobs *job.Service, opts ...Option) *Coordinator {
	c := &Coordinator{
		llmClient: llmClient,
		engine:    engine,
		answerer:  answerer,
		jobs:      jobs,
		jobWait:   3 * time.Second,
		logger:    logger.Named("coordinator"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

const classifyInstruction = "" +
	"Classify the user's message into exactly one intent from this set: " +
	"createPlan, askQuestion, checkSchedule, markDone, reschedule, other. " +
	"Respond with JSON only: {\"intent\": \"<intent>\", \"entities\": {\"session_id\": \"...\"}}. " +
	"Include an entity key only when the message states its value explicitly. " +
	"Use intent \"other\" when none of the intents clearly applies."

// Classify 调用大模型识别消息意图。
// 大模型重试后仍失败时返回降级的 other 意图，而不是错误。
func (c *Coordinator) Classify(ctx context.Context, message string, convCtx Context) (*Classification, error) {
	if c.llmClient == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置大模型客户端")
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "消息不能为空", xerrors.WithMetadata("field", "message"))
	}

	llmCtx := ctx
	if c.llmTimeout > 0 {
		var cancel context.CancelFunc
		llmCtx, cancel = context.WithTimeout(ctx, c.llmTimeout)
		defer cancel()
	}

	resp, err := llm.GenerateWithRetry(llmCtx, c.llmClient, llm.Request{
		Instruction: classifyInstruction,
		Message:     message,
	})
	if err != nil {
		c.logger.Warn("意图识别降级",
			slog.String("user_id", convCtx.UserID),
			slog.String("code", string(xerrors.CodeOf(err))),
			slog.String("error", err.Error()),
		)
		return &Classification{Intent: IntentOther, Degraded: true}, nil
	}

	return parseClassification(resp.Reply), nil
}

func parseClassification(reply string) *Classification {
	var parsed struct {
		Intent   string            `json:"intent"`
		Entities map[string]string `json:"entities"`
	}
	cleaned := llm.StripCodeFence(reply)
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return &Classification{Intent: IntentOther}
	}
	intent := Intent(strings.TrimSpace(parsed.Intent))
	switch intent {
	case IntentCreatePlan, IntentAskQuestion, IntentCheckSchedule, IntentMarkDone, IntentReschedule, IntentOther:
	default:
		// 未知标签一律归入 other，等待用户澄清。
		intent = IntentOther
	}
	return &Classification{Intent: intent, Entities: parsed.Entities}
}

// Request 描述一次对话请求。PlanRequest 仅在创建计划时使用。
type Request struct {
	Message     string
	Context     Context
	PlanRequest *planner.Request
}

// HandleMessage 识别意图并完成分发，返回结构化响应。
func (c *Coordinator) HandleMessage(ctx context.Context, req Request) (*Response, error) {
	classification, err := c.Classify(ctx, req.Message, req.Context)
	if err != nil {
		return nil, err
	}
	resp, err := c.Dispatch(ctx, classification, req)
	if err != nil {
		return nil, err
	}
	resp.Degraded = resp.Degraded || classification.Degraded
	return resp, nil
}

// Dispatch 按识别出的意图调用对应模块。
// 参数缺失或形状不符时返回校验错误，分发本身不会触发不可恢复的失败。
func (c *Coordinator) Dispatch(ctx context.Context, classification *Classification, req Request) (*Response, error) {
	if classification == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "意图识别结果不能为空")
	}
	switch classification.Intent {
	case IntentCreatePlan:
		return c.dispatchCreatePlan(ctx, req)
	case IntentAskQuestion:
		return c.dispatchAskQuestion(ctx, req)
	case IntentCheckSchedule:
		return c.dispatchCheckSchedule(ctx, req)
	case IntentMarkDone:
		return c.dispatchMarkDone(ctx, classification, req)
	case IntentReschedule:
		return c.dispatchReschedule(ctx, req)
	default:
		return &Response{Intent: IntentOther, Reply: clarificationReply}, nil
	}
}

func (c *Coordinator) dispatchCreatePlan(ctx context.Context, req Request) (*Response, error) {
	if c.jobs == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置计划任务服务")
	}
	if req.PlanRequest == nil {
		return nil, xerrors.New(xerrors.CodeValidation, "创建计划需要提供计划详情",
			xerrors.WithMetadata("field", "plan_request"))
	}
	planReq := *req.PlanRequest
	if planReq.UserID == "" {
		planReq.UserID = req.Context.UserID
	}
	submitted, err := c.jobs.Submit(ctx, "", planReq)
	if err != nil {
		return nil, err
	}

	// 短暂等待生成结果，超时后直接返回排队中的任务。
	waitCtx, cancel := context.WithTimeout(ctx, c.jobWait)
	defer cancel()
	if finished, waitErr := c.jobs.WaitUntilCompleted(waitCtx, submitted.ID, 200*time.Millisecond); waitErr == nil {
		submitted = finished
	}

	reply := "计划生成任务已提交，可稍后通过任务 ID 查询进度。"
	if submitted.Status == job.StatusSucceeded && submitted.Result != nil {
		reply = "学习计划已生成。"
		if submitted.Result.Advice != "" {
			reply += " " + submitted.Result.Advice
		}
	}
	return &Response{Intent: IntentCreatePlan, Reply: reply, Job: submitted}, nil
}

func (c *Coordinator) dispatchAskQuestion(ctx context.Context, req Request) (*Response, error) {
	if c.answerer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置知识问答模块")
	}
	answer, err := c.answerer.AnswerQuestion(ctx, req.Message)
	if err != nil {
		return nil, err
	}
	return &Response{
		Intent:    IntentAskQuestion,
		Reply:     answer.Text,
		Citations: answer.Citations,
		Degraded:  answer.Degraded,
	}, nil
}

func (c *Coordinator) dispatchCheckSchedule(ctx context.Context, req Request) (*Response, error) {
	if c.engine == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置调度引擎")
	}
	if req.Context.PlanID == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "查询日程需要提供计划 ID",
			xerrors.WithMetadata("field", "plan_id"))
	}
	date := req.Context.Date
	if date == "" {
		date = time.Now().Format(plan.DateLayout)
	}
	sessions, err := c.engine.ListToday(ctx, req.Context.PlanID, date)
	if err != nil {
		return nil, err
	}
	stats, err := c.engine.Summarize(ctx, req.Context.PlanID)
	if err != nil {
		return nil, err
	}
	return &Response{Intent: IntentCheckSchedule, Sessions: sessions, Stats: &stats}, nil
}

func (c *Coordinator) dispatchMarkDone(ctx context.Context, classification *Classification, req Request) (*Response, error) {
	if c.engine == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置调度引擎")
	}
	sessionID := strings.TrimSpace(classification.Entities["session_id"])
	if sessionID == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "标记完成需要提供会话 ID",
			xerrors.WithMetadata("field", "session_id"))
	}
	updated, err := c.engine.MarkStatus(ctx, sessionID, session.StatusCompleted)
	if err != nil {
		return nil, err
	}
	return &Response{
		Intent:   IntentMarkDone,
		Reply:    "已标记完成。",
		Sessions: []*session.Session{updated},
	}, nil
}

func (c *Coordinator) dispatchReschedule(ctx context.Context, req Request) (*Response, error) {
	if c.engine == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置调度引擎")
	}
	if req.Context.PlanID == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "重新安排需要提供计划 ID",
			xerrors.WithMetadata("field", "plan_id"))
	}
	today := req.Context.Date
	if today == "" {
		today = time.Now().Format(plan.DateLayout)
	}
	created, err := c.engine.Reschedule(ctx, req.Context.PlanID, today)
	if err != nil {
		return nil, err
	}
	reply := "没有需要重新安排的会话。"
	if len(created) > 0 {
		reply = "逾期会话已重新安排。"
	}
	return &Response{Intent: IntentReschedule, Reply: reply, Sessions: created}, nil
}
