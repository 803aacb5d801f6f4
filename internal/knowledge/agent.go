package knowledge

import (
	"context"
	"log/slog"
	"strings"
	"time"

	xerrors "studypilot/internal/errors"
	"studypilot/internal/llm"
	"studypilot/pkg/logger"
)

// fallbackAnswer 是大模型不可用时返回的降级回复。
const fallbackAnswer = "暂时无法生成回答，请换一种问法或稍后再试。"

// Agent 负责基于检索结果回答学习问题。
type Agent struct {
	llmClient llm.Client
	retriever Retriever
	topK      int
	timeout   time.Duration
	logger    *slog.Logger
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// defaultTopK 是每次检索返回的切片数量默认值。
const defaultTopK = 3

// WithTopK 设置每次检索返回的切片数量。
func WithTopK(topK int) Option {
	return func(a *Agent) {
		if topK > 0 {
			a.topK = topK
		}
	}
}

// WithTimeout 设置调用大模型的超时时间。
func WithTimeout(timeout time.Duration) Option {
	return func(a *Agent) {
		if timeout > 0 {
			a.timeout = timeout
		}
	}
}

// WithLogger 指定日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewAgent 创建知识问答 Agent。
func NewAgent(llmClient llm.Client, retriever Retriever, opts ...Option) *Agent {
	a := &Agent{
		llmClient: llmClient,
		retriever: retriever,
		topK:      defaultTopK,
		logger:    logger.Named("knowledge"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// AnswerQuestion 检索相关资料并调用大模型生成回答。
// 大模型重试后仍失败时返回降级回复，而不是错误。
func (a *Agent) AnswerQuestion(ctx context.Context, question string) (*Answer, error) {
	if a.llmClient == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置大模型客户端")
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "问题不能为空", xerrors.WithMetadata("field", "question"))
	}

	var chunks []Chunk
	if a.retriever != nil {
		chunks = a.retriever.Retrieve(question, a.topK)
	}

	cards := make([]llm.KnowledgeCard, 0, len(chunks))
	citations := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		cards = append(cards, llm.KnowledgeCard{
			Title:   chunk.Title,
			Content: chunk.Text,
			Source:  chunk.SourceDocID,
		})
		if chunk.SourceDocID != "" {
			citations = append(citations, chunk.SourceDocID)
		}
	}

	llmCtx := ctx
	if a.timeout > 0 {
		var cancel context.CancelFunc
		llmCtx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	resp, err := llm.GenerateWithRetry(llmCtx, a.llmClient, llm.Request{
		Instruction: answerInstruction,
		Message:     question,
		Knowledge:   cards,
	})
	if err != nil {
		a.logger.Warn("知识问答降级",
			slog.String("question", question),
			slog.String("code", string(xerrors.CodeOf(err))),
			slog.String("error", err.Error()),
		)
		return &Answer{Text: fallbackAnswer, Degraded: true}, nil
	}

	text := strings.TrimSpace(resp.Reply)
	if text == "" {
		text = fallbackAnswer
	}
	return &Answer{
		Text:      text,
		Citations: citations,
	}, nil
}

const answerInstruction = "" +
	"Answer the study question using only the knowledge snippets when they are relevant. " +
	"If the snippets do not cover the question, say so briefly. " +
	"Keep the reply concise and cite no external sources."
