package llm

import (
	"context"
	"strings"
)

// Request 描述发送给大模型的一次推理上下文。
type Request struct {
	// Instruction 说明本次调用期望的任务与输出格式，例如意图分类或计划草拟。
	Instruction string
	// Message 是用户输入或待处理的内容。
	Message   string
	History   []HistoryEntry
	Knowledge []KnowledgeCard
}

// Response 是大模型推理得到的结构化输出。
type Response struct {
	Thought string
	Reply   string
}

// KnowledgeCard 表示提供给大模型的知识切片，帮助生成更加准确的回复。
type KnowledgeCard struct {
	Title   string
	Content string
	Source  string
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// HistoryEntry 描述了一轮历史对话，用于为大模型提供上下文记忆。
type HistoryEntry struct {
	Message   string
	Reply     string
	Intent    string
	CreatedAt int64
}

// StripCodeFence 去掉大模型输出外层的 Markdown 代码围栏。
func StripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if idx := strings.Index(text, "\n"); idx >= 0 {
		// 首行可能是语言标记，例如 ```json。
		first := strings.TrimSpace(text[:idx])
		if len(first) <= 10 && !strings.ContainsAny(first, "{}[]") {
			text = text[idx+1:]
		}
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}
