package session

import (
	xerrors "studypilot/internal/errors"
)

// Status 表示学习会话在生命周期中的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusSkipped   Status = "skipped"
)

// Source 表示会话的创建来源。
type Source string

const (
	SourceOriginal    Source = "original"
	SourceRescheduled Source = "rescheduled"
)

// Session 描述一次排期的学习会话。记录只追加，状态到达终态后不再修改；
// 被跳过的会话通过生成新记录完成改期，新记录以 RescheduledFrom 指回原记录。
type Session struct {
	ID              string `json:"id"`
	PlanID          string `json:"plan_id"`
	Subject         string `json:"subject"`
	Topic           string `json:"topic,omitempty"`
	Date            string `json:"date"`
	StartMinute     int    `json:"start_minute"`
	DurationMinutes int    `json:"duration_minutes"`
	Status          Status `json:"status"`
	Source          Source `json:"source"`
	RescheduledFrom string `json:"rescheduled_from,omitempty"`
	CreatedAt       int64  `json:"created_at"`
	UpdatedAt       int64  `json:"updated_at"`
}

var (
	// ErrSessionNotFound 表示指定的会话不存在。
	ErrSessionNotFound = xerrors.New(CodeSessionNotFound, "session not found")
	// ErrSessionConflict 表示会话 ID 重复或改期引用冲突。
	ErrSessionConflict = xerrors.New(CodeSessionConflict, "session conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrInvalidTransition 表示非法的状态迁移。
	ErrInvalidTransition = xerrors.New(xerrors.CodeInvalidTransition, "invalid session transition")
	// ErrAlreadyRescheduled 表示原会话已经生成过改期记录。
	ErrAlreadyRescheduled = xerrors.New(CodeAlreadyRescheduled, "session already rescheduled", xerrors.WithSeverity(xerrors.SeverityWarning))
)

const (
	CodeSessionNotFound    xerrors.Code = "SESSION_NOT_FOUND"
	CodeSessionConflict    xerrors.Code = "SESSION_CONFLICT"
	CodeAlreadyRescheduled xerrors.Code = "SESSION_ALREADY_RESCHEDULED"
)

func init() {
	xerrors.Register(CodeSessionNotFound, xerrors.Attributes{
		Message:   "session not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeSessionConflict, xerrors.Attributes{
		Message:   "session conflict",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeAlreadyRescheduled, xerrors.Attributes{
		Message:   "session already rescheduled",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
}

// IsValidStatus 检查给定的会话状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusCompleted, StatusSkipped:
		return true
	default:
		return false
	}
}

// IsTerminal 判断状态是否为终态。
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusSkipped
}

// EndMinute 返回会话时间块的结束分钟。
func (s *Session) EndMinute() int {
	return s.StartMinute + s.DurationMinutes
}

// Overlaps 判断两个会话的时间块在同一天是否重叠。
func (s *Session) Overlaps(other *Session) bool {
	if s == nil || other == nil || s.Date != other.Date {
		return false
	}
	return s.StartMinute < other.EndMinute() && other.StartMinute < s.EndMinute()
}

func cloneSession(s *Session) *Session {
	clone := *s
	return &clone
}
