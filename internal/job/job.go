package job

import (
	stdErrors "errors"

	xerrors "studypilot/internal/errors"
	"studypilot/internal/plan"
	"studypilot/internal/planner"
)

// Status 表示计划生成任务在生命周期中的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// GenerationResult 保存一次计划生成的结果摘要。
type GenerationResult struct {
	PlanID       string `json:"plan_id"`
	SessionCount int    `json:"session_count"`
	Advice       string `json:"advice,omitempty"`
	Degraded     bool   `json:"degraded,omitempty"`
	Observations string `json:"observations,omitempty"`
}

// PlanJob 描述排队执行的计划生成任务。
type PlanJob struct {
	ID         string            `json:"id"`
	Request    planner.Request   `json:"request"`
	Status     Status            `json:"status"`
	Attempts   int               `json:"attempts"`
	MaxRetries int               `json:"max_retries"`
	LastError  string            `json:"last_error,omitempty"`
	ErrorCode  string            `json:"error_code,omitempty"`
	Result     *GenerationResult `json:"result,omitempty"`
	CreatedAt  int64             `json:"created_at"`
	UpdatedAt  int64             `json:"updated_at"`
}

var (
	// ErrJobNotFound 表示指定的任务不存在。
	ErrJobNotFound = xerrors.New(CodeJobNotFound, "plan job not found")
	// ErrJobConflict 表示任务在当前状态下无法进行所请求的操作。
	ErrJobConflict = xerrors.New(CodeJobConflict, "plan job conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrJobCompleted 表示任务已经成功完成。
	ErrJobCompleted = xerrors.New(CodeJobCompleted, "plan job already completed", xerrors.WithSeverity(xerrors.SeverityInfo))
	// ErrJobExhausted 表示任务的重试次数已经耗尽。
	ErrJobExhausted = xerrors.New(CodeJobExhausted, "plan job retries exhausted", xerrors.WithSeverity(xerrors.SeverityCritical))
)

const (
	CodeJobNotFound   xerrors.Code = "PLAN_JOB_NOT_FOUND"
	CodeJobConflict   xerrors.Code = "PLAN_JOB_CONFLICT"
	CodeJobCompleted  xerrors.Code = "PLAN_JOB_COMPLETED"
	CodeJobExhausted  xerrors.Code = "PLAN_JOB_RETRIES_EXHAUSTED"
	CodeJobPublish    xerrors.Code = "PLAN_JOB_PUBLISH_FAILED"
	CodeJobProcessing xerrors.Code = "PLAN_JOB_PROCESSING_FAILED"
	CodeJobCompensate xerrors.Code = "PLAN_JOB_COMPENSATE_FAILED"
)

func init() {
	xerrors.Register(CodeJobNotFound, xerrors.Attributes{
		Message:   "plan job not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeJobConflict, xerrors.Attributes{
		Message:   "plan job conflict",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeJobCompleted, xerrors.Attributes{
		Message:   "plan job already completed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeJobExhausted, xerrors.Attributes{
		Message:   "plan job retries exhausted",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeJobPublish, xerrors.Attributes{
		Message:   "failed to publish plan job",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeJobProcessing, xerrors.Attributes{
		Message:   "plan job execution failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeJobCompensate, xerrors.Attributes{
		Message:   "plan job compensation failed",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
}

// IsJobError 判断错误是否为统一任务错误。
func IsJobError(err error, target xerrors.Code) bool {
	if err == nil {
		return false
	}
	if stdErrors.Is(err, ErrJobNotFound) {
		return target == CodeJobNotFound
	}
	if stdErrors.Is(err, ErrJobConflict) {
		return target == CodeJobConflict
	}
	if stdErrors.Is(err, ErrJobCompleted) {
		return target == CodeJobCompleted
	}
	if stdErrors.Is(err, ErrJobExhausted) {
		return target == CodeJobExhausted
	}
	return false
}

// IsValidStatus 检查给定的任务状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed:
		return true
	default:
		return false
	}
}

func cloneJob(j *PlanJob) *PlanJob {
	clone := *j
	if j.Result != nil {
		resultCopy := *j.Result
		clone.Result = &resultCopy
	}
	if j.Request.Subjects != nil {
		clone.Request.Subjects = append([]plan.Subject(nil), j.Request.Subjects...)
	}
	return &clone
}
