package job

import (
	"context"

	xerrors "studypilot/internal/errors"
)

// Store 抽象了计划生成任务的持久化接口。
type Store interface {
	Create(ctx context.Context, j *PlanJob) error
	Get(ctx context.Context, id string) (*PlanJob, error)
	Claim(ctx context.Context, id string) (*PlanJob, error)
	MarkSucceeded(ctx context.Context, id string, result GenerationResult) error
	MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error
	Close() error
}
