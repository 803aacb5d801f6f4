package plan

import "context"

// Store 定义学习计划的持久化接口。
type Store interface {
	// Create 保存新的计划，ID 重复时返回 ErrPlanConflict。
	Create(ctx context.Context, plan *StudyPlan) error
	// Get 返回指定计划，不存在时返回 ErrPlanNotFound。
	Get(ctx context.Context, id string) (*StudyPlan, error)
	// ListByUser 返回指定用户的全部计划。
	ListByUser(ctx context.Context, userID string) ([]*StudyPlan, error)
	// Delete 删除指定计划，不存在时返回 ErrPlanNotFound。
	Delete(ctx context.Context, id string) error
	// Close 释放底层资源。
	Close() error
}
