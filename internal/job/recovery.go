package job

import "context"

// RecoveryHandler 定义了任务执行失败时的补偿策略。
type RecoveryHandler interface {
	// Recover 尝试根据失败原因进行补偿或降级。
	// 返回的 GenerationResult 将作为降级结果写入任务；若返回 nil 则继续按照失败流程处理。
	Recover(ctx context.Context, j *PlanJob, cause error) (*GenerationResult, error)
}

// PlanRecovery 用降级执行器重跑计划生成作为补偿。
// 执行器通常是不接大模型的生成器，排期因此完全确定。
type PlanRecovery struct {
	executor Executor
}

// NewPlanRecovery 创建 PlanRecovery。
func NewPlanRecovery(executor Executor) *PlanRecovery {
	return &PlanRecovery{executor: executor}
}

// Recover 实现 RecoveryHandler。
func (r *PlanRecovery) Recover(ctx context.Context, j *PlanJob, _ error) (*GenerationResult, error) {
	if r == nil || r.executor == nil || j == nil {
		return nil, nil
	}
	result, err := r.executor.Generate(ctx, j.Request)
	if err != nil {
		return nil, err
	}
	record := &GenerationResult{Degraded: true}
	if result != nil {
		record.Advice = result.Advice
		record.SessionCount = len(result.Sessions)
		if result.Plan != nil {
			record.PlanID = result.Plan.ID
		}
	}
	return record, nil
}

var _ RecoveryHandler = (*PlanRecovery)(nil)
