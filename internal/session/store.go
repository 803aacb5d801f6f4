package session

import "context"

// Store 定义学习会话的持久化接口。实现必须在写入时保证改期引用的唯一性：
// 对同一个原会话，只允许存在一条 RescheduledFrom 指向它的记录。
type Store interface {
	// Create 保存新的会话。ID 重复返回 ErrSessionConflict，
	// RescheduledFrom 已被其他记录引用时返回 ErrAlreadyRescheduled。
	Create(ctx context.Context, s *Session) error
	// Get 返回指定会话，不存在时返回 ErrSessionNotFound。
	Get(ctx context.Context, id string) (*Session, error)
	// UpdateStatus 以比较交换的方式更新状态，当前状态与 expect 不符时返回
	// ErrInvalidTransition。
	UpdateStatus(ctx context.Context, id string, expect, next Status) error
	// ListByPlan 返回指定计划下满足过滤条件的会话。
	ListByPlan(ctx context.Context, planID string, opts ...ListOption) ([]*Session, error)
	// HasRescheduleFor 判断是否已存在指向原会话的改期记录。
	HasRescheduleFor(ctx context.Context, originalID string) (bool, error)
	// Stats 返回指定计划的会话统计。
	Stats(ctx context.Context, planID string) (Stats, error)
	// Close 释放底层资源。
	Close() error
}
