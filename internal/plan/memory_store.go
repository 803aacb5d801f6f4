package plan

import (
	"context"
	"sort"
	"sync"
	"time"

	xerrors "studypilot/internal/errors"
)

// MemoryStore 以内存方式保存学习计划，主要用于测试与单机部署。
type MemoryStore struct {
	mu    sync.RWMutex
	plans map[string]*StudyPlan
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{plans: make(map[string]*StudyPlan)}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, p *StudyPlan) error {
	if p == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "plan 不能为空")
	}
	if p.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "计划 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.plans[p.ID]; ok {
		return ErrPlanConflict
	}
	if p.CreatedAt == 0 {
		p.CreatedAt = time.Now().Unix()
	}
	m.plans[p.ID] = clonePlan(p)
	return nil
}

// Get 返回计划副本。
func (m *MemoryStore) Get(_ context.Context, id string) (*StudyPlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.plans[id]
	if !ok {
		return nil, ErrPlanNotFound
	}
	return clonePlan(p), nil
}

// ListByUser 返回指定用户的计划，按创建时间倒序。
func (m *MemoryStore) ListByUser(_ context.Context, userID string) ([]*StudyPlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]*StudyPlan, 0, 4)
	for _, p := range m.plans {
		if p.UserID == userID {
			results = append(results, clonePlan(p))
		}
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].CreatedAt == results[j].CreatedAt {
			return results[i].ID < results[j].ID
		}
		return results[i].CreatedAt > results[j].CreatedAt
	})
	return results, nil
}

// Delete 删除计划。
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.plans[id]; !ok {
		return ErrPlanNotFound
	}
	delete(m.plans, id)
	return nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
