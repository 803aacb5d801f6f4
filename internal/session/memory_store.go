package session

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	xerrors "studypilot/internal/errors"
)

// MemoryStore 以内存方式保存会话记录，主要用于测试与单机部署。
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	// reschedules 记录原会话到改期会话的映射，用于在写入时保证唯一性。
	reschedules map[string]string
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:    make(map[string]*Session),
		reschedules: make(map[string]string),
	}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, s *Session) error {
	if s == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "session 不能为空")
	}
	if s.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "会话 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return ErrSessionConflict
	}
	if s.RescheduledFrom != "" {
		if _, ok := m.reschedules[s.RescheduledFrom]; ok {
			return ErrAlreadyRescheduled
		}
	}
	now := time.Now().Unix()
	if s.CreatedAt == 0 {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	if s.Status == "" {
		s.Status = StatusPending
	}
	if s.Source == "" {
		s.Source = SourceOriginal
	}
	m.sessions[s.ID] = cloneSession(s)
	if s.RescheduledFrom != "" {
		m.reschedules[s.RescheduledFrom] = s.ID
	}
	return nil
}

// Get 返回会话副本。
func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return cloneSession(s), nil
}

// UpdateStatus 以比较交换的方式更新会话状态。
func (m *MemoryStore) UpdateStatus(_ context.Context, id string, expect, next Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if s.Status != expect {
		return ErrInvalidTransition
	}
	s.Status = next
	s.UpdatedAt = time.Now().Unix()
	return nil
}

// ListByPlan 返回指定计划下满足过滤条件的会话。
func (m *MemoryStore) ListByPlan(_ context.Context, planID string, opts ...ListOption) ([]*Session, error) {
	options := buildListOptions(opts)

	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]*Session, 0, 16)
	for _, s := range m.sessions {
		if s.PlanID != planID {
			continue
		}
		if !matchesListFilters(s, options) {
			continue
		}
		results = append(results, cloneSession(s))
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if options.Order == SortByDateDesc {
			a, b = b, a
		}
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.StartMinute != b.StartMinute {
			return a.StartMinute < b.StartMinute
		}
		return a.ID < b.ID
	})

	if options.Offset > 0 {
		if options.Offset >= len(results) {
			return nil, nil
		}
		results = results[options.Offset:]
	}
	if options.Limit != NoLimit && len(results) > options.Limit {
		results = results[:options.Limit]
	}
	return results, nil
}

// HasRescheduleFor 判断是否已存在指向原会话的改期记录。
func (m *MemoryStore) HasRescheduleFor(_ context.Context, originalID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.reschedules[originalID]
	return ok, nil
}

// Stats 返回指定计划的会话统计。
func (m *MemoryStore) Stats(_ context.Context, planID string) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{}
	for _, s := range m.sessions {
		if s.PlanID != planID {
			continue
		}
		stats.Total++
		switch s.Status {
		case StatusPending:
			stats.Pending++
		case StatusCompleted:
			stats.Completed++
		case StatusSkipped:
			stats.Skipped++
		}
	}
	if stats.Total > 0 {
		stats.PercentComplete = float64(stats.Completed) / float64(stats.Total) * 100
	}
	return stats, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

func matchesListFilters(s *Session, opts ListOptions) bool {
	if len(opts.Statuses) > 0 {
		matched := false
		for _, status := range opts.Statuses {
			if s.Status == status {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if len(opts.Sources) > 0 {
		matched := false
		for _, source := range opts.Sources {
			if s.Source == source {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if opts.Subject != "" && !strings.EqualFold(s.Subject, opts.Subject) {
		return false
	}
	if opts.DateGTE != "" && s.Date < opts.DateGTE {
		return false
	}
	if opts.DateLTE != "" && s.Date > opts.DateLTE {
		return false
	}
	if opts.DateLT != "" && s.Date >= opts.DateLT {
		return false
	}
	return true
}

var _ Store = (*MemoryStore)(nil)
