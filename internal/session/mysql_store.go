package session

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "studypilot/internal/errors"
)

// MySQLStore 使用 MySQL 保存会话记录。改期引用的唯一性由
// study_sessions.rescheduled_from 上的唯一索引在写入时保证。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 基于已初始化的连接创建 MySQLStore。
func NewMySQLStore(db *sql.DB) (*MySQLStore, error) {
	if db == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "数据库连接不能为空")
	}
	return &MySQLStore{db: db}, nil
}

// Create 插入新的会话记录。
func (s *MySQLStore) Create(ctx context.Context, sess *Session) error {
	if sess == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "session 不能为空")
	}
	if strings.TrimSpace(sess.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "会话 ID 不能为空")
	}

	now := time.Now().Unix()
	if sess.CreatedAt == 0 {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now
	if sess.Status == "" {
		sess.Status = StatusPending
	}
	if sess.Source == "" {
		sess.Source = SourceOriginal
	}

	var rescheduledFrom sql.NullString
	if sess.RescheduledFrom != "" {
		rescheduledFrom = sql.NullString{String: sess.RescheduledFrom, Valid: true}
	}

	const stmt = `INSERT INTO study_sessions
        (id, plan_id, subject, topic, date, start_minute, duration_minutes, status, source, rescheduled_from, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, stmt,
		sess.ID,
		sess.PlanID,
		sess.Subject,
		sess.Topic,
		sess.Date,
		sess.StartMinute,
		sess.DurationMinutes,
		sess.Status,
		sess.Source,
		rescheduledFrom,
		sess.CreatedAt,
		sess.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			if sess.RescheduledFrom != "" && strings.Contains(mysqlErr.Message, "uniq_session_reschedule") {
				return ErrAlreadyRescheduled
			}
			return ErrSessionConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入会话失败")
	}
	return nil
}

// Get 查询指定会话。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	return scanSession(row.Scan)
}

// UpdateStatus 以比较交换的方式更新会话状态。
func (s *MySQLStore) UpdateStatus(ctx context.Context, id string, expect, next Status) error {
	const stmt = `UPDATE study_sessions SET status = ?, updated_at = ? WHERE id = ? AND status = ?`

	res, err := s.db.ExecContext(ctx, stmt, next, time.Now().Unix(), id, expect)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新会话状态失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	if affected == 0 {
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return getErr
		}
		return ErrInvalidTransition
	}
	return nil
}

const selectColumns = `SELECT id, plan_id, subject, topic, date, start_minute, duration_minutes, status, source, rescheduled_from, created_at, updated_at FROM study_sessions`

// ListByPlan 返回指定计划下满足过滤条件的会话。
func (s *MySQLStore) ListByPlan(ctx context.Context, planID string, opts ...ListOption) ([]*Session, error) {
	options := buildListOptions(opts)

	query := selectColumns + ` WHERE plan_id = ?`
	args := []any{planID}

	clause, filterArgs := buildFilterClause(options)
	if clause != "" {
		query += " AND " + clause
		args = append(args, filterArgs...)
	}

	order := " ORDER BY date ASC, start_minute ASC, id ASC"
	if options.Order == SortByDateDesc {
		order = " ORDER BY date DESC, start_minute DESC, id DESC"
	}
	query += order
	if options.Limit == NoLimit {
		// MySQL 的 OFFSET 必须搭配 LIMIT，无上限时使用文档建议的最大行数。
		query += " LIMIT 18446744073709551615 OFFSET ?"
		args = append(args, options.Offset)
	} else {
		query += " LIMIT ? OFFSET ?"
		args = append(args, options.Limit, options.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询会话列表失败")
	}
	defer rows.Close()

	sessions := make([]*Session, 0, 16)
	for rows.Next() {
		sess, err := scanSession(rows.Scan)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历会话失败")
	}
	return sessions, nil
}

// HasRescheduleFor 判断是否已存在指向原会话的改期记录。
func (s *MySQLStore) HasRescheduleFor(ctx context.Context, originalID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM study_sessions WHERE rescheduled_from = ?`, originalID).Scan(&count)
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询改期记录失败")
	}
	return count > 0, nil
}

// Stats 返回指定计划的会话统计。
func (s *MySQLStore) Stats(ctx context.Context, planID string) (Stats, error) {
	const query = `SELECT
        COUNT(*) AS total,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS pending,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS completed,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS skipped
        FROM study_sessions WHERE plan_id = ?`

	row := s.db.QueryRowContext(ctx, query,
		string(StatusPending), string(StatusCompleted), string(StatusSkipped), planID)

	var stats Stats
	var pending, completed, skipped sql.NullInt64
	if err := row.Scan(&stats.Total, &pending, &completed, &skipped); err != nil {
		return Stats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询会话统计失败")
	}
	stats.Pending = int(pending.Int64)
	stats.Completed = int(completed.Int64)
	stats.Skipped = int(skipped.Int64)
	if stats.Total > 0 {
		stats.PercentComplete = float64(stats.Completed) / float64(stats.Total) * 100
	}
	return stats, nil
}

// Close 由连接所有方负责关闭，这里不做操作。
func (s *MySQLStore) Close() error {
	return nil
}

func scanSession(scan func(dest ...any) error) (*Session, error) {
	var sess Session
	var rescheduledFrom sql.NullString
	if err := scan(
		&sess.ID,
		&sess.PlanID,
		&sess.Subject,
		&sess.Topic,
		&sess.Date,
		&sess.StartMinute,
		&sess.DurationMinutes,
		&sess.Status,
		&sess.Source,
		&rescheduledFrom,
		&sess.CreatedAt,
		&sess.UpdatedAt,
	); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析会话记录失败")
	}
	if rescheduledFrom.Valid {
		sess.RescheduledFrom = rescheduledFrom.String
	}
	return &sess, nil
}

func buildFilterClause(opts ListOptions) (string, []any) {
	conditions := make([]string, 0, 4)
	args := make([]any, 0, 6)

	if len(opts.Statuses) > 0 {
		placeholders := make([]string, 0, len(opts.Statuses))
		for range opts.Statuses {
			placeholders = append(placeholders, "?")
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
		for _, status := range opts.Statuses {
			args = append(args, status)
		}
	}
	if len(opts.Sources) > 0 {
		placeholders := make([]string, 0, len(opts.Sources))
		for range opts.Sources {
			placeholders = append(placeholders, "?")
		}
		conditions = append(conditions, fmt.Sprintf("source IN (%s)", strings.Join(placeholders, ",")))
		for _, source := range opts.Sources {
			args = append(args, source)
		}
	}
	if opts.Subject != "" {
		conditions = append(conditions, "subject = ?")
		args = append(args, opts.Subject)
	}
	if opts.DateGTE != "" {
		conditions = append(conditions, "date >= ?")
		args = append(args, opts.DateGTE)
	}
	if opts.DateLTE != "" {
		conditions = append(conditions, "date <= ?")
		args = append(args, opts.DateLTE)
	}
	if opts.DateLT != "" {
		conditions = append(conditions, "date < ?")
		args = append(args, opts.DateLT)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return strings.Join(conditions, " AND "), args
}

var _ Store = (*MySQLStore)(nil)
