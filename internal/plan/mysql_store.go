package plan

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "studypilot/internal/errors"
)

// MySQLStore 使用 MySQL 保存学习计划。
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

// Create 插入新的计划记录。
func (s *MySQLStore) Create(ctx context.Context, p *StudyPlan) error {
	if p == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "plan 不能为空")
	}
	if strings.TrimSpace(p.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "计划 ID 不能为空")
	}
	if p.CreatedAt == 0 {
		p.CreatedAt = time.Now().Unix()
	}

	subjects, err := marshalSubjects(p.Subjects)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码科目列表失败")
	}

	const stmt = `INSERT INTO study_plans
        (id, user_id, title, start_date, end_date, hours_per_day, subjects, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, stmt,
		p.ID,
		p.UserID,
		p.Title,
		p.StartDate,
		p.EndDate,
		p.HoursPerDay,
		subjects,
		p.CreatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrPlanConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入计划失败")
	}
	return nil
}

// Get 查询指定计划。
func (s *MySQLStore) Get(ctx context.Context, id string) (*StudyPlan, error) {
	const stmt = `SELECT id, user_id, title, start_date, end_date, hours_per_day, subjects, created_at
        FROM study_plans WHERE id = ?`

	row := s.db.QueryRowContext(ctx, stmt, id)
	return scanPlan(row.Scan)
}

// ListByUser 返回指定用户的计划，按创建时间倒序。
func (s *MySQLStore) ListByUser(ctx context.Context, userID string) ([]*StudyPlan, error) {
	const stmt = `SELECT id, user_id, title, start_date, end_date, hours_per_day, subjects, created_at
        FROM study_plans WHERE user_id = ? ORDER BY created_at DESC, id ASC`

	rows, err := s.db.QueryContext(ctx, stmt, userID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询计划列表失败")
	}
	defer rows.Close()

	plans := make([]*StudyPlan, 0, 4)
	for rows.Next() {
		p, err := scanPlan(rows.Scan)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历计划失败")
	}
	return plans, nil
}

// Delete 删除计划记录。
func (s *MySQLStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM study_plans WHERE id = ?`, id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除计划失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrPlanNotFound
	}
	return nil
}

// Close 由连接所有方负责关闭，这里不做操作。
func (s *MySQLStore) Close() error {
	return nil
}

func scanPlan(scan func(dest ...any) error) (*StudyPlan, error) {
	var p StudyPlan
	var subjects sql.NullString
	if err := scan(
		&p.ID,
		&p.UserID,
		&p.Title,
		&p.StartDate,
		&p.EndDate,
		&p.HoursPerDay,
		&subjects,
		&p.CreatedAt,
	); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrPlanNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析计划记录失败")
	}
	decoded, err := unmarshalSubjects(subjects)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析科目列表失败")
	}
	p.Subjects = decoded
	return &p, nil
}

func marshalSubjects(subjects []Subject) (sql.NullString, error) {
	if len(subjects) == 0 {
		return sql.NullString{}, nil
	}
	bytes, err := json.Marshal(subjects)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(bytes), Valid: true}, nil
}

func unmarshalSubjects(raw sql.NullString) ([]Subject, error) {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return nil, nil
	}
	var subjects []Subject
	if err := json.Unmarshal([]byte(raw.String), &subjects); err != nil {
		return nil, err
	}
	return subjects, nil
}

var _ Store = (*MySQLStore)(nil)
