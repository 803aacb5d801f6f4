package plan

import (
	"strings"
	"time"

	xerrors "studypilot/internal/errors"
)

// DateLayout 是全系统统一的日期格式。
const DateLayout = "2006-01-02"

// Difficulty 表示科目的难度等级。
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Multiplier 返回难度对应的学习时长系数。
func (d Difficulty) Multiplier() float64 {
	switch d {
	case DifficultyEasy:
		return 0.75
	case DifficultyHard:
		return 1.5
	default:
		return 1.0
	}
}

// Rank 返回难度排序权重，数值越大表示越难。
func (d Difficulty) Rank() int {
	switch d {
	case DifficultyHard:
		return 3
	case DifficultyMedium:
		return 2
	case DifficultyEasy:
		return 1
	default:
		return 0
	}
}

// IsValidDifficulty 检查难度枚举值是否合法。
func IsValidDifficulty(d Difficulty) bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	default:
		return false
	}
}

// Subject 描述计划内的一个科目。
type Subject struct {
	Name        string     `json:"name"`
	Topics      []string   `json:"topics,omitempty"`
	Difficulty  Difficulty `json:"difficulty"`
	TargetHours float64    `json:"target_hours"`
}

// StudyPlan 描述一个用户的学习计划。创建后除显式删除外不可变。
type StudyPlan struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Title       string    `json:"title"`
	StartDate   string    `json:"start_date"`
	EndDate     string    `json:"end_date"`
	HoursPerDay float64   `json:"hours_per_day"`
	Subjects    []Subject `json:"subjects"`
	CreatedAt   int64     `json:"created_at"`
}

var (
	// ErrPlanNotFound 表示指定的计划不存在。
	ErrPlanNotFound = xerrors.New(CodePlanNotFound, "study plan not found")
	// ErrPlanConflict 表示计划 ID 已存在。
	ErrPlanConflict = xerrors.New(CodePlanConflict, "study plan conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
)

const (
	CodePlanNotFound   xerrors.Code = "PLAN_NOT_FOUND"
	CodePlanConflict   xerrors.Code = "PLAN_CONFLICT"
	CodePlanValidation xerrors.Code = "PLAN_VALIDATION_FAILED"
)

func init() {
	xerrors.Register(CodePlanNotFound, xerrors.Attributes{
		Message:   "study plan not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodePlanConflict, xerrors.Attributes{
		Message:   "study plan conflict",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodePlanValidation, xerrors.Attributes{
		Message:   "study plan validation failed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
}

// DailyBudgetMinutes 返回计划的每日学习时长预算，单位为分钟。
func (p *StudyPlan) DailyBudgetMinutes() int {
	if p == nil || p.HoursPerDay <= 0 {
		return 0
	}
	return int(p.HoursPerDay * 60)
}

// SubjectByName 按名称查找科目，不区分大小写。
func (p *StudyPlan) SubjectByName(name string) (Subject, bool) {
	if p == nil {
		return Subject{}, false
	}
	for _, subject := range p.Subjects {
		if strings.EqualFold(subject.Name, name) {
			return subject, true
		}
	}
	return Subject{}, false
}

// Validate 检查计划字段是否满足约束。
func (p *StudyPlan) Validate() error {
	if p == nil {
		return xerrors.New(xerrors.CodeValidation, "计划不能为空")
	}
	if strings.TrimSpace(p.Title) == "" {
		return xerrors.New(xerrors.CodeValidation, "计划标题不能为空", xerrors.WithMetadata("field", "title"))
	}
	start, err := ParseDate(p.StartDate)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeValidation, err, "开始日期格式错误", xerrors.WithMetadata("field", "start_date"))
	}
	end, err := ParseDate(p.EndDate)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeValidation, err, "结束日期格式错误", xerrors.WithMetadata("field", "end_date"))
	}
	if end.Before(start) {
		return xerrors.New(xerrors.CodeValidation, "结束日期不能早于开始日期", xerrors.WithMetadata("field", "end_date"))
	}
	if p.HoursPerDay <= 0 {
		return xerrors.New(xerrors.CodeValidation, "每日学习时长必须为正数", xerrors.WithMetadata("field", "hours_per_day"))
	}
	if len(p.Subjects) == 0 {
		return xerrors.New(xerrors.CodeValidation, "计划必须包含至少一个科目", xerrors.WithMetadata("field", "subjects"))
	}
	for _, subject := range p.Subjects {
		if strings.TrimSpace(subject.Name) == "" {
			return xerrors.New(xerrors.CodeValidation, "科目名称不能为空", xerrors.WithMetadata("field", "subjects.name"))
		}
		if !IsValidDifficulty(subject.Difficulty) {
			return xerrors.New(xerrors.CodeValidation, "科目难度取值非法", xerrors.WithMetadata("subject", subject.Name))
		}
	}
	return nil
}

// ParseDate 解析统一格式的日期字符串。
func ParseDate(value string) (time.Time, error) {
	return time.Parse(DateLayout, strings.TrimSpace(value))
}

// NextDate 返回给定日期的下一天。
func NextDate(value string) (string, error) {
	day, err := ParseDate(value)
	if err != nil {
		return "", err
	}
	return day.AddDate(0, 0, 1).Format(DateLayout), nil
}

func cloneSubjects(subjects []Subject) []Subject {
	if subjects == nil {
		return nil
	}
	cloned := make([]Subject, len(subjects))
	for i, subject := range subjects {
		cloned[i] = subject
		if subject.Topics != nil {
			cloned[i].Topics = append([]string(nil), subject.Topics...)
		}
	}
	return cloned
}

func clonePlan(p *StudyPlan) *StudyPlan {
	clone := *p
	clone.Subjects = cloneSubjects(p.Subjects)
	return &clone
}
