package session

// Stats 聚合了一个计划内会话状态的统计信息。
type Stats struct {
	Total           int     `json:"total"`
	Pending         int     `json:"pending"`
	Completed       int     `json:"completed"`
	Skipped         int     `json:"skipped"`
	PercentComplete float64 `json:"percent_complete"`
}
