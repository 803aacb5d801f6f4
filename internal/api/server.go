package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"studypilot/internal/coordinator"
	xerrors "studypilot/internal/errors"
	"studypilot/internal/job"
	"studypilot/internal/observability/metrics"
	"studypilot/internal/planner"
	"studypilot/internal/scheduler"
	"studypilot/internal/session"
)

// Server 负责暴露 REST 接口，供外部驱动学习助手。
type Server struct {
	addr        string
	coordinator *coordinator.Coordinator
	engine      *scheduler.Engine
	jobs        *job.Service
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, co *coordinator.Coordinator, engine *scheduler.Engine, jobs *job.Service) *Server {
	return &Server{addr: addr, coordinator: co, engine: engine, jobs: jobs}
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/chat", s.instrument("chat", s.handleChat))
	mux.HandleFunc("/api/v1/plans", s.instrument("plans", s.handlePlans))
	mux.HandleFunc("/api/v1/plans/today", s.instrument("plans_today", s.handleToday))
	mux.HandleFunc("/api/v1/plans/summary", s.instrument("plans_summary", s.handleSummary))
	mux.HandleFunc("/api/v1/plans/reschedule", s.instrument("plans_reschedule", s.handleReschedule))
	mux.HandleFunc("/api/v1/sessions/status", s.instrument("sessions_status", s.handleSessionStatus))
	mux.HandleFunc("/api/v1/jobs", s.instrument("jobs", s.handleJobs))

	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// chatRequest 是对话接口的请求体。
type chatRequest struct {
	Message     string           `json:"message"`
	UserID      string           `json:"user_id,omitempty"`
	PlanID      string           `json:"plan_id,omitempty"`
	Date        string           `json:"date,omitempty"`
	PlanRequest *planner.Request `json:"plan_request,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}
	if s.coordinator == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "协调器未初始化"))
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"))
		return
	}

	resp, err := s.coordinator.HandleMessage(r.Context(), coordinator.Request{
		Message: req.Message,
		Context: coordinator.Context{
			UserID: req.UserID,
			PlanID: req.PlanID,
			Date:   req.Date,
		},
		PlanRequest: req.PlanRequest,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePlans(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}
	if s.jobs == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化"))
		return
	}

	var req planner.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"))
		return
	}
	submitted, err := s.jobs.Submit(r.Context(), r.URL.Query().Get("id"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, submitted)
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, http.MethodGet)
		return
	}
	if s.jobs == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化"))
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		writeError(w, xerrors.New(xerrors.CodeValidation, "任务 ID 不能为空", xerrors.WithMetadata("field", "id")))
		return
	}
	j, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (s *Server) handleToday(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, http.MethodGet)
		return
	}
	if s.engine == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "调度引擎未初始化"))
		return
	}
	planID := strings.TrimSpace(r.URL.Query().Get("plan_id"))
	if planID == "" {
		writeError(w, xerrors.New(xerrors.CodeValidation, "计划 ID 不能为空", xerrors.WithMetadata("field", "plan_id")))
		return
	}
	date := strings.TrimSpace(r.URL.Query().Get("date"))
	if date == "" {
		date = time.Now().Format("2006-01-02")
	}
	sessions, err := s.engine.ListToday(r.Context(), planID, date)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"plan_id":  planID,
		"date":     date,
		"sessions": sessions,
	})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, http.MethodGet)
		return
	}
	if s.engine == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "调度引擎未初始化"))
		return
	}
	planID := strings.TrimSpace(r.URL.Query().Get("plan_id"))
	if planID == "" {
		writeError(w, xerrors.New(xerrors.CodeValidation, "计划 ID 不能为空", xerrors.WithMetadata("field", "plan_id")))
		return
	}
	stats, err := s.engine.Summarize(r.Context(), planID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// rescheduleRequest 是重新安排接口的请求体。
type rescheduleRequest struct {
	PlanID string `json:"plan_id"`
	Today  string `json:"today,omitempty"`
}

func (s *Server) handleReschedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}
	if s.engine == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "调度引擎未初始化"))
		return
	}

	var req rescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"))
		return
	}
	if strings.TrimSpace(req.PlanID) == "" {
		writeError(w, xerrors.New(xerrors.CodeValidation, "计划 ID 不能为空", xerrors.WithMetadata("field", "plan_id")))
		return
	}
	today := strings.TrimSpace(req.Today)
	if today == "" {
		today = time.Now().Format("2006-01-02")
	}
	created, err := s.engine.Reschedule(r.Context(), req.PlanID, today)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"plan_id": req.PlanID,
		"created": created,
	})
}

// sessionStatusRequest 是标记会话状态接口的请求体。
type sessionStatusRequest struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}
	if s.engine == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "调度引擎未初始化"))
		return
	}

	var req sessionStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"))
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		writeError(w, xerrors.New(xerrors.CodeValidation, "会话 ID 不能为空", xerrors.WithMetadata("field", "session_id")))
		return
	}
	updated, err := s.engine.MarkStatus(r.Context(), req.SessionID, session.Status(req.Status))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// errorEnvelope 是统一的错误响应格式。
type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	body := errorBody{
		Code:    string(code),
		Message: err.Error(),
	}
	if typed, ok := xerrors.From(err); ok {
		body.Metadata = typed.Metadata()
	}
	writeJSON(w, statusOf(code), errorEnvelope{Error: body})
}

// statusOf 将统一错误码映射到 HTTP 状态码。
func statusOf(code xerrors.Code) int {
	switch {
	case strings.HasSuffix(string(code), "NOT_FOUND"):
		return http.StatusNotFound
	case code == xerrors.CodeValidation,
		code == xerrors.CodeInvalidTransition,
		code == xerrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case strings.HasSuffix(string(code), "CONFLICT"):
		return http.StatusConflict
	case code == xerrors.CodeOracleTimeout:
		return http.StatusGatewayTimeout
	case code == xerrors.CodeOracleUnavailable:
		return http.StatusBadGateway
	case code == xerrors.CodeInitializationFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeMethodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	writeJSON(w, http.StatusMethodNotAllowed, errorEnvelope{Error: errorBody{
		Code:    string(xerrors.CodeInvalidArgument),
		Message: "仅支持 " + allowed,
	}})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// statusRecorder 记录响应状态码供指标采集使用。
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument 为处理器增加请求指标采集。
func (s *Server) instrument(name string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		handler(recorder, r)
		metrics.ObserveHTTPRequest(name, r.Method, recorder.status, time.Since(start))
	}
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
