package studypilot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the StudyPilot REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// Subject describes one subject inside a plan submission.
type Subject struct {
	Name        string   `json:"name"`
	Topics      []string `json:"topics,omitempty"`
	Difficulty  string   `json:"difficulty,omitempty"`
	TargetHours float64  `json:"target_hours,omitempty"`
}

// PlanSubmission represents the payload required to request plan generation.
type PlanSubmission struct {
	UserID      string    `json:"user_id,omitempty"`
	Title       string    `json:"title"`
	StartDate   string    `json:"start_date"`
	EndDate     string    `json:"end_date"`
	HoursPerDay float64   `json:"hours_per_day"`
	Subjects    []Subject `json:"subjects"`
}

// GenerationResult summarizes a finished plan generation.
type GenerationResult struct {
	PlanID       string `json:"plan_id"`
	SessionCount int    `json:"session_count"`
	Advice       string `json:"advice,omitempty"`
	Degraded     bool   `json:"degraded,omitempty"`
}

// Job describes an asynchronous plan generation job.
type Job struct {
	ID        string            `json:"id"`
	Status    string            `json:"status"`
	Attempts  int               `json:"attempts"`
	LastError string            `json:"last_error,omitempty"`
	ErrorCode string            `json:"error_code,omitempty"`
	Result    *GenerationResult `json:"result,omitempty"`
}

// Session mirrors a scheduled study session.
type Session struct {
	ID              string `json:"id"`
	PlanID          string `json:"plan_id"`
	Subject         string `json:"subject"`
	Topic           string `json:"topic,omitempty"`
	Date            string `json:"date"`
	StartMinute     int    `json:"start_minute"`
	DurationMinutes int    `json:"duration_minutes"`
	Status          string `json:"status"`
	Source          string `json:"source"`
	RescheduledFrom string `json:"rescheduled_from,omitempty"`
}

// Stats summarizes plan progress.
type Stats struct {
	Total           int     `json:"total"`
	Pending         int     `json:"pending"`
	Completed       int     `json:"completed"`
	Skipped         int     `json:"skipped"`
	PercentComplete float64 `json:"percent_complete"`
}

// DaySchedule lists the sessions of a single day.
type DaySchedule struct {
	PlanID   string     `json:"plan_id"`
	Date     string     `json:"date"`
	Sessions []*Session `json:"sessions"`
}

// ChatResponse is the structured reply from the conversational endpoint.
type ChatResponse struct {
	Intent    string     `json:"intent"`
	Reply     string     `json:"reply,omitempty"`
	Sessions  []*Session `json:"sessions,omitempty"`
	Stats     *Stats     `json:"stats,omitempty"`
	Job       *Job       `json:"job,omitempty"`
	Citations []string   `json:"citations,omitempty"`
	Degraded  bool       `json:"degraded,omitempty"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("studypilot api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("studypilot api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the StudyPilot API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) *Client {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		panic(fmt.Sprintf("invalid base url: %v", err))
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}
}

// Chat sends a free-form message and returns the coordinator's response.
func (c *Client) Chat(ctx context.Context, message, userID, planID string) (ChatResponse, error) {
	payload := map[string]any{
		"message": message,
		"user_id": userID,
		"plan_id": planID,
	}
	var resp ChatResponse
	if err := c.post(ctx, "/api/v1/chat", payload, &resp); err != nil {
		return ChatResponse{}, err
	}
	return resp, nil
}

// SubmitPlan queues asynchronous plan generation and returns the job.
func (c *Client) SubmitPlan(ctx context.Context, submission PlanSubmission) (Job, error) {
	var j Job
	if err := c.post(ctx, "/api/v1/plans", submission, &j); err != nil {
		return Job{}, err
	}
	return j, nil
}

// GetJob fetches job state by identifier.
func (c *Client) GetJob(ctx context.Context, jobID string) (Job, error) {
	var j Job
	endpoint := fmt.Sprintf("/api/v1/jobs?id=%s", url.QueryEscape(jobID))
	if err := c.get(ctx, endpoint, &j); err != nil {
		return Job{}, err
	}
	return j, nil
}

// ListToday returns the sessions scheduled for the given date.
// An empty date means the server's current day.
func (c *Client) ListToday(ctx context.Context, planID, date string) (DaySchedule, error) {
	endpoint := fmt.Sprintf("/api/v1/plans/today?plan_id=%s", url.QueryEscape(planID))
	if date != "" {
		endpoint += "&date=" + url.QueryEscape(date)
	}
	var schedule DaySchedule
	if err := c.get(ctx, endpoint, &schedule); err != nil {
		return DaySchedule{}, err
	}
	return schedule, nil
}

// MarkSessionStatus transitions a session to completed or skipped.
func (c *Client) MarkSessionStatus(ctx context.Context, sessionID, status string) (Session, error) {
	payload := map[string]string{
		"session_id": sessionID,
		"status":     status,
	}
	var sess Session
	if err := c.post(ctx, "/api/v1/sessions/status", payload, &sess); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// Reschedule places overdue skipped sessions onto future days and returns
// the newly created sessions.
func (c *Client) Reschedule(ctx context.Context, planID, today string) ([]*Session, error) {
	payload := map[string]string{
		"plan_id": planID,
		"today":   today,
	}
	var resp struct {
		Created []*Session `json:"created"`
	}
	if err := c.post(ctx, "/api/v1/plans/reschedule", payload, &resp); err != nil {
		return nil, err
	}
	return resp.Created, nil
}

// Summary returns progress statistics for a plan.
func (c *Client) Summary(ctx context.Context, planID string) (Stats, error) {
	endpoint := fmt.Sprintf("/api/v1/plans/summary?plan_id=%s", url.QueryEscape(planID))
	var stats Stats
	if err := c.get(ctx, endpoint, &stats); err != nil {
		return Stats{}, err
	}
	return stats, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	parsedEndpoint, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	rel := &url.URL{
		Path:     path.Join(c.baseURL.Path, parsedEndpoint.Path),
		RawQuery: parsedEndpoint.RawQuery,
	}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr APIError
		apiErr.StatusCode = resp.StatusCode
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &struct {
				Error *APIError `json:"error"`
			}{Error: &apiErr}); err != nil {
				// try direct decode into apiErr if server returned flat payload
				_ = json.Unmarshal(data, &apiErr)
			}
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
