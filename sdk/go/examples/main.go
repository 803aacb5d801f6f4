package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"studypilot/sdk/go/studypilot"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/plans", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(studypilot.Job{ID: "job-demo", Status: "pending"})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/jobs", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(studypilot.Job{
			ID:     "job-demo",
			Status: "succeeded",
			Result: &studypilot.GenerationResult{
				PlanID:       "plan-demo",
				SessionCount: 14,
				Advice:       "先攻克数学，再安排英语阅读。",
			},
		})
	})
	mux.HandleFunc("/api/v1/plans/summary", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(studypilot.Stats{
			Total: 14, Pending: 10, Completed: 3, Skipped: 1, PercentComplete: 21.4,
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := studypilot.NewClient(srv.URL, srv.Client())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	job, err := client.SubmitPlan(ctx, studypilot.PlanSubmission{
		Title:       "期末复习",
		StartDate:   "2025-06-01",
		EndDate:     "2025-06-14",
		HoursPerDay: 2,
		Subjects: []studypilot.Subject{
			{Name: "数学", Difficulty: "hard", Topics: []string{"微积分", "线性代数"}},
			{Name: "英语", Difficulty: "medium", Topics: []string{"阅读", "写作"}},
		},
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("submitted job %s (status=%s)\n", job.ID, job.Status)

	finished, err := client.GetJob(ctx, job.ID)
	if err != nil {
		panic(err)
	}
	fmt.Printf("job %s finished with plan %s (%d sessions)\n", finished.ID, finished.Result.PlanID, finished.Result.SessionCount)

	stats, err := client.Summary(ctx, finished.Result.PlanID)
	if err != nil {
		panic(err)
	}
	fmt.Printf("progress: %.1f%% (%d/%d done)\n", stats.PercentComplete, stats.Completed, stats.Total)
}
