package alerting

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	xerrors "studypilot/internal/errors"
)

type stubNotifier struct {
	channel Channel
	events  []Event
	err     error
}

func (n *stubNotifier) Channel() Channel { return n.channel }

func (n *stubNotifier) Notify(_ context.Context, event Event) error {
	n.events = append(n.events, event)
	return n.err
}

func sampleEvent() Event {
	return Event{
		Code:       xerrors.Code("PLAN_JOB_RETRIES_EXHAUSTED"),
		Message:    "重试耗尽",
		Severity:   xerrors.SeverityCritical,
		JobID:      "job-1",
		Attempts:   3,
		MaxRetries: 3,
		Metadata:   map[string]string{"stage": "terminal"},
		OccurredAt: time.Now(),
	}
}

func TestFanoutDeliversToAllChannels(t *testing.T) {
	email := &stubNotifier{channel: ChannelEmail}
	slack := &stubNotifier{channel: ChannelSlack}

	dispatcher := NewFanout(email, slack, nil)
	if err := dispatcher.Notify(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(email.events) != 1 || len(slack.events) != 1 {
		t.Fatalf("expected delivery to both channels: email=%d slack=%d", len(email.events), len(slack.events))
	}
}

func TestFanoutJoinsChannelFailures(t *testing.T) {
	email := &stubNotifier{channel: ChannelEmail, err: stdErrors.New("smtp down")}
	slack := &stubNotifier{channel: ChannelSlack}

	dispatcher := NewFanout(email, slack)
	err := dispatcher.Notify(context.Background(), sampleEvent())
	if err == nil {
		t.Fatal("expected error from failing channel")
	}
	// 单个通道失败不阻断其余通道。
	if len(slack.events) != 1 {
		t.Fatalf("expected slack delivery despite email failure, got %d", len(slack.events))
	}
}

func TestDingTalkWebhookSenderPostsPayload(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := &DingTalkWebhookSender{URL: srv.URL, HTTPClient: srv.Client()}
	if err := sender.Send(context.Background(), "任务失败"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if captured["msgtype"] != "text" {
		t.Fatalf("unexpected payload: %+v", captured)
	}
}

func TestSlackWebhookSenderReportsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid_token", http.StatusForbidden)
	}))
	defer srv.Close()

	sender := &SlackWebhookSender{URL: srv.URL, HTTPClient: srv.Client()}
	if err := sender.Send(context.Background(), "#alerts", "任务失败"); err == nil {
		t.Fatal("expected error for http failure status")
	}
}
