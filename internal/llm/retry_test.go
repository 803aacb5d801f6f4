package llm

import (
	"context"
	stdErrors "errors"
	"testing"

	xerrors "studypilot/internal/errors"
)

type stubClient struct {
	calls     int
	responses []func() (*Response, error)
}

func (s *stubClient) Generate(_ context.Context, _ Request) (*Response, error) {
	idx := s.calls
	s.calls++
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	return s.responses[idx]()
}

func TestGenerateWithRetrySucceedsOnSecondAttempt(t *testing.T) {
	client := &stubClient{responses: []func() (*Response, error){
		func() (*Response, error) { return nil, stdErrors.New("transient") },
		func() (*Response, error) { return &Response{Reply: "ok"}, nil },
	}}

	resp, err := GenerateWithRetry(context.Background(), client, Request{Message: "hi"})
	if err != nil {
		t.Fatalf("expected success after retry: %v", err)
	}
	if resp.Reply != "ok" {
		t.Fatalf("unexpected reply: %q", resp.Reply)
	}
	if client.calls != 2 {
		t.Fatalf("expected 2 calls, got %d", client.calls)
	}
}

func TestGenerateWithRetryMapsTimeout(t *testing.T) {
	client := &stubClient{responses: []func() (*Response, error){
		func() (*Response, error) { return nil, context.DeadlineExceeded },
	}}

	_, err := GenerateWithRetry(context.Background(), client, Request{Message: "hi"})
	if xerrors.CodeOf(err) != xerrors.CodeOracleTimeout {
		t.Fatalf("expected oracle timeout, got %v", err)
	}
	if client.calls != 2 {
		t.Fatalf("expected one retry, got %d calls", client.calls)
	}
}

func TestGenerateWithRetryMapsUnavailable(t *testing.T) {
	client := &stubClient{responses: []func() (*Response, error){
		func() (*Response, error) { return nil, stdErrors.New("connection refused") },
	}}

	_, err := GenerateWithRetry(context.Background(), client, Request{Message: "hi"})
	if xerrors.CodeOf(err) != xerrors.CodeOracleUnavailable {
		t.Fatalf("expected oracle unavailable, got %v", err)
	}
}

func TestGenerateWithRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &stubClient{responses: []func() (*Response, error){
		func() (*Response, error) { return nil, stdErrors.New("transient") },
	}}

	_, err := GenerateWithRetry(ctx, client, Request{Message: "hi"})
	if err == nil {
		t.Fatal("expected error")
	}
	if client.calls != 1 {
		t.Fatalf("expected no retry after cancel, got %d calls", client.calls)
	}
}
