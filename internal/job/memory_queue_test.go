package job

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryQueueDeliversToHandler(t *testing.T) {
	queue := NewMemoryQueue(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	seen := make(map[string]bool)
	done := make(chan struct{})

	go func() {
		_ = queue.Consume(ctx, 2, func(_ context.Context, jobID string) error {
			mu.Lock()
			seen[jobID] = true
			if len(seen) == 2 {
				close(done)
			}
			mu.Unlock()
			return nil
		})
	}()

	if err := queue.Publish(ctx, "job-1"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := queue.Publish(ctx, "job-2"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler did not receive jobs in time")
	}
}

func TestMemoryQueueConcurrentPublishAndClose(t *testing.T) {
	queue := NewMemoryQueue(4)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	consumeCtx, stopConsume := context.WithCancel(context.Background())
	defer stopConsume()
	go func() {
		_ = queue.Consume(consumeCtx, 1, func(_ context.Context, _ string) error {
			return nil
		})
	}()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if err := queue.Publish(ctx, "job-x"); err != nil {
					return
				}
			}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	if err := queue.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	wg.Wait()

	if err := queue.Publish(context.Background(), "job-late"); err == nil {
		t.Fatal("expected error after close")
	}
}

func TestMemoryQueuePublishAfterClose(t *testing.T) {
	queue := NewMemoryQueue(1)
	if err := queue.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := queue.Publish(context.Background(), "job-1"); err == nil {
		t.Fatal("expected error after close")
	}
}
