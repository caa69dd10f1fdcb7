package resume

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func TestEngineRunsQueuedJobs(t *testing.T) {
	engine := New(1, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go engine.Start(ctx)

	ran := make(chan string, 2)
	for _, user := range []string{"alice", "bob"} {
		user := user
		if _, err := engine.Enqueue(Job{User: user, Run: func(context.Context) { ran <- user }}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	for i := 0; i < 2; i++ {
		select {
		case <-ran:
		case <-time.After(2 * time.Second):
			t.Fatal("queued job did not run")
		}
	}
}

func TestEngineQueueFull(t *testing.T) {
	engine := New(1, slog.New(slog.NewTextHandler(io.Discard, nil)))
	// Not started: jobs accumulate until the buffer is exhausted.
	var err error
	for i := 0; i < cap(engine.jobs)+1; i++ {
		_, err = engine.Enqueue(Job{Run: func(context.Context) {}})
		if err != nil {
			break
		}
	}
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestEngineSurvivesPanickingJob(t *testing.T) {
	engine := New(1, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go engine.Start(ctx)

	if _, err := engine.Enqueue(Job{Run: func(context.Context) { panic("boom") }}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	ran := make(chan struct{}, 1)
	if _, err := engine.Enqueue(Job{Run: func(context.Context) { ran <- struct{}{} }}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive panicking job")
	}
}
