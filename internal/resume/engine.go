// Package resume decouples the web login surface from the dispatch engine:
// a successful login enqueues a resume job here instead of re-entering the
// dispatcher from the HTTP handler's goroutine.
package resume

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrQueueFull = errors.New("resume queue is full")

// Job re-runs one captured dispatch. User is carried for logging only.
type Job struct {
	ID        string
	User      string
	Run       func(ctx context.Context)
	CreatedAt time.Time
}

type Engine struct {
	workers   int
	jobs      chan Job
	logger    *slog.Logger
	startOnce sync.Once
}

func New(workers int, logger *slog.Logger) *Engine {
	if workers < 1 {
		workers = 1
	}
	return &Engine{
		workers: workers,
		jobs:    make(chan Job, workers*50),
		logger:  logger,
	}
}

func (e *Engine) Start(ctx context.Context) error {
	var group sync.WaitGroup
	e.startOnce.Do(func() {
		for index := 0; index < e.workers; index++ {
			group.Add(1)
			go func(workerID int) {
				defer group.Done()
				e.worker(ctx, workerID)
			}(index + 1)
		}
	})

	<-ctx.Done()
	group.Wait()
	return nil
}

func (e *Engine) Enqueue(job Job) (Job, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	select {
	case e.jobs <- job:
		e.logger.Info("resume job queued", "job_id", job.ID, "user", job.User)
		return job, nil
	default:
		return Job{}, ErrQueueFull
	}
}

func (e *Engine) worker(ctx context.Context, workerID int) {
	e.logger.Info("resume worker started", "worker_id", workerID)
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("resume worker stopped", "worker_id", workerID)
			return
		case job := <-e.jobs:
			e.process(ctx, workerID, job)
		}
	}
}

func (e *Engine) process(ctx context.Context, workerID int, job Job) {
	defer func() {
		if recovered := recover(); recovered != nil {
			e.logger.Error("resume job panicked", "worker_id", workerID, "job_id", job.ID, "panic", recovered)
		}
	}()
	e.logger.Info("resuming dispatch", "worker_id", workerID, "job_id", job.ID, "user", job.User)
	if job.Run != nil {
		job.Run(ctx)
	}
}
