// Package runner owns the background execution of scraping tasks. Submitted
// task ids go through a bounded in-memory queue consumed by a single
// goroutine, so at most one task is scraping at any moment.
package runner

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/assetblue/scraping-pipeline/internal/registry"
)

// ErrQueueFull is returned when the submission queue cannot take another task.
var ErrQueueFull = errors.New("task queue is full")

// TaskRunner executes one task to a terminal state.
type TaskRunner interface {
	Run(ctx context.Context, taskID string)
}

// Runner consumes the task queue. Stop drains nothing: the in-flight task is
// cancelled through its registry context and queued tasks are abandoned.
type Runner struct {
	queue    chan string
	registry *registry.Registry
	exec     TaskRunner
	logger   *zap.Logger

	stop     context.CancelFunc
	stopOnce sync.Once
	done     chan struct{}
}

// New constructs a Runner with the given queue capacity.
func New(capacity int, reg *registry.Registry, exec TaskRunner, logger *zap.Logger) *Runner {
	if capacity <= 0 {
		capacity = 16
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		queue:    make(chan string, capacity),
		registry: reg,
		exec:     exec,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Submit enqueues a task id for execution without blocking.
func (r *Runner) Submit(taskID string) error {
	select {
	case r.queue <- taskID:
		return nil
	default:
		return ErrQueueFull
	}
}

// Start launches the consumer goroutine. It returns immediately.
func (r *Runner) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	r.stop = cancel
	go r.loop(ctx)
}

func (r *Runner) loop(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			return
		case taskID := <-r.queue:
			taskCtx, ok := r.registry.Context(taskID)
			if !ok {
				r.logger.Warn("queued task has no context", zap.String("task_id", taskID))
				continue
			}
			// A task cancelled while queued (superseded by a newer
			// submission) still flows through Run, which observes the
			// cancelled context at the first boundary and finalizes.
			r.exec.Run(taskCtx, taskID)
		}
	}
}

// Stop shuts the consumer down and waits for the in-flight task to return.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		if r.stop == nil {
			return
		}
		r.stop()
		<-r.done
	})
}
