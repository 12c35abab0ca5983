package workers

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alimgiray/gitalizer/internal/tasks"
	"github.com/alimgiray/gitalizer/pkg/logger"
)

// Handler processes one task and always returns a result
type Handler interface {
	Handle(ctx context.Context, task *tasks.Task) tasks.Result
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, task *tasks.Task) tasks.Result

func (f HandlerFunc) Handle(ctx context.Context, task *tasks.Task) tasks.Result {
	return f(ctx, task)
}

// Pool runs a fixed number of workers over a task queue. A nil task is the
// poison pill that stops one worker.
type Pool struct {
	name     string
	size     int
	handler  Handler
	cooldown time.Duration

	queue   chan *tasks.Task
	results chan tasks.Result
	group   *errgroup.Group
}

func NewPool(name string, size int, handler Handler, cooldown time.Duration) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		name:     name,
		size:     size,
		handler:  handler,
		cooldown: cooldown,
	}
}

// Start spawns the workers. capacity is the number of tasks that will be
// submitted, so neither submitting nor reporting results ever blocks.
func (p *Pool) Start(ctx context.Context, capacity int) {
	p.queue = make(chan *tasks.Task, capacity+p.size)
	p.results = make(chan tasks.Result, capacity)
	p.group, ctx = errgroup.WithContext(ctx)

	for i := 0; i < p.size; i++ {
		workerID := fmt.Sprintf("%s-%s", p.name, uuid.NewString()[:8])
		p.group.Go(func() error {
			p.work(ctx, workerID)
			return nil
		})
	}
}

func (p *Pool) Submit(task *tasks.Task) {
	p.queue <- task
}

// Stop queues one poison pill per worker behind the submitted tasks
func (p *Pool) Stop() {
	for i := 0; i < p.size; i++ {
		p.queue <- nil
	}
}

func (p *Pool) Results() <-chan tasks.Result {
	return p.results
}

// Wait blocks until every worker exited
func (p *Pool) Wait() error {
	return p.group.Wait()
}

func (p *Pool) work(ctx context.Context, workerID string) {
	log := logger.WithField("worker", workerID)
	log.Debug("Worker started")
	defer log.Debug("Worker stopped")

	for {
		var task *tasks.Task
		select {
		case <-ctx.Done():
			return
		case task = <-p.queue:
		}
		if task == nil {
			return
		}

		p.results <- p.process(ctx, task)

		if p.cooldown > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.cooldown):
			}
		}
	}
}

// process runs the handler, turning a panic into an error result
func (p *Pool) process(ctx context.Context, task *tasks.Task) (result tasks.Result) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithField("task", task.Key()).Errorf("Handler panicked: %v\n%s", r, debug.Stack())
			result = tasks.Result{
				Task:    task,
				Message: fmt.Sprintf("%s panicked", task),
				Err:     fmt.Errorf("panic: %v", r),
			}
		}
	}()
	result = p.handler.Handle(ctx, task)
	result.Task = task
	return result
}
