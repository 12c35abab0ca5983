package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/alimgiray/gitalizer/internal/tasks"
	"github.com/alimgiray/gitalizer/pkg/logger"
	"github.com/alimgiray/gitalizer/pkg/metrics"
)

// ErrManagerStarted is returned when tasks are added to a manager that already started
var ErrManagerStarted = errors.New("manager already started")

// State is the lifecycle stage of a Manager
type State int

const (
	StateIdle State = iota
	StateStarted
	StateDraining
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarted:
		return "started"
	case StateDraining:
		return "draining"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Summary reports what a manager and its chained sub-managers processed
type Summary struct {
	Manager string
	RunID   string
	Tasks   int
	Failed  int
	Errors  []error
	Sub     *Summary
}

// TotalTasks counts the tasks of the whole chain
func (s *Summary) TotalTasks() int {
	if s == nil {
		return 0
	}
	return s.Tasks + s.Sub.TotalTasks()
}

// TotalFailed counts the failed tasks of the whole chain
func (s *Summary) TotalFailed() int {
	if s == nil {
		return 0
	}
	return s.Failed + s.Sub.TotalFailed()
}

// Manager feeds a batch of tasks to a worker pool, collects one result per
// task and hands discovered tasks to its sub-manager, which only runs once
// this manager's queue has fully drained.
type Manager struct {
	name     string
	runID    string
	workers  int
	handler  Handler
	cooldown time.Duration
	sub      *Manager

	mu    sync.Mutex
	state State
	tasks []*tasks.Task
	known map[string]struct{}
	pool  *Pool
}

type Option func(*Manager)

// WithCooldown sets the pause a worker takes after each task
func WithCooldown(d time.Duration) Option {
	return func(m *Manager) {
		m.cooldown = d
	}
}

// WithSubManager chains sub to receive the tasks discovered by this manager
func WithSubManager(sub *Manager) Option {
	return func(m *Manager) {
		m.sub = sub
	}
}

func NewManager(name string, workers int, handler Handler, opts ...Option) *Manager {
	m := &Manager{
		name:    name,
		runID:   uuid.NewString(),
		workers: workers,
		handler: handler,
		known:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Chain links managers so that each one feeds the next and returns the first
func Chain(managers ...*Manager) *Manager {
	if len(managers) == 0 {
		return nil
	}
	for i := 0; i < len(managers)-1; i++ {
		managers[i].sub = managers[i+1]
	}
	return managers[0]
}

func (m *Manager) Name() string { return m.name }

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Len returns the number of queued tasks
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// AddTasks queues tasks that are not known yet and returns how many were added
func (m *Manager) AddTasks(ts ...*tasks.Task) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateIdle {
		return 0, ErrManagerStarted
	}
	added := 0
	for _, task := range ts {
		if task == nil {
			continue
		}
		key := task.Key()
		if _, ok := m.known[key]; ok {
			continue
		}
		m.known[key] = struct{}{}
		m.tasks = append(m.tasks, task)
		added++
	}
	return added, nil
}

func (m *Manager) log() *logrus.Entry {
	return logger.WithFields(logrus.Fields{"manager": m.name, "run_id": m.runID})
}

// Start spawns the workers and submits every queued task
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateIdle {
		return ErrManagerStarted
	}
	m.state = StateStarted
	m.pool = NewPool(m.name, m.workers, m.handler, m.cooldown)
	m.pool.Start(ctx, len(m.tasks))
	for _, task := range m.tasks {
		m.pool.Submit(task)
	}
	m.log().WithField("tasks", len(m.tasks)).Info("Manager started")
	return nil
}

// Run starts the manager if needed, waits for one result per task and then
// runs the sub-manager chain. On cancellation it returns the partial summary
// together with the context error.
func (m *Manager) Run(ctx context.Context) (*Summary, error) {
	if m.State() == StateIdle {
		if err := m.Start(ctx); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	if m.state != StateStarted {
		m.mu.Unlock()
		return nil, ErrManagerStarted
	}
	m.state = StateDraining
	total := len(m.tasks)
	m.mu.Unlock()

	m.pool.Stop()
	summary := &Summary{Manager: m.name, RunID: m.runID, Tasks: total}

	for received := 0; received < total; received++ {
		select {
		case <-ctx.Done():
			m.finish()
			return summary, ctx.Err()
		case result := <-m.pool.Results():
			m.record(summary, result)
		}
	}
	m.finish()

	m.log().WithFields(logrus.Fields{"tasks": summary.Tasks, "failed": summary.Failed}).Info("Manager finished")
	if err := ctx.Err(); err != nil {
		return summary, err
	}

	if m.sub == nil || m.sub.Len() == 0 {
		return summary, nil
	}
	sub, err := m.sub.Run(ctx)
	summary.Sub = sub
	return summary, err
}

func (m *Manager) finish() {
	m.pool.Wait()
	m.mu.Lock()
	m.state = StateDone
	m.mu.Unlock()
}

// record logs a result and forwards its discoveries when it succeeded
func (m *Manager) record(summary *Summary, result tasks.Result) {
	log := m.log().WithFields(logrus.Fields{
		"kind":   result.Task.Kind.String(),
		"target": result.Task.Payload.Target(),
	})

	if result.Err != nil {
		summary.Failed++
		summary.Errors = append(summary.Errors, fmt.Errorf("%s: %w", result.Task, result.Err))
		metrics.Tasks.WithLabelValues(result.Task.Kind.String(), "error").Inc()
		log.WithError(result.Err).Warn(result.Message)
		return
	}
	metrics.Tasks.WithLabelValues(result.Task.Kind.String(), "ok").Inc()
	log.Info(result.Message)

	if m.sub == nil || len(result.Discovered) == 0 {
		return
	}
	added, err := m.sub.AddTasks(result.Discovered...)
	if err != nil {
		log.WithError(err).Error("Failed to forward discovered tasks")
		return
	}
	if added > 0 {
		log.WithField("discovered", added).Debug("Forwarded tasks")
	}
}
