package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alimgiray/gitalizer/internal/tasks"
)

// eventLog records handler calls from concurrent workers
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(event string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func TestManager_SubManagerRunsAfterDrain(t *testing.T) {
	events := &eventLog{}

	parentHandler := HandlerFunc(func(ctx context.Context, task *tasks.Task) tasks.Result {
		// Slow parents make an early sub-manager start visible
		time.Sleep(10 * time.Millisecond)
		events.add("parent")
		login := task.Payload.Target()
		return tasks.Result{
			Message: "listed",
			Discovered: []*tasks.Task{
				tasks.NewRepositoryTask(login+"/shared", false),
				tasks.NewRepositoryTask("common/lib", false),
			},
		}
	})
	childHandler := HandlerFunc(func(ctx context.Context, task *tasks.Task) tasks.Result {
		events.add("child")
		return tasks.Result{Message: "scanned"}
	})

	child := NewManager("repositories", 2, childHandler)
	parent := NewManager("contributors", 3, parentHandler, WithSubManager(child))
	_, err := parent.AddTasks(
		tasks.NewContributorTask("a", false),
		tasks.NewContributorTask("b", false),
		tasks.NewContributorTask("c", false),
	)
	require.NoError(t, err)

	summary, err := parent.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Tasks)
	require.NotNil(t, summary.Sub)
	assert.Equal(t, 4, summary.Sub.Tasks, "discovered tasks are deduplicated")
	assert.Equal(t, 7, summary.TotalTasks())
	assert.Equal(t, 0, summary.TotalFailed())
	assert.Equal(t, StateDone, parent.State())
	assert.Equal(t, StateDone, child.State())

	got := events.snapshot()
	require.Len(t, got, 7)
	for i, event := range got {
		if i < 3 {
			assert.Equal(t, "parent", event)
		} else {
			assert.Equal(t, "child", event)
		}
	}
}

func TestManager_ErrorsAndPanics(t *testing.T) {
	child := NewManager("child", 1, HandlerFunc(func(ctx context.Context, task *tasks.Task) tasks.Result {
		return tasks.Result{Message: "ok"}
	}))

	handler := HandlerFunc(func(ctx context.Context, task *tasks.Task) tasks.Result {
		switch task.Payload.Target() {
		case "panics":
			panic("boom")
		case "fails":
			return tasks.Result{
				Err:        errors.New("remote failure"),
				Discovered: []*tasks.Task{tasks.NewRepositoryTask("never/forwarded", false)},
			}
		default:
			return tasks.Result{Message: "ok"}
		}
	})

	m := NewManager("parent", 2, handler, WithSubManager(child), WithCooldown(time.Millisecond))
	added, err := m.AddTasks(
		tasks.NewContributorTask("panics", false),
		tasks.NewContributorTask("fails", false),
		tasks.NewContributorTask("works", false),
	)
	require.NoError(t, err)
	require.Equal(t, 3, added)

	summary, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Tasks)
	assert.Equal(t, 2, summary.Failed)
	assert.Len(t, summary.Errors, 2)
	assert.Nil(t, summary.Sub, "failed results do not forward discoveries")
	assert.Equal(t, 0, child.Len())
}

func TestManager_AddTasks(t *testing.T) {
	handler := HandlerFunc(func(ctx context.Context, task *tasks.Task) tasks.Result {
		return tasks.Result{Message: "ok"}
	})

	t.Run("Duplicates are ignored", func(t *testing.T) {
		m := NewManager("dedup", 1, handler)
		added, err := m.AddTasks(tasks.NewContributorTask("Alice", false), tasks.NewContributorTask("alice", true), nil)
		require.NoError(t, err)
		assert.Equal(t, 1, added)

		added, err = m.AddTasks(tasks.NewRepositoryTask("alice", false))
		require.NoError(t, err)
		assert.Equal(t, 1, added, "same target of another kind is a different task")
		assert.Equal(t, 2, m.Len())
	})

	t.Run("Rejected after start", func(t *testing.T) {
		m := NewManager("started", 1, handler)
		_, err := m.AddTasks(tasks.NewContributorTask("a", false))
		require.NoError(t, err)
		require.NoError(t, m.Start(context.Background()))

		_, err = m.AddTasks(tasks.NewContributorTask("b", false))
		assert.ErrorIs(t, err, ErrManagerStarted)
		assert.ErrorIs(t, m.Start(context.Background()), ErrManagerStarted)

		summary, err := m.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Tasks)

		_, err = m.Run(context.Background())
		assert.ErrorIs(t, err, ErrManagerStarted)
	})

	t.Run("Empty manager finishes at once", func(t *testing.T) {
		m := NewManager("empty", 2, handler)
		summary, err := m.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, summary.Tasks)
		assert.Equal(t, StateDone, m.State())
	})
}

func TestManager_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{}, 10)

	handler := HandlerFunc(func(ctx context.Context, task *tasks.Task) tasks.Result {
		started <- struct{}{}
		<-ctx.Done()
		return tasks.Result{Err: ctx.Err()}
	})

	m := NewManager("blocked", 2, handler)
	for i := 0; i < 5; i++ {
		_, err := m.AddTasks(tasks.NewRepositoryTask(fmt.Sprintf("o/r%d", i), false))
		require.NoError(t, err)
	}

	go func() {
		<-started
		cancel()
	}()

	summary, err := m.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, summary)
	assert.Equal(t, 5, summary.Tasks)
	assert.Equal(t, StateDone, m.State())
}

func TestChain(t *testing.T) {
	handler := HandlerFunc(func(ctx context.Context, task *tasks.Task) tasks.Result {
		// Every repository proposes its parent until the depth runs out
		return tasks.Result{
			Message:    "ok",
			Discovered: []*tasks.Task{tasks.NewRepositoryTask(task.Payload.Target()+"-parent", false)},
		}
	})

	first := Chain(
		NewManager("depth-1", 1, handler),
		NewManager("depth-2", 1, handler),
		NewManager("depth-3", 1, handler),
	)
	_, err := first.AddTasks(tasks.NewRepositoryTask("o/r", false))
	require.NoError(t, err)

	summary, err := first.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, summary.TotalTasks())
	require.NotNil(t, summary.Sub)
	require.NotNil(t, summary.Sub.Sub)
	assert.Equal(t, "depth-3", summary.Sub.Sub.Manager)
	assert.Nil(t, summary.Sub.Sub.Sub)

	assert.Nil(t, Chain())
}
