package runner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/assetblue/scraping-pipeline/internal/registry"
	"github.com/assetblue/scraping-pipeline/internal/scrape"
)

type recordingRunner struct {
	mu   sync.Mutex
	runs []string
	ctxs map[string]context.Context
	seen chan string
}

func newRecordingRunner() *recordingRunner {
	return &recordingRunner{
		ctxs: make(map[string]context.Context),
		seen: make(chan string, 16),
	}
}

func (r *recordingRunner) Run(ctx context.Context, taskID string) {
	r.mu.Lock()
	r.runs = append(r.runs, taskID)
	r.ctxs[taskID] = ctx
	r.mu.Unlock()
	r.seen <- taskID
}

func (r *recordingRunner) waitFor(t *testing.T, taskID string) {
	t.Helper()
	select {
	case got := <-r.seen:
		require.Equal(t, taskID, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("task %s never ran", taskID)
	}
}

func createTask(reg *registry.Registry, id string) {
	reg.Create(context.Background(), scrape.Task{
		ID:        id,
		Status:    scrape.TaskStatusProcessing,
		Submitted: time.Now(),
	})
}

func TestRunner_RunsSubmittedTasksInOrder(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	exec := newRecordingRunner()
	r := New(4, reg, exec, nil)
	r.Start(context.Background())
	defer r.Stop()

	createTask(reg, "task-1")
	createTask(reg, "task-2")
	require.NoError(t, r.Submit("task-1"))
	require.NoError(t, r.Submit("task-2"))

	exec.waitFor(t, "task-1")
	exec.waitFor(t, "task-2")
}

func TestRunner_PassesRegistryContext(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	exec := newRecordingRunner()
	r := New(4, reg, exec, nil)
	r.Start(context.Background())
	defer r.Stop()

	createTask(reg, "task-1")
	require.NoError(t, r.Submit("task-1"))
	exec.waitFor(t, "task-1")

	exec.mu.Lock()
	ctx := exec.ctxs["task-1"]
	exec.mu.Unlock()
	require.NotNil(t, ctx)
	require.NoError(t, ctx.Err())

	_, err := reg.Cancel("task-1")
	require.NoError(t, err)
	require.Error(t, ctx.Err())
}

func TestRunner_SkipsUnknownTasks(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	exec := newRecordingRunner()
	r := New(4, reg, exec, nil)
	r.Start(context.Background())
	defer r.Stop()

	require.NoError(t, r.Submit("ghost"))

	createTask(reg, "task-1")
	require.NoError(t, r.Submit("task-1"))
	exec.waitFor(t, "task-1")

	exec.mu.Lock()
	defer exec.mu.Unlock()
	require.Equal(t, []string{"task-1"}, exec.runs)
}

func TestRunner_SubmitFailsWhenQueueFull(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	// Never started, so the queue only drains by capacity.
	r := New(2, reg, newRecordingRunner(), nil)

	require.NoError(t, r.Submit("task-1"))
	require.NoError(t, r.Submit("task-2"))
	require.ErrorIs(t, r.Submit("task-3"), ErrQueueFull)
}

func TestRunner_StopWithoutStart(t *testing.T) {
	t.Parallel()

	r := New(1, registry.New(), newRecordingRunner(), nil)
	r.Stop()
}

func TestRunner_StopIsIdempotent(t *testing.T) {
	t.Parallel()

	r := New(1, registry.New(), newRecordingRunner(), nil)
	r.Start(context.Background())
	r.Stop()
	r.Stop()
}
