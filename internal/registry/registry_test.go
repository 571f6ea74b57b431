package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/assetblue/scraping-pipeline/internal/scrape"
)

func newTask(id string) scrape.Task {
	return scrape.Task{
		ID:        id,
		Status:    scrape.TaskStatusProcessing,
		Submitted: time.Now(),
	}
}

func TestRegistry_CreateAndGet(t *testing.T) {
	t.Parallel()

	reg := New()
	ctx := reg.Create(context.Background(), newTask("task-1"))
	require.NoError(t, ctx.Err())

	task, err := reg.Get("task-1")
	require.NoError(t, err)
	require.Equal(t, scrape.TaskStatusProcessing, task.Status)

	_, err = reg.Get("missing")
	require.ErrorIs(t, err, scrape.ErrTaskNotFound)
}

func TestRegistry_UpdateMutatesSnapshot(t *testing.T) {
	t.Parallel()

	reg := New()
	reg.Create(context.Background(), newTask("task-1"))

	err := reg.Update("task-1", func(task *scrape.Task) {
		task.CurrentKeyword = "boiler"
		task.Counts.Inc(scrape.ContentTypeImage)
	})
	require.NoError(t, err)

	task, err := reg.Get("task-1")
	require.NoError(t, err)
	require.Equal(t, "boiler", task.CurrentKeyword)
	require.Equal(t, 1, task.Counts.Images)
}

func TestRegistry_TerminalTasksAreImmutable(t *testing.T) {
	t.Parallel()

	reg := New()
	reg.Create(context.Background(), newTask("task-1"))
	_, err := reg.Cancel("task-1")
	require.NoError(t, err)

	err = reg.Update("task-1", func(task *scrape.Task) {
		task.Status = scrape.TaskStatusCompleted
		task.Counts.Inc(scrape.ContentTypeDocument)
	})
	require.NoError(t, err)

	task, err := reg.Get("task-1")
	require.NoError(t, err)
	require.Equal(t, scrape.TaskStatusCancelled, task.Status)
	require.Zero(t, task.Counts.Documents)
}

func TestRegistry_CancelFlipsStatusAndContext(t *testing.T) {
	t.Parallel()

	reg := New()
	ctx := reg.Create(context.Background(), newTask("task-1"))

	task, err := reg.Cancel("task-1")
	require.NoError(t, err)
	require.Equal(t, scrape.TaskStatusCancelled, task.Status)
	require.Error(t, ctx.Err())

	// Idempotent on an already terminal task.
	task, err = reg.Cancel("task-1")
	require.NoError(t, err)
	require.Equal(t, scrape.TaskStatusCancelled, task.Status)
}

func TestRegistry_CancelCompletedTaskIsNoop(t *testing.T) {
	t.Parallel()

	reg := New()
	reg.Create(context.Background(), newTask("task-1"))
	require.NoError(t, reg.Update("task-1", func(task *scrape.Task) {
		task.Status = scrape.TaskStatusCompleted
	}))

	task, err := reg.Cancel("task-1")
	require.NoError(t, err)
	require.Equal(t, scrape.TaskStatusCompleted, task.Status)
}

func TestRegistry_CancelAllProcessing(t *testing.T) {
	t.Parallel()

	reg := New()
	ctxA := reg.Create(context.Background(), newTask("task-a"))
	reg.Create(context.Background(), newTask("task-b"))
	reg.Create(context.Background(), newTask("task-c"))
	require.NoError(t, reg.Update("task-c", func(task *scrape.Task) {
		task.Status = scrape.TaskStatusCompleted
	}))

	cancelled := reg.CancelAllProcessing()
	require.Equal(t, []string{"task-a", "task-b"}, cancelled)
	require.Error(t, ctxA.Err())

	taskC, err := reg.Get("task-c")
	require.NoError(t, err)
	require.Equal(t, scrape.TaskStatusCompleted, taskC.Status)
}

func TestRegistry_ListNewestFirst(t *testing.T) {
	t.Parallel()

	reg := New()
	old := newTask("task-old")
	old.Submitted = time.Now().Add(-time.Hour)
	reg.Create(context.Background(), old)
	reg.Create(context.Background(), newTask("task-new"))

	tasks := reg.List()
	require.Len(t, tasks, 2)
	require.Equal(t, "task-new", tasks[0].ID)
	require.Equal(t, "task-old", tasks[1].ID)
}
