// Package registry holds in-memory task state for the scraping service.
//
// The registry is the only shared mutable structure in the core: one
// orchestrator goroutine mutates a given task through Update while arbitrary
// pollers and cancellers read it concurrently. All access is serialized
// behind a single RWMutex so readers never observe a half-written entry.
// Entries are process-local and lost on restart; the item store is the
// durable record.
package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/assetblue/scraping-pipeline/internal/scrape"
)

// Registry maps task ids to task state plus a cancellation context per task.
type Registry struct {
	mu      sync.RWMutex
	tasks   map[string]scrape.Task
	cancels map[string]context.CancelFunc
	ctxs    map[string]context.Context
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{
		tasks:   make(map[string]scrape.Task),
		cancels: make(map[string]context.CancelFunc),
		ctxs:    make(map[string]context.Context),
	}
}

// Create stores a new task and derives its cancellation context from parent.
// The returned context is what the orchestrator checks at keyword boundaries.
func (r *Registry) Create(parent context.Context, task scrape.Task) context.Context {
	ctx, cancel := context.WithCancel(parent)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[task.ID] = task
	r.cancels[task.ID] = cancel
	r.ctxs[task.ID] = ctx
	return ctx
}

// Get returns a snapshot of a task.
func (r *Registry) Get(taskID string) (scrape.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	task, ok := r.tasks[taskID]
	if !ok {
		return scrape.Task{}, scrape.ErrTaskNotFound
	}
	return task, nil
}

// Update applies an in-place state transition under the registry lock.
// Terminal tasks are immutable; mutations against them are dropped.
func (r *Registry) Update(taskID string, mutate func(*scrape.Task)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[taskID]
	if !ok {
		return scrape.ErrTaskNotFound
	}
	if task.Status.IsTerminal() {
		return nil
	}
	mutate(&task)
	r.tasks[taskID] = task
	return nil
}

// Cancel sets the cancellation marker for a task. Idempotent; a no-op when
// the task is already terminal. The status flips to cancelled immediately so
// pollers see it without waiting for the orchestrator's next boundary check.
func (r *Registry) Cancel(taskID string) (scrape.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[taskID]
	if !ok {
		return scrape.Task{}, scrape.ErrTaskNotFound
	}
	if task.Status.IsTerminal() {
		return task, nil
	}
	if cancel, ok := r.cancels[taskID]; ok {
		cancel()
	}
	task.Status = scrape.TaskStatusCancelled
	r.tasks[taskID] = task
	return task, nil
}

// CancelAllProcessing cancels every non-terminal task and returns their ids.
// Called when a new run is submitted (at most one run is live at a time) and
// when the item store is cleared. Persisted items are never touched.
func (r *Registry) CancelAllProcessing() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var cancelled []string
	for id, task := range r.tasks {
		if task.Status.IsTerminal() {
			continue
		}
		if cancel, ok := r.cancels[id]; ok {
			cancel()
		}
		task.Status = scrape.TaskStatusCancelled
		r.tasks[id] = task
		cancelled = append(cancelled, id)
	}
	sort.Strings(cancelled)
	return cancelled
}

// Context returns the cancellation context for a task, if it exists.
func (r *Registry) Context(taskID string) (context.Context, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctx, ok := r.ctxs[taskID]
	return ctx, ok
}

// List returns snapshots of every task, newest submission first.
func (r *Registry) List() []scrape.Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tasks := make([]scrape.Task, 0, len(r.tasks))
	for _, task := range r.tasks {
		tasks = append(tasks, task)
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].Submitted.After(tasks[j].Submitted)
	})
	return tasks
}
