package task

import (
	"sync"
	"time"
)

// Registry tracks in-flight tasks so the intake surface can report progress.
// Completed tasks linger for a retention window, then are dropped; nothing is
// persisted.
type Registry struct {
	mu        sync.RWMutex
	tasks     map[string]*Task
	retention time.Duration
}

func NewRegistry(retention time.Duration) *Registry {
	if retention <= 0 {
		retention = 10 * time.Minute
	}
	return &Registry{
		tasks:     make(map[string]*Task),
		retention: retention,
	}
}

// Add registers a task and schedules its removal once it completes.
func (r *Registry) Add(t *Task) {
	r.mu.Lock()
	r.tasks[t.ID()] = t
	r.mu.Unlock()

	go func() {
		<-t.Done()
		time.AfterFunc(r.retention, func() {
			r.remove(t.ID())
		})
	}()
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	delete(r.tasks, id)
	r.mu.Unlock()
}

// Get returns a snapshot of the task, if it is still tracked.
func (r *Registry) Get(id string) (Info, bool) {
	r.mu.RLock()
	t, ok := r.tasks[id]
	r.mu.RUnlock()
	if !ok {
		return Info{}, false
	}
	return t.Snapshot(), true
}

// Len reports the number of tracked tasks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}
