// Package task implements the task lifecycle contract: created → running →
// finished|failed, with monotonic progress and exactly-once completion.
package task

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type State string

const (
	StateCreated  State = "created"
	StateRunning  State = "running"
	StateFinished State = "finished"
	StateFailed   State = "failed"
)

// Result is the free-form payload a task surfaces on success.
type Result = map[string]any

// Task is one unit of work. It is owned by the dispatcher for its lifetime
// and reports completion exactly once through Finish or Fatal.
type Task struct {
	id     string
	action string
	params json.RawMessage
	log    *zap.Logger

	mu        sync.Mutex
	state     State
	progress  int
	details   Result
	result    Result
	errMsg    string
	errDetail string
	createdAt time.Time
	updatedAt time.Time
	done      chan struct{}
}

// Info is a point-in-time copy of task state, safe to hand to observers.
type Info struct {
	ID          string `json:"id"`
	Action      string `json:"action"`
	State       State  `json:"state"`
	Progress    int    `json:"progress"`
	Details     Result `json:"details,omitempty"`
	Result      Result `json:"result,omitempty"`
	Error       string `json:"error,omitempty"`
	ErrorDetail string `json:"error_detail,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func New(action string, params json.RawMessage, log *zap.Logger) *Task {
	id := uuid.New().String()
	now := time.Now()
	return &Task{
		id:        id,
		action:    action,
		params:    params,
		state:     StateCreated,
		createdAt: now,
		updatedAt: now,
		done:      make(chan struct{}),
		log: log.With(
			zap.String("task_id", id),
			zap.String("action", action),
		),
	}
}

func (t *Task) ID() string              { return t.id }
func (t *Task) Action() string          { return t.action }
func (t *Task) Params() json.RawMessage { return t.params }
func (t *Task) Logger() *zap.Logger     { return t.log }

// Done is closed once the task reaches a terminal state.
func (t *Task) Done() <-chan struct{} { return t.done }

// Start transitions the task to running and executes the behavior
// asynchronously. The behavior must drive the task to completion on every
// code path, including crashes of anything it delegates to.
func (t *Task) Start(run func(*Task)) {
	t.mu.Lock()
	if t.state != StateCreated {
		t.mu.Unlock()
		t.log.Error("start on a task that already ran", zap.String("state", string(t.state)))
		return
	}
	t.state = StateRunning
	t.updatedAt = time.Now()
	t.mu.Unlock()

	t.log.Info("task started")
	go run(t)
}

// Progress records an advisory completion percentage. Values are clamped to
// [0,100] and never move backwards; updates after completion are dropped.
func (t *Task) Progress(percent int) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateRunning || percent <= t.progress {
		return
	}
	t.progress = percent
	t.updatedAt = time.Now()
}

// Detail records a runtime fact about the task before it completes, such as
// the pid of a process working on its behalf. Details are visible to
// observers through Snapshot while the task is still running, which is how a
// caller learns what it needs to act on the task later.
func (t *Task) Detail(key string, value any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.terminalLocked() {
		return
	}
	if t.details == nil {
		t.details = Result{}
	}
	t.details[key] = value
	t.updatedAt = time.Now()
}

// Finish completes the task successfully. A second completion of any kind is
// a programming error; it is logged and ignored.
func (t *Task) Finish(result Result) {
	t.mu.Lock()
	if t.terminalLocked() {
		t.mu.Unlock()
		t.log.Error("finish on a completed task")
		return
	}
	t.state = StateFinished
	t.progress = 100
	t.result = result
	t.updatedAt = time.Now()
	t.mu.Unlock()

	t.log.Info("task finished")
	close(t.done)
}

// Fatal completes the task with an error message and optional diagnostic
// detail. A second completion of any kind is logged and ignored.
func (t *Task) Fatal(msg, detail string) {
	t.mu.Lock()
	if t.terminalLocked() {
		t.mu.Unlock()
		t.log.Error("fatal on a completed task", zap.String("dropped_error", msg))
		return
	}
	t.state = StateFailed
	t.errMsg = msg
	t.errDetail = detail
	t.updatedAt = time.Now()
	t.mu.Unlock()

	t.log.Error("task failed",
		zap.String("error", msg),
		zap.String("detail", detail),
	)
	close(t.done)
}

func (t *Task) terminalLocked() bool {
	return t.state == StateFinished || t.state == StateFailed
}

func (t *Task) Snapshot() Info {
	t.mu.Lock()
	defer t.mu.Unlock()

	info := Info{
		ID:          t.id,
		Action:      t.action,
		State:       t.state,
		Progress:    t.progress,
		Error:       t.errMsg,
		ErrorDetail: t.errDetail,
		CreatedAt:   t.createdAt,
		UpdatedAt:   t.updatedAt,
	}
	if t.details != nil {
		info.Details = make(Result, len(t.details))
		for k, v := range t.details {
			info.Details[k] = v
		}
	}
	if t.result != nil {
		info.Result = make(Result, len(t.result))
		for k, v := range t.result {
			info.Result[k] = v
		}
	}
	return info
}
