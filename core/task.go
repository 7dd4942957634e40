package core

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/najoast/wtask/logger"
)

// Schedulable is the scheduler primitive an actor runs on: one preemptible
// thread of control with a name, a stack budget, a priority and an optional
// core affinity.
type Schedulable interface {
	// Name returns the task name.
	Name() string

	// StackSize returns the stack budget in bytes.
	StackSize() int

	// Priority returns the task priority, lowest is 0.
	Priority() int

	// Core returns the core the task is pinned to, or NoAffinity.
	Core() int

	// Start runs body on the task's own thread of control.
	// It should be called only once per task.
	Start(body func(ctx context.Context)) error

	// Suspend parks the task at its next suspension point.
	Suspend()

	// Resume releases a suspended task.
	Resume()

	// Stop cancels the task context and waits for the body to return.
	Stop() error

	// Running reports whether the task body is executing and not suspended.
	Running() bool

	// State returns the current task state.
	State() TaskState
}

// Task implements Schedulable on a goroutine.
type Task struct {
	opts TaskOptions

	// Context for controlling the task lifecycle
	ctx    context.Context
	cancel context.CancelFunc

	// Wait group for the task body
	wg sync.WaitGroup

	state   atomic.Int32 // TaskState
	started atomic.Bool

	// resume is non-nil while the task is suspended
	mu     sync.Mutex
	resume chan struct{}

	createdAt time.Time
	log       *zap.Logger
}

// NewTask creates a task that is not started yet.
func NewTask(opts TaskOptions) *Task {
	ctx, cancel := context.WithCancel(context.Background())
	if opts.Name == "" {
		opts.Name = "Task"
	}

	return &Task{
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
		createdAt: time.Now(),
		log:       logger.Named("task").With(zap.String("task", opts.Name)),
	}
}

// Name returns the task name.
func (t *Task) Name() string {
	return t.opts.Name
}

// StackSize returns the stack budget in bytes.
func (t *Task) StackSize() int {
	return t.opts.StackSize
}

// Priority returns the task priority.
func (t *Task) Priority() int {
	return t.opts.Priority
}

// Core returns the core the task is pinned to.
func (t *Task) Core() int {
	return t.opts.Core
}

// State returns the current task state.
func (t *Task) State() TaskState {
	return TaskState(t.state.Load())
}

// Running reports whether the task body is executing and not suspended.
func (t *Task) Running() bool {
	return t.State() == TaskStateRunning
}

// CreatedAt returns the construction time of the task.
func (t *Task) CreatedAt() time.Time {
	return t.createdAt
}

// Context returns the task lifecycle context. It is cancelled by Stop.
func (t *Task) Context() context.Context {
	return t.ctx
}

// Start runs body on a new goroutine. When the task has a core affinity the
// goroutine is locked to its OS thread and that thread is pinned.
func (t *Task) Start(body func(ctx context.Context)) error {
	if body == nil {
		return fmt.Errorf("task %s: nil body", t.opts.Name)
	}
	if t.ctx.Err() != nil {
		return fmt.Errorf("task %s: %w", t.opts.Name, ErrActorStopped)
	}
	if !t.started.CompareAndSwap(false, true) {
		t.log.Warn("there might be a task already running")
		return fmt.Errorf("task %s: %w", t.opts.Name, ErrAlreadyStarted)
	}

	t.state.Store(int32(TaskStateRunning))
	t.wg.Add(1)
	go t.run(body)

	return nil
}

func (t *Task) run(body func(ctx context.Context)) {
	defer t.wg.Done()

	if t.opts.Core >= 0 {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		if err := setAffinity(t.opts.Core); err != nil {
			t.log.Warn("unable to pin task", zap.Int("core", t.opts.Core), zap.Error(err))
		}
	}

	t.log.Debug(">> run")
	body(t.ctx)
	t.log.Debug("<< run")

	t.state.Store(int32(TaskStateStopped))
}

// Suspend parks the task at its next suspension point.
func (t *Task) Suspend() {
	if !t.state.CompareAndSwap(int32(TaskStateRunning), int32(TaskStateSuspended)) {
		t.log.Debug("no task to suspend", zap.Stringer("state", t.State()))
		return
	}

	t.mu.Lock()
	t.resume = make(chan struct{})
	t.mu.Unlock()
	t.log.Debug("task suspended")
}

// Resume releases a suspended task.
func (t *Task) Resume() {
	if !t.state.CompareAndSwap(int32(TaskStateSuspended), int32(TaskStateRunning)) {
		t.log.Debug("no task to resume", zap.Stringer("state", t.State()))
		return
	}

	t.mu.Lock()
	if t.resume != nil {
		close(t.resume)
		t.resume = nil
	}
	t.mu.Unlock()
	t.log.Debug("task resumed")
}

// Stop cancels the task context and waits for the body to return.
// It must not be called from the task body itself.
func (t *Task) Stop() error {
	t.cancel()
	t.Resume()
	t.wg.Wait()
	t.state.Store(int32(TaskStateStopped))
	return nil
}

// checkpoint parks the caller while the task is suspended.
func (t *Task) checkpoint() error {
	t.mu.Lock()
	ch := t.resume
	t.mu.Unlock()

	if ch == nil {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-t.ctx.Done():
		return ErrActorStopped
	}
}

// Delay suspends the calling task for d.
func Delay(d time.Duration) {
	time.Sleep(d)
}
