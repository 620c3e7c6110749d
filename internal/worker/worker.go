package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spacebot-ai/spacebot/internal/ids"
	"github.com/spacebot-ai/spacebot/internal/logging"
	"github.com/spacebot-ai/spacebot/internal/registry"
)

// Config configures one Worker instance, grounded on the teacher's
// SubAgentConfig (internal/session/subagent.go).
type Config struct {
	ID            ids.WorkerId
	Task          string
	Interactive   bool
	Notify        bool
	Timeout       time.Duration
	ParentChannel ids.ProcessId
	// FromBranch marks a Worker spawned from within a Branch step rather
	// than directly from a Channel turn, so the Status Projection can
	// apply §4.7's visibility threshold for Branches to it.
	FromBranch bool
}

// DefaultConfig returns a Config with conservative defaults, analogous to
// the teacher's DefaultSubAgentConfig.
func DefaultConfig(task string, parent ids.ProcessId) Config {
	return Config{
		ID:      ids.NewWorkerId(),
		Task:    task,
		Timeout: 30 * time.Minute,
		ParentChannel: parent,
	}
}

// Worker executes a task against a pluggable Backend without access to
// Channel or Branch context (§4.4).
type Worker struct {
	mu sync.RWMutex

	cfg     Config
	backend Backend
	bus     *registry.Registry

	machine     *machine
	liveStatus  string
	toolCalls   atomic.Int32
	startTime   time.Time
	endTime     time.Time
	result      Result
	err         error
	terminalSent atomic.Bool

	cancel context.CancelFunc
}

// New constructs a Worker bound to a backend and the shared event bus.
// Run must be called to start execution.
func New(cfg Config, backend Backend, bus *registry.Registry) *Worker {
	return &Worker{
		cfg:     cfg,
		backend: backend,
		bus:     bus,
		machine: newMachine(),
	}
}

// ID returns the Worker's id.
func (w *Worker) ID() ids.WorkerId { return w.cfg.ID }

// State returns the Worker's current state.
func (w *Worker) State() State { return w.machine.Current() }

// Run executes the task asynchronously; the caller does not block on
// completion (Channel non-blocking rule, §4.2). Run must be called exactly
// once, typically as `go w.Run(ctx)`.
func (w *Worker) Run(parentCtx context.Context) {
	ctx, cancel := context.WithTimeout(parentCtx, w.cfg.Timeout)
	w.mu.Lock()
	w.cancel = cancel
	w.startTime = time.Now()
	w.mu.Unlock()
	defer cancel()

	logging.WorkerDebug("worker %s starting task %q", w.cfg.ID, w.cfg.Task)

	result, err := w.backend.Execute(ctx, w.cfg.Task, w.setLiveStatus)

	w.mu.Lock()
	w.endTime = time.Now()
	w.result = result
	w.err = err
	w.mu.Unlock()

	var next State
	switch {
	case ctx.Err() != nil && err != nil:
		next = StateCancelled
	case err != nil:
		next = StateFailed
	default:
		next = StateDone
	}

	if transErr := w.machine.Transition(next); transErr != nil {
		logging.WorkerWarn("worker %s terminal transition rejected: %v", w.cfg.ID, transErr)
		return
	}

	w.emitTerminal(next)
}

func (w *Worker) setLiveStatus(s string) {
	w.mu.Lock()
	w.liveStatus = s
	w.mu.Unlock()
	w.bus.Emit(registry.StatusUpdate{Worker: ids.ProcessId(w.cfg.ID), Status: s, At: time.Now()})
}

// RecordToolStarted increments the Worker's tool invocation counter and
// emits a ToolStarted event for the Status Projection.
func (w *Worker) RecordToolStarted(toolName string) {
	w.toolCalls.Add(1)
	w.bus.Emit(registry.ToolStarted{Worker: ids.ProcessId(w.cfg.ID), ToolName: toolName, At: time.Now()})
}

// RecordToolCompleted emits a ToolCompleted event.
func (w *Worker) RecordToolCompleted(toolName string) {
	w.bus.Emit(registry.ToolCompleted{Worker: ids.ProcessId(w.cfg.ID), ToolName: toolName, At: time.Now()})
}

// emitTerminal emits exactly one WorkerTerminal event, guarded so a
// subsequent Cancel cannot double-emit (§4.4 terminal handoff,
// Testable Property #10).
func (w *Worker) emitTerminal(state State) {
	if !w.terminalSent.CompareAndSwap(false, true) {
		return
	}
	w.mu.RLock()
	result := w.result
	err := w.err
	w.mu.RUnlock()

	w.bus.Emit(registry.WorkerTerminal{
		Worker: w.cfg.ID,
		Parent: w.cfg.ParentChannel,
		State:  state.String(),
		Result: result.Text,
		Err:    err,
		Notify: w.cfg.Notify,
		At:     time.Now(),
	})
}

// RouteFollowUp delivers a follow-up message to an interactive Worker that
// is WaitingForInput, transitioning it back to Running.
func (w *Worker) RouteFollowUp(ctx context.Context, message string) error {
	if err := w.machine.Transition(StateRunning); err != nil {
		return err
	}
	return w.backend.FollowUp(ctx, message)
}

// SetWaitingForInput transitions an interactive Worker awaiting a
// follow-up message.
func (w *Worker) SetWaitingForInput() error {
	return w.machine.Transition(StateWaitingForInput)
}

// Cancel requests cooperative cancellation. If the Worker has already
// reached a terminal state (including one reached concurrently with this
// call), no duplicate WorkerTerminal event is emitted — the transition
// guard rejects the Cancelled transition and emitTerminal's CAS guard
// additionally prevents any double-send (Testable Property #10, Scenario C).
func (w *Worker) Cancel() {
	w.mu.RLock()
	cancel := w.cancel
	w.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
	w.backend.Cancel()

	if err := w.machine.Transition(StateCancelled); err != nil {
		logging.WorkerDebug("worker %s cancel after terminal: %v", w.cfg.ID, err)
		return
	}
	w.emitTerminal(StateCancelled)
}

// Snapshot is a read-only view of a Worker for the Status Projection.
type Snapshot struct {
	ID         ids.WorkerId
	Task       string
	State      State
	LiveStatus string
	ToolCalls  int32
	StartTime  time.Time
	EndTime    time.Time
	FromBranch bool
}

// Snapshot returns the Worker's current observable state.
func (w *Worker) Snapshot() Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return Snapshot{
		ID:         w.cfg.ID,
		Task:       w.cfg.Task,
		State:      w.machine.Current(),
		LiveStatus: w.liveStatus,
		ToolCalls:  w.toolCalls.Load(),
		StartTime:  w.startTime,
		EndTime:    w.endTime,
		FromBranch: w.cfg.FromBranch,
	}
}
