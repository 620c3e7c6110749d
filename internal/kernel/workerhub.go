package kernel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spacebot-ai/spacebot/internal/ids"
	"github.com/spacebot-ai/spacebot/internal/llmclient"
	"github.com/spacebot-ai/spacebot/internal/logging"
	"github.com/spacebot-ai/spacebot/internal/registry"
	"github.com/spacebot-ai/spacebot/internal/worker"
)

// BackendFactory builds the Backend a freshly spawned Worker should run
// with, given its task and whether it was spawned interactively.
type BackendFactory func(task string, interactive bool) worker.Backend

// WorkerHub spawns Workers against the shared bus and routes follow-ups and
// cancellations back to them by public WorkerId, satisfying
// channel.WorkerSpawner, channel.FollowUpRouter, and branch.WorkerSpawner
// structurally (§4.4).
type WorkerHub struct {
	bus      *registry.Registry
	backends BackendFactory
	timeout  time.Duration

	mu             sync.Mutex
	live           map[ids.WorkerId]*worker.Worker
	channelProcess map[ids.ChannelId]ids.ProcessId
}

// NewWorkerHub constructs a WorkerHub. timeout, when positive, overrides
// worker.DefaultConfig's per-Worker execution budget.
func NewWorkerHub(bus *registry.Registry, backends BackendFactory, timeout time.Duration) *WorkerHub {
	return &WorkerHub{
		bus:            bus,
		backends:       backends,
		timeout:        timeout,
		live:           make(map[ids.WorkerId]*worker.Worker),
		channelProcess: make(map[ids.ChannelId]ids.ProcessId),
	}
}

// RegisterChannel records the ProcessId a Channel was assigned at
// registration, so WorkerTerminal events for its Workers route to the
// right registry subscriber (mirrors branch.Supervisor.RegisterChannel).
func (h *WorkerHub) RegisterChannel(channel ids.ChannelId, processID ids.ProcessId) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.channelProcess[channel] = processID
}

func (h *WorkerHub) resolveChannelProcess(channel ids.ChannelId) ids.ProcessId {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p, ok := h.channelProcess[channel]; ok {
		return p
	}
	return ids.ProcessId(channel)
}

// SpawnWorker implements channel.WorkerSpawner: a Worker spawned directly
// from a Channel turn. It starts the Worker on its own goroutine and
// returns immediately; the calling Channel turn is never blocked on Worker
// execution (§4.2 "non-blocking spawn rule").
func (h *WorkerHub) SpawnWorker(ctx context.Context, channel ids.ChannelId, task string, interactive bool) (ids.WorkerId, error) {
	return h.spawn(ctx, channel, task, interactive, false)
}

// SpawnBranchWorker implements branch.WorkerSpawner: a Worker spawned from
// within a Branch step (BranchOpSpawnWorker). Otherwise identical to
// SpawnWorker; the distinct method lets the Status Projection tell
// Branch-spawned Workers apart from directly-spawned ones (§4.7 visibility
// threshold for Branches).
func (h *WorkerHub) SpawnBranchWorker(ctx context.Context, channel ids.ChannelId, task string, interactive bool) (ids.WorkerId, error) {
	return h.spawn(ctx, channel, task, interactive, true)
}

func (h *WorkerHub) spawn(ctx context.Context, channel ids.ChannelId, task string, interactive, fromBranch bool) (ids.WorkerId, error) {
	if h.backends == nil {
		return "", fmt.Errorf("worker hub: no backend factory configured")
	}

	parent := h.resolveChannelProcess(channel)
	cfg := worker.DefaultConfig(task, parent)
	cfg.Interactive = interactive
	cfg.Notify = interactive
	cfg.FromBranch = fromBranch
	if h.timeout > 0 {
		cfg.Timeout = h.timeout
	}

	backend := h.backends(task, interactive)
	w := worker.New(cfg, backend, h.bus)

	h.mu.Lock()
	h.live[cfg.ID] = w
	h.mu.Unlock()

	go func() {
		defer func() {
			h.mu.Lock()
			delete(h.live, cfg.ID)
			h.mu.Unlock()
		}()
		w.Run(context.Background())
	}()

	return cfg.ID, nil
}

// RouteFollowUp implements channel.FollowUpRouter, delivering message to a
// live, WaitingForInput Worker.
func (h *WorkerHub) RouteFollowUp(ctx context.Context, workerID ids.WorkerId, message string) error {
	h.mu.Lock()
	w, ok := h.live[workerID]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("worker %s not live", workerID)
	}
	return w.RouteFollowUp(ctx, message)
}

// CancelWorker cancels a live Worker identified by its public WorkerId.
// Reports whether a live Worker was found.
func (h *WorkerHub) CancelWorker(id ids.WorkerId) bool {
	h.mu.Lock()
	w, ok := h.live[id]
	h.mu.Unlock()
	if !ok {
		return false
	}
	w.Cancel()
	return true
}

// DefaultBackendFactory builds an LLMAgentBackend for every Worker,
// grounded on the teacher's SubAgent construction — the subprocess backend
// remains available for callers that want to wire a command-based Worker
// explicitly instead. A nil toolSpecs falls back to worker.DefaultToolCatalog.
func DefaultBackendFactory(client llmclient.Client, toolSpecs []llmclient.ToolSpec, maxSteps int) BackendFactory {
	if toolSpecs == nil {
		toolSpecs = worker.ToolSpecs(worker.DefaultToolCatalog())
	}
	return func(task string, interactive bool) worker.Backend {
		logging.WorkerDebug("spawning llm-backed worker for task %q (interactive=%v)", task, interactive)
		return worker.NewLLMAgentBackend(client, toolSpecs, maxSteps)
	}
}
