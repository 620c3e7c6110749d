package channel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spacebot-ai/spacebot/internal/ids"
	"github.com/spacebot-ai/spacebot/internal/logging"
	"github.com/spacebot-ai/spacebot/internal/registry"
	"github.com/spacebot-ai/spacebot/internal/toolsurface"
)

// maxTurnSteps bounds how many tool invocations a single turn may make
// before the Channel forces a reply, mirroring the Branch step budget
// (§4.3) applied to the Channel's own decision loop.
const maxTurnSteps = 8

// Inbound is one externally-arriving message, keyed by a platform-supplied
// idempotency id so retried deliveries coalesce instead of duplicating.
type Inbound struct {
	ID         string
	SenderID   string
	Content    string
	ReceivedAt time.Time
}

// SeenInboundStore persists the idempotency keys of inbound messages this
// Channel has already accepted, so a redelivered message is dropped
// instead of re-entering history (§9 "Open question — duplicate inbound
// idempotency key", resolved: persist and check before enqueueing).
type SeenInboundStore interface {
	HasSeen(ctx context.Context, channelID ids.ChannelId, inboundID string) (bool, error)
	MarkSeen(ctx context.Context, channelID ids.ChannelId, inboundID string) error
}

// BranchSpawner starts a Branch against this Channel's current history
// without blocking the caller (§4.2 "non-blocking spawn rule").
type BranchSpawner interface {
	SpawnBranch(ctx context.Context, channel ids.ChannelId, task string) (ids.BranchId, error)
}

// WorkerSpawner starts a Worker, optionally interactive, without blocking.
type WorkerSpawner interface {
	SpawnWorker(ctx context.Context, channel ids.ChannelId, task string, interactive bool) (ids.WorkerId, error)
}

// ProcessCanceller cancels a previously spawned Branch or Worker.
type ProcessCanceller interface {
	Cancel(id ids.ProcessId)
}

// FollowUpRouter delivers a follow-up message to a running, interactive
// Worker (§4.2 ChannelOpRouteFollowUp).
type FollowUpRouter interface {
	RouteFollowUp(ctx context.Context, worker ids.WorkerId, message string) error
}

// OutboundNotifier delivers a Channel's agent reply to whatever external
// adapter this Channel's platform is wired to (§6.1). A Channel never
// imports the adapter package directly; the kernel wires a concrete
// implementation in at construction time.
type OutboundNotifier interface {
	Deliver(ctx context.Context, channelID ids.ChannelId, text string) error
}

// Channel is the single serialization point for one external conversation
// (§4.2). All mutation of its History, and all decisions about what to do
// with an inbound message, happen on its single turn-processing goroutine.
type Channel struct {
	id        ids.ChannelId
	processID ids.ProcessId
	bus       *registry.Registry

	decider  Decider
	seen     SeenInboundStore
	branches BranchSpawner
	workers  WorkerSpawner
	cancels  ProcessCanceller
	router   FollowUpRouter
	notifier OutboundNotifier

	mu           sync.Mutex
	history      History
	pending      []Inbound
	turnInFlight bool
	turnCancel   context.CancelFunc

	trackedBranches map[ids.BranchId]struct{}
	trackedWorkers  map[ids.WorkerId]struct{}

	log *logging.Logger
}

// Config bundles a Channel's collaborators.
type Config struct {
	Decider  Decider
	Seen     SeenInboundStore
	Branches BranchSpawner
	Workers  WorkerSpawner
	Cancels  ProcessCanceller
	Router   FollowUpRouter
	Notifier OutboundNotifier
}

// New constructs a Channel registered under bus with parent registry entry
// processID.
func New(id ids.ChannelId, processID ids.ProcessId, bus *registry.Registry, cfg Config) *Channel {
	return &Channel{
		id:              id,
		processID:       processID,
		bus:             bus,
		decider:         cfg.Decider,
		seen:            cfg.Seen,
		branches:        cfg.Branches,
		workers:         cfg.Workers,
		cancels:         cfg.Cancels,
		router:          cfg.Router,
		notifier:        cfg.Notifier,
		trackedBranches: make(map[ids.BranchId]struct{}),
		trackedWorkers:  make(map[ids.WorkerId]struct{}),
		log:             logging.Get(logging.CategoryChannel),
	}
}

// ID returns the Channel's identity.
func (c *Channel) ID() ids.ChannelId { return c.id }

// HistorySnapshot returns a copy of the current turn history.
func (c *Channel) HistorySnapshot() []ChatTurn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.history.Turns()
}

// RenderedHistory renders the current history as plain text lines, for
// consumers (Branch spawn, Compactor summarization) that don't need the
// structured ChatTurn representation.
func (c *Channel) RenderedHistory() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	rendered := make([]string, 0, len(c.history.turns))
	for _, t := range c.history.turns {
		rendered = append(rendered, string(t.Kind)+": "+t.Content)
	}
	return rendered
}

// HistoryLen reports the current turn count, for Compactor pressure
// evaluation.
func (c *Channel) HistoryLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.history.Len()
}

// LeadingSummaryCount reports how many CompactionSummary turns already
// sit at the head of history, left there by earlier compaction passes.
func (c *Channel) LeadingSummaryCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.history.LeadingSummaryCount()
}

// ApplyCompactionSummary atomically swaps the oldest replacedCount turns
// for a single CompactionSummary turn (§4.5 "atomic swap-in at a
// channel-scoped rendezvous point" — that rendezvous point is this
// Channel's own mutex).
func (c *Channel) ApplyCompactionSummary(summary string, replacedCount int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history.ReplaceWithSummary(ChatTurn{
		Kind:      TurnCompactionSummary,
		Content:   summary,
		CreatedAt: time.Now(),
	}, replacedCount)
}

// EmergencyTruncate synchronously drops the oldest count non-summary
// turns and reports how many were actually dropped (§4.5 emergency tier:
// programmatic truncation, no Worker spawn, bounded by construction).
func (c *Channel) EmergencyTruncate(count int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.history.TruncateOldest(count)
}

// HandleInbound accepts one externally-arriving message. If a turn is
// already in flight, the message coalesces into the pending queue and is
// folded into the next turn rather than starting a concurrent one (§4.2
// "coalesces concurrent inbound messages into a single subsequent turn").
// If no turn is in flight, it starts one. Duplicate ids are dropped.
func (c *Channel) HandleInbound(ctx context.Context, in Inbound) error {
	if c.seen != nil {
		seen, err := c.seen.HasSeen(ctx, c.id, in.ID)
		if err != nil {
			return fmt.Errorf("check seen inbound: %w", err)
		}
		if seen {
			c.log.Debug("dropping duplicate inbound %s for channel %s", in.ID, c.id)
			return nil
		}
		if err := c.seen.MarkSeen(ctx, c.id, in.ID); err != nil {
			return fmt.Errorf("mark seen inbound: %w", err)
		}
	}

	c.mu.Lock()
	c.pending = append(c.pending, in)
	shouldSpawn := !c.turnInFlight
	if shouldSpawn {
		c.turnInFlight = true
	}
	c.mu.Unlock()

	if shouldSpawn {
		go c.runTurn(context.Background())
	}
	return nil
}

// CancelInFlight cancels whatever turn is currently executing, if any
// (§4.2 ChannelOpCancelWorkerOrBranch at the Channel's own level, and the
// general "cancel in flight" capability).
func (c *Channel) CancelInFlight() {
	c.mu.Lock()
	cancel := c.turnCancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// InjectBranchResult appends a BranchConclusion turn once a spawned
// Branch completes, guarded against duplicate insertion for the same
// branch id (Testable Property #2: each Branch's result is incorporated
// exactly once, respecting arrival order — it is simply appended when it
// arrives). If the Channel is idle when the conclusion arrives, this
// starts a turn so the decider acts on it immediately instead of waiting
// for the next inbound message.
func (c *Channel) InjectBranchResult(branch ids.BranchId, conclusion string, failed bool) {
	c.mu.Lock()
	if c.history.HasBranchConclusion(string(branch)) {
		c.mu.Unlock()
		return
	}
	content := conclusion
	if failed {
		content = "branch failed: " + conclusion
	}
	c.history.Append(ChatTurn{
		Kind:      TurnBranchConclusion,
		Content:   content,
		CreatedAt: time.Now(),
		BranchID:  string(branch),
	})
	delete(c.trackedBranches, branch)
	c.mu.Unlock()

	c.kickTurn()
}

// HandleWorkerTerminal appends a notice turn when a spawned Worker reaches
// a terminal state the Worker was spawned to report (notify=true), so the
// Channel's next turn sees the outcome. A non-interactive Worker spawned
// without notify completes silently; its terminal event still clears
// trackedWorkers bookkeeping.
func (c *Channel) HandleWorkerTerminal(worker ids.WorkerId, state string, result string, notify bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if notify {
		c.history.Append(ChatTurn{
			Kind:      TurnWorkerTerminalNotice,
			Content:   fmt.Sprintf("worker %s: %s", state, result),
			CreatedAt: time.Now(),
			WorkerID:  string(worker),
		})
	}
	delete(c.trackedWorkers, worker)
}

// runTurn drains the coalesced pending queue into one user turn and runs
// the bounded decision loop. turnInFlight is already true on entry: the
// caller (HandleInbound, or runDecisionLoop's respawn) sets it in the
// same critical section that decides to spawn, so two calls can never
// race past that guard into concurrent decision loops.
func (c *Channel) runTurn(parent context.Context) {
	c.mu.Lock()
	if len(c.pending) == 0 {
		c.turnInFlight = false
		c.mu.Unlock()
		return
	}
	batch := c.pending
	c.pending = nil
	ctx, cancel := context.WithCancel(parent)
	c.turnCancel = cancel
	c.mu.Unlock()

	var combined string
	for i, in := range batch {
		if i > 0 {
			combined += "\n"
		}
		combined += in.Content
	}
	sender := batch[len(batch)-1].SenderID

	c.mu.Lock()
	c.history.Append(ChatTurn{
		Kind:      TurnUserInput,
		Content:   combined,
		CreatedAt: time.Now(),
		SenderID:  sender,
	})
	c.mu.Unlock()

	c.runDecisionLoop(ctx, cancel, combined)
}

// kickTurn starts a turn against the Channel's current history with no
// new pending input, for results (e.g. a Branch conclusion) that arrive
// while the Channel is idle and must still reach the decider without
// waiting for the next inbound message. A no-op if a turn is already in
// flight, since that turn's own history snapshot will already include
// whatever was just appended.
func (c *Channel) kickTurn() {
	c.mu.Lock()
	if c.turnInFlight {
		c.mu.Unlock()
		return
	}
	c.turnInFlight = true
	ctx, cancel := context.WithCancel(context.Background())
	c.turnCancel = cancel
	c.mu.Unlock()

	go c.runDecisionLoop(ctx, cancel, "")
}

// runDecisionLoop runs the bounded decision loop, then releases
// turnInFlight — respawning immediately, still under the flag, if more
// inbound messages coalesced while it ran.
func (c *Channel) runDecisionLoop(ctx context.Context, cancel context.CancelFunc, pendingInput string) {
	defer func() {
		c.mu.Lock()
		hasMore := len(c.pending) > 0
		if !hasMore {
			c.turnInFlight = false
		}
		c.turnCancel = nil
		c.mu.Unlock()
		cancel()
		if hasMore {
			go c.runTurn(context.Background())
		}
	}()

	for step := 0; step < maxTurnSteps; step++ {
		if ctx.Err() != nil {
			return
		}

		c.mu.Lock()
		snapshot := c.history.Turns()
		c.mu.Unlock()

		invocation, err := c.decider.Decide(ctx, TurnInput{History: snapshot, PendingInput: pendingInput})
		if err != nil {
			c.log.Warn("channel %s turn decision failed: %v", c.id, err)
			return
		}

		done := c.applyInvocation(ctx, invocation)
		if done {
			return
		}
	}
	c.log.Debug("channel %s turn exhausted step budget", c.id)
}

// applyInvocation executes one ChannelOp and reports whether the turn is
// now complete.
func (c *Channel) applyInvocation(ctx context.Context, inv toolsurface.Invocation) bool {
	switch inv.ChannelOp {
	case toolsurface.ChannelOpReply:
		text, _ := inv.Args["text"].(string)
		c.mu.Lock()
		c.history.Append(ChatTurn{Kind: TurnAgentReply, Content: text, CreatedAt: time.Now()})
		c.mu.Unlock()
		if c.notifier != nil {
			if err := c.notifier.Deliver(ctx, c.id, text); err != nil {
				c.log.Warn("channel %s reply delivery failed: %v", c.id, err)
			}
		}
		return true

	case toolsurface.ChannelOpSkip:
		return true

	case toolsurface.ChannelOpSpawnBranch:
		task, _ := inv.Args["task"].(string)
		if c.branches != nil {
			id, err := c.branches.SpawnBranch(ctx, c.id, task)
			if err != nil {
				c.log.Warn("channel %s spawn branch failed: %v", c.id, err)
			} else {
				c.mu.Lock()
				c.trackedBranches[id] = struct{}{}
				c.mu.Unlock()
			}
		}
		return false

	case toolsurface.ChannelOpSpawnWorker:
		task, _ := inv.Args["task"].(string)
		interactive, _ := inv.Args["interactive"].(bool)
		if c.workers != nil {
			id, err := c.workers.SpawnWorker(ctx, c.id, task, interactive)
			if err != nil {
				c.log.Warn("channel %s spawn worker failed: %v", c.id, err)
			} else {
				c.mu.Lock()
				c.trackedWorkers[id] = struct{}{}
				c.mu.Unlock()
			}
		}
		return false

	case toolsurface.ChannelOpRouteFollowUp:
		workerID, _ := inv.Args["worker_id"].(string)
		message, _ := inv.Args["message"].(string)
		if c.router != nil {
			if err := c.router.RouteFollowUp(ctx, ids.WorkerId(workerID), message); err != nil {
				c.log.Warn("channel %s follow-up routing failed: %v", c.id, err)
			}
		}
		return false

	case toolsurface.ChannelOpCancelWorkerOrBranch:
		targetID, _ := inv.Args["id"].(string)
		if c.cancels != nil {
			c.cancels.Cancel(ids.ProcessId(targetID))
		}
		return false

	case toolsurface.ChannelOpReact:
		return false

	default:
		return true
	}
}
