// Package branch implements the Branch process (§4.3): a bounded-step
// reasoning fork over a snapshot of a Channel's history, terminating in
// exactly one result delivered back to its parent Channel.
package branch

import (
	"context"
	"fmt"
	"sync"

	"github.com/spacebot-ai/spacebot/internal/ids"
	"github.com/spacebot-ai/spacebot/internal/kernelerr"
	"github.com/spacebot-ai/spacebot/internal/logging"
	"github.com/spacebot-ai/spacebot/internal/memory"
	"github.com/spacebot-ai/spacebot/internal/registry"
	"github.com/spacebot-ai/spacebot/internal/toolsurface"
)

// defaultMaxSteps bounds how many tool invocations a Branch may make
// before it is forced to conclude with whatever it has (§4.3 step budget).
const defaultMaxSteps = 12

// MemoryRecaller is the Branch-permitted half of the Memory Pipeline's
// recall surface (§4.8: Branch is one of two permitted recall callers).
type MemoryRecaller interface {
	Recall(ctx context.Context, caller memory.Caller, query string, filter memory.RecallFilter, limit int) ([]memory.RecallResult, error)
}

// MemorySaver is the Branch-permitted half of the Memory Pipeline's save
// surface (§4.8: Branch is one of three permitted save callers).
type MemorySaver interface {
	Save(ctx context.Context, caller memory.Caller, m *memory.Memory) error
}

// WorkerSpawner starts a Worker from within a Branch (BranchOpSpawnWorker).
// A distinct method name from channel.WorkerSpawner lets the spawner mark
// the Worker as Branch-spawned (§4.7 visibility threshold for Branches).
type WorkerSpawner interface {
	SpawnBranchWorker(ctx context.Context, channel ids.ChannelId, task string, interactive bool) (ids.WorkerId, error)
}

// Config bundles one Branch's collaborators.
type Config struct {
	ID              ids.BranchId
	Channel         ids.ChannelId
	Task            string
	HistorySnapshot []string
	MaxSteps        int

	Decider  Decider
	Recaller MemoryRecaller
	Saver    MemorySaver
	Workers  WorkerSpawner
}

// Branch runs one bounded reasoning fork to a single conclusion.
type Branch struct {
	cfg Config
	bus *registry.Registry

	mu    sync.Mutex
	notes []string
}

// New constructs a Branch. It does not start running until Run is called.
func New(cfg Config, bus *registry.Registry) *Branch {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = defaultMaxSteps
	}
	return &Branch{cfg: cfg, bus: bus}
}

// Run executes the bounded decision loop to completion and returns the
// conclusion text (or an error describing why the Branch failed or was
// cancelled). The caller is responsible for emitting exactly one
// registry.BranchResult from the returned outcome.
func (b *Branch) Run(ctx context.Context) (string, error) {
	log := logging.Get(logging.CategoryBranch)

	for step := 0; step < b.cfg.MaxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("branch %s cancelled: %w", b.cfg.ID, kernelerr.ErrCancelled)
		}

		b.mu.Lock()
		notes := append([]string(nil), b.notes...)
		b.mu.Unlock()

		decision, err := b.cfg.Decider.Decide(ctx, TurnInput{
			Task:            b.cfg.Task,
			HistorySnapshot: b.cfg.HistorySnapshot,
			Notes:           notes,
		})
		if err != nil {
			if ctx.Err() != nil {
				return "", fmt.Errorf("branch %s cancelled: %w", b.cfg.ID, kernelerr.ErrCancelled)
			}
			return "", fmt.Errorf("branch %s decision failed: %w", b.cfg.ID, err)
		}

		if decision.Done {
			if decision.Failed {
				return decision.Text, fmt.Errorf("branch %s concluded with failure", b.cfg.ID)
			}
			return decision.Text, nil
		}

		if err := b.applyStep(ctx, decision); err != nil {
			log.Warn("branch %s step %s failed: %v", b.cfg.ID, decision.Op, err)
		}
	}

	return "", fmt.Errorf("branch %s exhausted step budget: %w", b.cfg.ID, kernelerr.ErrBudgetExhausted)
}

func (b *Branch) applyStep(ctx context.Context, d Decision) error {
	switch d.Op {
	case toolsurface.BranchOpMemoryRecall:
		query, _ := d.Args["query"].(string)
		if b.cfg.Recaller == nil {
			return fmt.Errorf("no memory recaller configured")
		}
		results, err := b.cfg.Recaller.Recall(ctx, memory.CallerBranch, query, memory.RecallFilter{}, 10)
		if err != nil {
			return err
		}
		b.mu.Lock()
		for _, r := range results {
			b.notes = append(b.notes, r.Memory.Content)
		}
		b.mu.Unlock()
		return nil

	case toolsurface.BranchOpMemorySave:
		content, _ := d.Args["content"].(string)
		kind, _ := d.Args["kind"].(string)
		importance, _ := d.Args["importance"].(float64)
		if b.cfg.Saver == nil {
			return fmt.Errorf("no memory saver configured")
		}
		userAssociation, _ := d.Args["user_association"].(string)
		m := &memory.Memory{
			ID:              ids.NewMemoryId(),
			Content:         content,
			Kind:            memory.Kind(kind),
			Importance:      importance,
			SourceChannel:   string(b.cfg.Channel),
			UserAssociation: userAssociation,
		}
		return b.cfg.Saver.Save(ctx, memory.CallerBranch, m)

	case toolsurface.BranchOpSpawnWorker:
		task, _ := d.Args["task"].(string)
		interactive, _ := d.Args["interactive"].(bool)
		if b.cfg.Workers == nil {
			return fmt.Errorf("no worker spawner configured")
		}
		_, err := b.cfg.Workers.SpawnBranchWorker(ctx, b.cfg.Channel, task, interactive)
		return err

	case toolsurface.BranchOpChannelRecall:
		b.mu.Lock()
		b.notes = append(b.notes, b.cfg.HistorySnapshot...)
		b.mu.Unlock()
		return nil

	default:
		return fmt.Errorf("unhandled branch op %s", d.Op)
	}
}
