// Package compactor implements the tiered context-pressure responses of
// §4.5: a soft/hard tier that spawns a bounded compaction Worker to
// produce a summary, and an emergency tier that truncates synchronously.
package compactor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spacebot-ai/spacebot/internal/ids"
	"github.com/spacebot-ai/spacebot/internal/logging"
	"github.com/spacebot-ai/spacebot/internal/memory"
	"github.com/spacebot-ai/spacebot/internal/registry"
)

// Tier is the closed set of pressure responses (§4.5).
type Tier int

const (
	TierNone Tier = iota
	TierSoft
	TierHard
	TierEmergency
)

// Target is the Channel surface a Compactor acts on. channel.Channel
// satisfies this interface structurally.
type Target interface {
	RenderedHistory() []string
	HistoryLen() int
	LeadingSummaryCount() int
	ApplyCompactionSummary(summary string, replacedCount int)
	EmergencyTruncate(count int) int
}

// Summarizer produces a compaction summary from a slice of rendered
// history lines, within a time budget.
type Summarizer interface {
	Summarize(ctx context.Context, turns []string) (string, error)
}

// Thresholds mirrors config.CompactorConfig, decoupled from the config
// package so this package stays independently testable.
type Thresholds struct {
	Soft               float64
	Hard               float64
	Emergency          float64
	SoftSummarizeShare float64
	HardSummarizeShare float64
	WorkerBudget       time.Duration
}

// Compactor evaluates one Channel's pressure and drives the appropriate
// tiered response, enforcing at most one in-flight compaction Worker per
// Channel (§4.5 invariant).
type Compactor struct {
	bus        *registry.Registry
	thresholds Thresholds
	summarizer Summarizer
	saver      MemorySaver

	mu     sync.Mutex
	active map[ids.ChannelId]bool
}

// MemorySaver is the compaction-Worker-permitted half of the Memory
// Pipeline's save surface (§4.8: compaction Worker is one of three
// permitted save callers).
type MemorySaver interface {
	Save(ctx context.Context, caller memory.Caller, m *memory.Memory) error
}

// New constructs a Compactor.
func New(bus *registry.Registry, thresholds Thresholds, summarizer Summarizer, saver MemorySaver) *Compactor {
	return &Compactor{
		bus:        bus,
		thresholds: thresholds,
		summarizer: summarizer,
		saver:      saver,
		active:     make(map[ids.ChannelId]bool),
	}
}

// ClassifyTier maps a pressure ratio in [0,1] to a response tier.
func (t Thresholds) ClassifyTier(pressure float64) Tier {
	switch {
	case pressure >= t.Emergency:
		return TierEmergency
	case pressure >= t.Hard:
		return TierHard
	case pressure >= t.Soft:
		return TierSoft
	default:
		return TierNone
	}
}

// Evaluate inspects pressure and, if it crosses a threshold, drives the
// matching response against channel. For TierSoft/TierHard it spawns a
// compaction Worker asynchronously (the call returns immediately); for
// TierEmergency it truncates synchronously before returning.
func (c *Compactor) Evaluate(ctx context.Context, channelID ids.ChannelId, target Target, pressure float64) error {
	tier := c.thresholds.ClassifyTier(pressure)

	switch tier {
	case TierNone:
		return nil

	case TierEmergency:
		currentLen := target.HistoryLen()
		count := emergencyTruncateCount(currentLen, pressure, c.thresholds.Hard)
		dropped := target.EmergencyTruncate(count)
		logging.Get(logging.CategoryCompactor).Warn("channel %s emergency truncation dropped %d turns", channelID, dropped)
		return nil

	case TierSoft, TierHard:
		return c.spawnCompactionWorker(ctx, channelID, target, tier)

	default:
		return fmt.Errorf("unknown compactor tier %d", tier)
	}
}

// emergencyTruncateCount computes how many oldest turns to drop so that
// post-truncation utilization falls to or below threshold_hard, assuming
// pressure scales linearly with turn count (the only relationship the
// Target interface exposes). currentLen/pressure gives the implied history
// length at pressure 1.0, so hard*(currentLen/pressure) is the turn count
// at which utilization would equal hard; the gap between that and
// currentLen is the drop count. Always drops at least one turn so an
// emergency tier call makes forward progress, and never more than exist.
func emergencyTruncateCount(currentLen int, pressure, hard float64) int {
	if currentLen <= 0 {
		return 0
	}
	if pressure <= 0 || hard <= 0 || hard >= pressure {
		return currentLen
	}
	targetLen := int(hard / pressure * float64(currentLen))
	drop := currentLen - targetLen
	if drop < 1 {
		drop = 1
	}
	if drop > currentLen {
		drop = currentLen
	}
	return drop
}

func (c *Compactor) spawnCompactionWorker(ctx context.Context, channelID ids.ChannelId, target Target, tier Tier) error {
	c.mu.Lock()
	if c.active[channelID] {
		c.mu.Unlock()
		return nil // at most one compaction Worker per Channel (§4.5 invariant)
	}
	c.active[channelID] = true
	c.mu.Unlock()

	processID, workerCtx := c.bus.Register(context.Background(), registry.KindCompactor, ids.ProcessId(channelID))

	go func() {
		defer func() {
			c.mu.Lock()
			c.active[channelID] = false
			c.mu.Unlock()
			c.bus.Deregister(processID)
		}()

		budget := c.thresholds.WorkerBudget
		if budget <= 0 {
			budget = 5 * time.Minute
		}
		runCtx, cancel := context.WithTimeout(workerCtx, budget)
		defer cancel()

		// Turns already folded into an earlier summary sit at the head and
		// are never re-summarized or replaced; only the tail behind them
		// is eligible, so summaries stack chronologically instead of the
		// newest absorbing the previous ones' text.
		turns := target.RenderedHistory()
		leading := target.LeadingSummaryCount()
		tail := turns[leading:]
		replaced := summarizeTarget(len(tail), tier, c.thresholds)

		summary, err := c.summarizer.Summarize(runCtx, tail[:replaced])
		if err != nil {
			logging.Get(logging.CategoryCompactor).Warn("channel %s compaction failed: %v", channelID, err)
			return
		}

		if c.saver != nil {
			m := &memory.Memory{
				ID:            ids.NewMemoryId(),
				Content:       summary,
				Kind:          memory.KindEvent,
				Importance:    0.3,
				SourceChannel: string(channelID),
			}
			if err := c.saver.Save(runCtx, memory.CallerCompactionWorker, m); err != nil {
				logging.Get(logging.CategoryCompactor).Warn("channel %s failed to archive compaction summary: %v", channelID, err)
			}
		}

		target.ApplyCompactionSummary(summary, replaced)
	}()

	return nil
}

// summarizeTarget decides how many of the oldest turns a single
// compaction pass replaces, per the tier's summarize-share target.
func summarizeTarget(totalTurns int, tier Tier, th Thresholds) int {
	share := th.SoftSummarizeShare
	if tier == TierHard {
		share = th.HardSummarizeShare
	}
	if share <= 0 {
		share = 0.3
	}
	n := int(float64(totalTurns) * share)
	if n < 1 {
		n = 1
	}
	if n > totalTurns {
		n = totalTurns
	}
	return n
}
