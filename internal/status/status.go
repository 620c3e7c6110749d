// Package status implements the Status Projection (§4.7): a read-only,
// lazily computed view over live Worker state, recently-finished Workers
// and still-running Branches, rendered fresh per Channel turn and never
// persisted. Finished Branches are left out.
package status

import (
	"time"

	"github.com/spacebot-ai/spacebot/internal/ids"
	"github.com/spacebot-ai/spacebot/internal/worker"
)

// BranchStatus is one Branch's visibility-relevant state.
type BranchStatus struct {
	ID        ids.BranchId
	StartedAt time.Time
	Done      bool
}

// Block is the rendered projection for a single Channel turn.
type Block struct {
	ActiveWorkers         []worker.Snapshot
	RecentTerminalWorkers []worker.Snapshot
	VisibleBranches       []BranchStatus
}

// Projection computes Blocks from raw process state. It holds only
// configuration, never process state itself — every Compute call is a
// pure function of its arguments (§4.7: "never stored, generated fresh").
type Projection struct {
	BranchVisibilityDelay   time.Duration
	TerminalRetentionWindow time.Duration
}

// Compute builds a Block from the current set of Worker snapshots and
// Branch statuses as of now.
func (p Projection) Compute(now time.Time, workers []worker.Snapshot, branches []BranchStatus) Block {
	var block Block

	for _, w := range workers {
		if w.State.IsTerminal() {
			if now.Sub(w.EndTime) <= p.TerminalRetentionWindow {
				block.RecentTerminalWorkers = append(block.RecentTerminalWorkers, w)
			}
			continue
		}
		// A Branch-spawned Worker whose elapsed time is below the
		// visibility threshold is omitted, so a trivially-fast Branch
		// task never flickers into the active-workers list (§4.7:
		// "Workers whose elapsed time is below a visibility threshold
		// for Branches... are omitted").
		if w.FromBranch && now.Sub(w.StartTime) < p.BranchVisibilityDelay {
			continue
		}
		block.ActiveWorkers = append(block.ActiveWorkers, w)
	}

	for _, b := range branches {
		if b.Done {
			continue
		}
		// A Branch that just started is held back from the projection
		// for BranchVisibilityDelay, so a Branch that concludes almost
		// immediately never flickers into view (§4.7 visibility delay).
		if now.Sub(b.StartedAt) < p.BranchVisibilityDelay {
			continue
		}
		block.VisibleBranches = append(block.VisibleBranches, b)
	}

	return block
}
