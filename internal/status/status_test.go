package status

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/spacebot-ai/spacebot/internal/ids"
	"github.com/spacebot-ai/spacebot/internal/worker"
)

func TestComputeSeparatesActiveFromRecentTerminalWorkers(t *testing.T) {
	now := time.Now()
	p := Projection{TerminalRetentionWindow: time.Minute}

	workers := []worker.Snapshot{
		{ID: ids.WorkerId("w-active"), State: worker.StateRunning},
		{ID: ids.WorkerId("w-recent"), State: worker.StateDone, EndTime: now.Add(-30 * time.Second)},
		{ID: ids.WorkerId("w-stale"), State: worker.StateDone, EndTime: now.Add(-5 * time.Minute)},
	}

	block := p.Compute(now, workers, nil)

	assert.Len(t, block.ActiveWorkers, 1)
	assert.Equal(t, ids.WorkerId("w-active"), block.ActiveWorkers[0].ID)
	assert.Len(t, block.RecentTerminalWorkers, 1)
	assert.Equal(t, ids.WorkerId("w-recent"), block.RecentTerminalWorkers[0].ID)
}

func TestComputeHidesBranchesWithinVisibilityDelay(t *testing.T) {
	now := time.Now()
	p := Projection{BranchVisibilityDelay: 3 * time.Second}

	branches := []BranchStatus{
		{ID: ids.BranchId("b-new"), StartedAt: now.Add(-1 * time.Second)},
		{ID: ids.BranchId("b-old"), StartedAt: now.Add(-10 * time.Second)},
		{ID: ids.BranchId("b-done"), StartedAt: now.Add(-10 * time.Second), Done: true},
	}

	block := p.Compute(now, nil, branches)

	assert.Len(t, block.VisibleBranches, 1)
	assert.Equal(t, ids.BranchId("b-old"), block.VisibleBranches[0].ID)
}

func TestComputeHidesFastBranchSpawnedWorkers(t *testing.T) {
	now := time.Now()
	p := Projection{BranchVisibilityDelay: 3 * time.Second}

	workers := []worker.Snapshot{
		{ID: ids.WorkerId("w-branch-fast"), State: worker.StateRunning, FromBranch: true, StartTime: now.Add(-1 * time.Second)},
		{ID: ids.WorkerId("w-branch-slow"), State: worker.StateRunning, FromBranch: true, StartTime: now.Add(-10 * time.Second)},
		{ID: ids.WorkerId("w-direct-fast"), State: worker.StateRunning, FromBranch: false, StartTime: now.Add(-1 * time.Second)},
	}

	block := p.Compute(now, workers, nil)

	gotIDs := make([]ids.WorkerId, 0, len(block.ActiveWorkers))
	for _, w := range block.ActiveWorkers {
		gotIDs = append(gotIDs, w.ID)
	}
	assert.ElementsMatch(t, []ids.WorkerId{"w-branch-slow", "w-direct-fast"}, gotIDs,
		"a fast Branch-spawned worker is hidden, but a directly-spawned one is never delayed")
}

func TestComputeIsPureAndStateless(t *testing.T) {
	p := Projection{}
	now := time.Now()
	first := p.Compute(now, nil, nil)
	second := p.Compute(now, nil, nil)
	assert.Equal(t, first, second)
}
