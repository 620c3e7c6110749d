package kernel

import (
	"github.com/spacebot-ai/spacebot/internal/branch"
	"github.com/spacebot-ai/spacebot/internal/ids"
	"github.com/spacebot-ai/spacebot/internal/registry"
)

// canceller implements channel.ProcessCanceller by resolving a Channel's
// cancel target against whichever of Branch or Worker actually owns that
// public id, falling back to cancelling the bus-registered process
// directly when neither owns it (§4.2 ChannelOpCancelWorkerOrBranch).
type canceller struct {
	bus      *registry.Registry
	branches *branch.Supervisor
	workers  *WorkerHub
}

func newCanceller(bus *registry.Registry, branches *branch.Supervisor, workers *WorkerHub) *canceller {
	return &canceller{bus: bus, branches: branches, workers: workers}
}

// Cancel implements channel.ProcessCanceller.
func (c *canceller) Cancel(id ids.ProcessId) {
	if c.branches != nil && c.branches.CancelBranch(ids.BranchId(id)) {
		return
	}
	if c.workers != nil && c.workers.CancelWorker(ids.WorkerId(id)) {
		return
	}
	c.bus.Cancel(id)
}
