package toolsurface

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChannelOpStringCoversEveryValue(t *testing.T) {
	ops := []ChannelOp{
		ChannelOpReply, ChannelOpSpawnBranch, ChannelOpSpawnWorker,
		ChannelOpRouteFollowUp, ChannelOpCancelWorkerOrBranch, ChannelOpReact, ChannelOpSkip,
	}
	for _, op := range ops {
		assert.NotEqual(t, "unknown", op.String())
	}
	assert.Equal(t, "unknown", ChannelOp(999).String())
}

func TestBranchOpStringCoversEveryValue(t *testing.T) {
	ops := []BranchOp{BranchOpMemoryRecall, BranchOpMemorySave, BranchOpSpawnWorker, BranchOpChannelRecall}
	for _, op := range ops {
		assert.NotEqual(t, "unknown", op.String())
	}
	assert.Equal(t, "unknown", BranchOp(999).String())
}

func TestCortexOpStringCoversEveryValue(t *testing.T) {
	ops := []CortexOp{CortexOpMemoryRecall, CortexOpMemorySave}
	for _, op := range ops {
		assert.NotEqual(t, "unknown", op.String())
	}
	assert.Equal(t, "unknown", CortexOp(999).String())
}
