package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func turn(kind TurnKind, content string) ChatTurn {
	return ChatTurn{Kind: kind, Content: content}
}

func TestReplaceWithSummaryDropsOldestAndInsertsAtHead(t *testing.T) {
	var h History
	h.Append(turn(TurnUserInput, "a"))
	h.Append(turn(TurnAgentReply, "b"))
	h.Append(turn(TurnUserInput, "c"))

	h.ReplaceWithSummary(turn(TurnCompactionSummary, "summary of a+b"), 2)

	turns := h.Turns()
	assert.Len(t, turns, 2)
	assert.Equal(t, TurnCompactionSummary, turns[0].Kind)
	assert.Equal(t, "c", turns[1].Content)
}

func TestReplaceWithSummaryStacksBehindExistingSummaries(t *testing.T) {
	var h History
	h.Append(turn(TurnCompactionSummary, "s1"))
	h.Append(turn(TurnUserInput, "a"))
	h.Append(turn(TurnAgentReply, "b"))
	h.Append(turn(TurnUserInput, "c"))

	h.ReplaceWithSummary(turn(TurnCompactionSummary, "s2"), 2)

	turns := h.Turns()
	assert.Len(t, turns, 3)
	assert.Equal(t, "s1", turns[0].Content, "an existing summary must survive untouched")
	assert.Equal(t, "s2", turns[1].Content, "the new summary is inserted immediately before the turns it replaces")
	assert.Equal(t, "c", turns[2].Content)
}

func TestTruncateOldestPreservesCompactionSummaries(t *testing.T) {
	var h History
	h.Append(turn(TurnCompactionSummary, "s1"))
	h.Append(turn(TurnUserInput, "a"))
	h.Append(turn(TurnAgentReply, "b"))
	h.Append(turn(TurnUserInput, "c"))

	dropped := h.TruncateOldest(2)

	assert.Equal(t, 2, dropped)
	turns := h.Turns()
	assert.Equal(t, TurnCompactionSummary, turns[0].Kind)
	assert.Equal(t, "c", turns[len(turns)-1].Content)
}

func TestHasBranchConclusionDetectsExistingEntry(t *testing.T) {
	var h History
	h.Append(ChatTurn{Kind: TurnBranchConclusion, BranchID: "b-1"})

	assert.True(t, h.HasBranchConclusion("b-1"))
	assert.False(t, h.HasBranchConclusion("b-2"))
}
