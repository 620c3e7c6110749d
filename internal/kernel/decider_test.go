package kernel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spacebot-ai/spacebot/internal/branch"
	"github.com/spacebot-ai/spacebot/internal/channel"
	"github.com/spacebot-ai/spacebot/internal/llmclient"
	"github.com/spacebot-ai/spacebot/internal/toolsurface"
)

// scriptedClient replays one CompleteResult (or error) per call, in order.
type scriptedClient struct {
	results []llmclient.CompleteResult
	errs    []error
	calls   int
}

func (c *scriptedClient) Complete(ctx context.Context, req llmclient.CompleteRequest) (llmclient.CompleteResult, error) {
	i := c.calls
	c.calls++
	var err error
	if i < len(c.errs) {
		err = c.errs[i]
	}
	if i < len(c.results) {
		return c.results[i], err
	}
	return llmclient.CompleteResult{}, err
}

func TestParseDecisionExtractsTrailingJSONObject(t *testing.T) {
	text := "Sure, here is my decision:\n```json\n{\"op\": \"reply\", \"args\": {\"text\": \"hi\"}, \"done\": true}\n```"
	dec, err := parseDecision(text)
	require.NoError(t, err)
	assert.Equal(t, "reply", dec.Op)
	assert.True(t, dec.Done)
	assert.Equal(t, "hi", dec.Args["text"])
}

func TestParseDecisionFailsOnNoJSON(t *testing.T) {
	_, err := parseDecision("no json here at all")
	assert.Error(t, err)
}

func TestChannelDeciderMapsReplyOp(t *testing.T) {
	client := &scriptedClient{results: []llmclient.CompleteResult{
		{Done: true, FinalText: `{"op": "reply", "text": "hello there", "done": true}`},
	}}
	d := NewChannelDecider(client)

	inv, err := d.Decide(context.Background(), channel.TurnInput{
		History:      []channel.ChatTurn{{Kind: channel.TurnUserInput, Content: "hi"}},
		PendingInput: "hi",
	})
	require.NoError(t, err)
	assert.Equal(t, toolsurface.ChannelOpReply, inv.ChannelOp)
	assert.Equal(t, "hello there", inv.Args["text"])
}

func TestChannelDeciderFallsBackToReplyOnUnparseableCompletion(t *testing.T) {
	client := &scriptedClient{results: []llmclient.CompleteResult{
		{Done: true, FinalText: "just plain prose, no json"},
	}}
	d := NewChannelDecider(client)

	inv, err := d.Decide(context.Background(), channel.TurnInput{})
	require.NoError(t, err)
	assert.Equal(t, toolsurface.ChannelOpReply, inv.ChannelOp)
	assert.Equal(t, "just plain prose, no json", inv.Args["text"])
}

func TestChannelDeciderUnknownOpFallsBackToSkip(t *testing.T) {
	client := &scriptedClient{results: []llmclient.CompleteResult{
		{Done: true, FinalText: `{"op": "not_a_real_op", "done": true}`},
	}}
	d := NewChannelDecider(client)

	inv, err := d.Decide(context.Background(), channel.TurnInput{})
	require.NoError(t, err)
	assert.Equal(t, toolsurface.ChannelOpSkip, inv.ChannelOp)
}

func TestBranchDeciderMapsDoneDecision(t *testing.T) {
	client := &scriptedClient{results: []llmclient.CompleteResult{
		{Done: true, FinalText: `{"done": true, "text": "the answer is 42", "failed": false}`},
	}}
	d := NewBranchDecider(client, "find the answer")

	dec, err := d.Decide(context.Background(), branch.TurnInput{Task: "find the answer"})
	require.NoError(t, err)
	assert.True(t, dec.Done)
	assert.Equal(t, "the answer is 42", dec.Text)
	assert.False(t, dec.Failed)
}

func TestBranchDeciderMapsOpDecision(t *testing.T) {
	client := &scriptedClient{results: []llmclient.CompleteResult{
		{Done: true, FinalText: `{"op": "memory_recall", "args": {"query": "prior context"}, "done": false}`},
	}}
	d := NewBranchDecider(client, "task")

	dec, err := d.Decide(context.Background(), branch.TurnInput{Task: "task"})
	require.NoError(t, err)
	assert.False(t, dec.Done)
	assert.Equal(t, toolsurface.BranchOpMemoryRecall, dec.Op)
	assert.Equal(t, "prior context", dec.Args["query"])
}

func TestBranchDeciderFallsBackToDoneOnUnparseableCompletion(t *testing.T) {
	client := &scriptedClient{results: []llmclient.CompleteResult{
		{Done: true, FinalText: "the answer, informally, is 42"},
	}}
	d := NewBranchDecider(client, "task")

	dec, err := d.Decide(context.Background(), branch.TurnInput{Task: "task"})
	require.NoError(t, err)
	assert.True(t, dec.Done)
	assert.Equal(t, "the answer, informally, is 42", dec.Text)
}
