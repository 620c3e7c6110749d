package kernel

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spacebot-ai/spacebot/internal/llmclient"
	"github.com/spacebot-ai/spacebot/internal/memory"
)

func TestSummarizeJoinsTurnsAndReturnsFinalText(t *testing.T) {
	client := &scriptedClient{results: []llmclient.CompleteResult{
		{Done: true, FinalText: "a short summary"},
	}}
	s := NewSummarizer(client)

	out, err := s.Summarize(context.Background(), []string{"user: hi", "agent: hello"})
	require.NoError(t, err)
	assert.Equal(t, "a short summary", out)
}

func TestSynthesizeReturnsEmptyWhenNothingRecalled(t *testing.T) {
	client := &scriptedClient{}
	s := NewSynthesizer(client)

	out, err := s.Synthesize(context.Background(), map[memory.Kind][]memory.RecallResult{}, 200)
	require.NoError(t, err)
	assert.Equal(t, "", out)
	assert.Equal(t, 0, client.calls)
}

func TestSynthesizeWrapsBudgetExhaustedWithPartialText(t *testing.T) {
	client := &scriptedClient{errs: []error{
		&llmclient.MaxStepsError{PartialText: "partial bulletin text"},
	}}
	s := NewSynthesizer(client)

	recalled := map[memory.Kind][]memory.RecallResult{
		memory.KindFact: {{Memory: &memory.Memory{Content: "something recalled"}}},
	}

	_, err := s.Synthesize(context.Background(), recalled, 200)
	require.Error(t, err)

	var carrier partialTextCarrier
	require.ErrorAs(t, err, &carrier)
	assert.Equal(t, "partial bulletin text", carrier.PartialText())
}

func TestSynthesizeWrapsOtherErrorsPlainly(t *testing.T) {
	client := &scriptedClient{errs: []error{errors.New("boom")}}
	s := NewSynthesizer(client)

	recalled := map[memory.Kind][]memory.RecallResult{
		memory.KindFact: {{Memory: &memory.Memory{Content: "x"}}},
	}

	_, err := s.Synthesize(context.Background(), recalled, 200)
	require.Error(t, err)
	var carrier partialTextCarrier
	assert.False(t, errors.As(err, &carrier))
}

// partialTextCarrier mirrors cortex's unexported interface so this test can
// assert budgetExhausted satisfies the same shape without importing cortex.
type partialTextCarrier interface {
	PartialText() string
}
