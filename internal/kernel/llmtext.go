package kernel

import (
	"context"
	"fmt"
	"strings"

	"github.com/spacebot-ai/spacebot/internal/llmclient"
	"github.com/spacebot-ai/spacebot/internal/memory"
)

// Summarizer is an LLM-backed compactor.Summarizer: it condenses a slice of
// rendered history lines into prose within the provider's single-step
// completion budget.
type Summarizer struct {
	client llmclient.Client
}

// NewSummarizer constructs a compaction Summarizer over an llmclient.Client.
func NewSummarizer(client llmclient.Client) *Summarizer {
	return &Summarizer{client: client}
}

// Summarize implements compactor.Summarizer.
func (s *Summarizer) Summarize(ctx context.Context, turns []string) (string, error) {
	res, err := s.client.Complete(ctx, llmclient.CompleteRequest{
		SystemPrompt: "Condense the following conversation turns into a short, factual summary a continuing conversation can rely on in place of the originals. Respond with plain prose only.",
		History:      []llmclient.Turn{{Role: llmclient.RoleUser, Text: strings.Join(turns, "\n")}},
		MaxSteps:      1,
	})
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	return res.FinalText, nil
}

// budgetExhausted wraps a partial synthesis so cortex.partialText's
// error-chain walk can recover it (§9.1: "a partial bulletin beats no
// bulletin").
type budgetExhausted struct {
	partial string
	cause   error
}

func (e *budgetExhausted) Error() string      { return fmt.Sprintf("bulletin synthesis budget exhausted: %v", e.cause) }
func (e *budgetExhausted) Unwrap() error      { return e.cause }
func (e *budgetExhausted) PartialText() string { return e.partial }

// Synthesizer is an LLM-backed cortex.Synthesizer: it turns the Cortex's
// per-kind recall results into bulletin prose within a word budget.
type Synthesizer struct {
	client llmclient.Client
}

// NewSynthesizer constructs a bulletin Synthesizer over an llmclient.Client.
func NewSynthesizer(client llmclient.Client) *Synthesizer {
	return &Synthesizer{client: client}
}

// Synthesize implements cortex.Synthesizer.
func (s *Synthesizer) Synthesize(ctx context.Context, recalled map[memory.Kind][]memory.RecallResult, maxWords int) (string, error) {
	var b strings.Builder
	for _, kind := range memory.AllKinds {
		results, ok := recalled[kind]
		if !ok || len(results) == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s:\n", kind)
		for _, r := range results {
			fmt.Fprintf(&b, "- %s\n", r.Memory.Content)
		}
	}
	if b.Len() == 0 {
		return "", nil
	}

	res, err := s.client.Complete(ctx, llmclient.CompleteRequest{
		SystemPrompt: fmt.Sprintf("Synthesize the following recalled memories into a single bulletin of at most %d words: a standing briefing the agent can re-read before any conversation. Respond with plain prose only.", maxWords),
		History:      []llmclient.Turn{{Role: llmclient.RoleUser, Text: b.String()}},
		MaxSteps:      1,
	})
	if err != nil {
		if budgetErr, ok := llmclient.AsBudgetExhausted(err); ok {
			return "", &budgetExhausted{partial: budgetErr.PartialText, cause: err}
		}
		return "", fmt.Errorf("synthesize bulletin: %w", err)
	}
	return res.FinalText, nil
}
