package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/spacebot-ai/spacebot/internal/kernelerr"
	"github.com/spacebot-ai/spacebot/internal/llmclient"
)

// LLMAgentBackend is the built-in Worker backend: a bounded-step LLM
// agent loop with shell/file/exec/browser-style tools supplied by the
// caller, grounded on the teacher's SubAgent.execute loop.
type LLMAgentBackend struct {
	client   llmclient.Client
	tools    []llmclient.ToolSpec
	maxSteps int

	mu        sync.Mutex
	history   []llmclient.Turn
	followUps chan string
	cancel    context.CancelFunc
}

// NewLLMAgentBackend constructs an LLM-driven backend.
func NewLLMAgentBackend(client llmclient.Client, tools []llmclient.ToolSpec, maxSteps int) *LLMAgentBackend {
	return &LLMAgentBackend{
		client:    client,
		tools:     tools,
		maxSteps:  maxSteps,
		followUps: make(chan string, 1),
	}
}

// Execute runs the bounded-step agent loop to completion.
func (b *LLMAgentBackend) Execute(ctx context.Context, task string, onStatus func(string)) (Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	b.cancel = cancel
	b.history = append(b.history, llmclient.Turn{Role: llmclient.RoleUser, Text: task})
	b.mu.Unlock()
	defer cancel()

	onStatus("thinking")

	for step := 0; step < b.maxSteps; step++ {
		select {
		case <-ctx.Done():
			return Result{}, fmt.Errorf("worker cancelled: %w", kernelerr.ErrCancelled)
		default:
		}

		b.mu.Lock()
		snapshot := append([]llmclient.Turn(nil), b.history...)
		b.mu.Unlock()

		stepResult, err := b.client.Complete(ctx, llmclient.CompleteRequest{
			History:  snapshot,
			Tools:    b.tools,
			MaxSteps: 1,
		})
		if err != nil {
			if budgetErr, ok := llmclient.AsBudgetExhausted(err); ok {
				return Result{Text: budgetErr.PartialText}, fmt.Errorf("worker step budget exhausted: %w", kernelerr.ErrBudgetExhausted)
			}
			return Result{}, fmt.Errorf("llm step failed: %w", err)
		}

		b.mu.Lock()
		b.history = append(b.history, stepResult.Turns...)
		b.mu.Unlock()

		if stepResult.Done {
			return Result{Text: stepResult.FinalText}, nil
		}

		onStatus(stepResult.StatusHint)
	}

	return Result{}, fmt.Errorf("worker exceeded max steps (%d): %w", b.maxSteps, kernelerr.ErrBudgetExhausted)
}

// FollowUp queues a follow-up message for the next step of the agent loop.
func (b *LLMAgentBackend) FollowUp(ctx context.Context, message string) error {
	b.mu.Lock()
	b.history = append(b.history, llmclient.Turn{Role: llmclient.RoleUser, Text: message})
	b.mu.Unlock()
	return nil
}

// Cancel stops the agent loop at its next checkpoint.
func (b *LLMAgentBackend) Cancel() {
	b.mu.Lock()
	cancel := b.cancel
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
