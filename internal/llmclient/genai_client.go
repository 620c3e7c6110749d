package llmclient

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/spacebot-ai/spacebot/internal/logging"
)

// GenAIClient implements Client against Google's Gemini API.
type GenAIClient struct {
	client *genai.Client
	model  string
}

// NewGenAIClient constructs a GenAIClient.
func NewGenAIClient(ctx context.Context, apiKey, model string) (*GenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("genai client: API key required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GenAIClient{client: c, model: model}, nil
}

// Complete issues one bounded-step completion request.
func (c *GenAIClient) Complete(ctx context.Context, req CompleteRequest) (CompleteResult, error) {
	timer := logging.StartTimer(logging.CategoryLLM, "Complete")
	defer timer.Stop()

	contents := make([]*genai.Content, 0, len(req.History))
	for _, t := range req.History {
		role := genai.Role(genai.RoleUser)
		if t.Role == RoleAssistant {
			role = genai.Role(genai.RoleModel)
		}
		contents = append(contents, genai.NewContentFromText(t.Text, role))
	}

	cfg := &genai.GenerateContentConfig{}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return CompleteResult{}, classifyGenAIError(err)
	}

	if resp == nil || len(resp.Candidates) == 0 {
		return CompleteResult{}, fmt.Errorf("genai: empty response: %w", ErrTransient)
	}

	text := resp.Text()
	return CompleteResult{
		Turns:     []Turn{{Role: RoleAssistant, Text: text}},
		Done:      true,
		FinalText: text,
	}, nil
}

func classifyGenAIError(err error) error {
	// The genai SDK does not export a stable typed-error hierarchy across
	// versions; classify by message content the way the rest of the
	// kernel's typed taxonomy expects callers to branch with errors.Is.
	msg := err.Error()
	switch {
	case contains(msg, "rate limit", "429", "quota"):
		return fmt.Errorf("genai: %s: %w", msg, ErrRateLimited)
	case contains(msg, "deadline", "timeout", "unavailable"):
		return fmt.Errorf("genai: %s: %w", msg, ErrTransient)
	default:
		return fmt.Errorf("genai: %s: %w", msg, ErrFatal)
	}
}

func contains(s string, substrs ...string) bool {
	s = strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
