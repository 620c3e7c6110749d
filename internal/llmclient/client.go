// Package llmclient abstracts the LLM provider (§6 External Interfaces)
// behind Client.Complete, which takes a system prompt, history, tools and
// a step budget and returns one CompleteResult per call, with a typed
// error taxonomy. Complete does not stream: no events are delivered while
// a call is in progress.
package llmclient

import (
	"context"
)

// Role is a chat turn's speaker.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// Turn is one message in an LLM conversation.
type Turn struct {
	Role    Role
	Text    string
	ToolName string // set when Role == RoleTool
}

// ToolSpec describes one callable tool exposed to the LLM for one step.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]any
}

// CompleteRequest is one call to the provider.
type CompleteRequest struct {
	SystemPrompt string
	History      []Turn
	Tools        []ToolSpec
	MaxSteps     int
}

// CompleteResult is the provider's response to one CompleteRequest.
type CompleteResult struct {
	Turns      []Turn // new turns produced by this call (assistant text, tool calls/results)
	Done       bool   // true once the agent has produced a final answer
	FinalText  string
	StatusHint string // free-text live status, e.g. "calling tool: shell"
}

// Client is the kernel's abstraction over an LLM provider.
type Client interface {
	Complete(ctx context.Context, req CompleteRequest) (CompleteResult, error)
}
