package kernel

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spacebot-ai/spacebot/internal/branch"
	"github.com/spacebot-ai/spacebot/internal/channel"
	"github.com/spacebot-ai/spacebot/internal/llmclient"
	"github.com/spacebot-ai/spacebot/internal/toolsurface"
)

// decision is the wire shape an LLM-backed Decider expects back from the
// model: one op from the caller's closed surface, its free-form args, and
// whether this is the turn/branch's final word.
type decision struct {
	Op     string         `json:"op"`
	Args   map[string]any `json:"args"`
	Done   bool           `json:"done"`
	Text   string         `json:"text"`
	Failed bool           `json:"failed"`
}

// parseDecision extracts the trailing JSON object from an LLM completion.
// Models reliably wrap JSON in prose or code fences despite instruction, so
// this takes the span from the first `{` to the last `}` rather than
// requiring the whole response to parse.
func parseDecision(text string) (decision, error) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < start {
		return decision{}, fmt.Errorf("no JSON object found in completion")
	}
	var d decision
	if err := json.Unmarshal([]byte(text[start:end+1]), &d); err != nil {
		return decision{}, fmt.Errorf("decode decision: %w", err)
	}
	return d, nil
}

const channelSystemPrompt = `You are the decision loop for one conversation channel in an always-on agent.
Respond with exactly one JSON object: {"op": "<op>", "args": {...}, "done": bool, "text": "..."}.
Available ops: reply, spawn_branch, spawn_worker, route_follow_up, cancel_worker_or_branch, react, skip.
Use "reply" with args.text to answer the user and end the turn (done=true).
Use "spawn_branch" with args.task to fork a bounded background investigation without ending the turn.
Use "spawn_worker" with args.task and args.interactive to start a long-running task.
Use "skip" to end the turn without replying.`

var channelOpByName = map[string]toolsurface.ChannelOp{
	"reply":                   toolsurface.ChannelOpReply,
	"spawn_branch":            toolsurface.ChannelOpSpawnBranch,
	"spawn_worker":            toolsurface.ChannelOpSpawnWorker,
	"route_follow_up":         toolsurface.ChannelOpRouteFollowUp,
	"cancel_worker_or_branch": toolsurface.ChannelOpCancelWorkerOrBranch,
	"react":                   toolsurface.ChannelOpReact,
	"skip":                    toolsurface.ChannelOpSkip,
}

// ChannelDecider is an LLM-backed channel.Decider, grounded on the
// teacher's chat-completion loop (worker.LLMAgentBackend.Execute) but
// collapsed to a single-step closed-JSON protocol since the Channel
// surface is a small tagged-variant set rather than open tool calls.
type ChannelDecider struct {
	client llmclient.Client
}

// NewChannelDecider constructs a ChannelDecider over an llmclient.Client.
func NewChannelDecider(client llmclient.Client) *ChannelDecider {
	return &ChannelDecider{client: client}
}

// Decide implements channel.Decider.
func (d *ChannelDecider) Decide(ctx context.Context, in channel.TurnInput) (toolsurface.Invocation, error) {
	history := make([]llmclient.Turn, 0, len(in.History)+1)
	for _, t := range in.History {
		role := llmclient.RoleUser
		if t.Kind == channel.TurnAgentReply {
			role = llmclient.RoleAssistant
		}
		history = append(history, llmclient.Turn{Role: role, Text: t.Content})
	}

	res, err := d.client.Complete(ctx, llmclient.CompleteRequest{
		SystemPrompt: channelSystemPrompt,
		History:      history,
		MaxSteps:      1,
	})
	if err != nil {
		return toolsurface.Invocation{}, fmt.Errorf("channel decider completion: %w", err)
	}

	dec, err := parseDecision(res.FinalText)
	if err != nil {
		// Treat an unparseable completion as a plain reply rather than
		// failing the turn outright.
		return toolsurface.Invocation{
			ChannelOp: toolsurface.ChannelOpReply,
			Args:      map[string]any{"text": res.FinalText},
		}, nil
	}

	op, ok := channelOpByName[dec.Op]
	if !ok {
		op = toolsurface.ChannelOpSkip
	}
	args := dec.Args
	if args == nil {
		args = map[string]any{}
	}
	if op == toolsurface.ChannelOpReply && dec.Text != "" {
		args["text"] = dec.Text
	}
	return toolsurface.Invocation{ChannelOp: op, Args: args}, nil
}

var branchOpByName = map[string]toolsurface.BranchOp{
	"memory_recall":  toolsurface.BranchOpMemoryRecall,
	"memory_save":    toolsurface.BranchOpMemorySave,
	"spawn_worker":   toolsurface.BranchOpSpawnWorker,
	"channel_recall": toolsurface.BranchOpChannelRecall,
}

const branchSystemPrompt = `You are one bounded background investigation forked from a conversation.
Respond with exactly one JSON object: {"op": "<op>", "args": {...}, "done": bool, "text": "...", "failed": bool}.
Available ops: memory_recall, memory_save, spawn_worker, channel_recall.
Set done=true with text set to your conclusion once you have an answer for the task.
Set failed=true only if you could not complete the task.`

// BranchDecider is an LLM-backed branch.Decider, using the same
// single-step JSON protocol as ChannelDecider but over the Branch's
// smaller tool surface.
type BranchDecider struct {
	client llmclient.Client
	task   string
}

// NewBranchDecider constructs a BranchDecider for one Branch's task. A
// fresh instance is built per Branch (see DeciderFactory), since the task
// is fixed for the Branch's lifetime.
func NewBranchDecider(client llmclient.Client, task string) *BranchDecider {
	return &BranchDecider{client: client, task: task}
}

// Decide implements branch.Decider.
func (d *BranchDecider) Decide(ctx context.Context, in branch.TurnInput) (branch.Decision, error) {
	history := make([]llmclient.Turn, 0, len(in.HistorySnapshot)+len(in.Notes)+1)
	history = append(history, llmclient.Turn{Role: llmclient.RoleUser, Text: "task: " + in.Task})
	for _, line := range in.HistorySnapshot {
		history = append(history, llmclient.Turn{Role: llmclient.RoleUser, Text: line})
	}
	for _, note := range in.Notes {
		history = append(history, llmclient.Turn{Role: llmclient.RoleTool, Text: note})
	}

	res, err := d.client.Complete(ctx, llmclient.CompleteRequest{
		SystemPrompt: branchSystemPrompt,
		History:      history,
		MaxSteps:      1,
	})
	if err != nil {
		return branch.Decision{}, fmt.Errorf("branch decider completion: %w", err)
	}

	dec, err := parseDecision(res.FinalText)
	if err != nil {
		return branch.Decision{Done: true, Text: res.FinalText}, nil
	}

	if dec.Done {
		return branch.Decision{Done: true, Text: dec.Text, Failed: dec.Failed}, nil
	}
	op, ok := branchOpByName[dec.Op]
	if !ok {
		return branch.Decision{Done: true, Text: dec.Text, Failed: true}, nil
	}
	args := dec.Args
	if args == nil {
		args = map[string]any{}
	}
	return branch.Decision{Op: op, Args: args}, nil
}

// BranchDeciderFactory builds a branch.DeciderFactory bound to an
// llmclient.Client, suitable for branch.SupervisorConfig.Deciders.
func BranchDeciderFactory(client llmclient.Client) branch.DeciderFactory {
	return func(task string) branch.Decider {
		return NewBranchDecider(client, task)
	}
}
