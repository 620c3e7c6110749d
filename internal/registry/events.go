package registry

import (
	"time"

	"github.com/spacebot-ai/spacebot/internal/ids"
)

// ProcessKind tags the five kinds of live process the kernel schedules.
type ProcessKind string

const (
	KindChannel   ProcessKind = "channel"
	KindBranch    ProcessKind = "branch"
	KindWorker    ProcessKind = "worker"
	KindCompactor ProcessKind = "compactor"
	KindCortex    ProcessKind = "cortex"
)

// ProcessEvent is the closed set of events routed through the bus. Event
// payloads are opaque to the registry; only Channel/Cortex consumers
// interpret them.
type ProcessEvent interface {
	// Target returns the ProcessId the event is addressed to, or empty for
	// broadcast events such as UsageReported.
	Target() ids.ProcessId
}

// ToolStarted reports a Worker beginning a tool invocation.
type ToolStarted struct {
	Worker   ids.ProcessId
	ToolName string
	At       time.Time
}

func (e ToolStarted) Target() ids.ProcessId { return e.Worker }

// ToolCompleted reports a Worker finishing a tool invocation.
type ToolCompleted struct {
	Worker   ids.ProcessId
	ToolName string
	At       time.Time
}

func (e ToolCompleted) Target() ids.ProcessId { return e.Worker }

// StatusUpdate reports a Worker's free-text live status line.
type StatusUpdate struct {
	Worker ids.ProcessId
	Status string
	At     time.Time
}

func (e StatusUpdate) Target() ids.ProcessId { return e.Worker }

// TextDelta reports an incremental text chunk produced by a Worker or
// Channel turn, for streaming adapters.
type TextDelta struct {
	Source ids.ProcessId
	Chunk  string
}

func (e TextDelta) Target() ids.ProcessId { return e.Source }

// BranchResult carries a finished Branch's conclusion (or error) back to
// its parent Channel.
type BranchResult struct {
	Branch     ids.ProcessId
	Parent     ids.ProcessId
	Conclusion string
	Err        error
}

func (e BranchResult) Target() ids.ProcessId { return e.Parent }

// WorkerTerminal carries a finished Worker's outcome back to its parent
// Channel.
type WorkerTerminal struct {
	Worker  ids.WorkerId
	Parent  ids.ProcessId
	State   string
	Result  string
	Err     error
	Notify  bool
	At      time.Time
}

func (e WorkerTerminal) Target() ids.ProcessId { return e.Parent }

// ChannelTurnCompleted reports a Channel finishing one turn. No kernel
// component emits or consumes it; Channel does not publish it on the bus.
type ChannelTurnCompleted struct {
	Channel ids.ProcessId
	TurnSeq int
	At      time.Time
}

func (e ChannelTurnCompleted) Target() ids.ProcessId { return e.Channel }

// UsageReported is a broadcast accounting event; Target is empty.
type UsageReported struct {
	Source      ids.ProcessId
	InputTokens int
	OutputTokens int
}

func (e UsageReported) Target() ids.ProcessId { return "" }
