package branch

import (
	"context"

	"github.com/spacebot-ai/spacebot/internal/toolsurface"
)

// TurnInput is what a Decider sees at each step of a Branch's bounded loop.
type TurnInput struct {
	Task            string
	HistorySnapshot []string // the forked Channel history at spawn time, rendered
	Notes           []string // results of prior MemoryRecall/ChannelRecall steps this run
}

// Decision is one step of a Branch's execution: either an invocation
// against the BranchOp tool surface, or a final conclusion that ends the
// Branch.
type Decision struct {
	Op     toolsurface.BranchOp
	Args   map[string]any
	Done   bool
	Text   string // the conclusion, when Done is true
	Failed bool
}

// Decider chooses the next step for a running Branch.
type Decider interface {
	Decide(ctx context.Context, in TurnInput) (Decision, error)
}
