package channel

import (
	"context"

	"github.com/spacebot-ai/spacebot/internal/toolsurface"
)

// TurnInput is what a Decider sees when asked for the next step of a turn.
type TurnInput struct {
	History      []ChatTurn
	PendingInput string
	LiveStatus   string // a rendered Status Projection snapshot, or "".
}

// Decider chooses the next ChannelOp for a running turn. The LLM-backed
// implementation lives outside this package (it composes llmclient.Client
// with the ChannelOp tool surface); this package depends only on the
// interface so turn serialization and coalescing can be tested without a
// real model.
type Decider interface {
	Decide(ctx context.Context, in TurnInput) (toolsurface.Invocation, error)
}
