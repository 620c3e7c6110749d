package kernel

import (
	"context"

	"github.com/spacebot-ai/spacebot/internal/adapter"
	"github.com/spacebot-ai/spacebot/internal/ids"
)

// adapterNotifier adapts an adapter.Adapter into a channel.OutboundNotifier,
// wrapping a Channel's plain reply text as an adapter.Text event.
type adapterNotifier struct {
	adapter adapter.Adapter
}

func newAdapterNotifier(a adapter.Adapter) *adapterNotifier {
	return &adapterNotifier{adapter: a}
}

// Deliver implements channel.OutboundNotifier.
func (n *adapterNotifier) Deliver(ctx context.Context, channelID ids.ChannelId, text string) error {
	return n.adapter.Deliver(ctx, string(channelID), adapter.Text{Content: text})
}
