package channel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spacebot-ai/spacebot/internal/ids"
	"github.com/spacebot-ai/spacebot/internal/registry"
	"github.com/spacebot-ai/spacebot/internal/toolsurface"
)

type fakeSeen struct {
	mu  sync.Mutex
	set map[string]bool
}

func newFakeSeen() *fakeSeen { return &fakeSeen{set: make(map[string]bool)} }

func (f *fakeSeen) HasSeen(ctx context.Context, channel ids.ChannelId, inboundID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.set[string(channel)+":"+inboundID], nil
}

func (f *fakeSeen) MarkSeen(ctx context.Context, channel ids.ChannelId, inboundID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.set[string(channel)+":"+inboundID] = true
	return nil
}

// replyDecider always replies immediately with a fixed text, after an
// optional artificial delay to let callers observe coalescing.
type replyDecider struct {
	delay chan struct{}
	calls chan TurnInput
}

func (d *replyDecider) Decide(ctx context.Context, in TurnInput) (toolsurface.Invocation, error) {
	if d.calls != nil {
		d.calls <- in
	}
	if d.delay != nil {
		<-d.delay
	}
	return toolsurface.Invocation{ChannelOp: toolsurface.ChannelOpReply, Args: map[string]any{"text": "ack"}}, nil
}

func newTestChannel(decider Decider, seen SeenInboundStore) *Channel {
	bus := registry.New()
	proc, _ := bus.Register(context.Background(), registry.KindChannel, "")
	return New(ids.ChannelId("test:chan"), proc, bus, Config{Decider: decider, Seen: seen})
}

type fakeNotifier struct {
	mu        sync.Mutex
	delivered []string
}

func (n *fakeNotifier) Deliver(ctx context.Context, channelID ids.ChannelId, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.delivered = append(n.delivered, text)
	return nil
}

func (n *fakeNotifier) texts() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.delivered...)
}

func TestHandleInboundDeliversReplyThroughNotifier(t *testing.T) {
	bus := registry.New()
	proc, _ := bus.Register(context.Background(), registry.KindChannel, "")
	notifier := &fakeNotifier{}
	c := New(ids.ChannelId("test:chan"), proc, bus, Config{
		Decider:  &replyDecider{},
		Notifier: notifier,
	})

	require.NoError(t, c.HandleInbound(context.Background(), Inbound{ID: "msg-1", Content: "hello"}))

	require.Eventually(t, func() bool {
		return len(notifier.texts()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"ack"}, notifier.texts())
}

func TestHandleInboundDropsDuplicateID(t *testing.T) {
	seen := newFakeSeen()
	d := &replyDecider{}
	c := newTestChannel(d, seen)

	require.NoError(t, c.HandleInbound(context.Background(), Inbound{ID: "msg-1", Content: "hello"}))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, c.HandleInbound(context.Background(), Inbound{ID: "msg-1", Content: "hello again"}))
	time.Sleep(20 * time.Millisecond)

	turns := c.HistorySnapshot()
	count := 0
	for _, t := range turns {
		if t.Kind == TurnUserInput {
			count++
		}
	}
	assert.Equal(t, 1, count, "duplicate inbound id must not create a second turn")
}

func TestHandleInboundCoalescesWhileTurnInFlight(t *testing.T) {
	delay := make(chan struct{})
	calls := make(chan TurnInput, 4)
	d := &replyDecider{delay: delay, calls: calls}
	c := newTestChannel(d, nil)

	require.NoError(t, c.HandleInbound(context.Background(), Inbound{ID: "a", Content: "first"}))
	<-calls // decider is now blocked inside the first turn

	require.NoError(t, c.HandleInbound(context.Background(), Inbound{ID: "b", Content: "second"}))
	require.NoError(t, c.HandleInbound(context.Background(), Inbound{ID: "c", Content: "third"}))

	close(delay) // let the first turn's decider proceed and reply

	// second + third should coalesce into exactly one more turn.
	select {
	case in := <-calls:
		assert.Contains(t, in.PendingInput, "second")
		assert.Contains(t, in.PendingInput, "third")
	case <-time.After(time.Second):
		t.Fatal("expected coalesced turn to run")
	}

	time.Sleep(20 * time.Millisecond)
	turns := c.HistorySnapshot()
	userTurns := 0
	for _, tn := range turns {
		if tn.Kind == TurnUserInput {
			userTurns++
		}
	}
	assert.Equal(t, 2, userTurns, "concurrent inbound messages must coalesce into a single subsequent turn")
}

func TestInjectBranchResultIsIdempotent(t *testing.T) {
	c := newTestChannel(&replyDecider{}, nil)

	c.InjectBranchResult(ids.BranchId("b-1"), "done", false)
	c.InjectBranchResult(ids.BranchId("b-1"), "done again", false)

	turns := c.HistorySnapshot()
	count := 0
	for _, t := range turns {
		if t.Kind == TurnBranchConclusion && t.BranchID == "b-1" {
			count++
		}
	}
	assert.Equal(t, 1, count, "a branch conclusion must be incorporated exactly once")
}

func TestHandleWorkerTerminalAppendsNotice(t *testing.T) {
	c := newTestChannel(&replyDecider{}, nil)
	c.HandleWorkerTerminal(ids.WorkerId("w-1"), "done", "result text", true)

	turns := c.HistorySnapshot()
	require.Len(t, turns, 1)
	assert.Equal(t, TurnWorkerTerminalNotice, turns[0].Kind)
	assert.Contains(t, turns[0].Content, "result text")
}

func TestHandleWorkerTerminalSkipsNoticeWhenNotNotifying(t *testing.T) {
	c := newTestChannel(&replyDecider{}, nil)
	c.HandleWorkerTerminal(ids.WorkerId("w-1"), "done", "result text", false)

	turns := c.HistorySnapshot()
	assert.Empty(t, turns, "a Worker spawned without notify must not surface a terminal notice")
}

func TestInjectBranchResultStartsTurnWhenIdle(t *testing.T) {
	calls := make(chan TurnInput, 2)
	notifier := &fakeNotifier{}
	bus := registry.New()
	proc, _ := bus.Register(context.Background(), registry.KindChannel, "")
	c := New(ids.ChannelId("test:chan"), proc, bus, Config{
		Decider:  &replyDecider{calls: calls},
		Notifier: notifier,
	})

	c.InjectBranchResult(ids.BranchId("b-1"), "branch is done", false)

	select {
	case in := <-calls:
		assert.Contains(t, in.History[len(in.History)-1].Content, "branch is done")
	case <-time.After(time.Second):
		t.Fatal("expected a branch conclusion arriving while idle to start a turn")
	}

	require.Eventually(t, func() bool {
		return len(notifier.texts()) == 1
	}, time.Second, 10*time.Millisecond)
}
