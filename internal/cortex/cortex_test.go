package cortex

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spacebot-ai/spacebot/internal/memory"
	"github.com/spacebot-ai/spacebot/internal/registry"
)

type fakeRecaller struct {
	calls map[memory.Kind]int
}

func newFakeRecaller() *fakeRecaller { return &fakeRecaller{calls: make(map[memory.Kind]int)} }

func (f *fakeRecaller) Recall(ctx context.Context, caller memory.Caller, query string, filter memory.RecallFilter, limit int) ([]memory.RecallResult, error) {
	f.calls[filter.Kind]++
	return []memory.RecallResult{{Memory: &memory.Memory{Content: string(filter.Kind)}, Score: 1}}, nil
}

type echoSynthesizer struct{}

func (echoSynthesizer) Synthesize(ctx context.Context, recalled map[memory.Kind][]memory.RecallResult, maxWords int) (string, error) {
	return fmt.Sprintf("bulletin covering %d kinds", len(recalled)), nil
}

func TestGenerateAndPublishRecallsEveryKind(t *testing.T) {
	bus := registry.New()
	recaller := newFakeRecaller()
	c := New(bus, recaller, nil, echoSynthesizer{}, Settings{})

	require.NoError(t, c.generateAndPublish(context.Background()))

	assert.Len(t, recaller.calls, len(memory.AllKinds))
	for _, kind := range memory.AllKinds {
		assert.Equal(t, 1, recaller.calls[kind])
	}

	b := c.Current()
	require.NotNil(t, b)
	assert.False(t, b.Partial)
}

type budgetExhaustedError struct {
	partial string
}

func (e *budgetExhaustedError) Error() string       { return "budget exhausted" }
func (e *budgetExhaustedError) PartialText() string { return e.partial }

type partialSynthesizer struct{}

func (partialSynthesizer) Synthesize(ctx context.Context, recalled map[memory.Kind][]memory.RecallResult, maxWords int) (string, error) {
	return "", &budgetExhaustedError{partial: "partial bulletin text"}
}

func TestGenerateAndPublishPublishesPartialBulletinOnBudgetExhaustion(t *testing.T) {
	bus := registry.New()
	c := New(bus, newFakeRecaller(), nil, partialSynthesizer{}, Settings{})

	require.NoError(t, c.generateAndPublish(context.Background()))

	b := c.Current()
	require.NotNil(t, b)
	assert.True(t, b.Partial)
	assert.Equal(t, "partial bulletin text", b.Text)
}

type failingSynthesizer struct{}

func (failingSynthesizer) Synthesize(ctx context.Context, recalled map[memory.Kind][]memory.RecallResult, maxWords int) (string, error) {
	return "", fmt.Errorf("model unavailable")
}

func TestBulletinNeverRegressesToNilAfterAFailedRun(t *testing.T) {
	bus := registry.New()
	c := New(bus, newFakeRecaller(), nil, echoSynthesizer{}, Settings{})

	require.NoError(t, c.generateAndPublish(context.Background()))
	first := c.Current()
	require.NotNil(t, first)

	c.synthesizer = failingSynthesizer{}
	err := c.generateAndPublish(context.Background())
	assert.Error(t, err)

	// Testable Property #7: bulletin monotonic availability.
	assert.NotNil(t, c.Current())
	assert.Equal(t, first.Text, c.Current().Text)
}

func TestSignalBufferDropsOldestPastCapacity(t *testing.T) {
	var buf SignalBuffer
	buf.cap = 2
	buf.Push("a")
	buf.Push("b")
	buf.Push("c")

	items := buf.Drain()
	assert.Equal(t, []string{"b", "c"}, items)
	assert.Empty(t, buf.Drain())
}

func TestRunPublishesBulletinDuringStartup(t *testing.T) {
	bus := registry.New()
	c := New(bus, newFakeRecaller(), nil, echoSynthesizer{}, Settings{Interval: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	c.Run(ctx)

	assert.NotNil(t, c.Current())
}

func TestObserveBuffersWorkerAndBranchSignals(t *testing.T) {
	bus := registry.New()
	c := New(bus, newFakeRecaller(), nil, echoSynthesizer{}, Settings{})

	c.observe(registry.WorkerTerminal{State: "done", Result: "built the thing\nextra detail"})
	c.observe(registry.BranchResult{Conclusion: "investigation complete"})
	c.observe(registry.BranchResult{Conclusion: "ran out of budget", Err: fmt.Errorf("boom")})
	c.observe(registry.ToolStarted{ToolName: "irrelevant"})

	signals := c.signals.Drain()
	require.Len(t, signals, 3, "ToolStarted carries no signal worth buffering")
	assert.Contains(t, signals[0], "built the thing")
	assert.NotContains(t, signals[0], "extra detail", "only the first line of a result is kept")
	assert.Contains(t, signals[1], "investigation complete")
	assert.Contains(t, signals[2], "branch failed")
}

func TestRunFeedsBusEventsToSignalBuffer(t *testing.T) {
	bus := registry.New()
	c := New(bus, newFakeRecaller(), nil, echoSynthesizer{}, Settings{Interval: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	go c.Run(ctx)
	time.Sleep(20 * time.Millisecond) // let observeLoop subscribe

	bus.Emit(registry.WorkerTerminal{State: "done", Result: "task finished"})

	require.Eventually(t, func() bool {
		return len(c.signals.Drain()) > 0
	}, time.Second, 10*time.Millisecond, "a worker terminal event on the bus should reach the signal buffer")
}
