package compactor

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spacebot-ai/spacebot/internal/ids"
	"github.com/spacebot-ai/spacebot/internal/memory"
	"github.com/spacebot-ai/spacebot/internal/registry"
)

type fakeTarget struct {
	mu           sync.Mutex
	turns        []string
	summaryCount int
	applied      chan struct{}
}

func newFakeTarget(n int) *fakeTarget {
	turns := make([]string, n)
	for i := range turns {
		turns[i] = "turn"
	}
	return &fakeTarget{turns: turns, applied: make(chan struct{}, 4)}
}

func (f *fakeTarget) RenderedHistory() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.turns...)
}

func (f *fakeTarget) HistoryLen() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.turns)
}

func (f *fakeTarget) LeadingSummaryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.summaryCount
}

// ApplyCompactionSummary mirrors channel.History.ReplaceWithSummary: it
// leaves any turns already summarized by an earlier pass untouched at the
// head and inserts the new summary immediately after them.
func (f *fakeTarget) ApplyCompactionSummary(summary string, replacedCount int) {
	f.mu.Lock()
	start := f.summaryCount
	end := start + replacedCount
	if end > len(f.turns) {
		end = len(f.turns)
	}
	newTurns := make([]string, 0, len(f.turns)-(end-start)+1)
	newTurns = append(newTurns, f.turns[:start]...)
	newTurns = append(newTurns, summary)
	newTurns = append(newTurns, f.turns[end:]...)
	f.turns = newTurns
	f.summaryCount = start + 1
	f.mu.Unlock()
	f.applied <- struct{}{}
}

func (f *fakeTarget) EmergencyTruncate(count int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if count > len(f.turns) {
		count = len(f.turns)
	}
	f.turns = f.turns[count:]
	return count
}

type echoSummarizer struct{}

func (echoSummarizer) Summarize(ctx context.Context, turns []string) (string, error) {
	return "summary of " + strings.Join(turns, ","), nil
}

func defaultThresholds() Thresholds {
	return Thresholds{Soft: 0.8, Hard: 0.85, Emergency: 0.95, SoftSummarizeShare: 0.3, HardSummarizeShare: 0.5, WorkerBudget: time.Second}
}

func TestEvaluateBelowSoftIsNoOp(t *testing.T) {
	bus := registry.New()
	target := newFakeTarget(10)
	c := New(bus, defaultThresholds(), echoSummarizer{}, nil)

	require.NoError(t, c.Evaluate(context.Background(), ids.ChannelId("c-1"), target, 0.5))

	select {
	case <-target.applied:
		t.Fatal("no compaction should have run below the soft threshold")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEvaluateSoftSpawnsCompactionAndSwapsSummary(t *testing.T) {
	bus := registry.New()
	target := newFakeTarget(10)
	c := New(bus, defaultThresholds(), echoSummarizer{}, nil)

	require.NoError(t, c.Evaluate(context.Background(), ids.ChannelId("c-1"), target, 0.82))

	select {
	case <-target.applied:
	case <-time.After(time.Second):
		t.Fatal("expected a compaction summary to be applied")
	}

	turns := target.RenderedHistory()
	assert.Contains(t, turns[0], "summary of")
}

func TestEvaluateStacksSummariesAcrossRepeatedCompactions(t *testing.T) {
	bus := registry.New()
	target := newFakeTarget(10)
	c := New(bus, defaultThresholds(), echoSummarizer{}, nil)

	require.NoError(t, c.Evaluate(context.Background(), ids.ChannelId("c-1"), target, 0.82))
	select {
	case <-target.applied:
	case <-time.After(time.Second):
		t.Fatal("expected first compaction summary to be applied")
	}

	firstPass := target.RenderedHistory()
	require.Equal(t, 1, target.LeadingSummaryCount())
	require.NotContains(t, firstPass[0], "summary of summary", "nothing has been summarized yet, so there is no prior summary to fold in")

	require.NoError(t, c.Evaluate(context.Background(), ids.ChannelId("c-1"), target, 0.82))
	select {
	case <-target.applied:
	case <-time.After(time.Second):
		t.Fatal("expected second compaction summary to be applied")
	}

	secondPass := target.RenderedHistory()
	assert.Equal(t, 2, target.LeadingSummaryCount(), "two independent summaries should now sit at the head")
	assert.Equal(t, firstPass[0], secondPass[0], "the first summary must survive untouched, not be folded into the second")
	assert.Contains(t, secondPass[1], "summary of", "the second summary covers only the turns behind the first")
	assert.NotContains(t, secondPass[1], firstPass[0], "the second summary's input must not include the first summary's text")
}

func TestEvaluateEnforcesAtMostOneCompactionWorkerPerChannel(t *testing.T) {
	bus := registry.New()
	target := newFakeTarget(10)
	blocking := &blockingSummarizer{release: make(chan struct{})}
	c := New(bus, defaultThresholds(), blocking, nil)

	require.NoError(t, c.Evaluate(context.Background(), ids.ChannelId("c-1"), target, 0.82))
	time.Sleep(20 * time.Millisecond) // let the first compaction mark itself active

	c.mu.Lock()
	active := c.active[ids.ChannelId("c-1")]
	c.mu.Unlock()
	require.True(t, active)

	require.NoError(t, c.Evaluate(context.Background(), ids.ChannelId("c-1"), target, 0.82))
	close(blocking.release)

	select {
	case <-target.applied:
	case <-time.After(time.Second):
		t.Fatal("expected exactly one compaction to eventually complete")
	}

	select {
	case <-target.applied:
		t.Fatal("a second compaction Worker must not have been spawned while one was active")
	case <-time.After(100 * time.Millisecond):
	}
}

type blockingSummarizer struct {
	release chan struct{}
}

func (b *blockingSummarizer) Summarize(ctx context.Context, turns []string) (string, error) {
	<-b.release
	return "summary", nil
}

func TestEvaluateEmergencyTruncatesSynchronouslyWithinBound(t *testing.T) {
	bus := registry.New()
	target := newFakeTarget(100)
	c := New(bus, defaultThresholds(), echoSummarizer{}, nil)

	require.NoError(t, c.Evaluate(context.Background(), ids.ChannelId("c-1"), target, 0.99))

	assert.LessOrEqual(t, target.HistoryLen(), 100)
	assert.GreaterOrEqual(t, target.HistoryLen(), 50, "emergency truncation must be bounded, not wipe the whole history")
}

type fakeSaver struct {
	mu    sync.Mutex
	saved []*memory.Memory
}

func (f *fakeSaver) Save(ctx context.Context, caller memory.Caller, m *memory.Memory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, m)
	return nil
}

func TestEvaluateSoftArchivesSummaryViaSaver(t *testing.T) {
	bus := registry.New()
	target := newFakeTarget(10)
	saver := &fakeSaver{}
	c := New(bus, defaultThresholds(), echoSummarizer{}, saver)

	require.NoError(t, c.Evaluate(context.Background(), ids.ChannelId("c-1"), target, 0.82))

	select {
	case <-target.applied:
	case <-time.After(time.Second):
		t.Fatal("expected compaction to complete")
	}

	saver.mu.Lock()
	defer saver.mu.Unlock()
	require.Len(t, saver.saved, 1)
	assert.Equal(t, memory.CallerCompactionWorker, memory.Caller("compaction_worker"))
}
