package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spacebot-ai/spacebot/internal/registry"
)

// stubBackend completes immediately with a fixed result.
type stubBackend struct {
	result   Result
	err      error
	executed chan struct{}
}

func newStubBackend() *stubBackend {
	return &stubBackend{executed: make(chan struct{}, 1)}
}

func (b *stubBackend) Execute(ctx context.Context, task string, onStatus func(string)) (Result, error) {
	onStatus("working")
	b.executed <- struct{}{}
	return b.result, b.err
}

func (b *stubBackend) FollowUp(ctx context.Context, message string) error { return nil }
func (b *stubBackend) Cancel()                                            {}

func TestWorkerRunEmitsExactlyOneTerminalNotice(t *testing.T) {
	bus := registry.New()
	parent, _ := bus.Register(context.Background(), registry.KindChannel, "")
	events := bus.Subscribe(parent)

	backend := newStubBackend()
	backend.result = Result{Text: "done"}

	cfg := DefaultConfig("do the thing", parent)
	cfg.Notify = true
	w := New(cfg, backend, bus)

	w.Run(context.Background())

	select {
	case ev := <-events:
		wt, ok := ev.(registry.WorkerTerminal)
		require.True(t, ok)
		assert.Equal(t, "done", wt.State)
	case <-time.After(time.Second):
		t.Fatal("expected a WorkerTerminal event")
	}

	assert.Equal(t, StateDone, w.State())

	// Scenario C: cancelling after completion must not add a duplicate notice.
	w.Cancel()
	select {
	case ev := <-events:
		t.Fatalf("unexpected second terminal event: %#v", ev)
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, StateDone, w.State(), "state must remain Done, not Cancelled")
}

func TestWorkerRunTransitionsToFailedOnBackendError(t *testing.T) {
	bus := registry.New()
	parent, _ := bus.Register(context.Background(), registry.KindChannel, "")
	_ = bus.Subscribe(parent)

	backend := newStubBackend()
	backend.err = assertError{}

	w := New(DefaultConfig("task", parent), backend, bus)
	w.Run(context.Background())

	assert.Equal(t, StateFailed, w.State())
}

type assertError struct{}

func (assertError) Error() string { return "boom" }

func TestWorkerSnapshotReflectsToolCalls(t *testing.T) {
	bus := registry.New()
	parent, _ := bus.Register(context.Background(), registry.KindChannel, "")
	_ = bus.Subscribe(parent)

	w := New(DefaultConfig("task", parent), newStubBackend(), bus)
	w.RecordToolStarted("shell")
	w.RecordToolStarted("grep")

	snap := w.Snapshot()
	assert.Equal(t, int32(2), snap.ToolCalls)
}

func TestWorkerSnapshotReflectsFromBranch(t *testing.T) {
	bus := registry.New()
	parent, _ := bus.Register(context.Background(), registry.KindChannel, "")
	_ = bus.Subscribe(parent)

	cfg := DefaultConfig("task", parent)
	cfg.FromBranch = true
	w := New(cfg, newStubBackend(), bus)

	assert.True(t, w.Snapshot().FromBranch)
}
