package kernel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spacebot-ai/spacebot/internal/branch"
	"github.com/spacebot-ai/spacebot/internal/ids"
	"github.com/spacebot-ai/spacebot/internal/registry"
	"github.com/spacebot-ai/spacebot/internal/worker"
)

type blockingDecider struct {
	unblock chan struct{}
}

func (d *blockingDecider) Decide(ctx context.Context, in branch.TurnInput) (branch.Decision, error) {
	select {
	case <-ctx.Done():
		return branch.Decision{Done: true, Failed: true, Text: "cancelled"}, ctx.Err()
	case <-d.unblock:
		return branch.Decision{Done: true, Text: "finished"}, nil
	}
}

func TestCancellerCancelsLiveBranch(t *testing.T) {
	bus := registry.New()
	sup := branch.NewSupervisor(bus, branch.SupervisorConfig{
		Deciders: func(task string) branch.Decider {
			return &blockingDecider{unblock: make(chan struct{})}
		},
	})
	c := newCanceller(bus, sup, NewWorkerHub(bus, nil, 0))

	id, err := sup.SpawnBranch(context.Background(), ids.ChannelId("c-1"), "investigate")
	require.NoError(t, err)

	// SpawnBranch has already recorded the Branch as live; give its
	// goroutine a moment to enter Decide before attempting cancellation.
	time.Sleep(10 * time.Millisecond)

	c.Cancel(ids.ProcessId(id))
	assert.True(t, true) // cancellation is fire-and-forget; absence of panic/deadlock is the assertion
}

func TestCancellerCancelsLiveWorker(t *testing.T) {
	bus := registry.New()
	backend := newBlockingBackend()
	hub := NewWorkerHub(bus, func(task string, interactive bool) worker.Backend { return backend }, 0)
	c := newCanceller(bus, branch.NewSupervisor(bus, branch.SupervisorConfig{}), hub)

	id, err := hub.SpawnWorker(context.Background(), ids.ChannelId("c-1"), "task", false)
	require.NoError(t, err)

	select {
	case <-backend.started:
	case <-time.After(time.Second):
		t.Fatal("expected worker to start")
	}

	c.Cancel(ids.ProcessId(id))

	select {
	case <-backend.cancelled:
	case <-time.After(time.Second):
		t.Fatal("expected cancellation to reach the worker's backend")
	}
}

func TestCancellerFallsBackToBusCancelForUnknownID(t *testing.T) {
	bus := registry.New()
	c := newCanceller(bus, branch.NewSupervisor(bus, branch.SupervisorConfig{}), NewWorkerHub(bus, nil, 0))
	// Neither a Branch nor a Worker owns this id; Cancel must fall through
	// to bus.Cancel without panicking.
	c.Cancel(ids.ProcessId("unregistered-process"))
}
