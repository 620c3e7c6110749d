package branch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/spacebot-ai/spacebot/internal/ids"
	"github.com/spacebot-ai/spacebot/internal/kernelerr"
	"github.com/spacebot-ai/spacebot/internal/logging"
	"github.com/spacebot-ai/spacebot/internal/registry"
)

// ResultSink receives a Branch's outcome once it concludes. channel.Channel
// satisfies this interface structurally.
type ResultSink interface {
	InjectBranchResult(branch ids.BranchId, conclusion string, failed bool)
}

// ChannelHistoryReader supplies the forked history snapshot a new Branch
// starts from.
type ChannelHistoryReader interface {
	RenderedHistory(channel ids.ChannelId) []string
}

// DeciderFactory builds the Decider a freshly spawned Branch should run
// with, given its task. Kernel wiring supplies an LLM-backed
// implementation; tests can supply a stub.
type DeciderFactory func(task string) Decider

// Supervisor spawns Branches against a bus, enforcing a per-Channel
// concurrency limit (§4.3 "bounded number of concurrent Branches per
// Channel") and guaranteeing exactly one registry.BranchResult /
// ResultSink notification per Branch.
type Supervisor struct {
	bus       *registry.Registry
	sink      ResultSink
	history   ChannelHistoryReader
	deciders  DeciderFactory
	recaller  MemoryRecaller
	saver     MemorySaver
	workers   WorkerSpawner
	maxSteps  int
	perChannel int

	mu             sync.Mutex
	limits         map[ids.ChannelId]*semaphore.Weighted
	channelProcess map[ids.ChannelId]ids.ProcessId
	liveBranches   map[ids.BranchId]ids.ProcessId
}

// RegisterChannel records the ProcessId a Channel was assigned at
// registration, so BranchResult events for its Branches route to the
// right registry subscriber. Kernel wiring calls this once per Channel;
// if a Channel is never registered, SpawnBranch falls back to treating
// the ChannelId itself as the ProcessId.
func (s *Supervisor) RegisterChannel(channel ids.ChannelId, processID ids.ProcessId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channelProcess[channel] = processID
}

func (s *Supervisor) resolveChannelProcess(channel ids.ChannelId) ids.ProcessId {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.channelProcess[channel]; ok {
		return p
	}
	return ids.ProcessId(channel)
}

// SupervisorConfig bundles a Supervisor's collaborators.
type SupervisorConfig struct {
	Sink               ResultSink
	History            ChannelHistoryReader
	Deciders           DeciderFactory
	Recaller           MemoryRecaller
	Saver              MemorySaver
	Workers            WorkerSpawner
	MaxSteps           int
	MaxPerChannel      int
}

// NewSupervisor constructs a Supervisor. MaxPerChannel defaults to 3 when
// unset (§4.3 default concurrency budget).
func NewSupervisor(bus *registry.Registry, cfg SupervisorConfig) *Supervisor {
	if cfg.MaxPerChannel <= 0 {
		cfg.MaxPerChannel = 3
	}
	return &Supervisor{
		bus:        bus,
		sink:       cfg.Sink,
		history:    cfg.History,
		deciders:   cfg.Deciders,
		recaller:   cfg.Recaller,
		saver:      cfg.Saver,
		workers:    cfg.Workers,
		maxSteps:   cfg.MaxSteps,
		perChannel: cfg.MaxPerChannel,
		limits:         make(map[ids.ChannelId]*semaphore.Weighted),
		channelProcess: make(map[ids.ChannelId]ids.ProcessId),
		liveBranches:   make(map[ids.BranchId]ids.ProcessId),
	}
}

// CancelBranch cancels a live Branch identified by the public BranchId a
// Channel was given at spawn time, resolving it to the internal ProcessId
// the bus actually tracks. Reports whether a live Branch was found.
func (s *Supervisor) CancelBranch(id ids.BranchId) bool {
	s.mu.Lock()
	processID, ok := s.liveBranches[id]
	s.mu.Unlock()
	if !ok {
		return false
	}
	s.bus.Cancel(processID)
	return true
}

func (s *Supervisor) semaphoreFor(channel ids.ChannelId) *semaphore.Weighted {
	s.mu.Lock()
	defer s.mu.Unlock()
	sem, ok := s.limits[channel]
	if !ok {
		sem = semaphore.NewWeighted(int64(s.perChannel))
		s.limits[channel] = sem
	}
	return sem
}

// SpawnBranch implements channel.BranchSpawner. It blocks only long enough
// to acquire a concurrency slot (or the context to be cancelled); the
// Branch itself then runs to completion on its own goroutine, so the
// calling Channel turn is never blocked on the Branch's reasoning loop
// (§4.2 "non-blocking spawn rule").
func (s *Supervisor) SpawnBranch(ctx context.Context, channel ids.ChannelId, task string) (ids.BranchId, error) {
	sem := s.semaphoreFor(channel)
	if err := sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("branch concurrency limit: %w", err)
	}

	id := ids.NewBranchId()
	parentProcess := s.resolveChannelProcess(channel)
	processID, branchCtx := s.bus.Register(context.Background(), registry.KindBranch, parentProcess)

	var snapshot []string
	if s.history != nil {
		snapshot = s.history.RenderedHistory(channel)
	}

	var decider Decider
	if s.deciders != nil {
		decider = s.deciders(task)
	}

	b := New(Config{
		ID:              id,
		Channel:         channel,
		Task:            task,
		HistorySnapshot: snapshot,
		MaxSteps:        s.maxSteps,
		Decider:         decider,
		Recaller:        s.recaller,
		Saver:           s.saver,
		Workers:         s.workers,
	}, s.bus)

	s.mu.Lock()
	s.liveBranches[id] = processID
	s.mu.Unlock()

	go s.run(branchCtx, processID, parentProcess, id, b, sem)

	return id, nil
}

func (s *Supervisor) run(ctx context.Context, processID, parentProcess ids.ProcessId, id ids.BranchId, b *Branch, sem *semaphore.Weighted) {
	log := logging.Get(logging.CategoryBranch)
	defer sem.Release(1)
	defer s.bus.Deregister(processID)
	defer func() {
		s.mu.Lock()
		delete(s.liveBranches, id)
		s.mu.Unlock()
	}()

	conclusion, err := b.Run(ctx)
	if errors.Is(err, kernelerr.ErrCancelled) {
		log.Debug("branch %s cancelled, suppressing BranchResult", id)
		return
	}

	failed := err != nil
	if failed {
		log.Warn("branch %s ended with error: %v", id, err)
		if conclusion == "" {
			conclusion = err.Error()
		}
	}

	s.bus.Emit(registry.BranchResult{Branch: processID, Parent: parentProcess, Conclusion: conclusion, Err: err})

	if s.sink != nil {
		s.sink.InjectBranchResult(id, conclusion, failed)
	}
}
