// Package kernel wires every Spacebot component into one running agent
// instance: storage, embeddings, the Memory Pipeline, the LLM client, the
// Process Registry & Event Bus, Channels, Branches, Workers, the Compactor,
// the Cortex, and the adapter boundary (§5).
package kernel

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/spacebot-ai/spacebot/internal/adapter"
	"github.com/spacebot-ai/spacebot/internal/branch"
	"github.com/spacebot-ai/spacebot/internal/channel"
	"github.com/spacebot-ai/spacebot/internal/compactor"
	"github.com/spacebot-ai/spacebot/internal/config"
	"github.com/spacebot-ai/spacebot/internal/cortex"
	"github.com/spacebot-ai/spacebot/internal/embedding"
	"github.com/spacebot-ai/spacebot/internal/ids"
	"github.com/spacebot-ai/spacebot/internal/llmclient"
	"github.com/spacebot-ai/spacebot/internal/logging"
	"github.com/spacebot-ai/spacebot/internal/memory"
	"github.com/spacebot-ai/spacebot/internal/registry"
	"github.com/spacebot-ai/spacebot/internal/status"
	"github.com/spacebot-ai/spacebot/internal/store"
	"github.com/spacebot-ai/spacebot/internal/worker"
)

// Kernel owns every long-lived component for one agent instance and
// coordinates their lifecycle.
type Kernel struct {
	cfg *config.Config

	store    *store.Store
	embedder embedding.EmbeddingEngine
	bus      *registry.Registry
	pipeline *memory.Pipeline
	llm      llmclient.Client
	adapter  adapter.Adapter

	seen        *store.SeenInbound
	channelRows *store.ChannelTurns

	branches   *branch.Supervisor
	workers    *WorkerHub
	compactor  *compactor.Compactor
	cortex     *cortex.Cortex
	projection status.Projection

	mu             sync.Mutex
	channels       map[ids.ChannelId]*channel.Channel
	channelProcess map[ids.ChannelId]ids.ProcessId

	wg sync.WaitGroup
}

// New constructs every component per cfg but starts nothing; call Run to
// start the Cortex loop and begin accepting inbound messages.
func New(cfg *config.Config, llm llmclient.Client, outbound adapter.Adapter) (*Kernel, error) {
	// store.Open and embedding.NewEngine touch independent resources (a
	// local database file, a remote/local embedding provider) so they run
	// concurrently rather than one blocking the other.
	var (
		s        *store.Store
		embedder embedding.EmbeddingEngine
	)
	g := new(errgroup.Group)
	g.Go(func() error {
		opened, err := store.Open(cfg.Memory.DatabasePath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		s = opened
		return nil
	})
	g.Go(func() error {
		built, err := embedding.NewEngine(embedding.Config{
			Provider:       cfg.Memory.EmbeddingConfig.Provider,
			OllamaEndpoint: cfg.Memory.EmbeddingConfig.OllamaEndpoint,
			OllamaModel:    cfg.Memory.EmbeddingConfig.OllamaModel,
			GenAIAPIKey:    cfg.Memory.EmbeddingConfig.GenAIAPIKey,
			GenAIModel:     cfg.Memory.EmbeddingConfig.GenAIModel,
			TaskType:       cfg.Memory.EmbeddingConfig.TaskType,
		})
		if err != nil {
			return fmt.Errorf("build embedding engine: %w", err)
		}
		embedder = built
		return nil
	})
	if err := g.Wait(); err != nil {
		if s != nil {
			s.Close()
		}
		return nil, err
	}

	if !s.VectorIndexAvailable() {
		logging.KernelWarn("SQL-side vector ranking unavailable; Memory Pipeline recall falls back to a full in-process scan")
	}

	repo := memory.NewRepository(s.DB())
	pipeline := memory.NewPipeline(repo, embedder, memory.SearchConfig{
		MaxResultsPerSource: cfg.Memory.MaxResultsPerSource,
		RRFK:                cfg.Memory.RRFK,
		MaxGraphDepth:       cfg.Memory.MaxGraphDepth,
	}, cfg.Memory.UpdatesThreshold, cfg.Memory.MergeThreshold, cfg.Memory.ImportanceFloor)

	bus := registry.New()

	if outbound == nil {
		outbound = adapter.NewInProcess()
	}

	k := &Kernel{
		cfg:            cfg,
		store:          s,
		embedder:       embedder,
		bus:            bus,
		pipeline:       pipeline,
		llm:            llm,
		adapter:        outbound,
		seen:           store.NewSeenInbound(s.DB()),
		channelRows:    store.NewChannelTurns(s.DB()),
		channels:       make(map[ids.ChannelId]*channel.Channel),
		channelProcess: make(map[ids.ChannelId]ids.ProcessId),
		projection: status.Projection{
			BranchVisibilityDelay:   cfg.GetBranchVisibilityDelay(),
			TerminalRetentionWindow: cfg.GetTerminalRetentionWindow(),
		},
	}

	k.workers = NewWorkerHub(bus, DefaultBackendFactory(llm, nil, cfg.Cortex.MaxTurns), 0)

	// branch.Supervisor is shared across every Channel this kernel hosts,
	// so its History lookup is resolved dynamically by channel id rather
	// than bound to one Channel; its ResultSink is left unset because
	// BranchResult delivery instead rides the bus (dispatchEvents below),
	// which every Channel already subscribes to.
	k.branches = branch.NewSupervisor(bus, branch.SupervisorConfig{
		History:       kernelHistoryReader{k},
		Deciders:      BranchDeciderFactory(llm),
		Recaller:      pipeline,
		Saver:         pipeline,
		Workers:       k.workers,
		MaxPerChannel: cfg.Channel.MaxConcurrentBranches,
	})

	k.compactor = compactor.New(bus, compactor.Thresholds{
		Soft:               cfg.Compactor.ThresholdSoft,
		Hard:               cfg.Compactor.ThresholdHard,
		Emergency:          cfg.Compactor.ThresholdEmergency,
		SoftSummarizeShare: cfg.Compactor.SoftSummarizeTarget,
		HardSummarizeShare: cfg.Compactor.HardSummarizeTarget,
		WorkerBudget:       cfg.GetCompactionWorkerBudget(),
	}, NewSummarizer(llm), pipeline)

	k.cortex = cortex.New(bus, pipeline, pipeline, NewSynthesizer(llm), cortex.Settings{
		Interval:          cfg.GetCortexInterval(),
		BulletinMaxWords:  cfg.Cortex.BulletinMaxWords,
		RecallCapPerKind:  cfg.Cortex.RecallCapPerKind,
		StartupRetries:    cfg.Cortex.StartupRetries,
		StartupRetryDelay: cfg.GetCortexStartupRetryDelay(),
	})

	return k, nil
}

// kernelHistoryReader implements branch.ChannelHistoryReader by looking up
// the live Channel for an id and delegating to its own (self-bound)
// RenderedHistory, since the shared Supervisor is not bound to one Channel.
type kernelHistoryReader struct{ k *Kernel }

func (r kernelHistoryReader) RenderedHistory(channelID ids.ChannelId) []string {
	r.k.mu.Lock()
	ch, ok := r.k.channels[channelID]
	r.k.mu.Unlock()
	if !ok {
		return nil
	}
	return ch.RenderedHistory()
}

// GetOrCreateChannel returns the Channel for (platform, scope), constructing
// and registering a new one on first use. Registration order matters: the
// Channel must be registered with the bus, and that ProcessId handed to the
// Supervisor and WorkerHub, before any Branch/Worker can be spawned against
// it (the Channel<->ProcessId identity resolution in branch.Supervisor and
// WorkerHub).
func (k *Kernel) GetOrCreateChannel(ctx context.Context, platform, scope string) (*channel.Channel, error) {
	id := ids.NewChannelId(platform, scope)

	k.mu.Lock()
	if existing, ok := k.channels[id]; ok {
		k.mu.Unlock()
		return existing, nil
	}
	k.mu.Unlock()

	if err := k.channelRows.EnsureChannel(ctx, id, platform, scope); err != nil {
		return nil, fmt.Errorf("persist channel %s: %w", id, err)
	}

	processID, _ := k.bus.Register(context.Background(), registry.KindChannel, "")
	events := k.bus.Subscribe(processID)
	k.branches.RegisterChannel(id, processID)
	k.workers.RegisterChannel(id, processID)

	cancels := newCanceller(k.bus, k.branches, k.workers)

	ch := channel.New(id, processID, k.bus, channel.Config{
		Decider:  NewChannelDecider(k.llm),
		Seen:     k.seen,
		Branches: k.branches,
		Workers:  k.workers,
		Cancels:  cancels,
		Router:   k.workers,
		Notifier: newAdapterNotifier(k.adapter),
	})

	k.mu.Lock()
	k.channels[id] = ch
	k.channelProcess[id] = processID
	k.mu.Unlock()

	k.wg.Add(1)
	go k.dispatchEvents(events, ch)

	return ch, nil
}

// dispatchEvents forwards the Channel's bus subscription (taken before the
// Channel is published, so Shutdown's Deregister always closes it) into ch, for
// the event kinds a Channel observes via the bus rather than a direct
// method call (WorkerTerminal, and BranchResult — the Supervisor's
// ResultSink is left unset, so this subscription is the one delivery path
// for both; InjectBranchResult is idempotent, so this can never double it
// with a second delivery path).
func (k *Kernel) dispatchEvents(events <-chan registry.ProcessEvent, ch *channel.Channel) {
	defer k.wg.Done()
	for ev := range events {
		switch e := ev.(type) {
		case registry.WorkerTerminal:
			ch.HandleWorkerTerminal(e.Worker, e.State, e.Result, e.Notify)
		case registry.BranchResult:
			ch.InjectBranchResult(ids.BranchId(e.Branch), e.Conclusion, e.Err != nil)
		}
	}
}

// HandleInbound normalizes an adapter.InboundMessage into the owning
// Channel and hands it off (§6.1 inbound path).
func (k *Kernel) HandleInbound(ctx context.Context, platform, scope string, msg adapter.InboundMessage) error {
	ch, err := k.GetOrCreateChannel(ctx, platform, scope)
	if err != nil {
		return err
	}
	return ch.HandleInbound(ctx, channel.Inbound{
		ID:         msg.InboundID,
		SenderID:   msg.SenderID,
		Content:    msg.Content,
		ReceivedAt: msg.Timestamp,
	})
}

// EvaluatePressure runs the Compactor against one Channel's current
// history length relative to a caller-supplied context-window budget,
// letting the kernel's own notion of "how full is the window" stay outside
// the compactor package (§4.5).
func (k *Kernel) EvaluatePressure(ctx context.Context, id ids.ChannelId, windowBudget int) error {
	k.mu.Lock()
	ch, ok := k.channels[id]
	k.mu.Unlock()
	if !ok {
		return fmt.Errorf("channel %s not found", id)
	}
	if windowBudget <= 0 {
		windowBudget = k.cfg.Cortex.MaxTurns
	}
	pressure := float64(ch.HistoryLen()) / float64(windowBudget)
	return k.compactor.Evaluate(ctx, id, ch, pressure)
}

// StatusFor computes the Status Projection block for one Channel, given
// its currently tracked Workers and Branches (§4.7). The Projection itself
// never stores any of this; the caller supplies a fresh snapshot each time.
func (k *Kernel) StatusFor(now time.Time, workers []worker.Snapshot, branches []status.BranchStatus) status.Block {
	return k.projection.Compute(now, workers, branches)
}

// Bulletin returns the Cortex's most recently published Bulletin, or nil
// if none has been generated yet.
func (k *Kernel) Bulletin() *cortex.Bulletin {
	return k.cortex.Current()
}

// Run starts the Cortex bulletin loop and blocks until ctx is cancelled,
// then drives graceful shutdown (§5).
func (k *Kernel) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		k.cortex.Run(ctx)
	}()

	<-ctx.Done()
	return k.Shutdown()
}

// Shutdown cancels every live process via the bus, deregisters every
// Channel's subscription so dispatchEvents can drain, waits for in-flight
// work, and closes the store (§5 graceful shutdown).
func (k *Kernel) Shutdown() error {
	logging.Kernel("shutting down: cancelling all live processes")
	k.bus.CancelAll()

	k.mu.Lock()
	for id, ch := range k.channels {
		ch.CancelInFlight()
		if processID, ok := k.channelProcess[id]; ok {
			k.bus.Deregister(processID)
		}
	}
	k.mu.Unlock()

	done := make(chan struct{})
	go func() {
		k.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		logging.KernelWarn("shutdown timed out waiting for goroutines to drain")
	}

	var errs error
	if closer, ok := k.embedder.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close embedding engine: %w", err))
		}
	}
	if err := k.store.Close(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("close store: %w", err))
	}
	return errs
}
