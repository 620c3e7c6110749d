// Package cortex implements the Cortex process (§4.6): a periodic,
// Channel-independent loop that recalls across every Memory kind and
// synthesizes the result into a single published Bulletin.
package cortex

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spacebot-ai/spacebot/internal/ids"
	"github.com/spacebot-ai/spacebot/internal/logging"
	"github.com/spacebot-ai/spacebot/internal/memory"
	"github.com/spacebot-ai/spacebot/internal/registry"
)

// partialTextCarrier is implemented by errors that carry whatever
// bulletin text had been synthesized before a budget ran out.
type partialTextCarrier interface {
	PartialText() string
}

// MemoryRecaller is the Cortex-permitted half of the Memory Pipeline's
// recall surface (§4.8: Cortex is one of two permitted recall callers).
type MemoryRecaller interface {
	Recall(ctx context.Context, caller memory.Caller, query string, filter memory.RecallFilter, limit int) ([]memory.RecallResult, error)
}

// MemorySaver is the Cortex-permitted half of the Memory Pipeline's save
// surface (§4.8: Cortex is one of three permitted save callers).
type MemorySaver interface {
	Save(ctx context.Context, caller memory.Caller, m *memory.Memory) error
}

// Synthesizer turns the per-kind recall results into bulletin prose,
// within a word budget. A budget-exhausted error must carry whatever
// partial text had been produced so far (§9.1: "a partial bulletin beats
// no bulletin").
type Synthesizer interface {
	Synthesize(ctx context.Context, recalled map[memory.Kind][]memory.RecallResult, maxWords int) (string, error)
}

// Settings mirrors config.CortexConfig, decoupled from the config package.
type Settings struct {
	Interval          time.Duration
	BulletinMaxWords  int
	RecallCapPerKind  int
	StartupRetries    int
	StartupRetryDelay time.Duration
}

// Cortex runs the bulletin loop for one agent instance.
type Cortex struct {
	bus         *registry.Registry
	recaller    MemoryRecaller
	saver       MemorySaver
	synthesizer Synthesizer
	settings    Settings

	bulletin Pointer
	signals  SignalBuffer
}

// New constructs a Cortex.
func New(bus *registry.Registry, recaller MemoryRecaller, saver MemorySaver, synthesizer Synthesizer, settings Settings) *Cortex {
	if settings.RecallCapPerKind <= 0 {
		settings.RecallCapPerKind = 5
	}
	if settings.BulletinMaxWords <= 0 {
		settings.BulletinMaxWords = 200
	}
	return &Cortex{bus: bus, recaller: recaller, saver: saver, synthesizer: synthesizer, settings: settings}
}

// Current returns the most recently published Bulletin, or nil before the
// first successful generation.
func (c *Cortex) Current() *Bulletin {
	return c.bulletin.Load()
}

// Run drives the startup sequence and then the interval loop until ctx is
// cancelled (§4.6: "runs independently of any Channel").
func (c *Cortex) Run(ctx context.Context) {
	log := logging.Get(logging.CategoryCortex)

	var processID ids.ProcessId
	if c.bus != nil {
		var runCtx context.Context
		processID, runCtx = c.bus.Register(ctx, registry.KindCortex, "")
		ctx = runCtx
		defer c.bus.Deregister(processID)

		go c.observeLoop(ctx)
	}

	c.startup(ctx, log)

	ticker := time.NewTicker(c.intervalOrDefault())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.generateAndPublish(ctx); err != nil {
				log.Warn("cortex bulletin generation failed: %v", err)
			}
			c.runConsolidation(log)
		}
	}
}

// observeLoop feeds every bus event, regardless of target, through observe
// for the lifetime of Run. It is the Cortex's only subscriber that isn't
// addressed at its own ProcessId, matching §4.6's "observes system-wide
// activity independently of any Channel."
func (c *Cortex) observeLoop(ctx context.Context) {
	events := c.bus.SubscribeBroadcast()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.observe(ev)
		}
	}
}

// observe extracts a lightweight Signal from a bus event and buffers it,
// for a future consolidation pass (§9.1 signal buffer). Most event kinds
// carry nothing worth surfacing this way and are ignored.
func (c *Cortex) observe(ev registry.ProcessEvent) {
	switch e := ev.(type) {
	case registry.WorkerTerminal:
		c.signals.Push(fmt.Sprintf("worker %s: %s", e.State, firstLine(e.Result)))
	case registry.BranchResult:
		if e.Err != nil {
			c.signals.Push(fmt.Sprintf("branch failed: %s", firstLine(e.Conclusion)))
		} else {
			c.signals.Push(fmt.Sprintf("branch concluded: %s", firstLine(e.Conclusion)))
		}
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// runConsolidation drains the signals observed since the last pass. It is
// a placeholder for the health-monitoring/memory-maintenance consolidation
// §9.1 describes; today it only logs what it saw.
func (c *Cortex) runConsolidation(log *logging.Logger) {
	signals := c.signals.Drain()
	if len(signals) == 0 {
		return
	}
	log.Debug("cortex consolidation observed %d signal(s) since the last pass", len(signals))
}

func (c *Cortex) intervalOrDefault() time.Duration {
	if c.settings.Interval <= 0 {
		return 60 * time.Minute
	}
	return c.settings.Interval
}

// startup runs an immediate generation attempt with bounded retries
// (§4.6 "startup immediate-run + retries"), so the agent has a bulletin
// as soon as possible rather than waiting a full interval.
func (c *Cortex) startup(ctx context.Context, log *logging.Logger) {
	retries := c.settings.StartupRetries
	if retries <= 0 {
		retries = 3
	}
	delay := c.settings.StartupRetryDelay
	if delay <= 0 {
		delay = 15 * time.Second
	}

	for attempt := 0; attempt <= retries; attempt++ {
		if err := c.generateAndPublish(ctx); err == nil {
			return
		} else {
			log.Warn("cortex startup generation attempt %d/%d failed: %v", attempt+1, retries+1, err)
		}

		if attempt == retries {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// generateAndPublish recalls across every Memory kind, synthesizes a
// bulletin, and publishes it — even when generation only partially
// completed due to budget exhaustion, since a stale-but-present bulletin
// is still strictly worse than a fresh partial one, and the prior
// bulletin is never cleared on failure (Testable Property #7: bulletin
// monotonic availability — Current() never regresses to nil once set).
func (c *Cortex) generateAndPublish(ctx context.Context) error {
	recalled := make(map[memory.Kind][]memory.RecallResult, len(memory.AllKinds))

	for _, kind := range memory.AllKinds {
		if c.recaller == nil {
			continue
		}
		results, err := c.recaller.Recall(ctx, memory.CallerCortex, string(kind), memory.RecallFilter{Kind: kind, ExcludeForgotten: true}, c.settings.RecallCapPerKind)
		if err != nil {
			return fmt.Errorf("cortex recall for kind %s: %w", kind, err)
		}
		recalled[kind] = results
	}

	if c.synthesizer == nil {
		return fmt.Errorf("cortex: no synthesizer configured")
	}

	text, err := c.synthesizer.Synthesize(ctx, recalled, c.settings.BulletinMaxWords)
	partial := false
	if err != nil {
		if _, ok := partialText(err); ok {
			partial = true
			text, _ = partialText(err)
		} else {
			return fmt.Errorf("cortex synthesis: %w", err)
		}
	}

	c.bulletin.Store(&Bulletin{Text: text, Partial: partial, GeneratedAt: generationTimestamp()})
	return nil
}

// partialText extracts the partial text from a budget-exhausted error, if
// the error chain carries one.
func partialText(err error) (string, bool) {
	for err != nil {
		if p, ok := err.(partialTextCarrier); ok {
			return p.PartialText(), true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return "", false
		}
		err = u.Unwrap()
	}
	return "", false
}

// generationTimestamp is overridden in tests; production uses time.Now.
var generationTimestamp = time.Now

// SignalBuffer accumulates lightweight, bounded notes between bulletin
// runs (§9.1 "Cortex signal buffer") — observations worth surfacing on
// the next generation pass without persisting them as full Memory rows.
type SignalBuffer struct {
	mu    sync.Mutex
	items []string
	cap   int
}

const defaultSignalCap = 32

// Push appends a signal, dropping the oldest once the buffer is full.
func (s *SignalBuffer) Push(signal string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cap := s.cap
	if cap <= 0 {
		cap = defaultSignalCap
	}
	s.items = append(s.items, signal)
	if len(s.items) > cap {
		s.items = s.items[len(s.items)-cap:]
	}
}

// Drain returns and clears all buffered signals.
func (s *SignalBuffer) Drain() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.items
	s.items = nil
	return out
}
