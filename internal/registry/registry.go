// Package registry implements the Process Registry & Event Bus (§4.1):
// process identity/addressing, best-effort event fan-out with bounded
// backpressure, and cooperative cancellation signaling.
package registry

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/spacebot-ai/spacebot/internal/ids"
	"github.com/spacebot-ai/spacebot/internal/logging"
)

// subscriberQueueSize bounds each subscriber's event channel; once full,
// the oldest queued event is dropped in favor of the new one so the
// emitting process never blocks.
const subscriberQueueSize = 256

// processEntry is a live process's registry-visible record.
type processEntry struct {
	id     ids.ProcessId
	kind   ProcessKind
	parent ids.ProcessId
	cancel context.CancelFunc
	ctx    context.Context
}

// Registry allocates ProcessIds, tracks live processes, and routes events.
type Registry struct {
	mu          sync.RWMutex
	processes   map[ids.ProcessId]*processEntry
	subscribers map[ids.ProcessId]chan ProcessEvent
	broadcast   []chan ProcessEvent
	dropped     atomic.Int64
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		processes:   make(map[ids.ProcessId]*processEntry),
		subscribers: make(map[ids.ProcessId]chan ProcessEvent),
	}
}

// Register allocates a ProcessId for a new live process of the given kind,
// deriving a cancellable context from parentCtx. parent is informational
// only; it does not imply ownership (§9 DESIGN NOTES: back-references are
// relations, not ownership).
func (r *Registry) Register(parentCtx context.Context, kind ProcessKind, parent ids.ProcessId) (ids.ProcessId, context.Context) {
	id := ids.NewProcessId(string(kind))
	ctx, cancel := context.WithCancel(parentCtx)

	r.mu.Lock()
	r.processes[id] = &processEntry{id: id, kind: kind, parent: parent, cancel: cancel, ctx: ctx}
	r.mu.Unlock()

	logging.RegistryDebug("registered %s (kind=%s parent=%s)", id, kind, parent)
	return id, ctx
}

// Deregister removes a process from the registry. Any pending events
// addressed to it are dropped silently (its subscriber channel, if any,
// is closed and removed).
func (r *Registry) Deregister(id ids.ProcessId) {
	r.mu.Lock()
	if entry, ok := r.processes[id]; ok {
		entry.cancel()
		delete(r.processes, id)
	}
	if ch, ok := r.subscribers[id]; ok {
		close(ch)
		delete(r.subscribers, id)
	}
	r.mu.Unlock()

	logging.RegistryDebug("deregistered %s", id)
}

// Cancel flips the process's cancellation signal. The process observes it
// at its next cooperative checkpoint via ctx.Done().
func (r *Registry) Cancel(id ids.ProcessId) {
	r.mu.RLock()
	entry, ok := r.processes[id]
	r.mu.RUnlock()
	if !ok {
		return
	}
	entry.cancel()
}

// Subscribe returns a channel of events addressed to id. The channel is
// closed when the process is deregistered. Only one subscription per id is
// supported; a second Subscribe call replaces the first.
func (r *Registry) Subscribe(id ids.ProcessId) <-chan ProcessEvent {
	ch := make(chan ProcessEvent, subscriberQueueSize)
	r.mu.Lock()
	r.subscribers[id] = ch
	r.mu.Unlock()
	return ch
}

// SubscribeBroadcast returns a channel that receives every event regardless
// of target, used by the Cortex's signal observer and test harnesses.
func (r *Registry) SubscribeBroadcast() <-chan ProcessEvent {
	ch := make(chan ProcessEvent, subscriberQueueSize)
	r.mu.Lock()
	r.broadcast = append(r.broadcast, ch)
	r.mu.Unlock()
	return ch
}

// Emit fans the event out to its target's subscriber (if any) and to every
// broadcast subscriber. Delivery is best-effort: if a subscriber's queue is
// full, the oldest queued event is dropped and the dropped counter advances.
// Emit never blocks.
func (r *Registry) Emit(ev ProcessEvent) {
	r.mu.RLock()
	var target chan ProcessEvent
	if t := ev.Target(); t != "" {
		target = r.subscribers[t]
	}
	broadcasts := make([]chan ProcessEvent, len(r.broadcast))
	copy(broadcasts, r.broadcast)
	r.mu.RUnlock()

	if target != nil {
		r.sendDropOldest(target, ev)
	}
	for _, ch := range broadcasts {
		r.sendDropOldest(ch, ev)
	}
}

func (r *Registry) sendDropOldest(ch chan ProcessEvent, ev ProcessEvent) {
	select {
	case ch <- ev:
		return
	default:
	}
	// Queue full: drop the oldest queued event, then enqueue the new one.
	select {
	case <-ch:
		r.dropped.Add(1)
	default:
	}
	select {
	case ch <- ev:
	default:
		r.dropped.Add(1)
	}
}

// DroppedEvents returns the cumulative count of events dropped under
// backpressure, across all subscribers.
func (r *Registry) DroppedEvents() int64 {
	return r.dropped.Load()
}

// Lookup returns whether id is currently a live process, and its kind.
func (r *Registry) Lookup(id ids.ProcessId) (ProcessKind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.processes[id]
	if !ok {
		return "", false
	}
	return entry.kind, true
}

// Snapshot returns the ids of every currently-live process of a kind.
func (r *Registry) Snapshot(kind ProcessKind) []ids.ProcessId {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ids.ProcessId
	for id, entry := range r.processes {
		if entry.kind == kind {
			out = append(out, id)
		}
	}
	return out
}

// CancelAll broadcasts cancellation to every live process, used during
// graceful shutdown (§5).
func (r *Registry) CancelAll() {
	r.mu.RLock()
	entries := make([]*processEntry, 0, len(r.processes))
	for _, e := range r.processes {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	for _, e := range entries {
		e.cancel()
	}
	logging.Registry("cancellation broadcast to %d live processes", len(entries))
}
