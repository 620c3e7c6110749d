package adapter

import (
	"context"
	"sync"
)

// InProcess is a reference Adapter that buffers delivered events in
// memory, keyed by channel id, for use by tests and the CLI's run command
// where there is no real external platform.
type InProcess struct {
	mu       sync.Mutex
	delivered map[string][]OutboundEvent
}

// NewInProcess constructs an empty in-process adapter.
func NewInProcess() *InProcess {
	return &InProcess{delivered: make(map[string][]OutboundEvent)}
}

// Deliver records ev against channelID.
func (a *InProcess) Deliver(ctx context.Context, channelID string, ev OutboundEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.delivered[channelID] = append(a.delivered[channelID], ev)
	return nil
}

// Delivered returns a copy of everything delivered to channelID so far, in
// delivery order.
func (a *InProcess) Delivered(channelID string) []OutboundEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]OutboundEvent, len(a.delivered[channelID]))
	copy(out, a.delivered[channelID])
	return out
}

// Reset clears all buffered events for every channel.
func (a *InProcess) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.delivered = make(map[string][]OutboundEvent)
}
