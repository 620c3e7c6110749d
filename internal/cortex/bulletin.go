package cortex

import (
	"sync/atomic"
	"time"
)

// Bulletin is the Cortex's latest published summary: a point-in-time
// digest of the agent's own memory, independent of any Channel's history
// (§4.6, §3 Data Model: "never stored, generated fresh").
type Bulletin struct {
	Text       string
	Partial    bool // true if budget exhaustion cut generation short (§9.1)
	GeneratedAt time.Time
}

// Pointer holds the single currently-published Bulletin, swapped
// atomically so readers never observe a half-written bulletin (§4.6 "an
// atomic pointer swap, never an in-place mutation").
type Pointer struct {
	p atomic.Pointer[Bulletin]
}

// Load returns the current Bulletin, or nil if none has been published
// yet (§4.6: the Cortex starts with no bulletin until its first run
// completes).
func (p *Pointer) Load() *Bulletin {
	return p.p.Load()
}

// Store publishes a new Bulletin, replacing whatever was there atomically.
func (p *Pointer) Store(b *Bulletin) {
	p.p.Store(b)
}
