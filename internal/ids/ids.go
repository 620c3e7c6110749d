// Package ids defines the kernel's opaque identifier types. All ids carry
// equality semantics only; callers must not parse or derive meaning from
// their string form beyond the type's own constructor.
package ids

import (
	"fmt"

	"github.com/google/uuid"
)

// ProcessId uniquely identifies one live process (Channel, Branch, Worker,
// Compactor, or Cortex instance).
type ProcessId string

// NewProcessId allocates a fresh ProcessId prefixed with the process kind
// for debuggability; the prefix carries no semantic weight.
func NewProcessId(kind string) ProcessId {
	return ProcessId(fmt.Sprintf("%s-%s", kind, uuid.NewString()))
}

// ChannelId identifies one conversation, derived from its platform and
// scope. Stable across the Channel's lifetime; never reused after archival.
type ChannelId string

// NewChannelId derives a ChannelId from external conversation coordinates.
func NewChannelId(platform, scope string) ChannelId {
	return ChannelId(fmt.Sprintf("%s:%s", platform, scope))
}

// WorkerId identifies one Worker process.
type WorkerId string

// NewWorkerId allocates a fresh WorkerId.
func NewWorkerId() WorkerId {
	return WorkerId("worker-" + uuid.NewString())
}

// BranchId identifies one Branch process.
type BranchId string

// NewBranchId allocates a fresh BranchId.
func NewBranchId() BranchId {
	return BranchId("branch-" + uuid.NewString())
}

// MemoryId identifies one persisted Memory record.
type MemoryId string

// NewMemoryId allocates a fresh MemoryId.
func NewMemoryId() MemoryId {
	return MemoryId(uuid.NewString())
}
