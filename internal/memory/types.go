// Package memory implements the Memory Pipeline (§4.8): persisted Memory
// and Association records, hybrid recall fused by Reciprocal Rank Fusion,
// graph-walk expansion, and periodic maintenance.
package memory

import (
	"time"

	"github.com/spacebot-ai/spacebot/internal/ids"
)

// Kind is the closed set of Memory categories.
type Kind string

const (
	KindFact        Kind = "fact"
	KindPreference  Kind = "preference"
	KindDecision    Kind = "decision"
	KindIdentity    Kind = "identity"
	KindEvent       Kind = "event"
	KindObservation Kind = "observation"
	KindGoal        Kind = "goal"
)

// AllKinds lists every Memory kind, in the order the Cortex issues its
// per-kind recall during bulletin generation (§4.6 step 2).
var AllKinds = []Kind{
	KindIdentity, KindFact, KindDecision, KindEvent,
	KindPreference, KindObservation, KindGoal,
}

// Relation is the closed set of Association edge types (§3 Data Model).
// This enumeration is intentionally not extended with the original Rust
// implementation's additional ResultOf variant; see SPEC_FULL.md §3.1.
type Relation string

const (
	RelationRelatedTo   Relation = "related_to"
	RelationUpdates     Relation = "updates"
	RelationContradicts Relation = "contradicts"
	RelationCausedBy    Relation = "caused_by"
	RelationPartOf      Relation = "part_of"
)

// Memory is a persisted record in the agent's long-term store.
type Memory struct {
	ID             ids.MemoryId
	Content        string
	Kind           Kind
	Importance     float64 // clamped to [0,1]
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastAccessedAt time.Time
	AccessCount    int
	SourceChannel  string
	UserAssociation string
	Forgotten      bool
	Embedding      []float32
}

// ClampImportance enforces the [0,1] invariant (§3 invariant iv). Identity
// memories are exempt from decay, not from clamping.
func (m *Memory) ClampImportance() {
	if m.Importance < 0 {
		m.Importance = 0
	}
	if m.Importance > 1 {
		m.Importance = 1
	}
}

// Association is a directed, weighted edge between two Memory ids.
type Association struct {
	SourceID  ids.MemoryId
	TargetID  ids.MemoryId
	Relation  Relation
	Weight    float64
	CreatedAt time.Time
}

// relationMultiplier weights a graph-walk hop by edge semantics, grounded
// on the original implementation's traversal scoring.
var relationMultiplier = map[Relation]float64{
	RelationUpdates:     1.5,
	RelationCausedBy:    1.3,
	RelationRelatedTo:   1.0,
	RelationContradicts: 0.5,
	RelationPartOf:      0.8,
}

// RelationMultiplier returns the graph-walk score multiplier for a
// relation, defaulting to 1.0 for any value outside the known set (there
// is none, since Relation is closed, but this keeps the function total).
func RelationMultiplier(r Relation) float64 {
	if m, ok := relationMultiplier[r]; ok {
		return m
	}
	return 1.0
}
