// Package channel implements the Channel process (§4.2): the single
// serialization point for one conversation, turn coalescing, and the
// non-blocking spawn rule.
package channel

import "time"

// TurnKind is the closed set of ChatTurn variants (§3 Data Model).
type TurnKind string

const (
	TurnUserInput           TurnKind = "user_input"
	TurnAgentReply          TurnKind = "agent_reply"
	TurnSystemNote          TurnKind = "system_note"
	TurnCompactionSummary   TurnKind = "compaction_summary"
	TurnBranchConclusion    TurnKind = "branch_conclusion"
	TurnWorkerTerminalNotice TurnKind = "worker_terminal_notice"
)

// ChatTurn is one entry in a Channel's history.
type ChatTurn struct {
	Kind      TurnKind
	Content   string
	CreatedAt time.Time
	SenderID  string // set for TurnUserInput
	BranchID  string // set for TurnBranchConclusion, for idempotency checks
	WorkerID  string // set for TurnWorkerTerminalNotice
}

// History is a Channel's ordered turn sequence, owned exclusively by that
// Channel (§3 Ownership).
type History struct {
	turns []ChatTurn
}

// Append adds a turn at the end of history.
func (h *History) Append(t ChatTurn) {
	h.turns = append(h.turns, t)
}

// Turns returns a read-only snapshot of the current history.
func (h *History) Turns() []ChatTurn {
	out := make([]ChatTurn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Len returns the number of turns.
func (h *History) Len() int { return len(h.turns) }

// HasBranchConclusion reports whether a BranchConclusion for branchID has
// already been inserted (§3 invariant ii: at most once per Branch).
func (h *History) HasBranchConclusion(branchID string) bool {
	for _, t := range h.turns {
		if t.Kind == TurnBranchConclusion && t.BranchID == branchID {
			return true
		}
	}
	return false
}

// LeadingSummaryCount returns how many CompactionSummary turns sit
// contiguously at the head of history, left there by earlier compaction
// passes.
func (h *History) LeadingSummaryCount() int {
	n := 0
	for n < len(h.turns) && h.turns[n].Kind == TurnCompactionSummary {
		n++
	}
	return n
}

// ReplaceWithSummary atomically swaps the oldest replacedCount
// non-summary turns for a single new CompactionSummary turn (§4.5:
// "atomic swap-in at a channel-scoped rendezvous point"). Turns already
// summarized by an earlier pass are left untouched at the head, and the
// new summary is inserted immediately before the first non-summary turn
// it replaces, so summaries stack chronologically rather than the newest
// folding the previous ones' text away.
func (h *History) ReplaceWithSummary(summary ChatTurn, replacedCount int) {
	start := h.LeadingSummaryCount()
	end := start + replacedCount
	if end > len(h.turns) {
		end = len(h.turns)
	}

	newHistory := make([]ChatTurn, 0, len(h.turns)-(end-start)+1)
	newHistory = append(newHistory, h.turns[:start]...)
	newHistory = append(newHistory, summary)
	newHistory = append(newHistory, h.turns[end:]...)
	h.turns = newHistory
}

// TruncateOldest drops the oldest non-CompactionSummary turns, leaving
// CompactionSummaries intact at the head (§4.5 emergency truncation).
// Returns the number of turns actually dropped.
func (h *History) TruncateOldest(count int) int {
	dropped := 0
	newHistory := h.turns[:0:0]
	skipped := 0
	for _, t := range h.turns {
		if t.Kind != TurnCompactionSummary && skipped < count {
			skipped++
			dropped++
			continue
		}
		newHistory = append(newHistory, t)
	}
	h.turns = newHistory
	return dropped
}
