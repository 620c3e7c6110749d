package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/spacebot-ai/spacebot/internal/embedding"
	"github.com/spacebot-ai/spacebot/internal/ids"
	"github.com/spacebot-ai/spacebot/internal/logging"
)

// Caller identifies which process kind is invoking a write path. Only
// Branch, compaction Worker, and Cortex may write (§4.8 write paths); a
// Channel must never call Save directly.
type Caller string

const (
	CallerBranch            Caller = "branch"
	CallerCompactionWorker  Caller = "compaction_worker"
	CallerCortex            Caller = "cortex"
)

var ErrCallerNotPermitted = fmt.Errorf("memory: caller not permitted to write")

// RecallFilter narrows a recall's results.
type RecallFilter struct {
	Kind            Kind   // zero value means any kind
	UserAssociation string // empty means any
	ExcludeForgotten bool
}

// RecallResult is one fused, filtered recall hit.
type RecallResult struct {
	Memory *Memory
	Score  float64
}

// Pipeline is the sole read/write surface over the persisted memory graph
// (§4.8). Channels never call it; Branches, compaction Workers, and the
// Cortex do.
type Pipeline struct {
	repo     *Repository
	embedder embedding.EmbeddingEngine
	cfg      SearchConfig

	updatesThreshold float64
	mergeThreshold   float64
	importanceFloor  float64
}

// NewPipeline constructs a Pipeline over a repository and embedding engine.
func NewPipeline(repo *Repository, embedder embedding.EmbeddingEngine, cfg SearchConfig, updatesThreshold, mergeThreshold, importanceFloor float64) *Pipeline {
	return &Pipeline{
		repo:             repo,
		embedder:         embedder,
		cfg:              cfg,
		updatesThreshold: updatesThreshold,
		mergeThreshold:   mergeThreshold,
		importanceFloor:  importanceFloor,
	}
}

// Save persists a new Memory: computes its embedding, writes it, then
// auto-associates it with similar existing memories, promoting a
// high-similarity match to an Updates edge (§4.8 write path, Testable
// Property #8).
func (p *Pipeline) Save(ctx context.Context, caller Caller, m *Memory) error {
	if caller != CallerBranch && caller != CallerCompactionWorker && caller != CallerCortex {
		return ErrCallerNotPermitted
	}

	if m.ID == "" {
		m.ID = ids.NewMemoryId()
	}
	if len(m.Embedding) == 0 && p.embedder != nil {
		vec, err := p.embedder.Embed(ctx, m.Content)
		if err != nil {
			return fmt.Errorf("embed memory: %w", err)
		}
		m.Embedding = vec
	}

	if err := p.repo.Save(ctx, m); err != nil {
		return err
	}

	if err := p.autoAssociate(ctx, m); err != nil {
		logging.MemoryWarn("auto-associate failed for %s: %v", m.ID, err)
	}

	return nil
}

// autoAssociate links a freshly-saved memory to its most similar existing
// peers, applying the Updates-edge promotion rule above a high-similarity
// threshold.
func (p *Pipeline) autoAssociate(ctx context.Context, m *Memory) error {
	if len(m.Embedding) == 0 {
		return nil
	}

	existing, err := p.repo.AllNonForgotten(ctx)
	if err != nil {
		return err
	}

	const topK = 5
	const relateThreshold = 0.75
	ranked := vectorRank(m.Embedding, existing, topK+1) // +1: existing list may include m itself pre-commit in rare races

	for _, other := range ranked {
		if other.ID == m.ID {
			continue
		}
		sim := cosineSimilarity(m.Embedding, other.Embedding)
		if sim < relateThreshold {
			continue
		}

		if sim >= p.updatesThreshold {
			if err := p.repo.CreateAssociation(ctx, Association{SourceID: m.ID, TargetID: other.ID, Relation: RelationUpdates, Weight: sim}); err != nil {
				return err
			}
			other.Importance *= 0.7 // decay the superseded memory's surfacing weight
			if err := p.repo.Update(ctx, other); err != nil {
				logging.MemoryWarn("failed to decay superseded memory %s: %v", other.ID, err)
			}
			continue
		}

		if err := p.repo.CreateAssociation(ctx, Association{SourceID: m.ID, TargetID: other.ID, Relation: RelationRelatedTo, Weight: sim}); err != nil {
			return err
		}
	}
	return nil
}

// MarkContradiction records an explicit contradiction signal between two
// memories, per the open-question resolution in §9 DESIGN NOTES.
func (p *Pipeline) MarkContradiction(ctx context.Context, a, b ids.MemoryId, weight float64) error {
	return p.repo.CreateAssociation(ctx, Association{SourceID: a, TargetID: b, Relation: RelationContradicts, Weight: weight})
}

// Recall performs the hybrid read path (§4.8 read path): parallel vector
// and full-text search, RRF fusion, optional graph-walk expansion, then
// filtering, capped at limit. Only a Branch or the Cortex may call this.
func (p *Pipeline) Recall(ctx context.Context, caller Caller, query string, filter RecallFilter, limit int) ([]RecallResult, error) {
	if caller != CallerBranch && caller != CallerCortex {
		return nil, ErrCallerNotPermitted
	}

	timer := logging.StartTimer(logging.CategoryMemory, "Recall")
	defer timer.Stop()

	var queryVec []float32
	if p.embedder != nil {
		v, err := p.embedder.Embed(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		queryVec = v
	}

	var vectorRanked []*Memory
	if queryVec != nil {
		ranked, err := p.repo.SearchVector(ctx, queryVec, p.cfg.MaxResultsPerSource)
		if err != nil {
			logging.MemoryWarn("SQL vector search failed, falling back to full scan: %v", err)
			all, loadErr := p.repo.AllNonForgotten(ctx)
			if loadErr != nil {
				return nil, fmt.Errorf("load candidates: %w", loadErr)
			}
			vectorRanked = vectorRank(queryVec, all, p.cfg.MaxResultsPerSource)
		} else {
			vectorRanked = ranked
		}
	}

	textRanked, err := p.repo.SearchFullText(ctx, query, p.cfg.MaxResultsPerSource)
	if err != nil {
		logging.MemoryWarn("full-text search failed, continuing with vector-only: %v", err)
		textRanked = nil
	}

	fused := ReciprocalRankFusion(p.cfg.RRFK, vectorRanked, textRanked)

	walked, err := graphWalk(ctx, p.repo, fused, p.cfg.MaxGraphDepth, 0.3)
	if err != nil {
		logging.MemoryWarn("graph walk failed, using fused results only: %v", err)
		walked = fused
	}

	out := make([]RecallResult, 0, limit)
	for _, s := range walked {
		if s.score < p.cfg.MinScore {
			continue
		}
		if !passesFilter(s.memory, filter) {
			continue
		}
		out = append(out, RecallResult{Memory: s.memory, Score: s.score})
		if err := p.repo.RecordAccess(ctx, s.memory.ID); err != nil {
			logging.MemoryWarn("record access failed for %s: %v", s.memory.ID, err)
		}
		if len(out) >= limit {
			break
		}
	}

	return out, nil
}

func passesFilter(m *Memory, f RecallFilter) bool {
	if f.ExcludeForgotten && m.Forgotten {
		return false
	}
	if f.Kind != "" && m.Kind != f.Kind {
		return false
	}
	if f.UserAssociation != "" && m.UserAssociation != f.UserAssociation {
		return false
	}
	return true
}

// Maintain runs the periodic maintenance job (§4.8): time decay of
// non-Identity memories, pruning below the importance floor (soft
// "forgotten" flag), and merging near-duplicates.
func (p *Pipeline) Maintain(ctx context.Context, decayRate float64) error {
	timer := logging.StartTimer(logging.CategoryMemory, "Maintain")
	defer timer.Stop()

	all, err := p.repo.AllNonForgotten(ctx)
	if err != nil {
		return fmt.Errorf("maintenance load: %w", err)
	}

	now := time.Now().UTC()
	for _, m := range all {
		if m.Kind == KindIdentity {
			continue
		}
		age := now.Sub(m.LastAccessedAt).Hours() / 24.0
		if age <= 0 {
			continue
		}
		m.Importance = m.Importance * (1.0 - decayRate*age/365.0)
		m.ClampImportance()

		if m.Importance < p.importanceFloor {
			if _, err := p.repo.Forget(ctx, m.ID); err != nil {
				logging.MemoryWarn("prune failed for %s: %v", m.ID, err)
			}
			continue
		}
		if err := p.repo.Update(ctx, m); err != nil {
			logging.MemoryWarn("decay update failed for %s: %v", m.ID, err)
		}
	}

	return p.mergeDuplicates(ctx, all)
}

// mergeDuplicates folds near-duplicate memories (cosine similarity at or
// above the merge threshold) into the earliest-created record, unioning
// edges. A merge is idempotent: re-running against already-merged
// memories is a no-op since the duplicates are forgotten.
func (p *Pipeline) mergeDuplicates(ctx context.Context, all []*Memory) error {
	merged := make(map[ids.MemoryId]bool)

	for i, a := range all {
		if merged[a.ID] || a.Forgotten || len(a.Embedding) == 0 {
			continue
		}
		for j := i + 1; j < len(all); j++ {
			b := all[j]
			if merged[b.ID] || b.Forgotten || len(b.Embedding) == 0 {
				continue
			}
			if cosineSimilarity(a.Embedding, b.Embedding) < p.mergeThreshold {
				continue
			}

			survivor, victim := a, b
			if victim.CreatedAt.Before(survivor.CreatedAt) {
				survivor, victim = victim, survivor
			}

			edges, err := p.repo.GetAssociations(ctx, victim.ID)
			if err != nil {
				logging.MemoryWarn("merge: failed to load victim edges: %v", err)
			}
			for _, e := range edges {
				source, target := e.SourceID, e.TargetID
				if source == victim.ID {
					source = survivor.ID
				}
				if target == victim.ID {
					target = survivor.ID
				}
				if source == target {
					continue
				}
				if err := p.repo.CreateAssociation(ctx, Association{SourceID: source, TargetID: target, Relation: e.Relation, Weight: e.Weight}); err != nil {
					logging.MemoryWarn("merge: failed to re-home edge: %v", err)
				}
			}

			if _, err := p.repo.Forget(ctx, victim.ID); err != nil {
				logging.MemoryWarn("merge: failed to forget victim %s: %v", victim.ID, err)
				continue
			}
			merged[victim.ID] = true
		}
	}

	return nil
}
