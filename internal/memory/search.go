package memory

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/spacebot-ai/spacebot/internal/ids"
	"github.com/spacebot-ai/spacebot/internal/logging"
)

// SearchConfig tunes the hybrid recall pipeline, grounded on the original
// implementation's SearchConfig defaults (original_source/src/memory/search.rs).
type SearchConfig struct {
	MaxResultsPerSource int
	RRFK                float64
	MinScore            float64
	MaxGraphDepth       int
}

// DefaultSearchConfig mirrors the original's `SearchConfig::default()`.
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		MaxResultsPerSource: 50,
		RRFK:                60.0,
		MinScore:            0.0,
		MaxGraphDepth:       2,
	}
}

// scored pairs a Memory with its fused recall score.
type scored struct {
	memory *Memory
	score  float64
}

// ReciprocalRankFusion merges ranked result lists from independent search
// sources into one score per Memory id: score(m) = Σ 1/(k + rank_source(m))
// where rank_source is the 1-indexed position of m within that source's
// list (§4.8 step 2, Testable Property #9).
func ReciprocalRankFusion(k float64, rankedLists ...[]*Memory) []scored {
	byID := make(map[ids.MemoryId]*Memory)
	acc := make(map[ids.MemoryId]float64)

	for _, list := range rankedLists {
		for rank, m := range list {
			if m == nil {
				continue
			}
			byID[m.ID] = m
			acc[m.ID] += 1.0 / (k + float64(rank+1))
		}
	}

	out := make([]scored, 0, len(acc))
	for id, s := range acc {
		out = append(out, scored{memory: byID[id], score: s})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].memory.ID < out[j].memory.ID
	})
	return out
}

// graphWalk expands seed memories one or two hops along edges above a
// weight threshold, boosting scores for highly-connected context. Only
// RelatedTo and PartOf edges continue the traversal, matching the
// original's BFS (original_source/src/memory/search.rs traverse_graph).
func graphWalk(ctx context.Context, repo *Repository, seeds []scored, maxDepth int, weightThreshold float64) ([]scored, error) {
	visited := make(map[ids.MemoryId]bool)
	results := make(map[ids.MemoryId]scored)

	type frontier struct {
		id    ids.MemoryId
		depth int
	}

	var queue []frontier
	for _, s := range seeds {
		visited[s.memory.ID] = true
		results[s.memory.ID] = s
		queue = append(queue, frontier{id: s.memory.ID, depth: 0})
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= maxDepth {
			continue
		}

		edges, err := repo.GetAssociations(ctx, cur.id)
		if err != nil {
			return nil, fmt.Errorf("graph walk associations: %w", err)
		}

		for _, e := range edges {
			if e.Weight < weightThreshold {
				continue
			}
			other := e.TargetID
			if other == cur.id {
				other = e.SourceID
			}
			if visited[other] {
				continue
			}

			m, err := repo.Load(ctx, other)
			if err != nil {
				continue
			}
			boosted := scored{
				memory: m,
				score:  m.Importance * e.Weight * RelationMultiplier(e.Relation),
			}
			visited[other] = true
			results[other] = boosted

			if e.Relation == RelationRelatedTo || e.Relation == RelationPartOf {
				queue = append(queue, frontier{id: other, depth: cur.depth + 1})
			}
		}
	}

	out := make([]scored, 0, len(results))
	for _, s := range results {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].score > out[j].score })
	return out, nil
}

// cosineSimilarity computes the cosine similarity between two equal-length
// embeddings, returning 0 for a zero-magnitude vector.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

// vectorRank orders candidates by descending cosine similarity to query,
// truncated to limit. Candidates without an embedding are skipped.
func vectorRank(query []float32, candidates []*Memory, limit int) []*Memory {
	type hit struct {
		m   *Memory
		sim float64
	}
	hits := make([]hit, 0, len(candidates))
	for _, m := range candidates {
		if len(m.Embedding) == 0 {
			continue
		}
		hits = append(hits, hit{m: m, sim: cosineSimilarity(query, m.Embedding)})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].sim > hits[j].sim })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]*Memory, len(hits))
	for i, h := range hits {
		out[i] = h.m
	}
	logging.MemoryDebug("vectorRank: ranked %d/%d candidates", len(out), len(candidates))
	return out
}
