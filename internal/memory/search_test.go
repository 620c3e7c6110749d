package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReciprocalRankFusionMatchesWorkedExample(t *testing.T) {
	a := &Memory{ID: "a"}
	b := &Memory{ID: "b"}
	c := &Memory{ID: "c"}
	d := &Memory{ID: "d"}

	vectorRanked := []*Memory{a, b, c}
	textRanked := []*Memory{b, d, a}

	fused := ReciprocalRankFusion(60, vectorRanked, textRanked)
	require.Len(t, fused, 4)

	order := make([]string, len(fused))
	for i, s := range fused {
		order[i] = string(s.memory.ID)
	}
	assert.Equal(t, []string{"b", "a", "d", "c"}, order)

	scoreByID := map[string]float64{}
	for _, s := range fused {
		scoreByID[string(s.memory.ID)] = s.score
	}
	assert.InDelta(t, 1.0/61+1.0/63, scoreByID["a"], 1e-9)
	assert.InDelta(t, 1.0/62+1.0/61, scoreByID["b"], 1e-9)
	assert.InDelta(t, 1.0/63, scoreByID["c"], 1e-9)
	assert.InDelta(t, 1.0/62, scoreByID["d"], 1e-9)
}

func TestCosineSimilarityIdenticalVectors(t *testing.T) {
	v := []float32{1, 2, 3}
	assert.InDelta(t, 1.0, cosineSimilarity(v, v), 1e-9)
}

func TestCosineSimilarityZeroMagnitude(t *testing.T) {
	assert.Equal(t, 0.0, cosineSimilarity([]float32{0, 0}, []float32{1, 1}))
}

func TestVectorRankOrdersBySimilarityDescending(t *testing.T) {
	query := []float32{1, 0}
	close := &Memory{ID: "close", Embedding: []float32{0.9, 0.1}}
	far := &Memory{ID: "far", Embedding: []float32{0, 1}}
	noEmbedding := &Memory{ID: "none"}

	ranked := vectorRank(query, []*Memory{far, close, noEmbedding}, 10)
	require.Len(t, ranked, 2)
	assert.Equal(t, "close", string(ranked[0].ID))
}
