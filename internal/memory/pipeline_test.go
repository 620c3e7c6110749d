package memory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spacebot-ai/spacebot/internal/store"
)

// fakeEmbedder assigns deterministic embeddings so similarity-based
// assertions are stable without a real provider.
type fakeEmbedder struct {
	vectors map[string][]float32
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{0.01, 0.01, 0.01}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return 3 }
func (f *fakeEmbedder) Name() string    { return "fake" }

func newTestPipeline(t *testing.T) (*Pipeline, *Repository) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "memory.db")
	s, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	repo := NewRepository(s.DB())
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"user prefers dark mode":      {1, 0, 0},
		"user likes dark mode better": {0.99, 0.01, 0},
		"totally unrelated fact":      {0, 1, 0},
	}}
	p := NewPipeline(repo, embedder, DefaultSearchConfig(), 0.9, 0.95, 0.05)
	return p, repo
}

func TestSaveRejectsChannelCaller(t *testing.T) {
	p, _ := newTestPipeline(t)
	err := p.Save(context.Background(), "channel", &Memory{Content: "x", Kind: KindFact})
	assert.ErrorIs(t, err, ErrCallerNotPermitted)
}

func TestSaveAndRecallRoundTrip(t *testing.T) {
	p, _ := newTestPipeline(t)
	ctx := context.Background()

	err := p.Save(ctx, CallerBranch, &Memory{Content: "user prefers dark mode", Kind: KindPreference, Importance: 0.8})
	require.NoError(t, err)

	results, err := p.Recall(ctx, CallerBranch, "user prefers dark mode", RecallFilter{}, 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "user prefers dark mode", results[0].Memory.Content)
}

func TestRecallRejectsChannelCaller(t *testing.T) {
	p, _ := newTestPipeline(t)
	_, err := p.Recall(context.Background(), "channel", "anything", RecallFilter{}, 5)
	assert.ErrorIs(t, err, ErrCallerNotPermitted)
}

func TestSaveHighSimilarityCreatesUpdatesEdgeWithoutDeletingOriginal(t *testing.T) {
	p, repo := newTestPipeline(t)
	ctx := context.Background()

	original := &Memory{Content: "user prefers dark mode", Kind: KindPreference, Importance: 0.8}
	require.NoError(t, p.Save(ctx, CallerBranch, original))

	updated := &Memory{Content: "user likes dark mode better", Kind: KindPreference, Importance: 0.8}
	require.NoError(t, p.Save(ctx, CallerBranch, updated))

	reloaded, err := repo.Load(ctx, original.ID)
	require.NoError(t, err)
	assert.False(t, reloaded.Forgotten, "original memory must not be deleted")
	assert.Less(t, reloaded.Importance, 0.8, "original memory's surfacing weight should decay")

	edges, err := repo.GetAssociations(ctx, updated.ID)
	require.NoError(t, err)
	var sawUpdates bool
	for _, e := range edges {
		if e.Relation == RelationUpdates {
			sawUpdates = true
		}
	}
	assert.True(t, sawUpdates, "expected an Updates edge from the new memory")
}

func TestForgetIsIdempotent(t *testing.T) {
	p, repo := newTestPipeline(t)
	ctx := context.Background()
	m := &Memory{Content: "temp fact", Kind: KindFact}
	require.NoError(t, p.Save(ctx, CallerCortex, m))

	first, err := repo.Forget(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := repo.Forget(ctx, m.ID)
	require.NoError(t, err)
	assert.False(t, second, "forgetting an already-forgotten memory should be a no-op")
}

func TestMaintainExemptsIdentityFromDecay(t *testing.T) {
	p, repo := newTestPipeline(t)
	ctx := context.Background()

	identity := &Memory{Content: "the agent's name is Spacebot", Kind: KindIdentity, Importance: 0.9}
	require.NoError(t, p.Save(ctx, CallerCortex, identity))

	require.NoError(t, p.Maintain(ctx, 50.0))

	reloaded, err := repo.Load(ctx, identity.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.9, reloaded.Importance)
}
