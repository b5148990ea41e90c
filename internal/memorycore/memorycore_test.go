package memorycore_test

import (
	"context"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillmind/memoryd/internal/config"
	"github.com/quillmind/memoryd/internal/embed"
	"github.com/quillmind/memoryd/internal/embedworker"
	"github.com/quillmind/memoryd/internal/memorycore"
	"github.com/quillmind/memoryd/internal/migration"
	"github.com/quillmind/memoryd/internal/model"
	"github.com/quillmind/memoryd/internal/store/gormstore"
)

// deterministicEmbedder turns text into a stable low-dimension vector via
// its sha256 hash, so the same text always maps to the same vector (cosine
// similarity 1 with itself) without depending on any real provider.
type deterministicEmbedder struct{ fail bool }

func (e *deterministicEmbedder) Embed(_ context.Context, text string) (model.Vector, error) {
	if e.fail {
		return nil, assert.AnError
	}
	sum := sha256.Sum256([]byte(text))
	v := make(model.Vector, 8)
	for i := range v {
		v[i] = float32(sum[i]) / 255
	}
	return v, nil
}
func (e *deterministicEmbedder) EmbedTexts(ctx context.Context, texts []string) ([]model.Vector, error) {
	out := make([]model.Vector, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
func (e *deterministicEmbedder) Dimension() int    { return 8 }
func (e *deterministicEmbedder) ModelName() string { return "deterministic-test" }

var _ embed.Embedder = (*deterministicEmbedder)(nil)

func newTestCore(t *testing.T, embedder embed.Embedder) *memorycore.Core {
	t.Helper()
	ctx := context.Background()

	st, err := gormstore.Open(gormstore.DialectSQLite, ":memory:", 1, 1)
	require.NoError(t, err)
	engine := migration.New(st.DB(), "sqlite")
	require.NoError(t, engine.EnsureTable(ctx))
	require.NoError(t, engine.Up(ctx, 0))

	worker := embedworker.New(st, embedder, embedworker.Config{
		BatchSize: 10, MaxRetries: 1, RetryBaseDelay: 0, InterBatchPause: 0,
	})
	cfg := config.DefaultConfig()
	return memorycore.New(st, embedder, worker, cfg)
}

func TestAddMemorySyncEmbedsImmediately(t *testing.T) {
	core := newTestCore(t, &deterministicEmbedder{})
	ctx := context.Background()

	res, err := core.AddMemory(ctx, "u1", "Title", "some durable fact", memorycore.AddMemoryOptions{
		EmbedMode: config.EmbedSync,
	})
	require.NoError(t, err)
	assert.True(t, res.HasEmbedding)
	assert.False(t, res.EmbeddingQueued)
}

func TestAddMemoryDisabledNeverCallsEmbedder(t *testing.T) {
	core := newTestCore(t, &deterministicEmbedder{fail: true})
	ctx := context.Background()

	res, err := core.AddMemory(ctx, "u1", "Title", "content", memorycore.AddMemoryOptions{
		EmbedMode: config.EmbedDisabled,
	})
	require.NoError(t, err, "a failing embedder must never fail addMemory in disabled mode")
	assert.False(t, res.HasEmbedding)
	assert.False(t, res.EmbeddingQueued)
}

func TestAddMemoryRequiresUserAndContent(t *testing.T) {
	core := newTestCore(t, &deterministicEmbedder{})
	ctx := context.Background()

	_, err := core.AddMemory(ctx, "", "t", "c", memorycore.AddMemoryOptions{})
	require.Error(t, err)

	_, err = core.AddMemory(ctx, "u1", "t", "", memorycore.AddMemoryOptions{})
	require.Error(t, err)
}

func TestAddMemoryDropsUnknownEntityIDs(t *testing.T) {
	core := newTestCore(t, &deterministicEmbedder{})
	ctx := context.Background()

	res, err := core.AddMemory(ctx, "u1", "t", "c", memorycore.AddMemoryOptions{
		EntityIDs: []string{"does-not-exist"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"does-not-exist"}, res.DroppedEntityIDs)
}

func TestGetMemoryIsUserScoped(t *testing.T) {
	core := newTestCore(t, &deterministicEmbedder{})
	ctx := context.Background()

	res, err := core.AddMemory(ctx, "u1", "t", "c", memorycore.AddMemoryOptions{EmbedMode: config.EmbedDisabled})
	require.NoError(t, err)

	got, err := core.GetMemory(ctx, "u2", res.ID)
	require.NoError(t, err)
	assert.Nil(t, got, "another user must never see this memory")

	got, err = core.GetMemory(ctx, "u1", res.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestUpdateMemoryClearsEmbeddingOnContentChange(t *testing.T) {
	core := newTestCore(t, &deterministicEmbedder{})
	ctx := context.Background()

	res, err := core.AddMemory(ctx, "u1", "t", "original content", memorycore.AddMemoryOptions{EmbedMode: config.EmbedSync})
	require.NoError(t, err)
	require.True(t, res.HasEmbedding)

	newContent := "changed content"
	updated, err := core.UpdateMemory(ctx, "u1", res.ID, memorycore.MemoryUpdate{Content: &newContent})
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.False(t, updated.HasEmbedding(), "content change must clear the stale embedding")
}

func TestUpdateMemoryImportanceOnlyKeepsEmbedding(t *testing.T) {
	core := newTestCore(t, &deterministicEmbedder{})
	ctx := context.Background()

	res, err := core.AddMemory(ctx, "u1", "t", "content", memorycore.AddMemoryOptions{EmbedMode: config.EmbedSync})
	require.NoError(t, err)
	require.True(t, res.HasEmbedding)

	importance := 0.9
	updated, err := core.UpdateMemory(ctx, "u1", res.ID, memorycore.MemoryUpdate{Importance: &importance})
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.True(t, updated.HasEmbedding())
	assert.InDelta(t, 0.9, updated.Importance, 1e-9)
}

func TestDeleteMemoryIsUserScoped(t *testing.T) {
	core := newTestCore(t, &deterministicEmbedder{})
	ctx := context.Background()

	res, err := core.AddMemory(ctx, "u1", "t", "c", memorycore.AddMemoryOptions{EmbedMode: config.EmbedDisabled})
	require.NoError(t, err)

	ok, err := core.DeleteMemory(ctx, "u2", res.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = core.DeleteMemory(ctx, "u1", res.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRecallMemoriesEmptyQueryReturnsLatest(t *testing.T) {
	core := newTestCore(t, &deterministicEmbedder{})
	ctx := context.Background()

	_, err := core.AddMemory(ctx, "u1", "first", "content one", memorycore.AddMemoryOptions{EmbedMode: config.EmbedDisabled})
	require.NoError(t, err)
	_, err = core.AddMemory(ctx, "u1", "second", "content two", memorycore.AddMemoryOptions{EmbedMode: config.EmbedDisabled})
	require.NoError(t, err)

	resp, err := core.RecallMemories(ctx, "u1", "", memorycore.RecallOptions{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 2)
}

func TestRecallMemoriesSimilarityDoesNotFallBackOnEmbedderFailure(t *testing.T) {
	core := newTestCore(t, &deterministicEmbedder{fail: true})
	ctx := context.Background()

	_, err := core.RecallMemories(ctx, "u1", "some query", memorycore.RecallOptions{
		Strategy: memorycore.StrategySimilarity, Limit: 10,
	})
	require.Error(t, err, "similarity mode must surface embedder failure, not silently fall back")
}

func TestRecallMemoriesCompositeDegradesOnEmbedderFailure(t *testing.T) {
	core := newTestCore(t, &deterministicEmbedder{fail: true})
	ctx := context.Background()
	_, err := core.AddMemory(ctx, "u1", "Paris", "Paris vacation notes", memorycore.AddMemoryOptions{EmbedMode: config.EmbedDisabled})
	require.NoError(t, err)

	resp, err := core.RecallMemories(ctx, "u1", "Paris", memorycore.RecallOptions{
		Strategy: memorycore.StrategyComposite, Limit: 10,
	})
	require.NoError(t, err, "composite mode must degrade to text-only rather than error")
	assert.True(t, resp.Degraded)
	require.Len(t, resp.Results, 1)
}

func TestGetStatistics(t *testing.T) {
	core := newTestCore(t, &deterministicEmbedder{})
	ctx := context.Background()

	_, err := core.AddMemory(ctx, "u1", "t", "c", memorycore.AddMemoryOptions{EmbedMode: config.EmbedSync})
	require.NoError(t, err)
	_, err = core.AddMemory(ctx, "u1", "t2", "c2", memorycore.AddMemoryOptions{EmbedMode: config.EmbedDisabled})
	require.NoError(t, err)

	stats, err := core.GetStatistics(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Total)
	assert.Equal(t, int64(1), stats.WithEmbedding)
	assert.InDelta(t, 0.5, stats.EmbeddingCoverage, 1e-9)
}

func TestGetStatisticsRequiresUserID(t *testing.T) {
	core := newTestCore(t, &deterministicEmbedder{})
	_, err := core.GetStatistics(context.Background(), "")
	require.Error(t, err)
}
