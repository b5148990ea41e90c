package vectorindex_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillmind/memoryd/internal/model"
	"github.com/quillmind/memoryd/internal/vectorindex"
)

func TestSearchSimilarRanksByCosine(t *testing.T) {
	idx := vectorindex.New()
	require.NoError(t, idx.AddVectors([]vectorindex.Item{
		{ID: "a", Vector: model.Vector{1, 0, 0}},
		{ID: "b", Vector: model.Vector{0, 1, 0}},
		{ID: "c", Vector: model.Vector{0.9, 0.1, 0}},
	}))

	results, err := idx.SearchSimilar(model.Vector{1, 0, 0}, vectorindex.SearchOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "c", results[1].ID)
	assert.Equal(t, "b", results[2].ID)
}

func TestSearchSimilarAppliesThresholdAndLimit(t *testing.T) {
	idx := vectorindex.New()
	require.NoError(t, idx.AddVectors([]vectorindex.Item{
		{ID: "a", Vector: model.Vector{1, 0}},
		{ID: "b", Vector: model.Vector{0, 1}},
	}))

	results, err := idx.SearchSimilar(model.Vector{1, 0}, vectorindex.SearchOptions{Limit: 10, Threshold: 0.5})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)

	results, err = idx.SearchSimilar(model.Vector{1, 0}, vectorindex.SearchOptions{Limit: 1, Threshold: -1})
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestSearchSimilarRejectsDimensionMismatch(t *testing.T) {
	idx := vectorindex.New()
	require.NoError(t, idx.AddVectors([]vectorindex.Item{{ID: "a", Vector: model.Vector{1, 0, 0}}}))

	_, err := idx.SearchSimilar(model.Vector{1, 0}, vectorindex.SearchOptions{Limit: 10})
	require.Error(t, err)
}

func TestSearchSimilarEmptyIndex(t *testing.T) {
	idx := vectorindex.New()
	results, err := idx.SearchSimilar(model.Vector{1, 0}, vectorindex.SearchOptions{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRemoveAndUpdateVector(t *testing.T) {
	idx := vectorindex.New()
	require.NoError(t, idx.AddVectors([]vectorindex.Item{{ID: "a", Vector: model.Vector{1, 0}}}))
	assert.Equal(t, 1, idx.Stats().Count)

	idx.UpdateVector("a", model.Vector{0, 1}, "payload")
	results, err := idx.SearchSimilar(model.Vector{0, 1}, vectorindex.SearchOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "payload", results[0].Payload)

	idx.RemoveVectors([]string{"a"})
	assert.Equal(t, 0, idx.Stats().Count)
}

func TestSearchEnsembleWeightedRequiresMatchingWeights(t *testing.T) {
	idx := vectorindex.New()
	require.NoError(t, idx.AddVectors([]vectorindex.Item{{ID: "a", Vector: model.Vector{1, 0}}}))

	_, err := idx.SearchEnsemble([]model.Vector{{1, 0}, {0, 1}}, []float64{1}, vectorindex.AggregationWeighted, vectorindex.SearchOptions{Limit: 10})
	require.Error(t, err)
}

func TestSearchEnsembleMaxAggregation(t *testing.T) {
	idx := vectorindex.New()
	require.NoError(t, idx.AddVectors([]vectorindex.Item{{ID: "a", Vector: model.Vector{1, 0}}}))

	results, err := idx.SearchEnsemble([]model.Vector{{1, 0}, {0, 1}}, nil, vectorindex.AggregationMax, vectorindex.SearchOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-9)
}
