// Package vectorindex implements the in-memory, per-query/per-user cosine-
// similarity index (C4 in spec.md §4.4). The teacher's own vector-store
// plugins (internal/registry/vector, pgvector/qdrant backends) are
// persistent external stores; this is deliberately not one of those — it
// is a linear-scan structure that lives for the duration of a search call
// or is cached per user, so it is built fresh rather than adapted from a
// teacher file. The package shape (an interchangeable, named component
// with Add/Remove/Update/Search operations) still follows the teacher's
// plugin idiom even though the implementation is new.
package vectorindex

import (
	"sort"
	"sync"

	"github.com/quillmind/memoryd/internal/embed"
	"github.com/quillmind/memoryd/internal/errs"
	"github.com/quillmind/memoryd/internal/model"
)

// Item is one (id, vector, payload) tuple held by the index.
type Item struct {
	ID     string
	Vector model.Vector
	// Payload carries whatever the caller needs back out of a search
	// (e.g. updated_at, interaction_count, importance) without a second
	// store round-trip.
	Payload any
}

// Result is one ranked hit.
type Result struct {
	ID         string
	Similarity float64
	Distance   float64
	Payload    any
}

// Aggregation selects how searchEnsemble combines per-query similarities.
type Aggregation string

const (
	AggregationMean     Aggregation = "mean"
	AggregationWeighted Aggregation = "weighted"
	AggregationMax      Aggregation = "max"
)

// SearchOptions configures SearchSimilar.
type SearchOptions struct {
	Limit           int
	Threshold       float64
	IncludeDistance bool
}

// Stats summarizes the index's current contents.
type Stats struct {
	Count     int
	Dimension int
}

// Index is a thread-safe, in-memory linear-scan cosine index. The zero
// value is not usable; use New.
type Index struct {
	mu    sync.RWMutex
	items map[string]Item
	dim   int
}

// New returns an empty index.
func New() *Index {
	return &Index{items: make(map[string]Item)}
}

// AddVectors inserts or replaces items by id.
func (idx *Index) AddVectors(items []Item) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, it := range items {
		if idx.dim == 0 && len(it.Vector) > 0 {
			idx.dim = len(it.Vector)
		}
		idx.items[it.ID] = it
	}
	return nil
}

// RemoveVectors deletes items by id; unknown ids are ignored.
func (idx *Index) RemoveVectors(ids []string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, id := range ids {
		delete(idx.items, id)
	}
}

// UpdateVector replaces (or inserts) a single item's vector and payload.
func (idx *Index) UpdateVector(id string, v model.Vector, payload any) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.dim == 0 && len(v) > 0 {
		idx.dim = len(v)
	}
	idx.items[id] = Item{ID: id, Vector: v, Payload: payload}
}

// Clear empties the index.
func (idx *Index) Clear() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.items = make(map[string]Item)
	idx.dim = 0
}

// Stats reports item count and the index's established dimension (0 if
// empty).
func (idx *Index) Stats() Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return Stats{Count: len(idx.items), Dimension: idx.dim}
}

// SearchSimilar ranks every item in the index against q by cosine
// similarity, filters by threshold, sorts descending (ties broken by id
// ascending), and truncates to Limit.
func (idx *Index) SearchSimilar(q model.Vector, opts SearchOptions) ([]Result, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(idx.items) == 0 {
		return nil, nil
	}
	if idx.dim != 0 && len(q) != idx.dim {
		return nil, &errs.ValidationError{Field: "query_vector", Message: "dimension does not match index dimension"}
	}

	results := make([]Result, 0, len(idx.items))
	for id, it := range idx.items {
		sim := embed.CosineSimilarity(q, it.Vector)
		if sim < opts.Threshold {
			continue
		}
		r := Result{ID: id, Similarity: sim, Payload: it.Payload}
		if opts.IncludeDistance {
			r.Distance = 1 - sim
		}
		results = append(results, r)
	}
	sortResults(results)
	return truncate(results, opts.Limit), nil
}

// SearchEnsemble aggregates per-query similarity across multiple query
// vectors before ranking. weighted aggregation requires len(weights) ==
// len(qs); any other mismatch is a Validation error.
func (idx *Index) SearchEnsemble(qs []model.Vector, weights []float64, agg Aggregation, opts SearchOptions) ([]Result, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(idx.items) == 0 {
		return nil, nil
	}
	if len(qs) == 0 {
		return nil, &errs.ValidationError{Field: "qs", Message: "must not be empty"}
	}
	for _, q := range qs {
		if idx.dim != 0 && len(q) != idx.dim {
			return nil, &errs.ValidationError{Field: "query_vector", Message: "dimension does not match index dimension"}
		}
	}
	if agg == AggregationWeighted && len(weights) != len(qs) {
		return nil, &errs.ValidationError{Field: "weights", Message: "must have one weight per query vector"}
	}

	results := make([]Result, 0, len(idx.items))
	for id, it := range idx.items {
		sims := make([]float64, len(qs))
		for i, q := range qs {
			sims[i] = embed.CosineSimilarity(q, it.Vector)
		}
		sim := aggregate(sims, weights, agg)
		if sim < opts.Threshold {
			continue
		}
		r := Result{ID: id, Similarity: sim, Payload: it.Payload}
		if opts.IncludeDistance {
			r.Distance = 1 - sim
		}
		results = append(results, r)
	}
	sortResults(results)
	return truncate(results, opts.Limit), nil
}

func aggregate(sims []float64, weights []float64, agg Aggregation) float64 {
	switch agg {
	case AggregationMax:
		max := sims[0]
		for _, s := range sims[1:] {
			if s > max {
				max = s
			}
		}
		return max
	case AggregationWeighted:
		var sum, wsum float64
		for i, s := range sims {
			sum += s * weights[i]
			wsum += weights[i]
		}
		if wsum == 0 {
			return 0
		}
		return sum / wsum
	default: // mean
		var sum float64
		for _, s := range sims {
			sum += s
		}
		return sum / float64(len(sims))
	}
}

func sortResults(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].ID < results[j].ID
	})
}

func truncate(results []Result, limit int) []Result {
	if limit <= 0 {
		return []Result{}
	}
	if limit >= len(results) {
		return results
	}
	return results[:limit]
}
