// Package memorycore implements the domain façade (C6 in spec.md §4.6)
// used by the RPC layer: add/update/recall/delete for Memory and Entity,
// composing the Store, Embedding Client, Vector Index, and Embedding
// Worker. Grounded on the teacher's internal/plugin/route/search/
// search.go, whose semantic-first/fulltext-fallback composition
// generalizes here into the fuller strategy set spec.md names.
package memorycore

import (
	"context"
	"strings"

	"github.com/quillmind/memoryd/internal/config"
	"github.com/quillmind/memoryd/internal/embed"
	"github.com/quillmind/memoryd/internal/embedworker"
	"github.com/quillmind/memoryd/internal/errs"
	"github.com/quillmind/memoryd/internal/model"
	"github.com/quillmind/memoryd/internal/store"
	"github.com/quillmind/memoryd/internal/vectorindex"
)

// Strategy selects recallMemories' retrieval algorithm.
type Strategy string

const (
	StrategySimilarity Strategy = "similarity"
	StrategyComposite  Strategy = "composite"
	StrategyRecency    Strategy = "recency"
	StrategyFrequency  Strategy = "frequency"
	StrategyImportance Strategy = "importance"
)

// AddMemoryOptions carries the caller-controllable parts of addMemory.
type AddMemoryOptions struct {
	Type      model.MemoryType
	Importance float64
	Tags      []string
	EntityIDs []string
	Metadata  model.Metadata
	EmbedMode config.EmbedMode
}

// AddMemoryResult is the response shape spec.md §4.6 mandates: callers can
// reason about eventual semantic searchability without a second round trip.
type AddMemoryResult struct {
	ID              string
	Title           string
	HasEmbedding    bool
	EmbeddingQueued bool
	DroppedEntityIDs []string
}

// RecallOptions configures recallMemories.
type RecallOptions struct {
	Strategy  Strategy
	Limit     int
	Threshold float64 // 0 means "use the strategy's default"
	VecWeight float64 // 0 means "use config default"
	TextWeight float64
}

// RecallResult is one ranked memory plus the signal it was found by.
type RecallResult struct {
	Memory model.Memory
	Score  float64
}

// RecallResponse wraps the result set with the degradation flag spec.md
// requires when composite mode loses its vector leg.
type RecallResponse struct {
	Results        []RecallResult
	TextOnly       bool
	Degraded       bool
	DegradedReason string
}

// Core is the domain façade. Stateless with respect to requests.
type Core struct {
	store    store.Store
	embedder embed.Embedder
	worker   *embedworker.Worker
	indexes  *indexCache
	cfg      config.Config
}

// New constructs a Core.
func New(st store.Store, embedder embed.Embedder, worker *embedworker.Worker, cfg config.Config) *Core {
	return &Core{store: st, embedder: embedder, worker: worker, indexes: newIndexCache(), cfg: cfg}
}

// AddMemory validates input, inserts the row, and resolves the embedding
// per mode. "disabled" and "async" never block on the embedder.
func (c *Core) AddMemory(ctx context.Context, userID, title, content string, opts AddMemoryOptions) (*AddMemoryResult, error) {
	if userID == "" {
		return nil, &errs.ValidationError{Field: "user_id", Message: "must not be empty"}
	}
	if content == "" {
		return nil, &errs.ValidationError{Field: "content", Message: "must not be empty"}
	}
	memType := opts.Type
	if memType == "" {
		memType = model.MemoryTypeMemory
	}

	importance := clampImportance(opts.Importance)
	tags := model.NewStringSet(opts.Tags)

	validEntityIDs, dropped, err := c.filterExistingEntities(ctx, userID, opts.EntityIDs)
	if err != nil {
		return nil, err
	}

	m := &model.Memory{
		UserID:     userID,
		Title:      title,
		Content:    content,
		MemoryType: memType,
		Importance: importance,
		Tags:       tags,
		EntityIDs:  model.NewStringSet(validEntityIDs),
		Metadata:   opts.Metadata,
	}

	mode := config.NormalizeEmbedMode(opts.EmbedMode, c.cfg.DefaultEmbedModeHTTP)

	if mode == config.EmbedSync {
		if vec, embErr := c.embedder.Embed(ctx, embeddingText(m)); embErr == nil {
			m.Embedding = vec
		}
		// Per spec.md §4.6: addMemory fails only if the write fails, never
		// because the (synchronous) embedding attempt failed.
	}

	if err := c.store.CreateMemory(ctx, m); err != nil {
		return nil, err
	}
	c.indexes.invalidate(userID)

	queued := false
	if mode == config.EmbedAsync && c.worker != nil {
		c.worker.QueueUpdate(ctx, userID, m.ID)
		queued = true
	}

	return &AddMemoryResult{
		ID:               m.ID,
		Title:            m.Title,
		HasEmbedding:     m.HasEmbedding(),
		EmbeddingQueued:  queued,
		DroppedEntityIDs: dropped,
	}, nil
}

func (c *Core) filterExistingEntities(ctx context.Context, userID string, ids []string) (valid []string, dropped []string, err error) {
	ids = model.NewStringSet(ids)
	if len(ids) == 0 {
		return nil, nil, nil
	}
	exists, err := c.store.EntitiesExist(ctx, userID, ids)
	if err != nil {
		return nil, nil, err
	}
	for _, id := range ids {
		if exists[id] {
			valid = append(valid, id)
		} else {
			dropped = append(dropped, id)
		}
	}
	return valid, dropped, nil
}

// MemoryUpdate carries the caller-facing fields an updateMemory call may
// change; it maps onto store.MemoryPatch without exposing id/user_id.
type MemoryUpdate struct {
	Title      *string
	Content    *string
	MemoryType *model.MemoryType
	Importance *float64
	Tags       *[]string
	EntityIDs  *[]string
	Metadata   *model.Metadata
	IsArchived *bool
}

// UpdateMemory applies patch; if content/title/tags/type change, the
// existing embedding is cleared and a re-embed is enqueued asynchronously.
// Importance/archived/metadata-only changes do not touch the embedding.
func (c *Core) UpdateMemory(ctx context.Context, userID, id string, patch MemoryUpdate) (*model.Memory, error) {
	if userID == "" {
		return nil, &errs.ValidationError{Field: "user_id", Message: "must not be empty"}
	}
	contentChanged := patch.Content != nil || patch.Title != nil || patch.Tags != nil || patch.MemoryType != nil

	storePatch := store.MemoryPatch{
		Title:      patch.Title,
		Content:    patch.Content,
		MemoryType: patch.MemoryType,
		Importance: patch.Importance,
		Metadata:   patch.Metadata,
		IsArchived: patch.IsArchived,
	}
	if patch.Tags != nil {
		set := model.NewStringSet(*patch.Tags)
		storePatch.Tags = &set
	}
	if patch.EntityIDs != nil {
		valid, _, err := c.filterExistingEntities(ctx, userID, *patch.EntityIDs)
		if err != nil {
			return nil, err
		}
		set := model.NewStringSet(valid)
		storePatch.EntityIDs = &set
	}
	if patch.Importance != nil {
		clamped := clampImportance(*patch.Importance)
		storePatch.Importance = &clamped
	}
	if contentChanged {
		var empty model.Vector
		storePatch.Embedding = &empty
	}

	m, err := c.store.UpdateMemory(ctx, id, userID, storePatch)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, nil
	}
	c.indexes.invalidate(userID)

	if contentChanged && c.worker != nil {
		c.worker.QueueUpdate(ctx, userID, m.ID)
	}
	return m, nil
}

// DeleteMemory removes the row; FTS cleanup is handled by the store's
// trigger/generated-column maintenance, not here.
func (c *Core) DeleteMemory(ctx context.Context, userID, id string) (bool, error) {
	if userID == "" {
		return false, &errs.ValidationError{Field: "user_id", Message: "must not be empty"}
	}
	ok, err := c.store.DeleteMemory(ctx, id, userID)
	if err != nil {
		return false, err
	}
	if ok {
		c.indexes.invalidate(userID)
	}
	return ok, nil
}

// GetMemory is a thin, user-scoped passthrough.
func (c *Core) GetMemory(ctx context.Context, userID, id string) (*model.Memory, error) {
	if userID == "" {
		return nil, &errs.ValidationError{Field: "user_id", Message: "must not be empty"}
	}
	return c.store.GetMemoryByID(ctx, id, userID)
}

// RecallMemories is the central retrieval algorithm; see spec.md §4.6 for
// the per-strategy thresholds and degrade rules encoded below.
func (c *Core) RecallMemories(ctx context.Context, userID, query string, opts RecallOptions) (*RecallResponse, error) {
	if userID == "" {
		return nil, &errs.ValidationError{Field: "user_id", Message: "must not be empty"}
	}
	strategy := opts.Strategy
	if strategy == "" {
		strategy = StrategyComposite
	}
	limit := opts.Limit
	if limit <= 0 {
		return &RecallResponse{Results: []RecallResult{}}, nil
	}

	// Empty query: return latest by updated_at, no vector call.
	if strings.TrimSpace(query) == "" {
		page, err := c.store.ListMemories(ctx, userID, store.MemoryFilters{}, limit, "")
		if err != nil {
			return nil, err
		}
		results := make([]RecallResult, len(page.Items))
		for i, m := range page.Items {
			results[i] = RecallResult{Memory: m, Score: 0}
		}
		return &RecallResponse{Results: results}, nil
	}

	switch strategy {
	case StrategySimilarity:
		return c.recallSimilarity(ctx, userID, query, opts)
	case StrategyRecency, StrategyFrequency, StrategyImportance:
		return c.recallCompositeSortedBy(ctx, userID, query, opts, strategy)
	default:
		return c.recallCompositeSortedBy(ctx, userID, query, opts, StrategyComposite)
	}
}

func (c *Core) recallSimilarity(ctx context.Context, userID, query string, opts RecallOptions) (*RecallResponse, error) {
	threshold := opts.Threshold
	if threshold == 0 {
		threshold = c.cfg.SimilarityThreshold
	}
	if threshold > 1 {
		return &RecallResponse{Results: []RecallResult{}}, nil
	}

	qvec, err := c.embedder.Embed(ctx, query)
	if err != nil {
		// Per spec.md §4.6: similarity mode does NOT fall back to lexical.
		return nil, &errs.TransientError{Message: "Semantic search unavailable", Cause: err}
	}

	idx, err := c.indexes.get(ctx, userID, c.store)
	if err != nil {
		return nil, err
	}
	hits, err := idx.SearchSimilar(qvec, vectorindex.SearchOptions{Limit: opts.Limit, Threshold: threshold})
	if err != nil {
		return nil, err
	}
	return &RecallResponse{Results: c.hydrate(ctx, hits)}, nil
}

func (c *Core) recallCompositeSortedBy(ctx context.Context, userID, query string, opts RecallOptions, strategy Strategy) (*RecallResponse, error) {
	threshold := opts.Threshold
	if threshold == 0 {
		threshold = c.cfg.CompositeThreshold
	}
	vecWeight := opts.VecWeight
	if vecWeight == 0 {
		vecWeight = c.cfg.CompositeVecWeight
	}
	textWeight := opts.TextWeight
	if textWeight == 0 {
		textWeight = c.cfg.CompositeTextWeight
	}

	textHits, err := c.store.FTSSearchMemories(ctx, userID, query, opts.Limit*4)
	if err != nil {
		return nil, err
	}
	textScore := make(map[string]float64, len(textHits))
	maxTextRank := 0.0
	for _, h := range textHits {
		if h.Rank > maxTextRank {
			maxTextRank = h.Rank
		}
	}
	for _, h := range textHits {
		if maxTextRank > 0 {
			textScore[h.ID] = clip01(h.Rank / maxTextRank)
		} else {
			textScore[h.ID] = 0
		}
	}

	degraded := false
	degradedReason := ""
	vecScore := map[string]float64{}

	if threshold <= 1 {
		qvec, err := c.embedder.Embed(ctx, query)
		if err != nil {
			// Composite degrades to text-only rather than erroring.
			degraded = true
			degradedReason = "embedder unavailable; used text-only search"
		} else {
			idx, idxErr := c.indexes.get(ctx, userID, c.store)
			if idxErr != nil {
				return nil, idxErr
			}
			hits, searchErr := idx.SearchSimilar(qvec, vectorindex.SearchOptions{Limit: opts.Limit * 4, Threshold: threshold})
			if searchErr != nil {
				return nil, searchErr
			}
			for _, h := range hits {
				vecScore[h.ID] = h.Similarity
			}
		}
	} else {
		// threshold > 1: vector leg contributes nothing by construction.
	}

	merged := map[string]float64{}
	for id, s := range vecScore {
		merged[id] = vecWeight * s
	}
	for id, s := range textScore {
		merged[id] += textWeight * s
	}
	for id := range merged {
		merged[id] = clip01(merged[id])
	}

	ids := make([]string, 0, len(merged))
	for id := range merged {
		ids = append(ids, id)
	}
	memories, err := c.store.GetMemoriesByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	owned := make([]model.Memory, 0, len(memories))
	for _, m := range memories {
		if m.UserID == userID {
			owned = append(owned, m)
		}
	}

	results := make([]RecallResult, len(owned))
	for i, m := range owned {
		results[i] = RecallResult{Memory: m, Score: merged[m.ID]}
	}
	sortByStrategy(results, strategy)
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}

	return &RecallResponse{
		Results:        results,
		TextOnly:       degraded,
		Degraded:       degraded,
		DegradedReason: degradedReason,
	}, nil
}

func sortByStrategy(results []RecallResult, strategy Strategy) {
	switch strategy {
	case StrategyRecency:
		sortStable(results, func(a, b RecallResult) bool { return a.Memory.UpdatedAt.After(b.Memory.UpdatedAt) })
	case StrategyFrequency:
		// Memory has no interaction_count of its own; frequency on
		// memories falls back to recency, since only Entity tracks
		// interaction_count in this data model (spec.md §3).
		sortStable(results, func(a, b RecallResult) bool { return a.Memory.UpdatedAt.After(b.Memory.UpdatedAt) })
	case StrategyImportance:
		sortStable(results, func(a, b RecallResult) bool { return a.Memory.Importance > b.Memory.Importance })
	default:
		sortStable(results, func(a, b RecallResult) bool { return a.Score > b.Score })
	}
}

func sortStable(results []RecallResult, less func(a, b RecallResult) bool) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && less(results[j], results[j-1]); j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}

func (c *Core) hydrate(ctx context.Context, hits []vectorindex.Result) []RecallResult {
	if len(hits) == 0 {
		return nil
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	memories, err := c.store.GetMemoriesByIDs(ctx, ids)
	if err != nil {
		return nil
	}
	byID := make(map[string]model.Memory, len(memories))
	for _, m := range memories {
		byID[m.ID] = m
	}
	out := make([]RecallResult, 0, len(hits))
	for _, h := range hits {
		if m, ok := byID[h.ID]; ok {
			out = append(out, RecallResult{Memory: m, Score: h.Similarity})
		}
	}
	return out
}

// Statistics is getStatistics' result shape.
type Statistics struct {
	Total             int64
	ByType            map[model.MemoryType]int64
	WithEmbedding     int64
	EmbeddingCoverage float64
}

// GetStatistics counts over this user only. The mandatory userID parameter
// is deliberate: spec.md §4.6 calls this out as historically a place where
// isolation was forgotten.
func (c *Core) GetStatistics(ctx context.Context, userID string) (*Statistics, error) {
	if userID == "" {
		return nil, &errs.ValidationError{Field: "user_id", Message: "must not be empty"}
	}
	total, byType, withEmbedding, err := c.store.CountMemories(ctx, userID)
	if err != nil {
		return nil, err
	}
	coverage := 0.0
	if total > 0 {
		coverage = float64(withEmbedding) / float64(total)
	}
	return &Statistics{Total: total, ByType: byType, WithEmbedding: withEmbedding, EmbeddingCoverage: coverage}, nil
}

// UpdateMissingEmbeddings delegates to the worker, scoped to one user.
func (c *Core) UpdateMissingEmbeddings(ctx context.Context, userID string) error {
	if userID == "" {
		return &errs.ValidationError{Field: "user_id", Message: "must not be empty"}
	}
	if c.worker == nil {
		return &errs.PermanentError{Message: "embedding worker not configured"}
	}
	c.worker.UpdateAllMissingEmbeddings(ctx, userID)
	return nil
}

func embeddingText(m *model.Memory) string {
	parts := []string{m.Title, m.Content, string(m.MemoryType)}
	if len(m.Tags) > 0 {
		parts = append(parts, "Tags: "+strings.Join(m.Tags, ", "))
	}
	return strings.Join(parts, " ")
}

func clampImportance(v float64) float64 {
	if v > 1 && v <= 5 {
		// Ordinal 1..5 linearly mapped to [0,1].
		v = v / 5
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	if v == 0 {
		return 0.5
	}
	return v
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
