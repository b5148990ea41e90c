package memorycore

import (
	"context"
	"sync"

	"github.com/quillmind/memoryd/internal/store"
	"github.com/quillmind/memoryd/internal/vectorindex"
)

// indexCache holds one vectorindex.Index per user, built lazily from the
// store's embedded memories and invalidated whenever that user's memories
// change. This is the "cached per user" half of spec.md §4.4's "exists for
// the duration of a search call (or is cached per user)".
type indexCache struct {
	mu      sync.Mutex
	perUser map[string]*vectorindex.Index
}

func newIndexCache() *indexCache {
	return &indexCache{perUser: make(map[string]*vectorindex.Index)}
}

func (c *indexCache) invalidate(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.perUser, userID)
}

func (c *indexCache) get(ctx context.Context, userID string, st store.Store) (*vectorindex.Index, error) {
	c.mu.Lock()
	idx, ok := c.perUser[userID]
	c.mu.Unlock()
	if ok {
		return idx, nil
	}

	built := vectorindex.New()
	limit := 500
	cursor := ""
	for {
		page, err := st.ListMemories(ctx, userID, store.MemoryFilters{}, limit, cursor)
		if err != nil {
			return nil, err
		}
		items := make([]vectorindex.Item, 0, len(page.Items))
		for _, m := range page.Items {
			if !m.HasEmbedding() {
				continue
			}
			items = append(items, vectorindex.Item{ID: m.ID, Vector: m.Embedding, Payload: m})
		}
		if err := built.AddVectors(items); err != nil {
			return nil, err
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	c.mu.Lock()
	c.perUser[userID] = built
	c.mu.Unlock()
	return built, nil
}
