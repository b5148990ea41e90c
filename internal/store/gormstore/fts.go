package gormstore

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/quillmind/memoryd/internal/model"
	"github.com/quillmind/memoryd/internal/store"
)

// Full-text search is maintained at the database level in both dialects,
// not by this package: Postgres carries a generated tsvector column with a
// GIN index maintained by Postgres itself; SQLite carries an FTS5 virtual
// table kept in sync by AFTER INSERT/UPDATE/DELETE triggers on the base
// table (spec.md §6: "Triggers keep FTS tables in sync"). Both are created
// by the migration engine (internal/migration), so these hooks are no-ops
// here — they exist as seams in case a future dialect needs application-
// level maintenance.

func (s *Store) reindexMemoryFTS(_ context.Context, _ *model.Memory) error { return nil }

func (s *Store) deleteMemoryFTS(_ context.Context, _ string) error { return nil }

func (s *Store) reindexEntityFTS(_ context.Context, _ *model.Entity) error { return nil }

func (s *Store) deleteEntityFTS(_ context.Context, _ string) error { return nil }

// FTSSearchMemories implements store.Store's lexical search leg, used by
// memorycore's "composite" recall strategy and as the fallback when the
// embedder is unavailable.
func (s *Store) FTSSearchMemories(ctx context.Context, userID, queryText string, limit int) ([]store.FTSResult, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []struct {
		ID   string
		Rank float64
	}
	var err error
	switch s.dialect {
	case DialectPostgres:
		err = s.db.WithContext(ctx).Raw(
			`SELECT id, ts_rank(search_vector, plainto_tsquery('english', ?)) AS rank
			 FROM memories
			 WHERE user_id = ? AND search_vector @@ plainto_tsquery('english', ?)
			 ORDER BY rank DESC LIMIT ?`,
			queryText, userID, queryText, limit,
		).Scan(&rows).Error
	case DialectSQLite:
		err = s.db.WithContext(ctx).Raw(
			`SELECT id, -bm25(memories_fts) AS rank
			 FROM memories_fts
			 WHERE memories_fts MATCH ? AND user_id = ?
			 ORDER BY rank DESC LIMIT ?`,
			queryText, userID, limit,
		).Scan(&rows).Error
	default:
		return nil, fmt.Errorf("unsupported dialect %q", s.dialect)
	}
	if err != nil {
		return nil, translateErr(err)
	}
	out := make([]store.FTSResult, len(rows))
	for i, r := range rows {
		out[i] = store.FTSResult{ID: r.ID, Rank: r.Rank}
	}
	return out, nil
}

// FTSSearchEntities mirrors FTSSearchMemories for Entity records.
func (s *Store) FTSSearchEntities(ctx context.Context, userID, queryText string, limit int) ([]store.FTSResult, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []struct {
		ID   string
		Rank float64
	}
	var err error
	switch s.dialect {
	case DialectPostgres:
		err = s.db.WithContext(ctx).Raw(
			`SELECT id, ts_rank(search_vector, plainto_tsquery('english', ?)) AS rank
			 FROM entities
			 WHERE user_id = ? AND search_vector @@ plainto_tsquery('english', ?)
			 ORDER BY rank DESC LIMIT ?`,
			queryText, userID, queryText, limit,
		).Scan(&rows).Error
	case DialectSQLite:
		err = s.db.WithContext(ctx).Raw(
			`SELECT id, -bm25(entities_fts) AS rank
			 FROM entities_fts
			 WHERE entities_fts MATCH ? AND user_id = ?
			 ORDER BY rank DESC LIMIT ?`,
			queryText, userID, limit,
		).Scan(&rows).Error
	default:
		return nil, fmt.Errorf("unsupported dialect %q", s.dialect)
	}
	if err != nil {
		return nil, translateErr(err)
	}
	out := make([]store.FTSResult, len(rows))
	for i, r := range rows {
		out[i] = store.FTSResult{ID: r.ID, Rank: r.Rank}
	}
	return out, nil
}

// tagFilterSQL returns a dialect-agnostic substring match over the JSON-
// encoded tags column; both dialects persist StringSet as a JSON text
// array via GORM's json serializer, so a LIKE against the quoted element
// is portable without needing native JSON operators.
func tagFilterSQL(_ Dialect) string {
	return "tags LIKE ?"
}

func tagFilterArg(tag string) string {
	return fmt.Sprintf(`%%"%s"%%`, tag)
}

// missingEmbeddingSQL matches rows whose embedding column is unset, stored
// as NULL, empty string, or the empty JSON array.
func missingEmbeddingSQL(_ Dialect) string {
	return "embedding IS NULL OR embedding = '' OR embedding = '[]'"
}

func hasEmbeddingSQL(_ Dialect) string {
	return "embedding IS NOT NULL AND embedding != '' AND embedding != '[]'"
}

// onConflictUpdateUsage builds the upsert clause RecordAPIUsage needs to
// add to an existing (user_id, provider, date) row rather than fail on the
// composite primary key; GORM's clause.OnConflict compiles to the right
// dialect-specific syntax (ON CONFLICT for both Postgres and SQLite) on its
// own, so no dialect branch is required here.
func onConflictUpdateUsage(_ Dialect) clause.Expression {
	return clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "provider"}, {Name: "date"}},
		DoUpdates: clause.Assignments(map[string]any{
			"token_count": gorm.Expr("token_count + EXCLUDED.token_count"),
			"cost_micros": gorm.Expr("cost_micros + EXCLUDED.cost_micros"),
		}),
	}
}
