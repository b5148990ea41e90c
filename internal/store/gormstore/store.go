// Package gormstore implements store.Store against a GORM *gorm.DB,
// grounded on the teacher's internal/plugin/store/postgres package but
// collapsed into one dialect-parameterized implementation since Postgres
// and SQLite differ here only in DSN/driver and in their full-text search
// queries (see fts.go).
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/quillmind/memoryd/internal/errs"
	"github.com/quillmind/memoryd/internal/model"
	"github.com/quillmind/memoryd/internal/store"
)

// Dialect identifies which SQL engine backs the store.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// Store is the GORM-backed implementation of store.Store.
type Store struct {
	db      *gorm.DB
	dialect Dialect
}

// Open connects to the configured database and returns a ready Store. It
// does not run migrations; call internal/migration's engine first.
func Open(dialect Dialect, dsn string, maxOpenConns, maxIdleConns int) (*Store, error) {
	var dial gorm.Dialector
	switch dialect {
	case DialectPostgres:
		dial = postgres.Open(dsn)
	case DialectSQLite:
		dial = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unknown dialect %q", dialect)
	}

	db, err := gorm.Open(dial, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("underlying db: %w", err)
	}
	if maxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(maxOpenConns)
	}
	if maxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(maxIdleConns)
	}
	return &Store{db: db, dialect: dialect}, nil
}

// DB exposes the underlying *gorm.DB, used by the migration engine.
func (s *Store) DB() *gorm.DB { return s.db }

var _ store.Store = (*Store)(nil)

func newID() string { return uuid.NewString() }

// --- Users ---

func (s *Store) UpsertUser(ctx context.Context, id, email string) (*model.User, error) {
	if id == "" {
		return nil, &errs.ValidationError{Field: "id", Message: "must not be empty"}
	}
	now := time.Now().UTC()
	u := model.User{ID: id, Email: email, IsActive: true, CreatedAt: now, UpdatedAt: now}
	err := s.db.WithContext(ctx).
		Where(model.User{ID: id}).
		Assign(model.User{Email: email, UpdatedAt: now}).
		FirstOrCreate(&u).Error
	if err != nil {
		return nil, translateErr(err)
	}
	return &u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := s.db.WithContext(ctx).First(&u, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, translateErr(err)
	}
	return &u, nil
}

// ListUserIDs returns every known tenant id, for driving the embedding
// scanner across all users; it reads no user-owned content.
func (s *Store) ListUserIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.WithContext(ctx).Model(&model.User{}).Pluck("id", &ids).Error; err != nil {
		return nil, translateErr(err)
	}
	return ids, nil
}

// --- Memories ---

func (s *Store) CreateMemory(ctx context.Context, m *model.Memory) error {
	if m.UserID == "" {
		return &errs.ValidationError{Field: "user_id", Message: "must not be empty"}
	}
	if m.ID == "" {
		m.ID = newID()
	}
	now := time.Now().UTC()
	m.CreatedAt, m.UpdatedAt = now, now
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return translateErr(err)
	}
	return s.reindexMemoryFTS(ctx, m)
}

func (s *Store) GetMemoryByID(ctx context.Context, id, userID string) (*model.Memory, error) {
	if userID == "" {
		return nil, &errs.ValidationError{Field: "user_id", Message: "must not be empty"}
	}
	var m model.Memory
	err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, translateErr(err)
	}
	return &m, nil
}

func (s *Store) UpdateMemory(ctx context.Context, id, userID string, patch store.MemoryPatch) (*model.Memory, error) {
	if userID == "" {
		return nil, &errs.ValidationError{Field: "user_id", Message: "must not be empty"}
	}
	var m model.Memory
	err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, translateErr(err)
	}

	updates := map[string]any{}
	if patch.Title != nil {
		updates["title"] = *patch.Title
	}
	if patch.Content != nil {
		updates["content"] = *patch.Content
	}
	if patch.MemoryType != nil {
		updates["memory_type"] = *patch.MemoryType
	}
	if patch.Importance != nil {
		updates["importance"] = *patch.Importance
	}
	if patch.Tags != nil {
		updates["tags"] = *patch.Tags
	}
	if patch.EntityIDs != nil {
		updates["entity_ids"] = *patch.EntityIDs
	}
	if patch.Metadata != nil {
		updates["metadata"] = *patch.Metadata
	}
	if patch.IsArchived != nil {
		updates["is_archived"] = *patch.IsArchived
	}
	if patch.Embedding != nil {
		updates["embedding"] = *patch.Embedding
	}
	if len(updates) == 0 {
		return &m, nil
	}
	updates["updated_at"] = time.Now().UTC()

	if err := s.db.WithContext(ctx).Model(&m).Where("id = ? AND user_id = ?", id, userID).Updates(updates).Error; err != nil {
		return nil, translateErr(err)
	}
	if err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&m).Error; err != nil {
		return nil, translateErr(err)
	}
	if err := s.reindexMemoryFTS(ctx, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) DeleteMemory(ctx context.Context, id, userID string) (bool, error) {
	if userID == "" {
		return false, &errs.ValidationError{Field: "user_id", Message: "must not be empty"}
	}
	res := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&model.Memory{})
	if res.Error != nil {
		return false, translateErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	if err := s.deleteMemoryFTS(ctx, id); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) ListMemories(ctx context.Context, userID string, filters store.MemoryFilters, limit int, cursor string) (store.Page[model.Memory], error) {
	if userID == "" {
		return store.Page[model.Memory]{}, &errs.ValidationError{Field: "user_id", Message: "must not be empty"}
	}
	q := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if filters.Type != "" {
		q = q.Where("memory_type = ?", filters.Type)
	}
	if filters.Archived != nil {
		q = q.Where("is_archived = ?", *filters.Archived)
	}
	if filters.UpdatedAfter != nil {
		q = q.Where("updated_at > ?", *filters.UpdatedAfter)
	}
	if filters.Tag != "" {
		q = q.Where(tagFilterSQL(s.dialect), tagFilterArg(filters.Tag))
	}
	if cursor != "" {
		if t, err := time.Parse(time.RFC3339Nano, cursor); err == nil {
			q = q.Where("updated_at < ?", t)
		}
	}
	if limit <= 0 {
		limit = 20
	}
	var items []model.Memory
	if err := q.Order("updated_at DESC").Limit(limit).Find(&items).Error; err != nil {
		return store.Page[model.Memory]{}, translateErr(err)
	}
	next := ""
	if len(items) == limit {
		next = items[len(items)-1].UpdatedAt.Format(time.RFC3339Nano)
	}
	return store.Page[model.Memory]{Items: items, NextCursor: next}, nil
}

func (s *Store) FindMemoriesMissingEmbedding(ctx context.Context, userID string, limit int) ([]string, error) {
	if userID == "" {
		return nil, &errs.ValidationError{Field: "user_id", Message: "must not be empty"}
	}
	if limit <= 0 {
		limit = 100
	}
	var ids []string
	err := s.db.WithContext(ctx).Model(&model.Memory{}).
		Where("user_id = ?", userID).
		Where(missingEmbeddingSQL(s.dialect)).
		Order("updated_at DESC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, translateErr(err)
	}
	return ids, nil
}

func (s *Store) GetMemoriesByIDs(ctx context.Context, ids []string) ([]model.Memory, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var items []model.Memory
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&items).Error; err != nil {
		return nil, translateErr(err)
	}
	return items, nil
}

func (s *Store) UpdateEmbedding(ctx context.Context, id, userID string, vector model.Vector) (bool, error) {
	if userID == "" {
		return false, &errs.ValidationError{Field: "user_id", Message: "must not be empty"}
	}
	res := s.db.WithContext(ctx).Model(&model.Memory{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(map[string]any{"embedding": vector, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return false, translateErr(res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) CountMemories(ctx context.Context, userID string) (int64, map[model.MemoryType]int64, int64, error) {
	if userID == "" {
		return 0, nil, 0, &errs.ValidationError{Field: "user_id", Message: "must not be empty"}
	}
	var total int64
	if err := s.db.WithContext(ctx).Model(&model.Memory{}).Where("user_id = ?", userID).Count(&total).Error; err != nil {
		return 0, nil, 0, translateErr(err)
	}

	var rows []struct {
		MemoryType model.MemoryType
		Count      int64
	}
	if err := s.db.WithContext(ctx).Model(&model.Memory{}).
		Select("memory_type, count(*) as count").
		Where("user_id = ?", userID).
		Group("memory_type").
		Scan(&rows).Error; err != nil {
		return 0, nil, 0, translateErr(err)
	}
	byType := make(map[model.MemoryType]int64, len(rows))
	for _, r := range rows {
		byType[r.MemoryType] = r.Count
	}

	var withEmbedding int64
	if err := s.db.WithContext(ctx).Model(&model.Memory{}).
		Where("user_id = ?", userID).
		Where(hasEmbeddingSQL(s.dialect)).
		Count(&withEmbedding).Error; err != nil {
		return 0, nil, 0, translateErr(err)
	}

	return total, byType, withEmbedding, nil
}

// --- Entities ---

func (s *Store) CreateEntity(ctx context.Context, e *model.Entity) error {
	if e.UserID == "" {
		return &errs.ValidationError{Field: "user_id", Message: "must not be empty"}
	}
	if e.ID == "" {
		e.ID = newID()
	}
	now := time.Now().UTC()
	e.CreatedAt, e.UpdatedAt = now, now
	if err := s.db.WithContext(ctx).Create(e).Error; err != nil {
		return translateErr(err)
	}
	return s.reindexEntityFTS(ctx, e)
}

func (s *Store) GetEntityByID(ctx context.Context, id, userID string) (*model.Entity, error) {
	if userID == "" {
		return nil, &errs.ValidationError{Field: "user_id", Message: "must not be empty"}
	}
	var e model.Entity
	err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, translateErr(err)
	}
	return &e, nil
}

func (s *Store) UpdateEntity(ctx context.Context, id, userID string, patch store.EntityPatch) (*model.Entity, error) {
	if userID == "" {
		return nil, &errs.ValidationError{Field: "user_id", Message: "must not be empty"}
	}
	var e model.Entity
	err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, translateErr(err)
	}

	updates := map[string]any{}
	setStr := func(key string, v *string) {
		if v != nil {
			updates[key] = *v
		}
	}
	setStr("name", patch.Name)
	setStr("person_type", patch.PersonType)
	setStr("email", patch.Email)
	setStr("phone", patch.Phone)
	setStr("company", patch.Company)
	setStr("title", patch.Title)
	setStr("website", patch.Website)
	setStr("notes", patch.Notes)
	if patch.Importance != nil {
		updates["importance"] = *patch.Importance
	}
	if patch.Tags != nil {
		updates["tags"] = *patch.Tags
	}
	if patch.IsArchived != nil {
		updates["is_archived"] = *patch.IsArchived
	}
	if patch.Metadata != nil {
		updates["metadata"] = *patch.Metadata
	}
	if patch.InteractionDelta != 0 {
		updates["interaction_count"] = gorm.Expr("interaction_count + ?", patch.InteractionDelta)
		updates["last_interaction_at"] = time.Now().UTC()
	}
	if len(updates) == 0 {
		return &e, nil
	}
	updates["updated_at"] = time.Now().UTC()

	if err := s.db.WithContext(ctx).Model(&model.Entity{}).Where("id = ? AND user_id = ?", id, userID).Updates(updates).Error; err != nil {
		return nil, translateErr(err)
	}
	if err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&e).Error; err != nil {
		return nil, translateErr(err)
	}
	if err := s.reindexEntityFTS(ctx, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) DeleteEntity(ctx context.Context, id, userID string) (bool, error) {
	if userID == "" {
		return false, &errs.ValidationError{Field: "user_id", Message: "must not be empty"}
	}
	res := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&model.Entity{})
	if res.Error != nil {
		return false, translateErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	if err := s.deleteEntityFTS(ctx, id); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) ListEntities(ctx context.Context, userID string, filters store.EntityFilters, limit int, cursor string) (store.Page[model.Entity], error) {
	if userID == "" {
		return store.Page[model.Entity]{}, &errs.ValidationError{Field: "user_id", Message: "must not be empty"}
	}
	q := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if filters.Type != "" {
		q = q.Where("entity_type = ?", filters.Type)
	}
	if filters.Archived != nil {
		q = q.Where("is_archived = ?", *filters.Archived)
	}
	if cursor != "" {
		if t, err := time.Parse(time.RFC3339Nano, cursor); err == nil {
			q = q.Where("created_at < ?", t)
		}
	}
	if limit <= 0 {
		limit = 20
	}
	var items []model.Entity
	if err := q.Order("created_at DESC").Limit(limit).Find(&items).Error; err != nil {
		return store.Page[model.Entity]{}, translateErr(err)
	}
	next := ""
	if len(items) == limit {
		next = items[len(items)-1].CreatedAt.Format(time.RFC3339Nano)
	}
	return store.Page[model.Entity]{Items: items, NextCursor: next}, nil
}

func (s *Store) GetEntitiesByIDs(ctx context.Context, userID string, ids []string) ([]model.Entity, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var items []model.Entity
	if err := s.db.WithContext(ctx).Where("user_id = ? AND id IN ?", userID, ids).Find(&items).Error; err != nil {
		return nil, translateErr(err)
	}
	return items, nil
}

func (s *Store) EntitiesExist(ctx context.Context, userID string, ids []string) (map[string]bool, error) {
	result := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	var found []string
	if err := s.db.WithContext(ctx).Model(&model.Entity{}).
		Where("user_id = ? AND id IN ?", userID, ids).
		Pluck("id", &found).Error; err != nil {
		return nil, translateErr(err)
	}
	for _, id := range found {
		result[id] = true
	}
	return result, nil
}

// --- Interactions ---

func (s *Store) LogInteraction(ctx context.Context, i *model.Interaction) error {
	if i.UserID == "" {
		return &errs.ValidationError{Field: "user_id", Message: "must not be empty"}
	}
	if i.ID == "" {
		i.ID = newID()
	}
	if i.Timestamp.IsZero() {
		i.Timestamp = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(i).Error; err != nil {
		return translateErr(err)
	}
	return nil
}

// --- API usage ---

func (s *Store) RecordAPIUsage(ctx context.Context, userID, provider, date string, tokens int64, costMicros int64) error {
	if userID == "" {
		return &errs.ValidationError{Field: "user_id", Message: "must not be empty"}
	}
	err := s.db.WithContext(ctx).Clauses(onConflictUpdateUsage(s.dialect)).Create(&model.APIUsage{
		UserID: userID, Provider: provider, Date: date, TokenCount: tokens, CostMicros: costMicros,
	}).Error
	return translateErr(err)
}

// --- OAuth ---

func (s *Store) GetOAuthClient(ctx context.Context, clientID string) (*model.OAuthClient, error) {
	var c model.OAuthClient
	err := s.db.WithContext(ctx).First(&c, "client_id = ?", clientID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, translateErr(err)
	}
	return &c, nil
}

func (s *Store) CreateAuthorizationCode(ctx context.Context, c *model.AuthorizationCode) error {
	c.CreatedAt = time.Now().UTC()
	return translateErr(s.db.WithContext(ctx).Create(c).Error)
}

// GetAuthorizationCode looks up a code without consuming it, so callers can
// validate client_id/redirect_uri/expiry before the single use is spent.
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (*model.AuthorizationCode, error) {
	var c model.AuthorizationCode
	err := s.db.WithContext(ctx).First(&c, "code = ?", code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, translateErr(err)
	}
	return &c, nil
}

// ConsumeAuthorizationCode atomically marks a code used and returns it, or
// returns nil if it was already used / doesn't exist — the atomic
// UPDATE...WHERE used=0 pattern spec.md §5 requires.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code string) (*model.AuthorizationCode, error) {
	var c model.AuthorizationCode
	err := s.db.WithContext(ctx).First(&c, "code = ?", code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, translateErr(err)
	}
	res := s.db.WithContext(ctx).Model(&model.AuthorizationCode{}).
		Where("code = ? AND used = ?", code, false).
		Update("used", true)
	if res.Error != nil {
		return nil, translateErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &c, nil
}

func (s *Store) CreateAccessToken(ctx context.Context, t *model.AccessToken) error {
	t.CreatedAt = time.Now().UTC()
	return translateErr(s.db.WithContext(ctx).Create(t).Error)
}

func (s *Store) GetAccessTokenByHash(ctx context.Context, tokenHash string) (*model.AccessToken, error) {
	var t model.AccessToken
	err := s.db.WithContext(ctx).First(&t, "token_hash = ?", tokenHash).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, translateErr(err)
	}
	return &t, nil
}

// translateErr converts GORM/driver errors into memoryd's typed errors.
func translateErr(err error) error {
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return &errs.ConflictError{Message: err.Error()}
	}
	return &errs.InternalError{Message: "store operation failed", Cause: err}
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}
