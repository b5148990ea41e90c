// Package store defines the persistence contract (C1 in spec.md §4.1): a
// multi-tenant store whose user-scoped methods take a user_id in their
// signatures (GetMemoriesByIDs is the one id-only read), following the teacher's
// internal/registry/store interface shape but against this service's own
// Memory/Entity domain.
package store

import (
	"context"
	"time"

	"github.com/quillmind/memoryd/internal/model"
)

// MemoryFilters narrows a ListMemories call. Zero values are "unset".
type MemoryFilters struct {
	Type         model.MemoryType
	Archived     *bool
	Tag          string
	UpdatedAfter *time.Time
}

// Page is a cursor-paginated result set.
type Page[T any] struct {
	Items      []T
	NextCursor string
}

// EntityFilters narrows a ListEntities call.
type EntityFilters struct {
	Type     model.EntityType
	Archived *bool
}

// MemoryPatch carries only the fields an UpdateMemory caller is allowed to
// change; ID and UserID are not present in this type at all, so they
// cannot be smuggled in by a caller (spec.md §4.1: "silently dropped"
// becomes "does not type-check").
type MemoryPatch struct {
	Title      *string
	Content    *string
	MemoryType *model.MemoryType
	Importance *float64
	Tags       *model.StringSet
	EntityIDs  *model.StringSet
	Metadata   *model.Metadata
	IsArchived *bool
	// Embedding is set by the embedding worker/core, never by an external
	// API patch payload.
	Embedding *model.Vector
}

// EntityPatch mirrors MemoryPatch for Entity; updateEntity MUST refuse to
// change UserID or ID, enforced the same way (those fields don't exist here).
type EntityPatch struct {
	Name             *string
	PersonType       *string
	Email            *string
	Phone            *string
	Company          *string
	Title            *string
	Website          *string
	Notes            *string
	Importance       *float64
	Tags             *model.StringSet
	IsArchived       *bool
	Metadata         *model.Metadata
	InteractionDelta int64
}

// FTSResult is one hit from a lexical search, ranked by the store's FTS
// engine (BM25-grade match per spec.md Non-goals — no ranking beyond that).
type FTSResult struct {
	ID    string
	Rank  float64
}

// Store is the multi-tenant persistence contract. Every method that reads
// or writes a user-owned row takes userID explicitly, with one exception:
// GetMemoriesByIDs looks memories up by id alone and applies no user_id
// filter, so its result is scoped only by the ids the caller passes.
type Store interface {
	// Users.
	UpsertUser(ctx context.Context, id, email string) (*model.User, error)
	GetUser(ctx context.Context, id string) (*model.User, error)
	// ListUserIDs returns every known tenant id, for operational use only
	// (driving the per-user embedding scanner across all tenants). It
	// returns no user-owned content, just the tenant index, so it does not
	// violate the "no row without its user_id" rule above.
	ListUserIDs(ctx context.Context) ([]string, error)

	// Memories.
	CreateMemory(ctx context.Context, m *model.Memory) error
	GetMemoryByID(ctx context.Context, id, userID string) (*model.Memory, error)
	UpdateMemory(ctx context.Context, id, userID string, patch MemoryPatch) (*model.Memory, error)
	DeleteMemory(ctx context.Context, id, userID string) (bool, error)
	ListMemories(ctx context.Context, userID string, filters MemoryFilters, limit int, cursor string) (Page[model.Memory], error)
	FTSSearchMemories(ctx context.Context, userID, queryText string, limit int) ([]FTSResult, error)
	FindMemoriesMissingEmbedding(ctx context.Context, userID string, limit int) ([]string, error)
	GetMemoriesByIDs(ctx context.Context, ids []string) ([]model.Memory, error)
	UpdateEmbedding(ctx context.Context, id, userID string, vector model.Vector) (bool, error)
	CountMemories(ctx context.Context, userID string) (total int64, byType map[model.MemoryType]int64, withEmbedding int64, err error)

	// Entities.
	CreateEntity(ctx context.Context, e *model.Entity) error
	GetEntityByID(ctx context.Context, id, userID string) (*model.Entity, error)
	UpdateEntity(ctx context.Context, id, userID string, patch EntityPatch) (*model.Entity, error)
	DeleteEntity(ctx context.Context, id, userID string) (bool, error)
	ListEntities(ctx context.Context, userID string, filters EntityFilters, limit int, cursor string) (Page[model.Entity], error)
	FTSSearchEntities(ctx context.Context, userID, queryText string, limit int) ([]FTSResult, error)
	EntitiesExist(ctx context.Context, userID string, ids []string) (map[string]bool, error)
	GetEntitiesByIDs(ctx context.Context, userID string, ids []string) ([]model.Entity, error)

	// Interactions.
	LogInteraction(ctx context.Context, i *model.Interaction) error

	// API usage.
	RecordAPIUsage(ctx context.Context, userID, provider, date string, tokens int64, costMicros int64) error

	// OAuth.
	GetOAuthClient(ctx context.Context, clientID string) (*model.OAuthClient, error)
	CreateAuthorizationCode(ctx context.Context, c *model.AuthorizationCode) error
	GetAuthorizationCode(ctx context.Context, code string) (*model.AuthorizationCode, error)
	ConsumeAuthorizationCode(ctx context.Context, code string) (*model.AuthorizationCode, error)
	CreateAccessToken(ctx context.Context, t *model.AccessToken) error
	GetAccessTokenByHash(ctx context.Context, tokenHash string) (*model.AccessToken, error)
}
