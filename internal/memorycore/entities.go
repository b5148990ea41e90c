package memorycore

import (
	"context"

	"github.com/quillmind/memoryd/internal/errs"
	"github.com/quillmind/memoryd/internal/model"
	"github.com/quillmind/memoryd/internal/store"
)

// AddEntityOptions carries the caller-controllable parts of addEntity.
type AddEntityOptions struct {
	Type       model.EntityType
	PersonType string
	Email      string
	Phone      string
	Company    string
	Title      string
	Website    string
	Notes      string
	Importance float64
	Tags       []string
	Metadata   model.Metadata
}

// AddEntity mirrors AddMemory for Entity records (spec.md §4.6: "Entity
// operations mirror the memory operations").
func (c *Core) AddEntity(ctx context.Context, userID, name string, opts AddEntityOptions) (*model.Entity, error) {
	if userID == "" {
		return nil, &errs.ValidationError{Field: "user_id", Message: "must not be empty"}
	}
	if name == "" {
		return nil, &errs.ValidationError{Field: "name", Message: "must not be empty"}
	}
	entType := opts.Type
	if entType == "" {
		entType = model.EntityTypePerson
	}
	e := &model.Entity{
		UserID:     userID,
		Name:       name,
		EntityType: entType,
		PersonType: opts.PersonType,
		Email:      opts.Email,
		Phone:      opts.Phone,
		Company:    opts.Company,
		Title:      opts.Title,
		Website:    opts.Website,
		Notes:      opts.Notes,
		Importance: clampImportance(opts.Importance),
		Tags:       model.NewStringSet(opts.Tags),
		Metadata:   opts.Metadata,
	}
	if err := c.store.CreateEntity(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// GetEntity is a thin, user-scoped passthrough.
func (c *Core) GetEntity(ctx context.Context, userID, id string) (*model.Entity, error) {
	if userID == "" {
		return nil, &errs.ValidationError{Field: "user_id", Message: "must not be empty"}
	}
	return c.store.GetEntityByID(ctx, id, userID)
}

// EntityUpdate carries the caller-facing fields an updateEntity call may
// change; updateEntity MUST refuse to change user_id or id, enforced by
// EntityPatch simply not carrying those fields (spec.md §3).
type EntityUpdate struct {
	Name       *string
	PersonType *string
	Email      *string
	Phone      *string
	Company    *string
	Title      *string
	Website    *string
	Notes      *string
	Importance *float64
	Tags       *[]string
	IsArchived *bool
	Metadata   *model.Metadata
}

// UpdateEntity applies patch and returns the updated row, or nil if the
// (id, user_id) pair does not exist.
func (c *Core) UpdateEntity(ctx context.Context, userID, id string, patch EntityUpdate) (*model.Entity, error) {
	if userID == "" {
		return nil, &errs.ValidationError{Field: "user_id", Message: "must not be empty"}
	}
	storePatch := store.EntityPatch{
		Name:       patch.Name,
		PersonType: patch.PersonType,
		Email:      patch.Email,
		Phone:      patch.Phone,
		Company:    patch.Company,
		Title:      patch.Title,
		Website:    patch.Website,
		Notes:      patch.Notes,
		IsArchived: patch.IsArchived,
		Metadata:   patch.Metadata,
	}
	if patch.Importance != nil {
		clamped := clampImportance(*patch.Importance)
		storePatch.Importance = &clamped
	}
	if patch.Tags != nil {
		set := model.NewStringSet(*patch.Tags)
		storePatch.Tags = &set
	}
	return c.store.UpdateEntity(ctx, id, userID, storePatch)
}

// DeleteEntity removes the row; this does not cascade to Memories that
// weakly reference it by id (spec.md §3).
func (c *Core) DeleteEntity(ctx context.Context, userID, id string) (bool, error) {
	if userID == "" {
		return false, &errs.ValidationError{Field: "user_id", Message: "must not be empty"}
	}
	return c.store.DeleteEntity(ctx, id, userID)
}

// ListEntities is a thin, user-scoped passthrough.
func (c *Core) ListEntities(ctx context.Context, userID string, filters store.EntityFilters, limit int, cursor string) (store.Page[model.Entity], error) {
	if userID == "" {
		return store.Page[model.Entity]{}, &errs.ValidationError{Field: "user_id", Message: "must not be empty"}
	}
	return c.store.ListEntities(ctx, userID, filters, limit, cursor)
}

// RecordInteraction logs an interaction and bumps the entity's
// interaction_count/last_interaction_at via EntityPatch.InteractionDelta.
func (c *Core) RecordInteraction(ctx context.Context, userID, entityID, kind string, metadata model.Metadata) error {
	if userID == "" {
		return &errs.ValidationError{Field: "user_id", Message: "must not be empty"}
	}
	if err := c.store.LogInteraction(ctx, &model.Interaction{
		UserID:   userID,
		EntityID: entityID,
		Kind:     kind,
		Metadata: metadata,
	}); err != nil {
		return err
	}
	_, err := c.store.UpdateEntity(ctx, entityID, userID, store.EntityPatch{InteractionDelta: 1})
	return err
}

// RecallEntities runs lexical search over entities for this user, scoped
// the same way recallMemories is. Entities don't carry embeddings in this
// data model, so only the FTS leg applies.
func (c *Core) RecallEntities(ctx context.Context, userID, query string, limit int) ([]model.Entity, error) {
	if userID == "" {
		return nil, &errs.ValidationError{Field: "user_id", Message: "must not be empty"}
	}
	if limit <= 0 {
		return []model.Entity{}, nil
	}
	hits, err := c.store.FTSSearchEntities(ctx, userID, query, limit)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return c.store.GetEntitiesByIDs(ctx, userID, ids)
}
