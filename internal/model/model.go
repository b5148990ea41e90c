// Package model defines the persisted entities of memoryd: User, Memory,
// Entity, Interaction, APIUsage, the OAuth 2.0 tables, and the
// schema-migration record. Shaped after the teacher's internal/model
// package (GORM struct tags, TableName() methods, JSON metadata bags).
package model

import (
	"time"
)

// MemoryType enumerates the kind of a Memory record (spec.md §3).
type MemoryType string

const (
	MemoryTypeSystem  MemoryType = "SYSTEM"
	MemoryTypeLearned MemoryType = "LEARNED"
	MemoryTypeMemory  MemoryType = "MEMORY"
)

// EntityType enumerates the kind of an Entity record (spec.md §3).
type EntityType string

const (
	EntityTypePerson EntityType = "PERSON"
	EntityTypeOrg    EntityType = "ORGANIZATION"
	EntityTypeProj   EntityType = "PROJECT"
)

// Metadata is a typed envelope over the free-form metadata bags the source
// system carried as nested JSON. A small set of reserved keys is promoted
// to named fields; other fields go under the "extra" key, decoded into Extra
// as an opaque JSON blob that the core never reads (spec.md §9). Unknown
// top-level keys are dropped when the envelope is decoded.
type Metadata struct {
	// GoogleResourceName back-references an external sync adapter's row.
	// The CORE never interprets it; out-of-core adapters do.
	GoogleResourceName string `json:"googleResourceName,omitempty"`
	// Source names the client or adapter that produced the record.
	Source string `json:"source,omitempty"`
	// Extra carries the caller-supplied fields given under "extra" verbatim.
	Extra map[string]any `json:"extra,omitempty"`
}

// User represents an identity-provider subject known to memoryd.
type User struct {
	ID        string    `json:"id"        gorm:"primaryKey"`
	Email     string    `json:"email"     gorm:"uniqueIndex:idx_users_email_ci,expression:lower(email)"`
	Metadata  Metadata  `json:"metadata"  gorm:"serializer:json"`
	IsActive  bool      `json:"isActive"  gorm:"not null;default:true"`
	CreatedAt time.Time `json:"createdAt" gorm:"not null"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"not null"`
}

func (User) TableName() string { return "users" }

// Memory is a user-owned free-form text record, optionally embedded into a
// vector space (spec.md §3).
type Memory struct {
	ID         string     `json:"id"         gorm:"primaryKey"`
	UserID     string     `json:"userId"     gorm:"not null;index:idx_memories_user_type,priority:1;index:idx_memories_user_archived,priority:1;index:idx_memories_user_updated,priority:1"`
	Title      string     `json:"title"`
	Content    string     `json:"content"    gorm:"not null"`
	MemoryType MemoryType `json:"memoryType" gorm:"not null;index:idx_memories_user_type,priority:2"`
	Importance float64    `json:"importance" gorm:"not null;default:0.5"`
	Tags       StringSet  `json:"tags"       gorm:"serializer:json"`
	EntityIDs  StringSet  `json:"entityIds"  gorm:"serializer:json"`
	// Embedding is nil or empty when the memory is text-only searchable.
	Embedding   Vector    `json:"embedding,omitempty" gorm:"serializer:json"`
	Metadata    Metadata  `json:"metadata"            gorm:"serializer:json"`
	IsArchived  bool      `json:"isArchived"          gorm:"not null;default:false;index:idx_memories_user_archived,priority:2"`
	SourceClient *string  `json:"sourceClientId,omitempty"`
	CreatedAt   time.Time `json:"createdAt" gorm:"not null"`
	UpdatedAt   time.Time `json:"updatedAt" gorm:"not null;index:idx_memories_user_updated,priority:2"`
}

func (Memory) TableName() string { return "memories" }

// HasEmbedding reports whether the memory carries a usable embedding.
func (m *Memory) HasEmbedding() bool { return len(m.Embedding) > 0 }

// Entity is a user-owned structured record about a person/org/project.
type Entity struct {
	ID                string     `json:"id"     gorm:"primaryKey"`
	UserID            string     `json:"userId" gorm:"not null;index:idx_entities_user_type,priority:1;index:idx_entities_user_created,priority:1"`
	Name              string     `json:"name"   gorm:"not null"`
	EntityType        EntityType `json:"entityType" gorm:"not null;index:idx_entities_user_type,priority:2"`
	PersonType        string     `json:"personType,omitempty"`
	Email             string     `json:"email,omitempty"`
	Phone             string     `json:"phone,omitempty"`
	Company           string     `json:"company,omitempty"`
	Title             string     `json:"title,omitempty"`
	Website           string     `json:"website,omitempty"`
	Notes             string     `json:"notes,omitempty"`
	Importance        float64    `json:"importance" gorm:"not null;default:0.5"`
	Tags              StringSet  `json:"tags"       gorm:"serializer:json"`
	InteractionCount  int64      `json:"interactionCount" gorm:"not null;default:0"`
	LastInteractionAt *time.Time `json:"lastInteractionAt,omitempty"`
	IsArchived        bool       `json:"isArchived" gorm:"not null;default:false"`
	Metadata          Metadata   `json:"metadata"   gorm:"serializer:json"`
	CreatedAt         time.Time  `json:"createdAt"  gorm:"not null;index:idx_entities_user_created,priority:2"`
	UpdatedAt         time.Time  `json:"updatedAt"  gorm:"not null"`
}

func (Entity) TableName() string { return "entities" }

// Interaction is an optional chronology log for an Entity.
type Interaction struct {
	ID        string    `json:"id"       gorm:"primaryKey"`
	UserID    string    `json:"userId"   gorm:"not null"`
	EntityID  string    `json:"entityId" gorm:"not null;index"`
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp" gorm:"not null"`
	Metadata  Metadata  `json:"metadata"  gorm:"serializer:json"`
}

func (Interaction) TableName() string { return "interactions" }

// APIUsage is an additive-only quota-tracking record.
type APIUsage struct {
	UserID     string  `json:"userId"   gorm:"primaryKey;index:idx_api_usage_user_provider_date,priority:1"`
	Provider   string  `json:"provider" gorm:"primaryKey;index:idx_api_usage_user_provider_date,priority:2"`
	Date       string  `json:"date"     gorm:"primaryKey;index:idx_api_usage_user_provider_date,priority:3"` // YYYY-MM-DD
	TokenCount int64   `json:"tokenCount"`
	CostMicros int64   `json:"costMicros"`
}

func (APIUsage) TableName() string { return "api_usage_tracking" }

// StringSet is an unordered, deduplicated set of strings stored as JSON.
type StringSet []string

// NewStringSet deduplicates values, preserving first-seen order.
func NewStringSet(values []string) StringSet {
	seen := make(map[string]bool, len(values))
	out := make(StringSet, 0, len(values))
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// Contains reports whether v is a member of the set.
func (s StringSet) Contains(v string) bool {
	for _, item := range s {
		if item == v {
			return true
		}
	}
	return false
}

// Vector is a fixed-dimension embedding.
type Vector []float32
