package model

import "time"

// MigrationStatus is the lifecycle state of an applied schema migration.
type MigrationStatus string

const (
	MigrationApplied    MigrationStatus = "applied"
	MigrationRolledBack MigrationStatus = "rolled_back"
	MigrationFailed     MigrationStatus = "failed"
)

// SchemaMigrationRecord is the tamper-evident history row the migration
// engine (internal/migration) writes on every up/down transition.
type SchemaMigrationRecord struct {
	Version    int             `json:"version" gorm:"primaryKey"`
	Name       string          `json:"name"    gorm:"not null"`
	Description string         `json:"description"`
	Checksum   string          `json:"checksum" gorm:"not null"`
	AppliedAt  time.Time       `json:"appliedAt"`
	DurationMS int64           `json:"durationMs"`
	Status     MigrationStatus `json:"status" gorm:"not null"`
}

func (SchemaMigrationRecord) TableName() string { return "schema_migrations" }
