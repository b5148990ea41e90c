// Package migration implements the versioned, transactional, reversible
// schema engine (C2 in spec.md §4.2). The teacher's own
// internal/registry/migrate package only runs an ordered list of
// migrators once; this package keeps that package's init-time
// registration idiom and charmbracelet/log progress-line style but adds
// the up/down/verify/checksum contract spec.md requires, which the
// teacher does not have.
package migration

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	"gorm.io/gorm"

	"github.com/quillmind/memoryd/internal/model"
)

// Migration is one forward/backward schema step.
type Migration struct {
	Version     int
	Name        string
	Description string
	Up          func(ctx context.Context, tx *gorm.DB) error
	Down        func(ctx context.Context, tx *gorm.DB) error
	Verify      func(ctx context.Context, tx *gorm.DB) error
}

// Checksum is sha256(version:name:description), stored on the applied
// record and re-checked on every future run so a hand-edited migration is
// refused rather than silently re-applied with different semantics.
func (m Migration) Checksum() string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d:%s:%s", m.Version, m.Name, m.Description)))
	return hex.EncodeToString(sum[:])
}

// registry holds migrations registered via Register, keyed by dialect so
// the same package can drive both Postgres and SQLite schemas.
var registry = map[string][]Migration{}

// Register adds a migration for the given dialect name ("postgres" or
// "sqlite"). Called from each dialect's init() function, mirroring the
// teacher's internal/registry/migrate.Register idiom.
func Register(dialect string, m Migration) {
	registry[dialect] = append(registry[dialect], m)
}

// All returns the registered migrations for a dialect, sorted by version.
func All(dialect string) []Migration {
	ms := append([]Migration(nil), registry[dialect]...)
	sort.Slice(ms, func(i, j int) bool { return ms[i].Version < ms[j].Version })
	return ms
}

// Status summarizes the engine's view of applied/pending migrations.
type Status struct {
	CurrentVersion int
	Applied        []model.SchemaMigrationRecord
	Pending        []Migration
}

// Engine drives migrations for one database connection and dialect.
type Engine struct {
	db      *gorm.DB
	dialect string
	DryRun  bool
}

// New returns an Engine. The caller must have already ensured the
// schema_migrations table exists (EnsureTable does this).
func New(db *gorm.DB, dialect string) *Engine {
	return &Engine{db: db, dialect: dialect}
}

// EnsureTable creates the schema_migrations bookkeeping table if absent.
// This one table is allowed to be created outside the migration system
// itself, since the engine needs it to exist before it can run.
func (e *Engine) EnsureTable(ctx context.Context) error {
	return e.db.WithContext(ctx).AutoMigrate(&model.SchemaMigrationRecord{})
}

func (e *Engine) appliedRecords(ctx context.Context) ([]model.SchemaMigrationRecord, error) {
	var records []model.SchemaMigrationRecord
	err := e.db.WithContext(ctx).
		Where("status = ?", model.MigrationApplied).
		Order("version ASC").
		Find(&records).Error
	return records, err
}

// Status reports current_version / applied / pending.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	applied, err := e.appliedRecords(ctx)
	if err != nil {
		return Status{}, err
	}
	appliedVersions := make(map[int]bool, len(applied))
	current := 0
	for _, r := range applied {
		appliedVersions[r.Version] = true
		if r.Version > current {
			current = r.Version
		}
	}
	var pending []Migration
	for _, m := range All(e.dialect) {
		if !appliedVersions[m.Version] {
			pending = append(pending, m)
		}
	}
	return Status{CurrentVersion: current, Applied: applied, Pending: pending}, nil
}

// ErrChecksumMismatch is returned when an applied migration's recorded
// checksum no longer matches its registered definition.
var ErrChecksumMismatch = errors.New("migration checksum mismatch")

// ErrGap is returned when applying a migration whose predecessor has not
// been applied.
var ErrGap = errors.New("migration predecessor not applied")

// Up applies pending migrations in ascending order, up to and including
// target (0 means "all pending"). Each migration runs inside its own
// transaction; a failing Up or a non-passing Verify rolls the transaction
// back and records status=failed, which blocks all further Up calls until
// the failed row is resolved out of band.
func (e *Engine) Up(ctx context.Context, target int) error {
	all := All(e.dialect)
	applied, err := e.appliedRecords(ctx)
	if err != nil {
		return err
	}
	appliedVersions := make(map[int]bool, len(applied))
	highest := 0
	for _, r := range applied {
		appliedVersions[r.Version] = true
		if r.Version > highest {
			highest = r.Version
		}
		if err := e.checkChecksum(r, all); err != nil {
			return err
		}
	}

	var failed model.SchemaMigrationRecord
	err = e.db.WithContext(ctx).Where("status = ?", model.MigrationFailed).Order("version ASC").First(&failed).Error
	if err == nil {
		return fmt.Errorf("migration %d (%s) is in failed state; resolve before continuing", failed.Version, failed.Name)
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	for _, m := range all {
		if appliedVersions[m.Version] {
			continue
		}
		if target != 0 && m.Version > target {
			break
		}
		if m.Version != highest+1 {
			return fmt.Errorf("%w: cannot apply version %d, predecessor %d not applied", ErrGap, m.Version, m.Version-1)
		}
		if e.DryRun {
			log.Info("migration dry-run: would apply", "version", m.Version, "name", m.Name)
			highest = m.Version
			continue
		}
		if err := e.runUp(ctx, m); err != nil {
			return err
		}
		highest = m.Version
	}
	return nil
}

func (e *Engine) checkChecksum(r model.SchemaMigrationRecord, all []Migration) error {
	for _, m := range all {
		if m.Version == r.Version {
			if m.Checksum() != r.Checksum {
				return fmt.Errorf("%w: version %d (%s)", ErrChecksumMismatch, r.Version, r.Name)
			}
			return nil
		}
	}
	return nil
}

func (e *Engine) runUp(ctx context.Context, m Migration) error {
	start := time.Now()
	log.Info("migration: applying", "from", m.Version-1, "to", m.Version, "name", m.Name)
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := m.Up(ctx, tx); err != nil {
			return err
		}
		if m.Verify != nil {
			if err := m.Verify(ctx, tx); err != nil {
				return fmt.Errorf("verify failed: %w", err)
			}
		}
		rec := model.SchemaMigrationRecord{
			Version:     m.Version,
			Name:        m.Name,
			Description: m.Description,
			Checksum:    m.Checksum(),
			AppliedAt:   time.Now().UTC(),
			DurationMS:  time.Since(start).Milliseconds(),
			Status:      model.MigrationApplied,
		}
		return tx.Save(&rec).Error
	})
	if err != nil {
		log.Error("migration: failed", "version", m.Version, "name", m.Name, "err", err)
		e.recordFailure(ctx, m, start)
		return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
	}
	log.Info("migration: applied", "version", m.Version, "name", m.Name, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (e *Engine) recordFailure(ctx context.Context, m Migration, start time.Time) {
	rec := model.SchemaMigrationRecord{
		Version:     m.Version,
		Name:        m.Name,
		Description: m.Description,
		Checksum:    m.Checksum(),
		AppliedAt:   time.Now().UTC(),
		DurationMS:  time.Since(start).Milliseconds(),
		Status:      model.MigrationFailed,
	}
	// Best-effort: a failed write here is logged but not fatal, since the
	// original migration error is the one the caller must see.
	if err := e.db.WithContext(ctx).Save(&rec).Error; err != nil {
		log.Error("migration: failed to record failure", "version", m.Version, "err", err)
	}
}

// Down rolls back the n most recently applied migrations (n <= 0 means
// "roll back to target", where target is the version to land on).
func (e *Engine) Down(ctx context.Context, n int, target int) error {
	applied, err := e.appliedRecords(ctx)
	if err != nil {
		return err
	}
	sort.Slice(applied, func(i, j int) bool { return applied[i].Version > applied[j].Version })

	all := All(e.dialect)
	byVersion := make(map[int]Migration, len(all))
	for _, m := range all {
		byVersion[m.Version] = m
	}

	toRoll := applied
	if n > 0 && n < len(applied) {
		toRoll = applied[:n]
	}
	if target > 0 {
		var filtered []model.SchemaMigrationRecord
		for _, r := range applied {
			if r.Version > target {
				filtered = append(filtered, r)
			}
		}
		toRoll = filtered
	}

	for _, r := range toRoll {
		m, ok := byVersion[r.Version]
		if !ok {
			return fmt.Errorf("no registered migration for applied version %d", r.Version)
		}
		if e.DryRun {
			log.Info("migration dry-run: would roll back", "version", m.Version, "name", m.Name)
			continue
		}
		if err := e.runDown(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) runDown(ctx context.Context, m Migration) error {
	start := time.Now()
	log.Info("migration: rolling back", "version", m.Version, "name", m.Name)
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := m.Down(ctx, tx); err != nil {
			return err
		}
		// m.Verify asserts the post-Up state, which Down just undid; running
		// it here would fail every rollback of a migration that verifies
		// anything. There is no predecessor Verify to call in its place
		// (Migration doesn't carry one), so Down's own return error is the
		// only correctness signal for a rollback.
		return tx.Model(&model.SchemaMigrationRecord{}).
			Where("version = ?", m.Version).
			Updates(map[string]any{
				"status":      model.MigrationRolledBack,
				"duration_ms": time.Since(start).Milliseconds(),
			}).Error
	})
	if err != nil {
		log.Error("migration: rollback failed", "version", m.Version, "name", m.Name, "err", err)
		return fmt.Errorf("rollback %d (%s): %w", m.Version, m.Name, err)
	}
	log.Info("migration: rolled back", "version", m.Version, "name", m.Name)
	return nil
}
