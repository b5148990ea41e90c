package migration

import (
	"context"

	"gorm.io/gorm"
)

func init() {
	Register("postgres", Migration{
		Version:     1,
		Name:        "base_schema",
		Description: "create users, memories, entities, interactions, api_usage_tracking, oauth tables",
		Up:          postgresBaseSchemaUp,
		Down:        postgresBaseSchemaDown,
		Verify:      postgresBaseSchemaVerify,
	})
	Register("postgres", Migration{
		Version:     2,
		Name:        "fts_indices",
		Description: "add generated tsvector columns and GIN indices to memories and entities",
		Up:          postgresFTSUp,
		Down:        postgresFTSDown,
		Verify:      postgresFTSVerify,
	})
}

func postgresBaseSchemaUp(_ context.Context, tx *gorm.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT,
			metadata JSONB,
			is_active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email_ci ON users (lower(email))`,
		`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT,
			content TEXT NOT NULL,
			memory_type TEXT NOT NULL,
			importance DOUBLE PRECISION NOT NULL DEFAULT 0.5,
			tags JSONB,
			entity_ids JSONB,
			embedding JSONB,
			metadata JSONB,
			is_archived BOOLEAN NOT NULL DEFAULT false,
			source_client TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_user_type ON memories (user_id, memory_type)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_user_archived ON memories (user_id, is_archived)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_user_updated ON memories (user_id, updated_at DESC)`,
		`CREATE TABLE IF NOT EXISTS entities (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			person_type TEXT,
			email TEXT,
			phone TEXT,
			company TEXT,
			title TEXT,
			website TEXT,
			notes TEXT,
			importance DOUBLE PRECISION NOT NULL DEFAULT 0.5,
			tags JSONB,
			interaction_count BIGINT NOT NULL DEFAULT 0,
			last_interaction_at TIMESTAMPTZ,
			is_archived BOOLEAN NOT NULL DEFAULT false,
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entities_user_type ON entities (user_id, entity_type)`,
		`CREATE INDEX IF NOT EXISTS idx_entities_user_created ON entities (user_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS interactions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			kind TEXT,
			timestamp TIMESTAMPTZ NOT NULL,
			metadata JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_interactions_entity ON interactions (entity_id)`,
		`CREATE TABLE IF NOT EXISTS api_usage_tracking (
			user_id TEXT NOT NULL,
			provider TEXT NOT NULL,
			date TEXT NOT NULL,
			token_count BIGINT NOT NULL DEFAULT 0,
			cost_micros BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (user_id, provider, date)
		)`,
		`CREATE TABLE IF NOT EXISTS oauth_clients (
			client_id TEXT PRIMARY KEY,
			client_secret_hash TEXT NOT NULL,
			name TEXT,
			redirect_uris JSONB,
			allowed_scopes JSONB,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS oauth_authorization_codes (
			code TEXT PRIMARY KEY,
			client_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			redirect_uri TEXT NOT NULL,
			scope TEXT,
			state TEXT,
			expires_at TIMESTAMPTZ NOT NULL,
			used BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_oauth_codes_client ON oauth_authorization_codes (client_id)`,
		`CREATE TABLE IF NOT EXISTS oauth_tokens (
			token_hash TEXT PRIMARY KEY,
			client_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			scope TEXT,
			expires_at TIMESTAMPTZ NOT NULL,
			revoked BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_oauth_tokens_client ON oauth_tokens (client_id)`,
		`CREATE INDEX IF NOT EXISTS idx_oauth_tokens_user ON oauth_tokens (user_id)`,
	}
	for _, stmt := range stmts {
		if err := tx.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

func postgresBaseSchemaDown(_ context.Context, tx *gorm.DB) error {
	tables := []string{
		"oauth_tokens", "oauth_authorization_codes", "oauth_clients",
		"api_usage_tracking", "interactions", "entities", "memories", "users",
	}
	for _, t := range tables {
		if err := tx.Exec("DROP TABLE IF EXISTS " + t + " CASCADE").Error; err != nil {
			return err
		}
	}
	return nil
}

func postgresBaseSchemaVerify(_ context.Context, tx *gorm.DB) error {
	for _, t := range []string{"users", "memories", "entities", "interactions", "api_usage_tracking", "oauth_clients", "oauth_authorization_codes", "oauth_tokens"} {
		var exists bool
		err := tx.Raw(`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = ?)`, t).Scan(&exists).Error
		if err != nil {
			return err
		}
		if !exists {
			return errMissingTable(t)
		}
	}
	return nil
}

func postgresFTSUp(_ context.Context, tx *gorm.DB) error {
	stmts := []string{
		`ALTER TABLE memories ADD COLUMN IF NOT EXISTS search_vector tsvector
			GENERATED ALWAYS AS (to_tsvector('english', coalesce(title, '') || ' ' || coalesce(content, '') || ' ' || coalesce(tags::text, ''))) STORED`,
		`CREATE INDEX IF NOT EXISTS idx_memories_search_vector ON memories USING GIN (search_vector)`,
		`ALTER TABLE entities ADD COLUMN IF NOT EXISTS search_vector tsvector
			GENERATED ALWAYS AS (to_tsvector('english', coalesce(name, '') || ' ' || coalesce(company, '') || ' ' || coalesce(notes, ''))) STORED`,
		`CREATE INDEX IF NOT EXISTS idx_entities_search_vector ON entities USING GIN (search_vector)`,
	}
	for _, stmt := range stmts {
		if err := tx.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

func postgresFTSDown(_ context.Context, tx *gorm.DB) error {
	stmts := []string{
		`DROP INDEX IF EXISTS idx_memories_search_vector`,
		`ALTER TABLE memories DROP COLUMN IF EXISTS search_vector`,
		`DROP INDEX IF EXISTS idx_entities_search_vector`,
		`ALTER TABLE entities DROP COLUMN IF EXISTS search_vector`,
	}
	for _, stmt := range stmts {
		if err := tx.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

func postgresFTSVerify(_ context.Context, tx *gorm.DB) error {
	for _, col := range []struct{ table, column string }{
		{"memories", "search_vector"}, {"entities", "search_vector"},
	} {
		var exists bool
		err := tx.Raw(
			`SELECT EXISTS (SELECT 1 FROM information_schema.columns WHERE table_name = ? AND column_name = ?)`,
			col.table, col.column,
		).Scan(&exists).Error
		if err != nil {
			return err
		}
		if !exists {
			return errMissingTable(col.table + "." + col.column)
		}
	}
	return nil
}
