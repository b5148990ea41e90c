package migration

import (
	"context"

	"gorm.io/gorm"
)

func init() {
	Register("sqlite", Migration{
		Version:     1,
		Name:        "base_schema",
		Description: "create users, memories, entities, interactions, api_usage_tracking, oauth tables",
		Up:          sqliteBaseSchemaUp,
		Down:        sqliteBaseSchemaDown,
		Verify:      sqliteBaseSchemaVerify,
	})
	Register("sqlite", Migration{
		Version:     2,
		Name:        "fts_indices",
		Description: "create memories_fts and entities_fts FTS5 virtual tables",
		Up:          sqliteFTSUp,
		Down:        sqliteFTSDown,
		Verify:      sqliteFTSVerify,
	})
}

func sqliteBaseSchemaUp(_ context.Context, tx *gorm.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT,
			metadata TEXT,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email_ci ON users (lower(email))`,
		`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT,
			content TEXT NOT NULL,
			memory_type TEXT NOT NULL,
			importance REAL NOT NULL DEFAULT 0.5,
			tags TEXT,
			entity_ids TEXT,
			embedding TEXT,
			metadata TEXT,
			is_archived BOOLEAN NOT NULL DEFAULT 0,
			source_client TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
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
			importance REAL NOT NULL DEFAULT 0.5,
			tags TEXT,
			interaction_count INTEGER NOT NULL DEFAULT 0,
			last_interaction_at DATETIME,
			is_archived BOOLEAN NOT NULL DEFAULT 0,
			metadata TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entities_user_type ON entities (user_id, entity_type)`,
		`CREATE INDEX IF NOT EXISTS idx_entities_user_created ON entities (user_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS interactions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			kind TEXT,
			timestamp DATETIME NOT NULL,
			metadata TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_interactions_entity ON interactions (entity_id)`,
		`CREATE TABLE IF NOT EXISTS api_usage_tracking (
			user_id TEXT NOT NULL,
			provider TEXT NOT NULL,
			date TEXT NOT NULL,
			token_count INTEGER NOT NULL DEFAULT 0,
			cost_micros INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (user_id, provider, date)
		)`,
		`CREATE TABLE IF NOT EXISTS oauth_clients (
			client_id TEXT PRIMARY KEY,
			client_secret_hash TEXT NOT NULL,
			name TEXT,
			redirect_uris TEXT,
			allowed_scopes TEXT,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS oauth_authorization_codes (
			code TEXT PRIMARY KEY,
			client_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			redirect_uri TEXT NOT NULL,
			scope TEXT,
			state TEXT,
			expires_at DATETIME NOT NULL,
			used BOOLEAN NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_oauth_codes_client ON oauth_authorization_codes (client_id)`,
		`CREATE TABLE IF NOT EXISTS oauth_tokens (
			token_hash TEXT PRIMARY KEY,
			client_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			scope TEXT,
			expires_at DATETIME NOT NULL,
			revoked BOOLEAN NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
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

func sqliteBaseSchemaDown(_ context.Context, tx *gorm.DB) error {
	tables := []string{
		"oauth_tokens", "oauth_authorization_codes", "oauth_clients",
		"api_usage_tracking", "interactions", "entities", "memories", "users",
	}
	for _, t := range tables {
		if err := tx.Exec("DROP TABLE IF EXISTS " + t).Error; err != nil {
			return err
		}
	}
	return nil
}

func sqliteBaseSchemaVerify(_ context.Context, tx *gorm.DB) error {
	for _, t := range []string{"users", "memories", "entities", "interactions", "api_usage_tracking", "oauth_clients", "oauth_authorization_codes", "oauth_tokens"} {
		var name string
		if err := tx.Raw("SELECT name FROM sqlite_master WHERE type='table' AND name = ?", t).Scan(&name).Error; err != nil {
			return err
		}
		if name != t {
			return errMissingTable(t)
		}
	}
	return nil
}

func sqliteFTSUp(_ context.Context, tx *gorm.DB) error {
	stmts := []string{
		`CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(id UNINDEXED, user_id UNINDEXED, text)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS entities_fts USING fts5(id UNINDEXED, user_id UNINDEXED, text)`,

		`CREATE TRIGGER IF NOT EXISTS memories_fts_ai AFTER INSERT ON memories BEGIN
			INSERT INTO memories_fts(id, user_id, text) VALUES (new.id, new.user_id, new.title || ' ' || new.content || ' ' || coalesce(new.tags, ''));
		END`,
		`CREATE TRIGGER IF NOT EXISTS memories_fts_au AFTER UPDATE ON memories BEGIN
			DELETE FROM memories_fts WHERE id = old.id;
			INSERT INTO memories_fts(id, user_id, text) VALUES (new.id, new.user_id, new.title || ' ' || new.content || ' ' || coalesce(new.tags, ''));
		END`,
		`CREATE TRIGGER IF NOT EXISTS memories_fts_ad AFTER DELETE ON memories BEGIN
			DELETE FROM memories_fts WHERE id = old.id;
		END`,

		`CREATE TRIGGER IF NOT EXISTS entities_fts_ai AFTER INSERT ON entities BEGIN
			INSERT INTO entities_fts(id, user_id, text) VALUES (new.id, new.user_id, new.name || ' ' || coalesce(new.company, '') || ' ' || coalesce(new.notes, ''));
		END`,
		`CREATE TRIGGER IF NOT EXISTS entities_fts_au AFTER UPDATE ON entities BEGIN
			DELETE FROM entities_fts WHERE id = old.id;
			INSERT INTO entities_fts(id, user_id, text) VALUES (new.id, new.user_id, new.name || ' ' || coalesce(new.company, '') || ' ' || coalesce(new.notes, ''));
		END`,
		`CREATE TRIGGER IF NOT EXISTS entities_fts_ad AFTER DELETE ON entities BEGIN
			DELETE FROM entities_fts WHERE id = old.id;
		END`,
	}
	for _, stmt := range stmts {
		if err := tx.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

func sqliteFTSDown(_ context.Context, tx *gorm.DB) error {
	for _, trig := range []string{
		"memories_fts_ai", "memories_fts_au", "memories_fts_ad",
		"entities_fts_ai", "entities_fts_au", "entities_fts_ad",
	} {
		if err := tx.Exec("DROP TRIGGER IF EXISTS " + trig).Error; err != nil {
			return err
		}
	}
	for _, t := range []string{"memories_fts", "entities_fts"} {
		if err := tx.Exec("DROP TABLE IF EXISTS " + t).Error; err != nil {
			return err
		}
	}
	return nil
}

func sqliteFTSVerify(_ context.Context, tx *gorm.DB) error {
	for _, t := range []string{"memories_fts", "entities_fts"} {
		var name string
		if err := tx.Raw("SELECT name FROM sqlite_master WHERE type='table' AND name = ?", t).Scan(&name).Error; err != nil {
			return err
		}
		if name != t {
			return errMissingTable(t)
		}
	}
	return nil
}
