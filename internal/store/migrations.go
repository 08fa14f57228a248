package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// schemaVersion is bumped whenever the bootstrap DDL changes shape.
const schemaVersion = "2"

// migrate creates all tables if they don't exist and seeds metadata.
func (s *SQLiteStore) migrate() error {
	bootstrapDone, err := s.isMetaFlagEnabled("schema_bootstrap_complete")
	if err != nil {
		return fmt.Errorf("checking bootstrap state: %w", err)
	}

	if !bootstrapDone {
		if err := s.runBootstrapDDL(); err != nil {
			return err
		}
	}

	// Seed metadata (outside bootstrap transaction, meta table now exists)
	if err := s.seedMeta(); err != nil {
		return fmt.Errorf("seeding metadata: %w", err)
	}

	if !bootstrapDone {
		if err := s.setMetaFlag("schema_bootstrap_complete"); err != nil {
			return fmt.Errorf("marking bootstrap complete: %w", err)
		}
	}

	// Schema evolution: optimistic version counter on claims.
	if err := s.migrateClaimVersionColumn(); err != nil {
		return fmt.Errorf("migrating claim version column: %w", err)
	}

	// Schema evolution: history is append-only.
	if err := s.migrateHistoryGuards(); err != nil {
		return fmt.Errorf("migrating history guards: %w", err)
	}

	return nil
}

func (s *SQLiteStore) runBootstrapDDL() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS clubs (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS categories (
			id          TEXT PRIMARY KEY,
			club_id     TEXT NOT NULL REFERENCES clubs(id) ON DELETE CASCADE,
			key         TEXT NOT NULL,
			label       TEXT NOT NULL,
			order_index INTEGER NOT NULL DEFAULT 0,
			UNIQUE(club_id, key)
		)`,

		`CREATE TABLE IF NOT EXISTS sources (
			id         TEXT PRIMARY KEY,
			club_id    TEXT NOT NULL REFERENCES clubs(id) ON DELETE CASCADE,
			type       TEXT NOT NULL,
			title      TEXT NOT NULL DEFAULT '',
			uri        TEXT NOT NULL DEFAULT '',
			metadata   TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sources_club ON sources(club_id)`,

		`CREATE TABLE IF NOT EXISTS evidence_chunks (
			id           TEXT PRIMARY KEY,
			source_id    TEXT NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
			club_id      TEXT NOT NULL REFERENCES clubs(id) ON DELETE CASCADE,
			kind         TEXT NOT NULL,
			text         TEXT NOT NULL DEFAULT '',
			locator      TEXT NOT NULL DEFAULT '{}',
			content_hash TEXT NOT NULL,
			created_at   DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(source_id, content_hash)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_evidence_club ON evidence_chunks(club_id)`,

		`CREATE TABLE IF NOT EXISTS claims (
			id               TEXT PRIMARY KEY,
			club_id          TEXT NOT NULL REFERENCES clubs(id) ON DELETE CASCADE,
			category_id      TEXT NOT NULL REFERENCES categories(id),
			canonical_text   TEXT NOT NULL,
			structured       TEXT NOT NULL DEFAULT '{}',
			status           TEXT NOT NULL DEFAULT 'unreviewed',
			confidence       TEXT NOT NULL DEFAULT 'medium',
			signature        TEXT NOT NULL,
			last_verified_at DATETIME,
			created_at       DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at       DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_claims_cell ON claims(club_id, category_id)`,
		`CREATE INDEX IF NOT EXISTS idx_claims_signature ON claims(club_id, category_id, signature)`,

		`CREATE TABLE IF NOT EXISTS claim_evidence (
			claim_id          TEXT NOT NULL REFERENCES claims(id) ON DELETE CASCADE,
			evidence_chunk_id TEXT NOT NULL REFERENCES evidence_chunks(id),
			weight            REAL NOT NULL DEFAULT 1.0,
			PRIMARY KEY (claim_id, evidence_chunk_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_claim_evidence_chunk ON claim_evidence(evidence_chunk_id)`,

		// No foreign key: history outlives merged and split claims.
		`CREATE TABLE IF NOT EXISTS claim_history (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			claim_id     TEXT NOT NULL,
			actor        TEXT,
			action       TEXT NOT NULL,
			before_state TEXT,
			after_state  TEXT,
			created_at   DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_claim_history_claim ON claim_history(claim_id, id)`,

		// Metadata table
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT
		)`,
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning migration transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("executing migration %q: %w", truncate(stmt, 80), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migration: %w", err)
	}
	return nil
}

func (s *SQLiteStore) isMetaFlagEnabled(key string) (bool, error) {
	var exists int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='meta'`).Scan(&exists); err != nil {
		return false, err
	}
	if exists == 0 {
		return false, nil
	}

	var value string
	err := s.db.QueryRow("SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return value == "true", nil
}

func (s *SQLiteStore) setMetaFlag(key string) error {
	_, err := s.db.Exec("INSERT OR REPLACE INTO meta (key, value) VALUES (?, 'true')", key)
	return err
}

func (s *SQLiteStore) getMetaValue(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func isDuplicateColumnError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "duplicate column name")
}

// migrateClaimVersionColumn adds the optimistic concurrency counter to claims.
// Idempotent: checks pragma_table_info before altering.
func (s *SQLiteStore) migrateClaimVersionColumn() error {
	var count int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM pragma_table_info('claims') WHERE name='version'",
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("checking for version column: %w", err)
	}
	if count > 0 {
		return nil
	}

	if _, err := s.db.Exec(`ALTER TABLE claims ADD COLUMN version INTEGER NOT NULL DEFAULT 1`); err != nil {
		if isDuplicateColumnError(err) {
			return nil
		}
		return fmt.Errorf("adding version column: %w", err)
	}
	return nil
}

// migrateHistoryGuards installs triggers that reject deletes and content
// rewrites of claim_history. Only claim_id may change, for retargeting.
func (s *SQLiteStore) migrateHistoryGuards() error {
	done, err := s.isMetaFlagEnabled("history_guards_v1")
	if err != nil {
		return err
	}
	if done {
		return nil
	}

	triggers := []string{
		`CREATE TRIGGER IF NOT EXISTS claim_history_no_delete
		 BEFORE DELETE ON claim_history
		 BEGIN
			SELECT RAISE(ABORT, 'claim_history is append-only');
		 END`,
		`CREATE TRIGGER IF NOT EXISTS claim_history_no_rewrite
		 BEFORE UPDATE OF id, actor, action, before_state, after_state, created_at ON claim_history
		 BEGIN
			SELECT RAISE(ABORT, 'claim_history is append-only');
		 END`,
	}
	for _, stmt := range triggers {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("creating history trigger: %w", err)
		}
	}
	return s.setMetaFlag("history_guards_v1")
}

func (s *SQLiteStore) seedMeta() error {
	defaults := map[string]string{
		"schema_version": schemaVersion,
		"created_at":     time.Now().UTC().Format(time.RFC3339),
	}

	for k, v := range defaults {
		_, err := s.db.Exec(
			"INSERT OR IGNORE INTO meta (key, value) VALUES (?, ?)", k, v,
		)
		if err != nil {
			return fmt.Errorf("seeding meta key %q: %w", k, err)
		}
	}
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
