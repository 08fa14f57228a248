// Package store provides the SQLite storage layer for canon.
//
// All registry data lives in a single SQLite database file:
// - Clubs and their requirement categories
// - Sources and the immutable evidence chunks cut from them
// - Canonical claims with their evidence links
// - The append-only claim history
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultDBPath is the default database location.
const DefaultDBPath = "~/.canon/canon.db"

// DefaultHistoryLimit is the number of history entries returned when no limit is given.
const DefaultHistoryLimit = 10

// Club is the opaque partition every category, source and claim belongs to.
type Club struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Category is a club's copy of a category template.
type Category struct {
	ID         string      `json:"id"`
	ClubID     string      `json:"club_id"`
	Key        CategoryKey `json:"key"`
	Label      string      `json:"label"`
	OrderIndex int         `json:"order_index"`
}

// Source is one unit of ingestion (a paste, a sheet, a photo).
type Source struct {
	ID        string            `json:"id"`
	ClubID    string            `json:"club_id"`
	Type      SourceType        `json:"type"`
	Title     string            `json:"title"`
	URI       string            `json:"uri,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// EvidenceChunk is an immutable excerpt of a source.
type EvidenceChunk struct {
	ID          string            `json:"id"`
	SourceID    string            `json:"source_id"`
	ClubID      string            `json:"club_id"`
	Kind        ChunkKind         `json:"kind"`
	Text        string            `json:"text"`
	Locator     map[string]string `json:"locator,omitempty"`
	ContentHash string            `json:"content_hash"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Claim is the canonical, deduplicated unit of the registry.
type Claim struct {
	ID             string      `json:"id"`
	ClubID         string      `json:"club_id"`
	CategoryID     string      `json:"category_id"`
	CategoryKey    CategoryKey `json:"category_key"`
	CanonicalText  string      `json:"canonical_text"`
	Structured     *Structured `json:"structured,omitempty"`
	Status         Status      `json:"status"`
	Confidence     Confidence  `json:"confidence"`
	Signature      string      `json:"signature"`
	LastVerifiedAt *time.Time  `json:"last_verified_at,omitempty"`
	Version        int64       `json:"version"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// EvidenceLink associates a claim with one evidence chunk.
type EvidenceLink struct {
	ClaimID         string  `json:"claim_id"`
	EvidenceChunkID string  `json:"evidence_chunk_id"`
	Weight          float64 `json:"weight"`
}

// HistoryEntry is one append-only audit record of a claim.
type HistoryEntry struct {
	ID        int64                  `json:"id"`
	ClaimID   string                 `json:"claim_id"`
	Actor     *string                `json:"actor,omitempty"`
	Action    Action                 `json:"action"`
	Before    map[string]interface{} `json:"before,omitempty"`
	After     map[string]interface{} `json:"after,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// ClaimFilter narrows ListClaims. Zero values mean no restriction.
type ClaimFilter struct {
	ClubIDs      []string
	CategoryKeys []CategoryKey
	Status       Status
	Limit        int
}

// StoreStats holds observability statistics about the store.
type StoreStats struct {
	ClubCount     int64 `json:"clubs"`
	SourceCount   int64 `json:"sources"`
	EvidenceCount int64 `json:"evidence_chunks"`
	ClaimCount    int64 `json:"claims"`
	LinkCount     int64 `json:"claim_evidence"`
	HistoryCount  int64 `json:"claim_history"`
	DBSizeBytes   int64 `json:"db_size_bytes"`
}

// StoreConfig holds configuration for NewStore.
type StoreConfig struct {
	DBPath string
}

// Store defines the claim registry storage interface.
type Store interface {
	// Clubs and categories
	CreateClub(ctx context.Context, name string) (*Club, error)
	GetClub(ctx context.Context, id string) (*Club, error)
	ListClubs(ctx context.Context) ([]*Club, error)
	ListCategories(ctx context.Context, clubID string) ([]*Category, error)
	GetCategoryByKey(ctx context.Context, clubID string, key CategoryKey) (*Category, error)

	// Sources and evidence
	AddSource(ctx context.Context, src *Source) error
	AddEvidenceChunk(ctx context.Context, chunk *EvidenceChunk) (bool, error)
	GetEvidenceChunk(ctx context.Context, id string) (*EvidenceChunk, error)
	ListSourceChunks(ctx context.Context, sourceID string) ([]*EvidenceChunk, error)
	ListEvidenceForClaim(ctx context.Context, claimID string) ([]*EvidenceChunk, error)

	// Claims
	GetClaim(ctx context.Context, id string) (*Claim, error)
	ListClaims(ctx context.Context, filter ClaimFilter) ([]*Claim, error)
	ListEvidenceLinks(ctx context.Context, claimID string) ([]EvidenceLink, error)
	ListHistory(ctx context.Context, claimID string, limit int) ([]*HistoryEntry, error)

	// InTx runs fn inside one transaction. fn's error rolls everything back.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	// Observability
	Stats(ctx context.Context) (*StoreStats, error)

	Close() error
}

// Tx is the set of claim mutations available inside a transaction.
type Tx interface {
	GetClaim(ctx context.Context, id string) (*Claim, error)
	FindClaimBySignature(ctx context.Context, clubID, categoryID, signature string) (*Claim, error)
	GetCategory(ctx context.Context, id string) (*Category, error)
	GetCategoryByKey(ctx context.Context, clubID string, key CategoryKey) (*Category, error)
	InsertClaim(ctx context.Context, c *Claim) error
	// UpdateClaim writes c if the stored version equals expectedVersion and
	// increments c.Version. A mismatch returns a ConflictError.
	UpdateClaim(ctx context.Context, c *Claim, expectedVersion int64) error
	DeleteClaim(ctx context.Context, id string) error

	CheckEvidence(ctx context.Context, clubID string, chunkIDs []string) error
	LinkEvidence(ctx context.Context, claimID, chunkID string, weight float64) (bool, error)
	ReplaceEvidence(ctx context.Context, claimID string, links []EvidenceLink) error
	ListEvidenceLinks(ctx context.Context, claimID string) ([]EvidenceLink, error)

	AppendHistory(ctx context.Context, e *HistoryEntry) error
	RetargetHistory(ctx context.Context, fromClaimIDs []string, toClaimID string) (int64, error)
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewStore creates a new SQLite-backed Store.
// Pass ":memory:" for in-memory databases (testing).
func NewStore(cfg StoreConfig) (Store, error) {
	if cfg.DBPath == "" {
		cfg.DBPath = expandPath(DefaultDBPath)
	}

	// Create parent directory for non-memory databases
	if cfg.DBPath != ":memory:" {
		dir := filepath.Dir(cfg.DBPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One connection: transactions serialize, pragmas stick and ":memory:"
	// stays a single database.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db, dbPath: cfg.DBPath}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetDB exposes the underlying handle for maintenance queries and tests.
func (s *SQLiteStore) GetDB() *sql.DB {
	return s.db
}

// Stats returns current database statistics.
func (s *SQLiteStore) Stats(ctx context.Context) (*StoreStats, error) {
	stats := &StoreStats{}
	queries := []struct {
		query string
		dest  *int64
	}{
		{"SELECT COUNT(*) FROM clubs", &stats.ClubCount},
		{"SELECT COUNT(*) FROM sources", &stats.SourceCount},
		{"SELECT COUNT(*) FROM evidence_chunks", &stats.EvidenceCount},
		{"SELECT COUNT(*) FROM claims", &stats.ClaimCount},
		{"SELECT COUNT(*) FROM claim_evidence", &stats.LinkCount},
		{"SELECT COUNT(*) FROM claim_history", &stats.HistoryCount},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("querying stats (%s): %w", q.query, err)
		}
	}

	if s.dbPath != ":memory:" {
		var pageCount, pageSize int64
		s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount)
		s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		stats.DBSizeBytes = pageCount * pageSize
	}
	return stats, nil
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
