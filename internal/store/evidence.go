package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	errs "github.com/hurttlocker/canon/internal/errors"
)

// AddSource registers a source under an existing club. ID and CreatedAt are
// assigned when empty.
func (s *SQLiteStore) AddSource(ctx context.Context, src *Source) error {
	if src.ClubID == "" {
		return errs.NewValidationError("club_id", src.ClubID, "source requires a club")
	}
	switch src.Type {
	case SourceGoogleSheet, SourcePhoto, SourcePaste, SourceFile:
	default:
		return errs.NewValidationError("type", src.Type, "unknown source type")
	}
	if _, err := s.GetClub(ctx, src.ClubID); err != nil {
		return err
	}

	if src.ID == "" {
		src.ID = uuid.NewString()
	}
	if src.CreatedAt.IsZero() {
		src.CreatedAt = time.Now().UTC()
	}
	meta, err := encodeStringMap(src.Metadata)
	if err != nil {
		return fmt.Errorf("encoding source metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sources (id, club_id, type, title, uri, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		src.ID, src.ClubID, string(src.Type), src.Title, src.URI, meta, src.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting source: %w", err)
	}
	return nil
}

// AddEvidenceChunk stores an immutable excerpt of a source. A chunk whose
// content hash already exists for the same source is not stored again: the
// existing chunk's ID is copied into chunk and inserted is false.
func (s *SQLiteStore) AddEvidenceChunk(ctx context.Context, chunk *EvidenceChunk) (bool, error) {
	switch chunk.Kind {
	case ChunkSheetRange, ChunkOCRText, ChunkImageCrop, ChunkPastedChunk:
	default:
		return false, errs.NewValidationError("kind", chunk.Kind, "unknown evidence kind")
	}

	var clubID string
	err := s.db.QueryRowContext(ctx, `SELECT club_id FROM sources WHERE id = ?`, chunk.SourceID).Scan(&clubID)
	if err == sql.ErrNoRows {
		return false, errs.NewNotFoundError("source", chunk.SourceID)
	}
	if err != nil {
		return false, fmt.Errorf("resolving source %s: %w", chunk.SourceID, err)
	}
	chunk.ClubID = clubID
	chunk.ContentHash = HashChunkContent(chunk.Kind, chunk.Text, chunk.Locator)

	var existing string
	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM evidence_chunks WHERE source_id = ? AND content_hash = ?`,
		chunk.SourceID, chunk.ContentHash,
	).Scan(&existing)
	if err == nil {
		chunk.ID = existing
		return false, nil
	}
	if err != sql.ErrNoRows {
		return false, fmt.Errorf("checking chunk hash: %w", err)
	}

	if chunk.ID == "" {
		chunk.ID = uuid.NewString()
	}
	if chunk.CreatedAt.IsZero() {
		chunk.CreatedAt = time.Now().UTC()
	}
	locator, err := encodeStringMap(chunk.Locator)
	if err != nil {
		return false, fmt.Errorf("encoding locator: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO evidence_chunks (id, source_id, club_id, kind, text, locator, content_hash, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		chunk.ID, chunk.SourceID, chunk.ClubID, string(chunk.Kind), chunk.Text, locator, chunk.ContentHash, chunk.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("inserting evidence chunk: %w", err)
	}
	return true, nil
}

const chunkColumns = `e.id, e.source_id, e.club_id, e.kind, e.text, e.locator, e.content_hash, e.created_at`

// GetEvidenceChunk retrieves a chunk by ID.
func (s *SQLiteStore) GetEvidenceChunk(ctx context.Context, id string) (*EvidenceChunk, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+chunkColumns+` FROM evidence_chunks e WHERE e.id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("getting evidence chunk: %w", err)
	}
	chunks, err := scanChunks(rows)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, errs.NewNotFoundError("evidence_chunk", id)
	}
	return chunks[0], nil
}

// ListSourceChunks returns a source's chunks in insertion order.
func (s *SQLiteStore) ListSourceChunks(ctx context.Context, sourceID string) ([]*EvidenceChunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM evidence_chunks e
		 WHERE e.source_id = ? ORDER BY e.created_at ASC, e.rowid ASC`, sourceID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing source chunks: %w", err)
	}
	return scanChunks(rows)
}

// ListEvidenceForClaim returns the chunks linked to a claim in link order.
func (s *SQLiteStore) ListEvidenceForClaim(ctx context.Context, claimID string) ([]*EvidenceChunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM claim_evidence ce
		 JOIN evidence_chunks e ON e.id = ce.evidence_chunk_id
		 WHERE ce.claim_id = ? ORDER BY ce.rowid ASC`, claimID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing claim evidence: %w", err)
	}
	return scanChunks(rows)
}

// ListEvidenceLinks returns a claim's evidence links in link order.
func (s *SQLiteStore) ListEvidenceLinks(ctx context.Context, claimID string) ([]EvidenceLink, error) {
	return listEvidenceLinks(ctx, s.db, claimID)
}

func (t *sqlTx) ListEvidenceLinks(ctx context.Context, claimID string) ([]EvidenceLink, error) {
	return listEvidenceLinks(ctx, t.tx, claimID)
}

// CheckEvidence verifies that every chunk exists and belongs to clubID.
func (t *sqlTx) CheckEvidence(ctx context.Context, clubID string, chunkIDs []string) error {
	for _, id := range chunkIDs {
		var owner string
		err := t.tx.QueryRowContext(ctx, `SELECT club_id FROM evidence_chunks WHERE id = ?`, id).Scan(&owner)
		if err == sql.ErrNoRows {
			return errs.NewNotFoundError("evidence_chunk", id)
		}
		if err != nil {
			return fmt.Errorf("checking evidence chunk %s: %w", id, err)
		}
		if owner != clubID {
			return errs.NewValidationError("evidence_chunk_id", id, "evidence belongs to a different club")
		}
	}
	return nil
}

// LinkEvidence links a chunk to a claim. Linking an already-linked chunk is a
// no-op and reports inserted == false.
func (t *sqlTx) LinkEvidence(ctx context.Context, claimID, chunkID string, weight float64) (bool, error) {
	res, err := t.tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO claim_evidence (claim_id, evidence_chunk_id, weight) VALUES (?, ?, ?)`,
		claimID, chunkID, weight,
	)
	if err != nil {
		return false, fmt.Errorf("linking evidence: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("linking evidence: %w", err)
	}
	return n > 0, nil
}

// ReplaceEvidence sets a claim's links to exactly links, in order.
func (t *sqlTx) ReplaceEvidence(ctx context.Context, claimID string, links []EvidenceLink) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM claim_evidence WHERE claim_id = ?`, claimID); err != nil {
		return fmt.Errorf("clearing evidence links: %w", err)
	}
	for _, l := range links {
		if _, err := t.LinkEvidence(ctx, claimID, l.EvidenceChunkID, l.Weight); err != nil {
			return err
		}
	}
	return nil
}

func listEvidenceLinks(ctx context.Context, q querier, claimID string) ([]EvidenceLink, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT claim_id, evidence_chunk_id, weight FROM claim_evidence
		 WHERE claim_id = ? ORDER BY rowid ASC`, claimID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing evidence links: %w", err)
	}
	defer rows.Close()

	var links []EvidenceLink
	for rows.Next() {
		var l EvidenceLink
		if err := rows.Scan(&l.ClaimID, &l.EvidenceChunkID, &l.Weight); err != nil {
			return nil, fmt.Errorf("scanning evidence link: %w", err)
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

func scanChunks(rows *sql.Rows) ([]*EvidenceChunk, error) {
	defer rows.Close()
	var chunks []*EvidenceChunk
	for rows.Next() {
		c := &EvidenceChunk{}
		var locator string
		if err := rows.Scan(&c.ID, &c.SourceID, &c.ClubID, &c.Kind, &c.Text, &locator, &c.ContentHash, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning evidence chunk: %w", err)
		}
		m, err := decodeStringMap(locator)
		if err != nil {
			return nil, fmt.Errorf("decoding locator for %s: %w", c.ID, err)
		}
		c.Locator = m
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func encodeStringMap(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeStringMap(raw string) (map[string]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "{}" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	return m, nil
}
