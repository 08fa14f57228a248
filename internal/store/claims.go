package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	errs "github.com/hurttlocker/canon/internal/errors"
)

const claimColumns = `c.id, c.club_id, c.category_id, cat.key, c.canonical_text, c.structured,
	c.status, c.confidence, c.signature, c.last_verified_at, c.version, c.created_at, c.updated_at`

const claimFrom = ` FROM claims c JOIN categories cat ON cat.id = c.category_id`

// GetClaim retrieves a claim by ID.
func (s *SQLiteStore) GetClaim(ctx context.Context, id string) (*Claim, error) {
	return getClaim(ctx, s.db, id)
}

func (t *sqlTx) GetClaim(ctx context.Context, id string) (*Claim, error) {
	return getClaim(ctx, t.tx, id)
}

// ListClaims returns claims matching filter, ordered by category display
// order then creation time.
func (s *SQLiteStore) ListClaims(ctx context.Context, filter ClaimFilter) ([]*Claim, error) {
	query := `SELECT ` + claimColumns + claimFrom
	var conds []string
	var args []interface{}

	if len(filter.ClubIDs) > 0 {
		conds = append(conds, "c.club_id IN ("+placeholders(len(filter.ClubIDs))+")")
		for _, id := range filter.ClubIDs {
			args = append(args, id)
		}
	}
	if len(filter.CategoryKeys) > 0 {
		conds = append(conds, "cat.key IN ("+placeholders(len(filter.CategoryKeys))+")")
		for _, k := range filter.CategoryKeys {
			args = append(args, string(k))
		}
	}
	if filter.Status != "" {
		conds = append(conds, "c.status = ?")
		args = append(args, string(filter.Status))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY c.club_id ASC, cat.order_index ASC, c.created_at ASC, c.id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing claims: %w", err)
	}
	return scanClaims(rows)
}

// FindClaimBySignature returns the claim in a cell with the given signature,
// or nil when there is none.
func (t *sqlTx) FindClaimBySignature(ctx context.Context, clubID, categoryID, signature string) (*Claim, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+claimColumns+claimFrom+`
		 WHERE c.club_id = ? AND c.category_id = ? AND c.signature = ?
		 ORDER BY c.created_at ASC, c.id ASC LIMIT 1`,
		clubID, categoryID, signature,
	)
	if err != nil {
		return nil, fmt.Errorf("finding claim by signature: %w", err)
	}
	claims, err := scanClaims(rows)
	if err != nil {
		return nil, err
	}
	if len(claims) == 0 {
		return nil, nil
	}
	return claims[0], nil
}

// InsertClaim stores a new claim. ID, timestamps and Version are assigned.
func (t *sqlTx) InsertClaim(ctx context.Context, c *Claim) error {
	if err := validateClaim(c); err != nil {
		return err
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = c.CreatedAt
	c.Version = 1

	structured, err := encodeStructured(c.Structured)
	if err != nil {
		return fmt.Errorf("encoding structured: %w", err)
	}

	_, err = t.tx.ExecContext(ctx,
		`INSERT INTO claims (id, club_id, category_id, canonical_text, structured, status, confidence,
		                     signature, last_verified_at, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ClubID, c.CategoryID, c.CanonicalText, structured, string(c.Status), string(c.Confidence),
		c.Signature, nullableTime(c.LastVerifiedAt), c.Version, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting claim: %w", err)
	}
	return nil
}

// UpdateClaim writes every mutable column of c when the stored version equals
// expectedVersion. On success c.Version and c.UpdatedAt are advanced.
func (t *sqlTx) UpdateClaim(ctx context.Context, c *Claim, expectedVersion int64) error {
	if err := validateClaim(c); err != nil {
		return err
	}
	structured, err := encodeStructured(c.Structured)
	if err != nil {
		return fmt.Errorf("encoding structured: %w", err)
	}
	now := time.Now().UTC()

	res, err := t.tx.ExecContext(ctx,
		`UPDATE claims SET category_id = ?, canonical_text = ?, structured = ?, status = ?, confidence = ?,
		                   signature = ?, last_verified_at = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		c.CategoryID, c.CanonicalText, structured, string(c.Status), string(c.Confidence),
		c.Signature, nullableTime(c.LastVerifiedAt), now, c.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("updating claim %s: %w", c.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating claim %s: %w", c.ID, err)
	}
	if n == 0 {
		var actual int64
		err := t.tx.QueryRowContext(ctx, `SELECT version FROM claims WHERE id = ?`, c.ID).Scan(&actual)
		if err == sql.ErrNoRows {
			return errs.NewNotFoundError("claim", c.ID)
		}
		if err != nil {
			return fmt.Errorf("reading claim version: %w", err)
		}
		return errs.NewConflictError("claim", c.ID, expectedVersion, actual)
	}

	c.Version = expectedVersion + 1
	c.UpdatedAt = now
	return nil
}

// DeleteClaim removes a claim and, by cascade, its evidence links. History
// rows are kept.
func (t *sqlTx) DeleteClaim(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM claims WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting claim %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting claim %s: %w", id, err)
	}
	if n == 0 {
		return errs.NewNotFoundError("claim", id)
	}
	return nil
}

func getClaim(ctx context.Context, q querier, id string) (*Claim, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+claimColumns+claimFrom+` WHERE c.id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("getting claim: %w", err)
	}
	claims, err := scanClaims(rows)
	if err != nil {
		return nil, err
	}
	if len(claims) == 0 {
		return nil, errs.NewNotFoundError("claim", id)
	}
	return claims[0], nil
}

func scanClaims(rows *sql.Rows) ([]*Claim, error) {
	defer rows.Close()
	var claims []*Claim
	for rows.Next() {
		c := &Claim{}
		var structured string
		var verified sql.NullTime
		if err := rows.Scan(&c.ID, &c.ClubID, &c.CategoryID, &c.CategoryKey, &c.CanonicalText, &structured,
			&c.Status, &c.Confidence, &c.Signature, &verified, &c.Version, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning claim: %w", err)
		}
		s, err := decodeStructured(structured)
		if err != nil {
			return nil, fmt.Errorf("decoding structured for %s: %w", c.ID, err)
		}
		c.Structured = s
		if verified.Valid {
			v := verified.Time
			c.LastVerifiedAt = &v
		}
		claims = append(claims, c)
	}
	return claims, rows.Err()
}

func validateClaim(c *Claim) error {
	if strings.TrimSpace(c.CanonicalText) == "" {
		return errs.NewValidationError("canonical_text", c.CanonicalText, "claim text is required")
	}
	if c.Signature == "" {
		return errs.NewValidationError("signature", c.Signature, "claim signature is required")
	}
	if !c.Status.Valid() {
		return errs.NewValidationError("status", c.Status, "unknown status")
	}
	if !c.Confidence.Valid() {
		return errs.NewValidationError("confidence", c.Confidence, "unknown confidence")
	}
	return nil
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}
