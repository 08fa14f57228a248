package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	errs "github.com/hurttlocker/canon/internal/errors"
)

// AppendHistory appends an entry to the claim history log.
func (t *sqlTx) AppendHistory(ctx context.Context, e *HistoryEntry) error {
	if e.ClaimID == "" {
		return errs.NewValidationError("claim_id", e.ClaimID, "history entry requires a claim")
	}
	switch e.Action {
	case ActionCreate, ActionEdit, ActionRecategorize, ActionMerge, ActionSplit, ActionStatusChange, ActionCorroborate:
	default:
		return errs.NewValidationError("action", e.Action, "unknown history action")
	}

	before, err := encodeSnapshot(e.Before)
	if err != nil {
		return fmt.Errorf("encoding before snapshot: %w", err)
	}
	after, err := encodeSnapshot(e.After)
	if err != nil {
		return fmt.Errorf("encoding after snapshot: %w", err)
	}

	now := time.Now().UTC()
	result, err := t.tx.ExecContext(ctx,
		`INSERT INTO claim_history (claim_id, actor, action, before_state, after_state, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ClaimID, e.Actor, string(e.Action), before, after, now,
	)
	if err != nil {
		return fmt.Errorf("appending history: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting history id: %w", err)
	}
	e.ID = id
	e.CreatedAt = now
	return nil
}

// RetargetHistory moves every history row of fromClaimIDs onto toClaimID.
func (t *sqlTx) RetargetHistory(ctx context.Context, fromClaimIDs []string, toClaimID string) (int64, error) {
	if len(fromClaimIDs) == 0 {
		return 0, nil
	}
	args := []interface{}{toClaimID}
	for _, id := range fromClaimIDs {
		args = append(args, id)
	}
	res, err := t.tx.ExecContext(ctx,
		`UPDATE claim_history SET claim_id = ? WHERE claim_id IN (`+placeholders(len(fromClaimIDs))+`)`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("retargeting history: %w", err)
	}
	return res.RowsAffected()
}

// ListHistory returns a claim's history, newest first. limit <= 0 means
// DefaultHistoryLimit.
func (s *SQLiteStore) ListHistory(ctx context.Context, claimID string, limit int) ([]*HistoryEntry, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, claim_id, actor, action, before_state, after_state, created_at
		 FROM claim_history WHERE claim_id = ?
		 ORDER BY id DESC LIMIT ?`, claimID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}
	defer rows.Close()

	var entries []*HistoryEntry
	for rows.Next() {
		e := &HistoryEntry{}
		var actor, before, after sql.NullString
		if err := rows.Scan(&e.ID, &e.ClaimID, &actor, &e.Action, &before, &after, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning history: %w", err)
		}
		if actor.Valid {
			a := actor.String
			e.Actor = &a
		}
		if e.Before, err = decodeSnapshot(before); err != nil {
			return nil, fmt.Errorf("decoding before snapshot %d: %w", e.ID, err)
		}
		if e.After, err = decodeSnapshot(after); err != nil {
			return nil, fmt.Errorf("decoding after snapshot %d: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Snapshot renders the claim fields recorded in history entries.
func (c *Claim) Snapshot() map[string]interface{} {
	snap := map[string]interface{}{
		"canonical_text": c.CanonicalText,
		"category_key":   string(c.CategoryKey),
		"status":         string(c.Status),
		"confidence":     string(c.Confidence),
		"signature":      c.Signature,
	}
	if !c.Structured.IsEmpty() {
		snap["structured"] = c.Structured
	}
	if c.LastVerifiedAt != nil {
		snap["last_verified_at"] = c.LastVerifiedAt.UTC().Format(time.RFC3339)
	}
	return snap
}

func encodeSnapshot(m map[string]interface{}) (interface{}, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func decodeSnapshot(raw sql.NullString) (map[string]interface{}, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(raw.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}
