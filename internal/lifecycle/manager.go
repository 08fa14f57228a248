package lifecycle

import (
	"context"
	"strings"
	"time"

	errs "github.com/hurttlocker/canon/internal/errors"
	"github.com/hurttlocker/canon/internal/logging"
	"github.com/hurttlocker/canon/internal/signature"
	"github.com/hurttlocker/canon/internal/store"
)

// Manager applies operator actions to single claims. Every mutation is a
// version-checked read-modify-write that appends its history entry in the
// same transaction.
type Manager struct {
	st  store.Store
	now func() time.Time
}

// NewManager returns a Manager over st.
func NewManager(st store.Store) *Manager {
	return &Manager{st: st, now: func() time.Time { return time.Now().UTC() }}
}

// StatusRequest moves a claim to Status. ExpectedVersion 0 skips the
// caller-side version precondition.
type StatusRequest struct {
	ClaimID         string       `json:"claim_id"`
	Status          store.Status `json:"status"`
	ExpectedVersion int64        `json:"expected_version,omitempty"`
	Actor           string       `json:"actor,omitempty"`
}

// EditRequest replaces a claim's canonical text and structured payload.
type EditRequest struct {
	ClaimID         string            `json:"claim_id"`
	CanonicalText   string            `json:"canonical_text"`
	Structured      *store.Structured `json:"structured,omitempty"`
	ExpectedVersion int64             `json:"expected_version,omitempty"`
	Actor           string            `json:"actor,omitempty"`
}

// RecategorizeRequest moves a claim to another category of its club.
type RecategorizeRequest struct {
	ClaimID         string `json:"claim_id"`
	CategoryKey     string `json:"category_key"`
	ExpectedVersion int64  `json:"expected_version,omitempty"`
	Actor           string `json:"actor,omitempty"`
}

// SetStatus applies a status transition. Entering accepted stamps
// last_verified_at; any other state leaves it as it was.
func (m *Manager) SetStatus(ctx context.Context, req StatusRequest) (*store.Claim, error) {
	action, err := ActionFor(req.Status)
	if err != nil {
		return nil, err
	}

	var out *store.Claim
	err = m.st.InTx(ctx, func(tx store.Tx) error {
		c, err := m.load(ctx, tx, req.ClaimID, req.ExpectedVersion)
		if err != nil {
			return err
		}
		next, err := NextStatus(c.Status, action)
		if err != nil {
			return err
		}

		before := map[string]interface{}{"status": string(c.Status)}
		if c.LastVerifiedAt != nil {
			before["last_verified_at"] = c.LastVerifiedAt.Format(time.RFC3339)
		}

		c.Status = next
		if next == store.StatusAccepted {
			now := m.now()
			c.LastVerifiedAt = &now
		}
		if err := tx.UpdateClaim(ctx, c, c.Version); err != nil {
			return err
		}

		after := map[string]interface{}{"status": string(c.Status)}
		if c.LastVerifiedAt != nil {
			after["last_verified_at"] = c.LastVerifiedAt.Format(time.RFC3339)
		}
		if err := tx.AppendHistory(ctx, &store.HistoryEntry{
			ClaimID: c.ID,
			Actor:   actorPtr(req.Actor),
			Action:  store.ActionStatusChange,
			Before:  before,
			After:   after,
		}); err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}

	logging.FromContext(ctx).Info().
		Str("claim_id", out.ID).
		Str("status", string(out.Status)).
		Int64("version", out.Version).
		Msg("claim status changed")
	return out, nil
}

// Edit replaces canonical text and structured payload and recomputes the
// signature.
func (m *Manager) Edit(ctx context.Context, req EditRequest) (*store.Claim, error) {
	text := strings.TrimSpace(req.CanonicalText)
	if text == "" {
		return nil, errs.NewValidationError("canonical_text", req.CanonicalText, "canonical text is required")
	}
	sig := signature.Normalize(text)
	if sig == "" {
		return nil, errs.NewValidationError("canonical_text", req.CanonicalText, "canonical text has no letters or digits")
	}

	var out *store.Claim
	err := m.st.InTx(ctx, func(tx store.Tx) error {
		c, err := m.load(ctx, tx, req.ClaimID, req.ExpectedVersion)
		if err != nil {
			return err
		}

		before := editSnapshot(c)
		c.CanonicalText = text
		c.Signature = sig
		c.Structured = req.Structured.Clone()
		if c.Structured.IsEmpty() {
			c.Structured = nil
		}
		if err := tx.UpdateClaim(ctx, c, c.Version); err != nil {
			return err
		}

		if err := tx.AppendHistory(ctx, &store.HistoryEntry{
			ClaimID: c.ID,
			Actor:   actorPtr(req.Actor),
			Action:  store.ActionEdit,
			Before:  before,
			After:   editSnapshot(c),
		}); err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}

	logging.FromContext(ctx).Info().
		Str("claim_id", out.ID).
		Str("signature", out.Signature).
		Msg("claim edited")
	return out, nil
}

// Recategorize moves a claim to another category of the same club. Unlike
// reconciliation, an unknown key is rejected here.
func (m *Manager) Recategorize(ctx context.Context, req RecategorizeRequest) (*store.Claim, error) {
	key, ok := store.NormalizeCategoryKey(req.CategoryKey)
	if !ok {
		return nil, errs.NewValidationError("category_key", req.CategoryKey, "unknown category key")
	}

	var out *store.Claim
	err := m.st.InTx(ctx, func(tx store.Tx) error {
		c, err := m.load(ctx, tx, req.ClaimID, req.ExpectedVersion)
		if err != nil {
			return err
		}
		cat, err := tx.GetCategoryByKey(ctx, c.ClubID, key)
		if err != nil {
			return err
		}
		if cat.ID == c.CategoryID {
			out = c
			return nil
		}

		before := map[string]interface{}{"category_key": string(c.CategoryKey)}
		c.CategoryID = cat.ID
		c.CategoryKey = cat.Key
		if err := tx.UpdateClaim(ctx, c, c.Version); err != nil {
			return err
		}
		if err := tx.AppendHistory(ctx, &store.HistoryEntry{
			ClaimID: c.ID,
			Actor:   actorPtr(req.Actor),
			Action:  store.ActionRecategorize,
			Before:  before,
			After:   map[string]interface{}{"category_key": string(c.CategoryKey)},
		}); err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func (m *Manager) load(ctx context.Context, tx store.Tx, id string, expected int64) (*store.Claim, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errs.NewValidationError("claim_id", id, "claim id is required")
	}
	c, err := tx.GetClaim(ctx, id)
	if err != nil {
		return nil, err
	}
	if expected != 0 && c.Version != expected {
		return nil, errs.NewConflictError("claim", id, expected, c.Version)
	}
	return c, nil
}

func editSnapshot(c *store.Claim) map[string]interface{} {
	snap := map[string]interface{}{
		"canonical_text": c.CanonicalText,
		"signature":      c.Signature,
	}
	if !c.Structured.IsEmpty() {
		snap["structured"] = c.Structured
	} else {
		snap["structured"] = nil
	}
	return snap
}

func actorPtr(actor string) *string {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return nil
	}
	return &actor
}

func classify(err error) error {
	return errs.Classify("store", err)
}
