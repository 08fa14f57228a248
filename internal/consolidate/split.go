package consolidate

import (
	"context"
	"fmt"
	"strings"

	errs "github.com/hurttlocker/canon/internal/errors"
	"github.com/hurttlocker/canon/internal/lifecycle"
	"github.com/hurttlocker/canon/internal/logging"
	"github.com/hurttlocker/canon/internal/signature"
	"github.com/hurttlocker/canon/internal/store"
)

// SplitRequest replaces ClaimID with one new claim per entry of Texts.
type SplitRequest struct {
	ClaimID string   `json:"claim_id"`
	Texts   []string `json:"texts"`
	Actor   string   `json:"actor,omitempty"`
}

// Split deletes the original claim and creates one claim per text in the same
// club and category. Every new claim starts unreviewed at medium confidence,
// copies the original's structured payload and carries all of its evidence.
// The original's history, including its final split entry, moves to the first
// new claim. Texts whose signature another claim in the cell already holds are
// rejected.
func (o *Operator) Split(ctx context.Context, req SplitRequest) ([]*store.Claim, error) {
	if strings.TrimSpace(req.ClaimID) == "" {
		return nil, errs.NewValidationError("claim_id", req.ClaimID, "claim id is required")
	}
	if len(req.Texts) < 2 {
		return nil, errs.NewValidationError("texts", req.Texts, "split needs at least 2 texts")
	}
	texts := make([]string, len(req.Texts))
	sigs := make([]string, len(req.Texts))
	seen := make(map[string]int, len(req.Texts))
	for i, raw := range req.Texts {
		text := strings.TrimSpace(raw)
		sig := signature.Normalize(text)
		if sig == "" {
			return nil, errs.NewValidationError("texts", raw, "split text is empty")
		}
		if j, dup := seen[sig]; dup {
			return nil, errs.NewValidationError("texts", raw, fmt.Sprintf("split texts %d and %d normalize to the same signature", j, i))
		}
		seen[sig] = i
		texts[i], sigs[i] = text, sig
	}
	actor := actorPtr(req.Actor)

	var created []*store.Claim
	err := o.st.InTx(ctx, func(tx store.Tx) error {
		orig, err := tx.GetClaim(ctx, req.ClaimID)
		if err != nil {
			return err
		}
		links, err := tx.ListEvidenceLinks(ctx, orig.ID)
		if err != nil {
			return err
		}

		for i, sig := range sigs {
			if err := checkSignatureFree(ctx, tx, orig, sig, "texts", req.Texts[i]); err != nil {
				return err
			}
		}

		created = make([]*store.Claim, 0, len(texts))
		for i, text := range texts {
			c := &store.Claim{
				ClubID:        orig.ClubID,
				CategoryID:    orig.CategoryID,
				CategoryKey:   orig.CategoryKey,
				CanonicalText: text,
				Structured:    orig.Structured.Clone(),
				Status:        store.StatusUnreviewed,
				Confidence:    lifecycle.NextConfidence(orig.Confidence, lifecycle.EventSplit),
				Signature:     sigs[i],
			}
			if err := tx.InsertClaim(ctx, c); err != nil {
				return err
			}
			copied := make([]store.EvidenceLink, len(links))
			for k, l := range links {
				copied[k] = store.EvidenceLink{ClaimID: c.ID, EvidenceChunkID: l.EvidenceChunkID, Weight: l.Weight}
			}
			if err := tx.ReplaceEvidence(ctx, c.ID, copied); err != nil {
				return err
			}
			after := c.Snapshot()
			after["split_from"] = orig.ID
			after["evidence_count"] = len(copied)
			if err := tx.AppendHistory(ctx, &store.HistoryEntry{
				ClaimID: c.ID,
				Actor:   actor,
				Action:  store.ActionSplit,
				After:   after,
			}); err != nil {
				return err
			}
			created = append(created, c)
		}

		into := make([]string, len(created))
		for i, c := range created {
			into[i] = c.ID
		}
		if err := tx.AppendHistory(ctx, &store.HistoryEntry{
			ClaimID: orig.ID,
			Actor:   actor,
			Action:  store.ActionSplit,
			Before:  orig.Snapshot(),
			After:   map[string]interface{}{"split_into": into},
		}); err != nil {
			return err
		}
		if _, err := tx.RetargetHistory(ctx, []string{orig.ID}, created[0].ID); err != nil {
			return err
		}
		return tx.DeleteClaim(ctx, orig.ID)
	})
	if err != nil {
		return nil, classify(err)
	}

	ids := make([]string, len(created))
	for i, c := range created {
		ids[i] = c.ID
	}
	logging.FromContext(ctx).Info().
		Str("claim_id", req.ClaimID).
		Strs("split_into", ids).
		Msg("claim split")
	return created, nil
}
