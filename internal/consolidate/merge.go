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

// MergeRequest folds ClaimIDs into the first of them.
type MergeRequest struct {
	ClaimIDs      []string `json:"claim_ids"`
	CanonicalText string   `json:"canonical_text"`
	Actor         string   `json:"actor,omitempty"`
}

// Merge keeps the first claim as primary and deletes the rest. The primary
// receives the ordered union of every input's evidence (first occurrence's
// weight wins), the per-key combination of every structured payload (later
// inputs override earlier ones), the new canonical text and high confidence.
// Each secondary gets a final merge entry and its history is moved onto the
// primary before it is deleted. A new text whose signature is already held by
// another claim in the primary's cell is rejected.
func (o *Operator) Merge(ctx context.Context, req MergeRequest) (*store.Claim, error) {
	ids := uniqueIDs(req.ClaimIDs)
	if len(ids) < 2 {
		return nil, errs.NewValidationError("claim_ids", req.ClaimIDs, "merge needs at least 2 distinct claims")
	}
	text := strings.TrimSpace(req.CanonicalText)
	if text == "" {
		return nil, errs.NewValidationError("canonical_text", req.CanonicalText, "canonical text is required")
	}
	sig := signature.Normalize(text)
	if sig == "" {
		return nil, errs.NewValidationError("canonical_text", req.CanonicalText, "canonical text has no letters or digits")
	}
	actor := actorPtr(req.Actor)

	var primary *store.Claim
	var evidenceCount int
	err := o.st.InTx(ctx, func(tx store.Tx) error {
		claims := make([]*store.Claim, 0, len(ids))
		for _, id := range ids {
			c, err := tx.GetClaim(ctx, id)
			if err != nil {
				return err
			}
			claims = append(claims, c)
		}
		primary = claims[0]
		for _, c := range claims[1:] {
			if c.ClubID != primary.ClubID {
				return errs.NewValidationError("claim_ids", c.ID, "merged claims must belong to the same club")
			}
		}

		var union []store.EvidenceLink
		seen := map[string]struct{}{}
		structured := (*store.Structured)(nil)
		for _, c := range claims {
			links, err := tx.ListEvidenceLinks(ctx, c.ID)
			if err != nil {
				return err
			}
			for _, l := range links {
				if _, ok := seen[l.EvidenceChunkID]; ok {
					continue
				}
				seen[l.EvidenceChunkID] = struct{}{}
				union = append(union, store.EvidenceLink{ClaimID: primary.ID, EvidenceChunkID: l.EvidenceChunkID, Weight: l.Weight})
			}
			structured = structured.Combine(c.Structured)
		}
		if structured.IsEmpty() {
			structured = nil
		}

		secondaryIDs := ids[1:]
		for _, c := range claims[1:] {
			if err := tx.AppendHistory(ctx, &store.HistoryEntry{
				ClaimID: c.ID,
				Actor:   actor,
				Action:  store.ActionMerge,
				Before:  c.Snapshot(),
				After:   map[string]interface{}{"merged_into": primary.ID},
			}); err != nil {
				return err
			}
		}
		if _, err := tx.RetargetHistory(ctx, secondaryIDs, primary.ID); err != nil {
			return err
		}
		for _, id := range secondaryIDs {
			if err := tx.DeleteClaim(ctx, id); err != nil {
				return err
			}
		}

		if err := checkSignatureFree(ctx, tx, primary, sig, "canonical_text", req.CanonicalText); err != nil {
			return err
		}

		before := primary.Snapshot()
		primary.CanonicalText = text
		primary.Signature = sig
		primary.Structured = structured
		primary.Confidence = lifecycle.NextConfidence(primary.Confidence, lifecycle.EventMerged)
		if err := tx.UpdateClaim(ctx, primary, primary.Version); err != nil {
			return err
		}
		if err := tx.ReplaceEvidence(ctx, primary.ID, union); err != nil {
			return err
		}
		evidenceCount = len(union)

		after := primary.Snapshot()
		after["merged_claim_ids"] = secondaryIDs
		after["evidence_count"] = evidenceCount
		return tx.AppendHistory(ctx, &store.HistoryEntry{
			ClaimID: primary.ID,
			Actor:   actor,
			Action:  store.ActionMerge,
			Before:  before,
			After:   after,
		})
	})
	if err != nil {
		return nil, classify(err)
	}

	logging.FromContext(ctx).Info().
		Str("claim_id", primary.ID).
		Strs("merged", ids[1:]).
		Int("evidence_count", evidenceCount).
		Msg("claims merged")
	return primary, nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// checkSignatureFree rejects sig when a claim other than owner already holds it
// in owner's cell.
func checkSignatureFree(ctx context.Context, tx store.Tx, owner *store.Claim, sig, field string, value interface{}) error {
	found, err := tx.FindClaimBySignature(ctx, owner.ClubID, owner.CategoryID, sig)
	if err != nil {
		return err
	}
	if found != nil && found.ID != owner.ID {
		return errs.NewValidationError(field, value, fmt.Sprintf("claim %s in the same category already has signature %q", found.ID, sig))
	}
	return nil
}
