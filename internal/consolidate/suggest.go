package consolidate

import (
	"context"
	"sort"
	"strings"

	errs "github.com/hurttlocker/canon/internal/errors"
	"github.com/hurttlocker/canon/internal/signature"
	"github.com/hurttlocker/canon/internal/store"
)

// SuggestOptions controls Suggest.
type SuggestOptions struct {
	ClubID     string
	Threshold  float64
	MaxPreview int
}

// MergeSuggestion is a candidate pair. Keep is the claim that would survive.
type MergeSuggestion struct {
	CategoryKey store.CategoryKey `json:"category_key"`
	KeepID      string            `json:"keep_id"`
	KeepText    string            `json:"keep_text"`
	MergeID     string            `json:"merge_id"`
	MergeText   string            `json:"merge_text"`
	Similarity  float64           `json:"similarity"`
}

// SuggestReport summarizes a suggestion scan.
type SuggestReport struct {
	CellsScanned  int               `json:"cells_scanned"`
	PairsCompared int               `json:"pairs_compared"`
	Suggestions   int               `json:"suggestions"`
	Preview       []MergeSuggestion `json:"preview"`
}

// Suggest finds near-duplicate claims within each (club, category) cell.
// Nothing is modified; applying a suggestion is an explicit Merge.
func (o *Operator) Suggest(ctx context.Context, opts SuggestOptions) (*SuggestReport, error) {
	if strings.TrimSpace(opts.ClubID) == "" {
		return nil, errs.NewValidationError("club_id", opts.ClubID, "club id is required")
	}
	if opts.Threshold <= 0 {
		opts.Threshold = signature.DefaultThreshold
	}
	if opts.Threshold > 1 {
		opts.Threshold = 1
	}
	if opts.MaxPreview <= 0 {
		opts.MaxPreview = 25
	}

	if _, err := o.st.GetClub(ctx, opts.ClubID); err != nil {
		return nil, classify(err)
	}
	claims, err := o.st.ListClaims(ctx, store.ClaimFilter{ClubIDs: []string{opts.ClubID}})
	if err != nil {
		return nil, classify(err)
	}

	cells := map[store.CategoryKey][]*store.Claim{}
	var order []store.CategoryKey
	for _, c := range claims {
		if _, ok := cells[c.CategoryKey]; !ok {
			order = append(order, c.CategoryKey)
		}
		cells[c.CategoryKey] = append(cells[c.CategoryKey], c)
	}

	report := &SuggestReport{CellsScanned: len(order), Preview: []MergeSuggestion{}}
	var found []MergeSuggestion
	for _, key := range order {
		cell := cells[key]
		if len(cell) < 2 {
			continue
		}

		// deterministic survivor precedence
		sort.SliceStable(cell, func(i, j int) bool {
			if ri, rj := cell[i].Confidence.Rank(), cell[j].Confidence.Rank(); ri != rj {
				return ri > rj
			}
			if !cell[i].UpdatedAt.Equal(cell[j].UpdatedAt) {
				return cell[i].UpdatedAt.After(cell[j].UpdatedAt)
			}
			return cell[i].ID < cell[j].ID
		})

		keepers := []*store.Claim{cell[0]}
		for _, candidate := range cell[1:] {
			best, bestSim := -1, 0.0
			for idx, k := range keepers {
				sim := signature.Similarity(k.Signature, candidate.Signature)
				report.PairsCompared++
				if sim >= opts.Threshold && sim > bestSim {
					best, bestSim = idx, sim
				}
			}
			if best == -1 {
				keepers = append(keepers, candidate)
				continue
			}
			k := keepers[best]
			found = append(found, MergeSuggestion{
				CategoryKey: key,
				KeepID:      k.ID,
				KeepText:    k.CanonicalText,
				MergeID:     candidate.ID,
				MergeText:   candidate.CanonicalText,
				Similarity:  bestSim,
			})
		}
	}

	report.Suggestions = len(found)
	if len(found) > opts.MaxPreview {
		found = found[:opts.MaxPreview]
	}
	report.Preview = append(report.Preview, found...)
	return report, nil
}
