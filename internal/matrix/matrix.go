// Package matrix projects the claim registry onto a (category, club) grid and
// picks one representative claim per cell. It only reads.
package matrix

import (
	"context"
	"sort"
	"strconv"
	"strings"

	errs "github.com/hurttlocker/canon/internal/errors"
	"github.com/hurttlocker/canon/internal/store"
)

// DefaultSummaryLength is the rune budget of a free-text summary.
const DefaultSummaryLength = 42

const ellipsis = "…"

// StatusRank orders statuses for display: accepted > unreviewed > disputed > outdated.
func StatusRank(s store.Status) int {
	switch s {
	case store.StatusAccepted:
		return 3
	case store.StatusUnreviewed:
		return 2
	case store.StatusDisputed:
		return 1
	}
	return 0
}

// PickPrimary returns the claim to display for one cell, or nil for an empty
// cell. The order is status rank, then confidence rank, then most recent
// updated_at, then smallest id.
func PickPrimary(claims []*store.Claim) *store.Claim {
	var best *store.Claim
	for _, c := range claims {
		if c == nil {
			continue
		}
		if best == nil || outranks(c, best) {
			best = c
		}
	}
	return best
}

func outranks(a, b *store.Claim) bool {
	if ra, rb := StatusRank(a.Status), StatusRank(b.Status); ra != rb {
		return ra > rb
	}
	if ra, rb := a.Confidence.Rank(), b.Confidence.Rank(); ra != rb {
		return ra > rb
	}
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	return a.ID < b.ID
}

// Summarize renders a claim for a matrix cell. A structured requirement with a
// quantity and a unit renders as "quantity[ / out_of] unit[ / cadence]";
// anything else falls back to the canonical text cut to maxLen runes.
func Summarize(c *store.Claim, maxLen int) string {
	if c == nil {
		return ""
	}
	if maxLen <= 0 {
		maxLen = DefaultSummaryLength
	}
	if s := c.Structured; s != nil && s.Quantity != nil && *s.Quantity != 0 && s.Unit != nil && strings.TrimSpace(*s.Unit) != "" {
		var b strings.Builder
		b.WriteString(formatNumber(*s.Quantity))
		if s.OutOf != nil && *s.OutOf != 0 {
			b.WriteString(" / ")
			b.WriteString(formatNumber(*s.OutOf))
		}
		b.WriteString(" ")
		b.WriteString(strings.TrimSpace(*s.Unit))
		if s.Cadence != nil {
			cadence := strings.TrimSpace(*s.Cadence)
			if cadence != "" && cadence != "unknown" {
				b.WriteString(" / ")
				b.WriteString(strings.ReplaceAll(cadence, "_", " "))
			}
		}
		return strings.TrimSpace(b.String())
	}

	runes := []rune(c.CanonicalText)
	if len(runes) <= maxLen {
		return c.CanonicalText
	}
	return string(runes[:maxLen]) + ellipsis
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Cell is one (category, club) intersection.
type Cell struct {
	ClubID      string            `json:"club_id"`
	CategoryKey store.CategoryKey `json:"category_key"`
	Primary     *store.Claim      `json:"primary,omitempty"`
	Summary     string            `json:"summary"`
	Total       int               `json:"total"`
	Disputed    int               `json:"disputed"`
}

// Row is one category across every projected club.
type Row struct {
	CategoryKey store.CategoryKey `json:"category_key"`
	Label       string            `json:"label"`
	Cells       []Cell            `json:"cells"`
}

// Matrix is the projected grid. Rows follow category display order and each
// row's cells follow Clubs.
type Matrix struct {
	Clubs []*store.Club `json:"clubs"`
	Rows  []Row         `json:"rows"`
}

// Projector builds matrices from a store.
type Projector struct {
	st         store.Store
	summaryLen int
}

// NewProjector returns a Projector. summaryLen <= 0 uses DefaultSummaryLength.
func NewProjector(st store.Store, summaryLen int) *Projector {
	if summaryLen <= 0 {
		summaryLen = DefaultSummaryLength
	}
	return &Projector{st: st, summaryLen: summaryLen}
}

// Project builds the grid for clubIDs and categoryKeys. Empty clubIDs means
// every club; empty categoryKeys means every category.
func (p *Projector) Project(ctx context.Context, clubIDs []string, categoryKeys []string) (*Matrix, error) {
	clubs, err := p.clubs(ctx, clubIDs)
	if err != nil {
		return nil, err
	}
	keys, err := resolveKeys(categoryKeys)
	if err != nil {
		return nil, err
	}

	m := &Matrix{Clubs: clubs, Rows: []Row{}}
	if len(clubs) == 0 {
		for _, k := range keys {
			m.Rows = append(m.Rows, Row{CategoryKey: k, Label: label(k), Cells: []Cell{}})
		}
		return m, nil
	}

	ids := make([]string, len(clubs))
	for i, c := range clubs {
		ids[i] = c.ID
	}
	claims, err := p.st.ListClaims(ctx, store.ClaimFilter{ClubIDs: ids, CategoryKeys: keys})
	if err != nil {
		return nil, errs.Classify("store", err)
	}
	grouped := map[string][]*store.Claim{}
	for _, c := range claims {
		k := cellKey(string(c.CategoryKey), c.ClubID)
		grouped[k] = append(grouped[k], c)
	}

	for _, k := range keys {
		row := Row{CategoryKey: k, Label: label(k), Cells: make([]Cell, 0, len(clubs))}
		for _, club := range clubs {
			inCell := grouped[cellKey(string(k), club.ID)]
			cell := Cell{ClubID: club.ID, CategoryKey: k, Total: len(inCell)}
			for _, c := range inCell {
				if c.Status == store.StatusDisputed {
					cell.Disputed++
				}
			}
			cell.Primary = PickPrimary(inCell)
			cell.Summary = Summarize(cell.Primary, p.summaryLen)
			row.Cells = append(row.Cells, cell)
		}
		m.Rows = append(m.Rows, row)
	}
	return m, nil
}

func (p *Projector) clubs(ctx context.Context, ids []string) ([]*store.Club, error) {
	if len(ids) == 0 {
		clubs, err := p.st.ListClubs(ctx)
		if err != nil {
			return nil, errs.Classify("store", err)
		}
		return clubs, nil
	}
	seen := map[string]struct{}{}
	var out []*store.Club
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		c, err := p.st.GetClub(ctx, id)
		if err != nil {
			return nil, errs.Classify("store", err)
		}
		out = append(out, c)
	}
	return out, nil
}

// resolveKeys maps requested keys onto the closed key set in display order.
func resolveKeys(raw []string) ([]store.CategoryKey, error) {
	order := make(map[store.CategoryKey]int, len(store.CategoryTemplates))
	for i, t := range store.CategoryTemplates {
		order[t.Key] = i
	}
	if len(raw) == 0 {
		out := make([]store.CategoryKey, len(store.CategoryTemplates))
		for i, t := range store.CategoryTemplates {
			out[i] = t.Key
		}
		return out, nil
	}
	seen := map[store.CategoryKey]struct{}{}
	var out []store.CategoryKey
	for _, r := range raw {
		k, ok := store.NormalizeCategoryKey(r)
		if !ok {
			return nil, errs.NewValidationError("categories", r, "unknown category key")
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return order[out[i]] < order[out[j]] })
	return out, nil
}

func label(k store.CategoryKey) string {
	for _, t := range store.CategoryTemplates {
		if t.Key == k {
			return t.Label
		}
	}
	return string(k)
}

func cellKey(category, clubID string) string {
	return category + ":" + clubID
}
