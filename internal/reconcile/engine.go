// Package reconcile folds extracted candidate items into the claim registry.
//
// Dedup is exact: an item matches an existing claim only when club, category
// and signature are all equal. Lookup-or-create for one (club, category,
// signature) key runs under an in-process keyed lock and inside a single
// store transaction, so concurrent batches cannot create duplicates.
package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"

	errs "github.com/hurttlocker/canon/internal/errors"
	"github.com/hurttlocker/canon/internal/lifecycle"
	"github.com/hurttlocker/canon/internal/logging"
	"github.com/hurttlocker/canon/internal/signature"
	"github.com/hurttlocker/canon/internal/store"
)

const (
	DefaultWorkers     = 4
	DefaultCategoryTTL = 10 * time.Minute
)

// CandidateItem is one extracted requirement statement awaiting reconciliation.
type CandidateItem struct {
	CategoryKey    string            `json:"category_key"`
	RawText        string            `json:"raw_text"`
	NormalizedText string            `json:"normalized_text"`
	Structured     *store.Structured `json:"structured,omitempty"`
	Confidence     store.Confidence  `json:"confidence,omitempty"`
	EvidenceRefs   []string          `json:"evidence_refs"`
}

// Batch is the input of one reconciliation run. Unassigned items go straight
// to the fallback category.
type Batch struct {
	Items      []CandidateItem `json:"items"`
	Unassigned []CandidateItem `json:"unassigned_items"`
}

// ItemFailure records why one item was not reconciled. Index is the item's
// position in Batch.Items, or in Batch.Unassigned when Unassigned is set.
type ItemFailure struct {
	Index      int    `json:"index"`
	Unassigned bool   `json:"unassigned"`
	Error      string `json:"error"`
	Err        error  `json:"-"`
}

// Result summarizes a run. Claims appear in batch order.
type Result struct {
	Created   []*store.Claim `json:"created"`
	Updated   []*store.Claim `json:"updated"`
	Unchanged []*store.Claim `json:"unchanged"`
	Failures  []ItemFailure  `json:"failures"`
}

type outcome int

const (
	outcomeFailed outcome = iota
	outcomeCreated
	outcomeUpdated
	outcomeUnchanged
)

type itemResult struct {
	outcome outcome
	claim   *store.Claim
	err     error
}

// Options tunes an Engine.
type Options struct {
	// Workers bounds the items processed concurrently. <= 0 means DefaultWorkers.
	Workers int
	// CategoryTTL is how long a club's category table stays cached.
	CategoryTTL time.Duration
}

// Engine reconciles batches against a store.
type Engine struct {
	st      store.Store
	cats    *gocache.Cache
	locks   *keyedMutex
	workers int
}

// NewEngine returns an Engine over st.
func NewEngine(st store.Store, opts Options) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.CategoryTTL <= 0 {
		opts.CategoryTTL = DefaultCategoryTTL
	}
	return &Engine{
		st:      st,
		cats:    gocache.New(opts.CategoryTTL, 2*opts.CategoryTTL),
		locks:   newKeyedMutex(),
		workers: opts.Workers,
	}
}

// Reconcile processes every item of b for clubID. Per-item failures are
// collected in Result.Failures; only a missing club or an unreadable category
// table fails the whole call.
func (e *Engine) Reconcile(ctx context.Context, clubID string, b Batch) (*Result, error) {
	if _, err := e.st.GetClub(ctx, clubID); err != nil {
		return nil, errs.Classify("store", err)
	}
	cats, err := e.categories(ctx, clubID)
	if err != nil {
		return nil, errs.Classify("store", err)
	}

	log := logging.FromContext(ctx).With().Str("club_id", clubID).Logger()
	results := make([]itemResult, len(b.Items)+len(b.Unassigned))

	var g errgroup.Group
	g.SetLimit(e.workers)
	for i := range b.Items {
		g.Go(func() error {
			results[i] = e.reconcileItem(ctx, clubID, cats, b.Items[i], false)
			return nil
		})
	}
	for j := range b.Unassigned {
		g.Go(func() error {
			results[len(b.Items)+j] = e.reconcileItem(ctx, clubID, cats, b.Unassigned[j], true)
			return nil
		})
	}
	_ = g.Wait()

	res := &Result{
		Created:   []*store.Claim{},
		Updated:   []*store.Claim{},
		Unchanged: []*store.Claim{},
		Failures:  []ItemFailure{},
	}
	for i, r := range results {
		switch r.outcome {
		case outcomeCreated:
			res.Created = append(res.Created, r.claim)
		case outcomeUpdated:
			res.Updated = append(res.Updated, r.claim)
		case outcomeUnchanged:
			res.Unchanged = append(res.Unchanged, r.claim)
		default:
			f := ItemFailure{Index: i, Err: r.err}
			if i >= len(b.Items) {
				f.Index = i - len(b.Items)
				f.Unassigned = true
			}
			if r.err != nil {
				f.Error = r.err.Error()
			}
			log.Warn().Err(r.err).Int("index", f.Index).Bool("unassigned", f.Unassigned).Msg("candidate item not reconciled")
			res.Failures = append(res.Failures, f)
		}
	}

	log.Info().
		Int("created", len(res.Created)).
		Int("updated", len(res.Updated)).
		Int("unchanged", len(res.Unchanged)).
		Int("failed", len(res.Failures)).
		Msg("batch reconciled")
	return res, nil
}

// InvalidateCategories drops the cached category table of clubID.
func (e *Engine) InvalidateCategories(clubID string) {
	e.cats.Delete(clubID)
}

func (e *Engine) categories(ctx context.Context, clubID string) (map[store.CategoryKey]*store.Category, error) {
	if v, ok := e.cats.Get(clubID); ok {
		return v.(map[store.CategoryKey]*store.Category), nil
	}
	list, err := e.st.ListCategories(ctx, clubID)
	if err != nil {
		return nil, err
	}
	byKey := make(map[store.CategoryKey]*store.Category, len(list))
	for _, c := range list {
		byKey[c.Key] = c
	}
	e.cats.SetDefault(clubID, byKey)
	return byKey, nil
}

func (e *Engine) reconcileItem(ctx context.Context, clubID string, cats map[store.CategoryKey]*store.Category, item CandidateItem, unassigned bool) itemResult {
	if err := ctx.Err(); err != nil {
		return itemResult{err: err}
	}

	text := strings.TrimSpace(item.NormalizedText)
	if text == "" {
		text = strings.TrimSpace(item.RawText)
	}
	if text == "" {
		return itemResult{err: errs.NewValidationError("normalized_text", item.NormalizedText, "item has no text")}
	}
	sig := signature.Normalize(text)
	if sig == "" {
		return itemResult{err: errs.NewValidationError("normalized_text", text, "item text has no letters or digits")}
	}
	refs := uniqueRefs(item.EvidenceRefs)
	if len(refs) == 0 {
		return itemResult{err: errs.NewValidationError("evidence_refs", item.EvidenceRefs, "item needs at least one evidence reference")}
	}

	key, known := store.FallbackCategory, false
	if !unassigned {
		key, known = store.NormalizeCategoryKey(item.CategoryKey)
		if !known {
			logging.FromContext(ctx).Warn().
				Str("club_id", clubID).
				Str("category_key", item.CategoryKey).
				Msg("unknown category key, routing to fallback category")
		}
	}
	cat, ok := cats[key]
	if !ok {
		return itemResult{err: errs.NewNotFoundError("category", clubID+"/"+string(key))}
	}

	conf := item.Confidence
	if !conf.Valid() {
		conf = store.ConfidenceMedium
	}
	structured := item.Structured.Clone()
	if structured.IsEmpty() {
		structured = nil
	}
	draft := &store.Claim{
		ClubID:        clubID,
		CategoryID:    cat.ID,
		CategoryKey:   cat.Key,
		CanonicalText: text,
		Structured:    structured,
		Status:        store.StatusUnreviewed,
		Confidence:    conf,
		Signature:     sig,
	}

	if !known {
		draft.Confidence = lifecycle.NextConfidence(conf, lifecycle.EventFallback)
		c, err := e.create(ctx, draft, refs)
		if err != nil {
			return itemResult{err: errs.Classify("store", err)}
		}
		return itemResult{outcome: outcomeCreated, claim: c}
	}

	unlock := e.locks.Lock(clubID + "\x00" + cat.ID + "\x00" + sig)
	defer unlock()

	var res itemResult
	err := e.st.InTx(ctx, func(tx store.Tx) error {
		if err := tx.CheckEvidence(ctx, clubID, refs); err != nil {
			return err
		}
		existing, err := tx.FindClaimBySignature(ctx, clubID, cat.ID, sig)
		if err != nil {
			return err
		}
		if existing == nil {
			if err := insertWithHistory(ctx, tx, draft, refs); err != nil {
				return err
			}
			res = itemResult{outcome: outcomeCreated, claim: draft}
			return nil
		}

		var added []string
		for _, ref := range refs {
			inserted, err := tx.LinkEvidence(ctx, existing.ID, ref, 1.0)
			if err != nil {
				return err
			}
			if inserted {
				added = append(added, ref)
			}
		}
		// Nothing new to link: the claim, its version and updated_at stay as they are.
		if len(added) == 0 {
			res = itemResult{outcome: outcomeUnchanged, claim: existing}
			return nil
		}

		before := existing.Confidence
		existing.Confidence = lifecycle.NextConfidence(before, lifecycle.EventCorroborated)
		if err := tx.UpdateClaim(ctx, existing, existing.Version); err != nil {
			return err
		}
		links, err := tx.ListEvidenceLinks(ctx, existing.ID)
		if err != nil {
			return err
		}
		if err := tx.AppendHistory(ctx, &store.HistoryEntry{
			ClaimID: existing.ID,
			Action:  store.ActionCorroborate,
			Before:  map[string]interface{}{"confidence": string(before)},
			After: map[string]interface{}{
				"confidence":     string(existing.Confidence),
				"added_evidence": added,
				"evidence_count": len(links),
			},
		}); err != nil {
			return err
		}
		res = itemResult{outcome: outcomeUpdated, claim: existing}
		return nil
	})
	if err != nil {
		return itemResult{err: errs.Classify("store", err)}
	}
	return res
}

// create inserts a fresh claim without dedup lookup.
func (e *Engine) create(ctx context.Context, draft *store.Claim, refs []string) (*store.Claim, error) {
	err := e.st.InTx(ctx, func(tx store.Tx) error {
		if err := tx.CheckEvidence(ctx, draft.ClubID, refs); err != nil {
			return err
		}
		return insertWithHistory(ctx, tx, draft, refs)
	})
	if err != nil {
		return nil, err
	}
	return draft, nil
}

func insertWithHistory(ctx context.Context, tx store.Tx, c *store.Claim, refs []string) error {
	if err := tx.InsertClaim(ctx, c); err != nil {
		return err
	}
	for _, ref := range refs {
		if _, err := tx.LinkEvidence(ctx, c.ID, ref, 1.0); err != nil {
			return err
		}
	}
	after := map[string]interface{}{
		"canonical_text": c.CanonicalText,
		"status":         string(c.Status),
		"confidence":     string(c.Confidence),
		"category_key":   string(c.CategoryKey),
		"evidence":       refs,
	}
	if err := tx.AppendHistory(ctx, &store.HistoryEntry{
		ClaimID: c.ID,
		Action:  store.ActionCreate,
		After:   after,
	}); err != nil {
		return fmt.Errorf("recording create history: %w", err)
	}
	return nil
}

func uniqueRefs(refs []string) []string {
	seen := make(map[string]struct{}, len(refs))
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}
