package lifecycle

import (
	"context"
	"testing"
	"time"

	errs "github.com/hurttlocker/canon/internal/errors"
	"github.com/hurttlocker/canon/internal/signature"
	"github.com/hurttlocker/canon/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewStore(store.StoreConfig{DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// seedClaim creates a club and one unreviewed claim backed by one chunk.
func seedClaim(t *testing.T, s store.Store, text string) *store.Claim {
	t.Helper()
	ctx := context.Background()
	club, err := s.CreateClub(ctx, "Lifecycle Club")
	if err != nil {
		t.Fatalf("CreateClub: %v", err)
	}
	src := &store.Source{ClubID: club.ID, Type: store.SourcePaste}
	if err := s.AddSource(ctx, src); err != nil {
		t.Fatalf("AddSource: %v", err)
	}
	chunk := &store.EvidenceChunk{SourceID: src.ID, Kind: store.ChunkPastedChunk, Text: text}
	if _, err := s.AddEvidenceChunk(ctx, chunk); err != nil {
		t.Fatalf("AddEvidenceChunk: %v", err)
	}

	var c *store.Claim
	err = s.InTx(ctx, func(tx store.Tx) error {
		cat, err := tx.GetCategoryByKey(ctx, club.ID, store.CategorySocial)
		if err != nil {
			return err
		}
		c = &store.Claim{
			ClubID:        club.ID,
			CategoryID:    cat.ID,
			CategoryKey:   cat.Key,
			CanonicalText: text,
			Status:        store.StatusUnreviewed,
			Confidence:    store.ConfidenceMedium,
			Signature:     signature.Normalize(text),
		}
		if err := tx.InsertClaim(ctx, c); err != nil {
			return err
		}
		_, err = tx.LinkEvidence(ctx, c.ID, chunk.ID, 1)
		return err
	})
	if err != nil {
		t.Fatalf("seed claim: %v", err)
	}
	return c
}

func TestSetStatus_AcceptStampsVerified(t *testing.T) {
	s := newTestStore(t)
	c := seedClaim(t, s, "Attend 2 socials per month")
	m := NewManager(s)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return fixed }
	ctx := context.Background()

	got, err := m.SetStatus(ctx, StatusRequest{ClaimID: c.ID, Status: store.StatusAccepted, Actor: "alice"})
	if err != nil {
		t.Fatalf("SetStatus accepted: %v", err)
	}
	if got.Status != store.StatusAccepted {
		t.Fatalf("status = %s", got.Status)
	}
	if got.LastVerifiedAt == nil || !got.LastVerifiedAt.Equal(fixed) {
		t.Fatalf("LastVerifiedAt = %v, want %v", got.LastVerifiedAt, fixed)
	}

	m.now = func() time.Time { return fixed.Add(48 * time.Hour) }
	got, err = m.SetStatus(ctx, StatusRequest{ClaimID: c.ID, Status: store.StatusDisputed})
	if err != nil {
		t.Fatalf("SetStatus disputed: %v", err)
	}
	if got.LastVerifiedAt == nil || !got.LastVerifiedAt.Equal(fixed) {
		t.Fatalf("disputed must keep LastVerifiedAt %v, got %v", fixed, got.LastVerifiedAt)
	}

	stored, _ := s.GetClaim(ctx, c.ID)
	if stored.LastVerifiedAt == nil || !stored.LastVerifiedAt.Equal(fixed) {
		t.Fatalf("stored LastVerifiedAt = %v", stored.LastVerifiedAt)
	}

	hist, err := s.ListHistory(ctx, c.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(hist))
	}
	if hist[0].Action != store.ActionStatusChange || hist[0].Before["status"] != "accepted" || hist[0].After["status"] != "disputed" {
		t.Errorf("unexpected newest entry: %+v", hist[0])
	}
	if hist[1].Actor == nil || *hist[1].Actor != "alice" {
		t.Errorf("actor not recorded on accept entry")
	}
}

func TestSetStatus_ReacceptRefreshesVerified(t *testing.T) {
	s := newTestStore(t)
	c := seedClaim(t, s, "Raise $200")
	m := NewManager(s)
	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.AddDate(0, 1, 0)

	m.now = func() time.Time { return t1 }
	if _, err := m.SetStatus(context.Background(), StatusRequest{ClaimID: c.ID, Status: store.StatusAccepted}); err != nil {
		t.Fatal(err)
	}
	m.now = func() time.Time { return t2 }
	got, err := m.SetStatus(context.Background(), StatusRequest{ClaimID: c.ID, Status: store.StatusAccepted})
	if err != nil {
		t.Fatal(err)
	}
	if !got.LastVerifiedAt.Equal(t2) {
		t.Fatalf("re-accept should refresh LastVerifiedAt to %v, got %v", t2, got.LastVerifiedAt)
	}
}

func TestSetStatus_VersionConflict(t *testing.T) {
	s := newTestStore(t)
	c := seedClaim(t, s, "Work 3 shifts")
	m := NewManager(s)
	ctx := context.Background()

	if _, err := m.SetStatus(ctx, StatusRequest{ClaimID: c.ID, Status: store.StatusAccepted, ExpectedVersion: 1}); err != nil {
		t.Fatalf("first write: %v", err)
	}
	_, err := m.SetStatus(ctx, StatusRequest{ClaimID: c.ID, Status: store.StatusDisputed, ExpectedVersion: 1})
	if !errs.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if !errs.IsRetryable(err) {
		t.Fatal("conflict should be retryable")
	}

	hist, _ := s.ListHistory(ctx, c.ID, 10)
	if len(hist) != 1 {
		t.Fatalf("conflicting write must not append history, got %d entries", len(hist))
	}
}

func TestSetStatus_Errors(t *testing.T) {
	s := newTestStore(t)
	m := NewManager(s)
	ctx := context.Background()

	if _, err := m.SetStatus(ctx, StatusRequest{ClaimID: "missing", Status: store.StatusAccepted}); !errs.IsNotFound(err) {
		t.Errorf("missing claim: expected not found, got %v", err)
	}
	if _, err := m.SetStatus(ctx, StatusRequest{ClaimID: "x", Status: "archived"}); !errs.IsValidationError(err) {
		t.Errorf("bad status: expected validation error, got %v", err)
	}
}

func TestEdit_RecomputesSignature(t *testing.T) {
	s := newTestStore(t)
	c := seedClaim(t, s, "Attend 2 socials")
	m := NewManager(s)
	ctx := context.Background()

	q := 3.0
	unit := "socials"
	got, err := m.Edit(ctx, EditRequest{
		ClaimID:       c.ID,
		CanonicalText: "  Attend 3 Socials!  ",
		Structured:    &store.Structured{Quantity: &q, Unit: &unit},
		Actor:         "bob",
	})
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if got.CanonicalText != "Attend 3 Socials!" {
		t.Errorf("CanonicalText = %q", got.CanonicalText)
	}
	if got.Signature != "attend 3 socials" {
		t.Errorf("Signature = %q", got.Signature)
	}
	if got.Version != 2 {
		t.Errorf("Version = %d, want 2", got.Version)
	}

	hist, _ := s.ListHistory(ctx, c.ID, 1)
	if len(hist) != 1 || hist[0].Action != store.ActionEdit {
		t.Fatalf("expected edit history, got %+v", hist)
	}
	if hist[0].Before["canonical_text"] != "Attend 2 socials" || hist[0].After["canonical_text"] != "Attend 3 Socials!" {
		t.Errorf("edit snapshots wrong: before=%v after=%v", hist[0].Before, hist[0].After)
	}
	if _, ok := hist[0].After["structured"].(map[string]interface{}); !ok {
		t.Errorf("after snapshot should carry structured payload: %v", hist[0].After)
	}
}

func TestEdit_Validation(t *testing.T) {
	s := newTestStore(t)
	c := seedClaim(t, s, "Attend 2 socials")
	m := NewManager(s)
	ctx := context.Background()

	for _, text := range []string{"", "   ", "?!"} {
		if _, err := m.Edit(ctx, EditRequest{ClaimID: c.ID, CanonicalText: text}); !errs.IsValidationError(err) {
			t.Errorf("Edit(%q): expected validation error, got %v", text, err)
		}
	}
	if _, err := m.Edit(ctx, EditRequest{ClaimID: c.ID, CanonicalText: "x", ExpectedVersion: 9}); !errs.IsConflict(err) {
		t.Errorf("stale version: expected conflict, got %v", err)
	}
}

func TestRecategorize(t *testing.T) {
	s := newTestStore(t)
	c := seedClaim(t, s, "Volunteer 5 hours")
	m := NewManager(s)
	ctx := context.Background()

	got, err := m.Recategorize(ctx, RecategorizeRequest{ClaimID: c.ID, CategoryKey: "volunteer"})
	if err != nil {
		t.Fatalf("Recategorize: %v", err)
	}
	if got.CategoryKey != store.CategoryVolunteerWork {
		t.Fatalf("CategoryKey = %s", got.CategoryKey)
	}
	hist, _ := s.ListHistory(ctx, c.ID, 1)
	if hist[0].Action != store.ActionRecategorize || hist[0].Before["category_key"] != string(store.CategorySocial) {
		t.Errorf("unexpected history: %+v", hist[0])
	}

	if _, err := m.Recategorize(ctx, RecategorizeRequest{ClaimID: c.ID, CategoryKey: "dues"}); !errs.IsValidationError(err) {
		t.Errorf("unknown key: expected validation error, got %v", err)
	}
}
