package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	errs "github.com/hurttlocker/canon/internal/errors"
)

// newTestStore creates an in-memory store for testing.
func newTestStore(t *testing.T) Store {
	t.Helper()
	s, err := NewStore(StoreConfig{DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// seedClub creates a club with one paste source holding n evidence chunks.
func seedClub(t *testing.T, s Store, n int) (*Club, []string) {
	t.Helper()
	ctx := context.Background()
	club, err := s.CreateClub(ctx, "Test Club")
	if err != nil {
		t.Fatalf("CreateClub: %v", err)
	}
	src := &Source{ClubID: club.ID, Type: SourcePaste, Title: "notes"}
	if err := s.AddSource(ctx, src); err != nil {
		t.Fatalf("AddSource: %v", err)
	}
	var ids []string
	for i := 0; i < n; i++ {
		ch := &EvidenceChunk{SourceID: src.ID, Kind: ChunkPastedChunk, Text: fmt.Sprintf("line %d", i)}
		if _, err := s.AddEvidenceChunk(ctx, ch); err != nil {
			t.Fatalf("AddEvidenceChunk: %v", err)
		}
		ids = append(ids, ch.ID)
	}
	return club, ids
}

func insertTestClaim(t *testing.T, s Store, clubID string, key CategoryKey, text, sig string) *Claim {
	t.Helper()
	ctx := context.Background()
	var c *Claim
	err := s.InTx(ctx, func(tx Tx) error {
		cat, err := tx.GetCategoryByKey(ctx, clubID, key)
		if err != nil {
			return err
		}
		c = &Claim{
			ClubID:        clubID,
			CategoryID:    cat.ID,
			CategoryKey:   key,
			CanonicalText: text,
			Status:        StatusUnreviewed,
			Confidence:    ConfidenceMedium,
			Signature:     sig,
		}
		return tx.InsertClaim(ctx, c)
	})
	if err != nil {
		t.Fatalf("insert claim: %v", err)
	}
	return c
}

// --- Database Initialization ---

func TestNewStore(t *testing.T) {
	s, err := NewStore(StoreConfig{DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	defer s.Close()

	ss := s.(*SQLiteStore)
	tables := []string{"clubs", "categories", "sources", "evidence_chunks",
		"claims", "claim_evidence", "claim_history", "meta"}
	for _, table := range tables {
		var name string
		err := ss.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found: %v", table, err)
		}
	}

	v, err := ss.getMetaValue("schema_version")
	if err != nil {
		t.Fatalf("reading schema_version: %v", err)
	}
	if v != schemaVersion {
		t.Errorf("schema_version = %q, want %q", v, schemaVersion)
	}
}

func TestNewStore_ReopenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "canon.db")
	s, err := NewStore(StoreConfig{DBPath: path})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	club, err := s.CreateClub(context.Background(), "Persisted")
	if err != nil {
		t.Fatalf("CreateClub: %v", err)
	}
	s.Close()

	s2, err := NewStore(StoreConfig{DBPath: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	got, err := s2.GetClub(context.Background(), club.ID)
	if err != nil {
		t.Fatalf("GetClub after reopen: %v", err)
	}
	if got.Name != "Persisted" {
		t.Errorf("Name = %q", got.Name)
	}
}

// --- Clubs ---

func TestCreateClub_SeedsCategories(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	club, err := s.CreateClub(ctx, "  Rowing  ")
	if err != nil {
		t.Fatalf("CreateClub: %v", err)
	}
	if club.Name != "Rowing" {
		t.Errorf("Name = %q, want trimmed", club.Name)
	}

	cats, err := s.ListCategories(ctx, club.ID)
	if err != nil {
		t.Fatalf("ListCategories: %v", err)
	}
	if len(cats) != len(CategoryTemplates) {
		t.Fatalf("got %d categories, want %d", len(cats), len(CategoryTemplates))
	}
	for i, c := range cats {
		if c.Key != CategoryTemplates[i].Key || c.OrderIndex != i {
			t.Errorf("category %d = %s/%d, want %s/%d", i, c.Key, c.OrderIndex, CategoryTemplates[i].Key, i)
		}
	}

	if _, err := s.CreateClub(ctx, "   "); !errs.IsValidationError(err) {
		t.Errorf("blank name: expected validation error, got %v", err)
	}
}

func TestGetClub_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetClub(context.Background(), "missing")
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListClubs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, name := range []string{"A", "B"} {
		if _, err := s.CreateClub(ctx, name); err != nil {
			t.Fatal(err)
		}
	}
	clubs, err := s.ListClubs(ctx)
	if err != nil {
		t.Fatalf("ListClubs: %v", err)
	}
	if len(clubs) != 2 {
		t.Fatalf("got %d clubs", len(clubs))
	}
}

// --- Evidence ---

func TestAddEvidenceChunk_DedupWithinSource(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	club, ids := seedClub(t, s, 1)
	first, _ := s.GetEvidenceChunk(ctx, ids[0])

	dup := &EvidenceChunk{SourceID: first.SourceID, Kind: ChunkPastedChunk, Text: "line 0"}
	inserted, err := s.AddEvidenceChunk(ctx, dup)
	if err != nil {
		t.Fatalf("AddEvidenceChunk: %v", err)
	}
	if inserted {
		t.Error("duplicate chunk should not be inserted")
	}
	if dup.ID != ids[0] {
		t.Errorf("dup.ID = %s, want existing %s", dup.ID, ids[0])
	}
	if dup.ClubID != club.ID {
		t.Errorf("ClubID not resolved from source")
	}

	located := &EvidenceChunk{
		SourceID: first.SourceID,
		Kind:     ChunkSheetRange,
		Text:     "line 0",
		Locator:  map[string]string{"sheet": "Reqs", "range": "A1:C1"},
	}
	inserted, err = s.AddEvidenceChunk(ctx, located)
	if err != nil || !inserted {
		t.Fatalf("chunk with locator should insert: inserted=%v err=%v", inserted, err)
	}
	got, err := s.GetEvidenceChunk(ctx, located.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Locator["range"] != "A1:C1" {
		t.Errorf("locator not round-tripped: %v", got.Locator)
	}
}

func TestAddEvidenceChunk_UnknownSource(t *testing.T) {
	s := newTestStore(t)
	_, err := s.AddEvidenceChunk(context.Background(), &EvidenceChunk{SourceID: "nope", Kind: ChunkOCRText})
	if !errs.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAddSource_Validation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	club, _ := seedClub(t, s, 0)

	if err := s.AddSource(ctx, &Source{ClubID: club.ID, Type: "fax"}); !errs.IsValidationError(err) {
		t.Errorf("unknown type: expected validation error, got %v", err)
	}
	if err := s.AddSource(ctx, &Source{ClubID: "ghost", Type: SourcePaste}); !errs.IsNotFound(err) {
		t.Errorf("unknown club: expected not found, got %v", err)
	}
}

func TestCheckEvidence_CrossClub(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	clubA, idsA := seedClub(t, s, 1)
	_, idsB := seedClub(t, s, 1)

	err := s.InTx(ctx, func(tx Tx) error {
		return tx.CheckEvidence(ctx, clubA.ID, []string{idsA[0], idsB[0]})
	})
	if !errs.IsValidationError(err) {
		t.Fatalf("expected validation error for foreign evidence, got %v", err)
	}

	err = s.InTx(ctx, func(tx Tx) error {
		return tx.CheckEvidence(ctx, clubA.ID, []string{"missing"})
	})
	if !errs.IsNotFound(err) {
		t.Fatalf("expected not found for missing evidence, got %v", err)
	}
}

// --- Claims ---

func TestInsertAndGetClaim(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	club, _ := seedClub(t, s, 0)

	q := 6.0
	unit := "general_meetings"
	var c *Claim
	err := s.InTx(ctx, func(tx Tx) error {
		cat, err := tx.GetCategoryByKey(ctx, club.ID, CategoryAttendance)
		if err != nil {
			return err
		}
		c = &Claim{
			ClubID:        club.ID,
			CategoryID:    cat.ID,
			CanonicalText: "Attend 6 GMs",
			Structured:    &Structured{Quantity: &q, Unit: &unit},
			Status:        StatusUnreviewed,
			Confidence:    ConfidenceMedium,
			Signature:     "attend 6 gms",
		}
		return tx.InsertClaim(ctx, c)
	})
	if err != nil {
		t.Fatalf("InsertClaim: %v", err)
	}

	got, err := s.GetClaim(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetClaim: %v", err)
	}
	if got.CategoryKey != CategoryAttendance {
		t.Errorf("CategoryKey = %s", got.CategoryKey)
	}
	if got.Version != 1 {
		t.Errorf("Version = %d, want 1", got.Version)
	}
	if got.Structured == nil || *got.Structured.Quantity != 6 || *got.Structured.Unit != unit {
		t.Errorf("Structured not round-tripped: %+v", got.Structured)
	}
	if got.LastVerifiedAt != nil {
		t.Errorf("LastVerifiedAt should be nil")
	}
}

func TestInsertClaim_Validation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	club, _ := seedClub(t, s, 0)

	err := s.InTx(ctx, func(tx Tx) error {
		cat, _ := tx.GetCategoryByKey(ctx, club.ID, CategorySocial)
		return tx.InsertClaim(ctx, &Claim{
			ClubID: club.ID, CategoryID: cat.ID, CanonicalText: "  ",
			Status: StatusUnreviewed, Confidence: ConfidenceLow, Signature: "x",
		})
	})
	if !errs.IsValidationError(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestUpdateClaim_OptimisticVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	club, _ := seedClub(t, s, 0)
	c := insertTestClaim(t, s, club.ID, CategorySocial, "Go to socials", "go to socials")

	verified := time.Now().UTC().Truncate(time.Second)
	err := s.InTx(ctx, func(tx Tx) error {
		cur, err := tx.GetClaim(ctx, c.ID)
		if err != nil {
			return err
		}
		cur.Status = StatusAccepted
		cur.LastVerifiedAt = &verified
		return tx.UpdateClaim(ctx, cur, 1)
	})
	if err != nil {
		t.Fatalf("UpdateClaim: %v", err)
	}

	got, _ := s.GetClaim(ctx, c.ID)
	if got.Version != 2 || got.Status != StatusAccepted {
		t.Fatalf("got version %d status %s", got.Version, got.Status)
	}
	if got.LastVerifiedAt == nil || !got.LastVerifiedAt.Equal(verified) {
		t.Errorf("LastVerifiedAt = %v, want %v", got.LastVerifiedAt, verified)
	}

	err = s.InTx(ctx, func(tx Tx) error {
		stale := *got
		stale.CanonicalText = "stale write"
		return tx.UpdateClaim(ctx, &stale, 1)
	})
	var conflict *errs.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.Actual != 2 {
		t.Errorf("conflict.Actual = %d, want 2", conflict.Actual)
	}

	err = s.InTx(ctx, func(tx Tx) error {
		ghost := *got
		ghost.ID = "ghost"
		return tx.UpdateClaim(ctx, &ghost, 1)
	})
	if !errs.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFindClaimBySignature(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	club, _ := seedClub(t, s, 0)
	c := insertTestClaim(t, s, club.ID, CategorySocial, "Go to socials", "go to socials")

	err := s.InTx(ctx, func(tx Tx) error {
		found, err := tx.FindClaimBySignature(ctx, club.ID, c.CategoryID, "go to socials")
		if err != nil {
			return err
		}
		if found == nil || found.ID != c.ID {
			t.Errorf("expected to find %s, got %+v", c.ID, found)
		}
		miss, err := tx.FindClaimBySignature(ctx, club.ID, c.CategoryID, "other")
		if err != nil {
			return err
		}
		if miss != nil {
			t.Errorf("expected nil, got %+v", miss)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestListClaims_Filter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	club, _ := seedClub(t, s, 0)
	other, _ := seedClub(t, s, 0)
	insertTestClaim(t, s, club.ID, CategorySocial, "A", "a")
	insertTestClaim(t, s, club.ID, CategoryFundraising, "B", "b")
	insertTestClaim(t, s, other.ID, CategorySocial, "C", "c")

	all, err := s.ListClaims(ctx, ClaimFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("unfiltered: got %d", len(all))
	}

	mine, _ := s.ListClaims(ctx, ClaimFilter{ClubIDs: []string{club.ID}})
	if len(mine) != 2 {
		t.Errorf("club filter: got %d", len(mine))
	}
	if mine[0].CategoryKey != CategorySocial {
		t.Errorf("expected display order, first = %s", mine[0].CategoryKey)
	}

	social, _ := s.ListClaims(ctx, ClaimFilter{CategoryKeys: []CategoryKey{CategorySocial}})
	if len(social) != 2 {
		t.Errorf("category filter: got %d", len(social))
	}

	accepted, _ := s.ListClaims(ctx, ClaimFilter{Status: StatusAccepted})
	if len(accepted) != 0 {
		t.Errorf("status filter: got %d", len(accepted))
	}
}

// --- Evidence links ---

func TestLinkEvidence_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	club, ids := seedClub(t, s, 2)
	c := insertTestClaim(t, s, club.ID, CategorySocial, "A", "a")

	err := s.InTx(ctx, func(tx Tx) error {
		for _, id := range []string{ids[0], ids[1], ids[0]} {
			if _, err := tx.LinkEvidence(ctx, c.ID, id, 1.0); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	links, _ := s.ListEvidenceLinks(ctx, c.ID)
	if len(links) != 2 {
		t.Fatalf("got %d links, want 2", len(links))
	}
	chunks, _ := s.ListEvidenceForClaim(ctx, c.ID)
	if len(chunks) != 2 || chunks[0].ID != ids[0] {
		t.Fatalf("unexpected claim evidence order: %+v", chunks)
	}
}

func TestDeleteClaim_CascadesLinksKeepsHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	club, ids := seedClub(t, s, 1)
	c := insertTestClaim(t, s, club.ID, CategorySocial, "A", "a")

	err := s.InTx(ctx, func(tx Tx) error {
		if _, err := tx.LinkEvidence(ctx, c.ID, ids[0], 1); err != nil {
			return err
		}
		if err := tx.AppendHistory(ctx, &HistoryEntry{ClaimID: c.ID, Action: ActionCreate, After: c.Snapshot()}); err != nil {
			return err
		}
		return tx.DeleteClaim(ctx, c.ID)
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.GetClaim(ctx, c.ID); !errs.IsNotFound(err) {
		t.Errorf("claim should be gone, got %v", err)
	}
	links, _ := s.ListEvidenceLinks(ctx, c.ID)
	if len(links) != 0 {
		t.Errorf("links should cascade, got %d", len(links))
	}
	hist, _ := s.ListHistory(ctx, c.ID, 0)
	if len(hist) != 1 {
		t.Errorf("history should survive deletion, got %d", len(hist))
	}
	if _, err := s.GetEvidenceChunk(ctx, ids[0]); err != nil {
		t.Errorf("evidence must survive claim deletion: %v", err)
	}
}

// --- History ---

func TestHistory_AppendOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	club, _ := seedClub(t, s, 0)
	c := insertTestClaim(t, s, club.ID, CategorySocial, "A", "a")

	actor := "alice"
	err := s.InTx(ctx, func(tx Tx) error {
		for i := 0; i < 12; i++ {
			e := &HistoryEntry{ClaimID: c.ID, Actor: &actor, Action: ActionEdit,
				Before: map[string]interface{}{"n": i}, After: map[string]interface{}{"n": i + 1}}
			if err := tx.AppendHistory(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	hist, err := s.ListHistory(ctx, c.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != DefaultHistoryLimit {
		t.Fatalf("got %d entries, want default limit %d", len(hist), DefaultHistoryLimit)
	}
	if hist[0].ID < hist[1].ID {
		t.Error("history should be newest first")
	}
	if hist[0].After["n"].(float64) != 12 {
		t.Errorf("newest After = %v", hist[0].After)
	}
	if hist[0].Actor == nil || *hist[0].Actor != "alice" {
		t.Errorf("actor not round-tripped")
	}

	ss := s.(*SQLiteStore)
	if _, err := ss.db.Exec(`DELETE FROM claim_history`); err == nil {
		t.Error("deleting history should be rejected")
	}
	if _, err := ss.db.Exec(`UPDATE claim_history SET action = 'create'`); err == nil {
		t.Error("rewriting history should be rejected")
	}
}

func TestAppendHistory_UnknownAction(t *testing.T) {
	s := newTestStore(t)
	err := s.InTx(context.Background(), func(tx Tx) error {
		return tx.AppendHistory(context.Background(), &HistoryEntry{ClaimID: "x", Action: "delete"})
	})
	if !errs.IsValidationError(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRetargetHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	club, _ := seedClub(t, s, 0)
	a := insertTestClaim(t, s, club.ID, CategorySocial, "A", "a")
	b := insertTestClaim(t, s, club.ID, CategorySocial, "B", "b")

	err := s.InTx(ctx, func(tx Tx) error {
		for _, id := range []string{a.ID, b.ID, b.ID} {
			if err := tx.AppendHistory(ctx, &HistoryEntry{ClaimID: id, Action: ActionCreate}); err != nil {
				return err
			}
		}
		n, err := tx.RetargetHistory(ctx, []string{b.ID}, a.ID)
		if err != nil {
			return err
		}
		if n != 2 {
			t.Errorf("retargeted %d rows, want 2", n)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	hist, _ := s.ListHistory(ctx, a.ID, 50)
	if len(hist) != 3 {
		t.Fatalf("got %d entries on primary, want 3", len(hist))
	}
}

func TestInTx_RollbackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	club, _ := seedClub(t, s, 0)

	boom := errors.New("boom")
	var id string
	err := s.InTx(ctx, func(tx Tx) error {
		cat, _ := tx.GetCategoryByKey(ctx, club.ID, CategorySocial)
		c := &Claim{ClubID: club.ID, CategoryID: cat.ID, CanonicalText: "A",
			Status: StatusUnreviewed, Confidence: ConfidenceMedium, Signature: "a"}
		if err := tx.InsertClaim(ctx, c); err != nil {
			return err
		}
		id = c.ID
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, err := s.GetClaim(ctx, id); !errs.IsNotFound(err) {
		t.Fatalf("insert should be rolled back, got %v", err)
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	club, _ := seedClub(t, s, 3)
	insertTestClaim(t, s, club.ID, CategorySocial, "A", "a")

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.ClubCount != 1 || stats.SourceCount != 1 || stats.EvidenceCount != 3 || stats.ClaimCount != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}
