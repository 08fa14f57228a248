package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	errs "github.com/hurttlocker/canon/internal/errors"
	"github.com/hurttlocker/canon/internal/ingest"
	"github.com/hurttlocker/canon/internal/reconcile"
	"github.com/hurttlocker/canon/internal/store"
)

// cli runs canon against one temporary database.
type cli struct {
	t      *testing.T
	dbPath string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("CANON_CONFIG", filepath.Join(dir, "config.yaml"))
	t.Setenv("CANON_LOG_LEVEL", "error")
	return &cli{t: t, dbPath: filepath.Join(dir, "canon.db")}
}

func (c *cli) run(stdin string, args ...string) (string, error) {
	c.t.Helper()
	var out bytes.Buffer
	full := append([]string{"--db", c.dbPath}, args...)
	err := execute(full, strings.NewReader(stdin), &out)
	return out.String(), err
}

func (c *cli) mustRun(stdin string, args ...string) string {
	c.t.Helper()
	out, err := c.run(stdin, args...)
	if err != nil {
		c.t.Fatalf("canon %s: %v\noutput: %s", strings.Join(args, " "), err, out)
	}
	return out
}

func (c *cli) mustJSON(dst interface{}, stdin string, args ...string) {
	c.t.Helper()
	out := c.mustRun(stdin, append([]string{"--json"}, args...)...)
	if err := json.Unmarshal([]byte(out), dst); err != nil {
		c.t.Fatalf("decoding output of canon %s: %v\noutput: %s", strings.Join(args, " "), err, out)
	}
}

// seed creates a club with one pasted chunk and returns both ids.
func (c *cli) seed(name, text string) (clubID, chunkID string) {
	c.t.Helper()
	var club store.Club
	c.mustJSON(&club, "", "club", "create", name)

	var res ingest.Result
	c.mustJSON(&res, "", "source", "paste", "--club", club.ID, text)
	if len(res.Chunks) != 1 {
		c.t.Fatalf("expected 1 chunk, got %d", len(res.Chunks))
	}
	return club.ID, res.Chunks[0].ID
}

func extractionJSON(chunkID string, texts ...string) string {
	items := make([]string, 0, len(texts))
	for _, txt := range texts {
		items = append(items, fmt.Sprintf(`{"raw_claim": %q, "normalized_claim": %q, "evidence_refs": [%q]}`, txt, txt, chunkID))
	}
	return fmt.Sprintf(`{"categories": [{"category_key": "social_requirement", "items": [%s]}], "unassigned_items": []}`,
		strings.Join(items, ","))
}

func TestVersion(t *testing.T) {
	c := newCLI(t)
	out := c.mustRun("", "version")
	if !strings.Contains(out, "canon "+version) {
		t.Fatalf("version output = %q", out)
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errs.NewValidationError("status", "x", "unknown status"), exitValidation},
		{errs.NewNotFoundError("claim", "abc"), exitNotFound},
		{errs.NewConflictError("claim", "abc", 2, 3), exitConflict},
		{errors.New("boom"), exitError},
		{fmt.Errorf("wrapped: %w", errs.NewNotFoundError("club", "x")), exitNotFound},
	}
	for _, tt := range tests {
		if got := exitCode(tt.err); got != tt.want {
			t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	c := newCLI(t)
	clubID, chunkID := c.seed("Alpha Club", "Two socials per semester.")
	doc := extractionJSON(chunkID, "2 socials per semester")

	var first reconcile.Result
	c.mustJSON(&first, doc, "reconcile", "--club", clubID)
	if len(first.Created) != 1 || len(first.Failures) != 0 {
		t.Fatalf("first run: created=%d failures=%v", len(first.Created), first.Failures)
	}

	var second reconcile.Result
	c.mustJSON(&second, doc, "reconcile", "--club", clubID)
	if len(second.Created) != 0 || len(second.Unchanged) != 1 {
		t.Fatalf("second run: created=%d unchanged=%d", len(second.Created), len(second.Unchanged))
	}

	var claims []*store.Claim
	c.mustJSON(&claims, "", "claims", "list", "--club", clubID)
	if len(claims) != 1 {
		t.Fatalf("expected 1 claim, got %d", len(claims))
	}
	if claims[0].CategoryKey != store.CategorySocial {
		t.Errorf("category = %s, want %s", claims[0].CategoryKey, store.CategorySocial)
	}
}

func TestReconcileMalformedExtraction(t *testing.T) {
	c := newCLI(t)
	clubID, _ := c.seed("Alpha Club", "Two socials per semester.")

	_, err := c.run("{not json", "reconcile", "--club", clubID)
	if err == nil {
		t.Fatal("expected error for malformed extraction")
	}
	if exitCode(err) != exitValidation {
		t.Errorf("exit code = %d, want %d (err: %v)", exitCode(err), exitValidation, err)
	}
}

func TestClaimReviewFlow(t *testing.T) {
	c := newCLI(t)
	clubID, chunkID := c.seed("Alpha Club", "Two socials per semester.")

	var res reconcile.Result
	c.mustJSON(&res, extractionJSON(chunkID, "2 socials per semester"), "reconcile", "--club", clubID)
	id := res.Created[0].ID

	var accepted store.Claim
	c.mustJSON(&accepted, "", "claim", "status", id, "accepted", "--actor", "ops")
	if accepted.Status != store.StatusAccepted || accepted.LastVerifiedAt == nil {
		t.Fatalf("status = %s verified = %v", accepted.Status, accepted.LastVerifiedAt)
	}

	var edited store.Claim
	c.mustJSON(&edited, "", "claim", "edit", id,
		"--text", "Two socials every semester",
		"--structured", `{"quantity": 2, "unit": "socials", "cadence": "per_semester"}`,
		"--expected-version", fmt.Sprint(accepted.Version))
	if edited.CanonicalText != "Two socials every semester" {
		t.Errorf("text = %q", edited.CanonicalText)
	}

	// Stale version.
	_, err := c.run("", "claim", "edit", id, "--text", "Three socials", "--expected-version", fmt.Sprint(accepted.Version))
	if exitCode(err) != exitConflict {
		t.Fatalf("stale edit: exit code %d, err %v", exitCode(err), err)
	}

	var history []*store.HistoryEntry
	c.mustJSON(&history, "", "claim", "history", id)
	if len(history) != 3 {
		t.Fatalf("expected 3 history entries, got %d", len(history))
	}
	if history[0].Action != store.ActionEdit || history[2].Action != store.ActionCreate {
		t.Errorf("history order = %s..%s", history[0].Action, history[2].Action)
	}

	var chunks []*store.EvidenceChunk
	c.mustJSON(&chunks, "", "claim", "evidence", id)
	if len(chunks) != 1 || chunks[0].ID != chunkID {
		t.Errorf("evidence = %v", chunks)
	}

	out := c.mustRun("", "matrix")
	if !strings.Contains(out, "2 socials / per semester") {
		t.Errorf("matrix output missing summary:\n%s", out)
	}
}

func TestClaimStatusErrors(t *testing.T) {
	c := newCLI(t)
	c.seed("Alpha Club", "Two socials per semester.")

	_, err := c.run("", "claim", "status", "missing", "bogus")
	if exitCode(err) != exitValidation {
		t.Errorf("unknown status: exit code %d, err %v", exitCode(err), err)
	}
	_, err = c.run("", "claim", "status", "missing", "accepted")
	if exitCode(err) != exitNotFound {
		t.Errorf("missing claim: exit code %d, err %v", exitCode(err), err)
	}
}

func TestMergeAndSplit(t *testing.T) {
	c := newCLI(t)
	clubID, chunkID := c.seed("Alpha Club", "Socials: two per semester, formal attendance required.")

	var res reconcile.Result
	c.mustJSON(&res, extractionJSON(chunkID, "2 socials per semester", "two socials each semester"), "reconcile", "--club", clubID)
	if len(res.Created) != 2 {
		t.Fatalf("expected 2 created, got %d", len(res.Created))
	}

	var merged store.Claim
	c.mustJSON(&merged, "", "merge", res.Created[0].ID, res.Created[1].ID, "--text", "2 socials per semester")
	if merged.ID != res.Created[0].ID {
		t.Errorf("survivor = %s, want %s", merged.ID, res.Created[0].ID)
	}
	if _, err := c.run("", "claim", "show", res.Created[1].ID); exitCode(err) != exitNotFound {
		t.Errorf("merged-away claim still readable: %v", err)
	}

	var parts []*store.Claim
	c.mustJSON(&parts, "", "split", merged.ID, "--text", "2 socials per semester", "--text", "formal attendance required")
	if len(parts) != 2 {
		t.Fatalf("expected 2 claims from split, got %d", len(parts))
	}

	_, err := c.run("", "split", parts[0].ID, "--text", "only one")
	if exitCode(err) != exitValidation {
		t.Errorf("single-text split: exit code %d, err %v", exitCode(err), err)
	}
}

func TestSuggestAndLifecycleDryRun(t *testing.T) {
	c := newCLI(t)
	clubID, chunkID := c.seed("Alpha Club", "Two socials per semester.")
	c.mustJSON(&reconcile.Result{}, extractionJSON(chunkID, "2 socials per semester", "2 socials per semesters"), "reconcile", "--club", clubID)

	var rep struct {
		Suggestions int `json:"suggestions"`
	}
	c.mustJSON(&rep, "", "suggest", "--club", clubID, "--threshold", "0.8")
	if rep.Suggestions != 1 {
		t.Errorf("suggestions = %d, want 1", rep.Suggestions)
	}

	var lc struct {
		DryRun  bool `json:"dry_run"`
		Applied int  `json:"applied"`
	}
	c.mustJSON(&lc, "", "lifecycle", "run", "--stale-after-days", "30")
	if !lc.DryRun || lc.Applied != 0 {
		t.Errorf("lifecycle run: dry_run=%v applied=%d", lc.DryRun, lc.Applied)
	}
}

func TestConfigShowReportsSources(t *testing.T) {
	c := newCLI(t)
	out := c.mustRun("", "config", "show")
	if !strings.Contains(out, "db_path:") {
		t.Fatalf("config show missing db_path:\n%s", out)
	}
	if !strings.Contains(out, "source: cli") {
		t.Errorf("--db should be reported as a cli value:\n%s", out)
	}
	if !strings.Contains(out, "log_level:") || !strings.Contains(out, "source: env") {
		t.Errorf("CANON_LOG_LEVEL should be reported as an env value:\n%s", out)
	}
}

func TestStats(t *testing.T) {
	c := newCLI(t)
	c.seed("Alpha Club", "Two socials per semester.")

	var stats store.StoreStats
	c.mustJSON(&stats, "", "stats")
	if stats.ClubCount != 1 || stats.SourceCount != 1 || stats.EvidenceCount != 1 {
		t.Errorf("stats = %+v", stats)
	}

	out := c.mustRun("", "stats")
	if !strings.Contains(out, "Clubs:           1") {
		t.Errorf("stats output:\n%s", out)
	}
}
