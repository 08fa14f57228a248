package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hurttlocker/canon/internal/consolidate"
	errs "github.com/hurttlocker/canon/internal/errors"
	"github.com/hurttlocker/canon/internal/ingest"
	"github.com/hurttlocker/canon/internal/lifecycle"
	"github.com/hurttlocker/canon/internal/reconcile"
	"github.com/hurttlocker/canon/internal/store"
)

func registerAddSourceTool(s *server.MCPServer, svc *services) {
	tool := mcp.NewTool("canon_add_source",
		mcp.WithDescription("Register pasted or OCR text as evidence for a club. Each paragraph becomes one evidence chunk; the returned chunk ids can be cited as evidence_refs."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("club_id",
			mcp.Required(),
			mcp.Description("Club the source belongs to"),
		),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("Source text"),
		),
		mcp.WithString("kind",
			mcp.Description("paste (default) or ocr"),
			mcp.Enum("paste", "ocr"),
		),
		mcp.WithString("title",
			mcp.Description("Human-readable source title"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		clubID, err := req.RequireString("club_id")
		if err != nil {
			return mcp.NewToolResultError("club_id is required"), nil
		}
		text, err := req.RequireString("text")
		if err != nil || strings.TrimSpace(text) == "" {
			return mcp.NewToolResultError("text is required"), nil
		}
		text = strings.ReplaceAll(text, "\x00", "")
		opts := ingest.Options{Title: optionalString(req, "title")}

		var res *ingest.Result
		if optionalString(req, "kind") == "ocr" {
			res, err = svc.ingest.RegisterOCRText(ctx, clubID, text, opts)
		} else {
			res, err = svc.ingest.RegisterPaste(ctx, clubID, text, opts)
		}
		if err != nil {
			return toolError(err), nil
		}
		return jsonResult(map[string]interface{}{
			"source_id":       res.Source.ID,
			"chunk_ids":       res.ChunkIDs(),
			"chunks_new":      res.ChunksNew,
			"chunks_existing": res.ChunksExisting,
		})
	})
}

func registerReconcileTool(s *server.MCPServer, svc *services) {
	tool := mcp.NewTool("canon_reconcile",
		mcp.WithDescription("Reconcile extraction output into a club's claim registry. Items whose normalized text matches an existing claim in the same category gain evidence; everything else becomes a new unreviewed claim."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("club_id",
			mcp.Required(),
			mcp.Description("Club to reconcile into"),
		),
		mcp.WithString("extraction",
			mcp.Required(),
			mcp.Description("Extraction output JSON: {categories: [{category_key, items: [...]}], unassigned_items: [...]}"),
		),
		mcp.WithString("default_evidence_ref",
			mcp.Description("Evidence chunk id assigned to items that cite none"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		clubID, err := req.RequireString("club_id")
		if err != nil {
			return mcp.NewToolResultError("club_id is required"), nil
		}
		raw, err := req.RequireString("extraction")
		if err != nil {
			return mcp.NewToolResultError("extraction is required"), nil
		}
		x, err := reconcile.DecodeExtraction(strings.NewReader(raw))
		if err != nil {
			return toolError(err), nil
		}
		x.DefaultEvidence(optionalString(req, "default_evidence_ref"))

		res, err := svc.reconcile.Reconcile(ctx, clubID, x.Batch())
		if err != nil {
			return toolError(err), nil
		}
		return jsonResult(res)
	})
}

func registerListClaimsTool(s *server.MCPServer, svc *services) {
	tool := mcp.NewTool("canon_list_claims",
		mcp.WithDescription("List claims, optionally scoped to clubs, categories and a status."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithArray("club_ids",
			mcp.Description("Club ids (empty = all)"),
			mcp.WithStringItems(),
		),
		mcp.WithArray("categories",
			mcp.Description("Category keys (empty = all)"),
			mcp.WithStringItems(),
		),
		mcp.WithString("status",
			mcp.Description("Only claims in this status"),
			mcp.Enum("unreviewed", "accepted", "disputed", "outdated"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of claims (default: 100)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		filter := store.ClaimFilter{
			ClubIDs: optionalStrings(req, "club_ids"),
			Limit:   100,
		}
		for _, raw := range optionalStrings(req, "categories") {
			key, ok := store.NormalizeCategoryKey(raw)
			if !ok {
				return mcp.NewToolResultError(fmt.Sprintf("invalid input: unknown category %q", raw)), nil
			}
			filter.CategoryKeys = append(filter.CategoryKeys, key)
		}
		if raw := optionalString(req, "status"); raw != "" {
			st, ok := store.ParseStatus(raw)
			if !ok {
				return mcp.NewToolResultError(fmt.Sprintf("invalid input: unknown status %q", raw)), nil
			}
			filter.Status = st
		}
		if l := optionalInt(req, "limit"); l > 0 {
			filter.Limit = int(l)
		}

		claims, err := svc.st.ListClaims(ctx, filter)
		if err != nil {
			return toolError(errs.Classify("store", err)), nil
		}
		return jsonResult(claims)
	})
}

func registerEditClaimTool(s *server.MCPServer, svc *services) {
	tool := mcp.NewTool("canon_edit_claim",
		mcp.WithDescription("Replace a claim's canonical text and optionally its structured requirement. The signature is recomputed and an edit history entry is recorded."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("claim_id",
			mcp.Required(),
			mcp.Description("Claim to edit"),
		),
		mcp.WithString("canonical_text",
			mcp.Required(),
			mcp.Description("New canonical text"),
		),
		mcp.WithObject("structured",
			mcp.Description("Structured requirement: metric_type, quantity, out_of, unit, cadence, exceptions, conditions, time_scope"),
		),
		mcp.WithNumber("expected_version",
			mcp.Description("Reject the edit if the claim's version differs (optimistic concurrency)"),
		),
		mcp.WithString("actor",
			mcp.Description("Who made the change"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		claimID, err := req.RequireString("claim_id")
		if err != nil {
			return mcp.NewToolResultError("claim_id is required"), nil
		}
		text, err := req.RequireString("canonical_text")
		if err != nil {
			return mcp.NewToolResultError("canonical_text is required"), nil
		}
		edit := lifecycle.EditRequest{
			ClaimID:         claimID,
			CanonicalText:   text,
			ExpectedVersion: optionalInt(req, "expected_version"),
			Actor:           optionalString(req, "actor"),
		}
		var structured store.Structured
		ok, err := decodeArgument(req, "structured", &structured)
		if err != nil {
			return toolError(err), nil
		}
		if ok {
			edit.Structured = &structured
		}

		c, err := svc.lifecycle.Edit(ctx, edit)
		if err != nil {
			return toolError(err), nil
		}
		return jsonResult(c)
	})
}

func registerSetStatusTool(s *server.MCPServer, svc *services) {
	tool := mcp.NewTool("canon_set_status",
		mcp.WithDescription("Move a claim to a review status. Accepting a claim stamps last_verified_at."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("claim_id",
			mcp.Required(),
			mcp.Description("Claim to update"),
		),
		mcp.WithString("status",
			mcp.Required(),
			mcp.Description("Target status"),
			mcp.Enum("unreviewed", "accepted", "disputed", "outdated"),
		),
		mcp.WithNumber("expected_version",
			mcp.Description("Reject the change if the claim's version differs"),
		),
		mcp.WithString("actor",
			mcp.Description("Who made the change"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		claimID, err := req.RequireString("claim_id")
		if err != nil {
			return mcp.NewToolResultError("claim_id is required"), nil
		}
		raw, err := req.RequireString("status")
		if err != nil {
			return mcp.NewToolResultError("status is required"), nil
		}
		status, ok := store.ParseStatus(raw)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("invalid input: unknown status %q", raw)), nil
		}

		c, err := svc.lifecycle.SetStatus(ctx, lifecycle.StatusRequest{
			ClaimID:         claimID,
			Status:          status,
			ExpectedVersion: optionalInt(req, "expected_version"),
			Actor:           optionalString(req, "actor"),
		})
		if err != nil {
			return toolError(err), nil
		}
		return jsonResult(c)
	})
}

func registerMergeTool(s *server.MCPServer, svc *services) {
	tool := mcp.NewTool("canon_merge_claims",
		mcp.WithDescription("Merge claims into the first listed claim. The survivor takes the union of all evidence, the given canonical text and high confidence; the others are deleted."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithArray("claim_ids",
			mcp.Required(),
			mcp.Description("Claims to merge; the first is kept"),
			mcp.WithStringItems(),
		),
		mcp.WithString("canonical_text",
			mcp.Required(),
			mcp.Description("Canonical text of the merged claim"),
		),
		mcp.WithString("actor",
			mcp.Description("Who made the change"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		ids, err := req.RequireStringSlice("claim_ids")
		if err != nil {
			return mcp.NewToolResultError("claim_ids is required"), nil
		}
		text, err := req.RequireString("canonical_text")
		if err != nil {
			return mcp.NewToolResultError("canonical_text is required"), nil
		}

		c, err := svc.ops.Merge(ctx, consolidate.MergeRequest{
			ClaimIDs:      ids,
			CanonicalText: text,
			Actor:         optionalString(req, "actor"),
		})
		if err != nil {
			return toolError(err), nil
		}
		return jsonResult(c)
	})
}

func registerSplitTool(s *server.MCPServer, svc *services) {
	tool := mcp.NewTool("canon_split_claim",
		mcp.WithDescription("Split a claim into one new claim per text. Every new claim inherits all of the original's evidence and starts unreviewed; the original is deleted."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithString("claim_id",
			mcp.Required(),
			mcp.Description("Claim to split"),
		),
		mcp.WithArray("texts",
			mcp.Required(),
			mcp.Description("At least two replacement texts"),
			mcp.WithStringItems(),
		),
		mcp.WithString("actor",
			mcp.Description("Who made the change"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		claimID, err := req.RequireString("claim_id")
		if err != nil {
			return mcp.NewToolResultError("claim_id is required"), nil
		}
		texts, err := req.RequireStringSlice("texts")
		if err != nil {
			return mcp.NewToolResultError("texts is required"), nil
		}

		claims, err := svc.ops.Split(ctx, consolidate.SplitRequest{
			ClaimID: claimID,
			Texts:   texts,
			Actor:   optionalString(req, "actor"),
		})
		if err != nil {
			return toolError(err), nil
		}
		return jsonResult(claims)
	})
}

func registerHistoryTool(s *server.MCPServer, svc *services) {
	tool := mcp.NewTool("canon_history",
		mcp.WithDescription("List a claim's history entries, newest first."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("claim_id",
			mcp.Required(),
			mcp.Description("Claim id"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of entries (default: 10)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		claimID, err := req.RequireString("claim_id")
		if err != nil {
			return mcp.NewToolResultError("claim_id is required"), nil
		}
		entries, err := svc.st.ListHistory(ctx, claimID, int(optionalInt(req, "limit")))
		if err != nil {
			return toolError(errs.Classify("store", err)), nil
		}
		return jsonResult(entries)
	})
}

func registerMatrixTool(s *server.MCPServer, svc *services) {
	tool := mcp.NewTool("canon_matrix",
		mcp.WithDescription("Project claims onto a category x club grid. Each cell shows its primary claim, a short summary, the claim count and the disputed count."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithArray("club_ids",
			mcp.Description("Club ids (empty = all)"),
			mcp.WithStringItems(),
		),
		mcp.WithArray("categories",
			mcp.Description("Category keys (empty = all)"),
			mcp.WithStringItems(),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		m, err := svc.projector.Project(ctx, optionalStrings(req, "club_ids"), optionalStrings(req, "categories"))
		if err != nil {
			return toolError(err), nil
		}
		return jsonResult(m)
	})
}

func registerSuggestTool(s *server.MCPServer, svc *services) {
	tool := mcp.NewTool("canon_suggest_merges",
		mcp.WithDescription("Report near-duplicate claims within each category of a club. Nothing is changed; apply a suggestion with canon_merge_claims."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("club_id",
			mcp.Required(),
			mcp.Description("Club id"),
		),
		mcp.WithNumber("threshold",
			mcp.Description("Signature similarity threshold in (0, 1] (default: 0.85)"),
		),
		mcp.WithNumber("max_preview",
			mcp.Description("Maximum suggestions returned (default: 25)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		clubID, err := req.RequireString("club_id")
		if err != nil {
			return mcp.NewToolResultError("club_id is required"), nil
		}
		opts := consolidate.SuggestOptions{
			ClubID:     clubID,
			Threshold:  svc.threshold,
			MaxPreview: int(optionalInt(req, "max_preview")),
		}
		if th, err := req.RequireFloat("threshold"); err == nil && th > 0 {
			opts.Threshold = th
		}
		report, err := svc.ops.Suggest(ctx, opts)
		if err != nil {
			return toolError(err), nil
		}
		return jsonResult(report)
	})
}
