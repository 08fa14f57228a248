package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	errs "github.com/hurttlocker/canon/internal/errors"
	"github.com/hurttlocker/canon/internal/lifecycle"
	"github.com/hurttlocker/canon/internal/reconcile"
	"github.com/hurttlocker/canon/internal/store"
)

func newReconcileCmd(a *app) *cobra.Command {
	var (
		clubID          string
		file            string
		defaultEvidence string
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Reconcile an extraction document into the claim registry",
		Long: `Reconcile reads the JSON output of the extraction step (categories with
items, plus unassigned items) and folds every item into the club's claims.
Items with a known signature corroborate the existing claim; new ones are
created unreviewed. Running the same document twice changes nothing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, file)
			if err != nil {
				return err
			}
			x, err := reconcile.DecodeExtraction(bytes.NewReader(data))
			if err != nil {
				return err
			}
			x.DefaultEvidence(defaultEvidence)

			st, err := a.openStore()
			if err != nil {
				return err
			}
			eng := reconcile.NewEngine(st, reconcile.Options{Workers: a.cfg.WorkerCount()})
			res, err := eng.Reconcile(a.context(cmd), clubID, x.Batch())
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), res, func(w io.Writer) {
				fmt.Fprintf(w, "Reconciled: %d created, %d updated, %d unchanged, %d failed\n",
					len(res.Created), len(res.Updated), len(res.Unchanged), len(res.Failures))
				for _, c := range res.Created {
					fmt.Fprintf(w, "  + %s  [%s] %s\n", c.ID, c.CategoryKey, truncate(c.CanonicalText, 60))
				}
				for _, c := range res.Updated {
					fmt.Fprintf(w, "  ~ %s  [%s] %s\n", c.ID, c.CategoryKey, truncate(c.CanonicalText, 60))
				}
				for _, f := range res.Failures {
					where := "items"
					if f.Unassigned {
						where = "unassigned_items"
					}
					fmt.Fprintf(w, "  ! %s[%d]: %s\n", where, f.Index, f.Error)
				}
			})
		},
	}

	cmd.Flags().StringVar(&clubID, "club", "", "club id (required)")
	cmd.Flags().StringVar(&file, "file", "-", "extraction JSON file (- for stdin)")
	cmd.Flags().StringVar(&defaultEvidence, "default-evidence", "", "evidence chunk id for items without refs")
	_ = cmd.MarkFlagRequired("club")
	return cmd
}

func newClaimsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "claims",
		Short: "Query claims",
	}

	var (
		clubIDs    []string
		categories []string
		status     string
		limit      int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List claims",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := store.ClaimFilter{ClubIDs: clubIDs, Limit: limit}
			for _, raw := range categories {
				key, ok := store.NormalizeCategoryKey(raw)
				if !ok {
					return errs.NewValidationError("category", raw, "unknown category key")
				}
				filter.CategoryKeys = append(filter.CategoryKeys, key)
			}
			if status != "" {
				s, ok := store.ParseStatus(status)
				if !ok {
					return errs.NewValidationError("status", status, "unknown status")
				}
				filter.Status = s
			}

			st, err := a.openStore()
			if err != nil {
				return err
			}
			claims, err := st.ListClaims(a.context(cmd), filter)
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), claims, func(w io.Writer) {
				if len(claims) == 0 {
					fmt.Fprintln(w, "No claims.")
					return
				}
				for _, c := range claims {
					printClaimLine(w, c)
				}
			})
		},
	}
	list.Flags().StringSliceVar(&clubIDs, "club", nil, "club id (repeatable)")
	list.Flags().StringSliceVar(&categories, "category", nil, "category key or alias (repeatable)")
	list.Flags().StringVar(&status, "status", "", "unreviewed, accepted, disputed or outdated")
	list.Flags().IntVar(&limit, "limit", 0, "maximum claims (0 = no limit)")

	cmd.AddCommand(list)
	return cmd
}

type mutationFlags struct {
	expectedVersion int64
	actor           string
}

func (f *mutationFlags) bind(cmd *cobra.Command) {
	cmd.Flags().Int64Var(&f.expectedVersion, "expected-version", 0, "fail with a conflict unless the claim is at this version")
	cmd.Flags().StringVar(&f.actor, "actor", "", "operator recorded in history")
}

func newClaimCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "claim",
		Short: "Inspect and change one claim",
	}

	show := &cobra.Command{
		Use:   "show <claim-id>",
		Short: "Show a claim",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			c, err := st.GetClaim(a.context(cmd), args[0])
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), c, func(w io.Writer) { printClaim(w, c) })
		},
	}

	var editFlags mutationFlags
	var editText, editStructured string
	edit := &cobra.Command{
		Use:   "edit <claim-id>",
		Short: "Replace a claim's canonical text and structured payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := lifecycle.EditRequest{
				ClaimID:         args[0],
				CanonicalText:   editText,
				ExpectedVersion: editFlags.expectedVersion,
				Actor:           editFlags.actor,
			}
			if editStructured != "" {
				var s store.Structured
				if err := json.Unmarshal([]byte(editStructured), &s); err != nil {
					return errs.NewValidationError("structured", editStructured, fmt.Sprintf("decoding structured: %v", err))
				}
				req.Structured = &s
			}
			return a.mutate(cmd, func(m *lifecycle.Manager) (*store.Claim, error) {
				return m.Edit(a.context(cmd), req)
			})
		},
	}
	editFlags.bind(edit)
	edit.Flags().StringVar(&editText, "text", "", "new canonical text (required)")
	edit.Flags().StringVar(&editStructured, "structured", "", "structured payload as JSON")
	_ = edit.MarkFlagRequired("text")

	var statusFlags mutationFlags
	status := &cobra.Command{
		Use:   "status <claim-id> <status>",
		Short: "Move a claim to unreviewed, accepted, disputed or outdated",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, ok := store.ParseStatus(args[1])
			if !ok {
				return errs.NewValidationError("status", args[1], "unknown status")
			}
			return a.mutate(cmd, func(m *lifecycle.Manager) (*store.Claim, error) {
				return m.SetStatus(a.context(cmd), lifecycle.StatusRequest{
					ClaimID:         args[0],
					Status:          s,
					ExpectedVersion: statusFlags.expectedVersion,
					Actor:           statusFlags.actor,
				})
			})
		},
	}
	statusFlags.bind(status)

	var recatFlags mutationFlags
	recategorize := &cobra.Command{
		Use:   "recategorize <claim-id> <category>",
		Short: "Move a claim to another category of its club",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.mutate(cmd, func(m *lifecycle.Manager) (*store.Claim, error) {
				return m.Recategorize(a.context(cmd), lifecycle.RecategorizeRequest{
					ClaimID:         args[0],
					CategoryKey:     args[1],
					ExpectedVersion: recatFlags.expectedVersion,
					Actor:           recatFlags.actor,
				})
			})
		},
	}
	recatFlags.bind(recategorize)

	var historyLimit int
	history := &cobra.Command{
		Use:   "history <claim-id>",
		Short: "Show a claim's history, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			entries, err := st.ListHistory(a.context(cmd), args[0], historyLimit)
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), entries, func(w io.Writer) {
				for _, e := range entries {
					actor := "-"
					if e.Actor != nil {
						actor = *e.Actor
					}
					fmt.Fprintf(w, "%6d  %s  %-13s %s\n", e.ID, e.CreatedAt.Format("2006-01-02 15:04:05"), e.Action, actor)
				}
			})
		},
	}
	history.Flags().IntVar(&historyLimit, "limit", store.DefaultHistoryLimit, "maximum entries")

	evidence := &cobra.Command{
		Use:   "evidence <claim-id>",
		Short: "List the evidence chunks linked to a claim",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			chunks, err := st.ListEvidenceForClaim(a.context(cmd), args[0])
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), chunks, func(w io.Writer) {
				printChunks(w, chunks)
			})
		},
	}

	cmd.AddCommand(show, edit, status, recategorize, history, evidence)
	return cmd
}

// mutate opens the store, runs fn against a lifecycle manager and prints the
// resulting claim.
func (a *app) mutate(cmd *cobra.Command, fn func(*lifecycle.Manager) (*store.Claim, error)) error {
	st, err := a.openStore()
	if err != nil {
		return err
	}
	c, err := fn(lifecycle.NewManager(st))
	if err != nil {
		return err
	}
	return a.emit(cmd.OutOrStdout(), c, func(w io.Writer) { printClaim(w, c) })
}

func printClaimLine(w io.Writer, c *store.Claim) {
	fmt.Fprintf(w, "%s  %-10s %-6s [%s] %s\n", c.ID, c.Status, c.Confidence, c.CategoryKey, truncate(c.CanonicalText, 60))
}

func printClaim(w io.Writer, c *store.Claim) {
	fmt.Fprintf(w, "Claim %s (version %d)\n", c.ID, c.Version)
	fmt.Fprintf(w, "  club:       %s\n", c.ClubID)
	fmt.Fprintf(w, "  category:   %s\n", c.CategoryKey)
	fmt.Fprintf(w, "  status:     %s\n", c.Status)
	fmt.Fprintf(w, "  confidence: %s\n", c.Confidence)
	fmt.Fprintf(w, "  text:       %s\n", c.CanonicalText)
	if !c.Structured.IsEmpty() {
		data, _ := json.Marshal(c.Structured)
		fmt.Fprintf(w, "  structured: %s\n", data)
	}
	if c.LastVerifiedAt != nil {
		fmt.Fprintf(w, "  verified:   %s\n", c.LastVerifiedAt.Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintf(w, "  updated:    %s\n", c.UpdatedAt.Format("2006-01-02 15:04:05"))
}
