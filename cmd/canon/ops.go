package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hurttlocker/canon/internal/consolidate"
	"github.com/hurttlocker/canon/internal/lifecycle"
	"github.com/hurttlocker/canon/internal/matrix"
	"github.com/hurttlocker/canon/internal/mcp"
)

func newMergeCmd(a *app) *cobra.Command {
	var text, actor string
	cmd := &cobra.Command{
		Use:   "merge <primary-id> <claim-id>...",
		Short: "Merge claims into the first one",
		Long: `Merge folds every listed claim into the first. The survivor takes the
given canonical text and the union of all evidence links; the others are
deleted and their history moves to the survivor.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			c, err := consolidate.NewOperator(st).Merge(a.context(cmd), consolidate.MergeRequest{
				ClaimIDs:      args,
				CanonicalText: text,
				Actor:         actor,
			})
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), c, func(w io.Writer) {
				fmt.Fprintf(w, "Merged %d claims into %s\n", len(args), c.ID)
				printClaim(w, c)
			})
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "canonical text of the merged claim (required)")
	cmd.Flags().StringVar(&actor, "actor", "", "operator recorded in history")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

func newSplitCmd(a *app) *cobra.Command {
	var (
		texts []string
		actor string
	)
	cmd := &cobra.Command{
		Use:   "split <claim-id> --text A --text B [--text C...]",
		Short: "Split a claim into one claim per text",
		Long: `Split replaces a claim with one new unreviewed claim per --text. Every new
claim links the original's evidence; the original is deleted and its history
moves to the first new claim.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			claims, err := consolidate.NewOperator(st).Split(a.context(cmd), consolidate.SplitRequest{
				ClaimID: args[0],
				Texts:   texts,
				Actor:   actor,
			})
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), claims, func(w io.Writer) {
				fmt.Fprintf(w, "Split %s into %d claims\n", args[0], len(claims))
				for _, c := range claims {
					printClaimLine(w, c)
				}
			})
		},
	}
	cmd.Flags().StringArrayVar(&texts, "text", nil, "text of one resulting claim (repeat at least twice)")
	cmd.Flags().StringVar(&actor, "actor", "", "operator recorded in history")
	return cmd
}

func newMatrixCmd(a *app) *cobra.Command {
	var clubIDs, categories []string
	cmd := &cobra.Command{
		Use:   "matrix",
		Short: "Show the category by club matrix of primary claims",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			m, err := matrix.NewProjector(st, a.cfg.SummaryMaxLen()).Project(a.context(cmd), clubIDs, categories)
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), m, func(w io.Writer) { printMatrix(w, m) })
		},
	}
	cmd.Flags().StringSliceVar(&clubIDs, "club", nil, "club id (repeatable, default all)")
	cmd.Flags().StringSliceVar(&categories, "category", nil, "category key (repeatable, default all)")
	return cmd
}

func printMatrix(w io.Writer, m *matrix.Matrix) {
	if len(m.Clubs) == 0 {
		fmt.Fprintln(w, "No clubs.")
		return
	}
	for _, row := range m.Rows {
		fmt.Fprintf(w, "%s\n", row.Label)
		for i, cell := range row.Cells {
			summary := cell.Summary
			if cell.Primary == nil {
				summary = "-"
			}
			extra := ""
			if cell.Total > 1 {
				extra = fmt.Sprintf(" (+%d)", cell.Total-1)
			}
			if cell.Disputed > 0 {
				extra += fmt.Sprintf(" [%d disputed]", cell.Disputed)
			}
			fmt.Fprintf(w, "  %-24s %s%s\n", truncate(m.Clubs[i].Name, 24), summary, extra)
		}
	}
}

func newSuggestCmd(a *app) *cobra.Command {
	var (
		clubID     string
		threshold  float64
		maxPreview int
	)
	cmd := &cobra.Command{
		Use:   "suggest",
		Short: "Report near-duplicate claims worth merging",
		Long: `Suggest compares claim signatures within each category of a club and
reports pairs at or above the similarity threshold. Nothing is changed;
apply a suggestion with canon merge.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("threshold") {
				threshold = a.cfg.Threshold()
			}
			st, err := a.openStore()
			if err != nil {
				return err
			}
			rep, err := consolidate.NewOperator(st).Suggest(a.context(cmd), consolidate.SuggestOptions{
				ClubID:     clubID,
				Threshold:  threshold,
				MaxPreview: maxPreview,
			})
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), rep, func(w io.Writer) {
				fmt.Fprintf(w, "Scanned %d cells, compared %d pairs, %d suggestions\n",
					rep.CellsScanned, rep.PairsCompared, rep.Suggestions)
				for _, s := range rep.Preview {
					fmt.Fprintf(w, "  %.2f [%s]\n    keep  %s %s\n    merge %s %s\n",
						s.Similarity, s.CategoryKey, s.KeepID, truncate(s.KeepText, 60), s.MergeID, truncate(s.MergeText, 60))
				}
			})
		},
	}
	cmd.Flags().StringVar(&clubID, "club", "", "club id (required)")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "similarity threshold in (0,1] (default from config)")
	cmd.Flags().IntVar(&maxPreview, "max-preview", 0, "maximum suggestions listed")
	_ = cmd.MarkFlagRequired("club")
	return cmd
}

func newLifecycleCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lifecycle",
		Short: "Run lifecycle policies",
	}

	var (
		clubID     string
		apply      bool
		staleAfter int
	)
	run := &cobra.Command{
		Use:   "run",
		Short: "Propose (or with --apply, perform) policy transitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			policies := a.cfg.Policies
			if staleAfter > 0 {
				policies.StaleOutdate.Enabled = true
				policies.StaleOutdate.AfterDays = staleAfter
			}
			runner, err := lifecycle.NewRunner(st, lifecycle.NewManager(st), policies, clubID)
			if err != nil {
				return err
			}
			rep, err := runner.Run(a.context(cmd), !apply)
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), rep, func(w io.Writer) {
				mode := "dry run"
				if !rep.DryRun {
					mode = "applied"
				}
				fmt.Fprintf(w, "Lifecycle (%s): scanned %d, proposed %d, applied %d\n",
					mode, rep.Scanned, len(rep.Actions), rep.Applied)
				for _, act := range rep.Actions {
					fmt.Fprintf(w, "  %s %s: %s -> %s (%s)\n", act.Policy, act.ClaimID, act.FromStatus, act.ToStatus, act.Reason)
				}
			})
		},
	}
	run.Flags().StringVar(&clubID, "club", "", "restrict to one club")
	run.Flags().BoolVar(&apply, "apply", false, "apply the proposed transitions")
	run.Flags().IntVar(&staleAfter, "stale-after-days", 0, "enable stale-outdate with this age threshold")

	cmd.AddCommand(run)
	return cmd
}

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Show the resolved configuration and where each value came from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.jsonOut {
				return a.emit(cmd.OutOrStdout(), a.cfg, nil)
			}
			data, err := yaml.Marshal(a.cfg)
			if err != nil {
				return fmt.Errorf("encoding config: %w", err)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintln(w, "# precedence: cli > env > config > default")
			fmt.Fprint(w, string(data))
			return nil
		},
	}

	cmd.AddCommand(show)
	return cmd
}

func newMCPCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the operator tools over MCP (stdio)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			srv := mcp.NewServer(mcp.ServerConfig{
				Store:            st,
				Version:          strings.TrimPrefix(version, "v"),
				Workers:          a.cfg.WorkerCount(),
				SummaryLength:    a.cfg.SummaryMaxLen(),
				SuggestThreshold: a.cfg.Threshold(),
			})
			return mcp.ServeStdio(srv)
		},
	}
}

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show registry row counts and database size",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			stats, err := st.Stats(a.context(cmd))
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), stats, func(w io.Writer) {
				fmt.Fprintf(w, "Clubs:           %s\n", humanize.Comma(stats.ClubCount))
				fmt.Fprintf(w, "Sources:         %s\n", humanize.Comma(stats.SourceCount))
				fmt.Fprintf(w, "Evidence chunks: %s\n", humanize.Comma(stats.EvidenceCount))
				fmt.Fprintf(w, "Claims:          %s\n", humanize.Comma(stats.ClaimCount))
				fmt.Fprintf(w, "Evidence links:  %s\n", humanize.Comma(stats.LinkCount))
				fmt.Fprintf(w, "History entries: %s\n", humanize.Comma(stats.HistoryCount))
				fmt.Fprintf(w, "Database size:   %s\n", humanize.Bytes(uint64(stats.DBSizeBytes)))
			})
		},
	}
}
