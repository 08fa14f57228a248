package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hurttlocker/canon/internal/ingest"
	"github.com/hurttlocker/canon/internal/store"
)

func newClubCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "club",
		Short: "Create and list clubs",
	}

	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a club with the default category table",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			club, err := st.CreateClub(a.context(cmd), strings.Join(args, " "))
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), club, func(w io.Writer) {
				fmt.Fprintf(w, "Created club %s (%s)\n", club.Name, club.ID)
			})
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List clubs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			clubs, err := st.ListClubs(a.context(cmd))
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), clubs, func(w io.Writer) {
				if len(clubs) == 0 {
					fmt.Fprintln(w, "No clubs.")
					return
				}
				for _, c := range clubs {
					fmt.Fprintf(w, "%s  %s\n", c.ID, c.Name)
				}
			})
		},
	}

	cmd.AddCommand(create, list)
	return cmd
}

type sourceFlags struct {
	clubID string
	title  string
	uri    string
	dryRun bool
}

func (f *sourceFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.clubID, "club", "", "club id (required)")
	cmd.Flags().StringVar(&f.title, "title", "", "source title")
	cmd.Flags().StringVar(&f.uri, "uri", "", "source URI")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "chunk and hash without writing")
	_ = cmd.MarkFlagRequired("club")
}

func (f *sourceFlags) options() ingest.Options {
	return ingest.Options{Title: f.title, URI: f.uri, DryRun: f.dryRun}
}

func newSourceCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "source",
		Short: "Register source material as evidence chunks",
	}

	var pasteFlags sourceFlags
	var pasteFile string
	paste := &cobra.Command{
		Use:   "paste [text...]",
		Short: "Register pasted text, one chunk per paragraph",
		Long: `Register pasted text as a paste source. The text comes from the arguments,
from --file, or from stdin when neither is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			if text == "" {
				data, err := readInput(cmd, pasteFile)
				if err != nil {
					return err
				}
				text = string(data)
			}
			st, err := a.openStore()
			if err != nil {
				return err
			}
			res, err := ingest.NewEngine(st).RegisterPaste(a.context(cmd), pasteFlags.clubID, text, pasteFlags.options())
			if err != nil {
				return err
			}
			return a.printSource(cmd.OutOrStdout(), res)
		},
	}
	pasteFlags.bind(paste)
	paste.Flags().StringVar(&pasteFile, "file", "", "read text from file (- for stdin)")

	var sheetFlags sourceFlags
	sheet := &cobra.Command{
		Use:   "sheet <path>",
		Short: "Register a spreadsheet export (.xlsx, .xlsm, .csv, .tsv), one chunk per row",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			res, err := ingest.NewEngine(st).RegisterFile(a.context(cmd), sheetFlags.clubID, args[0], sheetFlags.options())
			if err != nil {
				return err
			}
			return a.printSource(cmd.OutOrStdout(), res)
		},
	}
	sheetFlags.bind(sheet)

	var textFlags sourceFlags
	var ocr bool
	text := &cobra.Command{
		Use:   "text <path>",
		Short: "Register a text file, one chunk per paragraph",
		Long: `Register a text file as a file source. With --ocr the text is treated as
the output of an OCR step over a photo and stored as ocr_text chunks of a
photo source.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			eng := ingest.NewEngine(st)
			var res *ingest.Result
			if ocr {
				data, rerr := readInput(cmd, args[0])
				if rerr != nil {
					return rerr
				}
				opts := textFlags.options()
				if opts.Title == "" && args[0] != "-" {
					opts.Title = args[0]
				}
				res, err = eng.RegisterOCRText(a.context(cmd), textFlags.clubID, string(data), opts)
			} else {
				res, err = eng.RegisterFile(a.context(cmd), textFlags.clubID, args[0], textFlags.options())
			}
			if err != nil {
				return err
			}
			return a.printSource(cmd.OutOrStdout(), res)
		},
	}
	textFlags.bind(text)
	text.Flags().BoolVar(&ocr, "ocr", false, "store as OCR text of a photo")

	list := &cobra.Command{
		Use:   "chunks <source-id>",
		Short: "List the evidence chunks of a source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			chunks, err := st.ListSourceChunks(a.context(cmd), args[0])
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), chunks, func(w io.Writer) {
				printChunks(w, chunks)
			})
		},
	}

	cmd.AddCommand(paste, sheet, text, list)
	return cmd
}

func (a *app) printSource(w io.Writer, res *ingest.Result) error {
	return a.emit(w, res, func(w io.Writer) {
		if res.Source.ID != "" {
			fmt.Fprintf(w, "Source %s (%s) %q\n", res.Source.ID, res.Source.Type, res.Source.Title)
		} else {
			fmt.Fprintf(w, "Dry run: %s source %q\n", res.Source.Type, res.Source.Title)
		}
		fmt.Fprintf(w, "  chunks: %d new, %d existing\n", res.ChunksNew, res.ChunksExisting)
		printChunks(w, res.Chunks)
	})
}

func printChunks(w io.Writer, chunks []*store.EvidenceChunk) {
	for _, c := range chunks {
		id := c.ID
		if id == "" {
			id = c.ContentHash[:12]
		}
		fmt.Fprintf(w, "  %s  [%s] %s\n", id, c.Kind, truncate(c.Text, 70))
	}
}
