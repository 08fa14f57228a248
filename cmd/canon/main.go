package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hurttlocker/canon/internal/config"
	errs "github.com/hurttlocker/canon/internal/errors"
	"github.com/hurttlocker/canon/internal/logging"
	"github.com/hurttlocker/canon/internal/store"
)

var version = "0.1.0-dev"

// Exit codes by error kind.
const (
	exitError      = 1
	exitValidation = 2
	exitNotFound   = 3
	exitConflict   = 4
)

func main() {
	if err := execute(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case errs.IsValidationError(err):
		return exitValidation
	case errs.IsNotFound(err):
		return exitNotFound
	case errs.IsConflict(err):
		return exitConflict
	}
	return exitError
}

// app carries the global flags and the lazily opened store of one invocation.
type app struct {
	configPath string
	dbPath     string
	logLevel   string
	logFormat  string
	workers    string
	jsonOut    bool

	cfg config.ResolvedConfig
	st  store.Store
}

// execute runs one invocation and closes the store however the command ends.
func execute(args []string, in io.Reader, out io.Writer) error {
	a := &app{}
	defer a.close()

	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetIn(in)
	root.SetOut(out)
	return root.Execute()
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "canon",
		Short: "Canon - club requirement claim registry",
		Long: `Canon turns extracted requirement statements from club sources (sheets,
pastes, OCR text) into a deduplicated registry of canonical claims.

Every claim keeps its evidence links and an append-only history. Operators
review claims, edit them, merge and split them, and read the registry as a
category by club matrix.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.resolve()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file (default: ~/.canon/config.yaml)")
	pf.StringVar(&a.dbPath, "db", "", "database path (default: ~/.canon/canon.db)")
	pf.StringVar(&a.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	pf.StringVar(&a.logFormat, "log-format", "", "log format: json, console, auto")
	pf.StringVar(&a.workers, "workers", "", "reconcile concurrency")
	pf.BoolVar(&a.jsonOut, "json", false, "print results as JSON")

	root.AddCommand(
		newVersionCmd(),
		newClubCmd(a),
		newSourceCmd(a),
		newReconcileCmd(a),
		newClaimsCmd(a),
		newClaimCmd(a),
		newMergeCmd(a),
		newSplitCmd(a),
		newMatrixCmd(a),
		newSuggestCmd(a),
		newLifecycleCmd(a),
		newConfigCmd(a),
		newStatsCmd(a),
		newMCPCmd(a),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "canon %s\n", version)
		},
	}
}

// resolve merges config file, environment and flags, then configures logging.
func (a *app) resolve() error {
	cfg, err := config.ResolveConfig(config.ResolveOptions{
		ConfigPath:   a.configPath,
		CLIDBPath:    a.dbPath,
		CLILogLevel:  a.logLevel,
		CLILogFormat: a.logFormat,
		CLIWorkers:   a.workers,
	})
	if err != nil {
		return err
	}
	a.cfg = cfg
	logging.Configure(logging.Config{Level: cfg.LogLevel.Value, Format: cfg.LogFormat.Value})
	return nil
}

// openStore opens the database on first use.
func (a *app) openStore() (store.Store, error) {
	if a.st != nil {
		return a.st, nil
	}
	st, err := store.NewStore(store.StoreConfig{DBPath: a.cfg.DBPath.Value})
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	a.st = st
	return st, nil
}

func (a *app) close() error {
	if a.st == nil {
		return nil
	}
	err := a.st.Close()
	a.st = nil
	return err
}

func (a *app) context(cmd *cobra.Command) context.Context {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return logging.WithLogger(ctx, logging.Default())
}

// emit prints v as JSON under --json, otherwise calls human.
func (a *app) emit(w io.Writer, v interface{}, human func(io.Writer)) error {
	if a.jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	human(w)
	return nil
}

// readInput reads path, or stdin when path is "-" or empty.
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
