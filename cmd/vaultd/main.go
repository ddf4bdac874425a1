// Package main is the bootstrap binary for vaultd: it loads
// configuration for a vault, opens an Engine, and dispatches one of
// its programmatic operations (serve, reindex, search, find-similar,
// stats, validate-links, heal-links, rollback) as a CLI subcommand. It
// is a thin shell around pkg/engine — the CLI surface itself carries no
// engine logic of its own, so this binary does no more than wire flags
// to Engine calls and translate errors into the documented exit codes.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pkm-agent/vaultd/internal/config"
	vaulterrors "github.com/pkm-agent/vaultd/internal/errors"
	"github.com/pkm-agent/vaultd/internal/link"
	"github.com/pkm-agent/vaultd/internal/logging"
	"github.com/pkm-agent/vaultd/internal/search"
	"github.com/pkm-agent/vaultd/internal/store"
	"github.com/pkm-agent/vaultd/pkg/engine"
)

// Exit codes returned by run(), distinguishing config and lock-contention
// failures from everything else a caller might want to script against.
const (
	exitOK            = 0
	exitUnrecoverable = 1
	exitConfigInvalid = 2
	exitLockHeld      = 3
)

var (
	vaultRoot string
	dataDir   string
	logLevel  string
)

func main() {
	os.Exit(run())
}

func run() int {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		return exitCodeFor(err)
	}
	return exitOK
}

func exitCodeFor(err error) int {
	var ve *vaulterrors.VaultError
	if errors.As(err, &ve) {
		switch ve.Category {
		case vaulterrors.CategoryConfig:
			return exitConfigInvalid
		case vaulterrors.CategoryOwnership:
			return exitLockHeld
		}
	}
	return exitUnrecoverable
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "vaultd",
		Short:         "Local-first PKM indexing and retrieval engine",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVar(&vaultRoot, "vault", "", "path to the notes vault (required)")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "path to the engine's data directory (default: <vault>/.pkm-agent)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	cmd.AddCommand(
		newServeCmd(),
		newReindexCmd(),
		newSearchCmd(),
		newFindSimilarCmd(),
		newStatsCmd(),
		newValidateLinksCmd(),
		newHealLinksCmd(),
		newRollbackCmd(),
	)
	return cmd
}

// loadConfig resolves vault/data-dir flags into a validated Config. A
// validation failure is a Config-category error (exit code 2).
func loadConfig() (*config.Config, error) {
	if vaultRoot == "" {
		return nil, vaulterrors.ConfigError("--vault is required", nil)
	}
	cfg, err := config.Load(vaultRoot)
	if err != nil {
		return nil, vaulterrors.ConfigError(err.Error(), err)
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
		if verr := cfg.Validate(); verr != nil {
			return nil, vaulterrors.ConfigError(verr.Error(), verr)
		}
	}
	return cfg, nil
}

// newLogger sets up the rotating-file JSON logger (tee'd to stderr) that
// every subcommand threads into the engine via constructor injection;
// the returned cleanup flushes and closes the log file and must run
// before the process exits.
func newLogger() (*slog.Logger, func(), error) {
	cfg := logging.DefaultConfig()
	cfg.Level = logLevel
	return logging.Setup(cfg)
}

// openEngine is the shared bootstrap path for every subcommand: load and
// validate config, acquire the data-directory lock, run an initial
// reconciliation pass, and start the watcher. The returned cleanup
// closes the log file and must run after the engine itself is closed.
func openEngine(ctx context.Context) (*engine.Engine, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, func() {}, err
	}
	log, logCleanup, err := newLogger()
	if err != nil {
		return nil, func() {}, fmt.Errorf("vaultd: set up logging: %w", err)
	}
	e, err := engine.Open(ctx, cfg, log)
	if err != nil {
		logCleanup()
		return nil, func() {}, err
	}
	return e, logCleanup, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newServeCmd runs the engine until interrupted: the default long-
// running mode, keeping the watcher active so the indices stay in
// sync with the vault on disk.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the engine and keep the vault indexed until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			e, logCleanup, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer logCleanup()
			defer e.Close()

			fmt.Fprintln(os.Stderr, "vaultd: ready, watching for changes (ctrl-c to stop)")
			<-ctx.Done()
			return nil
		},
	}
}

func newReindexCmd() *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Run a full reconciliation pass and report added/updated/deleted counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, logCleanup, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer logCleanup()
			defer e.Close()

			result, err := e.Reindex(ctx, full)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "vaultd: reindex stage=%s progress=%.0f%%\n",
				e.ReindexProgress().Stage, e.ReindexProgress().ProgressPct)
			return printJSON(result)
		},
	}
	cmd.Flags().BoolVar(&full, "full", true, "run a full scan rather than relying on incremental state")
	return cmd
}

func newSearchCmd() *cobra.Command {
	var k int
	var tag, noteFilter string
	var bm25Only bool
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Hybrid lexical+semantic search over the vault",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, logCleanup, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer logCleanup()
			defer e.Close()

			results, err := e.Search(ctx, args[0], k, search.Options{
				Filter:   store.VectorFilter{Tag: tag, NoteID: noteFilter},
				BM25Only: bm25Only,
			})
			if err != nil {
				return err
			}
			return printJSON(results)
		},
	}
	cmd.Flags().IntVar(&k, "k", 10, "maximum number of results")
	cmd.Flags().StringVar(&tag, "tag", "", "restrict semantic candidates to this tag")
	cmd.Flags().StringVar(&noteFilter, "note-id", "", "restrict semantic candidates to this note")
	cmd.Flags().BoolVar(&bm25Only, "bm25-only", false, "skip semantic search, keyword only")
	return cmd
}

func newFindSimilarCmd() *cobra.Command {
	var k int
	cmd := &cobra.Command{
		Use:   "find-similar <note-id>",
		Short: "Find notes semantically similar to the given note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, logCleanup, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer logCleanup()
			defer e.Close()

			results, err := e.FindSimilar(ctx, args[0], k)
			if err != nil {
				return err
			}
			return printJSON(results)
		},
	}
	cmd.Flags().IntVar(&k, "k", 10, "maximum number of results")
	return cmd
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Report note/tag/link/vector/cache/audit statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, logCleanup, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer logCleanup()
			defer e.Close()

			stats, err := e.Stats(ctx)
			if err != nil {
				return err
			}
			return printJSON(stats)
		},
	}
}

func newValidateLinksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-links",
		Short: "Classify every link in the vault as valid or broken",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, logCleanup, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer logCleanup()
			defer e.Close()

			result, err := e.ValidateLinks(ctx)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
}

func newHealLinksCmd() *cobra.Command {
	var minConfidence float64
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "heal-links",
		Short: "Repair broken links whose best fuzzy match clears the confidence threshold",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, logCleanup, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer logCleanup()
			defer e.Close()

			results, err := e.HealLinks(ctx, minConfidence, dryRun)
			if err != nil {
				return err
			}
			return printJSON(results)
		},
	}
	cmd.Flags().Float64Var(&minConfidence, "min-confidence", link.DefaultMinConfidence, "minimum suggestion score to apply a fix")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "simulate without writing any files")
	return cmd
}

func newRollbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <op-id>",
		Short: "Reverse the mutation recorded by an audit entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, logCleanup, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer logCleanup()
			defer e.Close()

			if err := e.Rollback(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "rolled back %s\n", args[0])
			return nil
		},
	}
}
