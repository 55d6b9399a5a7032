package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tobbstr/pipeline"
	"github.com/tobbstr/pipeline/internal/manifest"
	"github.com/tobbstr/pipeline/observe"
	"github.com/tobbstr/pipeline/txsql"

	_ "modernc.org/sqlite"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "pipectl",
		Short: "pipectl runs YAML pipeline manifests",
		Long: `pipectl builds a pipeline from a YAML manifest and runs it against a SQLite database.

Each step of a manifest sets state values, rejects the input, or executes SQL.
The first rejection stops the pipeline and, for transactional manifests,
rolls back every statement the run executed.`,
		SilenceUsage: true,
	}
	root.AddCommand(runCmd())
	root.AddCommand(lintCmd())
	return root
}

// ─── run ──────────────────────────────────────────────────────────────────────

type runOptions struct {
	dbPath    string
	initSQL   string
	input     string
	inputFile string
	logLevel  string
	logFormat string
	runID     string
}

func runCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run <manifest.yaml>",
		Short: "Run a pipeline manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runManifest(cmd.Context(), args[0], opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVar(&opts.dbPath, "db", ":memory:", "SQLite database used by exec steps")
	cmd.Flags().StringVar(&opts.initSQL, "init", "", "SQL file executed before the run (optional)")
	cmd.Flags().StringVar(&opts.input, "input", "{}", "pipeline input as a JSON object")
	cmd.Flags().StringVar(&opts.inputFile, "input-file", "", "read the pipeline input from a JSON file")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&opts.logFormat, "log-format", "text", "log format (text, json)")
	cmd.Flags().StringVar(&opts.runID, "run-id", "", "run ID reported in logs (generated if empty)")
	return cmd
}

// ─── lint ─────────────────────────────────────────────────────────────────────

func lintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lint <manifest.yaml>",
		Short: "Validate a pipeline manifest without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := manifest.Load(args[0])
			if err != nil {
				return err
			}
			if err := m.Validate(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "OK: pipeline %q is valid (%d steps)\n", m.Name, len(m.Steps))
			return nil
		},
	}
}

// ─── helpers ─────────────────────────────────────────────────────────────────

// failedError is returned when the pipeline ran and ended in a Failure.
type failedError struct {
	reason any
}

func (e *failedError) Error() string {
	return fmt.Sprintf("pipeline failed: %v", e.reason)
}

func runManifest(ctx context.Context, path string, opts runOptions, stdout, stderr io.Writer) error {
	logger, err := newLogger(opts.logLevel, opts.logFormat, stderr)
	if err != nil {
		return err
	}

	m, err := manifest.Load(path)
	if err != nil {
		return err
	}

	raw, err := readInput(opts)
	if err != nil {
		return err
	}

	db, err := openDB(opts.dbPath, opts.initSQL)
	if err != nil {
		return err
	}
	defer db.Close()

	def, err := m.Build(manifest.Env{
		DB:        db,
		Logger:    logger,
		Observers: []pipeline.Observer{observe.NewLogger(logger)},
	})
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}

	var callOpts []pipeline.Option
	if m.Transactional {
		callOpts = append(callOpts, pipeline.WithTransactor(txsql.New(db)))
	}
	if opts.runID != "" {
		callOpts = append(callOpts, pipeline.WithRunID(pipeline.RunID(opts.runID)))
	}

	var inst *pipeline.Instance[manifest.State, manifest.State]
	if m.Input != nil {
		if inst, err = def.Construct(raw, callOpts...); err != nil {
			return err
		}
	} else {
		inst = def.New(raw, callOpts...)
	}

	res, err := inst.Call(ctx)
	if err != nil {
		return err
	}
	if res.IsFailure() {
		return &failedError{reason: res.Reason()}
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res.Value())
}

func readInput(opts runOptions) (map[string]any, error) {
	src := []byte(opts.input)
	if opts.inputFile != "" {
		data, err := os.ReadFile(opts.inputFile)
		if err != nil {
			return nil, fmt.Errorf("read input file: %w", err)
		}
		src = data
	}

	var raw map[string]any
	if err := json.Unmarshal(src, &raw); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

func openDB(path, initSQL string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Limit to one open connection so :memory: databases keep their tables.
	db.SetMaxOpenConns(1)

	if initSQL != "" {
		stmts, err := os.ReadFile(initSQL)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("read init sql: %w", err)
		}
		if _, err := db.Exec(string(stmts)); err != nil {
			db.Close()
			return nil, fmt.Errorf("init sql: %w", err)
		}
	}
	return db, nil
}

func newLogger(level, format string, w io.Writer) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}
