package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tobbstr/pipeline"
)

const testManifest = `
name: deposit
transactional: true
input:
  type: object
  required: [account, amount]
steps:
  - name: book
    exec: INSERT INTO ledger (account, amount) VALUES (?, ?)
    args: [account, amount]
  - name: balance
    set:
      booked: "true"
  - name: limit
    fail_if: amount > 100
    reason: over limit
`

const testInit = `CREATE TABLE IF NOT EXISTS ledger (account TEXT NOT NULL, amount REAL NOT NULL);`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// ─── run ──────────────────────────────────────────────────────────────────────

func TestRunManifest_Success(t *testing.T) {
	path := writeFile(t, "deposit.yaml", testManifest)
	opts := runOptions{
		dbPath:    ":memory:",
		initSQL:   writeFile(t, "init.sql", testInit),
		input:     `{"account": "acme", "amount": 40}`,
		logLevel:  "debug",
		logFormat: "json",
		runID:     "run-7",
	}

	var stdout, stderr bytes.Buffer
	if err := runManifest(context.Background(), path, opts, &stdout, &stderr); err != nil {
		t.Fatalf("runManifest: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal output %q: %v", stdout.String(), err)
	}
	if got["booked"] != true || got["account"] != "acme" {
		t.Errorf("unexpected output %v", got)
	}
	if !strings.Contains(stderr.String(), `"run_id":"run-7"`) {
		t.Errorf("expected run ID in logs, got:\n%s", stderr.String())
	}
}

func TestRunManifest_Failure(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ledger.db")
	path := writeFile(t, "deposit.yaml", testManifest)
	opts := runOptions{
		dbPath:    dbPath,
		initSQL:   writeFile(t, "init.sql", testInit),
		input:     `{"account": "acme", "amount": 400}`,
		logLevel:  "info",
		logFormat: "text",
	}

	var stdout, stderr bytes.Buffer
	err := runManifest(context.Background(), path, opts, &stdout, &stderr)

	var failed *failedError
	if !errors.As(err, &failed) {
		t.Fatalf("expected *failedError, got %v", err)
	}
	if !strings.Contains(err.Error(), "over limit") {
		t.Errorf("expected reason in error, got %v", err)
	}

	db, err := openDB(dbPath, "")
	if err != nil {
		t.Fatalf("openDB: %v", err)
	}
	defer db.Close()
	var n int
	if err := db.QueryRow(`SELECT count(*) FROM ledger`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Errorf("expected the booking to be rolled back, found %d rows", n)
	}
}

func TestRunManifest_InvalidInput(t *testing.T) {
	path := writeFile(t, "deposit.yaml", testManifest)
	opts := runOptions{
		dbPath:    ":memory:",
		initSQL:   writeFile(t, "init.sql", testInit),
		input:     `{"account": "acme"}`,
		logLevel:  "info",
		logFormat: "text",
	}

	err := runManifest(context.Background(), path, opts, &bytes.Buffer{}, &bytes.Buffer{})
	var verr *pipeline.ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("expected *pipeline.ValidationError, got %v", err)
	}
}

func TestReadInput(t *testing.T) {
	t.Run("parses inline JSON", func(t *testing.T) {
		raw, err := readInput(runOptions{input: `{"a": 1}`})
		if err != nil {
			t.Fatalf("readInput: %v", err)
		}
		if raw["a"] != 1.0 {
			t.Errorf("a = %v, want 1", raw["a"])
		}
	})

	t.Run("prefers the input file", func(t *testing.T) {
		file := writeFile(t, "input.json", `{"b": "x"}`)
		raw, err := readInput(runOptions{input: `{"a": 1}`, inputFile: file})
		if err != nil {
			t.Fatalf("readInput: %v", err)
		}
		if _, ok := raw["a"]; ok || raw["b"] != "x" {
			t.Errorf("unexpected input %v", raw)
		}
	})

	t.Run("treats null as empty", func(t *testing.T) {
		raw, err := readInput(runOptions{input: `null`})
		if err != nil || raw == nil {
			t.Errorf("expected empty input, got %v %v", raw, err)
		}
	})

	t.Run("rejects invalid JSON", func(t *testing.T) {
		if _, err := readInput(runOptions{input: `{`}); err == nil {
			t.Fatal("expected error")
		}
	})
}

// ─── lint ─────────────────────────────────────────────────────────────────────

func TestLintCmd(t *testing.T) {
	t.Run("accepts a valid manifest", func(t *testing.T) {
		cmd := rootCmd()
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetArgs([]string{"lint", writeFile(t, "deposit.yaml", testManifest)})

		if err := cmd.Execute(); err != nil {
			t.Fatalf("lint: %v", err)
		}
		if !strings.Contains(out.String(), `OK: pipeline "deposit" is valid (3 steps)`) {
			t.Errorf("unexpected output %q", out.String())
		}
	})

	t.Run("reports invalid manifests", func(t *testing.T) {
		cmd := rootCmd()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs([]string{"lint", writeFile(t, "bad.yaml", "name: bad\nsteps: [{name: a}]")})

		if err := cmd.Execute(); err == nil {
			t.Fatal("expected lint error")
		}
	})
}

// ─── newLogger ────────────────────────────────────────────────────────────────

func TestNewLogger(t *testing.T) {
	for _, lvl := range []string{"debug", "info", "warn", "error", "DEBUG", "INFO"} {
		if _, err := newLogger(lvl, "text", &bytes.Buffer{}); err != nil {
			t.Errorf("newLogger(%q, text): unexpected error: %v", lvl, err)
		}
	}
	for _, format := range []string{"text", "json", "TEXT", "JSON"} {
		if _, err := newLogger("info", format, &bytes.Buffer{}); err != nil {
			t.Errorf("newLogger(info, %q): unexpected error: %v", format, err)
		}
	}
	if _, err := newLogger("verbose", "text", &bytes.Buffer{}); err == nil {
		t.Error("expected error for invalid level")
	}
	if _, err := newLogger("info", "xml", &bytes.Buffer{}); err == nil {
		t.Error("expected error for invalid format")
	}
}
