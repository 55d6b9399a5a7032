package txsql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/tobbstr/pipeline"

	_ "modernc.org/sqlite"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec(`CREATE TABLE ledger (entry TEXT NOT NULL)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	return db
}

func entries(t *testing.T, db *sql.DB) []string {
	t.Helper()
	rows, err := db.Query(`SELECT entry FROM ledger ORDER BY rowid`)
	if err != nil {
		t.Fatalf("query ledger: %v", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var e string
		if err := rows.Scan(&e); err != nil {
			t.Fatalf("scan ledger: %v", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("iterate ledger: %v", err)
	}
	return out
}

func record(db *sql.DB, label string) pipeline.Step {
	return pipeline.TypedStep(func(ctx context.Context, x int) pipeline.Result[int] {
		if _, err := Executor(ctx, db).ExecContext(ctx, `INSERT INTO ledger (entry) VALUES (?)`, fmt.Sprintf("%s:%d", label, x)); err != nil {
			return pipeline.Failure[int](err)
		}
		return pipeline.Success(x)
	})
}

func rejectNegative(ctx context.Context, x int) pipeline.Result[int] {
	if x < 0 {
		return pipeline.Failure[int]("negative")
	}
	return pipeline.Success(x)
}

func TestTransactor(t *testing.T) {
	t.Run("commits on success", func(t *testing.T) {
		db := newTestDB(t)
		def := pipeline.Define[int, int]("book").
			Step("record", record(db, "book")).
			Step("reject negative", pipeline.TypedStep(rejectNegative)).
			Build()

		res, err := def.New(3, pipeline.WithTransactor(New(db))).Call(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Value() != 3 {
			t.Errorf("expected Success(3), got %v", res)
		}
		if got := entries(t, db); len(got) != 1 || got[0] != "book:3" {
			t.Errorf("expected [book:3], got %v", got)
		}
	})

	t.Run("rolls back on failure", func(t *testing.T) {
		db := newTestDB(t)
		def := pipeline.Define[int, int]("book").
			Step("record", record(db, "book")).
			Step("reject negative", pipeline.TypedStep(rejectNegative)).
			Build()

		res, err := def.New(-3, pipeline.WithTransactor(New(db))).Call(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Reason() != "negative" {
			t.Errorf("expected Failure(negative), got %v", res)
		}
		if got := entries(t, db); len(got) != 0 {
			t.Errorf("expected empty ledger, got %v", got)
		}
	})

	t.Run("writes directly without a transaction", func(t *testing.T) {
		db := newTestDB(t)
		def := pipeline.Define[int, int]("book").
			Step("record", record(db, "book")).
			Step("reject negative", pipeline.TypedStep(rejectNegative)).
			Build()

		if _, err := def.New(-3).Call(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := entries(t, db); len(got) != 1 {
			t.Errorf("expected the write to persist, got %v", got)
		}
	})

	t.Run("rolls back and re-panics when a step panics", func(t *testing.T) {
		db := newTestDB(t)
		def := pipeline.Define[int, int]("book").
			Step("record", record(db, "book")).
			Step("explode", pipeline.TypedStep(func(ctx context.Context, x int) pipeline.Result[int] {
				panic("boom")
			})).
			Build()

		func() {
			defer func() {
				if r := recover(); r != "boom" {
					t.Errorf("expected panic 'boom', got %v", r)
				}
			}()
			def.New(1, pipeline.WithTransactor(New(db))).Call(context.Background())
		}()

		if got := entries(t, db); len(got) != 0 {
			t.Errorf("expected empty ledger, got %v", got)
		}
	})

	t.Run("returns errors from fn unchanged after rolling back", func(t *testing.T) {
		db := newTestDB(t)
		boom := errors.New("boom")

		err := New(db).InTransaction(context.Background(), func(ctx context.Context) error {
			if _, err := Executor(ctx, db).ExecContext(ctx, `INSERT INTO ledger (entry) VALUES ('x')`); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Errorf("expected boom, got %v", err)
		}
		if got := entries(t, db); len(got) != 0 {
			t.Errorf("expected empty ledger, got %v", got)
		}
	})
}

func TestTransactor_Nested(t *testing.T) {
	db := newTestDB(t)
	tx := New(db)

	inner := pipeline.Define[int, int]("inner").
		Step("record", record(db, "inner")).
		Step("reject negative", pipeline.TypedStep(rejectNegative)).
		Build()

	outer := pipeline.Define[int, int]("outer").
		Step("record", record(db, "outer")).
		Step("try inner", pipeline.TypedStep(func(ctx context.Context, x int) pipeline.Result[int] {
			// A failing inner call is tolerated here.
			if _, err := inner.New(x, pipeline.WithTransactor(tx)).Call(ctx); err != nil {
				return pipeline.Failure[int](err)
			}
			return pipeline.Success(x)
		})).
		Build()

	t.Run("inner failure undoes only inner writes", func(t *testing.T) {
		res, err := outer.New(-1, pipeline.WithTransactor(tx)).Call(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !res.IsSuccess() {
			t.Fatalf("expected success, got %v", res)
		}
		if got := entries(t, db); len(got) != 1 || got[0] != "outer:-1" {
			t.Errorf("expected [outer:-1], got %v", got)
		}
	})

	t.Run("inner success is committed with the outer transaction", func(t *testing.T) {
		if _, err := outer.New(2, pipeline.WithTransactor(tx)).Call(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got := entries(t, db)
		if len(got) != 3 || got[1] != "outer:2" || got[2] != "inner:2" {
			t.Errorf("expected [outer:-1 outer:2 inner:2], got %v", got)
		}
	})
}

func TestExecutor(t *testing.T) {
	db := newTestDB(t)

	if q := Executor(context.Background(), db); q != Querier(db) {
		t.Errorf("expected the database outside a transaction, got %T", q)
	}

	err := New(db).InTransaction(context.Background(), func(ctx context.Context) error {
		if _, ok := Executor(ctx, db).(*sql.Tx); !ok {
			t.Errorf("expected *sql.Tx inside a transaction")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
