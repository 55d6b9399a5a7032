package pipeline

import (
	"errors"
	"testing"
)

func TestResult(t *testing.T) {
	t.Run("success holds a value", func(t *testing.T) {
		r := Success(42)

		if !r.IsSuccess() || r.IsFailure() {
			t.Fatalf("expected success, got %v", r)
		}
		if v, ok := r.Get(); !ok || v != 42 {
			t.Errorf("expected (42, true), got (%d, %v)", v, ok)
		}
		if r.Reason() != nil {
			t.Errorf("expected nil reason, got %v", r.Reason())
		}
		if r.Err() != nil {
			t.Errorf("expected nil error, got %v", r.Err())
		}
	})

	t.Run("failure holds a reason", func(t *testing.T) {
		r := Failure[int]("out of stock")

		if !r.IsFailure() || r.IsSuccess() {
			t.Fatalf("expected failure, got %v", r)
		}
		if v, ok := r.Get(); ok || v != 0 {
			t.Errorf("expected (0, false), got (%d, %v)", v, ok)
		}
		if r.Reason() != "out of stock" {
			t.Errorf("expected reason 'out of stock', got %v", r.Reason())
		}
	})

	t.Run("zero value is neither success nor failure", func(t *testing.T) {
		var r Result[string]

		if r.IsSuccess() || r.IsFailure() || r.valid() {
			t.Errorf("expected unset result, got %v", r)
		}
	})

	t.Run("success may hold a zero value", func(t *testing.T) {
		r := Success[error](nil)
		if !r.IsSuccess() {
			t.Errorf("expected success, got %v", r)
		}
	})

	t.Run("formats variants", func(t *testing.T) {
		tests := []struct {
			r    Result[int]
			want string
		}{
			{Success(7), "Success(7)"},
			{Failure[int]("nope"), "Failure(nope)"},
			{Result[int]{}, "Result(<unset>)"},
		}
		for _, tt := range tests {
			if got := tt.r.String(); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		}
	})
}

func TestResult_Err(t *testing.T) {
	t.Run("wraps error reasons", func(t *testing.T) {
		reason := errors.New("card declined")
		err := Failure[int](reason).Err()

		if !errors.Is(err, reason) {
			t.Errorf("expected err to wrap %v", reason)
		}
		var fe *FailureError
		if !errors.As(err, &fe) || fe.Reason != reason {
			t.Errorf("expected *FailureError holding the reason, got %v", err)
		}
	})

	t.Run("formats non-error reasons", func(t *testing.T) {
		err := Failure[int](404).Err()
		if err.Error() != "404" {
			t.Errorf("expected '404', got %q", err.Error())
		}
		if errors.Unwrap(err) != nil {
			t.Errorf("expected nothing to unwrap, got %v", errors.Unwrap(err))
		}
	})
}

func TestFailureAs(t *testing.T) {
	type outOfStock struct{ SKU string }

	t.Run("returns typed reason", func(t *testing.T) {
		r := Failure[int](outOfStock{SKU: "A-1"})

		reason, ok := FailureAs[outOfStock](r)
		if !ok || reason.SKU != "A-1" {
			t.Errorf("expected outOfStock{A-1}, got %v %v", reason, ok)
		}
	})

	t.Run("rejects other reason types", func(t *testing.T) {
		if _, ok := FailureAs[outOfStock](Failure[int]("A-1")); ok {
			t.Error("expected false for string reason")
		}
	})

	t.Run("rejects success", func(t *testing.T) {
		if _, ok := FailureAs[string](Success(1)); ok {
			t.Error("expected false for success")
		}
	})
}

func TestNarrow(t *testing.T) {
	t.Run("narrows success values", func(t *testing.T) {
		r, ok := narrow[int](Success[any](3))
		if !ok || r.Value() != 3 {
			t.Errorf("expected Success(3), got %v %v", r, ok)
		}
	})

	t.Run("keeps failures", func(t *testing.T) {
		r, ok := narrow[int](Failure[any]("bad"))
		if !ok || r.Reason() != "bad" {
			t.Errorf("expected Failure(bad), got %v %v", r, ok)
		}
	})

	t.Run("rejects values of another type", func(t *testing.T) {
		if _, ok := narrow[int](Success[any]("3")); ok {
			t.Error("expected narrowing a string to int to fail")
		}
	})

	t.Run("accepts nil for nillable types", func(t *testing.T) {
		r, ok := narrow[[]int](Success[any](nil))
		if !ok || r.Value() != nil {
			t.Errorf("expected Success(nil), got %v %v", r, ok)
		}
	})
}
