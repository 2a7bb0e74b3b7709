package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestWrapKeepsTypedCode(t *testing.T) {
	inner := InsufficientFunds("remaining 10.00 < 20.00")
	wrapped := Wrap(fmt.Errorf("debit: %w", inner), ErrCodeInternal, "failed")

	if got := CodeOf(wrapped); got != ErrCodeInsufficientFunds {
		t.Errorf("expected %s, got %s", ErrCodeInsufficientFunds, got)
	}
}

func TestWrapUntyped(t *testing.T) {
	base := stderrors.New("connection reset")
	err := Wrap(base, ErrCodeTransactionFailure, "commit failed")

	if !Is(err, ErrCodeTransactionFailure) {
		t.Fatalf("expected TRANSACTION_FAILURE, got %s", CodeOf(err))
	}
	if !stderrors.Is(err, base) {
		t.Error("expected wrapped error to unwrap to base")
	}
	if Wrap(nil, ErrCodeInternal, "x") != nil {
		t.Error("expected nil for nil input")
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{New(ErrCodeTimeout, "lock wait"), true},
		{New(ErrCodeTransactionFailure, "deadlock"), true},
		{Conflict("duplicate"), false},
		{InvalidInput("amount", "must be positive"), false},
		{stderrors.New("plain"), false},
	}
	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestErrorString(t *testing.T) {
	err := InvalidInput("total_amount", "must be positive")
	if err.Error() != "INVALID_INPUT: total_amount: must be positive" {
		t.Errorf("unexpected message %q", err.Error())
	}
	if CodeOf(nil) != "" {
		t.Error("expected empty code for nil")
	}
}
