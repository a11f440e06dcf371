package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_Error(t *testing.T) {
	err := New(ErrCategoryBackend, CodeDriverFailure, "insert failed")
	expected := "[BACKEND:DRIVER_FAILURE] insert failed"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestError_ErrorWithDetailsAndCause(t *testing.T) {
	cause := fmt.Errorf("UNIQUE constraint failed: people._id")
	err := Wrap(ErrCategoryBackend, CodeConstraintViolation, "insert failed", cause).
		WithDetails(`{"_id":"abc123"}`)
	expected := `[BACKEND:CONSTRAINT_VIOLATION] insert failed: {"_id":"abc123"} (UNIQUE constraint failed: people._id)`
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := Wrap(ErrCategoryBackend, CodeDriverFailure, "conflict", cause)
	if !errors.Is(err, cause) {
		t.Error("Unwrap should allow errors.Is to find the cause")
	}
}

func TestError_Is(t *testing.T) {
	err1 := New(ErrCategoryConfiguration, CodeUnsupportedOperator, "first")
	err2 := New(ErrCategoryConfiguration, CodeUnsupportedOperator, "second")
	err3 := New(ErrCategoryConfiguration, CodeMalformedNode, "different code")

	if !errors.Is(err1, err2) {
		t.Error("errors with same category+code should match via Is")
	}
	if errors.Is(err1, err3) {
		t.Error("errors with different codes should not match via Is")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		category  ErrorCategory
		code      string
		retryable bool
	}{
		{ErrCategoryBackend, CodeDriverFailure, true},
		{ErrCategoryBackend, CodeConstraintViolation, false},
		{ErrCategoryConfiguration, CodeUnsupportedOperator, false},
		{ErrCategoryType, CodeNonNumericIncrement, false},
		{ErrCategoryInvariant, CodeUnreachable, false},
	}

	for _, tt := range tests {
		err := New(tt.category, tt.code, "test")
		if IsRetryable(err) != tt.retryable {
			t.Errorf("%s:%s retryable=%v, want %v", tt.category, tt.code, IsRetryable(err), tt.retryable)
		}
	}
}

func TestWithRetryable(t *testing.T) {
	err := New(ErrCategoryBackend, CodeDriverFailure, "locked").WithRetryable(false)
	if IsRetryable(err) {
		t.Error("WithRetryable(false) should override the default classification")
	}
}

func TestGetCategory(t *testing.T) {
	err := New(ErrCategoryType, CodeNonNumericIncrement, "bad $inc")
	if GetCategory(err) != ErrCategoryType {
		t.Errorf("got %q, want %q", GetCategory(err), ErrCategoryType)
	}
	if GetCategory(fmt.Errorf("plain error")) != "" {
		t.Error("non-Error should return empty category")
	}
}

func TestGetCode(t *testing.T) {
	err := New(ErrCategoryType, CodeNonNumericIncrement, "bad $inc")
	if GetCode(err) != CodeNonNumericIncrement {
		t.Errorf("got %q, want %q", GetCode(err), CodeNonNumericIncrement)
	}
	if GetCode(fmt.Errorf("plain error")) != "" {
		t.Error("non-Error should return empty code")
	}
}

func TestWithDetailsDoesNotMutateOriginal(t *testing.T) {
	err := New(ErrCategoryConfiguration, CodeMalformedNode, "bad node")
	detailed := err.WithDetails(`{"$foo":1}`)

	if detailed.Details != `{"$foo":1}` {
		t.Error("WithDetails should set details on the copy")
	}
	if err.Details != "" {
		t.Error("WithDetails should not modify the original")
	}
}

func TestConvenienceConstructors(t *testing.T) {
	cause := fmt.Errorf("io error")

	c := Configuration(CodeUnsupportedOperator, "$foo is not supported")
	if c.Category != ErrCategoryConfiguration {
		t.Error("Configuration mismatch")
	}

	ty := TypeMismatch(CodeNonNumericIncrement, "$inc requires a number")
	if ty.Category != ErrCategoryType {
		t.Error("TypeMismatch mismatch")
	}

	b := Backend(CodeDriverFailure, "disk I/O error", cause)
	if b.Category != ErrCategoryBackend || !errors.Is(b, cause) {
		t.Error("Backend mismatch")
	}

	i := Invariant(CodeUnreachable, "should never happen")
	if i.Category != ErrCategoryInvariant {
		t.Error("Invariant mismatch")
	}
}
