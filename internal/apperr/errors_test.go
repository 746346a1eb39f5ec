package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "direct kind", err: New(KindValidation, "bad input"), want: KindValidation},
		{name: "wrapped cause", err: Wrap(errors.New("boom"), KindUnavailable, "store down"), want: KindUnavailable},
		{name: "fmt-wrapped error", err: fmt.Errorf("outer: %w", NotFound("gone")), want: KindNotFound},
		{name: "plain error", err: errors.New("anonymous"), want: KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestIsKind(t *testing.T) {
	err := Extraction("model not loaded")
	if !IsKind(err, KindExtraction) {
		t.Error("expected extraction kind to match")
	}
	if IsKind(err, KindTimeout) {
		t.Error("unexpected timeout kind match")
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(cause, KindUnavailable, "qdrant unreachable")

	if !errors.Is(err, cause) {
		t.Error("wrapped cause lost")
	}
	if msg := err.Error(); msg != "unavailable: qdrant unreachable: connection refused" {
		t.Errorf("unexpected message: %q", msg)
	}
}

func TestErrorWithoutCause(t *testing.T) {
	err := Validation("limit must be positive")
	if err.Unwrap() != nil {
		t.Error("expected nil cause")
	}
	if msg := err.Error(); msg != "validation: limit must be positive" {
		t.Errorf("unexpected message: %q", msg)
	}
}
