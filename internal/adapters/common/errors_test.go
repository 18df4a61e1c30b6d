package common

import (
	"errors"
	"strings"
	"testing"
)

func TestWrapTransient(t *testing.T) {
	base := errors.New("temporary failure")
	wrapped := WrapTransient(base)

	if !errors.Is(wrapped, ErrTransient) {
		t.Fatalf("expected wrapped error to be transient: %v", wrapped)
	}
	if !errors.Is(wrapped, base) {
		t.Fatalf("expected wrapped error to keep the original in its chain")
	}
	if !strings.Contains(wrapped.Error(), base.Error()) {
		t.Fatalf("expected wrapped error message to include original message")
	}
}

func TestWrapPermanent(t *testing.T) {
	base := errors.New("invalid recipient")
	wrapped := WrapPermanent(base)

	if !errors.Is(wrapped, ErrPermanent) {
		t.Fatalf("expected wrapped error to be permanent: %v", wrapped)
	}
	if errors.Is(wrapped, ErrTransient) {
		t.Fatalf("permanent error must not be reported as transient")
	}
}

func TestWrapNil(t *testing.T) {
	if !errors.Is(WrapTransient(nil), ErrTransient) {
		t.Fatalf("expected nil transient wrap to fall back to ErrTransient")
	}
	if !errors.Is(WrapPermanent(nil), ErrPermanent) {
		t.Fatalf("expected nil permanent wrap to fall back to ErrPermanent")
	}
}

func TestClassification(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{err: WrapPermanent(errors.New("535")), want: "permanent"},
		{err: WrapTransient(errors.New("timeout")), want: "transient"},
		{err: errors.New("plain"), want: "unknown"},
		{err: nil, want: "unknown"},
	}
	for _, tc := range tests {
		if got := Classification(tc.err); got != tc.want {
			t.Fatalf("Classification(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}

func TestTruncateReply(t *testing.T) {
	reply := "こんにちは世界"

	if got := TruncateReply(reply, 10); got != reply {
		t.Fatalf("expected reply unchanged when under limit, got %q", got)
	}
	if got := TruncateReply(reply, 3); got != "こんに" {
		t.Fatalf("expected rune-safe truncation, got %q", got)
	}
	if got := TruncateReply(reply, 0); got != "" {
		t.Fatalf("expected empty string for non-positive limit, got %q", got)
	}
}
