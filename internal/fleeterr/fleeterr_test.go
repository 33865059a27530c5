package fleeterr

import (
	"errors"
	"testing"
)

func TestIsMatchesKind(t *testing.T) {
	err := New(KindNotFound, "op", errors.New("missing"))
	if !Is(err, KindNotFound) {
		t.Fatalf("expected KindNotFound, got %v", err)
	}
	if Is(err, KindConfig) {
		t.Fatalf("expected Is to reject the wrong kind")
	}
}

func TestIsFalseForPlainError(t *testing.T) {
	if Is(errors.New("plain"), KindNotFound) {
		t.Fatalf("plain error should never match a Kind")
	}
}

func TestErrorUnwraps(t *testing.T) {
	inner := errors.New("boom")
	err := New(KindCommandFailed, "cmdrunner.Run", inner)
	if !errors.Is(err, inner) {
		t.Fatalf("expected errors.Is to find the wrapped error")
	}
}
