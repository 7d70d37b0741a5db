package protocol

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestIsKnownCode(t *testing.T) {
	cases := []string{
		"",
		ErrCodeUnknownOperation,
		ErrCodeValidation,
		ErrCodeNotFound,
		ErrCodePersistence,
		ErrCodeIncompatibleSave,
		ErrCodeInternal,
	}
	for _, c := range cases {
		if !IsKnownCode(c) {
			t.Fatalf("expected known code: %q", c)
		}
	}
	if IsKnownCode("E_NOT_DEFINED") {
		t.Fatalf("expected unknown code rejected")
	}
}

func TestError_KindAndCauseBothMatch(t *testing.T) {
	err := Persistence("write snapshot", io.ErrShortWrite)
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if !errors.Is(err, io.ErrShortWrite) {
		t.Fatalf("expected cause to match, got %v", err)
	}
	wrapped := fmt.Errorf("save: %w", err)
	if got := CodeOf(wrapped); got != ErrCodePersistence {
		t.Fatalf("code: got %q want %q", got, ErrCodePersistence)
	}
}

func TestCodeOf(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{UnknownOperation("world", "fly"), ErrCodeUnknownOperation},
		{Validation("missing %s", "room"), ErrCodeValidation},
		{NotFound("item %s", "lamp"), ErrCodeNotFound},
		{IncompatibleSave("content changed"), ErrCodeIncompatibleSave},
		{fmt.Errorf("x: %w", ErrNotFound), ErrCodeNotFound},
		{errors.New("boom"), ErrCodeInternal},
	}
	for _, tc := range cases {
		if got := CodeOf(tc.err); got != tc.want {
			t.Errorf("CodeOf(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
