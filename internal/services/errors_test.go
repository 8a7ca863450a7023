package services

import (
	"errors"
	"testing"
)

func TestWrapTagsMarker(t *testing.T) {
	err := Wrap(ErrSchemaMismatch, "tableio", "write", "unknown column body", nil)
	if !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("expected schema mismatch marker, got %v", err)
	}
	want := "schema mismatch: tableio: write: unknown column body"
	if err.Error() != want {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

func TestWrapDefaultsToExecution(t *testing.T) {
	err := Wrap(nil, "engine", "run", "", errors.New("boom"))
	if !errors.Is(err, ErrExecution) {
		t.Fatalf("expected execution marker, got %v", err)
	}
}

func TestIsFatalBeforeExecution(t *testing.T) {
	if !IsFatalBeforeExecution(Wrap(ErrConfiguration, "dag", "build", "cycle", nil)) {
		t.Fatal("configuration errors abort before execution")
	}
	if IsFatalBeforeExecution(Wrap(ErrExecution, "model", "run", "", nil)) {
		t.Fatal("execution errors are not pre-execution fatal")
	}
}
