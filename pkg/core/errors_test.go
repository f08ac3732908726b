package core

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_IsMatchesByCode(t *testing.T) {
	err := NewError(CodeUnexpectedExit, "worker %s died", "w1")

	if !errors.Is(err, ErrUnexpectedExit) {
		t.Error("errors.Is should match on code")
	}
	if errors.Is(err, ErrWorkerRuntimeError) {
		t.Error("errors.Is should not match a different code")
	}

	wrapped := fmt.Errorf("offload: %w", err)
	if !errors.Is(wrapped, ErrUnexpectedExit) {
		t.Error("errors.Is should see through fmt wrapping")
	}
	if got := CodeOf(wrapped); got != CodeUnexpectedExit {
		t.Errorf("CodeOf() = %q, want %q", got, CodeUnexpectedExit)
	}
}

func TestWrapError(t *testing.T) {
	cause := errors.New("boom")
	err := WrapError(CodeSpawnFailure, cause, "entry %q", "upper")

	if !errors.Is(err, cause) {
		t.Error("cause should remain in the chain")
	}
	if !strings.Contains(err.Error(), "boom") || !strings.Contains(err.Error(), CodeSpawnFailure) {
		t.Errorf("Error() = %q", err.Error())
	}
	if CodeOf(errors.New("plain")) != "" {
		t.Error("CodeOf() of a plain error should be empty")
	}
}

func TestNewID(t *testing.T) {
	a, b := NewID("worker"), NewID("worker")
	if a == b {
		t.Fatal("ids should be unique")
	}
	if !strings.HasPrefix(a, "worker.") {
		t.Errorf("NewID() = %q, want worker. prefix", a)
	}
	if strings.Contains(NewID(""), ".") {
		t.Error("empty kind should produce a bare uuid")
	}
}
