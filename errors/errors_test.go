package errors

import (
	"fmt"
	"testing"
)

func TestError(t *testing.T) {
	// Test basic error creation
	err := New(ErrCodeWrongState, "wrong state")
	if err.Code != ErrCodeWrongState {
		t.Errorf("expected code %s, got %s", ErrCodeWrongState, err.Code)
	}

	// Test error wrapping
	cause := fmt.Errorf("underlying error")
	wrapped := Wrap(cause, ErrCodeCommandFailed, "command failed")

	if wrapped.Unwrap() != cause {
		t.Error("Unwrap should return the cause")
	}

	if !Is(wrapped, ErrCodeCommandFailed) {
		t.Error("Is should return true for matching code")
	}

	if Is(wrapped, ErrCodeNotReady) {
		t.Error("Is should return false for non-matching code")
	}

	// Coded errors are found through fmt wrapping
	outer := fmt.Errorf("start: %w", wrapped)
	if GetCode(outer) != ErrCodeCommandFailed {
		t.Errorf("expected code %s through wrapping, got %s", ErrCodeCommandFailed, GetCode(outer))
	}

	detailed := err.WithDetail("slot", "Alice").WithDetail("port", 38281)
	if detailed.Details["slot"] != "Alice" {
		t.Error("WithDetail should add details")
	}
}

func TestUserMessage(t *testing.T) {
	if got := UserMessage(nil); got != "" {
		t.Errorf("UserMessage(nil) = %q, want empty", got)
	}

	if got := UserMessage(NotReady([]string{"Host"})); got != "Not everyone has uploaded their YAML yet." {
		t.Errorf("UserMessage(NotReady) = %q", got)
	}

	if got := UserMessage(fmt.Errorf("open /secret/path: permission denied")); got != "An internal error occurred." {
		t.Errorf("UserMessage should hide uncoded errors, got %q", got)
	}
}

func TestErrorConstructors(t *testing.T) {
	err := GenerationFailed("bad config", fmt.Errorf("exit status 1"))
	if err.Code != ErrCodeGenerationFailed {
		t.Errorf("expected code %s, got %s", ErrCodeGenerationFailed, err.Code)
	}
	if err.Message != "Game generation failed: bad config" {
		t.Errorf("unexpected message %q", err.Message)
	}
	if err.Details["stderr"] != "bad config" {
		t.Error("GenerationFailed should include stderr detail")
	}

	err = SlotTaken("Bob")
	if err.Code != ErrCodeSlotTaken {
		t.Errorf("expected code %s, got %s", ErrCodeSlotTaken, err.Code)
	}
	if err.Details["slot"] != "Bob" {
		t.Error("SlotTaken should include slot detail")
	}

	if NotHost("start").Message != "Only the host can start the session." {
		t.Error("NotHost should name the operation")
	}
}
