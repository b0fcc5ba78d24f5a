package chunker

import (
	"errors"
	"testing"
)

func TestTokenCounter_UnsupportedModel(t *testing.T) {
	tc := NewTokenCounter("gpt-4", map[string]string{})
	_, err := tc.Count("hello world", "gpt-4")
	if !errors.Is(err, ErrUnsupportedModel) {
		t.Fatalf("expected ErrUnsupportedModel, got %v", err)
	}
}

func TestTokenCounter_DefaultModelFallback(t *testing.T) {
	tc := NewTokenCounter("gpt-4", map[string]string{})
	_, err := tc.Count("hello world", "")
	if !errors.Is(err, ErrUnsupportedModel) {
		t.Fatalf("expected ErrUnsupportedModel for unresolved default model, got %v", err)
	}
}
