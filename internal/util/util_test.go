package util

import (
	"strings"
	"testing"
)

func TestNewIDUsesPrefix(t *testing.T) {
	id := NewID("ms")
	if !strings.HasPrefix(id, "ms_") {
		t.Fatalf("expected ms_ prefix, got %q", id)
	}
	if len(id) != len("ms_")+32 {
		t.Fatalf("unexpected id length %d for %q", len(id), id)
	}
	if strings.Contains(id, "-") {
		t.Fatalf("expected dashes stripped, got %q", id)
	}
}

func TestNewIDIsUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		id := NewID("")
		if _, ok := seen[id]; ok {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = struct{}{}
	}
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	logger, err := NewLogger("nonsense")
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	if logger.Core().Enabled(-1) {
		t.Fatal("expected debug to be disabled at info level")
	}
	if !logger.Core().Enabled(0) {
		t.Fatal("expected info to be enabled")
	}
}
