package compare

import (
	"fmt"
	"strings"
)

// ValidateInstructions checks that instructions cover every pair index 0..pairCount-1 exactly
// once with a known choice. It runs before a merge writes anything.
func ValidateInstructions(pairCount int, instructions []MergeInstruction) error {
	if len(instructions) != pairCount {
		return &ValidationError{
			PairIndex: -1,
			Message:   fmt.Sprintf("expected %d instructions, got %d", pairCount, len(instructions)),
		}
	}

	seen := make(map[int]struct{}, len(instructions))
	for _, inst := range instructions {
		if inst.PairIndex < 0 || inst.PairIndex >= pairCount {
			return &ValidationError{PairIndex: inst.PairIndex, Message: "pair index out of range"}
		}
		if _, dup := seen[inst.PairIndex]; dup {
			return &ValidationError{PairIndex: inst.PairIndex, Message: "duplicate pair index"}
		}
		seen[inst.PairIndex] = struct{}{}
		if !inst.Choice.Valid() {
			return &ValidationError{PairIndex: inst.PairIndex, Message: fmt.Sprintf("invalid choice %q", inst.Choice)}
		}
	}
	return nil
}

func validateTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return &ValidationError{PairIndex: -1, Message: "merged title is required"}
	}
	return nil
}
