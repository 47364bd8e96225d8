package compare

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func instructions(choices ...Choice) []MergeInstruction {
	out := make([]MergeInstruction, len(choices))
	for i, c := range choices {
		out[i] = MergeInstruction{PairIndex: i, Choice: c}
	}
	return out
}

func TestValidateInstructionsAcceptsAnyOrder(t *testing.T) {
	err := ValidateInstructions(3, []MergeInstruction{
		{PairIndex: 2, Choice: ChoiceSkip},
		{PairIndex: 0, Choice: ChoiceA},
		{PairIndex: 1, Choice: ChoiceBoth},
	})
	assert.NoError(t, err)
	assert.NoError(t, ValidateInstructions(0, nil))
}

func TestValidateInstructionsRejects(t *testing.T) {
	cases := []struct {
		name      string
		count     int
		input     []MergeInstruction
		pairIndex int
	}{
		{"too few", 3, instructions(ChoiceA, ChoiceB), -1},
		{"too many", 1, instructions(ChoiceA, ChoiceB), -1},
		{"duplicate", 3, []MergeInstruction{{0, ChoiceA}, {0, ChoiceB}, {1, ChoiceA}}, 0},
		{"out of range", 2, []MergeInstruction{{0, ChoiceA}, {2, ChoiceB}}, 2},
		{"negative", 2, []MergeInstruction{{-1, ChoiceA}, {1, ChoiceB}}, -1},
		{"bad choice", 2, []MergeInstruction{{0, ChoiceA}, {1, Choice("neither")}}, 1},
		{"empty choice", 1, []MergeInstruction{{0, ""}}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateInstructions(tc.count, tc.input)
			require.Error(t, err)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tc.pairIndex, verr.PairIndex)
		})
	}
}

func TestChoiceValid(t *testing.T) {
	for _, c := range []Choice{ChoiceA, ChoiceB, ChoiceBoth, ChoiceSkip} {
		assert.True(t, c.Valid(), string(c))
	}
	assert.False(t, Choice("A").Valid())
}
