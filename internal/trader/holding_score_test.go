package trader

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHoldingScore_AnchorValues(t *testing.T) {
	testCases := []struct {
		sellScore int
		expected  int
	}{
		{0, 80},
		{10, 70},
		{19, 61},
		{20, 60},
		{30, 50},
		{39, 41},
		{40, 40},
		{45, 35},
		{59, 21},
		{60, 20},
		{61, 20}, // integer halving within the top segment
		{62, 19},
		{80, 10},
		{100, 0},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.expected, HoldingScore(tc.sellScore), "sell score %d", tc.sellScore)
	}
}

func TestHoldingScore_SegmentBoundariesStepDown(t *testing.T) {
	// The boundary steps are deliberately larger than one point: a holding
	// crossing into a weaker segment loses more attractiveness than the
	// one-point change in sell score alone would suggest.
	assert.Greater(t, HoldingScore(19)-HoldingScore(20), 0)
	assert.Greater(t, HoldingScore(39)-HoldingScore(40), 0)
	assert.Greater(t, HoldingScore(59)-HoldingScore(60), 0)
}

func TestHoldingScore_NonIncreasingWithinSegments(t *testing.T) {
	segments := [][2]int{{0, 19}, {20, 39}, {40, 59}, {60, 100}}
	for _, seg := range segments {
		for s := seg[0] + 1; s <= seg[1]; s++ {
			assert.LessOrEqual(t, HoldingScore(s), HoldingScore(s-1),
				"holding score must not increase from sell score %d to %d", s-1, s)
		}
	}
}

func TestHoldingScore_ClampsOutOfRangeInput(t *testing.T) {
	assert.Equal(t, 80, HoldingScore(-5))
	assert.Equal(t, 0, HoldingScore(150))
}
