package video

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAtempoChain(t *testing.T) {
	tests := []struct {
		name     string
		tempo    float64
		expected []string
	}{
		{name: "unity", tempo: 1.0, expected: nil},
		{name: "near unity", tempo: 1.0005, expected: nil},
		{name: "in range speedup", tempo: 1.5, expected: []string{"atempo=1.50000"}},
		{name: "in range slowdown", tempo: 0.75, expected: []string{"atempo=0.75000"}},
		{name: "above range", tempo: 3.0, expected: []string{"atempo=2.0", "atempo=1.50000"}},
		{name: "far above range", tempo: 5.0, expected: []string{"atempo=2.0", "atempo=2.0", "atempo=1.25000"}},
		{name: "below range", tempo: 0.3, expected: []string{"atempo=0.5", "atempo=0.60000"}},
		{name: "exactly two", tempo: 2.0, expected: []string{"atempo=2.00000"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, atempoChain(tt.tempo))
		})
	}
}

// every stage must stay inside the filter's supported range and the product
// of the stages must reproduce the requested tempo
func TestAtempoChainStagesMultiplyOut(t *testing.T) {
	for _, tempo := range []float64{0.1, 0.3, 0.49, 0.5, 0.8, 1.0, 1.9, 2.0, 2.1, 4.7, 10.0} {
		product := 1.0
		for _, filter := range atempoChain(tempo) {
			value, err := strconv.ParseFloat(strings.TrimPrefix(filter, "atempo="), 64)
			require.NoError(t, err)
			require.GreaterOrEqual(t, value, 0.5, "stage out of range for tempo %f", tempo)
			require.LessOrEqual(t, value, 2.0, "stage out of range for tempo %f", tempo)
			product *= value
		}
		require.InDelta(t, tempo, product, 0.01, "stages do not multiply out for tempo %f", tempo)
	}
}
