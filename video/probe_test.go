package video

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseFps(t *testing.T) {
	tests := []struct {
		name      string
		framerate string
		expected  float64
		expectErr bool
	}{
		{name: "empty", framerate: "", expected: 0},
		{name: "plain number", framerate: "30", expected: 30},
		{name: "rational", framerate: "30000/1001", expected: 29.97002997002997},
		{name: "whole rational", framerate: "25/1", expected: 25},
		{name: "zero over zero", framerate: "0/0", expected: 0},
		{name: "zero denominator", framerate: "30/0", expectErr: true},
		{name: "garbage", framerate: "abc", expectErr: true},
		{name: "garbage numerator", framerate: "abc/25", expectErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fps, err := parseFps(tt.framerate)
			if tt.expectErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.InDelta(t, tt.expected, fps, 0.0001)
		})
	}
}
