package video

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormatTime(t *testing.T) {
	tests := []struct {
		seconds  float64
		expected string
	}{
		{0, "00:00:00.000"},
		{1.5, "00:00:01.500"},
		{59.999, "00:00:59.999"},
		{60, "00:01:00.000"},
		{3599.25, "00:59:59.250"},
		{3600, "01:00:00.000"},
		{7322.5, "02:02:02.500"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.expected, formatTime(tt.seconds))
	}
}

func TestClampTime(t *testing.T) {
	require.Equal(t, 0.0, clampTime(-5, 100))
	require.Equal(t, 0.0, clampTime(0, 100))
	require.Equal(t, 50.0, clampTime(50, 100))
	require.Equal(t, 100.0, clampTime(100, 100))
	require.Equal(t, 100.0, clampTime(250, 100))
}
