package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vidmod/vidmod-api/clients"
	"github.com/vidmod/vidmod-api/config"
	"github.com/vidmod/vidmod-api/jobs"
	"github.com/vidmod/vidmod-api/video"
)

func testCoordinator(t *testing.T, cli *config.Cli) (*Coordinator, *jobs.Store) {
	t.Helper()
	if cli == nil {
		cli = &config.Cli{}
	}
	if cli.StorageDir == "" {
		cli.StorageDir = t.TempDir()
	}
	store, err := jobs.NewStore(cli.StorageDir, nil)
	require.NoError(t, err)
	return NewCoordinator(cli, store, nil, video.Probe{}, nil, nil, nil, nil), store
}

func TestCensorAudioRejectsUnknownVoice(t *testing.T) {
	c, _ := testCoordinator(t, nil)

	_, err := c.CensorAudio(context.Background(), "abc12345", CensorAudioParams{
		Mode:  CensorModeDub,
		Voice: "robot",
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "voice")
}

func TestApplyReplacements(t *testing.T) {
	matches := []clients.ProfanityMatch{
		{Word: "Damn", StartTime: 1.0, EndTime: 1.4, Replacement: "drat"},
		{Word: "hell", StartTime: 5.0, EndTime: 5.5, Replacement: "heck"},
	}

	got := applyReplacements(matches, map[string]string{"damn": "darn"})
	require.Equal(t, "darn", got[0].Replacement, "lookup must be case-insensitive")
	require.Equal(t, "heck", got[1].Replacement, "unmapped words keep the analyzer's suggestion")

	// the input slice is left alone
	require.Equal(t, "drat", matches[0].Replacement)

	same := applyReplacements(matches, nil)
	require.Equal(t, matches, same)
}

func TestCloneSampleWindow(t *testing.T) {
	tests := []struct {
		name         string
		duration     float64
		start, end   float64
		wantS, wantE float64
	}{
		{name: "explicit window", duration: 60, start: 5, end: 17, wantS: 5, wantE: 17},
		{name: "no window defaults to first 30s", duration: 60, wantS: 0, wantE: 30},
		{name: "short video caps the default", duration: 12, wantS: 0, wantE: 12},
		{name: "end clamped to duration", duration: 20, start: 5, end: 45, wantS: 5, wantE: 20},
		{name: "inverted window falls back to default", duration: 60, start: 17, end: 5, wantS: 0, wantE: 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := cloneSampleWindow(tt.duration, tt.start, tt.end)
			require.Equal(t, tt.wantS, start)
			require.Equal(t, tt.wantE, end)
		})
	}
}

func TestPresetVoice(t *testing.T) {
	c, _ := testCoordinator(t, &config.Cli{VoiceMale: "voice-m", VoiceFemale: "voice-f"})
	require.Equal(t, "voice-m", c.presetVoice(VoicePresetMale))
	require.Equal(t, "voice-f", c.presetVoice(VoicePresetFemale))
	require.Equal(t, "voice-f", c.presetVoice(""), "female is the default preset")

	maleOnly, _ := testCoordinator(t, &config.Cli{VoiceMale: "voice-m"})
	require.Equal(t, "voice-m", maleOnly.presetVoice(""))
}
