package pipeline

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vidmod/vidmod-api/clients"
	"github.com/vidmod/vidmod-api/config"
	"github.com/vidmod/vidmod-api/jobs"
	"github.com/vidmod/vidmod-api/video"
)

type fakeAnalyzer struct {
	matches      []clients.ProfanityMatch
	alternatives []string

	audioWords [][]string
	suggested  []string
}

func (f *fakeAnalyzer) AnalyzeVideo(jobID, videoPath string) (clients.VideoAnalysis, error) {
	return clients.VideoAnalysis{}, nil
}

func (f *fakeAnalyzer) AnalyzeAudio(jobID, videoPath string, customWords []string) ([]clients.ProfanityMatch, error) {
	f.audioWords = append(f.audioWords, customWords)
	return f.matches, nil
}

func (f *fakeAnalyzer) AnalyzeRegion(jobID, framePath string, box clients.BoxPct) (clients.RegionAnalysis, error) {
	return clients.RegionAnalysis{}, nil
}

func (f *fakeAnalyzer) SuggestAlternatives(jobID, word string, approxDuration float64, n int) ([]string, error) {
	f.suggested = append(f.suggested, word)
	return f.alternatives, nil
}

func (f *fakeAnalyzer) SimplifyPrompt(jobID, complex string) (string, error) {
	return complex, nil
}

func TestSuggestReplacements(t *testing.T) {
	cli := &config.Cli{StorageDir: t.TempDir()}
	store, err := jobs.NewStore(cli.StorageDir, nil)
	require.NoError(t, err)
	analyzer := &fakeAnalyzer{
		matches:      []clients.ProfanityMatch{{Word: "Damn", StartTime: 2.0, EndTime: 2.8}},
		alternatives: []string{"darn", "dang"},
	}
	c := NewCoordinator(cli, store, nil, video.Probe{}, nil, nil, nil, analyzer)

	job, err := store.Create(".mp4", false)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(job.SourceVideoPath, []byte("video"), 0644))

	got, err := c.SuggestReplacements(context.Background(), job.ID, []string{"damn", "heck"})
	require.NoError(t, err)
	require.Len(t, got, 2)

	require.Equal(t, "damn", got[0].Original)
	require.InDelta(t, 0.8, got[0].Duration, 0.001, "duration comes from the measured envelope")
	require.Equal(t, []string{"darn", "dang"}, got[0].Alternatives)

	require.Equal(t, "heck", got[1].Original)
	require.Equal(t, defaultWordSeconds, got[1].Duration, "untimed words get the fallback envelope")

	require.Equal(t, [][]string{{"damn", "heck"}}, analyzer.audioWords, "the analyzer times the requested words")
	require.Equal(t, []string{"damn", "heck"}, analyzer.suggested)
}

func TestSuggestReplacementsRequiresWords(t *testing.T) {
	c, _ := testCoordinator(t, nil)
	_, err := c.SuggestReplacements(context.Background(), "abc12345", nil)
	require.Error(t, err)
}

func TestWordDurations(t *testing.T) {
	durations := wordDurations([]clients.ProfanityMatch{
		{Word: "Damn", StartTime: 1.0, EndTime: 1.4},
		{Word: "damn", StartTime: 9.0, EndTime: 9.9},
		{Word: "hell", StartTime: 5.0, EndTime: 5.5},
	})
	require.InDelta(t, 0.4, durations["damn"], 0.001, "the first envelope per word wins")
	require.InDelta(t, 0.5, durations["hell"], 0.001)
	require.Len(t, durations, 2)
}
