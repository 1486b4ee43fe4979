package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vidmod/vidmod-api/clients"
	"github.com/vidmod/vidmod-api/config"
	"github.com/vidmod/vidmod-api/jobs"
	"github.com/vidmod/vidmod-api/video"
)

func TestMaskFilename(t *testing.T) {
	tests := []struct {
		name   string
		prompt string
		clip   bool
	}{
		{name: "simple prompt", prompt: "beer can"},
		{name: "clip variant keyed separately", prompt: "beer can", clip: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := maskFilename(tt.prompt, tt.clip)
			require.True(t, strings.HasPrefix(got, "mask_beer_can_"), "got %q", got)
			require.Equal(t, tt.clip, strings.HasSuffix(got, "_clip.mp4"))
		})
	}
}

func TestMaskFilenameDeterministic(t *testing.T) {
	first := maskFilename("the license plate", false)
	second := maskFilename("the license plate", false)
	require.Equal(t, first, second)

	// case and surrounding whitespace do not change the key
	require.Equal(t, first, maskFilename("  The License PLATE ", false))
}

func TestMaskFilenameDistinctPrompts(t *testing.T) {
	a := maskFilename("red car", false)
	b := maskFilename("blue car", false)
	require.NotEqual(t, a, b)

	// same slug after truncation must still differ via the hash
	long1 := maskFilename("a very long prompt describing one thing", false)
	long2 := maskFilename("a very long prompt describing another thing", false)
	require.NotEqual(t, long1, long2)
}

func TestMaskFilenameSlugRules(t *testing.T) {
	got := maskFilename("Guy's  \"neon\" sign!!", false)
	require.True(t, strings.HasPrefix(got, "mask_guy_s_neon_sign_"), "got %q", got)
	require.NotContains(t, got, "__")
	require.NotContains(t, got, "!")
	require.NotContains(t, got, "\"")

	// slug is capped, filename stays bounded
	long := maskFilename(strings.Repeat("extremely descriptive prompt ", 20), false)
	require.Less(t, len(long), 45)
	require.True(t, strings.HasSuffix(long, ".mp4"))
}

type countingSegmenter struct {
	calls int
}

func (s *countingSegmenter) Segment(jobID string, req clients.SegmentRequest) (clients.SegmentResult, error) {
	s.calls++
	return clients.SegmentResult{MaskVideoURL: "https://segmenter.example.com/mask.mp4"}, nil
}

func TestEnsureMaskCacheHitSkipsSegmentation(t *testing.T) {
	cli := &config.Cli{StorageDir: t.TempDir()}
	store, err := jobs.NewStore(cli.StorageDir, nil)
	require.NoError(t, err)
	segmenter := &countingSegmenter{}
	c := NewCoordinator(cli, store, nil, video.Probe{}, segmenter, nil, nil, nil)

	job, err := store.Create(".mp4", false)
	require.NoError(t, err)
	maskPath := filepath.Join(job.Dir, maskFilename("beer can", false))
	require.NoError(t, os.WriteFile(maskPath, []byte("mask"), 0644))

	got, err := c.ensureMask(context.Background(), job, job.SourceVideoPath, "beer can", false)
	require.NoError(t, err)
	require.Equal(t, maskPath, got)
	require.Zero(t, segmenter.calls, "a cached mask must not reach the segmenter")

	// the same prompt in different casing hits the same cache entry
	got, err = c.ensureMask(context.Background(), job, job.SourceVideoPath, "  Beer CAN ", false)
	require.NoError(t, err)
	require.Equal(t, maskPath, got)
	require.Zero(t, segmenter.calls)
}
