package handlers

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vidmod/vidmod-api/jobs"
)

func TestStatusOf(t *testing.T) {
	job := &jobs.Job{
		ID:         "abc12345",
		Stage:      jobs.StageCompleted,
		Progress:   100,
		OutputPath: "/tmp/jobs/abc12345/blur_1000.mp4",
		FramePaths: []string{"f1.png", "f2.png"},
	}

	status := statusOf(job)
	require.Equal(t, "abc12345", status.JobID)
	require.Equal(t, jobs.StageCompleted, status.Stage)
	require.Equal(t, 2, status.FrameCount)
	require.True(t, status.HasOutput)
	require.Equal(t, "/api/download/abc12345", status.DownloadPath)
	require.Equal(t, "/api/preview/abc12345/frame/0", status.PreviewURL)

	fresh := statusOf(&jobs.Job{ID: "def67890", Stage: jobs.StageExtractingFrames})
	require.False(t, fresh.HasOutput)
	require.Equal(t, "/api/download/def67890", fresh.DownloadPath, "the source video is downloadable before any edit")
}
