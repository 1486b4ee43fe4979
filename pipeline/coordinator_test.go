package pipeline

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vidmod/vidmod-api/jobs"
)

func TestFinishExtractionCompletesIdleJob(t *testing.T) {
	c, store := testCoordinator(t, nil)
	job, err := store.Create(".mp4", false)
	require.NoError(t, err)
	job.Stage = jobs.StageExtractingFrames
	require.NoError(t, store.Update(job))

	audioPath := filepath.Join(job.Dir, "audio.m4a")
	c.finishExtraction(job, true, audioPath)

	require.Equal(t, jobs.StageCompleted, job.Stage)
	require.Equal(t, 100, job.Progress)
	require.Equal(t, audioPath, job.AudioPath)
}

func TestFinishExtractionKeepsEditStage(t *testing.T) {
	c, store := testCoordinator(t, nil)
	job, err := store.Create(".mp4", false)
	require.NoError(t, err)

	// an edit took over the job while extraction was still running
	job.Stage = jobs.StageEditing
	job.Progress = 40
	require.NoError(t, store.Update(job))

	audioPath := filepath.Join(job.Dir, "audio.m4a")
	c.finishExtraction(job, true, audioPath)

	require.Equal(t, jobs.StageEditing, job.Stage, "a late extraction must not clobber the edit's stage")
	require.Equal(t, 40, job.Progress)
	require.Equal(t, audioPath, job.AudioPath, "the extracted audio is still recorded")
}
