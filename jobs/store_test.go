package jobs

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"github.com/vidmod/vidmod-api/metrics"
	"github.com/vidmod/vidmod-api/video"
)

func TestCreateJob(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	job, err := store.Create(".mp4", false)
	require.NoError(t, err)
	require.Len(t, job.ID, 8)
	require.NotContains(t, job.ID, "-")
	require.DirExists(t, job.Dir)
	require.Equal(t, filepath.Join(job.Dir, "input.mp4"), job.SourceVideoPath)
	require.Equal(t, StageInitialized, job.Stage)

	// extension without a leading dot is normalized
	job2, err := store.Create("mov", false)
	require.NoError(t, err)
	require.Equal(t, "input.mov", filepath.Base(job2.SourceVideoPath))
	require.NotEqual(t, job.ID, job2.ID)
}

func TestCreateCleansUpPriorJobs(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	old, err := store.Create(".mp4", false)
	require.NoError(t, err)

	fresh, err := store.Create(".mp4", true)
	require.NoError(t, err)
	require.NoDirExists(t, old.Dir)
	require.DirExists(t, fresh.Dir)

	_, err = store.Get(old.ID)
	require.Error(t, err)
}

func TestLatestVideo(t *testing.T) {
	job := &Job{SourceVideoPath: "/jobs/x/input.mp4"}
	require.Equal(t, "/jobs/x/input.mp4", job.LatestVideo())

	job.OutputPath = "/jobs/x/blur_123.mp4"
	require.Equal(t, "/jobs/x/blur_123.mp4", job.LatestVideo())
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	job := &Job{
		ID:              "a1b2c3d4",
		Dir:             "/old/root/a1b2c3d4",
		SourceVideoPath: "/old/root/a1b2c3d4/input.mp4",
		SourceURL:       "https://example.com/video.mp4",
		OutputPath:      "/old/root/a1b2c3d4/blur_99.mp4",
		AudioPath:       "/old/root/a1b2c3d4/audio.m4a",
		FramesDir:       "/old/root/a1b2c3d4/frames",
		FramePaths: []string{
			"/old/root/a1b2c3d4/frames/frame_000001.png",
			"/old/root/a1b2c3d4/frames/frame_000002.png",
		},
		VideoInfo: video.VideoInfo{Width: 1920, Height: 1080, FPS: 30, Duration: 12.5, HasAudio: true},
		Stage:     StageCompleted,
		Progress:  100,
	}

	snap := snapshot(job)

	// snapshots carry filenames only so they survive a move to a new root
	data, err := json.Marshal(snap)
	require.NoError(t, err)
	require.NotContains(t, string(data), "/old/root")

	restored := restore(snap, "/new/root/a1b2c3d4")
	require.Equal(t, job.ID, restored.ID)
	require.Equal(t, "/new/root/a1b2c3d4/input.mp4", restored.SourceVideoPath)
	require.Equal(t, "/new/root/a1b2c3d4/blur_99.mp4", restored.OutputPath)
	require.Equal(t, "/new/root/a1b2c3d4/audio.m4a", restored.AudioPath)
	require.Equal(t, "/new/root/a1b2c3d4/frames", restored.FramesDir)
	require.Len(t, restored.FramePaths, 2)
	require.Equal(t, "/new/root/a1b2c3d4/frames/frame_000001.png", restored.FramePaths[0])
	require.Equal(t, job.SourceURL, restored.SourceURL)
	require.Equal(t, job.VideoInfo, restored.VideoInfo)
	require.Equal(t, StageCompleted, restored.Stage)
	require.Equal(t, 100, restored.Progress)
}

func TestUpdatePersistsOnStageChange(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	job, err := store.Create(".mp4", false)
	require.NoError(t, err)

	statePath := filepath.Join(job.Dir, stateFilename)
	require.NoFileExists(t, statePath)

	job.Stage = StageEditing
	require.NoError(t, store.Update(job))
	require.FileExists(t, statePath)

	// progress-only changes do not rewrite state
	info, err := os.Stat(statePath)
	require.NoError(t, err)
	job.Progress = 50
	require.NoError(t, store.Update(job))
	after, err := os.Stat(statePath)
	require.NoError(t, err)
	require.Equal(t, info.ModTime(), after.ModTime())

	job.OutputPath = filepath.Join(job.Dir, "blur_1.mp4")
	require.NoError(t, store.Update(job))

	var snap persistedJob
	data, err := os.ReadFile(statePath)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &snap))
	require.Equal(t, "blur_1.mp4", snap.OutputFilename)
	require.Equal(t, StageEditing, snap.Stage)
}

func TestGetRecoversFromDiskSnapshot(t *testing.T) {
	rootDir := t.TempDir()
	store, err := NewStore(rootDir, nil)
	require.NoError(t, err)

	job, err := store.Create(".mp4", false)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(job.SourceVideoPath, []byte("video bytes"), 0644))
	job.Stage = StageCompleted
	job.OutputPath = filepath.Join(job.Dir, "blur_1.mp4")
	require.NoError(t, store.Update(job))

	// a new store simulates a restart with the memory registry gone
	reopened, err := NewStore(rootDir, nil)
	require.NoError(t, err)
	recovered, err := reopened.Get(job.ID)
	require.NoError(t, err)
	require.Equal(t, job.ID, recovered.ID)
	require.Equal(t, StageCompleted, recovered.Stage)
	require.Equal(t, job.OutputPath, recovered.OutputPath)
	require.Equal(t, job.SourceVideoPath, recovered.SourceVideoPath)
}

func TestGetRecoversFromDiskScan(t *testing.T) {
	rootDir := t.TempDir()

	// a job directory with files but no state snapshot
	dir := filepath.Join(rootDir, "cafe0123")
	framesDir := filepath.Join(dir, "frames")
	require.NoError(t, os.MkdirAll(framesDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "input.mov"), []byte("video"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(framesDir, "frame_000002.png"), []byte("f2"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(framesDir, "frame_000001.png"), []byte("f1"), 0644))

	store, err := NewStore(rootDir, nil)
	require.NoError(t, err)
	recoveries := testutil.ToFloat64(metrics.Metrics.JobRecoveryCount.WithLabelValues("disk"))
	job, err := store.Get("cafe0123")
	require.NoError(t, err)
	require.Equal(t, recoveries+1, testutil.ToFloat64(metrics.Metrics.JobRecoveryCount.WithLabelValues("disk")))
	require.Equal(t, filepath.Join(dir, "input.mov"), job.SourceVideoPath)
	require.Equal(t, StageCompleted, job.Stage)
	require.Len(t, job.FramePaths, 2)
	require.Equal(t, filepath.Join(framesDir, "frame_000001.png"), job.FramePaths[0], "frames must be sorted")
}

func TestGetRecoversNewestOutputFromDiskScan(t *testing.T) {
	rootDir := t.TempDir()
	dir := filepath.Join(rootDir, "cafe0124")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "input.mp4"), []byte("video"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "work_clip.mp4"), []byte("w"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "chunk_001.mp4"), []byte("c"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mask_dog_ab12cd34.mp4"), []byte("m"), 0644))

	older := filepath.Join(dir, "blur_1000.mp4")
	newer := filepath.Join(dir, "censor_2000.mp4")
	require.NoError(t, os.WriteFile(older, []byte("old"), 0644))
	require.NoError(t, os.WriteFile(newer, []byte("new"), 0644))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(older, past, past))

	store, err := NewStore(rootDir, nil)
	require.NoError(t, err)
	job, err := store.Get("cafe0124")
	require.NoError(t, err)
	require.Equal(t, newer, job.OutputPath, "intermediates and the source must be skipped")
}

func TestGetUnknownJob(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	_, err = store.Get("00000000")
	require.Error(t, err)
}

func TestDeleteJob(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	job, err := store.Create(".mp4", false)
	require.NoError(t, err)
	require.NoError(t, store.Delete(job.ID))
	require.NoDirExists(t, job.Dir)

	_, err = store.Get(job.ID)
	require.Error(t, err)
}

func TestList(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	a, err := store.Create(".mp4", false)
	require.NoError(t, err)
	b, err := store.Create(".mp4", false)
	require.NoError(t, err)

	listed := store.List()
	require.Len(t, listed, 2)
	ids := []string{listed[0].ID, listed[1].ID}
	require.Contains(t, ids, a.ID)
	require.Contains(t, ids, b.ID)
}
