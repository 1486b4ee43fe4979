package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/vidmod/vidmod-api/cache"
	"github.com/vidmod/vidmod-api/clients"
	xerrors "github.com/vidmod/vidmod-api/errors"
	"github.com/vidmod/vidmod-api/log"
	"github.com/vidmod/vidmod-api/metrics"
)

const stateFilename = "state.json"

// Store is the job registry: an in-memory map in front of per-job
// directories on disk, with JSON snapshots in the blob store for recovery
// after restart.
type Store struct {
	rootDir string
	blob    *clients.BlobStore
	jobs    *cache.Cache[*Job]
}

// NewStore creates the registry rooted at rootDir. blob may be nil, which
// disables cross-restart recovery.
func NewStore(rootDir string, blob *clients.BlobStore) (*Store, error) {
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create jobs root %q: %w", rootDir, err)
	}
	return &Store{
		rootDir: rootDir,
		blob:    blob,
		jobs:    cache.New[*Job](),
	}, nil
}

// Create allocates a new job with a fresh 8-char id and its own directory.
// With cleanupPrior set, every prior job directory is deleted first: disk is
// the scarce resource, not job history.
func (s *Store) Create(ext string, cleanupPrior bool) (*Job, error) {
	if cleanupPrior {
		if err := s.CleanupAll(); err != nil {
			log.LogNoRequestID("failed to cleanup prior jobs", "err", err)
		}
	}

	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	dir := filepath.Join(s.rootDir, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create job dir %q: %w", dir, err)
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	job := &Job{
		ID:              id,
		Dir:             dir,
		SourceVideoPath: filepath.Join(dir, "input"+ext),
		Stage:           StageInitialized,
	}
	s.jobs.Store(id, job)
	return job, nil
}

// Get resolves a job id through the recovery ladder: in-memory, then the
// local directory, then the blob store snapshot.
func (s *Store) Get(id string) (*Job, error) {
	if job := s.jobs.Get(id); job != nil {
		return job, nil
	}

	job, err := s.recoverFromDisk(id)
	if err == nil {
		metrics.Metrics.JobRecoveryCount.WithLabelValues("disk").Inc()
		s.jobs.Store(id, job)
		return job, nil
	}

	job, err = s.recoverFromBlob(id)
	if err != nil {
		return nil, err
	}
	metrics.Metrics.JobRecoveryCount.WithLabelValues("blob").Inc()
	s.jobs.Store(id, job)
	return job, nil
}

// Update stores the job in memory and persists a snapshot whenever the stage
// or output changed since the last persist.
func (s *Store) Update(job *Job) error {
	s.jobs.Store(job.ID, job)

	if job.Stage == job.persistedStage && job.OutputPath == job.persistedOutput {
		return nil
	}

	snap := snapshot(job)
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal job state: %w", err)
	}
	if err := os.WriteFile(filepath.Join(job.Dir, stateFilename), data, 0644); err != nil {
		return fmt.Errorf("failed to write job state: %w", err)
	}

	if s.blob != nil {
		if err := s.blob.PutJSON(s.stateKey(job.ID), snap); err != nil {
			// blob persistence is best effort, the local copy is enough to
			// keep the current process correct
			log.LogError(job.ID, "failed to persist job state to blob store", err)
		}
	}

	job.persistedStage = job.Stage
	job.persistedOutput = job.OutputPath
	return nil
}

func (s *Store) Delete(id string) error {
	job := s.jobs.Get(id)
	s.jobs.Remove(id)
	dir := filepath.Join(s.rootDir, id)
	if job != nil {
		dir = job.Dir
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove job dir %q: %w", dir, err)
	}
	return nil
}

func (s *Store) List() []*Job {
	keys := s.jobs.GetKeys()
	sort.Strings(keys)
	out := make([]*Job, 0, len(keys))
	for _, key := range keys {
		if job := s.jobs.Get(key); job != nil {
			out = append(out, job)
		}
	}
	return out
}

// CleanupAll removes every job directory and clears the registry.
func (s *Store) CleanupAll() error {
	entries, err := os.ReadDir(s.rootDir)
	if err != nil {
		return fmt.Errorf("failed to read jobs root: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.rootDir, entry.Name())); err != nil {
			return fmt.Errorf("failed to remove %q: %w", entry.Name(), err)
		}
	}
	s.jobs.Clear()
	return nil
}

// RecoverSource re-downloads the source video when only the cloud URL
// survived a restart.
func (s *Store) RecoverSource(ctx context.Context, job *Job) error {
	if job.SourceVideoPath != "" {
		if _, err := os.Stat(job.SourceVideoPath); err == nil {
			return nil
		}
	}
	if job.SourceURL == "" {
		return xerrors.MissingPrerequisite("job has no local source video and no source URL to recover it from")
	}
	if job.SourceVideoPath == "" {
		job.SourceVideoPath = filepath.Join(job.Dir, "input.mp4")
	}
	if err := os.MkdirAll(job.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create job dir: %w", err)
	}
	written, err := clients.DownloadFile(ctx, job.ID, job.SourceURL, job.SourceVideoPath)
	if err != nil {
		return fmt.Errorf("failed to recover source video: %w", err)
	}
	log.Log(job.ID, "recovered source video from blob store", "bytes", written)
	return nil
}

func (s *Store) stateKey(id string) string {
	return fmt.Sprintf("jobs/%s/%s", id, stateFilename)
}

// recoverFromDisk rebuilds a job from its local directory, preferring the
// state snapshot and falling back to scanning the files.
func (s *Store) recoverFromDisk(id string) (*Job, error) {
	dir := filepath.Join(s.rootDir, id)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, xerrors.NotFound(fmt.Sprintf("job %s", id))
	}

	if data, err := os.ReadFile(filepath.Join(dir, stateFilename)); err == nil {
		var snap persistedJob
		if err := json.Unmarshal(data, &snap); err == nil && snap.JobID == id {
			log.Log(id, "recovered job from local state snapshot")
			return restore(snap, dir), nil
		}
	}

	source := findSourceVideo(dir)
	if source == "" {
		return nil, xerrors.NotFound(fmt.Sprintf("job %s", id))
	}
	job := &Job{
		ID:              id,
		Dir:             dir,
		SourceVideoPath: source,
		Stage:           StageInitialized,
	}
	if output := findNewestOutput(dir, source); output != "" {
		job.OutputPath = output
	}
	framesDir := filepath.Join(dir, "frames")
	if frames, err := filepath.Glob(filepath.Join(framesDir, "frame_*.png")); err == nil && len(frames) > 0 {
		sort.Strings(frames)
		job.FramesDir = framesDir
		job.FramePaths = frames
		job.Stage = StageCompleted
		job.Progress = 100
	}
	log.Log(id, "recovered job by scanning local directory")
	return job, nil
}

// recoverFromBlob rebuilds a job from its persisted snapshot, lazily pulling
// the source video back down on first use.
func (s *Store) recoverFromBlob(id string) (*Job, error) {
	if s.blob == nil {
		return nil, xerrors.NotFound(fmt.Sprintf("job %s", id))
	}
	var snap persistedJob
	found, err := s.blob.GetJSON(s.stateKey(id), &snap)
	if err != nil || !found {
		return nil, xerrors.NotFound(fmt.Sprintf("job %s", id))
	}

	dir := filepath.Join(s.rootDir, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create job dir: %w", err)
	}
	job := restore(snap, dir)

	// the local files are gone, only what can be re-downloaded survives
	if _, err := os.Stat(job.SourceVideoPath); err != nil && job.SourceURL == "" {
		if key := fmt.Sprintf("jobs/%s/%s", id, filepath.Base(job.SourceVideoPath)); s.blob.Exists(key) {
			if err := s.blob.GetToFile(key, job.SourceVideoPath); err != nil {
				return nil, err
			}
		}
	}
	log.Log(id, "recovered job from blob store snapshot")
	return job, nil
}

func findSourceVideo(dir string) string {
	for _, ext := range []string{".mp4", ".mov", ".avi", ".mkv", ".webm"} {
		candidate := filepath.Join(dir, "input"+ext)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// findNewestOutput scans the job directory for the most recently written edit
// output, skipping the source and intermediate work files.
func findNewestOutput(dir, source string) string {
	candidates, err := filepath.Glob(filepath.Join(dir, "*.mp4"))
	if err != nil {
		return ""
	}
	var newest string
	var newestMod int64
	for _, candidate := range candidates {
		if candidate == source || isIntermediate(filepath.Base(candidate)) {
			continue
		}
		info, err := os.Stat(candidate)
		if err != nil {
			continue
		}
		if mod := info.ModTime().UnixNano(); newest == "" || mod > newestMod {
			newest, newestMod = candidate, mod
		}
	}
	return newest
}

// intermediate work files the pipeline writes next to real outputs
func isIntermediate(name string) bool {
	for _, prefix := range []string{"work_", "chunk_", "mask_", "stitch_", "edit_", "normalized_"} {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return strings.HasPrefix(name, "input")
}
