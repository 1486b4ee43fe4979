package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/vidmod/vidmod-api/clients"
	"github.com/vidmod/vidmod-api/config"
	xerrors "github.com/vidmod/vidmod-api/errors"
	"github.com/vidmod/vidmod-api/jobs"
	"github.com/vidmod/vidmod-api/log"
	"github.com/vidmod/vidmod-api/metrics"
	"github.com/vidmod/vidmod-api/video"
)

// Coordinator runs edit operations against the job store, one operation per
// job at a time. It owns the wiring to every external backend.
type Coordinator struct {
	cli        *config.Cli
	store      *jobs.Store
	blob       *clients.BlobStore
	prober     video.Prober
	segmenter  clients.SegmentationClient
	generative clients.GenerativeEditClient
	tts        clients.TTSClient
	analyzer   clients.AnalyzerClient

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewCoordinator(
	cli *config.Cli,
	store *jobs.Store,
	blob *clients.BlobStore,
	prober video.Prober,
	segmenter clients.SegmentationClient,
	generative clients.GenerativeEditClient,
	tts clients.TTSClient,
	analyzer clients.AnalyzerClient,
) *Coordinator {
	return &Coordinator{
		cli:        cli,
		store:      store,
		blob:       blob,
		prober:     prober,
		segmenter:  segmenter,
		generative: generative,
		tts:        tts,
		analyzer:   analyzer,
		locks:      map[string]*sync.Mutex{},
	}
}

// lockFor returns the per-job mutex, creating it on first use. The lock
// outlives any single request so concurrent edits on one job serialize.
func (c *Coordinator) lockFor(jobID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.locks[jobID]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[jobID] = lock
	}
	return lock
}

func (c *Coordinator) Store() *jobs.Store {
	return c.store
}

// mutateLocked applies fn to the job under its per-job lock and persists the
// result. The lock is held for the mutation only, never across ffmpeg or
// network calls.
func (c *Coordinator) mutateLocked(job *jobs.Job, fn func()) error {
	lock := c.lockFor(job.ID)
	lock.Lock()
	defer lock.Unlock()
	fn()
	return c.store.Update(job)
}

// Upload ingests a new source video: writes it to the job directory, probes
// it synchronously so invalid files fail the request, then extracts frames
// and audio in the background.
func (c *Coordinator) Upload(filename string, r io.Reader) (*jobs.Job, error) {
	metrics.Metrics.UploadRequestCount.Inc()

	job, err := c.store.Create(filepath.Ext(filename), c.cli.CleanupPriorJobs)
	if err != nil {
		return nil, err
	}

	f, err := os.Create(job.SourceVideoPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create source file: %w", err)
	}
	written, err := io.Copy(f, r)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = c.store.Delete(job.ID)
		return nil, fmt.Errorf("failed to write source file: %w", err)
	}
	log.Log(job.ID, "uploaded source video", "filename", filename, "bytes", written)

	info, err := c.prober.ProbeFile(job.ID, job.SourceVideoPath)
	if err != nil {
		_ = c.store.Delete(job.ID)
		return nil, xerrors.MediaError("failed to probe uploaded video", "", err)
	}
	if c.cli.MaxVideoSeconds > 0 && info.Duration > float64(c.cli.MaxVideoSeconds) {
		_ = c.store.Delete(job.ID)
		return nil, xerrors.InputError(fmt.Sprintf("video is %.1fs long, the limit is %ds", info.Duration, c.cli.MaxVideoSeconds), nil)
	}
	job.VideoInfo = info

	// a first-frame preview is available immediately, the full frame set
	// follows in the background
	if err := video.ExtractFrame(job.SourceVideoPath, filepath.Join(job.Dir, "preview.jpg"), 0, nil); err != nil {
		log.LogError(job.ID, "failed to extract preview frame", err)
	}

	if c.blob != nil {
		if err := c.blob.PutFile(c.sourceKey(job), job.SourceVideoPath, "video/mp4"); err != nil {
			log.LogError(job.ID, "failed to back up source video to blob store", err)
		}
	}

	job.Stage = jobs.StageExtractingFrames
	if err := c.store.Update(job); err != nil {
		return nil, err
	}
	go c.extractInBackground(job)
	return job, nil
}

// UseExistingVideo resolves a video URL into a job: our own blob URLs map
// back to the job that produced them, anything else is downloaded into a
// fresh job.
func (c *Coordinator) UseExistingVideo(ctx context.Context, videoURL string) (*jobs.Job, error) {
	if id := jobIDFromURL(videoURL); id != "" {
		job, err := c.store.Get(id)
		if err == nil {
			return job, nil
		}
		log.LogError(id, "url names a job we cannot recover, downloading instead", err)
	}

	job, err := c.store.Create(".mp4", c.cli.CleanupPriorJobs)
	if err != nil {
		return nil, err
	}
	job.SourceURL = videoURL
	if _, err := clients.DownloadFile(ctx, job.ID, videoURL, job.SourceVideoPath); err != nil {
		_ = c.store.Delete(job.ID)
		return nil, err
	}

	info, err := c.prober.ProbeFile(job.ID, job.SourceVideoPath)
	if err != nil {
		_ = c.store.Delete(job.ID)
		return nil, xerrors.MediaError("failed to probe downloaded video", "", err)
	}
	job.VideoInfo = info

	job.Stage = jobs.StageExtractingFrames
	if err := c.store.Update(job); err != nil {
		return nil, err
	}
	go c.extractInBackground(job)
	return job, nil
}

// jobIDFromURL pulls a job id out of one of our own blob store URLs, so
// editing a previous output chains onto the same job.
func jobIDFromURL(videoURL string) string {
	const marker = "jobs/"
	idx := strings.Index(videoURL, marker)
	if idx < 0 {
		return ""
	}
	rest := videoURL[idx+len(marker):]
	end := strings.IndexByte(rest, '/')
	if end <= 0 {
		return ""
	}
	return rest[:end]
}

// extractInBackground pulls frames and the audio track out of the source so
// previews and audio analysis are ready by the time the first edit arrives.
// Every job mutation takes the per-job lock, so a concurrent edit never races
// the extraction. The ffmpeg calls themselves run unlocked.
func (c *Coordinator) extractInBackground(job *jobs.Job) {
	fail := func(err error) {
		log.LogError(job.ID, "background extraction failed", err)
		if updateErr := c.mutateLocked(job, func() {
			// an edit that took over the job owns its state now
			if job.Stage != jobs.StageExtractingFrames {
				return
			}
			job.Stage = jobs.StageFailed
			job.Error = err.Error()
		}); updateErr != nil {
			log.LogError(job.ID, "failed to persist extraction failure", updateErr)
		}
	}

	if err := c.mutateLocked(job, func() { job.Progress = 10 }); err != nil {
		log.LogError(job.ID, "failed to persist extraction progress", err)
	}
	framesDir := filepath.Join(job.Dir, "frames")
	frames, err := video.ExtractFrames(job.SourceVideoPath, framesDir, 1)
	if err != nil {
		fail(err)
		return
	}
	if err := c.mutateLocked(job, func() {
		job.FramesDir = framesDir
		job.FramePaths = frames
		job.Progress = 70
	}); err != nil {
		log.LogError(job.ID, "failed to persist extracted frames", err)
	}

	audioPath := filepath.Join(job.Dir, "audio.m4a")
	hasAudio, err := video.ExtractAudio(job.ID, job.SourceVideoPath, audioPath)
	if err != nil {
		fail(err)
		return
	}

	c.finishExtraction(job, hasAudio, audioPath)
	log.Log(job.ID, "background extraction finished", "frames", len(frames), "has_audio", hasAudio)
}

// finishExtraction records the extraction results. The stage only moves to
// completed when the job is still extracting; an edit that already took over
// keeps its own stage and progress.
func (c *Coordinator) finishExtraction(job *jobs.Job, hasAudio bool, audioPath string) {
	err := c.mutateLocked(job, func() {
		if hasAudio {
			job.AudioPath = audioPath
		}
		if job.Stage == jobs.StageExtractingFrames {
			job.Stage = jobs.StageCompleted
			job.Progress = 100
		}
	})
	if err != nil {
		log.LogError(job.ID, "failed to persist extraction result", err)
	}
}

// operationFunc runs one edit against a locked job and returns the path of
// the new output video. An empty path with a nil error means the operation
// had nothing to do and the previous output stands.
type operationFunc func(job *jobs.Job) (string, error)

// runOperation is the shared state machine around every edit: recover the
// source if needed, serialize per job, retry through rate limits, and never
// regress the output on failure.
func (c *Coordinator) runOperation(ctx context.Context, jobID, opName string, fn operationFunc) (*jobs.Job, error) {
	job, err := c.store.Get(jobID)
	if err != nil {
		return nil, err
	}

	lock := c.lockFor(jobID)
	lock.Lock()
	defer lock.Unlock()

	if err := c.store.RecoverSource(ctx, job); err != nil {
		return nil, err
	}

	job.Stage = jobs.StageEditing
	job.Error = ""
	if err := c.store.Update(job); err != nil {
		return nil, err
	}

	start := time.Now()
	var outPath string
	operation := func() error {
		var opErr error
		outPath, opErr = fn(job)
		if opErr != nil && !xerrors.IsRateLimited(opErr) {
			return backoff.Permanent(opErr)
		}
		if opErr != nil {
			log.Log(jobID, "operation rate limited, backing off", "operation", opName)
		}
		return opErr
	}
	err = backoff.Retry(operation, backoff.WithMaxRetries(
		backoff.NewConstantBackOff(config.RateLimitBackoffBase), config.RateLimitMaxRetries))

	success := fmt.Sprintf("%t", err == nil)
	metrics.Metrics.OperationCount.WithLabelValues(opName, success).Inc()
	metrics.Metrics.OperationDurationSec.WithLabelValues(opName, success).Observe(time.Since(start).Seconds())

	if err != nil {
		job.Stage = jobs.StageFailed
		job.Error = err.Error()
		if updateErr := c.store.Update(job); updateErr != nil {
			log.LogError(jobID, "failed to persist operation failure", updateErr)
		}
		return nil, err
	}

	if outPath != "" {
		job.OutputPath = outPath
		if c.blob != nil {
			if blobErr := c.blob.PutFile(c.outputKey(job), outPath, "video/mp4"); blobErr != nil {
				log.LogError(jobID, "failed to back up output to blob store", blobErr)
			}
		}
	}
	job.Stage = jobs.StageCompleted
	job.Progress = 100
	if err := c.store.Update(job); err != nil {
		return nil, err
	}
	log.Log(jobID, "operation completed", "operation", opName, "duration", time.Since(start), "output", outPath)
	return job, nil
}

func (c *Coordinator) sourceKey(job *jobs.Job) string {
	return fmt.Sprintf("jobs/%s/%s", job.ID, filepath.Base(job.SourceVideoPath))
}

func (c *Coordinator) outputKey(job *jobs.Job) string {
	return fmt.Sprintf("jobs/%s/%s", job.ID, filepath.Base(job.OutputPath))
}

// outputPath allocates a fresh timestamped output filename in the job dir so
// chained edits never overwrite each other.
func outputPath(job *jobs.Job, opName string) string {
	return filepath.Join(job.Dir, fmt.Sprintf("%s_%d.mp4", opName, time.Now().UnixMilli()))
}
