package jobs

import (
	"path/filepath"
	"time"

	"github.com/vidmod/vidmod-api/clients"
	"github.com/vidmod/vidmod-api/video"
)

type Stage string

const (
	StageInitialized      Stage = "INITIALIZED"
	StageExtractingFrames Stage = "EXTRACTING_FRAMES"
	StageAnalyzing        Stage = "ANALYZING"
	StageSegmenting       Stage = "SEGMENTING"
	StageEditing          Stage = "EDITING"
	StageReconstructing   Stage = "RECONSTRUCTING"
	StageCompleted        Stage = "COMPLETED"
	StageFailed           Stage = "FAILED"
)

// Job tracks one uploaded video through a sequence of edits. OutputPath
// always points at the most recent successful edit; a failed operation never
// regresses it.
type Job struct {
	ID              string
	Dir             string
	SourceVideoPath string
	SourceURL       string
	OutputPath      string
	FramesDir       string
	AudioPath       string
	VideoInfo       video.VideoInfo
	FramePaths      []string
	Stage           Stage
	Progress        int
	Error           string

	// cached analyzer results so repeated censor calls skip re-analysis
	ProfanityMatches    []clients.ProfanityMatch
	ProfanityAnalyzedAt time.Time

	// snapshot of the last persisted fields, to skip redundant writes
	persistedStage  Stage
	persistedOutput string
}

// LatestVideo is the chaining source: the newest edit when one exists, else
// the original upload.
func (j *Job) LatestVideo() string {
	if j.OutputPath != "" {
		return j.OutputPath
	}
	return j.SourceVideoPath
}

// persistedJob is the blob store snapshot. Paths are stored as filenames
// only and reconstructed against the local job directory on read, so state
// survives deployment and OS changes.
type persistedJob struct {
	JobID          string          `json:"jobId"`
	Stage          Stage           `json:"stage"`
	Progress       int             `json:"progress"`
	VideoInfo      video.VideoInfo `json:"videoInfo"`
	SourceURL      string          `json:"sourceURL,omitempty"`
	SourceFilename string          `json:"sourceFilename"`
	OutputFilename string          `json:"outputFilename,omitempty"`
	AudioFilename  string          `json:"audioFilename,omitempty"`
	FrameFilenames []string        `json:"frameFilenames,omitempty"`
	Error          string          `json:"error,omitempty"`
}

func snapshot(j *Job) persistedJob {
	p := persistedJob{
		JobID:     j.ID,
		Stage:     j.Stage,
		Progress:  j.Progress,
		VideoInfo: j.VideoInfo,
		SourceURL: j.SourceURL,
		Error:     j.Error,
	}
	if j.SourceVideoPath != "" {
		p.SourceFilename = filepath.Base(j.SourceVideoPath)
	}
	if j.OutputPath != "" {
		p.OutputFilename = filepath.Base(j.OutputPath)
	}
	if j.AudioPath != "" {
		p.AudioFilename = filepath.Base(j.AudioPath)
	}
	for _, frame := range j.FramePaths {
		p.FrameFilenames = append(p.FrameFilenames, filepath.Base(frame))
	}
	return p
}

func restore(p persistedJob, dir string) *Job {
	j := &Job{
		ID:              p.JobID,
		Dir:             dir,
		SourceURL:       p.SourceURL,
		VideoInfo:       p.VideoInfo,
		Stage:           p.Stage,
		Progress:        p.Progress,
		Error:           p.Error,
		persistedStage:  p.Stage,
		persistedOutput: "",
	}
	if p.SourceFilename != "" {
		j.SourceVideoPath = filepath.Join(dir, p.SourceFilename)
	}
	if p.OutputFilename != "" {
		j.OutputPath = filepath.Join(dir, p.OutputFilename)
		j.persistedOutput = j.OutputPath
	}
	if p.AudioFilename != "" {
		j.AudioPath = filepath.Join(dir, p.AudioFilename)
	}
	if len(p.FrameFilenames) > 0 {
		j.FramesDir = filepath.Join(dir, "frames")
		for _, frame := range p.FrameFilenames {
			j.FramePaths = append(j.FramePaths, filepath.Join(j.FramesDir, frame))
		}
	}
	return j
}
