package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/vidmod/vidmod-api/clients"
	xerrors "github.com/vidmod/vidmod-api/errors"
	"github.com/vidmod/vidmod-api/jobs"
)

// AnalyzeVideo runs the full compliance analysis over the job's latest video.
func (c *Coordinator) AnalyzeVideo(ctx context.Context, jobID string) (clients.VideoAnalysis, error) {
	job, err := c.store.Get(jobID)
	if err != nil {
		return clients.VideoAnalysis{}, err
	}
	if err := c.store.RecoverSource(ctx, job); err != nil {
		return clients.VideoAnalysis{}, err
	}

	job.Stage = jobs.StageAnalyzing
	if err := c.store.Update(job); err != nil {
		return clients.VideoAnalysis{}, err
	}
	analysis, err := c.analyzer.AnalyzeVideo(job.ID, job.LatestVideo())
	if err != nil {
		job.Stage = jobs.StageFailed
		job.Error = err.Error()
		_ = c.store.Update(job)
		return clients.VideoAnalysis{}, err
	}

	job.Stage = jobs.StageCompleted
	if err := c.store.Update(job); err != nil {
		return clients.VideoAnalysis{}, err
	}
	return analysis, nil
}

// AnalyzeAudio returns the profanity matches on the job's audio track,
// cached across calls when no custom word list is given.
func (c *Coordinator) AnalyzeAudio(ctx context.Context, jobID string, customWords []string) ([]clients.ProfanityMatch, error) {
	job, err := c.store.Get(jobID)
	if err != nil {
		return nil, err
	}
	if err := c.store.RecoverSource(ctx, job); err != nil {
		return nil, err
	}
	matches, err := c.profanity(job, customWords)
	if err != nil {
		return nil, err
	}
	if err := c.store.Update(job); err != nil {
		return nil, err
	}
	return matches, nil
}

// AnalyzeRegion identifies what is inside a box on one extracted frame.
func (c *Coordinator) AnalyzeRegion(ctx context.Context, jobID string, frameIndex int, box clients.BoxPct) (clients.RegionAnalysis, error) {
	job, err := c.store.Get(jobID)
	if err != nil {
		return clients.RegionAnalysis{}, err
	}
	if frameIndex < 0 || frameIndex >= len(job.FramePaths) {
		return clients.RegionAnalysis{}, xerrors.InputError(
			fmt.Sprintf("frame index %d out of range, job has %d frames", frameIndex, len(job.FramePaths)), nil)
	}
	return c.analyzer.AnalyzeRegion(job.ID, job.FramePaths[frameIndex], box)
}

const (
	// fallback envelope for words the analyzer did not time
	defaultWordSeconds = 0.5

	suggestionsPerWord = 5
)

// WordSuggestion carries the alternatives for one flagged word and the time
// window a spoken replacement has to fit into.
type WordSuggestion struct {
	Original     string   `json:"original"`
	Alternatives []string `json:"alternatives"`
	Duration     float64  `json:"duration"`
}

// SuggestReplacements measures how long each word is spoken for on the audio
// track and asks for censor-friendly alternatives that fit the window.
func (c *Coordinator) SuggestReplacements(ctx context.Context, jobID string, words []string) ([]WordSuggestion, error) {
	if len(words) == 0 {
		return nil, xerrors.InputError("at least one word to replace is required", nil)
	}
	job, err := c.store.Get(jobID)
	if err != nil {
		return nil, err
	}
	if err := c.store.RecoverSource(ctx, job); err != nil {
		return nil, err
	}

	matches, err := c.profanity(job, words)
	if err != nil {
		return nil, err
	}
	durations := wordDurations(matches)

	out := make([]WordSuggestion, 0, len(words))
	for _, word := range words {
		duration, ok := durations[strings.ToLower(word)]
		if !ok {
			duration = defaultWordSeconds
		}
		alternatives, err := c.analyzer.SuggestAlternatives(job.ID, word, duration, suggestionsPerWord)
		if err != nil {
			return nil, err
		}
		out = append(out, WordSuggestion{Original: word, Alternatives: alternatives, Duration: duration})
	}
	return out, nil
}

// wordDurations keeps the first measured envelope per word.
func wordDurations(matches []clients.ProfanityMatch) map[string]float64 {
	out := map[string]float64{}
	for _, m := range matches {
		key := strings.ToLower(m.Word)
		if _, ok := out[key]; !ok {
			out[key] = m.EndTime - m.StartTime
		}
	}
	return out
}
