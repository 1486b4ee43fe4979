package pipeline

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vidmod/vidmod-api/clients"
	"github.com/vidmod/vidmod-api/config"
	xerrors "github.com/vidmod/vidmod-api/errors"
	"github.com/vidmod/vidmod-api/jobs"
	"github.com/vidmod/vidmod-api/log"
	"github.com/vidmod/vidmod-api/metrics"
	"github.com/vidmod/vidmod-api/video"
)

const (
	CensorModeBeep = "beep"
	CensorModeDub  = "dub"

	VoicePresetMale   = "male"
	VoicePresetFemale = "female"
	VoiceClone        = "clone"

	// minimum clean audio recommended before cloning the speaker's voice
	minCloneSampleSeconds = 10.0
	maxCloneSampleSeconds = 30.0

	beepMutePad = 0.05
	dubMutePad  = 0.1
	dubGain     = 1.5
)

// CensorAudioParams selects how flagged speech is censored: beeped out, or
// dubbed over with replacement words. Dubs speak in a preset voice, or in a
// voice cloned from the sample window when Voice is "clone".
type CensorAudioParams struct {
	Mode               string
	CustomWords        []string
	CustomReplacements map[string]string
	BeepVolume         float64
	Voice              string
	VoiceSampleStart   float64
	VoiceSampleEnd     float64
}

// CensorAudio finds profanity on the audio track and censors every match.
// With no matches the operation succeeds without producing a new output.
func (c *Coordinator) CensorAudio(ctx context.Context, jobID string, params CensorAudioParams) (*jobs.Job, error) {
	switch params.Mode {
	case CensorModeBeep, CensorModeDub:
	case "":
		params.Mode = CensorModeBeep
	default:
		return nil, xerrors.InputError(fmt.Sprintf("unknown censor mode %q", params.Mode), nil)
	}
	switch params.Voice {
	case "", VoicePresetMale, VoicePresetFemale, VoiceClone:
	default:
		return nil, xerrors.InputError(fmt.Sprintf("unknown voice %q", params.Voice), nil)
	}

	opName := "censor-" + params.Mode
	return c.runOperation(ctx, jobID, opName, func(job *jobs.Job) (string, error) {
		source := job.LatestVideo()
		info, err := c.prober.ProbeFile(job.ID, source)
		if err != nil {
			return "", err
		}
		if !info.HasAudio {
			return "", xerrors.InputError("video has no audio track to censor", nil)
		}

		job.Stage = jobs.StageAnalyzing
		if err := c.store.Update(job); err != nil {
			return "", err
		}
		matches, err := c.profanity(job, params.CustomWords)
		if err != nil {
			return "", err
		}
		matches = applyReplacements(matches, params.CustomReplacements)
		merged := mergePhrases(matches, config.ProfanityMergeGap)
		if len(merged) == 0 {
			log.Log(job.ID, "no profanity found, nothing to censor")
			return "", nil
		}

		job.Stage = jobs.StageEditing
		if err := c.store.Update(job); err != nil {
			return "", err
		}
		if params.Mode == CensorModeDub {
			return c.censorDub(job, source, info, merged, params)
		}
		return c.censorBeep(job, source, merged, params.BeepVolume)
	})
}

// profanity returns the audio analysis for the job, cached after the first
// default run so repeated censor calls skip the analyzer.
func (c *Coordinator) profanity(job *jobs.Job, customWords []string) ([]clients.ProfanityMatch, error) {
	if len(customWords) == 0 && !job.ProfanityAnalyzedAt.IsZero() {
		log.Log(job.ID, "reusing cached profanity analysis", "matches", len(job.ProfanityMatches))
		return job.ProfanityMatches, nil
	}

	target := job.AudioPath
	if target == "" {
		target = job.LatestVideo()
	}
	matches, err := c.analyzer.AnalyzeAudio(job.ID, target, customWords)
	if err != nil {
		return nil, err
	}
	if len(customWords) == 0 {
		job.ProfanityMatches = matches
		job.ProfanityAnalyzedAt = time.Now()
	}
	return matches, nil
}

// censorBeep lays a 1 kHz tone over every flagged phrase and mutes the
// original speech underneath it.
func (c *Coordinator) censorBeep(job *jobs.Job, source string, phrases []phrase, volume float64) (string, error) {
	overlays := make([]video.Overlay, 0, len(phrases))
	mutes := make([]video.MuteWindow, 0, len(phrases))
	for i, p := range phrases {
		duration := p.End - p.Start
		beepPath := filepath.Join(job.Dir, fmt.Sprintf("beep_%03d.wav", i))
		if err := video.GenerateBeep(beepPath, duration, volume); err != nil {
			return "", err
		}
		defer os.Remove(beepPath)
		overlays = append(overlays, video.Overlay{
			Path:     beepPath,
			StartMs:  int(p.Start * 1000),
			Duration: duration,
		})
		mutes = append(mutes, video.MuteWindow{Start: p.Start, End: p.End})
		log.Log(job.ID, "beeping phrase", "word", p.Word, "start", p.Start, "end", p.End)
	}

	out := outputPath(job, "censor-beep")
	if err := video.MixAudio(source, overlays, mutes, out, beepMutePad); err != nil {
		return "", err
	}
	return out, nil
}

// applyReplacements overrides the analyzer's suggested replacement wherever
// the caller supplied one for the word. Lookup is case-insensitive.
func applyReplacements(matches []clients.ProfanityMatch, replacements map[string]string) []clients.ProfanityMatch {
	if len(replacements) == 0 {
		return matches
	}
	lowered := make(map[string]string, len(replacements))
	for word, replacement := range replacements {
		lowered[strings.ToLower(word)] = replacement
	}
	out := make([]clients.ProfanityMatch, len(matches))
	for i, m := range matches {
		if replacement, ok := lowered[strings.ToLower(m.Word)]; ok {
			m.Replacement = replacement
		}
		out[i] = m
	}
	return out
}

// censorDub replaces flagged phrases with spoken alternatives, cloning each
// speaker's voice when the caller asked for one. Cloned voices are deleted
// before returning, success or not.
func (c *Coordinator) censorDub(job *jobs.Job, source string, info video.VideoInfo, phrases []phrase, params CensorAudioParams) (string, error) {
	clusters := clusterBySpeaker(phrases, config.DubClusterGap)

	voices := map[string]string{}
	var cloned []string
	defer func() {
		for _, voiceID := range cloned {
			if err := c.tts.DeleteVoice(job.ID, voiceID); err != nil {
				metrics.Metrics.ClonedVoiceLeakGuard.Inc()
				log.LogError(job.ID, "failed to delete cloned voice", err, "voice_id", voiceID)
			}
		}
	}()

	voiceFor := func(speakerID string) string {
		if id, ok := voices[speakerID]; ok {
			return id
		}
		id := ""
		if params.Voice == VoiceClone {
			id = c.cloneVoice(job, source, info, speakerID, params.VoiceSampleStart, params.VoiceSampleEnd)
			if id != "" {
				cloned = append(cloned, id)
			}
		}
		if id == "" {
			id = c.presetVoice(params.Voice)
		}
		voices[speakerID] = id
		return id
	}

	overlays := make([]video.Overlay, 0, len(clusters))
	mutes := make([]video.MuteWindow, 0, len(clusters))
	for i, cluster := range clusters {
		replacement := cluster.Replacement
		if replacement == "" {
			suggestions, err := c.analyzer.SuggestAlternatives(job.ID, cluster.Word, cluster.End-cluster.Start, 1)
			if err != nil || len(suggestions) == 0 {
				log.Log(job.ID, "no replacement for phrase, muting it instead", "word", cluster.Word)
				mutes = append(mutes, video.MuteWindow{Start: cluster.Start, End: cluster.End})
				continue
			}
			replacement = suggestions[0]
		}

		duration := cluster.End - cluster.Start
		raw := filepath.Join(job.Dir, fmt.Sprintf("dub_%03d.mp3", i))
		if err := c.tts.Speak(job.ID, replacement, voiceFor(cluster.SpeakerID), raw); err != nil {
			return "", err
		}
		defer os.Remove(raw)

		fitted := filepath.Join(job.Dir, fmt.Sprintf("dub_%03d_fit.mp3", i))
		if err := video.TimeStretch(raw, fitted, duration); err != nil {
			return "", err
		}
		defer os.Remove(fitted)

		overlays = append(overlays, video.Overlay{
			Path:     fitted,
			StartMs:  int(cluster.Start * 1000),
			Duration: duration,
			Gain:     dubGain,
		})
		mutes = append(mutes, video.MuteWindow{Start: cluster.Start, End: cluster.End})
		log.Log(job.ID, "dubbing phrase", "word", cluster.Word, "replacement", replacement, "speaker", cluster.SpeakerID)
	}
	if len(overlays) == 0 && len(mutes) == 0 {
		return "", nil
	}

	out := outputPath(job, "censor-dub")
	if err := video.MixAudio(source, overlays, mutes, out, dubMutePad); err != nil {
		return "", err
	}
	return out, nil
}

// cloneSampleWindow resolves the clean-speech window the clone sample is cut
// from. With no window given the sample is the first 30 seconds of the video.
func cloneSampleWindow(duration, start, end float64) (float64, float64) {
	if end <= start || start < 0 {
		start, end = 0, math.Min(duration, maxCloneSampleSeconds)
	}
	if end > duration {
		end = duration
	}
	return start, end
}

// cloneVoice extracts a speech sample from the given window and clones it.
// Returns "" when there is nothing to sample or cloning fails, selecting the
// preset voice instead.
func (c *Coordinator) cloneVoice(job *jobs.Job, source string, info video.VideoInfo, speakerID string, sampleStart, sampleEnd float64) string {
	start, end := cloneSampleWindow(info.Duration, sampleStart, sampleEnd)
	if end <= start {
		log.Log(job.ID, "no audio to sample a voice from, using preset", "speaker", speakerID)
		return ""
	}
	if end-start < minCloneSampleSeconds {
		log.Log(job.ID, "voice sample shorter than recommended, clone quality may suffer",
			"seconds", end-start, "speaker", speakerID)
	}

	samplePath := filepath.Join(job.Dir, fmt.Sprintf("voice_sample_%s.mp3", speakerID))
	if err := video.ExtractAudioSample(source, samplePath, start, end); err != nil {
		log.LogError(job.ID, "failed to extract voice sample, using preset", err)
		return ""
	}
	defer os.Remove(samplePath)

	name := fmt.Sprintf("job-%s-speaker-%s", job.ID, speakerID)
	voiceID, err := c.tts.CloneVoice(job.ID, samplePath, name)
	if err != nil {
		log.LogError(job.ID, "voice clone failed, using preset", err)
		return ""
	}
	return voiceID
}

func (c *Coordinator) presetVoice(name string) string {
	if name == VoicePresetMale && c.cli.VoiceMale != "" {
		return c.cli.VoiceMale
	}
	if c.cli.VoiceFemale != "" {
		return c.cli.VoiceFemale
	}
	return c.cli.VoiceMale
}
