package pipeline

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/vidmod/vidmod-api/clients"
	"github.com/vidmod/vidmod-api/config"
	xerrors "github.com/vidmod/vidmod-api/errors"
	"github.com/vidmod/vidmod-api/jobs"
	"github.com/vidmod/vidmod-api/log"
	"github.com/vidmod/vidmod-api/video"
	"golang.org/x/sync/errgroup"
)

// MaskEffectParams describes an obscuring edit. A window with End > Start
// restricts the edit to that time range; otherwise the whole video is
// processed.
type MaskEffectParams struct {
	Prompt   string
	Effect   video.EffectKind
	Strength int
	Start    float64
	End      float64
	Polarity video.MaskPolarity
}

// GenerativeEditParams describes a generative replacement. MaskPrompt
// restricts the edit to a segmented region; empty means the backend may
// repaint the whole frame. ReferenceImageURL anchors the look of the result
// to a caller-supplied image instead of the video's own first frame, and
// Seconds overrides the per-call generation length.
type GenerativeEditParams struct {
	Prompt            string
	MaskPrompt        string
	Start             float64
	End               float64
	ReferenceImageURL string
	Seconds           float64
}

func (p MaskEffectParams) windowed() bool {
	return p.End > p.Start && p.Start >= 0
}

func (p GenerativeEditParams) windowed() bool {
	return p.End > p.Start && p.Start >= 0
}

// BlurObject segments the prompted object and composites a blur or pixelate
// effect over it. Windowed requests only process a clip around the window and
// splice it back, so segmentation cost scales with the window, not the video.
func (c *Coordinator) BlurObject(ctx context.Context, jobID string, params MaskEffectParams) (*jobs.Job, error) {
	if params.Prompt == "" {
		return nil, xerrors.InputError("an object prompt is required", nil)
	}
	if params.Effect == "" {
		params.Effect = video.EffectBlur
	}
	if params.Polarity == "" {
		params.Polarity = video.PolarityWhiteAffected
	}

	opName := string(params.Effect)
	return c.runOperation(ctx, jobID, opName, func(job *jobs.Job) (string, error) {
		source := job.LatestVideo()
		effect := video.MaskEffect{Kind: params.Effect, Strength: params.Strength, Polarity: params.Polarity}
		out := outputPath(job, opName)

		if !params.windowed() {
			mask, err := c.ensureMask(ctx, job, source, params.Prompt, false)
			if err != nil {
				return "", err
			}
			job.Stage = jobs.StageEditing
			if err := c.store.Update(job); err != nil {
				return "", err
			}
			if err := video.ApplyMaskEffect(job.ID, source, mask, out, effect); err != nil {
				return "", err
			}
			return out, nil
		}

		info, err := c.prober.ProbeFile(job.ID, source)
		if err != nil {
			return "", err
		}

		clipPath := filepath.Join(job.Dir, "work_clip.mp4")
		clipStart, clipEnd, err := video.ExtractClip(source, clipPath, params.Start, params.End, config.DefaultClipBuffer, info.Duration)
		if err != nil {
			return "", err
		}
		defer os.Remove(clipPath)
		log.Log(job.ID, "extracted work clip", "start", clipStart, "end", clipEnd)

		mask, err := c.ensureMask(ctx, job, clipPath, params.Prompt, true)
		if err != nil {
			return "", err
		}

		job.Stage = jobs.StageEditing
		if err := c.store.Update(job); err != nil {
			return "", err
		}
		fxPath := filepath.Join(job.Dir, "work_clip_fx.mp4")
		if err := video.ApplyMaskEffect(job.ID, clipPath, mask, fxPath, effect); err != nil {
			return "", err
		}
		defer os.Remove(fxPath)

		job.Stage = jobs.StageReconstructing
		if err := c.store.Update(job); err != nil {
			return "", err
		}
		if err := video.InsertSegment(job.ID, source, fxPath, out, params.Start, params.End, config.DefaultClipBuffer, job.Dir); err != nil {
			return "", err
		}
		return out, nil
	})
}

// ReplaceGenerative sends the video (or a windowed clip of it) through the
// generative backend. Videos longer than the backend's safe length are split
// into chunks, edited one by one with a shared reference frame to keep the
// result coherent, and concatenated back together.
func (c *Coordinator) ReplaceGenerative(ctx context.Context, jobID string, params GenerativeEditParams) (*jobs.Job, error) {
	if params.Prompt == "" {
		return nil, xerrors.InputError("a replacement prompt is required", nil)
	}
	if c.blob == nil {
		return nil, xerrors.MissingPrerequisite("generative edits require a configured blob store")
	}

	return c.runOperation(ctx, jobID, "replace", func(job *jobs.Job) (string, error) {
		prompt, err := c.analyzer.SimplifyPrompt(job.ID, params.Prompt)
		if err != nil {
			prompt = params.Prompt
		}
		if prompt != params.Prompt {
			log.Log(job.ID, "simplified edit prompt", "original", params.Prompt, "simplified", prompt)
		}

		source := job.LatestVideo()
		info, err := c.prober.ProbeFile(job.ID, source)
		if err != nil {
			return "", err
		}

		target := source
		if params.windowed() {
			clipPath := filepath.Join(job.Dir, "work_clip.mp4")
			if _, _, err := video.ExtractClip(source, clipPath, params.Start, params.End, config.DefaultClipBuffer, info.Duration); err != nil {
				return "", err
			}
			defer os.Remove(clipPath)
			target = clipPath
		}
		targetInfo, err := c.prober.ProbeFile(job.ID, target)
		if err != nil {
			return "", err
		}

		maskURL := ""
		if params.MaskPrompt != "" {
			maskPath, err := c.ensureMask(ctx, job, target, params.MaskPrompt, params.windowed())
			if err != nil {
				return "", err
			}
			maskKey := fmt.Sprintf("jobs/%s/%s", job.ID, filepath.Base(maskPath))
			if err := c.blob.PutFile(maskKey, maskPath, "video/mp4"); err != nil {
				return "", err
			}
			maskURL, err = c.blob.AccessibleURL(job.ID, maskKey)
			if err != nil {
				return "", err
			}
		}

		refURL := ""
		if params.ReferenceImageURL != "" {
			refPath := filepath.Join(job.Dir, "edit_user_reference.jpg")
			if _, err := clients.DownloadFile(ctx, job.ID, params.ReferenceImageURL, refPath); err != nil {
				log.LogError(job.ID, "failed to download reference image, continuing without it", err)
			} else {
				defer os.Remove(refPath)
				if url, err := c.uploadForEdit(job, refPath, "edit_reference.jpg"); err == nil {
					refURL = url
				} else {
					log.LogError(job.ID, "failed to upload reference image, continuing without it", err)
				}
			}
		}

		job.Stage = jobs.StageEditing
		if err := c.store.Update(job); err != nil {
			return "", err
		}

		edited, err := c.generativeEdit(ctx, job, target, targetInfo, prompt, maskURL, refURL, params.Seconds)
		if err != nil {
			return "", err
		}
		defer os.Remove(edited)

		out := outputPath(job, "replace")
		if !params.windowed() {
			if err := os.Rename(edited, out); err != nil {
				return "", fmt.Errorf("failed to move edited video: %w", err)
			}
			return out, nil
		}

		job.Stage = jobs.StageReconstructing
		if err := c.store.Update(job); err != nil {
			return "", err
		}
		if err := video.InsertSegment(job.ID, source, edited, out, params.Start, params.End, config.DefaultClipBuffer, job.Dir); err != nil {
			return "", err
		}
		return out, nil
	})
}

// generativeEdit runs target through the backend, chunking when it exceeds
// the per-call generation length. Returns a local path to the edited video.
func (c *Coordinator) generativeEdit(ctx context.Context, job *jobs.Job, target string, info video.VideoInfo, prompt, maskURL, userRefURL string, seconds float64) (string, error) {
	ratio := aspectRatioFor(info.Width, info.Height)
	chunkLen := chunkLength(c.cli.ChunkSeconds, seconds)

	if info.Duration <= chunkLen+0.25 {
		videoURL, err := c.uploadForEdit(job, target, "edit_input.mp4")
		if err != nil {
			return "", err
		}
		result, err := c.generative.Edit(ctx, job.ID, clients.EditRequest{
			VideoURL:          videoURL,
			Prompt:            prompt,
			MaskVideoURL:      maskURL,
			ReferenceImageURL: userRefURL,
			Seconds:           info.Duration,
			AspectRatio:       ratio,
		})
		if err != nil {
			return "", err
		}
		raw := filepath.Join(job.Dir, "edit_result_raw.mp4")
		if _, err := clients.DownloadFile(ctx, job.ID, result.OutputVideoURL, raw); err != nil {
			return "", err
		}
		defer os.Remove(raw)
		edited := filepath.Join(job.Dir, "edit_result.mp4")
		if err := video.TrimToDuration(raw, edited, info.Duration, info.HasAudio); err != nil {
			return "", err
		}
		return edited, nil
	}

	windows := splitChunks(info.Duration, chunkLen)
	log.Log(job.ID, "splitting video for generative edit", "duration", info.Duration, "chunks", len(windows))

	// cut and upload every chunk up front, uploads in parallel
	chunkPaths := make([]string, len(windows))
	chunkURLs := make([]string, len(windows))
	for i, w := range windows {
		chunkPaths[i] = filepath.Join(job.Dir, fmt.Sprintf("chunk_%03d.mp4", i))
		if _, _, err := video.ExtractClip(target, chunkPaths[i], w.start, w.start+w.duration, 0, info.Duration); err != nil {
			return "", err
		}
		defer os.Remove(chunkPaths[i])
	}
	var group errgroup.Group
	group.SetLimit(config.ChunkUploadParallelism)
	for i := range windows {
		i := i
		group.Go(func() error {
			url, err := c.uploadForEdit(job, chunkPaths[i], fmt.Sprintf("chunk_%03d.mp4", i))
			if err != nil {
				return err
			}
			chunkURLs[i] = url
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return "", err
	}

	// a caller-supplied reference anchors every chunk; otherwise the first
	// frame anchors the chunks after the first
	refURL := userRefURL
	if refURL == "" {
		refPath := filepath.Join(job.Dir, "edit_reference.png")
		if err := video.ExtractFrame(target, refPath, 0, nil); err == nil {
			defer os.Remove(refPath)
			if url, err := c.uploadForEdit(job, refPath, "edit_reference.png"); err == nil {
				refURL = url
			} else {
				log.LogError(job.ID, "failed to upload reference frame, chunks may drift", err)
			}
		}
	}

	editedChunks := make([]string, 0, len(windows))
	for i, w := range windows {
		req := clients.EditRequest{
			VideoURL:          chunkURLs[i],
			Prompt:            prompt,
			MaskVideoURL:      maskURL,
			ReferenceImageURL: chunkReference(refURL, userRefURL != "", i),
			Seconds:           w.duration,
			AspectRatio:       ratio,
		}
		result, err := c.generative.Edit(ctx, job.ID, req)
		if err != nil {
			return "", fmt.Errorf("chunk %d of %d failed: %w", i+1, len(windows), err)
		}

		raw := filepath.Join(job.Dir, fmt.Sprintf("chunk_%03d_raw.mp4", i))
		if _, err := clients.DownloadFile(ctx, job.ID, result.OutputVideoURL, raw); err != nil {
			return "", err
		}
		trimmed := filepath.Join(job.Dir, fmt.Sprintf("chunk_%03d_edited.mp4", i))
		if err := video.TrimToDuration(raw, trimmed, w.duration, info.HasAudio); err != nil {
			return "", err
		}
		_ = os.Remove(raw)
		editedChunks = append(editedChunks, trimmed)
		log.Log(job.ID, "edited chunk", "chunk", i+1, "of", len(windows))
	}

	job.Stage = jobs.StageReconstructing
	if err := c.store.Update(job); err != nil {
		return "", err
	}
	edited := filepath.Join(job.Dir, "edit_result.mp4")
	if err := video.Concat(editedChunks, edited); err != nil {
		return "", err
	}
	for _, chunk := range editedChunks {
		_ = os.Remove(chunk)
	}
	return edited, nil
}

// uploadForEdit pushes a local file to the blob store and returns a URL the
// generative backend can fetch.
func (c *Coordinator) uploadForEdit(job *jobs.Job, localPath, name string) (string, error) {
	contentType := editContentType(name)
	key := fmt.Sprintf("jobs/%s/edit/%s", job.ID, name)
	if err := c.blob.PutFile(key, localPath, contentType); err != nil {
		return "", err
	}
	return c.blob.AccessibleURL(job.ID, key)
}

func editContentType(name string) string {
	switch filepath.Ext(name) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "video/mp4"
	}
}

// chunkLength resolves the per-call generation length: the request's value
// when given, else the configured default.
func chunkLength(configured, requested float64) float64 {
	if requested > 0 {
		return requested
	}
	if configured <= 0 {
		return 5
	}
	return configured
}

// chunkReference picks the reference image for one chunk. A caller-supplied
// image applies to every chunk; the auto-extracted first frame only to chunks
// after the first, which the frame itself came from.
func chunkReference(refURL string, userSupplied bool, chunk int) string {
	if userSupplied || chunk > 0 {
		return refURL
	}
	return ""
}

type chunkWindow struct {
	start    float64
	duration float64
}

// splitChunks cuts duration into chunkLen windows. A trailing remainder
// shorter than a second is folded into the last chunk instead of becoming a
// degenerate call.
func splitChunks(duration, chunkLen float64) []chunkWindow {
	var windows []chunkWindow
	for start := 0.0; start < duration; start += chunkLen {
		windows = append(windows, chunkWindow{start: start, duration: math.Min(chunkLen, duration-start)})
	}
	if n := len(windows); n > 1 && windows[n-1].duration < 1.0 {
		windows[n-2].duration += windows[n-1].duration
		windows = windows[:n-1]
	}
	return windows
}

// aspectRatioFor maps frame dimensions onto the nearest ratio the generative
// backend accepts.
func aspectRatioFor(width, height int64) string {
	if width <= 0 || height <= 0 {
		return "16:9"
	}
	ratio := float64(width) / float64(height)
	best, bestDiff := "16:9", math.MaxFloat64
	for name, value := range map[string]float64{
		"16:9": 16.0 / 9.0,
		"9:16": 9.0 / 16.0,
		"1:1":  1.0,
		"4:3":  4.0 / 3.0,
	} {
		if diff := math.Abs(ratio - value); diff < bestDiff {
			best, bestDiff = name, diff
		}
	}
	return best
}
