package video

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	ffmpeg "github.com/u2takey/ffmpeg-go"
	"github.com/vidmod/vidmod-api/log"
)

// fps differences below this are treated as equal and skip re-encoding
const fpsTolerance = 0.5

// encodeArgs is the common encode profile for every re-encoded intermediate,
// chosen for broad player compatibility.
func encodeArgs(hasAudio bool) ffmpeg.KwArgs {
	args := ffmpeg.KwArgs{
		"c:v":     "libx264",
		"crf":     18,
		"preset":  "medium",
		"pix_fmt": "yuv420p",
	}
	if hasAudio {
		args["c:a"] = "aac"
		args["b:a"] = "192k"
	}
	return args
}

// ExtractClip stream-copies the [start-buffer, end+buffer] window of source
// into outPath, clamped to the video bounds. Returns the clamped window so
// the caller can stitch the processed clip back at the right offsets.
func ExtractClip(source, outPath string, start, end, buffer, duration float64) (float64, float64, error) {
	clipStart := clampTime(start-buffer, duration)
	clipEnd := clampTime(end+buffer, duration)
	if clipEnd <= clipStart {
		return 0, 0, fmt.Errorf("invalid clip window [%f, %f]", clipStart, clipEnd)
	}

	err := runStream(
		ffmpeg.Input(source, ffmpeg.KwArgs{"ss": formatTime(clipStart)}).
			Output(outPath, ffmpeg.KwArgs{
				"to":                formatTime(clipEnd - clipStart),
				"c":                 "copy",
				"avoid_negative_ts": "make_zero",
			}),
		"clip extraction",
	)
	if err != nil {
		return 0, 0, err
	}
	return clipStart, clipEnd, nil
}

// Concat joins clips in order via the concat demuxer without re-encoding.
// All clips must share codec parameters.
func Concat(clips []string, outPath string) error {
	if len(clips) == 0 {
		return fmt.Errorf("no clips to concatenate")
	}
	listPath := outPath + ".txt"
	f, err := os.Create(listPath)
	if err != nil {
		return fmt.Errorf("failed to create concat list: %w", err)
	}
	for _, clip := range clips {
		abs, err := filepath.Abs(clip)
		if err != nil {
			abs = clip
		}
		if _, err := fmt.Fprintf(f, "file '%s'\n", abs); err != nil {
			f.Close()
			return fmt.Errorf("failed to write concat list: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close concat list: %w", err)
	}
	defer os.Remove(listPath)

	return runStream(
		ffmpeg.Input(listPath, ffmpeg.KwArgs{"f": "concat", "safe": "0"}).
			Output(outPath, ffmpeg.KwArgs{"c": "copy"}),
		"concat",
	)
}

// NormalizeFPS re-encodes source to targetFps and returns the path to use.
// When the source is already within tolerance of the target the input path
// is returned untouched.
func NormalizeFPS(jobID, source, outPath string, targetFps float64) (string, error) {
	info, err := Probe{}.ProbeFile(jobID, source)
	if err != nil {
		return "", err
	}
	if math.Abs(info.FPS-targetFps) <= fpsTolerance {
		return source, nil
	}

	log.Log(jobID, "normalizing fps", "from", info.FPS, "to", targetFps)
	args := encodeArgs(info.HasAudio)
	args["vf"] = fmt.Sprintf("fps=%.5f", targetFps)
	err = runStream(ffmpeg.Input(source).Output(outPath, args), "fps normalization")
	if err != nil {
		return "", err
	}
	return outPath, nil
}

// InsertSegment splices processed back into original over the window that was
// clipped out: pre [0, start-buffer), processed, post (end+buffer, duration].
// The processed clip is fps-normalized to the original first so the splice
// does not change playback speed.
func InsertSegment(jobID, original, processed, outPath string, start, end, buffer float64, workDir string) error {
	info, err := Probe{}.ProbeFile(jobID, original)
	if err != nil {
		return err
	}

	normalized, err := NormalizeFPS(jobID, processed, filepath.Join(workDir, "normalized_segment.mp4"), info.FPS)
	if err != nil {
		return err
	}

	preEnd := clampTime(start-buffer, info.Duration)
	postStart := clampTime(end+buffer, info.Duration)

	var parts []string
	if preEnd > 0.05 {
		prePath := filepath.Join(workDir, "stitch_pre.mp4")
		if err := encodeSegment(original, prePath, 0, preEnd, info.HasAudio); err != nil {
			return err
		}
		parts = append(parts, prePath)
	}

	// re-encode the middle with the same profile so the demuxer concat is valid
	midPath := filepath.Join(workDir, "stitch_mid.mp4")
	if err := runStream(
		ffmpeg.Input(normalized).Output(midPath, encodeArgs(info.HasAudio)),
		"segment encode",
	); err != nil {
		return err
	}
	parts = append(parts, midPath)

	if info.Duration-postStart > 0.05 {
		postPath := filepath.Join(workDir, "stitch_post.mp4")
		if err := encodeSegment(original, postPath, postStart, info.Duration, info.HasAudio); err != nil {
			return err
		}
		parts = append(parts, postPath)
	}

	if err := Concat(parts, outPath); err != nil {
		return err
	}
	for _, part := range parts {
		_ = os.Remove(part)
	}
	return nil
}

func encodeSegment(source, outPath string, start, end float64, hasAudio bool) error {
	args := encodeArgs(hasAudio)
	args["to"] = formatTime(end - start)
	return runStream(
		ffmpeg.Input(source, ffmpeg.KwArgs{"ss": formatTime(start)}).Output(outPath, args),
		"segment encode",
	)
}

// TrimToDuration re-encodes a clip down to exactly target seconds. Generative
// backends can over-produce, so every chunk result is trimmed to its source
// chunk duration before concatenation.
func TrimToDuration(source, outPath string, target float64, hasAudio bool) error {
	args := encodeArgs(hasAudio)
	args["to"] = formatTime(target)
	return runStream(ffmpeg.Input(source).Output(outPath, args), "trim")
}
