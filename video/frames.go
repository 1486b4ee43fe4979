package video

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// Crop is a sub-rectangle expressed in percentages of the frame, matching the
// box coordinates reported by the analyzer.
type Crop struct {
	Top    float64 `json:"top"`
	Left   float64 `json:"left"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ExtractFrames writes every frame of source into outDir as
// frame_%06d.png and returns the paths in strict ascending order.
// A zero fps extracts at the source frame rate.
func ExtractFrames(source, outDir string, fps float64) ([]string, error) {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create frames dir: %w", err)
	}

	args := ffmpeg.KwArgs{}
	if fps > 0 {
		args["vf"] = fmt.Sprintf("fps=%.5f", fps)
	}
	err := runStream(
		ffmpeg.Input(source).Output(filepath.Join(outDir, "frame_%06d.png"), args),
		"frame extraction",
	)
	if err != nil {
		return nil, err
	}

	frames, err := filepath.Glob(filepath.Join(outDir, "frame_*.png"))
	if err != nil {
		return nil, fmt.Errorf("failed to list frames: %w", err)
	}
	sort.Strings(frames)
	return frames, nil
}

// ExtractFrame seeks to t and writes a single high quality JPEG/PNG frame,
// optionally cropped to a percentage box.
func ExtractFrame(source, outPath string, t float64, crop *Crop) error {
	args := ffmpeg.KwArgs{
		"vframes": 1,
		"q:v":     2,
	}
	if crop != nil {
		args["vf"] = fmt.Sprintf("crop=iw*%.4f:ih*%.4f:iw*%.4f:ih*%.4f",
			crop.Width/100, crop.Height/100, crop.Left/100, crop.Top/100)
	}
	return runStream(
		ffmpeg.Input(source, ffmpeg.KwArgs{"ss": formatTime(t)}).Output(outPath, args),
		"frame extraction",
	)
}

// BuildVideo encodes a frame_%06d.png sequence back into a video. When
// audioPath is non-empty it is muxed in and the output ends with the shorter
// stream.
func BuildVideo(framesDir, outPath string, fps float64, audioPath string) error {
	frames := ffmpeg.Input(filepath.Join(framesDir, "frame_%06d.png"), ffmpeg.KwArgs{"framerate": fmt.Sprintf("%.5f", fps)})

	args := encodeArgs(audioPath != "")
	if audioPath == "" {
		return runStream(frames.Output(outPath, args), "video build")
	}

	args["shortest"] = ""
	audio := ffmpeg.Input(audioPath)
	return runStream(ffmpeg.Output([]*ffmpeg.Stream{frames, audio}, outPath, args), "video build")
}

// ExtractAudio copies the audio track out of a video without re-encoding.
// Returns false when the video has no audio track.
func ExtractAudio(jobID, source, outPath string) (bool, error) {
	info, err := Probe{}.ProbeFile(jobID, source)
	if err != nil {
		return false, err
	}
	if !info.HasAudio {
		return false, nil
	}
	err = runStream(
		ffmpeg.Input(source).Output(outPath, ffmpeg.KwArgs{"vn": "", "acodec": "copy"}),
		"audio extraction",
	)
	if err != nil {
		return false, err
	}
	return true, nil
}

// ExtractAudioSample pulls a mono 22.05 kHz mp3 window out of a video, the
// format expected by the voice cloning endpoint.
func ExtractAudioSample(source, outPath string, start, end float64) error {
	return runStream(
		ffmpeg.Input(source, ffmpeg.KwArgs{"ss": formatTime(start)}).
			Output(outPath, ffmpeg.KwArgs{
				"to":    formatTime(end - start),
				"vn":    "",
				"c:a":   "libmp3lame",
				"ar":    22050,
				"ac":    1,
				"b:a":   "128k",
				"f":     "mp3",
			}),
		"audio sample extraction",
	)
}
