package video

import (
	"bytes"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"
	xerrors "github.com/vidmod/vidmod-api/errors"
)

// VideoInfo holds the probed properties of a source video that the pipeline
// needs to plan edits: exact frame rate, dimensions and audio presence.
type VideoInfo struct {
	Width       int64   `json:"width"`
	Height      int64   `json:"height"`
	FPS         float64 `json:"fps"`
	FPSRational string  `json:"fpsRational,omitempty"`
	Duration    float64 `json:"duration"`
	Codec       string  `json:"codec"`
	PixelFormat string  `json:"pixelFormat,omitempty"`
	HasAudio    bool    `json:"hasAudio"`
	AudioCodec  string  `json:"audioCodec,omitempty"`
	TotalFrames int64   `json:"totalFrames"`
	SizeBytes   int64   `json:"sizeBytes,omitempty"`
}

// format time in secs to be compatible with ffmpeg's expected time syntax
func formatTime(timeSeconds float64) string {
	timeMillis := int64(timeSeconds * 1000)
	duration := time.Duration(timeMillis) * time.Millisecond
	formattedTime := time.Date(0, 1, 1, 0, 0, 0, 0, time.UTC).Add(duration)
	return formattedTime.Format("15:04:05.000")
}

func clampTime(t, duration float64) float64 {
	if t < 0 {
		return 0
	}
	if t > duration {
		return duration
	}
	return t
}

const maxStderrBytes = 1000

// runStream executes an assembled ffmpeg invocation, capturing stderr so a
// failed subprocess surfaces its tail in the returned error.
func runStream(stream *ffmpeg.Stream, action string) error {
	var stderr bytes.Buffer
	err := stream.OverWriteOutput().WithErrorOutput(&stderr).Run()
	if err != nil {
		out := stderr.Bytes()
		if len(out) > maxStderrBytes {
			out = out[len(out)-maxStderrBytes:]
		}
		return xerrors.MediaError(action+" failed", string(out), err)
	}
	return nil
}
