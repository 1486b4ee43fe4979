package video

import (
	"fmt"
	"math"
	"os"
	"strings"

	ffmpeg "github.com/u2takey/ffmpeg-go"
	xerrors "github.com/vidmod/vidmod-api/errors"
)

// Overlay is an audio snippet mixed over the base track at a millisecond
// offset. Duration is needed to place the fade-out.
type Overlay struct {
	Path     string
	StartMs  int
	Duration float64
	Gain     float64
}

// MuteWindow silences the base track over [Start, End] seconds.
type MuteWindow struct {
	Start float64
	End   float64
}

const overlayFade = 0.02

// MixAudio mutes the listed windows of baseVideo's audio (padded by mutePad
// on each side), lays each overlay on top at its offset with short fades, and
// writes the result with the original video track copied through.
func MixAudio(baseVideo string, overlays []Overlay, mutes []MuteWindow, outPath string, mutePad float64) error {
	if len(overlays) == 0 && len(mutes) == 0 {
		return xerrors.InputError("nothing to mix", nil)
	}

	var graph strings.Builder

	base := "[0:a]"
	if len(mutes) > 0 {
		conds := make([]string, len(mutes))
		for i, m := range mutes {
			start := m.Start - mutePad
			if start < 0 {
				start = 0
			}
			conds[i] = fmt.Sprintf("between(t,%.3f,%.3f)", start, m.End+mutePad)
		}
		fmt.Fprintf(&graph, "[0:a]volume=enable='%s':volume=0[base];", strings.Join(conds, "+"))
		base = "[base]"
	}

	mixInputs := []string{base}
	for i, ov := range overlays {
		gain := ov.Gain
		if gain == 0 {
			gain = 1.0
		}
		fadeOutStart := ov.Duration - overlayFade
		if fadeOutStart < 0 {
			fadeOutStart = 0
		}
		label := fmt.Sprintf("[ov%d]", i)
		fmt.Fprintf(&graph,
			"[%d:a]afade=t=in:st=0:d=%.3f,afade=t=out:st=%.3f:d=%.3f,volume=%.2f,adelay=%d|%d%s;",
			i+1, overlayFade, fadeOutStart, overlayFade, gain, ov.StartMs, ov.StartMs, label)
		mixInputs = append(mixInputs, label)
	}

	fmt.Fprintf(&graph, "%samix=inputs=%d:duration=first:dropout_transition=0:normalize=0[aout]",
		strings.Join(mixInputs, ""), len(mixInputs))

	streams := make([]*ffmpeg.Stream, 0, len(overlays)+1)
	streams = append(streams, ffmpeg.Input(baseVideo))
	for _, ov := range overlays {
		streams = append(streams, ffmpeg.Input(ov.Path))
	}

	args := ffmpeg.KwArgs{
		"filter_complex": graph.String(),
		"map":            []string{"0:v", "[aout]"},
		"c:v":            "copy",
		"c:a":            "aac",
		"b:a":            "192k",
	}
	return runStream(ffmpeg.Output(streams, outPath, args), "audio mix")
}

// TimeStretch trims leading and trailing silence off audio, then tempo-adjusts
// it to exactly targetDuration seconds, ending with a hard trim and micro
// fades. The output duration lands within 50 ms of the target.
func TimeStretch(audio, outPath string, targetDuration float64) error {
	if targetDuration <= 0 {
		return xerrors.InputError("target duration must be positive", nil)
	}

	trimmed := outPath + ".trimmed.mp3"
	err := runStream(
		ffmpeg.Input(audio).Output(trimmed, ffmpeg.KwArgs{
			"af": "silenceremove=start_periods=1:start_threshold=-50dB:stop_periods=1:stop_threshold=-50dB",
		}),
		"silence trim",
	)
	if err != nil {
		return err
	}
	defer os.Remove(trimmed)

	sourceDuration, err := ProbeMediaDuration(trimmed)
	if err != nil {
		return err
	}
	if sourceDuration <= 0 {
		// fully silent input, keep the original timing
		sourceDuration = targetDuration
	}

	tempo := sourceDuration / targetDuration
	filters := atempoChain(tempo)
	fadeOutStart := targetDuration - overlayFade
	if fadeOutStart < 0 {
		fadeOutStart = 0
	}
	filters = append(filters,
		fmt.Sprintf("atrim=0:%.3f", targetDuration),
		fmt.Sprintf("afade=t=in:st=0:d=%.3f", overlayFade),
		fmt.Sprintf("afade=t=out:st=%.3f:d=%.3f", fadeOutStart, overlayFade),
	)

	return runStream(
		ffmpeg.Input(trimmed).Output(outPath, ffmpeg.KwArgs{"af": strings.Join(filters, ",")}),
		"time stretch",
	)
}

// atempoChain decomposes an arbitrary tempo factor into stages within the
// atempo filter's [0.5, 2.0] domain.
func atempoChain(tempo float64) []string {
	var filters []string
	for tempo > 2.0 {
		filters = append(filters, "atempo=2.0")
		tempo /= 2.0
	}
	for tempo < 0.5 {
		filters = append(filters, "atempo=0.5")
		tempo /= 0.5
	}
	if math.Abs(tempo-1.0) > 0.001 {
		filters = append(filters, fmt.Sprintf("atempo=%.5f", tempo))
	}
	return filters
}

// GenerateBeep writes a 1 kHz sine tone of exactly duration seconds.
func GenerateBeep(outPath string, duration, volume float64) error {
	if volume <= 0 {
		volume = 0.5
	}
	return runStream(
		ffmpeg.Input(fmt.Sprintf("sine=frequency=1000:duration=%.3f", duration), ffmpeg.KwArgs{"f": "lavfi"}).
			Output(outPath, ffmpeg.KwArgs{"af": fmt.Sprintf("volume=%.2f", volume)}),
		"beep generation",
	)
}
