package video

import (
	"fmt"
	"strings"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

type EffectKind string

const (
	EffectBlur     EffectKind = "blur"
	EffectPixelate EffectKind = "pixelate"
)

// MaskPolarity states which luma value of the mask marks the affected region.
// Segmentation backends disagree on the convention.
type MaskPolarity string

const (
	PolarityWhiteAffected MaskPolarity = "white"
	PolarityBlackAffected MaskPolarity = "black"
)

type MaskEffect struct {
	Kind     EffectKind
	Strength int
	Polarity MaskPolarity
}

// BlurRadius maps a 0-100 strength onto the box blur radius range 10-100.
func BlurRadius(strength int) int {
	if strength < 10 {
		return 10
	}
	if strength > 100 {
		return 100
	}
	return strength
}

// PixelateBlockSize maps strength onto a pixel block size, monotonically
// inverse: stronger means smaller source resolution per block.
func PixelateBlockSize(strength int) int {
	block := 64 / (strength/10 + 1)
	if block < 8 {
		return 8
	}
	return block
}

// ApplyMaskEffect composites an effect over source wherever the mask video
// marks the affected region. The mask is rescaled to the exact source
// dimensions; unmasked pixels pass through untouched. Audio is copied when
// the source has a track.
func ApplyMaskEffect(jobID, source, maskVideo, outPath string, effect MaskEffect) error {
	info, err := Probe{}.ProbeFile(jobID, source)
	if err != nil {
		return err
	}

	var fx string
	switch effect.Kind {
	case EffectPixelate:
		block := PixelateBlockSize(effect.Strength)
		fx = fmt.Sprintf("scale=trunc(iw/%d):trunc(ih/%d),scale=%d:%d:flags=neighbor", block, block, info.Width, info.Height)
	default:
		radius := BlurRadius(effect.Strength)
		fx = fmt.Sprintf("boxblur=luma_radius=%d:luma_power=1", radius)
	}

	var graph strings.Builder
	fmt.Fprintf(&graph, "[1:v]scale=%d:%d,format=gray", info.Width, info.Height)
	if effect.Polarity == PolarityBlackAffected {
		graph.WriteString(",negate")
	}
	graph.WriteString("[mask];")
	fmt.Fprintf(&graph, "[0:v]format=yuv420p[base];")
	fmt.Fprintf(&graph, "[base]%s[fx];", fx)
	graph.WriteString("[base][fx][mask]maskedmerge[vout]")

	args := ffmpeg.KwArgs{
		"filter_complex": graph.String(),
		"map":            []string{"[vout]"},
		"c:v":            "libx264",
		"crf":            18,
		"preset":         "medium",
		"pix_fmt":        "yuv420p",
	}
	if info.HasAudio {
		args["map"] = []string{"[vout]", "0:a"}
		args["c:a"] = "copy"
	}

	streams := []*ffmpeg.Stream{ffmpeg.Input(source), ffmpeg.Input(maskVideo)}
	return runStream(ffmpeg.Output(streams, outPath, args), "mask composite")
}
