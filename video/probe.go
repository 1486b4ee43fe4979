package video

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/vidmod/vidmod-api/log"
	"gopkg.in/vansante/go-ffprobe.v2"
)

var unsupportedVideoCodecList = []string{"mjpeg", "jpeg", "png"}

type Prober interface {
	ProbeFile(jobID, url string, ffProbeOptions ...string) (VideoInfo, error)
}

type Probe struct {
	IgnoreErrMessages []string
}

func (p Probe) ProbeFile(jobID string, url string, ffProbeOptions ...string) (VideoInfo, error) {
	iv, err := p.runProbe(url, ffProbeOptions...)
	if err == nil {
		return iv, nil
	}

	// ignore these probing errors if found and re-run with fatal loglevel to obtain the probe data
	errMsg := strings.ToLower(err.Error())
	for _, ignoreMsg := range p.IgnoreErrMessages {
		if strings.Contains(errMsg, ignoreMsg) {
			log.Log(jobID, "ignoring probe error", "err", err)
			return p.runProbe(url, "-loglevel", "fatal")
		}
	}
	return VideoInfo{}, err
}

func (p Probe) runProbe(url string, ffProbeOptions ...string) (iv VideoInfo, err error) {
	if len(ffProbeOptions) == 0 {
		ffProbeOptions = []string{"-loglevel", "error"}
	}
	var data *ffprobe.ProbeData
	operation := func() error {
		probeCtx, probeCancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer probeCancel()
		data, err = ffprobe.ProbeURL(probeCtx, url, ffProbeOptions...)
		return err
	}

	backOff := backoff.NewExponentialBackOff()
	backOff.InitialInterval = 500 * time.Millisecond
	backOff.MaxInterval = 2 * time.Second
	backOff.MaxElapsedTime = 0 // don't impose a timeout as part of the retries
	err = backoff.Retry(operation, backoff.WithMaxRetries(backOff, 3))
	if err != nil {
		return VideoInfo{}, fmt.Errorf("error probing: %w", err)
	}
	return parseProbeOutput(data)
}

func parseProbeOutput(probeData *ffprobe.ProbeData) (VideoInfo, error) {
	videoStream := probeData.FirstVideoStream()
	if videoStream == nil {
		return VideoInfo{}, errors.New("error checking for video: no video stream found")
	}
	for _, codec := range unsupportedVideoCodecList {
		if strings.ToLower(videoStream.CodecName) == codec {
			return VideoInfo{}, fmt.Errorf("error checking for video: %s is not supported", videoStream.CodecName)
		}
	}
	// We rely on this being present to get required information about the input video, so error out if it isn't
	if probeData.Format == nil {
		return VideoInfo{}, fmt.Errorf("error parsing input video: format information missing")
	}

	fpsRational := videoStream.AvgFrameRate
	fps, err := parseFps(videoStream.AvgFrameRate)
	if err != nil {
		return VideoInfo{}, fmt.Errorf("error parsing avg fps from probed data: %w", err)
	}
	if fps == 0 {
		fpsRational = videoStream.RFrameRate
		fps, err = parseFps(videoStream.RFrameRate)
		if err != nil {
			return VideoInfo{}, fmt.Errorf("error parsing real fps from probed data: %w", err)
		}
	}

	duration, err := strconv.ParseFloat(videoStream.Duration, 64)
	if err != nil {
		duration = probeData.Format.DurationSeconds
	}

	size, _ := strconv.ParseInt(probeData.Format.Size, 10, 64)

	iv := VideoInfo{
		Width:       int64(videoStream.Width),
		Height:      int64(videoStream.Height),
		FPS:         fps,
		FPSRational: fpsRational,
		Duration:    duration,
		Codec:       videoStream.CodecName,
		PixelFormat: videoStream.PixFmt,
		TotalFrames: int64(duration * fps),
		SizeBytes:   size,
	}

	if audioStream := probeData.FirstAudioStream(); audioStream != nil {
		iv.HasAudio = true
		iv.AudioCodec = audioStream.CodecName
	}

	return iv, nil
}

// ProbeMediaDuration returns the duration of any media file, audio-only
// included. Used to verify time-stretched dub overlays.
func ProbeMediaDuration(path string) (float64, error) {
	probeCtx, probeCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer probeCancel()
	data, err := ffprobe.ProbeURL(probeCtx, path, "-loglevel", "error")
	if err != nil {
		return 0, fmt.Errorf("error probing %s: %w", path, err)
	}
	if data.Format == nil {
		return 0, fmt.Errorf("error probing %s: format information missing", path)
	}
	return data.Format.DurationSeconds, nil
}

func parseFps(framerate string) (float64, error) {
	if framerate == "" {
		return 0, nil
	}
	parts := strings.SplitN(framerate, "/", 2)
	if len(parts) < 2 {
		fps, err := strconv.ParseFloat(framerate, 64)
		if err != nil {
			return 0, fmt.Errorf("error parsing framerate: %w", err)
		}
		return fps, nil
	}
	num, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("error parsing framerate numerator: %w", err)
	}
	den, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("error parsing framerate denominator: %w", err)
	}

	if den == 0 {
		// 0/0 can be valid for a video track i.e. mjpeg
		if num == 0 {
			return 0, nil
		}
		return 0, errors.New("invalid framerate denominator 0")
	}

	return float64(num) / float64(den), nil
}
