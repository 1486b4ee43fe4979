package pipeline

import (
	"context"
	"crypto/md5"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vidmod/vidmod-api/clients"
	"github.com/vidmod/vidmod-api/jobs"
	"github.com/vidmod/vidmod-api/log"
	"github.com/vidmod/vidmod-api/metrics"
)

// maskFilename is the cache key for a segmentation mask: a readable slug of
// the prompt plus a hash so prompts that slug identically do not collide.
// Clip masks are keyed separately since they align to clip-local timestamps.
func maskFilename(prompt string, clip bool) string {
	lower := strings.ToLower(strings.TrimSpace(prompt))
	hash := fmt.Sprintf("%x", md5.Sum([]byte(lower)))[:8]

	var slug strings.Builder
	for _, r := range lower {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			slug.WriteRune(r)
		} else {
			slug.WriteRune('_')
		}
	}
	cleaned := slug.String()
	for strings.Contains(cleaned, "__") {
		cleaned = strings.ReplaceAll(cleaned, "__", "_")
	}
	cleaned = strings.Trim(cleaned, "_")
	if len(cleaned) > 20 {
		cleaned = cleaned[:20]
	}

	suffix := ""
	if clip {
		suffix = "_clip"
	}
	return fmt.Sprintf("mask_%s_%s%s.mp4", cleaned, hash, suffix)
}

// ensureMask returns a mask video for prompt over source, reusing the cached
// copy in the job directory when the same prompt was segmented before.
// Editing the same object repeatedly (blur it, then pixelate it harder) only
// pays for segmentation once.
func (c *Coordinator) ensureMask(ctx context.Context, job *jobs.Job, source, prompt string, clip bool) (string, error) {
	maskPath := filepath.Join(job.Dir, maskFilename(prompt, clip))
	if _, err := os.Stat(maskPath); err == nil {
		metrics.Metrics.MaskCacheHitCount.Inc()
		log.Log(job.ID, "reusing cached segmentation mask", "mask", filepath.Base(maskPath))
		return maskPath, nil
	}
	metrics.Metrics.MaskCacheMissCount.Inc()

	job.Stage = jobs.StageSegmenting
	if err := c.store.Update(job); err != nil {
		return "", err
	}

	result, err := c.segmenter.Segment(job.ID, clients.SegmentRequest{
		VideoPath: source,
		Prompt:    prompt,
		MaskOnly:  true,
	})
	if err != nil {
		return "", err
	}
	if _, err := clients.DownloadFile(ctx, job.ID, result.MaskVideoURL, maskPath); err != nil {
		return "", err
	}
	return maskPath, nil
}
