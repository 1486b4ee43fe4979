package clients

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	xerrors "github.com/vidmod/vidmod-api/errors"
	"github.com/vidmod/vidmod-api/log"
)

// SegmentRequest asks the segmentation backend for a mask video aligned to
// the input. Either VideoURL or VideoPath must be set; a local path is
// uploaded to the backend's ingest.
type SegmentRequest struct {
	VideoURL       string
	VideoPath      string
	Prompt         string
	MaskOnly       bool
	OverlayColor   string
	OverlayOpacity float64
}

type SegmentResult struct {
	MaskVideoURL string
	MaskOnly     bool
}

// SegmentationClient wraps the text-prompted video segmentation backend.
type SegmentationClient interface {
	Segment(jobID string, req SegmentRequest) (SegmentResult, error)
}

type segmentationClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewSegmentationClient(baseURL, apiKey string) SegmentationClient {
	return &segmentationClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  newRetryableClient(10 * time.Minute),
	}
}

func (s *segmentationClient) Segment(jobID string, req SegmentRequest) (SegmentResult, error) {
	defer observeExternalCall("segmentation", time.Now())
	if req.Prompt == "" {
		return SegmentResult{}, xerrors.InputError("segmentation prompt is required", nil)
	}
	if req.VideoURL == "" && req.VideoPath == "" {
		return SegmentResult{}, xerrors.InputError("segmentation requires a video URL or path", nil)
	}

	videoURL := req.VideoURL
	if videoURL == "" {
		uploaded, err := s.uploadVideo(jobID, req.VideoPath)
		if err != nil {
			return SegmentResult{}, err
		}
		videoURL = uploaded
	}

	color := req.OverlayColor
	if color == "" {
		color = "green"
	}
	opacity := req.OverlayOpacity
	if opacity == 0 {
		opacity = 0.5
	}
	payload, err := json.Marshal(map[string]interface{}{
		"video":        videoURL,
		"prompt":       req.Prompt,
		"mask_only":    req.MaskOnly,
		"mask_color":   color,
		"mask_opacity": opacity,
	})
	if err != nil {
		return SegmentResult{}, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, s.baseURL+"/v1/segment", bytes.NewReader(payload))
	if err != nil {
		return SegmentResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)

	log.Log(jobID, "running segmentation", "prompt", req.Prompt, "mask_only", req.MaskOnly)
	resp, err := s.client.Do(httpReq)
	if err != nil {
		return SegmentResult{}, fmt.Errorf("segmentation request failed: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, "segmentation"); err != nil {
		return SegmentResult{}, err
	}

	var body struct {
		OutputURL string `json:"output_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return SegmentResult{}, fmt.Errorf("failed to decode segmentation response: %w", err)
	}
	if body.OutputURL == "" {
		return SegmentResult{}, xerrors.Backend("no output URL in segmentation response", nil)
	}
	return SegmentResult{MaskVideoURL: body.OutputURL, MaskOnly: req.MaskOnly}, nil
}

// uploadVideo pushes a local file to the backend's ingest endpoint and
// returns the URL it assigns.
func (s *segmentationClient) uploadVideo(jobID, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %q: %w", path, err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequest(http.MethodPost, s.baseURL+"/v1/uploads", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("segmentation upload failed: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, "segmentation"); err != nil {
		return "", err
	}

	var uploaded struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&uploaded); err != nil {
		return "", fmt.Errorf("failed to decode upload response: %w", err)
	}
	log.Log(jobID, "uploaded video to segmentation ingest", "url", uploaded.URL)
	return uploaded.URL, nil
}
