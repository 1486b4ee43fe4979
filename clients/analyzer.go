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
	"sort"
	"time"
)

// Finding is a single flagged segment of a video, sorted by start time.
type Finding struct {
	ID              string   `json:"id,omitempty"`
	Category        string   `json:"category"`
	Content         string   `json:"content"`
	StartTime       float64  `json:"startTime"`
	EndTime         float64  `json:"endTime"`
	Status          string   `json:"status"`
	Confidence      string   `json:"confidence"`
	Box             *BoxPct  `json:"box,omitempty"`
	SuggestedAction string   `json:"suggestedAction,omitempty"`
}

// BoxPct is a bounding box in percentages of the frame.
type BoxPct struct {
	Top    float64 `json:"top"`
	Left   float64 `json:"left"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type VideoAnalysis struct {
	Findings           []Finding `json:"findings"`
	Summary            string    `json:"summary"`
	RiskLevel          string    `json:"riskLevel"`
	PredictedAgeRating string    `json:"predictedAgeRating"`
}

// ProfanityMatch is a phrase-level detection on the audio track. Word may
// span multiple spoken words.
type ProfanityMatch struct {
	Word        string  `json:"word"`
	StartTime   float64 `json:"start_time"`
	EndTime     float64 `json:"end_time"`
	Replacement string  `json:"replacement"`
	Confidence  string  `json:"confidence"`
	Context     string  `json:"context,omitempty"`
	SpeakerID   string  `json:"speaker_id,omitempty"`
}

type RegionAnalysis struct {
	ItemName         string   `json:"itemName"`
	Reasoning        string   `json:"reasoning"`
	Confidence       string   `json:"confidence"`
	SuggestedActions []string `json:"suggestedActions"`
}

// AnalyzerClient wraps the LLM analysis backend: full-video findings, audio
// profanity timing, single-region identification, replacement suggestions
// and prompt simplification.
type AnalyzerClient interface {
	AnalyzeVideo(jobID, videoPath string) (VideoAnalysis, error)
	AnalyzeAudio(jobID, videoPath string, customWords []string) ([]ProfanityMatch, error)
	AnalyzeRegion(jobID, framePath string, box BoxPct) (RegionAnalysis, error)
	SuggestAlternatives(jobID, word string, approxDuration float64, n int) ([]string, error)
	SimplifyPrompt(jobID, complex string) (string, error)
}

type analyzerClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewAnalyzerClient(baseURL, apiKey string) AnalyzerClient {
	return &analyzerClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  newRetryableClient(5 * time.Minute),
	}
}

func (a *analyzerClient) AnalyzeVideo(jobID, videoPath string) (VideoAnalysis, error) {
	var out VideoAnalysis
	if err := a.postVideo(jobID, "/v1/analyze/video", videoPath, nil, &out); err != nil {
		return VideoAnalysis{}, err
	}
	sort.Slice(out.Findings, func(i, j int) bool {
		return out.Findings[i].StartTime < out.Findings[j].StartTime
	})
	return out, nil
}

func (a *analyzerClient) AnalyzeAudio(jobID, videoPath string, customWords []string) ([]ProfanityMatch, error) {
	var matches []ProfanityMatch
	fields := map[string]string{}
	if len(customWords) > 0 {
		words, err := json.Marshal(customWords)
		if err != nil {
			return nil, err
		}
		fields["custom_words"] = string(words)
	}
	if err := a.postVideo(jobID, "/v1/analyze/audio", videoPath, fields, &matches); err != nil {
		return nil, err
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].StartTime < matches[j].StartTime
	})
	return matches, nil
}

func (a *analyzerClient) AnalyzeRegion(jobID, framePath string, box BoxPct) (RegionAnalysis, error) {
	boxJSON, err := json.Marshal(box)
	if err != nil {
		return RegionAnalysis{}, err
	}
	var out RegionAnalysis
	err = a.postVideo(jobID, "/v1/analyze/region", framePath, map[string]string{"box": string(boxJSON)}, &out)
	return out, err
}

func (a *analyzerClient) SuggestAlternatives(jobID, word string, approxDuration float64, n int) ([]string, error) {
	var out []string
	err := a.postJSON("/v1/suggest", map[string]interface{}{
		"word":        word,
		"duration":    approxDuration,
		"suggestions": n,
	}, &out)
	return out, err
}

func (a *analyzerClient) SimplifyPrompt(jobID, complex string) (string, error) {
	var out struct {
		Simplified string `json:"simplified"`
	}
	err := a.postJSON("/v1/simplify", map[string]interface{}{"prompt": complex}, &out)
	if err != nil {
		// a failed simplification should never block the edit itself
		return complex, nil
	}
	if out.Simplified == "" {
		return complex, nil
	}
	return out.Simplified, nil
}

func (a *analyzerClient) postJSON(path string, payload interface{}, out interface{}) error {
	defer observeExternalCall("analyzer", time.Now())
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, a.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("analyzer request failed: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, "analyzer"); err != nil {
		return err
	}
	return decodeModelJSON(resp.Body, out)
}

func (a *analyzerClient) postVideo(jobID, path, mediaPath string, fields map[string]string, out interface{}) error {
	defer observeExternalCall("analyzer", time.Now())
	f, err := os.Open(mediaPath)
	if err != nil {
		return fmt.Errorf("failed to open %q: %w", mediaPath, err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(mediaPath))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return err
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return err
		}
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, a.baseURL+path, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("analyzer request failed: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, "analyzer"); err != nil {
		return err
	}
	return decodeModelJSON(resp.Body, out)
}

// decodeModelJSON tolerates the analyzer model wrapping its JSON answer in
// markdown code fences.
func decodeModelJSON(r io.Reader, out interface{}) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	cleaned := stripMarkdownFences(string(raw))
	if err := json.Unmarshal([]byte(cleaned), out); err != nil {
		return fmt.Errorf("analyzer returned invalid JSON: %w", err)
	}
	return nil
}
