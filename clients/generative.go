package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/vidmod/vidmod-api/config"
	xerrors "github.com/vidmod/vidmod-api/errors"
	"github.com/vidmod/vidmod-api/log"
)

const generativePollDelay = 10 * time.Second

// EditRequest describes one generative edit call. VideoURL must be publicly
// fetchable by the backend; the caller signs or inlines it beforehand.
type EditRequest struct {
	VideoURL          string
	Prompt            string
	MaskVideoURL      string
	ReferenceImageURL string
	Seconds           float64
	AspectRatio       string
}

type EditResult struct {
	OutputVideoURL string
}

// GenerativeEditClient wraps a video-to-video editing backend that works as
// an async task API: create, then poll until SUCCEEDED or FAILED.
type GenerativeEditClient interface {
	Edit(ctx context.Context, jobID string, req EditRequest) (EditResult, error)
}

type generativeClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewGenerativeEditClient(baseURL, apiKey string) GenerativeEditClient {
	return &generativeClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  newRetryableClient(60 * time.Second),
	}
}

// aspect ratios the backend accepts, mapped from the common names
var ratioMap = map[string]string{
	"16:9": "1280:720",
	"9:16": "720:1280",
	"1:1":  "1024:1024",
	"4:3":  "1024:768",
}

func (g *generativeClient) Edit(ctx context.Context, jobID string, req EditRequest) (EditResult, error) {
	defer observeExternalCall("generative", time.Now())
	if req.VideoURL == "" {
		return EditResult{}, xerrors.MissingPrerequisite("generative edit requires a publicly accessible video URL")
	}

	ratio, ok := ratioMap[req.AspectRatio]
	if !ok {
		ratio = ratioMap["16:9"]
	}
	payload := map[string]interface{}{
		"videoUri":   req.VideoURL,
		"promptText": req.Prompt,
		"ratio":      ratio,
	}
	if req.MaskVideoURL != "" {
		payload["maskUri"] = req.MaskVideoURL
	}
	if req.ReferenceImageURL != "" {
		payload["referenceImageUri"] = req.ReferenceImageURL
	}
	if req.Seconds > 0 {
		payload["duration"] = int(req.Seconds + 0.5)
	}

	taskID, err := g.createTask(payload)
	if err != nil {
		return EditResult{}, err
	}
	log.Log(jobID, "created generative edit task", "task_id", taskID, "prompt", req.Prompt)

	outputURL, err := g.pollTask(ctx, jobID, taskID)
	if err != nil {
		return EditResult{}, err
	}
	return EditResult{OutputVideoURL: outputURL}, nil
}

func (g *generativeClient) createTask(payload map[string]interface{}) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequest(http.MethodPost, g.baseURL+"/v1/video_to_video", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("generative edit request failed: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, "generative edit"); err != nil {
		return "", err
	}

	var task struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&task); err != nil {
		return "", fmt.Errorf("failed to decode task response: %w", err)
	}
	if task.ID == "" {
		return "", xerrors.Backend("no task ID in generative edit response", nil)
	}
	return task.ID, nil
}

// pollTask waits for the task to settle, bounded by the configured edit
// timeout.
func (g *generativeClient) pollTask(ctx context.Context, jobID, taskID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, config.GenerativeEditTimeout)
	defer cancel()

	ticker := time.NewTicker(generativePollDelay)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			// don't cancel the task, let it finish on the backend
			return "", xerrors.Timeout(fmt.Sprintf("generative edit task %s did not complete in time", taskID), ctx.Err())
		case <-ticker.C:
			// continue below
		}

		task, err := g.getTask(taskID)
		if err != nil {
			if xerrors.IsRateLimited(err) {
				log.Log(jobID, "rate limited polling generative edit task", "task_id", taskID)
				continue
			}
			return "", err
		}

		switch task.Status {
		case "SUCCEEDED":
			url := task.outputURL()
			if url == "" {
				return "", xerrors.Backend(fmt.Sprintf("no output URL in completed task %s", taskID), nil)
			}
			log.Log(jobID, "generative edit task completed", "task_id", taskID)
			return url, nil
		case "FAILED":
			return "", xerrors.Backend(fmt.Sprintf("generative edit task failed: %s", task.Error), nil)
		default:
			log.Log(jobID, "generative edit task still running", "task_id", taskID, "status", task.Status)
		}
	}
}

type generativeTask struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  string          `json:"error"`
}

// outputURL handles the two shapes the backend emits: a bare string or a
// list of URLs.
func (t generativeTask) outputURL() string {
	var single string
	if err := json.Unmarshal(t.Output, &single); err == nil {
		return single
	}
	var list []string
	if err := json.Unmarshal(t.Output, &list); err == nil && len(list) > 0 {
		return list[0]
	}
	return ""
}

func (g *generativeClient) getTask(taskID string) (generativeTask, error) {
	req, err := http.NewRequest(http.MethodGet, g.baseURL+"/v1/tasks/"+taskID, nil)
	if err != nil {
		return generativeTask{}, err
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return generativeTask{}, fmt.Errorf("error getting task status: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, "generative edit"); err != nil {
		return generativeTask{}, err
	}

	var task generativeTask
	if err := json.NewDecoder(resp.Body).Decode(&task); err != nil {
		return generativeTask{}, fmt.Errorf("failed to decode task status: %w", err)
	}
	return task, nil
}
