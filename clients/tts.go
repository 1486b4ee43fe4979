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

// TTSClient wraps the speech synthesis backend. Cloned voices are shared
// cloud resources; callers must delete every voice they create.
type TTSClient interface {
	Speak(jobID, text, voiceID, outPath string) error
	CloneVoice(jobID, samplePath, name string) (string, error)
	DeleteVoice(jobID, voiceID string) error
}

type ttsClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewTTSClient(baseURL, apiKey string) TTSClient {
	return &ttsClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  newRetryableClient(2 * time.Minute),
	}
}

func (t *ttsClient) Speak(jobID, text, voiceID, outPath string) error {
	defer observeExternalCall("tts", time.Now())
	if voiceID == "" {
		return xerrors.InputError("voice ID is required", nil)
	}
	payload, err := json.Marshal(map[string]interface{}{
		"text":     text,
		"model_id": "multilingual_v2",
		"voice_settings": map[string]float64{
			"stability":        0.5,
			"similarity_boost": 0.75,
		},
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, t.baseURL+"/v1/text-to-speech/"+voiceID, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("speech request failed: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, "tts"); err != nil {
		return err
	}

	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("failed to create %q: %w", outPath, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		return fmt.Errorf("failed to write speech audio: %w", err)
	}
	log.Log(jobID, "generated speech", "voice_id", voiceID, "text", text)
	return nil
}

func (t *ttsClient) CloneVoice(jobID, samplePath, name string) (string, error) {
	defer observeExternalCall("tts", time.Now())
	f, err := os.Open(samplePath)
	if err != nil {
		return "", fmt.Errorf("failed to open voice sample %q: %w", samplePath, err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("name", name); err != nil {
		return "", err
	}
	part, err := mw.CreateFormFile("files", filepath.Base(samplePath))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequest(http.MethodPost, t.baseURL+"/v1/voices/add", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("xi-api-key", t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("voice clone request failed: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, "tts"); err != nil {
		return "", err
	}

	var cloned struct {
		VoiceID string `json:"voice_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&cloned); err != nil {
		return "", fmt.Errorf("failed to decode clone response: %w", err)
	}
	if cloned.VoiceID == "" {
		return "", xerrors.Backend("no voice ID in clone response", nil)
	}
	log.Log(jobID, "cloned voice", "voice_id", cloned.VoiceID, "name", name)
	return cloned.VoiceID, nil
}

func (t *ttsClient) DeleteVoice(jobID, voiceID string) error {
	defer observeExternalCall("tts", time.Now())
	req, err := http.NewRequest(http.MethodDelete, t.baseURL+"/v1/voices/"+voiceID, nil)
	if err != nil {
		return err
	}
	req.Header.Set("xi-api-key", t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("voice delete request failed: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, "tts"); err != nil {
		return err
	}
	log.Log(jobID, "deleted cloned voice", "voice_id", voiceID)
	return nil
}
