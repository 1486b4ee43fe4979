package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/vidmod/vidmod-api/errors"
	"github.com/vidmod/vidmod-api/pipeline"
	"github.com/vidmod/vidmod-api/video"
)

// editTarget names the video an edit applies to: an existing job, or a URL
// that is ingested into a new job first.
type editTarget struct {
	JobID    string `json:"job_id"`
	VideoURL string `json:"video_url"`
}

// resolveJobID turns an edit target into a job id, ingesting the URL when no
// job id was given.
func (d *VidModHandlersCollection) resolveJobID(ctx context.Context, target editTarget) (string, error) {
	if target.JobID != "" {
		return target.JobID, nil
	}
	if target.VideoURL == "" {
		return "", errors.InputError("either job_id or video_url is required", nil)
	}
	job, err := d.Coordinator.UseExistingVideo(ctx, target.VideoURL)
	if err != nil {
		return "", err
	}
	return job.ID, nil
}

func decodeJSONBody(w http.ResponseWriter, req *http.Request, out interface{}) bool {
	if !hasContentType(req, "application/json") {
		errors.WriteHTTPUnsupportedMediaType(w, "Requires application/json content type", nil)
		return false
	}
	if err := json.NewDecoder(req.Body).Decode(out); err != nil {
		errors.WriteHTTPBadRequest(w, "Invalid request payload", err)
		return false
	}
	return true
}

// BlurObject obscures a prompted object with a blur or pixelate effect.
func (d *VidModHandlersCollection) BlurObject() httprouter.Handle {
	type request struct {
		editTarget
		Prompt       string  `json:"prompt"`
		Effect       string  `json:"effect"`
		Strength     int     `json:"strength"`
		StartTime    float64 `json:"start_time"`
		EndTime      float64 `json:"end_time"`
		MaskPolarity string  `json:"mask_polarity"`
	}

	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		var body request
		if !decodeJSONBody(w, req, &body) {
			return
		}
		jobID, err := d.resolveJobID(req.Context(), body.editTarget)
		if err != nil {
			errors.WriteHTTPForError(w, "Failed to resolve edit target", err)
			return
		}

		job, err := d.Coordinator.BlurObject(req.Context(), jobID, pipeline.MaskEffectParams{
			Prompt:   body.Prompt,
			Effect:   video.EffectKind(body.Effect),
			Strength: body.Strength,
			Start:    body.StartTime,
			End:      body.EndTime,
			Polarity: video.MaskPolarity(body.MaskPolarity),
		})
		if err != nil {
			errors.WriteHTTPForError(w, "Blur operation failed", err)
			return
		}
		writeJSON(w, http.StatusOK, statusOf(job))
	}
}

// ReplaceGenerative repaints the video (or a masked region of it) per the
// prompt using the generative backend.
func (d *VidModHandlersCollection) ReplaceGenerative() httprouter.Handle {
	type request struct {
		editTarget
		Prompt            string  `json:"prompt"`
		MaskPrompt        string  `json:"mask_prompt"`
		StartTime         float64 `json:"start_time"`
		EndTime           float64 `json:"end_time"`
		ReferenceImageURL string  `json:"reference_image_url"`
		Seconds           float64 `json:"seconds"`
	}

	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		var body request
		if !decodeJSONBody(w, req, &body) {
			return
		}
		jobID, err := d.resolveJobID(req.Context(), body.editTarget)
		if err != nil {
			errors.WriteHTTPForError(w, "Failed to resolve edit target", err)
			return
		}

		job, err := d.Coordinator.ReplaceGenerative(req.Context(), jobID, pipeline.GenerativeEditParams{
			Prompt:            body.Prompt,
			MaskPrompt:        body.MaskPrompt,
			Start:             body.StartTime,
			End:               body.EndTime,
			ReferenceImageURL: body.ReferenceImageURL,
			Seconds:           body.Seconds,
		})
		if err != nil {
			errors.WriteHTTPForError(w, "Generative replace failed", err)
			return
		}
		writeJSON(w, http.StatusOK, statusOf(job))
	}
}

// CensorAudio beeps or dubs over profanity found on the audio track.
func (d *VidModHandlersCollection) CensorAudio() httprouter.Handle {
	type request struct {
		editTarget
		Mode               string            `json:"mode"`
		CustomWords        []string          `json:"custom_words"`
		CustomReplacements map[string]string `json:"custom_replacements"`
		BeepVolume         float64           `json:"beep_volume"`
		Voice              string            `json:"voice"`
		VoiceSampleStart   float64           `json:"voice_sample_start"`
		VoiceSampleEnd     float64           `json:"voice_sample_end"`
	}

	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		var body request
		if !decodeJSONBody(w, req, &body) {
			return
		}
		jobID, err := d.resolveJobID(req.Context(), body.editTarget)
		if err != nil {
			errors.WriteHTTPForError(w, "Failed to resolve edit target", err)
			return
		}

		job, err := d.Coordinator.CensorAudio(req.Context(), jobID, pipeline.CensorAudioParams{
			Mode:               body.Mode,
			CustomWords:        body.CustomWords,
			CustomReplacements: body.CustomReplacements,
			BeepVolume:         body.BeepVolume,
			Voice:              body.Voice,
			VoiceSampleStart:   body.VoiceSampleStart,
			VoiceSampleEnd:     body.VoiceSampleEnd,
		})
		if err != nil {
			errors.WriteHTTPForError(w, "Audio censor failed", err)
			return
		}
		writeJSON(w, http.StatusOK, statusOf(job))
	}
}
