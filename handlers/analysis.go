package handlers

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/vidmod/vidmod-api/clients"
	"github.com/vidmod/vidmod-api/errors"
	"github.com/vidmod/vidmod-api/pipeline"
)

// AnalyzeVideo runs the full compliance analysis and returns the findings.
func (d *VidModHandlersCollection) AnalyzeVideo() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		analysis, err := d.Coordinator.AnalyzeVideo(req.Context(), ps.ByName("id"))
		if err != nil {
			errors.WriteHTTPForError(w, "Video analysis failed", err)
			return
		}
		writeJSON(w, http.StatusOK, analysis)
	}
}

// AnalyzeAudio returns the timed profanity matches on the audio track.
func (d *VidModHandlersCollection) AnalyzeAudio() httprouter.Handle {
	type request struct {
		CustomWords []string `json:"custom_words"`
	}

	return func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		var body request
		if req.ContentLength > 0 && !decodeJSONBody(w, req, &body) {
			return
		}
		matches, err := d.Coordinator.AnalyzeAudio(req.Context(), ps.ByName("id"), body.CustomWords)
		if err != nil {
			errors.WriteHTTPForError(w, "Audio analysis failed", err)
			return
		}
		if matches == nil {
			matches = []clients.ProfanityMatch{}
		}
		writeJSON(w, http.StatusOK, matches)
	}
}

// AnalyzeRegion identifies the content of a boxed region on one frame.
func (d *VidModHandlersCollection) AnalyzeRegion() httprouter.Handle {
	type request struct {
		FrameIndex int            `json:"frame_index"`
		Box        clients.BoxPct `json:"box"`
	}

	return func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		var body request
		if !decodeJSONBody(w, req, &body) {
			return
		}
		analysis, err := d.Coordinator.AnalyzeRegion(req.Context(), ps.ByName("id"), body.FrameIndex, body.Box)
		if err != nil {
			errors.WriteHTTPForError(w, "Region analysis failed", err)
			return
		}
		writeJSON(w, http.StatusOK, analysis)
	}
}

// SuggestReplacements returns censor-friendly alternatives for each word,
// sized to the time the word is spoken for.
func (d *VidModHandlersCollection) SuggestReplacements() httprouter.Handle {
	type request struct {
		WordsToReplace []string `json:"words_to_replace"`
	}

	return func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		var body request
		if !decodeJSONBody(w, req, &body) {
			return
		}
		if len(body.WordsToReplace) == 0 {
			errors.WriteHTTPBadRequest(w, "At least one word to replace is required", nil)
			return
		}
		suggestions, err := d.Coordinator.SuggestReplacements(req.Context(), ps.ByName("id"), body.WordsToReplace)
		if err != nil {
			errors.WriteHTTPForError(w, "Suggestion request failed", err)
			return
		}
		if suggestions == nil {
			suggestions = []pipeline.WordSuggestion{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"suggestions": suggestions})
	}
}
