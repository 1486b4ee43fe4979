package handlers

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/julienschmidt/httprouter"
	"github.com/vidmod/vidmod-api/errors"
	"github.com/vidmod/vidmod-api/jobs"
	"github.com/vidmod/vidmod-api/pipeline"
	"github.com/vidmod/vidmod-api/video"
)

// uploads outside this list are rejected before touching ffmpeg
var allowedExtensions = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".avi":  true,
	".mkv":  true,
	".webm": true,
}

const maxUploadMemory = 32 << 20

type VidModHandlersCollection struct {
	Coordinator *pipeline.Coordinator
}

type JobStatus struct {
	JobID        string          `json:"job_id"`
	Stage        jobs.Stage      `json:"stage"`
	Progress     int             `json:"progress"`
	Error        string          `json:"error,omitempty"`
	VideoInfo    video.VideoInfo `json:"video_info"`
	FrameCount   int             `json:"frame_count"`
	HasOutput    bool            `json:"has_output"`
	PreviewURL   string          `json:"preview_url"`
	DownloadPath string          `json:"download_path"`
}

func statusOf(job *jobs.Job) JobStatus {
	return JobStatus{
		JobID:        job.ID,
		Stage:        job.Stage,
		Progress:     job.Progress,
		Error:        job.Error,
		VideoInfo:    job.VideoInfo,
		FrameCount:   len(job.FramePaths),
		HasOutput:    job.OutputPath != "",
		PreviewURL:   fmt.Sprintf("/api/preview/%s/frame/0", job.ID),
		DownloadPath: "/api/download/" + job.ID,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = w.Write([]byte("failed to write response"))
	}
}

func hasContentType(r *http.Request, mimetype string) bool {
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		return mimetype == "application/octet-stream"
	}
	for _, v := range strings.Split(contentType, ",") {
		t, _, err := mime.ParseMediaType(v)
		if err != nil {
			break
		}
		if t == mimetype {
			return true
		}
	}
	return false
}

func (d *VidModHandlersCollection) Ok() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		_, _ = w.Write([]byte("OK"))
	}
}

// Upload ingests a new video, either as a multipart file upload or as JSON
// naming a URL to pull from.
func (d *VidModHandlersCollection) Upload() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		if hasContentType(req, "application/json") {
			var body struct {
				URL string `json:"url"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				errors.WriteHTTPBadRequest(w, "Invalid request payload", err)
				return
			}
			if body.URL == "" {
				errors.WriteHTTPBadRequest(w, "A url is required", nil)
				return
			}
			job, err := d.Coordinator.UseExistingVideo(req.Context(), body.URL)
			if err != nil {
				errors.WriteHTTPForError(w, "Failed to ingest video", err)
				return
			}
			writeJSON(w, http.StatusOK, statusOf(job))
			return
		}

		if err := req.ParseMultipartForm(maxUploadMemory); err != nil {
			errors.WriteHTTPBadRequest(w, "Invalid multipart form", err)
			return
		}
		file, header, err := req.FormFile("file")
		if err != nil {
			errors.WriteHTTPBadRequest(w, "A file part is required", err)
			return
		}
		defer file.Close()

		ext := strings.ToLower(filepath.Ext(header.Filename))
		if !allowedExtensions[ext] {
			errors.WriteHTTPUnsupportedMediaType(w, fmt.Sprintf("Unsupported video format %q", ext), nil)
			return
		}

		job, err := d.Coordinator.Upload(header.Filename, file)
		if err != nil {
			errors.WriteHTTPForError(w, "Failed to ingest video", err)
			return
		}
		writeJSON(w, http.StatusOK, statusOf(job))
	}
}

func (d *VidModHandlersCollection) Status() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		job, err := d.Coordinator.Store().Get(ps.ByName("id"))
		if err != nil {
			errors.WriteHTTPForError(w, "Job not found", err)
			return
		}
		writeJSON(w, http.StatusOK, statusOf(job))
	}
}

// PreviewFrame serves one of the extracted preview frames.
func (d *VidModHandlersCollection) PreviewFrame() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		job, err := d.Coordinator.Store().Get(ps.ByName("id"))
		if err != nil {
			errors.WriteHTTPForError(w, "Job not found", err)
			return
		}
		index, err := strconv.Atoi(ps.ByName("index"))
		if err != nil {
			errors.WriteHTTPBadRequest(w, "Invalid frame index", err)
			return
		}
		if index < 0 || index >= len(job.FramePaths) {
			// frame extraction may still be running, the upload-time preview
			// covers the gap
			preview := filepath.Join(job.Dir, "preview.jpg")
			if index == 0 {
				if _, err := os.Stat(preview); err == nil {
					http.ServeFile(w, req, preview)
					return
				}
			}
			errors.WriteHTTPNotFound(w, fmt.Sprintf("Frame %d not found, job has %d frames", index, len(job.FramePaths)), nil)
			return
		}
		http.ServeFile(w, req, job.FramePaths[index])
	}
}

// Download serves the latest video: the newest edit when one exists, else the
// original upload.
func (d *VidModHandlersCollection) Download() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		job, err := d.Coordinator.Store().Get(ps.ByName("id"))
		if err != nil {
			errors.WriteHTTPForError(w, "Job not found", err)
			return
		}
		if err := d.Coordinator.Store().RecoverSource(req.Context(), job); err != nil {
			errors.WriteHTTPForError(w, "Failed to recover job video", err)
			return
		}
		path := job.LatestVideo()
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
		http.ServeFile(w, req, path)
	}
}

func (d *VidModHandlersCollection) DeleteJob() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		if err := d.Coordinator.Store().Delete(ps.ByName("id")); err != nil {
			errors.WriteHTTPForError(w, "Failed to delete job", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
	}
}
