package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/abridge/abridge/internal/book"
	"github.com/abridge/abridge/internal/orchestrate"
	"github.com/abridge/abridge/internal/store"
)

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}

// UploadResponse is the response for POST /api/jobs.
type UploadResponse struct {
	JobID    string `json:"job_id"`
	Status   string `json:"status"`
	Level    string `json:"level"`
	Progress int    `json:"progress"`
}

// ChapterStatus is one chapter's state in a status response.
type ChapterStatus struct {
	Title     string `json:"title"`
	StartPage int    `json:"start_page"`
	EndPage   int    `json:"end_page"`
	Essential bool   `json:"essential"`
	Status    string `json:"status"`
}

// StatusResponse is the response for GET /api/jobs/{id}.
type StatusResponse struct {
	JobID     string          `json:"job_id"`
	Status    string          `json:"status"`
	Level     string          `json:"level"`
	Title     string          `json:"title,omitempty"`
	Author    string          `json:"author,omitempty"`
	PageCount int             `json:"page_count,omitempty"`
	Progress  int             `json:"progress"`
	Step      string          `json:"step,omitempty"`
	Chapters  []ChapterStatus `json:"chapters,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// DownloadResponse is the response for GET /api/jobs/{id}/download
// when the blob store supports presigned URLs.
type DownloadResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleUpload accepts a multipart PDF upload plus a compression level
// and queues a condensation job.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to parse form: %v", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	level, err := book.ParseLevel(r.FormValue("level"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to read upload: %v", err))
		return
	}

	job, err := s.orch.CreateJob(r.Context(), data, level)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to create job: %v", err))
		return
	}

	if err := s.dispatcher.Submit(orchestrate.Unit{Kind: orchestrate.UnitProcessJob, JobID: job.ID}); err != nil {
		s.logger.Error("failed to queue job", "job_id", job.ID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "server busy, try again later")
		return
	}

	writeJSON(w, http.StatusAccepted, UploadResponse{
		JobID:    job.ID,
		Status:   string(job.Status),
		Level:    string(job.Level),
		Progress: job.Progress,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}

	resp := StatusResponse{
		JobID:     job.ID,
		Status:    string(job.Status),
		Level:     string(job.Level),
		Title:     job.Title,
		Author:    job.Author,
		PageCount: job.PageCount,
		Progress:  job.Progress,
		Step:      job.Step,
		Error:     job.ErrorDetail,
		CreatedAt: job.CreatedAt,
		ExpiresAt: job.ExpiresAt,
	}
	for _, ch := range job.Chapters {
		resp.Chapters = append(resp.Chapters, ChapterStatus{
			Title:     ch.Title,
			StartPage: ch.StartPage,
			EndPage:   ch.EndPage,
			Essential: ch.Essential,
			Status:    string(ch.Status),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	if job.Status.Terminal() {
		writeError(w, http.StatusConflict, fmt.Sprintf("job already %s", job.Status))
		return
	}
	if err := s.orch.Cancel(r.Context(), job.ID); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to cancel: %v", err))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID, "status": "cancelling"})
}

// handleDownload serves the final condensed document: a presigned URL
// when the blob store supports one, the bytes directly otherwise.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	if job.Status != book.JobCompleted || job.OutputKey == "" {
		writeError(w, http.StatusConflict, fmt.Sprintf("job is %s, no output available", job.Status))
		return
	}

	const ttl = time.Hour
	url, err := s.blobs.PresignedURL(r.Context(), job.OutputKey, ttl)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to presign download: %v", err))
		return
	}
	if url != "" {
		writeJSON(w, http.StatusOK, DownloadResponse{URL: url, ExpiresAt: time.Now().Add(ttl)})
		return
	}

	data, err := s.blobs.Get(r.Context(), job.OutputKey)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to fetch output: %v", err))
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "condensed-"+job.ID+".pdf"))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// loadJob resolves the {id} path value to a job record, writing the
// error response itself on failure.
func (s *Server) loadJob(w http.ResponseWriter, r *http.Request) (*book.Job, bool) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing job id")
		return nil, false
	}
	job, err := s.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
		} else {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to load job: %v", err))
		}
		return nil, false
	}
	return job, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers already sent; nothing useful to do.
		return
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
