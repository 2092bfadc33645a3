package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/sttgw/internal/journal"
	"github.com/mattjoyce/sttgw/internal/supervisor"
)

const maxRequestBytes = 64 * 1024

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	state := s.stt.State()

	status := "degraded"
	if state == supervisor.WorkerReady || state == supervisor.WorkerBusy {
		status = "ok"
	}

	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        status,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		WorkerState:   state.String(),
	})
}

// handleTranscribe handles POST /transcribe. It blocks until the job finishes.
func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	var req TranscribeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req.Path = strings.TrimSpace(req.Path)
	if req.Path == "" {
		s.writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	if !filepath.IsAbs(req.Path) {
		s.writeError(w, http.StatusBadRequest, "path must be absolute")
		return
	}

	out, err := s.stt.TranscribeJob(r.Context(), req.Path)
	if err == nil {
		respondJSON(w, http.StatusOK, TranscribeResponse{JobID: out.JobID, Text: out.Text, Language: out.Language})
		return
	}

	status := statusForError(err)
	if errors.Is(err, context.Canceled) {
		// Client went away; the job keeps running.
		s.logger.Info("transcribe request abandoned", "job_id", out.JobID)
		return
	}

	s.logger.Warn("transcription failed", "job_id", out.JobID, "status", status, "error", err)
	if s.config.FallbackOnError && status != http.StatusBadRequest {
		respondJSON(w, http.StatusOK, TranscribeResponse{JobID: out.JobID, Text: "", Error: err.Error()})
		return
	}
	s.writeError(w, status, err.Error())
}

// statusForError maps job outcomes to HTTP status codes.
func statusForError(err error) int {
	var werr *supervisor.WorkerError
	switch {
	case errors.Is(err, supervisor.ErrInvalidPayload):
		return http.StatusBadRequest
	case errors.As(err, &werr):
		return http.StatusBadGateway
	case errors.Is(err, supervisor.ErrTimedOut), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, supervisor.ErrWorkerDied),
		errors.Is(err, supervisor.ErrWorkerUnavailable),
		errors.Is(err, supervisor.ErrStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleGetJob handles GET /job/{jobID}.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		s.writeError(w, http.StatusNotFound, "job journal disabled")
		return
	}

	jobID := chi.URLParam(r, "jobID")
	rec, err := s.jobs.Get(r.Context(), jobID)
	if errors.Is(err, journal.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to get job", "job_id", jobID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	respondJSON(w, http.StatusOK, JobStatusResponse{
		JobID:        rec.ID,
		Payload:      rec.Payload,
		Status:       rec.Status,
		Text:         rec.Text,
		Language:     rec.Language,
		Error:        rec.LastError,
		SubmittedAt:  rec.SubmittedAt,
		DispatchedAt: rec.DispatchedAt,
		CompletedAt:  rec.CompletedAt,
	})
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
