package api

import "time"

// TranscribeRequest is the JSON body for POST /transcribe.
type TranscribeRequest struct {
	Path string `json:"path"`
}

// TranscribeResponse is returned by POST /transcribe.
type TranscribeResponse struct {
	JobID    string `json:"job_id"`
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
	// Error is set only when fallback_on_error turned a failure into a 200.
	Error string `json:"error,omitempty"`
}

// JobStatusResponse is returned by GET /job/{jobID}.
type JobStatusResponse struct {
	JobID        string     `json:"job_id"`
	Payload      string     `json:"payload"`
	Status       string     `json:"status"`
	Text         string     `json:"text,omitempty"`
	Language     string     `json:"language,omitempty"`
	Error        string     `json:"error,omitempty"`
	SubmittedAt  time.Time  `json:"submitted_at"`
	DispatchedAt *time.Time `json:"dispatched_at,omitempty"`
	CompletedAt  time.Time  `json:"completed_at"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	WorkerState   string `json:"worker_state"`
}
