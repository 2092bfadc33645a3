package events

import (
	"time"

	"github.com/mattjoyce/sttgw/internal/supervisor"
)

// Event types published by SupervisorObserver.
const (
	TypeWorkerState    = "worker.state"
	TypeWorkerDegraded = "worker.degraded"
	TypeJobSubmitted   = "job.submitted"
	TypeJobDispatched  = "job.dispatched"
	TypeJobCompleted   = "job.completed"
	TypeJobFailed      = "job.failed"
	TypeJobTimedOut    = "job.timed_out"
)

// JobPayload is the data of job.* events.
type JobPayload struct {
	JobID      string  `json:"job_id"`
	Payload    string  `json:"payload"`
	Status     string  `json:"status"`
	Generation uint64  `json:"generation,omitempty"`
	Text       string  `json:"text,omitempty"`
	Language   string  `json:"language,omitempty"`
	Error      string  `json:"error,omitempty"`
	DurationS  float64 `json:"duration_s,omitempty"`
}

// WorkerPayload is the data of worker.* events.
type WorkerPayload struct {
	State      string    `json:"state"`
	Generation uint64    `json:"generation"`
	Crashes    int       `json:"consecutive_crashes"`
	Detail     string    `json:"detail,omitempty"`
	At         time.Time `json:"at"`
}

// SupervisorObserver publishes supervisor transitions to a Hub.
type SupervisorObserver struct {
	hub *Hub
}

// NewSupervisorObserver returns an observer publishing to hub.
func NewSupervisorObserver(hub *Hub) *SupervisorObserver {
	return &SupervisorObserver{hub: hub}
}

func (o *SupervisorObserver) JobEvent(ev supervisor.JobEvent) {
	p := JobPayload{
		JobID:      ev.ID,
		Payload:    ev.Payload,
		Status:     ev.State.String(),
		Generation: ev.Generation,
		Text:       ev.Text,
		Language:   ev.Language,
	}
	if ev.Err != nil {
		p.Error = ev.Err.Error()
	}
	if ev.State.Terminal() && !ev.SubmittedAt.IsZero() {
		p.DurationS = ev.CompletedAt.Sub(ev.SubmittedAt).Seconds()
	}
	o.hub.Publish(jobEventType(ev.State), p)
}

func (o *SupervisorObserver) WorkerEvent(ev supervisor.WorkerEvent) {
	typ := TypeWorkerState
	if ev.Degraded {
		typ = TypeWorkerDegraded
	}
	o.hub.Publish(typ, WorkerPayload{
		State:      ev.State.String(),
		Generation: ev.Generation,
		Crashes:    ev.Crashes,
		Detail:     ev.Detail,
		At:         ev.At,
	})
}

func jobEventType(s supervisor.JobState) string {
	switch s {
	case supervisor.JobQueued:
		return TypeJobSubmitted
	case supervisor.JobDispatched:
		return TypeJobDispatched
	case supervisor.JobCompleted:
		return TypeJobCompleted
	case supervisor.JobTimedOut:
		return TypeJobTimedOut
	default:
		return TypeJobFailed
	}
}
