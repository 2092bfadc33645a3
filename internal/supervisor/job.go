package supervisor

import (
	"context"
	"sync"
	"time"
)

// JobState is the lifecycle position of a Job.
type JobState int

const (
	JobQueued JobState = iota
	JobDispatched
	JobCompleted
	JobFailed
	JobTimedOut
)

func (s JobState) String() string {
	switch s {
	case JobQueued:
		return "queued"
	case JobDispatched:
		return "dispatched"
	case JobCompleted:
		return "completed"
	case JobFailed:
		return "failed"
	case JobTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobTimedOut
}

// Job is one transcription request owned by the supervisor.
type Job struct {
	ID      string
	Payload string
	State   JobState

	// Generation of the worker the job was dispatched to; 0 while queued.
	Generation uint64

	SubmittedAt  time.Time
	DispatchedAt time.Time
	CompletedAt  time.Time
	Deadline     time.Time

	Text                string
	Language            string
	LanguageProbability float64
	Err                 error

	handle *Handle
	timer  *time.Timer
}

// Handle is the caller's view of a submitted job.
type Handle struct {
	id   string
	done chan struct{}
	once sync.Once

	text     string
	language string
	err      error
}

func newHandle(id string) *Handle {
	return &Handle{id: id, done: make(chan struct{})}
}

// ID returns the job id.
func (h *Handle) ID() string { return h.id }

// Done is closed once the job reaches a terminal state.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the job finishes or ctx is done. Cancelling ctx abandons
// the wait only; the job stays queued.
func (h *Handle) Wait(ctx context.Context) (string, error) {
	select {
	case <-h.done:
		return h.text, h.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Language returns the detected language once the job has completed.
func (h *Handle) Language() string {
	select {
	case <-h.done:
		return h.language
	default:
		return ""
	}
}

// settle delivers the outcome. Only the first call has any effect.
func (h *Handle) settle(text, language string, err error) bool {
	settled := false
	h.once.Do(func() {
		h.text = text
		h.language = language
		h.err = err
		close(h.done)
		settled = true
	})
	return settled
}

func rejectedHandle(id string, err error) *Handle {
	h := newHandle(id)
	h.settle("", "", err)
	return h
}
