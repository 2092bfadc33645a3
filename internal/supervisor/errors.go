package supervisor

import "errors"

var (
	// Job outcome errors.
	ErrWorkerDied        = errors.New("supervisor: STT service died")
	ErrTimedOut          = errors.New("supervisor: transcription timed out")
	ErrStopped           = errors.New("supervisor: stopped")
	ErrWorkerUnavailable = errors.New("supervisor: worker unavailable")
	ErrInvalidPayload    = errors.New("supervisor: invalid payload")

	// Lifecycle errors.
	ErrLaunchFailed   = errors.New("supervisor: worker launch failed")
	ErrAlreadyStarted = errors.New("supervisor: already started")
)

// WorkerError is a failure reported by the worker itself for one job.
type WorkerError struct {
	Message string
}

func (e *WorkerError) Error() string {
	return "supervisor: worker error: " + e.Message
}
