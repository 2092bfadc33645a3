package supervisor

import "time"

// JobEvent describes a job transition. Snapshot values only; it never
// aliases supervisor state.
type JobEvent struct {
	ID           string
	Payload      string
	State        JobState
	Generation   uint64
	SubmittedAt  time.Time
	DispatchedAt time.Time
	CompletedAt  time.Time
	Text         string
	Language     string
	Err          error
}

// WorkerEvent describes a worker state change or a degradation alert.
type WorkerEvent struct {
	Generation uint64
	State      WorkerState
	At         time.Time
	Detail     string
	// Crashes is the consecutive crash count at the time of the event.
	Crashes int
	// Degraded is set on the alert raised after alert_after consecutive crashes.
	Degraded bool
}

// Observer receives supervisor transitions. Methods are called with the
// supervisor lock held: they must not block or call back into the Supervisor.
type Observer interface {
	JobEvent(ev JobEvent)
	WorkerEvent(ev WorkerEvent)
}

// Observers fans out to several observers in order.
type Observers []Observer

func (o Observers) JobEvent(ev JobEvent) {
	for _, obs := range o {
		if obs != nil {
			obs.JobEvent(ev)
		}
	}
}

func (o Observers) WorkerEvent(ev WorkerEvent) {
	for _, obs := range o {
		if obs != nil {
			obs.WorkerEvent(ev)
		}
	}
}

func (j *Job) event() JobEvent {
	return JobEvent{
		ID:           j.ID,
		Payload:      j.Payload,
		State:        j.State,
		Generation:   j.Generation,
		SubmittedAt:  j.SubmittedAt,
		DispatchedAt: j.DispatchedAt,
		CompletedAt:  j.CompletedAt,
		Text:         j.Text,
		Language:     j.Language,
		Err:          j.Err,
	}
}
