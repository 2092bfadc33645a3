package supervisor

import "time"

// armDeadline starts the job's timeout. Caller holds s.mu.
func (s *Supervisor) armDeadline(j *Job) {
	timeout := s.opts.JobTimeout
	j.Deadline = s.now().Add(timeout)
	j.timer = time.AfterFunc(timeout, func() { s.onDeadline(j) })
}

func (j *Job) disarm() {
	if j.timer != nil {
		j.timer.Stop()
		j.timer = nil
	}
}

// onDeadline rejects j if it is still the in-flight head.
func (s *Supervisor) onDeadline(j *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.queue.head() != j || j.State != JobDispatched {
		return
	}

	s.logger.Warn("job timed out",
		"job_id", j.ID,
		"timeout", s.opts.JobTimeout,
		"generation", j.Generation,
	)
	s.finishHead(JobTimedOut, nil, ErrTimedOut)

	if s.opts.KillOnTimeout && s.proc != nil {
		// Stay Busy until the exit handler takes over; queued jobs wait for
		// the next generation.
		s.logger.Warn("killing worker after timeout", "generation", s.generation)
		s.timeoutKill = s.generation
		if err := s.proc.Kill(); err != nil {
			s.logger.Error("failed to kill worker", "error", err)
		}
		return
	}

	s.setState(WorkerReady, "job timed out")
	s.dispatch()
}
