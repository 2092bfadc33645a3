// Package supervisor runs one long-lived transcription worker and feeds it a
// FIFO of jobs, one at a time.
//
// All queue and worker state lives behind a single mutex. The stdout reader,
// the exit waiter and the timers are the only asynchronous sources; each takes
// the mutex and checks the worker generation or job identity before acting,
// so events from a dead process or a settled job are discarded.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/sttgw/internal/backoff"
	"github.com/mattjoyce/sttgw/internal/log"
	"github.com/mattjoyce/sttgw/internal/protocol"
	"github.com/mattjoyce/sttgw/internal/worker"
)

// WorkerState is the lifecycle position of the worker process.
type WorkerState int

const (
	WorkerStopped WorkerState = iota
	WorkerStarting
	WorkerReady
	WorkerBusy
	WorkerCrashed
)

func (s WorkerState) String() string {
	switch s {
	case WorkerStopped:
		return "stopped"
	case WorkerStarting:
		return "starting"
	case WorkerReady:
		return "ready"
	case WorkerBusy:
		return "busy"
	case WorkerCrashed:
		return "crashed"
	default:
		return "unknown"
	}
}

const defaultJobTimeout = 15 * time.Second

// Options configures a Supervisor.
type Options struct {
	Launcher   worker.Launcher
	ReadyToken string
	Mode       protocol.Mode

	JobTimeout    time.Duration
	KillOnTimeout bool
	StopGrace     time.Duration

	Backoff     backoff.Strategy
	AlertAfter  int
	GiveUpAfter int // 0 never gives up

	Observer Observer

	// NewID and Now are overridable for tests.
	NewID func() string
	Now   func() time.Time
}

// Supervisor owns the worker process and the job queue.
type Supervisor struct {
	opts   Options
	logger *slog.Logger

	mu           sync.Mutex
	state        WorkerState
	queue        jobQueue
	proc         worker.Process
	exited       chan struct{}
	generation   uint64
	crashes      int
	timeoutKill  uint64 // generation killed by the timeout guard
	restartTimer *time.Timer
	started      bool
	stopped      bool
	gaveUp       bool

	wg sync.WaitGroup
}

// New creates a Supervisor. The worker is not started until Start.
func New(opts Options) *Supervisor {
	if opts.ReadyToken == "" {
		opts.ReadyToken = protocol.DefaultReadyToken
	}
	if opts.Mode == "" {
		opts.Mode = protocol.ModeLine
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = defaultJobTimeout
	}
	if opts.Backoff == nil {
		opts.Backoff = backoff.DefaultStrategy()
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Observer == nil {
		opts.Observer = Observers(nil)
	}
	return &Supervisor{
		opts:   opts,
		logger: log.WithComponent("supervisor"),
		state:  WorkerStopped,
	}
}

func (s *Supervisor) now() time.Time { return s.opts.Now() }

// Start spawns the worker. Launch failures are handled like crashes and are
// not returned.
func (s *Supervisor) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true
	s.logger.Info("supervisor starting",
		"mode", s.opts.Mode,
		"job_timeout", s.opts.JobTimeout,
		"kill_on_timeout", s.opts.KillOnTimeout,
	)
	s.spawn()
	return nil
}

// Stop cancels any pending restart, fails pending jobs with ErrStopped and
// shuts the worker down (close stdin, SIGTERM, SIGKILL). It returns early
// with ctx's error if ctx ends first.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	if s.restartTimer != nil {
		s.restartTimer.Stop()
		s.restartTimer = nil
	}
	s.failAll(ErrStopped)
	proc, exited := s.proc, s.exited
	if proc == nil {
		s.setState(WorkerStopped, "stop requested")
	}
	s.mu.Unlock()

	s.logger.Info("supervisor stopping")

	done := make(chan struct{})
	go func() {
		defer close(done)
		if proc != nil {
			worker.Shutdown(proc, exited, s.opts.StopGrace)
		}
		s.wg.Wait()
	}()

	select {
	case <-done:
		s.logger.Info("supervisor stopped")
		return nil
	case <-ctx.Done():
		if proc != nil {
			_ = proc.Kill()
		}
		return fmt.Errorf("stop supervisor: %w", ctx.Err())
	}
}

// State returns the current worker state.
func (s *Supervisor) State() WorkerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Submit enqueues payload and returns immediately. Payloads that cannot be
// framed as one line, and submissions after Stop or give-up, return a handle
// that is already rejected.
func (s *Supervisor) Submit(payload string) *Handle {
	id := s.opts.NewID()

	if err := protocol.ValidatePayload(payload); err != nil {
		return rejectedHandle(id, fmt.Errorf("%w: %w", ErrInvalidPayload, err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.gaveUp:
		return rejectedHandle(id, ErrWorkerUnavailable)
	case s.stopped:
		return rejectedHandle(id, ErrStopped)
	}

	h := newHandle(id)
	j := &Job{
		ID:          id,
		Payload:     payload,
		State:       JobQueued,
		SubmittedAt: s.now(),
		handle:      h,
	}
	s.queue.push(j)
	log.WithJob(id).Debug("job queued", "payload", payload, "depth", s.queue.len())
	s.opts.Observer.JobEvent(j.event())

	s.dispatch()
	return h
}

// Transcribe submits path and waits for its text.
func (s *Supervisor) Transcribe(ctx context.Context, path string) (string, error) {
	return s.Submit(path).Wait(ctx)
}

// Outcome is a finished job as seen by a synchronous caller.
type Outcome struct {
	JobID    string
	Text     string
	Language string
}

// TranscribeJob is Transcribe that also reports the job id and language.
func (s *Supervisor) TranscribeJob(ctx context.Context, path string) (Outcome, error) {
	h := s.Submit(path)
	text, err := h.Wait(ctx)
	return Outcome{JobID: h.ID(), Text: text, Language: h.Language()}, err
}

// dispatch sends the head job to the worker when it is Ready. Caller holds s.mu.
func (s *Supervisor) dispatch() {
	if s.state != WorkerReady || s.proc == nil {
		return
	}
	head := s.queue.head()
	if head == nil || head.State != JobQueued {
		return
	}

	head.State = JobDispatched
	head.DispatchedAt = s.now()
	head.Generation = s.generation
	s.armDeadline(head)
	s.setState(WorkerBusy, "")
	s.opts.Observer.JobEvent(head.event())

	log.WithJob(head.ID).Debug("job dispatched", "generation", s.generation)

	req := protocol.Request{ID: head.ID, Path: head.Payload}
	if err := protocol.EncodeRequest(s.proc.Stdin(), s.opts.Mode, req); err != nil {
		// The exit handler fails the job with ErrWorkerDied.
		s.logger.Error("failed to write to worker, killing it",
			"job_id", head.ID,
			"generation", s.generation,
			"error", err,
		)
		_ = s.proc.Kill()
	}
}

// finishHead removes the head job and settles it. Caller holds s.mu.
func (s *Supervisor) finishHead(state JobState, res *protocol.Result, err error) {
	j := s.queue.pop()
	if j == nil {
		return
	}
	s.settle(j, state, res, err)
}

func (s *Supervisor) settle(j *Job, state JobState, res *protocol.Result, err error) {
	j.disarm()
	j.State = state
	j.CompletedAt = s.now()
	j.Err = err
	if res != nil {
		j.Text = res.Transcript()
		j.Language = res.Language
		if res.LanguageProbability != nil {
			j.LanguageProbability = *res.LanguageProbability
		}
	}
	j.handle.settle(j.Text, j.Language, err)

	logger := log.WithJob(j.ID)
	if err != nil {
		logger.Info("job finished", "state", state.String(), "error", err)
	} else {
		logger.Info("job finished", "state", state.String(),
			"duration", j.CompletedAt.Sub(j.SubmittedAt))
	}
	s.opts.Observer.JobEvent(j.event())
}

// failAll rejects every pending job in FIFO order. Caller holds s.mu.
func (s *Supervisor) failAll(err error) {
	for _, j := range s.queue.drain() {
		s.settle(j, JobFailed, nil, err)
	}
}

func (s *Supervisor) setState(state WorkerState, detail string) {
	if s.state == state {
		return
	}
	prev := s.state
	s.state = state
	s.logger.Debug("worker state changed",
		"from", prev.String(),
		"to", state.String(),
		"generation", s.generation,
	)
	s.opts.Observer.WorkerEvent(WorkerEvent{
		Generation: s.generation,
		State:      state,
		At:         s.now(),
		Detail:     detail,
		Crashes:    s.crashes,
	})
}

// spawn launches a new worker generation. Caller holds s.mu.
func (s *Supervisor) spawn() {
	s.generation++
	gen := s.generation
	s.setState(WorkerStarting, "")

	proc, err := s.opts.Launcher.Launch(context.Background())
	if err != nil {
		s.logger.Error("failed to launch worker", "generation", gen, "error", err)
		s.handleExit(gen, fmt.Errorf("%w: %w", ErrLaunchFailed, err))
		return
	}

	exited := make(chan struct{})
	s.proc = proc
	s.exited = exited
	s.logger.Info("worker launched", "generation", gen, "pid", proc.PID())

	s.wg.Add(1)
	go s.watch(gen, proc, exited)
}

// watch pumps the worker's output until the process exits and its pipes are
// drained, then runs exit handling.
func (s *Supervisor) watch(gen uint64, proc worker.Process, exited chan struct{}) {
	defer s.wg.Done()

	waitErr := make(chan error, 1)
	go func() { waitErr <- proc.Wait() }()

	var stderrDone sync.WaitGroup
	stderrDone.Add(1)
	go func() {
		defer stderrDone.Done()
		s.pumpStderr(gen, proc.Stderr())
	}()

	s.pumpStdout(gen, proc)
	stderrDone.Wait()

	err := <-waitErr
	close(exited)

	if code := worker.ExitCode(err); code != 0 {
		log.WithWorker(gen).Warn("worker exited", "exit_code", code, "error", err)
	} else {
		log.WithWorker(gen).Info("worker exited", "exit_code", code)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.handleExit(gen, nil)
}

func (s *Supervisor) pumpStdout(gen uint64, proc worker.Process) {
	lr := protocol.NewLineReader(proc.Stdout())
	for {
		line, err := lr.Next()
		if err != nil {
			if !endOfOutput(err) {
				log.WithWorker(gen).Error("worker output unreadable, killing it", "error", err)
				_ = proc.Kill()
				_, _ = io.Copy(io.Discard, proc.Stdout())
			}
			return
		}

		msg, ok := protocol.Classify(line, s.opts.ReadyToken)
		if !ok {
			continue
		}

		s.mu.Lock()
		s.handleMessage(gen, msg)
		s.mu.Unlock()
	}
}

func (s *Supervisor) pumpStderr(gen uint64, r io.Reader) {
	logger := log.WithWorker(gen)
	lr := protocol.NewLineReader(r)
	for {
		line, err := lr.Next()
		if err != nil {
			if !endOfOutput(err) {
				_, _ = io.Copy(io.Discard, r)
			}
			return
		}
		if line != "" {
			logger.Info("worker stderr", "line", line)
		}
	}
}

// endOfOutput reports whether err is a normal end of a worker pipe, including
// the launcher closing it after the process exited.
func endOfOutput(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed)
}

// handleMessage applies one classified stdout line. Caller holds s.mu.
func (s *Supervisor) handleMessage(gen uint64, msg protocol.Message) {
	if gen != s.generation {
		s.logger.Debug("ignoring output from old worker", "generation", gen)
		return
	}

	switch msg.Kind {
	case protocol.KindReady:
		if s.state != WorkerStarting {
			s.logger.Debug("ignoring ready token", "state", s.state.String())
			return
		}
		s.crashes = 0
		s.logger.Info("worker ready", "generation", gen)
		s.setState(WorkerReady, "")
		s.dispatch()

	case protocol.KindResult:
		head := s.queue.head()
		if head == nil || head.State != JobDispatched {
			s.logger.Warn("worker result with no job in flight, dropping", "line", msg.Raw)
			return
		}
		if s.opts.Mode == protocol.ModeJSON && msg.Result.ID != head.ID {
			s.logger.Warn("worker result id does not match in-flight job, dropping",
				"job_id", head.ID,
				"result_id", msg.Result.ID,
			)
			return
		}

		if msg.Result.Failed() {
			s.finishHead(JobFailed, msg.Result, &WorkerError{Message: msg.Result.Error})
		} else {
			s.finishHead(JobCompleted, msg.Result, nil)
		}
		s.setState(WorkerReady, "")
		s.dispatch()

	default:
		s.logger.Warn("unrecognized worker output", "line", msg.Raw, "error", msg.Err)
	}
}

// handleExit fails all pending jobs and schedules a restart. A worker killed
// by the timeout guard is replaced at once and keeps its queue. launchErr is
// set when the process never started. Caller holds s.mu.
func (s *Supervisor) handleExit(gen uint64, launchErr error) {
	if gen != s.generation {
		return
	}
	s.proc = nil

	if s.stopped {
		s.setState(WorkerStopped, "stopped")
		return
	}

	if launchErr == nil && s.timeoutKill == gen {
		s.logger.Info("restarting worker after timeout kill", "generation", gen, "queued", s.queue.len())
		s.spawn()
		return
	}

	cause := ErrWorkerDied
	detail := "worker exited"
	if launchErr != nil {
		cause = fmt.Errorf("%w: %w", ErrWorkerDied, launchErr)
		detail = launchErr.Error()
	}

	s.crashes++
	s.setState(WorkerCrashed, detail)
	if n := s.queue.len(); n > 0 {
		s.logger.Warn("failing pending jobs", "count", n, "generation", gen)
	}
	s.failAll(cause)

	if s.opts.AlertAfter > 0 && s.crashes >= s.opts.AlertAfter {
		s.logger.Error("worker is crash looping", "consecutive_crashes", s.crashes)
		s.opts.Observer.WorkerEvent(WorkerEvent{
			Generation: gen,
			State:      WorkerCrashed,
			At:         s.now(),
			Detail:     "consecutive crash threshold reached",
			Crashes:    s.crashes,
			Degraded:   true,
		})
	}

	if s.opts.GiveUpAfter > 0 && s.crashes >= s.opts.GiveUpAfter {
		s.gaveUp = true
		s.logger.Error("giving up on worker", "consecutive_crashes", s.crashes)
		s.setState(WorkerStopped, "gave up after repeated crashes")
		return
	}

	delay := s.opts.Backoff.Delay(s.crashes)
	s.logger.Info("scheduling worker restart", "delay", delay, "attempt", s.crashes)
	s.restartTimer = time.AfterFunc(delay, func() { s.restart(gen) })
}

func (s *Supervisor) restart(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || s.gaveUp || gen != s.generation || s.state != WorkerCrashed {
		return
	}
	s.restartTimer = nil
	s.spawn()
}
