// Package worker spawns the long-lived transcription process and exposes its pipes.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"
)

// Process is one running worker instance.
type Process interface {
	Stdin() io.WriteCloser
	Stdout() io.Reader
	Stderr() io.Reader
	// Wait blocks until the process exits and may run alongside reads of
	// Stdout and Stderr. Once it returns, those readers reach EOF after the
	// buffered output is consumed, even if a descendant still holds the pipes.
	Wait() error
	// Terminate asks the process and its descendants to exit.
	Terminate() error
	// Kill forces the process and its descendants to exit.
	Kill() error
	PID() int
}

// Launcher starts worker processes.
type Launcher interface {
	Launch(ctx context.Context) (Process, error)
}

// Spec describes how to invoke the worker executable.
type Spec struct {
	Command    string
	Args       []string
	Dir        string
	Env        map[string]string
	PythonPath []string
}

// orphanPipeTimeout bounds how long output is read after the worker exits.
const orphanPipeTimeout = 2 * time.Second

// ExecLauncher starts workers with os/exec, each in its own process group.
type ExecLauncher struct {
	spec Spec
}

// NewExecLauncher returns a launcher for spec.
func NewExecLauncher(spec Spec) *ExecLauncher {
	return &ExecLauncher{spec: spec}
}

// Launch starts a new worker process. The process is not bound to ctx; the
// supervisor owns its lifetime.
func (l *ExecLauncher) Launch(ctx context.Context) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.spec.Command == "" {
		return nil, errors.New("worker command is empty")
	}

	cmd := exec.Command(l.spec.Command, l.spec.Args...)
	cmd.Dir = l.spec.Dir
	cmd.Env = BuildEnv(os.Environ(), l.spec.Env, l.spec.PythonPath)

	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	// Plain pipes rather than StdoutPipe: exec.Cmd.Wait would close those
	// before the remaining output is read.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		closeFiles(stdoutR, stdoutW)
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		closeFiles(stdoutR, stdoutW, stderrR, stderrW)
		return nil, fmt.Errorf("start process: %w", err)
	}
	closeFiles(stdoutW, stderrW)

	return &execProcess{cmd: cmd, stdin: stdin, stdout: stdoutR, stderr: stderrR}, nil
}

func closeFiles(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}

type execProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *os.File
	stderr *os.File
}

func (p *execProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *execProcess) Stdout() io.Reader     { return p.stdout }
func (p *execProcess) Stderr() io.Reader     { return p.stderr }
func (p *execProcess) PID() int              { return p.cmd.Process.Pid }

// Wait reaps the worker, kills whatever it left running in its group, and
// closes the output pipes after orphanPipeTimeout if they are still open.
func (p *execProcess) Wait() error {
	err := p.cmd.Wait()
	_ = p.signalGroup(syscall.SIGKILL)
	time.AfterFunc(orphanPipeTimeout, func() {
		closeFiles(p.stdout, p.stderr)
	})
	return err
}

func (p *execProcess) Terminate() error {
	return p.signalGroup(syscall.SIGTERM)
}

func (p *execProcess) Kill() error {
	return p.signalGroup(syscall.SIGKILL)
}

func (p *execProcess) signalGroup(sig syscall.Signal) error {
	err := syscall.Kill(-p.cmd.Process.Pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

// BuildEnv merges extra variables into base and appends pythonPath entries to
// PYTHONPATH. Later keys win; output is sorted for stable logs.
func BuildEnv(base []string, extra map[string]string, pythonPath []string) []string {
	vars := make(map[string]string, len(base)+len(extra)+1)
	for _, kv := range base {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		vars[k] = v
	}
	for k, v := range extra {
		vars[k] = v
	}

	if len(pythonPath) > 0 {
		parts := make([]string, 0, len(pythonPath)+1)
		if cur := vars["PYTHONPATH"]; cur != "" {
			parts = append(parts, cur)
		}
		for _, p := range pythonPath {
			if p == "" {
				continue
			}
			if abs, err := filepath.Abs(p); err == nil {
				p = abs
			}
			parts = append(parts, p)
		}
		vars["PYTHONPATH"] = strings.Join(parts, string(os.PathListSeparator))
	}

	out := make([]string, 0, len(vars))
	for k, v := range vars {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// ExitCode extracts the exit status from a Wait error, or -1 when unknown.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// Shutdown closes stdin, waits up to grace for done, then sends SIGTERM and,
// after another grace period, SIGKILL.
func Shutdown(p Process, done <-chan struct{}, grace time.Duration) {
	_ = p.Stdin().Close()

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-done:
		return
	case <-timer.C:
	}

	_ = p.Terminate()
	timer.Reset(grace)
	select {
	case <-done:
		return
	case <-timer.C:
	}

	_ = p.Kill()
	<-done
}
