package main

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/sttgw/internal/client"
	"github.com/mattjoyce/sttgw/internal/config"
	"github.com/mattjoyce/sttgw/internal/lock"
	"github.com/mattjoyce/sttgw/internal/log"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	os.Exit(m.Run())
}

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stdout failed: %v", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stderr failed: %v", err)
	}

	os.Stdout = stdoutW
	os.Stderr = stderrW

	outCh := make(chan []byte)
	errCh := make(chan []byte)
	go func() { b, _ := io.ReadAll(stdoutR); outCh <- b }()
	go func() { b, _ := io.ReadAll(stderrR); errCh <- b }()

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdout, stderr := <-outCh, <-errCh
	_ = stdoutR.Close()
	_ = stderrR.Close()
	return code, string(stdout), string(stderr)
}

func echoWorkerPath(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	// cmd/sttgw -> cmd -> repo root
	return filepath.Clean(filepath.Join(filepath.Dir(file), "..", "..", "workers", "echo", "run.sh"))
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	_ = l.Close()
	return addr
}

// writeConfig writes a config directory using the echo worker.
func writeConfig(t *testing.T, listen string) string {
	t.Helper()
	dir := t.TempDir()
	yaml := `
service:
  log_level: error
state:
  path: ` + filepath.Join(dir, "data", "sttgw.db") + `
api:
  enabled: true
  listen: ` + listen + `
  auth:
    tokens:
      - token: ${STTGW_TEST_TOKEN}
        scopes: ["transcribe:rw", "jobs:ro", "events:ro"]
worker:
  command: bash
  args: ["` + echoWorkerPath(t) + `"]
  job_timeout: 5s
  kill_on_timeout: true
  stop_grace: 1s
`
	if err := os.WriteFile(filepath.Join(dir, config.ConfigFileName), []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestRunCLIUsage(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int { return runCLI(nil) })
	if code != 1 || !strings.Contains(stderr, "Usage:") {
		t.Fatalf("code=%d stderr=%q", code, stderr)
	}

	code, stdout, _ := captureOutputWithExitCode(t, func() int { return runCLI([]string{"help"}) })
	if code != 0 || !strings.Contains(stdout, "transcribe <path>") {
		t.Fatalf("code=%d stdout=%q", code, stdout)
	}

	code, _, stderr = captureOutputWithExitCode(t, func() int { return runCLI([]string{"bogus"}) })
	if code != 1 || !strings.Contains(stderr, "Unknown command: bogus") {
		t.Fatalf("code=%d stderr=%q", code, stderr)
	}
}

func TestRunNounHelp(t *testing.T) {
	for _, args := range [][]string{
		{"system", "help"},
		{"config", "help"},
		{"job", "help"},
		{"system", "start", "--help"},
		{"transcribe", "--help"},
		{"watch", "-h"},
	} {
		code, stdout, stderr := captureOutputWithExitCode(t, func() int { return runCLI(args) })
		if code != 0 || !strings.Contains(stdout, "Usage: sttgw") {
			t.Fatalf("%v: code=%d stdout=%q stderr=%q", args, code, stdout, stderr)
		}
	}
}

func TestRunVersionJSON(t *testing.T) {
	origVersion, origCommit, origBuild := version, gitCommit, buildDate
	version, gitCommit, buildDate = "1.2.3", "0123456789abcdef", "2026-01-02T03:04:05+10:00"
	t.Cleanup(func() { version, gitCommit, buildDate = origVersion, origCommit, origBuild })

	code, stdout, stderr := captureOutputWithExitCode(t, func() int { return runCLI([]string{"version", "--json"}) })
	if code != 0 {
		t.Fatalf("code=%d stderr=%s", code, stderr)
	}
	var info versionInfo
	if err := json.Unmarshal([]byte(stdout), &info); err != nil {
		t.Fatalf("invalid JSON %q: %v", stdout, err)
	}
	if info.Version != "1.2.3" || info.Commit != "0123456789ab" || info.BuildTime != "2026-01-01T17:04:05Z" {
		t.Fatalf("unexpected version info: %+v", info)
	}
}

func TestConfigCheckLockAndTamper(t *testing.T) {
	t.Setenv("STTGW_TEST_TOKEN", "tok")
	dir := writeConfig(t, "127.0.0.1:0")

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "check", "--config", dir})
	})
	if code != 0 {
		t.Fatalf("check code=%d stdout=%s stderr=%s", code, stdout, stderr)
	}
	if !strings.Contains(stdout, "config lock") {
		t.Fatalf("expected missing-checksum warning, got: %s", stdout)
	}

	code, _, _ = captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "check", "--config", dir, "--strict"})
	})
	if code != 2 {
		t.Fatalf("strict check with warnings: code=%d, want 2", code)
	}

	code, stdout, stderr = captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "lock", "--config", dir})
	})
	if code != 0 || !strings.Contains(stdout, "HASH config.yaml:") {
		t.Fatalf("lock code=%d stdout=%s stderr=%s", code, stdout, stderr)
	}
	if _, err := os.Stat(filepath.Join(dir, config.ChecksumFileName)); err != nil {
		t.Fatalf("checksums not written: %v", err)
	}

	code, stdout, _ = captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "check", "--config", dir, "--strict"})
	})
	if code != 0 {
		t.Fatalf("locked strict check code=%d stdout=%s", code, stdout)
	}

	f, err := os.OpenFile(filepath.Join(dir, config.ConfigFileName), os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = f.WriteString("# edited\n")
	_ = f.Close()

	code, _, stderr = captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "check", "--config", dir})
	})
	if code != 1 || !strings.Contains(stderr, "verification failed") {
		t.Fatalf("tampered check code=%d stderr=%s", code, stderr)
	}
}

func TestConfigShowMasksTokens(t *testing.T) {
	t.Setenv("STTGW_TEST_TOKEN", "super-secret")
	dir := writeConfig(t, "127.0.0.1:0")

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "show", "--config", dir})
	})
	if code != 0 {
		t.Fatalf("code=%d stderr=%s", code, stderr)
	}
	if strings.Contains(stdout, "super-secret") || !strings.Contains(stdout, "***") {
		t.Fatalf("token not masked: %s", stdout)
	}
	if !strings.Contains(stdout, "job_timeout: 5s") {
		t.Fatalf("expected durations rendered as strings: %s", stdout)
	}
}

func TestServeTranscribeAndInspect(t *testing.T) {
	t.Setenv("STTGW_TEST_TOKEN", "tok")
	listen := freeAddr(t)
	dir := writeConfig(t, listen)

	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- serve(ctx, cfg) }()

	waitHealthy(t, listen, cancel)

	audio := filepath.Join(t.TempDir(), "standup.wav")
	if err := os.WriteFile(audio, []byte("RIFF"), 0o644); err != nil {
		t.Fatal(err)
	}

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"transcribe", audio, "--url", "http://" + listen, "--token", "tok", "--json"})
	})
	if code != 0 {
		t.Fatalf("transcribe code=%d stderr=%s", code, stderr)
	}
	var resp struct {
		JobID string `json:"job_id"`
		Text  string `json:"text"`
	}
	if err := json.Unmarshal([]byte(stdout), &resp); err != nil {
		t.Fatalf("bad JSON %q: %v", stdout, err)
	}
	if resp.Text != "standup" || resp.JobID == "" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	cancel()
	select {
	case err := <-served:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not return after cancel")
	}

	code, stdout, stderr = captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"job", "inspect", resp.JobID, "--config", dir})
	})
	if code != 0 {
		t.Fatalf("inspect code=%d stderr=%s", code, stderr)
	}
	if !strings.Contains(stdout, "Status:     completed") || !strings.Contains(stdout, "standup") {
		t.Fatalf("unexpected inspect output: %s", stdout)
	}

	code, stdout, stderr = captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"job", "recent", "--config", dir, "--workers"})
	})
	if code != 0 || !strings.Contains(stdout, "ready") || !strings.Contains(stdout, "stopped") {
		t.Fatalf("recent workers code=%d stdout=%s stderr=%s", code, stdout, stderr)
	}
}

func waitHealthy(t *testing.T, listen string, cancel context.CancelFunc) {
	t.Helper()
	c := client.New("http://"+listen, "tok", nil)
	deadline := time.Now().Add(10 * time.Second)
	for {
		h, err := c.Health(context.Background())
		if err == nil && h.Status == "ok" {
			return
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("gateway not healthy: %v", err)
		}
		time.Sleep(25 * time.Millisecond)
	}
}

func TestServeCancelledDuringStartup(t *testing.T) {
	t.Setenv("STTGW_TEST_TOKEN", "tok")
	dir := writeConfig(t, freeAddr(t))
	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := serve(ctx, cfg); err != nil {
		t.Fatalf("serve with cancelled context: %v", err)
	}

	// The journal was still bootstrapped and the lock released.
	if _, err := os.Stat(cfg.State.Path); err != nil {
		t.Fatalf("state database missing: %v", err)
	}
	l, err := lock.Acquire(pidLockPath(cfg))
	if err != nil {
		t.Fatalf("lock not released: %v", err)
	}
	l.Release()
}

func TestServeRefusesSecondInstance(t *testing.T) {
	t.Setenv("STTGW_TEST_TOKEN", "tok")
	dir := writeConfig(t, freeAddr(t))
	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- serve(ctx, cfg) }()

	waitHealthy(t, cfg.API.Listen, cancel)
	if pid, err := lock.ReadPID(pidLockPath(cfg)); err != nil || pid != os.Getpid() {
		cancel()
		t.Fatalf("ReadPID = %d, %v", pid, err)
	}

	if err := serve(context.Background(), cfg); err == nil || !strings.Contains(err.Error(), "another sttgw instance") {
		t.Fatalf("second serve err = %v", err)
	}

	cancel()
	if err := <-served; err != nil {
		t.Fatalf("first serve: %v", err)
	}
}
