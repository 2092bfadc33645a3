package e2e

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/sttgw/internal/log"
	"github.com/mattjoyce/sttgw/internal/protocol"
	"github.com/mattjoyce/sttgw/internal/supervisor"
	"github.com/mattjoyce/sttgw/internal/worker"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	os.Exit(m.Run())
}

func repoRoot(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	// internal/e2e -> internal -> repo root
	return filepath.Clean(filepath.Join(filepath.Dir(file), "..", ".."))
}

func echoLauncher(t *testing.T) worker.Launcher {
	t.Helper()
	script := filepath.Join(repoRoot(t), "workers", "echo", "run.sh")
	if _, err := os.Stat(script); err != nil {
		t.Fatalf("echo worker missing: %v", err)
	}
	return worker.NewExecLauncher(worker.Spec{Command: "bash", Args: []string{script}})
}

func audioFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("RIFF"), 0o644))
	return path
}

func startEcho(t *testing.T, mode protocol.Mode) *supervisor.Supervisor {
	t.Helper()
	sup := supervisor.New(supervisor.Options{
		Launcher:   echoLauncher(t),
		Mode:       mode,
		JobTimeout: 5 * time.Second,
		StopGrace:  time.Second,
	})
	require.NoError(t, sup.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sup.Stop(ctx)
	})
	return sup
}

func TestEchoWorker(t *testing.T) {
	for _, mode := range []protocol.Mode{protocol.ModeLine, protocol.ModeJSON} {
		t.Run(string(mode), func(t *testing.T) {
			dir := t.TempDir()
			sup := startEcho(t, mode)

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			// Submitted before READY; queued until the worker is up.
			first := sup.Submit(audioFile(t, dir, "hello.wav"))
			second := sup.Submit(audioFile(t, dir, "world.wav"))

			text, err := first.Wait(ctx)
			require.NoError(t, err)
			assert.Equal(t, "hello", text)
			assert.Equal(t, "en", first.Language())

			text, err = second.Wait(ctx)
			require.NoError(t, err)
			assert.Equal(t, "world", text)
		})
	}
}

func TestEchoWorkerReportsMissingFile(t *testing.T) {
	sup := startEcho(t, protocol.ModeLine)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := sup.Transcribe(ctx, "/nonexistent/audio.wav")
	var werr *supervisor.WorkerError
	require.True(t, errors.As(err, &werr), "got %v", err)
	assert.Contains(t, werr.Message, "file not found")

	// The worker survives a reported error.
	text, err := sup.Transcribe(ctx, audioFile(t, t.TempDir(), "after.wav"))
	require.NoError(t, err)
	assert.Equal(t, "after", text)
}
