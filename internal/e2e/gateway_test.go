package e2e

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/sttgw/internal/api"
	"github.com/mattjoyce/sttgw/internal/auth"
	"github.com/mattjoyce/sttgw/internal/client"
	"github.com/mattjoyce/sttgw/internal/events"
	"github.com/mattjoyce/sttgw/internal/journal"
	"github.com/mattjoyce/sttgw/internal/storage"
	"github.com/mattjoyce/sttgw/internal/supervisor"
)

type stack struct {
	sup     *supervisor.Supervisor
	journal *journal.Recorder
	hub     *events.Hub
	url     string
}

func startStack(t *testing.T) *stack {
	t.Helper()
	ctx := context.Background()

	db, err := storage.OpenSQLite(ctx, filepath.Join(t.TempDir(), "sttgw.db"))
	require.NoError(t, err)
	rec := journal.New(db, 0)
	hub := events.NewHub(64)

	sup := supervisor.New(supervisor.Options{
		Launcher:   echoLauncher(t),
		JobTimeout: 5 * time.Second,
		StopGrace:  time.Second,
		Observer:   supervisor.Observers{rec, events.NewSupervisorObserver(hub), supervisor.NewMetrics()},
	})
	require.NoError(t, sup.Start(ctx))

	srv := api.New(api.Config{
		Tokens: []auth.TokenConfig{
			{Token: "client", Scopes: []string{auth.ScopeTranscribeRW, auth.ScopeJobsRO}},
			{Token: "viewer", Scopes: []string{auth.ScopeEventsRO}},
		},
	}, sup, rec, hub, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ts := httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		ts.Close()
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sup.Stop(stopCtx)
		hub.Close()
		rec.Close()
		_ = db.Close()
	})
	return &stack{sup: sup, journal: rec, hub: hub, url: ts.URL}
}

func waitReady(t *testing.T, c *client.Client) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		h, err := c.Health(context.Background())
		if err == nil && h.Status == "ok" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("gateway never became healthy")
}

func TestGatewayTranscribeFlow(t *testing.T) {
	s := startStack(t)
	c := client.New(s.url, "client", nil)
	waitReady(t, c)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Follow the event stream while transcribing.
	var (
		mu   sync.Mutex
		seen []string
	)
	streamCtx, stopStream := context.WithCancel(ctx)
	streamDone := make(chan struct{})
	go func() {
		defer close(streamDone)
		_, _ = client.New(s.url, "viewer", nil).Stream(streamCtx, 0, func(ev events.Event) {
			mu.Lock()
			seen = append(seen, ev.Type)
			mu.Unlock()
		})
	}()

	resp, err := c.Transcribe(ctx, audioFile(t, t.TempDir(), "meeting.wav"))
	require.NoError(t, err)
	assert.Equal(t, "meeting", resp.Text)
	assert.Equal(t, "en", resp.Language)
	require.NotEmpty(t, resp.JobID)

	// Terminal jobs reach the journal asynchronously.
	var job *api.JobStatusResponse
	require.Eventually(t, func() bool {
		job, err = c.Job(ctx, resp.JobID)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, "completed", job.Status)
	assert.Equal(t, "meeting", job.Text)
	require.NotNil(t, job.DispatchedAt)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return contains(seen, events.TypeJobCompleted)
	}, 5*time.Second, 20*time.Millisecond)
	stopStream()
	<-streamDone

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, seen, events.TypeWorkerState)
	assert.Contains(t, seen, events.TypeJobSubmitted)
	assert.Contains(t, seen, events.TypeJobDispatched)
}

func TestGatewayWorkerErrorIsBadGateway(t *testing.T) {
	s := startStack(t)
	c := client.New(s.url, "client", nil)
	waitReady(t, c)

	_, err := c.Transcribe(context.Background(), "/does/not/exist.wav")
	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr), "got %v", err)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)

	var recent []journal.Record
	require.Eventually(t, func() bool {
		recent, err = s.journal.Recent(context.Background(), 10)
		return err == nil && len(recent) == 1
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, "failed", recent[0].Status)
	assert.Contains(t, recent[0].LastError, "file not found")
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
