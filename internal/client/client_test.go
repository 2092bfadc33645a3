package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/sttgw/internal/api"
	"github.com/mattjoyce/sttgw/internal/api/mocks"
	"github.com/mattjoyce/sttgw/internal/events"
	"github.com/mattjoyce/sttgw/internal/journal"
	"github.com/mattjoyce/sttgw/internal/supervisor"
)

type gateway struct {
	stt  *mocks.MockTranscriber
	jobs *mocks.MockJobLookup
	hub  *events.Hub
	url  string
}

func startGateway(t *testing.T) *gateway {
	t.Helper()
	ctrl := gomock.NewController(t)
	g := &gateway{
		stt:  mocks.NewMockTranscriber(ctrl),
		jobs: mocks.NewMockJobLookup(ctrl),
		hub:  events.NewHub(16),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := api.New(api.Config{APIKey: "secret"}, g.stt, g.jobs, g.hub, logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	g.url = ts.URL
	return g
}

func TestTranscribe(t *testing.T) {
	g := startGateway(t)
	g.stt.EXPECT().TranscribeJob(gomock.Any(), "/tmp/a.wav").
		Return(supervisor.Outcome{JobID: "j1", Text: "hello", Language: "en"}, nil)

	c := New(g.url+"/", "secret", nil)
	resp, err := c.Transcribe(context.Background(), "/tmp/a.wav")
	require.NoError(t, err)
	assert.Equal(t, "j1", resp.JobID)
	assert.Equal(t, "hello", resp.Text)
	assert.Equal(t, "en", resp.Language)
}

func TestTranscribeAPIError(t *testing.T) {
	g := startGateway(t)
	g.stt.EXPECT().TranscribeJob(gomock.Any(), "/tmp/a.wav").
		Return(supervisor.Outcome{JobID: "j1"}, supervisor.ErrTimedOut)

	c := New(g.url, "secret", nil)
	_, err := c.Transcribe(context.Background(), "/tmp/a.wav")

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusGatewayTimeout, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "timed out")
}

func TestUnauthorized(t *testing.T) {
	g := startGateway(t)
	c := New(g.url, "wrong", nil)
	_, err := c.Job(context.Background(), "x")

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}

func TestHealthAndJob(t *testing.T) {
	g := startGateway(t)
	g.stt.EXPECT().State().Return(supervisor.WorkerReady)
	g.jobs.EXPECT().Get(gomock.Any(), "j1").Return(&journal.Record{ID: "j1", Status: "completed", Text: "hi"}, nil)

	c := New(g.url, "secret", nil)
	h, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, "ready", h.WorkerState)

	job, err := c.Job(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, "completed", job.Status)
	assert.Equal(t, "hi", job.Text)
}

func TestStream(t *testing.T) {
	g := startGateway(t)
	g.hub.Publish(events.TypeWorkerState, events.WorkerPayload{State: "ready", Generation: 1})
	g.hub.Publish(events.TypeJobCompleted, events.JobPayload{JobID: "j1", Status: "completed"})
	g.hub.Publish(events.TypeJobFailed, events.JobPayload{JobID: "j2", Status: "failed"})

	c := New(g.url, "secret", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var got []events.Event
	lastID, err := c.Stream(ctx, 1, func(ev events.Event) {
		got = append(got, ev)
		if len(got) == 2 {
			cancel()
		}
	})
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, got, 2)
	assert.Equal(t, events.TypeJobCompleted, got[0].Type)
	assert.Equal(t, events.TypeJobFailed, got[1].Type)
	assert.JSONEq(t, `{"job_id":"j2","payload":"","status":"failed"}`, string(got[1].Data))
	assert.Equal(t, int64(3), lastID)
}
