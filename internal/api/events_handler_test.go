package api

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventsStream(t *testing.T) {
	f := newFixture(t, nil)
	f.hub.Publish("worker.state", map[string]string{"state": "ready"})

	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer viewer-token")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Publish after the client is connected.
	go func() {
		time.Sleep(100 * time.Millisecond)
		f.hub.Publish("job.completed", map[string]string{"job_id": "j1"})
	}()

	sc := bufio.NewScanner(resp.Body)
	var types []string
	for sc.Scan() && len(types) < 2 {
		line := sc.Text()
		if strings.HasPrefix(line, "event: ") {
			types = append(types, strings.TrimPrefix(line, "event: "))
		}
	}
	assert.Equal(t, []string{"worker.state", "job.completed"}, types)
}

func TestEventsReplayFromLastEventID(t *testing.T) {
	f := newFixture(t, nil)
	f.hub.Publish("a", nil)
	f.hub.Publish("b", nil)
	f.hub.Publish("c", nil)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	req.Header.Set("Last-Event-ID", "2")
	rr := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		f.server.Handler().ServeHTTP(rr, req)
		close(done)
	}()
	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	body := rr.Body.String()
	assert.Contains(t, body, "id: 3\nevent: c\n")
	assert.NotContains(t, body, "event: a\n")
	assert.NotContains(t, body, "event: b\n")
}

func TestParseLastEventID(t *testing.T) {
	assert.Equal(t, int64(0), parseLastEventID(""))
	assert.Equal(t, int64(0), parseLastEventID("x"))
	assert.Equal(t, int64(0), parseLastEventID("-3"))
	assert.Equal(t, int64(42), parseLastEventID("42"))
}
