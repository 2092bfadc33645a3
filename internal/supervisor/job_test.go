package supervisor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleSettlesOnce(t *testing.T) {
	h := newHandle("j1")
	assert.True(t, h.settle("first", "en", nil))
	assert.False(t, h.settle("second", "", errors.New("late")))

	text, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", text)
	assert.Equal(t, "en", h.Language())

	select {
	case <-h.Done():
	default:
		t.Fatal("Done should be closed")
	}
}

func TestHandleLanguageBeforeDone(t *testing.T) {
	h := newHandle("j1")
	assert.Empty(t, h.Language())
}

func TestJobQueueFIFO(t *testing.T) {
	var q jobQueue
	assert.Nil(t, q.head())
	assert.Nil(t, q.pop())

	a, b, c := &Job{ID: "a"}, &Job{ID: "b"}, &Job{ID: "c"}
	q.push(a)
	q.push(b)
	q.push(c)
	assert.Equal(t, 3, q.len())
	assert.Same(t, a, q.head())

	a.State = JobDispatched
	assert.Equal(t, 1, q.dispatched())

	assert.Same(t, a, q.pop())
	rest := q.drain()
	require.Len(t, rest, 2)
	assert.Same(t, b, rest[0])
	assert.Same(t, c, rest[1])
	assert.Zero(t, q.len())
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "timed_out", JobTimedOut.String())
	assert.True(t, JobTimedOut.Terminal())
	assert.False(t, JobDispatched.Terminal())
	assert.Equal(t, "busy", WorkerBusy.String())
	assert.Equal(t, "crashed", WorkerCrashed.String())
}
