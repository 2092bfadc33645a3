package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/sttgw/internal/api"
	"github.com/mattjoyce/sttgw/internal/events"
)

const (
	healthInterval = 5 * time.Second
	reconnectDelay = 2 * time.Second
)

type eventMsg events.Event

type healthMsg api.HealthzResponse

type healthErrMsg struct{ err error }

type streamClosedMsg struct {
	lastID int64
	err    error
}

type reconnectMsg struct{}

// streamEvents follows /events from lastID, feeding ch until the stream ends.
func (m Model) streamEvents(lastID int64) tea.Cmd {
	return func() tea.Msg {
		id, err := m.client.Stream(m.ctx, lastID, func(ev events.Event) {
			select {
			case m.hubEvents <- ev:
			case <-m.ctx.Done():
			}
		})
		return streamClosedMsg{lastID: id, err: err}
	}
}

// receiveNextEvent waits for the next event from the stream goroutine.
func (m Model) receiveNextEvent() tea.Cmd {
	return func() tea.Msg {
		select {
		case ev := <-m.hubEvents:
			return eventMsg(ev)
		case <-m.ctx.Done():
			return nil
		}
	}
}

func (m Model) fetchHealth() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, 2*time.Second)
		defer cancel()
		h, err := m.client.Health(ctx)
		if err != nil {
			return healthErrMsg{err: err}
		}
		return healthMsg(*h)
	}
}

func (m Model) scheduleHealth() tea.Cmd {
	return tea.Tick(healthInterval, func(time.Time) tea.Msg { return m.fetchHealth()() })
}
