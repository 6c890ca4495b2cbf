package chat

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

const typingAnimInterval = 400 * time.Millisecond

// runConn drives the connection loop inside a command goroutine and reports
// how it ended.
func (m Model) runConn(ctx context.Context) tea.Cmd {
	conn := m.conn
	return func() tea.Msg {
		return connFinishedMsg{err: conn.Run(ctx)}
	}
}

// waitForEvent pumps one connection event into the update loop. The handler
// re-issues it, keeping exactly one listener alive.
func (m Model) waitForEvent() tea.Cmd {
	events := m.conn.Events()
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return connStreamClosedMsg{}
		}
		return connEventMsg{ev: ev}
	}
}

// typingAnimTick advances the "is typing" dots.
func typingAnimTick() tea.Cmd {
	return tea.Tick(typingAnimInterval, func(time.Time) tea.Msg {
		return typingAnimMsg{}
	})
}
