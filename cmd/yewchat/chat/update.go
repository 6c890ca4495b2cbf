package chat

import (
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"yewchat/internal/client"
)

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		if m.ready {
			m.viewport.SetContent(m.renderTranscript())
			m.viewport.GotoBottom()
		}
		return m, nil

	case tea.MouseMsg:
		if m.screen == screenChat && m.ready {
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
		return m, nil

	case autoJoinMsg:
		return m.join(m.login.Value())

	case connEventMsg:
		if m.conn == nil {
			// Stale event from a connection we already tore down.
			return m, nil
		}
		return m.handleEvent(msg.ev)

	case connFinishedMsg:
		if errors.Is(msg.err, client.ErrRejected) {
			m.log.Warn("registration rejected", zap.Error(msg.err))
			return m.resetToLogin(rejectReason(msg.err)), textinput.Blink
		}
		if msg.err != nil {
			m.connState = client.StateClosed
			m.connErr = msg.err
		}
		m.spinning = false
		return m, nil

	case connStreamClosedMsg:
		return m, nil

	case typingAnimMsg:
		if len(m.typingUsers) == 0 {
			m.animating = false
			return m, nil
		}
		m.animFrame++
		return m, typingAnimTick()

	case spinner.TickMsg:
		if !m.spinning {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	// Cursor blinks and other component plumbing.
	if m.screen == screenLogin {
		var cmd tea.Cmd
		m.login, cmd = m.login.Update(msg)
		return m, cmd
	}
	var tiCmd, vpCmd tea.Cmd
	m.textarea, tiCmd = m.textarea.Update(msg)
	if m.ready {
		m.viewport, vpCmd = m.viewport.Update(msg)
	}
	return m, tea.Batch(tiCmd, vpCmd)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		m.performShutdown()
		return m, tea.Quit
	}

	if m.screen == screenLogin {
		return m.handleLoginKey(msg)
	}
	return m.handleChatKey(msg)
}

func (m Model) handleLoginKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		return m.join(m.login.Value())
	case tea.KeyEsc:
		return m, tea.Quit
	}

	var cmd tea.Cmd
	m.login, cmd = m.login.Update(msg)
	return m, cmd
}

func (m Model) handleChatKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// The help overlay swallows keys while open.
	if m.showHelp {
		switch msg.String() {
		case "esc", "f1", "q":
			m.showHelp = false
		}
		return m, nil
	}

	// The picker owns navigation while open.
	if m.picker.Open() {
		return m.handlePickerKey(msg)
	}

	switch msg.Type {
	case tea.KeyCtrlE:
		m.picker.Toggle()
		m.layout()
		if m.ready {
			m.viewport.GotoBottom()
		}
		return m, nil

	case tea.KeyF1:
		m.showHelp = true
		return m, nil

	case tea.KeyEsc:
		// With the picker closed, Esc parks the composer; a second Esc (or
		// nothing else) brings it back. Quit stays on Ctrl+C.
		if m.textarea.Focused() {
			m.textarea.Blur()
			return m, nil
		}
		return m, m.textarea.Focus()

	case tea.KeyEnter:
		if !msg.Alt {
			return m.handleSubmit()
		}
		// Alt+Enter falls through to the composer as a line break.

	case tea.KeyPgUp, tea.KeyPgDown, tea.KeyHome, tea.KeyEnd:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	before := m.textarea.Value()
	var cmd tea.Cmd
	m.textarea, cmd = m.textarea.Update(msg)
	if m.textarea.Value() != before {
		m.noteTyping()
	}
	return m, cmd
}

func (m Model) handlePickerKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "ctrl+e":
		m.closePicker()

	case "left", "h":
		m.picker.Move(-1, 0)
	case "right", "l":
		m.picker.Move(1, 0)
	case "up", "k":
		m.picker.Move(0, -1)
	case "down", "j":
		m.picker.Move(0, 1)

	case "enter", " ":
		emoji := m.picker.Selected()
		m.textarea.InsertString(emoji)
		m.closePicker()
		m.noteTyping()
	}
	return m, nil
}

// closePicker hides the grid and gives its rows back to the transcript.
func (m *Model) closePicker() {
	m.picker.Hide()
	m.layout()
	if m.ready {
		m.viewport.GotoBottom()
	}
}

func (m Model) handleSubmit() (tea.Model, tea.Cmd) {
	text := m.textarea.Value()
	trimmed := strings.TrimSpace(text)

	wasTyping := m.typing.Active()
	m.typing.Stop()
	m.closePicker()

	if trimmed == "" {
		m.textarea.Reset()
		if wasTyping && m.conn != nil {
			_ = m.conn.SendTyping(false)
		}
		return m, nil
	}
	if m.conn == nil {
		return m, nil
	}

	if err := m.conn.SendText(text); err != nil {
		// Keep the draft so the user can retry once the line is back. The
		// burst still ends: without the typing{false} the room would show a
		// stale indicator until the next keystroke.
		m.status = "message not sent: " + err.Error()
		m.log.Warn("send failed", zap.Error(err))
		if wasTyping {
			_ = m.conn.SendTyping(false)
		}
		return m, nil
	}

	m.textarea.Reset()
	m.status = ""
	if wasTyping {
		_ = m.conn.SendTyping(false)
	}
	return m, nil
}

// noteTyping opens or extends the local typing burst after a composer edit.
func (m *Model) noteTyping() {
	conn := m.conn
	if conn == nil {
		return
	}
	if m.typing.Touch(func() { _ = conn.SendTyping(false) }) {
		_ = conn.SendTyping(true)
	}
}

func (m Model) handleEvent(ev client.Event) (tea.Model, tea.Cmd) {
	cmds := []tea.Cmd{m.waitForEvent()}

	switch ev := ev.(type) {
	case client.StateEvent:
		m.connState = ev.State
		m.connErr = ev.Err
		switch ev.State {
		case client.StateConnecting, client.StateReconnecting:
			if !m.spinning {
				m.spinning = true
				cmds = append(cmds, m.spinner.Tick)
			}
		case client.StateConnected:
			m.spinning = false
			m.status = ""
		case client.StateClosed:
			m.spinning = false
		}

	case client.UsersEvent:
		m.users = ev.Profiles
		present := make(map[string]bool, len(ev.Profiles))
		for _, p := range ev.Profiles {
			present[p.Username] = true
		}
		for name := range m.typingUsers {
			if !present[name] {
				delete(m.typingUsers, name)
			}
		}

	case client.MessageEvent:
		body := ev.Message.Message
		m.history = append(m.history, entry{
			From:  ev.Message.From,
			Body:  body,
			Stamp: stampFor(ev.Message.Timestamp),
			Gif:   strings.HasSuffix(body, ".gif"),
		})
		// A delivered message doubles as "stopped typing".
		delete(m.typingUsers, ev.Message.From)
		if m.ready {
			pinned := m.viewport.AtBottom()
			m.viewport.SetContent(m.renderTranscript())
			if pinned {
				m.viewport.GotoBottom()
			}
		}

	case client.TypingEvent:
		name := ev.Status.Username
		if name == "" || name == m.username {
			break
		}
		if ev.Status.IsTyping {
			m.typingUsers[name] = true
			if !m.animating {
				m.animating = true
				cmds = append(cmds, typingAnimTick())
			}
		} else {
			delete(m.typingUsers, name)
		}
	}

	return m, tea.Batch(cmds...)
}
