package chat

import (
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"yewchat/cmd/yewchat/ui"
	"yewchat/internal/client"
)

const helpText = `# Chat keys

| Key | Action |
| ------------- | ------------------------------ |
| Enter         | Send the message               |
| Alt+Enter     | Insert a line break            |
| Ctrl+E        | Toggle the emoji picker        |
| Arrows / hjkl | Move inside the picker         |
| Enter / Space | Insert the selected emoji      |
| Esc           | Close the picker or this help  |
| PgUp / PgDn   | Scroll the transcript          |
| F1            | Toggle this help               |
| Ctrl+C        | Quit                           |

Messages ending in ` + "`.gif`" + ` show up as a link you can open in a browser.
`

func (m Model) View() string {
	if m.screen == screenLogin {
		return m.renderLogin()
	}
	if !m.ready {
		return "Initializing..."
	}

	header := m.renderHeader()
	main := m.renderMain()
	if m.width >= 60 {
		main = lipgloss.JoinHorizontal(lipgloss.Top, m.renderSidebar(), main)
	}

	return lipgloss.JoinVertical(lipgloss.Left, header, main)
}

func (m Model) renderLogin() string {
	title := m.styles.Title.Render("💬 Chat!")
	prompt := m.styles.Body.Render("Pick a username to join")
	input := m.login.View()

	lines := []string{title, "", prompt, input}
	if m.loginErr != "" {
		lines = append(lines, m.styles.StatusErr.Render(m.loginErr))
	}
	lines = append(lines, "", m.styles.Hint.Render("Enter to join · Esc to quit"))

	content := lipgloss.JoinVertical(lipgloss.Center, lines...)
	if m.width > 0 && m.height > 0 {
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, content)
	}
	return content
}

func (m Model) renderMain() string {
	content := m.viewport.View()
	if m.showHelp {
		content = m.renderHelp()
	}

	parts := []string{content, m.renderTypingLine()}
	if m.picker.Open() {
		parts = append(parts, m.picker.View())
	}
	parts = append(parts, m.renderComposer(), m.renderFooter())

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m Model) renderHeader() string {
	title := m.styles.Header.Render("💬 Chat!")

	var status string
	switch m.connState {
	case client.StateConnected:
		status = m.styles.StatusOK.Render("● " + m.username)
	case client.StateConnecting:
		status = m.spinner.View() + m.styles.Muted.Render(" connecting")
	case client.StateReconnecting:
		status = m.spinner.View() + m.styles.StatusWarn.Render(" reconnecting")
	case client.StateClosed:
		status = m.styles.StatusErr.Render("offline")
	}

	line := lipgloss.JoinHorizontal(lipgloss.Center, title, "  ", status)
	return lipgloss.JoinVertical(lipgloss.Left, line, m.styles.RenderDivider(m.width))
}

func (m Model) renderSidebar() string {
	var sb strings.Builder
	sb.WriteString(m.styles.Title.Render("Users") + "\n\n")

	if len(m.users) == 0 {
		sb.WriteString(m.styles.Muted.Render("nobody here yet"))
	}
	for _, p := range m.users {
		sb.WriteString(m.styles.BadgeFor(p.Color, p.Initials))
		sb.WriteString(" " + m.styles.Bold.Render(p.Username) + "\n")
		sb.WriteString(m.styles.Muted.Render("   Hi there!") + "\n")
	}

	height := m.height - 2
	if height < 1 {
		height = 1
	}
	return m.styles.Sidebar.Width(sidebarWidth).Height(height).Render(sb.String())
}

func (m Model) renderTranscript() string {
	var sb strings.Builder

	for _, e := range m.history {
		p := m.profileFor(e.From)
		sb.WriteString(m.styles.BadgeFor(p.Color, p.Initials))
		sb.WriteString(" " + m.styles.Author.Render(e.From))
		if e.Stamp != "" {
			sb.WriteString(" " + m.styles.Timestamp.Render(e.Stamp))
		}
		sb.WriteString("\n")

		if e.Gif {
			sb.WriteString(m.styles.GifLink.Render("GIF ▶ " + e.Body))
		} else {
			sb.WriteString(m.styles.Body.Render(e.Body))
		}
		sb.WriteString("\n\n")
	}

	return sb.String()
}

// typingLine builds the indicator text, without styling, from the set of
// remote users currently typing.
func (m Model) typingLine() string {
	if len(m.typingUsers) == 0 {
		return ""
	}

	names := make([]string, 0, len(m.typingUsers))
	for name := range m.typingUsers {
		names = append(names, name)
	}
	sort.Strings(names)

	var text string
	switch len(names) {
	case 1:
		text = names[0] + " is typing"
	case 2:
		text = names[0] + " and " + names[1] + " are typing"
	default:
		text = "Several people are typing"
	}

	return text + strings.Repeat(".", m.animFrame%3+1)
}

func (m Model) renderTypingLine() string {
	line := m.typingLine()
	if line == "" {
		// Keep the row so the composer does not jump around.
		return " "
	}
	return m.styles.Muted.Render(line)
}

func (m Model) renderComposer() string {
	inputStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(m.styles.Theme.Accent).
		Padding(0, 1)
	return inputStyle.Render(m.textarea.View())
}

func (m Model) renderFooter() string {
	hint := "Enter: send | Alt+Enter: newline | Ctrl+E: " + ui.ToggleGlyph + " emoji | F1: help | Ctrl+C: quit"
	if m.status != "" {
		return m.styles.StatusErr.Render(m.status) + "  " + m.styles.Footer.Render(hint)
	}
	return m.styles.Footer.Render(hint)
}

func (m Model) renderHelp() string {
	return m.safeRenderMarkdown(helpText)
}

// safeRenderMarkdown renders markdown with panic recovery; glamour can choke
// on odd terminal widths.
func (m Model) safeRenderMarkdown(content string) (result string) {
	defer func() {
		if r := recover(); r != nil {
			result = content
		}
	}()

	if m.renderer != nil && content != "" {
		rendered, err := m.renderer.Render(content)
		if err == nil {
			return rendered
		}
	}
	return content
}
