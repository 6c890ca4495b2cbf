// Package chat provides the interactive TUI for yewchat: a login screen, the
// room transcript with a user sidebar, a composer with an emoji picker, and
// live typing indicators.
package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"go.uber.org/zap"

	"yewchat/cmd/yewchat/ui"
	"yewchat/internal/avatar"
	"yewchat/internal/client"
	"yewchat/internal/config"
	"yewchat/internal/protocol"
)

const sidebarWidth = 24

// screen determines which top-level view is active.
type screen int

const (
	screenLogin screen = iota
	screenChat
)

// connection is the slice of the chat client the UI drives. Tests substitute
// a recording fake.
type connection interface {
	Run(ctx context.Context) error
	Events() <-chan client.Event
	SendText(text string) error
	SendTyping(isTyping bool) error
	Close() error
}

// entry is one rendered transcript line.
type entry struct {
	From  string
	Body  string
	Stamp string // local HH:MM, or the raw timestamp if unparseable
	Gif   bool
}

// Messages for tea updates
type (
	autoJoinMsg         struct{}
	connEventMsg        struct{ ev client.Event }
	connFinishedMsg     struct{ err error }
	connStreamClosedMsg struct{}
	typingAnimMsg       struct{}
)

// Model is the main model for the interactive chat interface.
type Model struct {
	cfg    config.Config
	log    *zap.Logger
	styles ui.Styles

	screen   screen
	autoJoin bool

	// Login
	login    textinput.Model
	loginErr string

	// Connection
	newConn   func(cfg client.Config, log *zap.Logger) connection
	conn      connection
	cancel    context.CancelFunc
	connState client.ConnState
	connErr   error
	username  string

	// Roster
	users []avatar.Profile

	// Transcript
	viewport viewport.Model
	history  []entry
	ready    bool

	// Composer
	textarea textarea.Model
	typing   *ui.TypingNotifier
	status   string

	// Remote typing indicator
	typingUsers map[string]bool
	animFrame   int
	animating   bool

	// Emoji picker
	picker ui.EmojiPicker

	// Help overlay
	showHelp bool
	renderer *glamour.TermRenderer

	spinner  spinner.Model
	spinning bool

	width  int
	height int
}

// New builds the chat model from config. The connection is not dialed until
// the user submits a username (or immediately, when one is configured).
func New(cfg config.Config, logger *zap.Logger) Model {
	if logger == nil {
		logger = zap.NewNop()
	}
	styles := ui.DefaultStyles()

	li := textinput.New()
	li.Placeholder = "username"
	li.CharLimit = protocol.MaxUsernameRunes
	li.Width = 30
	li.Focus()

	ta := textarea.New()
	ta.Placeholder = "Message"
	ta.Prompt = "› "
	ta.FocusedStyle.Prompt = styles.Prompt
	ta.BlurredStyle.Prompt = styles.Muted
	ta.ShowLineNumbers = false
	ta.SetHeight(1)
	// Plain Enter submits; Alt+Enter inserts a line break.
	ta.KeyMap.InsertNewline = key.NewBinding(key.WithKeys("alt+enter"))

	sp := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(styles.Spinner),
	)

	m := Model{
		cfg:         cfg,
		log:         logger.Named("chat"),
		styles:      styles,
		screen:      screenLogin,
		autoJoin:    cfg.Client.Username != "",
		login:       li,
		textarea:    ta,
		typing:      ui.NewTypingNotifier(ui.DefaultTypingIdle),
		typingUsers: make(map[string]bool),
		picker:      ui.NewEmojiPicker(styles),
		spinner:     sp,
		newConn: func(ccfg client.Config, log *zap.Logger) connection {
			return client.New(ccfg, log)
		},
	}
	if m.autoJoin {
		m.login.SetValue(cfg.Client.Username)
	}
	return m
}

// Init starts the blink and, when a username is configured, joins right away.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink}
	if m.autoJoin {
		cmds = append(cmds, func() tea.Msg { return autoJoinMsg{} })
	}
	return tea.Batch(cmds...)
}

// join validates the username, spins up the connection, and switches to the
// chat screen.
func (m Model) join(raw string) (Model, tea.Cmd) {
	name, err := protocol.ValidateUsername(raw)
	if err != nil {
		m.loginErr = usernameHint(err)
		return m, nil
	}

	m.username = name
	m.loginErr = ""
	m.conn = m.newConn(client.Config{
		URL:        m.cfg.Client.ServerURL,
		Username:   name,
		BackoffMin: m.cfg.ReconnectMin(),
		BackoffMax: m.cfg.ReconnectMax(),
	}, m.log)

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	m.screen = screenChat
	m.connState = client.StateConnecting
	m.spinning = true
	m.textarea.Focus()
	m.log.Info("joining", zap.String("username", name), zap.String("url", m.cfg.Client.ServerURL))

	return m, tea.Batch(
		m.runConn(ctx),
		m.waitForEvent(),
		m.spinner.Tick,
		textarea.Blink,
	)
}

// resetToLogin tears the connection down and returns to the login screen,
// showing why.
func (m Model) resetToLogin(reason string) Model {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.typing.Stop()

	m.screen = screenLogin
	m.loginErr = reason
	m.users = nil
	m.history = nil
	m.typingUsers = make(map[string]bool)
	m.animating = false
	m.spinning = false
	m.status = ""
	m.picker.Hide()
	m.textarea.Reset()
	m.login.SetValue(m.username)
	m.login.Focus()
	if m.ready {
		m.viewport.SetContent("")
	}
	return m
}

// performShutdown stops the connection before the program exits.
func (m Model) performShutdown() {
	m.typing.Stop()
	if m.cancel != nil {
		m.cancel()
	}
	if m.conn != nil {
		_ = m.conn.Close()
	}
}

// layout recomputes component sizes from the terminal dimensions. Called on
// resize and whenever the picker opens or closes, since the grid borrows
// rows from the transcript.
func (m *Model) layout() {
	if m.width <= 0 || m.height <= 0 {
		return
	}

	chatWidth := m.width
	if m.width >= 60 {
		chatWidth = m.width - sidebarWidth - 1
	}
	if chatWidth < 1 {
		chatWidth = 1
	}

	// Header (title + divider), typing line, bordered composer, footer.
	chrome := 2 + 1 + 3 + 1
	vpHeight := m.height - chrome
	if m.picker.Open() {
		vpHeight -= 4
	}
	if vpHeight < 1 {
		vpHeight = 1
	}

	if !m.ready {
		m.viewport = viewport.New(chatWidth, vpHeight)
		m.ready = true
	} else {
		m.viewport.Width = chatWidth
		m.viewport.Height = vpHeight
	}

	inputWidth := chatWidth - 4
	if inputWidth < 1 {
		inputWidth = 1
	}
	m.textarea.SetWidth(inputWidth)
	m.login.Width = min(30, m.width-4)

	wrap := chatWidth - 4
	if wrap < 10 {
		wrap = 10
	}
	m.renderer, _ = glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(wrap),
	)
}

// usernameHint maps validation errors to something worth showing a human.
func usernameHint(err error) string {
	switch {
	case errors.Is(err, protocol.ErrUsernameEmpty):
		return "pick a username first"
	case errors.Is(err, protocol.ErrUsernameTooLong):
		return "keep it under 25 characters"
	case errors.Is(err, protocol.ErrUsernameInvalid):
		return "no control characters, please"
	default:
		return err.Error()
	}
}

// rejectReason extracts the server's close reason from a rejection error.
func rejectReason(err error) string {
	if err == nil {
		return ""
	}
	reason := strings.TrimPrefix(err.Error(), client.ErrRejected.Error())
	reason = strings.TrimPrefix(reason, ": ")
	if reason == "" {
		return "the server refused the registration"
	}
	return reason
}

// profileFor finds the sender's roster profile, or derives one so messages
// from users who already left still render with a badge.
func (m Model) profileFor(name string) avatar.Profile {
	for _, p := range m.users {
		if p.Username == name {
			return p
		}
	}
	return avatar.New(name)
}

// Run drives the TUI until the user quits.
func Run(cfg config.Config, logger *zap.Logger) error {
	p := tea.NewProgram(
		New(cfg, logger),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)
	if _, err := p.Run(); err != nil {
		return err
	}
	return nil
}

// stampFor converts a server RFC3339 timestamp to local wall-clock time.
func stampFor(ts string) string {
	if ts == "" {
		return ""
	}
	when, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return ts
	}
	return when.Local().Format("15:04")
}
