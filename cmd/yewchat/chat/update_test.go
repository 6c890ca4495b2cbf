package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"yewchat/cmd/yewchat/ui"
	"yewchat/internal/avatar"
	"yewchat/internal/client"
	"yewchat/internal/config"
	"yewchat/internal/protocol"
)

// fakeConn records what the UI sends without any networking.
type fakeConn struct {
	mu      sync.Mutex
	events  chan client.Event
	texts   []string
	typings []bool
	textErr error
	closed  bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{events: make(chan client.Event, 16)}
}

func (f *fakeConn) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (f *fakeConn) Events() <-chan client.Event { return f.events }

func (f *fakeConn) SendText(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.textErr != nil {
		return f.textErr
	}
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeConn) SendTyping(isTyping bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typings = append(f.typings, isTyping)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

func (f *fakeConn) sentTypings() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.typings...)
}

// press runs one message through Update and keeps the concrete model type.
func press(m Model, msg tea.Msg) (Model, tea.Cmd) {
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func profilesFor(names ...string) []avatar.Profile {
	profiles := make([]avatar.Profile, 0, len(names))
	for _, name := range names {
		profiles = append(profiles, avatar.New(name))
	}
	return profiles
}

func typeRunes(m Model, s string) Model {
	for _, r := range s {
		m, _ = press(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	return m
}

func testModel(t *testing.T) (Model, *fakeConn) {
	t.Helper()
	m := New(*config.DefaultConfig(), zap.NewNop())
	// A huge idle window so background timers never fire mid-test.
	m.typing = ui.NewTypingNotifier(30 * time.Minute)
	fake := newFakeConn()
	m.newConn = func(client.Config, *zap.Logger) connection { return fake }
	m, _ = press(m, tea.WindowSizeMsg{Width: 100, Height: 30})
	return m, fake
}

func joinedModel(t *testing.T) (Model, *fakeConn) {
	t.Helper()
	m, fake := testModel(t)
	m.login.SetValue("alice")
	m, _ = press(m, tea.KeyMsg{Type: tea.KeyEnter})
	if m.screen != screenChat {
		t.Fatalf("expected chat screen after join, got %v (loginErr %q)", m.screen, m.loginErr)
	}
	return m, fake
}

func TestLoginRejectsBadUsername(t *testing.T) {
	cases := []struct {
		name  string
		value string
		want  string
	}{
		{"empty", "   ", "pick a username first"},
		{"too long", strings.Repeat("x", 25), "keep it under 25 characters"},
		{"control chars", "ali\x00ce", "no control characters, please"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, _ := testModel(t)
			m.login.SetValue(tc.value)
			m, _ = press(m, tea.KeyMsg{Type: tea.KeyEnter})

			if m.screen != screenLogin {
				t.Fatal("bad usernames must stay on the login screen")
			}
			if m.loginErr != tc.want {
				t.Fatalf("loginErr = %q, want %q", m.loginErr, tc.want)
			}
		})
	}
}

func TestJoinSwitchesToChat(t *testing.T) {
	m, _ := joinedModel(t)

	if m.username != "alice" {
		t.Fatalf("username = %q, want alice", m.username)
	}
	if m.connState != client.StateConnecting {
		t.Fatalf("connState = %v, want connecting", m.connState)
	}
	if !m.textarea.Focused() {
		t.Fatal("composer should take focus after joining")
	}
}

func TestAutoJoinUsesConfiguredUsername(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Client.Username = "zoe"
	m := New(*cfg, zap.NewNop())
	fake := newFakeConn()
	m.newConn = func(client.Config, *zap.Logger) connection { return fake }

	m, _ = press(m, tea.WindowSizeMsg{Width: 100, Height: 30})
	m, _ = press(m, autoJoinMsg{})

	if m.screen != screenChat {
		t.Fatal("expected auto-join to land on the chat screen")
	}
	if m.username != "zoe" {
		t.Fatalf("username = %q, want zoe", m.username)
	}
}

func TestJoinPassesParsedBackoffToConnection(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Client.ReconnectMin = "250ms"
	cfg.Client.ReconnectMax = "4s"

	m := New(*cfg, zap.NewNop())
	var got client.Config
	fake := newFakeConn()
	m.newConn = func(ccfg client.Config, _ *zap.Logger) connection {
		got = ccfg
		return fake
	}

	m, _ = press(m, tea.WindowSizeMsg{Width: 100, Height: 30})
	m.login.SetValue("alice")
	m, _ = press(m, tea.KeyMsg{Type: tea.KeyEnter})

	if m.screen != screenChat {
		t.Fatalf("join failed: %q", m.loginErr)
	}
	if got.URL != cfg.Client.ServerURL {
		t.Errorf("URL = %q, want %q", got.URL, cfg.Client.ServerURL)
	}
	if got.BackoffMin != 250*time.Millisecond {
		t.Errorf("BackoffMin = %v, want 250ms", got.BackoffMin)
	}
	if got.BackoffMax != 4*time.Second {
		t.Errorf("BackoffMax = %v, want 4s", got.BackoffMax)
	}
}

func TestSubmitSendsAndClears(t *testing.T) {
	m, fake := joinedModel(t)

	m = typeRunes(m, "hello")
	if got := fake.sentTypings(); len(got) != 1 || !got[0] {
		t.Fatalf("expected a single typing=true after the first keystroke, got %v", got)
	}

	m, _ = press(m, tea.KeyMsg{Type: tea.KeyEnter})

	if got := fake.sentTexts(); len(got) != 1 || got[0] != "hello" {
		t.Fatalf("sent texts = %v, want [hello]", got)
	}
	if m.textarea.Value() != "" {
		t.Fatalf("composer should clear after send, has %q", m.textarea.Value())
	}
	if got := fake.sentTypings(); len(got) != 2 || got[1] {
		t.Fatalf("expected trailing typing=false after send, got %v", got)
	}
	if m.typing.Active() {
		t.Fatal("typing burst should close on send")
	}
	if m.picker.Open() {
		t.Fatal("picker should close on send")
	}
}

func TestSubmitBlankIsLocalOnly(t *testing.T) {
	m, fake := joinedModel(t)

	m = typeRunes(m, "   ")
	m, _ = press(m, tea.KeyMsg{Type: tea.KeyEnter})

	if got := fake.sentTexts(); len(got) != 0 {
		t.Fatalf("blank input must not go on the wire, sent %v", got)
	}
	if m.textarea.Value() != "" {
		t.Fatal("composer should still reset")
	}
	if got := fake.sentTypings(); len(got) != 2 || got[1] {
		t.Fatalf("the open burst should still end with typing=false, got %v", got)
	}
}

func TestSubmitKeepsDraftWhenSendFails(t *testing.T) {
	m, fake := joinedModel(t)
	fake.textErr = client.ErrNotConnected

	m = typeRunes(m, "hi")
	m, _ = press(m, tea.KeyMsg{Type: tea.KeyEnter})

	if m.textarea.Value() != "hi" {
		t.Fatalf("draft should survive a failed send, composer has %q", m.textarea.Value())
	}
	if !strings.Contains(m.status, "not sent") {
		t.Fatalf("status = %q, want a send failure notice", m.status)
	}
	if got := fake.sentTypings(); len(got) != 2 || got[1] {
		t.Fatalf("a failed send must still end the typing burst, got %v", got)
	}
}
func TestEmojiPickerInsertsAndCloses(t *testing.T) {
	m, fake := joinedModel(t)

	m, _ = press(m, tea.KeyMsg{Type: tea.KeyCtrlE})
	if !m.picker.Open() {
		t.Fatal("ctrl+e should open the picker")
	}

	m, _ = press(m, tea.KeyMsg{Type: tea.KeyRight})
	m, _ = press(m, tea.KeyMsg{Type: tea.KeyDown})
	m, _ = press(m, tea.KeyMsg{Type: tea.KeyEnter})

	if m.picker.Open() {
		t.Fatal("selecting should close the picker")
	}
	if got, want := m.textarea.Value(), ui.Palette[9]; got != want {
		t.Fatalf("composer = %q, want %q", got, want)
	}
	if got := fake.sentTypings(); len(got) == 0 || !got[0] {
		t.Fatal("inserting an emoji counts as typing")
	}
}

func TestEmojiPickerEscCloses(t *testing.T) {
	m, _ := joinedModel(t)

	m, _ = press(m, tea.KeyMsg{Type: tea.KeyCtrlE})
	m, _ = press(m, tea.KeyMsg{Type: tea.KeyEsc})

	if m.picker.Open() {
		t.Fatal("esc should close the picker")
	}
	if m.textarea.Value() != "" {
		t.Fatalf("nothing should be inserted, composer has %q", m.textarea.Value())
	}
}

func TestPickerKeysDoNotReachComposer(t *testing.T) {
	m, _ := joinedModel(t)

	m, _ = press(m, tea.KeyMsg{Type: tea.KeyCtrlE})
	m = typeRunes(m, "hjkl")

	if m.textarea.Value() != "" {
		t.Fatalf("picker navigation leaked into the composer: %q", m.textarea.Value())
	}
	// From the origin: h clamps left, j drops a row, k climbs back, l steps right.
	if got, want := m.picker.Selected(), ui.Palette[1]; got != want {
		t.Fatalf("picker cursor = %q, want %q after hjkl", got, want)
	}
}

func TestTypingIndicatorGrammar(t *testing.T) {
	m, _ := joinedModel(t)

	typing := func(name string, on bool) {
		m, _ = press(m, connEventMsg{ev: client.TypingEvent{
			Status: protocol.TypingStatus{Username: name, IsTyping: on},
		}})
	}

	if got := m.typingLine(); got != "" {
		t.Fatalf("expected no indicator at rest, got %q", got)
	}

	typing("bob", true)
	if got := m.typingLine(); got != "bob is typing." {
		t.Fatalf("one typer: %q", got)
	}

	typing("carol", true)
	if got := m.typingLine(); got != "bob and carol are typing." {
		t.Fatalf("two typers: %q", got)
	}

	typing("dave", true)
	if got := m.typingLine(); got != "Several people are typing." {
		t.Fatalf("three typers: %q", got)
	}

	typing("dave", false)
	if got := m.typingLine(); got != "bob and carol are typing." {
		t.Fatalf("back to two typers: %q", got)
	}
}

func TestTypingEventForSelfIgnored(t *testing.T) {
	m, _ := joinedModel(t)

	m, _ = press(m, connEventMsg{ev: client.TypingEvent{
		Status: protocol.TypingStatus{Username: "alice", IsTyping: true},
	}})

	if got := m.typingLine(); got != "" {
		t.Fatalf("own typing must never show in the indicator, got %q", got)
	}
}

func TestMessageAppendsAndClearsTyping(t *testing.T) {
	m, _ := joinedModel(t)

	m, _ = press(m, connEventMsg{ev: client.TypingEvent{
		Status: protocol.TypingStatus{Username: "bob", IsTyping: true},
	}})
	m, _ = press(m, connEventMsg{ev: client.MessageEvent{
		Message: protocol.ChatMessage{
			From:      "bob",
			Message:   "hi there",
			Timestamp: "2024-01-02T03:04:05Z",
		},
	}})

	if len(m.history) != 1 {
		t.Fatalf("history length = %d, want 1", len(m.history))
	}
	e := m.history[0]
	if e.From != "bob" || e.Body != "hi there" || e.Gif {
		t.Fatalf("unexpected entry %+v", e)
	}

	when, _ := time.Parse(time.RFC3339, "2024-01-02T03:04:05Z")
	if want := when.Local().Format("15:04"); e.Stamp != want {
		t.Fatalf("stamp = %q, want local %q", e.Stamp, want)
	}

	if got := m.typingLine(); got != "" {
		t.Fatalf("a delivered message should clear the sender's typing state, got %q", got)
	}
}

func TestGifDetectionIsExact(t *testing.T) {
	m, _ := joinedModel(t)

	send := func(body string) {
		m, _ = press(m, connEventMsg{ev: client.MessageEvent{
			Message: protocol.ChatMessage{From: "bob", Message: body, Timestamp: "2024-01-02T03:04:05Z"},
		}})
	}

	send("https://cataas.com/cat.gif")
	send("ends in .GIF")
	send("plain text")

	if !m.history[0].Gif {
		t.Fatal("a .gif suffix should render as a gif link")
	}
	if m.history[1].Gif {
		t.Fatal("the suffix check is case-sensitive, .GIF is plain text")
	}
	if m.history[2].Gif {
		t.Fatal("plain text misdetected as gif")
	}
	if !strings.Contains(m.renderTranscript(), "GIF ▶") {
		t.Fatal("transcript should mark gif messages")
	}
}

func TestUsersEventPrunesDepartedTypers(t *testing.T) {
	m, _ := joinedModel(t)

	m, _ = press(m, connEventMsg{ev: client.TypingEvent{
		Status: protocol.TypingStatus{Username: "bob", IsTyping: true},
	}})
	m, _ = press(m, connEventMsg{ev: client.UsersEvent{
		Profiles: profilesFor("alice"),
	}})

	if got := m.typingLine(); got != "" {
		t.Fatalf("departed users must drop off the typing line, got %q", got)
	}
	if len(m.users) != 1 || m.users[0].Username != "alice" {
		t.Fatalf("roster = %+v, want just alice", m.users)
	}
}

func TestRejectionReturnsToLogin(t *testing.T) {
	m, _ := joinedModel(t)

	err := fmt.Errorf("%w: %s", client.ErrRejected, "username already taken")
	m, _ = press(m, connFinishedMsg{err: err})

	if m.screen != screenLogin {
		t.Fatal("a rejected registration should land back on the login screen")
	}
	if m.loginErr != "username already taken" {
		t.Fatalf("loginErr = %q, want the server's close reason", m.loginErr)
	}
	if m.login.Value() != "alice" {
		t.Fatalf("login field should keep the attempted name, has %q", m.login.Value())
	}
}

func TestEscTogglesComposerFocus(t *testing.T) {
	m, _ := joinedModel(t)

	if !m.textarea.Focused() {
		t.Fatal("composer should hold focus after joining")
	}

	m, _ = press(m, tea.KeyMsg{Type: tea.KeyEsc})
	if m.textarea.Focused() {
		t.Fatal("esc should blur the composer")
	}

	m = typeRunes(m, "x")
	if m.textarea.Value() != "" {
		t.Fatalf("keys must not reach a blurred composer, got %q", m.textarea.Value())
	}

	m, _ = press(m, tea.KeyMsg{Type: tea.KeyEsc})
	if !m.textarea.Focused() {
		t.Fatal("a second esc should refocus the composer")
	}
}

func TestHelpOverlaySwallowsKeys(t *testing.T) {
	m, _ := joinedModel(t)

	m, _ = press(m, tea.KeyMsg{Type: tea.KeyF1})
	if !m.showHelp {
		t.Fatal("f1 should open help")
	}

	m = typeRunes(m, "x")
	if m.textarea.Value() != "" {
		t.Fatal("keys should not reach the composer while help is open")
	}

	m, _ = press(m, tea.KeyMsg{Type: tea.KeyEsc})
	if m.showHelp {
		t.Fatal("esc should close help")
	}
}

func TestResizeNeverPanics(t *testing.T) {
	sizes := []tea.WindowSizeMsg{
		{Width: 1, Height: 1},
		{Width: 5, Height: 3},
		{Width: 40, Height: 10},
		{Width: 59, Height: 24},
		{Width: 200, Height: 60},
	}

	login, _ := testModel(t)
	joined, _ := joinedModel(t)
	joined, _ = press(joined, connEventMsg{ev: client.UsersEvent{Profiles: profilesFor("alice", "bob")}})
	joined, _ = press(joined, connEventMsg{ev: client.MessageEvent{
		Message: protocol.ChatMessage{From: "bob", Message: "hello", Timestamp: "2024-01-02T03:04:05Z"},
	}})

	for _, size := range sizes {
		login, _ = press(login, size)
		if login.View() == "" {
			t.Fatalf("login view empty at %dx%d", size.Width, size.Height)
		}

		joined, _ = press(joined, size)
		if joined.View() == "" {
			t.Fatalf("chat view empty at %dx%d", size.Width, size.Height)
		}
	}
}
