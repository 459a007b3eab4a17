// Package popup is the terminal chat popup: a bubbletea program that keeps
// one channel's messages and presence live by polling or long-waiting on the
// chat servers, renewing its key before it expires.
package popup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aeolun/hawthorn/pkg/auth"
	"github.com/aeolun/hawthorn/pkg/client"
	"github.com/aeolun/hawthorn/pkg/protocol"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/gen2brain/beeep"
	"github.com/rs/zerolog"
)

var (
	ErrNotModerator  = errors.New("only moderators can ban users")
	ErrUnknownUser   = errors.New("no such user in this chat")
	ErrCannotBanSelf = errors.New("you cannot ban yourself")
)

// State is where the popup is in its lifecycle
type State int

const (
	StateInit State = iota
	StateCatchUp
	StatePolling
	StateLongWaiting
	StateReAcquiring
	StateHalted // an error stopped the update loop; the log stays open
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateCatchUp:
		return "catching up"
	case StatePolling:
		return "polling"
	case StateLongWaiting:
		return "waiting"
	case StateReAcquiring:
		return "renewing key"
	case StateHalted:
		return "stopped"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Message types for bubbletea

// RecentMsg carries the initial catch-up reply
type RecentMsg struct {
	Result protocol.RecentResult
	Err    error
}

// PollDueMsg fires when the next poll is due. Only the most recently
// scheduled generation is acted on.
type PollDueMsg struct {
	Gen int
}

// PollMsg carries a poll reply
type PollMsg struct {
	Result protocol.PollResult
	Err    error
}

// WaitMsg carries a long-wait reply
type WaitMsg struct {
	Result protocol.WaitResult
	Err    error
}

// ReAcquireMsg carries a key renewal reply
type ReAcquireMsg struct {
	Result protocol.ReAcquireResult
	Err    error
}

// SayMsg reports the outcome of posting a message
type SayMsg struct {
	Err error
}

// BanMsg reports the outcome of a ban
type BanMsg struct {
	Target protocol.Name
	Err    error
}

// LeftMsg reports that the leave request finished, successfully or not
type LeftMsg struct {
	Err error
}

// Model is the popup controller
type Model struct {
	session  client.SessionInterface
	cfg      Config
	title    string
	identity client.Identity

	state    State
	resume   State // live state to return to after re-acquiring
	lastTime int64
	presence *Presence
	entries  []Entry

	pollGen      int
	pollInFlight bool
	pollSoon     bool

	ctx    context.Context
	cancel context.CancelFunc

	now    func() time.Time
	after  func(d time.Duration, msg tea.Msg) tea.Cmd
	notify func(title, body string) error
	loc    *time.Location

	width    int
	height   int
	viewport viewport.Model
	input    textinput.Model

	logger zerolog.Logger
}

// New creates a popup for session
func New(session client.SessionInterface, cfg Config, title string) *Model {
	ctx, cancel := context.WithCancel(context.Background())

	input := textinput.New()
	input.Placeholder = "To chat, type a message and press Enter"
	input.CharLimit = 1000
	input.Focus()

	return &Model{
		session:  session,
		cfg:      cfg,
		title:    title,
		identity: session.Identity(),
		state:    StateInit,
		presence: NewPresence(),
		ctx:      ctx,
		cancel:   cancel,
		now:      time.Now,
		after: func(d time.Duration, msg tea.Msg) tea.Cmd {
			return tea.Tick(d, func(time.Time) tea.Msg { return msg })
		},
		notify: func(title, body string) error {
			return beeep.Notify(title, body, "")
		},
		loc:      time.Local,
		viewport: viewport.New(80, 20),
		input:    input,
		logger:   zerolog.Nop(),
	}
}

// SetLogger sets the popup logger
func (m *Model) SetLogger(logger zerolog.Logger) {
	m.logger = logger
}

// SetLocation sets the time zone used for timestamps
func (m *Model) SetLocation(loc *time.Location) {
	m.loc = loc
}

// State returns the current lifecycle state
func (m *Model) State() State {
	return m.state
}

// LastTime returns the message cursor
func (m *Model) LastTime() int64 {
	return m.lastTime
}

// Entries returns the chat log
func (m *Model) Entries() []Entry {
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Names returns everyone present, sorted by display name
func (m *Model) Names() []protocol.Name {
	return m.presence.Sorted()
}

// Markup renders the chat log as HTML
func (m *Model) Markup() string {
	return RenderMarkup(m.entries, m.loc)
}

// Init starts catching up on recent messages
func (m *Model) Init() tea.Cmd {
	m.state = StateCatchUp
	return tea.Batch(m.fetchRecent(), textinput.Blink)
}

// Update handles messages
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, m.Close()
		case tea.KeyEnter:
			text := m.input.Value()
			m.input.Reset()
			return m, m.Submit(text)
		}

	case RecentMsg:
		return m, m.handleRecent(msg)
	case PollDueMsg:
		return m, m.handlePollDue(msg)
	case PollMsg:
		return m, m.handlePoll(msg)
	case WaitMsg:
		return m, m.handleWait(msg)
	case ReAcquireMsg:
		return m, m.handleReAcquire(msg)

	case SayMsg:
		return m, m.handleSay(msg)
	case BanMsg:
		if msg.Err != nil {
			m.addError(msg.Err)
		}
		return m, nil
	case LeftMsg:
		if msg.Err != nil {
			m.logger.Debug().Err(msg.Err).Msg("leave failed")
		}
		m.state = StateClosed
		m.cancel()
		return m, tea.Quit
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// Submit handles a line typed by the user: a command or a chat message
func (m *Model) Submit(text string) tea.Cmd {
	if strings.TrimSpace(text) == "" || m.closing() {
		return nil
	}

	switch {
	case text == "/quit":
		return m.Close()
	case strings.HasPrefix(text, "/ban "):
		return m.Ban(strings.TrimSpace(strings.TrimPrefix(text, "/ban ")))
	}

	session, ctx := m.session, m.ctx
	return func() tea.Msg {
		return SayMsg{Err: session.Say(ctx, text)}
	}
}

// Ban bans a present user, given by user id or display name, for the
// configured ban duration. Only moderators may ban.
func (m *Model) Ban(who string) tea.Cmd {
	if !auth.Permissions(m.identity.Permissions).Has(auth.PermModerate) {
		m.addError(ErrNotModerator)
		return nil
	}
	target, ok := m.presence.Find(who)
	if !ok {
		m.addError(fmt.Errorf("%w: %s", ErrUnknownUser, who))
		return nil
	}
	if target.User == m.identity.User {
		m.addError(ErrCannotBanSelf)
		return nil
	}

	until := m.now().Add(m.cfg.BanDuration).UnixMilli()
	session, ctx := m.session, m.ctx
	return func() tea.Msg {
		err := session.Ban(ctx, client.BanTarget{
			User:        target.User,
			DisplayName: target.DisplayName,
			Extra:       target.Extra,
		}, until)
		return BanMsg{Target: target, Err: err}
	}
}

// Close leaves the channel and quits. The leave is bounded by LeaveTimeout
// and the popup closes whatever its outcome.
func (m *Model) Close() tea.Cmd {
	if m.closing() {
		return nil
	}
	m.state = StateClosing

	session, timeout := m.session, m.cfg.LeaveTimeout
	return func() tea.Msg {
		ctx := context.Background()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return LeftMsg{Err: session.Leave(ctx)}
	}
}

func (m *Model) closing() bool {
	return m.state == StateClosing || m.state == StateClosed
}

func (m *Model) handleRecent(msg RecentMsg) tea.Cmd {
	if m.state != StateCatchUp {
		return nil
	}
	if msg.Err != nil {
		return m.halt(msg.Err)
	}

	for _, name := range msg.Result.Names {
		m.presence.Add(name)
	}
	notify := m.applyMessages(msg.Result.LastTime, msg.Result.Messages)

	if m.cfg.UseWait {
		m.state = StateLongWaiting
		return tea.Batch(notify, m.nextWait())
	}
	m.state = StatePolling
	return tea.Batch(notify, m.schedulePoll(m.cfg.PollFallbackDelay))
}

func (m *Model) handlePollDue(msg PollDueMsg) tea.Cmd {
	if msg.Gen != m.pollGen || m.state != StatePolling || m.pollInFlight {
		return nil
	}
	if m.needsReAcquire() {
		return m.reAcquire(StatePolling)
	}
	return m.poll()
}

func (m *Model) handlePoll(msg PollMsg) tea.Cmd {
	m.pollInFlight = false
	if m.state != StatePolling {
		return nil
	}
	if msg.Err != nil {
		return m.halt(msg.Err)
	}

	notify := m.applyMessages(msg.Result.LastTime, msg.Result.Messages)
	delay := time.Duration(msg.Result.Delay) * time.Millisecond
	if delay < 0 {
		delay = m.cfg.PollFallbackDelay
	}
	return tea.Batch(notify, m.schedulePoll(delay))
}

func (m *Model) handleWait(msg WaitMsg) tea.Cmd {
	if m.state != StateLongWaiting {
		return nil
	}
	if msg.Err != nil {
		return m.halt(msg.Err)
	}

	for _, name := range msg.Result.Names {
		m.presence.Add(name)
	}
	notify := m.applyMessages(msg.Result.LastTime, msg.Result.Messages)
	return tea.Batch(notify, m.nextWait())
}

func (m *Model) handleReAcquire(msg ReAcquireMsg) tea.Cmd {
	if m.state != StateReAcquiring {
		return nil
	}
	if msg.Err != nil {
		return m.halt(msg.Err)
	}

	m.logger.Debug().Int64("keyTime", msg.Result.KeyTime).Msg("key renewed")
	m.state = m.resume
	if m.state == StateLongWaiting {
		return m.wait()
	}
	return m.poll()
}

func (m *Model) handleSay(msg SayMsg) tea.Cmd {
	if msg.Err != nil {
		if !errors.Is(msg.Err, client.ErrEmptyMessage) {
			m.addError(msg.Err)
		}
		return nil
	}
	if m.state != StatePolling {
		return nil
	}
	// Poll right away so the message shows up
	if m.pollInFlight {
		m.pollSoon = true
		return nil
	}
	return m.schedulePoll(0)
}

// nextWait issues the next long-wait, renewing the key first if it expires
// within the margin
func (m *Model) nextWait() tea.Cmd {
	if m.needsReAcquire() {
		return m.reAcquire(StateLongWaiting)
	}
	return m.wait()
}

func (m *Model) needsReAcquire() bool {
	return m.session.KeyTime()-m.lastTime < m.cfg.ReacquireMargin.Milliseconds()
}

func (m *Model) schedulePoll(d time.Duration) tea.Cmd {
	if m.pollSoon {
		d = 0
		m.pollSoon = false
	}
	m.pollGen++
	return m.after(d, PollDueMsg{Gen: m.pollGen})
}

func (m *Model) halt(err error) tea.Cmd {
	m.logger.Warn().Err(err).Str("state", m.state.String()).Msg("chat loop stopped")
	m.addError(err)
	m.state = StateHalted
	return nil
}

func (m *Model) fetchRecent() tea.Cmd {
	session, ctx, cfg := m.session, m.ctx, m.cfg
	return func() tea.Msg {
		result, err := session.FetchRecent(ctx, cfg.MaxAge, cfg.MaxMessages, cfg.MaxNames)
		return RecentMsg{Result: result, Err: err}
	}
}

func (m *Model) poll() tea.Cmd {
	m.pollInFlight = true
	session, ctx, lastTime := m.session, m.ctx, m.lastTime
	return func() tea.Msg {
		result, err := session.Poll(ctx, lastTime)
		return PollMsg{Result: result, Err: err}
	}
}

func (m *Model) wait() tea.Cmd {
	session, ctx, lastTime := m.session, m.ctx, m.lastTime
	return func() tea.Msg {
		result, err := session.Wait(ctx, lastTime)
		return WaitMsg{Result: result, Err: err}
	}
}

func (m *Model) reAcquire(resume State) tea.Cmd {
	m.resume = resume
	m.state = StateReAcquiring
	session, ctx := m.session, m.ctx
	return func() tea.Msg {
		result, err := session.ReAcquire(ctx)
		return ReAcquireMsg{Result: result, Err: err}
	}
}

// applyMessages adds a batch to the log and presence. Batches older than the
// cursor are dropped, as are messages at or before it.
func (m *Model) applyMessages(batchLastTime int64, messages []protocol.Message) tea.Cmd {
	if batchLastTime < m.lastTime {
		m.logger.Debug().Int64("batch", batchLastTime).Int64("cursor", m.lastTime).Msg("ignoring stale batch")
		return nil
	}

	var cmds []tea.Cmd
	for _, msg := range messages {
		if m.lastTime > 0 && msg.Time <= m.lastTime {
			continue
		}
		if cmd := m.applyMessage(msg); cmd != nil {
			cmds = append(cmds, cmd)
		}
	}
	m.lastTime = batchLastTime
	m.refreshLog()
	return tea.Batch(cmds...)
}

func (m *Model) applyMessage(msg protocol.Message) tea.Cmd {
	self := msg.User == m.identity.User
	entry := Entry{
		Time:        msg.Time,
		User:        msg.User,
		DisplayName: msg.DisplayName,
		Extra:       msg.Extra,
		Self:        self,
		Flagged:     self,
	}

	var cmd tea.Cmd
	switch msg.Type {
	case protocol.TypeJoin:
		entry.Kind = EntryJoin
		m.presence.Add(protocol.Name{User: msg.User, DisplayName: msg.DisplayName, Extra: msg.Extra})
	case protocol.TypeLeave:
		entry.Kind = EntryLeave
		entry.Timeout = msg.Timeout
		m.presence.Remove(msg.User)
	case protocol.TypeSay:
		entry.Kind = EntrySay
		entry.Text = msg.Text
		if !self {
			cmd = m.mentionNotification(msg)
		}
	case protocol.TypeBan:
		entry.Kind = EntryBan
		entry.BanUser = msg.Ban
		entry.BanDisplayName = msg.BanDisplayName
		entry.BanExtra = msg.BanExtra
		entry.Until = msg.Until
		entry.Flagged = self || msg.Ban == m.identity.User
	case protocol.TypeNotice:
		entry.Kind = EntryNotice
		entry.Text = msg.Text
	default:
		return nil
	}

	m.entries = append(m.entries, entry)
	return cmd
}

// mentionNotification raises a desktop notification when someone else's
// message contains the local display name
func (m *Model) mentionNotification(msg protocol.Message) tea.Cmd {
	if !m.cfg.Notify || m.identity.DisplayName == "" {
		return nil
	}
	if !strings.Contains(strings.ToLower(msg.Text), strings.ToLower(m.identity.DisplayName)) {
		return nil
	}

	notify, logger := m.notify, m.logger
	title := m.title
	if title == "" {
		title = "Chat"
	}
	body := "<" + msg.DisplayName + "> " + msg.Text
	return func() tea.Msg {
		if err := notify(title, body); err != nil {
			logger.Debug().Err(err).Msg("notification failed")
		}
		return nil
	}
}

func (m *Model) addError(err error) {
	m.entries = append(m.entries, Entry{
		Kind: EntryError,
		Time: m.now().UnixMilli(),
		Text: err.Error(),
	})
	m.refreshLog()
}
