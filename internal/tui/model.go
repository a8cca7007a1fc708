// Package tui is the terminal timer view: the live countdown of the current
// session and the XP toasts as the notification queue releases them.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"focusquest/internal/domain"
	"focusquest/internal/engine"
	"focusquest/internal/notify"
	"focusquest/internal/observe"
	"focusquest/internal/registry"
	"focusquest/internal/timesource"
)

const (
	tickInterval  = time.Second
	frameInterval = 30 * time.Millisecond
	frameStep     = 0.04
)

type sessionPort interface {
	Pause(ctx context.Context, id int64) (domain.Session, error)
	Resume(ctx context.Context, id int64) (domain.Session, error)
	Complete(ctx context.Context, id int64, completeSubtask bool) (engine.CompleteOutcome, error)
	Cancel(ctx context.Context, id int64) error
}

// Deps is the process state the view renders and acts on.
type Deps struct {
	Sessions sessionPort
	Registry *registry.Registry
	Queue    *notify.Queue
	Overlays *notify.Overlays
	Time     timesource.Source
}

// ─── messages ────────────────────────────────────────────────────────────────

type tickMsg time.Time

type registryMsg registry.Snapshot

type queueMsg notify.State

type frameMsg struct{ id string }

type actionMsg struct {
	verb    string
	id      int64
	outcome *engine.CompleteOutcome
	err     error
}

// ─── key bindings ────────────────────────────────────────────────────────────

type keyMap struct {
	Toggle   key.Binding
	Complete key.Binding
	Cancel   key.Binding
	Next     key.Binding
	Dismiss  key.Binding
	Help     key.Binding
	Quit     key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		Toggle:   key.NewBinding(key.WithKeys("p", " "), key.WithHelp("p", "pause/resume")),
		Complete: key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "complete")),
		Cancel:   key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "abandon")),
		Next:     key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "next session")),
		Dismiss:  key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "dismiss toast")),
		Help:     key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
		Quit:     key.NewBinding(key.WithKeys("ctrl+c", "q"), key.WithHelp("q", "quit")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Toggle, k.Complete, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Toggle, k.Complete, k.Cancel},
		{k.Next, k.Dismiss},
		{k.Help, k.Quit},
	}
}

// ─── model ───────────────────────────────────────────────────────────────────

// Model is the root Bubble Tea model. Registry and queue changes arrive as
// messages through single-slot channels fed by their subscriptions.
type Model struct {
	ctx  context.Context
	deps Deps

	regCh   chan registry.Snapshot
	queueCh chan notify.State
	unsub   []func()

	snap     registry.Snapshot
	selected int64
	queue    notify.State

	toast    *domain.ProgressionEvent
	toastPct float64
	bar      progress.Model

	keys      keyMap
	help      help.Model
	showHelp  bool
	closeHelp func()

	busy   bool
	status string
	width  int
}

func New(ctx context.Context, deps Deps) Model {
	m := Model{
		ctx:     ctx,
		deps:    deps,
		regCh:   make(chan registry.Snapshot, 1),
		queueCh: make(chan notify.State, 1),
		snap:    deps.Registry.Snapshot(),
		queue:   deps.Queue.State(),
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(30)),
		keys:    defaultKeys(),
		help:    help.New(),
		status:  "ready",
	}
	m.unsub = append(m.unsub,
		deps.Registry.Subscribe(observe.Latest(m.regCh)),
		deps.Queue.Subscribe(observe.Latest(m.queueCh)),
	)
	m.toast = m.queue.Current
	if m.toast != nil {
		m.toastPct = m.toast.FromPercent / 100
	}
	return m
}

// Close drops the subscriptions and any overlay the help screen still holds.
func (m Model) Close() {
	for _, fn := range m.unsub {
		fn()
	}
	if m.closeHelp != nil {
		m.closeHelp()
	}
}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{tick(), waitRegistry(m.regCh), waitQueue(m.queueCh)}
	if m.toast != nil {
		cmds = append(cmds, frame(m.toast.ID))
	}
	return tea.Batch(cmds...)
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func frame(id string) tea.Cmd {
	return tea.Tick(frameInterval, func(time.Time) tea.Msg { return frameMsg{id: id} })
}

func waitRegistry(ch <-chan registry.Snapshot) tea.Cmd {
	return func() tea.Msg { return registryMsg(<-ch) }
}

func waitQueue(ch <-chan notify.State) tea.Cmd {
	return func() tea.Msg { return queueMsg(<-ch) }
}

// ─── update ──────────────────────────────────────────────────────────────────

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		m.bar.Width = max(10, min(msg.Width-8, 40))

	case tickMsg:
		return m, tick()

	case registryMsg:
		m.snap = registry.Snapshot(msg)
		return m, waitRegistry(m.regCh)

	case queueMsg:
		m.queue = notify.State(msg)
		cmds := []tea.Cmd{waitQueue(m.queueCh)}
		if cmd := m.showToast(m.queue.Current); cmd != nil {
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)

	case frameMsg:
		if m.toast == nil || m.toast.ID != msg.id {
			return m, nil
		}
		target := m.toast.ToPercent / 100
		m.toastPct = min(target, m.toastPct+frameStep)
		if m.toastPct < target {
			return m, frame(msg.id)
		}

	case actionMsg:
		m.busy = false
		m.status = m.describe(msg)

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *Model) showToast(ev *domain.ProgressionEvent) tea.Cmd {
	if ev == nil {
		m.toast = nil
		return nil
	}
	if m.toast != nil && m.toast.ID == ev.ID {
		return nil
	}
	m.toast = ev
	m.toastPct = ev.FromPercent / 100
	return frame(ev.ID)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.showHelp {
		if key.Matches(msg, m.keys.Help) || msg.String() == "esc" {
			m.hideHelp()
		}
		if key.Matches(msg, m.keys.Quit) {
			m.hideHelp()
			return m, tea.Quit
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.showHelp = true
		m.closeHelp = m.deps.Overlays.Open()
	case key.Matches(msg, m.keys.Dismiss):
		m.deps.Queue.DismissCurrent()
	case key.Matches(msg, m.keys.Next):
		m.selectNext()
	case key.Matches(msg, m.keys.Toggle):
		sess, ok := m.session()
		if !ok {
			m.status = "no active session"
			return m, nil
		}
		if sess.Status == domain.StatusPaused {
			return m.run("resume", sess.ID)
		}
		return m.run("pause", sess.ID)
	case key.Matches(msg, m.keys.Complete):
		if sess, ok := m.session(); ok {
			return m.run("complete", sess.ID)
		}
		m.status = "no active session"
	case key.Matches(msg, m.keys.Cancel):
		if sess, ok := m.session(); ok {
			return m.run("cancel", sess.ID)
		}
		m.status = "no active session"
	}
	return m, nil
}

func (m *Model) hideHelp() {
	m.showHelp = false
	if m.closeHelp != nil {
		m.closeHelp()
		m.closeHelp = nil
	}
}

func (m Model) run(verb string, id int64) (tea.Model, tea.Cmd) {
	if m.busy {
		return m, nil
	}
	m.busy = true
	m.status = verb + "…"
	ctx, port := m.ctx, m.deps.Sessions
	return m, func() tea.Msg {
		out := actionMsg{verb: verb, id: id}
		switch verb {
		case "pause":
			_, out.err = port.Pause(ctx, id)
		case "resume":
			_, out.err = port.Resume(ctx, id)
		case "complete":
			res, err := port.Complete(ctx, id, false)
			out.outcome, out.err = &res, err
		case "cancel":
			out.err = port.Cancel(ctx, id)
		}
		return out
	}
}

func (m Model) describe(msg actionMsg) string {
	switch {
	case errors.Is(msg.err, engine.ErrBusy):
		return "still working on the last request"
	case errors.Is(msg.err, engine.ErrConflict):
		return "session changed elsewhere; reloaded"
	case errors.Is(msg.err, engine.ErrSessionNotFound):
		return "session no longer exists"
	case msg.err != nil:
		return msg.verb + " failed: " + msg.err.Error()
	}
	if msg.outcome != nil {
		if msg.outcome.AlreadyCompleted {
			return "session was already finished"
		}
		return fmt.Sprintf("session complete, +%d XP", msg.outcome.Award.XPEarned)
	}
	return fmt.Sprintf("session %d %s", msg.id, pastTense[msg.verb])
}

var pastTense = map[string]string{
	"pause":  "paused",
	"resume": "resumed",
	"cancel": "abandoned",
}

// session is the one the timer shows: the picked one while it is still live,
// otherwise the registry's current session.
func (m Model) session() (domain.Session, bool) {
	if m.selected != 0 {
		for _, s := range m.snap.Sessions {
			if s.ID == m.selected {
				return s, true
			}
		}
	}
	if m.snap.Current != nil {
		return *m.snap.Current, true
	}
	return domain.Session{}, false
}

func (m *Model) selectNext() {
	if len(m.snap.Sessions) == 0 {
		return
	}
	cur, ok := m.session()
	next := m.snap.Sessions[0]
	if ok {
		for i, s := range m.snap.Sessions {
			if s.ID == cur.ID {
				next = m.snap.Sessions[(i+1)%len(m.snap.Sessions)]
				break
			}
		}
	}
	m.selected = next.ID
}

// ─── view ────────────────────────────────────────────────────────────────────

func (m Model) View() string {
	if m.showHelp {
		return lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("FocusQuest · keys"),
			"",
			m.help.FullHelpView(m.keys.FullHelp()),
		)
	}
	parts := []string{titleStyle.Render("FocusQuest"), m.renderSession()}
	if m.toast != nil {
		parts = append(parts, m.renderToast())
	}
	parts = append(parts, m.renderStatus())
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m Model) renderSession() string {
	sess, ok := m.session()
	if !ok {
		return paneStyle.Render(mutedStyle.Render("no active session"))
	}
	ts := m.deps.Time
	label := "free focus"
	if sess.TaskID != nil {
		label = fmt.Sprintf("task #%d", *sess.TaskID)
	}
	var clock string
	if ts.Overdue(sess) {
		over := ts.ActiveSeconds(sess) - int64(sess.DurationMinutes)*60
		clock = overdueStyle.Render("+" + FormatClock(over))
	} else {
		clock = timerStyle.Render(FormatClock(ts.RemainingSeconds(sess)))
	}
	state := string(sess.Status)
	if sess.Status == domain.StatusPaused {
		state = hotStyle.Render("paused")
	}
	lines := []string{
		fmt.Sprintf("%s  %s", label, mutedStyle.Render(fmt.Sprintf("#%d", sess.ID))),
		clock + "  " + state,
		mutedStyle.Render(fmt.Sprintf("focused %s of %dm", FormatClock(ts.ActiveSeconds(sess)), sess.DurationMinutes)),
	}
	if n := len(m.snap.Sessions); n > 1 {
		lines = append(lines, mutedStyle.Render(fmt.Sprintf("%d live sessions · tab to switch", n)))
	}
	return paneStyle.Render(strings.Join(lines, "\n"))
}

func (m Model) renderToast() string {
	ev := m.toast
	var head string
	switch ev.Target {
	case domain.TargetCompanion:
		head = strings.TrimSpace(fmt.Sprintf("%s %s +%d XP", ev.CardEmoji, ev.CardName, ev.Amount))
	default:
		head = fmt.Sprintf("+%d XP", ev.Amount)
	}
	if ev.LevelUp {
		head += "  " + hotStyle.Render(fmt.Sprintf("LEVEL %d!", ev.Level))
	}
	lines := []string{head, m.bar.ViewAs(m.toastPct)}
	if m.queue.Pending > 0 {
		lines = append(lines, mutedStyle.Render(fmt.Sprintf("+%d more", m.queue.Pending)))
	}
	return toastStyle.Render(strings.Join(lines, "\n"))
}

func (m Model) renderStatus() string {
	left := m.status
	right := m.help.ShortHelpView(m.keys.ShortHelp())
	gap := max(1, m.width-lipgloss.Width(left)-lipgloss.Width(right))
	return statusStyle.Render(left + strings.Repeat(" ", gap) + right)
}

// FormatClock renders seconds as mm:ss, or h:mm:ss from an hour up.
func FormatClock(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	h, rem := seconds/3600, seconds%3600
	mm, ss := rem/60, rem%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, mm, ss)
	}
	return fmt.Sprintf("%02d:%02d", mm, ss)
}
