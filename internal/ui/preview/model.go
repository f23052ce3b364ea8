// Package preview is the terminal preview surface: it shows the
// rendered page, follows live patches, and surfaces connection state
// and notices in a status bar.
package preview

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ucinar/exepad-runtime/internal/log"
	"github.com/ucinar/exepad-runtime/internal/notice"
	"github.com/ucinar/exepad-runtime/internal/pubsub"
	"github.com/ucinar/exepad-runtime/internal/runtime"
	"github.com/ucinar/exepad-runtime/internal/transport"
)

var (
	statusBarStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("250")).
			Background(lipgloss.Color("236")).
			Padding(0, 1)
	statusConnected = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	statusDegraded  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	statusError     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	noticeStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("229"))
)

// loadedMsg reports the result of the initial load.
type loadedMsg struct{ err error }

// Model is the preview TUI model.
type Model struct {
	rt      *runtime.Runtime
	channel transport.Channel
	slug    string

	spinner spinner.Model
	loading bool
	loadErr error
	page    string
	width   int
	height  int

	connState  transport.State
	lastNotice string

	showStatusBar bool

	updates *pubsub.ContinuousListener[string]
	notices *pubsub.ContinuousListener[notice.Notice]
	states  *pubsub.ContinuousListener[transport.State]
}

// Options configures the preview model.
type Options struct {
	Runtime       *runtime.Runtime
	Channel       transport.Channel
	NoticeBroker  *notice.Broker
	Slug          string
	ShowStatusBar bool
}

// New creates the preview model. ctx bounds every subscription.
func New(ctx context.Context, opts Options) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := Model{
		rt:            opts.Runtime,
		channel:       opts.Channel,
		slug:          opts.Slug,
		spinner:       sp,
		loading:       true,
		showStatusBar: opts.ShowStatusBar,
		connState:     transport.StateDisconnected,
		updates:       pubsub.NewContinuousListener(ctx, opts.Runtime.Updates()),
	}
	if opts.NoticeBroker != nil {
		m.notices = pubsub.NewContinuousListener(ctx, opts.NoticeBroker)
	}
	if opts.Channel != nil {
		m.states = pubsub.NewContinuousListener(ctx, opts.Channel.States())
	}
	return m
}

// Init starts the spinner, the initial load and every listener.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick, m.loadCmd(), m.updates.Listen()}
	if m.notices != nil {
		cmds = append(cmds, m.notices.Listen())
	}
	if m.states != nil {
		cmds = append(cmds, m.states.Listen())
	}
	return tea.Batch(cmds...)
}

func (m Model) loadCmd() tea.Cmd {
	return func() tea.Msg {
		return loadedMsg{err: m.rt.Load(context.Background())}
	}
}

func (m Model) refreshCmd() tea.Cmd {
	return func() tea.Msg {
		return loadedMsg{err: m.rt.Refresh(context.Background())}
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			m.loading = true
			return m, tea.Batch(m.spinner.Tick, m.refreshCmd())
		}
		return m, nil

	case loadedMsg:
		m.loading = false
		m.loadErr = msg.err
		if msg.err == nil {
			m.page = m.rt.RenderPage(context.Background(), m.slug)
		} else {
			log.ErrorErr(log.CatUI, "load failed", msg.err)
		}
		return m, nil

	case pubsub.Event[string]:
		// A node view changed; re-compose.
		m.page = m.rt.RenderPage(context.Background(), m.slug)
		return m, m.updates.Listen()

	case pubsub.Event[notice.Notice]:
		m.lastNotice = msg.Payload.Message
		return m, m.notices.Listen()

	case pubsub.Event[transport.State]:
		m.connState = msg.Payload
		return m, m.states.Listen()

	case spinner.TickMsg:
		if !m.loading {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View renders the page plus the status bar.
func (m Model) View() string {
	var body string
	switch {
	case m.loading:
		body = m.spinner.View() + " loading page..."
	case m.loadErr != nil:
		body = statusError.Render("load failed: " + m.loadErr.Error())
	default:
		body = m.page
	}
	if !m.showStatusBar {
		return body
	}
	return body + "\n" + m.statusBar()
}

func (m Model) statusBar() string {
	var conn string
	switch m.connState {
	case transport.StateConnected:
		conn = statusConnected.Render("● live")
	case transport.StateConnecting:
		conn = statusDegraded.Render("◌ connecting")
	case transport.StateError:
		conn = statusError.Render("✕ offline (read-only)")
	default:
		conn = statusDegraded.Render("○ disconnected")
	}

	parts := []string{conn, "route: " + m.slug, "r refresh · q quit"}
	if m.lastNotice != "" {
		parts = append(parts, noticeStyle.Render(m.lastNotice))
	}
	return statusBarStyle.Width(max(m.width, 0)).Render(strings.Join(parts, "  │  "))
}
