// Package tui provides the interactive menu for llmrouter using Bubble Tea.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/joss/llmrouter/internal/app"
	"github.com/joss/llmrouter/internal/logging"
	"github.com/joss/llmrouter/internal/render"
	strutil "github.com/joss/llmrouter/internal/strings"
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			MarginLeft(2)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	activeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			MarginTop(1)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Background(lipgloss.Color("236")).
			Padding(0, 1)
)

type view int

const (
	viewMenu view = iota
	viewInput
	viewPicker
	viewConfirm
	viewRunning
	viewOutput
)

// Message types
type doneMsg struct {
	title string
	out   string
	err   error
	// then runs on the UI goroutine once the output is shown.
	then func(Model) (Model, tea.Cmd)
}

type progressMsg string

type reloadMsg string

// shared is the part of the model every copy must see: the running
// program and the cancel func of the action in flight.
type shared struct {
	mu      sync.Mutex
	ctx     context.Context
	program *tea.Program
	cancel  context.CancelFunc
}

func (s *shared) send(msg tea.Msg) {
	s.mu.Lock()
	p := s.program
	s.mu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

func (s *shared) begin() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, cancel := context.WithCancel(s.ctx)
	s.cancel = cancel
	return ctx
}

func (s *shared) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// Model is the main TUI model
type Model struct {
	state    *app.State
	renderer *render.Renderer
	shared   *shared
	recovery *logging.RecoveryHandler

	view   view
	menu   []menuItem
	cursor int
	title  string

	input   textinput.Model
	onInput func(Model, string) (Model, tea.Cmd)

	picker *Picker
	onPick func(Model, pickItem) (Model, tea.Cmd)

	question  string
	onConfirm func(Model, bool) (Model, tea.Cmd)

	spinner  spinner.Model
	progress []string
	viewport viewport.Model
	output   string
	notice   string

	width    int
	height   int
	quitting bool
}

// New creates a new TUI model over an operator state.
func New(ctx context.Context, state *app.State) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	ti := textinput.New()
	ti.CharLimit = 4000
	ti.Width = 60

	return Model{
		state:    state,
		renderer: render.New(true),
		shared:   &shared{ctx: ctx},
		recovery: logging.NewRecoveryHandler("tui"),
		view:     viewMenu,
		menu:     mainMenu(),
		input:    ti,
		spinner:  s,
		viewport: viewport.New(76, 18),
		width:    80,
		height:   24,
	}
}

// Init initializes the TUI
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.renderer = render.New(true).WithWidth(msg.Width - 6)
		m.viewport.Width = max(msg.Width-4, 20)
		m.viewport.Height = max(msg.Height-10, 5)
		if m.picker != nil {
			m.picker.SetSize(msg.Width-4, msg.Height-8)
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case progressMsg:
		m.progress = append(m.progress, string(msg))
		return m, nil

	case reloadMsg:
		m.notice = string(msg)
		return m, nil

	case doneMsg:
		m.shared.end()
		m.progress = nil
		out := msg.out
		if msg.err != nil {
			if out != "" {
				out += "\n\n"
			}
			out += render.ErrorString(msg.err)
		}
		m = m.show(msg.title, out)
		if msg.then != nil {
			return msg.then(m)
		}
		return m, nil

	case spinner.TickMsg:
		if m.view != viewRunning {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (Model, tea.Cmd) {
	key := msg.String()
	if key == "ctrl+c" {
		if m.view == viewRunning {
			m.shared.end()
			m.notice = "cancelling..."
			return m, nil
		}
		m.quitting = true
		return m, tea.Quit
	}

	switch m.view {
	case viewMenu:
		return m.menuKey(key)

	case viewInput:
		switch key {
		case "esc":
			return m.back(), nil
		case "enter":
			value := strings.TrimSpace(m.input.Value())
			m.input.Blur()
			if m.onInput == nil {
				return m.back(), nil
			}
			return m.onInput(m, value)
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd

	case viewPicker:
		switch key {
		case "esc":
			return m.back(), nil
		case "enter":
			item, ok := m.picker.Selected()
			if !ok || m.onPick == nil {
				return m, nil
			}
			return m.onPick(m, item)
		}
		return m, m.picker.Update(msg)

	case viewConfirm:
		switch key {
		case "y", "Y", "enter":
			return m.onConfirm(m, true)
		case "n", "N", "esc":
			return m.onConfirm(m, false)
		}
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case viewRunning:
		if key == "esc" {
			m.shared.end()
			m.notice = "cancelling..."
		}
		return m, nil

	case viewOutput:
		switch key {
		case "esc", "q", "enter":
			return m.back(), nil
		}
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) menuKey(key string) (Model, tea.Cmd) {
	switch key {
	case "q", "esc":
		m.quitting = true
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.menu)-1 {
			m.cursor++
		}
	case "enter":
		m.notice = ""
		return m.menu[m.cursor].run(m)
	default:
		if len(key) == 1 && key[0] >= '0' && key[0] <= '9' {
			i := int(key[0] - '1')
			if key == "0" {
				i = 9
			}
			if i < len(m.menu) {
				m.cursor = i
				m.notice = ""
				return m.menu[i].run(m)
			}
		}
	}
	return m, nil
}

// back returns to the menu.
func (m Model) back() Model {
	m.view = viewMenu
	m.onInput = nil
	m.onPick = nil
	m.onConfirm = nil
	m.picker = nil
	m.input.Blur()
	return m
}

// ask switches to a one-line input.
func (m Model) ask(label, placeholder string, fn func(Model, string) (Model, tea.Cmd)) (Model, tea.Cmd) {
	m.view = viewInput
	m.title = label
	m.input.Reset()
	m.input.Placeholder = placeholder
	m.onInput = fn
	cmd := m.input.Focus()
	return m, cmd
}

// pick switches to a fuzzy picker. An empty list shows empty instead.
func (m Model) pick(title string, items pickItems, fn func(Model, pickItem) (Model, tea.Cmd)) (Model, tea.Cmd) {
	if len(items) == 0 {
		return m.show(title, "Nothing to choose from."), nil
	}
	m.view = viewPicker
	m.title = title
	m.picker = NewPicker(title, items, m.width-4, m.height-8)
	m.onPick = fn
	return m, nil
}

// confirm shows body and asks a yes/no question.
func (m Model) confirm(body, question string, fn func(Model, bool) (Model, tea.Cmd)) (Model, tea.Cmd) {
	m.view = viewConfirm
	m.question = question
	m.output = body
	m.viewport.SetContent(body)
	m.viewport.GotoTop()
	m.onConfirm = fn
	return m, nil
}

// show displays text in the output view.
func (m Model) show(title, text string) Model {
	m.view = viewOutput
	m.title = title
	m.output = text
	m.viewport.SetContent(text)
	m.viewport.GotoTop()
	return m
}

// start runs act off the UI goroutine with a cancellable context.
// Panics inside act are converted to errors.
func (m Model) start(title string, act func(ctx context.Context) doneMsg) (Model, tea.Cmd) {
	m.view = viewRunning
	m.title = title
	m.progress = nil
	ctx := m.shared.begin()
	recovery := m.recovery
	run := func() tea.Msg {
		var msg doneMsg
		err := recovery.WrapError(func() error {
			msg = act(ctx)
			return nil
		})
		if err != nil {
			msg = doneMsg{err: err}
		}
		if msg.title == "" {
			msg.title = title
		}
		return msg
	}
	return m, tea.Batch(m.spinner.Tick, run)
}

// View renders the TUI
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("⚡ llmrouter") + "\n")
	b.WriteString(m.statusBar() + "\n\n")

	switch m.view {
	case viewMenu:
		b.WriteString(m.viewMenu())
	case viewInput:
		b.WriteString(activeStyle.Render("  "+m.title) + "\n\n")
		b.WriteString("  " + m.input.View() + "\n")
		b.WriteString(helpStyle.Render("  enter: submit │ esc: back"))
	case viewPicker:
		b.WriteString(m.picker.View() + "\n")
		b.WriteString(helpStyle.Render("  type: filter │ ↑/↓: move │ enter: choose │ esc: back"))
	case viewConfirm:
		b.WriteString(boxStyle.Width(max(m.width-4, 20)).Render(m.viewport.View()) + "\n")
		b.WriteString("\n  " + activeStyle.Render(m.question) + " [y/n]")
	case viewRunning:
		b.WriteString(fmt.Sprintf("  %s %s\n", m.spinner.View(), m.title))
		for _, line := range lastLines(m.progress, max(m.height-8, 3)) {
			b.WriteString(infoStyle.Render("  "+line) + "\n")
		}
		b.WriteString(helpStyle.Render("  esc: cancel"))
	case viewOutput:
		b.WriteString(activeStyle.Render("  "+m.title) + "\n")
		b.WriteString(boxStyle.Width(max(m.width-4, 20)).Render(m.viewport.View()) + "\n")
		b.WriteString(helpStyle.Render("  ↑/↓: scroll │ enter: back"))
	}

	if m.notice != "" {
		b.WriteString("\n" + infoStyle.Render("  "+m.notice))
	}
	return b.String()
}

func (m Model) viewMenu() string {
	var b strings.Builder
	for i, item := range m.menu {
		cursor := "  "
		style := infoStyle
		if i == m.cursor {
			cursor = "▶ "
			style = activeStyle
		}
		label := item.label
		if item.status != nil {
			label += " " + item.status(m)
		}
		key := fmt.Sprintf("%d", (i+1)%10)
		b.WriteString(style.Render(fmt.Sprintf("%s%s. %s", cursor, key, label)) + "\n")
	}
	b.WriteString(helpStyle.Render("\n  enter: open │ 1-0: jump │ j/k: navigate │ q: quit"))
	return b.String()
}

func (m Model) statusBar() string {
	session := "no session"
	if m.state.SessionID != "" {
		session = "session " + strutil.Truncate(m.state.SessionID, 12)
	}
	confirm := "confirm"
	if m.state.AutoConfirm {
		confirm = "auto"
	}
	text := fmt.Sprintf("%s │ context %d items, ~%d tokens │ %s",
		session, len(m.state.Context), m.state.ContextTokens(), confirm)
	if m.state.Budget > 0 {
		text += fmt.Sprintf(" │ budget %d", m.state.Budget)
	}
	return statusBarStyle.Render(text)
}

func lastLines(lines []string, n int) []string {
	if len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}

// Run starts the interactive menu and blocks until the operator quits.
// Template and workflow directories are watched while it runs.
func Run(ctx context.Context, state *app.State) error {
	m := New(ctx, state)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	m.shared.mu.Lock()
	m.shared.program = p
	m.shared.mu.Unlock()

	a := state.App()
	log := logging.New("tui")
	if w, err := a.Templates.Watch(func() { m.shared.send(reloadMsg("templates reloaded")) }); err != nil {
		log.Warn("watch_failed", logging.Fields{"dir": "templates"}, err)
	} else {
		defer w.Stop()
	}
	if w, err := a.Workflows.Watch(func() { m.shared.send(reloadMsg("workflows reloaded")) }); err != nil {
		log.Warn("watch_failed", logging.Fields{"dir": "workflows"}, err)
	} else {
		defer w.Stop()
	}

	_, err := p.Run()
	m.shared.end()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
