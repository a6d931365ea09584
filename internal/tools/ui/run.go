package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const actionTimeout = 2 * time.Minute

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

type actionMsg struct {
	details []string
	err     error
}

type tickMsg time.Time

type model struct {
	title   string
	details []string
	err     error
	done    bool
	started time.Time
	elapsed time.Duration
	action  func(context.Context) ([]string, error)
	cancel  context.CancelFunc
	ctx     context.Context
}

func newModel(title string, action func(context.Context) ([]string, error)) model {
	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	return model{title: title, action: action, ctx: ctx, cancel: cancel, started: time.Now()}
}

func tick() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) Init() tea.Cmd {
	run := func() tea.Msg {
		details, err := m.action(m.ctx)
		return actionMsg{details: details, err: err}
	}
	return tea.Batch(run, tick())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.cancel()
			m.err = context.Canceled
			m.done = true
			return m, tea.Quit
		}
	case tickMsg:
		if m.done {
			return m, nil
		}
		m.elapsed = time.Time(msg).Sub(m.started)
		return m, tick()
	case actionMsg:
		m.cancel()
		m.details = msg.details
		m.err = msg.err
		m.done = true
		m.elapsed = time.Since(m.started)
		return m, tea.Quit
	}
	return m, nil
}

func (m model) View() string {
	return render(m.title, m.done, m.elapsed, m.details, m.err)
}

func render(title string, done bool, elapsed time.Duration, details []string, err error) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n")
	took := dimStyle.Render(fmt.Sprintf("(%s)", elapsed.Round(100*time.Millisecond)))
	switch {
	case !done:
		fmt.Fprintf(&b, "\nRunning... %s\n", took)
		return b.String()
	case err != nil:
		fmt.Fprintf(&b, "%s %s: %v\n", failStyle.Render("FAILED"), took, err)
	default:
		fmt.Fprintf(&b, "%s %s\n", okStyle.Render("OK"), took)
	}
	for _, d := range details {
		b.WriteString("- " + d + "\n")
	}
	return b.String()
}

// Run executes action behind a small progress view and returns its result.
func Run(title string, action func(context.Context) ([]string, error)) ([]string, error) {
	m := newModel(title, action)
	defer m.cancel()
	final, err := tea.NewProgram(m).Run()
	if err != nil {
		return nil, err
	}
	res := final.(model)
	return res.details, res.err
}
