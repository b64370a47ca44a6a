// Package locks implements the live lock and claim dashboard.
package locks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/orchestkit/ork-coord/internal/coordination"
	"github.com/orchestkit/ork-coord/internal/util"
)

// DefaultRefresh re-reads the store so countdowns and expiries stay current
// even without file changes.
const DefaultRefresh = time.Second

// Source provides coordination state. *coordination.Coordinator satisfies it.
type Source interface {
	Status(ctx context.Context) coordination.Status
}

const (
	tabLocks = iota
	tabClaims
)

type statusMsg struct {
	status coordination.Status
	at     time.Time
}

type changedMsg struct{}

type tickMsg time.Time

// Model is the dashboard state.
type Model struct {
	src     Source
	changes <-chan struct{}
	now     func() time.Time
	refresh time.Duration

	status      coordination.Status
	lastRefresh time.Time
	activeTab   int
	locks       table.Model
	claims      table.Model
	width       int
	height      int
	quitting    bool
}

// Option configures a Model.
type Option func(*Model)

// WithChanges refreshes the dashboard whenever changes delivers a value.
func WithChanges(changes <-chan struct{}) Option {
	return func(m *Model) { m.changes = changes }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Model) { m.now = now }
}

// WithRefresh sets the periodic refresh interval.
func WithRefresh(d time.Duration) Option {
	return func(m *Model) { m.refresh = d }
}

// New creates a dashboard reading from src.
func New(src Source, opts ...Option) Model {
	m := Model{
		src:     src,
		now:     time.Now,
		refresh: DefaultRefresh,
	}
	for _, opt := range opts {
		opt(&m)
	}

	m.locks = newTable([]string{"Path", "Instance", "Held", "Expires in"}, true)
	m.claims = newTable([]string{"Task", "Instance", "Claimed", "Expires in"}, false)
	return m
}

func newTable(titles []string, focused bool) table.Model {
	cols := make([]table.Column, len(titles))
	for i, title := range titles {
		cols[i] = table.Column{Title: title, Width: columnWidths[i]}
	}
	t := table.New(
		table.WithColumns(cols),
		table.WithFocused(focused),
		table.WithHeight(10),
	)
	s := table.DefaultStyles()
	s.Header = headerStyle.BorderStyle(lipgloss.NormalBorder()).BorderForeground(borderColor).BorderBottom(true)
	s.Selected = s.Selected.Foreground(textColor).Background(primaryColor).Bold(false)
	t.SetStyles(s)
	return t
}

// Run starts the dashboard and blocks until the user quits.
func Run(src Source, opts ...Option) error {
	_, err := tea.NewProgram(New(src, opts...), tea.WithAltScreen()).Run()
	return err
}

// Init loads the first snapshot and starts the refresh loops.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.load(), m.waitForChange(), m.tick())
}

func (m Model) load() tea.Cmd {
	src, now := m.src, m.now
	return func() tea.Msg {
		return statusMsg{status: src.Status(context.Background()), at: now()}
	}
}

func (m Model) waitForChange() tea.Cmd {
	if m.changes == nil {
		return nil
	}
	changes := m.changes
	return func() tea.Msg {
		if _, ok := <-changes; !ok {
			return nil
		}
		return changedMsg{}
	}
}

func (m Model) tick() tea.Cmd {
	if m.refresh <= 0 {
		return nil
	}
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
		return m, nil

	case statusMsg:
		m.status = msg.status
		m.lastRefresh = msg.at
		m.setRows()
		return m, nil

	case changedMsg:
		return m, tea.Batch(m.load(), m.waitForChange())

	case tickMsg:
		return m, tea.Batch(m.load(), m.tick())
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc", "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	case "tab", "shift+tab", "h", "l":
		if m.activeTab == tabLocks {
			m.activeTab = tabClaims
			m.locks.Blur()
			m.claims.Focus()
		} else {
			m.activeTab = tabLocks
			m.claims.Blur()
			m.locks.Focus()
		}
		return m, nil
	case "r":
		return m, m.load()
	}

	var cmd tea.Cmd
	if m.activeTab == tabLocks {
		m.locks, cmd = m.locks.Update(msg)
	} else {
		m.claims, cmd = m.claims.Update(msg)
	}
	return m, cmd
}

func (m *Model) setRows() {
	now := m.lastRefresh
	if now.IsZero() {
		now = m.now()
	}
	m.locks.SetRows(m.toRows(LockRows(m.status, now), m.locks.Columns()[0].Width))
	m.claims.SetRows(m.toRows(ClaimRows(m.status, now), m.claims.Columns()[0].Width))
}

// toRows converts rows, shortening paths from the left once the terminal
// width is known.
func (m *Model) toRows(rows [][]string, firstWidth int) []table.Row {
	out := make([]table.Row, len(rows))
	for i, r := range rows {
		if m.width > 0 {
			r[0] = util.TruncatePath(r[0], firstWidth)
		}
		out[i] = table.Row(r)
	}
	return out
}

// columnWidths are the widths of the fixed columns; the first column takes
// what they leave over.
var columnWidths = []int{24, 40, 8, 10}

func (m *Model) layout() {
	rest := 0
	for _, w := range columnWidths[1:] {
		rest += w + 2
	}
	first := max(m.width-rest-2, 16)
	for _, t := range []*table.Model{&m.locks, &m.claims} {
		cols := t.Columns()
		cols[0].Width = first
		t.SetColumns(cols)
		t.SetWidth(m.width)
		t.SetHeight(max(m.height-6, 3))
	}
	m.setRows()
}

// View renders the dashboard.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("ork-coord"))
	b.WriteString(" ")
	project := m.status.Project
	if m.width > 0 {
		project = util.TruncatePath(project, max(m.width-20, 10))
	}
	b.WriteString(mutedStyle.Render(project))
	if !m.status.Enabled && !m.lastRefresh.IsZero() {
		b.WriteString(" ")
		b.WriteString(errorStyle.Render("(disabled)"))
	}
	b.WriteString("\n")

	b.WriteString(m.renderTabs())
	b.WriteString("\n")

	if m.activeTab == tabLocks {
		b.WriteString(m.locks.View())
	} else {
		b.WriteString(m.claims.View())
	}
	b.WriteString("\n")

	help := "tab switch • ↑/↓ move • r refresh • q quit"
	if !m.lastRefresh.IsZero() {
		help += " • updated " + m.lastRefresh.Local().Format(time.TimeOnly)
	}
	b.WriteString(mutedStyle.Render(help))
	return b.String()
}

func (m Model) renderTabs() string {
	tabs := []string{
		fmt.Sprintf("Locks (%d)", len(m.status.Locks)),
		fmt.Sprintf("Claims (%d)", len(m.status.Claims)),
	}
	rendered := make([]string, len(tabs))
	for i, t := range tabs {
		if i == m.activeTab {
			rendered[i] = tabActive.Render(t)
		} else {
			rendered[i] = tabInactive.Render(t)
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, rendered...)
}
