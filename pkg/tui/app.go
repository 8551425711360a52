package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/NathanRodet/chutney/pkg/report"
)

// Controller is the part of the engine the TUI drives.
type Controller interface {
	Follow(ctx context.Context, id int64) (<-chan *report.StepExecutionReport, error)
	Pause(id int64) error
	Resume(id int64) error
	Stop(id int64) error
}

// --- Messages ---

type snapshotMsg struct{ report *report.StepExecutionReport }

type streamClosedMsg struct{}

type controlDoneMsg struct {
	op  string
	err error
}

// row is one line of the step list.
type row struct {
	path   string
	depth  int
	name   string
	typ    string
	status report.Status
	dur    time.Duration
}

// Model is the top-level Bubble Tea model for the TUI.
type Model struct {
	ctrl    Controller
	id      int64
	title   string
	stream  <-chan *report.StepExecutionReport
	spinner spinner.Model
	detail  viewport.Model

	snapshot *report.StepExecutionReport
	rows     []row
	cursor   int
	paused   bool
	ended    bool
	flash    string

	width  int
	height int
}

// Run follows execution id and blocks until the user quits.
func Run(ctx context.Context, ctrl Controller, id int64, title string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stream, err := ctrl.Follow(ctx, id)
	if err != nil {
		return err
	}
	p := tea.NewProgram(newModel(ctrl, id, title, stream), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err = p.Run()
	return err
}

func newModel(ctrl Controller, id int64, title string, stream <-chan *report.StepExecutionReport) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle
	return Model{
		ctrl:    ctrl,
		id:      id,
		title:   title,
		stream:  stream,
		spinner: sp,
		detail:  viewport.New(0, 0),
	}
}

// Init starts the spinner and the report listener.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listen())
}

// listen waits for the next snapshot of the followed run.
func (m Model) listen() tea.Cmd {
	return func() tea.Msg {
		r, ok := <-m.stream
		if !ok {
			return streamClosedMsg{}
		}
		return snapshotMsg{report: r}
	}
}

func (m Model) control(op string, fn func(int64) error) tea.Cmd {
	return func() tea.Msg {
		return controlDoneMsg{op: op, err: fn(m.id)}
	}
}

// Update processes messages and returns the updated model and any commands.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()

	case tea.KeyMsg:
		return m.handleKey(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case snapshotMsg:
		m.apply(msg.report)
		return m, m.listen()

	case streamClosedMsg:
		m.ended = true
		m.paused = false

	case controlDoneMsg:
		if msg.err != nil {
			m.flash = fmt.Sprintf("%s failed: %v", msg.op, msg.err)
		} else {
			m.flash = msg.op + " requested"
		}
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, keys.Up):
		if m.cursor > 0 {
			m.cursor--
			m.refreshDetail()
		}
	case key.Matches(msg, keys.Down):
		if m.cursor < len(m.rows)-1 {
			m.cursor++
			m.refreshDetail()
		}
	case key.Matches(msg, keys.PgUp):
		m.detail.HalfViewUp()
	case key.Matches(msg, keys.PgDown):
		m.detail.HalfViewDown()
	case m.ended:
		// no control once the run is over
	case key.Matches(msg, keys.Pause):
		return m, m.control("pause", m.ctrl.Pause)
	case key.Matches(msg, keys.Resume):
		return m, m.control("resume", m.ctrl.Resume)
	case key.Matches(msg, keys.Stop):
		return m, m.control("stop", m.ctrl.Stop)
	}
	return m, nil
}

// apply replaces the displayed tree with a new snapshot, keeping the
// selection on the same path when it still exists.
func (m *Model) apply(r *report.StepExecutionReport) {
	if r == nil {
		return
	}
	selected := ""
	if m.cursor < len(m.rows) {
		selected = m.rows[m.cursor].path
	}

	m.snapshot = r
	rows := make([]row, 0, len(m.rows))
	r.Walk(func(path string, s *report.StepExecutionReport) {
		rows = append(rows, row{
			path:   path,
			depth:  report.Depth(path),
			name:   s.Name,
			typ:    s.Type,
			status: s.Status,
			dur:    s.Duration,
		})
	})
	m.rows = rows
	m.cursor = 0
	for i, rw := range m.rows {
		if rw.path == selected {
			m.cursor = i
		}
	}
	m.paused = r.Status == report.StatusPaused
	if r.Status.Terminal() {
		m.ended = true
	}
	m.refreshDetail()
}

// node returns the report fragment under the cursor.
func (m Model) node() *report.StepExecutionReport {
	if m.snapshot == nil || m.cursor >= len(m.rows) {
		return nil
	}
	var found *report.StepExecutionReport
	want := m.rows[m.cursor].path
	m.snapshot.Walk(func(path string, s *report.StepExecutionReport) {
		if path == want {
			found = s
		}
	})
	return found
}

func (m *Model) refreshDetail() {
	n := m.node()
	if n == nil {
		m.detail.SetContent("")
		return
	}
	m.detail.SetContent(renderMarkdown(report.Markdown(n), max(m.detail.Width, 20)))
	m.detail.GotoTop()
}

// layout splits the screen: header(1) + list/detail panels + key bar(1).
func (m *Model) layout() {
	if m.width == 0 || m.height == 0 {
		return
	}
	mainH := max(m.height-4, 4)
	m.detail.Width = max(m.width-m.listWidth()-4, 10)
	m.detail.Height = mainH - 1
	m.refreshDetail()
}

// listWidth gives the step list 40% of the screen, minimum 30.
func (m Model) listWidth() int {
	return max(m.width*40/100, 30)
}

// View renders the complete TUI.
func (m Model) View() string {
	header := m.renderHeader()
	list := m.renderList(m.listWidth() - 2)
	if m.width == 0 {
		return header + "\n" + list
	}

	mainH := max(m.height-4, 4)
	left := panelBorder.Width(m.listWidth() - 2).Height(mainH).Render(list)
	right := panelBorder.Width(m.detail.Width + 2).Height(mainH).Render(
		panelTitle.Render("details") + "\n" + m.detail.View())
	bar := keyBarText(m.ended, m.paused)
	if m.flash != "" {
		bar += "  " + flashStyle.Render(m.flash)
	}
	return header + "\n" + lipgloss.JoinHorizontal(lipgloss.Top, left, right) + "\n" + bar
}

func (m Model) renderHeader() string {
	title := headerStyle.Render("chutney") + " " + m.title
	var state string
	switch {
	case m.snapshot == nil:
		state = "waiting..."
	case m.ended:
		state = statusStyle(m.snapshot.Status).Render(report.Glyph(m.snapshot.Status) + " " + string(m.snapshot.Status))
	case m.paused:
		state = stateBadgeStyle.Render("PAUSED")
	default:
		state = m.spinner.View() + " running"
	}
	id := fmt.Sprintf("#%d", m.id)

	padding := max(m.width-lipgloss.Width(title)-lipgloss.Width(id)-lipgloss.Width(state)-3, 1)
	return title + " " + keyDescStyle.Render(id) + strings.Repeat(" ", padding) + state
}

// renderList draws one line per step, indented by depth and truncated to
// width display cells.
func (m Model) renderList(width int) string {
	if len(m.rows) == 0 {
		return stepSkipped.Render("no steps reported yet")
	}
	var b strings.Builder
	for i, rw := range m.rows {
		line := strings.Repeat("  ", rw.depth) + report.Glyph(rw.status) + " " + rw.name
		if rw.typ != "" {
			line += " [" + rw.typ + "]"
		}
		if rw.status.Terminal() && rw.status != report.StatusNotExecuted {
			line += " " + rw.dur.Truncate(time.Millisecond).String()
		}
		if width > 0 {
			line = runewidth.Truncate(line, width, "…")
		}
		style := statusStyle(rw.status)
		if i == m.cursor {
			style = style.Inherit(stepSelected)
		}
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(style.Render(line))
	}
	return b.String()
}
