package app

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"gitlab.com/tinyland/lab/loop-pulse/pkg/components"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/state"
)

// Widget is one panel of the dashboard.
type Widget interface {
	ID() string
	Title() string
	// Update receives every message the model handles, including
	// SnapshotEvent and TickEvent.
	Update(msg tea.Msg) tea.Cmd
	// View renders the panel body in exactly width x height cells.
	View(width, height int) string
	// MinSize is the smallest body the widget can render usefully.
	MinSize() (int, int)
	// HandleKey receives keys the model does not consume while focused.
	HandleKey(msg tea.KeyMsg) tea.Cmd
}

// Config controls the root model.
type Config struct {
	Title string
	// RefreshInterval is the tick period for re-rendering relative times.
	RefreshInterval time.Duration
	// Updates feeds snapshots into the model. Nil shows only Initial.
	Updates <-chan state.Snapshot
	// Initial is shown until the first update arrives.
	Initial *state.Snapshot
	// Refresh asks for an immediate fetch; nil disables the r key.
	Refresh func()
}

// DefaultConfig returns the defaults used by the CLI.
func DefaultConfig() Config {
	return Config{
		Title:           "loop-pulse",
		RefreshInterval: 15 * time.Second,
	}
}

const (
	colorBorder = "#6B7280"
	colorFocus  = "#7C3AED"
	// chrome is the header and footer line.
	chrome = 2
	// frame is a widget's border plus its title line.
	frameW = 2
	frameH = 3
)

// AppModel is the bubbletea model.
type AppModel struct {
	cfg Config

	widgets        map[string]Widget
	widgetOrder    []string
	focusedWidget  string
	expandedWidget string

	width, height int
	showHelp      bool
	quitting      bool

	snapshot    state.Snapshot
	hasSnapshot bool
	feedClosed  bool
	flash       string
}

// NewAppModel creates the model with widgets in display order. The first
// widget starts focused.
func NewAppModel(cfg Config, widgets ...Widget) AppModel {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultConfig().RefreshInterval
	}
	m := AppModel{cfg: cfg, widgets: make(map[string]Widget, len(widgets))}
	for _, w := range widgets {
		m.widgets[w.ID()] = w
		m.widgetOrder = append(m.widgetOrder, w.ID())
	}
	if len(m.widgetOrder) > 0 {
		m.focusedWidget = m.widgetOrder[0]
	}
	if cfg.Initial != nil {
		m.applySnapshot(*cfg.Initial)
	}
	return m
}

// Init starts the tick and the snapshot feed.
func (m AppModel) Init() tea.Cmd {
	return tea.Batch(TickCmd(m.cfg.RefreshInterval), WaitForSnapshot(m.cfg.Updates))
}

// Update handles one message.
func (m AppModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case TickEvent:
		cmds := m.broadcast(msg)
		cmds = append(cmds, TickCmd(m.cfg.RefreshInterval))
		return m, tea.Batch(cmds...)

	case SnapshotEvent:
		m.flash = ""
		m.applySnapshot(msg.Snapshot)
		cmds := m.broadcast(msg)
		cmds = append(cmds, WaitForSnapshot(m.cfg.Updates))
		return m, tea.Batch(cmds...)

	case feedClosedEvent:
		m.feedClosed = true
		return m, nil

	case WidgetFocusEvent:
		m.FocusWidget(msg.WidgetID)
		return m, nil

	case WidgetExpandEvent:
		m.FocusWidget(msg.WidgetID)
		if m.focusedWidget == msg.WidgetID {
			m.ToggleExpand()
		}
		return m, nil
	}
	return m, tea.Batch(m.broadcast(msg)...)
}

func (m *AppModel) applySnapshot(s state.Snapshot) {
	m.snapshot = s
	m.hasSnapshot = true
	for _, id := range m.widgetOrder {
		m.widgets[id].Update(SnapshotEvent{Snapshot: s})
	}
}

func (m AppModel) broadcast(msg tea.Msg) []tea.Cmd {
	if _, ok := msg.(SnapshotEvent); ok {
		// applySnapshot already delivered it.
		return nil
	}
	var cmds []tea.Cmd
	for _, id := range m.widgetOrder {
		if cmd := m.widgets[id].Update(msg); cmd != nil {
			cmds = append(cmds, cmd)
		}
	}
	return cmds
}

func (m AppModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		m.quitting = true
		return m, tea.Quit
	case "?":
		m.showHelp = !m.showHelp
		return m, nil
	case "tab":
		m.CycleFocusForward()
		return m, nil
	case "shift+tab":
		m.CycleFocusBackward()
		return m, nil
	case "enter":
		m.ToggleExpand()
		return m, nil
	case "esc":
		if m.showHelp {
			m.showHelp = false
		} else {
			m.expandedWidget = ""
		}
		return m, nil
	case "r":
		if m.cfg.Refresh != nil {
			m.cfg.Refresh()
			m.flash = "refresh requested"
		}
		return m, nil
	}
	if w, ok := m.widgets[m.focusedWidget]; ok {
		return m, w.HandleKey(msg)
	}
	return m, nil
}

// View renders the dashboard.
func (m AppModel) View() string {
	if m.quitting {
		return ""
	}
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	bodyH := max(m.height-chrome, 0)
	var body string
	switch {
	case m.showHelp:
		body = m.renderHelp(m.width, bodyH)
	case m.expandedWidget != "":
		body = m.renderWidget(m.widgets[m.expandedWidget], m.width, bodyH)
	default:
		body = m.renderStack(m.width, bodyH)
	}
	return lipgloss.JoinVertical(lipgloss.Left, m.renderHeader(), body, m.renderFooter())
}

// layout returns each widget's outer height: its minimum plus frame, with
// the remainder going to the last widget. Widgets that do not fit get 0.
func (m AppModel) layout(height int) []int {
	heights := make([]int, len(m.widgetOrder))
	used := 0
	for i, id := range m.widgetOrder {
		_, minH := m.widgets[id].MinSize()
		h := minH + frameH
		if used+h > height {
			break
		}
		heights[i] = h
		used += h
	}
	for i := len(heights) - 1; i >= 0; i-- {
		if heights[i] > 0 {
			heights[i] += height - used
			break
		}
	}
	return heights
}

func (m AppModel) renderStack(width, height int) string {
	var parts []string
	for i, h := range m.layout(height) {
		if h == 0 {
			continue
		}
		parts = append(parts, m.renderWidget(m.widgets[m.widgetOrder[i]], width, h))
	}
	if len(parts) == 0 {
		return components.FitBlock("terminal too small", width, height)
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

// renderWidget draws w in a rounded border of exactly width x height.
func (m AppModel) renderWidget(w Widget, width, height int) string {
	innerW, innerH := width-frameW, height-frameH
	if innerW <= 0 || innerH <= 0 {
		return components.FitBlock("", width, height)
	}
	border := colorBorder
	title := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(border))
	if w.ID() == m.focusedWidget {
		border = colorFocus
		title = title.Foreground(lipgloss.Color(colorFocus))
	}
	content := components.FitLine(title.Render(w.Title()), innerW) + "\n" +
		components.FitBlock(w.View(innerW, innerH), innerW, innerH)
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(border)).
		Render(content)
}

func (m AppModel) renderHeader() string {
	left := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorFocus)).Render(m.cfg.Title)
	var right string
	switch {
	case m.flash != "":
		right = m.flash
	case m.snapshot.LastError != "":
		right = lipgloss.NewStyle().Foreground(lipgloss.Color(components.ColorUrgent)).Render(m.snapshot.LastError)
	case m.hasSnapshot && !m.snapshot.Updated.IsZero():
		right = "updated " + m.snapshot.Updated.Local().Format("15:04:05")
	default:
		right = "waiting for data"
	}
	if m.feedClosed {
		right += " (feed closed)"
	}
	gap := m.width - components.VisibleLen(left) - components.VisibleLen(right)
	if gap < 1 {
		return components.FitLine(left+" "+right, m.width)
	}
	return left + strings.Repeat(" ", gap) + right
}

func (m AppModel) renderFooter() string {
	hint := "tab focus  enter expand  esc back  r refresh  ? help  q quit"
	return components.FitLine(components.Dim(hint), m.width)
}

var helpLines = [][2]string{
	{"tab / shift+tab", "move focus between panels"},
	{"enter", "expand the focused panel"},
	{"esc", "collapse, or close this help"},
	{"r", "fetch loop status now"},
	{"up / down", "scroll the status table"},
	{"p", "toggle the prediction tail"},
	{"?", "toggle this help"},
	{"q / ctrl+c", "quit"},
}

func (m AppModel) renderHelp(width, height int) string {
	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().Bold(true).Render("Keys"))
	b.WriteString("\n\n")
	for _, l := range helpLines {
		fmt.Fprintf(&b, "  %-16s %s\n", l[0], l[1])
	}
	return components.FitBlock(b.String(), width, height)
}

// Width returns the terminal width.
func (m AppModel) Width() int { return m.width }

// Height returns the terminal height.
func (m AppModel) Height() int { return m.height }

// FocusedWidgetID returns the focused widget's id.
func (m AppModel) FocusedWidgetID() string { return m.focusedWidget }

// ExpandedWidgetID returns the expanded widget's id, or "".
func (m AppModel) ExpandedWidgetID() string { return m.expandedWidget }

// Quitting reports whether quit was requested.
func (m AppModel) Quitting() bool { return m.quitting }

// HelpVisible reports whether the help overlay is shown.
func (m AppModel) HelpVisible() bool { return m.showHelp }

// Snapshot returns the latest snapshot and whether one has arrived.
func (m AppModel) Snapshot() (state.Snapshot, bool) { return m.snapshot, m.hasSnapshot }
