package widgets

import (
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"gitlab.com/tinyland/lab/loop-pulse/pkg/app"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/components"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/state"
)

const nameColumnWidth = 14

// StatusTable lists the snapshot's info rows in a scrollable table. Relative
// times are recomputed on every tick.
type StatusTable struct {
	opts Options
	tbl  table.Model
	snap state.Snapshot
}

// NewStatusTable returns a table showing placeholder rows until the first
// snapshot arrives.
func NewStatusTable(opts Options) *StatusTable {
	opts = opts.withDefaults()
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color(components.ColorDim)).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color(components.ColorAccent)).
		Bold(false)

	w := &StatusTable{
		opts: opts,
		tbl: table.New(
			table.WithColumns(columns(40)),
			table.WithFocused(true),
			table.WithStyles(styles),
		),
	}
	w.refreshRows()
	return w
}

func columns(width int) []table.Column {
	return []table.Column{
		{Title: "Name", Width: nameColumnWidth},
		{Title: "Value", Width: max(width-nameColumnWidth-2, 1)},
	}
}

func (w *StatusTable) ID() string          { return "table" }
func (w *StatusTable) Title() string       { return "Status" }
func (w *StatusTable) MinSize() (int, int) { return 30, 6 }

func (w *StatusTable) Update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case app.SnapshotEvent:
		w.snap = msg.Snapshot
		w.refreshRows()
	case app.TickEvent:
		w.refreshRows()
	}
	return nil
}

// HandleKey scrolls the table with the bubbles key map (up/down, k/j,
// pgup/pgdown, g/G).
func (w *StatusTable) HandleKey(msg tea.KeyMsg) tea.Cmd {
	var cmd tea.Cmd
	w.tbl, cmd = w.tbl.Update(msg)
	return cmd
}

func (w *StatusTable) View(width, height int) string {
	if width <= 0 || height <= 0 {
		return ""
	}
	w.tbl.SetColumns(columns(width))
	w.tbl.SetWidth(width)
	w.tbl.SetHeight(height)
	return components.FitBlock(w.tbl.View(), width, height)
}

// Rows returns the rows currently shown.
func (w *StatusTable) Rows() []state.Row {
	out := make([]state.Row, 0, len(w.tbl.Rows()))
	for _, r := range w.tbl.Rows() {
		out = append(out, state.Row{Name: r[0], Value: r[1]})
	}
	return out
}

// Cursor returns the selected row index.
func (w *StatusTable) Cursor() int { return w.tbl.Cursor() }

func (w *StatusTable) refreshRows() {
	info := w.snap.InfoRows(w.snap.Units, w.opts.Now())
	rows := make([]table.Row, 0, len(info))
	for _, r := range info {
		rows = append(rows, table.Row{r.Name, r.Value})
	}
	w.tbl.SetRows(rows)
}
