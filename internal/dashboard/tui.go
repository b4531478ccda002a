// Package dashboard renders a terminal view of the running watches.
package dashboard

import (
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/apeks827/JiraTasksUpdate/internal/pipeline"
)

// Panel width (all panels same width)
const (
	panelTotalWidth = 69 // Total visual width including borders
	panelInnerWidth = 65 // panelTotalWidth - 4 (2 borders + 2 padding spaces)
)

const (
	maxCycles      = 8  // cycles listed in the recent panel
	sparklineWidth = 32 // cycles kept for the activity sparkline
)

// sparkBlocks maps normalized levels (0-8) to Unicode block elements for sparkline rendering.
var sparkBlocks = []rune{' ', '▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// Styles (muted terminal aesthetic)
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7eb8da")) // steel blue

	borderStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#3d4450")) // slate

	statusRunningStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#7eb8da"))

	statusIdleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6e7681"))

	statusFailedStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#d48a8a")) // dusty rose

	statusOKStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7ec699")) // sage green

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#d4a054")) // amber

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#8b949e"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#c9d1d9"))
)

// Watch is the scheduler view the dashboard needs.
type Watch interface {
	Name() string
	State() pipeline.State
	Paused() bool
	Pause()
	Resume()
	Cache() *pipeline.ProcessedCache
	LastReport() *pipeline.CycleReport
}

// Model is the bubbletea model.
type Model struct {
	version  string
	watches  []Watch
	selected int
	cycles   []pipeline.CycleReport // newest last
	sent     []float64              // dispatched per cycle, for the sparkline
	pulse    bool
	width    int
	quitting bool
	now      func() time.Time
}

type tickMsg time.Time

// CycleMsg delivers a finished cycle to the model.
type CycleMsg pipeline.CycleReport

// NewModel creates a dashboard model.
func NewModel(version string, watches ...Watch) Model {
	return Model{
		version: version,
		watches: watches,
		now:     time.Now,
	}
}

// Init starts the refresh tick.
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "up", "k":
			if m.selected > 0 {
				m.selected--
			}
		case "down", "j":
			if m.selected < len(m.watches)-1 {
				m.selected++
			}
		case "p", " ":
			if m.selected < len(m.watches) {
				w := m.watches[m.selected]
				if w.Paused() {
					w.Resume()
				} else {
					w.Pause()
				}
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case tickMsg:
		m.pulse = !m.pulse
		return m, tickCmd()

	case CycleMsg:
		m.cycles = append(m.cycles, pipeline.CycleReport(msg))
		if len(m.cycles) > maxCycles {
			m.cycles = m.cycles[len(m.cycles)-maxCycles:]
		}
		m.sent = append(m.sent, float64(msg.Dispatched))
		if len(m.sent) > sparklineWidth {
			m.sent = m.sent[len(m.sent)-sparklineWidth:]
		}
	}

	return m, nil
}

// View renders the TUI
func (m Model) View() string {
	if m.quitting {
		return "jtu dashboard closed.\n"
	}

	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(titleStyle.Render(fmt.Sprintf("  jtu %s", m.version)))
	b.WriteString("\n\n")

	b.WriteString(m.renderWatches())
	b.WriteString("\n")
	b.WriteString(m.renderActivity())
	b.WriteString("\n")
	b.WriteString(m.renderCycles())
	b.WriteString("\n")

	b.WriteString(helpStyle.Render("q: quit  j/k: select  p: pause/resume"))
	return b.String()
}

func (m Model) renderWatches() string {
	if len(m.watches) == 0 {
		return renderPanel("WATCHES", "  No watches running")
	}

	now := m.now()
	var lines []string
	for i, w := range m.watches {
		cursor := "  "
		if i == m.selected {
			cursor = "▸ "
		}
		lines = append(lines, cursor+labelStyle.Render(w.Name()))
		lines = append(lines, dotLeaderStyled("state", stateLabel(w), stateStyle(w), panelInnerWidth))
		lines = append(lines, dotLeader("processed", formatCompact(w.Cache().Len()), panelInnerWidth))

		last := "never"
		if r := w.LastReport(); r != nil {
			last = formatDurationCompact(now.Sub(r.FinishedAt)) + " ago"
			if r.FetchError != "" {
				last += " (fetch failed)"
			}
		}
		lines = append(lines, dotLeader("last cycle", last, panelInnerWidth))
		if i < len(m.watches)-1 {
			lines = append(lines, "")
		}
	}
	return renderPanel("WATCHES", strings.Join(lines, "\n"))
}

func stateLabel(w Watch) string {
	if w.Paused() {
		return "paused"
	}
	return w.State().String()
}

func stateStyle(w Watch) lipgloss.Style {
	if w.Paused() {
		return warningStyle
	}
	switch w.State() {
	case pipeline.StateIdle:
		return statusIdleStyle
	case pipeline.StateStopped:
		return statusFailedStyle
	default:
		return statusRunningStyle
	}
}

func (m Model) renderActivity() string {
	var total float64
	for _, v := range m.sent {
		total += v
	}
	spark := renderSparkline(normalizeToSparkline(m.sent, sparklineWidth), m.pulse)
	content := dotLeader("sent (last "+fmt.Sprint(len(m.sent))+" cycles)", formatCompact(int(total)), panelInnerWidth) +
		"\n  " + spark
	return renderPanel("ACTIVITY", content)
}

func (m Model) renderCycles() string {
	if len(m.cycles) == 0 {
		return renderPanel("RECENT CYCLES", "  Waiting for the first cycle...")
	}
	var lines []string
	for i := len(m.cycles) - 1; i >= 0; i-- {
		lines = append(lines, renderCycleLine(m.cycles[i]))
	}
	return renderPanel("RECENT CYCLES", strings.Join(lines, "\n"))
}

func renderCycleLine(r pipeline.CycleReport) string {
	icon, style := "✓", statusOKStyle
	switch {
	case r.FetchError != "":
		icon, style = "✗", statusFailedStyle
	case len(r.Failures) > 0:
		icon, style = "!", warningStyle
	}
	detail := fmt.Sprintf("fetched %d  sent %d  skipped %d", r.Fetched, r.Dispatched, r.Skipped)
	if r.DryRun {
		detail += "  (dry run)"
	}
	line := fmt.Sprintf("%s %s %s",
		r.FinishedAt.Format("15:04:05"),
		padOrTruncate(r.Watch, 12),
		detail)
	return " " + style.Render(icon) + " " + line
}

// renderPanel builds a panel manually with guaranteed width
// Structure: ╭─ TITLE ─...─╮ / │ (space) content (space) │ / ╰─...─╯
func renderPanel(title string, content string) string {
	lines := []string{buildTopBorder(title), buildEmptyLine()}
	for _, line := range strings.Split(content, "\n") {
		lines = append(lines, buildContentLine(line))
	}
	lines = append(lines, buildEmptyLine(), buildBottomBorder())
	return strings.Join(lines, "\n")
}

func buildTopBorder(title string) string {
	titleUpper := strings.ToUpper(title)
	prefix := "╭─ "
	prefixWidth := lipgloss.Width(prefix + titleUpper + " ")

	dashCount := panelTotalWidth - prefixWidth - 1 // -1 for ╮
	if dashCount < 0 {
		dashCount = 0
	}
	return borderStyle.Render(prefix) + labelStyle.Render(titleUpper) + borderStyle.Render(" "+strings.Repeat("─", dashCount)+"╮")
}

func buildBottomBorder() string {
	return borderStyle.Render("╰" + strings.Repeat("─", panelTotalWidth-2) + "╯")
}

func buildEmptyLine() string {
	border := borderStyle.Render("│")
	return border + strings.Repeat(" ", panelTotalWidth-2) + border
}

func buildContentLine(content string) string {
	border := borderStyle.Render("│")
	return border + " " + padOrTruncate(content, panelInnerWidth) + " " + border
}

// padOrTruncate ensures content is exactly targetWidth visual chars
func padOrTruncate(s string, targetWidth int) string {
	visualWidth := lipgloss.Width(s)
	switch {
	case visualWidth == targetWidth:
		return s
	case visualWidth > targetWidth:
		return truncateVisual(s, targetWidth)
	default:
		return s + strings.Repeat(" ", targetWidth-visualWidth)
	}
}

// truncateVisual truncates to targetWidth visual chars, ending in "...".
func truncateVisual(s string, targetWidth int) string {
	if lipgloss.Width(s) <= targetWidth {
		return s
	}
	if targetWidth <= 3 {
		return strings.Repeat(".", targetWidth)
	}

	var sb strings.Builder
	width := 0
	for _, r := range s {
		rw := lipgloss.Width(string(r))
		if width+rw > targetWidth-3 {
			break
		}
		sb.WriteRune(r)
		width += rw
	}
	// wide runes can leave a gap
	for ; width < targetWidth-3; width++ {
		sb.WriteByte(' ')
	}
	return sb.String() + "..."
}

// dotLeader creates a dot-leader line: "  Label .............. Value"
func dotLeader(label string, value string, totalWidth int) string {
	prefix := "  " + label + " "
	suffix := " " + value
	dotsNeeded := totalWidth - lipgloss.Width(prefix) - lipgloss.Width(suffix)
	if dotsNeeded < 3 {
		dotsNeeded = 3
	}
	return prefix + strings.Repeat(".", dotsNeeded) + suffix
}

// dotLeaderStyled is dotLeader with the value styled. Width is computed on
// the raw value.
func dotLeaderStyled(label string, value string, style lipgloss.Style, totalWidth int) string {
	prefix := "  " + label + " "
	dotsNeeded := totalWidth - lipgloss.Width(prefix) - lipgloss.Width(" "+value)
	if dotsNeeded < 3 {
		dotsNeeded = 3
	}
	return prefix + strings.Repeat(".", dotsNeeded) + " " + style.Render(value)
}

// formatCompact formats a number in compact form: 0, 999, 1.0K, 57.3K, 1.2M.
func formatCompact(n int) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1_000_000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
}

// formatDurationCompact formats a duration compactly (e.g., "2m30s", "1h5m").
func formatDurationCompact(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		if s == 0 {
			return fmt.Sprintf("%dm", m)
		}
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if m == 0 {
		return fmt.Sprintf("%dh", h)
	}
	return fmt.Sprintf("%dh%dm", h, m)
}

// normalizeToSparkline scales values to levels 1-8, right-aligned in width
// with level 0 as padding.
func normalizeToSparkline(values []float64, width int) []int {
	result := make([]int, width)
	if len(values) == 0 {
		return result
	}

	offset := width - len(values)
	if offset < 0 {
		values = values[len(values)-width:]
		offset = 0
	}

	minVal, maxVal := values[0], values[0]
	for _, v := range values[1:] {
		minVal = math.Min(minVal, v)
		maxVal = math.Max(maxVal, v)
	}

	span := maxVal - minVal
	if span == 0 {
		level := 1
		if values[0] > 0 {
			level = 4
		}
		for i := range values {
			result[offset+i] = level
		}
		return result
	}

	for i, v := range values {
		level := int(math.Round((v-minVal)/span*7)) + 1
		if v == 0 {
			level = 1
		}
		result[offset+i] = min(max(level, 1), 8)
	}
	return result
}

// renderSparkline maps levels to block runes and appends a pulse dot.
func renderSparkline(levels []int, pulsing bool) string {
	var b strings.Builder
	for _, idx := range levels {
		idx = min(max(idx, 0), len(sparkBlocks)-1)
		b.WriteRune(sparkBlocks[idx])
	}
	if pulsing {
		b.WriteRune('•')
	} else {
		b.WriteRune(' ')
	}
	return b.String()
}

// Program runs the dashboard and feeds it cycle reports.
type Program struct {
	p *tea.Program
}

// NewProgram creates a dashboard program on the alternate screen.
func NewProgram(version string, watches []Watch, opts ...tea.ProgramOption) *Program {
	opts = append([]tea.ProgramOption{tea.WithAltScreen()}, opts...)
	return &Program{p: tea.NewProgram(NewModel(version, watches...), opts...)}
}

// Publish forwards a finished cycle. Safe to call from any goroutine.
func (p *Program) Publish(r pipeline.CycleReport) {
	p.p.Send(CycleMsg(r))
}

// Run blocks until the user quits or Quit is called.
func (p *Program) Run() error {
	_, err := p.p.Run()
	return err
}

// Quit stops the program.
func (p *Program) Quit() {
	p.p.Quit()
}
