package viz

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/san-kum/endstat/internal/aggregate"
	"github.com/san-kum/endstat/internal/analysis"
	"github.com/san-kum/endstat/internal/hist"
)

// Line is one labelled value of the summary tab.
type Line struct {
	Label string
	Value string
}

// Report is what the viewer shows.
type Report struct {
	Title        string
	Lines        []Line
	Polarization hist.Histogram
	Curve        *analysis.Curve
	Fit          *analysis.Fit
	Stops        []aggregate.StopCount
	MissedRuns   []int
}

type tab int

const (
	tabSummary tab = iota
	tabPolarization
	tabSurvival
	tabStops
)

var tabNames = map[tab]string{
	tabSummary:      "summary",
	tabPolarization: "polarization",
	tabSurvival:     "survival",
	tabStops:        "stops",
}

// Viewer is a bubbletea model paging through a report.
type Viewer struct {
	rep      Report
	tabs     []tab
	active   int
	themeIdx int
	styles   Styles
	width    int
	height   int
}

func NewViewer(rep Report, theme string) Viewer {
	v := Viewer{rep: rep, width: 80, height: 24}
	v.tabs = []tab{tabSummary, tabPolarization}
	if rep.Curve != nil {
		v.tabs = append(v.tabs, tabSurvival)
	}
	if len(rep.Stops) > 0 {
		v.tabs = append(v.tabs, tabStops)
	}
	for i, t := range Themes {
		if t.Name == theme {
			v.themeIdx = i
		}
	}
	v.styles = NewStyles(Themes[v.themeIdx])
	return v
}

// Run shows rep until the user quits.
func Run(rep Report, theme string) error {
	_, err := tea.NewProgram(NewViewer(rep, theme), tea.WithAltScreen()).Run()
	return err
}

func (v Viewer) Init() tea.Cmd { return nil }

func (v Viewer) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		v.width, v.height = msg.Width, msg.Height
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return v, tea.Quit
		case "tab", "right", "l":
			v.active = (v.active + 1) % len(v.tabs)
		case "shift+tab", "left", "h":
			v.active = (v.active + len(v.tabs) - 1) % len(v.tabs)
		case "t":
			v.themeIdx = (v.themeIdx + 1) % len(Themes)
			v.styles = NewStyles(Themes[v.themeIdx])
		default:
			if k := msg.String(); len(k) == 1 && k[0] >= '1' && k[0] <= '9' {
				if i := int(k[0] - '1'); i < len(v.tabs) {
					v.active = i
				}
			}
		}
	}
	return v, nil
}

func (v Viewer) Active() string { return tabNames[v.tabs[v.active]] }

func (v Viewer) View() string {
	var sb strings.Builder
	title := v.rep.Title
	if title == "" {
		title = "endstat"
	}
	sb.WriteString(v.styles.Header.Render(title))
	sb.WriteString("\n")
	sb.WriteString(v.tabBar())
	sb.WriteString("\n\n")

	plotW := max(v.width-16, 20)
	plotH := max(v.height-12, 5)
	switch v.tabs[v.active] {
	case tabSummary:
		sb.WriteString(v.summary())
	case tabPolarization:
		sb.WriteString(HistogramPlot(v.rep.Polarization, plotW, plotH, "end polarization"))
	case tabSurvival:
		sb.WriteString(SurvivalPlot(*v.rep.Curve, v.rep.Fit, plotW, plotH))
		if f := v.rep.Fit; f != nil {
			sb.WriteString("\n\n")
			sb.WriteString(v.styles.Metric("lifetime", fmt.Sprintf("%.4g ± %.2g s", f.B, f.BErr), 12))
		}
	case tabStops:
		sb.WriteString(v.stops())
	}

	sb.WriteString("\n\n")
	sb.WriteString(v.styles.KeyHint.Render(fmt.Sprintf("tab/←→ switch · 1-%d jump · t theme (%s) · q quit", len(v.tabs), Themes[v.themeIdx].Name)))
	return sb.String()
}

func (v Viewer) tabBar() string {
	parts := make([]string, len(v.tabs))
	for i, t := range v.tabs {
		label := fmt.Sprintf("%d %s", i+1, tabNames[t])
		if i == v.active {
			parts[i] = v.styles.TabActive.Render(label)
		} else {
			parts[i] = v.styles.TabInactive.Render(label)
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func (v Viewer) summary() string {
	width := 0
	for _, l := range v.rep.Lines {
		width = max(width, lipgloss.Width(l.Label))
	}
	lines := make([]string, 0, len(v.rep.Lines)+2)
	for _, l := range v.rep.Lines {
		lines = append(lines, v.styles.Metric(l.Label, l.Value, width+2))
	}
	if len(v.rep.MissedRuns) > 0 {
		lines = append(lines, v.styles.Warn.Render(fmt.Sprintf("missed runs: %v", v.rep.MissedRuns)))
	}
	lines = append(lines, v.styles.Separator(60), v.styles.Subtle.Render(Sparkline(v.rep.Polarization.Floats(), 60)))
	return v.styles.Panel.Render(strings.Join(lines, "\n"))
}

func (v Viewer) stops() string {
	var total int64
	for _, s := range v.rep.Stops {
		total += s.Count
	}
	lines := make([]string, 0, len(v.rep.Stops))
	for _, s := range v.rep.Stops {
		frac := float64(s.Count) / float64(max(total, 1))
		lines = append(lines, fmt.Sprintf("%4d  %-36s %10d  %s %5.1f%%",
			int(s.Stop), s.Stop.String(), s.Count, v.styles.Bar(frac, 20), 100*frac))
	}
	return v.styles.Panel.Render(strings.Join(lines, "\n"))
}
