package viz

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Styles are the lipgloss styles derived from a theme.
type Styles struct {
	Panel       lipgloss.Style
	Title       lipgloss.Style
	Header      lipgloss.Style
	Subtle      lipgloss.Style
	MetricLabel lipgloss.Style
	MetricValue lipgloss.Style
	KeyHint     lipgloss.Style
	TabActive   lipgloss.Style
	TabInactive lipgloss.Style
	OK          lipgloss.Style
	Warn        lipgloss.Style
	Bad         lipgloss.Style
}

func NewStyles(t Theme) Styles {
	return Styles{
		Panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(t.Border).
			Padding(0, 1),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(t.Primary),
		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(t.Text).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(t.Border),
		Subtle:      lipgloss.NewStyle().Foreground(t.Muted),
		MetricLabel: lipgloss.NewStyle().Foreground(t.Muted),
		MetricValue: lipgloss.NewStyle().Foreground(t.Secondary).Bold(true),
		KeyHint:     lipgloss.NewStyle().Foreground(t.Muted).Italic(true),
		TabActive: lipgloss.NewStyle().
			Bold(true).
			Foreground(t.Accent).
			Padding(0, 1),
		TabInactive: lipgloss.NewStyle().
			Foreground(t.Muted).
			Padding(0, 1),
		OK:   lipgloss.NewStyle().Bold(true).Foreground(t.Success),
		Warn: lipgloss.NewStyle().Bold(true).Foreground(t.Warning),
		Bad:  lipgloss.NewStyle().Bold(true).Foreground(t.Error),
	}
}

// Metric renders "label  value" with the label padded to width.
func (s Styles) Metric(label, value string, width int) string {
	pad := width - lipgloss.Width(label)
	if pad < 1 {
		pad = 1
	}
	return s.MetricLabel.Render(label) + strings.Repeat(" ", pad) + s.MetricValue.Render(value)
}

// Bar renders a fraction in [0, 1] as a bar of the given width.
func (s Styles) Bar(fraction float64, width int) string {
	filled := int(fraction*float64(width) + 0.5)
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return s.MetricValue.Render(strings.Repeat("█", filled)) + s.Subtle.Render(strings.Repeat("░", width-filled))
}

// Sparkline renders values on an eight-level scale, resampled to width.
func Sparkline(values []float64, width int) string {
	if len(values) == 0 || width < 1 {
		return strings.Repeat("─", max(width, 0))
	}

	chars := []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}
	lo, hi := values[0], values[0]
	for _, v := range values {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	rng := hi - lo
	if rng == 0 {
		rng = 1
	}

	n := min(width, len(values))
	var sb strings.Builder
	for i := 0; i < n; i++ {
		v := values[i*len(values)/n]
		idx := int((v - lo) * float64(len(chars)-1) / rng)
		sb.WriteRune(chars[max(0, min(idx, len(chars)-1))])
	}
	return sb.String()
}

func (s Styles) Separator(width int) string {
	if width < 8 {
		return s.Subtle.Render(strings.Repeat("─", max(width, 0)))
	}
	mid := width / 2
	return s.Subtle.Render(strings.Repeat("─", mid-3) + " ◆ " + strings.Repeat("─", width-mid-3))
}
