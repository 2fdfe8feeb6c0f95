// Package viz renders batch reports in the terminal.
//
//   - [HistogramPlot] and [SurvivalPlot]: asciigraph line plots
//   - [Styles]: lipgloss styles built from a [Theme]
//   - [Viewer]: a Bubble Tea model that pages through a report
//
// # Key Bindings
//
//	Tab, ←/→ - Switch tab
//	1-4      - Jump to tab
//	T        - Cycle color themes
//	Q, Esc   - Quit
package viz
