// Package replay renders a task's checkpoint and event trail for
// forensic inspection.
package replay

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8")) // Gray - timestamps, metadata

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("15"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15"))

	// Checkpoints - Blue
	checkpointStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12"))

	// Approvals - Cyan
	approvalStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("14"))

	// State transitions - Magenta
	stateStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("13"))

	// Outcomes
	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	// Timeline
	seqStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8")).
			Width(5).
			Align(lipgloss.Right)

	divider = lipgloss.NewStyle().
		Foreground(lipgloss.Color("8")).
		Render(strings.Repeat("━", 60))
)
