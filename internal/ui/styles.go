// Package ui holds the terminal styles and render helpers shared by the
// CLI commands.
package ui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/prefsync/prefsync/internal/userdata"
)

var (
	// Colors
	Primary = lipgloss.Color("#7C3AED") // Purple
	Success = lipgloss.Color("#10B981") // Green
	Muted   = lipgloss.Color("#6B7280") // Gray
	Warning = lipgloss.Color("#F59E0B") // Amber
	Danger  = lipgloss.Color("#EF4444") // Red

	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(Primary)

	Label = lipgloss.NewStyle().
		Foreground(Muted)

	OK = lipgloss.NewStyle().
		Foreground(Success).
		Bold(true)

	Warn = lipgloss.NewStyle().
		Foreground(Warning).
		Bold(true)

	Fail = lipgloss.NewStyle().
		Foreground(Danger).
		Bold(true)

	SourceName = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#60A5FA")) // Blue

	Dim = lipgloss.NewStyle().
		Foreground(Muted).
		Italic(true)
)

// RenderPass renders text in the success style.
func RenderPass(s string) string { return OK.Render(s) }

// RenderWarn renders text in the warning style.
func RenderWarn(s string) string { return Warn.Render(s) }

// RenderFail renders text in the failure style.
func RenderFail(s string) string { return Fail.Render(s) }

// RenderAccent renders text in the accent style.
func RenderAccent(s string) string { return Title.Render(s) }

// StatusStyle returns the style matching an aggregate sync status.
func StatusStyle(status userdata.SyncStatus) lipgloss.Style {
	switch status {
	case userdata.StatusIdle:
		return OK
	case userdata.StatusSyncing:
		return Warn
	case userdata.StatusHasConflicts:
		return Fail
	default:
		return Dim
	}
}

// RenderStatus renders an aggregate status as a colored word.
func RenderStatus(status userdata.SyncStatus) string {
	return StatusStyle(status).Render(status.String())
}

// RenderSourceStatus renders one synchroniser's line for the status view.
func RenderSourceStatus(src userdata.SyncSource, status userdata.SyncStatus) string {
	return fmt.Sprintf("  %s %s",
		SourceName.Width(14).Render(string(src)),
		StatusStyle(status).Render(status.String()))
}

// RenderError renders a per-resource sync failure.
func RenderError(src userdata.SyncSource, err error) string {
	return fmt.Sprintf("  %s %s",
		SourceName.Width(14).Render(string(src)),
		Fail.Render(err.Error()))
}

// RenderLastSync renders the last successful sync time, or a placeholder
// when the store has never fully synced.
func RenderLastSync(at time.Time, ok bool) string {
	if !ok {
		return Dim.Render("never")
	}
	return Label.Render(at.Local().Format("2006-01-02 15:04:05"))
}
