package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/njoerd114/itemrelay/internal/model"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true)
	syncedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	mutedStyle   = lipgloss.NewStyle().Faint(true)
	doneStyle    = lipgloss.NewStyle().Faint(true).Strikethrough(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
)

func ok(w io.Writer, msg string) {
	fmt.Fprintln(w, syncedStyle.Render("✓ "+msg))
}

func warn(w io.Writer, msg string) {
	fmt.Fprintln(w, warnStyle.Render("⚠ "+msg))
}

// statusLabel renders a sync status with its colour.
func statusLabel(s model.SyncStatus) string {
	if s == model.StatusSynced {
		return syncedStyle.Render(s.String())
	}
	return pendingStyle.Render(s.String())
}

// renderItems formats items as one line each: checkbox, short id, title, due
// date, priority, and sync status.
func renderItems(items []model.Item) string {
	if len(items) == 0 {
		return mutedStyle.Render("No items.")
	}

	width := 0
	for _, it := range items {
		width = max(width, lipgloss.Width(it.Title))
	}
	titleCol := lipgloss.NewStyle().Width(width + 2)

	var b strings.Builder
	for _, it := range items {
		box, title := "[ ]", it.Title
		if it.Completed {
			box, title = "[✓]", doneStyle.Render(title)
		}
		due := ""
		if it.DueDate != nil {
			due = "due " + it.DueDate.Local().Format("2006-01-02")
		}
		prio := ""
		if it.Priority != model.PriorityNone {
			prio = it.Priority.String()
		}
		fmt.Fprintf(&b, "%s %s %s %-14s %-6s %s\n",
			box,
			mutedStyle.Render(shortID(it.ID)),
			titleCol.Render(title),
			due,
			prio,
			statusLabel(it.Status),
		)
	}
	return strings.TrimRight(b.String(), "\n")
}

// shortID returns the last 8 characters of a UUID, which is its most
// distinctive part for time-ordered v7 keys.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[len(id)-8:]
}

// humanSize returns a human-readable file size string.
func humanSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
