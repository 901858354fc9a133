package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/surge-downloader/odoo-images/internal/engine/events"
	"github.com/surge-downloader/odoo-images/internal/engine/types"
)

func (m RootModel) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	switch m.state {
	case SettingsState:
		return m.viewSettings()
	case NoticeState:
		if len(m.notices) > 0 {
			return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, renderNotice(m.notices[0], len(m.notices)))
		}
	}

	width := CardWidth
	if m.width-4 < width {
		width = m.width - 4
	}

	content := m.renderJob(width - 4)
	height := lipgloss.Height(content) + 2
	if height < CardMinHeight {
		height = CardMinHeight
	}

	box := renderBtopBox("Product Images", lipgloss.NewStyle().Padding(0, 1).Render(content), width, height, statusColor(m.job), false)
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box)
}

func (m RootModel) renderJob(width int) string {
	j := m.job
	lines := []string{""}

	if j.ID == "" {
		lines = append(lines, SubtextStyle.Render("Waiting for a download to start..."))
	} else {
		lines = append(lines, TitleStyle.Render(statusLine(j)))
		lines = append(lines, "")

		if j.visible {
			lines = append(lines, m.progress.View())
		} else {
			lines = append(lines, SubtextStyle.Render(strings.Repeat("·", max(width-2, 1))))
		}

		stats := fmt.Sprintf("%d/%d products", j.Completed, j.Total)
		if j.Elapsed > 0 {
			stats += "  •  " + j.Elapsed.Round(time.Millisecond*100).String()
		}
		if len(j.Failed) > 0 {
			stats += "  •  " + ErrorStyle.Render(fmt.Sprintf("%d failed", len(j.Failed)))
		}
		lines = append(lines, SubtextStyle.Render(stats))

		if len(j.Failed) > 0 {
			lines = append(lines, "")
			for i, f := range j.Failed {
				if i == MaxFailedLines {
					lines = append(lines, SubtextStyle.Render(fmt.Sprintf("  ... and %d more", len(j.Failed)-MaxFailedLines)))
					break
				}
				lines = append(lines, ErrorStyle.Render("  ✗ ")+TextStyle.Render(truncateString(fmt.Sprintf("%s: %v", f.Ref.Name(), f.Err), width-6)))
			}
		}

		switch j.Status {
		case types.StatusCompleted:
			lines = append(lines, "")
			if j.Output != "" {
				lines = append(lines, SuccessStyle.Render("✓ Saved ")+TextStyle.Render(truncateString(j.Output, width-10)))
			} else {
				lines = append(lines, WarningStyle.Render("Nothing was saved"))
			}
		case types.StatusFailed:
			lines = append(lines, "")
			msg := "Download failed"
			if j.Err != nil {
				msg += ": " + j.Err.Error()
			}
			lines = append(lines, ErrorStyle.Render(truncateString(msg, width)))
		}
	}

	lines = append(lines, "")
	if m.flash != "" {
		lines = append(lines, SubtextStyle.Render(truncateString(m.flash, width)))
	}
	lines = append(lines, HelpStyle.Render("[C] Copy path  [S] Settings  [Q] Quit"))
	return strings.Join(lines, "\n")
}

// statusLine is the text shown above the bar, e.g. "Processing... (45%)"
func statusLine(j JobModel) string {
	switch j.Status {
	case types.StatusCompleted:
		return fmt.Sprintf("Done (%d%%)", int(j.Percent))
	case types.StatusFailed:
		return "Failed"
	}
	if j.Phase == events.PhaseArchive {
		return fmt.Sprintf("Compressing... (%d%%)", int(j.Percent))
	}
	return fmt.Sprintf("Processing... (%d%%)", int(j.Percent))
}

func statusColor(j JobModel) lipgloss.Color {
	switch j.Status {
	case types.StatusCompleted:
		return ColorSuccess
	case types.StatusFailed:
		return ColorError
	case types.StatusRunning:
		return ColorNeonPink
	}
	return ColorGray
}

func renderNotice(n events.NoticeMsg, pending int) string {
	titleStyle := WarningStyle
	title := "⚠ NOTICE"
	switch n.Kind {
	case events.NoticeError:
		titleStyle = ErrorStyle
		title = "✗ ERROR"
	case events.NoticeInfo:
		titleStyle = TitleStyle
		title = "ℹ INFO"
	}

	hint := "[Enter] OK"
	if pending > 1 {
		hint = fmt.Sprintf("[Enter] OK (%d more)", pending-1)
	}

	content := lipgloss.JoinVertical(lipgloss.Center,
		titleStyle.Render(title),
		"",
		lipgloss.NewStyle().Foreground(ColorText).Width(50).Align(lipgloss.Center).Render(n.Text),
		"",
		HelpStyle.Render(hint),
	)

	return lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(titleStyle.GetForeground()).
		Padding(PopupPaddingY, PopupPaddingX).
		Render(content)
}

func truncateString(s string, i int) string {
	if i <= 3 {
		return s
	}
	runes := []rune(s)
	if len(runes) > i {
		return string(runes[:i-3]) + "..."
	}
	return s
}

// renderBtopBox creates a btop-style box with title embedded in the top border
// titleRight: if true, title appears on the right side; if false, title appears on the left
// Example (left):  ╭─ TITLE ─────────────────────────────────╮
// Example (right): ╭─────────────────────────────────── TITLE ─╮
func renderBtopBox(title string, content string, width, height int, borderColor lipgloss.Color, titleRight bool) string {
	// Border characters
	const (
		topLeft     = "╭"
		topRight    = "╮"
		bottomLeft  = "╰"
		bottomRight = "╯"
		horizontal  = "─"
		vertical    = "│"
	)

	innerWidth := width - 2 // Account for left and right borders
	if innerWidth < 1 {
		innerWidth = 1
	}

	// Build top border with embedded title
	titleText := fmt.Sprintf(" %s ", title)
	titleLen := len(titleText)
	remainingWidth := innerWidth - titleLen - 1 // -1 for the dash after topLeft
	if remainingWidth < 0 {
		remainingWidth = 0
	}

	var topBorder string
	if titleRight {
		// Title on the right: ╭─────────────────────────────────── TITLE ─╮
		topBorder = lipgloss.NewStyle().Foreground(borderColor).Render(topLeft+strings.Repeat(horizontal, remainingWidth)) +
			lipgloss.NewStyle().Foreground(ColorNeonCyan).Bold(true).Render(titleText) +
			lipgloss.NewStyle().Foreground(borderColor).Render(horizontal+topRight)
	} else {
		// Title on the left: ╭─ TITLE ─────────────────────────────────╮
		topBorder = lipgloss.NewStyle().Foreground(borderColor).Render(topLeft+horizontal) +
			lipgloss.NewStyle().Foreground(ColorNeonCyan).Bold(true).Render(titleText) +
			lipgloss.NewStyle().Foreground(borderColor).Render(strings.Repeat(horizontal, remainingWidth)) +
			lipgloss.NewStyle().Foreground(borderColor).Render(topRight)
	}

	// Build bottom border: ╰───────────────────╯
	bottomBorder := lipgloss.NewStyle().Foreground(borderColor).Render(
		bottomLeft + strings.Repeat(horizontal, innerWidth) + bottomRight,
	)

	// Style for vertical borders
	borderStyle := lipgloss.NewStyle().Foreground(borderColor)

	// Wrap content lines with vertical borders
	contentLines := strings.Split(content, "\n")
	innerHeight := height - 2 // Account for top and bottom borders

	var wrappedLines []string
	for i := 0; i < innerHeight; i++ {
		var line string
		if i < len(contentLines) {
			line = contentLines[i]
		} else {
			line = ""
		}
		// Pad or truncate line to fit innerWidth
		lineWidth := lipgloss.Width(line)
		if lineWidth < innerWidth {
			line = line + strings.Repeat(" ", innerWidth-lineWidth)
		} else if lineWidth > innerWidth {
			// Truncate (simplified - just take first innerWidth chars)
			runes := []rune(line)
			if len(runes) > innerWidth {
				line = string(runes[:innerWidth])
			}
		}
		wrappedLines = append(wrappedLines, borderStyle.Render(vertical)+line+borderStyle.Render(vertical))
	}

	// Combine all parts
	return lipgloss.JoinVertical(lipgloss.Left,
		topBorder,
		strings.Join(wrappedLines, "\n"),
		bottomBorder,
	)
}
