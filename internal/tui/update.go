package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/surge-downloader/odoo-images/internal/config"
	"github.com/surge-downloader/odoo-images/internal/engine/events"
	"github.com/surge-downloader/odoo-images/internal/engine/types"
	"github.com/surge-downloader/odoo-images/internal/utils"
)

// Update handles messages and updates the model
func (m RootModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case events.JobStartedMsg:
		m.job = JobModel{
			ID:        msg.JobID,
			Status:    types.StatusRunning,
			StartTime: time.Now(),
			visible:   true,
		}
		m.finished = false
		m.flash = ""
		cmds = append(cmds, m.progress.SetPercent(0), listenForActivity(m.events))

	case events.SelectionMsg:
		if msg.JobID == m.job.ID {
			m.job.Items = msg.Items
			m.job.Total = len(msg.Items)
		}
		cmds = append(cmds, listenForActivity(m.events))

	case events.ProgressMsg:
		if msg.JobID == m.job.ID {
			m.job.Percent = msg.Percent
			m.job.Phase = msg.Phase
			if msg.Total > 0 {
				m.job.Completed = msg.Completed
				m.job.Total = msg.Total
			}
			m.job.Elapsed = time.Since(m.job.StartTime)
			cmds = append(cmds, m.progress.SetPercent(msg.Percent/100))
		}
		cmds = append(cmds, listenForActivity(m.events))

	case events.ItemFailedMsg:
		if msg.JobID == m.job.ID {
			m.job.Failed = append(m.job.Failed, msg)
		}
		cmds = append(cmds, listenForActivity(m.events))

	case events.JobCompleteMsg:
		if msg.JobID == m.job.ID {
			m.job.Status = types.StatusCompleted
			m.job.Saved = msg.Saved
			m.job.Elapsed = msg.Elapsed
			if msg.Output != "" {
				m.job.Output = m.locate(msg.Output)
			}
		}
		cmds = append(cmds, listenForActivity(m.events))

	case events.JobErrorMsg:
		if msg.JobID == m.job.ID {
			m.job.Status = types.StatusFailed
			m.job.Err = msg.Err
			m.job.Elapsed = time.Since(m.job.StartTime)
		}
		cmds = append(cmds, listenForActivity(m.events))

	case events.NoticeMsg:
		m.notices = append(m.notices, msg)
		if m.state == JobState {
			m.state = NoticeState
		}
		cmds = append(cmds, listenForActivity(m.events))

	case events.JobResetMsg:
		if msg.JobID == m.job.ID {
			m.job.visible = false
			m.finished = true
		}
		if m.shouldQuit() {
			return m, tea.Quit
		}
		cmds = append(cmds, listenForActivity(m.events))

	case busClosedMsg:
		utils.Debug("TUI: event stream closed")
		return m, tea.Quit

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.progress.Width = progressWidth(msg.Width)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case progress.FrameMsg:
		newModel, cmd := m.progress.Update(msg)
		if p, ok := newModel.(progress.Model); ok {
			m.progress = p
		}
		return m, cmd
	}

	return m, tea.Batch(cmds...)
}

func (m RootModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "ctrl+c" {
		return m, tea.Quit
	}

	switch m.state {
	case NoticeState:
		if key == "enter" || key == "esc" || key == " " {
			if len(m.notices) > 0 {
				m.notices = m.notices[1:]
			}
			if len(m.notices) == 0 {
				m.state = JobState
				if m.shouldQuit() {
					return m, tea.Quit
				}
			}
		}
		return m, nil

	case SettingsState:
		categories := config.CategoryOrder()
		switch key {
		case "esc", "s", "q":
			m.state = JobState
			if len(m.notices) > 0 {
				m.state = NoticeState
			}
		case "left", "h":
			if m.SettingsActiveTab > 0 {
				m.SettingsActiveTab--
				m.SettingsSelectedRow = 0
			}
		case "right", "l", "tab":
			if m.SettingsActiveTab < len(categories)-1 {
				m.SettingsActiveTab++
				m.SettingsSelectedRow = 0
			}
		case "up", "k":
			if m.SettingsSelectedRow > 0 {
				m.SettingsSelectedRow--
			}
		case "down", "j":
			if m.SettingsSelectedRow < m.getSettingsCount()-1 {
				m.SettingsSelectedRow++
			}
		case "1", "2", "3", "4":
			if tab := int(key[0] - '1'); tab < len(categories) {
				m.SettingsActiveTab = tab
				m.SettingsSelectedRow = 0
			}
		}
		return m, nil
	}

	switch key {
	case "q":
		return m, tea.Quit
	case "s":
		m.state = SettingsState
	case "c":
		if m.job.Output == "" {
			m.flash = "Nothing saved yet"
			return m, nil
		}
		if err := m.copy(m.job.Output); err != nil {
			utils.Debug("TUI: clipboard write failed: %v", err)
			m.flash = "Clipboard unavailable"
		} else {
			m.flash = "Copied " + m.job.Output
		}
	}
	return m, nil
}

func (m RootModel) shouldQuit() bool {
	return m.quitOnReset && m.finished && len(m.notices) == 0
}

func progressWidth(termWidth int) int {
	w := CardWidth
	if termWidth > 0 && termWidth-4 < w {
		w = termWidth - 4
	}
	w -= ProgressBarWidthOffset
	if w < 10 {
		w = 10
	}
	return w
}
