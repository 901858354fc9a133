package tui

import (
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/surge-downloader/odoo-images/internal/config"
	"github.com/surge-downloader/odoo-images/internal/engine/events"
	"github.com/surge-downloader/odoo-images/internal/engine/types"
)

type UIState int

const (
	JobState      UIState = iota // Progress card
	NoticeState                  // Blocking notice on top of the card
	SettingsState                // Read-only settings browser
)

// busClosedMsg is delivered when the event subscription ends
type busClosedMsg struct{}

// JobModel is the job as seen by the UI
type JobModel struct {
	ID        string
	Items     []types.ProductRef
	Percent   float64
	Phase     events.Phase
	Completed int
	Total     int
	Failed    []events.ItemFailedMsg
	Status    types.JobStatus
	Output    string // Location of the saved artifact
	Saved     int
	Err       error
	StartTime time.Time
	Elapsed   time.Duration

	// visible mirrors the in-page progress indicator: shown on start, removed on reset
	visible bool
}

type RootModel struct {
	width  int
	height int
	state  UIState

	events <-chan any
	job    JobModel

	notices []events.NoticeMsg
	flash   string

	progress progress.Model

	Settings            *config.Settings
	SettingsActiveTab   int
	SettingsSelectedRow int

	// locate turns a saved key into something the user can open
	locate func(key string) string
	// copy writes to the system clipboard
	copy func(string) error

	// quitOnReset ends the program once the job is over and every notice was seen
	quitOnReset bool
	finished    bool
}

// Option customises the root model
type Option func(*RootModel)

// WithLocator sets how saved keys are displayed
func WithLocator(fn func(key string) string) Option {
	return func(m *RootModel) {
		m.locate = fn
	}
}

// WithQuitOnReset ends the program after the first job is over
func WithQuitOnReset() Option {
	return func(m *RootModel) {
		m.quitOnReset = true
	}
}

// WithClipboard replaces the clipboard writer
func WithClipboard(fn func(string) error) Option {
	return func(m *RootModel) {
		m.copy = fn
	}
}

// InitialRootModel builds the UI around an event subscription
func InitialRootModel(sub <-chan any, settings *config.Settings, opts ...Option) RootModel {
	if settings == nil {
		settings = config.DefaultSettings()
	}
	m := RootModel{
		events:   sub,
		state:    JobState,
		progress: progress.New(progress.WithDefaultGradient()),
		Settings: settings,
		locate:   func(key string) string { return key },
		copy:     clipboard.WriteAll,
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

func (m RootModel) Init() tea.Cmd {
	return listenForActivity(m.events)
}

func listenForActivity(sub <-chan any) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-sub
		if !ok {
			return busClosedMsg{}
		}
		return msg
	}
}

// Job returns the job as currently displayed
func (m RootModel) Job() JobModel {
	return m.job
}

// Notices returns the notices not yet dismissed
func (m RootModel) Notices() []events.NoticeMsg {
	return m.notices
}

// State returns the active screen
func (m RootModel) State() UIState {
	return m.state
}
