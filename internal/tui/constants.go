package tui

const (
	// Layout
	CardWidth              = 72
	CardMinHeight          = 12
	ProgressBarWidthOffset = 6
	DefaultPaddingX        = 1
	DefaultPaddingY        = 0
	PopupPaddingY          = 1
	PopupPaddingX          = 3

	// Lines of failed items shown under the progress bar
	MaxFailedLines = 5

	SettingsWidth  = 70
	SettingsHeight = 18
)
