package cmd

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/surge-downloader/odoo-images/internal/tui"
)

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Watch the jobs of a running odoo-images serve in the TUI",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := remoteServiceFromFlags(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = svc.Shutdown() }()

		fmt.Fprintf(cmd.ErrOrStderr(), "Connected to %s\n", svc.BaseURL)

		stream, cleanup, err := svc.StreamEvents(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to start event stream: %w", err)
		}
		defer cleanup()

		m := tui.InitialRootModel(stream, settingsOrDefault())
		if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
			return fmt.Errorf("run TUI: %w", err)
		}
		return nil
	},
}

func init() {
	addRemoteFlags(connectCmd)
	rootCmd.AddCommand(connectCmd)
}
