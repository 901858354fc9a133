package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/surge-downloader/odoo-images/internal/config"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show the effective settings",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		printSettings(cmd.OutOrStdout(), settingsOrDefault())
	},
}

var settingsInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the effective settings to the settings file",
	Long: `init writes the current settings, including --host/--output/--bucket overrides,
to ` + config.GetSettingsPath() + `. An existing file is kept unless --force is given.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		path := config.GetSettingsPath()
		if _, err := os.Stat(path); err == nil && !force {
			return errors.New(path + " already exists (use --force to overwrite)")
		}
		if err := config.EnsureDirs(); err != nil {
			return fmt.Errorf("create app dirs: %w", err)
		}
		if err := config.SaveSettings(settingsOrDefault()); err != nil {
			return fmt.Errorf("save settings: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

// printSettings lists every setting as key = value, grouped by category
func printSettings(w io.Writer, s *config.Settings) {
	metadata := config.GetSettingsMetadata()
	for i, category := range config.CategoryOrder() {
		if i > 0 {
			_, _ = fmt.Fprintln(w)
		}
		_, _ = fmt.Fprintf(w, "[%s]\n", category)
		for _, meta := range metadata[category] {
			value, _ := s.Value(meta.Key)
			_, _ = fmt.Fprintf(w, "%s = %v\n", meta.Key, value)
		}
	}
}

func init() {
	settingsInitCmd.Flags().Bool("force", false, "Overwrite an existing settings file")
	settingsCmd.AddCommand(settingsInitCmd)
	rootCmd.AddCommand(settingsCmd)
}
