package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/surge-downloader/odoo-images/internal/config"
	"github.com/surge-downloader/odoo-images/internal/tui"
	"github.com/surge-downloader/odoo-images/internal/utils"
)

// Version information - set via ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// Globals filled by PersistentPreRunE
var (
	globalSettings *config.Settings
	logCleanup     func()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "odoo-images",
	Short: "Bulk-download product images from Odoo",
	Long: `odoo-images downloads the images of the products selected in an Odoo list view.
One product is saved as <barcode>.jpg, several are bundled into urunler.zip.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings(cmd)
		if err != nil {
			return err
		}
		globalSettings = settings

		verbose, _ := cmd.Flags().GetBool("verbose")
		cleanup, err := utils.ConfigureDebug(config.GetLogsDir(), verbose)
		if err != nil {
			// Logging is best effort
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
			cleanup = func() {}
		}
		logCleanup = cleanup

		tui.ApplyTheme(settings.General.Theme)
		utils.Debug("odoo-images %s (%s) starting: %s", Version, BuildTime, cmd.CommandPath())
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCleanup != nil {
			logCleanup()
			logCleanup = nil
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate("odoo-images {{.Version}}\n")

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Settings file (default: "+config.GetSettingsPath()+")")
	flags.String("host", "", "Odoo base URL, e.g. https://mycompany.odoo.com")
	flags.StringP("output", "o", "", "Directory images and archives are saved to")
	flags.String("bucket", "", "Blob bucket URL to save to instead (file://, s3://, gs://, mem://)")
	flags.Bool("no-tui", false, "Print a progress bar instead of the interactive UI")
	flags.BoolP("verbose", "v", false, "Write debug output to stderr")
}

// loadSettings reads the settings file and applies flag overrides
func loadSettings(cmd *cobra.Command) (*config.Settings, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = config.GetSettingsPath()
	}
	settings, err := config.LoadSettingsFrom(path)
	if err != nil {
		return nil, err
	}
	applyFlagOverrides(cmd, settings)
	return settings, nil
}

func applyFlagOverrides(cmd *cobra.Command, s *config.Settings) {
	flags := cmd.Flags()
	if flags.Changed("host") {
		host, _ := flags.GetString("host")
		s.Odoo.Host = strings.TrimRight(strings.TrimSpace(host), "/")
	}
	if flags.Changed("output") {
		s.General.OutputDir, _ = flags.GetString("output")
	}
	if flags.Changed("bucket") {
		s.General.BucketURL, _ = flags.GetString("bucket")
	}
}

// settingsOrDefault is used by code paths that may run without PersistentPreRunE (tests)
func settingsOrDefault() *config.Settings {
	if globalSettings != nil {
		return globalSettings
	}
	return config.DefaultSettings()
}
