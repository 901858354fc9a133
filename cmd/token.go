package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/surge-downloader/odoo-images/internal/config"
	"github.com/surge-downloader/odoo-images/internal/utils"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print the auth token used by odoo-images serve",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), ensureAuthToken())
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
}

func tokenFile() string {
	return filepath.Join(config.GetRuntimeDir(), "token")
}

// readAuthToken returns the stored token, or "" when none exists yet
func readAuthToken() string {
	data, err := os.ReadFile(tokenFile())
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// ensureAuthToken returns the stored token, creating one on first use
func ensureAuthToken() string {
	if token := readAuthToken(); token != "" {
		return token
	}

	token := uuid.NewString()
	if err := os.MkdirAll(config.GetRuntimeDir(), 0o755); err != nil {
		utils.Debug("Error creating runtime dir: %v", err)
		return token
	}
	if err := os.WriteFile(tokenFile(), []byte(token), 0o600); err != nil {
		utils.Debug("Error writing token file: %v", err)
	}
	return token
}
