package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/surge-downloader/odoo-images/internal/engine/types"
	"github.com/surge-downloader/odoo-images/internal/selection"
)

var getCmd = &cobra.Command{
	Use:   "get [page.html|-]",
	Short: "Download the images of the rows selected in a saved list view",
	Long: `get reads the HTML of an Odoo product list view (a saved page, or stdin with "-")
and downloads the image of every selected row.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		src := "-"
		if len(args) == 1 {
			src = args[0]
		}
		doc, err := readPage(cmd.InOrStdin(), src)
		if err != nil {
			return err
		}

		cols := columnsOf(settingsOrDefault())
		return runLocalJob(cmd, func(context.Context) ([]types.ProductRef, error) {
			return selection.Extract(strings.NewReader(doc), cols)
		})
	},
}

// readPage returns the page HTML from a file or, for "-", from stdin
func readPage(stdin io.Reader, src string) (string, error) {
	if src == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return "", fmt.Errorf("failed to open page: %w", err)
	}
	return string(data), nil
}

func init() {
	rootCmd.AddCommand(getCmd)
}
