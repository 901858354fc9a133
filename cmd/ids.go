package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/surge-downloader/odoo-images/internal/engine/types"
	"github.com/surge-downloader/odoo-images/internal/orchestrator"
	"github.com/surge-downloader/odoo-images/internal/selection"
)

var idsCmd = &cobra.Command{
	Use:   "ids <id[:label]>...",
	Short: "Download the images of products given by ID",
	Long: `ids downloads the images of explicitly listed products. Each argument is a
product ID, optionally followed by ":" and the label used as file name.`,
	Example: `  odoo-images ids 42:8690000000017 43
  odoo-images ids --file products.txt`,
	RunE: func(cmd *cobra.Command, args []string) error {
		refs, err := collectRefs(cmd, args)
		if err != nil {
			return err
		}
		return runLocalJob(cmd, orchestrator.Refs(refs))
	},
}

// collectRefs merges positional refs with those of --file
func collectRefs(cmd *cobra.Command, args []string) ([]types.ProductRef, error) {
	tokens := append([]string(nil), args...)

	file, _ := cmd.Flags().GetString("file")
	if file != "" {
		lines, err := readRefsFromFile(file)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, lines...)
	}

	refs, err := selection.ParseRefs(tokens)
	if errors.Is(err, selection.ErrNoSelection) {
		return nil, errors.New("no products given: pass <id[:label]> arguments or --file")
	}
	return refs, err
}

func init() {
	idsCmd.Flags().StringP("file", "f", "", "File with one id[:label] per line (# starts a comment)")
	rootCmd.AddCommand(idsCmd)
}
