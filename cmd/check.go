package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/surge-downloader/odoo-images/internal/engine/fetch"
	"github.com/surge-downloader/odoo-images/internal/engine/types"
	"github.com/surge-downloader/odoo-images/internal/selection"
	"github.com/surge-downloader/odoo-images/internal/utils"
)

var checkCmd = &cobra.Command{
	Use:   "check <id>...",
	Short: "Check that the image endpoint answers with images",
	Long: `check requests the first bytes of each product's image and reports status,
content type and size. Use it to verify host, model, field and session settings
before a bulk download.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		settings := settingsOrDefault()
		if err := requireHost(settings); err != nil {
			return err
		}
		refs, err := selection.ParseRefs(args)
		if err != nil {
			return err
		}

		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		f := fetch.New(types.ConvertRuntimeConfig(settings.ToRuntimeConfig()))
		return checkRefs(ctx, cmd.OutOrStdout(), f, refs)
	},
}

// checkRefs probes every ref and fails if any of them is not served as an image
func checkRefs(ctx context.Context, w io.Writer, f *fetch.Fetcher, refs []types.ProductRef) error {
	bad := 0
	for _, ref := range refs {
		res, err := f.Probe(ctx, ref)
		if err != nil {
			bad++
			_, _ = fmt.Fprintf(w, "%s: %v\n", ref.ID, err)
			continue
		}
		if !res.IsImage {
			bad++
		}
		_, _ = fmt.Fprintf(w, "%s: %s\n", ref.ID, describeProbe(res))
	}
	if bad > 0 {
		return fmt.Errorf("%d of %d product(s) did not return an image", bad, len(refs))
	}
	return nil
}

func describeProbe(res *fetch.ProbeResult) string {
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fmt.Sprintf("HTTP %d %s", res.StatusCode, http.StatusText(res.StatusCode))
	}
	size := "unknown size"
	if res.Size >= 0 {
		size = utils.ConvertBytesToHumanReadable(res.Size)
	}
	kind := res.Extension
	if !res.IsImage {
		kind = "not an image"
	}
	return fmt.Sprintf("HTTP %d, %s (%s), %s", res.StatusCode, res.ContentType, kind, size)
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
