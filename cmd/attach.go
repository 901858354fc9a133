package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/surge-downloader/odoo-images/internal/page"
)

var attachCmd = &cobra.Command{
	Use:   "attach",
	Short: "Add the download control to Odoo in a Chrome tab",
	Long: `attach opens a Chrome tab (or connects to one given by --remote-url) and adds a
"Download images" entry to the action menu of the product list view. Images are
fetched with the tab's session and saved locally.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings := settingsOrDefault()
		flags := cmd.Flags()
		if flags.Changed("remote-url") {
			settings.Browser.RemoteURL, _ = flags.GetString("remote-url")
		}
		if flags.Changed("headless") {
			settings.Browser.Headless, _ = flags.GetBool("headless")
		}
		if flags.Changed("url") {
			settings.Browser.StartURL, _ = flags.GetString("url")
		}

		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		// The tab supplies the host when none is configured
		backend, err := newLocalBackend(ctx, settings)
		if err != nil {
			return err
		}
		defer backend.Close()

		tabCtx, closeTab, err := page.Open(ctx, settings.Browser)
		if err != nil {
			return err
		}
		defer closeTab()

		sub, unsubscribe, err := backend.Service.StreamEvents(ctx)
		if err != nil {
			return err
		}
		defer unsubscribe()

		logSub, logUnsubscribe, _ := backend.Service.StreamEvents(ctx)
		defer logUnsubscribe()
		go logEvents(cmd.OutOrStdout(), logSub, backend.Saver.Location)

		fmt.Fprintln(cmd.ErrOrStderr(), "Attached. Open the product list in the browser; press Ctrl+C to stop.")

		in := page.New(backend.Service, settings.Odoo.PageMarker, columnsOf(settings))
		err = in.Run(tabCtx, sub)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	attachCmd.Flags().String("remote-url", "", "DevTools websocket URL of a running Chrome")
	attachCmd.Flags().Bool("headless", false, "Launch Chrome without a window")
	attachCmd.Flags().String("url", "", "Page to open, e.g. https://mycompany.odoo.com/odoo/action-product.product_template_action")
	rootCmd.AddCommand(attachCmd)
}
