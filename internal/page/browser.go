package page

import (
	"context"
	"fmt"

	"github.com/chromedp/chromedp"

	"github.com/surge-downloader/odoo-images/internal/config"
	"github.com/surge-downloader/odoo-images/internal/utils"
)

// Open connects to a running Chrome (RemoteURL) or launches one, and returns
// the context of a fresh tab. StartURL is opened when set.
func Open(ctx context.Context, cfg config.BrowserSettings) (context.Context, context.CancelFunc, error) {
	var (
		allocCtx    context.Context
		cancelAlloc context.CancelFunc
	)
	if cfg.RemoteURL != "" {
		allocCtx, cancelAlloc = chromedp.NewRemoteAllocator(ctx, cfg.RemoteURL)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:], chromedp.Flag("headless", cfg.Headless))
		allocCtx, cancelAlloc = chromedp.NewExecAllocator(ctx, opts...)
	}

	tabCtx, cancelTab := chromedp.NewContext(allocCtx, chromedp.WithLogf(utils.Debug))
	cancel := func() {
		cancelTab()
		cancelAlloc()
	}

	var actions []chromedp.Action
	if cfg.StartURL != "" {
		actions = append(actions, chromedp.Navigate(cfg.StartURL))
	}
	if err := chromedp.Run(tabCtx, actions...); err != nil {
		cancel()
		return nil, nil, fmt.Errorf("open browser: %w", err)
	}
	return tabCtx, cancel, nil
}
