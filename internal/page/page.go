// Package page attaches the image download control to a live Odoo tab.
//
// A bootstrap script installed on every document injects the control into the
// list view's action menu and reports DOM mutations and clicks through a CDP
// binding. Route changes and mutations feed one reconcile step; clicks start a
// job whose selection is read from the tab. Job events are rendered back into
// the page as a progress overlay and alerts.
package page

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/surge-downloader/odoo-images/internal/engine/fetch"
	"github.com/surge-downloader/odoo-images/internal/engine/types"
	"github.com/surge-downloader/odoo-images/internal/orchestrator"
	"github.com/surge-downloader/odoo-images/internal/selection"
	"github.com/surge-downloader/odoo-images/internal/utils"
)

// Starter claims the job slot and runs a job
type Starter interface {
	Start(ctx context.Context, sel orchestrator.Selector) (*orchestrator.Handle, error)
}

// Integration drives one browser tab
type Integration struct {
	Jobs     Starter
	Marker   string // URL fragment identifying the product list, e.g. model=product.template
	Columns  selection.Columns
	Debounce time.Duration

	signals *signals
	active  string // job started from this tab
}

// New creates an integration for the given page marker
func New(jobs Starter, marker string, cols selection.Columns) *Integration {
	return &Integration{
		Jobs:     jobs,
		Marker:   marker,
		Columns:  cols,
		Debounce: DefaultDebounce,
		signals:  newSignals(),
	}
}

// Run installs the bootstrap script and serves the tab in ctx until ctx is
// done. Job events from sub are rendered into the page.
func (in *Integration) Run(ctx context.Context, sub <-chan any) error {
	if chromedp.FromContext(ctx) == nil {
		return errors.New("page: context has no browser tab")
	}

	chromedp.ListenTarget(ctx, func(ev any) {
		switch e := ev.(type) {
		case *runtime.EventBindingCalled:
			if e.Name == BindingName {
				in.signals.notify(e.Payload)
			}
		case *cdppage.EventFrameNavigated:
			if e.Frame != nil && e.Frame.ParentID == "" {
				in.signals.notify(SignalMutation)
			}
		case *cdppage.EventNavigatedWithinDocument:
			in.signals.notify(SignalMutation)
		}
	})

	script := bootstrapScript(in.Debounce)
	err := chromedp.Run(ctx,
		runtime.Enable(),
		cdppage.Enable(),
		network.Enable(),
		runtime.AddBinding(BindingName),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := cdppage.AddScriptToEvaluateOnNewDocument(script).Do(ctx)
			return err
		}),
		chromedp.Evaluate(script, nil),
	)
	if err != nil {
		return err
	}
	utils.Debug("Page: attached, watching for %q", in.Marker)
	in.signals.notify(SignalMutation)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-in.signals.reconcile:
			if err := in.reconcile(ctx); err != nil {
				utils.Debug("Page: reconcile failed: %v", err)
			}
		case <-in.signals.trigger:
			in.trigger(ctx)
		case msg, ok := <-sub:
			if !ok {
				return nil
			}
			in.render(ctx, msg)
		}
	}
}

// reconcile injects the control when the tab shows the product list
func (in *Integration) reconcile(ctx context.Context) error {
	var location string
	if err := chromedp.Run(ctx, chromedp.Location(&location)); err != nil {
		return err
	}
	if !utils.IsProductPage(location, in.Marker) {
		return nil
	}

	var added int
	if err := chromedp.Run(ctx, chromedp.Evaluate(`window.__odooImages ? window.__odooImages.ensure() : 0`, &added)); err != nil {
		return err
	}
	if added > 0 {
		utils.Debug("Page: injected %d control(s) on %s", added, location)
	}
	return nil
}

// trigger starts a job for the tab's current selection. The session cookies
// and origin of the tab are carried to the fetcher.
func (in *Integration) trigger(ctx context.Context) {
	var location string
	var cookies []*network.Cookie
	err := chromedp.Run(ctx,
		chromedp.Location(&location),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			cookies, err = network.GetCookies().WithUrls([]string{location}).Do(ctx)
			return err
		}),
	)
	if err != nil {
		utils.Debug("Page: could not read tab state: %v", err)
		in.eval(ctx, scriptFor(noticeText(orchestrator.NoticeFetchFailed)))
		return
	}

	jobCtx := ctx
	if origin, err := utils.OriginOf(location); err == nil {
		jobCtx = fetch.WithHost(jobCtx, origin)
	}
	if header := cookieHeader(cookies); header != "" {
		jobCtx = fetch.WithHeaders(jobCtx, map[string]string{"Cookie": header})
	}

	tab := ctx
	cols := in.Columns
	h, err := in.Jobs.Start(jobCtx, func(context.Context) ([]types.ProductRef, error) {
		var doc string
		if err := chromedp.Run(tab, chromedp.OuterHTML("html", &doc, chromedp.ByQuery)); err != nil {
			return nil, err
		}
		return selection.Extract(strings.NewReader(doc), cols)
	})
	if errors.Is(err, orchestrator.ErrJobInProgress) {
		in.eval(ctx, scriptFor(noticeText(orchestrator.NoticeBusy)))
		return
	}
	if err != nil {
		utils.Debug("Page: could not start job: %v", err)
		return
	}

	in.active = h.ID
	in.eval(ctx, progressCall(0))
}

// render shows events of the job started from this tab
func (in *Integration) render(ctx context.Context, msg any) {
	if in.active == "" || jobOf(msg) != in.active {
		return
	}
	in.eval(ctx, scriptFor(msg))
}

func (in *Integration) eval(ctx context.Context, expr string) {
	if expr == "" {
		return
	}
	if err := chromedp.Run(ctx, chromedp.Evaluate(expr, nil)); err != nil {
		utils.Debug("Page: evaluate failed: %v", err)
	}
}

// cookieHeader joins cookies into a Cookie request header
func cookieHeader(cookies []*network.Cookie) string {
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		if c == nil || c.Name == "" {
			continue
		}
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

// signals coalesces binding and navigation callbacks for the Run loop.
// ListenTarget handlers must not block, so every send is non-blocking.
type signals struct {
	reconcile chan struct{}
	trigger   chan struct{}
}

func newSignals() *signals {
	return &signals{
		reconcile: make(chan struct{}, 1),
		trigger:   make(chan struct{}, 1),
	}
}

// notify queues a signal and reports whether it was not already pending
func (s *signals) notify(kind string) bool {
	ch := s.reconcile
	switch kind {
	case SignalTrigger:
		ch = s.trigger
	case SignalMutation:
	default:
		return false
	}
	select {
	case ch <- struct{}{}:
		return true
	default:
		return false
	}
}
