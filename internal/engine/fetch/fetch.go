// Package fetch downloads product images from the Odoo image endpoint.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/h2non/filetype"
	"github.com/vfaronov/httpheader"
	"golang.org/x/time/rate"

	"github.com/surge-downloader/odoo-images/internal/engine/types"
	"github.com/surge-downloader/odoo-images/internal/utils"
)

// ErrNotImage is returned in strict mode when the payload is not an image
var ErrNotImage = errors.New("response is not an image")

// StatusError is returned when the endpoint answers outside 2xx
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.Code, e.URL)
}

// Temporary reports whether retrying could help
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// Fetcher fetches one product image per call
type Fetcher struct {
	Client  *http.Client
	Runtime *types.RuntimeConfig

	limiter *rate.Limiter
	sleep   func(ctx context.Context, d time.Duration) error
}

// New creates a Fetcher from the runtime config
func New(runtime *types.RuntimeConfig) *Fetcher {
	if runtime == nil {
		runtime = &types.RuntimeConfig{}
	}
	f := &Fetcher{
		Client:  NewClient(runtime),
		Runtime: runtime,
		sleep:   sleepCtx,
	}
	if runtime.RequestsPerSecond > 0 {
		f.limiter = rate.NewLimiter(rate.Limit(runtime.RequestsPerSecond), 1)
	}
	return f
}

type ctxKey int

const (
	hostKey ctxKey = iota
	headersKey
)

// WithHost overrides the configured Odoo host for fetches made with ctx
func WithHost(ctx context.Context, host string) context.Context {
	return context.WithValue(ctx, hostKey, strings.TrimRight(host, "/"))
}

// WithHeaders adds request headers (e.g. a session cookie) for fetches made with ctx
func WithHeaders(ctx context.Context, headers map[string]string) context.Context {
	return context.WithValue(ctx, headersKey, headers)
}

// URL returns the image URL for ref
func (f *Fetcher) URL(ctx context.Context, ref types.ProductRef) (string, error) {
	host := f.Runtime.Host
	if h, ok := ctx.Value(hostKey).(string); ok && h != "" {
		host = h
	}
	return utils.BuildImageURL(host, f.Runtime.GetModel(), f.Runtime.GetImageField(), ref.ID)
}

// Fetch downloads the image for ref. Failed attempts are retried up to
// MaxRetries times; 4xx answers other than 429 are not retried.
func (f *Fetcher) Fetch(ctx context.Context, ref types.ProductRef) ([]byte, error) {
	rawurl, err := f.URL(ctx, ref)
	if err != nil {
		return nil, err
	}

	attempts := f.Runtime.GetMaxRetries() + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := types.RetryBaseDelay * time.Duration(1<<(attempt-1))
			utils.Debug("Fetcher: retrying product %s in %v (attempt %d/%d): %v", ref.ID, delay, attempt+1, attempts, lastErr)
			if err := f.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		data, err := f.fetchOnce(ctx, rawurl)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if !retryable(ctx, err) {
			break
		}
	}
	return nil, lastErr
}

func (f *Fetcher) fetchOnce(ctx context.Context, rawurl string) ([]byte, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := f.newRequest(ctx, rawurl)
	if err != nil {
		return nil, err
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			utils.Debug("Error closing response body: %v", err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{Code: resp.StatusCode, URL: rawurl}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read image body: %w", err)
	}

	if err := f.checkImage(resp.Header, data, rawurl); err != nil {
		return nil, err
	}
	return data, nil
}

// newRequest builds a GET for rawurl carrying the configured and per-context headers
func (f *Fetcher) newRequest(ctx context.Context, rawurl string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawurl, nil)
	if err != nil {
		return nil, err
	}
	for key, val := range f.Runtime.Headers {
		req.Header.Set(key, val)
	}
	if extra, ok := ctx.Value(headersKey).(map[string]string); ok {
		for key, val := range extra {
			req.Header.Set(key, val)
		}
	}
	req.Header.Set("User-Agent", f.Runtime.GetUserAgent())
	req.Header.Set("Accept", "image/*")
	return req, nil
}

// checkImage verifies the payload looks like an image. Outside strict mode a
// mismatch is only logged.
func (f *Fetcher) checkImage(h http.Header, data []byte, rawurl string) error {
	mtype, _ := httpheader.ContentType(h)
	if filetype.IsImage(data) {
		return nil
	}

	if f.Runtime.StrictContentType {
		return fmt.Errorf("%w: %s (content-type %q)", ErrNotImage, rawurl, mtype)
	}
	utils.Debug("Fetcher: %s returned %d bytes of non-image data (content-type %q)", rawurl, len(data), mtype)
	return nil
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return !errors.Is(err, ErrNotImage)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
