package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/h2non/filetype"
	"github.com/vfaronov/httpheader"

	"github.com/surge-downloader/odoo-images/internal/engine/types"
	"github.com/surge-downloader/odoo-images/internal/utils"
)

// sniffLen is how many leading bytes filetype needs to recognise a format
const sniffLen = 262

// ProbeResult describes what the image endpoint answers for one product
type ProbeResult struct {
	URL           string
	StatusCode    int
	ContentType   string
	Size          int64 // -1 when the server does not say
	SupportsRange bool
	IsImage       bool
	Extension     string // detected from magic bytes, empty if unknown
}

// Probe requests the first bytes of ref's image to check host, session and
// payload without downloading the whole file. Non-2xx answers are reported in
// the result, not as an error.
func (f *Fetcher) Probe(ctx context.Context, ref types.ProductRef) (*ProbeResult, error) {
	rawurl, err := f.URL(ctx, ref)
	if err != nil {
		return nil, err
	}
	utils.Debug("Probing image endpoint: %s", rawurl)

	probeCtx, cancel := context.WithTimeout(ctx, types.ProbeTimeout)
	defer cancel()

	req, err := f.newRequest(probeCtx, rawurl)
	if err != nil {
		return nil, fmt.Errorf("failed to create probe request: %w", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", sniffLen-1))

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("probe request failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		_ = resp.Body.Close()
	}()

	utils.Debug("Probe response status: %d", resp.StatusCode)

	result := &ProbeResult{URL: rawurl, StatusCode: resp.StatusCode, Size: -1}
	if mtype, _ := httpheader.ContentType(resp.Header); mtype != "" {
		result.ContentType = mtype
	}

	switch resp.StatusCode {
	case http.StatusPartialContent:
		result.SupportsRange = true
		result.Size = sizeFromContentRange(resp.Header.Get("Content-Range"))
	case http.StatusOK:
		if resp.ContentLength >= 0 {
			result.Size = resp.ContentLength
		}
	default:
		return result, nil
	}

	head, err := io.ReadAll(io.LimitReader(resp.Body, sniffLen))
	if err != nil {
		return nil, fmt.Errorf("failed to read probe body: %w", err)
	}
	result.IsImage = filetype.IsImage(head)
	if kind, err := filetype.Match(head); err == nil && kind != filetype.Unknown {
		result.Extension = kind.Extension
	}

	utils.Debug("Probe complete - type: %s, size: %d, range: %v, image: %v",
		result.ContentType, result.Size, result.SupportsRange, result.IsImage)
	return result, nil
}

// sizeFromContentRange parses "bytes 0-261/12345"; "*" or garbage yields -1
func sizeFromContentRange(v string) int64 {
	idx := strings.LastIndex(v, "/")
	if idx == -1 {
		return -1
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v[idx+1:]), 10, 64)
	if err != nil {
		return -1
	}
	return n
}
