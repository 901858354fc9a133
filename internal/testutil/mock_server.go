// Package testutil provides testing utilities for odoo-images.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// ImageServer is a configurable stand-in for the Odoo /web/image endpoint.
type ImageServer struct {
	Server *httptest.Server

	// Configuration
	ContentType      string        // Content-Type header value
	Latency          time.Duration // Artificial latency per request
	FailOnNthRequest int           // Answer 500 on the Nth request (0 = don't fail)
	DefaultMissing   bool          // Unknown IDs get 404 instead of a generated image

	// Tracking
	RequestCount   atomic.Int64
	FailedRequests atomic.Int64
	ActiveRequests atomic.Int64
	MaxActive      atomic.Int64

	mu        sync.Mutex
	images    map[string][]byte
	statuses  map[string]int
	requested []ImageRequest
	reqNum    int

	CustomHandler http.HandlerFunc
}

// ImageRequest records the query of one received request
type ImageRequest struct {
	Model     string
	ID        string
	Field     string
	UserAgent string
	Cookie    string
}

// ImageServerOption configures an ImageServer.
type ImageServerOption func(*ImageServer)

// WithHandler sets a custom request handler.
func WithHandler(h http.HandlerFunc) ImageServerOption {
	return func(s *ImageServer) {
		s.CustomHandler = h
	}
}

// WithImage serves data for the given product ID.
func WithImage(id string, data []byte) ImageServerOption {
	return func(s *ImageServer) {
		s.images[id] = data
	}
}

// WithStatus makes requests for id answer with code and no image.
func WithStatus(id string, code int) ImageServerOption {
	return func(s *ImageServer) {
		s.statuses[id] = code
	}
}

// WithContentType sets the Content-Type header.
func WithContentType(ct string) ImageServerOption {
	return func(s *ImageServer) {
		s.ContentType = ct
	}
}

// WithLatency adds artificial latency to every request.
func WithLatency(d time.Duration) ImageServerOption {
	return func(s *ImageServer) {
		s.Latency = d
	}
}

// WithFailOnNthRequest makes the Nth request fail with 500.
func WithFailOnNthRequest(n int) ImageServerOption {
	return func(s *ImageServer) {
		s.FailOnNthRequest = n
	}
}

// WithMissingByDefault answers 404 for IDs without an explicit image.
func WithMissingByDefault() ImageServerOption {
	return func(s *ImageServer) {
		s.DefaultMissing = true
	}
}

func newImageServer(opts []ImageServerOption) *ImageServer {
	s := &ImageServer{
		ContentType: "image/jpeg",
		images:      make(map[string][]byte),
		statuses:    make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewImageServer creates a new image server with the given options.
func NewImageServer(opts ...ImageServerOption) *ImageServer {
	s := newImageServer(opts)
	s.Server = NewHTTPServer(http.HandlerFunc(s.handleRequest))
	return s
}

// NewImageServerT creates a new image server and skips the test if binding fails.
func NewImageServerT(t *testing.T, opts ...ImageServerOption) *ImageServer {
	t.Helper()
	s := newImageServer(opts)
	s.Server = NewHTTPServerT(t, http.HandlerFunc(s.handleRequest))
	t.Cleanup(s.Close)
	return s
}

// URL returns the server's base URL, usable as the Odoo host.
func (s *ImageServer) URL() string {
	return s.Server.URL
}

// Close shuts down the server.
func (s *ImageServer) Close() {
	if s.Server != nil {
		s.Server.Close()
	}
}

// Requests returns the requests received so far, in arrival order.
func (s *ImageServer) Requests() []ImageRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ImageRequest, len(s.requested))
	copy(out, s.requested)
	return out
}

// RequestedIDs returns the product IDs requested so far, in arrival order.
func (s *ImageServer) RequestedIDs() []string {
	reqs := s.Requests()
	ids := make([]string, len(reqs))
	for i, r := range reqs {
		ids[i] = r.ID
	}
	return ids
}

// Image returns the bytes served for id.
func (s *ImageServer) Image(id string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if data, ok := s.images[id]; ok {
		return data
	}
	return JPEG(id)
}

func (s *ImageServer) handleRequest(w http.ResponseWriter, r *http.Request) {
	if s.CustomHandler != nil {
		s.CustomHandler(w, r)
		return
	}

	s.RequestCount.Add(1)
	active := s.ActiveRequests.Add(1)
	defer s.ActiveRequests.Add(-1)
	for {
		prev := s.MaxActive.Load()
		if active <= prev || s.MaxActive.CompareAndSwap(prev, active) {
			break
		}
	}

	if s.Latency > 0 {
		time.Sleep(s.Latency)
	}

	if r.URL.Path != "/web/image" {
		http.NotFound(w, r)
		return
	}

	q := r.URL.Query()
	req := ImageRequest{
		Model:     q.Get("model"),
		ID:        q.Get("id"),
		Field:     q.Get("field"),
		UserAgent: r.UserAgent(),
		Cookie:    r.Header.Get("Cookie"),
	}

	s.mu.Lock()
	s.requested = append(s.requested, req)
	s.reqNum++
	reqNum := s.reqNum
	code, hasStatus := s.statuses[req.ID]
	data, hasImage := s.images[req.ID]
	s.mu.Unlock()

	if s.FailOnNthRequest > 0 && reqNum == s.FailOnNthRequest {
		s.FailedRequests.Add(1)
		http.Error(w, "Simulated failure", http.StatusInternalServerError)
		return
	}

	if hasStatus {
		s.FailedRequests.Add(1)
		http.Error(w, http.StatusText(code), code)
		return
	}

	if !hasImage {
		if s.DefaultMissing {
			s.FailedRequests.Add(1)
			http.NotFound(w, r)
			return
		}
		data = JPEG(req.ID)
	}

	w.Header().Set("Content-Type", s.ContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// JPEG returns a tiny payload carrying JPEG magic bytes, unique per seed.
func JPEG(seed string) []byte {
	out := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}
	out = append(out, seed...)
	return append(out, 0xFF, 0xD9)
}
