package core

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/surge-downloader/odoo-images/internal/engine/events"
	"github.com/surge-downloader/odoo-images/internal/engine/types"
	"github.com/surge-downloader/odoo-images/internal/orchestrator"
	"github.com/surge-downloader/odoo-images/internal/utils"
)

// SubmitRequest is the body of POST /download. Exactly one of Items or HTML is set.
type SubmitRequest struct {
	Items []types.ProductRef `json:"items,omitempty"`
	HTML  string             `json:"html,omitempty"`
}

// SubmitResponse is returned by POST /download.
type SubmitResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	Code int
	Body string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Code, e.Body)
}

// Unwrap maps 409 Conflict back to orchestrator.ErrJobInProgress.
func (e *APIError) Unwrap() error {
	if e.Code == http.StatusConflict {
		return orchestrator.ErrJobInProgress
	}
	return nil
}

// RemoteJobService implements JobService against a running serve instance.
type RemoteJobService struct {
	BaseURL   string
	Token     string
	Client    *http.Client
	SSEClient *http.Client
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewRemoteJobService creates a new remote service instance.
func NewRemoteJobService(baseURL string, token string) *RemoteJobService {
	ctx, cancel := context.WithCancel(context.Background())
	return &RemoteJobService{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		Token:     token,
		Client:    &http.Client{Timeout: 30 * time.Second},
		SSEClient: &http.Client{},
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (s *RemoteJobService) doRequest(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.BaseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}

	s.authorize(req)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		defer func() { _ = resp.Body.Close() }()
		// Limit error body read to 1KB
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &APIError{Code: resp.StatusCode, Body: strings.TrimSpace(string(bodyBytes))}
	}

	return resp, nil
}

func (s *RemoteJobService) authorize(req *http.Request) {
	if strings.TrimSpace(s.Token) != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}
}

func (s *RemoteJobService) submit(ctx context.Context, body SubmitRequest) (string, error) {
	resp, err := s.doRequest(ctx, http.MethodPost, "/download", body)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	var result SubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.ID, nil
}

// Submit starts a job for an explicit list of products.
func (s *RemoteJobService) Submit(ctx context.Context, refs []types.ProductRef) (string, error) {
	return s.submit(ctx, SubmitRequest{Items: refs})
}

// SubmitPage posts list-view HTML; the server extracts the selection.
func (s *RemoteJobService) SubmitPage(ctx context.Context, html string) (string, error) {
	return s.submit(ctx, SubmitRequest{HTML: html})
}

// Status returns the server's current or last job.
func (s *RemoteJobService) Status() (types.JobSnapshot, error) {
	var snap types.JobSnapshot
	resp, err := s.doRequest(s.ctx, http.MethodGet, "/status", nil)
	if err != nil {
		return snap, err
	}
	defer func() { _ = resp.Body.Close() }()

	err = json.NewDecoder(resp.Body).Decode(&snap)
	return snap, err
}

// Health checks that the server answers.
func (s *RemoteJobService) Health(ctx context.Context) error {
	resp, err := s.doRequest(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// Shutdown stops the service.
func (s *RemoteJobService) Shutdown() error {
	s.cancel()
	return nil
}

// StreamEvents returns a channel that receives job events via SSE.
func (s *RemoteJobService) StreamEvents(ctx context.Context) (<-chan any, func(), error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan any, types.ProgressChannelBuffer)
	go s.streamWithReconnect(ctx, ch)
	return ch, cancel, nil
}

func (s *RemoteJobService) streamWithReconnect(ctx context.Context, ch chan any) {
	defer close(ch)
	backoff := 1 * time.Second
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ctx.Done():
			return
		default:
		}

		err := s.connectSSE(ctx, ch)
		if err == nil {
			return
		}
		utils.Debug("RemoteJobService: event stream interrupted: %v", err)

		select {
		case <-s.ctx.Done():
			return
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (s *RemoteJobService) connectSSE(ctx context.Context, ch chan any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.BaseURL+"/events", nil)
	if err != nil {
		return err
	}

	s.authorize(req)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Connection", "keep-alive")

	resp, err := s.SSEClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to connect to event stream: %s", resp.Status)
	}

	return readEvents(resp.Body, func(msg any) {
		if _, ok := msg.(events.ProgressMsg); ok {
			select {
			case ch <- msg:
			default:
				// A later progress event supersedes this one
			}
			return
		}
		select {
		case ch <- msg:
		case <-ctx.Done():
		}
	})
}

// readEvents parses a text/event-stream body and hands every known event to
// emit. It returns the read error, io.EOF included.
func readEvents(r io.Reader, emit func(any)) error {
	reader := bufio.NewReader(r)
	for {
		eventType := ""
		var dataLines []string

		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return err
			}
			line = strings.TrimRight(line, "\r\n")

			// Blank line dispatches event
			if line == "" {
				break
			}
			// Comment/heartbeat
			if strings.HasPrefix(line, ":") {
				continue
			}
			if strings.HasPrefix(line, "event:") {
				eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
				continue
			}
			if strings.HasPrefix(line, "data:") {
				dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
				continue
			}
		}

		if eventType == "" || len(dataLines) == 0 {
			continue
		}

		msg, err := events.Decode(eventType, []byte(strings.Join(dataLines, "\n")))
		if err != nil {
			utils.Debug("RemoteJobService: skipping %s event: %v", eventType, err)
			continue
		}
		emit(msg)
	}
}

// WriteEvent writes one message in text/event-stream framing. Unknown message
// types are skipped and reported as false.
func WriteEvent(w io.Writer, msg any) (bool, error) {
	name, ok := events.Name(msg)
	if !ok {
		return false, nil
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return false, err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err == nil, err
}
