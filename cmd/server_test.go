package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob/memblob"

	"github.com/surge-downloader/odoo-images/internal/core"
	"github.com/surge-downloader/odoo-images/internal/engine/events"
	"github.com/surge-downloader/odoo-images/internal/engine/fetch"
	"github.com/surge-downloader/odoo-images/internal/engine/types"
	"github.com/surge-downloader/odoo-images/internal/orchestrator"
	"github.com/surge-downloader/odoo-images/internal/save"
	"github.com/surge-downloader/odoo-images/internal/selection"
	"github.com/surge-downloader/odoo-images/internal/testutil"
)

func newTestService(t *testing.T, opts ...testutil.ImageServerOption) (*core.LocalJobService, *save.Saver) {
	t.Helper()
	srv := testutil.NewImageServerT(t, opts...)
	saver := save.New(memblob.OpenBucket(nil))
	t.Cleanup(func() { _ = saver.Close() })

	svc := core.NewLocalJobService(fetch.New(&types.RuntimeConfig{Host: srv.URL()}), saver, selection.DefaultColumns())
	svc.Orchestrator.ResetDelay = 10 * time.Millisecond
	t.Cleanup(func() { _ = svc.Shutdown() })
	return svc, saver
}

func doRequest(t *testing.T, h http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestAPI_Health(t *testing.T) {
	svc, _ := newTestService(t)
	h := newAPIHandler(svc, "secret", 1701)

	// No token needed
	rec := doRequest(t, h, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(1701), body["port"])
	assert.Equal(t, Version, body["version"])
}

func TestAPI_Auth(t *testing.T) {
	svc, _ := newTestService(t)
	h := newAPIHandler(svc, "secret", 0)

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "nope", http.StatusUnauthorized},
		{"valid", "secret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, h, http.MethodGet, "/status", "", tt.token)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestAPI_NoAuthWhenTokenEmpty(t *testing.T) {
	svc, _ := newTestService(t)
	h := newAPIHandler(svc, "", 0)

	rec := doRequest(t, h, http.MethodGet, "/status", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPI_DownloadValidation(t *testing.T) {
	svc, _ := newTestService(t)
	h := newAPIHandler(svc, "", 0)

	tests := []struct {
		name   string
		method string
		body   string
		want   int
	}{
		{"wrong method", http.MethodGet, "", http.StatusMethodNotAllowed},
		{"invalid json", http.MethodPost, "{", http.StatusBadRequest},
		{"neither", http.MethodPost, `{}`, http.StatusBadRequest},
		{"both", http.MethodPost, `{"items":[{"id":"1"}],"html":"<table></table>"}`, http.StatusBadRequest},
		{"blank id", http.MethodPost, `{"items":[{"id":"  "}]}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, h, tt.method, "/download", tt.body, "")
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestAPI_DownloadBodyTooLarge(t *testing.T) {
	svc, _ := newTestService(t)
	h := newAPIHandler(svc, "", 0)

	body := `{"html":"` + strings.Repeat("a", maxDownloadBody) + `"}`
	rec := doRequest(t, h, http.MethodPost, "/download", body, "")
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	snap, err := svc.Status()
	require.NoError(t, err)
	assert.Equal(t, types.StatusIdle, snap.Status)
}

func TestAPI_DownloadItems(t *testing.T) {
	svc, saver := newTestService(t)
	h := newAPIHandler(svc, "", 0)

	ch, cleanup, err := svc.StreamEvents(context.Background())
	require.NoError(t, err)
	defer cleanup()

	rec := doRequest(t, h, http.MethodPost, "/download", `{"items":[{"id":"12","label":"8690001"}]}`, "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp core.SubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "started", resp.Status)
	require.NotEmpty(t, resp.ID)

	waitForReset(t, ch, resp.ID)

	ok, err := saver.Bucket.Exists(context.Background(), "8690001.jpg")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAPI_DownloadConflict(t *testing.T) {
	svc, _ := newTestService(t, testutil.WithLatency(300*time.Millisecond))
	svc.Orchestrator.ResetDelay = time.Second
	h := newAPIHandler(svc, "", 0)

	rec := doRequest(t, h, http.MethodPost, "/download", `{"items":[{"id":"1"}]}`, "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = doRequest(t, h, http.MethodPost, "/download", `{"items":[{"id":"2"}]}`, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, orchestrator.NoticeBusy, decodeBody(t, rec)["message"])
}

func TestAPI_Status(t *testing.T) {
	svc, _ := newTestService(t)
	h := newAPIHandler(svc, "", 0)

	rec := doRequest(t, h, http.MethodPost, "/status", "", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/status", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap types.JobSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, types.StatusIdle, snap.Status)
}

func TestAPI_EventStream(t *testing.T) {
	requireTCPListener(t)
	svc, _ := newTestService(t)
	srv := testutil.NewHTTPServerT(t, newAPIHandler(svc, "secret", 0))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, ": connected\n", line)

	// The handler is subscribed once the greeting arrived
	id, err := svc.Submit(ctx, []types.ProductRef{{ID: "4", Label: "a"}})
	require.NoError(t, err)

	var seen []string
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if name, ok := strings.CutPrefix(strings.TrimSpace(line), "event: "); ok {
			seen = append(seen, name)
		}
		if strings.HasPrefix(line, "data: ") {
			assert.Contains(t, line, id)
		}
		if len(seen) > 0 && seen[len(seen)-1] == "reset" {
			break
		}
	}
	assert.Equal(t, "started", seen[0])
	assert.Contains(t, seen, "progress")
	assert.Contains(t, seen, "complete")
}

func TestAPI_EventsMethod(t *testing.T) {
	svc, _ := newTestService(t)
	h := newAPIHandler(svc, "", 0)

	rec := doRequest(t, h, http.MethodPost, "/events", "", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCorsMiddleware(t *testing.T) {
	called := false
	h := corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := doRequest(t, h, http.MethodOptions, "/download", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, called)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Authorization")

	rec = doRequest(t, h, http.MethodGet, "/status", "", "")
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.True(t, called)
}

func TestListen(t *testing.T) {
	requireTCPListener(t)
	port, ln, err := listen(0)
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()
	assert.GreaterOrEqual(t, port, defaultPort)

	// The same port cannot be bound twice
	_, _, err = listen(port)
	assert.Error(t, err)
}

func waitForReset(t *testing.T, ch <-chan any, id string) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case msg := <-ch:
			if m, ok := msg.(events.JobResetMsg); ok && m.JobID == id {
				return
			}
		case <-timeout:
			t.Fatal("timed out waiting for job reset")
		}
	}
}
