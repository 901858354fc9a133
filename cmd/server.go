package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/surge-downloader/odoo-images/internal/core"
	"github.com/surge-downloader/odoo-images/internal/orchestrator"
	"github.com/surge-downloader/odoo-images/internal/selection"
	"github.com/surge-downloader/odoo-images/internal/utils"
)

// sseHeartbeat keeps idle event streams open through proxies
const sseHeartbeat = 15 * time.Second

// Upper bound for a /download body. A rendered list view with a few thousand
// rows stays well below this.
const maxDownloadBody = 8 << 20

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local HTTP trigger surface",
	Long: `serve keeps an orchestrator running and accepts jobs over HTTP:
  POST /download  {"items":[{"id":"42","label":"869..."}]} or {"html":"<list view>"}
  GET  /status    current or last job
  GET  /events    job events as text/event-stream
  GET  /health    liveness`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings := settingsOrDefault()
		if err := requireHost(settings); err != nil {
			return err
		}

		isMaster, err := AcquireLock()
		if err != nil {
			return fmt.Errorf("acquiring lock: %w", err)
		}
		if !isMaster {
			return errors.New("odoo-images serve is already running")
		}
		defer func() {
			if err := ReleaseLock(); err != nil {
				utils.Debug("Error releasing lock: %v", err)
			}
		}()

		portFlag, _ := cmd.Flags().GetInt("port")
		noAuth, _ := cmd.Flags().GetBool("no-auth")

		port, listener, err := listen(portFlag)
		if err != nil {
			return err
		}

		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		backend, err := newLocalBackend(ctx, settings)
		if err != nil {
			_ = listener.Close()
			return err
		}
		defer backend.Close()

		token := ""
		if !noAuth {
			token = ensureAuthToken()
		}

		saveActivePort(port)
		defer removeActivePort()

		// Print lifecycle lines
		sub, unsubscribe, _ := backend.Service.StreamEvents(ctx)
		defer unsubscribe()
		go logEvents(cmd.OutOrStdout(), sub, backend.Saver.Location)

		server := &http.Server{
			Handler:           corsMiddleware(newAPIHandler(backend.Service, token, port)),
			ReadHeaderTimeout: 10 * time.Second,
		}
		errCh := make(chan error, 1)
		go func() { errCh <- server.Serve(listener) }()

		fmt.Fprintf(cmd.OutOrStdout(), "Listening on http://127.0.0.1:%d\n", port)

		select {
		case <-ctx.Done():
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
		}

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		return server.Shutdown(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().IntP("port", "p", 0, "Port to listen on (default: first free port from 1700)")
	serveCmd.Flags().Bool("no-auth", false, "Accept requests without a bearer token")
	rootCmd.AddCommand(serveCmd)
}

func listen(portFlag int) (int, net.Listener, error) {
	if portFlag > 0 {
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", portFlag))
		if err != nil {
			return 0, nil, fmt.Errorf("could not bind to port %d: %w", portFlag, err)
		}
		return portFlag, ln, nil
	}
	port, ln := findAvailablePort(defaultPort)
	if ln == nil {
		return 0, nil, errors.New("could not find available port")
	}
	return port, ln, nil
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		// Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authMiddleware requires the bearer token on everything but /health.
// An empty token disables the check.
func authMiddleware(token string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token == "" || r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+token {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		utils.Debug("Error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"status": "error", "message": msg})
}

// newAPIHandler serves the trigger surface for svc
func newAPIHandler(svc core.JobService, token string, port int) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "ok",
			"port":    port,
			"version": Version,
		})
	})

	mux.HandleFunc("/download", func(w http.ResponseWriter, r *http.Request) {
		handleDownload(w, r, svc)
	})

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		snap, err := svc.Status()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		handleEvents(w, r, svc)
	})

	return authMiddleware(token, mux)
}

func handleDownload(w http.ResponseWriter, r *http.Request, svc core.JobService) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxDownloadBody)
	defer func() { _ = r.Body.Close() }()

	var req core.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}

	hasHTML := strings.TrimSpace(req.HTML) != ""
	if hasHTML == (len(req.Items) > 0) {
		writeError(w, http.StatusBadRequest, "exactly one of items or html is required")
		return
	}

	var (
		id  string
		err error
	)
	if hasHTML {
		id, err = svc.SubmitPage(r.Context(), req.HTML)
	} else {
		for _, ref := range req.Items {
			if strings.TrimSpace(ref.ID) == "" {
				writeError(w, http.StatusUnprocessableEntity, selection.ErrInvalidRef.Error())
				return
			}
		}
		id, err = svc.Submit(r.Context(), req.Items)
	}

	switch {
	case errors.Is(err, orchestrator.ErrJobInProgress):
		writeError(w, http.StatusConflict, orchestrator.NoticeBusy)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	utils.Debug("Server: job %s accepted", id)
	writeJSON(w, http.StatusAccepted, core.SubmitResponse{ID: id, Status: "started"})
}

func handleEvents(w http.ResponseWriter, r *http.Request, svc core.JobService) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	stream, cleanup, err := svc.StreamEvents(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer cleanup()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case msg, ok := <-stream:
			if !ok {
				return
			}
			sent, err := core.WriteEvent(w, msg)
			if err != nil {
				utils.Debug("Server: event stream write failed: %v", err)
				return
			}
			if sent {
				flusher.Flush()
			}
		}
	}
}
