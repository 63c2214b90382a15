// Package httpapi is the thin, read-mostly debug HTTP surface over the
// notification store: list notifications/messages for a task, and read or
// advance a viewer's unread cursor.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/missionctl/missionctl/internal/logging"
	"github.com/missionctl/missionctl/internal/metrics"
	"github.com/missionctl/missionctl/internal/store"
)

// Server is a reusable debug HTTP server instance over a Store.
type Server struct {
	store  *store.Store
	server *http.Server
}

// NewServer builds the debug HTTP surface, wiring the logging and metrics
// middleware and mounting the Prometheus handler at /metrics.
func NewServer(addr string, st *store.Store) *Server {
	mux := http.NewServeMux()
	api := &apiHandler{store: st}

	mux.HandleFunc("/tasks/", api.routeTasks)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	handler := logging.HTTPMiddleware(metrics.HTTPMiddleware(mux))

	return &Server{
		store: st,
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Serve blocks serving on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.server.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type apiHandler struct {
	store *store.Store
}

// routeTasks dispatches /tasks/{id}/notifications, /tasks/{id}/messages,
// and /tasks/{id}/unread/{sessionKey} by hand-parsing the path, mirroring
// the teacher's preference for explicit routing over a router dependency
// on surfaces this small.
func (h *apiHandler) routeTasks(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/tasks/"), "/"), "/")
	if len(parts) < 2 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	taskID := parts[0]

	switch parts[1] {
	case "notifications":
		h.handleNotifications(w, r, taskID)
	case "messages":
		h.handleMessages(w, r, taskID)
	case "unread":
		if len(parts) < 3 || parts[2] == "" {
			http.NotFound(w, r)
			return
		}
		h.handleUnread(w, r, taskID, parts[2])
	default:
		http.NotFound(w, r)
	}
}

func (h *apiHandler) handleNotifications(w http.ResponseWriter, r *http.Request, taskID string) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	notifications, err := h.store.ListTaskNotifications(r.Context(), taskID, parseLimit(r, 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, notifications)
}

func (h *apiHandler) handleMessages(w http.ResponseWriter, r *http.Request, taskID string) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	messages, err := h.store.ListTaskMessages(r.Context(), taskID, parseLimit(r, 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (h *apiHandler) handleUnread(w http.ResponseWriter, r *http.Request, taskID, sessionKey string) {
	switch r.Method {
	case http.MethodGet:
		count, err := h.store.GetThreadUnreadCount(r.Context(), taskID, sessionKey)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		state, err := h.store.GetThreadReadState(r.Context(), taskID, sessionKey)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		resp := map[string]any{"unread": count}
		if state != nil {
			resp["lastReadAt"] = state.LastReadAt
			resp["lastReadMessageId"] = state.LastReadMessageID
		}
		writeJSON(w, http.StatusOK, resp)

	case http.MethodPost:
		var body struct {
			MessageID  *string `json:"messageId"`
			LastReadAt *int64  `json:"lastReadAt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if body.MessageID == nil && body.LastReadAt == nil {
			http.Error(w, "messageId or lastReadAt is required", http.StatusBadRequest)
			return
		}
		if err := h.store.MarkThreadReadState(r.Context(), taskID, sessionKey, body.MessageID, body.LastReadAt, time.Now().UnixMilli()); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func parseLimit(r *http.Request, def int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
