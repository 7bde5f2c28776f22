// Package api exposes the HTTP surface: the streaming chat endpoint,
// conversation management, usage stats, health and metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tripmind/tripmind/auth"
	"github.com/tripmind/tripmind/chat"
	"github.com/tripmind/tripmind/memory"
	"github.com/tripmind/tripmind/ratelimit"
)

type Server struct {
	mux    *http.ServeMux
	server *http.Server
	addr   string
	logger *slog.Logger
}

// ServerOptions wires the server's collaborators. Orchestrator,
// Conversations and Auth are required.
type ServerOptions struct {
	Addr          string
	Orchestrator  *chat.Orchestrator
	Conversations *memory.ConversationStore
	APILogs       *memory.APILogStore
	Auth          *auth.Service
	RateLimiter   *ratelimit.Limiter
	Registry      *prometheus.Registry
	Logger        *slog.Logger
}

func NewServer(opts ServerOptions) (*Server, error) {
	if opts.Orchestrator == nil {
		return nil, errors.New("orchestrator is required")
	}
	if opts.Conversations == nil {
		return nil, errors.New("conversation store is required")
	}
	if opts.Auth == nil {
		return nil, errors.New("auth service is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	handler := &Handler{
		orchestrator:  opts.Orchestrator,
		conversations: opts.Conversations,
		apiLogs:       opts.APILogs,
		auth:          opts.Auth,
		limiter:       opts.RateLimiter,
		logger:        logger,
	}

	mux := http.NewServeMux()
	mux.Handle("/api/", handler.routes())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if opts.Registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{}))
	}

	return &Server{
		mux:    mux,
		addr:   opts.Addr,
		logger: logger,
	}, nil
}

// Handler returns the root handler, for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) ListenAndServe() error {
	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.mux,
	}
	s.logger.Info("http server listening", "addr", s.addr)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler serves the authenticated /api/ subtree.
type Handler struct {
	orchestrator  *chat.Orchestrator
	conversations *memory.ConversationStore
	apiLogs       *memory.APILogStore
	auth          *auth.Service
	limiter       *ratelimit.Limiter
	logger        *slog.Logger
}

func (h *Handler) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat/completions/stream", h.streamChat)
	mux.HandleFunc("GET /api/chat/conversations", h.listConversations)
	mux.HandleFunc("POST /api/chat/conversations", h.createConversation)
	mux.HandleFunc("GET /api/chat/conversations/{id}", h.getConversation)
	mux.HandleFunc("PUT /api/chat/conversations/{id}", h.updateConversation)
	mux.HandleFunc("DELETE /api/chat/conversations/{id}", h.deleteConversation)
	mux.HandleFunc("POST /api/chat/conversations/{id}/clear", h.clearConversation)
	mux.HandleFunc("GET /api/chat/usage", h.usageStats)
	return h.authenticate(mux)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (h *Handler) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, memory.ErrNotFound):
		writeError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, memory.ErrEmptyContent):
		writeError(w, http.StatusUnprocessableEntity, "message content is empty")
	default:
		h.logger.Error("store operation failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) usageStats(w http.ResponseWriter, r *http.Request) {
	if h.apiLogs == nil {
		writeError(w, http.StatusNotFound, "usage tracking disabled")
		return
	}
	user := currentUser(r.Context())
	stats, err := h.apiLogs.UsageStats(r.Context(), user.ID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
