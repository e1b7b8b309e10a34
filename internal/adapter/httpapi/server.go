// Package httpapi serves the chat persistence REST API and the scripted
// SSE response streams.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"draftpilot/internal/domain"
	"draftpilot/internal/infra/config"
	"draftpilot/internal/infra/middleware"
)

// Server wires the chat store and the scripted streams behind one router.
type Server struct {
	cfg    *config.Config
	store  domain.ChatStore
	logger *slog.Logger
	http   *http.Server
}

// NewServer builds the server. ctx bounds background work started by the
// middleware stack.
func NewServer(ctx context.Context, cfg *config.Config, store domain.ChatStore, logger *slog.Logger) *Server {
	s := &Server{cfg: cfg, store: store, logger: logger}

	r := mux.NewRouter()
	r.Use(middleware.SecurityHeaders)
	r.Use(instrument)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(middleware.RateLimit(ctx, cfg.Server.RateLimitPerMin, cfg.Server.RateLimitBurst))

	api.HandleFunc("/chats", s.handleCreateChat).Methods(http.MethodPost)
	api.HandleFunc("/chats", s.handleListChats).Methods(http.MethodGet)
	api.HandleFunc("/chats/{chatId}", s.handleGetChat).Methods(http.MethodGet)
	api.HandleFunc("/chats/{chatId}", s.handleUpdateChat).Methods(http.MethodPatch)
	api.HandleFunc("/chats/{chatId}", s.handleDeleteChat).Methods(http.MethodDelete)
	api.HandleFunc("/chats/{chatId}/messages", s.handleListMessages).Methods(http.MethodGet)
	api.HandleFunc("/chats/{chatId}/messages", s.handleSyncMessages).Methods(http.MethodPut)
	api.HandleFunc("/chats/{chatId}/messages/{messageId}", s.handleUpdateMessage).Methods(http.MethodPatch)
	api.HandleFunc("/chats/{chatId}/messages/{messageId}", s.handleDeleteMessage).Methods(http.MethodDelete)

	api.HandleFunc("/chat/{chatId}", s.handleChatStream).Methods(http.MethodPost)
	api.HandleFunc("/agent-editor/{chatId}", s.handleAgentEditorStream).Methods(http.MethodPost)

	r.HandleFunc("/healthz", handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.http = &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: r,
	}
	return s
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Run serves until ctx is canceled, then shuts down gracefully within the
// configured timeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
