package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/agentfront/agent-front/internal/json"
	"github.com/agentfront/agent-front/internal/log"
)

// HTTPServer manages the HTTP server lifecycle
type HTTPServer struct {
	server *http.Server
}

// NewHTTPServer creates a new HTTP server with the given handler and address
func NewHTTPServer(handler http.Handler, addr string) *HTTPServer {
	return &HTTPServer{
		server: &http.Server{
			Addr:    addr,
			Handler: handler,
		},
	}
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	log.LogInfoWithFields("http", "HTTP server starting", map[string]any{
		"addr": h.server.Addr,
	})

	if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	log.LogInfoWithFields("http", "HTTP server stopping", map[string]any{
		"addr": h.server.Addr,
	})

	if err := h.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	log.LogInfoWithFields("http", "HTTP server stopped", map[string]any{
		"addr": h.server.Addr,
	})
	return nil
}

// HealthHandler reports liveness plus the server identity.
type HealthHandler struct {
	info mcp.Implementation
}

func NewHealthHandler(info mcp.Implementation) *HealthHandler {
	return &HealthHandler{info: info}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = json.Write(w, map[string]any{
		"status": "ok",
		"server": map[string]string{
			"name":    h.info.Name,
			"version": h.info.Version,
		},
	})
}
