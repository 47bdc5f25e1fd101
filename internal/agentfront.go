// Package internal wires the authorization front end together: the OAuth
// endpoints, the identity-provider client, and the MCP proxy, behind one
// HTTP server.
package internal

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/agentfront/agent-front/internal/config"
	"github.com/agentfront/agent-front/internal/exchange"
	"github.com/agentfront/agent-front/internal/idp"
	"github.com/agentfront/agent-front/internal/log"
	"github.com/agentfront/agent-front/internal/oauth"
	"github.com/agentfront/agent-front/internal/proxy"
	"github.com/agentfront/agent-front/internal/report"
	"github.com/agentfront/agent-front/internal/server"
	"github.com/agentfront/agent-front/internal/token"
)

// AgentFront is the complete authorization front-end application.
type AgentFront struct {
	config     config.Config
	httpServer *server.HTTPServer
}

// NewAgentFront builds the application with all dependencies wired.
func NewAgentFront(cfg config.Config, version string) (*AgentFront, error) {
	log.LogInfoWithFields("agentfront", "Building application", map[string]any{
		"baseURL":   cfg.BaseURL,
		"mcpServer": cfg.MCPServerURL,
	})

	minter, err := token.NewMinter([]byte(cfg.JWTSecret), cfg.BaseURL, cfg.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to create token minter: %w", err)
	}

	supabase := idp.NewSupabaseClient(cfg.SupabaseURL, string(cfg.SupabaseAnonKey))

	authz, err := oauth.NewAuthorizationServer(oauth.AuthorizationServerConfig{
		Minter:       minter,
		CodeLifespan: cfg.CodeLifespan,
		ReplayGuard:  cfg.CodeReplayGuard,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create authorization server: %w", err)
	}

	oauthHandlers, err := server.NewOAuthHandlers(server.OAuthHandlersConfig{
		Authz:       authz,
		Resolver:    supabase,
		Users:       supabase,
		BaseURL:     cfg.BaseURL,
		SupabaseURL: cfg.SupabaseURL,
		ResourceURL: cfg.MCPResourceURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create OAuth handlers: %w", err)
	}

	exchanger, err := exchange.NewClient(exchange.CandidateEndpoints(cfg.BaseURL, cfg.Addr))
	if err != nil {
		return nil, fmt.Errorf("failed to create exchange client: %w", err)
	}

	mcpProxy, err := proxy.NewHandler(proxy.Config{
		BackendURL: cfg.MCPServerURL,
		Resolver:   supabase,
		Exchanger:  exchanger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MCP proxy: %w", err)
	}

	info := mcp.Implementation{
		Name:    "agent-front",
		Version: version,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/authorize", oauthHandlers.AuthorizeHandler)
	mux.HandleFunc("/token", oauthHandlers.TokenHandler)
	mux.HandleFunc("/.well-known/oauth-authorization-server", oauthHandlers.WellKnownHandler)
	mux.HandleFunc("/register", oauthHandlers.RegisterHandler)
	mux.Handle("/mcp", server.ChainMiddleware(mcpProxy,
		server.NewBearerAuthMiddleware(minter),
	))
	mux.Handle("/health", server.NewHealthHandler(info))

	handler := server.ChainMiddleware(mux,
		server.NewCORSMiddleware(),
		server.NewLoggerMiddleware("http"),
		server.NewRecoverMiddleware("http"),
	)

	return &AgentFront{
		config:     cfg,
		httpServer: server.NewHTTPServer(handler, cfg.Addr),
	}, nil
}

// Run starts the application and blocks until a shutdown signal arrives or
// the server fails.
func (a *AgentFront) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.httpServer.Start(); err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			log.LogInfoWithFields("agentfront", "Received shutdown signal", map[string]any{
				"signal": sig.String(),
			})
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return a.httpServer.Stop(shutdownCtx)
	})

	err := g.Wait()
	report.Flush()

	log.LogInfoWithFields("agentfront", "Application shutdown complete", nil)
	return err
}
