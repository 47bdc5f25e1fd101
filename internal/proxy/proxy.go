// Package proxy forwards MCP JSON-RPC traffic to the protected resource,
// upgrading the caller's upstream session into a platform access token via
// token exchange on the way through.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/agentfront/agent-front/internal/idp"
	"github.com/agentfront/agent-front/internal/jsonrpc"
	"github.com/agentfront/agent-front/internal/log"
	"github.com/agentfront/agent-front/internal/report"
)

// DefaultTimeout bounds a single forwarded call, sized for long-running
// tool executions.
const DefaultTimeout = 300 * time.Second

// SessionResolver resolves the caller's upstream session from the request.
type SessionResolver interface {
	Resolve(ctx context.Context, r *http.Request) idp.Identity
}

// TokenExchanger trades an upstream session token for a platform access
// token.
type TokenExchanger interface {
	Exchange(ctx context.Context, subjectToken string) (*oauth2.Token, error)
}

type Config struct {
	// BackendURL is the MCP server the proxy forwards to.
	BackendURL string

	Resolver  SessionResolver
	Exchanger TokenExchanger

	// Timeout bounds each forwarded request. Defaults to DefaultTimeout.
	Timeout time.Duration
}

type Handler struct {
	backendURL string
	resolver   SessionResolver
	exchanger  TokenExchanger
	timeout    time.Duration
	httpClient *http.Client
}

func NewHandler(cfg Config) (*Handler, error) {
	if cfg.BackendURL == "" {
		return nil, fmt.Errorf("backend URL is required")
	}
	if cfg.Resolver == nil || cfg.Exchanger == nil {
		return nil, fmt.Errorf("session resolver and token exchanger are required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Handler{
		backendURL: cfg.BackendURL,
		resolver:   cfg.Resolver,
		exchanger:  cfg.Exchanger,
		timeout:    cfg.Timeout,
		// The http.Request context carries the deadline so streaming reads
		// are bounded too; no separate client timeout.
		httpClient: &http.Client{},
	}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonrpc.WriteErrorWithStatus(w, nil, jsonrpc.InvalidRequest, "only POST is supported", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.LogErrorWithFields("proxy", "Failed to read request body", map[string]any{
			"error": err.Error(),
		})
		jsonrpc.WriteError(w, nil, jsonrpc.InternalError, "Failed to read request")
		return
	}

	// Best-effort id extraction so error envelopes match the request.
	var rpcReq jsonrpc.Request
	_ = json.Unmarshal(body, &rpcReq)

	accessToken, rpcErr := h.credentialFor(r)
	if rpcErr != nil {
		jsonrpc.WriteErrorWithStatus(w, rpcReq.ID, rpcErr.Code, rpcErr.Message, http.StatusUnauthorized)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.backendURL, bytes.NewReader(body))
	if err != nil {
		log.LogErrorWithFields("proxy", "Failed to create backend request", map[string]any{
			"error": err.Error(),
		})
		jsonrpc.WriteError(w, rpcReq.ID, jsonrpc.InternalError, "Failed to create request")
		return
	}

	if ct := r.Header.Get("Content-Type"); ct != "" {
		req.Header.Set("Content-Type", ct)
	} else {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json, text/event-stream")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	log.LogDebugWithFields("proxy", "Forwarding to MCP server", map[string]any{
		"backendURL": h.backendURL,
		"method":     rpcReq.Method,
	})

	resp, err := h.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			report.CaptureError(err, "proxy", map[string]any{
				"backendURL": h.backendURL,
				"timeout":    h.timeout.String(),
			})
			jsonrpc.WriteErrorWithStatus(w, rpcReq.ID, jsonrpc.InternalError, "Request to MCP server timed out", http.StatusGatewayTimeout)
			return
		}
		report.CaptureError(err, "proxy", map[string]any{
			"backendURL": h.backendURL,
		})
		jsonrpc.WriteErrorWithStatus(w, rpcReq.ID, jsonrpc.InternalError, "backend request failed", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	h.relay(w, resp)
}

// credentialFor picks the Bearer credential to forward: a platform token
// supplied by the caller wins, otherwise the upstream session is exchanged
// for one.
func (h *Handler) credentialFor(r *http.Request) (string, *jsonrpc.Error) {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, found := strings.CutPrefix(auth, "Bearer "); found && token != "" {
			return token, nil
		}
		return "", jsonrpc.NewError(jsonrpc.AuthRequired, "Malformed Authorization header")
	}

	identity := h.resolver.Resolve(r.Context(), r)
	if !identity.Authenticated {
		return "", jsonrpc.NewError(jsonrpc.AuthRequired, "Authentication required")
	}

	token, err := h.exchanger.Exchange(r.Context(), identity.AccessToken)
	if err != nil {
		report.CaptureError(err, "proxy", map[string]any{
			"user_id":       identity.UserID,
			"subject_token": report.MaskToken(identity.AccessToken),
		})
		return "", jsonrpc.NewError(jsonrpc.AuthRequired, "Failed to obtain access token")
	}

	return token.AccessToken, nil
}

// relay copies the backend response to the client, flushing incrementally
// for SSE streams.
func (h *Handler) relay(w http.ResponseWriter, resp *http.Response) {
	contentType := resp.Header.Get("Content-Type")

	if strings.HasPrefix(contentType, "text/event-stream") {
		for k, v := range resp.Header {
			if k == "Content-Type" || k == "Cache-Control" || k == "Connection" {
				w.Header()[k] = v
			}
		}
		w.WriteHeader(resp.StatusCode)

		flusher, ok := w.(http.Flusher)
		if !ok {
			log.LogError("Response writer doesn't support flushing")
			return
		}

		buf := make([]byte, 4096)
		for {
			n, err := resp.Body.Read(buf)
			if n > 0 {
				if _, writeErr := w.Write(buf[:n]); writeErr != nil {
					log.LogDebugWithFields("proxy", "Client disconnected", map[string]any{
						"error": writeErr.Error(),
					})
					return
				}
				flusher.Flush()
			}
			if err == io.EOF {
				return
			}
			if err != nil {
				log.LogErrorWithFields("proxy", "Error reading SSE stream", map[string]any{
					"error": err.Error(),
				})
				return
			}
		}
	}

	maps.Copy(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	if _, err := io.Copy(w, resp.Body); err != nil {
		log.LogErrorWithFields("proxy", "Failed to copy response body", map[string]any{
			"error": err.Error(),
		})
	}
}
