package server

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/agentfront/agent-front/internal/idp"
	"github.com/agentfront/agent-front/internal/json"
	"github.com/agentfront/agent-front/internal/log"
	"github.com/agentfront/agent-front/internal/oauth"
	"github.com/agentfront/agent-front/internal/report"
	"github.com/agentfront/agent-front/internal/urlutil"
)

// SessionResolver resolves the caller's upstream session from the request.
type SessionResolver interface {
	Resolve(ctx context.Context, r *http.Request) idp.Identity
}

// UserValidator validates an upstream access token and returns its owner.
type UserValidator interface {
	GetUser(ctx context.Context, accessToken string) (*idp.User, error)
}

// OAuthHandlers serves the authorize, token, discovery, and registration
// endpoints.
type OAuthHandlers struct {
	authz       *oauth.AuthorizationServer
	resolver    SessionResolver
	users       UserValidator
	baseURL     string
	supabaseURL string
	resourceURL string
}

type OAuthHandlersConfig struct {
	Authz       *oauth.AuthorizationServer
	Resolver    SessionResolver
	Users       UserValidator
	BaseURL     string
	SupabaseURL string
	ResourceURL string
}

func NewOAuthHandlers(cfg OAuthHandlersConfig) (*OAuthHandlers, error) {
	if cfg.Authz == nil || cfg.Resolver == nil || cfg.Users == nil {
		return nil, fmt.Errorf("authorization server, resolver, and user validator are required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}

	return &OAuthHandlers{
		authz:       cfg.Authz,
		resolver:    cfg.Resolver,
		users:       cfg.Users,
		baseURL:     cfg.BaseURL,
		supabaseURL: cfg.SupabaseURL,
		resourceURL: cfg.ResourceURL,
	}, nil
}

// AuthorizeHandler runs the authorize step: validate, resolve identity,
// then either bounce to interactive login or issue a code back to the
// client's redirect_uri.
func (h *OAuthHandlers) AuthorizeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		json.WriteMethodNotAllowed(w, "Method not allowed")
		return
	}

	q := r.URL.Query()
	params, oauthErr := h.authz.ValidateAuthorizeParams(q)
	if oauthErr != nil {
		oauth.WriteAuthorizeError(w, r, q.Get("redirect_uri"), q.Get("state"), oauthErr)
		return
	}

	identity := h.resolver.Resolve(r.Context(), r)
	if !identity.Authenticated {
		log.LogDebugWithFields("oauth", "No upstream session, redirecting to login", map[string]any{
			"client_id": params.ClientID,
		})
		http.Redirect(w, r, h.loginRedirectURL(q), http.StatusFound)
		return
	}

	code, err := h.authz.IssueCode(params, identity)
	if err != nil {
		report.CaptureError(err, "oauth", map[string]any{
			"client_id": params.ClientID,
		})
		oauth.WriteAuthorizeError(w, r, params.RedirectURI, params.State,
			oauth.NewError(oauth.ErrServerError, "Failed to issue authorization code"))
		return
	}

	log.LogInfoWithFields("oauth", "Authorization code issued", map[string]any{
		"client_id": params.ClientID,
		"user_id":   identity.UserID,
	})

	http.Redirect(w, r, successRedirectURL(params, code), http.StatusFound)
}

// loginRedirectURL sends the user to the interactive login page with every
// original OAuth parameter preserved, plus the protected resource the
// client is ultimately after, so login can re-enter /authorize afterwards.
func (h *OAuthHandlers) loginRedirectURL(q url.Values) string {
	login := q
	login.Set("resource", h.resourceURL)
	return urlutil.MustJoinPath(h.baseURL, "signin") + "?" + login.Encode()
}

func successRedirectURL(params *oauth.AuthorizeParams, code string) string {
	u, err := url.Parse(params.RedirectURI)
	if err != nil {
		// Unreachable: the redirect URI already passed validation.
		return params.RedirectURI
	}
	q := u.Query()
	q.Set("code", code)
	if params.State != "" {
		q.Set("state", params.State)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// TokenHandler dispatches the token step across the two supported grants.
func (h *OAuthHandlers) TokenHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		json.WriteMethodNotAllowed(w, "Method not allowed")
		return
	}

	if err := r.ParseForm(); err != nil {
		oauth.WriteTokenError(w, http.StatusBadRequest,
			oauth.NewError(oauth.ErrInvalidRequest, "Malformed form body"))
		return
	}

	grantType := r.PostForm.Get("grant_type")
	switch grantType {
	case oauth.GrantTypeAuthorizationCode:
		h.handleAuthorizationCodeGrant(w, r)
	case oauth.GrantTypeTokenExchange:
		h.handleTokenExchangeGrant(w, r)
	default:
		oauth.WriteTokenError(w, http.StatusBadRequest,
			oauth.NewError(oauth.ErrUnsupportedGrantType, fmt.Sprintf("Unsupported grant type: %q", grantType)))
	}
}

func (h *OAuthHandlers) handleAuthorizationCodeGrant(w http.ResponseWriter, r *http.Request) {
	resp, oauthErr := h.authz.RedeemCode(&oauth.CodeExchange{
		Code:         r.PostForm.Get("code"),
		ClientID:     r.PostForm.Get("client_id"),
		RedirectURI:  r.PostForm.Get("redirect_uri"),
		CodeVerifier: r.PostForm.Get("code_verifier"),
		Scope:        r.PostForm.Get("scope"),
	})
	if oauthErr != nil {
		writeGrantError(w, oauthErr, "authorization_code", r.PostForm.Get("client_id"))
		return
	}

	log.LogInfoWithFields("oauth", "Access token minted", map[string]any{
		"grant_type": "authorization_code",
		"client_id":  r.PostForm.Get("client_id"),
		"user_id":    resp.UserID,
	})
	oauth.WriteTokenResponse(w, resp)
}

func (h *OAuthHandlers) handleTokenExchangeGrant(w http.ResponseWriter, r *http.Request) {
	subjectToken := r.PostForm.Get("subject_token")
	if subjectToken == "" {
		writeGrantError(w, oauth.NewError(oauth.ErrInvalidRequest, "subject_token is required"),
			"token_exchange", "")
		return
	}

	if subjectTokenType := r.PostForm.Get("subject_token_type"); subjectTokenType != oauth.TokenTypeAccessToken {
		writeGrantError(w, oauth.NewError(oauth.ErrInvalidRequest,
			fmt.Sprintf("subject_token_type must be %q", oauth.TokenTypeAccessToken)),
			"token_exchange", "")
		return
	}

	user, err := h.users.GetUser(r.Context(), subjectToken)
	if err != nil {
		log.LogDebugWithFields("oauth", "Subject token rejected", map[string]any{
			"error":         err.Error(),
			"subject_token": report.MaskToken(subjectToken),
		})
		writeGrantError(w, oauth.NewError(oauth.ErrInvalidGrant, "Invalid or expired subject token"),
			"token_exchange", "")
		return
	}

	resp, oauthErr := h.authz.ExchangeSubjectToken(user, subjectToken)
	if oauthErr != nil {
		writeGrantError(w, oauthErr, "token_exchange", "")
		return
	}

	log.LogInfoWithFields("oauth", "Access token minted", map[string]any{
		"grant_type": "token_exchange",
		"user_id":    user.ID,
	})
	oauth.WriteTokenResponse(w, resp)
}

func writeGrantError(w http.ResponseWriter, oauthErr *oauth.Error, grantType, clientID string) {
	status := http.StatusBadRequest
	if oauthErr.Code == oauth.ErrServerError {
		status = http.StatusInternalServerError
		report.CaptureError(oauthErr, "oauth", map[string]any{
			"grant_type": grantType,
			"client_id":  clientID,
		})
	}
	oauth.WriteTokenError(w, status, oauthErr)
}

// WellKnownHandler serves RFC 8414 authorization server metadata.
func (h *OAuthHandlers) WellKnownHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		json.WriteMethodNotAllowed(w, "Method not allowed")
		return
	}

	meta, err := oauth.AuthorizationServerMetadata(h.baseURL, h.supabaseURL)
	if err != nil {
		report.CaptureError(err, "oauth", nil)
		oauth.WriteTokenError(w, http.StatusInternalServerError,
			oauth.NewError(oauth.ErrServerError, "Authorization server is misconfigured"))
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=3600")
	_ = json.Write(w, meta)
}

// clientRegistration is the RFC 7591 request/response shape, reduced to the
// fields public MCP clients actually send.
type clientRegistration struct {
	ClientID                string   `json:"client_id,omitempty"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at,omitempty"`
	ClientName              string   `json:"client_name,omitempty"`
	RedirectURIs            []string `json:"redirect_uris,omitempty"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	ResponseTypes           []string `json:"response_types,omitempty"`
	Scope                   string   `json:"scope,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
}

// RegisterHandler implements stateless dynamic client registration. Every
// client is public and identity binding happens through PKCE plus verbatim
// client_id matching at redemption, so nothing is stored: the metadata is
// echoed back with a generated client_id.
func (h *OAuthHandlers) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		json.WriteMethodNotAllowed(w, "Method not allowed")
		return
	}

	var reg clientRegistration
	if err := json.DecodeBody(r, &reg); err != nil {
		json.WriteBadRequest(w, "Malformed registration request")
		return
	}

	for _, redirectURI := range reg.RedirectURIs {
		if !oauth.IsValidRedirectURI(redirectURI) {
			json.WriteBadRequest(w, fmt.Sprintf("Invalid redirect URI: %q", redirectURI))
			return
		}
	}

	reg.ClientID = uuid.NewString()
	reg.ClientIDIssuedAt = time.Now().Unix()
	reg.TokenEndpointAuthMethod = "none"
	if len(reg.GrantTypes) == 0 {
		reg.GrantTypes = []string{oauth.GrantTypeAuthorizationCode}
	}
	if len(reg.ResponseTypes) == 0 {
		reg.ResponseTypes = []string{"code"}
	}

	log.LogInfoWithFields("oauth", "Client registered", map[string]any{
		"client_id":   reg.ClientID,
		"client_name": reg.ClientName,
	})

	_ = json.WriteResponse(w, http.StatusCreated, reg)
}
