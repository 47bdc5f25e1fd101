package oauth

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/agentfront/agent-front/internal/idp"
	"github.com/agentfront/agent-front/internal/token"
)

// DefaultRequestScope is assumed when an authorize request carries no scope.
const DefaultRequestScope = "openid email profile"

// AuthorizationServer implements the authorize and token state machines.
// It holds no per-request state: everything a redemption needs travels
// inside the authorization code itself.
type AuthorizationServer struct {
	minter       *token.Minter
	codeLifespan time.Duration
	ledger       *CodeLedger
}

type AuthorizationServerConfig struct {
	Minter       *token.Minter
	CodeLifespan time.Duration

	// ReplayGuard enables single-use enforcement for authorization codes
	// within this process.
	ReplayGuard bool
}

func NewAuthorizationServer(cfg AuthorizationServerConfig) (*AuthorizationServer, error) {
	if cfg.Minter == nil {
		return nil, fmt.Errorf("token minter is required")
	}
	if cfg.CodeLifespan == 0 {
		cfg.CodeLifespan = 10 * time.Minute
	}

	s := &AuthorizationServer{
		minter:       cfg.Minter,
		codeLifespan: cfg.CodeLifespan,
	}
	if cfg.ReplayGuard {
		s.ledger = NewCodeLedger()
	}
	return s, nil
}

// AuthorizeParams is a validated /authorize request.
type AuthorizeParams struct {
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// IsValidRedirectURI applies the redirect target policy: https anywhere,
// plain http only for loopback clients (localhost or 127.0.0.1).
func IsValidRedirectURI(redirectURI string) bool {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "https":
		return u.Host != ""
	case "http":
		host := u.Hostname()
		return host == "localhost" || host == "127.0.0.1"
	default:
		return false
	}
}

// ValidateAuthorizeParams checks an /authorize query in the order the
// protocol requires. Each failure short-circuits; the caller decides
// between an error redirect and a JSON 400 based on whether the supplied
// redirect_uri itself passed validation.
func (s *AuthorizationServer) ValidateAuthorizeParams(q url.Values) (*AuthorizeParams, *Error) {
	if q.Get("response_type") != "code" {
		return nil, NewError(ErrInvalidRequest, "response_type must be 'code'")
	}

	clientID := q.Get("client_id")
	if clientID == "" {
		return nil, NewError(ErrInvalidRequest, "client_id is required")
	}

	redirectURI := q.Get("redirect_uri")
	if redirectURI == "" {
		return nil, NewError(ErrInvalidRequest, "redirect_uri is required")
	}
	if !IsValidRedirectURI(redirectURI) {
		return nil, NewError(ErrInvalidRequest, "redirect_uri must be https, or http on localhost")
	}

	codeChallenge := q.Get("code_challenge")
	codeChallengeMethod := q.Get("code_challenge_method")
	if codeChallenge != "" && codeChallengeMethod != "S256" {
		return nil, NewError(ErrInvalidRequest, "only code_challenge_method=S256 is supported")
	}

	scope := strings.TrimSpace(q.Get("scope"))
	if scope == "" {
		scope = DefaultRequestScope
	}

	return &AuthorizeParams{
		ClientID:            clientID,
		RedirectURI:         redirectURI,
		Scope:               scope,
		State:               q.Get("state"),
		CodeChallenge:       codeChallenge,
		CodeChallengeMethod: codeChallengeMethod,
	}, nil
}

// IssueCode builds and encodes an authorization code for the request. The
// code is issued even for unauthenticated callers so the interactive login
// step can carry the request forward and re-enter the flow.
func (s *AuthorizationServer) IssueCode(params *AuthorizeParams, identity idp.Identity) (string, error) {
	now := time.Now()
	req := &AuthorizationRequest{
		ClientID:            params.ClientID,
		RedirectURI:         params.RedirectURI,
		Scope:               params.Scope,
		State:               params.State,
		CodeChallenge:       params.CodeChallenge,
		CodeChallengeMethod: params.CodeChallengeMethod,
		CreatedAt:           now.UnixMilli(),
		ExpiresAt:           now.Add(s.codeLifespan).UnixMilli(),
	}
	if identity.Authenticated {
		req.UserID = identity.UserID
		req.UserEmail = identity.Email
		req.UpstreamAccessToken = identity.AccessToken
	}
	return EncodeCode(req)
}

// CodeExchange is a token request under the authorization_code grant.
type CodeExchange struct {
	Code         string
	ClientID     string
	RedirectURI  string
	CodeVerifier string
	Scope        string
}

// RedeemCode runs the full redemption state machine for an authorization
// code and mints the platform access token. Validation is strictly ordered
// and nothing is minted until every check has passed.
func (s *AuthorizationServer) RedeemCode(x *CodeExchange) (*TokenResponse, *Error) {
	if x.Code == "" || x.ClientID == "" {
		return nil, NewError(ErrInvalidRequest, "code and client_id are required")
	}

	authData, err := DecodeCode(x.Code)
	if err != nil {
		return nil, NewError(ErrInvalidGrant, "Invalid authorization code")
	}

	if authData.Expired(time.Now()) {
		return nil, NewError(ErrInvalidGrant, "Authorization code has expired")
	}

	if authData.ClientID != x.ClientID {
		return nil, NewError(ErrInvalidGrant, "client_id does not match")
	}

	if x.RedirectURI != "" && x.RedirectURI != authData.RedirectURI {
		return nil, NewError(ErrInvalidGrant, "redirect_uri does not match")
	}

	if authData.CodeChallenge != "" {
		if x.CodeVerifier == "" {
			return nil, NewError(ErrInvalidRequest, "code_verifier is required")
		}
		if !VerifyPKCE(x.CodeVerifier, authData.CodeChallenge) {
			return nil, NewError(ErrInvalidGrant, "Invalid code_verifier")
		}
	}

	if authData.UpstreamAccessToken == "" {
		return nil, NewError(ErrInvalidGrant, "No valid session found for this authorization code")
	}

	if s.ledger != nil {
		if !s.ledger.MarkRedeemed(CodePrefix(x.Code), time.UnixMilli(authData.ExpiresAt)) {
			return nil, NewError(ErrInvalidGrant, "Authorization code has already been used")
		}
	}

	scope := x.Scope
	if scope == "" {
		scope = token.DefaultScope
	}

	accessToken, err := s.minter.Mint(authData.UserID, authData.UserEmail, authData.UpstreamAccessToken, scope)
	if err != nil {
		return nil, NewError(ErrServerError, "Failed to mint access token")
	}

	return &TokenResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int(s.minter.TTL().Seconds()),
		Scope:       scope,
		UserID:      authData.UserID,
		UserEmail:   authData.UserEmail,
	}, nil
}

// ExchangeSubjectToken mints a platform access token for an already
// validated upstream identity (RFC 8693 token exchange). The subject token
// is embedded as the downstream credential.
func (s *AuthorizationServer) ExchangeSubjectToken(user *idp.User, subjectToken string) (*TokenResponse, *Error) {
	accessToken, err := s.minter.Mint(user.ID, user.Email, subjectToken, token.DefaultScope)
	if err != nil {
		return nil, NewError(ErrServerError, "Failed to mint access token")
	}

	return &TokenResponse{
		AccessToken:     accessToken,
		TokenType:       "Bearer",
		ExpiresIn:       int(s.minter.TTL().Seconds()),
		Scope:           token.DefaultScope,
		IssuedTokenType: TokenTypeAccessToken,
	}, nil
}
