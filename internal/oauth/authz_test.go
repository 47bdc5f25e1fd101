package oauth

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentfront/agent-front/internal/idp"
	"github.com/agentfront/agent-front/internal/token"
)

func newTestServer(t *testing.T, replayGuard bool) *AuthorizationServer {
	t.Helper()
	minter, err := token.NewMinter([]byte(strings.Repeat("s", 32)), "https://agents.example.com", time.Hour)
	require.NoError(t, err)

	s, err := NewAuthorizationServer(AuthorizationServerConfig{
		Minter:      minter,
		ReplayGuard: replayGuard,
	})
	require.NoError(t, err)
	return s
}

func authorizeQuery() url.Values {
	verifier := strings.Repeat("v", 43)
	return url.Values{
		"response_type":         {"code"},
		"client_id":             {"client-1"},
		"redirect_uri":          {"https://app.example.com/callback"},
		"state":                 {"xyz"},
		"code_challenge":        {challengeFor(verifier)},
		"code_challenge_method": {"S256"},
	}
}

func activeIdentity() idp.Identity {
	return idp.Identity{
		Authenticated: true,
		UserID:        "u1",
		Email:         "u1@example.com",
		AccessToken:   "sb-token",
	}
}

func TestIsValidRedirectURI(t *testing.T) {
	cases := []struct {
		uri   string
		valid bool
	}{
		{"https://app.example.com/callback", true},
		{"https://app.example.com", true},
		{"http://localhost:3000/callback", true},
		{"http://127.0.0.1:8123/cb", true},
		{"http://localhost/cb", true},
		{"http://evil.example.com/callback", false},
		{"http://192.168.1.1/cb", false},
		{"ftp://app.example.com", false},
		{"custom-scheme://callback", false},
		{"https://", false},
		{"not a url", false},
		{"", false},
	}

	for _, tc := range cases {
		t.Run(tc.uri, func(t *testing.T) {
			assert.Equal(t, tc.valid, IsValidRedirectURI(tc.uri))
		})
	}
}

func TestValidateAuthorizeParams(t *testing.T) {
	s := newTestServer(t, false)

	t.Run("valid request", func(t *testing.T) {
		params, oauthErr := s.ValidateAuthorizeParams(authorizeQuery())
		require.Nil(t, oauthErr)
		assert.Equal(t, "client-1", params.ClientID)
		assert.Equal(t, "https://app.example.com/callback", params.RedirectURI)
		assert.Equal(t, "xyz", params.State)
		assert.Equal(t, "S256", params.CodeChallengeMethod)
	})

	t.Run("scope defaults when absent", func(t *testing.T) {
		params, oauthErr := s.ValidateAuthorizeParams(authorizeQuery())
		require.Nil(t, oauthErr)
		assert.Equal(t, "openid email profile", params.Scope)
	})

	t.Run("explicit scope preserved", func(t *testing.T) {
		q := authorizeQuery()
		q.Set("scope", "openid mcp:read")
		params, oauthErr := s.ValidateAuthorizeParams(q)
		require.Nil(t, oauthErr)
		assert.Equal(t, "openid mcp:read", params.Scope)
	})

	t.Run("wrong response_type", func(t *testing.T) {
		q := authorizeQuery()
		q.Set("response_type", "token")
		_, oauthErr := s.ValidateAuthorizeParams(q)
		require.NotNil(t, oauthErr)
		assert.Equal(t, ErrInvalidRequest, oauthErr.Code)
		assert.Contains(t, oauthErr.Description, "response_type")
	})

	t.Run("missing client_id", func(t *testing.T) {
		q := authorizeQuery()
		q.Del("client_id")
		_, oauthErr := s.ValidateAuthorizeParams(q)
		require.NotNil(t, oauthErr)
		assert.Contains(t, oauthErr.Description, "client_id")
	})

	t.Run("missing redirect_uri", func(t *testing.T) {
		q := authorizeQuery()
		q.Del("redirect_uri")
		_, oauthErr := s.ValidateAuthorizeParams(q)
		require.NotNil(t, oauthErr)
		assert.Contains(t, oauthErr.Description, "redirect_uri")
	})

	t.Run("untrusted redirect_uri", func(t *testing.T) {
		q := authorizeQuery()
		q.Set("redirect_uri", "http://evil.example.com/cb")
		_, oauthErr := s.ValidateAuthorizeParams(q)
		require.NotNil(t, oauthErr)
		assert.Equal(t, ErrInvalidRequest, oauthErr.Code)
	})

	t.Run("plain challenge method rejected", func(t *testing.T) {
		q := authorizeQuery()
		q.Set("code_challenge_method", "plain")
		_, oauthErr := s.ValidateAuthorizeParams(q)
		require.NotNil(t, oauthErr)
		assert.Contains(t, oauthErr.Description, "S256")
	})

	t.Run("challenge without method rejected", func(t *testing.T) {
		q := authorizeQuery()
		q.Del("code_challenge_method")
		_, oauthErr := s.ValidateAuthorizeParams(q)
		require.NotNil(t, oauthErr)
	})

	t.Run("no challenge at all is allowed", func(t *testing.T) {
		q := authorizeQuery()
		q.Del("code_challenge")
		q.Del("code_challenge_method")
		params, oauthErr := s.ValidateAuthorizeParams(q)
		require.Nil(t, oauthErr)
		assert.Empty(t, params.CodeChallenge)
	})
}

func issueTestCode(t *testing.T, s *AuthorizationServer, identity idp.Identity) string {
	t.Helper()
	params, oauthErr := s.ValidateAuthorizeParams(authorizeQuery())
	require.Nil(t, oauthErr)
	code, err := s.IssueCode(params, identity)
	require.NoError(t, err)
	return code
}

func TestRedeemCode(t *testing.T) {
	verifier := strings.Repeat("v", 43)

	t.Run("full happy path", func(t *testing.T) {
		s := newTestServer(t, false)
		code := issueTestCode(t, s, activeIdentity())

		resp, oauthErr := s.RedeemCode(&CodeExchange{
			Code:         code,
			ClientID:     "client-1",
			RedirectURI:  "https://app.example.com/callback",
			CodeVerifier: verifier,
		})
		require.Nil(t, oauthErr)
		assert.Equal(t, "Bearer", resp.TokenType)
		assert.Equal(t, 3600, resp.ExpiresIn)
		assert.Equal(t, "mcp:read mcp:write", resp.Scope)
		assert.Equal(t, "u1", resp.UserID)
		assert.Equal(t, "u1@example.com", resp.UserEmail)
		assert.NotEmpty(t, resp.AccessToken)
	})

	t.Run("redirect_uri may be omitted at redemption", func(t *testing.T) {
		s := newTestServer(t, false)
		code := issueTestCode(t, s, activeIdentity())

		_, oauthErr := s.RedeemCode(&CodeExchange{
			Code:         code,
			ClientID:     "client-1",
			CodeVerifier: verifier,
		})
		assert.Nil(t, oauthErr)
	})

	t.Run("requested scope carried into token", func(t *testing.T) {
		s := newTestServer(t, false)
		code := issueTestCode(t, s, activeIdentity())

		resp, oauthErr := s.RedeemCode(&CodeExchange{
			Code:         code,
			ClientID:     "client-1",
			CodeVerifier: verifier,
			Scope:        "mcp:read",
		})
		require.Nil(t, oauthErr)
		assert.Equal(t, "mcp:read", resp.Scope)
	})

	t.Run("missing code", func(t *testing.T) {
		s := newTestServer(t, false)
		_, oauthErr := s.RedeemCode(&CodeExchange{ClientID: "client-1"})
		require.NotNil(t, oauthErr)
		assert.Equal(t, ErrInvalidRequest, oauthErr.Code)
	})

	t.Run("missing client_id", func(t *testing.T) {
		s := newTestServer(t, false)
		code := issueTestCode(t, s, activeIdentity())
		_, oauthErr := s.RedeemCode(&CodeExchange{Code: code})
		require.NotNil(t, oauthErr)
		assert.Equal(t, ErrInvalidRequest, oauthErr.Code)
	})

	t.Run("garbage code", func(t *testing.T) {
		s := newTestServer(t, false)
		_, oauthErr := s.RedeemCode(&CodeExchange{Code: "garbage", ClientID: "client-1"})
		require.NotNil(t, oauthErr)
		assert.Equal(t, ErrInvalidGrant, oauthErr.Code)
		assert.Contains(t, oauthErr.Description, "Invalid authorization code")
	})

	t.Run("expired code", func(t *testing.T) {
		s := newTestServer(t, false)
		now := time.Now()
		req := testAuthRequest(now)
		req.ExpiresAt = now.Add(-time.Minute).UnixMilli()
		code, err := EncodeCode(req)
		require.NoError(t, err)

		_, oauthErr := s.RedeemCode(&CodeExchange{
			Code:         code,
			ClientID:     "client-1",
			CodeVerifier: verifier,
		})
		require.NotNil(t, oauthErr)
		assert.Equal(t, ErrInvalidGrant, oauthErr.Code)
		assert.Contains(t, oauthErr.Description, "expired")
	})

	t.Run("client_id mismatch", func(t *testing.T) {
		s := newTestServer(t, false)
		code := issueTestCode(t, s, activeIdentity())

		_, oauthErr := s.RedeemCode(&CodeExchange{
			Code:         code,
			ClientID:     "someone-else",
			CodeVerifier: verifier,
		})
		require.NotNil(t, oauthErr)
		assert.Equal(t, ErrInvalidGrant, oauthErr.Code)
		assert.Contains(t, oauthErr.Description, "client_id")
	})

	t.Run("redirect_uri mismatch", func(t *testing.T) {
		s := newTestServer(t, false)
		code := issueTestCode(t, s, activeIdentity())

		_, oauthErr := s.RedeemCode(&CodeExchange{
			Code:         code,
			ClientID:     "client-1",
			RedirectURI:  "https://other.example.com/callback",
			CodeVerifier: verifier,
		})
		require.NotNil(t, oauthErr)
		assert.Equal(t, ErrInvalidGrant, oauthErr.Code)
		assert.Contains(t, oauthErr.Description, "redirect_uri")
	})

	t.Run("missing verifier when challenge embedded", func(t *testing.T) {
		s := newTestServer(t, false)
		code := issueTestCode(t, s, activeIdentity())

		_, oauthErr := s.RedeemCode(&CodeExchange{
			Code:     code,
			ClientID: "client-1",
		})
		require.NotNil(t, oauthErr)
		assert.Equal(t, ErrInvalidRequest, oauthErr.Code)
		assert.Contains(t, oauthErr.Description, "code_verifier")
	})

	t.Run("wrong verifier", func(t *testing.T) {
		s := newTestServer(t, false)
		code := issueTestCode(t, s, activeIdentity())

		_, oauthErr := s.RedeemCode(&CodeExchange{
			Code:         code,
			ClientID:     "client-1",
			CodeVerifier: strings.Repeat("w", 43),
		})
		require.NotNil(t, oauthErr)
		assert.Equal(t, ErrInvalidGrant, oauthErr.Code)
		assert.Contains(t, oauthErr.Description, "code_verifier")
	})

	t.Run("code without upstream session", func(t *testing.T) {
		s := newTestServer(t, false)
		code := issueTestCode(t, s, idp.Identity{})

		_, oauthErr := s.RedeemCode(&CodeExchange{
			Code:         code,
			ClientID:     "client-1",
			CodeVerifier: verifier,
		})
		require.NotNil(t, oauthErr)
		assert.Equal(t, ErrInvalidGrant, oauthErr.Code)
		assert.Contains(t, oauthErr.Description, "session")
	})

	t.Run("replay rejected when guard enabled", func(t *testing.T) {
		s := newTestServer(t, true)
		code := issueTestCode(t, s, activeIdentity())
		x := &CodeExchange{
			Code:         code,
			ClientID:     "client-1",
			CodeVerifier: verifier,
		}

		_, oauthErr := s.RedeemCode(x)
		require.Nil(t, oauthErr)

		_, oauthErr = s.RedeemCode(x)
		require.NotNil(t, oauthErr)
		assert.Equal(t, ErrInvalidGrant, oauthErr.Code)
		assert.Contains(t, oauthErr.Description, "already been used")
	})

	t.Run("replay allowed when guard disabled", func(t *testing.T) {
		s := newTestServer(t, false)
		code := issueTestCode(t, s, activeIdentity())
		x := &CodeExchange{
			Code:         code,
			ClientID:     "client-1",
			CodeVerifier: verifier,
		}

		_, oauthErr := s.RedeemCode(x)
		require.Nil(t, oauthErr)
		_, oauthErr = s.RedeemCode(x)
		assert.Nil(t, oauthErr)
	})
}

func TestExchangeSubjectToken(t *testing.T) {
	s := newTestServer(t, false)

	resp, oauthErr := s.ExchangeSubjectToken(&idp.User{ID: "u1", Email: "u1@example.com"}, "sb-token")
	require.Nil(t, oauthErr)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, "mcp:read mcp:write", resp.Scope)
	assert.Equal(t, TokenTypeAccessToken, resp.IssuedTokenType)
	assert.NotEmpty(t, resp.AccessToken)
}

func TestIssueCodeWithoutIdentity(t *testing.T) {
	s := newTestServer(t, false)
	code := issueTestCode(t, s, idp.Identity{})

	decoded, err := DecodeCode(code)
	require.NoError(t, err)
	assert.Empty(t, decoded.UserID)
	assert.Empty(t, decoded.UpstreamAccessToken)
	assert.Equal(t, "client-1", decoded.ClientID)
}
