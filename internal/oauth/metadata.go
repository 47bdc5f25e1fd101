package oauth

import (
	"fmt"

	"github.com/agentfront/agent-front/internal/urlutil"
)

// AuthorizationServerMetadata builds OAuth 2.0 Authorization Server Metadata
// per RFC 8414. The userinfo and JWKS endpoints belong to the upstream
// identity provider; everything else is served by this process.
// https://datatracker.ietf.org/doc/html/rfc8414
func AuthorizationServerMetadata(issuer, identityProviderURL string) (map[string]any, error) {
	if identityProviderURL == "" {
		return nil, fmt.Errorf("identity provider base URL is not configured")
	}

	authzEndpoint, err := urlutil.JoinPath(issuer, "authorize")
	if err != nil {
		return nil, err
	}

	tokenEndpoint, err := urlutil.JoinPath(issuer, "token")
	if err != nil {
		return nil, err
	}

	registerEndpoint, err := urlutil.JoinPath(issuer, "register")
	if err != nil {
		return nil, err
	}

	userinfoEndpoint, err := urlutil.JoinPath(identityProviderURL, "auth", "v1", "user")
	if err != nil {
		return nil, err
	}

	jwksURI, err := urlutil.JoinPath(identityProviderURL, "auth", "v1", ".well-known", "jwks.json")
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"issuer":                 issuer,
		"authorization_endpoint": authzEndpoint,
		"token_endpoint":         tokenEndpoint,
		"userinfo_endpoint":      userinfoEndpoint,
		"jwks_uri":               jwksURI,
		"registration_endpoint":  registerEndpoint,
		"response_types_supported": []string{
			"code",
		},
		"grant_types_supported": []string{
			"authorization_code",
			"refresh_token",
		},
		"code_challenge_methods_supported": []string{
			"S256",
		},
		"scopes_supported": []string{
			"openid",
			"email",
			"profile",
			"mcp:read",
			"mcp:write",
		},
		"token_endpoint_auth_methods_supported": []string{
			"none",
		},
	}, nil
}
