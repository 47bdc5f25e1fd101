package oauth

import (
	"encoding/json"
	"net/http"

	"github.com/agentfront/agent-front/internal/log"
)

// Grant type and token type identifiers used on the wire.
const (
	GrantTypeAuthorizationCode = "authorization_code"

	// GrantTypeTokenExchange is the RFC 8693 token exchange grant.
	GrantTypeTokenExchange = "urn:ietf:params:oauth:grant-type:token-exchange"

	// TokenTypeAccessToken is the RFC 8693 URN for OAuth access tokens,
	// the only subject_token_type the token endpoint accepts.
	TokenTypeAccessToken = "urn:ietf:params:oauth:token-type:access_token"
)

// TokenResponse is the success envelope of the token endpoint.
type TokenResponse struct {
	AccessToken     string `json:"access_token"`
	TokenType       string `json:"token_type"`
	ExpiresIn       int    `json:"expires_in"`
	Scope           string `json:"scope,omitempty"`
	UserID          string `json:"user_id,omitempty"`
	UserEmail       string `json:"user_email,omitempty"`
	IssuedTokenType string `json:"issued_token_type,omitempty"`
}

// WriteTokenResponse writes a token endpoint success response. Credentials
// must never be cached by intermediaries.
func WriteTokenResponse(w http.ResponseWriter, resp *TokenResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.LogError("Failed to encode token response: %v", err)
	}
}
