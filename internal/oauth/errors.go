package oauth

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/agentfront/agent-front/internal/log"
)

// ErrorCode is an OAuth 2.1 error code used verbatim on the wire.
type ErrorCode string

const (
	ErrInvalidRequest       ErrorCode = "invalid_request"
	ErrInvalidGrant         ErrorCode = "invalid_grant"
	ErrUnsupportedGrantType ErrorCode = "unsupported_grant_type"
	ErrServerError          ErrorCode = "server_error"
)

// Error is an OAuth protocol error. It serializes to the standard
// {error, error_description} envelope.
type Error struct {
	Code        ErrorCode `json:"error"`
	Description string    `json:"error_description,omitempty"`
}

func (e *Error) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Description)
	}
	return string(e.Code)
}

func NewError(code ErrorCode, description string) *Error {
	return &Error{Code: code, Description: description}
}

// WriteAuthorizeError reports an authorize-step failure. When the client's
// redirect_uri is known and trusted the error travels back as query
// parameters on a 302; otherwise it is a JSON 400, since redirecting to an
// unvalidated URI would hand the error (and the user) to an attacker.
func WriteAuthorizeError(w http.ResponseWriter, r *http.Request, redirectURI string, state string, oauthErr *Error) {
	if redirectURI == "" || !IsValidRedirectURI(redirectURI) {
		WriteTokenError(w, http.StatusBadRequest, oauthErr)
		return
	}

	u, err := url.Parse(redirectURI)
	if err != nil {
		WriteTokenError(w, http.StatusBadRequest, oauthErr)
		return
	}

	q := u.Query()
	q.Set("error", string(oauthErr.Code))
	if oauthErr.Description != "" {
		q.Set("error_description", oauthErr.Description)
	}
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()

	http.Redirect(w, r, u.String(), http.StatusFound)
}

// WriteTokenError writes a JSON OAuth error envelope.
func WriteTokenError(w http.ResponseWriter, status int, oauthErr *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(oauthErr); err != nil {
		log.LogError("Failed to encode OAuth error response: %v", err)
	}
}
