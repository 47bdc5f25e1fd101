package oauth

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AuthorizationRequest carries the full state of an /authorize request.
// It is never persisted: the encoded form IS the authorization code, so
// redemption on any instance can validate it without shared storage.
type AuthorizationRequest struct {
	ClientID            string `json:"client_id"`
	RedirectURI         string `json:"redirect_uri"`
	Scope               string `json:"scope"`
	State               string `json:"state,omitempty"`
	CodeChallenge       string `json:"code_challenge,omitempty"`
	CodeChallengeMethod string `json:"code_challenge_method,omitempty"`

	// CreatedAt and ExpiresAt are epoch milliseconds.
	CreatedAt int64 `json:"created_at"`
	ExpiresAt int64 `json:"expires_at"`

	// Identity fields are set only when the caller had an active upstream
	// session at authorize time.
	UserID              string `json:"user_id,omitempty"`
	UserEmail           string `json:"user_email,omitempty"`
	UpstreamAccessToken string `json:"upstream_access_token,omitempty"`
}

// Expired reports whether the code's validity window has passed.
func (r *AuthorizationRequest) Expired(now time.Time) bool {
	return now.UnixMilli() > r.ExpiresAt
}

// CodePrefix derives the ledger key for a code: the random prefix before
// the first dot.
func CodePrefix(code string) string {
	prefix, _, _ := strings.Cut(code, ".")
	return prefix
}

// EncodeCode serializes an AuthorizationRequest into the wire form
// <random-prefix>.<base64url(JSON)>. The prefix provides human-readable
// uniqueness only; every validation runs against the decoded payload.
func EncodeCode(req *AuthorizationRequest) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal authorization request: %w", err)
	}

	prefix := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + "." + base64.RawURLEncoding.EncodeToString(payload), nil
}

// DecodeCode parses a wire-form authorization code back into its request.
// Every malformation (missing separator, bad base64, bad JSON, missing
// required fields) returns an error the caller maps to invalid_grant.
func DecodeCode(code string) (*AuthorizationRequest, error) {
	prefix, encoded, found := strings.Cut(code, ".")
	if !found || prefix == "" || encoded == "" {
		return nil, fmt.Errorf("malformed authorization code")
	}

	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode authorization code: %w", err)
	}

	var req AuthorizationRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("failed to parse authorization code: %w", err)
	}

	// Schema validation at the decode boundary so malformed input fails
	// here instead of surfacing as empty fields mid-flow.
	if req.ClientID == "" {
		return nil, fmt.Errorf("authorization code missing client_id")
	}
	if req.RedirectURI == "" {
		return nil, fmt.Errorf("authorization code missing redirect_uri")
	}
	if req.ExpiresAt <= 0 {
		return nil, fmt.Errorf("authorization code missing expiry")
	}

	return &req, nil
}
