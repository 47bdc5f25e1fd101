// Package token mints and verifies the platform access tokens presented to
// the MCP server. Tokens are compact HS256 JWTs carrying the caller's
// identity, granted scope, and the upstream session token the MCP server
// needs for downstream calls.
package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Audience is the fixed aud claim of every minted token.
const Audience = "mcp"

// DefaultScope is the credential scope applied when a token request
// carries none.
const DefaultScope = "mcp:read mcp:write"

// Claims is the signed payload of a platform access token.
type Claims struct {
	Email               string `json:"email,omitempty"`
	Scope               string `json:"scope,omitempty"`
	UpstreamAccessToken string `json:"sb_at,omitempty"`
	jwt.RegisteredClaims
}

// Minter signs and verifies platform access tokens with a single shared
// secret. No key rotation and no kid header: the downstream verifier relies
// on exactly this contract.
type Minter struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

func NewMinter(secret []byte, issuer string, ttl time.Duration) (*Minter, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("signing secret must be at least 32 bytes, got %d", len(secret))
	}
	if issuer == "" {
		return nil, fmt.Errorf("issuer is required")
	}
	if ttl == 0 {
		ttl = time.Hour
	}
	return &Minter{secret: secret, issuer: issuer, ttl: ttl}, nil
}

// TTL returns the configured token lifetime.
func (m *Minter) TTL() time.Duration {
	return m.ttl
}

// Mint signs an access token for the given identity. upstreamToken is
// embedded as sb_at so the MCP server can call the identity provider's
// APIs on the user's behalf.
func (m *Minter) Mint(userID, email, upstreamToken, scope string) (string, error) {
	if scope == "" {
		scope = DefaultScope
	}

	now := time.Now()
	claims := Claims{
		Email:               email,
		Scope:               scope,
		UpstreamAccessToken: upstreamToken,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Audience:  jwt.ClaimStrings{Audience},
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a minted token: HS256 only, issuer and
// audience pinned, expiry enforced.
func (m *Minter) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(m.issuer),
		jwt.WithAudience(Audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid access token: %w", err)
	}
	return claims, nil
}
