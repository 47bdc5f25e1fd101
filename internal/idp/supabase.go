// Package idp talks to the upstream identity provider (a Supabase-compatible
// auth service). It owns two concerns: pulling the caller's session token out
// of inbound cookies, and validating tokens against the provider's user-info
// endpoint.
package idp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/agentfront/agent-front/internal/log"
	"github.com/agentfront/agent-front/internal/urlutil"
)

// Identity is the result of resolving a caller's upstream session.
type Identity struct {
	Authenticated bool
	UserID        string
	Email         string
	AccessToken   string
}

// User is the identity provider's user record, as returned by the
// user-info endpoint.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// SupabaseClient is a read-only client for the identity provider. It never
// sets or refreshes cookies: the endpoints using it run in contexts where
// cookie mutation is a no-op.
type SupabaseClient struct {
	baseURL    string
	anonKey    string
	httpClient *http.Client
}

func NewSupabaseClient(baseURL, anonKey string) *SupabaseClient {
	return &SupabaseClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		anonKey: anonKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Resolve determines whether the request carries an active upstream session.
// Any failure — no cookie, unparseable session, rejected token — yields an
// unauthenticated identity rather than an error: a caller without a session
// is routed to interactive login, not to an error page.
func (c *SupabaseClient) Resolve(ctx context.Context, r *http.Request) Identity {
	accessToken := SessionTokenFromCookies(r.Cookies())
	if accessToken == "" {
		return Identity{}
	}

	user, err := c.GetUser(ctx, accessToken)
	if err != nil {
		log.LogDebugWithFields("idp", "Session token rejected by identity provider", map[string]any{
			"error": err.Error(),
		})
		return Identity{}
	}

	return Identity{
		Authenticated: true,
		UserID:        user.ID,
		Email:         user.Email,
		AccessToken:   accessToken,
	}
}

// GetUser validates an access token against the provider's user-info
// endpoint and returns the owning user. A non-2xx response means the token
// is invalid or expired.
func (c *SupabaseClient) GetUser(ctx context.Context, accessToken string) (*User, error) {
	endpoint := urlutil.MustJoinPath(c.baseURL, "auth", "v1", "user")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build user-info request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("apikey", c.anonKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("user-info request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("user-info endpoint returned status %d: %s", resp.StatusCode, body)
	}

	var user User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("failed to decode user-info response: %w", err)
	}
	if user.ID == "" {
		return nil, fmt.Errorf("user-info response missing user id")
	}

	return &user, nil
}

// sessionPayload is the subset of the provider's cookie session we need.
type sessionPayload struct {
	AccessToken string `json:"access_token"`
}

// SessionTokenFromCookies extracts the upstream access token from the
// provider's auth cookies. The cookie is named sb-<ref>-auth-token and may
// be split into ordered chunks (.0, .1, ...) when the session outgrows a
// single cookie; the joined value is either plain JSON or JSON behind a
// "base64-" prefix.
func SessionTokenFromCookies(cookies []*http.Cookie) string {
	whole := make(map[string]string)
	chunks := make(map[string][]chunk)

	for _, ck := range cookies {
		if !strings.HasPrefix(ck.Name, "sb-") {
			continue
		}

		if strings.HasSuffix(ck.Name, "-auth-token") {
			whole[ck.Name] = ck.Value
			continue
		}

		base, idx, ok := splitChunkName(ck.Name)
		if ok {
			chunks[base] = append(chunks[base], chunk{index: idx, value: ck.Value})
		}
	}

	for _, value := range whole {
		if token := tokenFromCookieValue(value); token != "" {
			return token
		}
	}

	for _, parts := range chunks {
		sort.Slice(parts, func(i, j int) bool { return parts[i].index < parts[j].index })
		var joined strings.Builder
		for _, p := range parts {
			joined.WriteString(p.value)
		}
		if token := tokenFromCookieValue(joined.String()); token != "" {
			return token
		}
	}

	return ""
}

type chunk struct {
	index int
	value string
}

// splitChunkName recognizes sb-<ref>-auth-token.<n> names.
func splitChunkName(name string) (base string, index int, ok bool) {
	dot := strings.LastIndexByte(name, '.')
	if dot < 0 {
		return "", 0, false
	}
	base = name[:dot]
	if !strings.HasSuffix(base, "-auth-token") {
		return "", 0, false
	}
	idx := 0
	for _, r := range name[dot+1:] {
		if r < '0' || r > '9' {
			return "", 0, false
		}
		idx = idx*10 + int(r-'0')
	}
	return base, idx, true
}

func tokenFromCookieValue(value string) string {
	if unescaped, err := url.QueryUnescape(value); err == nil {
		value = unescaped
	}

	if rest, found := strings.CutPrefix(value, "base64-"); found {
		decoded, err := base64.RawURLEncoding.DecodeString(rest)
		if err != nil {
			// Some writers pad the payload.
			decoded, err = base64.URLEncoding.DecodeString(rest)
		}
		if err != nil {
			return ""
		}
		value = string(decoded)
	}

	var session sessionPayload
	if err := json.Unmarshal([]byte(value), &session); err != nil {
		return ""
	}
	return session.AccessToken
}
