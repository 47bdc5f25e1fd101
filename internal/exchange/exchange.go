// Package exchange turns an upstream identity-provider session token into a
// platform access token by calling the token endpoint with the RFC 8693
// token exchange grant. The proxy uses it to upgrade browser sessions into
// bearer credentials without an interactive flow.
package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/agentfront/agent-front/internal/log"
	"github.com/agentfront/agent-front/internal/oauth"
	"github.com/agentfront/agent-front/internal/urlutil"
)

// Client performs token exchanges against an ordered list of token endpoint
// candidates. The public base URL may not be reachable from inside the
// deployment (hairpin routing), so loopback candidates follow it.
type Client struct {
	endpoints  []string
	httpClient *http.Client
}

func NewClient(endpoints []string) (*Client, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("at least one token endpoint is required")
	}
	return &Client{
		endpoints: endpoints,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}, nil
}

// CandidateEndpoints builds the ordered token endpoint list for a service
// reachable publicly at baseURL and listening locally on addr.
func CandidateEndpoints(baseURL, addr string) []string {
	candidates := []string{urlutil.MustJoinPath(baseURL, "token")}

	if port := listenPort(addr); port != "" {
		local := "http://localhost:" + port + "/token"
		loopback := "http://127.0.0.1:" + port + "/token"
		for _, c := range []string{local, loopback} {
			if c != candidates[0] {
				candidates = append(candidates, c)
			}
		}
	}
	return candidates
}

func listenPort(addr string) string {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return ""
	}
	return port
}

// Exchange redeems the subject token for a platform access token. The
// candidates are tried in order; each failure is remembered and the next
// candidate is attempted, so a single unreachable endpoint never takes the
// proxy down.
func (c *Client) Exchange(ctx context.Context, subjectToken string) (*oauth2.Token, error) {
	if subjectToken == "" {
		return nil, fmt.Errorf("subject token is empty")
	}

	form := url.Values{
		"grant_type":         {oauth.GrantTypeTokenExchange},
		"subject_token":      {subjectToken},
		"subject_token_type": {oauth.TokenTypeAccessToken},
	}

	var lastErr error
	for _, endpoint := range c.endpoints {
		token, err := c.exchangeAt(ctx, endpoint, form)
		if err == nil {
			return token, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		log.LogDebugWithFields("exchange", "Token exchange candidate failed", map[string]any{
			"endpoint": endpoint,
			"error":    err.Error(),
		})
		lastErr = err
	}

	return nil, fmt.Errorf("token exchange failed on all endpoints: %w", lastErr)
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (c *Client) exchangeAt(ctx context.Context, endpoint string, form url.Values) (*oauth2.Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build exchange request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("exchange request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, fmt.Errorf("failed to read exchange response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var oauthErr oauth.Error
		if jsonErr := json.Unmarshal(body, &oauthErr); jsonErr == nil && oauthErr.Code != "" {
			return nil, fmt.Errorf("token endpoint returned %d: %w", resp.StatusCode, &oauthErr)
		}
		return nil, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, body)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("failed to parse exchange response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, errors.New("exchange response missing access_token")
	}

	token := &oauth2.Token{
		AccessToken: tr.AccessToken,
		TokenType:   tr.TokenType,
	}
	if tr.ExpiresIn > 0 {
		token.Expiry = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return token, nil
}
