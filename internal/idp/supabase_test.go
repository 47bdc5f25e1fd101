package idp

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUserInfoServer(t *testing.T, validToken string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/v1/user", r.URL.Path)
		require.NotEmpty(t, r.Header.Get("apikey"))

		if r.Header.Get("Authorization") != "Bearer "+validToken {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"msg":"invalid token"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"u1","email":"u1@example.com"}`))
	}))
}

func TestGetUser(t *testing.T) {
	srv := newUserInfoServer(t, "good-token")
	defer srv.Close()

	client := NewSupabaseClient(srv.URL, "anon-key")

	t.Run("valid token", func(t *testing.T) {
		user, err := client.GetUser(context.Background(), "good-token")
		require.NoError(t, err)
		assert.Equal(t, "u1", user.ID)
		assert.Equal(t, "u1@example.com", user.Email)
	})

	t.Run("rejected token", func(t *testing.T) {
		_, err := client.GetUser(context.Background(), "bad-token")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 401")
	})
}

func sessionCookie(name, accessToken string) *http.Cookie {
	return &http.Cookie{
		Name:  name,
		Value: url.QueryEscape(`{"access_token":"` + accessToken + `","token_type":"bearer"}`),
	}
}

func TestSessionTokenFromCookies(t *testing.T) {
	t.Run("plain JSON cookie", func(t *testing.T) {
		cookies := []*http.Cookie{sessionCookie("sb-abcdefgh-auth-token", "tok-1")}
		assert.Equal(t, "tok-1", SessionTokenFromCookies(cookies))
	})

	t.Run("base64 prefixed cookie", func(t *testing.T) {
		payload := base64.RawURLEncoding.EncodeToString([]byte(`{"access_token":"tok-2"}`))
		cookies := []*http.Cookie{{Name: "sb-abcdefgh-auth-token", Value: "base64-" + payload}}
		assert.Equal(t, "tok-2", SessionTokenFromCookies(cookies))
	})

	t.Run("chunked cookies joined in order", func(t *testing.T) {
		value := url.QueryEscape(`{"access_token":"tok-3","token_type":"bearer"}`)
		mid := len(value) / 2
		cookies := []*http.Cookie{
			{Name: "sb-abcdefgh-auth-token.1", Value: value[mid:]},
			{Name: "sb-abcdefgh-auth-token.0", Value: value[:mid]},
		}
		assert.Equal(t, "tok-3", SessionTokenFromCookies(cookies))
	})

	t.Run("unrelated cookies ignored", func(t *testing.T) {
		cookies := []*http.Cookie{
			{Name: "theme", Value: "dark"},
			{Name: "sb-abcdefgh-csrf", Value: "nope"},
		}
		assert.Empty(t, SessionTokenFromCookies(cookies))
	})

	t.Run("malformed session JSON", func(t *testing.T) {
		cookies := []*http.Cookie{{Name: "sb-abcdefgh-auth-token", Value: "{not json"}}
		assert.Empty(t, SessionTokenFromCookies(cookies))
	})

	t.Run("no cookies", func(t *testing.T) {
		assert.Empty(t, SessionTokenFromCookies(nil))
	})
}

func TestResolve(t *testing.T) {
	srv := newUserInfoServer(t, "good-token")
	defer srv.Close()

	client := NewSupabaseClient(srv.URL, "anon-key")

	t.Run("active session", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/authorize", nil)
		r.AddCookie(sessionCookie("sb-abcdefgh-auth-token", "good-token"))

		identity := client.Resolve(context.Background(), r)
		assert.True(t, identity.Authenticated)
		assert.Equal(t, "u1", identity.UserID)
		assert.Equal(t, "u1@example.com", identity.Email)
		assert.Equal(t, "good-token", identity.AccessToken)
	})

	t.Run("no session cookie", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/authorize", nil)
		identity := client.Resolve(context.Background(), r)
		assert.False(t, identity.Authenticated)
	})

	t.Run("stale session token treated as unauthenticated", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/authorize", nil)
		r.AddCookie(sessionCookie("sb-abcdefgh-auth-token", "expired-token"))

		identity := client.Resolve(context.Background(), r)
		assert.False(t, identity.Authenticated)
		assert.Empty(t, identity.AccessToken)
	})
}
