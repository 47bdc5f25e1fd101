package oauth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthorizationServerMetadata(t *testing.T) {
	meta, err := AuthorizationServerMetadata("https://agents.example.com", "https://abcdefgh.supabase.co")
	require.NoError(t, err)

	assert.Equal(t, "https://agents.example.com", meta["issuer"])
	assert.Equal(t, "https://agents.example.com/authorize", meta["authorization_endpoint"])
	assert.Equal(t, "https://agents.example.com/token", meta["token_endpoint"])
	assert.Equal(t, "https://agents.example.com/register", meta["registration_endpoint"])
	assert.Equal(t, "https://abcdefgh.supabase.co/auth/v1/user", meta["userinfo_endpoint"])
	assert.Equal(t, "https://abcdefgh.supabase.co/auth/v1/.well-known/jwks.json", meta["jwks_uri"])

	assert.Equal(t, []string{"code"}, meta["response_types_supported"])
	assert.Equal(t, []string{"S256"}, meta["code_challenge_methods_supported"])
	assert.Contains(t, meta["grant_types_supported"], "authorization_code")
	assert.Equal(t, []string{"none"}, meta["token_endpoint_auth_methods_supported"])
}

func TestAuthorizationServerMetadataRequiresIdentityProvider(t *testing.T) {
	_, err := AuthorizationServerMetadata("https://agents.example.com", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "identity provider")
}
