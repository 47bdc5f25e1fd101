package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

// Secret holds a sensitive configuration value. It redacts itself when
// printed so secrets never end up in logs or error messages.
type Secret string

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

// Config is the resolved service configuration. All values come from the
// environment; secrets are never read from files or flags.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string

	// BaseURL is the public URL of this service. It is the OAuth issuer,
	// the base of the interactive login page, and the JWT `iss` claim.
	BaseURL string

	// SupabaseURL is the upstream identity provider base URL.
	SupabaseURL string

	// SupabaseAnonKey authenticates calls to the identity provider API.
	SupabaseAnonKey Secret

	// JWTSecret signs minted access tokens (HS256). Must be at least 32 bytes.
	JWTSecret Secret

	// MCPServerURL is the downstream protected resource the proxy forwards to.
	MCPServerURL string

	// MCPResourceURL overrides the canonical protected-resource URL advertised
	// to clients during login redirects. Defaults to BaseURL + "/mcp".
	MCPResourceURL string

	// TokenTTL is the minted access token lifetime.
	TokenTTL time.Duration

	// CodeLifespan is the authorization code validity window.
	CodeLifespan time.Duration

	// CodeReplayGuard enables the in-process single-use ledger for
	// authorization codes. Disable for multi-instance deployments where
	// codes may be redeemed on a different instance than issued them.
	CodeReplayGuard bool
}

// FromEnv loads and validates configuration from the environment.
func FromEnv() (Config, error) {
	cfg := Config{
		Addr:            envOr("ADDR", ":8080"),
		BaseURL:         strings.TrimRight(os.Getenv("BASE_URL"), "/"),
		SupabaseURL:     strings.TrimRight(os.Getenv("SUPABASE_URL"), "/"),
		SupabaseAnonKey: Secret(os.Getenv("SUPABASE_ANON_KEY")),
		JWTSecret:       Secret(os.Getenv("JWT_SECRET")),
		MCPServerURL:    strings.TrimRight(os.Getenv("MCP_SERVER_URL"), "/"),
		MCPResourceURL:  strings.TrimRight(os.Getenv("MCP_RESOURCE_URL"), "/"),
		TokenTTL:        time.Hour,
		CodeLifespan:    10 * time.Minute,
		CodeReplayGuard: true,
	}

	if ttl := os.Getenv("TOKEN_TTL"); ttl != "" {
		d, err := time.ParseDuration(ttl)
		if err != nil {
			return Config{}, fmt.Errorf("invalid TOKEN_TTL: %w", err)
		}
		cfg.TokenTTL = d
	}

	switch strings.ToLower(os.Getenv("CODE_REPLAY_GUARD")) {
	case "", "on", "true", "1":
	case "off", "false", "0":
		cfg.CodeReplayGuard = false
	default:
		return Config{}, fmt.Errorf("invalid CODE_REPLAY_GUARD: %q (want on or off)", os.Getenv("CODE_REPLAY_GUARD"))
	}

	if err := Validate(&cfg); err != nil {
		return Config{}, err
	}

	if cfg.MCPResourceURL == "" {
		cfg.MCPResourceURL = cfg.BaseURL + "/mcp"
	}

	return cfg, nil
}

// Validate checks the resolved configuration.
func Validate(cfg *Config) error {
	if cfg.BaseURL == "" {
		return fmt.Errorf("BASE_URL is required")
	}
	if err := requireAbsoluteURL("BASE_URL", cfg.BaseURL); err != nil {
		return err
	}
	if cfg.SupabaseURL == "" {
		return fmt.Errorf("SUPABASE_URL is required")
	}
	if err := requireAbsoluteURL("SUPABASE_URL", cfg.SupabaseURL); err != nil {
		return err
	}
	if cfg.SupabaseAnonKey == "" {
		return fmt.Errorf("SUPABASE_ANON_KEY is required")
	}
	if len(cfg.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters (got %d). Generate with: openssl rand -base64 32", len(cfg.JWTSecret))
	}
	if cfg.MCPServerURL == "" {
		return fmt.Errorf("MCP_SERVER_URL is required")
	}
	if err := requireAbsoluteURL("MCP_SERVER_URL", cfg.MCPServerURL); err != nil {
		return err
	}
	if cfg.MCPResourceURL != "" {
		if err := requireAbsoluteURL("MCP_RESOURCE_URL", cfg.MCPResourceURL); err != nil {
			return err
		}
	}
	if cfg.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive")
	}
	if cfg.CodeLifespan <= 0 {
		return fmt.Errorf("code lifespan must be positive")
	}
	return nil
}

func requireAbsoluteURL(name, value string) error {
	u, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must be an absolute http(s) URL, got %q", name, value)
	}
	if u.Host == "" {
		return fmt.Errorf("%s must include a host, got %q", name, value)
	}
	return nil
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
