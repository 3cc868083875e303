package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/wakelak/wakelak/internal/paths"
)

var ErrNoSessionSecret = errors.New("auth.secret is not set (config file or WAKELAK_AUTH_SECRET)")

// Config holds the full server configuration, loaded from
// ~/.wakelak/config.yaml (or an explicit path) with WAKELAK_* environment
// overrides.
type Config struct {
	Addr   string
	DBPath string

	Auth struct {
		Secret   string
		Email    string
		Password string
		TokenTTL time.Duration
	}

	GitHub struct {
		APIBaseURL    string
		OAuthBaseURL  string
		FallbackToken string
		ClientID      string
		ClientSecret  string
		BotName       string
		BotEmail      string
	}

	AI struct {
		GatewayURL string
		APIKey     string
		Model      string
	}

	Limits struct {
		MaxPromptChars   int
		MaxContentChars  int
		MaxContextTokens int
	}

	UpstreamTimeout time.Duration
}

// Load reads the configuration. path may be empty, in which case
// ~/.wakelak/config.yaml is used if present; a missing config file is fine,
// defaults and environment variables still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("addr", "127.0.0.1:8787")
	v.SetDefault("auth.token_ttl", "24h")
	v.SetDefault("github.api_base_url", "https://api.github.com")
	v.SetDefault("github.oauth_base_url", "https://github.com")
	v.SetDefault("github.bot_name", "wakelak-bot")
	v.SetDefault("github.bot_email", "bot@wakelak.dev")
	v.SetDefault("ai.gateway_url", "https://ai.gateway.lovable.dev/v1")
	v.SetDefault("ai.model", "google/gemini-3-flash-preview")
	v.SetDefault("limits.max_prompt_chars", 8000)
	v.SetDefault("limits.max_content_chars", 1_000_000)
	v.SetDefault("limits.max_context_tokens", 12_000)
	v.SetDefault("upstream_timeout", "15s")

	v.SetEnvPrefix("WAKELAK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else {
		dataDir, err := paths.DataDir()
		if err != nil {
			return nil, fmt.Errorf("resolving data directory: %w", err)
		}
		v.SetConfigName("config")
		v.AddConfigPath(dataDir)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	cfg := &Config{}
	cfg.Addr = v.GetString("addr")
	cfg.DBPath = v.GetString("db_path")
	cfg.Auth.Secret = v.GetString("auth.secret")
	cfg.Auth.Email = strings.ToLower(strings.TrimSpace(v.GetString("auth.email")))
	cfg.Auth.Password = v.GetString("auth.password")
	cfg.Auth.TokenTTL = v.GetDuration("auth.token_ttl")
	cfg.GitHub.APIBaseURL = strings.TrimSuffix(v.GetString("github.api_base_url"), "/")
	cfg.GitHub.OAuthBaseURL = strings.TrimSuffix(v.GetString("github.oauth_base_url"), "/")
	cfg.GitHub.FallbackToken = v.GetString("github.fallback_token")
	cfg.GitHub.ClientID = v.GetString("github.client_id")
	cfg.GitHub.ClientSecret = v.GetString("github.client_secret")
	cfg.GitHub.BotName = v.GetString("github.bot_name")
	cfg.GitHub.BotEmail = v.GetString("github.bot_email")
	cfg.AI.GatewayURL = strings.TrimSuffix(v.GetString("ai.gateway_url"), "/")
	cfg.AI.APIKey = v.GetString("ai.api_key")
	cfg.AI.Model = v.GetString("ai.model")
	cfg.Limits.MaxPromptChars = v.GetInt("limits.max_prompt_chars")
	cfg.Limits.MaxContentChars = v.GetInt("limits.max_content_chars")
	cfg.Limits.MaxContextTokens = v.GetInt("limits.max_context_tokens")
	cfg.UpstreamTimeout = v.GetDuration("upstream_timeout")

	if cfg.Auth.Secret == "" {
		return nil, ErrNoSessionSecret
	}

	if cfg.DBPath == "" {
		dataDir, err := paths.DataDir()
		if err != nil {
			return nil, fmt.Errorf("resolving data directory: %w", err)
		}
		cfg.DBPath = filepath.Join(dataDir, "wakelak.db")
	}

	return cfg, nil
}
