// Package config loads process configuration from the environment, an
// optional .env file, and an optional config file. Read once at
// startup; a Config is immutable afterwards.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	ListenAddr   string `mapstructure:"listen_addr"`
	DatabasePath string `mapstructure:"database_path"`

	Upstream  Upstream  `mapstructure:"upstream"`
	Auth      Auth      `mapstructure:"auth"`
	RateLimit RateLimit `mapstructure:"rate_limit"`

	PromptDir         string `mapstructure:"prompt_dir"`
	TranscriptDir     string `mapstructure:"transcript_dir"`
	TranscriptEnabled bool   `mapstructure:"transcript_enabled"`
}

// Upstream configures the chat completion API connection.
type Upstream struct {
	BaseURL     string  `mapstructure:"base_url"`
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

type Auth struct {
	JWTSecret   string        `mapstructure:"jwt_secret"`
	TokenExpiry time.Duration `mapstructure:"token_expiry"`
}

type RateLimit struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// Load reads configuration. Environment variables use the TRIPMIND_
// prefix with underscores for nesting (TRIPMIND_UPSTREAM_API_KEY); a
// .env file in the working directory is applied first when present.
func Load(path string) (*Config, error) {
	// Missing .env is the common case, not an error.
	_ = godotenv.Load()

	v := viper.New()
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("database_path", "tripmind.db")
	v.SetDefault("upstream.base_url", "https://api.deepseek.com/v1")
	// Keys must exist for AutomaticEnv to surface them in Unmarshal.
	v.SetDefault("upstream.api_key", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("upstream.model", "deepseek-chat")
	v.SetDefault("upstream.temperature", 0.7)
	v.SetDefault("upstream.max_tokens", 2000)
	v.SetDefault("auth.token_expiry", 24*time.Hour)
	v.SetDefault("rate_limit.requests", 60)
	v.SetDefault("rate_limit.window", time.Minute)
	v.SetDefault("prompt_dir", "prompts")
	v.SetDefault("transcript_dir", "transcripts")
	v.SetDefault("transcript_enabled", false)

	v.SetEnvPrefix("TRIPMIND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.Upstream.APIKey == "" {
		return nil, fmt.Errorf("upstream API key is required (TRIPMIND_UPSTREAM_API_KEY)")
	}
	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("JWT secret is required (TRIPMIND_AUTH_JWT_SECRET)")
	}

	return &cfg, nil
}
