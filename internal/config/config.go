// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`

	// Redis（並び順設定の永続化）
	RedisURL string `env:"REDIS_URL,required,notEmpty"`

	// OAuth（未設定のプロバイダは無効）
	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL  string `env:"GOOGLE_REDIRECT_URL"`

	OIDCProviderName string `env:"OIDC_PROVIDER_NAME" envDefault:"github"`
	OIDCIssuerURL    string `env:"OIDC_ISSUER_URL"`
	OIDCClientID     string `env:"OIDC_CLIENT_ID"`
	OIDCClientSecret string `env:"OIDC_CLIENT_SECRET"`
	OIDCRedirectURL  string `env:"OIDC_REDIRECT_URL"`

	// Session
	SessionSecret        string `env:"SESSION_SECRET,required,notEmpty"`
	SessionMaxAge        int    `env:"SESSION_MAX_AGE" envDefault:"604800"`
	SessionRetentionDays int    `env:"SESSION_RETENTION_DAYS" envDefault:"7"`

	// Rate Limit（1分あたりのリクエスト数）
	RateLimitGeneral int `env:"RATE_LIMIT_GENERAL" envDefault:"120"`
	RateLimitAuth    int `env:"RATE_LIMIT_AUTH" envDefault:"10"`

	// Workspace
	WorkspaceIdleTTL time.Duration `env:"WORKSPACE_IDLE_TTL" envDefault:"30m"`

	// Change feed
	ListenerMinReconnect time.Duration `env:"LISTENER_MIN_RECONNECT" envDefault:"10s"`
	ListenerMaxReconnect time.Duration `env:"LISTENER_MAX_RECONNECT" envDefault:"1m"`

	// Avatar
	AvatarVerify       bool          `env:"AVATAR_VERIFY" envDefault:"false"`
	AvatarFetchTimeout time.Duration `env:"AVATAR_FETCH_TIMEOUT" envDefault:"5s"`

	// Server
	ServerPort string `env:"PORT" envDefault:"8080"`
	BaseURL    string `env:"BASE_URL,required,notEmpty"`

	// Cookie
	CookieSecure bool   // BASE_URLから導出
	CookieDomain string `env:"COOKIE_DOMAIN"`

	// CORS
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN" envDefault:"http://localhost:3000"`
}

// GoogleEnabled はGoogleログインが設定されているかを返す。
func (c *Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// OIDCEnabled は汎用OIDCログインが設定されているかを返す。
func (c *Config) OIDCEnabled() bool {
	return c.OIDCIssuerURL != "" && c.OIDCClientID != ""
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合は、未設定の変数をすべて含むエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	return cfg, nil
}
