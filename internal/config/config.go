// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"golang.org/x/crypto/bcrypt"
)

// StorageMode はタスクとユーザーの保存先。
type StorageMode string

const (
	// StorageDurable はPostgreSQLに保存する。
	StorageDurable StorageMode = "durable"
	// StorageDegraded はプロセス内メモリに保存する。再起動で内容は失われる。
	StorageDegraded StorageMode = "degraded"
)

const (
	// MaxTokenTTL はトークン有効期間の上限。
	MaxTokenTTL = 24 * time.Hour
	// MinJWTSecretLength は署名鍵の最小バイト数。
	MinJWTSecretLength = 32
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Storage
	StorageMode           StorageMode `env:"STORAGE_MODE" env-default:"durable"`
	DatabaseURL           string      `env:"DATABASE_URL"`
	AllowDegradedFallback bool        `env:"ALLOW_DEGRADED_FALLBACK" env-default:"false"`

	// Credentials
	JWTSecret             string        `env:"JWT_SECRET"`
	TokenTTL              time.Duration `env:"TOKEN_TTL" env-default:"24h"`
	BcryptCost            int           `env:"BCRYPT_COST" env-default:"12"`
	CredentialProviderURL string        `env:"CREDENTIAL_PROVIDER_URL"`
	CredentialProviderKey string        `env:"CREDENTIAL_PROVIDER_KEY"`
	DependencyTimeout     time.Duration `env:"DEPENDENCY_TIMEOUT" env-default:"5s"`

	// Server
	ServerPort        string `env:"SERVER_PORT" env-default:"8080"`
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN"`

	// Rate Limit（リクエスト数/分）
	RateLimitGeneral int `env:"RATE_LIMIT_GENERAL" env-default:"120"`
	RateLimitAuth    int `env:"RATE_LIMIT_AUTH" env-default:"10"`

	// Worker
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL" env-default:"1h"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" env-default:"info"`
}

// Load は環境変数からConfigを読み込み、検証する。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	cfg.StorageMode = StorageMode(strings.ToLower(strings.TrimSpace(string(cfg.StorageMode))))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate は設定値の組み合わせを検証する。問題はすべてまとめて返す。
func (c *Config) Validate() error {
	var missing, invalid []string

	switch c.StorageMode {
	case StorageDurable:
		if c.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	case StorageDegraded:
	default:
		invalid = append(invalid, fmt.Sprintf("STORAGE_MODE must be %q or %q", StorageDurable, StorageDegraded))
	}

	if c.NeedsLocalIssuer() {
		if c.JWTSecret == "" {
			missing = append(missing, "JWT_SECRET")
		} else if len(c.JWTSecret) < MinJWTSecretLength {
			invalid = append(invalid, fmt.Sprintf("JWT_SECRET must be at least %d bytes", MinJWTSecretLength))
		}
	}

	if c.TokenTTL <= 0 || c.TokenTTL > MaxTokenTTL {
		invalid = append(invalid, fmt.Sprintf("TOKEN_TTL must be within (0, %s]", MaxTokenTTL))
	}
	if c.BcryptCost < bcrypt.DefaultCost || c.BcryptCost > bcrypt.MaxCost {
		invalid = append(invalid, fmt.Sprintf("BCRYPT_COST must be within [%d, %d]", bcrypt.DefaultCost, bcrypt.MaxCost))
	}
	if c.DependencyTimeout <= 0 {
		invalid = append(invalid, "DEPENDENCY_TIMEOUT must be positive")
	}
	if c.RateLimitGeneral <= 0 {
		invalid = append(invalid, "RATE_LIMIT_GENERAL must be positive")
	}
	if c.RateLimitAuth <= 0 {
		invalid = append(invalid, "RATE_LIMIT_AUTH must be positive")
	}
	if c.CleanupInterval <= 0 {
		invalid = append(invalid, "CLEANUP_INTERVAL must be positive")
	}
	if c.CredentialProviderURL != "" &&
		!strings.HasPrefix(c.CredentialProviderURL, "http://") &&
		!strings.HasPrefix(c.CredentialProviderURL, "https://") {
		invalid = append(invalid, "CREDENTIAL_PROVIDER_URL must be an http(s) URL")
	}

	var errs []error
	if len(missing) > 0 {
		errs = append(errs, fmt.Errorf("required environment variables are not set: %v", missing))
	}
	if len(invalid) > 0 {
		errs = append(errs, fmt.Errorf("invalid environment variables: %s", strings.Join(invalid, "; ")))
	}
	return errors.Join(errs...)
}

// UsesRemoteProvider は外部の認証プロバイダに本人確認を委譲するかどうかを返す。
func (c *Config) UsesRemoteProvider() bool {
	return c.CredentialProviderURL != ""
}

// NeedsLocalIssuer はローカルでトークンを発行・検証する可能性があるかどうかを返す。
// 縮退モードでは常にローカルで発行する。
func (c *Config) NeedsLocalIssuer() bool {
	return !c.UsesRemoteProvider() || c.StorageMode == StorageDegraded || c.AllowDegradedFallback
}
