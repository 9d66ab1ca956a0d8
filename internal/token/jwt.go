// Package token はHS256署名のJWTによるアクセストークンの発行と検証を提供する。
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/todoman/internal/model"
)

const (
	// MaxTTL はトークン有効期間の上限。
	MaxTTL = 24 * time.Hour

	// MinSecretLength は署名鍵の最小バイト数。
	MinSecretLength = 32

	defaultClockSkew = 30 * time.Second
)

// Claims はJWTのクレーム構造。
// subにユーザーID、jtiに失効管理用のIDを持つ。
type Claims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

// UserID はsubクレームのユーザーIDを返す。
func (c *Claims) UserID() string {
	return c.Subject
}

// User はクレームからユーザーを復元する。縮退モードの本人確認で使用する。
func (c *Claims) User() *model.User {
	u := &model.User{ID: c.Subject, Email: c.Email, Name: c.Name}
	if c.IssuedAt != nil {
		u.CreatedAt = c.IssuedAt.Time
	}
	return u
}

// Issuer はトークンの発行と検証を行う。
type Issuer struct {
	secret    []byte
	ttl       time.Duration
	clockSkew time.Duration
	now       func() time.Time
}

// Option はIssuerの任意設定。
type Option func(*Issuer)

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) { i.now = now }
}

// NewIssuer はIssuerを生成する。
// ttlが0の場合はMaxTTLを使用する。
func NewIssuer(secret string, ttl time.Duration, opts ...Option) (*Issuer, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	if ttl == 0 {
		ttl = MaxTTL
	}
	if ttl < 0 || ttl > MaxTTL {
		return nil, ErrTTLTooLong
	}
	i := &Issuer{
		secret:    []byte(secret),
		ttl:       ttl,
		clockSkew: defaultClockSkew,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// TTL はトークンの有効期間を返す。
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Issue はユーザーに紐づくトークンを発行する。
func (i *Issuer) Issue(user *model.User) (*model.Token, *Claims, error) {
	now := i.now()
	expiresAt := now.Add(i.ttl)

	claims := &Claims{
		Email: user.Email,
		Name:  user.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &model.Token{
		Value:     signed,
		UserID:    user.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, claims, nil
}

// Parse は署名と有効期限を検証し、クレームを返す。
// HMAC以外のalgを持つトークンは拒否する。
func (i *Issuer) Parse(raw string) (*Claims, error) {
	claims := &Claims{}

	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrTokenInvalidSig
		}
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(i.clockSkew),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, mapJWTError(err)
	}
	if !tok.Valid {
		return nil, ErrTokenMalformed
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, ErrTokenMalformed
	}

	return claims, nil
}

// mapJWTError はjwtライブラリのエラーをパッケージのエラーに変換する。
func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable),
		errors.Is(err, ErrTokenInvalidSig):
		return ErrTokenInvalidSig
	default:
		return ErrTokenMalformed
	}
}
