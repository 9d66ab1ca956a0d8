package token

import "errors"

// トークン関連のエラー。
var (
	// ErrTokenExpired はトークンの有効期限切れを表す。
	ErrTokenExpired = errors.New("token has expired")

	// ErrTokenMalformed はトークンの形式が不正であることを表す。
	ErrTokenMalformed = errors.New("token is malformed")

	// ErrTokenInvalidSig は署名検証に失敗したことを表す。
	ErrTokenInvalidSig = errors.New("token signature is invalid")

	// ErrTokenRevoked はログアウト等で失効済みのトークンであることを表す。
	ErrTokenRevoked = errors.New("token has been revoked")

	// ErrWeakSecret は署名鍵が短すぎることを表す。
	ErrWeakSecret = errors.New("token secret must be at least 32 bytes")

	// ErrTTLTooLong は有効期間が上限を超えることを表す。
	ErrTTLTooLong = errors.New("token ttl must not exceed 24h")
)
