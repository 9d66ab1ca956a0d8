// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// User はサービス利用ユーザーを表す。
// 登録時に作成され、以降は変更・削除されない。
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string // 外部認証基盤に委譲する場合は空
	CreatedAt    time.Time
}

// Token はユーザーIDと有効期限に紐付いたBearerトークンを表す。
type Token struct {
	Value     string
	UserID    string
	ExpiresAt time.Time
}

// NormalizeEmail はメールアドレスを比較・保存用に正規化する。
// 前後の空白を除去し小文字化する。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
