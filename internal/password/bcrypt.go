// Package password はパスワードのハッシュ化と照合を提供する。
package password

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// パスワード長の制約（バイト数）。bcryptは72バイトを超える入力を扱えない。
const (
	MinLength = 8
	MaxLength = 72
)

var (
	// ErrTooShort はパスワードがMinLength未満であることを表す。
	ErrTooShort = fmt.Errorf("password must be at least %d bytes", MinLength)
	// ErrTooLong はパスワードがMaxLengthを超えることを表す。
	ErrTooLong = fmt.Errorf("password must be at most %d bytes", MaxLength)
)

// Hasher はパスワードハッシュアルゴリズムのインターフェース。
type Hasher interface {
	// Hash はパスワードからハッシュを生成する。
	Hash(password string) (string, error)

	// Verify はパスワードがハッシュと一致するかを返す。
	Verify(password, hash string) (bool, error)

	// NeedsRehash は現在の設定でハッシュを再生成すべきかを返す。
	NeedsRehash(hash string) bool
}

// DefaultCost はBcryptHasherの既定コスト。
const DefaultCost = 12

// BcryptHasher はbcryptによるHasher実装。
// コストはbcrypt.DefaultCost（10）未満に下げられない。
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher はBcryptHasherを生成する。
// costが0の場合はDefaultCostを使用し、範囲外の値は[bcrypt.DefaultCost, bcrypt.MaxCost]に丸める。
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost == 0 {
		cost = DefaultCost
	}
	if cost < bcrypt.DefaultCost {
		cost = bcrypt.DefaultCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &BcryptHasher{cost: cost}
}

// Cost は適用中のコストを返す。
func (h *BcryptHasher) Cost() int {
	return h.cost
}

// Hash はパスワードのbcryptハッシュを生成する。
func (h *BcryptHasher) Hash(password string) (string, error) {
	if err := ValidateLength(password); err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Verify はパスワードがbcryptハッシュと一致するかを返す。
// 不一致はエラーではなくfalseとして返す。
func (h *BcryptHasher) Verify(password, hash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// NeedsRehash はハッシュのコストが現在の設定と異なるかを返す。
func (h *BcryptHasher) NeedsRehash(hash string) bool {
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return true
	}
	return cost != h.cost
}

// ValidateLength はパスワード長が許容範囲内かを検証する。
func ValidateLength(password string) error {
	switch {
	case len(password) < MinLength:
		return ErrTooShort
	case len(password) > MaxLength:
		return ErrTooLong
	}
	return nil
}

// compile-time interface check
var _ Hasher = (*BcryptHasher)(nil)
