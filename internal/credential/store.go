// Package credential はメールアドレスとパスワードによる本人確認と、
// ベアラートークンの発行・検証を担うCredential Storeを提供する。
//
// 自前でユーザーを管理するLocalStoreと、外部の認証プロバイダに委譲するRemoteStoreがある。
package credential

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"github.com/hitoshi/todoman/internal/model"
	"github.com/hitoshi/todoman/internal/password"
)

var (
	// ErrEmailTaken はメールアドレスが登録済みであることを表す。
	ErrEmailTaken = errors.New("credential: email already registered")

	// ErrInvalidInput は登録内容が不正であることを表す。
	ErrInvalidInput = errors.New("credential: invalid input")

	// ErrInvalidCredentials はメールアドレスまたはパスワードの誤りを表す。
	ErrInvalidCredentials = errors.New("credential: invalid credentials")

	// ErrTokenInvalid はトークンが不正・失効済み・未知のユーザーを指すことを表す。
	ErrTokenInvalid = errors.New("credential: token invalid")

	// ErrTokenExpired はトークンの有効期限切れを表す。
	ErrTokenExpired = errors.New("credential: token expired")

	// ErrConfirmationRequired はアカウントは存在するが、メールアドレスの確認が済むまで
	// トークンを発行できないことを表す。
	ErrConfirmationRequired = errors.New("credential: email confirmation required")

	// ErrUnavailable はストアまたは認証プロバイダに到達できないことを表す。
	// 呼び出し元は時間をおいて再試行できる。
	ErrUnavailable = errors.New("credential: store unavailable")
)

// Store はCredential Storeのインターフェース。
type Store interface {
	// Register はユーザーを登録する。
	Register(ctx context.Context, email, password, name string) (*model.User, error)

	// Authenticate はメールアドレスとパスワードを照合し、ユーザーとトークンを返す。
	Authenticate(ctx context.Context, email, password string) (*model.User, *model.Token, error)

	// Verify はトークンを検証し、紐づくユーザーを返す。
	Verify(ctx context.Context, token string) (*model.User, error)

	// Revoke はトークンを失効させる。
	Revoke(ctx context.Context, token string) error
}

// SessionRegistrar は登録と同時にセッションを返せるStore。
// トークンがnilの場合、プロバイダは登録時にセッションを発行していない。
type SessionRegistrar interface {
	RegisterWithSession(ctx context.Context, email, password, name string) (*model.User, *model.Token, error)
}

// MaxNameLength は表示名の最大文字数。
const MaxNameLength = 100

// ValidateRegistration は登録内容を検証する。
// 不正な場合はErrInvalidInputをラップしたエラーを返す。
func ValidateRegistration(email, pw, name string) error {
	if !ValidEmail(email) {
		return &InputError{Field: "email", Reason: "メールアドレスの形式が正しくありません"}
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return &InputError{Field: "name", Reason: "名前は必須です"}
	}
	if len([]rune(name)) > MaxNameLength {
		return &InputError{Field: "name", Reason: "名前が長すぎます"}
	}
	switch err := password.ValidateLength(pw); {
	case errors.Is(err, password.ErrTooShort):
		return &InputError{Field: "password", Reason: "パスワードは8文字以上で入力してください"}
	case errors.Is(err, password.ErrTooLong):
		return &InputError{Field: "password", Reason: "パスワードは72バイト以内で入力してください"}
	}
	return nil
}

// ValidEmail はメールアドレスが単一のアドレスとして解釈できるかを返す。
// 表示名付きの形式（"Alice <a@example.com>"）は受け付けない。
func ValidEmail(email string) bool {
	email = strings.TrimSpace(email)
	if email == "" {
		return false
	}
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return false
	}
	return addr.Address == email
}

// InputError は登録内容のどの項目が不正かを表す。
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return "credential: invalid " + e.Field + ": " + e.Reason
}

// Unwrap はErrInvalidInputを返す。
func (e *InputError) Unwrap() error {
	return ErrInvalidInput
}
