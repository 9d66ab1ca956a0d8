// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, task, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidation            = "VALIDATION_ERROR"
	ErrCodeInvalidRequest        = "INVALID_REQUEST"
	ErrCodeUnauthorized          = "UNAUTHORIZED"
	ErrCodeInvalidCredentials    = "INVALID_CREDENTIALS"
	ErrCodeTaskNotFound          = "TASK_NOT_FOUND"
	ErrCodeEmailTaken            = "EMAIL_TAKEN"
	ErrCodeConfirmationRequired  = "CONFIRMATION_REQUIRED"
	ErrCodeDependencyUnavailable = "DEPENDENCY_UNAVAILABLE"
	ErrCodeInternal              = "INTERNAL_ERROR"
	ErrCodeRateLimited           = "RATE_LIMITED"
)

// NewValidationError は必須項目の欠落や不正値に対するエラーを生成する。
func NewValidationError(field, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("%s が不正です: %s", field, reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewInvalidRequestError はリクエストボディを解釈できない場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストの解析に失敗しました: %s", reason),
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewUnauthorizedError は未認証・トークン不正のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewInvalidCredentialsError はメールアドレスまたはパスワードの誤りを表す。
// どちらが誤っているかは明かさない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度ログインしてください。",
	}
}

// NewTaskNotFoundError はタスクが存在しない、または呼び出し元の所有でない場合のエラーを生成する。
func NewTaskNotFoundError(taskID string) *APIError {
	return &APIError{
		Code:     ErrCodeTaskNotFound,
		Message:  fmt.Sprintf("指定されたタスクが見つかりません: %s", taskID),
		Category: "task",
		Action:   "タスク一覧を再読み込みしてください。",
	}
}

// NewEmailTakenError は登録済みメールアドレスでの再登録を表す。
func NewEmailTakenError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailTaken,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "auth",
		Action:   "ログインするか、別のメールアドレスを使用してください。",
	}
}

// NewConfirmationRequiredError はメールアドレスの確認待ちでログインできないことを表す。
func NewConfirmationRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeConfirmationRequired,
		Message:  "メールアドレスの確認が完了していません。",
		Category: "auth",
		Action:   "確認メールのリンクを開いてからログインしてください。",
	}
}

// NewDependencyUnavailableError は認証基盤やストレージに到達できない場合のエラーを生成する。
// 呼び出し元は時間をおいて再試行できる。
func NewDependencyUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeDependencyUnavailable,
		Message:  "一時的にサービスを利用できません。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーを表す。詳細はログにのみ記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewRateLimitedError はレート制限超過のエラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
