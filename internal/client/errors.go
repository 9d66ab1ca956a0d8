// Package client はタスクAPIのクライアントと、クライアント側の状態管理を提供する。
//
// 表示は (タスク一覧のミラー, フィルター, ソートキー) の純粋関数として扱い、
// 変更操作はAPI呼び出しが成功した場合のみミラーへ反映する。
package client

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/hitoshi/todoman/internal/model"
)

// Error はAPIが返したエラーレスポンスを表す。
type Error struct {
	StatusCode int    `json:"-"`
	Status     string `json:"error"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Category   string `json:"category"`
	Action     string `json:"action"`
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("api error: status %d: [%s] %s", e.StatusCode, e.Code, e.Message)
}

// Retryable は時間をおいて再試行すれば成功し得るエラーかどうかを返す。
func (e *Error) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= http.StatusInternalServerError
}

// IsUnauthorized はerrが認証エラーかどうかを返す。
func IsUnauthorized(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}

// IsNotFound はerrがタスク未検出エラーかどうかを返す。
func IsNotFound(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// fromAPIError はサーバー側と同じ統一エラーからErrorを組み立てる。
func fromAPIError(status int, apiErr *model.APIError) *Error {
	return &Error{
		StatusCode: status,
		Status:     http.StatusText(status),
		Code:       apiErr.Code,
		Message:    apiErr.Message,
		Category:   apiErr.Category,
		Action:     apiErr.Action,
	}
}
