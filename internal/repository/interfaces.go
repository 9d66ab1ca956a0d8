// Package repository はデータ永続化のインターフェースと実装を提供する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/todoman/internal/model"
)

var (
	// ErrNotFound は指定したIDのタスクが存在しない、または所有者が異なることを表す。
	ErrNotFound = errors.New("repository: not found")

	// ErrEmailTaken はメールアドレスが既に登録済みであることを表す。
	ErrEmailTaken = errors.New("repository: email already registered")
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// Create はユーザーを作成する。メールアドレス重複時はErrEmailTakenを返す。
	Create(ctx context.Context, user *model.User) error

	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail は正規化済みメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)
}

// TaskRepository はタスクデータの永続化インターフェース。
// すべての操作は所有者IDで絞り込まれる。上位層で認証済みであっても、
// 実装側は必ず所有者IDでフィルタすること。
type TaskRepository interface {
	// List は所有者のタスクを作成日時の降順で返す。
	List(ctx context.Context, ownerID string) ([]*model.Task, error)

	// Create はタスクを作成する。タイトルが空白のみの場合はバリデーションエラーを返す。
	// priorityが空の場合はmediumとする。
	Create(ctx context.Context, ownerID, title string, priority model.Priority) (*model.Task, error)

	// Update は指定フィールドのみを更新し、updated_atを必ず進める。
	// 所有者のタスクが存在しない場合はErrNotFoundを返す。
	Update(ctx context.Context, ownerID, taskID string, patch model.TaskPatch) (*model.Task, error)

	// Delete はタスクを削除する。所有者のタスクが存在しない場合はErrNotFoundを返す。
	Delete(ctx context.Context, ownerID, taskID string) error
}

// RevocationRepository は失効済みトークン（jti）の永続化インターフェース。
type RevocationRepository interface {
	// Revoke はjtiを有効期限まで失効済みとして記録する。冪等。
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error

	// IsRevoked はjtiが失効済みかどうかを返す。
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// nextUpdatedAt は前回値より厳密に後の更新日時を返す。
// 同一時刻内の連続更新でもupdated_atが進むことを保証する。
func nextUpdatedAt(now, prev time.Time) time.Time {
	if !now.After(prev) {
		return prev.Add(time.Microsecond)
	}
	return now
}
