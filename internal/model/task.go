// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// Task はユーザーが所有するToDoタスクを表す。
// 所有者以外からは参照・変更できない。
type Task struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Priority  Priority  `json:"priority"`
	Completed bool      `json:"completed"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Priority はタスクの優先度を表す。
type Priority string

const (
	// PriorityLow は低優先度。
	PriorityLow Priority = "low"
	// PriorityMedium は中優先度（デフォルト）。
	PriorityMedium Priority = "medium"
	// PriorityHigh は高優先度。
	PriorityHigh Priority = "high"
)

// MaxTitleLength はタスクタイトルの最大文字数。
const MaxTitleLength = 500

// Valid は優先度が定義済みの値かどうかを返す。
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Rank は並び替え用の順位を返す。high=0, medium=1, low=2。
// 未知の値はmedium扱いとする。
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityLow:
		return 2
	default:
		return 1
	}
}

// ParsePriority は文字列を優先度に変換する。空文字列はmediumとなる。
func ParsePriority(s string) (Priority, error) {
	if s == "" {
		return PriorityMedium, nil
	}
	p := Priority(s)
	if err := ValidatePriority(p); err != nil {
		return "", err
	}
	return p, nil
}

// ValidatePriority は優先度が定義済みの値であることを検証する。
func ValidatePriority(p Priority) error {
	if !p.Valid() {
		return NewValidationError("priority", "low, medium, high のいずれかを指定してください")
	}
	return nil
}

// TaskPatch はタスクの部分更新内容を表す。
// nilのフィールドは変更しない。
type TaskPatch struct {
	Title     *string
	Priority  *Priority
	Completed *bool
}

// Empty は更新対象のフィールドが1つも指定されていないかを返す。
func (p TaskPatch) Empty() bool {
	return p.Title == nil && p.Priority == nil && p.Completed == nil
}

// ValidateTitle はタイトルが空白のみでないこと、長さが上限以内であることを検証する。
func ValidateTitle(title string) error {
	trimmed := strings.TrimSpace(title)
	if trimmed == "" {
		return NewValidationError("title", "タイトルは必須です")
	}
	if len([]rune(trimmed)) > MaxTitleLength {
		return NewValidationError("title", "タイトルが長すぎます")
	}
	return nil
}
