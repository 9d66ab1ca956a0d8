package repository

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/todoman/internal/model"
)

// MemoryUserRepo はプロセス内メモリにユーザーを保持するリポジトリ。
// 縮退モードで使用し、再起動で内容は失われる。
type MemoryUserRepo struct {
	mu      sync.RWMutex
	byID    map[string]*model.User
	byEmail map[string]string // email -> id
}

// NewMemoryUserRepo はMemoryUserRepoを生成する。
func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{
		byID:    make(map[string]*model.User),
		byEmail: make(map[string]string),
	}
}

// Create はユーザーを作成する。メールアドレス重複時はErrEmailTakenを返す。
func (r *MemoryUserRepo) Create(ctx context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byEmail[user.Email]; exists {
		return ErrEmailTaken
	}

	c := *user
	r.byID[c.ID] = &c
	r.byEmail[c.Email] = c.ID
	return nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *MemoryUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	c := *u
	return &c, nil
}

// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
func (r *MemoryUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	r.mu.RLock()
	id, ok := r.byEmail[email]
	r.mu.RUnlock()

	if !ok {
		return nil, nil
	}
	return r.FindByID(ctx, id)
}

// MemoryRevocationRepo はプロセス内メモリに失効トークンを保持する。
// 記録時に期限切れのエントリを削除する。
type MemoryRevocationRepo struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	now     func() time.Time
}

// NewMemoryRevocationRepo はMemoryRevocationRepoを生成する。
func NewMemoryRevocationRepo() *MemoryRevocationRepo {
	return &MemoryRevocationRepo{
		revoked: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Revoke はjtiを有効期限まで失効済みとして記録する。
func (r *MemoryRevocationRepo) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for k, exp := range r.revoked {
		if now.After(exp) {
			delete(r.revoked, k)
		}
	}
	r.revoked[jti] = expiresAt
	return nil
}

// IsRevoked はjtiが失効済みかどうかを返す。
func (r *MemoryRevocationRepo) IsRevoked(ctx context.Context, jti string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.revoked[jti]
	return ok, nil
}

// Len は保持している失効エントリ数を返す。テスト用。
func (r *MemoryRevocationRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.revoked)
}

// compile-time interface check
var (
	_ UserRepository       = (*MemoryUserRepo)(nil)
	_ RevocationRepository = (*MemoryRevocationRepo)(nil)
)
