package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hitoshi/todoman/internal/model"
	"github.com/hitoshi/todoman/internal/repository"
)

// MirroringStore は外部プロバイダのユーザーをローカルのusersテーブルに写すStore。
// todos.user_idはusers.idを参照するため、プロバイダが発行したユーザーIDも
// タスク作成前にローカルへ存在させる必要がある。パスワードは保存しない。
type MirroringStore struct {
	Store
	users  repository.UserRepository
	logger *slog.Logger
	known  sync.Map // user id -> struct{}
}

// NewMirroringStore はinnerをラップしたMirroringStoreを生成する。
func NewMirroringStore(inner Store, users repository.UserRepository, logger *slog.Logger) *MirroringStore {
	return &MirroringStore{Store: inner, users: users, logger: logger}
}

// Register はプロバイダに登録し、ローカルに写す。
func (s *MirroringStore) Register(ctx context.Context, email, pw, name string) (*model.User, error) {
	user, err := s.Store.Register(ctx, email, pw, name)
	if err != nil {
		return nil, err
	}
	if err := s.ensure(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// RegisterWithSession は内側のStoreが登録時のセッションを返せる場合はそれを使い、
// そうでなければ登録後にAuthenticateでトークンを取得する。
func (s *MirroringStore) RegisterWithSession(ctx context.Context, email, pw, name string) (*model.User, *model.Token, error) {
	reg, ok := s.Store.(SessionRegistrar)
	if !ok {
		user, err := s.Register(ctx, email, pw, name)
		if err != nil {
			return nil, nil, err
		}
		_, tok, err := s.Store.Authenticate(ctx, email, pw)
		if err != nil {
			return nil, nil, err
		}
		return user, tok, nil
	}

	user, tok, err := reg.RegisterWithSession(ctx, email, pw, name)
	if err != nil {
		return nil, nil, err
	}
	if err := s.ensure(ctx, user); err != nil {
		return nil, nil, err
	}
	return user, tok, nil
}

// Authenticate はプロバイダで認証し、ローカルに写す。
func (s *MirroringStore) Authenticate(ctx context.Context, email, pw string) (*model.User, *model.Token, error) {
	user, tok, err := s.Store.Authenticate(ctx, email, pw)
	if err != nil {
		return nil, nil, err
	}
	if err := s.ensure(ctx, user); err != nil {
		return nil, nil, err
	}
	return user, tok, nil
}

// Verify はプロバイダでトークンを検証し、ローカルに写す。
func (s *MirroringStore) Verify(ctx context.Context, raw string) (*model.User, error) {
	user, err := s.Store.Verify(ctx, raw)
	if err != nil {
		return nil, err
	}
	if err := s.ensure(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// ensure はユーザーがローカルに存在しなければ作成する。
func (s *MirroringStore) ensure(ctx context.Context, user *model.User) error {
	if _, ok := s.known.Load(user.ID); ok {
		return nil
	}

	existing, err := s.users.FindByID(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if existing == nil {
		mirror := *user
		mirror.PasswordHash = ""
		err := s.users.Create(ctx, &mirror)
		switch {
		case errors.Is(err, repository.ErrEmailTaken):
			// 同じユーザーの同時リクエストが先に作成した場合は成功とみなす
			if again, ferr := s.users.FindByID(ctx, user.ID); ferr == nil && again != nil {
				break
			}
			// 同じメールアドレスが別IDで登録済み。タスクの所有者を決められない
			s.logger.Error("provider user conflicts with local user",
				slog.String("user_id", user.ID),
			)
			return fmt.Errorf("%w: user mirror conflict", ErrUnavailable)
		case err != nil:
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	s.known.Store(user.ID, struct{}{})
	return nil
}

// compile-time interface check
var (
	_ Store            = (*MirroringStore)(nil)
	_ SessionRegistrar = (*MirroringStore)(nil)
)
