package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/todoman/internal/model"
	"github.com/hitoshi/todoman/internal/password"
	"github.com/hitoshi/todoman/internal/repository"
	"github.com/hitoshi/todoman/internal/token"
)

// LocalStore はユーザーを自前で管理するCredential Store。
// パスワードはbcryptでハッシュ化し、トークンはサーバー保持の鍵で署名したJWTを発行する。
type LocalStore struct {
	users   repository.UserRepository
	revoked repository.RevocationRepository
	hasher  password.Hasher
	issuer  *token.Issuer
	logger  *slog.Logger
	now     func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// NewLocalStore はLocalStoreを生成する。
func NewLocalStore(
	users repository.UserRepository,
	revoked repository.RevocationRepository,
	hasher password.Hasher,
	issuer *token.Issuer,
	logger *slog.Logger,
) *LocalStore {
	return &LocalStore{
		users:   users,
		revoked: revoked,
		hasher:  hasher,
		issuer:  issuer,
		logger:  logger,
		now:     time.Now,
	}
}

// Register はユーザーを登録する。
func (s *LocalStore) Register(ctx context.Context, email, pw, name string) (*model.User, error) {
	email = model.NormalizeEmail(email)
	if err := ValidateRegistration(email, pw, name); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(pw)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &model.User{
		ID:           uuid.New().String(),
		Email:        email,
		Name:         strings.TrimSpace(name),
		PasswordHash: hash,
		CreatedAt:    s.now().UTC(),
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("%w: create user: %w", ErrUnavailable, err)
	}

	return user, nil
}

// Authenticate はメールアドレスとパスワードを照合し、トークンを発行する。
// ユーザーが存在しない場合もハッシュ照合を行い、応答時間からメールアドレスの登録有無を推測されないようにする。
func (s *LocalStore) Authenticate(ctx context.Context, email, pw string) (*model.User, *model.Token, error) {
	email = model.NormalizeEmail(email)

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: find user: %w", ErrUnavailable, err)
	}

	if user == nil || user.PasswordHash == "" {
		_, _ = s.hasher.Verify(pw, s.timingHash())
		return nil, nil, ErrInvalidCredentials
	}

	ok, err := s.hasher.Verify(pw, user.PasswordHash)
	if err != nil {
		s.logger.Error("stored password hash is unreadable",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return nil, nil, ErrInvalidCredentials
	}
	if !ok {
		return nil, nil, ErrInvalidCredentials
	}

	if s.hasher.NeedsRehash(user.PasswordHash) {
		s.logger.Info("password hash uses outdated cost", slog.String("user_id", user.ID))
	}

	tok, _, err := s.issuer.Issue(user)
	if err != nil {
		return nil, nil, err
	}
	return user, tok, nil
}

// Verify はトークンを検証し、紐づくユーザーを返す。
// 失効済みのトークンや、既に存在しないユーザーを指すトークンはErrTokenInvalidとする。
func (s *LocalStore) Verify(ctx context.Context, raw string) (*model.User, error) {
	claims, err := s.parse(raw)
	if err != nil {
		return nil, err
	}

	revoked, err := s.revoked.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: check revocation: %w", ErrUnavailable, err)
	}
	if revoked {
		return nil, ErrTokenInvalid
	}

	user, err := s.users.FindByID(ctx, claims.UserID())
	if err != nil {
		return nil, fmt.Errorf("%w: find user: %w", ErrUnavailable, err)
	}
	if user == nil {
		return nil, ErrTokenInvalid
	}
	return user, nil
}

// Revoke はトークンのjtiを有効期限まで失効済みとして記録する。
// 既に期限切れのトークンは記録不要のため何もしない。
func (s *LocalStore) Revoke(ctx context.Context, raw string) error {
	claims, err := s.parse(raw)
	if errors.Is(err, ErrTokenExpired) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := s.revoked.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return fmt.Errorf("%w: revoke token: %w", ErrUnavailable, err)
	}
	return nil
}

func (s *LocalStore) parse(raw string) (*token.Claims, error) {
	claims, err := s.issuer.Parse(raw)
	if errors.Is(err, token.ErrTokenExpired) {
		return nil, ErrTokenExpired
	}
	if err != nil {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// timingHash はユーザー不在時の照合に使うダミーハッシュを返す。
func (s *LocalStore) timingHash() string {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash("todoman-timing-equalizer")
		if err != nil {
			s.logger.Error("failed to prepare dummy hash", slog.String("error", err.Error()))
			return
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}

// compile-time interface check
var _ Store = (*LocalStore)(nil)
