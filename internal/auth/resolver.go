package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hitoshi/todoman/internal/credential"
	"github.com/hitoshi/todoman/internal/metrics"
	"github.com/hitoshi/todoman/internal/model"
	"github.com/hitoshi/todoman/internal/repository"
	"github.com/hitoshi/todoman/internal/token"
)

// IdentityResolver はベアラートークンをユーザーに解決する。
// 解決できないトークンに対しては必ずUNAUTHORIZEDの*model.APIErrorを返し、
// 依存先の障害はDEPENDENCY_UNAVAILABLEとして返す。仮のユーザーを作ることはない。
type IdentityResolver interface {
	Resolve(ctx context.Context, rawToken string) (*model.User, error)
}

// DelegatedResolver はCredential Storeのverifyに本人確認を委譲する。
type DelegatedResolver struct {
	store   credential.Store
	timeout time.Duration
	metrics metrics.MetricsCollector
	logger  *slog.Logger
}

// NewDelegatedResolver はDelegatedResolverを生成する。
func NewDelegatedResolver(store credential.Store, timeout time.Duration, mc metrics.MetricsCollector, logger *slog.Logger) *DelegatedResolver {
	return &DelegatedResolver{store: store, timeout: timeout, metrics: mc, logger: logger}
}

// Resolve はトークンを検証してユーザーを返す。
func (r *DelegatedResolver) Resolve(ctx context.Context, rawToken string) (*model.User, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	user, err := r.store.Verify(ctx, rawToken)
	r.metrics.RecordDependencyLatency("credential_store", time.Since(start))

	switch {
	case err == nil:
		r.metrics.RecordAuthEvent("verify", metrics.ResultSuccess)
		return user, nil
	case errors.Is(err, credential.ErrTokenInvalid), errors.Is(err, credential.ErrTokenExpired):
		r.metrics.RecordAuthEvent("verify", metrics.ResultFailure)
		return nil, model.NewUnauthorizedError()
	default:
		r.logger.Error("token verification unavailable", slog.String("error", err.Error()))
		return nil, model.NewDependencyUnavailableError()
	}
}

// LocalResolver は縮退モード用のResolver。
// ローカルで発行したJWTの署名と有効期限を検証し、クレームからユーザーを決定的に復元する。
// ユーザーストアへの問い合わせは行わない。
type LocalResolver struct {
	issuer  *token.Issuer
	revoked repository.RevocationRepository
	timeout time.Duration
	metrics metrics.MetricsCollector
	logger  *slog.Logger
}

// NewLocalResolver はLocalResolverを生成する。
func NewLocalResolver(issuer *token.Issuer, revoked repository.RevocationRepository, timeout time.Duration, mc metrics.MetricsCollector, logger *slog.Logger) *LocalResolver {
	return &LocalResolver{issuer: issuer, revoked: revoked, timeout: timeout, metrics: mc, logger: logger}
}

// Resolve はトークンを検証してユーザーを返す。
func (r *LocalResolver) Resolve(ctx context.Context, rawToken string) (*model.User, error) {
	claims, err := r.issuer.Parse(rawToken)
	if err != nil {
		r.metrics.RecordAuthEvent("verify", metrics.ResultFailure)
		return nil, model.NewUnauthorizedError()
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	revoked, err := r.revoked.IsRevoked(ctx, claims.ID)
	if err != nil {
		r.logger.Error("revocation check unavailable",
			slog.String("user_id", claims.UserID()),
			slog.String("error", err.Error()),
		)
		return nil, model.NewDependencyUnavailableError()
	}
	if revoked {
		r.metrics.RecordAuthEvent("verify", metrics.ResultFailure)
		return nil, model.NewUnauthorizedError()
	}

	r.metrics.RecordAuthEvent("verify", metrics.ResultSuccess)
	return claims.User(), nil
}

// compile-time interface check
var (
	_ IdentityResolver = (*DelegatedResolver)(nil)
	_ IdentityResolver = (*LocalResolver)(nil)
)
