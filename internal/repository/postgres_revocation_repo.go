package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresRevocationRepo はPostgreSQLを使用した失効トークンリポジトリ。
// 期限切れの行はworker/cleanupのジョブで定期的に削除される。
type PostgresRevocationRepo struct {
	db *sql.DB
}

// NewPostgresRevocationRepo はPostgresRevocationRepoを生成する。
func NewPostgresRevocationRepo(db *sql.DB) *PostgresRevocationRepo {
	return &PostgresRevocationRepo{db: db}
}

// Revoke はjtiを失効済みとして記録する。既に記録済みの場合は何もしない。
func (r *PostgresRevocationRepo) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO revoked_tokens (jti, expires_at)
		 VALUES ($1, $2)
		 ON CONFLICT (jti) DO NOTHING`,
		jti, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

// IsRevoked はjtiが失効済みかどうかを返す。
func (r *PostgresRevocationRepo) IsRevoked(ctx context.Context, jti string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM revoked_tokens WHERE jti = $1)`,
		jti,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check revoked token: %w", err)
	}
	return exists, nil
}

// compile-time interface check
var _ RevocationRepository = (*PostgresRevocationRepo)(nil)
