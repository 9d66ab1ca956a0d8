// Package app はコマンドラインの解析と、各サブコマンドの起動処理を提供する。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/todoman/internal/config"
	"github.com/hitoshi/todoman/internal/database"
	"github.com/hitoshi/todoman/internal/logger"
)

// Init はアプリケーションの初期化を行う。
// 設定読み込み前にJSON構造化ログを用意し、読み込み後にLOG_LEVELを反映する。
func Init(w io.Writer) (*config.Config, *slog.Logger, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	l := logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		l.Warn("invalid LOG_LEVEL, using info", slog.String("value", cfg.LogLevel))
	}
	return cfg, logger.SetupDefault(w, level), nil
}

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。サブコマンドを省略した場合はserveとして動作する。
func Run(ctx context.Context, w io.Writer, args []string) error {
	root := NewRootCommand(w)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// runMigrate はデータベースマイグレーションを実行する。
// downが正の場合は直近down件を取り消し、showVersionの場合は現在のバージョンのみ表示する。
func runMigrate(w io.Writer, cfg *config.Config, l *slog.Logger, down int, showVersion bool) error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for migrate")
	}
	masked := logger.MaskURL(cfg.DatabaseURL)

	switch {
	case showVersion:
		version, dirty, err := database.MigrationVersion(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to read migration version: %w", err)
		}
		fmt.Fprintf(w, "version=%d dirty=%t\n", version, dirty)
		return nil

	case down > 0:
		l.Info("rolling back database migrations",
			slog.String("database_url", masked),
			slog.Int("steps", down),
		)
		if err := database.RollbackMigrations(cfg.DatabaseURL, down); err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
		l.Info("database rollback completed")
		return nil
	}

	l.Info("running database migrations", slog.String("database_url", masked))
	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	l.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、200以外ならエラーを返す。
func runHealthcheck(ctx context.Context, baseURL string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/health", nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}
