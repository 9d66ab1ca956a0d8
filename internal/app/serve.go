package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/todoman/internal/auth"
	"github.com/hitoshi/todoman/internal/config"
	"github.com/hitoshi/todoman/internal/credential"
	"github.com/hitoshi/todoman/internal/database"
	"github.com/hitoshi/todoman/internal/handler"
	"github.com/hitoshi/todoman/internal/logger"
	"github.com/hitoshi/todoman/internal/metrics"
	"github.com/hitoshi/todoman/internal/middleware"
	"github.com/hitoshi/todoman/internal/password"
	"github.com/hitoshi/todoman/internal/repository"
	"github.com/hitoshi/todoman/internal/security"
	"github.com/hitoshi/todoman/internal/todo"
	"github.com/hitoshi/todoman/internal/token"
	"github.com/hitoshi/todoman/internal/worker/cleanup"
)

const shutdownTimeout = 30 * time.Second

// Server は依存関係をワイヤリングしたAPIサーバーの構成。
// Closeで保持しているストアやDB接続を解放する。
type Server struct {
	Handler http.Handler
	Mode    config.StorageMode

	background []func(ctx context.Context)
	closers    []func() error
}

// Close は生成時と逆順にリソースを解放する。
func (s *Server) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// StartBackground はバックグラウンドジョブを起動する。ctxのキャンセルで停止する。
func (s *Server) StartBackground(ctx context.Context) {
	for _, job := range s.background {
		go job(ctx)
	}
}

// storage はモードごとに選択したリポジトリとCredential Storeの組。
type storage struct {
	tasks    repository.TaskRepository
	store    credential.Store
	resolver auth.IdentityResolver
	health   handler.HealthChecker
}

// Build は設定に従ってストレージ・認証・ルーターを組み立てる。
//
// durableモードでDBに到達できない場合、ALLOW_DEGRADED_FALLBACKが有効なら
// degradedモード（インメモリ、再起動で消える）に切り替えて起動する。
func Build(ctx context.Context, cfg *config.Config, l *slog.Logger) (*Server, error) {
	srv := &Server{Mode: cfg.StorageMode}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mc := metrics.NewCollector(registry)

	var st *storage
	if cfg.StorageMode == config.StorageDurable {
		db, err := openDatabase(ctx, cfg)
		switch {
		case err == nil:
			srv.closers = append(srv.closers, db.Close)
			st, err = buildDurable(cfg, db, mc, l)
			if err != nil {
				srv.Close()
				return nil, err
			}
			job := cleanup.NewCleanupJob(db, l)
			srv.background = append(srv.background, func(ctx context.Context) {
				job.Start(ctx, cfg.CleanupInterval)
			})
		case cfg.AllowDegradedFallback:
			l.Warn("database unavailable, falling back to degraded mode",
				slog.String("database_url", logger.MaskURL(cfg.DatabaseURL)),
				slog.String("error", err.Error()),
			)
			srv.Mode = config.StorageDegraded
		default:
			return nil, err
		}
	}

	if srv.Mode == config.StorageDegraded {
		var closeTasks func() error
		var err error
		st, closeTasks, err = buildDegraded(cfg, mc, l)
		if err != nil {
			srv.Close()
			return nil, err
		}
		srv.closers = append(srv.closers, closeTasks)
		l.Warn("running in degraded mode; tasks and users are kept in memory and lost on restart")
	}
	mc.SetDegradedMode(srv.Mode == config.StorageDegraded)

	rl := middleware.NewRateLimiter(middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral, cfg.RateLimitAuth))
	srv.closers = append(srv.closers, func() error {
		rl.Stop()
		return nil
	})

	authService := auth.NewService(st.store, auth.ServiceConfig{Timeout: cfg.DependencyTimeout}, mc, l)
	todoService := todo.NewService(st.tasks, security.NewTitleSanitizer(),
		todo.Config{StoreTimeout: cfg.DependencyTimeout}, mc, l)

	srv.Handler = handler.NewRouter(&handler.RouterDeps{
		Resolver:          st.resolver,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rl,
		Metrics:           mc,
		Logger:            l,
		AuthService:       authService,
		TodoService:       todoService,
		Health:            st.health,
		Mode:              string(srv.Mode),
		MetricsHandler:    metrics.Handler(registry),
	})
	return srv, nil
}

func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := database.Ping(ctx, db, cfg.DependencyTimeout); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// buildDurable はPostgreSQLを使う構成を組み立てる。
// CREDENTIAL_PROVIDER_URLが設定されていれば外部プロバイダに本人確認を委譲する。
func buildDurable(cfg *config.Config, db *sql.DB, mc metrics.MetricsCollector, l *slog.Logger) (*storage, error) {
	users := repository.NewPostgresUserRepo(db)
	revoked := repository.NewPostgresRevocationRepo(db)

	var store credential.Store
	if cfg.UsesRemoteProvider() {
		remote, err := credential.NewRemoteStore(credential.RemoteConfig{
			BaseURL: cfg.CredentialProviderURL,
			APIKey:  cfg.CredentialProviderKey,
			Timeout: cfg.DependencyTimeout,
		}, l)
		if err != nil {
			return nil, fmt.Errorf("failed to configure credential provider: %w", err)
		}
		// タスクの所有者としてusersに行が必要なため、プロバイダのユーザーを写す
		store = credential.NewMirroringStore(remote, users, l)
	} else {
		issuer, err := token.NewIssuer(cfg.JWTSecret, cfg.TokenTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to configure token issuer: %w", err)
		}
		store = credential.NewLocalStore(users, revoked, password.NewBcryptHasher(cfg.BcryptCost), issuer, l)
	}

	l.Info("database connection established",
		slog.Bool("remote_credential_provider", cfg.UsesRemoteProvider()),
	)
	return &storage{
		tasks:    repository.NewPostgresTaskRepo(db),
		store:    store,
		resolver: auth.NewDelegatedResolver(store, cfg.DependencyTimeout, mc, l),
		health:   handler.PingFunc(db.PingContext),
	}, nil
}

// buildDegraded はインメモリストアを使う構成を組み立てる。
// トークンはローカルで発行・検証し、署名を検証できないトークンは受け付けない。
func buildDegraded(cfg *config.Config, mc metrics.MetricsCollector, l *slog.Logger) (*storage, func() error, error) {
	issuer, err := token.NewIssuer(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to configure token issuer: %w", err)
	}

	users := repository.NewMemoryUserRepo()
	revoked := repository.NewMemoryRevocationRepo()
	tasks := repository.NewMemoryTaskRepo()

	return &storage{
		tasks:    tasks,
		store:    credential.NewLocalStore(users, revoked, password.NewBcryptHasher(cfg.BcryptCost), issuer, l),
		resolver: auth.NewLocalResolver(issuer, revoked, cfg.DependencyTimeout, mc, l),
	}, tasks.Close, nil
}

// runServe はAPIサーバーモードで起動する。
// SIGINTまたはSIGTERMを受信するか、ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config, l *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := Build(ctx, cfg, l)
	if err != nil {
		return err
	}
	defer func() {
		if err := srv.Close(); err != nil {
			l.Error("failed to release resources", slog.String("error", err.Error()))
		}
	}()
	srv.StartBackground(ctx)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      srv.Handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		l.Info("API server starting",
			slog.String("addr", server.Addr),
			slog.String("mode", string(srv.Mode)),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server listen error: %w", err)
	}

	l.Info("shutting down API server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	l.Info("API server stopped gracefully")
	return nil
}
