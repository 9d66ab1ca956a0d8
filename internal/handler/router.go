package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/todoman/internal/metrics"
	"github.com/hitoshi/todoman/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Resolver          middleware.IdentityResolver
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Metrics           metrics.MetricsCollector
	Logger            *slog.Logger

	AuthService AuthServiceInterface
	TodoService TodoServiceInterface

	// ヘルスチェック。Healthがnilの場合はDBの疎通確認を行わない
	Health HealthChecker
	Mode   string

	// /metrics で公開するハンドラー。nilの場合はルートを登録しない
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Logging → Metrics → Recovery → SecurityHeaders → CORS → (AuthGuard → RateLimit(General))
//
// /auth/register と /auth/login は認証不要で、IP単位のレート制限のみ適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mc := deps.Metrics
	if mc == nil {
		mc = metrics.Nop{}
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewMetricsMiddleware(mc))
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService)
	todoHandler := NewTodoHandler(deps.TodoService)

	authGuard := middleware.NewAuthGuard(deps.Resolver)
	generalLimit, authLimit := passthrough, passthrough
	if deps.RateLimiter != nil {
		generalLimit = deps.RateLimiter.GeneralMiddleware()
		authLimit = deps.RateLimiter.AuthMiddleware()
	}

	// --- 認証不要のルート ---
	r.Get("/health", NewHealthHandler(deps.Health, deps.Mode))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Route("/auth", func(r chi.Router) {
		r.With(authLimit).Post("/register", authHandler.Register)
		r.With(authLimit).Post("/login", authHandler.Login)

		r.Group(func(r chi.Router) {
			r.Use(authGuard, generalLimit)
			r.Post("/logout", authHandler.Logout)
			r.Get("/me", authHandler.Me)
		})
	})

	// --- 認証が必要なルート ---
	r.Route("/todos", func(r chi.Router) {
		r.Use(authGuard, generalLimit)

		r.Get("/", todoHandler.List)
		r.Post("/", todoHandler.Create)
		r.Get("/stats", todoHandler.Stats)
		r.Put("/{id}", todoHandler.Update)
		r.Delete("/{id}", todoHandler.Delete)
	})

	return r
}

func passthrough(next http.Handler) http.Handler { return next }
