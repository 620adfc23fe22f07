package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/todoman/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionResolver   middleware.SessionResolver
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	CookieSecure      bool
	CookieDomain      string
	Logger            *slog.Logger
	HTTPMetrics       middleware.HTTPMetricsRecorder // nilでもよい

	// 運用エンドポイント
	HealthChecks   map[string]HealthChecker
	MetricsHandler http.Handler // nilの場合/metricsは公開しない

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// クライアント状態
	Workspaces WorkspaceProvider

	// TODO・プロフィール
	TodoService    TodoServiceInterface
	ProfileService ProfileServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Logging → Device
//	  /auth/*      : RateLimit(Auth) → CSRF [→ Session]
//	  Workspace    : CSRF
//	  /api/todos 等: Session → CSRF → RateLimit(General)
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.CookieSecure))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger, deps.HTTPMetrics))
	r.Use(middleware.NewDeviceMiddleware(middleware.DeviceConfig{
		CookieSecure: deps.CookieSecure,
		CookieDomain: deps.CookieDomain,
	}))

	csrfConfig := middleware.CSRFConfig{
		CookieSecure: deps.CookieSecure,
		CookieDomain: deps.CookieDomain,
	}
	sessionMW := middleware.NewSessionMiddleware(deps.SessionResolver)

	healthHandler := NewHealthHandler(deps.HealthChecks)
	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	workspaceHandler := NewWorkspaceHandler(deps.Workspaces, deps.Logger)
	todoHandler := NewTodoHandler(deps.TodoService, deps.Workspaces)
	profileHandler := NewProfileHandler(deps.ProfileService, deps.Workspaces)

	// --- 認証不要のルート ---

	r.Get("/health", healthHandler.Health)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(csrfConfig))

	// 認証ルート（デバイス単位のレート制限）
	r.Route("/auth", func(r chi.Router) {
		r.Use(deps.RateLimiter.AuthMiddleware())
		r.Use(middleware.NewCSRFMiddleware(csrfConfig))

		r.Get("/providers", authHandler.Providers)
		r.Post("/signup", authHandler.SignUp)
		r.Post("/signin", authHandler.SignIn)
		r.Get("/session", authHandler.Session)

		// OAuthフロー
		r.Get("/{provider}/login", authHandler.Login)
		r.Get("/{provider}/callback", authHandler.Callback)

		// セッション管理
		r.With(sessionMW).Post("/refresh", authHandler.Refresh)
		r.With(sessionMW).Post("/signout", authHandler.SignOut)
	})

	// --- デバイス単位のクライアント状態（セッション不要） ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewCSRFMiddleware(csrfConfig))

		r.Get("/api/state", workspaceHandler.GetState)
		r.Get("/api/events", workspaceHandler.Events)
		r.Get("/api/route", workspaceHandler.GetRoute)
		r.Get("/api/preferences/sort", workspaceHandler.GetSort)
		r.Put("/api/preferences/sort", workspaceHandler.UpdateSort)
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → CSRF → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(sessionMW)
		r.Use(middleware.NewCSRFMiddleware(csrfConfig))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// TODO管理
		r.Route("/api/todos", func(r chi.Router) {
			r.Get("/", todoHandler.ListTodos)
			r.Post("/", todoHandler.CreateTodo)

			r.Route("/{id}", func(r chi.Router) {
				r.Patch("/", todoHandler.UpdateTodo)
				r.Delete("/", todoHandler.DeleteTodo)
				r.Put("/completed", todoHandler.SetCompleted)
			})
		})

		// プロフィール
		r.Route("/api/profile", func(r chi.Router) {
			r.Get("/", profileHandler.GetProfile)
			r.Put("/", profileHandler.UpdateProfile)
			r.Get("/preview", profileHandler.PreviewProfile)
			r.Post("/finish-signup", profileHandler.FinishSignUp)
		})
	})

	return r
}
