package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/pressroom/internal/metrics"
	"github.com/hitoshi/pressroom/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger      *slog.Logger
	AdminToken  string
	RateLimiter *middleware.RateLimiter

	// ヘルスチェック・メトリクス
	Health   Pinger
	Gatherer prometheus.Gatherer

	// 運用API
	Admin    *AdminHandler
	Settings *SettingsHandler
}

// NewRouter は運用APIのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → (/admin) RateLimit → AdminAuth
//
// /health と /metrics は認証の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	// --- 認証不要のルート ---
	r.Get("/health", NewHealthHandler(deps.Health))
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	// --- 管理トークンが必要なルート ---
	h := deps.Admin
	r.Route("/admin", func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware())
		}
		r.Use(middleware.NewAdminAuthMiddleware(deps.AdminToken))

		r.Get("/scheduler", h.SchedulerStatus)
		r.Post("/scheduler/run", h.RunScheduler)

		r.Route("/articles/{id}", func(r chi.Router) {
			r.Post("/publish", h.PublishArticle)
			r.Post("/sync", h.SyncArticle)
			r.Post("/republish", h.RepublishArticle)
			r.Post("/republish/clear", h.ClearRepublish)
			r.Post("/social", h.RetrySocial)
			r.Get("/logs", h.ArticleLogs)
		})

		r.Get("/recordstore/drift", h.RecordStoreDrift)

		if deps.Settings != nil {
			r.Put("/settings/{service}/{key}", deps.Settings.UpdateSetting)
		}
	})

	return r
}
