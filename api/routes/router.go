package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mediaforge-ai/mediaforge-backend/api/controllers"
	webhookcontrollers "github.com/mediaforge-ai/mediaforge-backend/api/controllers/webhooks"
	"github.com/mediaforge-ai/mediaforge-backend/api/middleware"
	"github.com/mediaforge-ai/mediaforge-backend/internal/assets"
	"github.com/mediaforge-ai/mediaforge-backend/internal/auth"
	"github.com/mediaforge-ai/mediaforge-backend/internal/demo"
	"github.com/mediaforge-ai/mediaforge-backend/internal/generations"
	"github.com/mediaforge-ai/mediaforge-backend/internal/profiles"
	"github.com/mediaforge-ai/mediaforge-backend/internal/realtime"
	"github.com/mediaforge-ai/mediaforge-backend/internal/settlement"
	"github.com/mediaforge-ai/mediaforge-backend/internal/transactions"
	"github.com/mediaforge-ai/mediaforge-backend/internal/usage"
	"github.com/mediaforge-ai/mediaforge-backend/internal/wallets"
	circlewebhook "github.com/mediaforge-ai/mediaforge-backend/internal/webhooks/circle"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/auth/session"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/bigquery"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/config"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/db"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/enums"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/logger"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/redis"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/storage/gcs"
)

// Deps carries everything the HTTP surface needs.
type Deps struct {
	Config         *config.Config
	Logger         *logger.Logger
	DB             db.Pinger
	Redis          *redis.Client
	GCS            gcs.Pinger
	BigQuery       bigquery.Pinger
	SessionChecker session.AccessSessionChecker
	AuthService    auth.Service
	Profiles       *profiles.Repository
	Generations    generations.Service
	Wallets        wallets.Service
	Transactions   transactions.Service
	Demo           demo.Service
	Assets         assets.Service
	Settlement     settlement.Service
	Usage          usage.Service
	RealtimeHub    *realtime.Hub
	CircleWebhook  *circlewebhook.Service
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.CORS(),
		middleware.Logging(logg),
	)

	loginPolicy := middleware.NewAuthRateLimitPolicy(
		"login",
		cfg.AuthRateLimit.LoginWindow,
		cfg.AuthRateLimit.LoginIPLimit,
		cfg.AuthRateLimit.LoginEmailLimit,
	)
	registerPolicy := middleware.NewAuthRateLimitPolicy(
		"register",
		cfg.AuthRateLimit.RegisterWindow,
		cfg.AuthRateLimit.RegisterIPLimit,
		cfg.AuthRateLimit.RegisterEmailLimit,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, controllers.ReadinessDeps(deps.DB, deps.Redis, deps.GCS, deps.BigQuery)))
	})

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/ping", controllers.PublicPing())
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Head("/circle", webhookcontrollers.CircleWebhook(deps.CircleWebhook, cfg.Circle, logg))
		r.Post("/circle", webhookcontrollers.CircleWebhook(deps.CircleWebhook, cfg.Circle, logg))
	})

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.With(middleware.AuthRateLimit(loginPolicy, deps.Redis, logg)).Post("/login", controllers.AuthLogin(deps.AuthService, logg))
		r.With(
			middleware.AuthRateLimit(registerPolicy, deps.Redis, logg),
			middleware.Idempotency(deps.Redis, logg),
		).Post("/register", controllers.AuthRegister(deps.AuthService, logg))
		r.Post("/refresh", controllers.AuthRefresh(deps.AuthService, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, deps.SessionChecker, logg))
		r.Use(middleware.Idempotency(deps.Redis, logg))

		r.Get("/ping", controllers.PrivatePing())
		r.Post("/auth/logout", controllers.AuthLogout(deps.AuthService, logg))

		r.Get("/profiles/me", controllers.ProfileMe(deps.Profiles, logg))
		r.Put("/profiles/me", controllers.ProfileUpdate(deps.Profiles, logg))

		r.Route("/generations", func(r chi.Router) {
			r.Post("/", controllers.SubmitGeneration(deps.Generations, logg))
			r.Get("/", controllers.ListGenerations(deps.Generations, logg))
			r.Get("/{generationId}", controllers.GetGeneration(deps.Generations, logg))
			r.Delete("/{generationId}", controllers.DeleteGeneration(deps.Generations, logg))
			r.Get("/{generationId}/assets", controllers.ListGenerationAssets(deps.Assets, logg))
		})

		r.Route("/assets", func(r chi.Router) {
			r.Get("/{assetId}/download-url", controllers.AssetDownloadURL(deps.Assets, logg))
			r.Post("/{assetId}/delete", controllers.AssetRequestDelete(deps.Assets, logg))
		})

		r.Route("/wallet", func(r chi.Router) {
			r.Post("/", controllers.ProvisionWallet(deps.Wallets, logg))
			r.Post("/transfer", controllers.TransferWallet(deps.Wallets, logg))
			r.Get("/", controllers.GetWallet(deps.Wallets, logg))
			r.Get("/balance", controllers.GetWalletBalance(deps.Wallets, logg))
			r.Get("/transactions", controllers.ListWalletTransactions(deps.Wallets, deps.Transactions, logg))
			r.Get("/transactions/{transactionId}", controllers.GetWalletTransaction(deps.Wallets, deps.Transactions, logg))
		})

		r.Get("/demo/quota", controllers.DemoQuotaStatus(deps.Demo, logg))
		r.Get("/realtime/stream", controllers.RealtimeStream(deps.RealtimeHub, logg))
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, deps.SessionChecker, logg))
		r.Use(middleware.RequireRole(string(enums.UserRoleAdmin), logg))
		r.Use(middleware.Idempotency(deps.Redis, logg))

		r.Get("/ping", controllers.AdminPing())
		r.Get("/transactions", controllers.AdminListTransactions(deps.Transactions, logg))
		r.Get("/usage/summary", controllers.AdminUsageSummary(deps.Usage, logg))
		r.Get("/usage/billing", controllers.AdminBillingSummary(deps.Usage, logg))
		r.Post("/generations/{generationId}/reverse", controllers.AdminReverseGeneration(deps.Settlement, logg))
	})

	return r
}
